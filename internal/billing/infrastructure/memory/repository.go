package memory

import (
	"context"
	"sync"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
)

// BillRepository is an in-memory bill store for tests and local runs.
type BillRepository struct {
	mu    sync.Mutex
	bills map[string]*billing.Bill
	// FailMarkPaid forces MarkPaid to return this error when set.
	FailMarkPaid error
}

// NewBillRepository constructs an empty repository.
func NewBillRepository() *BillRepository {
	return &BillRepository{bills: make(map[string]*billing.Bill)}
}

// Put seeds a bill.
func (r *BillRepository) Put(bill *billing.Bill) {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *bill
	r.bills[bill.ID] = &clone
}

// GetByID loads a bill by id.
func (r *BillRepository) GetByID(ctx context.Context, id string) (*billing.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[id]
	if !ok {
		return nil, billing.ErrBillNotFound
	}
	clone := *bill
	return &clone, nil
}

// GetByNumber loads a bill by its bill number.
func (r *BillRepository) GetByNumber(ctx context.Context, billNumber string) (*billing.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, bill := range r.bills {
		if bill.BillNumber == billNumber {
			clone := *bill
			return &clone, nil
		}
	}
	return nil, billing.ErrBillNotFound
}

// ListByUser returns bills owned by the user.
func (r *BillRepository) ListByUser(ctx context.Context, userID string) ([]*billing.Bill, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*billing.Bill
	for _, bill := range r.bills {
		if bill.UserID == userID {
			clone := *bill
			result = append(result, &clone)
		}
	}
	return result, nil
}

// MarkPaid conditionally transitions a bill to paid.
func (r *BillRepository) MarkPaid(ctx context.Context, billID, paymentID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.FailMarkPaid != nil {
		return false, r.FailMarkPaid
	}
	bill, ok := r.bills[billID]
	if !ok {
		return false, billing.ErrBillNotFound
	}
	if bill.Status == billing.BillStatusPaid {
		return false, nil
	}
	bill.Status = billing.BillStatusPaid
	bill.PaidPaymentID = paymentID
	bill.UpdatedAt = time.Now().UTC()
	return true, nil
}

// MarkPartial flags a bill as partially paid. A paid bill is never downgraded.
func (r *BillRepository) MarkPartial(ctx context.Context, billID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	bill, ok := r.bills[billID]
	if !ok {
		return false, billing.ErrBillNotFound
	}
	if bill.Status == billing.BillStatusPaid || bill.Status == billing.BillStatusPartial {
		return false, nil
	}
	bill.Status = billing.BillStatusPartial
	bill.UpdatedAt = time.Now().UTC()
	return true, nil
}

type billReader interface {
	GetByID(ctx context.Context, id string) (*billing.Bill, error)
}

// PaymentRepository is an in-memory payment store for tests.
type PaymentRepository struct {
	mu        sync.Mutex
	payments  map[string]*billing.Payment
	byGateway map[string]string
	bills     billReader
}

// NewPaymentRepository constructs an empty repository.
func NewPaymentRepository() *PaymentRepository {
	return &PaymentRepository{
		payments:  make(map[string]*billing.Payment),
		byGateway: make(map[string]string),
	}
}

// BindBills attaches the bill reader consulted by ListUnreconciled.
func (r *PaymentRepository) BindBills(bills billReader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bills = bills
}

// Insert writes a payment, deduping on gateway payment id. Payments without
// a gateway id (failed attempts before checkout completed) are always new
// rows, matching the partial unique index in Postgres.
func (r *PaymentRepository) Insert(ctx context.Context, payment *billing.Payment) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if payment.GatewayPaymentID != "" {
		if _, exists := r.byGateway[payment.GatewayPaymentID]; exists {
			return false, nil
		}
		r.byGateway[payment.GatewayPaymentID] = payment.ID
	}
	clone := *payment
	r.payments[payment.ID] = &clone
	return true, nil
}

// GetByID loads a payment by id.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	payment, ok := r.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	clone := *payment
	return &clone, nil
}

// GetByGatewayPaymentID loads a payment by its gateway id.
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*billing.Payment, error) {
	if gatewayPaymentID == "" {
		return nil, billing.ErrPaymentNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byGateway[gatewayPaymentID]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	payment, ok := r.payments[id]
	if !ok {
		return nil, billing.ErrPaymentNotFound
	}
	clone := *payment
	return &clone, nil
}

// ListByBill returns payments linked to a bill.
func (r *PaymentRepository) ListByBill(ctx context.Context, billID string) ([]*billing.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var result []*billing.Payment
	for _, payment := range r.payments {
		if payment.BillID == billID {
			clone := *payment
			result = append(result, &clone)
		}
	}
	return result, nil
}

// ListUnreconciled returns successful payments covering their bill's total
// while the bill is not paid yet.
func (r *PaymentRepository) ListUnreconciled(ctx context.Context, limit int) ([]*billing.Payment, error) {
	r.mu.Lock()
	bills := r.bills
	var candidates []*billing.Payment
	for _, payment := range r.payments {
		if payment.Status == billing.PaymentStatusSuccess && payment.BillID != "" {
			clone := *payment
			candidates = append(candidates, &clone)
		}
	}
	r.mu.Unlock()

	if bills == nil {
		return nil, nil
	}
	var result []*billing.Payment
	for _, payment := range candidates {
		bill, err := bills.GetByID(ctx, payment.BillID)
		if err != nil {
			continue
		}
		if bill.Status != billing.BillStatusPaid && !payment.Amount.LessThan(bill.TotalAmount) {
			result = append(result, payment)
		}
		if limit > 0 && len(result) >= limit {
			break
		}
	}
	return result, nil
}

// Count returns the number of stored payments.
func (r *PaymentRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.payments)
}

// GatewayOrderRepository is an in-memory order link store for tests.
type GatewayOrderRepository struct {
	mu     sync.Mutex
	orders map[string]*billing.GatewayOrder
}

// NewGatewayOrderRepository constructs an empty repository.
func NewGatewayOrderRepository() *GatewayOrderRepository {
	return &GatewayOrderRepository{orders: make(map[string]*billing.GatewayOrder)}
}

// Insert records a minted order.
func (r *GatewayOrderRepository) Insert(ctx context.Context, order *billing.GatewayOrder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *order
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	r.orders[order.OrderID] = &clone
	return nil
}

// GetByOrderID loads a minted order by its gateway id.
func (r *GatewayOrderRepository) GetByOrderID(ctx context.Context, orderID string) (*billing.GatewayOrder, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return nil, billing.ErrOrderNotFound
	}
	clone := *order
	return &clone, nil
}

// WebhookEventStore is an in-memory webhook dedupe store for tests.
type WebhookEventStore struct {
	mu     sync.Mutex
	events map[string]*billing.WebhookEvent
}

// NewWebhookEventStore constructs an empty store.
func NewWebhookEventStore() *WebhookEventStore {
	return &WebhookEventStore{events: make(map[string]*billing.WebhookEvent)}
}

// InsertIfAbsent records a webhook delivery once.
func (s *WebhookEventStore) InsertIfAbsent(ctx context.Context, event *billing.WebhookEvent) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.events[event.EventID]; exists {
		return false, nil
	}
	clone := *event
	if clone.CreatedAt.IsZero() {
		clone.CreatedAt = time.Now().UTC()
	}
	s.events[event.EventID] = &clone
	return true, nil
}

// MarkProcessed stamps a webhook delivery as handled.
func (s *WebhookEventStore) MarkProcessed(ctx context.Context, eventID string, processingErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	event, ok := s.events[eventID]
	if !ok {
		return nil
	}
	event.ProcessedAt = time.Now().UTC()
	if processingErr != nil {
		event.Error = processingErr.Error()
	}
	return nil
}
