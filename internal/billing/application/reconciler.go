package application

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"gridpay-cloud/internal/audit"
	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/gateway"
	"gridpay-cloud/internal/observability/metrics"
)

// ConfirmCheckoutInput carries the client callback after gateway checkout.
type ConfirmCheckoutInput struct {
	UserID           string
	BillID           string
	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	Contact          string
	ClientIP         string
	UserAgent        string
}

// ConfirmOutcome reports what the confirmation changed.
type ConfirmOutcome struct {
	Payment *billing.Payment
	// BillUpdated is true when this call transitioned the bill to paid.
	// False means the webhook or sweep settled it first, or the bill update
	// failed and is left for the sweep.
	BillUpdated bool
	// Replayed is true when the gateway payment was already recorded.
	Replayed bool
}

// FailureInput records a failed checkout attempt reported by the client.
type FailureInput struct {
	UserID           string
	BillID           string
	GatewayOrderID   string
	GatewayPaymentID string
	Reason           string
}

// Reconciler verifies checkout confirmations and settles bills. It is the
// only writer of the bill paid transition besides the webhook and the sweep,
// and all three converge through the conditional MarkPaid.
type Reconciler struct {
	bills    billing.BillRepository
	payments billing.PaymentRepository
	orders   billing.GatewayOrderRepository
	secret   []byte
	events   EventPublisher
	gateway  GatewayClient
	audits   audit.Logger
	clock    Clock
	logger   *log.Logger
}

// ReconcilerOption configures optional collaborators.
type ReconcilerOption func(*Reconciler)

// WithGatewayClient enables payment enrichment from the gateway API.
func WithGatewayClient(gw GatewayClient) ReconcilerOption {
	return func(r *Reconciler) { r.gateway = gw }
}

// WithAuditLogger enables audit trail writes.
func WithAuditLogger(logger audit.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.audits = logger }
}

// WithClock overrides the clock, for tests.
func WithClock(clock Clock) ReconcilerOption {
	return func(r *Reconciler) {
		if clock != nil {
			r.clock = clock
		}
	}
}

// NewReconciler constructs the reconciler.
func NewReconciler(
	bills billing.BillRepository,
	payments billing.PaymentRepository,
	orders billing.GatewayOrderRepository,
	secret []byte,
	events EventPublisher,
	logger *log.Logger,
	opts ...ReconcilerOption,
) (*Reconciler, error) {
	if bills == nil {
		return nil, errors.New("reconciler: nil bill repository")
	}
	if payments == nil {
		return nil, errors.New("reconciler: nil payment repository")
	}
	if orders == nil {
		return nil, errors.New("reconciler: nil order repository")
	}
	if len(secret) == 0 {
		return nil, errors.New("reconciler: empty signing secret")
	}
	if logger == nil {
		logger = log.Default()
	}
	r := &Reconciler{
		bills:    bills,
		payments: payments,
		orders:   orders,
		secret:   secret,
		events:   events,
		clock:    SystemClock{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// ConfirmCheckout verifies the checkout signature, binds the confirmation to
// the order minted for the bill and records the payment. Verification
// failures and order mismatches never record anything. A verified payment is
// always recorded before the bill transition is attempted; if the transition
// fails the payment stays unreconciled and the sweep completes it later. A
// payment below the bill total flags the bill partial and never settles it.
func (r *Reconciler) ConfirmCheckout(ctx context.Context, input ConfirmCheckoutInput) (*ConfirmOutcome, error) {
	start := r.clock.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveVerify(result, time.Since(start))
	}()

	if input.UserID == "" || input.BillID == "" ||
		input.GatewayOrderID == "" || input.GatewayPaymentID == "" || input.GatewaySignature == "" {
		result = metrics.ResultError
		return nil, billing.ErrMissingField
	}

	if !gateway.VerifyCheckout(input.GatewayOrderID, input.GatewayPaymentID, input.GatewaySignature, r.secret) {
		result = metrics.ResultError
		metrics.IncVerifyRejected()
		r.auditRejection(ctx, input, "payment.verify_rejected", "signature mismatch")
		r.logger.Printf("verification rejected user=%s order=%s payment=%s", input.UserID, input.GatewayOrderID, input.GatewayPaymentID)
		return nil, billing.ErrVerificationFailed
	}

	bill, err := r.bills.GetByID(ctx, input.BillID)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}
	if bill.UserID != input.UserID {
		result = metrics.ResultError
		return nil, billing.ErrBillNotFound
	}

	// The signature only proves the gateway saw this order and payment pair.
	// The durable order record written at mint time proves which bill and
	// amount the order was for; a confirmation that does not line up with it
	// is treated like a forgery attempt.
	order, err := r.orders.GetByOrderID(ctx, input.GatewayOrderID)
	if err != nil {
		result = metrics.ResultError
		if errors.Is(err, billing.ErrOrderNotFound) {
			metrics.IncVerifyRejected()
			r.auditRejection(ctx, input, "payment.order_mismatch", "order not minted here")
			r.logger.Printf("unknown gateway order user=%s order=%s", input.UserID, input.GatewayOrderID)
			return nil, billing.ErrOrderNotFound
		}
		return nil, err
	}
	if order.UserID != input.UserID {
		result = metrics.ResultError
		metrics.IncVerifyRejected()
		r.auditRejection(ctx, input, "payment.order_mismatch", "order minted for another user")
		return nil, billing.ErrOrderNotFound
	}
	if order.BillID != bill.ID {
		result = metrics.ResultError
		metrics.IncVerifyRejected()
		r.auditRejection(ctx, input, "payment.order_mismatch", "order bound to a different bill")
		r.logger.Printf("order bill mismatch user=%s order=%s order_bill=%q bill=%s",
			input.UserID, order.OrderID, order.BillID, bill.ID)
		return nil, billing.ErrOrderMismatch
	}

	currency := order.Currency
	if currency == "" {
		currency = bill.Currency
	}
	now := r.clock.Now().UTC()
	payment := &billing.Payment{
		ID:               billing.NewPaymentID(),
		UserID:           input.UserID,
		BillID:           bill.ID,
		Amount:           decimal.New(order.AmountMinor, -2),
		Currency:         currency,
		Status:           billing.PaymentStatusSuccess,
		Contact:          input.Contact,
		GatewayOrderID:   input.GatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		GatewaySignature: input.GatewaySignature,
		PaidAt:           now,
		CreatedAt:        now,
	}
	r.enrichFromGateway(ctx, payment)

	created, err := r.payments.Insert(ctx, payment)
	if err != nil {
		result = metrics.ResultError
		return nil, err
	}

	outcome := &ConfirmOutcome{Payment: payment}
	if !created {
		existing, err := r.payments.GetByGatewayPaymentID(ctx, input.GatewayPaymentID)
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}
		outcome.Payment = existing
		outcome.Replayed = true
	} else if r.events != nil {
		recErr := r.events.Publish(ctx, PaymentRecorded{
			PaymentID:        payment.ID,
			BillID:           payment.BillID,
			UserID:           payment.UserID,
			GatewayPaymentID: payment.GatewayPaymentID,
			Amount:           payment.Amount,
			Currency:         payment.Currency,
			OccurredAt:       now,
		})
		if recErr != nil {
			r.logger.Printf("publish payment recorded failed payment=%s err=%v", payment.ID, recErr)
		}
	}

	if outcome.Payment.Amount.LessThan(bill.TotalAmount) {
		// The order was minted for less than the bill total. The payment is
		// recorded, but it never settles the bill; the bill is flagged
		// partial instead and the sweep leaves it alone.
		if _, err := r.bills.MarkPartial(ctx, bill.ID); err != nil {
			r.logger.Printf("mark partial failed bill=%s err=%v", bill.ID, err)
		}
		r.logger.Printf("underpayment recorded bill=%s payment=%s amount=%s total=%s",
			bill.ID, outcome.Payment.ID, outcome.Payment.Amount, bill.TotalAmount)
		return outcome, nil
	}

	updated, err := r.bills.MarkPaid(ctx, bill.ID, outcome.Payment.ID)
	if err != nil {
		// The payment is durable; the sweep retries the bill transition.
		r.logger.Printf("mark paid failed bill=%s payment=%s err=%v", bill.ID, outcome.Payment.ID, err)
		return outcome, nil
	}
	if updated {
		outcome.BillUpdated = true
		metrics.IncBillPaid("checkout")
		r.publishBillPaid(ctx, bill.ID, outcome.Payment.ID, input.UserID, "checkout")
	}
	return outcome, nil
}

// RecordFailure stores a failed attempt reported by the client. It never
// touches bill status.
func (r *Reconciler) RecordFailure(ctx context.Context, input FailureInput) (*billing.Payment, error) {
	if input.UserID == "" || input.GatewayOrderID == "" {
		return nil, billing.ErrMissingField
	}

	now := r.clock.Now().UTC()
	payment := &billing.Payment{
		ID:               billing.NewPaymentID(),
		UserID:           input.UserID,
		BillID:           input.BillID,
		Amount:           decimal.Zero,
		Status:           billing.PaymentStatusFailed,
		GatewayOrderID:   input.GatewayOrderID,
		GatewayPaymentID: input.GatewayPaymentID,
		CreatedAt:        now,
	}
	if input.Reason != "" {
		if notes, err := json.Marshal(map[string]string{"reason": input.Reason}); err == nil {
			payment.Notes = notes
		}
	}

	created, err := r.payments.Insert(ctx, payment)
	if err != nil {
		return nil, err
	}
	if !created {
		if input.GatewayPaymentID == "" {
			return nil, billing.ErrPaymentNotFound
		}
		return r.payments.GetByGatewayPaymentID(ctx, input.GatewayPaymentID)
	}
	if r.events != nil {
		pubErr := r.events.Publish(ctx, PaymentFailed{
			PaymentID:        payment.ID,
			BillID:           payment.BillID,
			UserID:           payment.UserID,
			GatewayPaymentID: payment.GatewayPaymentID,
			Reason:           input.Reason,
			OccurredAt:       now,
		})
		if pubErr != nil {
			r.logger.Printf("publish payment failed event: payment=%s err=%v", payment.ID, pubErr)
		}
	}
	return payment, nil
}

// enrichFromGateway overlays descriptive gateway payment details when the
// API is reachable. Lookup failures only degrade enrichment, never
// verification. The amount is never taken from the lookup; the minted order
// record is authoritative for it.
func (r *Reconciler) enrichFromGateway(ctx context.Context, payment *billing.Payment) {
	if r.gateway == nil {
		return
	}
	remote, err := r.gateway.FetchPayment(ctx, payment.GatewayPaymentID)
	if err != nil {
		r.logger.Printf("payment enrichment skipped payment=%s err=%v", payment.GatewayPaymentID, err)
		return
	}
	if remote.Method != "" {
		payment.Method = remote.Method
	}
	if remote.Contact != "" {
		payment.Contact = remote.Contact
	}
}

func (r *Reconciler) publishBillPaid(ctx context.Context, billID, paymentID, userID, path string) {
	if r.events == nil {
		return
	}
	err := r.events.Publish(ctx, BillPaid{
		BillID:     billID,
		PaymentID:  paymentID,
		UserID:     userID,
		Path:       path,
		OccurredAt: r.clock.Now().UTC(),
	})
	if err != nil {
		r.logger.Printf("publish bill paid failed bill=%s err=%v", billID, err)
	}
}

func (r *Reconciler) auditRejection(ctx context.Context, input ConfirmCheckoutInput, action, reason string) {
	if r.audits == nil {
		return
	}
	meta, _ := json.Marshal(map[string]string{
		"gateway_order_id":   input.GatewayOrderID,
		"gateway_payment_id": input.GatewayPaymentID,
		"reason":             reason,
	})
	err := r.audits.Log(ctx, audit.Entry{
		Actor:        input.UserID,
		Action:       action,
		ResourceType: "payment",
		ResourceID:   input.GatewayPaymentID,
		BillID:       input.BillID,
		Metadata:     meta,
		IP:           input.ClientIP,
		UserAgent:    input.UserAgent,
	})
	if err != nil {
		r.logger.Printf("audit write failed action=%s err=%v", action, err)
	}
}
