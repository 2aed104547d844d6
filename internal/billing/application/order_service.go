package application

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/shopspring/decimal"

	billing "gridpay-cloud/internal/billing/domain"
	"gridpay-cloud/internal/gateway"
	"gridpay-cloud/internal/observability/metrics"
)

// GatewayClient mints orders and loads payments at the payment gateway.
type GatewayClient interface {
	CreateOrder(ctx context.Context, amountMinor int64, currency, receipt string, notes map[string]string) (gateway.Order, error)
	FetchPayment(ctx context.Context, paymentID string) (gateway.Payment, error)
}

// EventPublisher writes domain events through the transactional outbox.
type EventPublisher interface {
	Publish(ctx context.Context, event any) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// CreateOrderInput is the request to mint a gateway order.
type CreateOrderInput struct {
	UserID   string
	BillID   string
	Amount   decimal.Decimal
	Currency string
}

// OrderOutput is the minted order handed back to the client for checkout.
// AmountMinor is in minor currency units.
type OrderOutput struct {
	OrderID     string
	AmountMinor int64
	Currency    string
	Receipt     string
	BillID      string
}

// OrderService mints gateway orders for bill payments.
type OrderService struct {
	gateway GatewayClient
	bills   billing.BillRepository
	orders  billing.GatewayOrderRepository
	clock   Clock
	logger  *log.Logger
}

// NewOrderService constructs the service.
func NewOrderService(gw GatewayClient, bills billing.BillRepository, orders billing.GatewayOrderRepository, logger *log.Logger) (*OrderService, error) {
	if gw == nil {
		return nil, errors.New("order service: nil gateway client")
	}
	if orders == nil {
		return nil, errors.New("order service: nil order repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &OrderService{gateway: gw, bills: bills, orders: orders, clock: SystemClock{}, logger: logger}, nil
}

// CreateOrder validates the request and mints a transient order at the
// gateway. When a bill id is given the bill must exist, belong to the caller
// and still be payable; the order amount defaults to the bill total.
func (s *OrderService) CreateOrder(ctx context.Context, input CreateOrderInput) (*OrderOutput, error) {
	start := s.clock.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveOrderCreate(result, time.Since(start))
	}()

	if input.UserID == "" {
		result = metrics.ResultError
		return nil, billing.ErrMissingField
	}

	amount := input.Amount
	currency := input.Currency
	notes := map[string]string{"user_id": input.UserID}

	if input.BillID != "" {
		bill, err := s.bills.GetByID(ctx, input.BillID)
		if err != nil {
			result = metrics.ResultError
			return nil, err
		}
		if bill.UserID != input.UserID {
			result = metrics.ResultError
			return nil, billing.ErrBillNotFound
		}
		if !bill.IsPayable() {
			result = metrics.ResultError
			return nil, billing.ErrBillNotPayable
		}
		if amount.IsZero() {
			amount = bill.TotalAmount
		}
		if currency == "" {
			currency = bill.Currency
		}
		notes["bill_id"] = bill.ID
	}

	if !amount.IsPositive() {
		result = metrics.ResultError
		return nil, billing.ErrInvalidAmount
	}
	if currency == "" {
		currency = "INR"
	}

	amountMinor := amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
	receipt := billing.NewReceiptID()

	order, err := s.gateway.CreateOrder(ctx, amountMinor, currency, receipt, notes)
	if err != nil {
		result = metrics.ResultError
		s.logger.Printf("order create failed user=%s bill=%s err=%v", input.UserID, input.BillID, err)
		return nil, err
	}

	// The durable link is what the checkout confirmation verifies against;
	// an order that cannot be persisted must not be handed to the client.
	err = s.orders.Insert(ctx, &billing.GatewayOrder{
		OrderID:     order.ID,
		UserID:      input.UserID,
		BillID:      input.BillID,
		AmountMinor: amountMinor,
		Currency:    currency,
		Receipt:     receipt,
		CreatedAt:   s.clock.Now().UTC(),
	})
	if err != nil {
		result = metrics.ResultError
		s.logger.Printf("order link persist failed user=%s order=%s err=%v", input.UserID, order.ID, err)
		return nil, err
	}

	return &OrderOutput{
		OrderID:     order.ID,
		AmountMinor: order.Amount,
		Currency:    order.Currency,
		Receipt:     order.Receipt,
		BillID:      input.BillID,
	}, nil
}
