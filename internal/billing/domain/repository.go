package billing

import (
	"context"
	"time"
)

// BillRepository persists bills.
type BillRepository interface {
	GetByID(ctx context.Context, id string) (*Bill, error)
	GetByNumber(ctx context.Context, billNumber string) (*Bill, error)
	ListByUser(ctx context.Context, userID string) ([]*Bill, error)
	// MarkPaid transitions a bill to paid and links the settling payment,
	// conditioned on the bill still being unpaid. Returns true when a row
	// changed; false means another path already settled it (not an error).
	MarkPaid(ctx context.Context, billID, paymentID string) (bool, error)
	// MarkPartial flags a bill as partially paid. It never downgrades a
	// paid bill. Returns true when a row changed.
	MarkPartial(ctx context.Context, billID string) (bool, error)
}

// PaymentRepository persists payment attempts.
type PaymentRepository interface {
	// Insert writes a payment, deduping on the gateway payment id. Returns
	// true when a new row was created; false on a duplicate (no-op).
	Insert(ctx context.Context, payment *Payment) (bool, error)
	GetByID(ctx context.Context, id string) (*Payment, error)
	GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*Payment, error)
	ListByBill(ctx context.Context, billID string) ([]*Payment, error)
	// ListUnreconciled returns successful payments that cover their bill's
	// total while the bill is still not marked paid. The reconciliation
	// sweep drains this set; underpayments are excluded so a partial
	// payment never settles a bill.
	ListUnreconciled(ctx context.Context, limit int) ([]*Payment, error)
}

// WebhookEvent is a deduplication record for gateway webhook deliveries.
type WebhookEvent struct {
	EventID        string
	EventType      string
	Payload        []byte
	SignatureValid bool
	ProcessedAt    time.Time
	Error          string
	CreatedAt      time.Time
}

// WebhookEventStore records webhook deliveries for idempotent processing.
type WebhookEventStore interface {
	// InsertIfAbsent returns true when the event is new, false on a replay.
	InsertIfAbsent(ctx context.Context, event *WebhookEvent) (bool, error)
	MarkProcessed(ctx context.Context, eventID string, processingErr error) error
}
