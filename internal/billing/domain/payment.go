package billing

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	PaymentStatusSuccess  = "success"
	PaymentStatusFailed   = "failed"
	PaymentStatusPending  = "pending"
	PaymentStatusRefunded = "refunded"
)

// Payment is a durable record of one payment attempt. Immutable after
// creation except for status correction (refund).
//
// GatewayPaymentID is globally unique in storage; both completion paths
// (client callback and webhook) dedupe on it.
type Payment struct {
	ID     string
	UserID string
	BillID string

	Amount   decimal.Decimal
	Currency string
	Status   string
	Method   string
	Contact  string

	GatewayOrderID   string
	GatewayPaymentID string
	GatewaySignature string
	TransactionRef   string

	Notes json.RawMessage

	PaidAt    time.Time
	CreatedAt time.Time
}

// NewPaymentID mints a payment identifier.
func NewPaymentID() string {
	return "pmt-" + uuid.NewString()
}

// NewReceiptID mints a receipt identifier for gateway orders.
func NewReceiptID() string {
	return "rcpt-" + uuid.NewString()
}

// ValidPaymentStatus reports whether status is in the allowed set.
func ValidPaymentStatus(status string) bool {
	switch status {
	case PaymentStatusSuccess, PaymentStatusFailed, PaymentStatusPending, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}
