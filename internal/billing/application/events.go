package application

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecorded is emitted when a new payment attempt is durably recorded.
// Replays of the same gateway payment do not emit it again.
type PaymentRecorded struct {
	PaymentID        string          `json:"payment_id"`
	BillID           string          `json:"bill_id"`
	UserID           string          `json:"user_id"`
	GatewayPaymentID string          `json:"gateway_payment_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	OccurredAt       time.Time       `json:"occurred_at"`
}

// PaymentFailed is emitted when the gateway reports a failed attempt.
type PaymentFailed struct {
	PaymentID        string    `json:"payment_id"`
	BillID           string    `json:"bill_id"`
	UserID           string    `json:"user_id"`
	GatewayPaymentID string    `json:"gateway_payment_id"`
	Reason           string    `json:"reason"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// BillPaid is emitted once per bill, by whichever completion path wins.
type BillPaid struct {
	BillID     string    `json:"bill_id"`
	PaymentID  string    `json:"payment_id"`
	UserID     string    `json:"user_id"`
	Path       string    `json:"path"`
	OccurredAt time.Time `json:"occurred_at"`
}
