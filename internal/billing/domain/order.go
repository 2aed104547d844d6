package billing

import (
	"context"
	"time"
)

// GatewayOrder is the durable link between an order minted at the payment
// gateway and the bill it was created to settle. Checkout confirmations are
// accepted only against this record, so a signature over a cheap unrelated
// order can never settle a different bill.
type GatewayOrder struct {
	OrderID     string
	UserID      string
	BillID      string
	AmountMinor int64
	Currency    string
	Receipt     string
	CreatedAt   time.Time
}

// GatewayOrderRepository persists minted gateway orders.
type GatewayOrderRepository interface {
	Insert(ctx context.Context, order *GatewayOrder) error
	GetByOrderID(ctx context.Context, orderID string) (*GatewayOrder, error)
}
