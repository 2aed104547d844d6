package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
)

const defaultGatewayOrdersTable = "gateway_orders"

// GatewayOrderRepository persists the link between minted gateway orders and
// the bills they were created for.
type GatewayOrderRepository struct {
	db    *sql.DB
	table string
}

// NewGatewayOrderRepository constructs a repository.
func NewGatewayOrderRepository(db *sql.DB) *GatewayOrderRepository {
	return &GatewayOrderRepository{db: db, table: defaultGatewayOrdersTable}
}

const gatewayOrderColumns = `order_id, user_id, bill_id, amount_minor, currency, receipt, created_at`

// Insert records a minted order. Replays of the same order id are no-ops.
func (r *GatewayOrderRepository) Insert(ctx context.Context, order *billing.GatewayOrder) error {
	if r == nil || r.db == nil {
		return errors.New("gateway order repo: nil db")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO `+r.table+` (`+gatewayOrderColumns+`
) VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (order_id) DO NOTHING`,
		order.OrderID, order.UserID, nullString(order.BillID),
		order.AmountMinor, order.Currency, order.Receipt, order.CreatedAt,
	)
	return err
}

// GetByOrderID loads a minted order by its gateway id.
func (r *GatewayOrderRepository) GetByOrderID(ctx context.Context, orderID string) (*billing.GatewayOrder, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("gateway order repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+gatewayOrderColumns+`
FROM `+r.table+`
WHERE order_id = $1
LIMIT 1`, orderID)

	var order billing.GatewayOrder
	var billID sql.NullString
	err := row.Scan(
		&order.OrderID, &order.UserID, &billID,
		&order.AmountMinor, &order.Currency, &order.Receipt, &order.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrOrderNotFound
		}
		return nil, err
	}
	if billID.Valid {
		order.BillID = billID.String
	}
	order.CreatedAt = order.CreatedAt.UTC()
	return &order, nil
}
