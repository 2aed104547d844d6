package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
)

const defaultPaymentsTable = "payments"

// PaymentRepository persists payment attempts.
type PaymentRepository struct {
	db         *sql.DB
	table      string
	billsTable string
}

// PaymentRepositoryOption configures the repository.
type PaymentRepositoryOption func(*PaymentRepository)

// WithPaymentsTable overrides the payments table name.
func WithPaymentsTable(table string) PaymentRepositoryOption {
	return func(r *PaymentRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewPaymentRepository constructs a repository.
func NewPaymentRepository(db *sql.DB, opts ...PaymentRepositoryOption) *PaymentRepository {
	r := &PaymentRepository{db: db, table: defaultPaymentsTable, billsTable: defaultBillsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const paymentColumns = `id, user_id, bill_id, amount, currency, status, method, contact,
	gateway_order_id, gateway_payment_id, gateway_signature, transaction_ref,
	notes, paid_at, created_at`

// Insert writes a payment, deduping on gateway payment id. The partial
// unique index on gateway_payment_id makes the conflict clause the race
// arbiter between the checkout and webhook paths. Payments without a gateway
// id (failed attempts before checkout completed) store NULL and are always
// new rows.
func (r *PaymentRepository) Insert(ctx context.Context, payment *billing.Payment) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("payment repo: nil db")
	}
	if payment == nil {
		return false, billing.ErrPaymentNotFound
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, `
INSERT INTO `+r.table+` (`+paymentColumns+`
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15
)
ON CONFLICT (gateway_payment_id) WHERE gateway_payment_id IS NOT NULL DO NOTHING`,
		payment.ID, payment.UserID, nullString(payment.BillID), payment.Amount, payment.Currency,
		payment.Status, payment.Method, payment.Contact,
		payment.GatewayOrderID, nullString(payment.GatewayPaymentID), payment.GatewaySignature, payment.TransactionRef,
		nullJSON(payment.Notes), nullTime(payment.PaidAt), payment.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// GetByID loads a payment by id.
func (r *PaymentRepository) GetByID(ctx context.Context, id string) (*billing.Payment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+paymentColumns+`
FROM `+r.table+`
WHERE id = $1
LIMIT 1`, id)
	return scanPayment(row)
}

// GetByGatewayPaymentID loads a payment by its gateway id.
func (r *PaymentRepository) GetByGatewayPaymentID(ctx context.Context, gatewayPaymentID string) (*billing.Payment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	if gatewayPaymentID == "" {
		return nil, billing.ErrPaymentNotFound
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+paymentColumns+`
FROM `+r.table+`
WHERE gateway_payment_id = $1
LIMIT 1`, gatewayPaymentID)
	return scanPayment(row)
}

// ListByBill returns the attempts against a bill, newest first.
func (r *PaymentRepository) ListByBill(ctx context.Context, billID string) ([]*billing.Payment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+paymentColumns+`
FROM `+r.table+`
WHERE bill_id = $1
ORDER BY created_at DESC`, billID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

// ListUnreconciled returns successful payments covering their bill's total
// while the bill has not reached paid status. The sweep drains this set;
// underpayments stay out so a partial payment never settles a bill.
func (r *PaymentRepository) ListUnreconciled(ctx context.Context, limit int) ([]*billing.Payment, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("payment repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT p.id, p.user_id, p.bill_id, p.amount, p.currency, p.status, p.method, p.contact,
	p.gateway_order_id, p.gateway_payment_id, p.gateway_signature, p.transaction_ref,
	p.notes, p.paid_at, p.created_at
FROM `+r.table+` p
JOIN `+r.billsTable+` b ON b.id = p.bill_id
WHERE p.status = $1 AND b.status <> $2 AND p.amount >= b.total_amount
ORDER BY p.created_at ASC
LIMIT $3`, billing.PaymentStatusSuccess, billing.BillStatusPaid, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectPayments(rows)
}

func collectPayments(rows *sql.Rows) ([]*billing.Payment, error) {
	var result []*billing.Payment
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, payment)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanPayment(row rowScanner) (*billing.Payment, error) {
	var payment billing.Payment
	var billID sql.NullString
	var gatewayPaymentID sql.NullString
	var notes []byte
	var paidAt sql.NullTime
	err := row.Scan(
		&payment.ID, &payment.UserID, &billID, &payment.Amount, &payment.Currency,
		&payment.Status, &payment.Method, &payment.Contact,
		&payment.GatewayOrderID, &gatewayPaymentID, &payment.GatewaySignature, &payment.TransactionRef,
		&notes, &paidAt, &payment.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrPaymentNotFound
		}
		return nil, err
	}
	if billID.Valid {
		payment.BillID = billID.String
	}
	if gatewayPaymentID.Valid {
		payment.GatewayPaymentID = gatewayPaymentID.String
	}
	if len(notes) > 0 {
		payment.Notes = json.RawMessage(notes)
	}
	if paidAt.Valid {
		payment.PaidAt = paidAt.Time.UTC()
	}
	payment.CreatedAt = payment.CreatedAt.UTC()
	return &payment, nil
}

func nullTime(value time.Time) sql.NullTime {
	return sql.NullTime{Time: value, Valid: !value.IsZero()}
}

func nullJSON(value json.RawMessage) any {
	if len(value) == 0 {
		return nil
	}
	return []byte(value)
}
