package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	billing "gridpay-cloud/internal/billing/domain"
)

const defaultBillsTable = "bills"

// BillRepository persists bills.
type BillRepository struct {
	db    *sql.DB
	table string
}

// BillRepositoryOption configures the repository.
type BillRepositoryOption func(*BillRepository)

// WithBillsTable overrides the bills table name.
func WithBillsTable(table string) BillRepositoryOption {
	return func(r *BillRepository) {
		if table != "" {
			r.table = table
		}
	}
}

// NewBillRepository constructs a repository.
func NewBillRepository(db *sql.DB, opts ...BillRepositoryOption) *BillRepository {
	r := &BillRepository{db: db, table: defaultBillsTable}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

const billColumns = `id, user_id, bill_number, service_number, bill_month,
	period_start, period_end, due_date,
	meter_previous, meter_current, units_consumed,
	energy_charge, fixed_charge, tax, other_charges, total_amount, currency,
	status, paid_payment_id, created_at, updated_at`

// Insert writes a new bill.
func (r *BillRepository) Insert(ctx context.Context, bill *billing.Bill) error {
	if r == nil || r.db == nil {
		return errors.New("bill repo: nil db")
	}
	if err := bill.Validate(); err != nil {
		return err
	}
	now := time.Now().UTC()
	if bill.CreatedAt.IsZero() {
		bill.CreatedAt = now
	}
	if bill.UpdatedAt.IsZero() {
		bill.UpdatedAt = now
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO `+r.table+` (`+billColumns+`
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21
)`,
		bill.ID, bill.UserID, bill.BillNumber, bill.ServiceNumber, bill.BillMonth.String(),
		bill.PeriodStart, bill.PeriodEnd, bill.DueDate,
		bill.MeterPrevious, bill.MeterCurrent, bill.UnitsConsumed,
		bill.Charges.EnergyCharge, bill.Charges.FixedCharge, bill.Charges.Tax, bill.Charges.OtherCharges,
		bill.TotalAmount, bill.Currency,
		bill.Status, nullString(bill.PaidPaymentID), bill.CreatedAt, bill.UpdatedAt,
	)
	return err
}

// GetByID loads a bill by id.
func (r *BillRepository) GetByID(ctx context.Context, id string) (*billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+billColumns+`
FROM `+r.table+`
WHERE id = $1
LIMIT 1`, id)
	return scanBill(row)
}

// GetByNumber loads a bill by its bill number.
func (r *BillRepository) GetByNumber(ctx context.Context, billNumber string) (*billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+billColumns+`
FROM `+r.table+`
WHERE bill_number = $1
LIMIT 1`, billNumber)
	return scanBill(row)
}

// ListByUser returns the user's bills, newest billing month first.
func (r *BillRepository) ListByUser(ctx context.Context, userID string) ([]*billing.Bill, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("bill repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+billColumns+`
FROM `+r.table+`
WHERE user_id = $1
ORDER BY bill_month DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*billing.Bill
	for rows.Next() {
		bill, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, bill)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// MarkPaid transitions a bill to paid, conditioned on it not being paid
// already. The condition makes the transition a one-shot regardless of which
// completion path runs it, or how many times.
func (r *BillRepository) MarkPaid(ctx context.Context, billID, paymentID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("bill repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE `+r.table+`
SET status = $1, paid_payment_id = $2, updated_at = $3
WHERE id = $4 AND status <> $1`,
		billing.BillStatusPaid, paymentID, time.Now().UTC(), billID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkPartial flags a bill as partially paid. Paid bills are never
// downgraded; flagging an already partial bill is a no-op.
func (r *BillRepository) MarkPartial(ctx context.Context, billID string) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("bill repo: nil db")
	}
	res, err := r.db.ExecContext(ctx, `
UPDATE `+r.table+`
SET status = $1, updated_at = $2
WHERE id = $3 AND status NOT IN ($1, $4)`,
		billing.BillStatusPartial, time.Now().UTC(), billID, billing.BillStatusPaid)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func scanBill(row rowScanner) (*billing.Bill, error) {
	var bill billing.Bill
	var month string
	var paidPaymentID sql.NullString
	err := row.Scan(
		&bill.ID, &bill.UserID, &bill.BillNumber, &bill.ServiceNumber, &month,
		&bill.PeriodStart, &bill.PeriodEnd, &bill.DueDate,
		&bill.MeterPrevious, &bill.MeterCurrent, &bill.UnitsConsumed,
		&bill.Charges.EnergyCharge, &bill.Charges.FixedCharge, &bill.Charges.Tax, &bill.Charges.OtherCharges,
		&bill.TotalAmount, &bill.Currency,
		&bill.Status, &paidPaymentID, &bill.CreatedAt, &bill.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, billing.ErrBillNotFound
		}
		return nil, err
	}
	parsed, err := billing.ParseBillMonth(month)
	if err != nil {
		return nil, err
	}
	bill.BillMonth = parsed
	if paidPaymentID.Valid {
		bill.PaidPaymentID = paidPaymentID.String
	}
	bill.PeriodStart = bill.PeriodStart.UTC()
	bill.PeriodEnd = bill.PeriodEnd.UTC()
	bill.DueDate = bill.DueDate.UTC()
	bill.CreatedAt = bill.CreatedAt.UTC()
	bill.UpdatedAt = bill.UpdatedAt.UTC()
	return &bill, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func nullString(value string) sql.NullString {
	return sql.NullString{String: value, Valid: value != ""}
}
