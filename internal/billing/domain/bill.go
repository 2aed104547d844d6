package billing

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	BillStatusUnpaid  = "unpaid"
	BillStatusPaid    = "paid"
	BillStatusOverdue = "overdue"
	BillStatusPartial = "partial"
)

// ChargeBreakdown itemizes a bill. TotalAmount on the bill must equal the sum
// of these components; storage does not enforce it, writers do.
type ChargeBreakdown struct {
	EnergyCharge decimal.Decimal `json:"energy_charge"`
	FixedCharge  decimal.Decimal `json:"fixed_charge"`
	Tax          decimal.Decimal `json:"tax"`
	OtherCharges decimal.Decimal `json:"other_charges"`
}

// Sum returns the total of all components.
func (c ChargeBreakdown) Sum() decimal.Decimal {
	return c.EnergyCharge.Add(c.FixedCharge).Add(c.Tax).Add(c.OtherCharges)
}

// Bill is a monthly electricity bill for one user and service account.
// One bill exists per billing period per user; only the reconciliation flow
// mutates its status after creation.
type Bill struct {
	ID            string
	UserID        string
	BillNumber    string
	ServiceNumber string
	BillMonth     BillMonth
	PeriodStart   time.Time
	PeriodEnd     time.Time
	DueDate       time.Time

	MeterPrevious float64
	MeterCurrent  float64
	UnitsConsumed float64

	Charges     ChargeBreakdown
	TotalAmount decimal.Decimal
	Currency    string

	Status        string
	PaidPaymentID string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate checks writer-enforced invariants before a bill is persisted.
func (b *Bill) Validate() error {
	if b == nil {
		return ErrNilBill
	}
	if b.UserID == "" || b.BillNumber == "" {
		return ErrMissingField
	}
	if _, err := ParseBillMonth(b.BillMonth.String()); err != nil {
		return err
	}
	if b.TotalAmount.LessThanOrEqual(decimal.Zero) {
		return ErrInvalidAmount
	}
	if !b.TotalAmount.Equal(b.Charges.Sum()) {
		return ErrChargesMismatch
	}
	if !validBillStatus(b.Status) {
		return ErrMissingField
	}
	return nil
}

// IsPayable reports whether the bill can still be settled.
func (b *Bill) IsPayable() bool {
	if b == nil {
		return false
	}
	switch b.Status {
	case BillStatusUnpaid, BillStatusOverdue, BillStatusPartial:
		return true
	default:
		return false
	}
}

func validBillStatus(status string) bool {
	switch status {
	case BillStatusUnpaid, BillStatusPaid, BillStatusOverdue, BillStatusPartial:
		return true
	default:
		return false
	}
}
