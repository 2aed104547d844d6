package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func validBill() *Bill {
	return &Bill{
		ID:         "bill-1",
		UserID:     "user-1",
		BillNumber: "EB-2026-08-0001",
		BillMonth:  BillMonth("2026-08"),
		Charges: ChargeBreakdown{
			EnergyCharge: decimal.NewFromFloat(1100.00),
			FixedCharge:  decimal.NewFromFloat(150.00),
			Tax:          decimal.NewFromFloat(100.00),
			OtherCharges: decimal.NewFromFloat(25.00),
		},
		TotalAmount: decimal.NewFromFloat(1375.00),
		Currency:    "INR",
		Status:      BillStatusUnpaid,
	}
}

func TestBillValidate_OK(t *testing.T) {
	if err := validBill().Validate(); err != nil {
		t.Fatalf("expected valid bill, got %v", err)
	}
}

func TestBillValidate_ChargesMismatch(t *testing.T) {
	bill := validBill()
	bill.TotalAmount = decimal.NewFromFloat(1400.00)
	if err := bill.Validate(); err != ErrChargesMismatch {
		t.Fatalf("expected ErrChargesMismatch, got %v", err)
	}
}

func TestBillValidate_BadMonth(t *testing.T) {
	bill := validBill()
	bill.BillMonth = BillMonth("Aug-2026")
	if err := bill.Validate(); err != ErrInvalidBillMonth {
		t.Fatalf("expected ErrInvalidBillMonth, got %v", err)
	}
}

func TestBillIsPayable(t *testing.T) {
	bill := validBill()
	for _, status := range []string{BillStatusUnpaid, BillStatusOverdue, BillStatusPartial} {
		bill.Status = status
		if !bill.IsPayable() {
			t.Fatalf("expected %s bill to be payable", status)
		}
	}
	bill.Status = BillStatusPaid
	if bill.IsPayable() {
		t.Fatalf("expected paid bill to not be payable")
	}
}

func TestBillMonth(t *testing.T) {
	month, err := NewBillMonth(time.Date(2026, time.August, 31, 10, 0, 0, 0, time.UTC))
	if err != nil {
		t.Fatalf("new bill month: %v", err)
	}
	if month.String() != "2026-08" {
		t.Fatalf("expected 2026-08, got %s", month)
	}
	if _, err := ParseBillMonth("2026-13"); err == nil {
		t.Fatalf("expected invalid month error")
	}
	if got := month.Start(); !got.Equal(time.Date(2026, time.August, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected month start: %v", got)
	}
}
