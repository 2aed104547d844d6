package billing

import "time"

// BillMonth is the persisted representation of a billing month, "YYYY-MM".
type BillMonth string

const billMonthLayout = "2006-01"

// NewBillMonth builds a BillMonth for the month containing t.
func NewBillMonth(t time.Time) (BillMonth, error) {
	if t.IsZero() {
		return "", ErrInvalidBillMonth
	}
	return BillMonth(t.UTC().Format(billMonthLayout)), nil
}

// ParseBillMonth validates a raw month token.
func ParseBillMonth(value string) (BillMonth, error) {
	if _, err := time.Parse(billMonthLayout, value); err != nil {
		return "", ErrInvalidBillMonth
	}
	return BillMonth(value), nil
}

// Start returns the first instant of the month in UTC.
func (m BillMonth) Start() time.Time {
	t, err := time.Parse(billMonthLayout, string(m))
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}

// String returns the raw token for storage.
func (m BillMonth) String() string { return string(m) }
