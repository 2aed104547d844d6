package billing

import "errors"

var (
	// ErrInvalidAmount is returned when a payment amount is not positive.
	ErrInvalidAmount = errors.New("billing: invalid amount")
	// ErrMissingField is returned when a required request field is absent.
	ErrMissingField = errors.New("billing: missing required field")
	// ErrVerificationFailed is returned when a gateway signature does not match.
	ErrVerificationFailed = errors.New("billing: signature verification failed")
	// ErrBillNotFound is returned when a bill does not exist.
	ErrBillNotFound = errors.New("billing: bill not found")
	// ErrPaymentNotFound is returned when a payment does not exist.
	ErrPaymentNotFound = errors.New("billing: payment not found")
	// ErrChargesMismatch is returned when a bill total does not equal the sum
	// of its charge components.
	ErrChargesMismatch = errors.New("billing: total does not match charge components")
	// ErrInvalidBillMonth is returned when a bill month token is malformed.
	ErrInvalidBillMonth = errors.New("billing: invalid bill month")
	// ErrNilBill is returned when persisting a nil bill.
	ErrNilBill = errors.New("billing: nil bill")
	// ErrBillNotPayable is returned when ordering payment for a settled bill.
	ErrBillNotPayable = errors.New("billing: bill is not payable")
	// ErrOrderNotFound is returned when a confirmation references a gateway
	// order that was not minted here, or was minted for another user.
	ErrOrderNotFound = errors.New("billing: gateway order not found")
	// ErrOrderMismatch is returned when a confirmation references an order
	// minted for a different bill.
	ErrOrderMismatch = errors.New("billing: order does not match bill")
)
