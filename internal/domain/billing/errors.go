package billing

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNoPendingCharges means an admission had nothing billable: no
	// dispensed medications, no completed diagnostics, no room or fee
	// charges to put on an invoice.
	ErrNoPendingCharges = errors.New("no pending charges for admission")

	// ErrAlreadyFinalized guards the one-way finalize transition and
	// every mutation that is only legal on a draft.
	ErrAlreadyFinalized = errors.New("billing record already finalized")

	// ErrNotFinalized blocks ledger appends on drafts; money is only
	// received against an issued invoice.
	ErrNotFinalized = errors.New("billing record not finalized")

	// ErrInvoiceHasPayments blocks deletion once money has been
	// received against the record.
	ErrInvoiceHasPayments = errors.New("billing record has payments")

	// ErrPaymentExceedsBalance is returned when a payment would
	// overshoot the running balance and the caller did not ask for an
	// overpayment explicitly.
	ErrPaymentExceedsBalance = errors.New("payment exceeds outstanding balance")

	// ErrNotFound is the domain-level missing-record error so handlers
	// do not lean on driver sentinels.
	ErrNotFound = errors.New("billing record not found")
)

// ValidationError carries per-field messages for a rejected request.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s: %s", field, msg))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NewValidationError builds a ValidationError from field/message pairs.
func NewValidationError(pairs ...string) *ValidationError {
	fields := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		fields[pairs[i]] = pairs[i+1]
	}
	return &ValidationError{Fields: fields}
}
