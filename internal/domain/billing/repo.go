package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InvoiceRepository persists billing records and their associations.
// Operations that touch money (finalize, payments, deletes) are atomic:
// the Postgres implementation runs them in a transaction and re-derives
// state under a row lock rather than trusting the caller's snapshot.
type InvoiceRepository interface {
	// Create stores a new draft with its fees and charge lines and
	// assigns the invoice number.
	Create(ctx context.Context, inv *Invoice) error

	// GetByID loads a record with fees, lines, and payments, or
	// ErrNotFound.
	GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error)

	// Update rewrites draft header fields and the recomputed discount.
	// ErrAlreadyFinalized past finalize.
	Update(ctx context.Context, inv *Invoice) error

	// Delete removes a record. ErrInvoiceHasPayments once money has
	// been received, ErrAlreadyFinalized past finalize.
	Delete(ctx context.Context, id uuid.UUID) error

	List(ctx context.Context, limit, offset int) ([]*Invoice, int, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error)

	AddProfessionalFee(ctx context.Context, fee *ProfessionalFee) error

	// AddChargeLine appends a line. The service decides the kind;
	// adjustment is the only kind legal on a finalized record and the
	// implementation enforces that.
	AddChargeLine(ctx context.Context, line *ChargeLine) error

	// ReplaceSourceLines swaps every line from one source for a fresh
	// pull, atomically. Draft records only.
	ReplaceSourceLines(ctx context.Context, invoiceID uuid.UUID, source string, lines []ChargeLine) error

	// Finalize freezes the discount and stamps finalized_at exactly
	// once. A second call returns ErrAlreadyFinalized no matter how
	// the calls interleave.
	Finalize(ctx context.Context, id uuid.UUID, discount decimal.Decimal, dischargeDate time.Time) error

	// AddPayment appends to the ledger under a row lock, assigning the
	// official receipt number. Overshooting the balance returns
	// ErrPaymentExceedsBalance unless allowExcess is set.
	AddPayment(ctx context.Context, p *Payment, allowExcess bool) error
}
