package billing

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Payment statuses derived from the ledger. A record is never stored
// with one of these; they are recomputed from net payable and the sum
// of payments every time the record is read.
const (
	StatusPending = "pending"
	StatusPartial = "partial"
	StatusPaid    = "paid"
)

// Charge line kinds.
const (
	LineMedicine   = "medicine"
	LineDiagnostic = "diagnostic"
	LineManual     = "manual"
	LineAdjustment = "adjustment"
)

// Charge line sources.
const (
	SourcePharmacy   = "pharmacy"
	SourceLaboratory = "laboratory"
	SourceManual     = "manual"
)

// Professional fee roles.
const (
	RoleAttending  = "attending"
	RoleSpecialist = "specialist"
	RoleSurgeon    = "surgeon"
	RoleOther      = "other"
)

// Invoice maps to the billing_record table. It is the aggregate root of
// the billing subsystem: room and board, dietary charges, flat fees,
// discount eligibility flags, and the finalize timestamp all live here;
// professional fees, itemized charge lines, and payments hang off it.
type Invoice struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	InvoiceNumber string     `db:"invoice_number" json:"invoice_number"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	AdmissionID   *uuid.UUID `db:"admission_id" json:"admission_id,omitempty"`

	RoomType *string         `db:"room_type" json:"room_type,omitempty"`
	RoomRate decimal.Decimal `db:"room_rate" json:"room_rate"`
	RoomDays int             `db:"room_days" json:"room_days"`

	MealsPerDay int             `db:"meals_per_day" json:"meals_per_day"`
	DietDays    int             `db:"diet_days" json:"diet_days"`
	MealCost    decimal.Decimal `db:"meal_cost" json:"meal_cost"`

	SuppliesFee  decimal.Decimal `db:"supplies_fee" json:"supplies_fee"`
	ProcedureFee decimal.Decimal `db:"procedure_fee" json:"procedure_fee"`
	NursingFee   decimal.Decimal `db:"nursing_fee" json:"nursing_fee"`
	MiscFee      decimal.Decimal `db:"misc_fee" json:"misc_fee"`

	SeniorCitizen    bool `db:"senior_citizen" json:"senior_citizen"`
	PWD              bool `db:"pwd" json:"pwd"`
	PhilHealthMember bool `db:"philhealth_member" json:"philhealth_member"`

	// Coverage is the PhilHealth case-rate deduction entered by the
	// clerk. Discount is recomputed on every draft read and frozen in
	// place when the record is finalized.
	Coverage decimal.Decimal `db:"coverage" json:"coverage"`
	Discount decimal.Decimal `db:"discount" json:"discount"`

	DischargeDate *time.Time `db:"discharge_date" json:"discharge_date,omitempty"`
	FinalizedAt   *time.Time `db:"finalized_at" json:"finalized_at,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// Associations, loaded with the record.
	Fees     []ProfessionalFee `json:"professional_fees"`
	Lines    []ChargeLine      `json:"charge_lines"`
	Payments []Payment         `json:"payments"`
}

// Finalized reports whether the record has left draft.
func (inv *Invoice) Finalized() bool { return inv.FinalizedAt != nil }

// ProfessionalFee maps to the professional_fee table.
type ProfessionalFee struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	InvoiceID uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Role      string          `db:"role" json:"role"`
	Physician string          `db:"physician" json:"physician"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// ChargeLine maps to the charge_line table. Medicine and diagnostic
// lines are pulled from the pharmacy and laboratory systems; manual
// lines are entered by clerks on a draft; adjustment lines are the only
// charge that may land on a finalized record.
type ChargeLine struct {
	ID        uuid.UUID       `db:"id" json:"id"`
	InvoiceID uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	Kind      string          `db:"kind" json:"kind"`
	Source    string          `db:"source" json:"source"`
	SourceRef *uuid.UUID      `db:"source_ref" json:"source_ref,omitempty"`
	Name      string          `db:"name" json:"name"`
	Dosage    *string         `db:"dosage" json:"dosage,omitempty"`
	Quantity  int             `db:"quantity" json:"quantity"`
	UnitPrice decimal.Decimal `db:"unit_price" json:"unit_price"`
	Amount    decimal.Decimal `db:"amount" json:"amount"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
}

// Payment maps to the payment table. Rows are append-only; corrections
// are modeled as new entries, never edits.
type Payment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	InvoiceID     uuid.UUID       `db:"invoice_id" json:"invoice_id"`
	ReceiptNumber string          `db:"receipt_number" json:"receipt_number"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        string          `db:"method" json:"method"`
	Clerk         string          `db:"clerk" json:"clerk"`
	PaidAt        time.Time       `db:"paid_at" json:"paid_at"`
}

// Totals is the derived financial state of an invoice. It is computed,
// never stored, so the ledger and the charge tables stay the single
// source of truth.
type Totals struct {
	RoomCharge        decimal.Decimal `json:"room_charge"`
	DietaryCharge     decimal.Decimal `json:"dietary_charge"`
	ProfessionalFees  decimal.Decimal `json:"professional_fees"`
	MedicineCharges   decimal.Decimal `json:"medicine_charges"`
	DiagnosticCharges decimal.Decimal `json:"diagnostic_charges"`
	OtherCharges      decimal.Decimal `json:"other_charges"`
	Subtotal          decimal.Decimal `json:"subtotal"`
	Discount          decimal.Decimal `json:"discount"`
	Coverage          decimal.Decimal `json:"coverage"`
	NetPayable        decimal.Decimal `json:"net_payable"`
	AmountPaid        decimal.Decimal `json:"amount_paid"`
	Balance           decimal.Decimal `json:"balance"`
	Status            string          `json:"status"`
}

// InvoiceView is the API shape of a billing record: the stored fields
// plus the derived totals.
type InvoiceView struct {
	*Invoice
	Totals Totals `json:"totals"`
}

// DashboardRow is one line of the billing dashboard projection.
type DashboardRow struct {
	ID                 uuid.UUID       `json:"id"`
	InvoiceNumber      string          `json:"invoice_number"`
	PatientID          uuid.UUID       `json:"patient_id"`
	AdmissionID        *uuid.UUID      `json:"admission_id,omitempty"`
	PatientName        string          `json:"patient_name"`
	RoomNumber         string          `json:"room_number"`
	AttendingPhysician string          `json:"attending_physician"`
	AdmittedAt         *time.Time      `json:"admitted_at,omitempty"`
	Finalized          bool            `json:"finalized"`
	NetPayable         decimal.Decimal `json:"net_payable"`
	AmountPaid         decimal.Decimal `json:"amount_paid"`
	Balance            decimal.Decimal `json:"balance"`
	LastPaymentDate    *time.Time      `json:"last_payment_date,omitempty"`
	Status             string          `json:"status"`
}

// Dashboard is the aggregate view the cashier station works from.
type Dashboard struct {
	TotalBilled      decimal.Decimal `json:"total_billed"`
	TotalCollected   decimal.Decimal `json:"total_collected"`
	TotalOutstanding decimal.Decimal `json:"total_outstanding"`
	CountPending     int             `json:"count_pending"`
	CountPartial     int             `json:"count_partial"`
	CountPaid        int             `json:"count_paid"`
	Rows             []DashboardRow  `json:"rows"`
	Warnings         []string        `json:"warnings,omitempty"`
}
