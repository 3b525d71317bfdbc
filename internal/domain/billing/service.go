package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/his/his/internal/upstream"
	"github.com/his/his/internal/upstream/admissions"
	"github.com/his/his/internal/upstream/laboratory"
	"github.com/his/his/internal/upstream/pharmacy"
)

// PharmacySource supplies dispensed medications for an admission.
type PharmacySource interface {
	DispensedMedications(ctx context.Context, admissionID uuid.UUID) ([]pharmacy.Medication, error)
}

// LaboratorySource supplies completed diagnostics for an admission.
type LaboratorySource interface {
	CompletedTests(ctx context.Context, admissionID uuid.UUID) ([]laboratory.LabTest, error)
}

// AdmissionSource supplies patient and encounter context for display.
type AdmissionSource interface {
	GetAdmissions(ctx context.Context, ids []uuid.UUID) (map[uuid.UUID]*admissions.Admission, error)
}

type Service struct {
	repo     InvoiceRepository
	pharmacy PharmacySource
	lab      LaboratorySource
	adm      AdmissionSource
	logger   zerolog.Logger
}

func NewService(repo InvoiceRepository, ph PharmacySource, lab LaboratorySource, adm AdmissionSource, logger zerolog.Logger) *Service {
	return &Service{repo: repo, pharmacy: ph, lab: lab, adm: adm, logger: logger}
}

// View wraps a record with its derived totals.
func View(inv *Invoice) *InvoiceView {
	return &InvoiceView{Invoice: inv, Totals: ComputeTotals(inv)}
}

var validFeeRoles = map[string]bool{
	RoleAttending: true, RoleSpecialist: true, RoleSurgeon: true, RoleOther: true,
}

var validPaymentMethods = map[string]bool{
	"cash": true, "card": true, "gcash": true, "check": true, "bank_transfer": true,
}

// Create stores a new draft. When the record carries an admission, the
// pharmacy and laboratory systems are pulled for pending charges; a
// source that is down produces a warning, not a failure. A record with
// an admission and nothing billable at all is rejected with
// ErrNoPendingCharges.
func (s *Service) Create(ctx context.Context, inv *Invoice) ([]string, error) {
	if inv.PatientID == uuid.Nil {
		return nil, NewValidationError("patient_id", "is required")
	}
	if inv.RoomDays < 0 || inv.DietDays < 0 || inv.MealsPerDay < 0 {
		return nil, NewValidationError("room_days", "must not be negative")
	}
	if inv.Discount.IsNegative() {
		return nil, NewValidationError("discount", "must not be negative")
	}
	for _, f := range inv.Fees {
		if !validFeeRoles[f.Role] {
			return nil, NewValidationError("professional_fees", fmt.Sprintf("invalid role %q", f.Role))
		}
		if f.Amount.IsNegative() {
			return nil, NewValidationError("professional_fees", "amount must not be negative")
		}
	}

	var warnings []string
	if inv.AdmissionID != nil {
		var err error
		warnings, err = s.pullSources(ctx, inv)
		if err != nil {
			return nil, err
		}
	}

	inv.Discount = EffectiveDiscount(inv)
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("patient_id", inv.PatientID.String()).
		Int("charge_lines", len(inv.Lines)).
		Msg("billing record created")
	return warnings, nil
}

// pullSources fills medicine and diagnostic lines from the clinical
// systems. ErrNoPendingCharges means both sources answered and
// reported nothing billable; an outage never blocks the draft, since
// the clerk retries a down source through the reload endpoints.
func (s *Service) pullSources(ctx context.Context, inv *Invoice) ([]string, error) {
	var warnings []string
	var outage bool

	meds, err := s.pharmacy.DispensedMedications(ctx, *inv.AdmissionID)
	switch {
	case errors.Is(err, upstream.ErrUnavailable):
		outage = true
		warnings = append(warnings, "pharmacy unavailable, medication charges not included")
		s.logger.Warn().Err(err).Str("admission_id", inv.AdmissionID.String()).Msg("pharmacy pull failed")
	case err != nil:
		return nil, err
	default:
		for _, m := range meds {
			inv.Lines = append(inv.Lines, medicationLine(inv.ID, m))
		}
	}

	tests, err := s.lab.CompletedTests(ctx, *inv.AdmissionID)
	switch {
	case errors.Is(err, upstream.ErrUnavailable):
		outage = true
		warnings = append(warnings, "laboratory unavailable, diagnostic charges not included")
		s.logger.Warn().Err(err).Str("admission_id", inv.AdmissionID.String()).Msg("laboratory pull failed")
	case err != nil:
		return nil, err
	default:
		for _, t := range tests {
			inv.Lines = append(inv.Lines, labLine(inv.ID, t))
		}
	}

	if !outage && len(inv.Lines) == 0 && len(inv.Fees) == 0 && !s.hasLocalCharges(inv) {
		return nil, ErrNoPendingCharges
	}
	return warnings, nil
}

func (s *Service) hasLocalCharges(inv *Invoice) bool {
	return inv.RoomDays > 0 ||
		inv.DietDays > 0 ||
		inv.SuppliesFee.IsPositive() ||
		inv.ProcedureFee.IsPositive() ||
		inv.NursingFee.IsPositive() ||
		inv.MiscFee.IsPositive()
}

func medicationLine(invoiceID uuid.UUID, m pharmacy.Medication) ChargeLine {
	ref := m.ID
	return ChargeLine{
		InvoiceID: invoiceID,
		Kind:      LineMedicine,
		Source:    SourcePharmacy,
		SourceRef: &ref,
		Name:      m.Name,
		Dosage:    m.Dosage,
		Quantity:  m.Quantity,
		UnitPrice: m.UnitPrice,
		Amount:    m.UnitPrice.Mul(decimal.NewFromInt(int64(m.Quantity))),
	}
}

func labLine(invoiceID uuid.UUID, t laboratory.LabTest) ChargeLine {
	ref := t.ID
	return ChargeLine{
		InvoiceID: invoiceID,
		Kind:      LineDiagnostic,
		Source:    SourceLaboratory,
		SourceRef: &ref,
		Name:      t.Name,
		Quantity:  1,
		UnitPrice: t.Price,
		Amount:    t.Price,
	}
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.List(ctx, limit, offset)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// Update rewrites draft header fields. A statutory discount follows
// the edited charges immediately; a manual discount rides along
// untouched. Either way it only freezes at finalize.
func (s *Service) Update(ctx context.Context, inv *Invoice) error {
	if inv.RoomDays < 0 || inv.DietDays < 0 || inv.MealsPerDay < 0 {
		return NewValidationError("room_days", "must not be negative")
	}
	if inv.Discount.IsNegative() {
		return NewValidationError("discount", "must not be negative")
	}
	current, err := s.repo.GetByID(ctx, inv.ID)
	if err != nil {
		return err
	}
	if current.Finalized() {
		return ErrAlreadyFinalized
	}
	inv.Lines = current.Lines
	inv.Discount = EffectiveDiscount(inv)
	return s.repo.Update(ctx, inv)
}

func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info().Str("id", id.String()).Msg("billing record deleted")
	return nil
}

// AddProfessionalFee attaches a physician's fee to a draft.
func (s *Service) AddProfessionalFee(ctx context.Context, fee *ProfessionalFee) error {
	if !validFeeRoles[fee.Role] {
		return NewValidationError("role", fmt.Sprintf("invalid role %q", fee.Role))
	}
	if fee.Amount.IsNegative() {
		return NewValidationError("amount", "must not be negative")
	}
	return s.repo.AddProfessionalFee(ctx, fee)
}

// AddManualItem appends a clerk-entered charge. On a draft it is an
// ordinary manual line; on a finalized record it becomes an adjustment,
// the only charge allowed to land after finalize.
func (s *Service) AddManualItem(ctx context.Context, invoiceID uuid.UUID, name string, quantity int, unitPrice decimal.Decimal) (*ChargeLine, error) {
	if name == "" {
		return nil, NewValidationError("name", "is required")
	}
	if quantity <= 0 {
		return nil, NewValidationError("quantity", "must be positive")
	}
	if unitPrice.IsNegative() {
		return nil, NewValidationError("unit_price", "must not be negative")
	}

	inv, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}

	kind := LineManual
	if inv.Finalized() {
		kind = LineAdjustment
	}
	line := &ChargeLine{
		InvoiceID: invoiceID,
		Kind:      kind,
		Source:    SourceManual,
		Name:      name,
		Quantity:  quantity,
		UnitPrice: unitPrice,
		Amount:    unitPrice.Mul(decimal.NewFromInt(int64(quantity))),
	}
	if err := s.repo.AddChargeLine(ctx, line); err != nil {
		return nil, err
	}
	return line, nil
}

// ReloadPharmacy re-pulls dispensed medications and replaces the
// pharmacy lines on a draft.
func (s *Service) ReloadPharmacy(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	return s.reloadSource(ctx, invoiceID, SourcePharmacy)
}

// ReloadLaboratory re-pulls completed diagnostics and replaces the
// laboratory lines on a draft.
func (s *Service) ReloadLaboratory(ctx context.Context, invoiceID uuid.UUID) (*Invoice, error) {
	return s.reloadSource(ctx, invoiceID, SourceLaboratory)
}

func (s *Service) reloadSource(ctx context.Context, invoiceID uuid.UUID, source string) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, invoiceID)
	if err != nil {
		return nil, err
	}
	if inv.Finalized() {
		return nil, ErrAlreadyFinalized
	}
	if inv.AdmissionID == nil {
		return nil, NewValidationError("admission_id", "record has no admission to reload from")
	}

	var lines []ChargeLine
	switch source {
	case SourcePharmacy:
		meds, err := s.pharmacy.DispensedMedications(ctx, *inv.AdmissionID)
		if err != nil {
			return nil, err
		}
		for _, m := range meds {
			lines = append(lines, medicationLine(invoiceID, m))
		}
	case SourceLaboratory:
		tests, err := s.lab.CompletedTests(ctx, *inv.AdmissionID)
		if err != nil {
			return nil, err
		}
		for _, t := range tests {
			lines = append(lines, labLine(invoiceID, t))
		}
	default:
		return nil, fmt.Errorf("unknown source %q", source)
	}

	if err := s.repo.ReplaceSourceLines(ctx, invoiceID, source, lines); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, invoiceID)
}

// Finalize closes a draft: validates the record is dischargeable,
// freezes the discount against the charges as they stand, and stamps
// finalized_at exactly once.
func (s *Service) Finalize(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.Finalized() {
		return nil, ErrAlreadyFinalized
	}

	fields := map[string]string{}
	if inv.DischargeDate == nil {
		fields["discharge_date"] = "is required to finalize"
	}
	if inv.RoomType == nil || *inv.RoomType == "" {
		fields["room_type"] = "is required to finalize"
	}
	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}

	discount := EffectiveDiscount(inv)
	if err := s.repo.Finalize(ctx, id, discount, *inv.DischargeDate); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("invoice_number", inv.InvoiceNumber).
		Str("discount", discount.String()).
		Msg("billing record finalized")
	return s.repo.GetByID(ctx, id)
}

// RecordPayment appends to the ledger of a finalized invoice; drafts
// are rejected with ErrNotFinalized. The repo re-derives the balance
// under a row lock; an overshoot needs allowExcess.
func (s *Service) RecordPayment(ctx context.Context, invoiceID uuid.UUID, amount decimal.Decimal, method, clerk string, allowExcess bool) (*Payment, error) {
	if !amount.IsPositive() {
		return nil, NewValidationError("amount", "must be positive")
	}
	if !validPaymentMethods[method] {
		return nil, NewValidationError("method", fmt.Sprintf("invalid method %q", method))
	}

	p := &Payment{
		InvoiceID: invoiceID,
		Amount:    amount,
		Method:    method,
		Clerk:     clerk,
		PaidAt:    time.Now().UTC(),
	}
	if err := s.repo.AddPayment(ctx, p, allowExcess); err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("receipt_number", p.ReceiptNumber).
		Str("amount", amount.String()).
		Str("method", method).
		Msg("payment recorded")
	return p, nil
}

// DashboardView builds the cashier projection: one row per record with
// patient context from admissions, plus collection aggregates. An
// admissions outage degrades to placeholder rows and a warning.
func (s *Service) DashboardView(ctx context.Context, limit, offset int) (*Dashboard, error) {
	invs, _, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, err
	}

	var admIDs []uuid.UUID
	for _, inv := range invs {
		if inv.AdmissionID != nil {
			admIDs = append(admIDs, *inv.AdmissionID)
		}
	}

	dash := &Dashboard{
		TotalBilled:      decimal.Zero,
		TotalCollected:   decimal.Zero,
		TotalOutstanding: decimal.Zero,
		Rows:             make([]DashboardRow, 0, len(invs)),
	}

	admByID := map[uuid.UUID]*admissions.Admission{}
	if len(admIDs) > 0 {
		admByID, err = s.adm.GetAdmissions(ctx, admIDs)
		if err != nil {
			if !errors.Is(err, upstream.ErrUnavailable) {
				return nil, err
			}
			admByID = map[uuid.UUID]*admissions.Admission{}
			dash.Warnings = append(dash.Warnings, "admissions unavailable, patient details omitted")
			s.logger.Warn().Err(err).Msg("admissions lookup failed for dashboard")
		}
	}

	for _, inv := range invs {
		totals := ComputeTotals(inv)
		row := DashboardRow{
			ID:            inv.ID,
			InvoiceNumber: inv.InvoiceNumber,
			PatientID:     inv.PatientID,
			AdmissionID:   inv.AdmissionID,
			PatientName:   "unknown",
			RoomNumber:    "unknown",
			Finalized:     inv.Finalized(),
			NetPayable:    totals.NetPayable,
			AmountPaid:    totals.AmountPaid,
			Balance:       totals.Balance,
			Status:        totals.Status,
		}
		for i := range inv.Payments {
			paidAt := inv.Payments[i].PaidAt
			if row.LastPaymentDate == nil || paidAt.After(*row.LastPaymentDate) {
				row.LastPaymentDate = &paidAt
			}
		}
		if inv.AdmissionID != nil {
			if adm := admByID[*inv.AdmissionID]; adm != nil {
				row.PatientName = adm.PatientName
				row.RoomNumber = adm.RoomNumber
				row.AttendingPhysician = adm.AttendingPhysician
				admitted := adm.AdmittedAt
				row.AdmittedAt = &admitted
			}
		}

		dash.TotalBilled = dash.TotalBilled.Add(totals.NetPayable)
		dash.TotalCollected = dash.TotalCollected.Add(totals.AmountPaid)
		outstanding := totals.Balance
		if outstanding.IsNegative() {
			outstanding = decimal.Zero
		}
		dash.TotalOutstanding = dash.TotalOutstanding.Add(outstanding)

		switch totals.Status {
		case StatusPending:
			dash.CountPending++
		case StatusPartial:
			dash.CountPartial++
		case StatusPaid:
			dash.CountPaid++
		}
		dash.Rows = append(dash.Rows, row)
	}
	return dash, nil
}
