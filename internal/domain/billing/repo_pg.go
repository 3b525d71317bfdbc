package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/his/his/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type invoiceRepoPG struct{ pool *pgxpool.Pool }

func NewInvoiceRepoPG(pool *pgxpool.Pool) InvoiceRepository { return &invoiceRepoPG{pool: pool} }

func (r *invoiceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const invCols = `id, invoice_number, patient_id, admission_id,
	room_type, room_rate, room_days,
	meals_per_day, diet_days, meal_cost,
	supplies_fee, procedure_fee, nursing_fee, misc_fee,
	senior_citizen, pwd, philhealth_member,
	coverage, discount,
	discharge_date, finalized_at, created_at, updated_at`

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var inv Invoice
	err := row.Scan(&inv.ID, &inv.InvoiceNumber, &inv.PatientID, &inv.AdmissionID,
		&inv.RoomType, &inv.RoomRate, &inv.RoomDays,
		&inv.MealsPerDay, &inv.DietDays, &inv.MealCost,
		&inv.SuppliesFee, &inv.ProcedureFee, &inv.NursingFee, &inv.MiscFee,
		&inv.SeniorCitizen, &inv.PWD, &inv.PhilHealthMember,
		&inv.Coverage, &inv.Discount,
		&inv.DischargeDate, &inv.FinalizedAt, &inv.CreatedAt, &inv.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return &inv, err
}

func (r *invoiceRepoPG) Create(ctx context.Context, inv *Invoice) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		inv.ID = uuid.New()
		var seq int64
		if err := q.QueryRow(ctx, `SELECT nextval('billing_invoice_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("assigning invoice number: %w", err)
		}
		inv.InvoiceNumber = fmt.Sprintf("INV-%06d", seq)

		_, err := q.Exec(ctx, `
			INSERT INTO billing_record (id, invoice_number, patient_id, admission_id,
				room_type, room_rate, room_days,
				meals_per_day, diet_days, meal_cost,
				supplies_fee, procedure_fee, nursing_fee, misc_fee,
				senior_citizen, pwd, philhealth_member,
				coverage, discount, discharge_date)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20)`,
			inv.ID, inv.InvoiceNumber, inv.PatientID, inv.AdmissionID,
			inv.RoomType, inv.RoomRate, inv.RoomDays,
			inv.MealsPerDay, inv.DietDays, inv.MealCost,
			inv.SuppliesFee, inv.ProcedureFee, inv.NursingFee, inv.MiscFee,
			inv.SeniorCitizen, inv.PWD, inv.PhilHealthMember,
			inv.Coverage, inv.Discount, inv.DischargeDate)
		if err != nil {
			return err
		}

		for i := range inv.Fees {
			inv.Fees[i].InvoiceID = inv.ID
			if err := insertFee(ctx, q, &inv.Fees[i]); err != nil {
				return err
			}
		}
		for i := range inv.Lines {
			inv.Lines[i].InvoiceID = inv.ID
			if err := insertLine(ctx, q, &inv.Lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func insertFee(ctx context.Context, q queryable, fee *ProfessionalFee) error {
	if fee.ID == uuid.Nil {
		fee.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO professional_fee (id, invoice_id, role, physician, amount)
		VALUES ($1,$2,$3,$4,$5)`,
		fee.ID, fee.InvoiceID, fee.Role, fee.Physician, fee.Amount)
	return err
}

func insertLine(ctx context.Context, q queryable, line *ChargeLine) error {
	if line.ID == uuid.Nil {
		line.ID = uuid.New()
	}
	_, err := q.Exec(ctx, `
		INSERT INTO charge_line (id, invoice_id, kind, source, source_ref, name, dosage, quantity, unit_price, amount)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		line.ID, line.InvoiceID, line.Kind, line.Source, line.SourceRef,
		line.Name, line.Dosage, line.Quantity, line.UnitPrice, line.Amount)
	return err
}

func (r *invoiceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	inv, err := scanInvoice(r.conn(ctx).QueryRow(ctx, `SELECT `+invCols+` FROM billing_record WHERE id = $1`, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadAssociations(ctx, []*Invoice{inv}); err != nil {
		return nil, err
	}
	return inv, nil
}

func (r *invoiceRepoPG) loadAssociations(ctx context.Context, invs []*Invoice) error {
	if len(invs) == 0 {
		return nil
	}
	byID := make(map[uuid.UUID]*Invoice, len(invs))
	ids := make([]uuid.UUID, 0, len(invs))
	for _, inv := range invs {
		inv.Fees = []ProfessionalFee{}
		inv.Lines = []ChargeLine{}
		inv.Payments = []Payment{}
		byID[inv.ID] = inv
		ids = append(ids, inv.ID)
	}
	q := r.conn(ctx)

	rows, err := q.Query(ctx, `
		SELECT id, invoice_id, role, physician, amount, created_at
		FROM professional_fee WHERE invoice_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var f ProfessionalFee
		if err := rows.Scan(&f.ID, &f.InvoiceID, &f.Role, &f.Physician, &f.Amount, &f.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		if inv := byID[f.InvoiceID]; inv != nil {
			inv.Fees = append(inv.Fees, f)
		}
	}
	rows.Close()
	if rows.Err() != nil {
		return rows.Err()
	}

	rows, err = q.Query(ctx, `
		SELECT id, invoice_id, kind, source, source_ref, name, dosage, quantity, unit_price, amount, created_at
		FROM charge_line WHERE invoice_id = ANY($1) ORDER BY created_at`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var l ChargeLine
		if err := rows.Scan(&l.ID, &l.InvoiceID, &l.Kind, &l.Source, &l.SourceRef,
			&l.Name, &l.Dosage, &l.Quantity, &l.UnitPrice, &l.Amount, &l.CreatedAt); err != nil {
			rows.Close()
			return err
		}
		if inv := byID[l.InvoiceID]; inv != nil {
			inv.Lines = append(inv.Lines, l)
		}
	}
	rows.Close()
	if rows.Err() != nil {
		return rows.Err()
	}

	rows, err = q.Query(ctx, `
		SELECT id, invoice_id, receipt_number, amount, method, clerk, paid_at
		FROM payment WHERE invoice_id = ANY($1) ORDER BY paid_at`, ids)
	if err != nil {
		return err
	}
	for rows.Next() {
		var p Payment
		if err := rows.Scan(&p.ID, &p.InvoiceID, &p.ReceiptNumber, &p.Amount, &p.Method, &p.Clerk, &p.PaidAt); err != nil {
			rows.Close()
			return err
		}
		if inv := byID[p.InvoiceID]; inv != nil {
			inv.Payments = append(inv.Payments, p)
		}
	}
	rows.Close()
	return rows.Err()
}

func (r *invoiceRepoPG) Update(ctx context.Context, inv *Invoice) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_record SET
			room_type=$2, room_rate=$3, room_days=$4,
			meals_per_day=$5, diet_days=$6, meal_cost=$7,
			supplies_fee=$8, procedure_fee=$9, nursing_fee=$10, misc_fee=$11,
			senior_citizen=$12, pwd=$13, philhealth_member=$14,
			coverage=$15, discount=$16, discharge_date=$17, updated_at=NOW()
		WHERE id = $1 AND finalized_at IS NULL`,
		inv.ID,
		inv.RoomType, inv.RoomRate, inv.RoomDays,
		inv.MealsPerDay, inv.DietDays, inv.MealCost,
		inv.SuppliesFee, inv.ProcedureFee, inv.NursingFee, inv.MiscFee,
		inv.SeniorCitizen, inv.PWD, inv.PhilHealthMember,
		inv.Coverage, inv.Discount, inv.DischargeDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.draftGateErr(ctx, inv.ID)
	}
	return nil
}

// draftGateErr disambiguates a zero-row draft-only update: the record
// is either gone or already finalized.
func (r *invoiceRepoPG) draftGateErr(ctx context.Context, id uuid.UUID) error {
	var finalized bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT finalized_at IS NOT NULL FROM billing_record WHERE id = $1`, id).Scan(&finalized)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if finalized {
		return ErrAlreadyFinalized
	}
	return ErrNotFound
}

func (r *invoiceRepoPG) Delete(ctx context.Context, id uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		// The lock serializes against concurrent payments; deletion is
		// gated on the ledger alone.
		var one int
		err := q.QueryRow(ctx,
			`SELECT 1 FROM billing_record WHERE id = $1 FOR UPDATE`, id).Scan(&one)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var payments int
		if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM payment WHERE invoice_id = $1`, id).Scan(&payments); err != nil {
			return err
		}
		if payments > 0 {
			return ErrInvoiceHasPayments
		}

		if _, err := q.Exec(ctx, `DELETE FROM charge_line WHERE invoice_id = $1`, id); err != nil {
			return err
		}
		if _, err := q.Exec(ctx, `DELETE FROM professional_fee WHERE invoice_id = $1`, id); err != nil {
			return err
		}
		_, err = q.Exec(ctx, `DELETE FROM billing_record WHERE id = $1`, id)
		return err
	})
}

func (r *invoiceRepoPG) List(ctx context.Context, limit, offset int) ([]*Invoice, int, error) {
	return r.list(ctx, ``, nil, limit, offset)
}

func (r *invoiceRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Invoice, int, error) {
	return r.list(ctx, `WHERE patient_id = $1`, []interface{}{patientID}, limit, offset)
}

func (r *invoiceRepoPG) list(ctx context.Context, where string, args []interface{}, limit, offset int) ([]*Invoice, int, error) {
	q := r.conn(ctx)

	var total int
	if err := q.QueryRow(ctx, `SELECT COUNT(*) FROM billing_record `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	n := len(args)
	query := fmt.Sprintf(`SELECT %s FROM billing_record %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		invCols, where, n+1, n+2)
	rows, err := q.Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Invoice
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, inv)
	}
	if rows.Err() != nil {
		return nil, 0, rows.Err()
	}
	if err := r.loadAssociations(ctx, items); err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *invoiceRepoPG) AddProfessionalFee(ctx context.Context, fee *ProfessionalFee) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.lockDraft(ctx, fee.InvoiceID); err != nil {
			return err
		}
		return insertFee(ctx, r.conn(ctx), fee)
	})
}

func (r *invoiceRepoPG) AddChargeLine(ctx context.Context, line *ChargeLine) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		var finalized bool
		err := q.QueryRow(ctx,
			`SELECT finalized_at IS NOT NULL FROM billing_record WHERE id = $1 FOR UPDATE`, line.InvoiceID).Scan(&finalized)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if finalized && line.Kind != LineAdjustment {
			return ErrAlreadyFinalized
		}
		return insertLine(ctx, q, line)
	})
}

func (r *invoiceRepoPG) ReplaceSourceLines(ctx context.Context, invoiceID uuid.UUID, source string, lines []ChargeLine) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if err := r.lockDraft(ctx, invoiceID); err != nil {
			return err
		}
		q := r.conn(ctx)
		if _, err := q.Exec(ctx, `DELETE FROM charge_line WHERE invoice_id = $1 AND source = $2`, invoiceID, source); err != nil {
			return err
		}
		for i := range lines {
			lines[i].InvoiceID = invoiceID
			if err := insertLine(ctx, q, &lines[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

// lockDraft takes the row lock and fails unless the record is still a
// draft.
func (r *invoiceRepoPG) lockDraft(ctx context.Context, id uuid.UUID) error {
	var finalized bool
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT finalized_at IS NOT NULL FROM billing_record WHERE id = $1 FOR UPDATE`, id).Scan(&finalized)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if finalized {
		return ErrAlreadyFinalized
	}
	return nil
}

func (r *invoiceRepoPG) Finalize(ctx context.Context, id uuid.UUID, discount decimal.Decimal, dischargeDate time.Time) error {
	// Compare-and-set on finalized_at. Two concurrent finalizes race on
	// the WHERE clause; the loser sees zero rows.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE billing_record
		SET discount = $2, discharge_date = $3, finalized_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND finalized_at IS NULL`,
		id, discount, dischargeDate)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.draftGateErr(ctx, id)
	}
	return nil
}

func (r *invoiceRepoPG) AddPayment(ctx context.Context, p *Payment, allowExcess bool) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		q := r.conn(ctx)

		// Lock the record, then re-derive the balance inside the
		// transaction so concurrent payments serialize.
		var finalized bool
		err := q.QueryRow(ctx,
			`SELECT finalized_at IS NOT NULL FROM billing_record WHERE id = $1 FOR UPDATE`, p.InvoiceID).Scan(&finalized)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if !finalized {
			return ErrNotFinalized
		}
		inv, err := r.GetByID(ctx, p.InvoiceID)
		if err != nil {
			return err
		}

		totals := ComputeTotals(inv)
		if !allowExcess && p.Amount.GreaterThan(totals.Balance) {
			return ErrPaymentExceedsBalance
		}

		var seq int64
		if err := q.QueryRow(ctx, `SELECT nextval('billing_receipt_seq')`).Scan(&seq); err != nil {
			return fmt.Errorf("assigning receipt number: %w", err)
		}
		p.ID = uuid.New()
		p.ReceiptNumber = fmt.Sprintf("OR-%06d", seq)
		if p.PaidAt.IsZero() {
			p.PaidAt = time.Now().UTC()
		}

		_, err = q.Exec(ctx, `
			INSERT INTO payment (id, invoice_id, receipt_number, amount, method, clerk, paid_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			p.ID, p.InvoiceID, p.ReceiptNumber, p.Amount, p.Method, p.Clerk, p.PaidAt)
		return err
	})
}
