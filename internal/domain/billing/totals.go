package billing

import "github.com/shopspring/decimal"

// statutoryRate is the senior citizen / PWD discount under RA 9994 and
// RA 10754: 20% of the vatable hospital charges. The two discounts
// never stack.
var statutoryRate = decimal.NewFromFloat(0.20)

// RoomCharge returns room rate times days confined.
func RoomCharge(inv *Invoice) decimal.Decimal {
	return inv.RoomRate.Mul(decimal.NewFromInt(int64(inv.RoomDays)))
}

// DietaryCharge returns meal cost times meals per day times diet days.
func DietaryCharge(inv *Invoice) decimal.Decimal {
	return inv.MealCost.
		Mul(decimal.NewFromInt(int64(inv.MealsPerDay))).
		Mul(decimal.NewFromInt(int64(inv.DietDays)))
}

func sumFees(fees []ProfessionalFee) decimal.Decimal {
	total := decimal.Zero
	for _, f := range fees {
		total = total.Add(f.Amount)
	}
	return total
}

func sumLines(lines []ChargeLine, kinds ...string) decimal.Decimal {
	want := make(map[string]bool, len(kinds))
	for _, k := range kinds {
		want[k] = true
	}
	total := decimal.Zero
	for _, l := range lines {
		if want[l.Kind] {
			total = total.Add(l.Amount)
		}
	}
	return total
}

// VatableSubtotal is the base of the statutory discount: room charges,
// medicines, and diagnostics. Professional fees, dietary and the flat
// service fees are outside it.
func VatableSubtotal(inv *Invoice) decimal.Decimal {
	return RoomCharge(inv).
		Add(sumLines(inv.Lines, LineMedicine)).
		Add(sumLines(inv.Lines, LineDiagnostic))
}

// StatutoryDiscount computes the senior/PWD discount for the record's
// current charges. Zero when neither flag is set.
func StatutoryDiscount(inv *Invoice) decimal.Decimal {
	if !inv.SeniorCitizen && !inv.PWD {
		return decimal.Zero
	}
	return VatableSubtotal(inv).Mul(statutoryRate)
}

// EffectiveDiscount is the discount a draft carries right now: the
// statutory discount when either flag is set, otherwise whatever the
// clerk entered manually (zero by default). The flags always win over
// a manual amount.
func EffectiveDiscount(inv *Invoice) decimal.Decimal {
	if inv.SeniorCitizen || inv.PWD {
		return StatutoryDiscount(inv)
	}
	return inv.Discount
}

// AmountPaid sums the payment ledger.
func AmountPaid(inv *Invoice) decimal.Decimal {
	total := decimal.Zero
	for _, p := range inv.Payments {
		total = total.Add(p.Amount)
	}
	return total
}

// PaymentStatus derives the ledger status from net payable and the sum
// of payments. A record with nothing owed counts as paid even before
// any money moves.
func PaymentStatus(netPayable, amountPaid decimal.Decimal) string {
	if netPayable.Sub(amountPaid).LessThanOrEqual(decimal.Zero) {
		return StatusPaid
	}
	if amountPaid.IsZero() {
		return StatusPending
	}
	return StatusPartial
}

// ComputeTotals derives the full financial state of a record. Drafts
// recompute the discount from the current charges; finalized records
// use the frozen value.
func ComputeTotals(inv *Invoice) Totals {
	room := RoomCharge(inv)
	dietary := DietaryCharge(inv)
	fees := sumFees(inv.Fees)
	meds := sumLines(inv.Lines, LineMedicine)
	diags := sumLines(inv.Lines, LineDiagnostic)
	other := inv.SuppliesFee.
		Add(inv.ProcedureFee).
		Add(inv.NursingFee).
		Add(inv.MiscFee).
		Add(sumLines(inv.Lines, LineManual, LineAdjustment))

	subtotal := room.Add(dietary).Add(fees).Add(meds).Add(diags).Add(other)

	discount := inv.Discount
	if !inv.Finalized() {
		discount = EffectiveDiscount(inv)
	}

	net := subtotal.Sub(discount).Sub(inv.Coverage)
	if net.IsNegative() {
		net = decimal.Zero
	}

	paid := AmountPaid(inv)
	balance := net.Sub(paid)

	return Totals{
		RoomCharge:        room,
		DietaryCharge:     dietary,
		ProfessionalFees:  fees,
		MedicineCharges:   meds,
		DiagnosticCharges: diags,
		OtherCharges:      other,
		Subtotal:          subtotal,
		Discount:          discount,
		Coverage:          inv.Coverage,
		NetPayable:        net,
		AmountPaid:        paid,
		Balance:           balance,
		Status:            PaymentStatus(net, paid),
	}
}
