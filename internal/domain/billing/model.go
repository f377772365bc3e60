package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeCategory names one of the ledger's charge accumulators.
type ChargeCategory string

const (
	ChargeBed           ChargeCategory = "BED"
	ChargeRoom          ChargeCategory = "ROOM"
	ChargeICU           ChargeCategory = "ICU"
	ChargeNursing       ChargeCategory = "NURSING"
	ChargeDoctor        ChargeCategory = "DOCTOR"
	ChargeConsultation  ChargeCategory = "CONSULTATION"
	ChargeProcedure     ChargeCategory = "PROCEDURE"
	ChargeSurgery       ChargeCategory = "SURGERY"
	ChargeLab           ChargeCategory = "LAB"
	ChargeRadiology     ChargeCategory = "RADIOLOGY"
	ChargePathology     ChargeCategory = "PATHOLOGY"
	ChargeMedicine      ChargeCategory = "MEDICINE"
	ChargeInjection     ChargeCategory = "INJECTION"
	ChargeEquipment     ChargeCategory = "EQUIPMENT"
	ChargeAmbulance     ChargeCategory = "AMBULANCE"
	ChargeMiscellaneous ChargeCategory = "MISCELLANEOUS"
)

// Categories lists every charge category in ledger column order.
var Categories = []ChargeCategory{
	ChargeBed, ChargeRoom, ChargeICU, ChargeNursing, ChargeDoctor, ChargeConsultation,
	ChargeProcedure, ChargeSurgery, ChargeLab, ChargeRadiology, ChargePathology,
	ChargeMedicine, ChargeInjection, ChargeEquipment, ChargeAmbulance, ChargeMiscellaneous,
}

func (c ChargeCategory) Valid() bool {
	for _, k := range Categories {
		if k == c {
			return true
		}
	}
	return false
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "PENDING"
	PaymentPartial   PaymentStatus = "PARTIAL"
	PaymentCompleted PaymentStatus = "COMPLETED"
)

func (s PaymentStatus) Valid() bool {
	return s == PaymentPending || s == PaymentPartial || s == PaymentCompleted
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "CASH"
	MethodCard         PaymentMethod = "CARD"
	MethodUPI          PaymentMethod = "UPI"
	MethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	MethodCheque       PaymentMethod = "CHEQUE"
	MethodOnline       PaymentMethod = "ONLINE"
	MethodInsurance    PaymentMethod = "INSURANCE"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodUPI, MethodBankTransfer, MethodCheque, MethodOnline, MethodInsurance:
		return true
	}
	return false
}

// Ledger maps to billing_ledger. Subtotal, TotalAmount, BalanceAmount and
// PaymentStatus are derived by Recompute and never accepted from clients.
type Ledger struct {
	ID          uuid.UUID `db:"id" json:"id"`
	BillNumber  string    `db:"bill_number" json:"bill_number"`
	AdmissionID uuid.UUID `db:"admission_id" json:"admission_id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`

	BedCharges           decimal.Decimal `db:"bed_charges" json:"bed_charges"`
	RoomCharges          decimal.Decimal `db:"room_charges" json:"room_charges"`
	ICUCharges           decimal.Decimal `db:"icu_charges" json:"icu_charges"`
	NursingCharges       decimal.Decimal `db:"nursing_charges" json:"nursing_charges"`
	DoctorFees           decimal.Decimal `db:"doctor_fees" json:"doctor_fees"`
	ConsultationCharges  decimal.Decimal `db:"consultation_charges" json:"consultation_charges"`
	ProcedureCharges     decimal.Decimal `db:"procedure_charges" json:"procedure_charges"`
	SurgeryCharges       decimal.Decimal `db:"surgery_charges" json:"surgery_charges"`
	LabCharges           decimal.Decimal `db:"lab_charges" json:"lab_charges"`
	RadiologyCharges     decimal.Decimal `db:"radiology_charges" json:"radiology_charges"`
	PathologyCharges     decimal.Decimal `db:"pathology_charges" json:"pathology_charges"`
	MedicineCharges      decimal.Decimal `db:"medicine_charges" json:"medicine_charges"`
	InjectionCharges     decimal.Decimal `db:"injection_charges" json:"injection_charges"`
	EquipmentCharges     decimal.Decimal `db:"equipment_charges" json:"equipment_charges"`
	AmbulanceCharges     decimal.Decimal `db:"ambulance_charges" json:"ambulance_charges"`
	MiscellaneousCharges decimal.Decimal `db:"miscellaneous_charges" json:"miscellaneous_charges"`

	Discount          decimal.Decimal `db:"discount" json:"discount"`
	Tax               decimal.Decimal `db:"tax" json:"tax"`
	Subtotal          decimal.Decimal `db:"subtotal" json:"subtotal"`
	TotalAmount       decimal.Decimal `db:"total_amount" json:"total_amount"`
	PaidAmount        decimal.Decimal `db:"paid_amount" json:"paid_amount"`
	BalanceAmount     decimal.Decimal `db:"balance_amount" json:"balance_amount"`
	InsuranceClaimed  decimal.Decimal `db:"insurance_claimed" json:"insurance_claimed"`
	InsuranceApproved decimal.Decimal `db:"insurance_approved" json:"insurance_approved"`

	DayCount       int            `db:"day_count" json:"day_count"`
	LastChargeDate *time.Time     `db:"last_charge_date" json:"last_charge_date,omitempty"`
	PaymentStatus  PaymentStatus  `db:"payment_status" json:"payment_status"`
	PaymentMethod  *PaymentMethod `db:"payment_method" json:"payment_method,omitempty"`
	TransactionID  *string        `db:"transaction_id" json:"transaction_id,omitempty"`
	PaymentDate    *time.Time     `db:"payment_date" json:"payment_date,omitempty"`
	Notes          string         `db:"notes" json:"notes"`
	Version        int            `db:"version" json:"version"`
	CreatedAt      time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time      `db:"updated_at" json:"updated_at"`
}

// accumulator returns the field backing category c.
func (l *Ledger) accumulator(c ChargeCategory) *decimal.Decimal {
	switch c {
	case ChargeBed:
		return &l.BedCharges
	case ChargeRoom:
		return &l.RoomCharges
	case ChargeICU:
		return &l.ICUCharges
	case ChargeNursing:
		return &l.NursingCharges
	case ChargeDoctor:
		return &l.DoctorFees
	case ChargeConsultation:
		return &l.ConsultationCharges
	case ChargeProcedure:
		return &l.ProcedureCharges
	case ChargeSurgery:
		return &l.SurgeryCharges
	case ChargeLab:
		return &l.LabCharges
	case ChargeRadiology:
		return &l.RadiologyCharges
	case ChargePathology:
		return &l.PathologyCharges
	case ChargeMedicine:
		return &l.MedicineCharges
	case ChargeInjection:
		return &l.InjectionCharges
	case ChargeEquipment:
		return &l.EquipmentCharges
	case ChargeAmbulance:
		return &l.AmbulanceCharges
	case ChargeMiscellaneous:
		return &l.MiscellaneousCharges
	}
	panic(fmt.Sprintf("billing: unknown charge category %q", c))
}

// Charge returns the accumulated amount for c.
func (l *Ledger) Charge(c ChargeCategory) decimal.Decimal {
	return *l.accumulator(c)
}

func (l *Ledger) addCharge(c ChargeCategory, amount decimal.Decimal) {
	acc := l.accumulator(c)
	*acc = acc.Add(amount)
}

// Recompute derives subtotal, total, balance and payment status from the
// accumulators:
//
//	total   = subtotal + tax - discount
//	balance = max(0, total - paid - insurance_approved)
func (l *Ledger) Recompute() {
	sub := decimal.Zero
	for _, c := range Categories {
		sub = sub.Add(l.Charge(c))
	}
	l.Subtotal = sub
	l.TotalAmount = sub.Add(l.Tax).Sub(l.Discount)

	bal := l.TotalAmount.Sub(l.PaidAmount).Sub(l.InsuranceApproved)
	if bal.IsNegative() {
		bal = decimal.Zero
	}
	l.BalanceAmount = bal

	switch {
	case !bal.IsPositive():
		l.PaymentStatus = PaymentCompleted
	case l.PaidAmount.IsPositive() || l.InsuranceApproved.IsPositive():
		l.PaymentStatus = PaymentPartial
	default:
		l.PaymentStatus = PaymentPending
	}
}

// Payable is how much more the patient may pay before the paid total would
// exceed the ledger total. Insurance does not reduce it.
func (l *Ledger) Payable() decimal.Decimal {
	return decimal.Max(l.TotalAmount.Sub(l.PaidAmount), decimal.Zero)
}

func (l *Ledger) appendNote(at time.Time, line string) {
	entry := fmt.Sprintf("[%s] %s", at.UTC().Format(time.RFC3339), line)
	if l.Notes == "" {
		l.Notes = entry
		return
	}
	l.Notes += "\n" + entry
}

// Payment is one row of a ledger's payment history.
type Payment struct {
	ID            uuid.UUID       `db:"id" json:"id"`
	LedgerID      uuid.UUID       `db:"ledger_id" json:"ledger_id"`
	Amount        decimal.Decimal `db:"amount" json:"amount"`
	Method        PaymentMethod   `db:"method" json:"method"`
	TransactionID *string         `db:"transaction_id" json:"transaction_id,omitempty"`
	ReceivedBy    *string         `db:"received_by" json:"received_by,omitempty"`
	PaidAt        time.Time       `db:"paid_at" json:"paid_at"`
}

// LedgerFilter narrows ledger listings, summaries and exports. CreatedFrom
// is inclusive, CreatedTo exclusive.
type LedgerFilter struct {
	Status       []PaymentStatus
	WardID       *uuid.UUID
	DepartmentID *uuid.UUID
	PatientID    *uuid.UUID
	CreatedFrom  *time.Time
	CreatedTo    *time.Time
}

// Summary aggregates a set of ledgers.
type Summary struct {
	Count             int             `json:"count"`
	TotalAmount       decimal.Decimal `json:"total_amount"`
	PaidAmount        decimal.Decimal `json:"paid_amount"`
	InsuranceApproved decimal.Decimal `json:"insurance_approved"`
	BalanceAmount     decimal.Decimal `json:"balance_amount"`
}

// civilDate truncates t to its calendar date in t's location and returns it
// as midnight UTC, the form DATE columns round-trip through pgx.
func civilDate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// sameDay compares a stored DATE with the calendar day of today.
func sameDay(stored *time.Time, today time.Time) bool {
	if stored == nil {
		return false
	}
	return civilDate(*stored).Equal(civilDate(today))
}

// daysBetween counts whole calendar days from a to b.
func daysBetween(a, b time.Time) int {
	return int(civilDate(b).Sub(civilDate(a)).Hours() / 24)
}

// isCents reports whether d has at most two decimal places.
func isCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// ChargedOn reports whether a ledger whose last accrual date is last has
// already been charged for day.
func ChargedOn(last *time.Time, day time.Time) bool {
	return sameDay(last, day)
}
