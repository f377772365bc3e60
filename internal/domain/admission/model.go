package admission

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusStable           Status = "STABLE"
	StatusCritical         Status = "CRITICAL"
	StatusSerious          Status = "SERIOUS"
	StatusImproving        Status = "IMPROVING"
	StatusUnderObservation Status = "UNDER_OBSERVATION"
	StatusDischarged       Status = "DISCHARGED"
)

var validStatuses = map[Status]bool{
	StatusStable: true, StatusCritical: true, StatusSerious: true,
	StatusImproving: true, StatusUnderObservation: true, StatusDischarged: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool { return s == StatusDischarged }

type DischargeType string

const (
	DischargeNormal    DischargeType = "NORMAL"
	DischargeLAMA      DischargeType = "LAMA"
	DischargeReferred  DischargeType = "REFERRED"
	DischargeDeceased  DischargeType = "DECEASED"
	DischargeAbsconded DischargeType = "ABSCONDED"
)

func (t DischargeType) Valid() bool {
	switch t {
	case DischargeNormal, DischargeLAMA, DischargeReferred, DischargeDeceased, DischargeAbsconded:
		return true
	}
	return false
}

// Admission maps to the admission table. WardID mirrors the ward of BedID and
// follows the patient on transfer.
type Admission struct {
	ID                    uuid.UUID  `db:"id" json:"id"`
	AdmissionNumber       string     `db:"admission_number" json:"admission_number"`
	PatientID             uuid.UUID  `db:"patient_id" json:"patient_id"`
	DoctorID              uuid.UUID  `db:"doctor_id" json:"doctor_id"`
	BedID                 uuid.UUID  `db:"bed_id" json:"bed_id"`
	WardID                uuid.UUID  `db:"ward_id" json:"ward_id"`
	AdmissionDate         time.Time  `db:"admission_date" json:"admission_date"`
	Status                Status     `db:"status" json:"status"`
	Reason                *string    `db:"reason" json:"reason,omitempty"`
	Diagnosis             *string    `db:"diagnosis" json:"diagnosis,omitempty"`
	Notes                 *string    `db:"notes" json:"notes,omitempty"`
	ExpectedDischargeDate *time.Time `db:"expected_discharge_date" json:"expected_discharge_date,omitempty"`
	DischargeDate         *time.Time `db:"discharge_date" json:"discharge_date,omitempty"`
	Version               int        `db:"version" json:"version"`
	CreatedAt             time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Vitals is the first set of observations taken on admission.
type Vitals struct {
	ID              uuid.UUID        `db:"id" json:"id"`
	AdmissionID     uuid.UUID        `db:"admission_id" json:"admission_id"`
	Temperature     *decimal.Decimal `db:"temperature" json:"temperature,omitempty"`
	PulseRate       *int             `db:"pulse_rate" json:"pulse_rate,omitempty"`
	RespiratoryRate *int             `db:"respiratory_rate" json:"respiratory_rate,omitempty"`
	BPSystolic      *int             `db:"bp_systolic" json:"bp_systolic,omitempty"`
	BPDiastolic     *int             `db:"bp_diastolic" json:"bp_diastolic,omitempty"`
	SpO2            *int             `db:"spo2" json:"spo2,omitempty"`
	Notes           *string          `db:"notes" json:"notes,omitempty"`
	RecordedAt      time.Time        `db:"recorded_at" json:"recorded_at"`
}

// Transfer is an append-only bed move record.
type Transfer struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AdmissionID   uuid.UUID `db:"admission_id" json:"admission_id"`
	FromBedID     uuid.UUID `db:"from_bed_id" json:"from_bed_id"`
	ToBedID       uuid.UUID `db:"to_bed_id" json:"to_bed_id"`
	FromWardID    uuid.UUID `db:"from_ward_id" json:"from_ward_id"`
	ToWardID      uuid.UUID `db:"to_ward_id" json:"to_ward_id"`
	Reason        *string   `db:"reason" json:"reason,omitempty"`
	TransferredBy *string   `db:"transferred_by" json:"transferred_by,omitempty"`
	TransferredAt time.Time `db:"transferred_at" json:"transferred_at"`
}

type Discharge struct {
	ID             uuid.UUID     `db:"id" json:"id"`
	AdmissionID    uuid.UUID     `db:"admission_id" json:"admission_id"`
	DischargeDate  time.Time     `db:"discharge_date" json:"discharge_date"`
	DischargeType  DischargeType `db:"discharge_type" json:"discharge_type"`
	FinalDiagnosis *string       `db:"final_diagnosis" json:"final_diagnosis,omitempty"`
	Summary        *string       `db:"summary" json:"summary,omitempty"`
	Medications    *string       `db:"medications" json:"medications,omitempty"`
	Instructions   *string       `db:"instructions" json:"instructions,omitempty"`
	FollowUpDate   *time.Time    `db:"follow_up_date" json:"follow_up_date,omitempty"`
	CreatedAt      time.Time     `db:"created_at" json:"created_at"`
}

// Filter narrows admission listings. AdmittedFrom is inclusive, AdmittedTo
// exclusive.
type Filter struct {
	PatientID    *uuid.UUID
	DoctorID     *uuid.UUID
	WardID       *uuid.UUID
	Status       *Status
	AdmittedFrom *time.Time
	AdmittedTo   *time.Time
}

// Matches applies f to a in memory.
func (f Filter) Matches(a *Admission) bool {
	switch {
	case f.PatientID != nil && a.PatientID != *f.PatientID:
		return false
	case f.DoctorID != nil && a.DoctorID != *f.DoctorID:
		return false
	case f.WardID != nil && a.WardID != *f.WardID:
		return false
	case f.Status != nil && a.Status != *f.Status:
		return false
	case f.AdmittedFrom != nil && a.AdmissionDate.Before(*f.AdmittedFrom):
		return false
	case f.AdmittedTo != nil && !a.AdmissionDate.Before(*f.AdmittedTo):
		return false
	}
	return true
}
