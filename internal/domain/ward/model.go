package ward

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WardType string

const (
	WardGeneral     WardType = "GENERAL"
	WardICU         WardType = "ICU"
	WardNICU        WardType = "NICU"
	WardPICU        WardType = "PICU"
	WardPrivate     WardType = "PRIVATE"
	WardSemiPrivate WardType = "SEMI_PRIVATE"
	WardEmergency   WardType = "EMERGENCY"
	WardMaternity   WardType = "MATERNITY"
	WardIsolation   WardType = "ISOLATION"
)

var validWardTypes = map[WardType]bool{
	WardGeneral: true, WardICU: true, WardNICU: true, WardPICU: true,
	WardPrivate: true, WardSemiPrivate: true, WardEmergency: true,
	WardMaternity: true, WardIsolation: true,
}

func (t WardType) Valid() bool { return validWardTypes[t] }

type BedType string

const (
	BedStandard   BedType = "STANDARD"
	BedICU        BedType = "ICU"
	BedVentilator BedType = "VENTILATOR"
	BedPediatric  BedType = "PEDIATRIC"
	BedIsolation  BedType = "ISOLATION"
	BedElectric   BedType = "ELECTRIC"
)

var validBedTypes = map[BedType]bool{
	BedStandard: true, BedICU: true, BedVentilator: true,
	BedPediatric: true, BedIsolation: true, BedElectric: true,
}

func (t BedType) Valid() bool { return validBedTypes[t] }

// Ward maps to the ward table. TotalBeds and AvailableBeds are derived from
// the bed rows and written only by the Pool.
type Ward struct {
	ID               uuid.UUID       `db:"id" json:"id"`
	Code             string          `db:"code" json:"code"`
	Name             string          `db:"name" json:"name"`
	WardType         WardType        `db:"ward_type" json:"ward_type"`
	DepartmentID     uuid.UUID       `db:"department_id" json:"department_id"`
	Floor            *string         `db:"floor" json:"floor,omitempty"`
	DefaultBedType   BedType         `db:"default_bed_type" json:"default_bed_type"`
	DefaultDailyRate decimal.Decimal `db:"default_daily_rate" json:"default_daily_rate"`
	TotalBeds        int             `db:"total_beds" json:"total_beds"`
	AvailableBeds    int             `db:"available_beds" json:"available_beds"`
	IsActive         bool            `db:"is_active" json:"is_active"`
	Version          int             `db:"version" json:"version"`
	CreatedAt        time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time       `db:"updated_at" json:"updated_at"`
}

// Bed maps to the bed table.
type Bed struct {
	ID         uuid.UUID       `db:"id" json:"id"`
	WardID     uuid.UUID       `db:"ward_id" json:"ward_id"`
	Code       string          `db:"code" json:"code"`
	BedType    BedType         `db:"bed_type" json:"bed_type"`
	DailyRate  decimal.Decimal `db:"daily_rate" json:"daily_rate"`
	IsOccupied bool            `db:"is_occupied" json:"is_occupied"`
	IsActive   bool            `db:"is_active" json:"is_active"`
	Version    int             `db:"version" json:"version"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}

// Available reports whether the bed can take a new patient.
func (b *Bed) Available() bool {
	return b.IsActive && !b.IsOccupied
}

// Availability is the per-ward occupancy summary.
type Availability struct {
	WardID        uuid.UUID `json:"ward_id"`
	WardCode      string    `json:"ward_code"`
	WardName      string    `json:"ward_name"`
	WardType      WardType  `json:"ward_type"`
	DepartmentID  uuid.UUID `json:"department_id"`
	TotalBeds     int       `json:"total_beds"`
	AvailableBeds int       `json:"available_beds"`
	OccupiedBeds  int       `json:"occupied_beds"`
	InactiveBeds  int       `json:"inactive_beds"`
}

// BedCounts is the authoritative tally of a ward's bed rows.
type BedCounts struct {
	Total     int
	Available int
	Occupied  int
}

// Move is the outcome of Pool.Transfer. The admission module persists it as
// a bed transfer record.
type Move struct {
	AdmissionID uuid.UUID `json:"admission_id"`
	FromBedID   uuid.UUID `json:"from_bed_id"`
	ToBedID     uuid.UUID `json:"to_bed_id"`
	FromWardID  uuid.UUID `json:"from_ward_id"`
	ToWardID    uuid.UUID `json:"to_ward_id"`
	ToBed       *Bed      `json:"-"`
}

// Drift records a ward whose stored counters disagreed with its beds.
type Drift struct {
	Tenant            string    `json:"tenant,omitempty"`
	WardID            uuid.UUID `json:"ward_id"`
	WardCode          string    `json:"ward_code"`
	RecordedTotal     int       `json:"recorded_total"`
	ActualTotal       int       `json:"actual_total"`
	RecordedAvailable int       `json:"recorded_available"`
	ActualAvailable   int       `json:"actual_available"`
}

// WardFilter narrows ward listings.
type WardFilter struct {
	DepartmentID *uuid.UUID
	WardType     *WardType
	Active       *bool
}

// BedFilter narrows free-bed searches.
type BedFilter struct {
	WardID       *uuid.UUID
	DepartmentID *uuid.UUID
	BedType      *BedType
}

// BedCode renders the n-th bed code of a ward, e.g. ICU-07.
func BedCode(wardCode string, n int) string {
	return fmt.Sprintf("%s-%02d", wardCode, n)
}

// bedSeq extracts n from a code produced by BedCode, or 0 when the code was
// assigned by hand.
func bedSeq(wardCode, code string) int {
	suffix, ok := strings.CutPrefix(code, wardCode+"-")
	if !ok {
		return 0
	}
	n, err := strconv.Atoi(suffix)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
