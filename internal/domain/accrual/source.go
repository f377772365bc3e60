package accrual

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

// Candidate is an open admission that has a ledger, with the daily rate of
// the bed it currently occupies.
type Candidate struct {
	AdmissionID    uuid.UUID
	LedgerID       uuid.UUID
	BedID          uuid.UUID
	DailyRate      decimal.Decimal
	LastChargeDate *time.Time
}

// Source lists the ledgers the accrual job should visit in the tenant bound
// to ctx.
type Source interface {
	OpenLedgers(ctx context.Context) ([]Candidate, error)
	ForAdmission(ctx context.Context, admissionID uuid.UUID) (*Candidate, error)
}

type sourcePG struct {
	pool *pgxpool.Pool
}

func NewSource(pool *pgxpool.Pool) Source {
	return &sourcePG{pool: pool}
}

const candidateQuery = `
	SELECT a.id, l.id, a.bed_id, b.daily_rate, l.last_charge_date
	FROM admission a
	JOIN billing_ledger l ON l.admission_id = a.id
	JOIN bed b ON b.id = a.bed_id
	WHERE a.status <> 'DISCHARGED'
	  AND NOT EXISTS (SELECT 1 FROM discharge d WHERE d.admission_id = a.id)`

func (s *sourcePG) OpenLedgers(ctx context.Context) ([]Candidate, error) {
	rows, err := db.Conn(ctx, s.pool).Query(ctx, candidateQuery+` ORDER BY a.admission_date, a.id`)
	if err != nil {
		return nil, apperr.Internal("list accrual candidates", err)
	}
	defer rows.Close()

	var out []Candidate
	for rows.Next() {
		var c Candidate
		if err := rows.Scan(&c.AdmissionID, &c.LedgerID, &c.BedID, &c.DailyRate, &c.LastChargeDate); err != nil {
			return nil, apperr.Internal("scan accrual candidate", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sourcePG) ForAdmission(ctx context.Context, admissionID uuid.UUID) (*Candidate, error) {
	var c Candidate
	err := db.Conn(ctx, s.pool).QueryRow(ctx, candidateQuery+` AND a.id = $1`, admissionID).
		Scan(&c.AdmissionID, &c.LedgerID, &c.BedID, &c.DailyRate, &c.LastChargeDate)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("admission %s has no open ledger", admissionID)
	}
	if err != nil {
		return nil, apperr.Internal("load accrual candidate", err)
	}
	return &c, nil
}
