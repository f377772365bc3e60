package billing

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

type claimRepoPG struct {
	pool *pgxpool.Pool
}

func NewClaimRepo(pool *pgxpool.Pool) ClaimRepository {
	return &claimRepoPG{pool: pool}
}

func (r *claimRepoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const claimCols = `id, claim_number, admission_id, ledger_id, patient_id, insurer_name,
	policy_number, claimed_amount, approved_amount, rejected_amount, settled_amount, status,
	rejection_reason, submitted_at, reviewed_at, decided_at, notes, version, created_at, updated_at`

var claimColList = []interface{}{"id", "claim_number", "admission_id", "ledger_id", "patient_id",
	"insurer_name", "policy_number", "claimed_amount", "approved_amount", "rejected_amount",
	"settled_amount", "status", "rejection_reason", "submitted_at", "reviewed_at", "decided_at",
	"notes", "version", "created_at", "updated_at"}

func scanClaim(row pgx.Row) (*Claim, error) {
	var c Claim
	err := row.Scan(&c.ID, &c.ClaimNumber, &c.AdmissionID, &c.LedgerID, &c.PatientID,
		&c.InsurerName, &c.PolicyNumber, &c.ClaimedAmount, &c.ApprovedAmount, &c.RejectedAmount,
		&c.SettledAmount, &c.Status, &c.RejectionReason, &c.SubmittedAt, &c.ReviewedAt,
		&c.DecidedAt, &c.Notes, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func claimErr(err error, id uuid.UUID) error {
	if db.IsNoRows(err) {
		return apperr.NotFound("claim %s not found", id)
	}
	return apperr.Internal("load claim", err)
}

func (r *claimRepoPG) Create(ctx context.Context, c *Claim) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO insurance_claim (id, claim_number, admission_id, ledger_id, patient_id,
			insurer_name, policy_number, claimed_amount, status, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING version, created_at, updated_at`,
		c.ID, c.ClaimNumber, c.AdmissionID, c.LedgerID, c.PatientID,
		c.InsurerName, c.PolicyNumber, c.ClaimedAmount, c.Status, c.Notes,
	).Scan(&c.Version, &c.CreatedAt, &c.UpdatedAt)
	if db.IsUniqueViolation(err, "insurance_claim_claim_number_key") {
		return apperr.Conflict("claim number %s already exists", c.ClaimNumber)
	}
	if err != nil {
		return apperr.Internal("insert claim", err)
	}
	return nil
}

func (r *claimRepoPG) Get(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claim WHERE id = $1`, id))
	if err != nil {
		return nil, claimErr(err, id)
	}
	return c, nil
}

func (r *claimRepoPG) Lock(ctx context.Context, id uuid.UUID) (*Claim, error) {
	c, err := scanClaim(r.conn(ctx).QueryRow(ctx, `SELECT `+claimCols+` FROM insurance_claim WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, claimErr(err, id)
	}
	return c, nil
}

func (r *claimRepoPG) Update(ctx context.Context, c *Claim) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE insurance_claim SET insurer_name=$3, policy_number=$4, claimed_amount=$5,
			approved_amount=$6, rejected_amount=$7, settled_amount=$8, status=$9,
			rejection_reason=$10, submitted_at=$11, reviewed_at=$12, decided_at=$13, notes=$14,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		c.ID, c.Version, c.InsurerName, c.PolicyNumber, c.ClaimedAmount,
		c.ApprovedAmount, c.RejectedAmount, c.SettledAmount, c.Status,
		c.RejectionReason, c.SubmittedAt, c.ReviewedAt, c.DecidedAt, c.Notes,
	).Scan(&c.Version, &c.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("claim %s was modified concurrently", c.ID)
	}
	if err != nil {
		return apperr.Internal("update claim", err)
	}
	return nil
}

func (r *claimRepoPG) List(ctx context.Context, f ClaimFilter, limit, offset int) ([]*Claim, int, error) {
	ds := db.From("insurance_claim").Select(claimColList...)
	if f.AdmissionID != nil {
		ds = ds.Where(goqu.C("admission_id").Eq(*f.AdmissionID))
	}
	if f.LedgerID != nil {
		ds = ds.Where(goqu.C("ledger_id").Eq(*f.LedgerID))
	}
	if f.Status != nil {
		ds = ds.Where(goqu.C("status").Eq(string(*f.Status)))
	}

	countSQL, countArgs, err := db.CountOf(ds).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build claim count", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count claims", err)
	}

	sql, args, err := ds.Order(goqu.C("created_at").Desc(), goqu.C("id").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build claim list", err)
	}
	out, err := r.query(ctx, sql, args...)
	return out, total, err
}

func (r *claimRepoPG) ListByAdmission(ctx context.Context, admissionID uuid.UUID) ([]*Claim, error) {
	return r.query(ctx, `SELECT `+claimCols+` FROM insurance_claim
		WHERE admission_id = $1 ORDER BY created_at, id`, admissionID)
}

func (r *claimRepoPG) query(ctx context.Context, sql string, args ...interface{}) ([]*Claim, error) {
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, apperr.Internal("list claims", err)
	}
	defer rows.Close()
	var out []*Claim
	for rows.Next() {
		c, err := scanClaim(rows)
		if err != nil {
			return nil, apperr.Internal("scan claim", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
