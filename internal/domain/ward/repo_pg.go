package ward

import (
	"context"

	"github.com/doug-martin/goqu/v9"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

type repoPG struct {
	pool *pgxpool.Pool
}

func NewRepo(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const wardCols = `id, code, name, ward_type, department_id, floor, default_bed_type, default_daily_rate,
	total_beds, available_beds, is_active, version, created_at, updated_at`

var wardColList = []interface{}{"id", "code", "name", "ward_type", "department_id", "floor",
	"default_bed_type", "default_daily_rate", "total_beds", "available_beds", "is_active",
	"version", "created_at", "updated_at"}

const bedCols = `id, ward_id, code, bed_type, daily_rate, is_occupied, is_active, version, created_at, updated_at`

func scanWard(row pgx.Row) (*Ward, error) {
	var w Ward
	err := row.Scan(&w.ID, &w.Code, &w.Name, &w.WardType, &w.DepartmentID, &w.Floor,
		&w.DefaultBedType, &w.DefaultDailyRate, &w.TotalBeds, &w.AvailableBeds,
		&w.IsActive, &w.Version, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

func scanBed(row pgx.Row) (*Bed, error) {
	var b Bed
	err := row.Scan(&b.ID, &b.WardID, &b.Code, &b.BedType, &b.DailyRate,
		&b.IsOccupied, &b.IsActive, &b.Version, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func wardErr(err error, id uuid.UUID) error {
	if db.IsNoRows(err) {
		return apperr.NotFound("ward %s not found", id)
	}
	return apperr.Internal("load ward", err)
}

func bedErr(err error, id uuid.UUID) error {
	if db.IsNoRows(err) {
		return apperr.NotFound("bed %s not found", id)
	}
	return apperr.Internal("load bed", err)
}

func (r *repoPG) CreateWard(ctx context.Context, w *Ward) error {
	w.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO ward (id, code, name, ward_type, department_id, floor, default_bed_type,
			default_daily_rate, total_beds, available_beds, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING version, created_at, updated_at`,
		w.ID, w.Code, w.Name, w.WardType, w.DepartmentID, w.Floor, w.DefaultBedType,
		w.DefaultDailyRate, w.TotalBeds, w.AvailableBeds, w.IsActive,
	).Scan(&w.Version, &w.CreatedAt, &w.UpdatedAt)
	if db.IsUniqueViolation(err, "ward_code_key") {
		return apperr.Conflict("ward code %s already exists", w.Code)
	}
	if err != nil {
		return apperr.Internal("insert ward", err)
	}
	return nil
}

func (r *repoPG) GetWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1`, id))
	if err != nil {
		return nil, wardErr(err, id)
	}
	return w, nil
}

func (r *repoPG) LockWard(ctx context.Context, id uuid.UUID) (*Ward, error) {
	w, err := scanWard(r.conn(ctx).QueryRow(ctx, `SELECT `+wardCols+` FROM ward WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, wardErr(err, id)
	}
	return w, nil
}

// UpdateWard writes the descriptive columns guarded by the version the
// caller read. Counters are left to SetWardCounters.
func (r *repoPG) UpdateWard(ctx context.Context, w *Ward) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE ward SET
			name=$3, ward_type=$4, department_id=$5, floor=$6, default_bed_type=$7,
			default_daily_rate=$8, is_active=$9, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		w.ID, w.Version, w.Name, w.WardType, w.DepartmentID, w.Floor, w.DefaultBedType,
		w.DefaultDailyRate, w.IsActive,
	).Scan(&w.Version, &w.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("ward %s was modified concurrently", w.ID)
	}
	if err != nil {
		return apperr.Internal("update ward", err)
	}
	return nil
}

func (r *repoPG) DeleteWard(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM ward WHERE id = $1`, id)
	if err != nil {
		return apperr.Internal("delete ward", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("ward %s not found", id)
	}
	return nil
}

func wardQuery(f WardFilter) *goqu.SelectDataset {
	ds := db.From("ward").Select(wardColList...)
	if f.DepartmentID != nil {
		ds = ds.Where(goqu.C("department_id").Eq(*f.DepartmentID))
	}
	if f.WardType != nil {
		ds = ds.Where(goqu.C("ward_type").Eq(string(*f.WardType)))
	}
	if f.Active != nil {
		ds = ds.Where(goqu.C("is_active").Eq(*f.Active))
	}
	return ds
}

func (r *repoPG) ListWards(ctx context.Context, f WardFilter, limit, offset int) ([]*Ward, int, error) {
	ds := wardQuery(f)

	countSQL, countArgs, err := db.CountOf(ds).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build ward count", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count wards", err)
	}

	sql, args, err := ds.Order(goqu.C("code").Asc()).Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build ward list", err)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list wards", err)
	}
	defer rows.Close()

	var wards []*Ward
	for rows.Next() {
		w, err := scanWard(rows)
		if err != nil {
			return nil, 0, apperr.Internal("scan ward", err)
		}
		wards = append(wards, w)
	}
	return wards, total, rows.Err()
}

func (r *repoPG) ListWardIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT id FROM ward ORDER BY id`)
	if err != nil {
		return nil, apperr.Internal("list ward ids", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Internal("scan ward id", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *repoPG) SetWardCounters(ctx context.Context, wardID uuid.UUID, total, available int) error {
	_, err := r.conn(ctx).Exec(ctx, `
		UPDATE ward SET total_beds=$2, available_beds=$3, version=version+1, updated_at=NOW()
		WHERE id = $1`, wardID, total, available)
	if err != nil {
		return apperr.Internal("update ward counters", err)
	}
	return nil
}

func (r *repoPG) CreateBed(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bed (id, ward_id, code, bed_type, daily_rate, is_occupied, is_active)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		RETURNING version, created_at, updated_at`,
		b.ID, b.WardID, b.Code, b.BedType, b.DailyRate, b.IsOccupied, b.IsActive,
	).Scan(&b.Version, &b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err, "bed_ward_code_key") {
		return apperr.Conflict("bed code %s already exists in ward", b.Code)
	}
	if err != nil {
		return apperr.Internal("insert bed", err)
	}
	return nil
}

func (r *repoPG) GetBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1`, id))
	if err != nil {
		return nil, bedErr(err, id)
	}
	return b, nil
}

func (r *repoPG) LockBed(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM bed WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, bedErr(err, id)
	}
	return b, nil
}

// UpdateBed writes descriptive columns only; occupancy goes through
// MarkOccupied/MarkFree.
func (r *repoPG) UpdateBed(ctx context.Context, b *Bed) error {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE bed SET code=$3, bed_type=$4, daily_rate=$5, is_active=$6,
			version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $2
		RETURNING version, updated_at`,
		b.ID, b.Version, b.Code, b.BedType, b.DailyRate, b.IsActive,
	).Scan(&b.Version, &b.UpdatedAt)
	if db.IsNoRows(err) {
		return apperr.Conflict("bed %s was modified concurrently", b.ID)
	}
	if db.IsUniqueViolation(err, "bed_ward_code_key") {
		return apperr.Conflict("bed code %s already exists in ward", b.Code)
	}
	if err != nil {
		return apperr.Internal("update bed", err)
	}
	return nil
}

func (r *repoPG) DeleteBed(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bed WHERE id = $1 AND NOT is_occupied`, id)
	if err != nil {
		return apperr.Internal("delete bed", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.InvalidState("bed %s is occupied or missing", id)
	}
	return nil
}

func (r *repoPG) ListBedsByWard(ctx context.Context, wardID uuid.UUID) ([]*Bed, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+bedCols+` FROM bed WHERE ward_id = $1 ORDER BY code`, wardID)
	if err != nil {
		return nil, apperr.Internal("list beds", err)
	}
	defer rows.Close()
	return collectBeds(rows)
}

func collectBeds(rows pgx.Rows) ([]*Bed, error) {
	var beds []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, apperr.Internal("scan bed", err)
		}
		beds = append(beds, b)
	}
	return beds, rows.Err()
}

func (r *repoPG) ListAvailableBeds(ctx context.Context, f BedFilter, limit, offset int) ([]*Bed, int, error) {
	ds := db.From(goqu.T("bed").As("b")).
		Join(goqu.T("ward").As("w"), goqu.On(goqu.I("w.id").Eq(goqu.I("b.ward_id")))).
		Select("b.id", "b.ward_id", "b.code", "b.bed_type", "b.daily_rate", "b.is_occupied",
			"b.is_active", "b.version", "b.created_at", "b.updated_at").
		Where(
			goqu.I("b.is_active").IsTrue(),
			goqu.I("b.is_occupied").IsFalse(),
			goqu.I("w.is_active").IsTrue(),
		)
	if f.WardID != nil {
		ds = ds.Where(goqu.I("b.ward_id").Eq(*f.WardID))
	}
	if f.DepartmentID != nil {
		ds = ds.Where(goqu.I("w.department_id").Eq(*f.DepartmentID))
	}
	if f.BedType != nil {
		ds = ds.Where(goqu.I("b.bed_type").Eq(string(*f.BedType)))
	}

	countSQL, countArgs, err := db.CountOf(ds).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build bed count", err)
	}
	var total int
	if err := r.conn(ctx).QueryRow(ctx, countSQL, countArgs...).Scan(&total); err != nil {
		return nil, 0, apperr.Internal("count available beds", err)
	}

	sql, args, err := ds.Order(goqu.I("w.code").Asc(), goqu.I("b.code").Asc()).
		Limit(uint(limit)).Offset(uint(offset)).ToSQL()
	if err != nil {
		return nil, 0, apperr.Internal("build bed list", err)
	}
	rows, err := r.conn(ctx).Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, apperr.Internal("list available beds", err)
	}
	defer rows.Close()
	beds, err := collectBeds(rows)
	return beds, total, err
}

func (r *repoPG) MarkOccupied(ctx context.Context, bedID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed SET is_occupied = true, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_occupied = false AND is_active = true`, bedID)
	if err != nil {
		return false, apperr.Internal("occupy bed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) MarkFree(ctx context.Context, bedID uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE bed SET is_occupied = false, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND is_occupied = true`, bedID)
	if err != nil {
		return false, apperr.Internal("free bed", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) CountBeds(ctx context.Context, wardID uuid.UUID) (BedCounts, error) {
	var c BedCounts
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT count(*),
			count(*) FILTER (WHERE is_active AND NOT is_occupied),
			count(*) FILTER (WHERE is_occupied)
		FROM bed WHERE ward_id = $1`, wardID).Scan(&c.Total, &c.Available, &c.Occupied)
	if err != nil {
		return c, apperr.Internal("count beds", err)
	}
	return c, nil
}

func (r *repoPG) ListAvailability(ctx context.Context) ([]*Availability, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT w.id, w.code, w.name, w.ward_type, w.department_id,
			count(b.id),
			count(b.id) FILTER (WHERE b.is_active AND NOT b.is_occupied),
			count(b.id) FILTER (WHERE b.is_occupied),
			count(b.id) FILTER (WHERE NOT b.is_active)
		FROM ward w
		LEFT JOIN bed b ON b.ward_id = w.id
		WHERE w.is_active
		GROUP BY w.id
		ORDER BY w.code`)
	if err != nil {
		return nil, apperr.Internal("ward availability", err)
	}
	defer rows.Close()

	var out []*Availability
	for rows.Next() {
		var a Availability
		if err := rows.Scan(&a.WardID, &a.WardCode, &a.WardName, &a.WardType, &a.DepartmentID,
			&a.TotalBeds, &a.AvailableBeds, &a.OccupiedBeds, &a.InactiveBeds); err != nil {
			return nil, apperr.Internal("scan availability", err)
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}
