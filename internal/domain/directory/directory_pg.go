package directory

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/pkg/apperr"
)

// registry implements the directory interfaces over one registry table.
type registry struct {
	pool  *pgxpool.Pool
	table string
	noun  string
}

func NewPatientDirectory(pool *pgxpool.Pool) PatientDirectory {
	return &registry{pool: pool, table: "patient", noun: "patient"}
}

func NewDoctorDirectory(pool *pgxpool.Pool) DoctorDirectory {
	return &registry{pool: pool, table: "doctor", noun: "doctor"}
}

func NewDepartmentDirectory(pool *pgxpool.Pool) DepartmentDirectory {
	return &registry{pool: pool, table: "department", noun: "department"}
}

func (r *registry) Exists(ctx context.Context, id uuid.UUID) (bool, error) {
	var ok bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		fmt.Sprintf(`SELECT EXISTS (SELECT 1 FROM %s WHERE id = $1)`, r.table), id).Scan(&ok)
	if err != nil {
		return false, apperr.Internal("lookup "+r.noun, err)
	}
	return ok, nil
}

func (r *registry) Get(ctx context.Context, id uuid.UUID) (*Entry, error) {
	nameCol := "full_name"
	if r.table == "department" {
		nameCol = "name"
	}
	var e Entry
	err := db.Conn(ctx, r.pool).QueryRow(ctx,
		fmt.Sprintf(`SELECT id, %s, active FROM %s WHERE id = $1`, nameCol, r.table), id).
		Scan(&e.ID, &e.Name, &e.Active)
	if db.IsNoRows(err) {
		return nil, apperr.NotFound("%s %s not found", r.noun, id)
	}
	if err != nil {
		return nil, apperr.Internal("load "+r.noun, err)
	}
	return &e, nil
}
