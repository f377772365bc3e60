package db

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
)

type contextKey string

const (
	TenantIDKey contextKey = "tenant_id"
	DBConnKey   contextKey = "db_conn"
	DBTxKey     contextKey = "db_tx"
)

const schemaPrefix = "tenant_"

var tenantIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// ValidTenantID reports whether id may be used to build a schema name.
func ValidTenantID(id string) bool {
	return tenantIDPattern.MatchString(id)
}

// SchemaFor returns the schema holding tenantID's tables.
func SchemaFor(tenantID string) string {
	return schemaPrefix + tenantID
}

// TenantMiddleware resolves the tenant for the request and pins one pooled
// connection to its schema for the lifetime of the request. Repositories pick
// the connection up through Conn.
func TenantMiddleware(pool *pgxpool.Pool, defaultTenant string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tenantID := extractTenantID(c, defaultTenant)
			if !ValidTenantID(tenantID) {
				return echo.NewHTTPError(http.StatusBadRequest, "invalid tenant identifier")
			}

			ctx := c.Request().Context()
			conn, err := pool.Acquire(ctx)
			if err != nil {
				return echo.NewHTTPError(http.StatusServiceUnavailable, "database unavailable")
			}
			defer releaseTenantConn(conn)

			ctx, err = bindTenant(ctx, conn, tenantID)
			if err != nil {
				return echo.NewHTTPError(http.StatusInternalServerError, "tenant resolution failed")
			}
			c.SetRequest(c.Request().WithContext(ctx))
			c.Set("tenant_id", tenantID)
			return next(c)
		}
	}
}

// extractTenantID prefers the token claim, then the X-Tenant-ID header, then
// the tenant_id query parameter.
func extractTenantID(c echo.Context, defaultTenant string) string {
	if tid, ok := c.Get("jwt_tenant_id").(string); ok && tid != "" {
		return tid
	}
	if tid := c.Request().Header.Get("X-Tenant-ID"); tid != "" {
		return tid
	}
	if tid := c.QueryParam("tenant_id"); tid != "" {
		return tid
	}
	return defaultTenant
}

// bindTenant points conn at the tenant schema and stores both on ctx.
func bindTenant(ctx context.Context, conn *pgxpool.Conn, tenantID string) (context.Context, error) {
	schema := pgx.Identifier{SchemaFor(tenantID)}.Sanitize()
	if _, err := conn.Exec(ctx, fmt.Sprintf("SET search_path TO %s, shared, public", schema)); err != nil {
		return ctx, fmt.Errorf("set search_path for %s: %w", SchemaFor(tenantID), err)
	}
	ctx = context.WithValue(ctx, TenantIDKey, tenantID)
	ctx = context.WithValue(ctx, DBConnKey, conn)
	return ctx, nil
}

// releaseTenantConn resets the search_path before handing the connection back
// so pool users without a tenant never inherit another tenant's schema.
func releaseTenantConn(conn *pgxpool.Conn) {
	_, _ = conn.Exec(context.Background(), "RESET search_path")
	conn.Release()
}

// ConnFromContext retrieves the tenant-scoped database connection from context.
func ConnFromContext(ctx context.Context) *pgxpool.Conn {
	conn, _ := ctx.Value(DBConnKey).(*pgxpool.Conn)
	return conn
}

// TenantFromContext retrieves the tenant ID from context.
func TenantFromContext(ctx context.Context) string {
	tid, _ := ctx.Value(TenantIDKey).(string)
	return tid
}

// CreateTenantSchema creates the tenant schema and, when migrationsDir is set,
// brings it up to the latest migration.
func CreateTenantSchema(ctx context.Context, pool *pgxpool.Pool, tenantID string, migrationsDir string) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	schema := SchemaFor(tenantID)
	if _, err := pool.Exec(ctx, "CREATE SCHEMA IF NOT EXISTS "+pgx.Identifier{schema}.Sanitize()); err != nil {
		return fmt.Errorf("create schema %s: %w", schema, err)
	}
	if migrationsDir == "" {
		return nil
	}
	if _, err := NewMigrator(pool, migrationsDir).Up(ctx, schema); err != nil {
		return fmt.Errorf("run migrations for %s: %w", schema, err)
	}
	return nil
}

// ListTenants returns the tenant identifiers that have a provisioned schema.
func ListTenants(ctx context.Context, pool *pgxpool.Pool) ([]string, error) {
	rows, err := pool.Query(ctx,
		`SELECT substring(schema_name FROM 8) FROM information_schema.schemata
		 WHERE schema_name LIKE 'tenant\_%' ORDER BY schema_name`)
	if err != nil {
		return nil, fmt.Errorf("list tenant schemas: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scan tenant schema: %w", err)
	}
	tenants := ids[:0]
	for _, id := range ids {
		if ValidTenantID(id) {
			tenants = append(tenants, id)
		}
	}
	return tenants, nil
}

// WithTenant runs fn on a dedicated connection bound to tenantID, the way
// TenantMiddleware scopes an HTTP request.
func WithTenant(ctx context.Context, pool *pgxpool.Pool, tenantID string, fn func(ctx context.Context) error) error {
	if !ValidTenantID(tenantID) {
		return fmt.Errorf("invalid tenant identifier: %s", tenantID)
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection: %w", err)
	}
	defer releaseTenantConn(conn)

	ctx, err = bindTenant(ctx, conn, tenantID)
	if err != nil {
		return err
	}
	return fn(ctx)
}

// ForEachTenant runs fn once per tenant schema. A failing tenant does not stop
// the others; all failures are joined into the returned error.
func ForEachTenant(ctx context.Context, pool *pgxpool.Pool, fn func(ctx context.Context, tenantID string) error) error {
	tenants, err := ListTenants(ctx, pool)
	if err != nil {
		return err
	}
	var errs []error
	for _, tid := range tenants {
		tid := tid
		if err := WithTenant(ctx, pool, tid, func(ctx context.Context) error {
			return fn(ctx, tid)
		}); err != nil {
			errs = append(errs, fmt.Errorf("tenant %s: %w", tid, err))
		}
	}
	return errors.Join(errs...)
}

// TenantScope runs fn once per tenant in the scope. Background jobs take a
// scope so the CLI can restrict them to a single tenant.
type TenantScope interface {
	Each(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error
}

// AllTenants scopes a job to every provisioned tenant schema.
type AllTenants struct {
	Pool *pgxpool.Pool
}

func (a AllTenants) Each(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error {
	return ForEachTenant(ctx, a.Pool, fn)
}

// OneTenant scopes a job to a single tenant schema.
type OneTenant struct {
	Pool *pgxpool.Pool
	ID   string
}

func (o OneTenant) Each(ctx context.Context, fn func(ctx context.Context, tenantID string) error) error {
	return WithTenant(ctx, o.Pool, o.ID, func(ctx context.Context) error {
		return fn(ctx, o.ID)
	})
}
