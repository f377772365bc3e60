package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/ipd/internal/config"
	"github.com/ehr/ipd/internal/domain/accrual"
	"github.com/ehr/ipd/internal/domain/admission"
	"github.com/ehr/ipd/internal/domain/billing"
	"github.com/ehr/ipd/internal/domain/directory"
	"github.com/ehr/ipd/internal/domain/ward"
	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/internal/platform/cache"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/internal/platform/middleware"
	"github.com/ehr/ipd/internal/platform/telemetry"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ipd-server",
		Short: "In-patient bed allocation and billing API server",
	}

	root.AddCommand(serveCmd())
	root.AddCommand(migrateCmd())
	root.AddCommand(tenantCmd())
	root.AddCommand(accrualCmd())
	root.AddCommand(wardCmd())
	return root
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the IPD API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

func newLogger(env string) zerolog.Logger {
	if env == "development" {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// connect loads config and opens the pool for the one-shot commands.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

// tenantScope picks a single tenant when one is named, otherwise every
// provisioned tenant.
func tenantScope(pool *pgxpool.Pool, tenant string) db.TenantScope {
	if tenant != "" {
		return db.OneTenant{Pool: pool, ID: tenant}
	}
	return db.AllTenants{Pool: pool}
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			migrator := db.NewMigrator(pool, dir)
			fmt.Printf("Running migrations on schema: %s\n", schema)

			count, err := migrator.Up(ctx, schema)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, _ := cmd.Flags().GetString("schema")
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			statuses, err := db.NewMigrator(pool, dir).Status(ctx, schema)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("Migration status for schema: %s\n", schema)
			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.Modified {
						status = "modified"
					}
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("schema", "tenant_default", "Target schema for migrations")
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func tenantCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant schema and apply migrations to it",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			if name == "" {
				return fmt.Errorf("--name is required")
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			fmt.Printf("Creating tenant schema: tenant_%s\n", name)
			if err := db.CreateTenantSchema(ctx, pool, name, cfg.MigrationsDir); err != nil {
				return err
			}
			fmt.Println("Tenant created successfully.")
			return nil
		},
	}
	createCmd.Flags().String("name", "", "Tenant identifier (alphanumeric)")

	cmd.AddCommand(createCmd)
	return cmd
}

func accrualCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "accrual",
		Short: "Daily bed-charge accrual",
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run one accrual pass now",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env)
			svc, err := buildServices(ctx, cfg, pool, nil, logger)
			if err != nil {
				return err
			}
			report, err := svc.scheduler.WithScope(tenantScope(pool, tenant)).RunOnce(ctx, accrual.TriggerCLI)
			if err != nil {
				return err
			}
			return printJSON(report)
		},
	}
	runCmd.Flags().String("tenant", "", "Limit the run to one tenant (default all tenants)")
	cmd.AddCommand(runCmd)
	return cmd
}

func wardCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ward",
		Short: "Ward maintenance",
	}

	reconcileCmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Recompute ward bed counters from bed state",
		RunE: func(cmd *cobra.Command, args []string) error {
			tenant, _ := cmd.Flags().GetString("tenant")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg.Env)
			svc, err := buildServices(ctx, cfg, pool, nil, logger)
			if err != nil {
				return err
			}

			var drifts []ward.Drift
			err = tenantScope(pool, tenant).Each(ctx, func(ctx context.Context, tenantID string) error {
				d, err := svc.wards.Reconcile(ctx)
				if err != nil {
					return fmt.Errorf("tenant %s: %w", tenantID, err)
				}
				drifts = append(drifts, d...)
				return nil
			})
			if err != nil {
				return err
			}
			if len(drifts) == 0 {
				fmt.Println("All ward counters match bed state.")
				return nil
			}
			return printJSON(drifts)
		},
	}
	reconcileCmd.Flags().String("tenant", "", "Limit reconciliation to one tenant (default all tenants)")
	cmd.AddCommand(reconcileCmd)
	return cmd
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

type services struct {
	cache      cache.Store
	wards      *ward.Service
	admissions *admission.Service
	ledgers    *billing.LedgerService
	claims     *billing.ClaimService
	scheduler  *accrual.Scheduler
}

// buildServices wires the domain services over pool. The availability cache
// is Redis when REDIS_URL is set and in-process otherwise.
func buildServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, metrics *telemetry.Metrics, logger zerolog.Logger) (*services, error) {
	loc, err := cfg.AccrualLocation()
	if err != nil {
		return nil, err
	}
	hour, minute, err := cfg.AccrualClock()
	if err != nil {
		return nil, err
	}

	var store cache.Store = cache.NewMemory()
	if cfg.RedisURL != "" {
		rs, err := cache.NewRedisStore(ctx, cfg.RedisURL, "ipd:")
		if err != nil {
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		store = rs
	}

	tx := db.NewTxManager(pool)
	availability := ward.NewAvailabilityCache(store, cfg.AvailabilityCacheTTL, logger)

	wardRepo := ward.NewRepo(pool)
	beds := ward.NewPool(wardRepo, tx, availability, metrics, logger)
	wards := ward.NewService(wardRepo, beds, tx, directory.NewDepartmentDirectory(pool), availability)

	admissions := admission.NewService(admission.NewRepo(pool), beds,
		directory.NewPatientDirectory(pool), directory.NewDoctorDirectory(pool), tx, logger)

	ledgers := billing.NewLedgerService(billing.NewLedgerRepo(pool), admissions, tx, metrics, logger, loc)
	claims := billing.NewClaimService(billing.NewClaimRepo(pool), ledgers, admissions, tx, logger)

	scheduler := accrual.NewScheduler(accrual.NewSource(pool), ledgers, admissions,
		db.AllTenants{Pool: pool}, metrics, logger, accrual.Config{Hour: hour, Minute: minute, Location: loc})

	return &services{
		cache:      store,
		wards:      wards,
		admissions: admissions,
		ledgers:    ledgers,
		claims:     claims,
		scheduler:  scheduler,
	}, nil
}

func runServer() error {
	logger := newLogger(os.Getenv("ENV"))

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	metrics := telemetry.New()
	metrics.RegisterPool(pool)

	svc, err := buildServices(ctx, cfg, pool, metrics, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID", "X-Tenant-ID"},
	}))
	e.Use(metrics.Middleware())

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	var checks []db.Check
	if rs, ok := svc.cache.(*cache.RedisStore); ok {
		defer rs.Close()
		checks = append(checks, db.Check{Name: "redis", Probe: rs.Ping})
	}
	e.GET("/health/db", db.HealthHandler(pool, checks...))
	e.GET("/metrics", metrics.Handler())

	apiV1 := e.Group("/api/v1")
	if cfg.ResolvedAuthMode() == "development" {
		apiV1.Use(auth.DevAuthMiddleware())
	} else {
		apiV1.Use(auth.JWTMiddleware(auth.JWTConfig{
			Issuer:     cfg.AuthIssuer,
			Audience:   cfg.AuthAudience,
			JWKSURL:    cfg.AuthJWKSURL,
			SigningKey: []byte(cfg.AuthSigningKey),
		}))
	}
	apiV1.Use(db.TenantMiddleware(pool, cfg.DefaultTenant))
	apiV1.Use(middleware.RequestTimeout(cfg.RequestTimeout,
		"/api/v1/billing/ledgers/export",
		"/api/v1/billing/accrual/run",
	))

	ward.NewHandler(svc.wards).RegisterRoutes(apiV1)
	admission.NewHandler(svc.admissions).RegisterRoutes(apiV1)
	billing.NewHandler(svc.ledgers, svc.claims).RegisterRoutes(apiV1)
	accrual.NewHandler(svc.scheduler, svc.ledgers).RegisterRoutes(apiV1)

	if cfg.AccrualEnabled {
		go svc.scheduler.Start(ctx)
		logger.Info().Str("run_at", cfg.AccrualRunAt).Str("timezone", cfg.AccrualTimezone).Msg("accrual scheduler started")
	}

	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Fatal().Err(err).Msg("server shutdown failed")
	}
	logger.Info().Msg("server stopped")
	return nil
}
