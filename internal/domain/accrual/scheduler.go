// Package accrual charges each open admission one day of its bed's rate per
// calendar day. The per-ledger date guard makes every trigger idempotent, so
// the timer, the CLI and the HTTP endpoints can all run it.
package accrual

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ehr/ipd/internal/domain/billing"
	"github.com/ehr/ipd/internal/platform/db"
	"github.com/ehr/ipd/internal/platform/telemetry"
	"github.com/ehr/ipd/pkg/apperr"
)

// Triggers recorded on the run metric.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
	TriggerCLI      = "cli"
)

// RunReport summarizes one pass over every tenant in scope.
type RunReport struct {
	Date     string        `json:"date"`
	Trigger  string        `json:"trigger"`
	Tenants  int           `json:"tenants"`
	Applied  int           `json:"applied"`
	Skipped  int           `json:"skipped"`
	Failed   int           `json:"failed"`
	Started  time.Time     `json:"started_at"`
	Duration time.Duration `json:"duration_ns"`
}

// Result is the outcome of a single-admission accrual.
type Result struct {
	Applied bool            `json:"applied"`
	Ledger  *billing.Ledger `json:"ledger"`
}

type Config struct {
	Hour     int
	Minute   int
	Location *time.Location
}

type Scheduler struct {
	source     Source
	ledgers    *billing.LedgerService
	admissions billing.AdmissionReader
	tenants    db.TenantScope
	metrics    *telemetry.Metrics
	logger     zerolog.Logger
	cfg        Config
	now        func() time.Time

	running sync.Mutex
}

func NewScheduler(source Source, ledgers *billing.LedgerService, admissions billing.AdmissionReader,
	tenants db.TenantScope, metrics *telemetry.Metrics, logger zerolog.Logger, cfg Config) *Scheduler {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Scheduler{
		source:     source,
		ledgers:    ledgers,
		admissions: admissions,
		tenants:    tenants,
		metrics:    metrics,
		logger:     logger.With().Str("component", "accrual").Logger(),
		cfg:        cfg,
		now:        time.Now,
	}
}

// WithScope returns a scheduler sharing everything but the tenant scope.
func (s *Scheduler) WithScope(tenants db.TenantScope) *Scheduler {
	return &Scheduler{
		source:     s.source,
		ledgers:    s.ledgers,
		admissions: s.admissions,
		tenants:    tenants,
		metrics:    s.metrics,
		logger:     s.logger,
		cfg:        s.cfg,
		now:        s.now,
	}
}

func (s *Scheduler) today() time.Time {
	return s.now().In(s.cfg.Location)
}

// RunOnce visits every open ledger in scope. Failures on one ledger are
// logged and counted; the run continues. A second run while one is in
// progress in this process is refused.
func (s *Scheduler) RunOnce(ctx context.Context, trigger string) (*RunReport, error) {
	if !s.running.TryLock() {
		return nil, apperr.Conflict("an accrual run is already in progress")
	}
	defer s.running.Unlock()

	today := s.today()
	report := &RunReport{
		Date:    today.Format("2006-01-02"),
		Trigger: trigger,
		Started: s.now(),
	}
	err := s.tenants.Each(ctx, func(ctx context.Context, tenantID string) error {
		report.Tenants++
		return s.runTenant(ctx, tenantID, today, report)
	})
	report.Duration = s.now().Sub(report.Started)
	s.metrics.AccrualRun(trigger, report.Duration)

	ev := s.logger.Info()
	if err != nil || report.Failed > 0 {
		ev = s.logger.Warn().AnErr("error", err)
	}
	ev.Str("date", report.Date).
		Str("trigger", trigger).
		Int("tenants", report.Tenants).
		Int("applied", report.Applied).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Dur("duration", report.Duration).
		Msg("accrual run finished")
	return report, err
}

func (s *Scheduler) runTenant(ctx context.Context, tenantID string, today time.Time, report *RunReport) error {
	candidates, err := s.source.OpenLedgers(ctx)
	if err != nil {
		return err
	}
	for _, c := range candidates {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if billing.ChargedOn(c.LastChargeDate, today) || !c.DailyRate.IsPositive() {
			report.Skipped++
			s.metrics.AccrualLedger(telemetry.AccrualSkipped)
			continue
		}
		applied, err := s.ledgers.ApplyDailyAccrual(ctx, c.LedgerID, c.DailyRate, today)
		switch {
		case err != nil:
			report.Failed++
			s.metrics.AccrualLedger(telemetry.AccrualFailed)
			s.logger.Error().Err(err).
				Str("tenant", tenantID).
				Str("admission_id", c.AdmissionID.String()).
				Str("ledger_id", c.LedgerID.String()).
				Msg("daily accrual failed")
		case applied:
			report.Applied++
			s.metrics.AccrualLedger(telemetry.AccrualApplied)
		default:
			report.Skipped++
			s.metrics.AccrualLedger(telemetry.AccrualSkipped)
		}
	}
	return nil
}

// AccrueAdmission runs the same guarded accrual for one admission in the
// tenant bound to ctx.
func (s *Scheduler) AccrueAdmission(ctx context.Context, admissionID uuid.UUID) (*Result, error) {
	adm, err := s.admissions.Get(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	if adm.Status.Terminal() {
		return nil, apperr.InvalidState("admission %s is discharged", adm.AdmissionNumber)
	}
	c, err := s.source.ForAdmission(ctx, admissionID)
	if err != nil {
		return nil, err
	}
	applied, err := s.ledgers.ApplyDailyAccrual(ctx, c.LedgerID, c.DailyRate, s.today())
	if err != nil {
		return nil, err
	}
	l, err := s.ledgers.Get(ctx, c.LedgerID)
	if err != nil {
		return nil, err
	}
	s.logger.Info().
		Str("admission_id", admissionID.String()).
		Str("ledger_id", c.LedgerID.String()).
		Bool("applied", applied).
		Msg("manual accrual")
	return &Result{Applied: applied, Ledger: l}, nil
}

// NextRun returns the first run time strictly after now.
func (s *Scheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, s.cfg.Hour, s.cfg.Minute, 0, 0, s.cfg.Location)
	}
	return next
}

// Start fires RunOnce at the configured wall-clock time every day. It blocks
// until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	for {
		now := s.now()
		next := s.NextRun(now)
		s.logger.Info().Time("next_run", next).Msg("accrual scheduled")

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := s.RunOnce(ctx, TriggerSchedule); err != nil {
				s.logger.Error().Err(err).Msg("scheduled accrual run failed")
			}
		}
	}
}
