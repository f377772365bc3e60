package accrual

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ipd/internal/domain/billing"
	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/pkg/apperr"
)

type Handler struct {
	scheduler *Scheduler
	ledgers   *billing.LedgerService
}

func NewHandler(scheduler *Scheduler, ledgers *billing.LedgerService) *Handler {
	return &Handler{scheduler: scheduler, ledgers: ledgers}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	bill := api.Group("", auth.RequireRole(auth.RoleBilling))
	bill.POST("/billing/ledgers/:id/accrue", h.AccrueLedger)

	// A run spans every tenant
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/billing/accrual/run", h.Run)
}

// AccrueLedger charges today's bed rate to one ledger if not yet charged.
func (h *Handler) AccrueLedger(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	l, err := h.ledgers.Get(ctx, id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	res, err := h.scheduler.AccrueAdmission(ctx, l.AdmissionID)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Run(c echo.Context) error {
	// tenant-level failures are logged by RunOnce and still produce a report
	report, err := h.scheduler.RunOnce(c.Request().Context(), TriggerManual)
	if report == nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, report)
}
