package billing

import (
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/pagination"
)

type Handler struct {
	ledgers *LedgerService
	claims  *ClaimService
}

func NewHandler(ledgers *LedgerService, claims *ClaimService) *Handler {
	return &Handler{ledgers: ledgers, claims: claims}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Ledger reads are open to clinicians so they can see the running bill
	read := api.Group("", auth.RequireRole(auth.RoleBilling, auth.RoleRegistrar, auth.RolePhysician, auth.RoleNurse))
	read.GET("/admissions/:id/ledger", h.GetByAdmission)
	read.GET("/billing/ledgers/:id", h.Get)

	bill := api.Group("", auth.RequireRole(auth.RoleBilling))
	bill.POST("/billing/ledgers", h.Create)
	bill.GET("/billing/ledgers", h.List)
	bill.GET("/billing/ledgers/export.xlsx", h.Export)
	bill.PUT("/billing/ledgers/:id", h.Update)
	bill.POST("/billing/ledgers/:id/charges", h.AddCharge)
	bill.POST("/billing/ledgers/:id/payments", h.RecordPayment)
	bill.GET("/billing/ledgers/:id/payments", h.ListPayments)
	bill.GET("/billing/summary/pending", h.PendingSummary)
	bill.GET("/billing/summary/completed", h.CompletedSummary)

	bill.POST("/billing/claims", h.CreateClaim)
	bill.GET("/billing/claims", h.ListClaims)
	bill.GET("/billing/claims/:id", h.GetClaim)
	bill.PUT("/billing/claims/:id", h.UpdateClaim)
	bill.POST("/billing/claims/:id/submit", h.SubmitClaim)
	bill.POST("/billing/claims/:id/review", h.ReviewClaim)
	bill.POST("/billing/claims/:id/approve", h.ApproveClaim)
	bill.POST("/billing/claims/:id/reject", h.RejectClaim)
	bill.POST("/billing/claims/:id/settle", h.SettleClaim)
	bill.GET("/admissions/:id/claims/summary", h.ClaimSummary)
}

func paramID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func queryUUID(c echo.Context, name string) (*uuid.UUID, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
	}
	return &id, nil
}

func queryTime(c echo.Context, name string) (*time.Time, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return &t, nil
		}
	}
	return nil, echo.NewHTTPError(http.StatusBadRequest, "invalid "+name)
}

// ledgerFilter reads the shared listing filters. status takes a comma
// separated list.
func ledgerFilter(c echo.Context) (LedgerFilter, error) {
	var f LedgerFilter
	var err error
	if raw := c.QueryParam("status"); raw != "" {
		for _, s := range strings.Split(raw, ",") {
			f.Status = append(f.Status, PaymentStatus(strings.ToUpper(strings.TrimSpace(s))))
		}
	}
	if f.WardID, err = queryUUID(c, "ward_id"); err != nil {
		return f, err
	}
	if f.DepartmentID, err = queryUUID(c, "department_id"); err != nil {
		return f, err
	}
	if f.PatientID, err = queryUUID(c, "patient_id"); err != nil {
		return f, err
	}
	if f.CreatedFrom, err = queryTime(c, "created_from"); err != nil {
		return f, err
	}
	if f.CreatedTo, err = queryTime(c, "created_to"); err != nil {
		return f, err
	}
	return f, nil
}

// -- Ledgers --

func (h *Handler) Create(c echo.Context) error {
	var req CreateLedgerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.ledgers.Create(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, l)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, err := h.ledgers.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) GetByAdmission(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	l, err := h.ledgers.GetByAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	f, err := ledgerFilter(c)
	if err != nil {
		return err
	}
	items, total, err := h.ledgers.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) Export(c echo.Context) error {
	f, err := ledgerFilter(c)
	if err != nil {
		return err
	}
	data, err := h.ledgers.Export(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	name := "ledgers-" + time.Now().Format("20060102") + ".xlsx"
	c.Response().Header().Set(echo.HeaderContentDisposition, "attachment; filename="+name)
	return c.Blob(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", data)
}

func (h *Handler) Update(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req UpdateLedgerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.ledgers.Update(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) AddCharge(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req ChargeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.ledgers.AddCharge(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) RecordPayment(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req PaymentRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	l, err := h.ledgers.RecordPayment(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, l)
}

func (h *Handler) ListPayments(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	items, err := h.ledgers.ListPayments(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	pg := pagination.FromContext(c)
	return c.JSON(http.StatusOK, pagination.NewResponse(pagination.Window(items, pg), len(items), pg.Limit, pg.Offset))
}

func (h *Handler) PendingSummary(c echo.Context) error {
	f, err := ledgerFilter(c)
	if err != nil {
		return err
	}
	s, err := h.ledgers.PendingSummary(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

func (h *Handler) CompletedSummary(c echo.Context) error {
	f, err := ledgerFilter(c)
	if err != nil {
		return err
	}
	s, err := h.ledgers.CompletedSummary(c.Request().Context(), f)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}

// -- Claims --

func (h *Handler) CreateClaim(c echo.Context) error {
	var req CreateClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.claims.Create(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, cl)
}

func (h *Handler) GetClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cl, err := h.claims.Get(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ListClaims(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f ClaimFilter
	var err error
	if f.AdmissionID, err = queryUUID(c, "admission_id"); err != nil {
		return err
	}
	if f.LedgerID, err = queryUUID(c, "ledger_id"); err != nil {
		return err
	}
	if s := c.QueryParam("status"); s != "" {
		st := ClaimStatus(strings.ToUpper(s))
		f.Status = &st
	}
	items, total, err := h.claims.List(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req UpdateClaimRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.claims.Update(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) SubmitClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cl, err := h.claims.Submit(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ReviewClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	cl, err := h.claims.Review(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ApproveClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req ApproveRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.claims.Approve(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) RejectClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.claims.Reject(c.Request().Context(), id, req.Reason)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) SettleClaim(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req struct {
		Amount decimal.Decimal `json:"amount"`
	}
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	cl, err := h.claims.Settle(c.Request().Context(), id, req.Amount)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, cl)
}

func (h *Handler) ClaimSummary(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	s, err := h.claims.SummaryByAdmission(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, s)
}
