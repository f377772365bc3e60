package ward

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/ipd/internal/platform/auth"
	"github.com/ehr/ipd/pkg/apperr"
	"github.com/ehr/ipd/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – every clinical and billing role
	read := api.Group("", auth.RequireRole(auth.RoleNurse, auth.RolePhysician, auth.RoleRegistrar, auth.RoleBilling))
	read.GET("/wards", h.ListWards)
	read.GET("/wards/availability", h.AllAvailability)
	read.GET("/wards/:id", h.GetWard)
	read.GET("/wards/:id/beds", h.ListBeds)
	read.GET("/wards/:id/availability", h.WardAvailability)
	read.GET("/beds/available", h.AvailableBeds)
	read.GET("/beds/:id", h.GetBed)

	// Catalog writes – admin only
	admin := api.Group("", auth.RequireRole(auth.RoleAdmin))
	admin.POST("/wards", h.CreateWard)
	admin.PUT("/wards/:id", h.UpdateWard)
	admin.DELETE("/wards/:id", h.DeleteWard)
	admin.PUT("/wards/:id/capacity", h.SetCapacity)
	admin.POST("/wards/:id/beds", h.AddBed)
	admin.POST("/wards/reconcile", h.Reconcile)
	admin.PUT("/beds/:id", h.UpdateBed)
	admin.DELETE("/beds/:id", h.DeleteBed)
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

func (h *Handler) CreateWard(c echo.Context) error {
	var req CreateWardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.CreateWard(c.Request().Context(), req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, w)
}

func (h *Handler) GetWard(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	w, err := h.svc.GetWard(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) ListWards(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f WardFilter
	var err error
	if f.DepartmentID, err = queryUUID(c, "department_id"); err != nil {
		return err
	}
	if t := c.QueryParam("ward_type"); t != "" {
		wt := WardType(t)
		f.WardType = &wt
	}
	if a := c.QueryParam("active"); a != "" {
		active, err := strconv.ParseBool(a)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid active")
		}
		f.Active = &active
	}
	wards, total, err := h.svc.ListWards(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(wards, total, pg.Limit, pg.Offset))
}

func (h *Handler) UpdateWard(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req UpdateWardRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	w, err := h.svc.UpdateWard(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) DeleteWard(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteWard(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) SetCapacity(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var body struct {
		TotalBeds *int `json:"total_beds"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if body.TotalBeds == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "total_beds is required")
	}
	w, err := h.svc.SetCapacity(c.Request().Context(), id, *body.TotalBeds)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, w)
}

func (h *Handler) AddBed(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req AddBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.AddBed(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusCreated, b)
}

func (h *Handler) ListBeds(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	beds, err := h.svc.ListBeds(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, beds)
}

func (h *Handler) WardAvailability(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.WardAvailability(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) AllAvailability(c echo.Context) error {
	dept, err := queryUUID(c, "department_id")
	if err != nil {
		return err
	}
	list, err := h.svc.Availability(c.Request().Context(), dept)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, list)
}

func (h *Handler) Reconcile(c echo.Context) error {
	drifts, err := h.svc.Reconcile(c.Request().Context())
	if err != nil {
		return apperr.ToHTTP(err)
	}
	if drifts == nil {
		drifts = []Drift{}
	}
	return c.JSON(http.StatusOK, map[string]interface{}{
		"drifted": len(drifts),
		"wards":   drifts,
	})
}

func (h *Handler) GetBed(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	b, err := h.svc.GetBed(c.Request().Context(), id)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) UpdateBed(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	var req UpdateBedRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	b, err := h.svc.UpdateBed(c.Request().Context(), id, req)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, b)
}

func (h *Handler) DeleteBed(c echo.Context) error {
	id, err := paramID(c)
	if err != nil {
		return err
	}
	if err := h.svc.DeleteBed(c.Request().Context(), id); err != nil {
		return apperr.ToHTTP(err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) AvailableBeds(c echo.Context) error {
	pg := pagination.FromContext(c)
	var f BedFilter
	var err error
	if f.WardID, err = queryUUID(c, "ward_id"); err != nil {
		return err
	}
	if f.DepartmentID, err = queryUUID(c, "department_id"); err != nil {
		return err
	}
	if t := c.QueryParam("bed_type"); t != "" {
		bt := BedType(t)
		f.BedType = &bt
	}
	beds, total, err := h.svc.AvailableBeds(c.Request().Context(), f, pg.Limit, pg.Offset)
	if err != nil {
		return apperr.ToHTTP(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(beds, total, pg.Limit, pg.Offset))
}
