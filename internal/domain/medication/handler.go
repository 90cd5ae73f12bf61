package medication

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/schoolmed/schoolmed/internal/platform/auth"
	"github.com/schoolmed/schoolmed/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints: admin, nurse
	readGroup := api.Group("", auth.RequireRole("admin", "nurse"))
	readGroup.GET("/medication-orders", h.ListOrders)
	readGroup.GET("/medication-orders/:id", h.GetOrder)
	readGroup.GET("/medication-orders/:id/schedules", h.ListSchedules)
	readGroup.GET("/medication-orders/:id/administrations", h.ListAdministrations)
	readGroup.GET("/medication-orders/:id/usage-history", h.ListUsageHistory)

	// Engine actions: nurse only
	nurseGroup := api.Group("", auth.RequireRole("nurse"))
	nurseGroup.POST("/dose-schedules/:id/administer", h.Administer)
	nurseGroup.POST("/dose-schedules/:id/confirm", h.Confirm)
	nurseGroup.POST("/dose-schedules/:id/quick-complete", h.QuickComplete)
	nurseGroup.POST("/dose-schedules/bulk-administer", h.BulkAdminister)
	nurseGroup.POST("/dose-schedules/:id/miss", h.MarkMissed)
	nurseGroup.POST("/dose-schedules/:id/absent", h.MarkAbsent)
	nurseGroup.POST("/administrations/:id/correct", h.Correct)
	nurseGroup.POST("/administrations/:id/return", h.Return)

	// Order management: admin, nurse
	writeGroup := api.Group("", auth.RequireRole("admin", "nurse"))
	writeGroup.POST("/medication-orders", h.IngestOrder)
	writeGroup.POST("/medication-orders/:id/regenerate", h.Regenerate)

	// Stock drop-off also accepts guardians
	stockGroup := api.Group("", auth.RequireRole("admin", "nurse", "guardian"))
	stockGroup.POST("/medication-orders/:id/stock", h.AddStock)
	stockGroup.GET("/medication-orders/:id/stock", h.ListStock)
	stockGroup.GET("/medication-orders/:id/stock/balance", h.StockBalance)
}

// httpError maps engine errors onto HTTP statuses.
func httpError(err error) error {
	var (
		validation *ValidationError
		transition *InvalidStatusTransitionError
		stock      *InsufficientStockError
		timing     *InvalidTimingError
		missing    *NotFoundError
	)
	switch {
	case errors.As(err, &validation):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &timing):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.As(err, &transition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &stock):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.As(err, &missing):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

// actorID prefers the authenticated user, falling back to the request
// payload for service-to-service calls.
func actorID(c echo.Context, fromBody uuid.UUID) uuid.UUID {
	if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
		if parsed, err := uuid.Parse(uid); err == nil {
			return parsed
		}
	}
	return fromBody
}

func (h *Handler) IngestOrder(c echo.Context) error {
	var in ApprovedMedicationOrder
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	order, schedules, err := h.svc.IngestApprovedOrder(c.Request().Context(), in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, map[string]interface{}{
		"order":     order,
		"schedules": schedules,
	})
}

func (h *Handler) ListOrders(c echo.Context) error {
	p := pagination.FromContext(c)
	var (
		items []*MedicationOrder
		total int
		err   error
	)
	if studentParam := c.QueryParam("student_id"); studentParam != "" {
		studentID, perr := uuid.Parse(studentParam)
		if perr != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid student_id")
		}
		items, total, err = h.svc.orders.ListByStudent(c.Request().Context(), studentID, p.Limit, p.Offset)
	} else {
		items, total, err = h.svc.Orders(c.Request().Context(), p.Limit, p.Offset)
	}
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) GetOrder(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	order, err := h.svc.Order(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, order)
}

func (h *Handler) Regenerate(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	schedules, err := h.svc.RegenerateSchedules(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, schedules)
}

func (h *Handler) ListSchedules(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	schedules, err := h.svc.Schedules(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, schedules)
}

func (h *Handler) Administer(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in AdministerInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ActorID = actorID(c, in.ActorID)
	res, err := h.svc.Administer(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	status := http.StatusOK
	if res.AwaitingConfirmation {
		status = http.StatusAccepted
	}
	return c.JSON(status, res)
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in AdministerInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.ActorID = actorID(c, in.ActorID)
	res, err := h.svc.Confirm(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) QuickComplete(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in AdministerInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.QuickComplete(c.Request().Context(), id, actorID(c, in.ActorID))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

type bulkAdministerRequest struct {
	ScheduleIDs []uuid.UUID `json:"schedule_ids"`
	AdministerInput
}

func (h *Handler) BulkAdminister(c echo.Context) error {
	var req bulkAdministerRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.ScheduleIDs) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "schedule_ids required")
	}
	req.ActorID = actorID(c, req.ActorID)
	// On mid-batch cancellation the committed results still stand, so the
	// partial list is returned either way.
	results, _ := h.svc.BulkAdminister(c.Request().Context(), req.ScheduleIDs, req.AdministerInput)
	return c.JSON(http.StatusOK, results)
}

type missRequest struct {
	ActorID uuid.UUID `json:"actor_id"`
	Reason  string    `json:"reason"`
}

func (h *Handler) MarkMissed(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req missRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := h.svc.MarkMissed(c.Request().Context(), id, actorID(c, req.ActorID), req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

func (h *Handler) MarkAbsent(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req missRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	sched, err := h.svc.MarkAbsent(c.Request().Context(), id, actorID(c, req.ActorID))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, sched)
}

type correctRequest struct {
	ActorID       uuid.UUID `json:"actor_id"`
	Reason        string    `json:"reason"`
	QuantityDelta int       `json:"quantity_delta"`
	Note          string    `json:"note"`
}

func (h *Handler) Correct(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req correctRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	event, err := h.svc.Correct(c.Request().Context(), id, actorID(c, req.ActorID), req.Reason, req.QuantityDelta, req.Note)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, event)
}

type returnRequest struct {
	ActorID  uuid.UUID `json:"actor_id"`
	Quantity int       `json:"quantity"`
	Reason   string    `json:"reason"`
}

func (h *Handler) Return(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var req returnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	event, err := h.svc.Return(c.Request().Context(), id, actorID(c, req.ActorID), req.Quantity, req.Reason)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, event)
}

func (h *Handler) AddStock(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in AddStockInput
	if err := c.Bind(&in); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	in.DepositedBy = actorID(c, in.DepositedBy)
	entry, err := h.svc.AddStock(c.Request().Context(), id, in)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusCreated, entry)
}

func (h *Handler) ListStock(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.StockEntries(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) StockBalance(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	balance, err := h.svc.StockBalance(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, map[string]int{"balance": balance})
}

func (h *Handler) ListAdministrations(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.Administrations(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}

func (h *Handler) ListUsageHistory(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	p := pagination.FromContext(c)
	items, total, err := h.svc.UsageHistory(c.Request().Context(), id, p.Limit, p.Offset)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, p.Limit, p.Offset))
}
