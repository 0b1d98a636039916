package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/service"
)

// StaffHandler serves the studio staff endpoints.  Routes are mounted
// behind RequireRole(STAFF); the orchestrator checks the role again.
type StaffHandler struct {
	Orch    *service.Orchestrator
	Coupons *service.CouponEvaluator
	Cache   *middleware.AvailabilityCache
	Log     *zap.Logger
}

func NewStaffHandler(orch *service.Orchestrator, coupons *service.CouponEvaluator, cache *middleware.AvailabilityCache, log *zap.Logger) *StaffHandler {
	if orch == nil || coupons == nil {
		panic("nil dependency passed to NewStaffHandler")
	}
	return &StaffHandler{Orch: orch, Coupons: coupons, Cache: cache, Log: logging.OrNop(log).Named("handler")}
}

type createCouponReq struct {
	Code           string            `json:"code"`
	Type           model.CouponType  `json:"type"`
	Value          int64             `json:"value"`
	AppliesTo      model.CouponScope `json:"applies_to"`
	MaxRedemptions *int              `json:"max_redemptions"`
	ValidFrom      *time.Time        `json:"valid_from"`
	ValidUntil     *time.Time        `json:"valid_until"`
	Active         *bool             `json:"active"`
}

// CreateCoupon handles POST /v1/staff/coupons.  Coupons are active unless
// the body says otherwise.
func (h *StaffHandler) CreateCoupon(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	if !a.IsStaff() {
		return writeError(c, h.Log, model.ErrForbidden)
	}
	var body createCouponReq
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	cp := &model.Coupon{
		StudioID:       a.StudioID,
		Code:           body.Code,
		Type:           body.Type,
		Value:          body.Value,
		AppliesTo:      body.AppliesTo,
		MaxRedemptions: body.MaxRedemptions,
		ValidFrom:      body.ValidFrom,
		ValidUntil:     body.ValidUntil,
		Active:         body.Active == nil || *body.Active,
	}
	if err := h.Coupons.CreateCoupon(c.Request().Context(), cp); err != nil {
		return writeError(c, h.Log, err)
	}
	h.Log.Info("coupon created", zap.Uint64("studio_id", a.StudioID), zap.String("code", cp.Code))
	return c.JSON(http.StatusCreated, cp)
}

type capacityReq struct {
	Capacity *int `json:"capacity"`
}

// AdjustCapacity handles PUT /v1/staff/classes/:id/capacity.
func (h *StaffHandler) AdjustCapacity(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	classID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	var body capacityReq
	if err := c.Bind(&body); err != nil || body.Capacity == nil {
		return badRequest(c, "capacity is required")
	}
	if *body.Capacity < 1 {
		return badRequest(c, "capacity must be positive")
	}
	ctx := c.Request().Context()
	class, err := h.Orch.AdjustCapacity(ctx, a, classID, *body.Capacity)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cache.Invalidate(ctx, a.StudioID, classID)
	return c.JSON(http.StatusOK, echo.Map{
		"class_instance_id": class.ID,
		"capacity":          class.MaxCapacity,
		"booked":            class.BookedCount,
		"status":            class.Status,
	})
}

// CheckIn handles POST /v1/staff/bookings/:id/check-in.
func (h *StaffHandler) CheckIn(c echo.Context) error {
	return h.transition(c, h.Orch.CheckIn)
}

// NoShow handles POST /v1/staff/bookings/:id/no-show.
func (h *StaffHandler) NoShow(c echo.Context) error {
	return h.transition(c, h.Orch.MarkNoShow)
}

type transitionFunc func(ctx context.Context, a model.Actor, id uint64) (*model.Booking, error)

func (h *StaffHandler) transition(c echo.Context, fn transitionFunc) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := fn(c.Request().Context(), a, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

type resolveReq struct {
	Outcome model.PaymentOutcome `json:"outcome"`
}

// ResolvePayment handles POST /v1/staff/payments/:ref/resolve for payments
// taken outside the online gateway.
func (h *StaffHandler) ResolvePayment(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	ref := strings.TrimSpace(c.Param("ref"))
	if ref == "" {
		return badRequest(c, "invalid payment reference")
	}
	var body resolveReq
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if body.Outcome != model.OutcomeSucceeded && body.Outcome != model.OutcomeFailed {
		return badRequest(c, "outcome must be succeeded or failed")
	}
	ctx := c.Request().Context()
	b, err := h.Orch.ResolvePayment(ctx, a, ref, body.Outcome)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cache.Invalidate(ctx, b.StudioID, b.ClassInstanceID)
	return c.JSON(http.StatusOK, b)
}
