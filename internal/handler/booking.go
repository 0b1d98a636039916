// Package handler exposes the booking engine over HTTP.  Handlers parse
// input, call the orchestrator with the authenticated actor, and translate
// errors; all business rules live in package service.
package handler

import (
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

// BookingHandler serves the member-facing endpoints.
type BookingHandler struct {
	Orch  *service.Orchestrator
	Cache *middleware.AvailabilityCache
	Log   *zap.Logger
}

// NewBookingHandler panics on a nil orchestrator.  cache may be nil.
func NewBookingHandler(orch *service.Orchestrator, cache *middleware.AvailabilityCache, log *zap.Logger) *BookingHandler {
	if orch == nil {
		panic("nil orchestrator passed to NewBookingHandler")
	}
	return &BookingHandler{Orch: orch, Cache: cache, Log: logging.OrNop(log).Named("handler")}
}

type reserveReq struct {
	CouponCode string `json:"coupon_code"`
	Spot       string `json:"spot"`
}

type reserveResp struct {
	Booking         *model.Booking         `json:"booking"`
	PaymentRequired *model.PaymentRequired `json:"payment_required,omitempty"`
}

// Reserve handles POST /v1/classes/:id/reservations.  A booked or
// waitlisted booking answers 201; a drop-in awaiting payment answers 202
// with the payment details.
func (h *BookingHandler) Reserve(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	classID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	var body reserveReq
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	req := service.ReserveRequest{ClassInstanceID: classID, CouponCode: strings.TrimSpace(body.CouponCode)}
	if spot := strings.TrimSpace(body.Spot); spot != "" {
		req.RequestedSpot = &spot
	}

	ctx := c.Request().Context()
	res, err := h.Orch.Reserve(ctx, a, req)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cache.Invalidate(ctx, a.StudioID, classID)
	if res.PaymentRequired != nil {
		return c.JSON(http.StatusAccepted, reserveResp{Booking: res.Booking, PaymentRequired: res.PaymentRequired})
	}
	return c.JSON(http.StatusCreated, reserveResp{Booking: res.Booking})
}

// Availability handles GET /v1/classes/:id/availability.
func (h *BookingHandler) Availability(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	classID, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid class id")
	}
	av, err := h.Orch.ClassAvailability(c.Request().Context(), a, classID)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, av)
}

// GetBooking handles GET /v1/bookings/:id.
func (h *BookingHandler) GetBooking(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	b, err := h.Orch.GetBooking(c.Request().Context(), a, id)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, b)
}

type cancelReq struct {
	AsOf *time.Time `json:"as_of"`
}

// Cancel handles POST /v1/bookings/:id/cancel.  The optional as_of decides
// whether the cancellation counts as late.
func (h *BookingHandler) Cancel(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	id, ok := idParam(c, "id")
	if !ok {
		return badRequest(c, "invalid booking id")
	}
	var body cancelReq
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	var asOf time.Time
	if body.AsOf != nil {
		asOf = *body.AsOf
	}
	ctx := c.Request().Context()
	b, err := h.Orch.Cancel(ctx, a, id, asOf)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	h.Cache.Invalidate(ctx, b.StudioID, b.ClassInstanceID)
	return c.JSON(http.StatusOK, b)
}

type validateCouponReq struct {
	Code           string            `json:"code"`
	AppliesTo      model.CouponScope `json:"applies_to"`
	BasePriceCents *int64            `json:"base_price_cents"`
}

// ValidateCoupon handles POST /v1/coupons/validate.  An unusable code is
// a 200 with valid=false and a reason.
func (h *BookingHandler) ValidateCoupon(c echo.Context) error {
	a, ok := actorOf(c)
	if !ok {
		return unauthorized(c)
	}
	var body validateCouponReq
	if err := c.Bind(&body); err != nil {
		return badRequest(c, "invalid request body")
	}
	if strings.TrimSpace(body.Code) == "" {
		return badRequest(c, "code is required")
	}
	if body.BasePriceCents != nil && *body.BasePriceCents < 0 {
		return badRequest(c, "base_price_cents must not be negative")
	}
	q, err := h.Orch.ValidateCoupon(c.Request().Context(), a, body.Code, body.AppliesTo, body.BasePriceCents)
	if err != nil {
		return writeError(c, h.Log, err)
	}
	return c.JSON(http.StatusOK, q)
}
