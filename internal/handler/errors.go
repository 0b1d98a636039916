package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
)

// writeError maps engine errors onto HTTP statuses.  Anything unknown is
// logged and reported as a 500 without internals.
func writeError(c echo.Context, log *zap.Logger, err error) error {
	var ice *model.InvalidCouponError
	if errors.As(err, &ice) {
		return c.JSON(http.StatusUnprocessableEntity, echo.Map{
			"error": "invalid_coupon", "code": ice.Code, "reason": ice.Reason,
		})
	}
	var ce *model.CapacityError
	if errors.As(err, &ce) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "capacity", "message": ce.Reason})
	}

	switch {
	case model.IsNotFound(err):
		return c.JSON(http.StatusNotFound, echo.Map{"error": "not_found", "message": err.Error()})
	case errors.Is(err, model.ErrForbidden):
		return c.JSON(http.StatusForbidden, echo.Map{"error": "forbidden"})
	case errors.Is(err, model.ErrNoCreditAvailable):
		return c.JSON(http.StatusPaymentRequired, echo.Map{"error": "no_credit_available"})
	case errors.Is(err, model.ErrInvalidCouponDefinition):
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid_coupon_definition", "message": err.Error()})
	}

	for _, e := range []struct {
		err  error
		code string
	}{
		{model.ErrNotBookable, "not_bookable"},
		{model.ErrSpotTaken, "spot_taken"},
		{model.ErrAlreadyBooked, "already_booked"},
		{model.ErrInvalidTransition, "invalid_transition"},
		{model.ErrCouponExists, "coupon_exists"},
		{model.ErrAlreadyRedeemed, "already_redeemed"},
		{model.ErrRedemptionLimitReached, "redemption_limit_reached"},
		{model.ErrConcurrencyConflict, "concurrency_conflict"},
	} {
		if errors.Is(err, e.err) {
			return c.JSON(http.StatusConflict, echo.Map{"error": e.code, "message": err.Error()})
		}
	}

	log.Error("request failed", zap.String("route", c.Path()), zap.Error(err))
	return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
}

func unauthorized(c echo.Context) error {
	return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
}

func badRequest(c echo.Context, msg string) error {
	return c.JSON(http.StatusBadRequest, echo.Map{"error": msg})
}

func actorOf(c echo.Context) (model.Actor, bool) {
	return middleware.ActorFrom(c)
}

// idParam parses a positive numeric path parameter.
func idParam(c echo.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	return id, err == nil && id > 0
}
