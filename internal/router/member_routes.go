package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
)

// RegisterMember registers the endpoints open to members and staff of a
// studio.  Tenant and ownership checks happen in the orchestrator.
func RegisterMember(e *echo.Echo, h *handler.BookingHandler, cache *middleware.AvailabilityCache, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleMember, model.RoleStaff),
		limiter,
	)
	g.POST("/classes/:id/reservations", h.Reserve)
	g.GET("/classes/:id/availability", h.Availability, cache.Middleware())
	g.GET("/bookings/:id", h.GetBooking)
	g.POST("/bookings/:id/cancel", h.Cancel)
	g.POST("/coupons/validate", h.ValidateCoupon)
}
