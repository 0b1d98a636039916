package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
)

// RegisterStaff registers STAFF-only endpoints under /v1/staff.
func RegisterStaff(e *echo.Echo, h *handler.StaffHandler, jwtSecret string, limiter echo.MiddlewareFunc) {
	g := e.Group(
		"/v1/staff",
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleStaff),
		limiter,
	)
	g.POST("/coupons", h.CreateCoupon)
	g.PUT("/classes/:id/capacity", h.AdjustCapacity)
	g.POST("/bookings/:id/check-in", h.CheckIn)
	g.POST("/bookings/:id/no-show", h.NoShow)
	g.POST("/payments/:ref/resolve", h.ResolvePayment)
}
