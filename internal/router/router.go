// Package router wires handlers and middleware onto an echo instance.
package router

import (
	"net/http"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/config"
	"github.com/iliyamo/studio-booking/internal/handler"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/middleware"
)

// Deps is everything the HTTP surface needs.  Redis, Metrics and DB may be
// nil; the matching features are then off.
type Deps struct {
	Bookings  *handler.BookingHandler
	Staff     *handler.StaffHandler
	Webhooks  *handler.WebhookHandler
	Cache     *middleware.AvailabilityCache
	DB        handler.Pinger
	Redis     *redis.Client
	RateLimit config.RateLimitConfig
	JWTSecret string
	Metrics   *metrics.Collector
	Log       *zap.Logger
}

// New builds the echo instance with every route registered.
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(middleware.Observe(d.Log, d.Metrics))

	RegisterRoutes(e, d)
	limiter := middleware.NewTokenBucket(d.RateLimit, d.Redis, d.Log)
	RegisterMember(e, d.Bookings, d.Cache, d.JWTSecret, limiter)
	RegisterStaff(e, d.Staff, d.JWTSecret, limiter)
	return e
}

// RegisterRoutes registers the unauthenticated endpoints: health, metrics
// and the payment webhook, which authenticates by signature.
func RegisterRoutes(e *echo.Echo, d Deps) {
	e.GET("/healthz", handler.Health(d.DB))
	if d.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))
	} else {
		e.GET("/metrics", func(c echo.Context) error { return c.NoContent(http.StatusNotFound) })
	}
	if d.Webhooks != nil {
		e.POST("/v1/payments/stripe/webhook", d.Webhooks.Stripe)
	}
}
