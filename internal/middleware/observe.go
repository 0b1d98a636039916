package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/metrics"
)

// Observe logs one line per request and records request metrics labelled
// by route pattern, not raw path, to keep cardinality bounded.
func Observe(log *zap.Logger, m *metrics.Collector) echo.MiddlewareFunc {
	if log == nil {
		log = zap.NewNop()
	}
	log = log.Named("http")
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo's error handler write the response so the status is known.
				c.Error(err)
			}
			elapsed := time.Since(start)
			req := c.Request()
			status := c.Response().Status
			route := c.Path()
			m.RecordHTTPRequest(req.Method, route, status, elapsed)

			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("route", route),
				zap.String("path", req.URL.Path),
				zap.Int("status", status),
				zap.Duration("latency", elapsed),
				zap.String("remote_ip", c.RealIP()),
			}
			if a, ok := ActorFrom(c); ok {
				fields = append(fields, zap.Uint64("member_id", a.MemberID), zap.Uint64("studio_id", a.StudioID))
			}
			switch {
			case status >= 500:
				log.Error("request", append(fields, zap.Error(err))...)
			case status >= 400:
				log.Info("request", fields...)
			default:
				log.Debug("request", fields...)
			}
			return nil
		}
	}
}
