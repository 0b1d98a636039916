// Package metrics exposes the booking engine's Prometheus instruments.  A
// Collector owns its own registry so tests can build as many as they like
// without tripping over the global default registry.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "studio_booking"

// Collector groups the engine's counters and histograms.  A nil *Collector
// is valid and records nothing.
type Collector struct {
	registry *prometheus.Registry

	Reservations      *prometheus.CounterVec
	ReserveDuration   prometheus.Histogram
	Cancellations     *prometheus.CounterVec
	Promotions        *prometheus.CounterVec
	ConflictRetries   prometheus.Counter
	CouponRedemptions *prometheus.CounterVec
	PaymentsResolved  *prometheus.CounterVec
	HTTPRequests      *prometheus.CounterVec
	HTTPDuration      *prometheus.HistogramVec
}

// New builds a Collector and registers every instrument on a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{
		registry: reg,
		Reservations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reservations_total",
			Help:      "Reservation attempts by outcome (booked, waitlisted, payment_required, error kind).",
		}, []string{"outcome"}),
		ReserveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "reserve_duration_seconds",
			Help:      "Latency of the reserve operation including conflict retries.",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		Cancellations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cancellations_total",
			Help:      "Cancellations by timing (early, late).",
		}, []string{"timing"}),
		Promotions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "waitlist_promotions_total",
			Help:      "Waitlist promotion attempts by result.",
		}, []string{"result"}),
		ConflictRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "concurrency_conflict_retries_total",
			Help:      "Reservations retried after a lost conditional update.",
		}),
		CouponRedemptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "coupon_redemptions_total",
			Help:      "Coupon redemption attempts by result.",
		}, []string{"result"}),
		PaymentsResolved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_resolved_total",
			Help:      "Drop-in payment callbacks by outcome.",
		}, []string{"outcome"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code.",
		}, []string{"method", "path", "status_code"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency by method and route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
	reg.MustRegister(
		c.Reservations, c.ReserveDuration, c.Cancellations, c.Promotions, c.ConflictRetries,
		c.CouponRedemptions, c.PaymentsResolved, c.HTTPRequests, c.HTTPDuration,
	)
	return c
}

// Registry returns the collector's registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordReservation(outcome string, d time.Duration) {
	if c == nil {
		return
	}
	c.Reservations.WithLabelValues(outcome).Inc()
	c.ReserveDuration.Observe(d.Seconds())
}

func (c *Collector) RecordCancellation(late bool) {
	if c == nil {
		return
	}
	timing := "early"
	if late {
		timing = "late"
	}
	c.Cancellations.WithLabelValues(timing).Inc()
}

func (c *Collector) RecordPromotion(result string) {
	if c == nil {
		return
	}
	c.Promotions.WithLabelValues(result).Inc()
}

func (c *Collector) RecordConflictRetry() {
	if c == nil {
		return
	}
	c.ConflictRetries.Inc()
}

func (c *Collector) RecordCouponRedemption(result string) {
	if c == nil {
		return
	}
	c.CouponRedemptions.WithLabelValues(result).Inc()
}

func (c *Collector) RecordPayment(outcome string) {
	if c == nil {
		return
	}
	c.PaymentsResolved.WithLabelValues(outcome).Inc()
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, d time.Duration) {
	if c == nil {
		return
	}
	c.HTTPRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.HTTPDuration.WithLabelValues(method, path).Observe(d.Seconds())
}
