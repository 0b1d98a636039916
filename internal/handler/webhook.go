package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/middleware"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/payment"
	"github.com/iliyamo/studio-booking/internal/service"
)

const maxWebhookBytes = 1 << 16

// WebhookHandler receives payment outcomes from Stripe.
type WebhookHandler struct {
	Orch   *service.Orchestrator
	Secret string
	Cache  *middleware.AvailabilityCache
	Log    *zap.Logger
}

func NewWebhookHandler(orch *service.Orchestrator, secret string, cache *middleware.AvailabilityCache, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{Orch: orch, Secret: secret, Cache: cache, Log: logging.OrNop(log).Named("webhook")}
}

// Stripe handles POST /v1/payments/stripe/webhook.  Unknown event types and
// unknown payment references are acknowledged so Stripe stops retrying;
// storage failures answer 500 so it retries.
func (h *WebhookHandler) Stripe(c echo.Context) error {
	payload, err := io.ReadAll(io.LimitReader(c.Request().Body, maxWebhookBytes))
	if err != nil {
		return badRequest(c, "unreadable body")
	}
	res, err := payment.ParseWebhook(payload, c.Request().Header.Get("Stripe-Signature"), h.Secret)
	if err != nil {
		h.Log.Warn("rejected webhook", zap.Error(err))
		return badRequest(c, "invalid webhook")
	}
	log := h.Log.With(zap.String("event_id", res.EventID), zap.String("event_type", res.EventType))
	if !res.Handled {
		log.Debug("ignored webhook event")
		return c.JSON(http.StatusOK, echo.Map{"received": true})
	}

	ctx := c.Request().Context()
	b, err := h.Orch.OnPaymentResolved(ctx, res.PaymentRef, res.Outcome)
	if err != nil {
		if model.IsNotFound(err) {
			log.Warn("payment for unknown booking", zap.String("payment_ref", res.PaymentRef))
			return c.JSON(http.StatusOK, echo.Map{"received": true})
		}
		log.Error("apply payment outcome", zap.String("payment_ref", res.PaymentRef), zap.Error(err))
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "internal error"})
	}
	h.Cache.Invalidate(ctx, b.StudioID, b.ClassInstanceID)
	log.Info("payment applied",
		zap.String("payment_ref", res.PaymentRef), zap.Uint64("booking_id", b.ID), zap.String("status", string(b.Status)))
	return c.JSON(http.StatusOK, echo.Map{"received": true, "booking_id": b.ID, "status": b.Status})
}
