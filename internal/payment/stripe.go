// Package payment implements the payment collaborator: a Stripe
// PaymentIntent gateway with webhook verification, and a manual gateway for
// studios that take payment at the front desk.
package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/paymentintent"
	"github.com/stripe/stripe-go/v82/webhook"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/service"
)

// MetadataPaymentRef is the PaymentIntent metadata key carrying the
// booking's payment reference.
const MetadataPaymentRef = "payment_ref"

// ErrMissingPaymentRef is returned for a payment event that does not carry a
// payment reference in its metadata.
var ErrMissingPaymentRef = errors.New("payment event without payment_ref metadata")

// StripeGateway creates PaymentIntents for drop-in prices.
type StripeGateway struct {
	webhookSecret string
}

// NewStripeGateway sets the Stripe API key and returns a gateway.
func NewStripeGateway(secretKey, webhookSecret string) (*StripeGateway, error) {
	if secretKey == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripe.Key = secretKey
	return &StripeGateway{webhookSecret: webhookSecret}, nil
}

// CreateCheckout creates a PaymentIntent for the drop-in amount.  The
// payment reference doubles as the idempotency key so a retried request
// never creates a second intent.
func (g *StripeGateway) CreateCheckout(_ context.Context, req service.CheckoutRequest) (*service.Checkout, error) {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountCents),
		Currency: stripe.String(req.Currency),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
		Metadata: map[string]string{
			MetadataPaymentRef: req.PaymentRef,
			"booking_id":       strconv.FormatUint(req.BookingID, 10),
			"member_id":        strconv.FormatUint(req.MemberID, 10),
			"studio_id":        strconv.FormatUint(req.StudioID, 10),
		},
	}
	params.SetIdempotencyKey(req.PaymentRef)

	pi, err := paymentintent.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	return &service.Checkout{ProviderRef: pi.ID, ClientSecret: pi.ClientSecret}, nil
}

// ParseWebhook verifies a webhook with the gateway's signing secret.
func (g *StripeGateway) ParseWebhook(payload []byte, signature string) (*WebhookResult, error) {
	return ParseWebhook(payload, signature, g.webhookSecret)
}

// WebhookResult is a verified payment outcome.  Handled is false for event
// types the engine does not act on.
type WebhookResult struct {
	EventID    string
	EventType  string
	PaymentRef string
	Outcome    model.PaymentOutcome
	Handled    bool
}

// ParseWebhook verifies the Stripe-Signature header and extracts the
// payment reference and outcome of payment_intent.succeeded and
// payment_intent.payment_failed events.
func ParseWebhook(payload []byte, signature, secret string) (*WebhookResult, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("verify webhook: %w", err)
	}
	res := &WebhookResult{EventID: event.ID, EventType: string(event.Type)}
	switch event.Type {
	case "payment_intent.succeeded":
		res.Outcome = model.OutcomeSucceeded
	case "payment_intent.payment_failed":
		res.Outcome = model.OutcomeFailed
	default:
		return res, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("parse %s: %w", event.Type, err)
	}
	res.PaymentRef = pi.Metadata[MetadataPaymentRef]
	if res.PaymentRef == "" {
		return nil, ErrMissingPaymentRef
	}
	res.Handled = true
	return res, nil
}

// ManualGateway is used when no Stripe key is configured.  It hands back
// the reference only; staff resolve the payment by hand.
type ManualGateway struct{}

// CreateCheckout returns the payment reference as the provider reference.
func (ManualGateway) CreateCheckout(_ context.Context, req service.CheckoutRequest) (*service.Checkout, error) {
	return &service.Checkout{ProviderRef: req.PaymentRef}, nil
}

var (
	_ service.PaymentGateway = (*StripeGateway)(nil)
	_ service.PaymentGateway = ManualGateway{}
)
