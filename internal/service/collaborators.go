package service

import (
	"context"

	"github.com/iliyamo/studio-booking/internal/model"
)

// EventPublisher sends a payload under a routing key.  Publishing is best
// effort: the orchestrator logs failures and carries on.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// CheckoutRequest asks the payment collaborator to collect a drop-in price.
type CheckoutRequest struct {
	PaymentRef  string
	BookingID   uint64
	MemberID    uint64
	StudioID    uint64
	AmountCents int64
	Currency    string
}

// Checkout is the collaborator's answer: an opaque secret the client uses to
// complete payment.
type Checkout struct {
	ProviderRef  string
	ClientSecret string
}

// PaymentGateway is the external payment collaborator.  The outcome comes
// back later through Orchestrator.OnPaymentResolved.
type PaymentGateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
}

var _ Promoter = (*Orchestrator)(nil)

// spotOf and positionOf flatten optional booking fields for events.
func spotOf(b *model.Booking) string {
	if b.Spot == nil {
		return ""
	}
	return *b.Spot
}

func positionOf(b *model.Booking) int {
	if b.WaitlistPosition == nil {
		return 0
	}
	return *b.WaitlistPosition
}
