// Package queue defines the messages the booking engine publishes to
// RabbitMQ, the publisher that sends them, and the billing consumer that
// hands late-cancellation and refund records to the billing collaborator.
package queue

import "time"

// Exchange is the topic exchange every event is published to.
const Exchange = "studio.events"

// Routing keys.  Booking events feed notifications; billing events are
// consumed by StartBillingConsumer.
const (
	BookingConfirmed  = "booking.confirmed"
	BookingWaitlisted = "booking.waitlisted"
	BookingPromoted   = "booking.promoted"
	BookingCancelled  = "booking.cancelled"

	BillingLateCancellation = "billing.late_cancellation"
	BillingRefundDue        = "billing.refund_due"
)

// BookingEvent is published on every booking status change.  It carries
// enough for a notifier to message the member without reading the database.
type BookingEvent struct {
	BookingID        uint64    `json:"booking_id"`
	MemberID         uint64    `json:"member_id"`
	StudioID         uint64    `json:"studio_id"`
	ClassInstanceID  uint64    `json:"class_instance_id"`
	Status           string    `json:"status"`
	Spot             string    `json:"spot,omitempty"`
	WaitlistPosition int       `json:"waitlist_position,omitempty"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// BillingEvent asks the billing collaborator to act on money: collect a late
// fee by hand or refund a paid drop-in.  The engine never charges itself.
type BillingEvent struct {
	Kind            string    `json:"kind"`
	BookingID       uint64    `json:"booking_id"`
	MemberID        uint64    `json:"member_id"`
	StudioID        uint64    `json:"studio_id"`
	ClassInstanceID uint64    `json:"class_instance_id"`
	PaymentRef      string    `json:"payment_ref,omitempty"`
	AmountCents     int64     `json:"amount_cents,omitempty"`
	Currency        string    `json:"currency,omitempty"`
	CreditForfeited bool      `json:"credit_forfeited"`
	Reason          string    `json:"reason,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}
