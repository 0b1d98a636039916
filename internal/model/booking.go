package model

import "time"

// BookingStatus enumerates the states of a booking.
type BookingStatus string

const (
	BookingBooked         BookingStatus = "booked"
	BookingConfirmed      BookingStatus = "confirmed"
	BookingWaitlisted     BookingStatus = "waitlisted"
	BookingCancelled      BookingStatus = "cancelled"
	BookingNoShow         BookingStatus = "no_show"
	BookingPendingPayment BookingStatus = "pending_payment"
)

// HoldsSeat reports whether a booking in this status occupies a seat of the
// class.  A no-show consumed its seat, so it still counts.
func (s BookingStatus) HoldsSeat() bool {
	return s == BookingBooked || s == BookingConfirmed || s == BookingNoShow
}

// Active reports whether the booking still participates in the class, i.e.
// it is neither cancelled nor a no-show.
func (s BookingStatus) Active() bool {
	switch s {
	case BookingBooked, BookingConfirmed, BookingWaitlisted, BookingPendingPayment:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed.
func (s BookingStatus) Terminal() bool {
	return s == BookingCancelled || s == BookingNoShow
}

// PaymentStatus tracks the outcome of an external drop-in payment.
type PaymentStatus string

const (
	PaymentNone    PaymentStatus = "none"
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Booking links one member to one class instance.  Rows are never deleted:
// cancellation and no-show are statuses, which keeps occupancy history and
// billing audit trails intact.
//
// Fields:
//
//	ID               – primary key identifier.
//	MemberID         – member holding the booking.
//	StudioID         – studio of the class (tenant partition key).
//	ClassInstanceID  – class being attended.
//	Status           – see BookingStatus.
//	Spot             – seat label, unique among seat-holding bookings.
//	RequestedSpot    – spot asked for at reservation time; kept so a paid or
//	                   pending booking can claim it later.
//	WaitlistPosition – monotonic position; meaningful while waitlisted.
//	CreditRef        – credit reservation paying for the seat.
//	PaymentRef       – external payment reference for drop-ins.
//	PaymentStatus    – none, pending, paid or failed.
//	PriceCents       – charged price after discount (drop-ins only).
//	CouponCode       – coupon applied to the price, if any.
//	LateCancel       – set when cancelled inside the cancellation window.
type Booking struct {
	ID               uint64        `json:"id"`
	MemberID         uint64        `json:"member_id"`
	StudioID         uint64        `json:"studio_id"`
	ClassInstanceID  uint64        `json:"class_instance_id"`
	Status           BookingStatus `json:"status"`
	Spot             *string       `json:"spot,omitempty"`
	RequestedSpot    *string       `json:"requested_spot,omitempty"`
	WaitlistPosition *int          `json:"waitlist_position,omitempty"`
	CreditRef        *string       `json:"credit_ref,omitempty"`
	PaymentRef       *string       `json:"payment_ref,omitempty"`
	PaymentStatus    PaymentStatus `json:"payment_status"`
	PriceCents       *int64        `json:"price_cents,omitempty"`
	CouponCode       *string       `json:"coupon_code,omitempty"`
	LateCancel       bool          `json:"late_cancel"`
	BookedAt         *time.Time    `json:"booked_at,omitempty"`
	ConfirmedAt      *time.Time    `json:"confirmed_at,omitempty"`
	CancelledAt      *time.Time    `json:"cancelled_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
}

// Paid reports whether the booking was settled by an external payment.
func (b *Booking) Paid() bool { return b.PaymentStatus == PaymentPaid }

// Clone returns a deep copy so callers can hand bookings out without sharing
// pointer fields.
func (b *Booking) Clone() *Booking {
	if b == nil {
		return nil
	}
	c := *b
	c.Spot = cloneStr(b.Spot)
	c.RequestedSpot = cloneStr(b.RequestedSpot)
	c.CreditRef = cloneStr(b.CreditRef)
	c.PaymentRef = cloneStr(b.PaymentRef)
	c.CouponCode = cloneStr(b.CouponCode)
	if b.WaitlistPosition != nil {
		p := *b.WaitlistPosition
		c.WaitlistPosition = &p
	}
	if b.PriceCents != nil {
		p := *b.PriceCents
		c.PriceCents = &p
	}
	c.BookedAt = cloneTime(b.BookedAt)
	c.ConfirmedAt = cloneTime(b.ConfirmedAt)
	c.CancelledAt = cloneTime(b.CancelledAt)
	return &c
}

func cloneStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// PaymentRequired is the control-flow signal returned by a reservation that
// could not be paid from credit.  The external payment collaborator settles
// AmountCents out of band and reports back through onPaymentResolved.
type PaymentRequired struct {
	BookingID    uint64 `json:"booking_id"`
	PaymentRef   string `json:"payment_ref"`
	AmountCents  int64  `json:"amount_cents"`
	BaseCents    int64  `json:"base_cents"`
	Currency     string `json:"currency"`
	ClientSecret string `json:"client_secret,omitempty"`
	CouponCode   string `json:"coupon_code,omitempty"`
}
