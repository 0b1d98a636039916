package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/queue"
)

// Cancel cancels a booking as of asOf (zero means now).  Inside the
// studio's cancellation window the cancellation is late: the booking is
// flagged, billing is told, and the credit or payment is kept when the
// studio forfeits late cancellations.  A freed seat is offered to the
// waitlist.  Cancelling a booking that is already cancelled or a no-show
// returns it unchanged.
func (o *Orchestrator) Cancel(ctx context.Context, actor model.Actor, bookingID uint64, asOf time.Time) (*model.Booking, error) {
	b, err := o.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(b) {
		return nil, model.ErrForbidden
	}
	studio, err := o.classes.GetStudio(ctx, b.StudioID)
	if err != nil {
		return nil, err
	}
	if b.Status.Terminal() {
		o.convergeCancelled(ctx, b, studio)
		return b, nil
	}
	class, err := o.classes.GetClass(ctx, b.ClassInstanceID)
	if err != nil {
		return nil, err
	}
	now := o.clock.now()
	if asOf.IsZero() {
		asOf = now
	}
	start, err := class.StartsAt(studio.Location())
	if err != nil {
		return nil, err
	}
	// The booking may be promoted between the read above and the release,
	// so everything below is derived from the row the store cancelled.
	req := model.ReleaseRequest{At: now, LateIfSeated: studio.IsLateCancellation(asOf, start)}
	out, err := o.capacity.ReleaseSeat(ctx, b.ID, req, o)
	if err != nil {
		return nil, err
	}
	released := out.Released.Booking
	if !out.Released.Changed {
		// A concurrent cancel won; it did the unwinding.
		return released, nil
	}

	log := o.log.With(zap.Uint64("booking_id", b.ID), zap.Uint64("class_instance_id", b.ClassInstanceID))
	late := released.LateCancel
	forfeit := late && studio.LateCancelForfeitsCredit
	if released.CreditRef != nil && !forfeit {
		o.releaseCredit(ctx, *released.CreditRef)
	}
	if released.Paid() && !forfeit {
		o.publishRefund(ctx, released, "booking cancelled")
	}
	if late {
		o.publishLateCancellation(ctx, released, studio, forfeit)
	}
	o.publishBooking(ctx, queue.BookingCancelled, released)
	if out.Promoted != nil {
		o.publishBooking(ctx, queue.BookingPromoted, out.Promoted)
	}
	o.metrics.RecordCancellation(late)
	log.Info("booking cancelled",
		zap.Bool("late", late), zap.Bool("forfeit", forfeit), zap.Bool("promoted", out.Promoted != nil))
	return released, nil
}

// convergeCancelled repeats the idempotent credit release of a cancelled
// booking so a cancel that died between its two writes still refunds.
func (o *Orchestrator) convergeCancelled(ctx context.Context, b *model.Booking, studio *model.Studio) {
	if b.Status != model.BookingCancelled || b.CreditRef == nil {
		return
	}
	if b.LateCancel && studio.LateCancelForfeitsCredit {
		return
	}
	o.releaseCredit(ctx, *b.CreditRef)
}

// AcquireForPromotion reserves credit for a waitlisted booking about to be
// promoted.  A booking paid as a drop-in needs nothing.
func (o *Orchestrator) AcquireForPromotion(ctx context.Context, b *model.Booking) (*string, error) {
	if b.Paid() {
		return nil, nil
	}
	ref := uuid.NewString()
	if _, err := o.credits.ReserveCredit(ctx, ref, b.MemberID, b.StudioID, PlanContext{At: o.clock.now()}); err != nil {
		return nil, err
	}
	return &ref, nil
}

// AbandonPromotion gives back credit acquired for a promotion that did not
// happen.
func (o *Orchestrator) AbandonPromotion(ctx context.Context, _ *model.Booking, creditRef *string) {
	if creditRef != nil {
		o.releaseCredit(ctx, *creditRef)
	}
}

// CheckIn marks a booked member as attended.
func (o *Orchestrator) CheckIn(ctx context.Context, actor model.Actor, bookingID uint64) (*model.Booking, error) {
	return o.staffTransition(ctx, actor, bookingID,
		[]model.BookingStatus{model.BookingBooked}, model.BookingConfirmed)
}

// MarkNoShow records that a seated member did not attend.  The seat stays
// counted and no credit is refunded.
func (o *Orchestrator) MarkNoShow(ctx context.Context, actor model.Actor, bookingID uint64) (*model.Booking, error) {
	return o.staffTransition(ctx, actor, bookingID,
		[]model.BookingStatus{model.BookingBooked, model.BookingConfirmed}, model.BookingNoShow)
}

func (o *Orchestrator) staffTransition(ctx context.Context, actor model.Actor, bookingID uint64, from []model.BookingStatus, to model.BookingStatus) (*model.Booking, error) {
	if !actor.IsStaff() {
		return nil, model.ErrForbidden
	}
	b, err := o.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(b) {
		return nil, model.ErrForbidden
	}
	out, err := o.bookings.TransitionStatus(ctx, bookingID, from, to, o.clock.now())
	if err != nil {
		return nil, err
	}
	o.log.Info("booking status changed",
		zap.Uint64("booking_id", bookingID), zap.String("from", string(b.Status)), zap.String("to", string(to)))
	return out, nil
}

// AdjustCapacity is the admin capacity change.  Shrinking below the seats
// already held is rejected; growing promotes waitlisted members.
func (o *Orchestrator) AdjustCapacity(ctx context.Context, actor model.Actor, classID uint64, capacity int) (*model.ClassInstance, error) {
	if !actor.IsStaff() {
		return nil, model.ErrForbidden
	}
	class, err := o.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.StudioID != actor.StudioID {
		return nil, model.ErrForbidden
	}
	c, promoted, err := o.capacity.ChangeCapacity(ctx, classID, capacity, o)
	if err != nil && c == nil {
		return nil, err
	}
	if err != nil {
		o.log.Warn("promotion after capacity change stopped", zap.Uint64("class_instance_id", classID), zap.Error(err))
	}
	for _, b := range promoted {
		o.publishBooking(ctx, queue.BookingPromoted, b)
	}
	if len(promoted) > 0 {
		if fresh, err := o.classes.GetClass(ctx, classID); err == nil {
			c = fresh
		}
	}
	o.log.Info("capacity changed",
		zap.Uint64("class_instance_id", classID), zap.Int("capacity", c.MaxCapacity), zap.Int("promoted", len(promoted)))
	return c, nil
}

// ResolvePayment is the staff entry point for recording a payment outcome
// by hand, for studios without an online gateway.
func (o *Orchestrator) ResolvePayment(ctx context.Context, actor model.Actor, paymentRef string, outcome model.PaymentOutcome) (*model.Booking, error) {
	if !actor.IsStaff() {
		return nil, model.ErrForbidden
	}
	b, err := o.bookings.GetBookingByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	if b.StudioID != actor.StudioID {
		return nil, model.ErrForbidden
	}
	return o.OnPaymentResolved(ctx, paymentRef, outcome)
}

// ClassAvailability returns the seat counters of a class of the actor's
// studio.
func (o *Orchestrator) ClassAvailability(ctx context.Context, actor model.Actor, classID uint64) (*model.Availability, error) {
	class, err := o.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, err
	}
	if class.StudioID != actor.StudioID {
		return nil, model.ErrForbidden
	}
	return o.capacity.Availability(ctx, classID)
}

// CouponQuote is a validation plus the resulting price when a base price
// was given.
type CouponQuote struct {
	*Validation
	BasePriceCents *int64 `json:"base_price_cents,omitempty"`
	PriceCents     *int64 `json:"price_cents,omitempty"`
}

// ValidateCoupon checks a code for the actor without redeeming it.
func (o *Orchestrator) ValidateCoupon(ctx context.Context, actor model.Actor, code string, target model.CouponScope, basePrice *int64) (*CouponQuote, error) {
	if target == "" {
		target = model.ScopeDropIn
	}
	v, err := o.coupons.Validate(ctx, actor.StudioID, code, AppliesToContext{
		Target: target, MemberID: actor.MemberID, At: o.clock.now(),
	})
	if err != nil {
		return nil, err
	}
	q := &CouponQuote{Validation: v, BasePriceCents: basePrice}
	if v.Valid && basePrice != nil {
		p := ComputeDiscount(*basePrice, *v.Discount)
		q.PriceCents = &p
	}
	return q, nil
}

// GetBooking returns a booking visible to the actor.
func (o *Orchestrator) GetBooking(ctx context.Context, actor model.Actor, bookingID uint64) (*model.Booking, error) {
	b, err := o.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(b) {
		return nil, model.ErrForbidden
	}
	return b, nil
}

func (o *Orchestrator) publishLateCancellation(ctx context.Context, b *model.Booking, studio *model.Studio, forfeit bool) {
	ev := queue.BillingEvent{
		Kind:            queue.BillingLateCancellation,
		BookingID:       b.ID,
		MemberID:        b.MemberID,
		StudioID:        b.StudioID,
		ClassInstanceID: b.ClassInstanceID,
		Currency:        studio.Currency,
		CreditForfeited: forfeit,
		Reason:          "cancelled inside the cancellation window",
		OccurredAt:      o.clock.now(),
	}
	if b.PaymentRef != nil {
		ev.PaymentRef = *b.PaymentRef
	}
	o.publish(ctx, queue.BillingLateCancellation, ev)
}
