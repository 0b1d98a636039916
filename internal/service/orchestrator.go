package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/queue"
)

// DefaultMaxAttempts bounds automatic retries of a reservation that lost a
// conditional update.
const DefaultMaxAttempts = 3

// Deps bundles the orchestrator's collaborators.  Payments and Events may be
// nil: without a gateway drop-ins still produce a PaymentRequired carrying
// only the reference, without a publisher events are dropped.
type Deps struct {
	Classes     ClassReader
	Bookings    BookingStore
	Capacity    *CapacityLedger
	Credits     *CreditLedger
	Coupons     *CouponEvaluator
	Payments    PaymentGateway
	Events      EventPublisher
	Clock       Clock
	Log         *zap.Logger
	Metrics     *metrics.Collector
	MaxAttempts int
}

// Orchestrator runs reserve, cancel and payment resolution as business
// transactions over the three ledgers.  Every step that debits credit or
// claims a seat is compensated before an error leaves the orchestrator.
type Orchestrator struct {
	classes     ClassReader
	bookings    BookingStore
	capacity    *CapacityLedger
	credits     *CreditLedger
	coupons     *CouponEvaluator
	payments    PaymentGateway
	events      EventPublisher
	clock       Clock
	log         *zap.Logger
	metrics     *metrics.Collector
	maxAttempts int
}

// NewOrchestrator builds an Orchestrator from d.
func NewOrchestrator(d Deps) *Orchestrator {
	if d.Classes == nil || d.Bookings == nil || d.Capacity == nil || d.Credits == nil || d.Coupons == nil {
		panic("nil dependency passed to NewOrchestrator")
	}
	attempts := d.MaxAttempts
	if attempts < 1 {
		attempts = DefaultMaxAttempts
	}
	return &Orchestrator{
		classes:     d.Classes,
		bookings:    d.Bookings,
		capacity:    d.Capacity,
		credits:     d.Credits,
		coupons:     d.Coupons,
		payments:    d.Payments,
		events:      d.Events,
		clock:       d.Clock,
		log:         logging.OrNop(d.Log).Named("orchestrator"),
		metrics:     d.Metrics,
		maxAttempts: attempts,
	}
}

// ReserveRequest is the input of Reserve.
type ReserveRequest struct {
	ClassInstanceID uint64
	CouponCode      string
	RequestedSpot   *string
}

// ReserveResult is either a booking (booked or waitlisted) or, when no
// credit could pay, a pending booking plus the PaymentRequired signal.
type ReserveResult struct {
	Booking         *model.Booking
	PaymentRequired *model.PaymentRequired
	State           AttemptState
}

// Reserve books actor into a class.  Lost conditional updates
// (model.ErrConcurrencyConflict) retry the whole attempt up to the
// configured bound; every other error surfaces unchanged.
func (o *Orchestrator) Reserve(ctx context.Context, actor model.Actor, req ReserveRequest) (*ReserveResult, error) {
	start := time.Now()
	var res *ReserveResult
	var err error
	for i := 1; i <= o.maxAttempts; i++ {
		res, err = o.reserveOnce(ctx, actor, req)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			break
		}
		o.metrics.RecordConflictRetry()
		o.log.Info("reservation lost a race, retrying",
			zap.Uint64("class_instance_id", req.ClassInstanceID),
			zap.Uint64("member_id", actor.MemberID),
			zap.Int("attempt", i))
	}
	o.metrics.RecordReservation(reserveOutcome(res, err), time.Since(start))
	return res, err
}

func reserveOutcome(res *ReserveResult, err error) string {
	var ice *model.InvalidCouponError
	switch {
	case err == nil && res.PaymentRequired != nil:
		return "payment_required"
	case err == nil:
		return string(res.Booking.Status)
	case errors.Is(err, model.ErrNotBookable):
		return "not_bookable"
	case errors.Is(err, model.ErrSpotTaken):
		return "spot_taken"
	case errors.Is(err, model.ErrAlreadyBooked):
		return "already_booked"
	case errors.Is(err, model.ErrNoCreditAvailable):
		return "no_credit"
	case errors.Is(err, model.ErrConcurrencyConflict):
		return "conflict"
	case errors.As(err, &ice):
		return "invalid_coupon"
	case model.IsCapacityError(err):
		return "capacity_error"
	}
	return "error"
}

func (o *Orchestrator) reserveOnce(ctx context.Context, actor model.Actor, req ReserveRequest) (*ReserveResult, error) {
	log := o.log.With(zap.Uint64("class_instance_id", req.ClassInstanceID), zap.Uint64("member_id", actor.MemberID))
	a := newAttempt(log)
	now := o.clock.now()

	class, studio, err := o.loadBookable(ctx, actor.StudioID, req.ClassInstanceID, now)
	if err != nil {
		return nil, a.abort(err)
	}

	var discount *model.Discount
	if NormalizeCode(req.CouponCode) != "" {
		v, err := o.coupons.Validate(ctx, studio.ID, req.CouponCode, AppliesToContext{
			Target: model.ScopeDropIn, MemberID: actor.MemberID, At: now,
		})
		if err != nil {
			return nil, a.abort(err)
		}
		if !v.Valid {
			return nil, a.abort(&model.InvalidCouponError{Code: NormalizeCode(req.CouponCode), Reason: v.Reason})
		}
		discount = v.Discount
	}
	a.advance(StatePriced)

	ref := uuid.NewString()
	if _, err := o.credits.ReserveCredit(ctx, ref, actor.MemberID, studio.ID, PlanContext{At: now}); err != nil {
		if !errors.Is(err, model.ErrNoCreditAvailable) {
			return nil, a.abort(err)
		}
		price, ok := studio.DropInPrice(class)
		if !ok {
			return nil, a.abort(err)
		}
		return o.requirePayment(ctx, a, actor, class, studio, req, price, discount)
	}
	a.advance(StateCredited)

	claim, err := o.capacity.ClaimSeat(ctx, model.ClaimRequest{
		ClassInstanceID: class.ID,
		StudioID:        studio.ID,
		MemberID:        actor.MemberID,
		RequestedSpot:   req.RequestedSpot,
		CreditRef:       &ref,
		At:              now,
	})
	if err != nil {
		o.releaseCredit(ctx, ref)
		return nil, a.abort(err)
	}
	a.advance(StateSeated)
	if claim.Waitlisted {
		// Credit is taken again at promotion time.
		o.releaseCredit(ctx, ref)
		o.publishBooking(ctx, queue.BookingWaitlisted, claim.Booking)
	} else {
		o.publishBooking(ctx, queue.BookingConfirmed, claim.Booking)
	}
	a.advance(StateConfirmed)
	log.Info("reservation completed",
		zap.Uint64("booking_id", claim.Booking.ID), zap.String("status", string(claim.Booking.Status)))
	return &ReserveResult{Booking: claim.Booking, State: a.state}, nil
}

// loadBookable returns the class and its studio if the class belongs to
// studioID, is scheduled and has not started yet.
func (o *Orchestrator) loadBookable(ctx context.Context, studioID, classID uint64, now time.Time) (*model.ClassInstance, *model.Studio, error) {
	class, err := o.classes.GetClass(ctx, classID)
	if err != nil {
		return nil, nil, err
	}
	if class.StudioID != studioID {
		return nil, nil, model.ErrForbidden
	}
	studio, err := o.classes.GetStudio(ctx, class.StudioID)
	if err != nil {
		return nil, nil, err
	}
	if err := checkBookable(class, studio, now); err != nil {
		return nil, nil, err
	}
	return class, studio, nil
}

func checkBookable(class *model.ClassInstance, studio *model.Studio, now time.Time) error {
	if class.Status != model.ClassScheduled {
		return fmt.Errorf("%w: class is %s", model.ErrNotBookable, class.Status)
	}
	start, err := class.StartsAt(studio.Location())
	if err != nil {
		return err
	}
	if !now.Before(start) {
		return fmt.Errorf("%w: class already started", model.ErrNotBookable)
	}
	return nil
}

// requirePayment creates the pending_payment booking for a drop-in and asks
// the payment collaborator for a checkout.  A free (fully discounted)
// drop-in resolves immediately.
func (o *Orchestrator) requirePayment(ctx context.Context, a *attempt, actor model.Actor, class *model.ClassInstance, studio *model.Studio,
	req ReserveRequest, base int64, discount *model.Discount) (*ReserveResult, error) {
	amount := base
	var code *string
	if discount != nil {
		amount = ComputeDiscount(base, *discount)
		c := discount.Code
		code = &c
	}
	payRef := uuid.NewString()
	b := &model.Booking{
		MemberID:        actor.MemberID,
		StudioID:        studio.ID,
		ClassInstanceID: class.ID,
		RequestedSpot:   req.RequestedSpot,
		PaymentRef:      &payRef,
		PriceCents:      &amount,
		CouponCode:      code,
		CreatedAt:       o.clock.now(),
	}
	if err := o.bookings.CreatePendingBooking(ctx, b); err != nil {
		return nil, a.abort(err)
	}
	log := a.log.With(zap.Uint64("booking_id", b.ID), zap.String("payment_ref", payRef))

	if amount == 0 {
		booked, err := o.OnPaymentResolved(ctx, payRef, model.OutcomeSucceeded)
		if err != nil {
			return nil, a.abort(err)
		}
		a.advance(StateConfirmed)
		return &ReserveResult{Booking: booked, State: a.state}, nil
	}

	pr := &model.PaymentRequired{
		BookingID:   b.ID,
		PaymentRef:  payRef,
		AmountCents: amount,
		BaseCents:   base,
		Currency:    studio.Currency,
	}
	if code != nil {
		pr.CouponCode = *code
	}
	if o.payments != nil {
		co, err := o.payments.CreateCheckout(ctx, CheckoutRequest{
			PaymentRef:  payRef,
			BookingID:   b.ID,
			MemberID:    actor.MemberID,
			StudioID:    studio.ID,
			AmountCents: amount,
			Currency:    studio.Currency,
		})
		if err != nil {
			if _, rerr := o.capacity.ReleaseSeat(ctx, b.ID, model.ReleaseRequest{}, nil); rerr != nil {
				log.Error("failed to cancel pending booking after checkout error", zap.Error(rerr))
			}
			return nil, a.abort(fmt.Errorf("create checkout: %w", err))
		}
		pr.ClientSecret = co.ClientSecret
	}
	log.Info("payment required", zap.Int64("amount_cents", amount))
	return &ReserveResult{Booking: b, PaymentRequired: pr, State: a.state}, nil
}

// OnPaymentResolved applies the payment collaborator's outcome to the
// pending booking identified by paymentRef.  It is idempotent: a booking
// that already left pending_payment is returned as it is.
func (o *Orchestrator) OnPaymentResolved(ctx context.Context, paymentRef string, outcome model.PaymentOutcome) (*model.Booking, error) {
	b, err := o.bookings.GetBookingByPaymentRef(ctx, paymentRef)
	if err != nil {
		return nil, err
	}
	log := o.log.With(zap.Uint64("booking_id", b.ID), zap.String("payment_ref", paymentRef))
	o.metrics.RecordPayment(string(outcome))

	if b.Status != model.BookingPendingPayment {
		// Money arriving for a booking cancelled while pending must go back.
		if outcome == model.OutcomeSucceeded && b.Status == model.BookingCancelled && b.PaymentStatus == model.PaymentPending {
			changed, err := o.bookings.SetPaymentStatus(ctx, b.ID, model.PaymentPending, model.PaymentPaid)
			if err != nil {
				return nil, err
			}
			if changed {
				o.publishRefund(ctx, b, "booking cancelled before payment completed")
				return o.bookings.GetBooking(ctx, b.ID)
			}
		}
		return b, nil
	}

	switch outcome {
	case model.OutcomeFailed:
		if _, err := o.bookings.SetPaymentStatus(ctx, b.ID, model.PaymentPending, model.PaymentFailed); err != nil {
			return nil, err
		}
		rel, err := o.capacity.ReleaseSeat(ctx, b.ID, model.ReleaseRequest{}, nil)
		if err != nil {
			return nil, err
		}
		log.Info("payment failed, pending booking cancelled")
		return rel.Released.Booking, nil
	case model.OutcomeSucceeded:
	default:
		return nil, fmt.Errorf("unknown payment outcome %q", outcome)
	}

	if _, err := o.bookings.SetPaymentStatus(ctx, b.ID, model.PaymentPending, model.PaymentPaid); err != nil {
		return nil, err
	}
	b.PaymentStatus = model.PaymentPaid

	class, err := o.classes.GetClass(ctx, b.ClassInstanceID)
	if err != nil {
		return nil, err
	}
	studio, err := o.classes.GetStudio(ctx, b.StudioID)
	if err != nil {
		return nil, err
	}
	if err := checkBookable(class, studio, o.clock.now()); err != nil {
		return o.cancelPaid(ctx, b, err.Error())
	}

	req := model.ClaimRequest{
		ClassInstanceID: b.ClassInstanceID,
		StudioID:        b.StudioID,
		MemberID:        b.MemberID,
		BookingID:       b.ID,
		RequestedSpot:   b.RequestedSpot,
	}
	claim, err := o.capacity.ClaimSeat(ctx, req)
	if errors.Is(err, model.ErrSpotTaken) {
		// The member paid; any seat will do.
		req.RequestedSpot = nil
		claim, err = o.capacity.ClaimSeat(ctx, req)
	}
	switch {
	case errors.Is(err, model.ErrInvalidTransition):
		// A concurrent callback seated it first.
		return o.bookings.GetBooking(ctx, b.ID)
	case model.IsCapacityError(err):
		return o.cancelPaid(ctx, b, err.Error())
	case err != nil:
		return nil, err
	}

	if b.CouponCode != nil {
		o.redeemForPayment(ctx, log, b, paymentRef)
	}
	if claim.Waitlisted {
		o.publishBooking(ctx, queue.BookingWaitlisted, claim.Booking)
	} else {
		o.publishBooking(ctx, queue.BookingConfirmed, claim.Booking)
	}
	log.Info("paid booking placed", zap.String("status", string(claim.Booking.Status)))
	return claim.Booking, nil
}

// redeemForPayment records the coupon against the payment reference.  The
// price was charged already, so a lost race on the redemption bound is
// logged rather than reversed.
func (o *Orchestrator) redeemForPayment(ctx context.Context, log *zap.Logger, b *model.Booking, paymentRef string) {
	c, err := o.coupons.Lookup(ctx, b.StudioID, *b.CouponCode)
	if err != nil {
		log.Warn("coupon lookup failed after payment", zap.String("coupon", *b.CouponCode), zap.Error(err))
		return
	}
	_, err = o.coupons.Redeem(ctx, c.ID, b.MemberID, b.StudioID, paymentRef)
	switch {
	case err == nil, errors.Is(err, model.ErrAlreadyRedeemed):
	case errors.Is(err, model.ErrRedemptionLimitReached):
		log.Warn("coupon limit reached after payment; discount honoured", zap.String("coupon", c.Code))
	default:
		log.Error("coupon redemption failed", zap.String("coupon", c.Code), zap.Error(err))
	}
}

// cancelPaid cancels a paid booking that can no longer be seated and asks
// billing to refund it.
func (o *Orchestrator) cancelPaid(ctx context.Context, b *model.Booking, reason string) (*model.Booking, error) {
	rel, err := o.capacity.ReleaseSeat(ctx, b.ID, model.ReleaseRequest{}, nil)
	if err != nil {
		return nil, err
	}
	if rel.Released.Changed {
		o.publishRefund(ctx, rel.Released.Booking, reason)
		o.publishBooking(ctx, queue.BookingCancelled, rel.Released.Booking)
	}
	return rel.Released.Booking, nil
}

func (o *Orchestrator) releaseCredit(ctx context.Context, ref string) {
	if _, err := o.credits.ReleaseCredit(ctx, ref); err != nil {
		o.log.Error("credit release failed", zap.String("credit_ref", ref), zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, key string, payload any) {
	if o.events == nil {
		return
	}
	if err := o.events.Publish(ctx, key, payload); err != nil {
		o.log.Warn("event publish failed", zap.String("routing_key", key), zap.Error(err))
	}
}

func (o *Orchestrator) publishBooking(ctx context.Context, key string, b *model.Booking) {
	o.publish(ctx, key, queue.BookingEvent{
		BookingID:        b.ID,
		MemberID:         b.MemberID,
		StudioID:         b.StudioID,
		ClassInstanceID:  b.ClassInstanceID,
		Status:           string(b.Status),
		Spot:             spotOf(b),
		WaitlistPosition: positionOf(b),
		OccurredAt:       o.clock.now(),
	})
}

func (o *Orchestrator) publishRefund(ctx context.Context, b *model.Booking, reason string) {
	ev := queue.BillingEvent{
		Kind:            queue.BillingRefundDue,
		BookingID:       b.ID,
		MemberID:        b.MemberID,
		StudioID:        b.StudioID,
		ClassInstanceID: b.ClassInstanceID,
		Reason:          reason,
		OccurredAt:      o.clock.now(),
	}
	if b.PaymentRef != nil {
		ev.PaymentRef = *b.PaymentRef
	}
	if b.PriceCents != nil {
		ev.AmountCents = *b.PriceCents
	}
	o.publish(ctx, queue.BillingRefundDue, ev)
}
