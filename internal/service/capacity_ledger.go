package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/model"
)

// Promoter supplies and takes back whatever pays for a waitlisted booking at
// promotion time.  AcquireForPromotion returns model.ErrNoCreditAvailable
// when the member cannot pay; the candidate then stays on the waitlist.
type Promoter interface {
	AcquireForPromotion(ctx context.Context, b *model.Booking) (creditRef *string, err error)
	AbandonPromotion(ctx context.Context, b *model.Booking, creditRef *string)
}

// acquireAttempts bounds retries of one candidate's credit acquisition when
// the credit ledger lost a race.
const acquireAttempts = 2

// CapacityLedger is the only component that moves seats.  Claims, releases
// and promotions are single conditional writes in the SeatStore; the ledger
// adds the bounded FIFO promotion loop on top.
type CapacityLedger struct {
	seats   SeatStore
	clock   Clock
	log     *zap.Logger
	metrics *metrics.Collector
}

// NewCapacityLedger wires a ledger over the given seat store.
func NewCapacityLedger(seats SeatStore, clock Clock, log *zap.Logger, m *metrics.Collector) *CapacityLedger {
	return &CapacityLedger{seats: seats, clock: clock, log: logging.OrNop(log).Named("capacity"), metrics: m}
}

// ReleaseOutcome is what a seat release did: the released booking and the
// booking promoted into the freed seat, if any.
type ReleaseOutcome struct {
	Released *model.ReleaseResult
	Promoted *model.Booking
}

// ClaimSeat claims a seat or a waitlist slot for req.  See SeatStore.ClaimSeat.
func (l *CapacityLedger) ClaimSeat(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error) {
	if req.At.IsZero() {
		req.At = l.clock.now()
	}
	res, err := l.seats.ClaimSeat(ctx, req)
	if err != nil {
		return nil, err
	}
	if res.Granted {
		l.log.Debug("seat granted",
			zap.Uint64("class_instance_id", req.ClassInstanceID),
			zap.Uint64("booking_id", res.Booking.ID))
	} else {
		l.log.Debug("waitlisted",
			zap.Uint64("class_instance_id", req.ClassInstanceID),
			zap.Uint64("booking_id", res.Booking.ID),
			zap.Int("position", res.Position))
	}
	return res, nil
}

// ReleaseSeat cancels the booking and, when a seat was freed, offers it to
// the waitlist through p.  A nil promoter skips promotion.  Promotion errors
// are logged and do not undo the release.
func (l *CapacityLedger) ReleaseSeat(ctx context.Context, bookingID uint64, req model.ReleaseRequest, p Promoter) (*ReleaseOutcome, error) {
	if req.At.IsZero() {
		req.At = l.clock.now()
	}
	rel, err := l.seats.ReleaseSeat(ctx, bookingID, req)
	if err != nil {
		return nil, err
	}
	out := &ReleaseOutcome{Released: rel}
	if !rel.SeatFreed || p == nil {
		return out, nil
	}
	promoted, err := l.PromoteWaitlist(ctx, rel.Booking.ClassInstanceID, p)
	if err != nil {
		l.log.Warn("waitlist promotion failed",
			zap.Uint64("class_instance_id", rel.Booking.ClassInstanceID), zap.Error(err))
	}
	out.Promoted = promoted
	return out, nil
}

// PromoteWaitlist fills one free seat from the waitlist in position order.
// Candidates that cannot pay, or whose credit still conflicts after
// acquireAttempts tries, are skipped and stay waitlisted.  The loop is
// bounded by the waitlist length read at the start, and stops as soon as
// the seat is gone, so one vacated seat promotes at most one booking.
func (l *CapacityLedger) PromoteWaitlist(ctx context.Context, classID uint64, p Promoter) (*model.Booking, error) {
	candidates, err := l.seats.WaitlistCandidates(ctx, classID)
	if err != nil {
		return nil, err
	}
	for _, cand := range candidates {
		ref, err := l.acquire(ctx, p, cand)
		if errors.Is(err, model.ErrNoCreditAvailable) {
			l.metrics.RecordPromotion("skipped_no_credit")
			l.log.Info("waitlisted member has no credit, skipping",
				zap.Uint64("booking_id", cand.ID), zap.Uint64("member_id", cand.MemberID))
			continue
		}
		if errors.Is(err, model.ErrConcurrencyConflict) {
			l.metrics.RecordPromotion("skipped_conflict")
			l.log.Warn("credit for waitlisted member kept conflicting, skipping",
				zap.Uint64("booking_id", cand.ID), zap.Uint64("member_id", cand.MemberID))
			continue
		}
		if err != nil {
			return nil, err
		}
		b, err := l.seats.PromoteWaitlisted(ctx, cand.ID, ref, l.clock.now())
		switch {
		case err == nil:
			l.metrics.RecordPromotion("promoted")
			l.log.Info("promoted from waitlist",
				zap.Uint64("booking_id", b.ID), zap.Uint64("class_instance_id", classID))
			return b, nil
		case errors.Is(err, model.ErrNotWaitlisted):
			p.AbandonPromotion(ctx, cand, ref)
			continue
		case errors.Is(err, model.ErrNoVacancy):
			p.AbandonPromotion(ctx, cand, ref)
			l.metrics.RecordPromotion("no_vacancy")
			return nil, nil
		default:
			p.AbandonPromotion(ctx, cand, ref)
			return nil, err
		}
	}
	return nil, nil
}

func (l *CapacityLedger) acquire(ctx context.Context, p Promoter, b *model.Booking) (*string, error) {
	var err error
	for i := 0; i < acquireAttempts; i++ {
		var ref *string
		ref, err = p.AcquireForPromotion(ctx, b)
		if !errors.Is(err, model.ErrConcurrencyConflict) {
			return ref, err
		}
	}
	return nil, err
}

// ChangeCapacity sets a new capacity.  Lowering below the seats already
// held is rejected with a *model.CapacityError; raising it runs one
// promotion per new seat.
func (l *CapacityLedger) ChangeCapacity(ctx context.Context, classID uint64, capacity int, p Promoter) (*model.ClassInstance, []*model.Booking, error) {
	c, err := l.seats.SetCapacity(ctx, classID, capacity)
	if err != nil {
		return nil, nil, err
	}
	var promoted []*model.Booking
	if p == nil || c.Status != model.ClassScheduled {
		return c, nil, nil
	}
	for free := c.MaxCapacity - c.BookedCount; free > 0; free-- {
		b, err := l.PromoteWaitlist(ctx, classID, p)
		if err != nil {
			return c, promoted, err
		}
		if b == nil {
			break
		}
		promoted = append(promoted, b)
	}
	return c, promoted, nil
}

// Availability returns the current counters of a class.
func (l *CapacityLedger) Availability(ctx context.Context, classID uint64) (*model.Availability, error) {
	return l.seats.Availability(ctx, classID)
}
