package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/model"
)

// PlanContext carries the facts credit selection depends on.
type PlanContext struct {
	At time.Time
}

// CreditLedger decides which credit source pays for a booking and debits it.
type CreditLedger struct {
	store CreditStore
	clock Clock
	log   *zap.Logger
}

// NewCreditLedger wires a ledger over the given store.
func NewCreditLedger(store CreditStore, clock Clock, log *zap.Logger) *CreditLedger {
	return &CreditLedger{store: store, clock: clock, log: logging.OrNop(log).Named("credit")}
}

// Candidates builds the ordered selection list for a member at a studio:
// unlimited subscriptions, limited subscriptions under their ceiling, class
// passes by soonest expiry, then comps by soonest expiry.  Ineligible and
// expired sources are filtered here and never written.
func (l *CreditLedger) Candidates(ctx context.Context, memberID, studioID uint64, at time.Time) ([]model.CreditCandidate, error) {
	subs, err := l.store.ListSubscriptions(ctx, memberID, studioID)
	if err != nil {
		return nil, err
	}
	passes, err := l.store.ListClassPasses(ctx, memberID, studioID)
	if err != nil {
		return nil, err
	}
	comps, err := l.store.ListComps(ctx, memberID, studioID)
	if err != nil {
		return nil, err
	}

	var unlimited, limited []model.CreditCandidate
	for i := range subs {
		s := &subs[i]
		if s.Status != model.SubscriptionActive || !s.InPeriod(at) {
			continue
		}
		switch s.PlanType {
		case model.PlanUnlimited:
			unlimited = append(unlimited, model.CreditCandidate{
				Source: model.SourceSubscription, SourceID: s.ID, Unlimited: true, PeriodStart: s.CurrentPeriodStart,
			})
		case model.PlanLimited:
			if s.ClassesPerPeriod == nil || s.ClassesUsedThisPeriod >= *s.ClassesPerPeriod {
				continue
			}
			limited = append(limited, model.CreditCandidate{
				Source: model.SourceSubscription, SourceID: s.ID, Limit: *s.ClassesPerPeriod, PeriodStart: s.CurrentPeriodStart,
			})
		}
	}

	out := make([]model.CreditCandidate, 0, len(subs)+len(passes)+len(comps))
	out = append(out, unlimited...)
	out = append(out, limited...)
	out = append(out, packCandidates(model.SourceClassPass, passes, at)...)
	out = append(out, packCandidates(model.SourceComp, comps, at)...)
	return out, nil
}

func packCandidates(src model.CreditSource, packs []model.ClassPack, at time.Time) []model.CreditCandidate {
	var out []model.CreditCandidate
	for i := range packs {
		p := &packs[i]
		if p.RemainingClasses <= 0 || p.Expired(at) {
			continue
		}
		out = append(out, model.CreditCandidate{
			Source: src, SourceID: p.ID, ExpiresAt: p.ExpiresAt, Remaining: p.RemainingClasses,
		})
	}
	// Soonest expiry first; packs that never expire go last.
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i].ExpiresAt, out[j].ExpiresAt
		switch {
		case a == nil && b == nil:
			return out[i].SourceID < out[j].SourceID
		case a == nil:
			return false
		case b == nil:
			return true
		case !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].SourceID < out[j].SourceID
	})
	return out
}

// ReserveCredit debits the first candidate whose conditional update applies
// and records the debit under ref.  It fails with model.ErrNoCreditAvailable
// when the member has no usable source and with model.ErrConcurrencyConflict
// when every candidate lost its race.
func (l *CreditLedger) ReserveCredit(ctx context.Context, ref string, memberID, studioID uint64, pc PlanContext) (*model.CreditReservation, error) {
	at := pc.At
	if at.IsZero() {
		at = l.clock.now()
	}
	cands, err := l.Candidates(ctx, memberID, studioID, at)
	if err != nil {
		return nil, err
	}
	if len(cands) == 0 {
		return nil, model.ErrNoCreditAvailable
	}
	for _, c := range cands {
		res := model.CreditReservation{
			Ref:        ref,
			MemberID:   memberID,
			StudioID:   studioID,
			Source:     c.Source,
			SourceID:   c.SourceID,
			ReservedAt: at,
		}
		if c.Source == model.SourceSubscription {
			ps := c.PeriodStart
			res.PeriodStart = &ps
		}
		ok, err := l.store.DebitCredit(ctx, c, res)
		if err != nil {
			return nil, err
		}
		if ok {
			l.log.Debug("credit reserved",
				zap.String("ref", ref),
				zap.String("source", string(c.Source)),
				zap.Uint64("source_id", c.SourceID))
			return &res, nil
		}
	}
	return nil, model.ErrConcurrencyConflict
}

// ReleaseCredit refunds the unit debited under ref.  Only the first call
// refunds; later calls succeed with refunded=false.
func (l *CreditLedger) ReleaseCredit(ctx context.Context, ref string) (refunded bool, err error) {
	refunded, err = l.store.ReleaseCredit(ctx, ref, l.clock.now())
	if err != nil {
		return false, err
	}
	if refunded {
		l.log.Debug("credit released", zap.String("ref", ref))
	}
	return refunded, nil
}
