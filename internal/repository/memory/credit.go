package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

func (s *Store) ListSubscriptions(_ context.Context, memberID, studioID uint64) ([]model.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Subscription
	for _, sub := range s.subs {
		if sub.MemberID == memberID && sub.StudioID == studioID {
			out = append(out, *sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) ListClassPasses(_ context.Context, memberID, studioID uint64) ([]model.ClassPack, error) {
	return s.listPacks(s.passes, memberID, studioID), nil
}

func (s *Store) ListComps(_ context.Context, memberID, studioID uint64) ([]model.ClassPack, error) {
	return s.listPacks(s.comps, memberID, studioID), nil
}

func (s *Store) listPacks(m map[uint64]*model.ClassPack, memberID, studioID uint64) []model.ClassPack {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.ClassPack
	for _, p := range m {
		if p.MemberID == memberID && p.StudioID == studioID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (s *Store) packs(src model.CreditSource) (map[uint64]*model.ClassPack, error) {
	switch src {
	case model.SourceClassPass:
		return s.passes, nil
	case model.SourceComp:
		return s.comps, nil
	}
	return nil, fmt.Errorf("credit source %q has no pack table", src)
}

func (s *Store) DebitCredit(_ context.Context, c model.CreditCandidate, res model.CreditReservation) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := res.ReservedAt
	switch c.Source {
	case model.SourceSubscription:
		sub, ok := s.subs[c.SourceID]
		if !ok || sub.Status != model.SubscriptionActive || !sub.InPeriod(at) {
			return false, nil
		}
		if !c.Unlimited {
			if sub.PlanType != model.PlanLimited || sub.ClassesPerPeriod == nil ||
				!sub.CurrentPeriodStart.Equal(c.PeriodStart) ||
				sub.ClassesUsedThisPeriod >= *sub.ClassesPerPeriod {
				return false, nil
			}
			sub.ClassesUsedThisPeriod++
		}
	default:
		m, err := s.packs(c.Source)
		if err != nil {
			return false, err
		}
		p, ok := m[c.SourceID]
		if !ok || p.RemainingClasses <= 0 || p.Expired(at) {
			return false, nil
		}
		p.RemainingClasses--
	}
	rec := res
	rec.Source = c.Source
	rec.SourceID = c.SourceID
	s.reservations[res.Ref] = &rec
	return true, nil
}

func (s *Store) ReleaseCredit(_ context.Context, ref string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[ref]
	if !ok {
		return false, model.ErrCreditReservationNotFound
	}
	if r.ReleasedAt != nil {
		return false, nil
	}
	t := at.UTC()
	r.ReleasedAt = &t
	switch r.Source {
	case model.SourceSubscription:
		sub := s.subs[r.SourceID]
		if sub != nil && sub.PlanType == model.PlanLimited && r.PeriodStart != nil &&
			sub.CurrentPeriodStart.Equal(*r.PeriodStart) && sub.ClassesUsedThisPeriod > 0 {
			sub.ClassesUsedThisPeriod--
		}
	default:
		m, err := s.packs(r.Source)
		if err != nil {
			return false, err
		}
		if p := m[r.SourceID]; p != nil && p.RemainingClasses < p.TotalClasses {
			p.RemainingClasses++
		}
	}
	return true, nil
}

func (s *Store) GetCreditReservation(_ context.Context, ref string) (*model.CreditReservation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.reservations[ref]
	if !ok {
		return nil, model.ErrCreditReservationNotFound
	}
	out := *r
	return &out, nil
}
