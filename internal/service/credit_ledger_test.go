package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/model"
)

func (f *fixture) addSubscription(memberID uint64, plan model.PlanType, perPeriod *int, used int) *model.Subscription {
	return f.store.AddSubscription(model.Subscription{
		MemberID:              memberID,
		StudioID:              f.studio.ID,
		PlanID:                1,
		PlanType:              plan,
		ClassesPerPeriod:      perPeriod,
		Status:                model.SubscriptionActive,
		CurrentPeriodStart:    testNow.AddDate(0, 0, -10),
		CurrentPeriodEnd:      testNow.AddDate(0, 0, 20),
		ClassesUsedThisPeriod: used,
	})
}

func TestCreditLedger_Candidates_Order(t *testing.T) {
	f := newFixture(t)
	const m = 7
	comp := f.store.AddComp(model.ClassPack{MemberID: m, StudioID: f.studio.ID, TotalClasses: 1, RemainingClasses: 1})
	noExpiry := f.givePass(m, 5)
	late := f.store.AddClassPass(model.ClassPack{
		MemberID: m, StudioID: f.studio.ID, TotalClasses: 5, RemainingClasses: 5, ExpiresAt: timep(testNow.AddDate(0, 2, 0)),
	})
	soon := f.store.AddClassPass(model.ClassPack{
		MemberID: m, StudioID: f.studio.ID, TotalClasses: 5, RemainingClasses: 2, ExpiresAt: timep(testNow.AddDate(0, 0, 3)),
	})
	limited := f.addSubscription(m, model.PlanLimited, intp(8), 3)
	unlimited := f.addSubscription(m, model.PlanUnlimited, nil, 0)

	cands, err := f.credit.Candidates(context.Background(), m, f.studio.ID, testNow)
	require.NoError(t, err)

	var got []string
	for _, c := range cands {
		got = append(got, fmt.Sprintf("%s:%d", c.Source, c.SourceID))
	}
	assert.Equal(t, []string{
		fmt.Sprintf("subscription:%d", unlimited.ID),
		fmt.Sprintf("subscription:%d", limited.ID),
		fmt.Sprintf("class_pass:%d", soon.ID),
		fmt.Sprintf("class_pass:%d", late.ID),
		fmt.Sprintf("class_pass:%d", noExpiry.ID),
		fmt.Sprintf("comp:%d", comp.ID),
	}, got)
	assert.True(t, cands[0].Unlimited)
	assert.Equal(t, 8, cands[1].Limit)
}

func TestCreditLedger_Candidates_FiltersIneligible(t *testing.T) {
	f := newFixture(t)
	const m = 7
	f.addSubscription(m, model.PlanLimited, intp(4), 4)
	f.store.AddSubscription(model.Subscription{
		MemberID: m, StudioID: f.studio.ID, PlanType: model.PlanUnlimited, Status: model.SubscriptionPaused,
		CurrentPeriodStart: testNow.AddDate(0, 0, -1), CurrentPeriodEnd: testNow.AddDate(0, 1, 0),
	})
	f.store.AddSubscription(model.Subscription{
		MemberID: m, StudioID: f.studio.ID, PlanType: model.PlanUnlimited, Status: model.SubscriptionActive,
		CurrentPeriodStart: testNow.AddDate(0, -2, 0), CurrentPeriodEnd: testNow.AddDate(0, -1, 0),
	})
	f.store.AddClassPass(model.ClassPack{
		MemberID: m, StudioID: f.studio.ID, TotalClasses: 5, RemainingClasses: 5, ExpiresAt: timep(testNow.Add(-time.Hour)),
	})
	f.store.AddClassPass(model.ClassPack{MemberID: m, StudioID: f.studio.ID, TotalClasses: 5, RemainingClasses: 0})
	f.store.AddClassPass(model.ClassPack{MemberID: m, StudioID: f.studio.ID + 1, TotalClasses: 5, RemainingClasses: 5})

	cands, err := f.credit.Candidates(context.Background(), m, f.studio.ID, testNow)
	require.NoError(t, err)
	assert.Empty(t, cands)

	_, err = f.credit.ReserveCredit(context.Background(), "ref-1", m, f.studio.ID, PlanContext{At: testNow})
	assert.ErrorIs(t, err, model.ErrNoCreditAvailable)
}

func TestCreditLedger_ReserveCredit_PassRoundTrip(t *testing.T) {
	f := newFixture(t)
	pass := f.givePass(1, 1)

	res, err := f.credit.ReserveCredit(context.Background(), "ref-1", 1, f.studio.ID, PlanContext{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceClassPass, res.Source)
	assert.Equal(t, pass.ID, res.SourceID)
	assert.Equal(t, 0, f.store.ClassPass(pass.ID).RemainingClasses)

	refunded, err := f.credit.ReleaseCredit(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.Equal(t, 1, f.store.ClassPass(pass.ID).RemainingClasses)

	refunded, err = f.credit.ReleaseCredit(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.False(t, refunded)
	assert.Equal(t, 1, f.store.ClassPass(pass.ID).RemainingClasses)
}

func TestCreditLedger_ReserveCredit_LimitedSubscription(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscription(1, model.PlanLimited, intp(2), 1)

	res, err := f.credit.ReserveCredit(context.Background(), "ref-1", 1, f.studio.ID, PlanContext{})
	require.NoError(t, err)
	assert.Equal(t, sub.ID, res.SourceID)
	require.NotNil(t, res.PeriodStart)
	assert.Equal(t, 2, f.store.Subscription(sub.ID).ClassesUsedThisPeriod)

	_, err = f.credit.ReserveCredit(context.Background(), "ref-2", 1, f.studio.ID, PlanContext{})
	assert.ErrorIs(t, err, model.ErrNoCreditAvailable)

	refunded, err := f.credit.ReleaseCredit(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.Equal(t, 1, f.store.Subscription(sub.ID).ClassesUsedThisPeriod)
}

func TestCreditLedger_ReserveCredit_UnlimitedLeavesCountersAlone(t *testing.T) {
	f := newFixture(t)
	sub := f.addSubscription(1, model.PlanUnlimited, nil, 0)
	pass := f.givePass(1, 3)

	res, err := f.credit.ReserveCredit(context.Background(), "ref-1", 1, f.studio.ID, PlanContext{})
	require.NoError(t, err)
	assert.Equal(t, model.SourceSubscription, res.Source)
	assert.Equal(t, sub.ID, res.SourceID)
	assert.Equal(t, 3, f.store.ClassPass(pass.ID).RemainingClasses)

	stored, err := f.store.GetCreditReservation(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.Nil(t, stored.ReleasedAt)

	refunded, err := f.credit.ReleaseCredit(context.Background(), "ref-1")
	require.NoError(t, err)
	assert.True(t, refunded)
	assert.Equal(t, 0, f.store.Subscription(sub.ID).ClassesUsedThisPeriod)
}

func TestCreditLedger_ReserveCredit_ConcurrentDebitsNeverOverdraw(t *testing.T) {
	f := newFixture(t)
	pass := f.givePass(1, 3)

	const callers = 12
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, exhausted := 0, 0
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.credit.ReserveCredit(context.Background(), fmt.Sprintf("ref-%d", i), 1, f.studio.ID, PlanContext{})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, model.ErrNoCreditAvailable), errors.Is(err, model.ErrConcurrencyConflict):
				exhausted++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 3, ok)
	assert.Equal(t, callers-3, exhausted)
	assert.Equal(t, 0, f.store.ClassPass(pass.ID).RemainingClasses)
}

func TestCreditLedger_ReleaseCredit_UnknownRef(t *testing.T) {
	f := newFixture(t)
	_, err := f.credit.ReleaseCredit(context.Background(), "missing")
	assert.ErrorIs(t, err, model.ErrCreditReservationNotFound)
}
