package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository/memory"
)

var testNow = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

// recordingPublisher keeps every published routing key and payload.
type recordingPublisher struct {
	mu       sync.Mutex
	keys     []string
	payloads []any
}

func (p *recordingPublisher) Publish(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.payloads = append(p.payloads, payload)
	return nil
}

func (p *recordingPublisher) Keys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.keys...)
}

func (p *recordingPublisher) Count(key string) int {
	n := 0
	for _, k := range p.Keys() {
		if k == key {
			n++
		}
	}
	return n
}

// MockGateway is a testify mock of PaymentGateway.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Checkout), args.Error(1)
}

type fixture struct {
	store  *memory.Store
	studio *model.Studio
	events *recordingPublisher
	gw     *MockGateway
	orch   *Orchestrator
	cap    *CapacityLedger
	credit *CreditLedger
	coupon *CouponEvaluator
}

type fixtureOption func(*model.Studio)

func withDropIn(cents int64) fixtureOption {
	return func(s *model.Studio) { s.DropInPriceCents = &cents }
}

func withForfeit() fixtureOption {
	return func(s *model.Studio) { s.LateCancelForfeitsCredit = true }
}

func newFixture(t *testing.T, opts ...fixtureOption) *fixture {
	t.Helper()
	st := model.Studio{
		Name:                    "Northside Yoga",
		Timezone:                "UTC",
		CancellationWindowHours: 12,
		Currency:                "usd",
	}
	for _, o := range opts {
		o(&st)
	}
	store := memory.New()
	f := &fixture{
		store:  store,
		studio: store.AddStudio(st),
		events: &recordingPublisher{},
		gw:     &MockGateway{},
	}
	log := zap.NewNop()
	m := metrics.New()
	f.cap = NewCapacityLedger(store, fixedClock, log, m)
	f.credit = NewCreditLedger(store, fixedClock, log)
	f.coupon = NewCouponEvaluator(store, store, fixedClock, log, m)
	f.orch = NewOrchestrator(Deps{
		Classes:  store,
		Bookings: store,
		Capacity: f.cap,
		Credits:  f.credit,
		Coupons:  f.coupon,
		Payments: f.gw,
		Events:   f.events,
		Clock:    fixedClock,
		Log:      log,
		Metrics:  m,
	})
	return f
}

// addClass schedules a class starting startIn after testNow.
func (f *fixture) addClass(capacity int, startIn time.Duration) *model.ClassInstance {
	start := testNow.Add(startIn)
	return f.store.AddClass(model.ClassInstance{
		StudioID:    f.studio.ID,
		ClassDate:   start.Format("2006-01-02"),
		StartTime:   start.Format("15:04"),
		EndTime:     start.Add(time.Hour).Format("15:04"),
		MaxCapacity: capacity,
		Status:      model.ClassScheduled,
	})
}

func (f *fixture) member(id uint64) model.Actor {
	return model.Actor{MemberID: id, StudioID: f.studio.ID, Role: model.RoleMember}
}

func (f *fixture) staff() model.Actor {
	return model.Actor{MemberID: 900, StudioID: f.studio.ID, Role: model.RoleStaff}
}

func (f *fixture) givePass(memberID uint64, classes int) *model.ClassPack {
	return f.store.AddClassPass(model.ClassPack{
		MemberID:         memberID,
		StudioID:         f.studio.ID,
		TotalClasses:     classes,
		RemainingClasses: classes,
	})
}

func (f *fixture) reserve(t *testing.T, memberID, classID uint64) *model.Booking {
	t.Helper()
	res, err := f.orch.Reserve(context.Background(), f.member(memberID), ReserveRequest{ClassInstanceID: classID})
	if err != nil {
		t.Fatalf("reserve member %d: %v", memberID, err)
	}
	return res.Booking
}

func strp(s string) *string { return &s }

func intp(i int) *int { return &i }

func timep(t time.Time) *time.Time { return &t }
