package repository_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/studio-booking/internal/database"
	"github.com/iliyamo/studio-booking/internal/model"
	"github.com/iliyamo/studio-booking/internal/repository"
	"github.com/iliyamo/studio-booking/internal/service"
)

// openTestDB connects to TEST_MYSQL_DSN when INTEGRATION_TEST=true, e.g.
//
//	INTEGRATION_TEST=true TEST_MYSQL_DSN='root:root@tcp(localhost:3306)/studio_test?parseTime=true&loc=UTC' go test ./internal/repository/
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("set INTEGRATION_TEST=true to run MySQL integration tests")
	}
	dsn := os.Getenv("TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("TEST_MYSQL_DSN not set")
	}
	db, err := database.OpenDSN(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))
	return db
}

type seed struct {
	db       *sql.DB
	studioID uint64
}

func newSeed(t *testing.T, db *sql.DB) *seed {
	t.Helper()
	res, err := db.Exec(`INSERT INTO studios (name, timezone, cancellation_window_hours, late_cancel_forfeits_credit, currency)
		VALUES (?, 'UTC', 12, 0, 'usd')`, fmt.Sprintf("it-%d", time.Now().UnixNano()))
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return &seed{db: db, studioID: uint64(id)}
}

func (s *seed) class(t *testing.T, capacity int) uint64 {
	t.Helper()
	start := time.Now().UTC().Add(72 * time.Hour)
	res, err := s.db.Exec(`INSERT INTO class_instances (studio_id, class_date, start_time, end_time, max_capacity)
		VALUES (?, ?, ?, ?, ?)`, s.studioID, start.Format("2006-01-02"), "10:00", "11:00", capacity)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

func (s *seed) pass(t *testing.T, memberID uint64, classes int) uint64 {
	t.Helper()
	res, err := s.db.Exec(`INSERT INTO class_passes (member_id, studio_id, total_classes, remaining_classes) VALUES (?, ?, ?, ?)`,
		memberID, s.studioID, classes, classes)
	require.NoError(t, err)
	id, err := res.LastInsertId()
	require.NoError(t, err)
	return uint64(id)
}

func (s *seed) remaining(t *testing.T, passID uint64) int {
	t.Helper()
	var n int
	require.NoError(t, s.db.QueryRow(`SELECT remaining_classes FROM class_passes WHERE id = ?`, passID).Scan(&n))
	return n
}

func newOrchestrator(db *sql.DB) *service.Orchestrator {
	bookings := repository.NewBookingRepo(db)
	return service.NewOrchestrator(service.Deps{
		Classes:  repository.NewClassRepo(db),
		Bookings: bookings,
		Capacity: service.NewCapacityLedger(repository.NewSeatRepo(db), nil, nil, nil),
		Credits:  service.NewCreditLedger(repository.NewCreditRepo(db), nil, nil),
		Coupons:  service.NewCouponEvaluator(repository.NewCouponRepo(db), bookings, nil, nil, nil),
	})
}

func TestMySQL_ConcurrentReservationsRespectCapacity(t *testing.T) {
	db := openTestDB(t)
	s := newSeed(t, db)
	classID := s.class(t, 5)
	orch := newOrchestrator(db)

	const members = 20
	passes := make(map[uint64]uint64, members)
	for m := uint64(1); m <= members; m++ {
		passes[m] = s.pass(t, m, 3)
	}

	var wg sync.WaitGroup
	results := make(chan *model.Booking, members)
	for m := uint64(1); m <= members; m++ {
		wg.Add(1)
		go func(m uint64) {
			defer wg.Done()
			res, err := orch.Reserve(context.Background(),
				model.Actor{MemberID: m, StudioID: s.studioID, Role: model.RoleMember},
				service.ReserveRequest{ClassInstanceID: classID})
			if err != nil {
				t.Errorf("member %d: %v", m, err)
				return
			}
			results <- res.Booking
		}(m)
	}
	wg.Wait()
	close(results)

	booked, waitlisted := 0, 0
	for b := range results {
		switch b.Status {
		case model.BookingBooked:
			booked++
			assert.Equal(t, 2, s.remaining(t, passes[b.MemberID]))
		case model.BookingWaitlisted:
			waitlisted++
			assert.Equal(t, 3, s.remaining(t, passes[b.MemberID]), "waitlisted members keep their credit")
		}
	}
	assert.Equal(t, 5, booked)
	assert.Equal(t, members-5, waitlisted)

	av, err := repository.NewSeatRepo(db).Availability(context.Background(), classID)
	require.NoError(t, err)
	assert.Equal(t, 5, av.Booked)
	assert.Equal(t, members-5, av.Waitlisted)
}

func TestMySQL_CancelPromotesWaitlist(t *testing.T) {
	db := openTestDB(t)
	s := newSeed(t, db)
	classID := s.class(t, 1)
	orch := newOrchestrator(db)
	ctx := context.Background()

	actor := func(m uint64) model.Actor {
		return model.Actor{MemberID: m, StudioID: s.studioID, Role: model.RoleMember}
	}
	p1 := s.pass(t, 1, 1)
	p2 := s.pass(t, 2, 1)

	first, err := orch.Reserve(ctx, actor(1), service.ReserveRequest{ClassInstanceID: classID})
	require.NoError(t, err)
	second, err := orch.Reserve(ctx, actor(2), service.ReserveRequest{ClassInstanceID: classID})
	require.NoError(t, err)
	require.Equal(t, model.BookingWaitlisted, second.Booking.Status)

	cancelled, err := orch.Cancel(ctx, actor(1), first.Booking.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)
	assert.Equal(t, 1, s.remaining(t, p1), "early cancellation refunds")

	promoted, err := repository.NewBookingRepo(db).GetBooking(ctx, second.Booking.ID)
	require.NoError(t, err)
	assert.Equal(t, model.BookingBooked, promoted.Status)
	assert.Equal(t, 0, s.remaining(t, p2))

	// A second cancel is a no-op.
	again, err := orch.Cancel(ctx, actor(1), first.Booking.ID, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, again.Status)
	assert.Equal(t, 1, s.remaining(t, p1))
}

func TestMySQL_CouponRedemptionLimit(t *testing.T) {
	db := openTestDB(t)
	s := newSeed(t, db)
	repo := repository.NewCouponRepo(db)
	ctx := context.Background()

	limit := 3
	c := &model.Coupon{StudioID: s.studioID, Code: "LIMIT3", Type: model.CouponAmountOff, Value: 100,
		AppliesTo: model.ScopeAll, MaxRedemptions: &limit, Active: true, CreatedAt: time.Now().UTC()}
	require.NoError(t, repo.CreateCoupon(ctx, c))
	assert.ErrorIs(t, repo.CreateCoupon(ctx, &model.Coupon{StudioID: s.studioID, Code: "LIMIT3", Type: model.CouponAmountOff,
		Value: 1, AppliesTo: model.ScopeAll, Active: true, CreatedAt: time.Now().UTC()}), model.ErrCouponExists)

	var wg sync.WaitGroup
	var mu sync.Mutex
	ok, limited := 0, 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := repo.RedeemCoupon(ctx, &model.CouponRedemption{
				CouponID: c.ID, MemberID: uint64(i + 1), StudioID: s.studioID,
				AppliedRef: fmt.Sprintf("ref-%d", i), RedeemedAt: time.Now().UTC(),
			})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, model.ErrRedemptionLimitReached):
				limited++
			default:
				t.Errorf("redeem %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 3, ok)
	assert.Equal(t, 7, limited)

	got, err := repo.GetCouponByCode(ctx, s.studioID, "LIMIT3")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentRedemptions)
}
