// Package service implements the booking engine: the capacity ledger, the
// credit ledger, the coupon evaluator and the orchestrator composing them.
// It depends on storage only through the interfaces below, implemented by
// package repository against MySQL and by repository/memory in tests.
package service

import (
	"context"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// ClassReader loads the read-only catalogue the engine books against.
type ClassReader interface {
	GetClass(ctx context.Context, id uint64) (*model.ClassInstance, error)
	GetStudio(ctx context.Context, id uint64) (*model.Studio, error)
}

// SeatStore applies atomic seat arithmetic for one class instance at a time.
type SeatStore interface {
	ClaimSeat(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error)
	ReleaseSeat(ctx context.Context, bookingID uint64, req model.ReleaseRequest) (*model.ReleaseResult, error)
	WaitlistCandidates(ctx context.Context, classID uint64) ([]*model.Booking, error)
	PromoteWaitlisted(ctx context.Context, bookingID uint64, creditRef *string, at time.Time) (*model.Booking, error)
	SetCapacity(ctx context.Context, classID uint64, capacity int) (*model.ClassInstance, error)
	Availability(ctx context.Context, classID uint64) (*model.Availability, error)
}

// BookingStore covers booking reads and status writes that do not touch
// seat counters.
type BookingStore interface {
	GetBooking(ctx context.Context, id uint64) (*model.Booking, error)
	GetBookingByPaymentRef(ctx context.Context, ref string) (*model.Booking, error)
	CreatePendingBooking(ctx context.Context, b *model.Booking) error
	TransitionStatus(ctx context.Context, id uint64, from []model.BookingStatus, to model.BookingStatus, at time.Time) (*model.Booking, error)
	SetPaymentStatus(ctx context.Context, id uint64, from, to model.PaymentStatus) (bool, error)
	CountAttendedBookings(ctx context.Context, memberID, studioID uint64) (int, error)
}

// CreditStore lists credit sources and applies conditional debits/refunds.
type CreditStore interface {
	ListSubscriptions(ctx context.Context, memberID, studioID uint64) ([]model.Subscription, error)
	ListClassPasses(ctx context.Context, memberID, studioID uint64) ([]model.ClassPack, error)
	ListComps(ctx context.Context, memberID, studioID uint64) ([]model.ClassPack, error)
	DebitCredit(ctx context.Context, c model.CreditCandidate, res model.CreditReservation) (bool, error)
	ReleaseCredit(ctx context.Context, ref string, at time.Time) (bool, error)
	GetCreditReservation(ctx context.Context, ref string) (*model.CreditReservation, error)
}

// CouponStore persists coupons and redemptions.
type CouponStore interface {
	GetCouponByCode(ctx context.Context, studioID uint64, code string) (*model.Coupon, error)
	CreateCoupon(ctx context.Context, c *model.Coupon) error
	RedeemCoupon(ctx context.Context, r *model.CouponRedemption) error
}

// Clock returns the current time.  Tests pin it.
type Clock func() time.Time

func (c Clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
