package model

import (
	"errors"
	"fmt"
)

// Sentinel errors shared by the repositories, the ledgers and the
// orchestrator.  Handlers translate them into HTTP statuses; none of them is
// swallowed on the way up.
var (
	ErrClassNotFound             = errors.New("class instance not found")
	ErrStudioNotFound            = errors.New("studio not found")
	ErrBookingNotFound           = errors.New("booking not found")
	ErrCouponNotFound            = errors.New("coupon not found")
	ErrCreditReservationNotFound = errors.New("credit reservation not found")

	// ErrNotBookable means the class is not open for booking (not scheduled or
	// already started).
	ErrNotBookable = errors.New("class is not bookable")
	// ErrSpotTaken means the requested spot is held by another active booking.
	ErrSpotTaken = errors.New("spot already taken")
	// ErrAlreadyBooked means the member already holds an active booking for
	// the class.
	ErrAlreadyBooked = errors.New("member already booked this class")
	// ErrNoCreditAvailable means no subscription, class pass or comp can pay.
	ErrNoCreditAvailable = errors.New("no credit available")
	// ErrAlreadyRedeemed means the (coupon, reference) pair was redeemed before.
	ErrAlreadyRedeemed = errors.New("coupon already redeemed for this reference")
	// ErrRedemptionLimitReached means the coupon's redemption bound is used up.
	ErrRedemptionLimitReached = errors.New("coupon redemption limit reached")
	// ErrConcurrencyConflict means an atomic conditional write did not apply
	// because of a concurrent writer.  The whole reservation may be retried.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrNoVacancy is returned by a waitlist promotion that found no free seat.
	ErrNoVacancy = errors.New("no vacant seat")
	// ErrNotWaitlisted is returned when promoting a booking that left the
	// waitlist in the meantime.
	ErrNotWaitlisted = errors.New("booking is not waitlisted")
	// ErrInvalidTransition is returned for a status change the booking's
	// current status does not allow.
	ErrInvalidTransition = errors.New("invalid booking status transition")
	// ErrForbidden is returned when the caller acts outside its studio or on
	// another member's booking.
	ErrForbidden = errors.New("forbidden")
	// ErrCouponExists is returned when a studio reuses a coupon code.
	ErrCouponExists = errors.New("coupon code already exists")
	// ErrInvalidCouponDefinition is returned for malformed staff input.
	ErrInvalidCouponDefinition = errors.New("invalid coupon definition")
)

// CapacityError reports that seat arithmetic cannot be satisfied: the class
// is not scheduled, or an admin tried to shrink capacity below the seats
// already held.
type CapacityError struct {
	Reason string
}

func (e *CapacityError) Error() string { return "capacity error: " + e.Reason }

// NewCapacityError builds a CapacityError with a formatted reason.
func NewCapacityError(format string, args ...any) *CapacityError {
	return &CapacityError{Reason: fmt.Sprintf(format, args...)}
}

// IsCapacityError reports whether err wraps a CapacityError.
func IsCapacityError(err error) bool {
	var ce *CapacityError
	return errors.As(err, &ce)
}

// CouponInvalidReason enumerates why a coupon failed validation.
type CouponInvalidReason string

const (
	ReasonNotFound      CouponInvalidReason = "not_found"
	ReasonInactive      CouponInvalidReason = "inactive"
	ReasonOutsideWindow CouponInvalidReason = "outside_validity_window"
	ReasonLimitReached  CouponInvalidReason = "redemption_limit_reached"
	ReasonScopeMismatch CouponInvalidReason = "scope_mismatch"
)

// InvalidCouponError is returned by a reservation whose coupon did not
// validate.  Reason carries the machine-readable cause.
type InvalidCouponError struct {
	Code   string
	Reason CouponInvalidReason
}

func (e *InvalidCouponError) Error() string {
	return fmt.Sprintf("invalid coupon %q: %s", e.Code, e.Reason)
}

// IsNotFound reports whether err is one of the not-found sentinels.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrClassNotFound) ||
		errors.Is(err, ErrStudioNotFound) ||
		errors.Is(err, ErrBookingNotFound) ||
		errors.Is(err, ErrCouponNotFound) ||
		errors.Is(err, ErrCreditReservationNotFound)
}
