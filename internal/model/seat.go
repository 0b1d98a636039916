package model

import "time"

// ClaimRequest asks the capacity ledger for a seat of one class instance.
// When BookingID is set the claim seats an existing pending_payment booking
// instead of inserting a new one.
type ClaimRequest struct {
	ClassInstanceID uint64
	StudioID        uint64
	MemberID        uint64
	BookingID       uint64
	RequestedSpot   *string
	CreditRef       *string
	At              time.Time
}

// ClaimResult reports the outcome of a claim.  Exactly one of Granted and
// Waitlisted is true.
type ClaimResult struct {
	Granted    bool
	Spot       *string
	Waitlisted bool
	Position   int
	Booking    *Booking
}

// ReleaseRequest describes how a booking leaves its class.  LateIfSeated
// marks the cancellation late only when the booking holds a seat at the
// moment it is released; the store decides under the booking row lock.
type ReleaseRequest struct {
	At           time.Time
	LateIfSeated bool
}

// ReleaseResult is returned by a seat release.  Changed is false when the
// booking was already terminal and nothing was written.  SeatFreed is true
// when the class counter went down.
type ReleaseResult struct {
	Booking        *Booking
	PreviousStatus BookingStatus
	Changed        bool
	SeatFreed      bool
}
