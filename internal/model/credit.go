package model

import "time"

// PlanType distinguishes subscription plans.  Only limited and unlimited
// plans can pay for classes.
type PlanType string

const (
	PlanLimited   PlanType = "limited"
	PlanUnlimited PlanType = "unlimited"
)

// SubscriptionStatus enumerates subscription billing states.
type SubscriptionStatus string

const (
	SubscriptionActive    SubscriptionStatus = "active"
	SubscriptionPastDue   SubscriptionStatus = "past_due"
	SubscriptionCancelled SubscriptionStatus = "cancelled"
	SubscriptionPaused    SubscriptionStatus = "paused"
)

// Subscription is a member's recurring plan at a studio joined with the
// plan's type and per-period ceiling.
type Subscription struct {
	ID                    uint64
	MemberID              uint64
	StudioID              uint64
	PlanID                uint64
	PlanType              PlanType
	ClassesPerPeriod      *int // nil for unlimited plans
	Status                SubscriptionStatus
	CurrentPeriodStart    time.Time
	CurrentPeriodEnd      time.Time
	ClassesUsedThisPeriod int
}

// InPeriod reports whether at lies inside the current billing period.
func (s *Subscription) InPeriod(at time.Time) bool {
	return !at.Before(s.CurrentPeriodStart) && at.Before(s.CurrentPeriodEnd)
}

// ClassPack is the shared shape of class passes and comp grants.
type ClassPack struct {
	ID               uint64
	MemberID         uint64
	StudioID         uint64
	TotalClasses     int
	RemainingClasses int
	ExpiresAt        *time.Time
}

// Expired reports whether the pack is past its expiry at the given time.
// Expiry is a read-time filter; the row is never rewritten.
func (p *ClassPack) Expired(at time.Time) bool {
	return p.ExpiresAt != nil && !at.Before(*p.ExpiresAt)
}

// CreditSource tags the ledger a credit unit came from.
type CreditSource string

const (
	SourceSubscription CreditSource = "subscription"
	SourceClassPass    CreditSource = "class_pass"
	SourceComp         CreditSource = "comp"
)

// CreditCandidate is one entry of the ordered selection list built by the
// credit ledger.  Exactly one variant is meaningful per Source.
type CreditCandidate struct {
	Source      CreditSource
	SourceID    uint64
	Unlimited   bool
	Limit       int        // limited subscriptions only
	PeriodStart time.Time  // subscriptions only
	ExpiresAt   *time.Time // passes and comps only
	Remaining   int        // passes and comps only
}

// CreditReservation records which unit paid for a booking so it can be
// refunded exactly once.
type CreditReservation struct {
	Ref         string
	MemberID    uint64
	StudioID    uint64
	Source      CreditSource
	SourceID    uint64
	PeriodStart *time.Time
	ReservedAt  time.Time
	ReleasedAt  *time.Time
}
