package model

import "time"

// CouponType enumerates how a coupon discounts.
type CouponType string

const (
	CouponPercentOff  CouponType = "percent_off"
	CouponAmountOff   CouponType = "amount_off"
	CouponFreeClasses CouponType = "free_classes"
)

// CouponScope restricts what a coupon may be applied to.
type CouponScope string

const (
	ScopeAll       CouponScope = "all"
	ScopeDropIn    CouponScope = "drop_in"
	ScopeClassPack CouponScope = "class_pack"
	ScopePrivate   CouponScope = "private"
	ScopeNewMember CouponScope = "new_member"
)

// Coupon mirrors the `coupons` table.  Code is unique per studio and
// CurrentRedemptions never exceeds MaxRedemptions when the latter is set.
type Coupon struct {
	ID                 uint64      `json:"id"`
	StudioID           uint64      `json:"studio_id"`
	Code               string      `json:"code"`
	Type               CouponType  `json:"type"`
	Value              int64       `json:"value"`
	AppliesTo          CouponScope `json:"applies_to"`
	MaxRedemptions     *int        `json:"max_redemptions,omitempty"`
	CurrentRedemptions int         `json:"current_redemptions"`
	ValidFrom          *time.Time  `json:"valid_from,omitempty"`
	ValidUntil         *time.Time  `json:"valid_until,omitempty"`
	Active             bool        `json:"active"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Discount is the evaluated effect of a valid coupon.
type Discount struct {
	CouponID    uint64     `json:"coupon_id"`
	Code        string     `json:"code"`
	Type        CouponType `json:"type"`
	Value       int64      `json:"value"`
	Description string     `json:"description"`
}

// CouponRedemption is the append-only proof that a coupon was applied to one
// booking or payment.  (CouponID, AppliedRef) is unique.
type CouponRedemption struct {
	ID         uint64    `json:"id"`
	CouponID   uint64    `json:"coupon_id"`
	MemberID   uint64    `json:"member_id"`
	StudioID   uint64    `json:"studio_id"`
	AppliedRef string    `json:"applied_ref"`
	RedeemedAt time.Time `json:"redeemed_at"`
}
