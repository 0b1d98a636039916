package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/studio-booking/internal/logging"
	"github.com/iliyamo/studio-booking/internal/metrics"
	"github.com/iliyamo/studio-booking/internal/model"
)

// AppliesToContext describes what a coupon is being applied to.  Target is
// the thing being priced (drop_in, class_pack or private).
type AppliesToContext struct {
	Target   model.CouponScope
	MemberID uint64
	At       time.Time
}

// Validation is the outcome of Validate.  Discount is set when Valid,
// Reason when not.
type Validation struct {
	Valid    bool                      `json:"valid"`
	Coupon   *model.Coupon             `json:"-"`
	Discount *model.Discount           `json:"discount,omitempty"`
	Reason   model.CouponInvalidReason `json:"reason,omitempty"`
}

// CouponEvaluator validates coupon codes, prices discounts and records
// redemptions.  Validation is read-only; only Redeem moves the counter.
type CouponEvaluator struct {
	coupons  CouponStore
	bookings BookingStore
	clock    Clock
	log      *zap.Logger
	metrics  *metrics.Collector
}

// NewCouponEvaluator wires an evaluator.  bookings answers the new_member
// scope question.
func NewCouponEvaluator(coupons CouponStore, bookings BookingStore, clock Clock, log *zap.Logger, m *metrics.Collector) *CouponEvaluator {
	return &CouponEvaluator{coupons: coupons, bookings: bookings, clock: clock, log: logging.OrNop(log).Named("coupon"), metrics: m}
}

// NormalizeCode trims a code and upper-cases it; codes are matched
// case-insensitively.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks code against the studio's coupons.  Business rule
// failures come back as an invalid Validation, not as an error; the error
// return is reserved for storage failures.
func (e *CouponEvaluator) Validate(ctx context.Context, studioID uint64, code string, actx AppliesToContext) (*Validation, error) {
	at := actx.At
	if at.IsZero() {
		at = e.clock.now()
	}
	c, err := e.coupons.GetCouponByCode(ctx, studioID, NormalizeCode(code))
	if errors.Is(err, model.ErrCouponNotFound) {
		return &Validation{Reason: model.ReasonNotFound}, nil
	}
	if err != nil {
		return nil, err
	}
	v := &Validation{Coupon: c}
	switch {
	case !c.Active:
		v.Reason = model.ReasonInactive
	case c.ValidFrom != nil && at.Before(*c.ValidFrom),
		c.ValidUntil != nil && at.After(*c.ValidUntil):
		v.Reason = model.ReasonOutsideWindow
	case c.MaxRedemptions != nil && c.CurrentRedemptions >= *c.MaxRedemptions:
		v.Reason = model.ReasonLimitReached
	}
	if v.Reason != "" {
		return v, nil
	}
	ok, err := e.scopeMatches(ctx, c, actx)
	if err != nil {
		return nil, err
	}
	if !ok {
		v.Reason = model.ReasonScopeMismatch
		return v, nil
	}
	d := discountOf(c)
	v.Valid = true
	v.Discount = &d
	return v, nil
}

// Lookup returns the studio's coupon for code without validating it.
func (e *CouponEvaluator) Lookup(ctx context.Context, studioID uint64, code string) (*model.Coupon, error) {
	return e.coupons.GetCouponByCode(ctx, studioID, NormalizeCode(code))
}

func (e *CouponEvaluator) scopeMatches(ctx context.Context, c *model.Coupon, actx AppliesToContext) (bool, error) {
	// A class count only makes sense on a class pack purchase.
	if c.Type == model.CouponFreeClasses && actx.Target != model.ScopeClassPack {
		return false, nil
	}
	switch c.AppliesTo {
	case model.ScopeAll:
		return true, nil
	case model.ScopeNewMember:
		n, err := e.bookings.CountAttendedBookings(ctx, actx.MemberID, c.StudioID)
		if err != nil {
			return false, err
		}
		return n == 0, nil
	}
	return c.AppliesTo == actx.Target, nil
}

func discountOf(c *model.Coupon) model.Discount {
	d := model.Discount{CouponID: c.ID, Code: c.Code, Type: c.Type, Value: c.Value}
	switch c.Type {
	case model.CouponPercentOff:
		d.Description = fmt.Sprintf("%d%% off", c.Value)
	case model.CouponAmountOff:
		d.Description = fmt.Sprintf("%d.%02d off", c.Value/100, c.Value%100)
	case model.CouponFreeClasses:
		d.Description = fmt.Sprintf("%d free classes", c.Value)
	}
	return d
}

// ComputeDiscount returns the price after applying d to base, clamped to
// [0, base].  Percentages round the discount down, so the member never pays
// less than the exact percentage.  free_classes leaves the price unchanged.
func ComputeDiscount(base int64, d model.Discount) int64 {
	if base <= 0 {
		return 0
	}
	price := base
	switch d.Type {
	case model.CouponPercentOff:
		price = base - base*d.Value/100
	case model.CouponAmountOff:
		price = base - d.Value
	}
	if price < 0 {
		return 0
	}
	if price > base {
		return base
	}
	return price
}

// FreeClasses returns the number of classes a free_classes discount adds to
// a class pack purchase, and zero for every other type.
func FreeClasses(d model.Discount) int {
	if d.Type != model.CouponFreeClasses || d.Value < 0 {
		return 0
	}
	return int(d.Value)
}

// Redeem records that couponID was applied to appliedTo (a booking or
// payment reference).  A repeated (coupon, reference) pair fails with
// model.ErrAlreadyRedeemed; an exhausted coupon with
// model.ErrRedemptionLimitReached.
func (e *CouponEvaluator) Redeem(ctx context.Context, couponID, memberID, studioID uint64, appliedTo string) (*model.CouponRedemption, error) {
	r := &model.CouponRedemption{
		CouponID:   couponID,
		MemberID:   memberID,
		StudioID:   studioID,
		AppliedRef: appliedTo,
		RedeemedAt: e.clock.now(),
	}
	err := e.coupons.RedeemCoupon(ctx, r)
	switch {
	case err == nil:
		e.metrics.RecordCouponRedemption("redeemed")
	case errors.Is(err, model.ErrAlreadyRedeemed):
		e.metrics.RecordCouponRedemption("already_redeemed")
		return nil, err
	case errors.Is(err, model.ErrRedemptionLimitReached):
		e.metrics.RecordCouponRedemption("limit_reached")
		return nil, err
	default:
		return nil, err
	}
	e.log.Debug("coupon redeemed", zap.Uint64("coupon_id", couponID), zap.String("applied_ref", appliedTo))
	return r, nil
}

// CreateCoupon validates a staff-defined coupon and stores it.
func (e *CouponEvaluator) CreateCoupon(ctx context.Context, c *model.Coupon) error {
	c.Code = NormalizeCode(c.Code)
	if c.AppliesTo == "" {
		c.AppliesTo = model.ScopeAll
	}
	if err := validateCoupon(c); err != nil {
		return err
	}
	c.CurrentRedemptions = 0
	if c.CreatedAt.IsZero() {
		c.CreatedAt = e.clock.now()
	}
	return e.coupons.CreateCoupon(ctx, c)
}

func validateCoupon(c *model.Coupon) error {
	invalid := func(msg string) error {
		return fmt.Errorf("%w: %s", model.ErrInvalidCouponDefinition, msg)
	}
	if c.Code == "" || len(c.Code) > 64 {
		return invalid("code must be 1-64 characters")
	}
	switch c.Type {
	case model.CouponPercentOff:
		if c.Value < 1 || c.Value > 100 {
			return invalid("percent_off value must be within 1..100")
		}
	case model.CouponAmountOff, model.CouponFreeClasses:
		if c.Value < 1 {
			return invalid("value must be positive")
		}
	default:
		return invalid("unknown coupon type")
	}
	switch c.AppliesTo {
	case model.ScopeAll, model.ScopeDropIn, model.ScopeClassPack, model.ScopePrivate, model.ScopeNewMember:
	default:
		return invalid("unknown applies_to scope")
	}
	if c.MaxRedemptions != nil && *c.MaxRedemptions < 1 {
		return invalid("max_redemptions must be positive")
	}
	if c.ValidFrom != nil && c.ValidUntil != nil && !c.ValidFrom.Before(*c.ValidUntil) {
		return invalid("valid_from must be before valid_until")
	}
	return nil
}
