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

func (f *fixture) addCoupon(c model.Coupon) *model.Coupon {
	c.StudioID = f.studio.ID
	if c.AppliesTo == "" {
		c.AppliesTo = model.ScopeAll
	}
	c.Active = true
	return f.store.AddCoupon(c)
}

func TestComputeDiscount(t *testing.T) {
	tests := []struct {
		name string
		base int64
		d    model.Discount
		want int64
	}{
		{"percent", 1000, model.Discount{Type: model.CouponPercentOff, Value: 20}, 800},
		{"percent rounds discount down", 999, model.Discount{Type: model.CouponPercentOff, Value: 15}, 850},
		{"full percent", 1500, model.Discount{Type: model.CouponPercentOff, Value: 100}, 0},
		{"amount", 1000, model.Discount{Type: model.CouponAmountOff, Value: 250}, 750},
		{"amount above base clamps to zero", 300, model.Discount{Type: model.CouponAmountOff, Value: 500}, 0},
		{"free classes keep price", 1000, model.Discount{Type: model.CouponFreeClasses, Value: 2}, 1000},
		{"zero base", 0, model.Discount{Type: model.CouponAmountOff, Value: 100}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ComputeDiscount(tt.base, tt.d))
		})
	}
}

func TestFreeClasses(t *testing.T) {
	assert.Equal(t, 3, FreeClasses(model.Discount{Type: model.CouponFreeClasses, Value: 3}))
	assert.Equal(t, 0, FreeClasses(model.Discount{Type: model.CouponPercentOff, Value: 3}))
}

func TestCouponEvaluator_Validate_Reasons(t *testing.T) {
	f := newFixture(t)
	f.store.AddCoupon(model.Coupon{StudioID: f.studio.ID, Code: "SLEEPY", Type: model.CouponPercentOff, Value: 10, AppliesTo: model.ScopeAll})
	f.addCoupon(model.Coupon{Code: "EARLY", Type: model.CouponPercentOff, Value: 10, ValidFrom: timep(testNow.Add(time.Hour))})
	f.addCoupon(model.Coupon{Code: "LATE", Type: model.CouponPercentOff, Value: 10, ValidUntil: timep(testNow.Add(-time.Hour))})
	f.addCoupon(model.Coupon{Code: "USEDUP", Type: model.CouponPercentOff, Value: 10, MaxRedemptions: intp(1), CurrentRedemptions: 1})
	f.addCoupon(model.Coupon{Code: "PACKS", Type: model.CouponPercentOff, Value: 10, AppliesTo: model.ScopeClassPack})
	f.addCoupon(model.Coupon{Code: "FREEBIE", Type: model.CouponFreeClasses, Value: 2})

	tests := []struct {
		code string
		want model.CouponInvalidReason
	}{
		{"NOPE", model.ReasonNotFound},
		{"SLEEPY", model.ReasonInactive},
		{"EARLY", model.ReasonOutsideWindow},
		{"LATE", model.ReasonOutsideWindow},
		{"USEDUP", model.ReasonLimitReached},
		{"PACKS", model.ReasonScopeMismatch},
		{"FREEBIE", model.ReasonScopeMismatch},
	}
	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			v, err := f.coupon.Validate(context.Background(), f.studio.ID, tt.code, AppliesToContext{Target: model.ScopeDropIn, MemberID: 1})
			require.NoError(t, err)
			assert.False(t, v.Valid)
			assert.Nil(t, v.Discount)
			assert.Equal(t, tt.want, v.Reason)
		})
	}
}

func TestCouponEvaluator_Validate_CaseInsensitive(t *testing.T) {
	f := newFixture(t)
	f.addCoupon(model.Coupon{Code: "SPRING20", Type: model.CouponPercentOff, Value: 20, AppliesTo: model.ScopeDropIn})

	v, err := f.coupon.Validate(context.Background(), f.studio.ID, "  spring20 ", AppliesToContext{Target: model.ScopeDropIn})
	require.NoError(t, err)
	require.True(t, v.Valid)
	assert.Equal(t, "SPRING20", v.Discount.Code)
	assert.Equal(t, "20% off", v.Discount.Description)
	assert.Equal(t, int64(800), ComputeDiscount(1000, *v.Discount))
}

func TestCouponEvaluator_Validate_OtherStudio(t *testing.T) {
	f := newFixture(t)
	f.addCoupon(model.Coupon{Code: "MINE", Type: model.CouponAmountOff, Value: 100})

	v, err := f.coupon.Validate(context.Background(), f.studio.ID+1, "MINE", AppliesToContext{Target: model.ScopeDropIn})
	require.NoError(t, err)
	assert.Equal(t, model.ReasonNotFound, v.Reason)
}

func TestCouponEvaluator_Validate_NewMember(t *testing.T) {
	f := newFixture(t)
	f.addCoupon(model.Coupon{Code: "WELCOME", Type: model.CouponAmountOff, Value: 500, AppliesTo: model.ScopeNewMember})
	c := f.addClass(5, 48*time.Hour)
	claim(t, f, c.ID, 1)

	v, err := f.coupon.Validate(context.Background(), f.studio.ID, "WELCOME", AppliesToContext{Target: model.ScopeDropIn, MemberID: 2})
	require.NoError(t, err)
	assert.True(t, v.Valid)
	assert.Equal(t, "5.00 off", v.Discount.Description)

	v, err = f.coupon.Validate(context.Background(), f.studio.ID, "WELCOME", AppliesToContext{Target: model.ScopeDropIn, MemberID: 1})
	require.NoError(t, err)
	assert.False(t, v.Valid)
	assert.Equal(t, model.ReasonScopeMismatch, v.Reason)
}

func TestCouponEvaluator_Validate_FreeClassesOnPack(t *testing.T) {
	f := newFixture(t)
	f.addCoupon(model.Coupon{Code: "TWOFREE", Type: model.CouponFreeClasses, Value: 2})

	v, err := f.coupon.Validate(context.Background(), f.studio.ID, "TWOFREE", AppliesToContext{Target: model.ScopeClassPack})
	require.NoError(t, err)
	require.True(t, v.Valid)
	assert.Equal(t, 2, FreeClasses(*v.Discount))
}

func TestCouponEvaluator_Redeem_SameReferenceTwice(t *testing.T) {
	f := newFixture(t)
	c := f.addCoupon(model.Coupon{Code: "ONCE", Type: model.CouponPercentOff, Value: 10})

	_, err := f.coupon.Redeem(context.Background(), c.ID, 1, f.studio.ID, "pay-1")
	require.NoError(t, err)
	_, err = f.coupon.Redeem(context.Background(), c.ID, 1, f.studio.ID, "pay-1")
	assert.ErrorIs(t, err, model.ErrAlreadyRedeemed)
	assert.Equal(t, 1, f.store.Coupon(c.ID).CurrentRedemptions)
	assert.Equal(t, 1, f.store.Redemptions(c.ID))
}

func TestCouponEvaluator_Redeem_ConcurrentRespectsLimit(t *testing.T) {
	f := newFixture(t)
	c := f.addCoupon(model.Coupon{Code: "ONLYONE", Type: model.CouponAmountOff, Value: 100, MaxRedemptions: intp(1)})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coupon.Redeem(context.Background(), c.ID, uint64(i+1), f.studio.ID, fmt.Sprintf("pay-%d", i))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, model.ErrRedemptionLimitReached):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, f.store.Coupon(c.ID).CurrentRedemptions)
	assert.Equal(t, 1, f.store.Redemptions(c.ID))
}

func TestCouponEvaluator_CreateCoupon(t *testing.T) {
	f := newFixture(t)
	c := &model.Coupon{StudioID: f.studio.ID, Code: "summer", Type: model.CouponPercentOff, Value: 15, Active: true, CurrentRedemptions: 4}
	require.NoError(t, f.coupon.CreateCoupon(context.Background(), c))
	assert.NotZero(t, c.ID)
	assert.Equal(t, "SUMMER", c.Code)
	assert.Equal(t, model.ScopeAll, c.AppliesTo)
	assert.Equal(t, 0, c.CurrentRedemptions)

	dup := &model.Coupon{StudioID: f.studio.ID, Code: "Summer", Type: model.CouponAmountOff, Value: 100}
	assert.ErrorIs(t, f.coupon.CreateCoupon(context.Background(), dup), model.ErrCouponExists)
}

func TestCouponEvaluator_CreateCoupon_Invalid(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name string
		c    model.Coupon
	}{
		{"empty code", model.Coupon{Type: model.CouponPercentOff, Value: 10}},
		{"percent over 100", model.Coupon{Code: "X", Type: model.CouponPercentOff, Value: 120}},
		{"zero amount", model.Coupon{Code: "X", Type: model.CouponAmountOff}},
		{"unknown type", model.Coupon{Code: "X", Type: "bogus", Value: 1}},
		{"unknown scope", model.Coupon{Code: "X", Type: model.CouponAmountOff, Value: 1, AppliesTo: "gift_cards"}},
		{"zero max", model.Coupon{Code: "X", Type: model.CouponAmountOff, Value: 1, MaxRedemptions: intp(0)}},
		{"inverted window", model.Coupon{Code: "X", Type: model.CouponAmountOff, Value: 1,
			ValidFrom: timep(testNow), ValidUntil: timep(testNow.Add(-time.Hour))}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.c
			c.StudioID = f.studio.ID
			assert.ErrorIs(t, f.coupon.CreateCoupon(context.Background(), &c), model.ErrInvalidCouponDefinition)
		})
	}
}
