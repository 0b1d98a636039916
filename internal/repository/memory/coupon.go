package memory

import (
	"context"
	"strings"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// AddCoupon stores a coupon directly, bypassing definition checks.
func (s *Store) AddCoupon(c model.Coupon) *model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	s.coupons[c.ID] = &c
	out := c
	return &out
}

func (s *Store) GetCouponByCode(_ context.Context, studioID uint64, code string) (*model.Coupon, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	code = strings.ToUpper(strings.TrimSpace(code))
	for _, c := range s.coupons {
		if c.StudioID == studioID && c.Code == code {
			out := *c
			return &out, nil
		}
	}
	return nil, model.ErrCouponNotFound
}

func (s *Store) CreateCoupon(_ context.Context, c *model.Coupon) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	for _, other := range s.coupons {
		if other.StudioID == c.StudioID && other.Code == c.Code {
			return model.ErrCouponExists
		}
	}
	c.ID = s.id()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	stored := *c
	s.coupons[c.ID] = &stored
	return nil
}

func (s *Store) RedeemCoupon(_ context.Context, r *model.CouponRedemption) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := redemptionKey{couponID: r.CouponID, ref: r.AppliedRef}
	if _, ok := s.redemptions[key]; ok {
		return model.ErrAlreadyRedeemed
	}
	c, ok := s.coupons[r.CouponID]
	if !ok {
		return model.ErrCouponNotFound
	}
	if c.MaxRedemptions != nil && c.CurrentRedemptions >= *c.MaxRedemptions {
		return model.ErrRedemptionLimitReached
	}
	c.CurrentRedemptions++
	r.ID = s.id()
	if r.RedeemedAt.IsZero() {
		r.RedeemedAt = time.Now().UTC()
	}
	stored := *r
	s.redemptions[key] = &stored
	return nil
}
