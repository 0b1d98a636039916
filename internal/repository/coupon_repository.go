package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// CouponRepo stores coupons and their append-only redemption records.
type CouponRepo struct {
	db *sql.DB
}

// NewCouponRepo constructs a CouponRepo with the given DB handle.
func NewCouponRepo(db *sql.DB) *CouponRepo {
	return &CouponRepo{db: db}
}

// GetCouponByCode looks a coupon up by its studio-scoped code.  Codes are
// stored upper-cased, so the lookup is case-insensitive.
func (r *CouponRepo) GetCouponByCode(ctx context.Context, studioID uint64, code string) (*model.Coupon, error) {
	const q = `SELECT id, studio_id, code, type, value, applies_to, max_redemptions, current_redemptions,
	                  valid_from, valid_until, active, created_at
	           FROM coupons WHERE studio_id = ? AND code = ?`
	var c model.Coupon
	var maxRed sql.NullInt64
	var from, until sql.NullTime
	err := r.db.QueryRowContext(ctx, q, studioID, strings.ToUpper(strings.TrimSpace(code))).Scan(
		&c.ID, &c.StudioID, &c.Code, &c.Type, &c.Value, &c.AppliesTo, &maxRed, &c.CurrentRedemptions,
		&from, &until, &c.Active, &c.CreatedAt)
	if err != nil {
		return nil, notFound(err, model.ErrCouponNotFound)
	}
	c.MaxRedemptions = intPtr(maxRed)
	c.ValidFrom = timePtr(from)
	c.ValidUntil = timePtr(until)
	c.CreatedAt = c.CreatedAt.UTC()
	return &c, nil
}

// CreateCoupon inserts a coupon.  A code already used by the studio yields
// model.ErrCouponExists.
func (r *CouponRepo) CreateCoupon(ctx context.Context, c *model.Coupon) error {
	const q = `INSERT INTO coupons (studio_id, code, type, value, applies_to, max_redemptions,
	                                valid_from, valid_until, active, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	c.Code = strings.ToUpper(strings.TrimSpace(c.Code))
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	var maxRed sql.NullInt64
	if c.MaxRedemptions != nil {
		maxRed = sql.NullInt64{Int64: int64(*c.MaxRedemptions), Valid: true}
	}
	res, err := r.db.ExecContext(ctx, q, c.StudioID, c.Code, c.Type, c.Value, c.AppliesTo, maxRed,
		nullTime(c.ValidFrom), nullTime(c.ValidUntil), c.Active, c.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err, "uq_coupon_code") {
			return model.ErrCouponExists
		}
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	c.ID = uint64(id)
	return nil
}

// RedeemCoupon bumps current_redemptions and inserts the redemption row in
// one transaction.  The conditional increment runs first so the coupon row
// lock is taken before the child insert.  An exhausted coupon yields
// model.ErrRedemptionLimitReached; a (coupon_id, applied_ref) pair seen
// before yields model.ErrAlreadyRedeemed and the increment rolls back.
func (r *CouponRepo) RedeemCoupon(ctx context.Context, red *model.CouponRedemption) error {
	return withTx(ctx, r.db, func(tx *sql.Tx) error {
		if red.RedeemedAt.IsZero() {
			red.RedeemedAt = time.Now().UTC()
		}
		upd, err := tx.ExecContext(ctx,
			`UPDATE coupons SET current_redemptions = current_redemptions + 1
			 WHERE id = ? AND (max_redemptions IS NULL OR current_redemptions < max_redemptions)`,
			red.CouponID)
		if err != nil {
			return err
		}
		n, err := upd.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			var seen int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM coupon_redemptions WHERE coupon_id = ? AND applied_ref = ?`,
				red.CouponID, red.AppliedRef).Scan(&seen)
			if err != nil {
				return err
			}
			if seen > 0 {
				return model.ErrAlreadyRedeemed
			}
			return model.ErrRedemptionLimitReached
		}

		res, err := tx.ExecContext(ctx,
			`INSERT INTO coupon_redemptions (coupon_id, member_id, studio_id, applied_ref, redeemed_at)
			 VALUES (?, ?, ?, ?, ?)`,
			red.CouponID, red.MemberID, red.StudioID, red.AppliedRef, red.RedeemedAt.UTC())
		if err != nil {
			if isDuplicate(err, "uq_redemption") {
				return model.ErrAlreadyRedeemed
			}
			return err
		}
		id, err := res.LastInsertId()
		if err != nil {
			return err
		}
		red.ID = uint64(id)
		return nil
	})
}
