package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// CreditRepo persists the three credit sources and the reservation records
// that tie a debit to a booking.  Selecting which source to debit is the
// credit ledger's job; this repository only lists the rows and applies
// conditional debits and refunds.
type CreditRepo struct {
	db *sql.DB
}

// NewCreditRepo constructs a CreditRepo with the given DB handle.
func NewCreditRepo(db *sql.DB) *CreditRepo {
	return &CreditRepo{db: db}
}

// ListSubscriptions returns the member's subscriptions at the studio joined
// with their plan type and per-period ceiling.
func (r *CreditRepo) ListSubscriptions(ctx context.Context, memberID, studioID uint64) ([]model.Subscription, error) {
	const q = `SELECT s.id, s.member_id, s.studio_id, s.plan_id, p.plan_type, p.classes_per_period,
	                  s.status, s.current_period_start, s.current_period_end, s.classes_used_this_period
	           FROM subscriptions s
	           JOIN plans p ON p.id = s.plan_id
	           WHERE s.member_id = ? AND s.studio_id = ?
	           ORDER BY s.id`
	rows, err := r.db.QueryContext(ctx, q, memberID, studioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Subscription
	for rows.Next() {
		var s model.Subscription
		var perPeriod sql.NullInt64
		if err := rows.Scan(&s.ID, &s.MemberID, &s.StudioID, &s.PlanID, &s.PlanType, &perPeriod,
			&s.Status, &s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.ClassesUsedThisPeriod); err != nil {
			return nil, err
		}
		s.ClassesPerPeriod = intPtr(perPeriod)
		s.CurrentPeriodStart = s.CurrentPeriodStart.UTC()
		s.CurrentPeriodEnd = s.CurrentPeriodEnd.UTC()
		out = append(out, s)
	}
	return out, rows.Err()
}

// ListClassPasses returns the member's class passes at the studio.
func (r *CreditRepo) ListClassPasses(ctx context.Context, memberID, studioID uint64) ([]model.ClassPack, error) {
	return r.listPacks(ctx, "class_passes", memberID, studioID)
}

// ListComps returns the member's comp grants at the studio.
func (r *CreditRepo) ListComps(ctx context.Context, memberID, studioID uint64) ([]model.ClassPack, error) {
	return r.listPacks(ctx, "comp_classes", memberID, studioID)
}

func (r *CreditRepo) listPacks(ctx context.Context, table string, memberID, studioID uint64) ([]model.ClassPack, error) {
	q := fmt.Sprintf(`SELECT id, member_id, studio_id, total_classes, remaining_classes, expires_at
	                  FROM %s WHERE member_id = ? AND studio_id = ? ORDER BY id`, table)
	rows, err := r.db.QueryContext(ctx, q, memberID, studioID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.ClassPack
	for rows.Next() {
		var p model.ClassPack
		var exp sql.NullTime
		if err := rows.Scan(&p.ID, &p.MemberID, &p.StudioID, &p.TotalClasses, &p.RemainingClasses, &exp); err != nil {
			return nil, err
		}
		p.ExpiresAt = timePtr(exp)
		out = append(out, p)
	}
	return out, rows.Err()
}

func packTable(src model.CreditSource) (string, error) {
	switch src {
	case model.SourceClassPass:
		return "class_passes", nil
	case model.SourceComp:
		return "comp_classes", nil
	}
	return "", fmt.Errorf("credit source %q has no pack table", src)
}

// DebitCredit applies the debit described by c and records res in the same
// transaction.  applied is false when the conditional update lost to a
// concurrent writer (or the source stopped being eligible); nothing is
// recorded then.
func (r *CreditRepo) DebitCredit(ctx context.Context, c model.CreditCandidate, res model.CreditReservation) (applied bool, err error) {
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		var n int64
		switch {
		case c.Source == model.SourceSubscription && c.Unlimited:
			// Unlimited plans have no counter; the row only has to be usable.
			var id uint64
			err := tx.QueryRowContext(ctx,
				`SELECT id FROM subscriptions
				 WHERE id = ? AND status = 'active' AND current_period_start <= ? AND current_period_end > ?
				 FOR UPDATE`, c.SourceID, res.ReservedAt.UTC(), res.ReservedAt.UTC()).Scan(&id)
			if errors.Is(err, sql.ErrNoRows) {
				return nil
			}
			if err != nil {
				return err
			}
			n = 1
		case c.Source == model.SourceSubscription:
			upd, err := tx.ExecContext(ctx,
				`UPDATE subscriptions s JOIN plans p ON p.id = s.plan_id
				 SET s.classes_used_this_period = s.classes_used_this_period + 1
				 WHERE s.id = ? AND s.status = 'active' AND s.current_period_start = ?
				   AND p.plan_type = 'limited' AND s.classes_used_this_period < p.classes_per_period`,
				c.SourceID, c.PeriodStart.UTC())
			if err != nil {
				return err
			}
			if n, err = upd.RowsAffected(); err != nil {
				return err
			}
		default:
			table, err := packTable(c.Source)
			if err != nil {
				return err
			}
			upd, err := tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET remaining_classes = remaining_classes - 1
				 WHERE id = ? AND remaining_classes > 0 AND (expires_at IS NULL OR expires_at > ?)`, table),
				c.SourceID, res.ReservedAt.UTC())
			if err != nil {
				return err
			}
			if n, err = upd.RowsAffected(); err != nil {
				return err
			}
		}
		if n == 0 {
			return nil
		}
		var period *time.Time
		if c.Source == model.SourceSubscription {
			ps := c.PeriodStart
			period = &ps
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO credit_reservations (ref, member_id, studio_id, source, source_id, period_start, reserved_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			res.Ref, res.MemberID, res.StudioID, c.Source, c.SourceID, nullTime(period), res.ReservedAt.UTC()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	return applied, err
}

// ReleaseCredit refunds the unit recorded under ref exactly once.  The
// released_at stamp is the guard: only the call that sets it refunds, later
// calls return refunded=false with no error.  A subscription is only
// refunded while it is still in the period the debit was taken from.
func (r *CreditRepo) ReleaseCredit(ctx context.Context, ref string, at time.Time) (refunded bool, err error) {
	err = withTx(ctx, r.db, func(tx *sql.Tx) error {
		cr, err := getCreditReservation(ctx, tx, ref, true)
		if err != nil {
			return err
		}
		upd, err := tx.ExecContext(ctx,
			`UPDATE credit_reservations SET released_at = ? WHERE ref = ? AND released_at IS NULL`, at.UTC(), ref)
		if err != nil {
			return err
		}
		n, err := upd.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return nil
		}
		switch cr.Source {
		case model.SourceSubscription:
			if cr.PeriodStart == nil {
				break
			}
			// Unlimited plans never incremented the counter; the plan_type guard skips them.
			_, err = tx.ExecContext(ctx,
				`UPDATE subscriptions s JOIN plans p ON p.id = s.plan_id
				 SET s.classes_used_this_period = s.classes_used_this_period - 1
				 WHERE s.id = ? AND s.current_period_start = ? AND s.classes_used_this_period > 0
				   AND p.plan_type = 'limited'`, cr.SourceID, cr.PeriodStart.UTC())
		default:
			table, terr := packTable(cr.Source)
			if terr != nil {
				return terr
			}
			_, err = tx.ExecContext(ctx, fmt.Sprintf(
				`UPDATE %s SET remaining_classes = remaining_classes + 1
				 WHERE id = ? AND remaining_classes < total_classes`, table), cr.SourceID)
		}
		if err != nil {
			return err
		}
		refunded = true
		return nil
	})
	return refunded, err
}

// GetCreditReservation returns the reservation recorded under ref.
func (r *CreditRepo) GetCreditReservation(ctx context.Context, ref string) (*model.CreditReservation, error) {
	return getCreditReservation(ctx, r.db, ref, false)
}

func getCreditReservation(ctx context.Context, q queryRower, ref string, lock bool) (*model.CreditReservation, error) {
	query := `SELECT ref, member_id, studio_id, source, source_id, period_start, reserved_at, released_at
	          FROM credit_reservations WHERE ref = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	var cr model.CreditReservation
	var period, released sql.NullTime
	err := q.QueryRowContext(ctx, query, ref).Scan(&cr.Ref, &cr.MemberID, &cr.StudioID, &cr.Source,
		&cr.SourceID, &period, &cr.ReservedAt, &released)
	if err != nil {
		return nil, notFound(err, model.ErrCreditReservationNotFound)
	}
	cr.PeriodStart = timePtr(period)
	cr.ReleasedAt = timePtr(released)
	cr.ReservedAt = cr.ReservedAt.UTC()
	return &cr, nil
}
