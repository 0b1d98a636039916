package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// BookingRepo provides reads and plain status writes for bookings.  Writes
// that move a seat counter live in SeatRepo so they share its transaction.
// Booking rows are never deleted.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo constructs a BookingRepo with the given DB handle.
func NewBookingRepo(db *sql.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

const bookingColumns = `id, member_id, studio_id, class_instance_id, status, spot, requested_spot,
	waitlist_position, credit_ref, payment_ref, payment_status, price_cents, coupon_code,
	late_cancel, booked_at, confirmed_at, cancelled_at, created_at`

func scanBooking(row rowScanner) (*model.Booking, error) {
	var b model.Booking
	var spot, reqSpot, creditRef, paymentRef, coupon sql.NullString
	var position, price sql.NullInt64
	var bookedAt, confirmedAt, cancelledAt sql.NullTime
	err := row.Scan(&b.ID, &b.MemberID, &b.StudioID, &b.ClassInstanceID, &b.Status,
		&spot, &reqSpot, &position, &creditRef, &paymentRef, &b.PaymentStatus, &price, &coupon,
		&b.LateCancel, &bookedAt, &confirmedAt, &cancelledAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	b.Spot = strPtr(spot)
	b.RequestedSpot = strPtr(reqSpot)
	b.WaitlistPosition = intPtr(position)
	b.CreditRef = strPtr(creditRef)
	b.PaymentRef = strPtr(paymentRef)
	b.PriceCents = int64Ptr(price)
	b.CouponCode = strPtr(coupon)
	b.BookedAt = timePtr(bookedAt)
	b.ConfirmedAt = timePtr(confirmedAt)
	b.CancelledAt = timePtr(cancelledAt)
	b.CreatedAt = b.CreatedAt.UTC()
	return &b, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func getBooking(ctx context.Context, q queryRower, id uint64, lock bool) (*model.Booking, error) {
	query := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	if lock {
		query += ` FOR UPDATE`
	}
	b, err := scanBooking(q.QueryRowContext(ctx, query, id))
	if err != nil {
		return nil, notFound(err, model.ErrBookingNotFound)
	}
	return b, nil
}

// GetBooking returns a booking by id or model.ErrBookingNotFound.
func (r *BookingRepo) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	return getBooking(ctx, r.db, id, false)
}

// GetBookingByPaymentRef resolves the booking a drop-in payment belongs to.
func (r *BookingRepo) GetBookingByPaymentRef(ctx context.Context, ref string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE payment_ref = ?`, ref))
	if err != nil {
		return nil, notFound(err, model.ErrBookingNotFound)
	}
	return b, nil
}

// CreatePendingBooking inserts a pending_payment booking.  It holds no seat
// and no waitlist position until the payment resolves.  The generated id and
// created_at are written back to b.
func (r *BookingRepo) CreatePendingBooking(ctx context.Context, b *model.Booking) error {
	const q = `INSERT INTO bookings (member_id, studio_id, class_instance_id, status, requested_spot,
	                                 payment_ref, payment_status, price_cents, coupon_code, created_at)
	           VALUES (?, ?, ?, 'pending_payment', ?, ?, 'pending', ?, ?, ?)`
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	res, err := r.db.ExecContext(ctx, q, b.MemberID, b.StudioID, b.ClassInstanceID,
		nullString(b.RequestedSpot), nullString(b.PaymentRef), nullInt64(b.PriceCents),
		nullString(b.CouponCode), b.CreatedAt.UTC())
	if err != nil {
		if isDuplicate(err, "uq_bookings_active_member") {
			return model.ErrAlreadyBooked
		}
		return classify(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.Status = model.BookingPendingPayment
	b.PaymentStatus = model.PaymentPending
	return nil
}

// TransitionStatus moves a booking to status `to` only if its current status
// is one of from.  It returns model.ErrInvalidTransition when the guard
// fails.  Moving to confirmed stamps confirmed_at.
func (r *BookingRepo) TransitionStatus(ctx context.Context, id uint64, from []model.BookingStatus, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	if len(from) == 0 {
		return nil, model.ErrInvalidTransition
	}
	var b *model.Booking
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		args := []any{to}
		set := `status = ?`
		if to == model.BookingConfirmed {
			set += `, confirmed_at = ?`
			args = append(args, at.UTC())
		}
		args = append(args, id)
		placeholders := make([]string, len(from))
		for i, s := range from {
			placeholders[i] = "?"
			args = append(args, s)
		}
		q := `UPDATE bookings SET ` + set + ` WHERE id = ? AND status IN (` + strings.Join(placeholders, ",") + `)`
		res, err := tx.ExecContext(ctx, q, args...)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			if _, err := getBooking(ctx, tx, id, false); err != nil {
				return err
			}
			return model.ErrInvalidTransition
		}
		b, err = getBooking(ctx, tx, id, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

// SetPaymentStatus records a payment outcome if the booking's payment status
// is still `from`.  changed is false when another resolver got there first.
func (r *BookingRepo) SetPaymentStatus(ctx context.Context, id uint64, from, to model.PaymentStatus) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ? WHERE id = ? AND payment_status = ?`, to, id, from)
	if err != nil {
		return false, classify(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CountAttendedBookings counts the member's bookings at the studio that
// ever held a seat.  Zero means the member is new to the studio.
func (r *BookingRepo) CountAttendedBookings(ctx context.Context, memberID, studioID uint64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings
		 WHERE member_id = ? AND studio_id = ? AND status IN ('booked','confirmed','no_show')`,
		memberID, studioID).Scan(&n)
	return n, err
}
