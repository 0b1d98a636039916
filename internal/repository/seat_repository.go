package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// SeatRepo owns the seat arithmetic of class instances.  Each method is one
// transaction whose decision is a conditional UPDATE on class_instances, so
// the booked_count column never exceeds max_capacity whatever the number of
// concurrent callers or server instances.
type SeatRepo struct {
	db *sql.DB
}

// NewSeatRepo constructs a SeatRepo with the given DB handle.
func NewSeatRepo(db *sql.DB) *SeatRepo {
	return &SeatRepo{db: db}
}

// takeSeat increments booked_count when a seat is free.  It reports false
// without error when the class is full or not scheduled.
func takeSeat(ctx context.Context, tx *sql.Tx, classID uint64) (bool, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE class_instances SET booked_count = booked_count + 1
		 WHERE id = ? AND status = 'scheduled' AND booked_count < max_capacity`, classID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n == 1, err
}

// nextWaitlistPosition hands out the next waitlist position.  LAST_INSERT_ID(expr)
// makes the incremented value readable from the same statement's result.
func nextWaitlistPosition(ctx context.Context, tx *sql.Tx, classID uint64) (int, error) {
	res, err := tx.ExecContext(ctx,
		`UPDATE class_instances SET waitlist_seq = LAST_INSERT_ID(waitlist_seq + 1) WHERE id = ?`, classID)
	if err != nil {
		return 0, err
	}
	pos, err := res.LastInsertId()
	return int(pos), err
}

// ClaimSeat claims a seat or, when the class is full, a waitlist position.
// The requested spot must not be held by a seated booking, otherwise
// model.ErrSpotTaken is returned without waitlisting.  A class that is not
// scheduled yields a *model.CapacityError.
func (r *SeatRepo) ClaimSeat(ctx context.Context, req model.ClaimRequest) (*model.ClaimResult, error) {
	var out *model.ClaimResult
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		if req.RequestedSpot != nil {
			var n int
			err := tx.QueryRowContext(ctx,
				`SELECT COUNT(*) FROM bookings WHERE class_instance_id = ? AND seated_spot = ?`,
				req.ClassInstanceID, *req.RequestedSpot).Scan(&n)
			if err != nil {
				return err
			}
			if n > 0 {
				return model.ErrSpotTaken
			}
		}

		granted, err := takeSeat(ctx, tx, req.ClassInstanceID)
		if err != nil {
			return err
		}
		res := &model.ClaimResult{Granted: granted}
		if !granted {
			c, err := scanClass(tx.QueryRowContext(ctx,
				`SELECT `+classColumns+` FROM class_instances WHERE id = ?`, req.ClassInstanceID))
			if err != nil {
				return notFound(err, model.ErrClassNotFound)
			}
			if c.Status != model.ClassScheduled {
				return model.NewCapacityError("class not scheduled")
			}
			if res.Position, err = nextWaitlistPosition(ctx, tx, req.ClassInstanceID); err != nil {
				return err
			}
			res.Waitlisted = true
		} else {
			res.Spot = req.RequestedSpot
		}

		b := &model.Booking{
			ID:              req.BookingID,
			MemberID:        req.MemberID,
			StudioID:        req.StudioID,
			ClassInstanceID: req.ClassInstanceID,
			RequestedSpot:   req.RequestedSpot,
		}
		at := req.At.UTC()
		if granted {
			b.Status = model.BookingBooked
			b.Spot = res.Spot
			b.CreditRef = req.CreditRef
			b.BookedAt = &at
		} else {
			b.Status = model.BookingWaitlisted
			pos := res.Position
			b.WaitlistPosition = &pos
		}

		if req.BookingID != 0 {
			err = seatPending(ctx, tx, b)
		} else {
			err = insertBooking(ctx, tx, b, at)
		}
		if err != nil {
			return err
		}
		if res.Booking, err = getBooking(ctx, tx, b.ID, false); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func insertBooking(ctx context.Context, tx *sql.Tx, b *model.Booking, at time.Time) error {
	const q = `INSERT INTO bookings (member_id, studio_id, class_instance_id, status, spot, requested_spot,
	                                 waitlist_position, credit_ref, payment_status, booked_at, created_at)
	           VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'none', ?, ?)`
	var pos sql.NullInt64
	if b.WaitlistPosition != nil {
		pos = sql.NullInt64{Int64: int64(*b.WaitlistPosition), Valid: true}
	}
	res, err := tx.ExecContext(ctx, q, b.MemberID, b.StudioID, b.ClassInstanceID, b.Status,
		nullString(b.Spot), nullString(b.RequestedSpot), pos, nullString(b.CreditRef),
		nullTime(b.BookedAt), at)
	if err != nil {
		return duplicateToDomain(err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	return nil
}

// seatPending moves an existing pending_payment booking onto a seat or the
// waitlist.  The status guard makes concurrent payment callbacks race
// safely: the loser gets model.ErrInvalidTransition and its counter update
// is rolled back with the transaction.
func seatPending(ctx context.Context, tx *sql.Tx, b *model.Booking) error {
	var pos sql.NullInt64
	if b.WaitlistPosition != nil {
		pos = sql.NullInt64{Int64: int64(*b.WaitlistPosition), Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET status = ?, spot = ?, waitlist_position = ?, booked_at = ?
		 WHERE id = ? AND status = 'pending_payment'`,
		b.Status, nullString(b.Spot), pos, nullTime(b.BookedAt), b.ID)
	if err != nil {
		return duplicateToDomain(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return model.ErrInvalidTransition
	}
	return nil
}

func duplicateToDomain(err error) error {
	switch {
	case isDuplicate(err, "uq_bookings_seated_spot"):
		return model.ErrSpotTaken
	case isDuplicate(err, "uq_bookings_active_member"):
		return model.ErrAlreadyBooked
	}
	return err
}

// ReleaseSeat cancels a booking and gives its seat back.  A booking that is
// already cancelled or a no-show is returned unchanged with Changed=false so
// repeated cancellations are harmless.
func (r *SeatRepo) ReleaseSeat(ctx context.Context, bookingID uint64, req model.ReleaseRequest) (*model.ReleaseResult, error) {
	var out *model.ReleaseResult
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, bookingID, true)
		if err != nil {
			return err
		}
		res := &model.ReleaseResult{PreviousStatus: b.Status}
		if b.Status.Terminal() {
			res.Booking = b
			out = res
			return nil
		}
		late := req.LateIfSeated && b.Status.HoldsSeat()
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'cancelled', cancelled_at = ?, late_cancel = ? WHERE id = ?`,
			req.At.UTC(), late, bookingID); err != nil {
			return err
		}
		if b.Status.HoldsSeat() {
			upd, err := tx.ExecContext(ctx,
				`UPDATE class_instances SET booked_count = booked_count - 1 WHERE id = ? AND booked_count > 0`,
				b.ClassInstanceID)
			if err != nil {
				return err
			}
			n, err := upd.RowsAffected()
			if err != nil {
				return err
			}
			res.SeatFreed = n == 1
		}
		res.Changed = true
		if res.Booking, err = getBooking(ctx, tx, bookingID, false); err != nil {
			return err
		}
		out = res
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// WaitlistCandidates lists the waitlisted bookings of a class in promotion
// order.  Positions are never renumbered; only their order matters.
func (r *SeatRepo) WaitlistCandidates(ctx context.Context, classID uint64) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE class_instance_id = ? AND status = 'waitlisted'
		 ORDER BY waitlist_position, id`, classID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// PromoteWaitlisted seats one waitlisted booking.  It fails with
// model.ErrNotWaitlisted if the booking left the waitlist and with
// model.ErrNoVacancy if no seat is free any more; in both cases nothing is
// written.
func (r *SeatRepo) PromoteWaitlisted(ctx context.Context, bookingID uint64, creditRef *string, at time.Time) (*model.Booking, error) {
	var out *model.Booking
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		b, err := getBooking(ctx, tx, bookingID, true)
		if err != nil {
			return err
		}
		if b.Status != model.BookingWaitlisted {
			return model.ErrNotWaitlisted
		}
		ok, err := takeSeat(ctx, tx, b.ClassInstanceID)
		if err != nil {
			return err
		}
		if !ok {
			return model.ErrNoVacancy
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE bookings SET status = 'booked', credit_ref = ?, booked_at = ? WHERE id = ?`,
			nullString(creditRef), at.UTC(), bookingID); err != nil {
			return err
		}
		out, err = getBooking(ctx, tx, bookingID, false)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// SetCapacity changes max_capacity.  Completed or cancelled classes and
// values below the seats already held are rejected with a
// *model.CapacityError.
func (r *SeatRepo) SetCapacity(ctx context.Context, classID uint64, capacity int) (*model.ClassInstance, error) {
	if capacity < 1 {
		return nil, model.NewCapacityError("capacity must be positive")
	}
	var out *model.ClassInstance
	err := withTx(ctx, r.db, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			`UPDATE class_instances SET max_capacity = ?
			 WHERE id = ? AND status IN ('scheduled','in_progress') AND booked_count <= ?`,
			capacity, classID, capacity)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		c, err := scanClass(tx.QueryRowContext(ctx,
			`SELECT `+classColumns+` FROM class_instances WHERE id = ?`, classID))
		if err != nil {
			return notFound(err, model.ErrClassNotFound)
		}
		if c.Immutable() {
			return model.NewCapacityError("class is %s", c.Status)
		}
		// Zero rows with an equal capacity is a no-op write, not a rejection.
		if n == 0 && c.MaxCapacity != capacity {
			return model.NewCapacityError("capacity %d is below %d booked seats", capacity, c.BookedCount)
		}
		out = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Availability reads the seat counters and the waitlist length of a class.
func (r *SeatRepo) Availability(ctx context.Context, classID uint64) (*model.Availability, error) {
	const q = `SELECT c.max_capacity, c.booked_count,
	                  (SELECT COUNT(*) FROM bookings b WHERE b.class_instance_id = c.id AND b.status = 'waitlisted')
	           FROM class_instances c WHERE c.id = ?`
	a := model.Availability{ClassInstanceID: classID}
	err := r.db.QueryRowContext(ctx, q, classID).Scan(&a.Capacity, &a.Booked, &a.Waitlisted)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, model.ErrClassNotFound
	}
	if err != nil {
		return nil, err
	}
	a.Available = a.Capacity - a.Booked
	if a.Available < 0 {
		a.Available = 0
	}
	return &a, nil
}
