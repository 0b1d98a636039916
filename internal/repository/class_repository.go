package repository

import (
	"context"
	"database/sql"

	"github.com/iliyamo/studio-booking/internal/model"
)

// ClassRepo reads class instances and the studios that own them.  Class
// rows are produced by template expansion outside the engine; the only
// writes this engine performs on them are counter updates in SeatRepo.
type ClassRepo struct {
	db *sql.DB
}

// NewClassRepo constructs a ClassRepo with the given DB handle.
func NewClassRepo(db *sql.DB) *ClassRepo {
	return &ClassRepo{db: db}
}

// DB exposes the underlying pool, used by the health check.
func (r *ClassRepo) DB() *sql.DB {
	return r.db
}

// Dates and times are formatted in SQL: with parseTime=true the driver
// would hand DATE back as time.Time and TIME as raw bytes.
const classColumns = `id, studio_id, DATE_FORMAT(class_date, '%Y-%m-%d'),
	TIME_FORMAT(start_time, '%H:%i'), TIME_FORMAT(end_time, '%H:%i'),
	max_capacity, status, booked_count, waitlist_seq, drop_in_price_cents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanClass(row rowScanner) (*model.ClassInstance, error) {
	var c model.ClassInstance
	var price sql.NullInt64
	err := row.Scan(&c.ID, &c.StudioID, &c.ClassDate, &c.StartTime, &c.EndTime,
		&c.MaxCapacity, &c.Status, &c.BookedCount, &c.WaitlistSeq, &price)
	if err != nil {
		return nil, err
	}
	c.DropInPriceCents = int64Ptr(price)
	return &c, nil
}

// GetClass returns the class instance with the given id or
// model.ErrClassNotFound.
func (r *ClassRepo) GetClass(ctx context.Context, id uint64) (*model.ClassInstance, error) {
	c, err := scanClass(r.db.QueryRowContext(ctx, `SELECT `+classColumns+` FROM class_instances WHERE id = ?`, id))
	if err != nil {
		return nil, notFound(err, model.ErrClassNotFound)
	}
	return c, nil
}

// GetStudio returns the studio policy row or model.ErrStudioNotFound.
func (r *ClassRepo) GetStudio(ctx context.Context, id uint64) (*model.Studio, error) {
	const q = `SELECT id, name, timezone, cancellation_window_hours, late_cancel_forfeits_credit,
	                  drop_in_price_cents, currency
	           FROM studios WHERE id = ?`
	var s model.Studio
	var price sql.NullInt64
	err := r.db.QueryRowContext(ctx, q, id).Scan(&s.ID, &s.Name, &s.Timezone,
		&s.CancellationWindowHours, &s.LateCancelForfeitsCredit, &price, &s.Currency)
	if err != nil {
		return nil, notFound(err, model.ErrStudioNotFound)
	}
	s.DropInPriceCents = int64Ptr(price)
	return &s, nil
}
