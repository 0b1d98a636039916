// Package memory is an in-process implementation of the booking engine's
// storage interfaces.  A single mutex makes every method one atomic step,
// mirroring the single-statement conditional updates of the MySQL
// repositories, so the services can be exercised concurrently in tests.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/iliyamo/studio-booking/internal/model"
)

// Store holds all rows in maps keyed by id.
type Store struct {
	mu sync.Mutex

	studios      map[uint64]*model.Studio
	classes      map[uint64]*model.ClassInstance
	bookings     map[uint64]*model.Booking
	subs         map[uint64]*model.Subscription
	passes       map[uint64]*model.ClassPack
	comps        map[uint64]*model.ClassPack
	reservations map[string]*model.CreditReservation
	coupons      map[uint64]*model.Coupon
	redemptions  map[redemptionKey]*model.CouponRedemption

	nextID uint64
}

type redemptionKey struct {
	couponID uint64
	ref      string
}

// New returns an empty store.
func New() *Store {
	return &Store{
		studios:      map[uint64]*model.Studio{},
		classes:      map[uint64]*model.ClassInstance{},
		bookings:     map[uint64]*model.Booking{},
		subs:         map[uint64]*model.Subscription{},
		passes:       map[uint64]*model.ClassPack{},
		comps:        map[uint64]*model.ClassPack{},
		reservations: map[string]*model.CreditReservation{},
		coupons:      map[uint64]*model.Coupon{},
		redemptions:  map[redemptionKey]*model.CouponRedemption{},
	}
}

func (s *Store) id() uint64 {
	s.nextID++
	return s.nextID
}

// ---- seeding and inspection, used by tests and local runs ----

// AddStudio stores a copy of st, assigning an id when zero.
func (s *Store) AddStudio(st model.Studio) *model.Studio {
	s.mu.Lock()
	defer s.mu.Unlock()
	if st.ID == 0 {
		st.ID = s.id()
	}
	s.studios[st.ID] = &st
	c := st
	return &c
}

// AddClass stores a copy of c, assigning an id when zero.
func (s *Store) AddClass(c model.ClassInstance) *model.ClassInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c.ID == 0 {
		c.ID = s.id()
	}
	if c.Status == "" {
		c.Status = model.ClassScheduled
	}
	s.classes[c.ID] = &c
	out := c
	return &out
}

// AddSubscription stores a copy of sub, assigning an id when zero.
func (s *Store) AddSubscription(sub model.Subscription) *model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sub.ID == 0 {
		sub.ID = s.id()
	}
	s.subs[sub.ID] = &sub
	out := sub
	return &out
}

// AddClassPass stores a class pass.
func (s *Store) AddClassPass(p model.ClassPack) *model.ClassPack {
	return s.addPack(s.passes, p)
}

// AddComp stores a comp grant.
func (s *Store) AddComp(p model.ClassPack) *model.ClassPack {
	return s.addPack(s.comps, p)
}

func (s *Store) addPack(m map[uint64]*model.ClassPack, p model.ClassPack) *model.ClassPack {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.id()
	}
	m[p.ID] = &p
	out := p
	return &out
}

// SetClassStatus overwrites a class status, standing in for the time- and
// admin-driven transitions that happen outside the engine.
func (s *Store) SetClassStatus(id uint64, status model.ClassStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.classes[id]; ok {
		c.Status = status
	}
}

// Class returns a snapshot of a class.
func (s *Store) Class(id uint64) model.ClassInstance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.classes[id]
}

// ClassPass returns a snapshot of a class pass.
func (s *Store) ClassPass(id uint64) model.ClassPack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.passes[id]
}

// Comp returns a snapshot of a comp grant.
func (s *Store) Comp(id uint64) model.ClassPack {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.comps[id]
}

// Subscription returns a snapshot of a subscription.
func (s *Store) Subscription(id uint64) model.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.subs[id]
}

// Coupon returns a snapshot of a coupon.
func (s *Store) Coupon(id uint64) model.Coupon {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.coupons[id]
}

// Redemptions counts the redemption rows of a coupon.
func (s *Store) Redemptions(couponID uint64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for k := range s.redemptions {
		if k.couponID == couponID {
			n++
		}
	}
	return n
}

// ClassBookings returns copies of a class's bookings ordered by id.
func (s *Store) ClassBookings(classID uint64) []*model.Booking {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Booking
	for _, b := range s.bookings {
		if b.ClassInstanceID == classID {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ---- ClassReader ----

func (s *Store) GetClass(_ context.Context, id uint64) (*model.ClassInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[id]
	if !ok {
		return nil, model.ErrClassNotFound
	}
	out := *c
	return &out, nil
}

func (s *Store) GetStudio(_ context.Context, id uint64) (*model.Studio, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.studios[id]
	if !ok {
		return nil, model.ErrStudioNotFound
	}
	out := *st
	return &out, nil
}

// ---- SeatStore ----

func (s *Store) ClaimSeat(_ context.Context, req model.ClaimRequest) (*model.ClaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[req.ClassInstanceID]
	if !ok {
		return nil, model.ErrClassNotFound
	}
	if req.RequestedSpot != nil && s.spotTaken(c.ID, *req.RequestedSpot) {
		return nil, model.ErrSpotTaken
	}
	if c.Status != model.ClassScheduled {
		return nil, model.NewCapacityError("class not scheduled")
	}

	var b *model.Booking
	if req.BookingID != 0 {
		b = s.bookings[req.BookingID]
		if b == nil {
			return nil, model.ErrBookingNotFound
		}
		if b.Status != model.BookingPendingPayment {
			return nil, model.ErrInvalidTransition
		}
	} else {
		for _, other := range s.bookings {
			if other.ClassInstanceID == c.ID && other.MemberID == req.MemberID && other.Status.Active() {
				return nil, model.ErrAlreadyBooked
			}
		}
		b = &model.Booking{
			ID:              s.id(),
			MemberID:        req.MemberID,
			StudioID:        req.StudioID,
			ClassInstanceID: c.ID,
			RequestedSpot:   cloneStr(req.RequestedSpot),
			PaymentStatus:   model.PaymentNone,
			CreatedAt:       req.At.UTC(),
		}
		s.bookings[b.ID] = b
	}

	res := &model.ClaimResult{}
	at := req.At.UTC()
	if c.BookedCount < c.MaxCapacity {
		c.BookedCount++
		b.Status = model.BookingBooked
		b.Spot = cloneStr(req.RequestedSpot)
		b.BookedAt = &at
		if req.BookingID == 0 {
			b.CreditRef = cloneStr(req.CreditRef)
		}
		res.Granted = true
		res.Spot = cloneStr(b.Spot)
	} else {
		c.WaitlistSeq++
		pos := c.WaitlistSeq
		b.Status = model.BookingWaitlisted
		b.Spot = nil
		b.WaitlistPosition = &pos
		res.Waitlisted = true
		res.Position = pos
	}
	res.Booking = b.Clone()
	return res, nil
}

func (s *Store) spotTaken(classID uint64, spot string) bool {
	for _, b := range s.bookings {
		if b.ClassInstanceID == classID && b.Status.HoldsSeat() && b.Spot != nil && *b.Spot == spot {
			return true
		}
	}
	return false
}

func (s *Store) ReleaseSeat(_ context.Context, bookingID uint64, req model.ReleaseRequest) (*model.ReleaseResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	res := &model.ReleaseResult{PreviousStatus: b.Status}
	if b.Status.Terminal() {
		res.Booking = b.Clone()
		return res, nil
	}
	held := b.Status.HoldsSeat()
	at := req.At.UTC()
	b.Status = model.BookingCancelled
	b.CancelledAt = &at
	b.LateCancel = req.LateIfSeated && held
	if held {
		if c := s.classes[b.ClassInstanceID]; c != nil && c.BookedCount > 0 {
			c.BookedCount--
			res.SeatFreed = true
		}
	}
	res.Changed = true
	res.Booking = b.Clone()
	return res, nil
}

func (s *Store) WaitlistCandidates(_ context.Context, classID uint64) ([]*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Booking
	for _, b := range s.bookings {
		if b.ClassInstanceID == classID && b.Status == model.BookingWaitlisted {
			out = append(out, b.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		pi, pj := *out[i].WaitlistPosition, *out[j].WaitlistPosition
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) PromoteWaitlisted(_ context.Context, bookingID uint64, creditRef *string, at time.Time) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[bookingID]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	if b.Status != model.BookingWaitlisted {
		return nil, model.ErrNotWaitlisted
	}
	c := s.classes[b.ClassInstanceID]
	if c == nil || c.Status != model.ClassScheduled || c.BookedCount >= c.MaxCapacity {
		return nil, model.ErrNoVacancy
	}
	c.BookedCount++
	t := at.UTC()
	b.Status = model.BookingBooked
	b.CreditRef = cloneStr(creditRef)
	b.BookedAt = &t
	return b.Clone(), nil
}

func (s *Store) SetCapacity(_ context.Context, classID uint64, capacity int) (*model.ClassInstance, error) {
	if capacity < 1 {
		return nil, model.NewCapacityError("capacity must be positive")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[classID]
	if !ok {
		return nil, model.ErrClassNotFound
	}
	if c.Immutable() {
		return nil, model.NewCapacityError("class is %s", c.Status)
	}
	if capacity < c.BookedCount {
		return nil, model.NewCapacityError("capacity %d is below %d booked seats", capacity, c.BookedCount)
	}
	c.MaxCapacity = capacity
	out := *c
	return &out, nil
}

func (s *Store) Availability(_ context.Context, classID uint64) (*model.Availability, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.classes[classID]
	if !ok {
		return nil, model.ErrClassNotFound
	}
	a := &model.Availability{ClassInstanceID: classID, Capacity: c.MaxCapacity, Booked: c.BookedCount}
	for _, b := range s.bookings {
		if b.ClassInstanceID == classID && b.Status == model.BookingWaitlisted {
			a.Waitlisted++
		}
	}
	a.Available = a.Capacity - a.Booked
	if a.Available < 0 {
		a.Available = 0
	}
	return a, nil
}

// ---- BookingStore ----

func (s *Store) GetBooking(_ context.Context, id uint64) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	return b.Clone(), nil
}

func (s *Store) GetBookingByPaymentRef(_ context.Context, ref string) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, b := range s.bookings {
		if b.PaymentRef != nil && *b.PaymentRef == ref {
			return b.Clone(), nil
		}
	}
	return nil, model.ErrBookingNotFound
}

func (s *Store) CreatePendingBooking(_ context.Context, b *model.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, other := range s.bookings {
		if other.ClassInstanceID == b.ClassInstanceID && other.MemberID == b.MemberID && other.Status.Active() {
			return model.ErrAlreadyBooked
		}
	}
	b.ID = s.id()
	b.Status = model.BookingPendingPayment
	b.PaymentStatus = model.PaymentPending
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.bookings[b.ID] = b.Clone()
	return nil
}

func (s *Store) TransitionStatus(_ context.Context, id uint64, from []model.BookingStatus, to model.BookingStatus, at time.Time) (*model.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return nil, model.ErrBookingNotFound
	}
	allowed := false
	for _, f := range from {
		if b.Status == f {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, model.ErrInvalidTransition
	}
	b.Status = to
	if to == model.BookingConfirmed {
		t := at.UTC()
		b.ConfirmedAt = &t
	}
	return b.Clone(), nil
}

func (s *Store) SetPaymentStatus(_ context.Context, id uint64, from, to model.PaymentStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok || b.PaymentStatus != from {
		return false, nil
	}
	b.PaymentStatus = to
	return true, nil
}

func (s *Store) CountAttendedBookings(_ context.Context, memberID, studioID uint64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, b := range s.bookings {
		if b.MemberID == memberID && b.StudioID == studioID && b.Status.HoldsSeat() {
			n++
		}
	}
	return n, nil
}

func cloneStr(p *string) *string {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
