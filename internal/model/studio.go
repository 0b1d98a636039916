package model

import "time"

// Studio holds the per-tenant policy values the booking engine reads.  It
// corresponds to a row in the `studios` table.  Onboarding and editing of
// studios happen outside the engine.
//
// Fields:
//
//	ID                       – primary key identifier.
//	Name                     – display name.
//	Timezone                 – IANA zone used to resolve class times.
//	CancellationWindowHours  – cancellations closer than this to the class
//	                           start are late.
//	LateCancelForfeitsCredit – when true a late cancellation keeps the credit
//	                           or payment instead of refunding it.
//	DropInPriceCents         – default drop-in price; nil or 0 disables drop-ins.
//	Currency                 – ISO currency code for drop-in payments.
type Studio struct {
	ID                       uint64 // studios.id
	Name                     string // studios.name
	Timezone                 string // studios.timezone
	CancellationWindowHours  int    // studios.cancellation_window_hours
	LateCancelForfeitsCredit bool   // studios.late_cancel_forfeits_credit
	DropInPriceCents         *int64 // studios.drop_in_price_cents (nullable)
	Currency                 string // studios.currency
}

// Location returns the studio's time zone, falling back to UTC when the
// stored name is empty or unknown.
func (s *Studio) Location() *time.Location {
	if s.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DropInPrice resolves the price of a drop-in for class c.  The class
// override wins over the studio default.  ok is false when the class cannot
// be bought as a drop-in.
func (s *Studio) DropInPrice(c *ClassInstance) (cents int64, ok bool) {
	if c != nil && c.DropInPriceCents != nil {
		return *c.DropInPriceCents, *c.DropInPriceCents > 0
	}
	if s.DropInPriceCents != nil {
		return *s.DropInPriceCents, *s.DropInPriceCents > 0
	}
	return 0, false
}

// IsLateCancellation reports whether cancelling at asOf falls inside the
// cancellation window before classStart.
func (s *Studio) IsLateCancellation(asOf, classStart time.Time) bool {
	window := time.Duration(s.CancellationWindowHours) * time.Hour
	return asOf.After(classStart.Add(-window))
}
