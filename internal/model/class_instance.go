package model

import (
	"fmt"
	"time"
)

// ClassStatus enumerates the lifecycle states of a class instance.
type ClassStatus string

const (
	ClassScheduled  ClassStatus = "scheduled"
	ClassInProgress ClassStatus = "in_progress"
	ClassCompleted  ClassStatus = "completed"
	ClassCancelled  ClassStatus = "cancelled"
)

// ClassInstance is one dated, timed occurrence of a class template.  Rows
// are produced ahead of time by template expansion; the booking engine only
// reads them and moves the seat counters.
//
// Fields:
//
//	ID               – primary key identifier.
//	StudioID         – owning studio (tenant partition key).
//	ClassDate        – calendar date in the studio's timezone (YYYY-MM-DD).
//	StartTime        – local start time (HH:MM).
//	EndTime          – local end time (HH:MM).
//	MaxCapacity      – fixed number of seats.
//	Status           – scheduled, in_progress, completed or cancelled.
//	BookedCount      – seats currently held; the row is the counter.
//	WaitlistSeq      – last waitlist position handed out, never reused.
//	DropInPriceCents – optional per-class drop-in price override.
type ClassInstance struct {
	ID               uint64      // class_instances.id
	StudioID         uint64      // class_instances.studio_id
	ClassDate        string      // class_instances.class_date
	StartTime        string      // class_instances.start_time
	EndTime          string      // class_instances.end_time
	MaxCapacity      int         // class_instances.max_capacity
	Status           ClassStatus // class_instances.status
	BookedCount      int         // class_instances.booked_count
	WaitlistSeq      int         // class_instances.waitlist_seq
	DropInPriceCents *int64      // class_instances.drop_in_price_cents (nullable)
}

// Immutable reports whether the class reached a terminal status.
func (c *ClassInstance) Immutable() bool {
	return c.Status == ClassCompleted || c.Status == ClassCancelled
}

// StartsAt resolves the local date and start time in loc.
func (c *ClassInstance) StartsAt(loc *time.Location) (time.Time, error) {
	return parseLocal(c.ClassDate, c.StartTime, loc)
}

// EndsAt resolves the local date and end time in loc.
func (c *ClassInstance) EndsAt(loc *time.Location) (time.Time, error) {
	return parseLocal(c.ClassDate, c.EndTime, loc)
}

func parseLocal(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	// MySQL TIME columns come back as HH:MM:SS.
	if len(clock) > 5 {
		clock = clock[:5]
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse class time %q %q: %w", date, clock, err)
	}
	return t, nil
}

// Availability is the read model returned by classAvailability.
type Availability struct {
	ClassInstanceID uint64 `json:"class_instance_id"`
	Capacity        int    `json:"capacity"`
	Booked          int    `json:"booked"`
	Waitlisted      int    `json:"waitlisted"`
	Available       int    `json:"available"`
}
