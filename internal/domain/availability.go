package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const MinutesPerDay = 24 * 60

// Availability is a same-day working window of a staff member. Exactly one of
// DayOfWeek (ISO weekday, 1=Monday..7=Sunday) and SpecificDate is set.
type Availability struct {
	bun.BaseModel `bun:"table:availabilities"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid"`
	StaffID      uuid.UUID  `bun:"staff_id,notnull,type:uuid"`
	DayOfWeek    *int16     `bun:"day_of_week"`
	SpecificDate *time.Time `bun:"specific_date,type:date"`
	StartMinute  int        `bun:"start_minute,notnull"`
	EndMinute    int        `bun:"end_minute,notnull"`
	CreatedAt    time.Time  `bun:"created_at,notnull"`
	UpdatedAt    time.Time  `bun:"updated_at,notnull"`
}

func (a *Availability) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}

func (a Availability) Recurring() bool {
	return a.SpecificDate == nil
}

// Validate checks the shape of a single window.
func (a Availability) Validate() error {
	switch {
	case a.DayOfWeek == nil && a.SpecificDate == nil:
		return errors.New("either day_of_week or specific_date is required")
	case a.DayOfWeek != nil && a.SpecificDate != nil:
		return errors.New("day_of_week and specific_date are mutually exclusive")
	}
	if a.DayOfWeek != nil && (*a.DayOfWeek < 1 || *a.DayOfWeek > 7) {
		return errors.New("invalid weekday")
	}
	if a.StartMinute < 0 || a.EndMinute > MinutesPerDay {
		return errors.New("window must lie within one day")
	}
	if a.StartMinute >= a.EndMinute {
		return errors.New("end_time must be after start_time")
	}
	return nil
}

// SameDay reports whether a and b apply to the same weekday or the same date.
func (a Availability) SameDay(b Availability) bool {
	if a.Recurring() != b.Recurring() {
		return false
	}
	if a.Recurring() {
		return *a.DayOfWeek == *b.DayOfWeek
	}
	return DateOf(*a.SpecificDate).Equal(DateOf(*b.SpecificDate))
}

// AppliesTo reports whether the window is declared for date, either by weekday or
// by exact date. Precedence between the two is decided by ResolveWindows.
func (a Availability) AppliesTo(date time.Time) bool {
	if a.Recurring() {
		return *a.DayOfWeek == ISOWeekday(date)
	}
	return DateOf(*a.SpecificDate).Equal(DateOf(date))
}

// Bounds returns the window as instants on date.
func (a Availability) Bounds(date time.Time) (time.Time, time.Time) {
	day := DateOf(date)
	return day.Add(time.Duration(a.StartMinute) * time.Minute), day.Add(time.Duration(a.EndMinute) * time.Minute)
}

// DateOf truncates t to midnight UTC of its UTC calendar day.
func DateOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// ISOWeekday returns 1 for Monday through 7 for Sunday.
func ISOWeekday(t time.Time) int16 {
	wd := t.UTC().Weekday()
	if wd == time.Sunday {
		return 7
	}
	return int16(wd)
}
