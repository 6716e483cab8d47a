package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

type Slot struct {
	StartTime time.Time
	EndTime   time.Time
}

// ResolveWindows picks the windows that govern date. Specific-date windows for
// date fully replace the recurring windows of that weekday.
func ResolveWindows(windows []Availability, date time.Time) []Availability {
	var specific, recurring []Availability
	for _, w := range windows {
		if !w.AppliesTo(date) {
			continue
		}
		if w.Recurring() {
			recurring = append(recurring, w)
		} else {
			specific = append(specific, w)
		}
	}
	if len(specific) > 0 {
		return specific
	}
	return recurring
}

// ComputeSlots lists the bookable slots of length duration on date. Candidates are
// laid back to back from each window start; a trailing remainder shorter than
// duration yields nothing. Candidates overlapping a scheduled appointment or
// starting before notBefore are dropped.
func ComputeSlots(windows []Availability, date time.Time, duration time.Duration, appts []Appointment, notBefore time.Time) []Slot {
	if duration <= 0 {
		return nil
	}

	var out []Slot
	for _, w := range ResolveWindows(windows, date) {
		windowStart, windowEnd := w.Bounds(date)
		for start := windowStart; !start.Add(duration).After(windowEnd); start = start.Add(duration) {
			end := start.Add(duration)
			if start.Before(notBefore) {
				continue
			}
			if _, ok := FirstConflict(appts, start, end, uuid.Nil); ok {
				continue
			}
			out = append(out, Slot{StartTime: start, EndTime: end})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// WithinWindows reports whether [start,end) lies fully inside one of the windows
// that govern start's date.
func WithinWindows(windows []Availability, start, end time.Time) bool {
	date := DateOf(start)
	if !DateOf(end.Add(-time.Nanosecond)).Equal(date) {
		return false
	}
	for _, w := range ResolveWindows(windows, date) {
		ws, we := w.Bounds(date)
		if !start.Before(ws) && !end.After(we) {
			return true
		}
	}
	return false
}
