package domain

import (
	"time"

	"github.com/google/uuid"
)

// Overlaps reports whether the half-open intervals [aStart,aEnd) and [bStart,bEnd)
// share an instant.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && bStart.Before(aEnd)
}

// FirstConflict returns the first scheduled appointment overlapping [start,end).
// The appointment with id exclude is skipped; pass uuid.Nil to consider all.
func FirstConflict(appts []Appointment, start, end time.Time, exclude uuid.UUID) (Appointment, bool) {
	for _, a := range appts {
		if !a.Active() {
			continue
		}
		if exclude != uuid.Nil && a.ID == exclude {
			continue
		}
		if Overlaps(start, end, a.StartTime, a.EndTime) {
			return a, true
		}
	}
	return Appointment{}, false
}
