package booking

import (
	"fmt"
	"time"

	"appointly/backend/internal/domain"
)

const (
	DefaultCancellationWindow = 2 * time.Hour
	DefaultBookingHorizon     = 180 * 24 * time.Hour

	MinSlotDuration = time.Minute
	MaxSlotDuration = 8 * time.Hour

	maxAppointmentDuration = 24 * time.Hour
	maxNotesLength         = 2000
	maxIdempotencyKey      = 256
)

// Policy holds the tunable booking rules.
type Policy struct {
	// CancellationWindow is how long before start a client may still cancel or
	// reschedule.
	CancellationWindow time.Duration
	// BookingHorizon bounds how far ahead an appointment may start.
	BookingHorizon time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		CancellationWindow: DefaultCancellationWindow,
		BookingHorizon:     DefaultBookingHorizon,
	}
}

func (p Policy) normalized() Policy {
	if p.CancellationWindow < 0 {
		p.CancellationWindow = 0
	}
	if p.BookingHorizon <= 0 {
		p.BookingHorizon = DefaultBookingHorizon
	}
	return p
}

// checkWindow rejects a change to appt at now once the cancellation window has
// opened. Admins are exempt from this check only.
func (p Policy) checkWindow(actor domain.Actor, appt domain.Appointment, now time.Time, action string) error {
	if actor.IsAdmin() {
		return nil
	}
	deadline := appt.StartTime.Add(-p.CancellationWindow)
	if !now.Before(deadline) {
		return &PolicyViolationError{
			msg: fmt.Sprintf("cannot %s within %s of the appointment start", action, formatWindow(p.CancellationWindow)),
		}
	}
	return nil
}

// validateInterval applies the shape rules every new appointment must satisfy.
func (p Policy) validateInterval(start, end, now time.Time) error {
	if !start.Before(end) {
		return validationError("end_time must be after start_time")
	}
	if end.Sub(start) > maxAppointmentDuration {
		return validationError("duration too long")
	}
	if !domain.DateOf(start).Equal(domain.DateOf(end.Add(-time.Nanosecond))) {
		return validationError("appointment must start and end on the same day")
	}
	if start.Before(now) {
		return validationError("start_time is in the past")
	}
	horizon := now.Add(p.BookingHorizon)
	days := int(p.BookingHorizon / (24 * time.Hour))
	if start.After(horizon) {
		return validationError(fmt.Sprintf("start_time is beyond the %d day booking horizon", days))
	}
	if end.After(horizon) {
		return validationError(fmt.Sprintf("end_time is beyond the %d day booking horizon", days))
	}
	return nil
}

func formatWindow(d time.Duration) string {
	if d%time.Hour == 0 {
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	}
	return fmt.Sprintf("%d minutes", int(d/time.Minute))
}
