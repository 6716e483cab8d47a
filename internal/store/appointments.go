package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

// AppointmentFilter narrows ListAppointments. Nil ids match everything.
type AppointmentFilter struct {
	ClientID *uuid.UUID
	StaffID  *uuid.UUID
	Limit    int
	Offset   int
}

type BookingRepository interface {
	// InStaffTransaction runs fn with check-then-write serialized per staff member.
	InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx StaffTx) error) error

	GetUser(ctx context.Context, userID uuid.UUID) (domain.User, error)
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, filter AppointmentFilter) ([]domain.Appointment, error)
	ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error)
	ListAvailabilityForDate(ctx context.Context, staffID uuid.UUID, date time.Time) ([]domain.Availability, error)
	ListScheduled(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
}

type ReminderRepository interface {
	// ListDueReminders returns scheduled appointments starting in [from,to) whose
	// reminder has not been sent yet, earliest first.
	ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.Appointment, error)
	// MarkReminderSent sets the reminder flag if unset and reports whether this
	// call set it.
	MarkReminderSent(ctx context.Context, appointmentID uuid.UUID, at time.Time) (bool, error)
}
