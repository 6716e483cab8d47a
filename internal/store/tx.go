package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

// StaffTx is the view of the store inside one staff member's serialized
// transaction. Everything read or written through it commits or rolls back
// together, and no other StaffTx for the same staff member runs concurrently.
type StaffTx interface {
	GetUser(ctx context.Context, userID uuid.UUID) (domain.User, error)
	// RecordNoShow increments the client's no-show counter and recomputes the
	// blocking flag. It is the only write path for those fields.
	RecordNoShow(ctx context.Context, clientID uuid.UUID) (domain.User, error)

	ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error)
	ListAvailabilityForDate(ctx context.Context, staffID uuid.UUID, date time.Time) ([]domain.Availability, error)
	CreateAvailability(ctx context.Context, a domain.Availability) (domain.Availability, error)

	// GetAppointment returns the appointment locked for update.
	GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error)
	ListScheduled(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error)
	CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error)
	// UpdateAppointment persists status, rescheduled_to_id and notes.
	UpdateAppointment(ctx context.Context, appt domain.Appointment) error
}
