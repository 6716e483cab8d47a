package booking

import (
	"context"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

const (
	DefaultListLimit = 100
	MaxListLimit     = 500
)

// GetAppointment returns an appointment visible to actor: its client, its
// staff member, or an admin.
func (s *Service) GetAppointment(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	a, err := s.lookup(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}
	if !actor.IsAdmin() && !actor.IsClientOf(a) && !actor.IsStaffOf(a) {
		return domain.Appointment{}, unauthorized("not a party to this appointment")
	}
	return a, nil
}

// ListAppointments lists the actor's appointments: their bookings for a client,
// their calendar for staff, everything for an admin.
func (s *Service) ListAppointments(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Appointment, error) {
	if limit == 0 {
		limit = DefaultListLimit
	}
	if limit < 0 || limit > MaxListLimit {
		return nil, validationError("limit must be between 1 and 500")
	}
	if offset < 0 {
		return nil, validationError("offset must not be negative")
	}

	filter := store.AppointmentFilter{Limit: limit, Offset: offset}
	userID := actor.UserID
	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleClient:
		filter.ClientID = &userID
	case domain.RoleStaff:
		filter.StaffID = &userID
	default:
		return nil, unauthorized("unknown role")
	}
	return s.repo.ListAppointments(ctx, filter)
}
