package memory

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type staffTx struct {
	s *Store

	appointments map[uuid.UUID]domain.Appointment
	created      map[uuid.UUID]struct{}
	availability map[uuid.UUID]domain.Availability
	noShows      map[uuid.UUID]int
}

var _ store.StaffTx = (*staffTx)(nil)

func (t *staffTx) GetUser(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	u, err := t.s.GetUser(ctx, userID)
	if err != nil {
		return domain.User{}, err
	}
	return u.WithNoShows(t.noShows[userID]), nil
}

func (t *staffTx) RecordNoShow(ctx context.Context, clientID uuid.UUID) (domain.User, error) {
	u, err := t.s.GetUser(ctx, clientID)
	if err != nil {
		return domain.User{}, err
	}
	t.noShows[clientID]++
	return u.WithNoShows(t.noShows[clientID]), nil
}

func (t *staffTx) ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error) {
	rows, err := t.s.ListAvailability(ctx, staffID)
	if err != nil {
		return nil, err
	}
	for _, a := range t.availability {
		if a.StaffID == staffID {
			rows = append(rows, a)
		}
	}
	return rows, nil
}

func (t *staffTx) ListAvailabilityForDate(ctx context.Context, staffID uuid.UUID, date time.Time) ([]domain.Availability, error) {
	rows, err := t.s.ListAvailabilityForDate(ctx, staffID, date)
	if err != nil {
		return nil, err
	}
	for _, a := range t.availability {
		if a.StaffID == staffID && a.AppliesTo(date) {
			rows = append(rows, a)
		}
	}
	return rows, nil
}

func (t *staffTx) CreateAvailability(ctx context.Context, a domain.Availability) (domain.Availability, error) {
	now := time.Now().UTC()
	if a.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Availability{}, err
		}
		a.ID = id
	}
	if a.SpecificDate != nil {
		d := domain.DateOf(*a.SpecificDate)
		a.SpecificDate = &d
	}
	a.CreatedAt = now
	a.UpdatedAt = now
	t.availability[a.ID] = a
	return a, nil
}

func (t *staffTx) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	if a, ok := t.appointments[appointmentID]; ok {
		return a, nil
	}
	return t.s.GetAppointment(ctx, appointmentID)
}

func (t *staffTx) ListScheduled(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	base, err := t.s.ListScheduled(ctx, staffID, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Appointment, 0, len(base)+len(t.appointments))
	for _, a := range base {
		if _, staged := t.appointments[a.ID]; staged {
			continue
		}
		out = append(out, a)
	}
	for _, a := range t.appointments {
		if a.StaffID == staffID && a.Active() && domain.Overlaps(a.StartTime, a.EndTime, windowStart, windowEnd) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (t *staffTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	if appt.ID != uuid.Nil {
		existing, err := t.GetAppointment(ctx, appt.ID)
		if err == nil {
			if existing.ClientID != appt.ClientID ||
				existing.StaffID != appt.StaffID ||
				existing.Notes != appt.Notes ||
				!existing.StartTime.Equal(appt.StartTime) ||
				!existing.EndTime.Equal(appt.EndTime) {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		}
	}

	if appt.Status == "" {
		appt.Status = domain.StatusScheduled
	}
	if appt.Active() {
		scheduled, err := t.ListScheduled(ctx, appt.StaffID, appt.StartTime, appt.EndTime)
		if err != nil {
			return domain.Appointment{}, err
		}
		if len(scheduled) > 0 {
			return domain.Appointment{}, store.ErrConflict
		}
	}

	now := time.Now().UTC()
	if appt.ID == uuid.Nil {
		id, err := uuid.NewV7()
		if err != nil {
			return domain.Appointment{}, err
		}
		appt.ID = id
	}
	appt.CreatedAt = now
	appt.UpdatedAt = now
	t.appointments[appt.ID] = appt
	t.created[appt.ID] = struct{}{}
	return appt, nil
}

func (t *staffTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) error {
	current, err := t.GetAppointment(ctx, appt.ID)
	if err != nil {
		return err
	}
	current.Status = appt.Status
	current.RescheduledToID = appt.RescheduledToID
	current.Notes = appt.Notes
	current.UpdatedAt = time.Now().UTC()
	t.appointments[current.ID] = current
	return nil
}
