package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

// ListAvailableSlots returns the free slots of the given duration on date. The
// result is advisory: it is not serialized against concurrent bookings.
func (s *Service) ListAvailableSlots(ctx context.Context, staffID uuid.UUID, date time.Time, duration time.Duration) (slots []domain.Slot, err error) {
	ctx, span := tracer.Start(ctx, "booking.ListAvailableSlots", trace.WithAttributes(
		attribute.String("staff_id", staffID.String()),
		attribute.Int64("duration_minutes", int64(duration/time.Minute)),
	))
	defer func() { endSpan(span, err) }()

	if staffID == uuid.Nil {
		return nil, validationError("staff_id is required")
	}
	if duration < MinSlotDuration || duration > MaxSlotDuration || duration%time.Minute != 0 {
		return nil, validationError("duration must be a whole number of minutes between 1 and 480")
	}

	if _, err := s.repo.GetUser(ctx, staffID); err != nil {
		return nil, mapNotFound(err, "staff", staffID)
	}

	day := domain.DateOf(date)
	windows, err := s.repo.ListAvailabilityForDate(ctx, staffID, day)
	if err != nil {
		return nil, err
	}
	appts, err := s.repo.ListScheduled(ctx, staffID, day, day.Add(24*time.Hour))
	if err != nil {
		return nil, err
	}

	slots = domain.ComputeSlots(windows, day, duration, appts, s.clock())
	span.SetAttributes(attribute.Int("slots", len(slots)))
	return slots, nil
}

type AvailabilityInput struct {
	StaffID      uuid.UUID
	DayOfWeek    *int16
	SpecificDate *time.Time
	StartMinute  int
	EndMinute    int
}

// CreateAvailability adds a working window. Staff manage their own windows;
// admins manage anyone's.
func (s *Service) CreateAvailability(ctx context.Context, actor domain.Actor, in AvailabilityInput) (a domain.Availability, err error) {
	ctx, span := tracer.Start(ctx, "booking.CreateAvailability", trace.WithAttributes(
		attribute.String("staff_id", in.StaffID.String()),
	))
	defer func() { endSpan(span, err) }()

	switch {
	case actor.IsAdmin():
	case actor.Role == domain.RoleStaff && actor.UserID == in.StaffID:
	default:
		return domain.Availability{}, unauthorized("only the staff member or an admin may manage availability")
	}
	if in.StaffID == uuid.Nil {
		return domain.Availability{}, validationError("staff_id is required")
	}

	want := domain.Availability{
		StaffID:     in.StaffID,
		DayOfWeek:   in.DayOfWeek,
		StartMinute: in.StartMinute,
		EndMinute:   in.EndMinute,
	}
	if in.SpecificDate != nil {
		d := domain.DateOf(*in.SpecificDate)
		want.SpecificDate = &d
	}
	if err := want.Validate(); err != nil {
		return domain.Availability{}, validationError(err.Error())
	}

	err = s.repo.InStaffTransaction(ctx, in.StaffID, func(ctx context.Context, tx store.StaffTx) error {
		if err := checkStaff(ctx, tx, in.StaffID); err != nil {
			return err
		}
		existing, err := tx.ListAvailability(ctx, in.StaffID)
		if err != nil {
			return err
		}
		for _, w := range existing {
			if w.SameDay(want) && w.StartMinute < want.EndMinute && want.StartMinute < w.EndMinute {
				return validationError("availability overlaps an existing window")
			}
		}
		created, err := tx.CreateAvailability(ctx, want)
		if err != nil {
			return err
		}
		a = created
		return nil
	})
	if err != nil {
		return domain.Availability{}, err
	}
	return a, nil
}

func (s *Service) ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error) {
	if staffID == uuid.Nil {
		return nil, validationError("staff_id is required")
	}
	return s.repo.ListAvailability(ctx, staffID)
}
