// Package booking is the availability and booking engine: slot listing,
// atomic booking, rescheduling and the appointment status lifecycle.
package booking

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/store"
)

var tracer = otel.Tracer("appointly/booking")

type Service struct {
	repo     store.BookingRepository
	notifier notify.Notifier
	policy   Policy
	now      func() time.Time
}

type Option func(*Service)

func WithNotifier(n notify.Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

func WithPolicy(p Policy) Option {
	return func(s *Service) { s.policy = p.normalized() }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

func NewService(repo store.BookingRepository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		notifier: notify.Discard{},
		policy:   DefaultPolicy(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) clock() time.Time { return s.now().UTC() }

type BookInput struct {
	ClientID       uuid.UUID
	StaffID        uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Notes          string
	IdempotencyKey string
}

// BookAppointment books [StartTime,EndTime) with the staff member for the
// client. The client check, the availability check, the conflict check and the
// insert run in one transaction serialized per staff member.
func (s *Service) BookAppointment(ctx context.Context, actor domain.Actor, in BookInput) (appt domain.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "booking.BookAppointment", trace.WithAttributes(
		attribute.String("staff_id", in.StaffID.String()),
		attribute.String("client_id", in.ClientID.String()),
	))
	defer func() { endSpan(span, err) }()

	switch actor.Role {
	case domain.RoleAdmin:
	case domain.RoleClient:
		if actor.UserID != in.ClientID {
			return domain.Appointment{}, unauthorized("clients may only book for themselves")
		}
	default:
		return domain.Appointment{}, unauthorized("only clients and admins may book appointments")
	}

	if in.ClientID == uuid.Nil {
		return domain.Appointment{}, validationError("client_id is required")
	}
	if in.StaffID == uuid.Nil {
		return domain.Appointment{}, validationError("staff_id is required")
	}
	notes := strings.TrimSpace(in.Notes)
	if len(notes) > maxNotesLength {
		return domain.Appointment{}, validationError("notes too long")
	}

	now := s.clock()
	start := in.StartTime.UTC()
	end := in.EndTime.UTC()
	if err := s.policy.validateInterval(start, end, now); err != nil {
		return domain.Appointment{}, err
	}

	want := domain.Appointment{
		StaffID:   in.StaffID,
		ClientID:  in.ClientID,
		StartTime: start,
		EndTime:   end,
		Notes:     notes,
		Status:    domain.StatusScheduled,
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if key != "" {
		if len(key) > maxIdempotencyKey {
			return domain.Appointment{}, validationError("idempotency_key too long")
		}
		want.ID = idempotentID(in.ClientID, key)
	}

	replayed := false
	err = s.repo.InStaffTransaction(ctx, in.StaffID, func(ctx context.Context, tx store.StaffTx) error {
		if want.ID != uuid.Nil {
			existing, err := tx.GetAppointment(ctx, want.ID)
			switch {
			case err == nil:
				if !sameBooking(existing, want) {
					return store.ErrIdempotencyConflict
				}
				appt, replayed = existing, true
				return nil
			case !errors.Is(err, store.ErrNotFound):
				return err
			}
		}

		if err := checkClient(ctx, tx, in.ClientID); err != nil {
			return err
		}
		if err := checkStaff(ctx, tx, in.StaffID); err != nil {
			return err
		}
		if err := checkBookable(ctx, tx, in.StaffID, start, end, uuid.Nil); err != nil {
			return err
		}

		created, err := tx.CreateAppointment(ctx, want)
		if err != nil {
			return mapStoreError(err, in.StaffID)
		}
		appt = created
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	span.SetAttributes(attribute.String("appointment_id", appt.ID.String()), attribute.Bool("replayed", replayed))
	if !replayed {
		s.emit(ctx,
			notify.NewEvent(notify.EventConfirmed, appt.ClientID, appt, now),
			notify.NewEvent(notify.EventBooked, appt.StaffID, appt, now),
		)
	}
	return appt, nil
}

type RescheduleInput struct {
	AppointmentID uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	Reason        string
}

// RescheduleAppointment moves a scheduled appointment to a new interval. The
// original is marked rescheduled and linked to a new scheduled appointment;
// both writes commit together or not at all.
func (s *Service) RescheduleAppointment(ctx context.Context, actor domain.Actor, in RescheduleInput) (next domain.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "booking.RescheduleAppointment", trace.WithAttributes(
		attribute.String("appointment_id", in.AppointmentID.String()),
	))
	defer func() { endSpan(span, err) }()

	if in.AppointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	reason := strings.TrimSpace(in.Reason)
	if len(reason) > maxNotesLength {
		return domain.Appointment{}, validationError("reason too long")
	}

	current, err := s.lookup(ctx, in.AppointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}

	now := s.clock()
	start := in.StartTime.UTC()
	end := in.EndTime.UTC()

	err = s.repo.InStaffTransaction(ctx, current.StaffID, func(ctx context.Context, tx store.StaffTx) error {
		orig, err := tx.GetAppointment(ctx, in.AppointmentID)
		if err != nil {
			return mapNotFound(err, "appointment", in.AppointmentID)
		}
		if !actor.IsAdmin() && !actor.IsClientOf(orig) {
			return unauthorized("only the client or an admin may reschedule this appointment")
		}
		if !orig.Active() {
			return validationError(domain.ErrInvalidTransition.Error())
		}
		if err := s.policy.checkWindow(actor, orig, now, "reschedule"); err != nil {
			return err
		}
		if err := s.policy.validateInterval(start, end, now); err != nil {
			return err
		}
		if err := checkBookable(ctx, tx, orig.StaffID, start, end, orig.ID); err != nil {
			return err
		}

		nextID, err := uuid.NewV7()
		if err != nil {
			return err
		}

		// The original leaves the scheduled state before its replacement is
		// inserted so the overlap backstop never sees both.
		if err := orig.Transition(domain.StatusRescheduled); err != nil {
			return validationError(err.Error())
		}
		orig.RescheduledToID = &nextID
		if err := tx.UpdateAppointment(ctx, orig); err != nil {
			return mapStoreError(err, orig.StaffID)
		}

		fromID := orig.ID
		created, err := tx.CreateAppointment(ctx, domain.Appointment{
			ID:                nextID,
			StaffID:           orig.StaffID,
			ClientID:          orig.ClientID,
			StartTime:         start,
			EndTime:           end,
			Status:            domain.StatusScheduled,
			RescheduledFromID: &fromID,
			Notes:             rescheduleNotes(orig.Notes, reason),
		})
		if err != nil {
			return mapStoreError(err, orig.StaffID)
		}
		next = created
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	span.SetAttributes(attribute.String("rescheduled_to_id", next.ID.String()))
	s.emit(ctx,
		withReason(notify.NewEvent(notify.EventRescheduled, next.ClientID, next, now), reason),
		withReason(notify.NewEvent(notify.EventRescheduled, next.StaffID, next, now), reason),
	)
	return next, nil
}

// ChangeStatus moves a scheduled appointment to completed, no_show or
// cancelled. Marking a no-show records it against the client in the same
// transaction.
func (s *Service) ChangeStatus(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, status domain.AppointmentStatus) (appt domain.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "booking.ChangeStatus", trace.WithAttributes(
		attribute.String("appointment_id", appointmentID.String()),
		attribute.String("status", string(status)),
	))
	defer func() { endSpan(span, err) }()

	if appointmentID == uuid.Nil {
		return domain.Appointment{}, validationError("appointment_id is required")
	}
	switch status {
	case domain.StatusCompleted, domain.StatusNoShow, domain.StatusCancelled:
	case domain.StatusRescheduled:
		return domain.Appointment{}, validationError("use RescheduleAppointment to reschedule")
	default:
		return domain.Appointment{}, validationError("invalid status")
	}

	current, err := s.lookup(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, err
	}

	now := s.clock()
	err = s.repo.InStaffTransaction(ctx, current.StaffID, func(ctx context.Context, tx store.StaffTx) error {
		a, err := tx.GetAppointment(ctx, appointmentID)
		if err != nil {
			return mapNotFound(err, "appointment", appointmentID)
		}
		if err := authorizeStatus(actor, a, status); err != nil {
			return err
		}
		if !a.Active() {
			return validationError(domain.ErrInvalidTransition.Error())
		}
		if status == domain.StatusCancelled {
			if err := s.policy.checkWindow(actor, a, now, "cancel"); err != nil {
				return err
			}
		}

		if err := a.Transition(status); err != nil {
			return validationError(err.Error())
		}
		if err := tx.UpdateAppointment(ctx, a); err != nil {
			return mapStoreError(err, a.StaffID)
		}
		if status == domain.StatusNoShow {
			if _, err := tx.RecordNoShow(ctx, a.ClientID); err != nil {
				return mapNotFound(err, "client", a.ClientID)
			}
		}
		appt = a
		return nil
	})
	if err != nil {
		return domain.Appointment{}, err
	}

	typ := notify.EventStatusChanged
	if status == domain.StatusCancelled {
		typ = notify.EventCancelled
	}
	s.emit(ctx,
		notify.NewEvent(typ, appt.ClientID, appt, now),
		notify.NewEvent(typ, appt.StaffID, appt, now),
	)
	return appt, nil
}

// CancelAppointment is ChangeStatus to cancelled.
func (s *Service) CancelAppointment(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error) {
	return s.ChangeStatus(ctx, actor, appointmentID, domain.StatusCancelled)
}

func authorizeStatus(actor domain.Actor, appt domain.Appointment, status domain.AppointmentStatus) error {
	if actor.IsAdmin() {
		return nil
	}
	switch status {
	case domain.StatusCancelled:
		if !actor.IsClientOf(appt) {
			return unauthorized("only the client or an admin may cancel this appointment")
		}
	case domain.StatusCompleted, domain.StatusNoShow:
		if !actor.IsStaffOf(appt) {
			return unauthorized("only the assigned staff member or an admin may change this status")
		}
	}
	return nil
}

func checkClient(ctx context.Context, tx store.StaffTx, clientID uuid.UUID) error {
	client, err := tx.GetUser(ctx, clientID)
	if err != nil {
		return mapNotFound(err, "client", clientID)
	}
	if client.Role != domain.RoleClient {
		return validationError("user is not a client")
	}
	if client.IsBlocked {
		return &BlockedClientError{ClientID: clientID}
	}
	return nil
}

func checkStaff(ctx context.Context, tx store.StaffTx, staffID uuid.UUID) error {
	staff, err := tx.GetUser(ctx, staffID)
	if err != nil {
		return mapNotFound(err, "staff", staffID)
	}
	if staff.Role != domain.RoleStaff {
		return validationError("user is not a staff member")
	}
	return nil
}

// checkBookable verifies [start,end) lies in the staff member's resolved
// windows and overlaps no scheduled appointment other than exclude.
func checkBookable(ctx context.Context, tx store.StaffTx, staffID uuid.UUID, start, end time.Time, exclude uuid.UUID) error {
	windows, err := tx.ListAvailabilityForDate(ctx, staffID, domain.DateOf(start))
	if err != nil {
		return err
	}
	if !domain.WithinWindows(windows, start, end) {
		return validationError("staff is not available at this time")
	}

	scheduled, err := tx.ListScheduled(ctx, staffID, start, end)
	if err != nil {
		return err
	}
	if _, ok := domain.FirstConflict(scheduled, start, end, exclude); ok {
		return &ConflictError{StaffID: staffID}
	}
	return nil
}

func (s *Service) lookup(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, appointmentID)
	if err != nil {
		return domain.Appointment{}, mapNotFound(err, "appointment", appointmentID)
	}
	return a, nil
}

func (s *Service) emit(ctx context.Context, events ...notify.Event) {
	ctx = context.WithoutCancel(ctx)
	for _, ev := range events {
		s.notifier.Notify(ctx, ev)
	}
}

func withReason(ev notify.Event, reason string) notify.Event {
	ev.Reason = reason
	return ev
}

func idempotentID(clientID uuid.UUID, key string) uuid.UUID {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte("appointly:book_appointment:"+clientID.String()+":"+key))
}

func sameBooking(existing, want domain.Appointment) bool {
	return existing.ClientID == want.ClientID &&
		existing.StaffID == want.StaffID &&
		existing.Notes == want.Notes &&
		existing.StartTime.Equal(want.StartTime) &&
		existing.EndTime.Equal(want.EndTime)
}

func rescheduleNotes(notes, reason string) string {
	if reason == "" {
		return notes
	}
	tag := "[Rescheduled: " + reason + "]"
	if notes == "" {
		return tag
	}
	return notes + "\n" + tag
}

func mapNotFound(err error, resource string, id uuid.UUID) error {
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{Resource: resource, ID: id}
	}
	return err
}

func mapStoreError(err error, staffID uuid.UUID) error {
	if errors.Is(err, store.ErrConflict) {
		return &ConflictError{StaffID: staffID}
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
