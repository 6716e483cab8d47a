package grpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/booking"
	"appointly/backend/internal/store"
)

const errorDomain = "booking.appointly"

type BookingServer struct {
	svc bookingService
	log *slog.Logger
}

var _ BookingServiceServer = (*BookingServer)(nil)

type bookingService interface {
	ListAvailableSlots(ctx context.Context, staffID uuid.UUID, date time.Time, duration time.Duration) ([]domain.Slot, error)
	BookAppointment(ctx context.Context, actor domain.Actor, in booking.BookInput) (domain.Appointment, error)
	RescheduleAppointment(ctx context.Context, actor domain.Actor, in booking.RescheduleInput) (domain.Appointment, error)
	ChangeStatus(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID, status domain.AppointmentStatus) (domain.Appointment, error)
	GetAppointment(ctx context.Context, actor domain.Actor, appointmentID uuid.UUID) (domain.Appointment, error)
	ListAppointments(ctx context.Context, actor domain.Actor, limit, offset int) ([]domain.Appointment, error)
	CreateAvailability(ctx context.Context, actor domain.Actor, in booking.AvailabilityInput) (domain.Availability, error)
	ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error)
}

func NewBookingServer(svc bookingService, log *slog.Logger) *BookingServer {
	if log == nil {
		log = slog.Default()
	}
	return &BookingServer{
		svc: svc,
		log: log.With(slog.String("component", "grpc.booking")),
	}
}

func (s *BookingServer) ListAvailableSlots(ctx context.Context, req *ListAvailableSlotsRequest) (*ListAvailableSlotsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAvailableSlots"))

	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	staffID, err := parseID("staff_id", req.StaffID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}
	date, err := time.Parse(time.DateOnly, strings.TrimSpace(req.Date))
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_date"), slog.String("staff_id", req.StaffID))
		return nil, status.Error(codes.InvalidArgument, "date must be YYYY-MM-DD")
	}

	slots, err := s.svc.ListAvailableSlots(ctx, staffID, date, time.Duration(req.DurationMinutes)*time.Minute)
	if err != nil {
		return nil, s.toStatus(log, "slots list failed", err, slog.String("staff_id", req.StaffID))
	}

	out := make([]Slot, 0, len(slots))
	for _, sl := range slots {
		out = append(out, Slot{StartTime: sl.StartTime.UTC(), EndTime: sl.EndTime.UTC()})
	}
	log.Debug("slots listed", slog.String("staff_id", req.StaffID), slog.String("date", req.Date), slog.Int("count", len(out)))
	return &ListAvailableSlotsResponse{Slots: out}, nil
}

func (s *BookingServer) BookAppointment(ctx context.Context, req *BookAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "BookAppointment"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.StartTime == nil || req.EndTime == nil {
		log.Warn("invalid request", slog.String("reason", "missing_times"), slog.String("staff_id", req.StaffID))
		return nil, status.Error(codes.InvalidArgument, "start_time and end_time are required")
	}
	staffID, err := parseID("staff_id", req.StaffID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}
	clientID := actor.UserID
	if strings.TrimSpace(req.ClientID) != "" {
		if clientID, err = parseID("client_id", req.ClientID); err != nil {
			log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
			return nil, err
		}
	}

	appt, err := s.svc.BookAppointment(ctx, actor, booking.BookInput{
		ClientID:       clientID,
		StaffID:        staffID,
		StartTime:      *req.StartTime,
		EndTime:        *req.EndTime,
		Notes:          req.Notes,
		IdempotencyKey: idempotencyKey(ctx),
	})
	if err != nil {
		return nil, s.toStatus(log, "appointment booking failed", err,
			slog.String("staff_id", staffID.String()),
			slog.String("client_id", clientID.String()),
			slog.Time("start_time", req.StartTime.UTC()),
			slog.Time("end_time", req.EndTime.UTC()),
		)
	}

	log.Info(
		"appointment booked",
		slog.String("appointment_id", appt.ID.String()),
		slog.String("staff_id", appt.StaffID.String()),
		slog.String("client_id", appt.ClientID.String()),
		slog.Time("start_time", appt.StartTime),
		slog.Time("end_time", appt.EndTime),
	)
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *BookingServer) RescheduleAppointment(ctx context.Context, req *RescheduleAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "RescheduleAppointment"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	if req.StartTime == nil || req.EndTime == nil {
		log.Warn("invalid request", slog.String("reason", "missing_times"), slog.String("appointment_id", req.AppointmentID))
		return nil, status.Error(codes.InvalidArgument, "start_time and end_time are required")
	}
	id, err := parseID("appointment_id", req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}

	appt, err := s.svc.RescheduleAppointment(ctx, actor, booking.RescheduleInput{
		AppointmentID: id,
		StartTime:     *req.StartTime,
		EndTime:       *req.EndTime,
		Reason:        req.Reason,
	})
	if err != nil {
		return nil, s.toStatus(log, "appointment reschedule failed", err, slog.String("appointment_id", id.String()))
	}

	log.Info(
		"appointment rescheduled",
		slog.String("appointment_id", id.String()),
		slog.String("rescheduled_to_id", appt.ID.String()),
		slog.Time("start_time", appt.StartTime),
	)
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *BookingServer) ChangeStatus(ctx context.Context, req *ChangeStatusRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "ChangeStatus"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseID("appointment_id", req.AppointmentID)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_uuid"))
		return nil, err
	}
	next := domain.AppointmentStatus(strings.ToLower(strings.TrimSpace(req.Status)))

	appt, err := s.svc.ChangeStatus(ctx, actor, id, next)
	if err != nil {
		return nil, s.toStatus(log, "appointment status change failed", err,
			slog.String("appointment_id", id.String()),
			slog.String("status", string(next)),
		)
	}

	log.Info("appointment status changed", slog.String("appointment_id", id.String()), slog.String("status", string(appt.Status)))
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *BookingServer) GetAppointment(ctx context.Context, req *GetAppointmentRequest) (*AppointmentResponse, error) {
	log := s.log.With(slog.String("rpc", "GetAppointment"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}
	id, err := parseID("appointment_id", req.AppointmentID)
	if err != nil {
		return nil, err
	}

	appt, err := s.svc.GetAppointment(ctx, actor, id)
	if err != nil {
		return nil, s.toStatus(log, "appointment get failed", err, slog.String("appointment_id", id.String()))
	}
	return &AppointmentResponse{Appointment: toAppointment(appt)}, nil
}

func (s *BookingServer) ListAppointments(ctx context.Context, req *ListAppointmentsRequest) (*ListAppointmentsResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAppointments"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &ListAppointmentsRequest{}
	}

	appts, err := s.svc.ListAppointments(ctx, actor, req.Limit, req.Offset)
	if err != nil {
		return nil, s.toStatus(log, "appointments list failed", err, slog.String("user_id", actor.UserID.String()))
	}

	out := make([]Appointment, 0, len(appts))
	for _, a := range appts {
		out = append(out, toAppointment(a))
	}
	log.Debug("appointments listed", slog.String("user_id", actor.UserID.String()), slog.Int("count", len(out)))
	return &ListAppointmentsResponse{Appointments: out}, nil
}

func (s *BookingServer) CreateAvailability(ctx context.Context, req *CreateAvailabilityRequest) (*AvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "CreateAvailability"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		log.Warn("invalid request", slog.String("reason", "nil_request"))
		return nil, status.Error(codes.InvalidArgument, "request is required")
	}

	staffID := actor.UserID
	if strings.TrimSpace(req.StaffID) != "" {
		if staffID, err = parseID("staff_id", req.StaffID); err != nil {
			return nil, err
		}
	}
	startMinute, err := parseClock(req.StartTime)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_start_time"))
		return nil, status.Error(codes.InvalidArgument, "start_time must be HH:MM")
	}
	endMinute, err := parseClock(req.EndTime)
	if err != nil {
		log.Warn("invalid request", slog.String("reason", "invalid_end_time"))
		return nil, status.Error(codes.InvalidArgument, "end_time must be HH:MM")
	}

	in := booking.AvailabilityInput{
		StaffID:     staffID,
		StartMinute: startMinute,
		EndMinute:   endMinute,
	}
	if req.DayOfWeek != 0 {
		wd := req.DayOfWeek
		in.DayOfWeek = &wd
	}
	if d := strings.TrimSpace(req.SpecificDate); d != "" {
		date, err := time.Parse(time.DateOnly, d)
		if err != nil {
			return nil, status.Error(codes.InvalidArgument, "specific_date must be YYYY-MM-DD")
		}
		in.SpecificDate = &date
	}

	a, err := s.svc.CreateAvailability(ctx, actor, in)
	if err != nil {
		return nil, s.toStatus(log, "availability create failed", err, slog.String("staff_id", staffID.String()))
	}

	log.Info("availability created", slog.String("availability_id", a.ID.String()), slog.String("staff_id", a.StaffID.String()))
	return &AvailabilityResponse{Availability: toAvailability(a)}, nil
}

func (s *BookingServer) ListAvailability(ctx context.Context, req *ListAvailabilityRequest) (*ListAvailabilityResponse, error) {
	log := s.log.With(slog.String("rpc", "ListAvailability"))

	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	staffID := actor.UserID
	if req != nil && strings.TrimSpace(req.StaffID) != "" {
		if staffID, err = parseID("staff_id", req.StaffID); err != nil {
			return nil, err
		}
	}

	rows, err := s.svc.ListAvailability(ctx, staffID)
	if err != nil {
		return nil, s.toStatus(log, "availability list failed", err, slog.String("staff_id", staffID.String()))
	}
	out := make([]Availability, 0, len(rows))
	for _, a := range rows {
		out = append(out, toAvailability(a))
	}
	return &ListAvailabilityResponse{Availability: out}, nil
}

// toStatus maps a service error to a gRPC status with an ErrorInfo reason and
// logs it at a level matching its kind.
func (s *BookingServer) toStatus(log *slog.Logger, msg string, err error, attrs ...any) error {
	var (
		vErr *booking.ValidationError
		cErr *booking.ConflictError
		bErr *booking.BlockedClientError
		pErr *booking.PolicyViolationError
		uErr *booking.UnauthorizedError
		nErr *booking.NotFoundError
	)
	switch {
	case errors.As(err, &vErr):
		log.Warn("invalid request", append(attrs, slog.Any("err", err))...)
		return statusWithReason(codes.InvalidArgument, "VALIDATION_FAILED", vErr.Error())
	case errors.As(err, &cErr), errors.Is(err, store.ErrConflict):
		log.Info(msg, append(attrs, slog.String("reason", "conflict"))...)
		return statusWithReason(codes.FailedPrecondition, "SLOT_CONFLICT", "That time is no longer available. Pick a different slot.")
	case errors.Is(err, store.ErrIdempotencyConflict):
		log.Info(msg, append(attrs, slog.String("reason", "idempotency_conflict"))...)
		return statusWithReason(codes.FailedPrecondition, "IDEMPOTENCY_KEY_REUSED", "This request key was already used for a different appointment. Try again.")
	case errors.As(err, &bErr):
		log.Info(msg, append(attrs, slog.String("reason", "client_blocked"))...)
		return statusWithReason(codes.FailedPrecondition, "CLIENT_BLOCKED", bErr.Error())
	case errors.As(err, &pErr):
		log.Info(msg, append(attrs, slog.String("reason", "policy_window"))...)
		return statusWithReason(codes.FailedPrecondition, "POLICY_WINDOW", pErr.Error())
	case errors.As(err, &uErr):
		log.Warn(msg, append(attrs, slog.String("reason", "not_allowed"))...)
		return statusWithReason(codes.PermissionDenied, "NOT_ALLOWED", uErr.Error())
	case errors.As(err, &nErr), errors.Is(err, store.ErrNotFound):
		log.Info(msg, append(attrs, slog.String("reason", "not_found"))...)
		return statusWithReason(codes.NotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		log.Warn(msg, append(attrs, slog.Any("err", err))...)
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "request canceled")
	}
	log.Error(msg, append(attrs, slog.Any("err", err))...)
	return status.Error(codes.Internal, "internal error")
}

func statusWithReason(code codes.Code, reason, msg string) error {
	st := status.New(code, msg)
	withInfo, err := st.WithDetails(&errdetails.ErrorInfo{Reason: reason, Domain: errorDomain})
	if err != nil {
		return st.Err()
	}
	return withInfo.Err()
}

// ErrorReason returns the ErrorInfo reason attached to a status error, if any.
func ErrorReason(err error) string {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	for _, d := range st.Details() {
		if info, ok := d.(*errdetails.ErrorInfo); ok {
			return info.Reason
		}
	}
	return ""
}

func requireActor(ctx context.Context) (domain.Actor, error) {
	actor, ok := ActorFromContext(ctx)
	if !ok {
		return domain.Actor{}, status.Error(codes.Unauthenticated, "authentication required")
	}
	return actor, nil
}

func parseID(field, raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, status.Error(codes.InvalidArgument, field+" must be a UUID")
	}
	return id, nil
}

func idempotencyKey(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	values := md.Get("idempotency-key")
	if len(values) == 0 {
		values = md.Get("x-idempotency-key")
	}
	if len(values) == 0 {
		return ""
	}
	return strings.TrimSpace(values[0])
}

// parseClock reads "HH:MM" as minutes after midnight; "24:00" is accepted.
func parseClock(s string) (int, error) {
	s = strings.TrimSpace(s)
	if len(s) != 5 || s[2] != ':' {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	for _, i := range []int{0, 1, 3, 4} {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("invalid clock %q", s)
		}
	}
	h := int(s[0]-'0')*10 + int(s[1]-'0')
	m := int(s[3]-'0')*10 + int(s[4]-'0')
	if m > 59 || h > 24 || (h == 24 && m != 0) {
		return 0, fmt.Errorf("invalid clock %q", s)
	}
	return h*60 + m, nil
}

func formatClock(minutes int) string {
	return fmt.Sprintf("%02d:%02d", minutes/60, minutes%60)
}
