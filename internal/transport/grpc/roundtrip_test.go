package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/service/booking"
	"appointly/backend/internal/store/memory"
)

type harness struct {
	client *BookingServiceClient
	health healthpb.HealthClient
	auth   *Authenticator
	store  *memory.Store
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	st := memory.New()
	now := time.Date(2026, 10, 26, 8, 0, 0, 0, time.UTC)
	svc := booking.NewService(st, booking.WithClock(func() time.Time { return now }))

	auth, err := NewAuthenticator("roundtrip-secret", "appointly")
	if err != nil {
		t.Fatalf("NewAuthenticator: %v", err)
	}

	lis := bufconn.Listen(1 << 20)
	srv := grpc.NewServer(grpc.ChainUnaryInterceptor(auth.UnaryInterceptor()))
	RegisterBookingServiceServer(srv, NewBookingServer(svc, discardLogger()))
	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(srv, hs)

	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient(
		"passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	return &harness{
		client: NewBookingServiceClient(conn),
		health: healthpb.NewHealthClient(conn),
		auth:   auth,
		store:  st,
	}
}

func (h *harness) as(t *testing.T, u domain.User) context.Context {
	t.Helper()
	token, err := h.auth.Issue(domain.Actor{UserID: u.ID, Role: u.Role}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestRoundTrip_BookingFlow(t *testing.T) {
	h := newHarness(t)
	staff := h.store.PutUser(domain.User{Email: "staff@example.test", Role: domain.RoleStaff})
	alice := h.store.PutUser(domain.User{Email: "alice@example.test", Role: domain.RoleClient})
	bob := h.store.PutUser(domain.User{Email: "bob@example.test", Role: domain.RoleClient})

	if _, err := h.client.CreateAvailability(h.as(t, staff), &CreateAvailabilityRequest{
		DayOfWeek: 1,
		StartTime: "09:00",
		EndTime:   "12:00",
	}); err != nil {
		t.Fatalf("CreateAvailability: %v", err)
	}

	slots, err := h.client.ListAvailableSlots(h.as(t, alice), &ListAvailableSlotsRequest{
		StaffID:         staff.ID.String(),
		Date:            "2026-11-02",
		DurationMinutes: 60,
	})
	if err != nil {
		t.Fatalf("ListAvailableSlots: %v", err)
	}
	if len(slots.Slots) != 3 {
		t.Fatalf("slots = %d, want 3", len(slots.Slots))
	}

	start := slots.Slots[0].StartTime
	end := slots.Slots[0].EndTime
	ctx := metadata.AppendToOutgoingContext(h.as(t, alice), "idempotency-key", "alice-1")
	first, err := h.client.BookAppointment(ctx, &BookAppointmentRequest{StaffID: staff.ID.String(), StartTime: &start, EndTime: &end})
	if err != nil {
		t.Fatalf("BookAppointment: %v", err)
	}
	if first.Appointment.ClientID != alice.ID.String() || first.Appointment.Status != string(domain.StatusScheduled) {
		t.Fatalf("unexpected appointment: %+v", first.Appointment)
	}

	replay, err := h.client.BookAppointment(ctx, &BookAppointmentRequest{StaffID: staff.ID.String(), StartTime: &start, EndTime: &end})
	if err != nil {
		t.Fatalf("BookAppointment replay: %v", err)
	}
	if replay.Appointment.ID != first.Appointment.ID {
		t.Fatalf("replay id = %s, want %s", replay.Appointment.ID, first.Appointment.ID)
	}

	_, err = h.client.BookAppointment(h.as(t, bob), &BookAppointmentRequest{StaffID: staff.ID.String(), StartTime: &start, EndTime: &end})
	if status.Code(err) != codes.FailedPrecondition || ErrorReason(err) != "SLOT_CONFLICT" {
		t.Fatalf("conflicting booking: code = %v reason = %q", status.Code(err), ErrorReason(err))
	}

	_, err = h.client.GetAppointment(h.as(t, bob), &GetAppointmentRequest{AppointmentID: first.Appointment.ID})
	if status.Code(err) != codes.PermissionDenied {
		t.Fatalf("foreign get: code = %v, want %v", status.Code(err), codes.PermissionDenied)
	}

	listed, err := h.client.ListAppointments(h.as(t, staff), &ListAppointmentsRequest{})
	if err != nil {
		t.Fatalf("ListAppointments: %v", err)
	}
	if len(listed.Appointments) != 1 || listed.Appointments[0].ID != first.Appointment.ID {
		t.Fatalf("staff appointments = %+v", listed.Appointments)
	}

	cancelled, err := h.client.ChangeStatus(h.as(t, alice), &ChangeStatusRequest{AppointmentID: first.Appointment.ID, Status: "cancelled"})
	if err != nil {
		t.Fatalf("ChangeStatus: %v", err)
	}
	if cancelled.Appointment.Status != string(domain.StatusCancelled) {
		t.Fatalf("status = %q, want cancelled", cancelled.Appointment.Status)
	}

	if _, err := h.client.BookAppointment(h.as(t, bob), &BookAppointmentRequest{StaffID: staff.ID.String(), StartTime: &start, EndTime: &end}); err != nil {
		t.Fatalf("booking freed slot: %v", err)
	}
}

func TestRoundTrip_RequiresToken(t *testing.T) {
	h := newHarness(t)

	_, err := h.client.ListAppointments(context.Background(), &ListAppointmentsRequest{})
	if status.Code(err) != codes.Unauthenticated {
		t.Fatalf("code = %v, want %v", status.Code(err), codes.Unauthenticated)
	}
}

func TestRoundTrip_HealthIsPublic(t *testing.T) {
	h := newHarness(t)

	resp, err := h.health.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		t.Fatalf("status = %v, want SERVING", resp.GetStatus())
	}
}
