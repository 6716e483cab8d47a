package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

func seedUsers(s *Store) (staff, client domain.User) {
	staff = s.PutUser(domain.User{Email: "staff@example.test", Role: domain.RoleStaff})
	client = s.PutUser(domain.User{Email: "client@example.test", Role: domain.RoleClient})
	return staff, client
}

func TestInStaffTransaction_RollsBackOnError(t *testing.T) {
	s := New()
	staff, client := seedUsers(s)
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)
	boom := errors.New("boom")

	err := s.InStaffTransaction(context.Background(), staff.ID, func(ctx context.Context, tx store.StaffTx) error {
		if _, err := tx.CreateAppointment(ctx, domain.Appointment{
			StaffID: staff.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
		}); err != nil {
			return err
		}
		if _, err := tx.RecordNoShow(ctx, client.ID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}

	rows, _ := s.ListAppointments(context.Background(), store.AppointmentFilter{})
	if len(rows) != 0 {
		t.Fatalf("appointments = %d, want 0 after rollback", len(rows))
	}
	u, _ := s.GetUser(context.Background(), client.ID)
	if u.NoShowCount != 0 {
		t.Fatalf("no-show count = %d, want 0 after rollback", u.NoShowCount)
	}
}

func TestInStaffTransaction_CommitsStagedWrites(t *testing.T) {
	s := New()
	staff, client := seedUsers(s)
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	var created domain.Appointment
	err := s.InStaffTransaction(context.Background(), staff.ID, func(ctx context.Context, tx store.StaffTx) error {
		var err error
		created, err = tx.CreateAppointment(ctx, domain.Appointment{
			StaffID: staff.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
		})
		if err != nil {
			return err
		}
		if _, err := tx.CreateAppointment(ctx, domain.Appointment{
			StaffID: staff.ID, ClientID: client.ID, StartTime: start.Add(30 * time.Minute), EndTime: start.Add(90 * time.Minute),
		}); !errors.Is(err, store.ErrConflict) {
			t.Errorf("overlapping insert err = %v, want ErrConflict", err)
		}
		for i := 0; i < 2; i++ {
			if _, err := tx.RecordNoShow(ctx, client.ID); err != nil {
				return err
			}
		}
		u, err := tx.GetUser(ctx, client.ID)
		if err != nil {
			return err
		}
		if u.NoShowCount != 2 {
			t.Errorf("in-tx no-show count = %d, want 2", u.NoShowCount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("InStaffTransaction: %v", err)
	}

	got, err := s.GetAppointment(context.Background(), created.ID)
	if err != nil || got.Status != domain.StatusScheduled {
		t.Fatalf("GetAppointment = %+v, %v", got, err)
	}
	u, _ := s.GetUser(context.Background(), client.ID)
	if u.NoShowCount != 2 || u.IsBlocked {
		t.Fatalf("user = %+v, want 2 no-shows and not blocked", u)
	}
}

func TestListAppointments_FiltersAndPages(t *testing.T) {
	s := New()
	staff, client := seedUsers(s)
	other := s.PutUser(domain.User{Email: "other@example.test", Role: domain.RoleClient})
	day := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	err := s.InStaffTransaction(context.Background(), staff.ID, func(ctx context.Context, tx store.StaffTx) error {
		for i := 0; i < 4; i++ {
			c := client
			if i == 3 {
				c = other
			}
			start := day.Add(time.Duration(i) * time.Hour)
			if _, err := tx.CreateAppointment(ctx, domain.Appointment{
				StaffID: staff.ID, ClientID: c.ID, StartTime: start, EndTime: start.Add(time.Hour),
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	clientID := client.ID
	rows, _ := s.ListAppointments(context.Background(), store.AppointmentFilter{ClientID: &clientID, Limit: 2, Offset: 1})
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}
	if !rows[0].StartTime.Equal(day.Add(time.Hour)) || !rows[1].StartTime.Equal(day.Add(2*time.Hour)) {
		t.Fatalf("unexpected page: %v, %v", rows[0].StartTime, rows[1].StartTime)
	}

	rows, _ = s.ListAppointments(context.Background(), store.AppointmentFilter{Offset: 10})
	if len(rows) != 0 {
		t.Fatalf("rows past end = %d, want 0", len(rows))
	}
}

func TestMarkReminderSent_Once(t *testing.T) {
	s := New()
	staff, client := seedUsers(s)
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	var appt domain.Appointment
	_ = s.InStaffTransaction(context.Background(), staff.ID, func(ctx context.Context, tx store.StaffTx) error {
		var err error
		appt, err = tx.CreateAppointment(ctx, domain.Appointment{
			StaffID: staff.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
		})
		return err
	})

	due, _ := s.ListDueReminders(context.Background(), start.Add(-time.Hour), start.Add(time.Hour), 10)
	if len(due) != 1 {
		t.Fatalf("due = %d, want 1", len(due))
	}

	ok, err := s.MarkReminderSent(context.Background(), appt.ID, start.Add(-time.Hour))
	if err != nil || !ok {
		t.Fatalf("first mark = %v, %v", ok, err)
	}
	ok, err = s.MarkReminderSent(context.Background(), appt.ID, start.Add(-time.Hour))
	if err != nil || ok {
		t.Fatalf("second mark = %v, %v, want false", ok, err)
	}
	if _, err := s.MarkReminderSent(context.Background(), uuid.New(), start); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("unknown id err = %v, want ErrNotFound", err)
	}

	due, _ = s.ListDueReminders(context.Background(), start.Add(-time.Hour), start.Add(time.Hour), 10)
	if len(due) != 0 {
		t.Fatalf("due after mark = %d, want 0", len(due))
	}
}

func TestInStaffTransaction_SameIDAcrossStaffConflicts(t *testing.T) {
	s := New()
	staffA, client := seedUsers(s)
	staffB := s.PutUser(domain.User{Email: "staff-b@example.test", Role: domain.RoleStaff})
	id := uuid.New()
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	staged := make(chan struct{})
	proceed := make(chan struct{})
	errA := make(chan error, 1)
	go func() {
		errA <- s.InStaffTransaction(context.Background(), staffA.ID, func(ctx context.Context, tx store.StaffTx) error {
			_, err := tx.CreateAppointment(ctx, domain.Appointment{
				ID: id, StaffID: staffA.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
			})
			close(staged)
			<-proceed
			return err
		})
	}()

	<-staged
	errB := s.InStaffTransaction(context.Background(), staffB.ID, func(ctx context.Context, tx store.StaffTx) error {
		_, err := tx.CreateAppointment(ctx, domain.Appointment{
			ID: id, StaffID: staffB.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
		})
		return err
	})
	close(proceed)

	if errB != nil {
		t.Fatalf("first commit: %v", errB)
	}
	if err := <-errA; !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("second commit err = %v, want ErrIdempotencyConflict", err)
	}

	got, err := s.GetAppointment(context.Background(), id)
	if err != nil {
		t.Fatalf("GetAppointment: %v", err)
	}
	if got.StaffID != staffB.ID {
		t.Fatalf("stored staff = %s, want the committed one %s", got.StaffID, staffB.ID)
	}
	rows, _ := s.ListAppointments(context.Background(), store.AppointmentFilter{})
	if len(rows) != 1 {
		t.Fatalf("appointments = %d, want 1", len(rows))
	}
}

func TestInStaffTransaction_ConflictAppliesNothing(t *testing.T) {
	s := New()
	staffA, client := seedUsers(s)
	staffB := s.PutUser(domain.User{Email: "staff-b@example.test", Role: domain.RoleStaff})
	id := uuid.New()
	start := time.Date(2026, 11, 2, 9, 0, 0, 0, time.UTC)

	staged := make(chan struct{})
	proceed := make(chan struct{})
	errA := make(chan error, 1)
	go func() {
		errA <- s.InStaffTransaction(context.Background(), staffA.ID, func(ctx context.Context, tx store.StaffTx) error {
			if _, err := tx.CreateAppointment(ctx, domain.Appointment{
				StaffID: staffA.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
			}); err != nil {
				return err
			}
			if _, err := tx.RecordNoShow(ctx, client.ID); err != nil {
				return err
			}
			_, err := tx.CreateAppointment(ctx, domain.Appointment{
				ID: id, StaffID: staffA.ID, ClientID: client.ID, StartTime: start.Add(2 * time.Hour), EndTime: start.Add(3 * time.Hour),
			})
			close(staged)
			<-proceed
			return err
		})
	}()

	<-staged
	if err := s.InStaffTransaction(context.Background(), staffB.ID, func(ctx context.Context, tx store.StaffTx) error {
		_, err := tx.CreateAppointment(ctx, domain.Appointment{
			ID: id, StaffID: staffB.ID, ClientID: client.ID, StartTime: start, EndTime: start.Add(time.Hour),
		})
		return err
	}); err != nil {
		t.Fatalf("first commit: %v", err)
	}
	close(proceed)

	if err := <-errA; !errors.Is(err, store.ErrIdempotencyConflict) {
		t.Fatalf("err = %v, want ErrIdempotencyConflict", err)
	}
	staffAID := staffA.ID
	rows, _ := s.ListAppointments(context.Background(), store.AppointmentFilter{StaffID: &staffAID})
	if len(rows) != 0 {
		t.Fatalf("staff A appointments = %d, want none applied", len(rows))
	}
	u, _ := s.GetUser(context.Background(), client.ID)
	if u.NoShowCount != 0 {
		t.Fatalf("no-show count = %d, want 0", u.NoShowCount)
	}
}
