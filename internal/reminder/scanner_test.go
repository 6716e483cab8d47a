package reminder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/notify"
	"appointly/backend/internal/store"
	"appointly/backend/internal/store/memory"
)

type captureNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (c *captureNotifier) Notify(ctx context.Context, ev notify.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

var now = time.Date(2026, 11, 2, 8, 0, 0, 0, time.UTC)

func seed(t *testing.T, st *memory.Store, starts ...time.Time) []domain.Appointment {
	t.Helper()
	staff := st.PutUser(domain.User{Email: "staff@example.test", Role: domain.RoleStaff})
	client := st.PutUser(domain.User{Email: "client@example.test", Role: domain.RoleClient})

	out := make([]domain.Appointment, 0, len(starts))
	err := st.InStaffTransaction(context.Background(), staff.ID, func(ctx context.Context, tx store.StaffTx) error {
		for _, start := range starts {
			a, err := tx.CreateAppointment(ctx, domain.Appointment{
				StaffID:   staff.ID,
				ClientID:  client.ID,
				StartTime: start,
				EndTime:   start.Add(30 * time.Minute),
			})
			if err != nil {
				return err
			}
			out = append(out, a)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("seed error: %v", err)
	}
	return out
}

func newTestScanner(st store.ReminderRepository, claims Claimer, n notify.Notifier) *Scanner {
	s := NewScanner(st, claims, n, discardLogger(), Config{BatchSize: 10})
	s.now = func() time.Time { return now }
	return s
}

func TestScanOnce_SendsOncePerAppointment(t *testing.T) {
	st := memory.New()
	appts := seed(t, st,
		now.Add(2*time.Hour),
		now.Add(23*time.Hour),
		now.Add(25*time.Hour),
		now.Add(-time.Hour),
	)

	events := &captureNotifier{}
	s := newTestScanner(st, NewMemoryClaimer(), events)

	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce error: %v", err)
	}
	if sent != 2 {
		t.Fatalf("sent = %d, want 2", sent)
	}
	if len(events.events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events.events))
	}
	for _, ev := range events.events {
		if ev.Type != notify.EventReminder {
			t.Fatalf("event type = %q, want %q", ev.Type, notify.EventReminder)
		}
		if ev.RecipientID != appts[0].ClientID {
			t.Fatalf("recipient = %s, want client %s", ev.RecipientID, appts[0].ClientID)
		}
	}

	sent, err = s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("second ScanOnce error: %v", err)
	}
	if sent != 0 || len(events.events) != 2 {
		t.Fatalf("second scan sent %d (events %d), want 0", sent, len(events.events))
	}

	got, err := st.GetAppointment(context.Background(), appts[0].ID)
	if err != nil {
		t.Fatalf("GetAppointment error: %v", err)
	}
	if got.ReminderSentAt == nil || !got.ReminderSentAt.Equal(now) {
		t.Fatalf("reminder_sent_at = %v, want %v", got.ReminderSentAt, now)
	}
}

func TestScanOnce_SkipsHeldClaims(t *testing.T) {
	st := memory.New()
	appts := seed(t, st, now.Add(time.Hour))

	claims := NewMemoryClaimer()
	if ok, _ := claims.Claim(context.Background(), appts[0].ID, time.Hour); !ok {
		t.Fatalf("pre-claim failed")
	}

	events := &captureNotifier{}
	s := newTestScanner(st, claims, events)
	sent, err := s.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce error: %v", err)
	}
	if sent != 0 || len(events.events) != 0 {
		t.Fatalf("sent = %d, want 0 while another scanner holds the claim", sent)
	}
}

func TestScanOnce_IgnoresInactiveAppointments(t *testing.T) {
	st := memory.New()
	appts := seed(t, st, now.Add(time.Hour))

	err := st.InStaffTransaction(context.Background(), appts[0].StaffID, func(ctx context.Context, tx store.StaffTx) error {
		a, err := tx.GetAppointment(ctx, appts[0].ID)
		if err != nil {
			return err
		}
		if err := a.Transition(domain.StatusCancelled); err != nil {
			return err
		}
		return tx.UpdateAppointment(ctx, a)
	})
	if err != nil {
		t.Fatalf("cancel error: %v", err)
	}

	events := &captureNotifier{}
	sent, err := newTestScanner(st, nil, events).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce error: %v", err)
	}
	if sent != 0 {
		t.Fatalf("sent = %d, want 0 for a cancelled appointment", sent)
	}
}

type fakeReminderRepo struct {
	listFn func(ctx context.Context, from, to time.Time, limit int) ([]domain.Appointment, error)
	markFn func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

func (f *fakeReminderRepo) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.Appointment, error) {
	if f.listFn == nil {
		panic("ListDueReminders not configured")
	}
	return f.listFn(ctx, from, to, limit)
}

func (f *fakeReminderRepo) MarkReminderSent(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	if f.markFn == nil {
		panic("MarkReminderSent not configured")
	}
	return f.markFn(ctx, id, at)
}

func TestScanOnce_MarkFailureReleasesClaim(t *testing.T) {
	id := uuid.MustParse("00000000-0000-0000-0000-000000000c01")
	var gotFrom, gotTo time.Time
	repo := &fakeReminderRepo{
		listFn: func(ctx context.Context, from, to time.Time, limit int) ([]domain.Appointment, error) {
			gotFrom, gotTo = from, to
			return []domain.Appointment{{ID: id, StartTime: now.Add(time.Hour), Status: domain.StatusScheduled}}, nil
		},
		markFn: func(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
			return false, errors.New("db down")
		},
	}

	claims := NewMemoryClaimer()
	events := &captureNotifier{}
	sent, err := newTestScanner(repo, claims, events).ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce error: %v", err)
	}
	if sent != 0 || len(events.events) != 0 {
		t.Fatalf("sent = %d, want 0", sent)
	}
	if !gotFrom.Equal(now) || !gotTo.Equal(now.Add(24*time.Hour)) {
		t.Fatalf("window = [%v,%v), want 24h lookahead from now", gotFrom, gotTo)
	}
	if ok, _ := claims.Claim(context.Background(), id, time.Minute); !ok {
		t.Fatalf("claim was not released after the mark failed")
	}
}

func TestMemoryClaimer_Expiry(t *testing.T) {
	c := NewMemoryClaimer()
	clock := now
	c.now = func() time.Time { return clock }
	id := uuid.MustParse("00000000-0000-0000-0000-000000000c02")
	ctx := context.Background()

	if ok, _ := c.Claim(ctx, id, time.Minute); !ok {
		t.Fatalf("first claim failed")
	}
	if ok, _ := c.Claim(ctx, id, time.Minute); ok {
		t.Fatalf("second claim succeeded while held")
	}
	clock = clock.Add(2 * time.Minute)
	if ok, _ := c.Claim(ctx, id, time.Minute); !ok {
		t.Fatalf("claim after expiry failed")
	}
}

type fakeRedis struct {
	redis.Cmdable

	mu   sync.Mutex
	keys map[string]time.Duration
}

func (f *fakeRedis) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewBoolCmd(ctx)
	if _, ok := f.keys[key]; ok {
		cmd.SetVal(false)
		return cmd
	}
	f.keys[key] = expiration
	cmd.SetVal(true)
	return cmd
}

func (f *fakeRedis) Del(ctx context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	cmd := redis.NewIntCmd(ctx)
	var n int64
	for _, k := range keys {
		if _, ok := f.keys[k]; ok {
			delete(f.keys, k)
			n++
		}
	}
	cmd.SetVal(n)
	return cmd
}

func TestRedisClaimer(t *testing.T) {
	rdb := &fakeRedis{keys: map[string]time.Duration{}}
	c := NewRedisClaimer(rdb, "")
	id := uuid.MustParse("00000000-0000-0000-0000-000000000c03")
	ctx := context.Background()

	ok, err := c.Claim(ctx, id, 5*time.Minute)
	if err != nil || !ok {
		t.Fatalf("Claim = %v, %v; want true, nil", ok, err)
	}
	key := "appointly:reminder:" + id.String()
	if ttl, found := rdb.keys[key]; !found || ttl != 5*time.Minute {
		t.Fatalf("keys = %v, want %s with 5m ttl", rdb.keys, key)
	}

	ok, err = c.Claim(ctx, id, 5*time.Minute)
	if err != nil || ok {
		t.Fatalf("second Claim = %v, %v; want false, nil", ok, err)
	}

	if err := c.Release(ctx, id); err != nil {
		t.Fatalf("Release error: %v", err)
	}
	if ok, _ := c.Claim(ctx, id, time.Minute); !ok {
		t.Fatalf("Claim after Release failed")
	}
}
