package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

// Store keeps users, availability and appointments in process memory. Staff
// transactions are serialized by a lock table keyed by staff id; writes are
// staged on the transaction and applied only when its callback succeeds.
type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]domain.User
	availability map[uuid.UUID]domain.Availability
	appointments map[uuid.UUID]domain.Appointment

	staffLocks *xsync.MapOf[uuid.UUID, *sync.Mutex]
}

var (
	_ store.BookingRepository  = (*Store)(nil)
	_ store.ReminderRepository = (*Store)(nil)
)

func New() *Store {
	return &Store{
		users:        make(map[uuid.UUID]domain.User),
		availability: make(map[uuid.UUID]domain.Availability),
		appointments: make(map[uuid.UUID]domain.Appointment),
		staffLocks:   xsync.NewMapOf[uuid.UUID, *sync.Mutex](),
	}
}

// PutUser inserts or replaces a user record. Users are provisioned by the
// identity collaborator; this is its write path into the memory store.
func (s *Store) PutUser(u domain.User) domain.User {
	now := time.Now().UTC()
	if u.ID == uuid.Nil {
		u.ID = uuid.Must(uuid.NewV7())
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = now
	}
	u.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
	return u
}

func (s *Store) InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.StaffTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	lock, _ := s.staffLocks.LoadOrCompute(staffID, func() *sync.Mutex { return &sync.Mutex{} })
	lock.Lock()
	defer lock.Unlock()

	tx := &staffTx{
		s:            s,
		appointments: make(map[uuid.UUID]domain.Appointment),
		created:      make(map[uuid.UUID]struct{}),
		availability: make(map[uuid.UUID]domain.Availability),
		noShows:      make(map[uuid.UUID]int),
	}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.commit(tx)
}

// commit applies the staged writes of tx, or none of them when an appointment
// it created was committed meanwhile by a transaction of another staff member.
func (s *Store) commit(tx *staffTx) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range tx.created {
		if _, taken := s.appointments[id]; taken {
			return store.ErrIdempotencyConflict
		}
	}

	for id, a := range tx.appointments {
		s.appointments[id] = a
	}
	for id, a := range tx.availability {
		s.availability[id] = a
	}
	for id, n := range tx.noShows {
		u := s.users[id].WithNoShows(n)
		u.UpdatedAt = now
		s.users[id] = u
	}
	return nil
}

func (s *Store) GetUser(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, store.ErrNotFound
	}
	return u, nil
}

func (s *Store) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[appointmentID]
	if !ok {
		return domain.Appointment{}, store.ErrNotFound
	}
	return a, nil
}

func (s *Store) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error) {
	s.mu.RLock()
	rows := make([]domain.Appointment, 0, len(s.appointments))
	for _, a := range s.appointments {
		if filter.ClientID != nil && a.ClientID != *filter.ClientID {
			continue
		}
		if filter.StaffID != nil && a.StaffID != *filter.StaffID {
			continue
		}
		rows = append(rows, a)
	}
	s.mu.RUnlock()

	sortByStart(rows)
	if filter.Offset >= len(rows) {
		return []domain.Appointment{}, nil
	}
	rows = rows[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(rows) {
		rows = rows[:filter.Limit]
	}
	return rows, nil
}

func (s *Store) ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availabilityLocked(staffID, nil), nil
}

func (s *Store) ListAvailabilityForDate(ctx context.Context, staffID uuid.UUID, date time.Time) ([]domain.Availability, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.availabilityLocked(staffID, &date), nil
}

func (s *Store) availabilityLocked(staffID uuid.UUID, date *time.Time) []domain.Availability {
	out := make([]domain.Availability, 0)
	for _, a := range s.availability {
		if a.StaffID != staffID {
			continue
		}
		if date != nil && !a.AppliesTo(*date) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartMinute != out[j].StartMinute {
			return out[i].StartMinute < out[j].StartMinute
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out
}

func (s *Store) ListScheduled(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Appointment
	for _, a := range s.appointments {
		if a.StaffID == staffID && a.Active() && domain.Overlaps(a.StartTime, a.EndTime, windowStart, windowEnd) {
			out = append(out, a)
		}
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.Appointment, error) {
	s.mu.RLock()
	var out []domain.Appointment
	for _, a := range s.appointments {
		if !a.Active() || a.ReminderSentAt != nil {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) {
			continue
		}
		out = append(out, a)
	}
	s.mu.RUnlock()

	sortByStart(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) MarkReminderSent(ctx context.Context, appointmentID uuid.UUID, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[appointmentID]
	if !ok {
		return false, store.ErrNotFound
	}
	if a.ReminderSentAt != nil {
		return false, nil
	}
	at = at.UTC()
	a.ReminderSentAt = &at
	a.UpdatedAt = time.Now().UTC()
	s.appointments[appointmentID] = a
	return true, nil
}

func sortByStart(rows []domain.Appointment) {
	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].StartTime.Equal(rows[j].StartTime) {
			return rows[i].StartTime.Before(rows[j].StartTime)
		}
		return rows[i].ID.String() < rows[j].ID.String()
	})
}
