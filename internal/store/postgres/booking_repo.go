package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/uptrace/bun"

	"appointly/backend/internal/domain"
	"appointly/backend/internal/store"
)

type BookingRepo struct {
	db *bun.DB
}

var (
	_ store.BookingRepository  = (*BookingRepo)(nil)
	_ store.ReminderRepository = (*BookingRepo)(nil)
)

func NewBookingRepo(db *bun.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

type staffTx struct {
	tx bun.Tx
}

func (r *BookingRepo) InStaffTransaction(ctx context.Context, staffID uuid.UUID, fn func(ctx context.Context, tx store.StaffTx) error) error {
	return r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := lockStaffCalendar(ctx, tx, staffID); err != nil {
			return err
		}
		return fn(ctx, staffTx{tx: tx})
	})
}

func lockStaffCalendar(ctx context.Context, tx bun.Tx, staffID uuid.UUID) error {
	_, err := tx.NewRaw("SELECT pg_advisory_xact_lock(hashtext(?))", staffID.String()).Exec(ctx)
	return err
}

func (r *BookingRepo) GetUser(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	return getUser(ctx, r.db, userID)
}

func (r *BookingRepo) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var out domain.Appointment
	err := r.db.NewSelect().
		Model(&out).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, notFound(err)
	}
	return out, nil
}

func (r *BookingRepo) ListAppointments(ctx context.Context, filter store.AppointmentFilter) ([]domain.Appointment, error) {
	rows := make([]domain.Appointment, 0)
	q := r.db.NewSelect().Model(&rows)
	if filter.ClientID != nil {
		q = q.Where("client_id = ?", *filter.ClientID)
	}
	if filter.StaffID != nil {
		q = q.Where("staff_id = ?", *filter.StaffID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.OrderExpr("start_time ASC, id ASC").Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error) {
	return listAvailability(ctx, r.db, staffID)
}

func (r *BookingRepo) ListAvailabilityForDate(ctx context.Context, staffID uuid.UUID, date time.Time) ([]domain.Availability, error) {
	return listAvailabilityForDate(ctx, r.db, staffID, date)
}

func (r *BookingRepo) ListScheduled(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return listScheduled(ctx, r.db, staffID, windowStart, windowEnd)
}

func (r *BookingRepo) ListDueReminders(ctx context.Context, from, to time.Time, limit int) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	q := r.db.NewSelect().
		Model(&rows).
		Where("status = ?", domain.StatusScheduled).
		Where("reminder_sent_at IS NULL").
		Where("start_time >= ?", from).
		Where("start_time < ?", to).
		OrderExpr("start_time ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *BookingRepo) MarkReminderSent(ctx context.Context, appointmentID uuid.UUID, at time.Time) (bool, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Appointment)(nil)).
		Set("reminder_sent_at = ?", at.UTC()).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", appointmentID).
		Where("reminder_sent_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected == 1, nil
}

func (t staffTx) GetUser(ctx context.Context, userID uuid.UUID) (domain.User, error) {
	return getUser(ctx, t.tx, userID)
}

func (t staffTx) RecordNoShow(ctx context.Context, clientID uuid.UUID) (domain.User, error) {
	var u domain.User
	err := t.tx.NewRaw(
		`UPDATE users
		SET no_show_count = no_show_count + 1,
			is_blocked = (no_show_count + 1) >= ?,
			updated_at = ?
		WHERE id = ?
		RETURNING *`,
		domain.NoShowBlockThreshold, time.Now().UTC(), clientID,
	).Scan(ctx, &u)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func (t staffTx) ListAvailability(ctx context.Context, staffID uuid.UUID) ([]domain.Availability, error) {
	return listAvailability(ctx, t.tx, staffID)
}

func (t staffTx) ListAvailabilityForDate(ctx context.Context, staffID uuid.UUID, date time.Time) ([]domain.Availability, error) {
	return listAvailabilityForDate(ctx, t.tx, staffID, date)
}

func (t staffTx) CreateAvailability(ctx context.Context, a domain.Availability) (domain.Availability, error) {
	m := domain.Availability{
		ID:          a.ID,
		StaffID:     a.StaffID,
		DayOfWeek:   a.DayOfWeek,
		StartMinute: a.StartMinute,
		EndMinute:   a.EndMinute,
	}
	if a.SpecificDate != nil {
		d := domain.DateOf(*a.SpecificDate)
		m.SpecificDate = &d
	}
	if _, err := t.tx.NewInsert().Model(&m).Exec(ctx); err != nil {
		return domain.Availability{}, err
	}
	return m, nil
}

func (t staffTx) GetAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, error) {
	var out domain.Appointment
	err := t.tx.NewSelect().
		Model(&out).
		Where("id = ?", appointmentID).
		For("UPDATE").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.Appointment{}, notFound(err)
	}
	return out, nil
}

func (t staffTx) ListScheduled(ctx context.Context, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	return listScheduled(ctx, t.tx, staffID, windowStart, windowEnd)
}

func (t staffTx) CreateAppointment(ctx context.Context, appt domain.Appointment) (domain.Appointment, error) {
	// A failed insert aborts the transaction, so a retried request is detected
	// before inserting rather than from the unique violation.
	if appt.ID != uuid.Nil {
		existing, found, err := t.findAppointment(ctx, appt.ID)
		if err != nil {
			return domain.Appointment{}, err
		}
		if found {
			if !sameBooking(existing, appt) {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
			return existing, nil
		}
	}

	m := domain.Appointment{
		ID:                appt.ID,
		StaffID:           appt.StaffID,
		ClientID:          appt.ClientID,
		StartTime:         appt.StartTime,
		EndTime:           appt.EndTime,
		Status:            appt.Status,
		RescheduledFromID: appt.RescheduledFromID,
		Notes:             appt.Notes,
	}

	_, err := t.tx.NewInsert().Model(&m).Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) {
			if pgErr.Code == "23P01" && pgErr.ConstraintName == "appointments_no_overlap" {
				return domain.Appointment{}, store.ErrConflict
			}
			if pgErr.Code == "23505" {
				return domain.Appointment{}, store.ErrIdempotencyConflict
			}
		}
		return domain.Appointment{}, err
	}
	return m, nil
}

func (t staffTx) findAppointment(ctx context.Context, appointmentID uuid.UUID) (domain.Appointment, bool, error) {
	var existing domain.Appointment
	err := t.tx.NewSelect().
		Model(&existing).
		Where("id = ?", appointmentID).
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Appointment{}, false, nil
	}
	if err != nil {
		return domain.Appointment{}, false, err
	}
	return existing, true, nil
}

func sameBooking(existing, appt domain.Appointment) bool {
	return existing.ClientID == appt.ClientID &&
		existing.StaffID == appt.StaffID &&
		existing.Notes == appt.Notes &&
		existing.StartTime.Equal(appt.StartTime) &&
		existing.EndTime.Equal(appt.EndTime)
}

func (t staffTx) UpdateAppointment(ctx context.Context, appt domain.Appointment) error {
	m := appt
	res, err := t.tx.NewUpdate().
		Model(&m).
		Column("status", "rescheduled_to_id", "notes", "updated_at").
		WherePK().
		Exec(ctx)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23P01" {
			return store.ErrConflict
		}
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}

func getUser(ctx context.Context, db bun.IDB, userID uuid.UUID) (domain.User, error) {
	var u domain.User
	err := db.NewSelect().
		Model(&u).
		Where("id = ?", userID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return domain.User{}, notFound(err)
	}
	return u, nil
}

func listAvailability(ctx context.Context, db bun.IDB, staffID uuid.UUID) ([]domain.Availability, error) {
	rows := make([]domain.Availability, 0)
	err := db.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		OrderExpr("specific_date ASC NULLS FIRST, day_of_week ASC, start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func listAvailabilityForDate(ctx context.Context, db bun.IDB, staffID uuid.UUID, date time.Time) ([]domain.Availability, error) {
	day := domain.DateOf(date)
	rows := make([]domain.Availability, 0)
	err := db.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		WhereGroup(" AND ", func(q *bun.SelectQuery) *bun.SelectQuery {
			return q.
				Where("specific_date = ?::date", day.Format(time.DateOnly)).
				WhereOr("(specific_date IS NULL AND day_of_week = ?)", domain.ISOWeekday(day))
		}).
		OrderExpr("start_minute ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func listScheduled(ctx context.Context, db bun.IDB, staffID uuid.UUID, windowStart, windowEnd time.Time) ([]domain.Appointment, error) {
	var rows []domain.Appointment
	err := db.NewSelect().
		Model(&rows).
		Where("staff_id = ?", staffID).
		Where("status = ?", domain.StatusScheduled).
		Where("start_time < ?", windowEnd).
		Where("end_time > ?", windowStart).
		OrderExpr("start_time ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}
