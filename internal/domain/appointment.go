package domain

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type AppointmentStatus string

const (
	StatusScheduled   AppointmentStatus = "scheduled"
	StatusCompleted   AppointmentStatus = "completed"
	StatusNoShow      AppointmentStatus = "no_show"
	StatusCancelled   AppointmentStatus = "cancelled"
	StatusRescheduled AppointmentStatus = "rescheduled"
)

var ErrInvalidTransition = errors.New("appointment not in Scheduled state")

func (s AppointmentStatus) Valid() bool {
	switch s {
	case StatusScheduled, StatusCompleted, StatusNoShow, StatusCancelled, StatusRescheduled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are allowed out of s.
func (s AppointmentStatus) Terminal() bool {
	return s.Valid() && s != StatusScheduled
}

// CanTransition reports whether from -> to is an edge of the appointment lifecycle.
// Scheduled is the only state with outgoing edges.
func CanTransition(from, to AppointmentStatus) bool {
	if from != StatusScheduled {
		return false
	}
	return to.Terminal()
}

type Appointment struct {
	bun.BaseModel `bun:"table:appointments"`

	ID                uuid.UUID         `bun:"id,pk,type:uuid"`
	StaffID           uuid.UUID         `bun:"staff_id,notnull,type:uuid"`
	ClientID          uuid.UUID         `bun:"client_id,notnull,type:uuid"`
	StartTime         time.Time         `bun:"start_time,notnull"`
	EndTime           time.Time         `bun:"end_time,notnull"`
	Status            AppointmentStatus `bun:"status,notnull"`
	RescheduledFromID *uuid.UUID        `bun:"rescheduled_from_id,type:uuid"`
	RescheduledToID   *uuid.UUID        `bun:"rescheduled_to_id,type:uuid"`
	Notes             string            `bun:"notes"`
	ReminderSentAt    *time.Time        `bun:"reminder_sent_at"`
	CreatedAt         time.Time         `bun:"created_at,notnull"`
	UpdatedAt         time.Time         `bun:"updated_at,notnull"`
}

// Transition moves the appointment to status to, or returns ErrInvalidTransition
// leaving it untouched.
func (a *Appointment) Transition(to AppointmentStatus) error {
	if !CanTransition(a.Status, to) {
		return ErrInvalidTransition
	}
	a.Status = to
	return nil
}

func (a Appointment) Active() bool {
	return a.Status == StatusScheduled
}

func (a *Appointment) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if a.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			a.ID = id
		}
		if a.Status == "" {
			a.Status = StatusScheduled
		}
		if a.CreatedAt.IsZero() {
			a.CreatedAt = now
		}
		if a.UpdatedAt.IsZero() {
			a.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		a.UpdatedAt = now
	}
	return nil
}
