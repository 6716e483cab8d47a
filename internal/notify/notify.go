// Package notify delivers booking lifecycle events to the notification
// collaborator. Delivery is fire-and-forget: a Notifier never reports failure
// to its caller and never blocks a booking on a slow broker.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"appointly/backend/internal/domain"
)

type EventType string

const (
	EventConfirmed     EventType = "appointment.confirmed"
	EventBooked        EventType = "appointment.booked"
	EventRescheduled   EventType = "appointment.rescheduled"
	EventCancelled     EventType = "appointment.cancelled"
	EventStatusChanged EventType = "appointment.status_changed"
	EventReminder      EventType = "appointment.reminder"
)

// Event is one message for one recipient.
type Event struct {
	ID          uuid.UUID                `json:"event_id"`
	Type        EventType                `json:"event_type"`
	RecipientID uuid.UUID                `json:"recipient_id"`
	Appointment AppointmentRef           `json:"appointment"`
	PreviousID  *uuid.UUID               `json:"previous_appointment_id,omitempty"`
	Reason      string                   `json:"reason,omitempty"`
	OccurredAt  time.Time                `json:"occurred_at"`
	Status      domain.AppointmentStatus `json:"status"`
}

type AppointmentRef struct {
	ID        uuid.UUID `json:"id"`
	StaffID   uuid.UUID `json:"staff_id"`
	ClientID  uuid.UUID `json:"client_id"`
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

// NewEvent builds an event about appt addressed to recipient.
func NewEvent(typ EventType, recipient uuid.UUID, appt domain.Appointment, at time.Time) Event {
	return Event{
		ID:          uuid.Must(uuid.NewV7()),
		Type:        typ,
		RecipientID: recipient,
		Appointment: AppointmentRef{
			ID:        appt.ID,
			StaffID:   appt.StaffID,
			ClientID:  appt.ClientID,
			StartTime: appt.StartTime,
			EndTime:   appt.EndTime,
		},
		PreviousID: appt.RescheduledFromID,
		OccurredAt: at.UTC(),
		Status:     appt.Status,
	}
}

type Notifier interface {
	Notify(ctx context.Context, ev Event)
}

// Multi fans an event out to every notifier in order.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, ev Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

func (Discard) Notify(context.Context, Event) {}
