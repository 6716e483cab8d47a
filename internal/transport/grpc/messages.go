package grpc

import (
	"time"

	"appointly/backend/internal/domain"
)

type Slot struct {
	StartTime time.Time `json:"start_time"`
	EndTime   time.Time `json:"end_time"`
}

type Appointment struct {
	ID                string    `json:"id"`
	StaffID           string    `json:"staff_id"`
	ClientID          string    `json:"client_id"`
	StartTime         time.Time `json:"start_time"`
	EndTime           time.Time `json:"end_time"`
	Status            string    `json:"status"`
	RescheduledFromID string    `json:"rescheduled_from_id,omitempty"`
	RescheduledToID   string    `json:"rescheduled_to_id,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

type Availability struct {
	ID           string `json:"id"`
	StaffID      string `json:"staff_id"`
	DayOfWeek    int16  `json:"day_of_week,omitempty"`
	SpecificDate string `json:"specific_date,omitempty"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type ListAvailableSlotsRequest struct {
	StaffID         string `json:"staff_id"`
	Date            string `json:"date"`
	DurationMinutes int    `json:"duration_minutes"`
}

type ListAvailableSlotsResponse struct {
	Slots []Slot `json:"slots"`
}

type BookAppointmentRequest struct {
	ClientID  string     `json:"client_id"`
	StaffID   string     `json:"staff_id"`
	StartTime *time.Time `json:"start_time"`
	EndTime   *time.Time `json:"end_time"`
	Notes     string     `json:"notes,omitempty"`
}

type RescheduleAppointmentRequest struct {
	AppointmentID string     `json:"appointment_id"`
	StartTime     *time.Time `json:"start_time"`
	EndTime       *time.Time `json:"end_time"`
	Reason        string     `json:"reason,omitempty"`
}

type ChangeStatusRequest struct {
	AppointmentID string `json:"appointment_id"`
	Status        string `json:"status"`
}

type GetAppointmentRequest struct {
	AppointmentID string `json:"appointment_id"`
}

type AppointmentResponse struct {
	Appointment Appointment `json:"appointment"`
}

type ListAppointmentsRequest struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

type ListAppointmentsResponse struct {
	Appointments []Appointment `json:"appointments"`
}

// CreateAvailabilityRequest takes times as "HH:MM"; "24:00" closes a window at
// midnight.
type CreateAvailabilityRequest struct {
	StaffID      string `json:"staff_id"`
	DayOfWeek    int16  `json:"day_of_week,omitempty"`
	SpecificDate string `json:"specific_date,omitempty"`
	StartTime    string `json:"start_time"`
	EndTime      string `json:"end_time"`
}

type AvailabilityResponse struct {
	Availability Availability `json:"availability"`
}

type ListAvailabilityRequest struct {
	StaffID string `json:"staff_id"`
}

type ListAvailabilityResponse struct {
	Availability []Availability `json:"availability"`
}

func toAppointment(a domain.Appointment) Appointment {
	out := Appointment{
		ID:        a.ID.String(),
		StaffID:   a.StaffID.String(),
		ClientID:  a.ClientID.String(),
		StartTime: a.StartTime.UTC(),
		EndTime:   a.EndTime.UTC(),
		Status:    string(a.Status),
		Notes:     a.Notes,
		CreatedAt: a.CreatedAt.UTC(),
		UpdatedAt: a.UpdatedAt.UTC(),
	}
	if a.RescheduledFromID != nil {
		out.RescheduledFromID = a.RescheduledFromID.String()
	}
	if a.RescheduledToID != nil {
		out.RescheduledToID = a.RescheduledToID.String()
	}
	return out
}

func toAvailability(a domain.Availability) Availability {
	out := Availability{
		ID:        a.ID.String(),
		StaffID:   a.StaffID.String(),
		StartTime: formatClock(a.StartMinute),
		EndTime:   formatClock(a.EndMinute),
	}
	if a.DayOfWeek != nil {
		out.DayOfWeek = *a.DayOfWeek
	}
	if a.SpecificDate != nil {
		out.SpecificDate = a.SpecificDate.Format(time.DateOnly)
	}
	return out
}
