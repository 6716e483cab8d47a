package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type Role string

const (
	RoleClient Role = "client"
	RoleStaff  Role = "staff"
	RoleAdmin  Role = "admin"
)

func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleStaff, RoleAdmin:
		return true
	}
	return false
}

// NoShowBlockThreshold is the no-show count at which a client is blocked from booking.
const NoShowBlockThreshold = 3

type User struct {
	bun.BaseModel `bun:"table:users"`

	ID          uuid.UUID `bun:"id,pk,type:uuid"`
	Email       string    `bun:"email,notnull"`
	FullName    string    `bun:"full_name"`
	Role        Role      `bun:"role,notnull"`
	NoShowCount int       `bun:"no_show_count,notnull"`
	IsBlocked   bool      `bun:"is_blocked,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

// WithNoShows returns u with n more no-shows recorded and the blocking flag
// recomputed from the threshold.
func (u User) WithNoShows(n int) User {
	u.NoShowCount += n
	u.IsBlocked = u.NoShowCount >= NoShowBlockThreshold
	return u
}

func (u *User) BeforeAppendModel(ctx context.Context, query bun.Query) error {
	now := time.Now().UTC()
	switch query.(type) {
	case *bun.InsertQuery:
		if u.ID == uuid.Nil {
			id, err := uuid.NewV7()
			if err != nil {
				return err
			}
			u.ID = id
		}
		if u.CreatedAt.IsZero() {
			u.CreatedAt = now
		}
		if u.UpdatedAt.IsZero() {
			u.UpdatedAt = now
		}
	case *bun.UpdateQuery:
		u.UpdatedAt = now
	}
	return nil
}

// Actor is the authenticated caller of a core operation.
type Actor struct {
	UserID uuid.UUID
	Role   Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// IsClientOf reports whether the actor is the client of appt.
func (a Actor) IsClientOf(appt Appointment) bool {
	return a.Role == RoleClient && a.UserID == appt.ClientID
}

// IsStaffOf reports whether the actor is the staff member assigned to appt.
func (a Actor) IsStaffOf(appt Appointment) bool {
	return a.Role == RoleStaff && a.UserID == appt.StaffID
}
