package booking

import (
	"fmt"

	"github.com/google/uuid"

	"appointly/backend/internal/store"
)

type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string {
	return e.msg
}

func validationError(msg string) error {
	return &ValidationError{msg: msg}
}

// ConflictError reports that the requested interval overlaps a scheduled
// appointment of the same staff member. The caller should re-query slots.
type ConflictError struct {
	StaffID uuid.UUID
}

func (e *ConflictError) Error() string {
	return "time slot is not available"
}

func (e *ConflictError) Unwrap() error { return store.ErrConflict }

type BlockedClientError struct {
	ClientID uuid.UUID
}

func (e *BlockedClientError) Error() string {
	return "client is blocked from booking"
}

// PolicyViolationError reports an action attempted inside the cancellation window.
type PolicyViolationError struct {
	msg string
}

func (e *PolicyViolationError) Error() string {
	return e.msg
}

type UnauthorizedError struct {
	msg string
}

func (e *UnauthorizedError) Error() string {
	return e.msg
}

func unauthorized(msg string) error {
	return &UnauthorizedError{msg: msg}
}

type NotFoundError struct {
	Resource string
	ID       uuid.UUID
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

func (e *NotFoundError) Unwrap() error { return store.ErrNotFound }
