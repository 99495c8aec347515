package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidCredentials is returned when login or register inputs are
	// rejected, either locally or by the backend.
	ErrInvalidCredentials = errors.New("invalid credentials")

	// ErrUnauthorized is returned when a protected call is still rejected
	// after one refresh-and-retry cycle. The caller decides whether this
	// means logout.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRefreshTokenExpired is returned when the refresh endpoint itself
	// rejects the refresh token. Local auth state has been purged by the
	// time callers see it.
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrNotAuthenticated is returned by operations that require an
	// established session when none exists.
	ErrNotAuthenticated = errors.New("not authenticated")

	// ErrCorruptedState marks unparseable persisted session data. The
	// offending key is purged before this is reported.
	ErrCorruptedState = errors.New("corrupted persisted session state")

	// ErrRoleNotHeld is returned when a role switch targets a role the
	// user does not hold.
	ErrRoleNotHeld = errors.New("role not held by user")
)

// PendingDeletionError is the distinguished login rejection for accounts
// scheduled for deletion. It carries the deletion metadata the backend
// reports so the caller can offer account recovery.
type PendingDeletionError struct {
	RequestedAt   string
	ScheduledAt   string
	DaysRemaining int
}

func (e *PendingDeletionError) Error() string {
	return fmt.Sprintf("account pending deletion (scheduled %s, %d days remaining)", e.ScheduledAt, e.DaysRemaining)
}
