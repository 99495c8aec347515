package ports

import (
	"context"

	"github.com/tutorlink/auth-client/internal/core/domain"
)

// Event names emitted by the session manager for dependent UI.
type Event string

const (
	EventRoleUpdated    Event = "role_updated"
	EventUserDataLoaded Event = "user_data_loaded"
	EventLoggedOut      Event = "logged_out"
)

// SessionManager owns the authenticated identity across restores,
// refreshes and role switches.
type SessionManager interface {
	// Restore rebuilds the session from persisted storage. It returns
	// false when no (or corrupted) session data is present. Profile and
	// token verification sync run in the background; subscribe to events
	// for authoritative freshness.
	Restore(ctx context.Context) (bool, error)

	CurrentUser() *domain.UserRecord
	ActiveRole() domain.RoleName
	AccessToken() string
	IsAuthenticated() bool
	// RoleID returns the per-role profile identifier, when known.
	RoleID(role domain.RoleName) (int64, bool)

	// SwitchRole initiates a role switch: it persists the new active role
	// together with the grace-period marker the next Restore reconciles.
	SwitchRole(ctx context.Context, role domain.RoleName) error

	// FetchUserData refetches the canonical profile. Concurrent calls
	// collapse into a single outbound request.
	FetchUserData(ctx context.Context) (*domain.UserRecord, error)

	// VerifyToken checks the access token against the backend. Network
	// failures are treated optimistically and report true.
	VerifyToken(ctx context.Context) (bool, error)

	// Subscribe registers a notification callback and returns its
	// unsubscribe function.
	Subscribe(fn func(Event, *domain.UserRecord)) (unsubscribe func())
}

// CredentialFlows produce and destroy sessions.
type CredentialFlows interface {
	Login(ctx context.Context, identifier, secret string) (*domain.UserRecord, error)
	Register(ctx context.Context, input RegisterInput) (*domain.UserRecord, error)
	// Logout purges persisted and in-memory state unconditionally;
	// redirect additionally invokes the configured post-logout hook.
	Logout(ctx context.Context, redirect bool) error
}
