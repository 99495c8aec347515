package ports

import "context"

// Storage keys. The names are part of the persisted contract and must
// round-trip exactly; token and access_token are a legacy duplicate pair
// that always hold the same value.
const (
	KeyToken               = "token"
	KeyAccessToken         = "access_token"
	KeyRefreshToken        = "refresh_token"
	KeyCurrentUser         = "currentUser"
	KeyUserRole            = "userRole"
	KeyRoleSwitchTimestamp = "role_switch_timestamp"
	KeyRoleSwitchTarget    = "role_switch_target"
)

// SessionKeys lists every key the session lifecycle owns, in the order
// they are purged on logout.
var SessionKeys = []string{
	KeyToken,
	KeyAccessToken,
	KeyRefreshToken,
	KeyCurrentUser,
	KeyUserRole,
	KeyRoleSwitchTimestamp,
	KeyRoleSwitchTarget,
}

// SessionStore is durable key/value storage for session data. Individual
// Get/Set/Delete calls are atomic; multi-key writes are not, so callers
// follow the write-ordering rules of the session services.
type SessionStore interface {
	// Get returns the stored value and whether the key was present.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}
