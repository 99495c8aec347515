package domain

import "time"

// RoleSwitchGraceWindow bounds how long a just-written role-switch
// marker overrides stale persisted session data.
const RoleSwitchGraceWindow = 10 * time.Second

// TokenPair carries the credentials returned by login, register and
// refresh. The access token is short-lived, the refresh token is not.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// SessionState is the in-memory representation of the authenticated
// identity. An access token is only usable together with a user record;
// the two are persisted as a unit.
type SessionState struct {
	AccessToken string
	User        *UserRecord
}

// RoleSwitchMarker records that a role switch was initiated elsewhere in
// the app. It is consumed on the next session restore: applied while the
// grace window is open, discarded once it has elapsed.
type RoleSwitchMarker struct {
	TargetRole RoleName
	SwitchedAt time.Time
}

// Expired reports whether the grace window has elapsed at the given time.
func (m RoleSwitchMarker) Expired(now time.Time, window time.Duration) bool {
	return now.Sub(m.SwitchedAt) >= window
}
