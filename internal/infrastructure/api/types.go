package api

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tutorlink/auth-client/internal/core/domain"
)

// tokenEnvelope is the wire shape of login and register responses.
type tokenEnvelope struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	User         apiUser `json:"user"`
}

// refreshResponse is the wire shape of refresh responses. Only the
// access token rotates; the refresh token stays as issued.
type refreshResponse struct {
	AccessToken string `json:"access_token"`
}

// verifyResponse is the wire shape of verify-token responses.
type verifyResponse struct {
	User apiUser `json:"user"`
}

// apiUser is the backend's user projection.
type apiUser struct {
	ID            int64            `json:"id"`
	FirstName     string           `json:"first_name"`
	FatherName    string           `json:"father_name"`
	Email         string           `json:"email"`
	Phone         string           `json:"phone"`
	ActiveRole    string           `json:"active_role"`
	Role          string           `json:"role"`
	Roles         []string         `json:"roles"`
	RoleIDs       map[string]int64 `json:"role_ids"`
	EmailVerified bool             `json:"email_verified"`
	PhoneVerified bool             `json:"phone_verified"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (u apiUser) toDomain() *domain.UserRecord {
	rec := &domain.UserRecord{
		ID:            u.ID,
		FirstName:     u.FirstName,
		FatherName:    u.FatherName,
		Email:         u.Email,
		Phone:         u.Phone,
		Role:          domain.RoleName(u.Role),
		ActiveRole:    domain.RoleName(u.ActiveRole),
		EmailVerified: u.EmailVerified,
		PhoneVerified: u.PhoneVerified,
		CreatedAt:     u.CreatedAt,
	}
	for _, r := range u.Roles {
		rec.Roles = append(rec.Roles, domain.RoleName(r))
	}
	if len(u.RoleIDs) > 0 {
		rec.RoleIDs = make(map[domain.RoleName]int64, len(u.RoleIDs))
		for role, id := range u.RoleIDs {
			rec.RoleIDs[domain.RoleName(role)] = id
		}
	}
	rec.NormalizeRoles()
	return rec
}

// errorCodePendingDeletion is the distinguished login rejection for
// accounts scheduled for deletion.
const errorCodePendingDeletion = "ACCOUNT_PENDING_DELETION"

// apiError is the backend's error envelope.
type apiError struct {
	Detail errorDetail `json:"detail"`
}

type errorDetail struct {
	ErrorCode           string `json:"error_code"`
	Message             string `json:"message"`
	DeletionRequestedAt string `json:"deletion_requested_at"`
	DeletionScheduledAt string `json:"deletion_scheduled_at"`
	DaysRemaining       int    `json:"days_remaining"`
}

// statusError reports a non-2xx backend response with its raw body, so
// callers can branch on distinguished error codes.
type statusError struct {
	status int
	body   []byte
}

func (e *statusError) Error() string {
	return fmt.Sprintf("backend returned status %d", e.status)
}

// detail decodes the error envelope, tolerating absent or non-JSON
// bodies.
func (e *statusError) detail() errorDetail {
	var env apiError
	_ = json.Unmarshal(e.body, &env)
	return env.Detail
}
