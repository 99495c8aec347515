package ports

import (
	"context"

	"github.com/tutorlink/auth-client/internal/core/domain"
)

// AuthResult is the token/user envelope returned by login and register.
type AuthResult struct {
	Tokens domain.TokenPair
	User   *domain.UserRecord
}

// RegisterInput carries the fields of a registration request.
type RegisterInput struct {
	FirstName  string          `json:"first_name" validate:"required"`
	FatherName string          `json:"father_name,omitempty"`
	Email      string          `json:"email" validate:"required,email"`
	Phone      string          `json:"phone,omitempty"`
	Password   string          `json:"password" validate:"required,min=8"`
	Role       domain.RoleName `json:"role" validate:"required"`
}

// BackendClient is the REST backend as seen by the session core.
// Protected calls inject the bearer token, retry exactly once after a
// successful refresh on 401, and return domain.ErrUnauthorized when the
// retry is rejected too.
type BackendClient interface {
	Login(ctx context.Context, username, password string) (*AuthResult, error)
	Register(ctx context.Context, input RegisterInput) (*AuthResult, error)
	// Me fetches the canonical current-user projection.
	Me(ctx context.Context) (*domain.UserRecord, error)
	// VerifyToken confirms the access token is still accepted and returns
	// the user projection the backend reports.
	VerifyToken(ctx context.Context) (*domain.UserRecord, error)
}
