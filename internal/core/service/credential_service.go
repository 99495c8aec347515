package service

import (
	"context"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/tutorlink/auth-client/internal/core/domain"
	"github.com/tutorlink/auth-client/internal/core/ports"
)

// CredentialService implements login, register and logout. It produces
// and destroys sessions through the SessionService and never performs
// navigation itself; the post-logout hook is the only UI touchpoint and
// only fires when the caller asks for it.
type CredentialService struct {
	session  *SessionService
	backend  ports.BackendClient
	validate *validator.Validate
	log      zerolog.Logger

	postLogout func()
}

type CredentialOption func(*CredentialService)

// WithPostLogoutHook registers the hook invoked by Logout when redirect
// is requested.
func WithPostLogoutHook(fn func()) CredentialOption {
	return func(c *CredentialService) { c.postLogout = fn }
}

func NewCredentialService(session *SessionService, backend ports.BackendClient, log zerolog.Logger, opts ...CredentialOption) *CredentialService {
	c := &CredentialService{
		session:  session,
		backend:  backend,
		validate: validator.New(),
		log:      log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login authenticates and establishes the session. An account scheduled
// for deletion surfaces as *domain.PendingDeletionError carrying the
// deletion metadata; no partial state is written on any failure.
func (c *CredentialService) Login(ctx context.Context, identifier, secret string) (*domain.UserRecord, error) {
	if identifier == "" || secret == "" {
		return nil, domain.ErrInvalidCredentials
	}

	result, err := c.backend.Login(ctx, identifier, secret)
	if err != nil {
		return nil, err
	}
	if err := c.session.Establish(ctx, result.User, result.Tokens); err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	user := c.session.CurrentUser()
	c.log.Info().Int64("user_id", user.ID).Str("active_role", string(user.ActiveRole)).Msg("login succeeded")
	return user, nil
}

// Register mirrors Login without the pending-deletion branch.
func (c *CredentialService) Register(ctx context.Context, input ports.RegisterInput) (*domain.UserRecord, error) {
	if err := c.validate.Struct(input); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidCredentials, err)
	}

	result, err := c.backend.Register(ctx, input)
	if err != nil {
		return nil, err
	}
	if err := c.session.Establish(ctx, result.User, result.Tokens); err != nil {
		return nil, fmt.Errorf("establish session: %w", err)
	}

	user := c.session.CurrentUser()
	c.log.Info().Int64("user_id", user.ID).Msg("registration succeeded")
	return user, nil
}

// Logout purges persisted and in-memory auth state unconditionally.
// redirect only controls whether the post-logout hook runs.
func (c *CredentialService) Logout(ctx context.Context, redirect bool) error {
	c.session.Clear(ctx)
	c.log.Info().Msg("logged out")
	if redirect && c.postLogout != nil {
		c.postLogout()
	}
	return nil
}
