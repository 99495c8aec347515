// Package api is the authenticated gateway to the tutoring backend. It
// injects the bearer token on protected calls, retries exactly once
// after a successful token refresh on 401, and collapses concurrent
// refresh attempts into a single in-flight call.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tutorlink/auth-client/internal/core/domain"
	"github.com/tutorlink/auth-client/internal/core/ports"
	"github.com/tutorlink/auth-client/internal/pkg/metrics"
)

const defaultTimeout = 15 * time.Second

type Client struct {
	baseURL string
	hc      *http.Client
	store   ports.SessionStore
	log     zerolog.Logger

	// refreshGroup shares one in-flight refresh across concurrent 401s
	// instead of letting every caller race its own refresh.
	refreshGroup singleflight.Group

	onSessionExpired func()
}

type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.hc = hc }
}

// WithSessionExpiredHandler registers a callback invoked after the
// refresh token is rejected and local auth state has been purged.
func WithSessionExpiredHandler(fn func()) Option {
	return func(c *Client) { c.onSessionExpired = fn }
}

// SetSessionExpiredHandler wires the handler after construction, for
// call sites where the session manager is built on top of the client.
func (c *Client) SetSessionExpiredHandler(fn func()) {
	c.onSessionExpired = fn
}

func NewClient(baseURL string, store ports.SessionStore, log zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: defaultTimeout},
		store:   store,
		log:     log,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Login exchanges credentials for a token/user envelope. The endpoint is
// form-encoded for historical reasons.
func (c *Client) Login(ctx context.Context, username, password string) (*ports.AuthResult, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	var env tokenEnvelope
	err := c.do(ctx, http.MethodPost, "/api/login", "application/x-www-form-urlencoded", []byte(form.Encode()), &env, false)
	if err != nil {
		var se *statusError
		if errors.As(err, &se) {
			if se.status == http.StatusForbidden {
				if d := se.detail(); d.ErrorCode == errorCodePendingDeletion {
					return nil, &domain.PendingDeletionError{
						RequestedAt:   d.DeletionRequestedAt,
						ScheduledAt:   d.DeletionScheduledAt,
						DaysRemaining: d.DaysRemaining,
					}
				}
			}
			if se.status == http.StatusUnauthorized || se.status == http.StatusBadRequest || se.status == http.StatusNotFound {
				return nil, domain.ErrInvalidCredentials
			}
		}
		return nil, err
	}

	return &ports.AuthResult{
		Tokens: domain.TokenPair{AccessToken: env.AccessToken, RefreshToken: env.RefreshToken},
		User:   env.User.toDomain(),
	}, nil
}

// Register creates an account and returns the same envelope as login.
// There is no pending-deletion branch here.
func (c *Client) Register(ctx context.Context, input ports.RegisterInput) (*ports.AuthResult, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("encode register payload: %w", err)
	}

	var env tokenEnvelope
	if err := c.do(ctx, http.MethodPost, "/api/register", "application/json", body, &env, false); err != nil {
		var se *statusError
		if errors.As(err, &se) && (se.status == http.StatusBadRequest || se.status == http.StatusConflict || se.status == http.StatusUnprocessableEntity) {
			return nil, fmt.Errorf("%w: %s", domain.ErrInvalidCredentials, se.detail().Message)
		}
		return nil, err
	}

	return &ports.AuthResult{
		Tokens: domain.TokenPair{AccessToken: env.AccessToken, RefreshToken: env.RefreshToken},
		User:   env.User.toDomain(),
	}, nil
}

// Me fetches the canonical current-user projection.
func (c *Client) Me(ctx context.Context) (*domain.UserRecord, error) {
	var u apiUser
	if err := c.do(ctx, http.MethodGet, "/api/me", "", nil, &u, true); err != nil {
		return nil, err
	}
	return u.toDomain(), nil
}

// VerifyToken confirms the access token is still accepted.
func (c *Client) VerifyToken(ctx context.Context) (*domain.UserRecord, error) {
	var resp verifyResponse
	if err := c.do(ctx, http.MethodGet, "/api/verify-token", "", nil, &resp, true); err != nil {
		return nil, err
	}
	return resp.User.toDomain(), nil
}

// do issues one request, and for protected calls performs the single
// refresh-and-retry cycle on 401. The body is kept as bytes so the
// retry can replay it.
func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte, out any, authed bool) error {
	status, respBody, err := c.send(ctx, method, path, contentType, body, authed)
	if err != nil {
		return err
	}

	if status == http.StatusUnauthorized && authed {
		if err := c.refreshAccessToken(ctx); err != nil {
			if errors.Is(err, domain.ErrRefreshTokenExpired) {
				return err
			}
			// Refresh failed for a transient reason: keep the current
			// token and let the caller retry later.
			return fmt.Errorf("refresh after 401: %w", err)
		}

		metrics.RetriesTotal.Inc()
		status, respBody, err = c.send(ctx, method, path, contentType, body, authed)
		if err != nil {
			return err
		}
		if status == http.StatusUnauthorized {
			return domain.ErrUnauthorized
		}
	}

	if status < 200 || status > 299 {
		return &statusError{status: status, body: respBody}
	}
	if out != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path, contentType string, body []byte, authed bool) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("build request %s: %w", path, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	if authed {
		tok, err := c.accessToken(ctx)
		if err != nil {
			return 0, nil, err
		}
		if tok == "" {
			return 0, nil, domain.ErrNotAuthenticated
		}
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.hc.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("read %s response: %w", path, err)
	}

	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Str("request_id", req.Header.Get("X-Request-ID")).
		Msg("backend call")

	return resp.StatusCode, respBody, nil
}

// refreshAccessToken exchanges the persisted refresh token for a new
// access token and rewrites both legacy storage aliases. Concurrent
// callers share a single in-flight attempt.
func (c *Client) refreshAccessToken(ctx context.Context) error {
	_, err, _ := c.refreshGroup.Do("refresh", func() (any, error) {
		rt, ok, err := c.store.Get(ctx, ports.KeyRefreshToken)
		if err != nil {
			return nil, fmt.Errorf("read refresh token: %w", err)
		}
		if !ok || rt == "" {
			metrics.RefreshTotal.WithLabelValues("expired").Inc()
			c.expireSession(ctx)
			return nil, domain.ErrRefreshTokenExpired
		}

		payload, _ := json.Marshal(map[string]string{"refresh_token": rt})
		status, body, err := c.send(ctx, http.MethodPost, "/api/refresh", "application/json", payload, false)
		if err != nil {
			metrics.RefreshTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		if status == http.StatusUnauthorized {
			// The refresh token itself has expired: purge local auth
			// state. Navigation stays with the caller.
			metrics.RefreshTotal.WithLabelValues("expired").Inc()
			c.expireSession(ctx)
			return nil, domain.ErrRefreshTokenExpired
		}
		if status < 200 || status > 299 {
			metrics.RefreshTotal.WithLabelValues("error").Inc()
			return nil, &statusError{status: status, body: body}
		}

		var resp refreshResponse
		if err := json.Unmarshal(body, &resp); err != nil {
			metrics.RefreshTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("decode refresh response: %w", err)
		}
		if err := c.store.Set(ctx, ports.KeyToken, resp.AccessToken); err != nil {
			return nil, fmt.Errorf("persist access token: %w", err)
		}
		if err := c.store.Set(ctx, ports.KeyAccessToken, resp.AccessToken); err != nil {
			return nil, fmt.Errorf("persist access token alias: %w", err)
		}

		metrics.RefreshTotal.WithLabelValues("success").Inc()
		c.log.Info().Msg("access token refreshed")
		return nil, nil
	})
	return err
}

// accessToken reads the bearer token, honouring both legacy aliases.
func (c *Client) accessToken(ctx context.Context) (string, error) {
	tok, ok, err := c.store.Get(ctx, ports.KeyToken)
	if err != nil {
		return "", fmt.Errorf("read access token: %w", err)
	}
	if !ok || tok == "" {
		tok, _, err = c.store.Get(ctx, ports.KeyAccessToken)
		if err != nil {
			return "", fmt.Errorf("read access token alias: %w", err)
		}
	}
	return tok, nil
}

func (c *Client) expireSession(ctx context.Context) {
	for _, key := range ports.SessionKeys {
		if err := c.store.Delete(ctx, key); err != nil {
			c.log.Warn().Err(err).Str("key", key).Msg("failed to purge session key")
		}
	}
	c.log.Info().Msg("session expired, local auth state purged")
	if c.onSessionExpired != nil {
		c.onSessionExpired()
	}
}
