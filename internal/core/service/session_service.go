package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/tutorlink/auth-client/internal/core/domain"
	"github.com/tutorlink/auth-client/internal/core/ports"
	"github.com/tutorlink/auth-client/internal/pkg/metrics"
	"github.com/tutorlink/auth-client/internal/pkg/token"
)

// SessionService owns the authenticated identity: it restores it from
// persisted storage at startup, reconciles role switches within the
// grace window, and keeps the persisted and in-memory copies in step.
//
// Construct exactly one per application and pass it to consumers; the
// zero value is not usable.
type SessionService struct {
	store   ports.SessionStore
	backend ports.BackendClient
	log     zerolog.Logger

	graceWindow time.Duration
	now         func() time.Time

	mu    sync.RWMutex
	state *domain.SessionState

	// fetchGroup collapses concurrent profile fetches into one request.
	fetchGroup singleflight.Group

	subMu   sync.Mutex
	subs    map[int]func(ports.Event, *domain.UserRecord)
	nextSub int
}

type SessionOption func(*SessionService)

// WithGraceWindow overrides the role-switch grace window.
func WithGraceWindow(d time.Duration) SessionOption {
	return func(s *SessionService) { s.graceWindow = d }
}

// WithClock injects the time source. Test use only.
func WithClock(now func() time.Time) SessionOption {
	return func(s *SessionService) { s.now = now }
}

func NewSessionService(store ports.SessionStore, backend ports.BackendClient, log zerolog.Logger, opts ...SessionOption) *SessionService {
	s := &SessionService{
		store:       store,
		backend:     backend,
		log:         log,
		graceWindow: domain.RoleSwitchGraceWindow,
		now:         time.Now,
		subs:        make(map[int]func(ports.Event, *domain.UserRecord)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Restore rebuilds the session from persisted storage. Corrupted user
// data is purged and reported as an unauthenticated start, never as a
// crash. Profile sync and token verification run in the background;
// network trouble there does not deauthenticate.
func (s *SessionService) Restore(ctx context.Context) (bool, error) {
	accessToken, err := s.readAccessToken(ctx)
	if err != nil {
		return false, err
	}
	rawUser, hasUser, err := s.store.Get(ctx, ports.KeyCurrentUser)
	if err != nil {
		return false, err
	}
	if accessToken == "" || !hasUser || rawUser == "" {
		metrics.RestoreTotal.WithLabelValues("unauthenticated").Inc()
		return false, nil
	}

	var user domain.UserRecord
	if err := json.Unmarshal([]byte(rawUser), &user); err != nil {
		// Corruption is never silently trusted: purge and start clean.
		_ = s.store.Delete(ctx, ports.KeyCurrentUser)
		metrics.RestoreTotal.WithLabelValues("corrupted").Inc()
		s.log.Warn().Err(fmt.Errorf("%w: %v", domain.ErrCorruptedState, err)).Msg("purged corrupted persisted user record")
		return false, nil
	}
	user.NormalizeRoles()

	markerApplied, err := s.reconcileRoleSwitch(ctx, &user)
	if err != nil {
		return false, err
	}
	if !markerApplied {
		if err := s.syncRoleFromStore(ctx, &user); err != nil {
			return false, err
		}
	}

	s.mu.Lock()
	s.state = &domain.SessionState{AccessToken: accessToken, User: &user}
	s.mu.Unlock()

	if markerApplied {
		s.emit(ports.EventRoleUpdated, user.Clone())
	}

	if len(user.RoleIDs) == 0 {
		bg := context.WithoutCancel(ctx)
		go func() {
			if _, err := s.FetchUserData(bg); err != nil {
				s.log.Warn().Err(err).Msg("background profile fetch failed")
			}
		}()
	}
	go func(bg context.Context) {
		if ok, _ := s.VerifyToken(bg); !ok {
			s.log.Warn().Msg("persisted access token no longer valid")
		}
	}(context.WithoutCancel(ctx))

	metrics.RestoreTotal.WithLabelValues("restored").Inc()
	s.log.Info().Int64("user_id", user.ID).Str("active_role", string(user.ActiveRole)).Msg("session restored")
	return true, nil
}

// reconcileRoleSwitch applies a live role-switch marker, forcing the
// target role over whatever the persisted user record says. The marker
// is deliberately left in place while the grace window is open so
// repeated restores reconcile identically; only expiry deletes it.
func (s *SessionService) reconcileRoleSwitch(ctx context.Context, user *domain.UserRecord) (bool, error) {
	marker, err := s.readMarker(ctx)
	if err != nil || marker == nil {
		return false, err
	}

	if marker.Expired(s.now(), s.graceWindow) {
		_ = s.store.Delete(ctx, ports.KeyRoleSwitchTimestamp)
		_ = s.store.Delete(ctx, ports.KeyRoleSwitchTarget)
		return false, nil
	}

	user.SetActiveRole(marker.TargetRole)
	if err := s.store.Set(ctx, ports.KeyUserRole, string(marker.TargetRole)); err != nil {
		return false, err
	}
	if err := s.persistUser(ctx, user); err != nil {
		return false, err
	}

	metrics.RoleSwitchAppliedTotal.Inc()
	s.log.Info().Str("target_role", string(marker.TargetRole)).Msg("role switch applied within grace window")
	return true, nil
}

// syncRoleFromStore makes the persisted userRole key authoritative when
// no grace period is active, deriving and writing it back when absent.
func (s *SessionService) syncRoleFromStore(ctx context.Context, user *domain.UserRecord) error {
	stored, ok, err := s.store.Get(ctx, ports.KeyUserRole)
	if err != nil {
		return err
	}
	if ok && validRoleValue(stored) {
		user.SetActiveRole(domain.RoleName(stored))
		return nil
	}

	derived := user.ActiveRole
	if derived == "" {
		derived = user.Role
	}
	if derived == "" {
		derived = user.FirstRole()
	}
	if derived == "" {
		// Data-integrity failure: a persisted session with no role
		// information anywhere. Proceed without an active role.
		s.log.Error().Int64("user_id", user.ID).Msg("persisted session has no role information")
		return nil
	}
	user.SetActiveRole(derived)
	return s.store.Set(ctx, ports.KeyUserRole, string(derived))
}

// Establish installs a freshly authenticated session and persists the
// token pair and user record as a unit. On a partial write failure all
// auth keys are purged so storage never holds tokens without a user.
func (s *SessionService) Establish(ctx context.Context, user *domain.UserRecord, tokens domain.TokenPair) error {
	user = user.Clone()
	user.NormalizeRoles()

	active := user.ActiveRole
	if active == "" {
		active = user.Role
	}
	if active == "" {
		active = user.FirstRole()
	}
	user.SetActiveRole(active)

	if len(user.RoleIDs) == 0 {
		if claims := token.Decode(tokens.AccessToken); claims != nil && len(claims.RoleIDs) > 0 {
			user.RoleIDs = claims.RoleIDs
		}
	}

	if err := s.persistSession(ctx, user, tokens); err != nil {
		s.purgeKeys(ctx)
		return err
	}

	s.mu.Lock()
	s.state = &domain.SessionState{AccessToken: tokens.AccessToken, User: user}
	s.mu.Unlock()

	s.emit(ports.EventUserDataLoaded, user.Clone())
	return nil
}

func (s *SessionService) persistSession(ctx context.Context, user *domain.UserRecord, tokens domain.TokenPair) error {
	// User first: a token without a user record restores as logged out,
	// the reverse would not.
	if err := s.persistUser(ctx, user); err != nil {
		return err
	}
	if err := s.store.Set(ctx, ports.KeyToken, tokens.AccessToken); err != nil {
		return err
	}
	if err := s.store.Set(ctx, ports.KeyAccessToken, tokens.AccessToken); err != nil {
		return err
	}
	if err := s.store.Set(ctx, ports.KeyRefreshToken, tokens.RefreshToken); err != nil {
		return err
	}
	return s.store.Set(ctx, ports.KeyUserRole, string(user.ActiveRole))
}

// FetchUserData refetches the canonical profile and merges it over the
// current record. Concurrent calls collapse into one outbound request.
// Failures are returned to the caller but never log the user out.
func (s *SessionService) FetchUserData(ctx context.Context) (*domain.UserRecord, error) {
	v, err, _ := s.fetchGroup.Do("fetch_user_data", func() (any, error) {
		fresh, err := s.backend.Me(ctx)
		if err != nil {
			metrics.ProfileFetchTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		merged, err := s.mergeUser(ctx, fresh)
		if err != nil {
			metrics.ProfileFetchTotal.WithLabelValues("error").Inc()
			return nil, err
		}
		metrics.ProfileFetchTotal.WithLabelValues("success").Inc()
		s.emit(ports.EventUserDataLoaded, merged.Clone())
		return merged, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*domain.UserRecord).Clone(), nil
}

// VerifyToken confirms the access token against the backend. A definite
// 401 (after the gateway's refresh cycle) reports false; connectivity
// problems report true so offline users are not punished.
func (s *SessionService) VerifyToken(ctx context.Context) (bool, error) {
	if s.AccessToken() == "" {
		return false, domain.ErrNotAuthenticated
	}

	fresh, err := s.backend.VerifyToken(ctx)
	switch {
	case err == nil:
		if _, mergeErr := s.mergeUser(ctx, fresh); mergeErr != nil {
			s.log.Warn().Err(mergeErr).Msg("failed to persist verified user record")
		}
		return true, nil
	case errors.Is(err, domain.ErrUnauthorized), errors.Is(err, domain.ErrRefreshTokenExpired):
		return false, nil
	default:
		s.log.Warn().Err(err).Msg("token verification unreachable, keeping session")
		return true, nil
	}
}

// SwitchRole initiates a role switch: it validates membership, updates
// the in-memory record, and writes the userRole value plus the marker
// pair the next Restore reconciles within the grace window.
func (s *SessionService) SwitchRole(ctx context.Context, role domain.RoleName) error {
	s.mu.Lock()
	if s.state == nil || s.state.User == nil {
		s.mu.Unlock()
		return domain.ErrNotAuthenticated
	}
	if !s.state.User.HasRole(role) {
		s.mu.Unlock()
		return domain.ErrRoleNotHeld
	}
	s.state.User.SetActiveRole(role)
	snapshot := s.state.User.Clone()
	s.mu.Unlock()

	if err := s.store.Set(ctx, ports.KeyUserRole, string(role)); err != nil {
		return err
	}
	// Target before timestamp: a reader that sees the timestamp must be
	// able to resolve the target.
	if err := s.store.Set(ctx, ports.KeyRoleSwitchTarget, string(role)); err != nil {
		return err
	}
	ts := strconv.FormatInt(s.now().UnixMilli(), 10)
	if err := s.store.Set(ctx, ports.KeyRoleSwitchTimestamp, ts); err != nil {
		return err
	}
	if err := s.persistUser(ctx, snapshot); err != nil {
		return err
	}

	s.emit(ports.EventRoleUpdated, snapshot)
	s.log.Info().Str("role", string(role)).Msg("role switch initiated")
	return nil
}

// Clear purges all persisted auth keys and the in-memory state.
func (s *SessionService) Clear(ctx context.Context) {
	s.purgeKeys(ctx)
	s.InvalidateLocalSession()
}

// InvalidateLocalSession drops the in-memory session only. The gateway
// calls this after purging storage on refresh-token expiry.
func (s *SessionService) InvalidateLocalSession() {
	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()
	s.emit(ports.EventLoggedOut, nil)
}

func (s *SessionService) CurrentUser() *domain.UserRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return nil
	}
	return s.state.User.Clone()
}

func (s *SessionService) ActiveRole() domain.RoleName {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil || s.state.User == nil {
		return ""
	}
	return s.state.User.ActiveRole
}

func (s *SessionService) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil {
		return ""
	}
	return s.state.AccessToken
}

func (s *SessionService) IsAuthenticated() bool {
	return s.AccessToken() != ""
}

// RoleID returns the per-role profile identifier, when known.
func (s *SessionService) RoleID(role domain.RoleName) (int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil || s.state.User == nil {
		return 0, false
	}
	id, ok := s.state.User.RoleIDs[role]
	return id, ok
}

// ActiveRoleID returns the profile identifier of the active role.
func (s *SessionService) ActiveRoleID() (int64, bool) {
	return s.RoleID(s.ActiveRole())
}

// Subscribe registers a notification callback, returning its
// unsubscribe function. Callbacks run synchronously on the emitting
// goroutine and receive a private copy of the user record.
func (s *SessionService) Subscribe(fn func(ports.Event, *domain.UserRecord)) func() {
	s.subMu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.subMu.Unlock()
	return func() {
		s.subMu.Lock()
		delete(s.subs, id)
		s.subMu.Unlock()
	}
}

func (s *SessionService) emit(ev ports.Event, user *domain.UserRecord) {
	s.subMu.Lock()
	fns := make([]func(ports.Event, *domain.UserRecord), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.subMu.Unlock()
	for _, fn := range fns {
		fn(ev, user)
	}
}

// mergeUser folds a fresh server projection over the current record:
// server fields win, but role ids fall back to the local record and then
// to the decoded token claims when the server omits them. The merge is
// persisted before it is returned.
func (s *SessionService) mergeUser(ctx context.Context, fresh *domain.UserRecord) (*domain.UserRecord, error) {
	merged := fresh.Clone()
	merged.NormalizeRoles()

	s.mu.Lock()
	accessToken := ""
	if s.state != nil {
		accessToken = s.state.AccessToken
		current := s.state.User
		if current != nil {
			if len(merged.RoleIDs) == 0 {
				merged.RoleIDs = current.RoleIDs
			}
			if merged.ActiveRole == "" {
				merged.SetActiveRole(current.ActiveRole)
			}
		}
		s.state.User = merged
	}
	s.mu.Unlock()

	if len(merged.RoleIDs) == 0 && accessToken != "" {
		if claims := token.Decode(accessToken); claims != nil && len(claims.RoleIDs) > 0 {
			s.mu.Lock()
			merged.RoleIDs = claims.RoleIDs
			s.mu.Unlock()
		}
	}

	if err := s.persistUser(ctx, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (s *SessionService) persistUser(ctx context.Context, user *domain.UserRecord) error {
	data, err := json.Marshal(user)
	if err != nil {
		return err
	}
	return s.store.Set(ctx, ports.KeyCurrentUser, string(data))
}

func (s *SessionService) purgeKeys(ctx context.Context) {
	for _, key := range ports.SessionKeys {
		if err := s.store.Delete(ctx, key); err != nil {
			s.log.Warn().Err(err).Str("key", key).Msg("failed to purge session key")
		}
	}
}

func (s *SessionService) readAccessToken(ctx context.Context) (string, error) {
	tok, ok, err := s.store.Get(ctx, ports.KeyToken)
	if err != nil {
		return "", err
	}
	if !ok || tok == "" {
		tok, _, err = s.store.Get(ctx, ports.KeyAccessToken)
		if err != nil {
			return "", err
		}
	}
	return tok, nil
}

// readMarker loads the role-switch marker pair. A half-written or
// unparseable marker is purged and reported as absent.
func (s *SessionService) readMarker(ctx context.Context) (*domain.RoleSwitchMarker, error) {
	target, hasTarget, err := s.store.Get(ctx, ports.KeyRoleSwitchTarget)
	if err != nil {
		return nil, err
	}
	rawTS, hasTS, err := s.store.Get(ctx, ports.KeyRoleSwitchTimestamp)
	if err != nil {
		return nil, err
	}
	if !hasTarget && !hasTS {
		return nil, nil
	}
	if !hasTarget || !hasTS || !validRoleValue(target) {
		_ = s.store.Delete(ctx, ports.KeyRoleSwitchTarget)
		_ = s.store.Delete(ctx, ports.KeyRoleSwitchTimestamp)
		return nil, nil
	}
	ms, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		_ = s.store.Delete(ctx, ports.KeyRoleSwitchTarget)
		_ = s.store.Delete(ctx, ports.KeyRoleSwitchTimestamp)
		return nil, nil
	}
	return &domain.RoleSwitchMarker{
		TargetRole: domain.RoleName(target),
		SwitchedAt: time.UnixMilli(ms),
	}, nil
}

// validRoleValue rejects empty values and the literal strings older
// clients wrote when serializing undefined roles.
func validRoleValue(v string) bool {
	return v != "" && v != "undefined" && v != "null"
}
