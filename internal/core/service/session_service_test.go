package service

import (
	"context"
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tutorlink/auth-client/internal/core/domain"
	"github.com/tutorlink/auth-client/internal/core/ports"
)

type stubStore struct {
	mu     sync.Mutex
	values map[string]string
}

func newStubStore() *stubStore {
	return &stubStore{values: make(map[string]string)}
}

func (s *stubStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[key]
	return v, ok, nil
}

func (s *stubStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *stubStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
	return nil
}

func (s *stubStore) has(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.values[key]
	return ok
}

func (s *stubStore) value(key string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key]
}

var errOffline = errors.New("connection refused")

type stubBackend struct {
	loginFn    func(ctx context.Context, username, password string) (*ports.AuthResult, error)
	registerFn func(ctx context.Context, input ports.RegisterInput) (*ports.AuthResult, error)
	meFn       func(ctx context.Context) (*domain.UserRecord, error)
	verifyFn   func(ctx context.Context) (*domain.UserRecord, error)
}

func (b *stubBackend) Login(ctx context.Context, username, password string) (*ports.AuthResult, error) {
	return b.loginFn(ctx, username, password)
}

func (b *stubBackend) Register(ctx context.Context, input ports.RegisterInput) (*ports.AuthResult, error) {
	return b.registerFn(ctx, input)
}

func (b *stubBackend) Me(ctx context.Context) (*domain.UserRecord, error) {
	if b.meFn == nil {
		return nil, errOffline
	}
	return b.meFn(ctx)
}

func (b *stubBackend) VerifyToken(ctx context.Context) (*domain.UserRecord, error) {
	if b.verifyFn == nil {
		return nil, errOffline
	}
	return b.verifyFn(ctx)
}

func testUser() *domain.UserRecord {
	return &domain.UserRecord{
		ID:         42,
		FirstName:  "Sara",
		FatherName: "Ahmed",
		Email:      "sara@example.com",
		Roles:      []domain.RoleName{domain.RoleStudent, domain.RoleTutor},
		ActiveRole: domain.RoleStudent,
		Role:       domain.RoleStudent,
		RoleIDs:    map[domain.RoleName]int64{domain.RoleStudent: 7, domain.RoleTutor: 19},
	}
}

func seedSession(t *testing.T, store *stubStore, user *domain.UserRecord) {
	t.Helper()
	ctx := context.Background()
	data, err := json.Marshal(user)
	if err != nil {
		t.Fatalf("marshal user: %v", err)
	}
	_ = store.Set(ctx, ports.KeyToken, "access-token")
	_ = store.Set(ctx, ports.KeyAccessToken, "access-token")
	_ = store.Set(ctx, ports.KeyRefreshToken, "refresh-token")
	_ = store.Set(ctx, ports.KeyCurrentUser, string(data))
	_ = store.Set(ctx, ports.KeyUserRole, string(user.ActiveRole))
}

func newTestSession(store *stubStore, backend *stubBackend, now time.Time) *SessionService {
	return NewSessionService(store, backend, zerolog.Nop(),
		WithClock(func() time.Time { return now }))
}

func TestSessionService_Restore_Idempotent(t *testing.T) {
	store := newStubStore()
	seedSession(t, store, testUser())
	svc := newTestSession(store, &stubBackend{}, time.Now())

	ok, err := svc.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("first restore: ok=%v err=%v", ok, err)
	}
	first := svc.CurrentUser()

	ok, err = svc.Restore(context.Background())
	if err != nil || !ok {
		t.Fatalf("second restore: ok=%v err=%v", ok, err)
	}
	second := svc.CurrentUser()

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("restore not idempotent:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestSessionService_Restore_MissingData(t *testing.T) {
	store := newStubStore()
	svc := newTestSession(store, &stubBackend{}, time.Now())

	if ok, err := svc.Restore(context.Background()); err != nil || ok {
		t.Fatalf("expected unauthenticated restore, got ok=%v err=%v", ok, err)
	}
	if svc.IsAuthenticated() {
		t.Fatalf("expected unauthenticated state")
	}
}

func TestSessionService_Restore_RoleSwitchPrecedence(t *testing.T) {
	now := time.Now()
	store := newStubStore()
	seedSession(t, store, testUser()) // active role: student

	ctx := context.Background()
	_ = store.Set(ctx, ports.KeyRoleSwitchTarget, "tutor")
	_ = store.Set(ctx, ports.KeyRoleSwitchTimestamp, strconv.FormatInt(now.Add(-2*time.Second).UnixMilli(), 10))

	svc := newTestSession(store, &stubBackend{}, now)
	if ok, err := svc.Restore(ctx); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	if got := svc.ActiveRole(); got != domain.RoleTutor {
		t.Fatalf("expected active role tutor, got %q", got)
	}
	if got := store.value(ports.KeyUserRole); got != "tutor" {
		t.Fatalf("expected persisted userRole tutor, got %q", got)
	}

	// The corrected role must be written back into the user blob.
	var persisted domain.UserRecord
	if err := json.Unmarshal([]byte(store.value(ports.KeyCurrentUser)), &persisted); err != nil {
		t.Fatalf("persisted user invalid: %v", err)
	}
	if persisted.ActiveRole != domain.RoleTutor || persisted.Role != domain.RoleTutor {
		t.Fatalf("persisted user roles not corrected: %+v", persisted)
	}

	// The marker stays valid for the whole grace window.
	if !store.has(ports.KeyRoleSwitchTarget) || !store.has(ports.KeyRoleSwitchTimestamp) {
		t.Fatalf("marker must not be cleared inside the grace window")
	}

	// Repeated reconciliation within the window is harmless.
	if ok, err := svc.Restore(ctx); err != nil || !ok {
		t.Fatalf("second restore: ok=%v err=%v", ok, err)
	}
	if got := svc.ActiveRole(); got != domain.RoleTutor {
		t.Fatalf("expected active role tutor after re-restore, got %q", got)
	}
}

func TestSessionService_Restore_GraceWindowExpired(t *testing.T) {
	now := time.Now()
	store := newStubStore()
	seedSession(t, store, testUser())

	ctx := context.Background()
	_ = store.Set(ctx, ports.KeyRoleSwitchTarget, "tutor")
	_ = store.Set(ctx, ports.KeyRoleSwitchTimestamp, strconv.FormatInt(now.Add(-11*time.Second).UnixMilli(), 10))

	svc := newTestSession(store, &stubBackend{}, now)
	if ok, err := svc.Restore(ctx); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	if got := svc.ActiveRole(); got != domain.RoleStudent {
		t.Fatalf("expired marker must not override role, got %q", got)
	}
	if store.has(ports.KeyRoleSwitchTarget) || store.has(ports.KeyRoleSwitchTimestamp) {
		t.Fatalf("expired marker must be deleted")
	}

	// A later restore never re-applies it.
	if ok, err := svc.Restore(ctx); err != nil || !ok {
		t.Fatalf("second restore: ok=%v err=%v", ok, err)
	}
	if got := svc.ActiveRole(); got != domain.RoleStudent {
		t.Fatalf("expected student after second restore, got %q", got)
	}
}

func TestSessionService_Restore_UserRoleIsSourceOfTruth(t *testing.T) {
	store := newStubStore()
	user := testUser()
	user.Roles = append(user.Roles, domain.RoleParent)
	seedSession(t, store, user)
	_ = store.Set(context.Background(), ports.KeyUserRole, "parent")

	svc := newTestSession(store, &stubBackend{}, time.Now())
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if got := svc.ActiveRole(); got != domain.RoleParent {
		t.Fatalf("userRole must override the stale user blob, got %q", got)
	}
}

func TestSessionService_Restore_IgnoresLiteralUndefined(t *testing.T) {
	store := newStubStore()
	seedSession(t, store, testUser())
	_ = store.Set(context.Background(), ports.KeyUserRole, "undefined")

	svc := newTestSession(store, &stubBackend{}, time.Now())
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	if got := svc.ActiveRole(); got != domain.RoleStudent {
		t.Fatalf("expected derived role student, got %q", got)
	}
	if got := store.value(ports.KeyUserRole); got != "student" {
		t.Fatalf("derived role must be written back, got %q", got)
	}
}

func TestSessionService_Restore_CorruptedUserPurged(t *testing.T) {
	store := newStubStore()
	ctx := context.Background()
	_ = store.Set(ctx, ports.KeyToken, "access-token")
	_ = store.Set(ctx, ports.KeyCurrentUser, "{not json")

	svc := newTestSession(store, &stubBackend{}, time.Now())
	if ok, err := svc.Restore(ctx); err != nil || ok {
		t.Fatalf("corrupted restore must fail cleanly, got ok=%v err=%v", ok, err)
	}
	if store.has(ports.KeyCurrentUser) {
		t.Fatalf("corrupted currentUser must be purged")
	}
}

func TestSessionService_Restore_LegacySingularRole(t *testing.T) {
	store := newStubStore()
	user := &domain.UserRecord{ID: 9, FirstName: "Omar", Role: domain.RoleTutor}
	seedSession(t, store, user)
	_ = store.Delete(context.Background(), ports.KeyUserRole)

	svc := newTestSession(store, &stubBackend{}, time.Now())
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}
	got := svc.CurrentUser()
	if !got.HasRole(domain.RoleTutor) {
		t.Fatalf("roles must be synthesized from the singular field: %+v", got)
	}
	if got.ActiveRole != domain.RoleTutor {
		t.Fatalf("expected derived active role tutor, got %q", got.ActiveRole)
	}
}

func TestSessionService_FetchUserData_SingleFlight(t *testing.T) {
	store := newStubStore()
	seedSession(t, store, testUser())

	var calls atomic.Int32
	backend := &stubBackend{
		meFn: func(ctx context.Context) (*domain.UserRecord, error) {
			calls.Add(1)
			time.Sleep(50 * time.Millisecond)
			return testUser(), nil
		},
	}
	svc := newTestSession(store, backend, time.Now())
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.FetchUserData(context.Background()); err != nil {
				t.Errorf("fetch failed: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected exactly one outbound profile fetch, got %d", got)
	}
}

func TestSessionService_FetchUserData_PreservesRoleIDs(t *testing.T) {
	store := newStubStore()
	seedSession(t, store, testUser())

	backend := &stubBackend{
		meFn: func(ctx context.Context) (*domain.UserRecord, error) {
			fresh := testUser()
			fresh.FirstName = "Sarah" // server rename wins
			fresh.RoleIDs = nil       // server omitted role ids
			return fresh, nil
		},
	}
	svc := newTestSession(store, backend, time.Now())
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	merged, err := svc.FetchUserData(context.Background())
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if merged.FirstName != "Sarah" {
		t.Fatalf("server fields must win, got %q", merged.FirstName)
	}
	if id, ok := merged.RoleIDs[domain.RoleTutor]; !ok || id != 19 {
		t.Fatalf("local role ids must survive an omitting response: %+v", merged.RoleIDs)
	}
}

func TestSessionService_VerifyToken_OptimisticOnNetworkError(t *testing.T) {
	store := newStubStore()
	seedSession(t, store, testUser())

	backend := &stubBackend{
		verifyFn: func(ctx context.Context) (*domain.UserRecord, error) {
			return nil, errOffline
		},
	}
	svc := newTestSession(store, backend, time.Now())
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	valid, err := svc.VerifyToken(context.Background())
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if !valid {
		t.Fatalf("network failure must not invalidate the session")
	}

	backend.verifyFn = func(ctx context.Context) (*domain.UserRecord, error) {
		return nil, domain.ErrUnauthorized
	}
	valid, err = svc.VerifyToken(context.Background())
	if err != nil {
		t.Fatalf("verify returned error: %v", err)
	}
	if valid {
		t.Fatalf("definite 401 must report an invalid token")
	}
}

func TestSessionService_SwitchRole(t *testing.T) {
	store := newStubStore()
	seedSession(t, store, testUser())
	now := time.Now()
	svc := newTestSession(store, &stubBackend{}, now)
	if ok, err := svc.Restore(context.Background()); err != nil || !ok {
		t.Fatalf("restore: ok=%v err=%v", ok, err)
	}

	var gotEvent ports.Event
	unsubscribe := svc.Subscribe(func(ev ports.Event, _ *domain.UserRecord) {
		gotEvent = ev
	})
	defer unsubscribe()

	if err := svc.SwitchRole(context.Background(), domain.RoleAdmin); !errors.Is(err, domain.ErrRoleNotHeld) {
		t.Fatalf("expected ErrRoleNotHeld, got %v", err)
	}

	if err := svc.SwitchRole(context.Background(), domain.RoleTutor); err != nil {
		t.Fatalf("switch failed: %v", err)
	}
	if svc.ActiveRole() != domain.RoleTutor {
		t.Fatalf("in-memory role not updated")
	}
	if store.value(ports.KeyUserRole) != "tutor" || store.value(ports.KeyRoleSwitchTarget) != "tutor" {
		t.Fatalf("switch must persist userRole and the marker target")
	}
	if ts := store.value(ports.KeyRoleSwitchTimestamp); ts != strconv.FormatInt(now.UnixMilli(), 10) {
		t.Fatalf("unexpected marker timestamp %q", ts)
	}
	if gotEvent != ports.EventRoleUpdated {
		t.Fatalf("expected role_updated event, got %q", gotEvent)
	}

	if id, ok := svc.ActiveRoleID(); !ok || id != 19 {
		t.Fatalf("expected tutor profile id 19, got %d (ok=%v)", id, ok)
	}
}
