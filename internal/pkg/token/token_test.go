package token

import (
	"encoding/base64"
	"encoding/json"
	"testing"
	"time"

	"github.com/tutorlink/auth-client/internal/core/domain"
)

// buildToken assembles an unsigned JWT-shaped token from raw claims.
func buildToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	header, err := json.Marshal(map[string]string{"alg": "HS256", "typ": "JWT"})
	if err != nil {
		t.Fatalf("marshal header: %v", err)
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	enc := base64.RawURLEncoding
	return enc.EncodeToString(header) + "." + enc.EncodeToString(payload) + ".sig"
}

func TestDecode_Claims(t *testing.T) {
	exp := time.Now().Add(time.Hour).Unix()
	raw := buildToken(t, map[string]any{
		"sub":      "42",
		"exp":      exp,
		"role_ids": map[string]any{"student": 7, "tutor": float64(19)},
	})

	claims := Decode(raw)
	if claims == nil {
		t.Fatalf("expected claims, got nil")
	}
	if claims.UserID != 42 {
		t.Fatalf("expected user id 42, got %d", claims.UserID)
	}
	if claims.ExpiresAt.Unix() != exp {
		t.Fatalf("unexpected expiry: %v", claims.ExpiresAt)
	}
	if claims.RoleIDs[domain.RoleStudent] != 7 || claims.RoleIDs[domain.RoleTutor] != 19 {
		t.Fatalf("unexpected role ids: %+v", claims.RoleIDs)
	}
}

func TestDecode_NumericUserIDClaim(t *testing.T) {
	raw := buildToken(t, map[string]any{"user_id": 42})

	claims := Decode(raw)
	if claims == nil || claims.UserID != 42 {
		t.Fatalf("expected user id from user_id claim, got %+v", claims)
	}
}

func TestDecode_StringRoleIDs(t *testing.T) {
	raw := buildToken(t, map[string]any{
		"sub":      "42",
		"role_ids": map[string]any{"tutor": "19", "parent": "not a number"},
	})

	claims := Decode(raw)
	if claims == nil {
		t.Fatalf("expected claims, got nil")
	}
	if claims.RoleIDs[domain.RoleTutor] != 19 {
		t.Fatalf("string-encoded ids must parse: %+v", claims.RoleIDs)
	}
	if _, ok := claims.RoleIDs[domain.RoleParent]; ok {
		t.Fatalf("unparseable ids must be skipped: %+v", claims.RoleIDs)
	}
}

func TestDecode_Malformed(t *testing.T) {
	for _, raw := range []string{
		"",
		"not-a-token",
		"one.two",
		"a.!!!.c",
		"a." + base64.RawURLEncoding.EncodeToString([]byte("not json")) + ".c",
	} {
		if got := Decode(raw); got != nil {
			t.Fatalf("Decode(%q) = %+v, expected nil", raw, got)
		}
	}
}
