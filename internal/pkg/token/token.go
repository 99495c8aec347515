// Package token reads claims out of bearer tokens without verifying
// them. This is not a security boundary: the backend re-validates the
// token on every protected call, the decoded claims are only a local
// convenience (user id, per-role profile ids).
package token

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tutorlink/auth-client/internal/core/domain"
)

// Claims are the convenience fields embedded in an access token.
type Claims struct {
	// UserID is the token subject parsed as the core user id.
	UserID int64
	// RoleIDs maps each held role to its profile identifier.
	RoleIDs   map[domain.RoleName]int64
	ExpiresAt time.Time
}

// Decode extracts the payload claims of a JWT-shaped token. It returns
// nil on any malformed input and never panics or verifies signatures.
func Decode(raw string) *Claims {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil
	}

	out := &Claims{}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		if id, err := strconv.ParseInt(sub, 10, 64); err == nil {
			out.UserID = id
		}
	}
	// Some tokens carry the id as a numeric user_id claim instead of sub.
	if out.UserID == 0 {
		if v, ok := claims["user_id"].(float64); ok {
			out.UserID = int64(v)
		}
	}

	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		out.ExpiresAt = exp.Time
	}

	if raw, ok := claims["role_ids"]; ok {
		out.RoleIDs = parseRoleIDs(raw)
	}

	return out
}

// parseRoleIDs tolerates both numeric and string-encoded ids, which the
// backend has emitted at different times.
func parseRoleIDs(raw any) map[domain.RoleName]int64 {
	m, ok := raw.(map[string]any)
	if !ok || len(m) == 0 {
		return nil
	}
	ids := make(map[domain.RoleName]int64, len(m))
	for role, v := range m {
		switch n := v.(type) {
		case float64:
			ids[domain.RoleName(role)] = int64(n)
		case string:
			if id, err := strconv.ParseInt(n, 10, 64); err == nil {
				ids[domain.RoleName(role)] = id
			}
		case json.Number:
			if id, err := n.Int64(); err == nil {
				ids[domain.RoleName(role)] = id
			}
		}
	}
	if len(ids) == 0 {
		return nil
	}
	return ids
}
