// Package metrics defines the Prometheus metrics of the auth client. It
// is the single source of truth for metric names, labels, and help
// strings. Metrics register with the default registry; exposing them is
// the embedding application's concern.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "authclient"

// RestoreTotal counts session restore attempts.
// Label:
//   - result: "restored", "unauthenticated" or "corrupted"
var RestoreTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "restore_total",
		Help:      "Total number of session restore attempts, by result.",
	},
	[]string{"result"},
)

// RefreshTotal counts access-token refresh attempts.
// Label:
//   - result: "success", "expired" (refresh token rejected) or "error"
var RefreshTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "refresh_total",
		Help:      "Total number of access token refresh attempts, by result.",
	},
	[]string{"result"},
)

// RetriesTotal counts protected calls re-issued after a refresh.
var RetriesTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "request_retries_total",
		Help:      "Total number of requests retried after a 401-triggered refresh.",
	},
)

// ProfileFetchTotal counts canonical profile fetches.
// Label:
//   - result: "success" or "error"
var ProfileFetchTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "profile_fetch_total",
		Help:      "Total number of /api/me profile fetches, by result.",
	},
	[]string{"result"},
)

// RoleSwitchAppliedTotal counts grace-window role-switch markers applied
// during restore.
var RoleSwitchAppliedTotal = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "role_switch_applied_total",
		Help:      "Total number of role-switch markers applied during session restore.",
	},
)
