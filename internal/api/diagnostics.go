package api

import (
	"fmt"
	"time"

	"github.com/hasl-sensors/hasl/internal/coordinator"
	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/pkg/types"
)

// DiagnosticHint is one human-readable remark about an entity's health.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical"
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// computeDiagnostics derives hints from a stored entity. ttl is the store
// TTL; records older than half of it are flagged as stale.
func computeDiagnostics(r *store.Record, ttl time.Duration, now time.Time) []DiagnosticHint {
	ent := r.Entity
	result, _ := ent.Attributes["api_result"].(string)
	apiErr, _ := ent.Attributes["api_error"].(string)
	var hints []DiagnosticHint

	if result == coordinator.StateAuthFailed || ent.Attributes["reauth_required"] == true {
		hints = append(hints, DiagnosticHint{
			Key:   "auth_failed",
			Level: "critical",
			Title: "API key rejected",
			Detail: "The upstream API rejected the configured key. Check that the environment " +
				"variable named by key_env holds a valid key and reload the config.",
		})
	}

	if apiErr != "" && result != coordinator.StateAuthFailed {
		level := "warning"
		if !ent.Available {
			level = "critical"
		}
		hints = append(hints, DiagnosticHint{
			Key:    "api_error",
			Level:  level,
			Title:  "Last refresh failed",
			Detail: fmt.Sprintf("The last call to the upstream API failed: %s", apiErr),
		})
	}

	if result == types.ResultPending {
		hints = append(hints, DiagnosticHint{
			Key:    "pending",
			Level:  "info",
			Title:  "Waiting for first refresh",
			Detail: "No data has been fetched for this entity yet.",
		})
	}

	if ttl > 0 && now.Sub(r.UpdatedAt) > ttl/2 {
		hints = append(hints, DiagnosticHint{
			Key:   "stale",
			Level: "warning",
			Title: "Not updated recently",
			Detail: fmt.Sprintf("This entity was last published %s ago and will be dropped after %s "+
				"without an update.", now.Sub(r.UpdatedAt).Round(time.Second), ttl),
		})
	}

	if pct, ok := ent.Attributes["success_percent"].(float64); ok && pct < 80 && result != types.ResultPending {
		hints = append(hints, DiagnosticHint{
			Key:    "success_rate",
			Level:  "info",
			Title:  fmt.Sprintf("%.0f%% success", pct),
			Detail: fmt.Sprintf("Only %.0f%% of the last polls of this slot succeeded.", pct),
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All clear",
			Detail: "The entity is refreshing normally.",
		})
	}
	return hints
}
