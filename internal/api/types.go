package api

import (
	"github.com/hasl-sensors/hasl/internal/platform"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/pkg/types"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State                  string `json:"state"`
	EntityCount            int    `json:"entity_count"`
	AvailableCount         int    `json:"available_count"`
	UnavailableCount       int    `json:"unavailable_count"`
	EntryCount             int    `json:"entry_count"`
	AlertCount             int    `json:"alert_count"`
	StartupInProgress      bool   `json:"startup_in_progress"`
	RunningBackgroundTasks bool   `json:"running_background_tasks"`
}

// EntityResponse is one entity in GET /api/v1/entities.
type EntityResponse struct {
	*types.Entity
	Diagnostics []DiagnosticHint `json:"diagnostics"`
	LastSeen    string           `json:"last_seen"` // RFC3339
}

// RegistryResponse is the payload for GET /api/v1/registry.
type RegistryResponse struct {
	Status worker.Status                      `json:"status"`
	Counts map[worker.Registry]map[string]int `json:"counts"`
	Data   worker.DumpData                    `json:"data"`
}

// SnapshotResponse is the payload for GET /api/v1/snapshot and the
// websocket stream.
type SnapshotResponse struct {
	Entities    []EntityResponse       `json:"entities"`
	Entries     []platform.EntryStatus `json:"entries"`
	GeneratedAt string                 `json:"generated_at"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
