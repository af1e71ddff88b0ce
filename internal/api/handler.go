package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/hasl-sensors/hasl/internal/alerts"
	"github.com/hasl-sensors/hasl/internal/platform"
	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/internal/worker"
)

// EntryLister reports running config entries.
type EntryLister interface {
	Entries() []platform.EntryStatus
}

// RegistryReader exposes the worker registries.
type RegistryReader interface {
	Dump() worker.DumpData
	Status() worker.Status
	ResultCounts() map[worker.Registry]map[string]int
}

// AlertLister reports alerts.
type AlertLister interface {
	Active() []*alerts.Alert
}

// Sources are the optional read models behind the handler. Nil fields
// produce empty responses.
type Sources struct {
	Entries  EntryLister
	Registry RegistryReader
	Alerts   AlertLister
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	store *store.Store
	src   Sources
	mux   *http.ServeMux
	now   func() time.Time
}

// New creates a Handler wired to the entity store and registers all routes.
func New(st *store.Store, src Sources) *Handler {
	h := &Handler{store: st, src: src, mux: http.NewServeMux(), now: time.Now}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/entities", h.listEntities)
	h.mux.HandleFunc("/api/v1/entities/", h.getEntity) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/entries", h.entries)
	h.mux.HandleFunc("/api/v1/registry", h.registry)
	h.mux.HandleFunc("/api/v1/alerts", h.alerts)
	h.mux.HandleFunc("/api/v1/snapshot", h.snapshot)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	recs := h.store.List()
	resp := HealthResponse{EntityCount: len(recs)}
	for _, rec := range recs {
		if rec.Entity.Available {
			resp.AvailableCount++
		} else {
			resp.UnavailableCount++
		}
	}
	if h.src.Entries != nil {
		resp.EntryCount = len(h.src.Entries.Entries())
	}
	for _, a := range h.activeAlerts() {
		if a.State == alerts.StateFiring {
			resp.AlertCount++
		}
	}
	if h.src.Registry != nil {
		st := h.src.Registry.Status()
		resp.StartupInProgress = st.StartupInProgress
		resp.RunningBackgroundTasks = st.RunningBackgroundTasks
	}

	switch {
	case resp.EntityCount == 0:
		resp.State = "unknown"
	case resp.UnavailableCount == 0:
		resp.State = "ok"
	default:
		resp.State = "degraded"
	}
	jsonResp(w, http.StatusOK, resp)
}

func (h *Handler) listEntities(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	var recs []*store.Record
	if entry := r.URL.Query().Get("entry"); entry != "" {
		recs = h.store.ListEntry(entry)
	} else {
		recs = h.store.List()
	}
	jsonResp(w, http.StatusOK, h.toEntities(recs))
}

func (h *Handler) getEntity(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/v1/entities/")
	if id == "" {
		h.listEntities(w, r)
		return
	}

	rec, ok := h.store.Get(id)
	if !ok {
		jsonErr(w, http.StatusNotFound, "entity not found")
		return
	}
	jsonResp(w, http.StatusOK, h.toEntity(rec))
}

func (h *Handler) entries(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, h.entryList())
}

func (h *Handler) registry(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	if h.src.Registry == nil {
		jsonErr(w, http.StatusNotFound, "registry not available")
		return
	}
	jsonResp(w, http.StatusOK, RegistryResponse{
		Status: h.src.Registry.Status(),
		Counts: h.src.Registry.ResultCounts(),
		Data:   h.src.Registry.Dump(),
	})
}

func (h *Handler) alerts(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, h.activeAlerts())
}

func (h *Handler) snapshot(w http.ResponseWriter, r *http.Request) {
	if !allowGet(w, r) {
		return
	}
	jsonResp(w, http.StatusOK, h.Snapshot())
}

// Snapshot builds the full state payload shared with the websocket stream.
func (h *Handler) Snapshot() SnapshotResponse {
	return SnapshotResponse{
		Entities:    h.toEntities(h.store.List()),
		Entries:     h.entryList(),
		GeneratedAt: h.now().UTC().Format(time.RFC3339),
	}
}

// --- helpers ----------------------------------------------------------------

func (h *Handler) activeAlerts() []*alerts.Alert {
	if h.src.Alerts == nil {
		return []*alerts.Alert{}
	}
	return h.src.Alerts.Active()
}

func (h *Handler) entryList() []platform.EntryStatus {
	if h.src.Entries == nil {
		return []platform.EntryStatus{}
	}
	return h.src.Entries.Entries()
}

func (h *Handler) toEntities(recs []*store.Record) []EntityResponse {
	out := make([]EntityResponse, 0, len(recs))
	for _, rec := range recs {
		out = append(out, h.toEntity(rec))
	}
	return out
}

func (h *Handler) toEntity(rec *store.Record) EntityResponse {
	return EntityResponse{
		Entity:      rec.Entity,
		Diagnostics: computeDiagnostics(rec, h.store.TTL(), h.now()),
		LastSeen:    rec.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func allowGet(w http.ResponseWriter, r *http.Request) bool {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	return true
}

func jsonResp(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}
