package worker

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hasl-sensors/hasl/internal/apiclient"
	"github.com/hasl-sensors/hasl/internal/idset"
	"github.com/hasl-sensors/hasl/internal/journey"
	"github.com/hasl-sensors/hasl/internal/rrapi"
	"github.com/hasl-sensors/hasl/internal/timeparse"
	"github.com/hasl-sensors/hasl/pkg/types"
)

// Registry names a slot map.
type Registry string

const (
	RegistryRRD Registry = "rrd"
	RegistryRRA Registry = "rra"
	RegistryRRR Registry = "rrr"
	RegistryRP3 Registry = "rp3"
	RegistryFP  Registry = "fp"
)

// API type tags stored on each slot.
const (
	apiTypeRRD = "rrapi-rrd"
	apiTypeRRA = "rrapi-rra"
	apiTypeRRR = "rrapi-rrr"
	apiTypeRP3 = "slapi-rp3"
	apiTypeFP  = "slapi-fp1"
)

// InitialLastRun is the api_lastrun of a slot that has never been polled.
const InitialLastRun = "1970-01-01 01:01:01"

// historyWindow is the number of recent poll outcomes kept per slot.
const historyWindow = 20

// ResrobotClient is the subset of *rrapi.Client the worker needs.
type ResrobotClient interface {
	Departures(ctx context.Context, stop string) ([]rrapi.BoardEntry, error)
	Arrivals(ctx context.Context, stop string) ([]rrapi.BoardEntry, error)
	Trip(ctx context.Context, origin, dest string) (*journey.Response, error)
}

// PositionsClient is the subset of *slapi.Client used for fp slots.
type PositionsClient interface {
	VehiclePositions(ctx context.Context, vehicleType string) ([]map[string]any, error)
}

// KeyRecord lists the identifiers requested under one API key. Lists may hold
// duplicates; they are removed with idset before each poll.
type KeyRecord struct {
	APIKey string `json:"api_key"`
	Deps   string `json:"deps,omitempty"`
	Arrs   string `json:"arrs,omitempty"`
	Trips  string `json:"trips,omitempty"`
}

func (k *KeyRecord) empty() bool {
	return k.Deps == "" && k.Arrs == "" && k.Trips == ""
}

// Slot is the polled state of one stop, trip pair or train type.
type Slot struct {
	APIType        string  `json:"api_type"`
	APILastRun     string  `json:"api_lastrun"`
	APIResult      string  `json:"api_result"`
	APIError       string  `json:"api_error,omitempty"`
	Attribution    string  `json:"attribution,omitempty"`
	LastUpdated    string  `json:"last_updated,omitempty"`
	SuccessPercent float64 `json:"success_percent"`
	Data           any     `json:"data,omitempty"`

	// refs counts subscriptions; fp slots have no key record to consult.
	refs    int
	history []bool
}

func newSlot(apiType string) *Slot {
	return &Slot{APIType: apiType, APILastRun: InitialLastRun, APIResult: types.ResultPending}
}

func (s *Slot) record(success bool) {
	if len(s.history) >= historyWindow {
		s.history = s.history[1:]
	}
	s.history = append(s.history, success)
	ok := 0
	for _, h := range s.history {
		if h {
			ok++
		}
	}
	s.SuccessPercent = float64(ok) / float64(len(s.history)) * 100
}

func (s *Slot) succeed(data any, attribution string, now time.Time) {
	s.Data = data
	s.Attribution = attribution
	s.LastUpdated = timeparse.Stamp(now)
	s.APIResult = types.ResultSuccess
	s.APIError = ""
	s.record(true)
}

func (s *Slot) fail(err error) {
	s.APIResult = types.ResultError
	s.APIError = err.Error()
	s.record(false)
}

func (s *Slot) clone() *Slot {
	c := *s
	c.history = nil
	return &c
}

// Intervals configures how often Run executes each pass.
type Intervals struct {
	Departures time.Duration
	Arrivals   time.Duration
	Routes     time.Duration
	Vehicles   time.Duration
}

// Options configures a Worker.
type Options struct {
	HTTPClient *http.Client

	// Positions serves fp slots. Required when AssertFP is used.
	Positions PositionsClient

	// NewResrobot builds a client per API key. Defaults to rrapi.New.
	NewResrobot func(key string) ResrobotClient

	Location      *time.Location
	MinRefreshAge time.Duration
	Intervals     Intervals
}

// Worker holds the registries. It is safe for concurrent use.
type Worker struct {
	mu      sync.RWMutex
	rrkeys  map[string]*KeyRecord
	rp3keys map[string]*KeyRecord
	rrd     map[string]*Slot
	rra     map[string]*Slot
	rrr     map[string]*Slot
	rp3     map[string]*Slot
	fp      map[string]*Slot

	newResrobot   func(key string) ResrobotClient
	positions     PositionsClient
	loc           *time.Location
	minRefreshAge time.Duration
	intervals     Intervals
	now           func() time.Time
	observer      Observer

	subMu     sync.Mutex
	listeners map[int]func(Registry)
	nextSub   int

	startup atomic.Bool
	running atomic.Bool
}

// New creates an empty worker.
func New(opts Options) *Worker {
	w := &Worker{
		rrkeys:        make(map[string]*KeyRecord),
		rp3keys:       make(map[string]*KeyRecord),
		rrd:           make(map[string]*Slot),
		rra:           make(map[string]*Slot),
		rrr:           make(map[string]*Slot),
		rp3:           make(map[string]*Slot),
		fp:            make(map[string]*Slot),
		newResrobot:   opts.NewResrobot,
		positions:     opts.Positions,
		loc:           opts.Location,
		minRefreshAge: opts.MinRefreshAge,
		intervals:     opts.Intervals,
		now:           time.Now,
		listeners:     make(map[int]func(Registry)),
	}
	if w.newResrobot == nil {
		httpClient := opts.HTTPClient
		w.newResrobot = func(key string) ResrobotClient { return rrapi.New(httpClient, key) }
	}
	if w.loc == nil {
		w.loc = time.Local
	}
	w.startup.Store(true)
	return w
}

// TripKey joins a trip pair the way the key records and rrr slots store it.
func TripKey(source, destination string) string {
	return source + "-" + destination
}

func keyRecord(m map[string]*KeyRecord, key string) *KeyRecord {
	rec, ok := m[key]
	if !ok {
		rec = &KeyRecord{APIKey: key}
		m[key] = rec
	}
	return rec
}

// AssertRRD subscribes key to the departure board of stop.
func (w *Worker) AssertRRD(key, stop string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := keyRecord(w.rrkeys, key)
	rec.Deps = idset.Append(rec.Deps, idset.StopSep, stop)
	if _, ok := w.rrd[stop]; !ok {
		w.rrd[stop] = newSlot(apiTypeRRD)
	}
}

// AssertRRA subscribes key to the arrival board of stop.
func (w *Worker) AssertRRA(key, stop string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	rec := keyRecord(w.rrkeys, key)
	rec.Arrs = idset.Append(rec.Arrs, idset.StopSep, stop)
	if _, ok := w.rra[stop]; !ok {
		w.rra[stop] = newSlot(apiTypeRRA)
	}
}

// AssertRRR subscribes key to Resrobot trips from source to destination.
func (w *Worker) AssertRRR(key, source, destination string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	trip := TripKey(source, destination)
	rec := keyRecord(w.rrkeys, key)
	rec.Trips = idset.Append(rec.Trips, idset.TripSep, trip)
	if _, ok := w.rrr[trip]; !ok {
		w.rrr[trip] = newSlot(apiTypeRRR)
	}
}

// AssertRP3 subscribes key to SL route planner trips. The registry is kept
// for completeness; ProcessRP3 does not poll it.
func (w *Worker) AssertRP3(key, source, destination string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	trip := TripKey(source, destination)
	rec := keyRecord(w.rp3keys, key)
	rec.Trips = idset.Append(rec.Trips, idset.TripSep, trip)
	if _, ok := w.rp3[trip]; !ok {
		w.rp3[trip] = newSlot(apiTypeRP3)
	}
}

// AssertFP subscribes to vehicle positions of trainType.
func (w *Worker) AssertFP(trainType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.fp[trainType]
	if !ok {
		s = newSlot(apiTypeFP)
		w.fp[trainType] = s
	}
	s.refs++
}

// ReleaseRRD drops one departure subscription of key to stop.
func (w *Worker) ReleaseRRD(key, stop string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.rrkeys[key]; ok {
		rec.Deps = idset.Remove(rec.Deps, idset.StopSep, stop)
	}
	w.pruneLocked(w.rrkeys, w.rrd, stop, func(r *KeyRecord) string { return r.Deps }, idset.StopSep)
}

// ReleaseRRA drops one arrival subscription of key to stop.
func (w *Worker) ReleaseRRA(key, stop string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if rec, ok := w.rrkeys[key]; ok {
		rec.Arrs = idset.Remove(rec.Arrs, idset.StopSep, stop)
	}
	w.pruneLocked(w.rrkeys, w.rra, stop, func(r *KeyRecord) string { return r.Arrs }, idset.StopSep)
}

// ReleaseRRR drops one trip subscription of key.
func (w *Worker) ReleaseRRR(key, source, destination string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	trip := TripKey(source, destination)
	if rec, ok := w.rrkeys[key]; ok {
		rec.Trips = idset.Remove(rec.Trips, idset.TripSep, trip)
	}
	w.pruneLocked(w.rrkeys, w.rrr, trip, func(r *KeyRecord) string { return r.Trips }, idset.TripSep)
}

// ReleaseRP3 drops one route planner subscription of key.
func (w *Worker) ReleaseRP3(key, source, destination string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	trip := TripKey(source, destination)
	if rec, ok := w.rp3keys[key]; ok {
		rec.Trips = idset.Remove(rec.Trips, idset.TripSep, trip)
	}
	w.pruneLocked(w.rp3keys, w.rp3, trip, func(r *KeyRecord) string { return r.Trips }, idset.TripSep)
}

// ReleaseFP drops one vehicle position subscription.
func (w *Worker) ReleaseFP(trainType string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	s, ok := w.fp[trainType]
	if !ok {
		return
	}
	s.refs--
	if s.refs <= 0 {
		delete(w.fp, trainType)
	}
}

// pruneLocked deletes the slot for id when no key record lists it anymore and
// drops key records left without identifiers. Caller holds w.mu.
func (w *Worker) pruneLocked(keys map[string]*KeyRecord, slots map[string]*Slot, id string, list func(*KeyRecord) string, sep string) {
	referenced := false
	for k, rec := range keys {
		if rec.empty() {
			delete(keys, k)
			continue
		}
		if idset.Contains(list(rec), sep, id) {
			referenced = true
		}
	}
	if !referenced {
		delete(slots, id)
	}
}

// Slot returns a copy of the slot for id in reg.
func (w *Worker) Slot(reg Registry, id string) (*Slot, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s, ok := w.slots(reg)[id]
	if !ok {
		return nil, false
	}
	return s.clone(), true
}

func (w *Worker) slots(reg Registry) map[string]*Slot {
	switch reg {
	case RegistryRRD:
		return w.rrd
	case RegistryRRA:
		return w.rra
	case RegistryRRR:
		return w.rrr
	case RegistryRP3:
		return w.rp3
	case RegistryFP:
		return w.fp
	}
	return nil
}

// ResultCounts returns, per registry, how many slots hold each api_result.
func (w *Worker) ResultCounts() map[Registry]map[string]int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make(map[Registry]map[string]int, 5)
	for _, reg := range []Registry{RegistryRRD, RegistryRRA, RegistryRRR, RegistryRP3, RegistryFP} {
		counts := map[string]int{types.ResultPending: 0, types.ResultSuccess: 0, types.ResultError: 0}
		for _, s := range w.slots(reg) {
			counts[s.APIResult]++
		}
		out[reg] = counts
	}
	return out
}

// DumpData is a point-in-time copy of the registries. API keys are masked.
type DumpData struct {
	RRKeys []KeyRecord      `json:"rrkeys"`
	FP     map[string]*Slot `json:"fp"`
	RRD    map[string]*Slot `json:"rrd"`
	RRA    map[string]*Slot `json:"rra"`
	RRR    map[string]*Slot `json:"rrr"`
}

// Dump returns a copy of rrkeys, fp, rrd, rra and rrr.
func (w *Worker) Dump() DumpData {
	w.mu.RLock()
	defer w.mu.RUnlock()

	keys := make([]string, 0, len(w.rrkeys))
	for k := range w.rrkeys {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	d := DumpData{
		RRKeys: make([]KeyRecord, 0, len(keys)),
		FP:     cloneSlots(w.fp),
		RRD:    cloneSlots(w.rrd),
		RRA:    cloneSlots(w.rra),
		RRR:    cloneSlots(w.rrr),
	}
	for _, k := range keys {
		rec := *w.rrkeys[k]
		rec.APIKey = maskKey(rec.APIKey)
		d.RRKeys = append(d.RRKeys, rec)
	}
	return d
}

func cloneSlots(m map[string]*Slot) map[string]*Slot {
	out := make(map[string]*Slot, len(m))
	for k, s := range m {
		out[k] = s.clone()
	}
	return out
}

// maskKey keeps the last four characters of long keys so records stay
// distinguishable in dumps.
func maskKey(key string) string {
	if len(key) <= 8 {
		return apiclient.MaskKey(key)
	}
	return apiclient.MaskKey(key[:len(key)-4]) + key[len(key)-4:]
}

// Status reports startup_in_progress and running_background_tasks.
type Status struct {
	StartupInProgress      bool `json:"startup_in_progress"`
	RunningBackgroundTasks bool `json:"running_background_tasks"`
}

// Status returns the current worker flags.
func (w *Worker) Status() Status {
	return Status{
		StartupInProgress:      w.startup.Load(),
		RunningBackgroundTasks: w.running.Load(),
	}
}

// OnUpdate registers fn to be called after every pass of a registry. The
// returned func removes the subscription.
func (w *Worker) OnUpdate(fn func(Registry)) (unsubscribe func()) {
	w.subMu.Lock()
	id := w.nextSub
	w.nextSub++
	w.listeners[id] = fn
	w.subMu.Unlock()

	return func() {
		w.subMu.Lock()
		delete(w.listeners, id)
		w.subMu.Unlock()
	}
}

// Subscribers returns the number of OnUpdate subscriptions.
func (w *Worker) Subscribers() int {
	w.subMu.Lock()
	defer w.subMu.Unlock()
	return len(w.listeners)
}

func (w *Worker) notify(reg Registry) {
	w.subMu.Lock()
	fns := make([]func(Registry), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.subMu.Unlock()
	for _, fn := range fns {
		fn(reg)
	}
}

// splitTrip splits a "src-dst" pair.
func splitTrip(trip string) (source, destination string, ok bool) {
	source, destination, ok = strings.Cut(trip, "-")
	return source, destination, ok && source != "" && destination != ""
}
