package platform

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/internal/journey"
	"github.com/hasl-sensors/hasl/internal/metrics"
	"github.com/hasl-sensors/hasl/internal/rrapi"
	"github.com/hasl-sensors/hasl/internal/sensor"
	"github.com/hasl-sensors/hasl/internal/slapi"
	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/pkg/types"
)

type fakeSL struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (f *fakeSL) Departures(context.Context, slapi.DepartureQuery) (*slapi.SiteDepartures, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &slapi.SiteDepartures{Departures: []slapi.Departure{{Display: "3 min", Scheduled: time.Now()}}}, nil
}

func (f *fakeSL) Deviations(context.Context, slapi.DeviationQuery) ([]slapi.Deviation, error) {
	return []slapi.Deviation{{}}, nil
}

func (f *fakeSL) Trip(context.Context, string, slapi.Endpoints) (*journey.Response, error) {
	return nil, errors.New("not used")
}

type fakeResrobot struct{}

func (fakeResrobot) Departures(context.Context, string) ([]rrapi.BoardEntry, error) {
	e := rrapi.BoardEntry{Date: "2024-05-03", Time: "12:00:00", Direction: "Centralen"}
	e.ProductAtStop.DisplayNumber = journey.Flex("4")
	return []rrapi.BoardEntry{e}, nil
}

func (fakeResrobot) Arrivals(context.Context, string) ([]rrapi.BoardEntry, error) {
	return nil, nil
}

func (fakeResrobot) Trip(context.Context, string, string) (*journey.Response, error) {
	return nil, errors.New("no trips")
}

type fixture struct {
	p      *Platform
	store  *store.Store
	worker *worker.Worker
	sl     *fakeSL
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := store.New(time.Hour)
	w := worker.New(worker.Options{
		NewResrobot: func(string) worker.ResrobotClient { return fakeResrobot{} },
		Location:    time.UTC,
	})
	sl := &fakeSL{}
	p := New(Options{
		Store:      st,
		Worker:     w,
		Builder:    sensor.NewBuilder("test", time.UTC),
		Metrics:    metrics.New(st, w.ResultCounts, nil),
		Departures: sl,
		Deviations: sl,
		Trips:      sl,
	})
	t.Cleanup(p.Close)
	return &fixture{p: p, store: st, worker: w, sl: sl}
}

func departureEntry(id string) config.Entry {
	return config.Entry{
		ID:   id,
		Name: "Slussen " + id,
		Type: config.TypeDeparture,
		Options: config.Options{
			SiteID:       9192,
			TimeWindow:   60,
			ScanInterval: time.Hour,
		},
	}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSetup_DeparturePublishes(t *testing.T) {
	f := newFixture(t)
	if err := f.p.Setup(context.Background(), departureEntry("e1")); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	waitFor(t, "departure entities", func() bool { return len(f.store.ListEntry("e1")) == 3 })

	r, ok := f.store.Get("e1_departures")
	if !ok {
		t.Fatal("e1_departures missing")
	}
	if r.Entity.State != 1 || !r.Entity.Available {
		t.Errorf("departures entity: state %v available %v", r.Entity.State, r.Entity.Available)
	}

	entries := f.p.Entries()
	if len(entries) != 1 || entries[0].Coordinator == nil || entries[0].Entities != 3 {
		t.Errorf("Entries: %+v", entries)
	}
}

func TestSetup_Duplicate(t *testing.T) {
	f := newFixture(t)
	e := departureEntry("e1")
	if err := f.p.Setup(context.Background(), e); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	if err := f.p.Setup(context.Background(), e); err == nil {
		t.Error("second Setup of the same entry should fail")
	}
}

func TestSetup_InvalidRoute(t *testing.T) {
	f := newFixture(t)
	e := config.Entry{ID: "r1", Name: "Route", Type: config.TypeRoute,
		Options: config.Options{Source: "abc", Destination: "9192"}}
	if err := f.p.Setup(context.Background(), e); err == nil {
		t.Error("expected endpoint error")
	}
	if len(f.p.Entries()) != 0 {
		t.Error("failed entry must not be registered")
	}
}

func TestSetup_RegistryEntry(t *testing.T) {
	f := newFixture(t)
	t.Setenv("RR_KEY", "rrkey")
	e := config.Entry{ID: "d1", Name: "Odenplan", Type: config.TypeRRD,
		Options: config.Options{Stop: "740000001", KeyEnv: "RR_KEY"}}
	if err := f.p.Setup(context.Background(), e); err != nil {
		t.Fatalf("Setup: %v", err)
	}

	r, ok := f.store.Get("d1_departures")
	if !ok {
		t.Fatal("pending entity not published")
	}
	if r.Entity.Attributes["api_result"] != types.ResultPending {
		t.Errorf("api_result: got %v, want Pending", r.Entity.Attributes["api_result"])
	}

	f.worker.RefreshAll(context.Background())
	r, _ = f.store.Get("d1_departures")
	if r.Entity.Attributes["api_result"] != types.ResultSuccess {
		t.Errorf("api_result after pass: got %v", r.Entity.Attributes["api_result"])
	}

	f.p.Unload("d1")
	if _, ok := f.worker.Slot(worker.RegistryRRD, "740000001"); ok {
		t.Error("slot should be released on unload")
	}
	if f.store.Count() != 0 {
		t.Errorf("store count after unload: %d", f.store.Count())
	}
}

func TestUnload_StopsCoordinator(t *testing.T) {
	f := newFixture(t)
	_ = f.p.Setup(context.Background(), departureEntry("e1"))
	waitFor(t, "first refresh", func() bool { return len(f.store.ListEntry("e1")) == 3 })

	f.p.Unload("e1")
	if n := len(f.store.ListEntry("e1")); n != 0 {
		t.Errorf("entities after unload: %d", n)
	}
	if len(f.p.Entries()) != 0 {
		t.Error("entry still registered")
	}
	f.p.Unload("e1") // unknown ids are ignored
}

func TestApply(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if err := f.p.Apply(ctx, []config.Entry{departureEntry("a"), departureEntry("b")}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if n := len(f.p.Entries()); n != 2 {
		t.Fatalf("entries: got %d, want 2", n)
	}

	changed := departureEntry("b")
	changed.Options.TimeWindow = 30
	if err := f.p.Apply(ctx, []config.Entry{changed, departureEntry("c")}); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	got := map[string]bool{}
	for _, es := range f.p.Entries() {
		got[es.ID] = true
	}
	if got["a"] || !got["b"] || !got["c"] || len(got) != 2 {
		t.Errorf("entries after reapply: %v", got)
	}
	waitFor(t, "entry a removed from store", func() bool { return len(f.store.ListEntry("a")) == 0 })
}

func TestApply_ReportsSetupErrors(t *testing.T) {
	f := newFixture(t)
	bad := config.Entry{ID: "x", Name: "Bad", Type: "nope"}
	if err := f.p.Apply(context.Background(), []config.Entry{bad, departureEntry("ok")}); err == nil {
		t.Error("expected error for unknown entry type")
	}
	if n := len(f.p.Entries()); n != 1 {
		t.Errorf("entries: got %d, want 1", n)
	}
}

// closingGate reports "on" for the first open reads and "off" afterwards.
type closingGate struct {
	open  int32
	reads atomic.Int32
}

func (g *closingGate) GetState(context.Context, string) (string, error) {
	if g.reads.Add(1) <= g.open {
		return "on", nil
	}
	return "off", nil
}

func TestGatedEntry_KeepsEntityPastTTL(t *testing.T) {
	st := store.New(150 * time.Millisecond)
	w := worker.New(worker.Options{Location: time.UTC})
	sl := &fakeSL{}
	p := New(Options{
		Store:      st,
		Worker:     w,
		Builder:    sensor.NewBuilder("test", time.UTC),
		Gate:       &closingGate{open: 1},
		Departures: sl,
	})
	t.Cleanup(p.Close)

	e := departureEntry("g1")
	e.Options.Sensor = "binary_sensor.commute"
	e.Options.ScanInterval = 20 * time.Millisecond
	if err := p.Setup(context.Background(), e); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	waitFor(t, "first publish", func() bool { _, ok := st.Get("g1_departures"); return ok })

	time.Sleep(400 * time.Millisecond)
	r, ok := st.Get("g1_departures")
	if !ok {
		t.Fatal("gated entity expired from the store")
	}
	if r.Entity.State != 1 {
		t.Errorf("state: got %v, want kept 1", r.Entity.State)
	}
	sl.mu.Lock()
	calls := sl.calls
	sl.mu.Unlock()
	if calls != 1 {
		t.Errorf("upstream calls: got %d, want 1", calls)
	}
}

func TestPublish_ClosedInstanceWritesNothing(t *testing.T) {
	f := newFixture(t)
	t.Setenv("RR_KEY", "rrkey")
	e := config.Entry{ID: "d1", Name: "Odenplan", Type: config.TypeRRD,
		Options: config.Options{Stop: "740000001", KeyEnv: "RR_KEY"}}
	if err := f.p.Setup(context.Background(), e); err != nil {
		t.Fatalf("Setup: %v", err)
	}
	f.store.DeleteEntry("d1")

	f.p.mu.Lock()
	inst := f.p.entries["d1"]
	f.p.mu.Unlock()
	inst.pubMu.Lock()
	inst.closed = true
	inst.pubMu.Unlock()

	f.p.publish(inst)
	if n := len(f.store.ListEntry("d1")); n != 0 {
		t.Errorf("entities written after close: %d", n)
	}
}

func TestUnload_RacingRegistryPassLeavesNoEntities(t *testing.T) {
	f := newFixture(t)
	t.Setenv("RR_KEY", "rrkey")
	e := config.Entry{ID: "d1", Name: "Odenplan", Type: config.TypeRRD,
		Options: config.Options{Stop: "740000001", KeyEnv: "RR_KEY"}}

	for i := 0; i < 20; i++ {
		if err := f.p.Setup(context.Background(), e); err != nil {
			t.Fatalf("Setup: %v", err)
		}
		stop := make(chan struct{})
		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				select {
				case <-stop:
					return
				default:
					f.p.onRegistry(worker.RegistryRRD)
				}
			}
		}()
		f.p.Unload("d1")
		close(stop)
		<-done

		if n := len(f.store.ListEntry("d1")); n != 0 {
			t.Fatalf("round %d: %d entities left after unload", i, n)
		}
	}
}

func TestSetup_ConcurrentSameEntry(t *testing.T) {
	f := newFixture(t)
	t.Setenv("RR_KEY", "rrkey")
	e := config.Entry{ID: "d1", Name: "Odenplan", Type: config.TypeRRD,
		Options: config.Options{Stop: "740000001", KeyEnv: "RR_KEY"}}

	const n = 8
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.p.Setup(context.Background(), e)
		}()
	}
	wg.Wait()
	close(errs)

	ok := 0
	for err := range errs {
		if err == nil {
			ok++
		}
	}
	if ok != 1 {
		t.Errorf("successful setups: got %d, want 1", ok)
	}
	if len(f.p.Entries()) != 1 {
		t.Errorf("entries: got %d, want 1", len(f.p.Entries()))
	}
}
