package platform

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"
	"sort"
	"sync"

	"github.com/hasl-sensors/hasl/internal/alerts"
	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/internal/coordinator"
	"github.com/hasl-sensors/hasl/internal/homeassistant"
	"github.com/hasl-sensors/hasl/internal/metrics"
	"github.com/hasl-sensors/hasl/internal/sensor"
	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/pkg/types"
)

// SourceEntry labels coordinator refreshes in the refresh counters.
const SourceEntry = "entry"

// Options wires a Platform. Store, Worker and Builder are required; the
// rest is optional.
type Options struct {
	Store   *store.Store
	Worker  *worker.Worker
	Builder *sensor.Builder

	Alerts    *alerts.Engine
	Publisher *homeassistant.Publisher
	Metrics   *metrics.Exporter

	// Gate reads gating sensors; nil when no Home Assistant is configured.
	Gate coordinator.Gate

	Departures coordinator.DepartureSource
	Deviations coordinator.DeviationSource
	Trips      coordinator.TripSource

	// Vehicles builds a GTFS-Realtime source for an API key.
	Vehicles func(key string) coordinator.VehicleSource
}

// instance is one running entry.
type instance struct {
	entry   config.Entry
	runner  coordinator.Runner
	reg     worker.Registry
	build   func() []*types.Entity
	release func()
	cancel  context.CancelFunc
	done    chan struct{}

	// pubMu serializes fan-out with Unload; closed is set before the sinks
	// are cleared.
	pubMu  sync.Mutex
	closed bool
}

// EntryStatus describes a running entry for the REST API.
type EntryStatus struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Type        string              `json:"type"`
	Coordinator *coordinator.Status `json:"coordinator,omitempty"`
	Registry    string              `json:"registry,omitempty"`
	Entities    int                 `json:"entities"`
}

// Platform runs config entries.
type Platform struct {
	opts Options

	mu        sync.Mutex
	entries   map[string]*instance
	settingUp map[string]struct{}

	unsubWorker func()
}

// New creates a Platform and subscribes it to worker pass completions.
func New(opts Options) *Platform {
	p := &Platform{
		opts:      opts,
		entries:   make(map[string]*instance),
		settingUp: make(map[string]struct{}),
	}
	p.unsubWorker = opts.Worker.OnUpdate(p.onRegistry)
	return p
}

// Setup starts an entry. Coordinator entries refresh once in the background
// and then poll at their scan interval until Unload or ctx cancellation.
func (p *Platform) Setup(ctx context.Context, e config.Entry) error {
	id := e.UniqueID()
	p.mu.Lock()
	_, exists := p.entries[id]
	_, pending := p.settingUp[id]
	if !exists && !pending {
		p.settingUp[id] = struct{}{}
	}
	p.mu.Unlock()
	if exists || pending {
		return fmt.Errorf("platform: entry %s (%s) already set up", e.Name, id)
	}

	gate := p.opts.Gate
	if e.Options.Sensor != "" && gate == nil {
		slog.Warn("platform: gate sensor configured without homeassistant, ignoring",
			"entry", e.Name, "sensor", e.Options.Sensor)
	}

	inst := &instance{entry: e}
	err := p.wire(inst, gate)

	p.mu.Lock()
	delete(p.settingUp, id)
	if err == nil {
		p.entries[id] = inst
	}
	p.mu.Unlock()
	if err != nil {
		return err
	}

	if inst.runner != nil {
		rctx, cancel := context.WithCancel(ctx)
		inst.cancel = cancel
		inst.done = make(chan struct{})
		unsub := inst.runner.OnUpdate(func() { p.publish(inst) })
		go func() {
			defer close(inst.done)
			defer unsub()
			if err := inst.runner.Refresh(rctx); err != nil {
				slog.Warn("platform: first refresh failed", "entry", e.Name, "err", err)
			}
			inst.runner.Run(rctx)
		}()
	} else {
		// Registry entries publish a pending entity until the next pass.
		p.publish(inst)
	}

	slog.Info("platform: entry set up", "entry", e.Name, "id", id, "type", e.Type)
	return nil
}

// wire builds the data source of an entry.
func (p *Platform) wire(inst *instance, gate coordinator.Gate) error {
	e := inst.entry
	b := p.opts.Builder
	w := p.opts.Worker
	o := e.Options

	switch e.Type {
	case config.TypeDeparture:
		if p.opts.Departures == nil {
			return fmt.Errorf("platform: %s: no departure source", e.Name)
		}
		c := coordinator.NewDeparture(e, p.opts.Departures, gate)
		p.observe(c)
		inst.runner = c
		inst.build = func() []*types.Entity {
			data, _ := c.Data()
			return b.Departure(e, c.Status(), data)
		}

	case config.TypeStatus:
		if p.opts.Deviations == nil {
			return fmt.Errorf("platform: %s: no deviation source", e.Name)
		}
		c := coordinator.NewStatus(e, p.opts.Deviations, gate)
		p.observe(c)
		inst.runner = c
		inst.build = func() []*types.Entity {
			data, _ := c.Data()
			return b.Status(e, c.Status(), data)
		}

	case config.TypeRoute:
		if p.opts.Trips == nil {
			return fmt.Errorf("platform: %s: no trip source", e.Name)
		}
		c, err := coordinator.NewRoute(e, p.opts.Trips, gate)
		if err != nil {
			return fmt.Errorf("platform: %w", err)
		}
		p.observe(c)
		inst.runner = c
		inst.build = func() []*types.Entity {
			data, _ := c.Data()
			return b.Route(e, c.Status(), data)
		}

	case config.TypeVehicles:
		if p.opts.Vehicles == nil {
			return fmt.Errorf("platform: %s: no vehicle source", e.Name)
		}
		c := coordinator.NewVehicles(e, p.opts.Vehicles(o.APIKey()), gate)
		p.observe(c)
		inst.runner = c
		inst.build = func() []*types.Entity {
			data, _ := c.Data()
			return b.Vehicles(e, c.Status(), data)
		}

	case config.TypeRRD:
		key := o.APIKey()
		w.AssertRRD(key, o.Stop)
		inst.release = func() { w.ReleaseRRD(key, o.Stop) }
		p.slotEntry(inst, worker.RegistryRRD, o.Stop)

	case config.TypeRRA:
		key := o.APIKey()
		w.AssertRRA(key, o.Stop)
		inst.release = func() { w.ReleaseRRA(key, o.Stop) }
		p.slotEntry(inst, worker.RegistryRRA, o.Stop)

	case config.TypeRRR:
		key := o.APIKey()
		w.AssertRRR(key, o.Source, o.Destination)
		inst.release = func() { w.ReleaseRRR(key, o.Source, o.Destination) }
		p.slotEntry(inst, worker.RegistryRRR, worker.TripKey(o.Source, o.Destination))

	case config.TypeFP:
		w.AssertFP(o.TrainType)
		inst.release = func() { w.ReleaseFP(o.TrainType) }
		p.slotEntry(inst, worker.RegistryFP, o.TrainType)

	default:
		return fmt.Errorf("platform: %s: unknown entry type %q", e.Name, e.Type)
	}
	return nil
}

type observable interface {
	SetObserver(fn func(entryID string, err error))
}

func (p *Platform) observe(c observable) {
	if p.opts.Metrics == nil {
		return
	}
	c.SetObserver(func(entryID string, err error) {
		p.opts.Metrics.ObserveRefresh(SourceEntry, entryID, err)
	})
}

func (p *Platform) slotEntry(inst *instance, reg worker.Registry, id string) {
	inst.reg = reg
	inst.build = func() []*types.Entity {
		slot, _ := p.opts.Worker.Slot(reg, id)
		return []*types.Entity{p.opts.Builder.Slot(inst.entry, reg, slot)}
	}
}

// onRegistry republishes every entry backed by reg after a worker pass.
func (p *Platform) onRegistry(reg worker.Registry) {
	p.mu.Lock()
	var targets []*instance
	for _, inst := range p.entries {
		if inst.reg == reg {
			targets = append(targets, inst)
		}
	}
	p.mu.Unlock()

	for _, inst := range targets {
		p.publish(inst)
	}
}

// publish fans the current entities of inst out to every sink. Nothing is
// written once Unload has closed inst.
func (p *Platform) publish(inst *instance) {
	p.mu.Lock()
	live := p.entries[inst.entry.UniqueID()] == inst
	p.mu.Unlock()
	if !live {
		return
	}

	inst.pubMu.Lock()
	defer inst.pubMu.Unlock()
	if inst.closed {
		return
	}
	for _, ent := range inst.build() {
		p.opts.Store.Put(ent)
		if p.opts.Alerts != nil {
			p.opts.Alerts.Evaluate(ent)
		}
		if p.opts.Publisher != nil && ent.EnabledDefault {
			p.opts.Publisher.Put(ent)
		}
	}
}

// Unload stops an entry, releases its registry subscriptions and deletes
// its entities from every sink. Unknown ids are ignored.
func (p *Platform) Unload(entryID string) {
	p.mu.Lock()
	inst, ok := p.entries[entryID]
	delete(p.entries, entryID)
	p.mu.Unlock()
	if !ok {
		return
	}

	if inst.cancel != nil {
		inst.cancel()
		<-inst.done
	}
	// Waits for an in-flight worker publish to finish.
	inst.pubMu.Lock()
	inst.closed = true
	inst.pubMu.Unlock()

	if inst.release != nil {
		inst.release()
	}

	n := p.opts.Store.DeleteEntry(entryID)
	if p.opts.Alerts != nil {
		p.opts.Alerts.DeleteEntry(entryID)
	}
	if p.opts.Publisher != nil {
		p.opts.Publisher.DeleteEntry(entryID)
	}
	slog.Info("platform: entry unloaded", "entry", inst.entry.Name, "id", entryID, "entities", n)
}

// Apply brings the running entries in line with entries: removed entries
// are unloaded, new ones set up and changed ones reloaded. Setup errors are
// logged and the remaining entries still applied; the first error is
// returned.
func (p *Platform) Apply(ctx context.Context, entries []config.Entry) error {
	want := make(map[string]config.Entry, len(entries))
	for _, e := range entries {
		want[e.UniqueID()] = e
	}

	p.mu.Lock()
	running := make(map[string]config.Entry, len(p.entries))
	for id, inst := range p.entries {
		running[id] = inst.entry
	}
	p.mu.Unlock()

	var removed, added, reloaded int
	for id := range running {
		if _, ok := want[id]; !ok {
			p.Unload(id)
			removed++
		}
	}

	var firstErr error
	for _, e := range entries {
		id := e.UniqueID()
		old, ok := running[id]
		switch {
		case !ok:
			added++
		case reflect.DeepEqual(old, e):
			continue
		default:
			p.Unload(id)
			reloaded++
		}
		if err := p.Setup(ctx, e); err != nil {
			slog.Error("platform: entry setup failed", "entry", e.Name, "err", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	slog.Info("platform: config applied", "added", added, "removed", removed, "reloaded", reloaded)
	return firstErr
}

// Entries returns the status of every running entry sorted by name.
func (p *Platform) Entries() []EntryStatus {
	p.mu.Lock()
	insts := make([]*instance, 0, len(p.entries))
	for _, inst := range p.entries {
		insts = append(insts, inst)
	}
	p.mu.Unlock()

	out := make([]EntryStatus, 0, len(insts))
	for _, inst := range insts {
		id := inst.entry.UniqueID()
		es := EntryStatus{
			ID:       id,
			Name:     inst.entry.Name,
			Type:     inst.entry.Type,
			Registry: string(inst.reg),
			Entities: len(p.opts.Store.ListEntry(id)),
		}
		if inst.runner != nil {
			st := inst.runner.Status()
			es.Coordinator = &st
		}
		out = append(out, es)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Close unloads every entry and detaches from the worker.
func (p *Platform) Close() {
	p.mu.Lock()
	ids := make([]string, 0, len(p.entries))
	for id := range p.entries {
		ids = append(ids, id)
	}
	p.mu.Unlock()

	for _, id := range ids {
		p.Unload(id)
	}
	p.unsubWorker()
}
