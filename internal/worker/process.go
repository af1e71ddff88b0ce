package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/hasl-sensors/hasl/internal/idset"
	"github.com/hasl-sensors/hasl/internal/journey"
	"github.com/hasl-sensors/hasl/internal/rrapi"
	"github.com/hasl-sensors/hasl/internal/slapi"
	"github.com/hasl-sensors/hasl/internal/timeparse"
)

// iconByCategory maps Resrobot catOut codes to icons.
var iconByCategory = map[string]string{
	"BLT": "mdi:bus",
	"BXB": "mdi:bus",
	"ULT": "mdi:subway-variant",
	"JAX": "mdi:train",
	"JLT": "mdi:train",
	"JRE": "mdi:train",
	"JIC": "mdi:train",
	"JPT": "mdi:train",
	"JEX": "mdi:train",
	"SLT": "mdi:tram",
	"FLT": "mdi:ferry",
	"FUT": "mdi:ferry",
}

// DefaultIcon is used for categories missing from iconByCategory.
const DefaultIcon = "mdi:train-car"

// Icon returns the icon of a Resrobot category.
func Icon(catOut string) string {
	if icon, ok := iconByCategory[catOut]; ok {
		return icon
	}
	return DefaultIcon
}

// BoardDeparture is one mapped departure board row.
type BoardDeparture struct {
	Line        string    `json:"line"`
	Direction   string    `json:"direction"`
	Departure   time.Time `json:"departure"`
	Destination string    `json:"destination"`
	Time        int       `json:"time"`
	Operator    string    `json:"operator"`
	Expected    time.Time `json:"expected"`
	Type        string    `json:"type"`
	Icon        string    `json:"icon"`
}

// BoardArrival is one mapped arrival board row.
type BoardArrival struct {
	Line     string    `json:"line"`
	Arrival  time.Time `json:"arrival"`
	Origin   string    `json:"origin"`
	Time     int       `json:"time"`
	Operator string    `json:"operator"`
	Expected time.Time `json:"expected"`
	Type     string    `json:"type"`
	Icon     string    `json:"icon"`
}

// Observer is told about every slot refresh; err is nil on success.
type Observer func(reg Registry, id string, err error)

// SetObserver installs fn. It must be called before Run.
func (w *Worker) SetObserver(fn Observer) { w.observer = fn }

func (w *Worker) observe(reg Registry, id string, err error) {
	if w.observer != nil {
		w.observer(reg, id, err)
	}
}

// fresh reports whether the slot was polled within minRefreshAge.
func (w *Worker) fresh(s *Slot, now time.Time) bool {
	if w.minRefreshAge <= 0 || s.APILastRun == InitialLastRun {
		return false
	}
	last, err := time.ParseInLocation(timeparse.Layout, s.APILastRun, w.loc)
	if err != nil {
		return false
	}
	return now.Sub(last) < w.minRefreshAge
}

// pending returns the unique identifiers of every key in keys, selected by
// list, paired with their key.
func (w *Worker) pending(keys map[string]*KeyRecord, list func(*KeyRecord) string, sep string) []keyIDs {
	w.mu.RLock()
	defer w.mu.RUnlock()
	names := make([]string, 0, len(keys))
	for k := range keys {
		names = append(names, k)
	}
	sort.Strings(names)

	out := make([]keyIDs, 0, len(names))
	for _, k := range names {
		if ids := idset.SplitUnique(list(keys[k]), sep); len(ids) > 0 {
			out = append(out, keyIDs{key: k, ids: ids})
		}
	}
	return out
}

type keyIDs struct {
	key string
	ids []string
}

// refresh runs fetch for id unless the slot is fresh or gone, then records the
// outcome on the slot.
func (w *Worker) refresh(ctx context.Context, reg Registry, id, attribution string, fetch func(context.Context) (any, error)) {
	w.mu.RLock()
	s, ok := w.slots(reg)[id]
	skip := !ok || w.fresh(s, w.now().In(w.loc))
	w.mu.RUnlock()
	if skip {
		return
	}

	data, err := fetch(ctx)
	now := w.now().In(w.loc)

	w.mu.Lock()
	s, ok = w.slots(reg)[id]
	if ok {
		if err != nil {
			s.fail(err)
		} else {
			s.succeed(data, attribution, now)
		}
		s.APILastRun = timeparse.Stamp(now)
	}
	w.mu.Unlock()

	if err != nil {
		slog.Debug("worker: slot update failed", "registry", reg, "id", id, "err", err)
	}
	w.observe(reg, id, err)
}

// ProcessRRD refreshes every subscribed departure board.
func (w *Worker) ProcessRRD(ctx context.Context) {
	for _, k := range w.pending(w.rrkeys, func(r *KeyRecord) string { return r.Deps }, idset.StopSep) {
		client := w.newResrobot(k.key)
		for _, stop := range k.ids {
			if ctx.Err() != nil {
				return
			}
			w.refresh(ctx, RegistryRRD, stop, rrapi.Attribution, func(ctx context.Context) (any, error) {
				entries, err := client.Departures(ctx, stop)
				if err != nil {
					return nil, err
				}
				return w.mapDepartures(entries)
			})
		}
	}
}

// ProcessRRA refreshes every subscribed arrival board.
func (w *Worker) ProcessRRA(ctx context.Context) {
	for _, k := range w.pending(w.rrkeys, func(r *KeyRecord) string { return r.Arrs }, idset.StopSep) {
		client := w.newResrobot(k.key)
		for _, stop := range k.ids {
			if ctx.Err() != nil {
				return
			}
			w.refresh(ctx, RegistryRRA, stop, rrapi.Attribution, func(ctx context.Context) (any, error) {
				entries, err := client.Arrivals(ctx, stop)
				if err != nil {
					return nil, err
				}
				return w.mapArrivals(entries)
			})
		}
	}
}

// ProcessRRR refreshes every subscribed Resrobot trip pair.
func (w *Worker) ProcessRRR(ctx context.Context) {
	for _, k := range w.pending(w.rrkeys, func(r *KeyRecord) string { return r.Trips }, idset.TripSep) {
		client := w.newResrobot(k.key)
		for _, trip := range k.ids {
			if ctx.Err() != nil {
				return
			}
			w.refresh(ctx, RegistryRRR, trip, rrapi.Attribution, func(ctx context.Context) (any, error) {
				src, dst, ok := splitTrip(trip)
				if !ok {
					return nil, fmt.Errorf("invalid trip %q", trip)
				}
				resp, err := client.Trip(ctx, src, dst)
				if err != nil {
					return nil, err
				}
				return journey.Transform(resp)
			})
		}
	}
}

// ProcessRP3 is a no-op: route planner trips are served by the route
// coordinator instead of the shared registry.
func (w *Worker) ProcessRP3(context.Context) {}

// ProcessFP refreshes every subscribed vehicle type.
func (w *Worker) ProcessFP(ctx context.Context) {
	w.mu.RLock()
	kinds := make([]string, 0, len(w.fp))
	for k := range w.fp {
		kinds = append(kinds, k)
	}
	w.mu.RUnlock()
	sort.Strings(kinds)

	for _, kind := range kinds {
		if ctx.Err() != nil {
			return
		}
		w.refresh(ctx, RegistryFP, kind, slapi.Attribution, func(ctx context.Context) (any, error) {
			if w.positions == nil {
				return nil, errors.New("no vehicle positions client configured")
			}
			return w.positions.VehiclePositions(ctx, kind)
		})
	}
}

// boardTimes returns the scheduled time, the expected time (realtime when
// present) and the rounded minutes until the expected time.
func (w *Worker) boardTimes(e rrapi.BoardEntry) (scheduled, expected time.Time, minutes int, err error) {
	scheduled, err = timeparse.ParseLocal(e.Date, e.Time, w.loc)
	if err != nil {
		return
	}
	expected = scheduled
	if e.Realtime() {
		expected, err = timeparse.ParseLocal(e.RtDate, e.RtTime, w.loc)
		if err != nil {
			return
		}
	}
	minutes = timeparse.MinutesUntil(expected, w.now().In(w.loc))
	return
}

func (w *Worker) mapDepartures(entries []rrapi.BoardEntry) ([]BoardDeparture, error) {
	out := make([]BoardDeparture, 0, len(entries))
	for _, e := range entries {
		scheduled, expected, minutes, err := w.boardTimes(e)
		if err != nil {
			return nil, err
		}
		out = append(out, BoardDeparture{
			Line:        e.ProductAtStop.DisplayNumber.String(),
			Direction:   e.DirectionFlag.String(),
			Departure:   scheduled,
			Destination: e.Direction,
			Time:        minutes,
			Operator:    e.ProductAtStop.Operator,
			Expected:    expected,
			Type:        e.ProductAtStop.CatOut,
			Icon:        Icon(e.ProductAtStop.CatOut),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

func (w *Worker) mapArrivals(entries []rrapi.BoardEntry) ([]BoardArrival, error) {
	out := make([]BoardArrival, 0, len(entries))
	for _, e := range entries {
		scheduled, expected, minutes, err := w.boardTimes(e)
		if err != nil {
			return nil, err
		}
		out = append(out, BoardArrival{
			Line:     e.ProductAtStop.DisplayNumber.String(),
			Arrival:  scheduled,
			Origin:   e.Origin,
			Time:     minutes,
			Operator: e.ProductAtStop.Operator,
			Expected: expected,
			Type:     e.ProductAtStop.CatOut,
			Icon:     Icon(e.ProductAtStop.CatOut),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}
