// Package sensor builds the published entities of every entry type from
// coordinator data and worker registry slots.
package sensor

import (
	"sort"
	"strings"
	"time"

	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/internal/coordinator"
	"github.com/hasl-sensors/hasl/internal/gtfsrt"
	"github.com/hasl-sensors/hasl/internal/journey"
	"github.com/hasl-sensors/hasl/internal/rrapi"
	"github.com/hasl-sensors/hasl/internal/slapi"
	"github.com/hasl-sensors/hasl/internal/timeparse"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/pkg/types"
)

// Entity keys, appended to the entry id to form unique ids.
const (
	KeyDepartures    = "departures"
	KeyDeviations    = "deviations"
	KeyNextDeparture = "next_departure"
	KeyStatus        = "status"
	KeyRoute         = "route"
	KeyArrivals      = "arrivals"
	KeyTrip          = "trip"
	KeyPositions     = "positions"
	KeyVehicles      = "vehicles"
)

const (
	deviceClassTimestamp = "timestamp"
	unitMinutes          = "min"
	model                = "hasl3"
)

// Builder turns entry data into entities.
type Builder struct {
	Version string
	loc     *time.Location
	now     func() time.Time
}

// NewBuilder returns a Builder stamping entities with the wall clock. loc is
// the zone "HH:MM" departure displays are read in; nil means UTC.
func NewBuilder(version string, loc *time.Location) *Builder {
	if loc == nil {
		loc = time.UTC
	}
	return &Builder{Version: version, loc: loc, now: time.Now}
}

// DepartureView is a departure with its display text parsed into minutes.
type DepartureView struct {
	slapi.Departure
	Minutes *int `json:"minutes,omitempty"`
}

func (b *Builder) device(e config.Entry, manufacturer string) *types.DeviceInfo {
	return &types.DeviceInfo{
		Identifiers:  []string{"hasl3_" + e.UniqueID()},
		Name:         e.Name,
		Manufacturer: manufacturer,
		Model:        model,
		SWVersion:    b.Version,
	}
}

func (b *Builder) base(e config.Entry, key, name, manufacturer string) *types.Entity {
	return &types.Entity{
		UniqueID:       e.UniqueID() + "_" + key,
		EntityID:       "sensor." + Slug(e.Name) + "_" + key,
		EntryID:        e.UniqueID(),
		Key:            key,
		Name:           name,
		Attributes:     map[string]any{},
		EnabledDefault: true,
		Device:         b.device(e, manufacturer),
		UpdatedAt:      b.now().UTC(),
	}
}

// coordinatorAttrs records the refresh bookkeeping on coordinator entities.
func coordinatorAttrs(ent *types.Entity, st coordinator.Status) {
	ent.Available = st.State == types.ResultSuccess
	ent.Attributes["api_result"] = st.State
	if st.LastError != "" {
		ent.Attributes["api_error"] = st.LastError
	}
	if !st.LastUpdate.IsZero() {
		ent.Attributes["last_updated"] = st.LastUpdate.UTC().Format(time.RFC3339)
	}
}

// Departure builds the departures, deviations and next_departure entities.
func (b *Builder) Departure(e config.Entry, st coordinator.Status, data *slapi.SiteDepartures) []*types.Entity {
	now := b.now()

	deps := b.base(e, KeyDepartures, "Departures", slapi.Attribution)
	deps.Icon = "mdi:train"
	deps.Attribution = slapi.Attribution
	deps.Unrecorded = []string{"departures"}
	coordinatorAttrs(deps, st)

	devs := b.base(e, KeyDeviations, "Stop deviations", slapi.Attribution)
	devs.Icon = "mdi:alert"
	devs.Category = types.CategoryDiagnostic
	devs.EnabledDefault = false
	devs.Attribution = slapi.Attribution
	devs.Unrecorded = []string{"deviations"}
	coordinatorAttrs(devs, st)

	next := b.base(e, KeyNextDeparture, "Next Departure", slapi.Attribution)
	next.Icon = "mdi:clock"
	next.Category = types.CategoryDiagnostic
	next.DeviceClass = deviceClassTimestamp
	next.EnabledDefault = false
	next.Attribution = slapi.Attribution
	coordinatorAttrs(next, st)

	if data != nil {
		views := make([]DepartureView, 0, len(data.Departures))
		for _, d := range data.Departures {
			v := DepartureView{Departure: d}
			if m, ok := timeparse.ParseRelativeDeparture(d.Display, now.In(b.loc)); ok {
				v.Minutes = &m
			}
			views = append(views, v)
		}
		deps.State = len(views)
		deps.Attributes["departures"] = views

		devs.State = len(data.StopDeviations)
		devs.Attributes["deviations"] = data.StopDeviations

		if len(data.Departures) > 0 {
			sorted := append([]slapi.Departure(nil), data.Departures...)
			sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].When().Before(sorted[j].When()) })
			next.State = sorted[0].When()
		}
	}
	return []*types.Entity{deps, devs, next}
}

// Status builds the deviation count entity of a status entry.
func (b *Builder) Status(e config.Entry, st coordinator.Status, devs []slapi.Deviation) []*types.Entity {
	ent := b.base(e, KeyStatus, "Deviations", slapi.Attribution)
	ent.Icon = "mdi:alert"
	ent.Attribution = slapi.Attribution
	ent.Unrecorded = []string{"deviations"}
	coordinatorAttrs(ent, st)
	if devs != nil {
		ent.State = len(devs)
		ent.Attributes["deviations"] = devs
	}
	return []*types.Entity{ent}
}

// Route builds the trips entity of a route entry.
func (b *Builder) Route(e config.Entry, st coordinator.Status, route *journey.Route) []*types.Entity {
	ent := b.base(e, KeyRoute, "Trips", slapi.Attribution)
	ent.Icon = "mdi:train"
	ent.Attribution = slapi.Attribution
	ent.Unrecorded = []string{"route"}
	coordinatorAttrs(ent, st)
	if st.State == coordinator.StateAuthFailed {
		ent.Attributes["reauth_required"] = true
	}
	if route != nil {
		ent.State = len(route.Trips)
		ent.Attributes["route"] = route
		ent.Attributes["transfers"] = route.Transfers
	}
	return []*types.Entity{ent}
}

// Vehicles builds the vehicle count entity of a GTFS-Realtime entry.
func (b *Builder) Vehicles(e config.Entry, st coordinator.Status, feed *gtfsrt.Feed) []*types.Entity {
	ent := b.base(e, KeyVehicles, "Vehicles", gtfsrt.Attribution)
	ent.Icon = "mdi:bus-marker"
	ent.Attribution = gtfsrt.Attribution
	ent.Unrecorded = []string{"vehicles"}
	coordinatorAttrs(ent, st)
	if feed != nil {
		ent.State = len(feed.Vehicles)
		ent.Attributes["vehicles"] = feed.Vehicles
		if !feed.Timestamp.IsZero() {
			ent.Attributes["feed_timestamp"] = feed.Timestamp.Format(time.RFC3339)
		}
	}
	return []*types.Entity{ent}
}

// Slot builds the entity of a registry-backed entry (rrd, rra, rrr, fp).
// A nil slot yields an unavailable entity.
func (b *Builder) Slot(e config.Entry, reg worker.Registry, slot *worker.Slot) *types.Entity {
	var ent *types.Entity
	switch reg {
	case worker.RegistryRRD:
		ent = b.base(e, KeyDepartures, "Departures", rrapi.Attribution)
		ent.Unit = unitMinutes
		ent.Icon = "mdi:train-car"
		ent.Unrecorded = []string{"departures"}
	case worker.RegistryRRA:
		ent = b.base(e, KeyArrivals, "Arrivals", rrapi.Attribution)
		ent.Unit = unitMinutes
		ent.Icon = "mdi:train-car"
		ent.Unrecorded = []string{"arrivals"}
	case worker.RegistryRRR:
		ent = b.base(e, KeyTrip, "Trip", rrapi.Attribution)
		ent.Icon = "mdi:train"
		ent.Unrecorded = []string{"trips"}
	default:
		ent = b.base(e, KeyPositions, "Vehicle positions", slapi.Attribution)
		ent.Icon = "mdi:train"
		ent.Unrecorded = []string{"data"}
	}
	if slot == nil {
		return ent
	}

	ent.Attribution = slot.Attribution
	ent.Available = slot.APIResult == types.ResultSuccess
	ent.Attributes["api_type"] = slot.APIType
	ent.Attributes["api_result"] = slot.APIResult
	ent.Attributes["api_lastrun"] = slot.APILastRun
	ent.Attributes["success_percent"] = slot.SuccessPercent
	if slot.APIError != "" {
		ent.Attributes["api_error"] = slot.APIError
	}
	if slot.LastUpdated != "" {
		ent.Attributes["last_updated"] = slot.LastUpdated
	}

	switch data := slot.Data.(type) {
	case []worker.BoardDeparture:
		ent.Attributes["departures"] = data
		if len(data) > 0 {
			ent.State = data[0].Time
			ent.Icon = data[0].Icon
		}
	case []worker.BoardArrival:
		ent.Attributes["arrivals"] = data
		if len(data) > 0 {
			ent.State = data[0].Time
			ent.Icon = data[0].Icon
		}
	case *journey.Route:
		ent.State = data.Time
		ent.Attributes["trips"] = data.Trips
		ent.Attributes["transfers"] = data.Transfers
		ent.Attributes["duration"] = data.Duration
		ent.Attributes["from"] = data.From
		ent.Attributes["to"] = data.To
		ent.Attributes["origin"] = data.Origin
		ent.Attributes["destination"] = data.Destination
	case []map[string]any:
		ent.State = len(data)
		ent.Attributes["data"] = data
	}
	return ent
}

var transliterate = strings.NewReplacer(
	"å", "a", "ä", "a", "ö", "o", "Å", "a", "Ä", "a", "Ö", "o",
	"é", "e", "ü", "u",
)

// Slug converts a display name into an entity object id: lowercase ASCII
// letters and digits joined by single underscores.
func Slug(name string) string {
	name = strings.ToLower(transliterate.Replace(name))
	var sb strings.Builder
	underscore := false
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			sb.WriteRune(r)
			underscore = false
			continue
		}
		if !underscore && sb.Len() > 0 {
			sb.WriteByte('_')
			underscore = true
		}
	}
	return strings.TrimSuffix(sb.String(), "_")
}
