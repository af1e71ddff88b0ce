package coordinator

import (
	"context"
	"fmt"

	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/internal/gtfsrt"
	"github.com/hasl-sensors/hasl/internal/journey"
	"github.com/hasl-sensors/hasl/internal/slapi"
)

// DepartureSource is the subset of *slapi.Client used by departure entries.
type DepartureSource interface {
	Departures(ctx context.Context, q slapi.DepartureQuery) (*slapi.SiteDepartures, error)
}

// DeviationSource is the subset of *slapi.Client used by status entries.
type DeviationSource interface {
	Deviations(ctx context.Context, q slapi.DeviationQuery) ([]slapi.Deviation, error)
}

// TripSource is the subset of *slapi.Client used by route entries.
type TripSource interface {
	Trip(ctx context.Context, key string, ep slapi.Endpoints) (*journey.Response, error)
}

// VehicleSource is the subset of *gtfsrt.Client used by vehicles entries.
type VehicleSource interface {
	VehiclePositions(ctx context.Context, operator string, routes []string) (*gtfsrt.Feed, error)
}

func settingsFor(e config.Entry, gate Gate) Settings {
	return Settings{
		EntryID:  e.UniqueID(),
		Name:     e.Name,
		Interval: e.Options.ScanInterval,
		Sensor:   e.Options.Sensor,
		Gate:     gate,
	}
}

// NewDeparture polls SL transport departures for a departure entry.
func NewDeparture(e config.Entry, src DepartureSource, gate Gate) *Coordinator[*slapi.SiteDepartures] {
	q := slapi.DepartureQuery{
		SiteID:    e.Options.SiteID,
		Transport: slapi.TransportMode(e.Options.Transport),
		Direction: slapi.Direction(e.Options.Direction),
		Line:      e.Options.Line,
		Forecast:  e.Options.TimeWindow,
	}
	return New(settingsFor(e, gate), func(ctx context.Context) (*slapi.SiteDepartures, error) {
		return src.Departures(ctx, q)
	})
}

// NewStatus polls SL deviations for a status entry.
func NewStatus(e config.Entry, src DeviationSource, gate Gate) *Coordinator[[]slapi.Deviation] {
	q := slapi.DeviationQuery{Sites: e.Options.SiteIDs, Lines: e.Options.Lines}
	for _, t := range e.Options.Transports {
		q.TransportModes = append(q.TransportModes, slapi.TransportMode(t))
	}
	return New(settingsFor(e, gate), func(ctx context.Context) ([]slapi.Deviation, error) {
		return src.Deviations(ctx, q)
	})
}

// NewRoute plans trips with route planner 3.1 for a route entry. An invalid
// key marks the coordinator StateAuthFailed.
func NewRoute(e config.Entry, src TripSource, gate Gate) (*Coordinator[*journey.Route], error) {
	ep, err := slapi.SiteIDOrCoords(e.Options.Source, e.Options.Destination)
	if err != nil {
		return nil, fmt.Errorf("coordinator: route %s: %w", e.Name, err)
	}
	s := settingsFor(e, gate)
	s.IsAuthError = slapi.IsAuthError
	opts := e.Options
	return New(s, func(ctx context.Context) (*journey.Route, error) {
		resp, err := src.Trip(ctx, opts.APIKey(), ep)
		if err != nil {
			return nil, err
		}
		return journey.Transform(resp)
	}), nil
}

// NewVehicles polls a GTFS-Realtime vehicle positions feed.
func NewVehicles(e config.Entry, src VehicleSource, gate Gate) *Coordinator[*gtfsrt.Feed] {
	operator, routes := e.Options.Operator, e.Options.Routes
	return New(settingsFor(e, gate), func(ctx context.Context) (*gtfsrt.Feed, error) {
		return src.VehiclePositions(ctx, operator, routes)
	})
}
