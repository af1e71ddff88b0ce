package slapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/hasl-sensors/hasl/internal/apiclient"
)

// TransportMode is an SL transport mode.
type TransportMode string

const (
	TransportBus   TransportMode = "BUS"
	TransportTram  TransportMode = "TRAM"
	TransportMetro TransportMode = "METRO"
	TransportTrain TransportMode = "TRAIN"
	TransportFerry TransportMode = "FERRY"
	TransportShip  TransportMode = "SHIP"
	TransportTaxi  TransportMode = "TAXI"
)

// Direction filters departures by direction code. DirectionAny disables it.
type Direction int

const (
	DirectionAny Direction = 0
	Direction1   Direction = 1
	Direction2   Direction = 2
)

// DefaultForecast is the departure window in minutes.
const DefaultForecast = 60

const localLayout = "2006-01-02T15:04:05"

// DepartureQuery selects departures from one site.
type DepartureQuery struct {
	SiteID    int
	Transport TransportMode
	Direction Direction
	Line      int
	Forecast  int
}

// SiteDepartures is the body of the transport departures endpoint.
type SiteDepartures struct {
	Departures     []Departure     `json:"departures"`
	StopDeviations []StopDeviation `json:"stop_deviations"`
}

// Departure is a single upcoming departure.
type Departure struct {
	Destination   string           `json:"destination"`
	DirectionCode int              `json:"direction_code"`
	Direction     string           `json:"direction"`
	State         string           `json:"state"`
	Display       string           `json:"display"`
	Scheduled     time.Time        `json:"scheduled"`
	Expected      *time.Time       `json:"expected,omitempty"`
	Journey       Journey          `json:"journey"`
	StopArea      StopArea         `json:"stop_area"`
	StopPoint     StopPoint        `json:"stop_point"`
	Line          Line             `json:"line"`
	Deviations    []DepartureAlert `json:"deviations"`
}

// When returns the expected time when known, else the scheduled one.
func (d Departure) When() time.Time {
	if d.Expected != nil && !d.Expected.IsZero() {
		return *d.Expected
	}
	return d.Scheduled
}

type Journey struct {
	ID              int64  `json:"id"`
	State           string `json:"state"`
	PredictionState string `json:"prediction_state,omitempty"`
	PassengerLevel  string `json:"passenger_level,omitempty"`
}

type StopArea struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
	Type string `json:"type"`
}

type StopPoint struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Designation string `json:"designation,omitempty"`
}

type Line struct {
	ID            int           `json:"id"`
	Designation   string        `json:"designation"`
	TransportMode TransportMode `json:"transport_mode"`
	GroupOfLines  string        `json:"group_of_lines,omitempty"`
}

// DepartureAlert is a deviation attached to a departure.
type DepartureAlert struct {
	ImportanceLevel int    `json:"importance_level"`
	Consequence     string `json:"consequence"`
	Message         string `json:"message"`
}

// StopDeviation is a deviation affecting the stop itself.
type StopDeviation struct {
	ID              int64  `json:"id"`
	ImportanceLevel int    `json:"importance_level"`
	Message         string `json:"message"`
	Scope           any    `json:"scope,omitempty"`
}

type rawDeparture struct {
	Departure
	Scheduled string `json:"scheduled"`
	Expected  string `json:"expected"`
}

type rawSiteDepartures struct {
	Departures     []rawDeparture  `json:"departures"`
	StopDeviations []StopDeviation `json:"stop_deviations"`
}

// Departures fetches upcoming departures for q.SiteID.
func (c *Client) Departures(ctx context.Context, q DepartureQuery) (*SiteDepartures, error) {
	if q.SiteID <= 0 {
		return nil, fmt.Errorf("slapi: invalid site id %d", q.SiteID)
	}
	params := url.Values{}
	if q.Transport != "" {
		params.Set("transport", string(q.Transport))
	}
	if q.Direction != DirectionAny {
		params.Set("direction", strconv.Itoa(int(q.Direction)))
	}
	if q.Line > 0 {
		params.Set("line", strconv.Itoa(q.Line))
	}
	forecast := q.Forecast
	if forecast <= 0 {
		forecast = DefaultForecast
	}
	params.Set("forecast", strconv.Itoa(forecast))

	u := fmt.Sprintf("%s/sites/%d/departures?%s", c.TransportURL, q.SiteID, params.Encode())

	var raw rawSiteDepartures
	if err := apiclient.GetJSON(ctx, c.http, u, &raw); err != nil {
		return nil, fmt.Errorf("slapi: departures for site %d: %w", q.SiteID, err)
	}

	out := &SiteDepartures{
		Departures:     make([]Departure, 0, len(raw.Departures)),
		StopDeviations: raw.StopDeviations,
	}
	if out.StopDeviations == nil {
		out.StopDeviations = []StopDeviation{}
	}
	for _, rd := range raw.Departures {
		d := rd.Departure
		if rd.Scheduled != "" {
			t, err := time.ParseInLocation(localLayout, rd.Scheduled, c.loc)
			if err != nil {
				return nil, fmt.Errorf("slapi: departure scheduled %q: %w", rd.Scheduled, err)
			}
			d.Scheduled = t
		}
		if rd.Expected != "" {
			t, err := time.ParseInLocation(localLayout, rd.Expected, c.loc)
			if err != nil {
				return nil, fmt.Errorf("slapi: departure expected %q: %w", rd.Expected, err)
			}
			d.Expected = &t
		}
		out.Departures = append(out.Departures, d)
	}
	return out, nil
}
