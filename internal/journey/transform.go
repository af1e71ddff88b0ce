package journey

import (
	"errors"
	"fmt"
	"time"

	"github.com/sosodev/duration"
)

// WalkLeg is the leg type of walking segments.
const WalkLeg = "WALK"

var ErrNoTrips = errors.New("journey: response contains no trips")

// LegSummary is a flattened leg.
type LegSummary struct {
	Line      string           `json:"line"`
	Direction string           `json:"direction"`
	Category  string           `json:"category"`
	Name      string           `json:"name"`
	From      string           `json:"from"`
	To        string           `json:"to"`
	Time      string           `json:"time"`
	Stops     []map[string]any `json:"stops,omitempty"`
}

// TripSummary is a flattened trip.
type TripSummary struct {
	Legs     []LegSummary `json:"legs"`
	FirstLeg string       `json:"first_leg"`
	Time     string       `json:"time"`
	Duration string       `json:"duration"`
}

// Endpoint summarises the first or last non-walking leg of a route.
type Endpoint struct {
	Leg       string `json:"leg"`
	Line      string `json:"line"`
	Direction string `json:"direction"`
	Category  string `json:"category"`
	Time      string `json:"time"`
	From      string `json:"from"`
	To        string `json:"to"`
}

// Route is the sensor payload: every trip plus shortcuts into the first one.
type Route struct {
	Trips       []TripSummary `json:"trips"`
	Transfers   int           `json:"transfers"`
	Time        string        `json:"time"`
	Duration    string        `json:"duration"`
	From        string        `json:"from"`
	To          string        `json:"to"`
	Origin      Endpoint      `json:"origin"`
	Destination Endpoint      `json:"destination"`
}

// Transform flattens a trip response into a Route.
func Transform(r *Response) (*Route, error) {
	if r == nil || len(r.Trips) == 0 {
		return nil, ErrNoTrips
	}

	route := &Route{Trips: make([]TripSummary, 0, len(r.Trips))}
	for i, trip := range r.Trips {
		ts, err := summarizeTrip(trip)
		if err != nil {
			return nil, fmt.Errorf("journey: trip %d: %w", i, err)
		}
		route.Trips = append(route.Trips, ts)
	}

	first := route.Trips[0]
	route.Time = first.Time
	route.Duration = first.Duration
	if n := len(first.Legs); n > 0 {
		route.From = first.Legs[0].From
		route.To = first.Legs[n-1].To
	}

	rides := 0
	for _, l := range first.Legs {
		if l.Category != WalkLeg {
			rides++
		}
	}
	route.Transfers = max(rides-1, 0)

	for _, l := range first.Legs {
		if l.Category != WalkLeg {
			route.Origin = endpointOf(l)
			break
		}
	}
	for i := len(first.Legs) - 1; i >= 0; i-- {
		if l := first.Legs[i]; l.Category != WalkLeg {
			route.Destination = endpointOf(l)
			break
		}
	}
	return route, nil
}

func summarizeTrip(trip Trip) (TripSummary, error) {
	legs := trip.LegList.Legs
	if len(legs) == 0 {
		return TripSummary{}, errors.New("trip has no legs")
	}

	ts := TripSummary{Legs: make([]LegSummary, 0, len(legs))}
	for _, leg := range legs {
		ts.Legs = append(ts.Legs, summarizeLeg(leg))
	}
	ts.FirstLeg = ts.Legs[0].Name
	ts.Time = ts.Legs[0].Time

	d, err := FormatDuration(trip.Duration)
	if err != nil {
		return TripSummary{}, err
	}
	ts.Duration = d
	return ts, nil
}

func summarizeLeg(leg Leg) LegSummary {
	var p Product
	if len(leg.Products) > 0 {
		p = leg.Products[0]
	}
	name := p.Name
	if name == "" {
		name = leg.Name
	}

	ls := LegSummary{
		Category: leg.Type,
		Name:     name,
		From:     leg.Origin.Name,
		To:       leg.Destination.Name,
		Time:     leg.Origin.Date + " " + leg.Origin.Time,
	}
	if leg.Type == WalkLeg {
		ls.Line = "Walk"
		ls.Direction = "Walk"
	} else {
		ls.Line = p.Line.String()
		if ls.Line == "" {
			ls.Line = p.DisplayNumber.String()
		}
		ls.Direction = leg.DirectionFlag.String()
	}
	if leg.Stops != nil && len(leg.Stops.Stop) > 0 {
		ls.Stops = leg.Stops.Stop
	}
	return ls
}

func endpointOf(l LegSummary) Endpoint {
	return Endpoint{
		Leg:       l.Name,
		Line:      l.Line,
		Direction: l.Direction,
		Category:  l.Category,
		Time:      l.Time,
		From:      l.From,
		To:        l.To,
	}
}

// FormatDuration renders an ISO-8601 duration ("PT1H5M") as H:MM:SS.
func FormatDuration(iso string) (string, error) {
	d, err := duration.Parse(iso)
	if err != nil {
		return "", fmt.Errorf("parse duration %q: %w", iso, err)
	}
	td := d.ToTimeDuration().Round(time.Second)
	h := int(td / time.Hour)
	m := int(td % time.Hour / time.Minute)
	s := int(td % time.Minute / time.Second)
	return fmt.Sprintf("%d:%02d:%02d", h, m, s), nil
}
