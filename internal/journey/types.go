// Package journey maps HAFAS trip responses (SL route planner 3.1 and
// Resrobot v2.1 share the format) into the route summaries exposed by the
// route sensors.
package journey

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// Response is the subset of a HAFAS trip response the sensors consume.
type Response struct {
	Trips []Trip `json:"Trip"`
}

// Trip is one itinerary.
type Trip struct {
	Duration string  `json:"duration"`
	LegList  LegList `json:"LegList"`
}

// LegList wraps the legs of a trip.
type LegList struct {
	Legs []Leg `json:"Leg"`
}

// Leg is one journey segment.
type Leg struct {
	Type          string   `json:"type"`
	DirectionFlag Flex     `json:"directionFlag"`
	Name          string   `json:"name"`
	Products      Products `json:"Product"`
	Origin        Place    `json:"Origin"`
	Destination   Place    `json:"Destination"`
	Stops         *Stops   `json:"Stops,omitempty"`
}

// Place is a leg origin or destination.
type Place struct {
	Name  string `json:"name"`
	ExtID Flex   `json:"extId"`
	Date  string `json:"date"`
	Time  string `json:"time"`
}

// Stops is the pass list of a leg, kept verbatim.
type Stops struct {
	Stop []map[string]any `json:"Stop"`
}

// Product describes the vehicle serving a leg.
type Product struct {
	Name          string `json:"name"`
	Line          Flex   `json:"line"`
	DisplayNumber Flex   `json:"displayNumber"`
	CatOut        string `json:"catOut"`
	Operator      string `json:"operator"`
}

// Products accepts either a single object or an array; the two APIs disagree.
type Products []Product

func (p *Products) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*p = nil
		return nil
	}
	if b[0] == '[' {
		var list []Product
		if err := json.Unmarshal(b, &list); err != nil {
			return err
		}
		*p = list
		return nil
	}
	var one Product
	if err := json.Unmarshal(b, &one); err != nil {
		return err
	}
	*p = Products{one}
	return nil
}

// Flex is a JSON scalar that may arrive as a string or a number.
type Flex string

func (f *Flex) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		s, err := strconv.Unquote(string(b))
		if err != nil {
			return err
		}
		*f = Flex(s)
		return nil
	}
	*f = Flex(b)
	return nil
}

func (f Flex) String() string { return string(f) }
