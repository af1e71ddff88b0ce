package slapi

import (
	"net/http"
	"time"

	"github.com/hasl-sensors/hasl/internal/apiclient"
)

// Upstream base URLs.
const (
	DefaultTransportURL    = "https://transport.integration.sl.se/v1"
	DefaultDeviationsURL   = "https://deviations.integration.sl.se/v1/messages"
	DefaultRoutePlannerURL = "https://journeyplanner.integration.sl.se/v1/TravelplannerV3_1/trip.json"
	DefaultPositionsURL    = "https://api.sl.se/fordonspositioner/GetData"
)

// Attribution is shown on every entity sourced from SL.
const Attribution = "Stockholm Lokaltrafik"

// Client talks to the SL APIs. The zero value is not usable; call New.
type Client struct {
	http *http.Client
	loc  *time.Location
	now  func() time.Time

	TransportURL    string
	DeviationsURL   string
	RoutePlannerURL string
	PositionsURL    string
}

// New returns a Client using httpClient (apiclient defaults when nil).
// loc is the zone SL reports local timestamps in.
func New(httpClient *http.Client, loc *time.Location) *Client {
	if httpClient == nil {
		httpClient = apiclient.NewHTTPClient(0)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Client{
		http:            httpClient,
		loc:             loc,
		now:             time.Now,
		TransportURL:    DefaultTransportURL,
		DeviationsURL:   DefaultDeviationsURL,
		RoutePlannerURL: DefaultRoutePlannerURL,
		PositionsURL:    DefaultPositionsURL,
	}
}
