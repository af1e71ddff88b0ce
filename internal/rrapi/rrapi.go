// Package rrapi is a client for the Samtrafiken Resrobot v2.1 timetable API:
// departure boards, arrival boards and trip planning.
package rrapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/hasl-sensors/hasl/internal/apiclient"
	"github.com/hasl-sensors/hasl/internal/journey"
)

// DefaultBaseURL is the Resrobot v2.1 API root.
const DefaultBaseURL = "https://api.resrobot.se/v2.1"

// Attribution is shown on every entity sourced from Resrobot.
const Attribution = "Samtrafiken Resrobot"

// DefaultDuration is the board window in minutes.
const DefaultDuration = 60

// Error is a Resrobot error body.
type Error struct {
	Code string `json:"errorCode"`
	Text string `json:"errorText"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("rrapi: %s: %s", e.Code, e.Text)
}

// IsAuthError reports whether e is an authentication failure.
func (e *Error) IsAuthError() bool {
	return e.Code == "API_AUTH"
}

// ProductAtStop describes the vehicle of a board entry.
type ProductAtStop struct {
	Name          string       `json:"name"`
	DisplayNumber journey.Flex `json:"displayNumber"`
	Operator      string       `json:"operator"`
	CatOut        string       `json:"catOut"`
}

// BoardEntry is one row of a departure or arrival board.
type BoardEntry struct {
	ProductAtStop ProductAtStop `json:"ProductAtStop"`
	DirectionFlag journey.Flex  `json:"directionFlag"`
	Direction     string        `json:"direction"`
	Origin        string        `json:"origin"`
	Stop          string        `json:"stop"`
	StopExtID     journey.Flex  `json:"stopExtId"`
	Date          string        `json:"date"`
	Time          string        `json:"time"`
	RtDate        string        `json:"rtDate"`
	RtTime        string        `json:"rtTime"`
}

// Realtime reports whether the entry carries a realtime date and time.
func (b BoardEntry) Realtime() bool {
	return b.RtDate != "" && b.RtTime != ""
}

// Client talks to Resrobot with one access key.
type Client struct {
	http    *http.Client
	key     string
	BaseURL string

	// Duration is the board window in minutes.
	Duration int
}

// New returns a client for key. httpClient may be nil.
func New(httpClient *http.Client, key string) *Client {
	if httpClient == nil {
		httpClient = apiclient.NewHTTPClient(0)
	}
	return &Client{http: httpClient, key: key, BaseURL: DefaultBaseURL, Duration: DefaultDuration}
}

// Departures fetches the departure board of stop.
func (c *Client) Departures(ctx context.Context, stop string) ([]BoardEntry, error) {
	var out struct {
		Departure []BoardEntry `json:"Departure"`
	}
	if err := c.board(ctx, "departureBoard", stop, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Departure), nil
}

// Arrivals fetches the arrival board of stop.
func (c *Client) Arrivals(ctx context.Context, stop string) ([]BoardEntry, error) {
	var out struct {
		Arrival []BoardEntry `json:"Arrival"`
	}
	if err := c.board(ctx, "arrivalBoard", stop, &out); err != nil {
		return nil, err
	}
	return nonNil(out.Arrival), nil
}

// Trip plans a journey between two Resrobot stop ids.
func (c *Client) Trip(ctx context.Context, origin, dest string) (*journey.Response, error) {
	params := c.params()
	params.Set("originId", origin)
	params.Set("destId", dest)
	params.Set("passlist", "1")

	var out journey.Response
	if err := c.get(ctx, "trip", params, &out); err != nil {
		return nil, fmt.Errorf("rrapi: trip %s-%s: %w", origin, dest, err)
	}
	return &out, nil
}

func (c *Client) board(ctx context.Context, endpoint, stop string, v any) error {
	params := c.params()
	params.Set("id", stop)
	params.Set("duration", strconv.Itoa(c.Duration))
	if err := c.get(ctx, endpoint, params, v); err != nil {
		return fmt.Errorf("rrapi: %s %s: %w", endpoint, stop, err)
	}
	return nil
}

func (c *Client) params() url.Values {
	params := url.Values{}
	params.Set("format", "json")
	params.Set("accessId", c.key)
	return params
}

// get fetches endpoint and decodes into v, surfacing Resrobot error bodies
// for both 2xx and 4xx responses.
func (c *Client) get(ctx context.Context, endpoint string, params url.Values, v any) error {
	body, err := apiclient.GetBytes(ctx, c.http, c.BaseURL+"/"+endpoint+"?"+params.Encode())
	if err != nil {
		var he *apiclient.HTTPError
		if errors.As(err, &he) {
			if apiErr := parseError([]byte(he.Body)); apiErr != nil {
				return apiErr
			}
		}
		return err
	}
	if apiErr := parseError(body); apiErr != nil {
		return apiErr
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	return nil
}

func parseError(body []byte) *Error {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil
	}
	var e Error
	if err := json.Unmarshal(body, &e); err != nil || e.Code == "" {
		return nil
	}
	return &e
}

func nonNil(entries []BoardEntry) []BoardEntry {
	if entries == nil {
		return []BoardEntry{}
	}
	return entries
}
