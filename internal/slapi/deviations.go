package slapi

import (
	"context"
	"fmt"
	"net/url"
	"strconv"

	"github.com/hasl-sensors/hasl/internal/apiclient"
)

// DeviationQuery filters deviation messages. Empty slices are not sent.
type DeviationQuery struct {
	Sites          []int
	Lines          []int
	TransportModes []TransportMode
}

// Deviation is one SL deviation message.
type Deviation struct {
	Version         int              `json:"version"`
	Created         string           `json:"created"`
	Modified        string           `json:"modified,omitempty"`
	DeviationCaseID int64            `json:"deviation_case_id"`
	Publish         Publish          `json:"publish"`
	Priority        Priority         `json:"priority"`
	MessageVariants []MessageVariant `json:"message_variants"`
	Scope           Scope            `json:"scope"`
	Categories      []Category       `json:"categories,omitempty"`
}

// Publish bounds are kept as reported (ISO-8601 with offset).
type Publish struct {
	From string `json:"from"`
	Upto string `json:"upto,omitempty"`
}

type Priority struct {
	ImportanceLevel int `json:"importance_level"`
	InfluenceLevel  int `json:"influence_level"`
	UrgencyLevel    int `json:"urgency_level"`
}

type MessageVariant struct {
	Header     string `json:"header"`
	Details    string `json:"details"`
	ScopeAlias string `json:"scope_alias"`
	Weblink    string `json:"weblink,omitempty"`
	Language   string `json:"language"`
}

type Scope struct {
	StopAreas []ScopeStopArea `json:"stop_areas,omitempty"`
	Lines     []ScopeLine     `json:"lines,omitempty"`
}

type ScopeStopArea struct {
	ID                 int    `json:"id"`
	TransportAuthority int    `json:"transport_authority"`
	Name               string `json:"name"`
	Type               string `json:"type"`
}

type ScopeLine struct {
	ID                 int           `json:"id"`
	TransportAuthority int           `json:"transport_authority"`
	Designation        string        `json:"designation"`
	TransportMode      TransportMode `json:"transport_mode"`
	Name               string        `json:"name"`
	GroupOfLines       string        `json:"group_of_lines,omitempty"`
}

type Category struct {
	Group string `json:"group"`
	Type  string `json:"type"`
}

// Deviations fetches current deviation messages matching q.
func (c *Client) Deviations(ctx context.Context, q DeviationQuery) ([]Deviation, error) {
	params := url.Values{}
	for _, s := range q.Sites {
		params.Add("site", strconv.Itoa(s))
	}
	for _, l := range q.Lines {
		params.Add("line", strconv.Itoa(l))
	}
	for _, m := range q.TransportModes {
		params.Add("transport_mode", string(m))
	}

	u := c.DeviationsURL
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	var out []Deviation
	if err := apiclient.GetJSON(ctx, c.http, u, &out); err != nil {
		return nil, fmt.Errorf("slapi: deviations: %w", err)
	}
	if out == nil {
		out = []Deviation{}
	}
	return out, nil
}
