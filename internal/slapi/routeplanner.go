package slapi

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

// routePlannerStatus is the error envelope of the route planner.
type routePlannerStatus struct {
	StatusCode json.Number `json:"StatusCode"`
	Message    string      `json:"Message"`
	ErrorCode  string      `json:"errorCode"`
	ErrorText  string      `json:"errorText"`
}

// Trip plans a journey between the endpoints with route planner 3.1.
func (c *Client) Trip(ctx context.Context, key string, ep Endpoints) (*journey.Response, error) {
	params := url.Values{}
	params.Set("key", key)
	params.Set("Passlist", "1")
	switch {
	case ep.Coords():
		params.Set("originCoordLat", ep.OriginLat)
		params.Set("originCoordLong", ep.OriginLon)
		params.Set("destCoordLat", ep.DestLat)
		params.Set("destCoordLong", ep.DestLon)
	case ep.OriginID != "" && ep.DestID != "":
		params.Set("originExtId", ep.OriginID)
		params.Set("destExtId", ep.DestID)
	default:
		return nil, errors.New("slapi: trip: invalid endpoints")
	}

	body, err := apiclient.GetBytes(ctx, c.http, c.RoutePlannerURL+"?"+params.Encode())
	if err != nil {
		var he *apiclient.HTTPError
		if errors.As(err, &he) && (he.StatusCode == http.StatusUnauthorized || he.StatusCode == http.StatusForbidden) {
			return nil, &Error{Code: CodeInvalidKey, Message: routePlannerErrors[CodeInvalidKey], Err: err}
		}
		return nil, fmt.Errorf("slapi: trip %s: %w", ep, err)
	}
	return decodeTrip(body)
}

func decodeTrip(body []byte) (*journey.Response, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) || bytes.Equal(body, []byte("{}")) {
		return nil, &Error{Code: CodeEmptyResponse, Message: "Internal error", Detail: "jsonResponse is empty"}
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, &Error{Code: CodeUnexpectedResponse, Message: "ResponseType not as expected", Detail: err.Error()}
	}
	if len(envelope) == 0 {
		return nil, &Error{Code: CodeEmptyResponse, Message: "Internal error", Detail: "jsonResponse is empty"}
	}

	if _, ok := envelope["Trip"]; !ok {
		var st routePlannerStatus
		_ = json.Unmarshal(body, &st)
		code := st.StatusCode.String()
		detail := st.Message
		if code == "" {
			code, detail = st.ErrorCode, st.ErrorText
		}
		if n, err := strconv.Atoi(code); err == nil && n != 0 {
			return nil, routePlannerError(n, detail)
		}
		return nil, &Error{Code: CodeUnexpectedResponse, Message: "ResponseType not as expected"}
	}

	var r journey.Response
	if err := json.Unmarshal(body, &r); err != nil {
		return nil, &Error{Code: CodeUnexpectedResponse, Message: "ResponseType not as expected", Detail: err.Error()}
	}
	return &r, nil
}
