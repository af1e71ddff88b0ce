// Package homeassistant talks to a Home Assistant instance over its REST
// API: reading gate sensor states and publishing entity states.
package homeassistant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/hasl-sensors/hasl/internal/apiclient"
	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/pkg/types"
)

// StateUnavailable is published for entities whose last refresh failed.
const StateUnavailable = "unavailable"

// APIError is a non-2xx answer from Home Assistant.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("homeassistant: HTTP %d: %s", e.StatusCode, e.Message)
}

// Client is a Home Assistant REST client authenticated with a long-lived
// access token.
type Client struct {
	http    *http.Client
	baseURL string
}

// New builds a client from the homeassistant config section. The token is
// resolved per request.
func New(cfg config.HomeAssistantConfig) *Client {
	return &Client{
		http:    apiclient.NewHTTPClient(cfg.Timeout, apiclient.WithBearer(cfg.Token)),
		baseURL: strings.TrimRight(cfg.URL, "/"),
	}
}

type stateBody struct {
	EntityID   string         `json:"entity_id,omitempty"`
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

func (c *Client) stateURL(entityID string) string {
	return c.baseURL + "/api/states/" + url.PathEscape(entityID)
}

// GetState returns the state string of an entity.
func (c *Client) GetState(ctx context.Context, entityID string) (string, error) {
	var body stateBody
	if err := apiclient.GetJSON(ctx, c.http, c.stateURL(entityID), &body); err != nil {
		return "", asAPIError(err)
	}
	return body.State, nil
}

// SetState creates or updates the host entity of ent.
func (c *Client) SetState(ctx context.Context, ent *types.Entity) error {
	payload, err := json.Marshal(stateBody{State: hostState(ent), Attributes: hostAttributes(ent)})
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	return c.do(ctx, http.MethodPost, c.stateURL(ent.EntityID), payload)
}

// RemoveState deletes a host entity. A missing entity is not an error.
func (c *Client) RemoveState(ctx context.Context, entityID string) error {
	err := c.do(ctx, http.MethodDelete, c.stateURL(entityID), nil)
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return nil
	}
	return err
}

func (c *Client) do(ctx context.Context, method, rawURL string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("homeassistant %s: %w", strings.ToLower(method), err)
	}
	defer resp.Body.Close()
	return asAPIError(apiclient.Check(resp))
}

func asAPIError(err error) error {
	var httpErr *apiclient.HTTPError
	if errors.As(err, &httpErr) {
		msg := httpErr.Body
		if msg == "" {
			msg = httpErr.Status
		}
		return &APIError{StatusCode: httpErr.StatusCode, Message: msg}
	}
	return err
}

func hostState(ent *types.Entity) string {
	if !ent.Available && ent.State == nil {
		return StateUnavailable
	}
	return ent.StateString()
}

func hostAttributes(ent *types.Entity) map[string]any {
	attrs := make(map[string]any, len(ent.Attributes)+6)
	for k, v := range ent.Attributes {
		attrs[k] = v
	}
	attrs["friendly_name"] = friendlyName(ent)
	set := func(k, v string) {
		if v != "" {
			attrs[k] = v
		}
	}
	set("icon", ent.Icon)
	set("device_class", ent.DeviceClass)
	set("unit_of_measurement", ent.Unit)
	set("attribution", ent.Attribution)
	attrs["unique_id"] = ent.UniqueID
	return attrs
}

func friendlyName(ent *types.Entity) string {
	if ent.Device != nil && ent.Device.Name != "" {
		return ent.Device.Name + " " + ent.Name
	}
	return ent.Name
}
