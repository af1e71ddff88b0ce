package slapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"

	"github.com/hasl-sensors/hasl/internal/apiclient"
)

// VehicleTypes accepted by the vehicle positions API.
var VehicleTypes = []string{"PT", "RB", "TVB", "SB", "LB", "SpvC", "TB1", "TB2", "TB3"}

// ValidVehicleType reports whether t is one of VehicleTypes.
func ValidVehicleType(t string) bool {
	return slices.Contains(VehicleTypes, t)
}

// VehiclePositions returns the live trips of one vehicle type as reported by
// the API, one map per vehicle.
func (c *Client) VehiclePositions(ctx context.Context, vehicleType string) ([]map[string]any, error) {
	if !ValidVehicleType(vehicleType) {
		return nil, &Error{
			Code:    CodeInvalidVehicleType,
			Message: "Vehicle type is not valid",
			Detail:  "Must be one of 'PT','RB','TVB','SB','LB','SpvC','TB1','TB2','TB3'",
		}
	}

	params := url.Values{}
	params.Set("type", vehicleType)
	params.Set("pp", "false")
	params.Set("cacheControl", strconv.FormatInt(c.now().Unix(), 10))

	// The API answers with a JSON string that itself holds the document.
	var wrapped string
	if err := apiclient.GetJSON(ctx, c.http, c.PositionsURL+"?"+params.Encode(), &wrapped); err != nil {
		return nil, &Error{Code: CodeHTTP, Message: "An HTTP error occurred (Vehicle Locations)", Detail: err.Error(), Err: err}
	}

	var doc struct {
		Trips []map[string]any `json:"Trips"`
	}
	if err := json.Unmarshal([]byte(wrapped), &doc); err != nil {
		return nil, fmt.Errorf("slapi: vehicle positions: decode inner document: %w", err)
	}
	if doc.Trips == nil {
		doc.Trips = []map[string]any{}
	}
	return doc.Trips, nil
}
