package types

import (
	"strconv"
	"time"
)

// API result states recorded on every registry slot and coordinator.
const (
	ResultPending = "Pending"
	ResultSuccess = "Success"
	ResultError   = "Error"
)

// Entity categories, mirroring the host platform's sensor metadata.
const (
	CategoryDiagnostic = "diagnostic"
	CategoryConfig     = "config"
)

// DeviceInfo groups entities of one config entry under a device.
type DeviceInfo struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer,omitempty"`
	Model        string   `json:"model,omitempty"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// Entity is one published sensor. State is either a number, a string, an
// RFC3339 timestamp or nil when the value is unknown.
type Entity struct {
	UniqueID       string         `json:"unique_id"`
	EntityID       string         `json:"entity_id"`
	EntryID        string         `json:"entry_id"`
	Key            string         `json:"key"`
	Name           string         `json:"name"`
	State          any            `json:"state"`
	Attributes     map[string]any `json:"attributes"`
	Icon           string         `json:"icon,omitempty"`
	DeviceClass    string         `json:"device_class,omitempty"`
	Category       string         `json:"entity_category,omitempty"`
	Unit           string         `json:"unit_of_measurement,omitempty"`
	Attribution    string         `json:"attribution,omitempty"`
	EnabledDefault bool           `json:"enabled_default"`
	Available      bool           `json:"available"`
	Device         *DeviceInfo    `json:"device,omitempty"`
	UpdatedAt      time.Time      `json:"updated_at"`

	// Unrecorded lists heavy attributes the host should not persist in history.
	Unrecorded []string `json:"unrecorded_attributes,omitempty"`
}

// NumericState returns the entity state as a float when it holds a number.
func (e *Entity) NumericState() (float64, bool) {
	switch v := e.State.(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// StateString renders the state the way Home Assistant stores it.
func (e *Entity) StateString() string {
	switch v := e.State.(type) {
	case nil:
		return "unknown"
	case string:
		return v
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case time.Time:
		return v.Format(time.RFC3339)
	default:
		return "unknown"
	}
}

// Clone returns a shallow copy with its own attribute map.
func (e *Entity) Clone() *Entity {
	cp := *e
	if e.Attributes != nil {
		cp.Attributes = make(map[string]any, len(e.Attributes))
		for k, v := range e.Attributes {
			cp.Attributes[k] = v
		}
	}
	return &cp
}
