package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/hasl-sensors/hasl/internal/slapi"
)

// Entry types. The first three poll through their own coordinator; the rest
// subscribe to the shared worker registries.
const (
	TypeDeparture = "departure"
	TypeStatus    = "status"
	TypeRoute     = "route"
	TypeRRD       = "rrd"
	TypeRRA       = "rra"
	TypeRRR       = "rrr"
	TypeFP        = "fp"
	TypeVehicles  = "vehicles"
)

// Default values applied when fields are absent from the config file.
const (
	DefaultHTTPPort          = 8080
	DefaultStreamInterval    = 5 * time.Second
	DefaultStoreTTL          = 15 * time.Minute
	DefaultWorkerInterval    = time.Minute
	DefaultMinRefreshAge     = 30 * time.Second
	DefaultRequestTimeout    = 10 * time.Second
	DefaultTimezone          = "Europe/Stockholm"
	DefaultDepartureInterval = 60 * time.Second
	DefaultStatusInterval    = 61 * time.Second
	DefaultRouteInterval     = 300 * time.Second
	DefaultVehiclesInterval  = 60 * time.Second
	DefaultTimeWindow        = 60

	// MinStatusInterval keeps the deviations API inside its request quota.
	MinStatusInterval = 61 * time.Second
)

// entryNamespace seeds the deterministic ids of entries without an explicit id.
var entryNamespace = uuid.MustParse("6f1c3c2e-7a0b-4c8e-9d55-2b8f4e0a9a11")

// Config is the top-level configuration. Fields map 1:1 to config.example.yaml.
type Config struct {
	// LogLevel is one of debug | info | warn | error.
	LogLevel string `yaml:"log_level" validate:"omitempty,oneof=debug info warn error"`

	// Timezone is the IANA zone the upstream APIs report local times in.
	Timezone string `yaml:"timezone"`

	HTTP          HTTPConfig          `yaml:"http"`
	Store         StoreConfig         `yaml:"store"`
	HomeAssistant HomeAssistantConfig `yaml:"homeassistant"`
	Worker        WorkerConfig        `yaml:"worker"`
	Alerts        AlertsConfig        `yaml:"alerts"`

	// Entries are the configured sensors, the equivalent of the host's config entries.
	Entries []Entry `yaml:"entries" validate:"dive"`
}

// HTTPConfig controls the REST API, websocket stream and metrics listener.
type HTTPConfig struct {
	Port int `yaml:"port" validate:"gt=0,lte=65535"`

	// Auth protects every route except /metrics.
	Auth AuthConfig `yaml:"auth"`

	// StreamInterval is how often the websocket hub broadcasts the entity snapshot.
	StreamInterval time.Duration `yaml:"stream_interval"`
}

// AuthConfig controls API key authentication of incoming HTTP requests.
type AuthConfig struct {
	// Mode is one of: apikey | none.
	Mode string `yaml:"mode" validate:"omitempty,oneof=apikey none"`

	// KeyEnv is the name of the environment variable holding the expected key.
	KeyEnv string `yaml:"key_env"`

	// Header is the HTTP header to read the key from. Defaults to "x-api-key".
	Header string `yaml:"header"`
}

// Key returns the expected API key resolved from the environment.
func (a AuthConfig) Key() string {
	return resolveEnv(a.KeyEnv)
}

// EffectiveHeader returns the configured header name, or the default "x-api-key".
func (a AuthConfig) EffectiveHeader() string {
	if a.Header != "" {
		return a.Header
	}
	return "x-api-key"
}

// StoreConfig controls in-memory entity retention.
type StoreConfig struct {
	// TTL is how long an entity stays live after its last update.
	TTL time.Duration `yaml:"ttl"`
}

// HomeAssistantConfig points at the host instance used for gating sensors and
// for publishing entity states.
type HomeAssistantConfig struct {
	URL      string `yaml:"url" validate:"omitempty,url"`
	TokenEnv string `yaml:"token_env"`

	// Publish pushes every entity update to /api/states.
	Publish bool `yaml:"publish"`

	Timeout time.Duration `yaml:"timeout"`
}

// Token returns the long-lived access token resolved from the environment.
func (h HomeAssistantConfig) Token() string {
	return resolveEnv(h.TokenEnv)
}

// Enabled reports whether a Home Assistant instance is configured.
func (h HomeAssistantConfig) Enabled() bool {
	return h.URL != ""
}

// WorkerConfig controls the shared registry refresh passes.
type WorkerConfig struct {
	DeparturesInterval time.Duration `yaml:"departures_interval"`
	ArrivalsInterval   time.Duration `yaml:"arrivals_interval"`
	RoutesInterval     time.Duration `yaml:"routes_interval"`
	VehiclesInterval   time.Duration `yaml:"vehicles_interval"`

	// MinRefreshAge skips slots refreshed more recently than this in a pass.
	MinRefreshAge time.Duration `yaml:"min_refresh_age"`

	// RequestTimeout bounds every upstream call.
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

// AlertsConfig holds alerting rules and webhook delivery targets.
type AlertsConfig struct {
	Rules    []AlertRule     `yaml:"rules" validate:"dive"`
	Webhooks []WebhookConfig `yaml:"webhooks" validate:"dive"`
}

// AlertRule defines one condition evaluated against published entities.
type AlertRule struct {
	// Name is the human-readable alert identifier, used as the deduplication key.
	Name string `yaml:"name" validate:"required"`

	// Entity is a glob matched against entity unique ids. Empty matches all.
	Entity string `yaml:"entity"`

	// Condition is a simple expression: "state < 5", "api_result == Error",
	// "deviations > 0".
	Condition string `yaml:"condition" validate:"required"`

	// Severity is one of: critical | warning | info.
	Severity string `yaml:"severity" validate:"omitempty,oneof=critical warning info"`

	// Cooldown suppresses re-fires for this duration. Defaults to 15 minutes.
	Cooldown time.Duration `yaml:"cooldown"`
}

// WebhookConfig defines one webhook delivery target.
type WebhookConfig struct {
	// Type is one of: teams | slack | http.
	Type string `yaml:"type" validate:"oneof=teams slack http"`

	// URLEnv is the name of the environment variable that holds the webhook URL.
	URLEnv string `yaml:"url_env" validate:"required"`
}

// URL returns the webhook URL resolved from the environment.
func (w WebhookConfig) URL() string {
	return resolveEnv(w.URLEnv)
}

// Entry is one configured sensor group.
type Entry struct {
	// ID is optional; a stable id is derived from type and name when empty.
	ID   string `yaml:"id"`
	Name string `yaml:"name" validate:"required"`
	Type string `yaml:"type" validate:"required,oneof=departure status route rrd rra rrr fp vehicles"`

	Options Options `yaml:"options"`
}

// UniqueID returns the configured id or a UUIDv5 derived from type and name.
func (e Entry) UniqueID() string {
	if e.ID != "" {
		return e.ID
	}
	return uuid.NewSHA1(entryNamespace, []byte(e.Type+"/"+e.Name)).String()
}

// Options carries the per-type settings of an entry. Only the fields relevant
// to the entry type are read.
type Options struct {
	// departure
	SiteID     int    `yaml:"site_id" validate:"gte=0"`
	Transport  string `yaml:"transport" validate:"omitempty,oneof=BUS TRAM METRO TRAIN FERRY SHIP TAXI"`
	Line       int    `yaml:"line" validate:"gte=0"`
	Direction  int    `yaml:"direction" validate:"gte=0,lte=2"`
	TimeWindow int    `yaml:"timewindow"`

	// status
	SiteIDs    []int    `yaml:"site_ids"`
	Lines      []int    `yaml:"lines"`
	Transports []string `yaml:"transports" validate:"dive,oneof=BUS TRAM METRO TRAIN FERRY SHIP TAXI"`

	// route, rrr: site ids, Resrobot stop ids or "lat,lon" pairs
	Source      string `yaml:"source"`
	Destination string `yaml:"destination"`

	// rrd, rra
	Stop string `yaml:"stop"`

	// fp
	TrainType string `yaml:"train_type"`

	// vehicles
	Operator string   `yaml:"operator"`
	Routes   []string `yaml:"routes"`

	// KeyEnv names the environment variable holding the upstream API key
	// (route planner, Resrobot or Trafiklab realtime key).
	KeyEnv string `yaml:"key_env"`

	// Sensor is an optional binary_sensor that must be "on" for refreshes to run.
	Sensor string `yaml:"sensor"`

	ScanInterval time.Duration `yaml:"scan_interval"`
}

// APIKey returns the upstream API key resolved from the environment.
func (o Options) APIKey() string {
	return resolveEnv(o.KeyEnv)
}

// Load reads and parses the YAML config file at path.
// Missing optional fields are filled with defaults before validation.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read file: %w", err)
	}

	cfg := defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse yaml: %w", err)
	}
	applyEntryDefaults(cfg)

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Location resolves the configured timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// defaults returns a Config pre-populated with default values.
func defaults() *Config {
	return &Config{
		LogLevel: "info",
		Timezone: DefaultTimezone,
		HTTP: HTTPConfig{
			Port:           DefaultHTTPPort,
			StreamInterval: DefaultStreamInterval,
		},
		Store: StoreConfig{TTL: DefaultStoreTTL},
		HomeAssistant: HomeAssistantConfig{
			Timeout: DefaultRequestTimeout,
		},
		Worker: WorkerConfig{
			DeparturesInterval: DefaultWorkerInterval,
			ArrivalsInterval:   DefaultWorkerInterval,
			RoutesInterval:     DefaultWorkerInterval,
			VehiclesInterval:   DefaultWorkerInterval,
			MinRefreshAge:      DefaultMinRefreshAge,
			RequestTimeout:     DefaultRequestTimeout,
		},
	}
}

// applyEntryDefaults fills per-type option defaults.
func applyEntryDefaults(cfg *Config) {
	for i := range cfg.Entries {
		e := &cfg.Entries[i]
		if e.Options.ScanInterval == 0 {
			switch e.Type {
			case TypeDeparture:
				e.Options.ScanInterval = DefaultDepartureInterval
			case TypeStatus:
				e.Options.ScanInterval = DefaultStatusInterval
			case TypeRoute:
				e.Options.ScanInterval = DefaultRouteInterval
			case TypeVehicles:
				e.Options.ScanInterval = DefaultVehiclesInterval
			}
		}
		if e.Type == TypeDeparture && e.Options.TimeWindow == 0 {
			e.Options.TimeWindow = DefaultTimeWindow
		}
	}
}

// validate checks cross-field and per-entry-type constraints the struct tags
// cannot express.
func validate(cfg *Config) error {
	if _, err := cfg.Location(); err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}
	if cfg.HTTP.StreamInterval <= 0 {
		return errors.New("http.stream_interval must be positive")
	}
	if cfg.Store.TTL <= 0 {
		return errors.New("store.ttl must be positive")
	}
	if cfg.HomeAssistant.Publish && !cfg.HomeAssistant.Enabled() {
		return errors.New("homeassistant.publish requires homeassistant.url")
	}
	for name, d := range map[string]time.Duration{
		"worker.departures_interval": cfg.Worker.DeparturesInterval,
		"worker.arrivals_interval":   cfg.Worker.ArrivalsInterval,
		"worker.routes_interval":     cfg.Worker.RoutesInterval,
		"worker.vehicles_interval":   cfg.Worker.VehiclesInterval,
		"worker.request_timeout":     cfg.Worker.RequestTimeout,
	} {
		if d < time.Second {
			return fmt.Errorf("%s must be at least 1s (durations need a unit, e.g. 60s)", name)
		}
	}
	if cfg.Worker.MinRefreshAge < 0 {
		return errors.New("worker.min_refresh_age must not be negative")
	}

	seen := make(map[string]struct{}, len(cfg.Entries))
	for i, e := range cfg.Entries {
		id := e.UniqueID()
		if _, dup := seen[id]; dup {
			return fmt.Errorf("entries[%d] %q: duplicate entry id %q", i, e.Name, id)
		}
		seen[id] = struct{}{}
		if err := validateEntry(e); err != nil {
			return fmt.Errorf("entries[%d] %q: %w", i, e.Name, err)
		}
	}
	return nil
}

func validateEntry(e Entry) error {
	o := e.Options
	if e.Options.Sensor != "" && !strings.HasPrefix(o.Sensor, "binary_sensor.") {
		return fmt.Errorf("sensor %q must be a binary_sensor entity", o.Sensor)
	}
	switch e.Type {
	case TypeDeparture, TypeStatus, TypeRoute, TypeVehicles:
		if o.ScanInterval < time.Second {
			return errors.New("scan_interval must be at least 1s (durations need a unit, e.g. 60s)")
		}
	}

	switch e.Type {
	case TypeDeparture:
		if o.SiteID <= 0 {
			return errors.New("site_id is required")
		}
		if o.TimeWindow < 5 || o.TimeWindow > 60 {
			return fmt.Errorf("timewindow %d out of range [5, 60]", o.TimeWindow)
		}
	case TypeStatus:
		if o.ScanInterval < MinStatusInterval {
			return fmt.Errorf("scan_interval must be at least %s", MinStatusInterval)
		}
	case TypeRoute:
		if o.KeyEnv == "" {
			return errors.New("key_env is required")
		}
		if _, err := slapi.SiteIDOrCoords(o.Source, o.Destination); err != nil {
			return fmt.Errorf("source/destination: %w", err)
		}
	case TypeRRD, TypeRRA:
		if o.KeyEnv == "" {
			return errors.New("key_env is required")
		}
		if o.Stop == "" {
			return errors.New("stop is required")
		}
	case TypeRRR:
		if o.KeyEnv == "" {
			return errors.New("key_env is required")
		}
		if o.Source == "" || o.Destination == "" {
			return errors.New("source and destination are required")
		}
		if strings.Contains(o.Source, "-") || strings.Contains(o.Destination, "-") {
			return errors.New(`source and destination must not contain "-"`)
		}
	case TypeFP:
		if !slapi.ValidVehicleType(o.TrainType) {
			return fmt.Errorf("train_type %q: must be one of %s", o.TrainType, strings.Join(slapi.VehicleTypes, ", "))
		}
	case TypeVehicles:
		if o.KeyEnv == "" {
			return errors.New("key_env is required")
		}
		if o.Operator == "" {
			return errors.New("operator is required")
		}
	}
	return nil
}

// resolveEnv reads name from the environment, falling back to the contents of
// the file named by name_FILE. Returns empty string when neither is set.
func resolveEnv(name string) string {
	if name == "" {
		return ""
	}
	if v := os.Getenv(name); v != "" {
		return v
	}
	path := os.Getenv(name + "_FILE")
	if path == "" {
		return ""
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(content))
}
