package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_Valid(t *testing.T) {
	yaml := `
log_level: debug
http:
  port: 9090
  auth:
    mode: apikey
    key_env: HASL_API_KEY
entries:
  - name: Slussen
    type: departure
    options:
      site_id: 9192
      transport: METRO
      direction: 1
      timewindow: 30
      scan_interval: 90s
`
	cfg := loadFromString(t, yaml)

	if cfg.LogLevel != "debug" {
		t.Errorf("log_level: got %q", cfg.LogLevel)
	}
	if cfg.HTTP.Port != 9090 {
		t.Errorf("port: got %d", cfg.HTTP.Port)
	}
	if len(cfg.Entries) != 1 {
		t.Fatalf("entries: got %d, want 1", len(cfg.Entries))
	}
	o := cfg.Entries[0].Options
	if o.SiteID != 9192 || o.Transport != "METRO" || o.Direction != 1 {
		t.Errorf("options: got %+v", o)
	}
	if o.TimeWindow != 30 {
		t.Errorf("timewindow: got %d", o.TimeWindow)
	}
	if o.ScanInterval != 90*time.Second {
		t.Errorf("scan_interval: got %v", o.ScanInterval)
	}
}

func TestLoad_Defaults(t *testing.T) {
	yaml := `
entries:
  - name: Slussen
    type: departure
    options:
      site_id: 9192
  - name: Metro status
    type: status
  - name: Home to work
    type: route
    options:
      source: "9192"
      destination: "9001"
      key_env: RP3_KEY
`
	cfg := loadFromString(t, yaml)

	if cfg.HTTP.Port != DefaultHTTPPort {
		t.Errorf("default port: got %d, want %d", cfg.HTTP.Port, DefaultHTTPPort)
	}
	if cfg.Timezone != DefaultTimezone {
		t.Errorf("default timezone: got %q", cfg.Timezone)
	}
	if cfg.Store.TTL != DefaultStoreTTL {
		t.Errorf("default ttl: got %v", cfg.Store.TTL)
	}
	if cfg.Worker.MinRefreshAge != DefaultMinRefreshAge {
		t.Errorf("default min_refresh_age: got %v", cfg.Worker.MinRefreshAge)
	}
	want := []time.Duration{DefaultDepartureInterval, DefaultStatusInterval, DefaultRouteInterval}
	for i, w := range want {
		if got := cfg.Entries[i].Options.ScanInterval; got != w {
			t.Errorf("entries[%d] scan_interval: got %v, want %v", i, got, w)
		}
	}
	if cfg.Entries[0].Options.TimeWindow != DefaultTimeWindow {
		t.Errorf("default timewindow: got %d", cfg.Entries[0].Options.TimeWindow)
	}
}

func TestLoad_RejectsInvalidEntries(t *testing.T) {
	tests := []struct {
		name  string
		entry string
	}{
		{"unknown type", `{name: x, type: bogus}`},
		{"missing name", `{type: status}`},
		{"departure without site", `{name: x, type: departure}`},
		{"timewindow too small", `{name: x, type: departure, options: {site_id: 1, timewindow: 4}}`},
		{"timewindow too large", `{name: x, type: departure, options: {site_id: 1, timewindow: 61}}`},
		{"unknown transport", `{name: x, type: departure, options: {site_id: 1, transport: ROCKET}}`},
		{"bad direction", `{name: x, type: departure, options: {site_id: 1, direction: 3}}`},
		{"status too frequent", `{name: x, type: status, options: {scan_interval: 30s}}`},
		{"unitless interval", `{name: x, type: departure, options: {site_id: 1, scan_interval: 60}}`},
		{"route mixed endpoints", `{name: x, type: route, options: {key_env: K, source: "9192", destination: "59.3,18.0"}}`},
		{"route missing key", `{name: x, type: route, options: {source: "1", destination: "2"}}`},
		{"rrd without stop", `{name: x, type: rrd, options: {key_env: K}}`},
		{"rrr dash in source", `{name: x, type: rrr, options: {key_env: K, source: "74-0", destination: "1"}}`},
		{"fp bad train type", `{name: x, type: fp, options: {train_type: XX}}`},
		{"vehicles without operator", `{name: x, type: vehicles, options: {key_env: K}}`},
		{"gate not binary sensor", `{name: x, type: status, options: {sensor: switch.home}}`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := loadStringErr(t, "entries:\n  - "+tc.entry+"\n")
			if err == nil {
				t.Fatalf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

func TestLoad_DuplicateEntryID(t *testing.T) {
	yaml := `
entries:
  - {name: a, type: status}
  - {name: a, type: status}
`
	_, err := loadStringErr(t, yaml)
	if err == nil || !strings.Contains(err.Error(), "duplicate entry id") {
		t.Fatalf("expected duplicate entry id error, got %v", err)
	}
}

func TestLoad_UnknownTimezone(t *testing.T) {
	_, err := loadStringErr(t, "timezone: Mars/Olympus\n")
	if err == nil {
		t.Fatal("expected error for unknown timezone, got nil")
	}
}

func TestLoad_PublishRequiresURL(t *testing.T) {
	_, err := loadStringErr(t, "homeassistant:\n  publish: true\n")
	if err == nil {
		t.Fatal("expected error for publish without url, got nil")
	}
}

func TestLoad_FPAndCoordinateRoute(t *testing.T) {
	yaml := `
entries:
  - name: Pendeltåg
    type: fp
    options: {train_type: PT}
  - name: Coords
    type: route
    options:
      key_env: RP3_KEY
      source: "(59.3293, 18.0686)"
      destination: "59.3326,18.0649"
`
	cfg := loadFromString(t, yaml)
	if len(cfg.Entries) != 2 {
		t.Fatalf("entries: got %d", len(cfg.Entries))
	}
}

func TestEntry_UniqueID(t *testing.T) {
	a := Entry{Name: "Slussen", Type: TypeDeparture}
	b := Entry{Name: "Slussen", Type: TypeDeparture}
	c := Entry{Name: "Slussen", Type: TypeStatus}

	if a.UniqueID() != b.UniqueID() {
		t.Errorf("UniqueID not deterministic: %q vs %q", a.UniqueID(), b.UniqueID())
	}
	if a.UniqueID() == c.UniqueID() {
		t.Errorf("UniqueID should differ by type")
	}
	explicit := Entry{ID: "my-entry", Name: "Slussen", Type: TypeDeparture}
	if got := explicit.UniqueID(); got != "my-entry" {
		t.Errorf("explicit id: got %q", got)
	}
}

func TestAuthConfig_Key(t *testing.T) {
	t.Setenv("TEST_API_KEY", "supersecret")
	a := AuthConfig{Mode: "apikey", KeyEnv: "TEST_API_KEY"}
	if got := a.Key(); got != "supersecret" {
		t.Errorf("Key(): got %q, want %q", got, "supersecret")
	}
}

func TestAuthConfig_Key_Empty(t *testing.T) {
	a := AuthConfig{Mode: "apikey"}
	if got := a.Key(); got != "" {
		t.Errorf("Key() with no KeyEnv: got %q, want empty", got)
	}
}

func TestAuthConfig_EffectiveHeader(t *testing.T) {
	if got := (AuthConfig{}).EffectiveHeader(); got != "x-api-key" {
		t.Errorf("default header: got %q", got)
	}
	if got := (AuthConfig{Header: "x-token"}).EffectiveHeader(); got != "x-token" {
		t.Errorf("custom header: got %q", got)
	}
}

func TestOptions_APIKey_FromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "key")
	if err := os.WriteFile(path, []byte("filekey\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("RR_KEY_FILE", path)
	o := Options{KeyEnv: "RR_KEY"}
	if got := o.APIKey(); got != "filekey" {
		t.Errorf("APIKey(): got %q, want %q", got, "filekey")
	}
}

func TestHomeAssistantConfig_Token(t *testing.T) {
	t.Setenv("TEST_HA_TOKEN", "mytoken")
	h := HomeAssistantConfig{URL: "http://ha:8123", TokenEnv: "TEST_HA_TOKEN"}
	if got := h.Token(); got != "mytoken" {
		t.Errorf("Token(): got %q, want %q", got, "mytoken")
	}
	if !h.Enabled() {
		t.Error("Enabled(): want true")
	}
}

func TestWebhookConfig_URL(t *testing.T) {
	t.Setenv("TEAMS_URL", "https://teams.example.com/webhook")
	w := WebhookConfig{Type: "teams", URLEnv: "TEAMS_URL"}
	if got := w.URL(); got != "https://teams.example.com/webhook" {
		t.Errorf("URL(): got %q", got)
	}
}

func TestLoadEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("HASL_TEST_ENV_VALUE=fromfile\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HASL_TEST_ENV_VALUE", "")
	os.Unsetenv("HASL_TEST_ENV_VALUE")

	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	if got := os.Getenv("HASL_TEST_ENV_VALUE"); got != "fromfile" {
		t.Errorf("env: got %q", got)
	}
}

func TestLoadEnvFile_Missing(t *testing.T) {
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope.env")); err != nil {
		t.Errorf("missing env file should be ignored, got %v", err)
	}
}

func TestWatch_Reload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte("log_level: info\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *Config, 4)
	go func() { _ = Watch(ctx, path, func(c *Config) { got <- c }) }()

	// Give the watcher time to register before writing.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte("log_level: warn\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// A truncating write can surface as more than one event; wait for the
	// final content.
	deadline := time.After(3 * time.Second)
	for {
		select {
		case cfg := <-got:
			if cfg.LogLevel == "warn" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for reload")
		}
	}
}

// loadFromString writes yaml to a temp file and calls Load, failing on error.
func loadFromString(t *testing.T, content string) *Config {
	t.Helper()
	cfg, err := loadStringErr(t, content)
	if err != nil {
		t.Fatalf("Load() unexpected error: %v", err)
	}
	return cfg
}

// loadStringErr writes yaml to a temp file and calls Load, returning any error.
func loadStringErr(t *testing.T, content string) (*Config, error) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return Load(path)
}
