// Package config loads and watches the daemon configuration file (config.yaml).
//
// Top-level types:
//   - Config{LogLevel, Timezone, HTTP, Store, HomeAssistant, Worker, Alerts, Entries}
//   - Entry: id, name, type (departure|status|route|rrd|rra|rrr|fp|vehicles), options
//   - Options: the union of per-type settings; key_env and the HTTP auth, Home
//     Assistant token and webhook URLs resolve from environment variables, or from
//     the file named by <NAME>_FILE
//
// Load(path) reads the YAML file, applies defaults (port 8080, 1m worker passes,
// 60s/61s/300s coordinator intervals), validates struct tags with
// go-playground/validator and then the per-type rules validator cannot express.
//
// LoadEnvFile(path) loads a .env file into the process environment before Load.
//
// Watch(ctx, path, onChange) uses fsnotify on the parent directory so atomic
// saves (rename over the file) are picked up as well as in-place writes.
package config
