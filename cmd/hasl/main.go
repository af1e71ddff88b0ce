package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	_ "time/tzdata"

	"github.com/hasl-sensors/hasl/internal/alerts"
	"github.com/hasl-sensors/hasl/internal/api"
	"github.com/hasl-sensors/hasl/internal/apiclient"
	"github.com/hasl-sensors/hasl/internal/auth"
	"github.com/hasl-sensors/hasl/internal/config"
	"github.com/hasl-sensors/hasl/internal/coordinator"
	"github.com/hasl-sensors/hasl/internal/gtfsrt"
	"github.com/hasl-sensors/hasl/internal/homeassistant"
	"github.com/hasl-sensors/hasl/internal/metrics"
	"github.com/hasl-sensors/hasl/internal/platform"
	"github.com/hasl-sensors/hasl/internal/sensor"
	"github.com/hasl-sensors/hasl/internal/slapi"
	"github.com/hasl-sensors/hasl/internal/store"
	"github.com/hasl-sensors/hasl/internal/worker"
	"github.com/hasl-sensors/hasl/internal/ws"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "3.2.0"

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	envFile := flag.String("env-file", ".env", "optional KEY=value file loaded before the config")
	flag.Parse()

	var level slog.LevelVar
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(logger)

	slog.Info("hasl starting", "version", version, "config", *configPath)

	if err := config.LoadEnvFile(*envFile); err != nil {
		slog.Error("failed to load env file", "err", err)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "err", err)
		os.Exit(1)
	}
	setLevel(&level, cfg.LogLevel)

	loc, err := cfg.Location()
	if err != nil {
		slog.Error("invalid timezone", "err", err)
		os.Exit(1)
	}

	slog.Info("config loaded",
		"http_port", cfg.HTTP.Port,
		"auth_mode", cfg.HTTP.Auth.Mode,
		"entries", len(cfg.Entries),
		"homeassistant", cfg.HomeAssistant.Enabled(),
		"timezone", loc.String(),
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	httpClient := apiclient.NewHTTPClient(cfg.Worker.RequestTimeout)
	sl := slapi.New(httpClient, loc)

	// Entity store with background TTL eviction.
	st := store.New(cfg.Store.TTL)
	go st.Run(ctx)

	w := worker.New(worker.Options{
		HTTPClient:    httpClient,
		Positions:     sl,
		Location:      loc,
		MinRefreshAge: cfg.Worker.MinRefreshAge,
		Intervals: worker.Intervals{
			Departures: cfg.Worker.DeparturesInterval,
			Arrivals:   cfg.Worker.ArrivalsInterval,
			Routes:     cfg.Worker.RoutesInterval,
			Vehicles:   cfg.Worker.VehiclesInterval,
		},
	})

	hubSrc := &snapshotSource{}
	hub := ws.New(hubSrc, cfg.HTTP.StreamInterval)
	exporter := metrics.New(st, w.ResultCounts, hub.Count)
	w.SetObserver(func(reg worker.Registry, id string, err error) {
		exporter.ObserveRefresh(string(reg), id, err)
	})

	alertEngine := alerts.New(cfg.Alerts)

	opts := platform.Options{
		Store:      st,
		Worker:     w,
		Builder:    sensor.NewBuilder(version, loc),
		Alerts:     alertEngine,
		Metrics:    exporter,
		Departures: sl,
		Deviations: sl,
		Trips:      sl,
		Vehicles: func(key string) coordinator.VehicleSource {
			return gtfsrt.New(httpClient, key)
		},
	}
	if cfg.HomeAssistant.Enabled() {
		ha := homeassistant.New(cfg.HomeAssistant)
		opts.Gate = ha
		if cfg.HomeAssistant.Publish {
			pub := homeassistant.NewPublisher(ha, cfg.HomeAssistant.Timeout)
			go pub.Run(ctx)
			opts.Publisher = pub
		}
	}
	plat := platform.New(opts)

	handler := api.New(st, api.Sources{Entries: plat, Registry: w, Alerts: alertEngine})
	hubSrc.h = handler
	go hub.Run(ctx)

	if err := plat.Apply(ctx, cfg.Entries); err != nil {
		slog.Warn("some entries failed to set up", "err", err)
	}
	go w.Run(ctx)

	// Hot-reload applies entries and log level; other sections need a restart.
	go func() {
		if err := config.Watch(ctx, *configPath, func(updated *config.Config) {
			setLevel(&level, updated.LogLevel)
			if err := plat.Apply(ctx, updated.Entries); err != nil {
				slog.Warn("config reload: some entries failed to set up", "err", err)
			}
		}); err != nil {
			slog.Error("config watcher stopped", "err", err)
		}
	}()

	apiKey := cfg.HTTP.Auth.Key()
	if cfg.HTTP.Auth.Mode == auth.ModeAPIKey && apiKey == "" {
		slog.Warn("auth mode is apikey but no key is set; API is unauthenticated",
			"key_env", cfg.HTTP.Auth.KeyEnv)
	}
	protect := func(h http.Handler) http.Handler {
		return auth.APIKey(cfg.HTTP.Auth.Mode, cfg.HTTP.Auth.EffectiveHeader(), apiKey, h)
	}

	mux := http.NewServeMux()
	mux.Handle("/api/", protect(handler))
	mux.Handle("/ws/stream", protect(hub))
	mux.Handle("/metrics", exporter)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: mux,
	}
	go func() {
		slog.Info("HTTP server listening", "port", cfg.HTTP.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server stopped", "err", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("hasl shutting down")
	httpSrv.Shutdown(context.Background()) //nolint:errcheck
	plat.Close()
}

// snapshotSource breaks the construction cycle between the hub, the metrics
// exporter (which counts hub clients) and the API handler.
type snapshotSource struct {
	h *api.Handler
}

func (s *snapshotSource) Snapshot() api.SnapshotResponse {
	return s.h.Snapshot()
}

func setLevel(v *slog.LevelVar, name string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(name)); err != nil {
		slog.Warn("unknown log level, using info", "level", name)
		l = slog.LevelInfo
	}
	v.Set(l)
}
