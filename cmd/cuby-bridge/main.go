package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gopkg.in/yaml.v3"

	"cuby-bridge/internal/auth"
	"cuby-bridge/internal/coordinator"
	"cuby-bridge/internal/cubyapi"
	"cuby-bridge/internal/metrics"
	"cuby-bridge/internal/store"
	"cuby-bridge/internal/web"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

type Config struct {
	API struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"api"`
	Poll struct {
		Interval string `yaml:"interval"`
	} `yaml:"poll"`
	Web struct {
		Listen         string   `yaml:"listen"`
		APIKey         string   `yaml:"api_key"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"web"`
	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
	MQTT struct {
		Enabled         bool   `yaml:"enabled"`
		Broker          string `yaml:"broker"`
		Username        string `yaml:"username"`
		Password        string `yaml:"password"`
		TopicPrefix     string `yaml:"topic_prefix"`
		DiscoveryPrefix string `yaml:"discovery_prefix"`
	} `yaml:"mqtt"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Account struct {
		Email    string `yaml:"email"`
		Password string `yaml:"password"`
	} `yaml:"account"`
	DisplayUnit string   `yaml:"display_unit"`
	Devices     []string `yaml:"devices"`

	pollInterval time.Duration
}

func (c *Config) validate() error {
	d, err := time.ParseDuration(c.Poll.Interval)
	if err != nil {
		return fmt.Errorf("poll.interval: %w", err)
	}
	if d < 5*time.Second {
		return fmt.Errorf("poll.interval must be at least 5s, got %s", d)
	}
	c.pollInterval = d

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	switch c.DisplayUnit {
	case "", store.UnitFollowDevice, store.UnitCelsius, store.UnitFahrenheit:
	default:
		return fmt.Errorf("display_unit must be %s, %s or %s",
			store.UnitFollowDevice, store.UnitCelsius, store.UnitFahrenheit)
	}
	return nil
}

func main() {
	// Temporary logger for config loading errors.
	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	cfgPath := "config.yaml"
	if len(os.Args) > 1 {
		cfgPath = os.Args[1]
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		bootLogger.Error("load config", "err", err)
		os.Exit(1)
	}

	if err := cfg.validate(); err != nil {
		bootLogger.Error("invalid config", "err", err)
		os.Exit(1)
	}

	// Create configured logger.
	logger := newLogger(cfg)
	slog.SetDefault(logger)
	logger.Info("cuby-bridge starting", "version", version)

	// Open store
	db, err := store.NewBoltStore(cfg.Store.Path)
	if err != nil {
		logger.Error("open store", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	// Config-supplied selection and unit preference override whatever the
	// store holds; the settings API takes over from there.
	if cfg.Devices != nil || cfg.DisplayUnit != "" {
		unit := cfg.DisplayUnit
		if unit == "" {
			unit = store.UnitFollowDevice
		}
		if err := db.SaveSettings(&store.Settings{
			DeviceIDs:   cfg.Devices,
			DisplayUnit: unit,
		}); err != nil {
			logger.Error("save settings", "err", err)
			os.Exit(1)
		}
	}

	// Cloud client and credential manager
	client := cubyapi.NewClient(cfg.API.BaseURL, logger)
	authMgr := auth.NewManager(client, db, logger)

	// Bootstrap login from config when nothing usable is stored.
	if !authMgr.Authenticated() && cfg.Account.Email != "" {
		loginCtx, loginCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := authMgr.Login(loginCtx, cfg.Account.Email, cfg.Account.Password); err != nil {
			logger.Error("bootstrap login failed, re-auth via API required", "err", err)
		}
		loginCancel()
	}

	// Create coordinator
	events := coordinator.NewEventBus(logger)
	coord := coordinator.New(client, authMgr, db, events, coordinator.Config{
		PollInterval: cfg.pollInterval,
	}, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	go coord.Run(runCtx)

	// Metrics registry
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		metrics.NewCollector(coord),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// Start web server
	webOpts := []web.ServerOption{
		web.WithVersion(version),
		web.WithMetrics(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})),
	}
	if cfg.Web.APIKey != "" {
		webOpts = append(webOpts, web.WithAPIKey(cfg.Web.APIKey))
	}
	if len(cfg.Web.AllowedOrigins) > 0 {
		webOpts = append(webOpts, web.WithAllowedOrigins(cfg.Web.AllowedOrigins))
	}

	webServer := web.NewServer(coord, authMgr, logger, webOpts...)

	httpServer := &http.Server{
		Addr:         cfg.Web.Listen,
		Handler:      webServer,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("web server starting", "addr", cfg.Web.Listen)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "err", err)
		}
	}()

	// Start MQTT bridge (no-op when built with no_mqtt tag).
	mqtt := initMQTT(coord, cfg, logger)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	signal.Stop(sigCh)
	logger.Info("shutting down", "signal", sig)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	mqtt.Stop()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "err", err)
	}
	webServer.Stop()
	runCancel()

	logger.Info("goodbye")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if cfg.API.BaseURL == "" {
		cfg.API.BaseURL = cubyapi.DefaultBaseURL
	}
	if cfg.Poll.Interval == "" {
		cfg.Poll.Interval = "60s"
	}
	if cfg.Web.Listen == "" {
		cfg.Web.Listen = "127.0.0.1:8080"
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = "cuby-bridge.db"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "cuby"
	}
	if cfg.MQTT.DiscoveryPrefix == "" {
		cfg.MQTT.DiscoveryPrefix = "homeassistant"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
	return &cfg, nil
}

func newLogger(cfg *Config) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	switch strings.ToLower(cfg.Log.Format) {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, opts)
	default:
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	return slog.New(handler)
}
