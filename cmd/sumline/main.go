// Sumline Core - summed meter coordination service
//
// This is the main entry point for the Sumline Core application.
// Sumline Core keeps a fleet of derived "summed" meter devices healthy:
//   - Hourly reconciliation of every managed device against its source
//   - Group-scoped tariff dispatch from a single broadcast event
//   - Source discovery and classification on the home-automation host
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/sumline/sumline-core/migrations"

	"github.com/sumline/sumline-core/internal/api"
	"github.com/sumline/sumline-core/internal/host"
	"github.com/sumline/sumline-core/internal/infrastructure/config"
	"github.com/sumline/sumline-core/internal/infrastructure/database"
	"github.com/sumline/sumline-core/internal/infrastructure/influxdb"
	"github.com/sumline/sumline-core/internal/infrastructure/logging"
	"github.com/sumline/sumline-core/internal/infrastructure/mqtt"
	"github.com/sumline/sumline-core/internal/meter"
	"github.com/sumline/sumline-core/internal/reconcile"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Sumline Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open database
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		log.Info("closing database")
		if closeErr := db.Close(); closeErr != nil {
			log.Error("error closing database", "error", closeErr)
		}
	}()
	log.Info("database connected", "path", cfg.Database.Path)

	// Run migrations
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	// Initialise the device registry and warm its cache
	repo := meter.NewSQLiteRepository(db.DB)
	registry := meter.NewRegistry(repo)
	registry.SetLogger(log)

	if refreshErr := registry.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	log.Info("device registry initialised", "devices", registry.DeviceCount())

	// Connect to MQTT broker
	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return fmt.Errorf("connecting to MQTT: %w", err)
	}
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := mqttClient.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	mqttClient.SetLogger(log)
	mqttClient.SetOnConnect(func() {
		log.Info("MQTT reconnected")
	})
	mqttClient.SetOnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
	})

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	var history reconcile.HistoryRecorder
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		history = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Host API client
	hostClient, err := host.NewClient(cfg.Host)
	if err != nil {
		return fmt.Errorf("creating host client: %w", err)
	}
	log.Info("host client initialised", "base_url", cfg.Host.BaseURL)

	// Reconciliation engine, tariff dispatcher, discovery classifier
	engine := reconcile.NewEngine(reconcile.EngineConfig{
		DriverID:                  cfg.Driver.ID,
		OriginCapabilities:        cfg.Discovery.OriginCapabilities,
		RestartDelaySourceMissing: cfg.Reconcile.GetRestartDelaySourceMissing(),
		RestartDelayStalled:       cfg.Reconcile.GetRestartDelayStalled(),
	}, registry, hostClient, mqttClient, history, log)

	dispatcher := reconcile.NewDispatcher(
		cfg.Driver.ID,
		cfg.Tariff.GetGraceDelay(),
		registry,
		hostClient,
		mqttClient,
		history,
		log,
	)

	classifier := reconcile.NewClassifier(reconcile.ClassifierConfig{
		OriginCapabilities: cfg.Discovery.OriginCapabilities,
		DailyResetApps:     cfg.Discovery.DailyResetApps,
		OwnDriverURI:       cfg.Discovery.OwnDriverURI,
	}, hostClient, log)

	// Bind inbound events: hourly clock tick and tariff broadcasts
	listener := reconcile.NewListener(mqttClient, engine, dispatcher, cfg.Driver.ID, log)
	if startErr := listener.Start(ctx); startErr != nil {
		return fmt.Errorf("starting event listener: %w", startErr)
	}
	defer func() {
		log.Info("stopping event listener")
		if closeErr := listener.Close(); closeErr != nil {
			log.Error("error stopping event listener", "error", closeErr)
		}
	}()
	log.Info("event listener started", "driver_id", cfg.Driver.ID)

	// HTTP API
	apiServer, err := api.New(api.Deps{
		Config:     *cfg,
		Logger:     log,
		Registry:   registry,
		Engine:     engine,
		Classifier: classifier,
		Version:    version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		log.Info("stopping API server")
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error stopping API server", "error", closeErr)
		}
	}()
	log.Info("API server started", "host", cfg.API.Host, "port", cfg.API.Port)

	// Verify all connections are healthy
	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. API server
	// 2. Event listener
	// 3. InfluxDB (if enabled)
	// 4. MQTT
	// 5. Database

	log.Info("Sumline Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses SUMLINE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("SUMLINE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// influxClient may be nil when history recording is disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if err := mqttClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("mqtt: %w", err)
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
