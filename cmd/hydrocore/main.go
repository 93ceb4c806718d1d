// Hydro Core - hydroponics relay control service
//
// This is the main entry point for Hydro Core. It mirrors each floor's
// relay mode, relay status and schedule from the shared state channel,
// exposes the floor commands over HTTP and WebSocket, and records every
// command in the local command log.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nerrad567/hydro-core/internal/api"
	"github.com/nerrad567/hydro-core/internal/audit"
	"github.com/nerrad567/hydro-core/internal/floor"
	"github.com/nerrad567/hydro-core/internal/infrastructure/config"
	"github.com/nerrad567/hydro-core/internal/infrastructure/database"
	"github.com/nerrad567/hydro-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/hydro-core/internal/infrastructure/logging"
	"github.com/nerrad567/hydro-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/hydro-core/internal/metrics"
	"github.com/nerrad567/hydro-core/internal/relay"
	"github.com/nerrad567/hydro-core/internal/remote"
	"github.com/nerrad567/hydro-core/migrations"
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

// recorderDrainTimeout bounds how long shutdown waits for queued command
// log entries to be written.
const recorderDrainTimeout = 5 * time.Second

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Deferred cleanups run in reverse start order on return.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Hydro Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Command log database
	db, err := database.Open(ctx, cfg.Database)
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

	if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database migrations complete")

	collector, err := metrics.New(nil)
	if err != nil {
		return fmt.Errorf("creating metrics collector: %w", err)
	}

	commandLog := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(commandLog, audit.RecorderOptions{
		Logger: log,
		OnDrop: collector.IncAuditDropped,
	})
	defer func() {
		drainCtx, drainCancel := context.WithTimeout(context.Background(), recorderDrainTimeout)
		defer drainCancel()
		if closeErr := recorder.Close(drainCtx); closeErr != nil {
			log.Error("error draining command log", "error", closeErr)
		}
	}()

	// Remote state channel
	store, mqttClient, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing state store")
		if closeErr := store.Close(); closeErr != nil {
			log.Error("error closing state store", "error", closeErr)
		}
		if mqttClient != nil {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}
	}()

	// Connect to InfluxDB (optional)
	var stateWriter floor.StateWriter
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(ctx, cfg.InfluxDB)
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
		stateWriter = influxClient
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}
	telemetry := floor.NewTelemetry(stateWriter, collector)

	// Floor sessions
	supervisor, err := floor.New(floor.Options{
		Floors:              cfg.Site.Floors,
		Store:               store,
		Recorder:            relay.MultiRecorder{recorder, collector, telemetry},
		OnSubscriptionError: collector.SubscriptionError,
		Logger:              log,
	})
	if err != nil {
		return fmt.Errorf("creating floor supervisor: %w", err)
	}
	supervisor.AddListener(telemetry)

	// The API registers its WebSocket hub as a listener in New, so it is
	// built before the floors start delivering state.
	apiDeps := api.Deps{
		Config:     cfg.API,
		WS:         cfg.WebSocket,
		Security:   cfg.Security,
		Logger:     log,
		Floors:     supervisor,
		CommandLog: commandLog,
		DB:         db.DB,
		Version:    version,
	}
	if mqttClient != nil {
		apiDeps.MQTT = mqttClient
	}
	if cfg.Metrics.Enabled {
		apiDeps.Metrics = collector.Handler()
		apiDeps.MetricsPath = cfg.Metrics.Path
	}
	apiServer, err := api.New(apiDeps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	if startErr := supervisor.Start(ctx); startErr != nil {
		return fmt.Errorf("starting floor supervisor: %w", startErr)
	}
	defer func() {
		if stopErr := supervisor.Stop(); stopErr != nil {
			log.Error("error stopping floor supervisor", "error", stopErr)
		}
	}()

	if startErr := apiServer.Start(ctx); startErr != nil {
		return fmt.Errorf("starting API server: %w", startErr)
	}
	defer func() {
		if closeErr := apiServer.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal",
		"floors", len(cfg.Site.Floors),
		"address", fmt.Sprintf("%s:%d", cfg.API.Host, cfg.API.Port),
	)

	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")
	return nil
}

// stateStore is a remote.Store the process owns and closes on shutdown.
type stateStore interface {
	remote.Store
	Close() error
}

// openStore creates the remote state channel selected by store.backend.
// For the mqtt backend it connects to the broker and returns the client so
// the caller can close it after the store.
func openStore(ctx context.Context, cfg *config.Config, log *logging.Logger) (stateStore, *mqtt.Client, error) {
	if cfg.Store.Backend == config.StoreBackendMemory {
		log.Warn("using in-memory state store; floor state is not shared with other processes")
		return remote.NewMemoryStore(), nil, nil
	}

	mqttClient, err := mqtt.Connect(cfg.MQTT)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	mqttClient.SetLogger(log)
	log.Info("MQTT connected",
		"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
		"client_id", cfg.MQTT.Broker.ClientID,
	)

	store := remote.NewMQTTStore(remote.MQTTStoreOptions{
		Broker: mqttClient,
		Topics: mqttClient.Topics(),
		QoS:    mqttClient.QoS(),
		Settle: cfg.GetSettleTimeout(),
		Logger: log,
	})
	mqttClient.OnDisconnect(func(err error) {
		log.Warn("MQTT disconnected", "error", err)
		store.HandleConnectionLost(err)
	})
	mqttClient.OnConnect(func() {
		log.Info("MQTT connected")
		store.HandleReconnect()
	})

	if err := store.Start(ctx); err != nil {
		_ = mqttClient.Close() //nolint:errcheck // already failing
		return nil, nil, fmt.Errorf("starting state store: %w", err)
	}
	return store, mqttClient, nil
}

// getConfigPath returns the configuration file path.
// Uses HYDROCORE_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("HYDROCORE_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// healthCheck verifies all infrastructure connections are healthy.
// mqttClient and influxClient are nil when their backends are disabled.
func healthCheck(ctx context.Context, db *database.DB, mqttClient *mqtt.Client, influxClient *influxdb.Client) error {
	if err := db.HealthCheck(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}

	if mqttClient != nil {
		if err := mqttClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			return fmt.Errorf("influxdb: %w", err)
		}
	}

	return nil
}
