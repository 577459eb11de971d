// devio - device I/O service
//
// This is the main entry point for devio. It builds the configured devices
// (null, zero, stream and ramdisk drivers) behind a device registry and
// exposes them through:
//   - An HTTP management API with a WebSocket event feed
//   - An optional SQLite request journal and device inventory
//   - Optional MQTT publishing of device events and inventory
//   - Optional InfluxDB metrics for I/O and request latency
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/devio-core/internal/api"
	"github.com/nerrad567/devio-core/internal/device"
	"github.com/nerrad567/devio-core/internal/driver"
	"github.com/nerrad567/devio-core/internal/infrastructure/config"
	"github.com/nerrad567/devio-core/internal/infrastructure/database"
	"github.com/nerrad567/devio-core/internal/infrastructure/influxdb"
	"github.com/nerrad567/devio-core/internal/infrastructure/logging"
	"github.com/nerrad567/devio-core/internal/infrastructure/mqtt"
	"github.com/nerrad567/devio-core/internal/journal"
	"github.com/nerrad567/devio-core/internal/telemetry"
	"github.com/nerrad567/devio-core/migrations"
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

// options are the parsed command-line flags.
type options struct {
	configPath  string
	showVersion bool
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(2)
	}
	if opts.showVersion {
		fmt.Printf("devio %s (commit %s, built %s)\n", version, commit, date)
		return
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// parseFlags parses args with pflag. --config falls back to DEVIO_CONFIG.
func parseFlags(args []string) (options, error) {
	var opts options
	fs := pflag.NewFlagSet("devio", pflag.ContinueOnError)
	fs.StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (env DEVIO_CONFIG)")
	fs.BoolVar(&opts.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if opts.configPath == "" {
		opts.configPath = os.Getenv("DEVIO_CONFIG")
	}
	return opts, nil
}

// loadConfig loads the config file. A missing file at the default path
// means built-in defaults; an explicitly named file must exist.
func loadConfig(path string) (*config.Config, string, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}
	if _, err := os.Stat(path); !explicit && errors.Is(err, os.ErrNotExist) {
		return config.Default(), "", nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - opts: Parsed command-line options
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, opts options) error {
	cfg, source, err := loadConfig(opts.configPath)
	if err != nil {
		// Use default logger since config is unavailable
		logging.Default().Error("configuration rejected", "path", opts.configPath, "error", err)
		return fmt.Errorf("loading config: %w", err)
	}

	log := logging.New(cfg.Logging, version)
	log.Info("starting devio",
		"version", version,
		"commit", commit,
		"build_date", date,
		"config", orDefault(source, "built-in defaults"),
	)

	registry := device.NewRegistry()
	registry.SetLogger(log.Component("device"))

	checks := map[string]api.HealthChecker{}

	// Request journal (optional)
	var repo *journal.SQLiteRepository
	if cfg.Journal.Enabled {
		db, dbErr := openJournal(ctx, cfg, log)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		repo = journal.NewSQLiteRepository(db.DB)
		checks["database"] = db

		if cfg.Journal.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.Journal.RetentionDays)
			n, pruneErr := repo.Prune(ctx, cutoff)
			if pruneErr != nil {
				return fmt.Errorf("pruning journal: %w", pruneErr)
			}
			log.Info("journal pruned", "removed", n, "before", cutoff.Format(time.RFC3339))
		}
	} else {
		log.Info("request journal disabled")
	}

	// MQTT (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		defer func() {
			log.Info("disconnecting from MQTT")
			if closeErr := mqttClient.Close(); closeErr != nil {
				log.Error("error closing MQTT", "error", closeErr)
			}
		}()
		mqttClient.SetLogger(log.Component("mqtt"))
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
		checks["mqtt"] = mqttClient
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)
	} else {
		log.Info("MQTT disabled")
	}

	// InfluxDB (optional)
	var influxClient *influxdb.Client
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
		checks["influxdb"] = influxClient
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Telemetry pump, observing the registry before any device exists so
	// boot registrations reach every sink.
	hub := api.NewHub(cfg.WebSocket, log.Component("websocket"))
	pump := telemetry.New(registry, telemetryOptions(cfg, log, repo, mqttClient, influxClient, hub))
	registry.SetObserver(pump)

	if mqttClient != nil {
		topic := mqttClient.Topics().AllCommands()
		if subErr := mqttClient.Subscribe(topic, byte(cfg.MQTT.QoS), pump.HandleCommand); subErr != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, subErr)
		}
	}

	if err := buildDevices(cfg, registry, log); err != nil {
		registry.CloseAll() //nolint:errcheck // Already failing
		return err
	}
	log.Info("devices registered", "count", registry.Count())

	pumpCtx, stopPump := context.WithCancel(context.Background())
	defer stopPump()
	g, pumpCtx := errgroup.WithContext(pumpCtx)
	g.Go(func() error { return pump.Run(pumpCtx) })
	g.Go(func() error {
		hub.Run(pumpCtx)
		return nil
	})

	// HTTP API (optional)
	var server *api.Server
	if cfg.API.Enabled {
		server, err = api.New(api.Deps{
			Config:    cfg.API,
			WS:        cfg.WebSocket,
			Logger:    log.Component("api"),
			Registry:  registry,
			Journal:   journalOrNil(repo),
			Telemetry: pump,
			Checks:    checks,
			Hub:       hub,
			Version:   version,
		})
		if err != nil {
			return fmt.Errorf("creating API server: %w", err)
		}
		if err := server.Start(ctx); err != nil {
			return fmt.Errorf("starting API server: %w", err)
		}
	} else {
		log.Info("HTTP API disabled")
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, cleaning up")
	case <-pumpCtx.Done():
		log.Error("telemetry stopped unexpectedly")
	}

	// Order: stop taking requests, release devices (which emits the final
	// unregister events), then drain telemetry before the deferred sink
	// closes run.
	if server != nil {
		if err := server.Close(); err != nil {
			log.Error("error closing API server", "error", err)
		}
	}
	if err := registry.CloseAll(); err != nil {
		log.Error("error closing devices", "error", err)
	}
	stopPump()
	if err := g.Wait(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}

	c := pump.Counters()
	log.Info("devio stopped", "events_delivered", c.Delivered, "events_dropped", c.Dropped)
	return nil
}

// openJournal opens the database and applies migrations.
func openJournal(ctx context.Context, cfg *config.Config, log *logging.Logger) (*database.DB, error) {
	db, err := database.Open(database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close() //nolint:errcheck // Already failing
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)
	return db, nil
}

// buildDevices creates and registers every configured device.
//
// Returns:
//   - error: First driver or registration failure
func buildDevices(cfg *config.Config, reg *device.Registry, log *logging.Logger) error {
	for _, dc := range cfg.Devices {
		spec, err := driverSpec(cfg, dc)
		if err != nil {
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
		drv, err := driver.New(spec, log.WithDevice(dc.Major, dc.Minor, dc.Name))
		if err != nil {
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
		if _, err := device.NewDevice(reg, device.Config{
			Major: dc.Major,
			Minor: dc.Minor,
			Name:  dc.Name,
			UID:   dc.UID,
			GID:   dc.GID,
		}, drv); err != nil {
			if c, ok := drv.(interface{ Close() error }); ok {
				c.Close() //nolint:errcheck // Registration already failed
			}
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
		log.Debug("device registered", "name", dc.Name, "major", dc.Major, "minor", dc.Minor, "driver", dc.Driver)
	}
	return nil
}

// driverSpec converts a config entry to a driver.Spec, parsing byte sizes.
func driverSpec(cfg *config.Config, dc config.DeviceConfig) (driver.Spec, error) {
	spec := driver.Spec{Driver: dc.Driver, Latency: dc.Latency}
	switch dc.Driver {
	case driver.NameStream:
		c, err := cfg.CapacityBytes(dc)
		if err != nil {
			return spec, err
		}
		spec.Capacity = c
	case driver.NameRamdisk:
		size, err := config.ParseSize(dc.Size)
		if err != nil {
			return spec, fmt.Errorf("size: %w", err)
		}
		spec.Size = size
		if dc.BlockSize != "" {
			if spec.BlockSize, err = config.ParseSize(dc.BlockSize); err != nil {
				return spec, fmt.Errorf("block_size: %w", err)
			}
		}
	}
	return spec, nil
}

// telemetryOptions wires only the sinks that are configured; a nil client
// must not become a non-nil interface.
func telemetryOptions(cfg *config.Config, log *logging.Logger, repo *journal.SQLiteRepository,
	mqttClient *mqtt.Client, influxClient *influxdb.Client, hub *api.Hub) telemetry.Options {
	opts := telemetry.Options{
		QueueSize:         cfg.Telemetry.QueueSize,
		InventoryInterval: time.Duration(cfg.Telemetry.InventoryInterval) * time.Second,
		Logger:            log.Component("telemetry"),
		Hub:               hub,
	}
	if repo != nil {
		opts.Journal = repo
	}
	if mqttClient != nil {
		opts.MQTT = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	return opts
}

func journalOrNil(repo *journal.SQLiteRepository) journal.Repository {
	if repo == nil {
		return nil
	}
	return repo
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
