// GreenScale Edge - aquaculture telemetry agent
//
// This is the main entry point for the edge agent that runs on each pond
// controller. Every publish interval it samples the water sensors and the
// camera, assembles one telemetry payload and publishes it to the MQTT
// broker, reconnecting as needed. Configuration changes are picked up
// between cycles without a restart.
//
// Usage:
//
//	greenscale-edge            run the agent until SIGINT/SIGTERM
//	greenscale-edge -snapshot  capture one full-resolution image and exit
//	greenscale-edge -migrate status|down
//	                           show or roll back journal migrations and exit
//	greenscale-edge -version   print build information and exit
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/greenscale/greenscale-edge/internal/agent"
	"github.com/greenscale/greenscale-edge/internal/api"
	"github.com/greenscale/greenscale-edge/internal/camera"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/config"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/database"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/influxdb"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/logging"
	"github.com/greenscale/greenscale-edge/internal/infrastructure/mqtt"
	"github.com/greenscale/greenscale-edge/internal/journal"
	"github.com/greenscale/greenscale-edge/internal/sensors"
	"github.com/greenscale/greenscale-edge/internal/telemetry"
	"github.com/greenscale/greenscale-edge/migrations"
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

// startupHealthTimeout bounds the optional component checks at startup.
const startupHealthTimeout = 5 * time.Second

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - args: Command-line arguments without the program name
//   - stdout: Destination for -version and -snapshot output
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("greenscale-edge", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configFlag := fs.String("config", "", "path to the configuration file (overrides CONFIG_PATH)")
	snapshot := fs.Bool("snapshot", false, "capture one full-resolution snapshot and exit")
	migrate := fs.String("migrate", "", "journal migration command (status, down); runs and exits")
	showVersion := fs.Bool("version", false, "print version information and exit")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parsing flags: %w", err)
	}

	if *showVersion {
		fmt.Fprintf(stdout, "greenscale-edge %s (commit %s, built %s)\n", version, commit, date)
		return nil
	}

	// Use default logger until config is loaded
	log := logging.Default()

	configPath := getConfigPath(*configFlag)
	cfg, found, err := config.LoadOrDefault(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	if found {
		log.Info("configuration loaded", "path", configPath)
	} else {
		log.Warn("configuration file not found, using defaults", "path", configPath)
	}

	if *snapshot {
		return runSnapshot(ctx, cfg, stdout)
	}
	if *migrate != "" {
		return runMigrate(ctx, cfg, *migrate, stdout)
	}

	deviceID, err := getDeviceID()
	if err != nil {
		return fmt.Errorf("resolving device id: %w", err)
	}
	log = log.With("device_id", deviceID)
	log.Info("starting GreenScale edge agent",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Open the publish journal (optional)
	var db *database.DB
	var repo journal.Repository
	if cfg.Database.Enabled {
		db, err = database.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("opening database: %w", err)
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()

		if migrateErr := db.Migrate(ctx, migrations.FS); migrateErr != nil {
			return fmt.Errorf("running migrations: %w", migrateErr)
		}
		repo = journal.NewSQLiteRepository(db.DB)
		log.Info("publish journal ready", "path", db.Path())
	} else {
		log.Info("publish journal disabled")
	}

	// Connect to InfluxDB (optional)
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
			log.Error("InfluxDB write error", "error", err, "write_errors", influxClient.WriteErrors())
		})
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Sensor handles outlive reloads; only calibration is rebuilt.
	hw := sensors.NewHardware(cfg.Sensors)
	defer func() {
		if closeErr := hw.Close(); closeErr != nil {
			log.Error("error closing sensor hardware", "error", closeErr)
		}
	}()
	buildProducers := func(sc config.SensorsConfig) []telemetry.Producer {
		return sensors.Build(sc, hw)
	}

	// MQTT connection manager and publish gateway
	mqttLog := log.With("component", "mqtt")
	manager := mqtt.NewManager(mqtt.NewPahoTransport(), mqtt.NewTarget(cfg, deviceID), mqtt.WithLogger(mqttLog))
	defer func() {
		log.Info("disconnecting from MQTT")
		if closeErr := manager.Close(); closeErr != nil {
			log.Error("error closing MQTT", "error", closeErr)
		}
	}()
	topics := mqtt.Topics{Prefix: cfg.TopicPrefix}
	gateway := mqtt.NewGateway(manager, topics.Telemetry(deviceID), mqttLog)

	// One camera serves the cycle metric, reloads and API snapshots so
	// captures never overlap on the sensor.
	cam := camera.New(cfg.Camera, nil)

	assembler := telemetry.NewAssembler(deviceID, nil, nil, telemetry.WithAssemblerLogger(log.With("component", "telemetry")))

	deps := agent.Deps{
		Config:    cfg,
		DeviceID:  deviceID,
		Watcher:   config.NewWatcher(configPath, cfg),
		Manager:   manager,
		Gateway:   gateway,
		Assembler: assembler,
		Producers: buildProducers,
		Camera:    cameraFactory(cam),
		Journal:   repo,
		Logger:    log.With("component", "runner"),
	}
	if influxClient != nil {
		deps.Mirror = influxClient
	}
	runner, err := agent.New(deps)
	if err != nil {
		return fmt.Errorf("creating runner: %w", err)
	}

	// Diagnostics API (optional)
	if cfg.API.Enabled {
		apiServer, apiErr := startAPI(ctx, cfg, deviceID, log, runner, gateway, manager, cam, repo, db, influxClient)
		if apiErr != nil {
			return apiErr
		}
		defer func() {
			if closeErr := apiServer.Close(); closeErr != nil {
				log.Error("error closing API server", "error", closeErr)
			}
		}()
	}

	// The first connect is best-effort: the gateway reconnects on demand,
	// so an unreachable broker at boot only delays the first publish.
	if connErr := manager.Connect(ctx); connErr != nil {
		log.Warn("initial broker connection failed, will retry on publish", "error", connErr)
	}

	checkComponents(ctx, log, db, influxClient)

	log.Info("initialisation complete")
	if err := runner.Run(ctx); err != nil {
		return fmt.Errorf("running agent: %w", err)
	}

	// Deferred Close() calls run in reverse order:
	// API, MQTT, sensors, InfluxDB, database.
	log.Info("shutdown signal received, cleaning up")
	return nil
}

// runSnapshot captures one full-resolution image and prints its path.
func runSnapshot(ctx context.Context, cfg *config.Config, stdout io.Writer) error {
	path, err := camera.New(cfg.Camera, nil).Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("capturing snapshot: %w", err)
	}
	fmt.Fprintln(stdout, path)
	return nil
}

// runMigrate prints the journal's migration history, optionally rolling
// back the newest migration first. Used before downgrading the agent.
func runMigrate(ctx context.Context, cfg *config.Config, command string, stdout io.Writer) error {
	if command != "status" && command != "down" {
		return fmt.Errorf("unknown migrate command %q (want status or down)", command)
	}
	if !cfg.Database.Enabled {
		return errors.New("publish journal is disabled in configuration")
	}

	db, err := database.Open(cfg.Database)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck // read-mostly maintenance command

	if command == "down" {
		if err := db.MigrateDown(ctx, migrations.FS); err != nil {
			return fmt.Errorf("rolling back migration: %w", err)
		}
	}

	applied, pending, err := db.MigrationStatus(ctx, migrations.FS)
	if err != nil {
		return fmt.Errorf("reading migration status: %w", err)
	}
	for _, r := range applied {
		fmt.Fprintf(stdout, "applied  %s  %s\n", r.Version, r.AppliedAt.UTC().Format(time.RFC3339))
	}
	for _, m := range pending {
		fmt.Fprintf(stdout, "pending  %s  %s\n", m.Version, m.Name)
	}
	return nil
}

// cameraFactory returns the agent's camera factory over the shared cam.
// It returns an untyped nil when the camera is disabled so the assembler
// sees no camera at all.
func cameraFactory(cam *camera.Camera) agent.CameraFactory {
	return func(cc config.CameraConfig) telemetry.CameraSource {
		if !cc.Enabled {
			return nil
		}
		cam.SetConfig(cc)
		return cam
	}
}

// startAPI builds and starts the diagnostics server. Optional components
// are only passed when present so the server's nil checks hold.
func startAPI(
	ctx context.Context,
	cfg *config.Config,
	deviceID string,
	log *logging.Logger,
	runner *agent.Runner,
	gateway *mqtt.Gateway,
	manager *mqtt.Manager,
	cam *camera.Camera,
	repo journal.Repository,
	db *database.DB,
	influxClient *influxdb.Client,
) (*api.Server, error) {
	deps := api.Deps{
		Config:     cfg.API,
		Logger:     log.With("component", "api"),
		DeviceID:   deviceID,
		Version:    version,
		Runner:     runner,
		Gateway:    gateway,
		Connection: manager,
		Journal:    repo,
	}
	if cfg.Camera.Enabled {
		deps.Camera = cam
	}
	if db != nil {
		deps.Database = db
	}
	if influxClient != nil {
		deps.InfluxDB = influxClient
	}

	server, err := api.New(deps)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	if err := server.Start(ctx); err != nil {
		return nil, fmt.Errorf("starting API server: %w", err)
	}
	return server, nil
}

// checkComponents logs the health of the optional stores. Failures are
// not fatal: both are best-effort side channels.
func checkComponents(ctx context.Context, log *logging.Logger, db *database.DB, influxClient *influxdb.Client) {
	ctx, cancel := context.WithTimeout(ctx, startupHealthTimeout)
	defer cancel()

	if db != nil {
		if err := db.HealthCheck(ctx); err != nil {
			log.Warn("database health check failed", "error", err)
		}
	}
	if influxClient != nil {
		if err := influxClient.HealthCheck(ctx); err != nil {
			log.Warn("InfluxDB health check failed", "error", err)
		}
	}
}

// getConfigPath returns the configuration file path: the -config flag,
// then CONFIG_PATH, then the default.
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		return path
	}
	return defaultConfigPath
}

// getDeviceID returns DEVICE_ID, falling back to the hostname.
func getDeviceID() (string, error) {
	if id := os.Getenv("DEVICE_ID"); id != "" {
		return id, nil
	}
	host, err := os.Hostname()
	if err != nil {
		return "", err
	}
	if host == "" {
		return "", errors.New("empty hostname; set DEVICE_ID")
	}
	return host, nil
}
