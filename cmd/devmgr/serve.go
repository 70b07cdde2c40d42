package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nerrad567/devmgr/internal/api"
	"github.com/nerrad567/devmgr/internal/audit"
	"github.com/nerrad567/devmgr/internal/auth"
	"github.com/nerrad567/devmgr/internal/device"
	"github.com/nerrad567/devmgr/internal/infrastructure/cipher"
	"github.com/nerrad567/devmgr/internal/infrastructure/config"
	"github.com/nerrad567/devmgr/internal/infrastructure/database"
	"github.com/nerrad567/devmgr/internal/infrastructure/influxdb"
	"github.com/nerrad567/devmgr/internal/infrastructure/logging"
	"github.com/nerrad567/devmgr/internal/infrastructure/mqtt"
	"github.com/nerrad567/devmgr/internal/notify"
)

// auditSource identifies this process in the event history.
const auditSource = "devmgr"

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API server",
		Long:  `Open the database, apply pending migrations, connect to the message bus and serve the registry API until interrupted.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), getConfigPath(*configPath))
		},
	}
}

// run serves until ctx is cancelled and returns nil on a clean shutdown.
// Resources are released in reverse order of acquisition.
func run(ctx context.Context, configPath string) error {
	log := logging.Default()
	log.Info("starting devmgr", "version", version, "commit", commit, "build_date", date)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log = logging.New(cfg.Logging, version)
	log.Info("configuration loaded", "path", configPath)

	var stack shutdownStack
	defer stack.unwind(log)

	db, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	stack.push("database", db.Close)
	if err := db.Migrate(ctx); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	// Argon2 derivation is slow on purpose and runs once per process.
	secrets, err := cipher.New(cfg.Security.Secrets)
	if err != nil {
		return fmt.Errorf("deriving secret key: %w", err)
	}

	bus, err := connectMQTT(cfg.MQTT, log)
	if err != nil {
		return err
	}
	stack.push("MQTT", bus.Close)

	influx, err := connectInflux(cfg.InfluxDB, log)
	if err != nil {
		return err
	}
	if influx != nil {
		stack.push("InfluxDB", influx.Close)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	hub := api.NewHub(cfg.WebSocket, log)
	sinks := []notify.Sink{
		notify.NewMQTTSink(bus, cfg.MQTT.Subject),
		notify.NewAuditSink(auditRepo, auditSource),
		notify.NewHubSink(hub),
	}
	if influx != nil {
		sinks = append(sinks, notify.NewInfluxSink(influx))
	}

	reg := newRegistry(db, notify.NewDispatcher(log, sinks...), secrets, cfg.Registry, log)
	if influx != nil {
		reg.devices.SetBatchRecorder(influx)
	}

	deps := api.Deps{
		Config:    cfg.API,
		WS:        cfg.WebSocket,
		Logger:    log,
		Devices:   reg.devices,
		Templates: reg.templates,
		Importer:  reg.importer,
		Audit:     auditRepo,
		Resolver:  auth.NewTenantResolver(cfg.Security.JWT),
		DB:        db.DB,
		MQTT:      bus,
		Hub:       hub,
		Version:   version,
	}
	if influx != nil {
		// Keep a typed nil out of the interface.
		deps.Influx = influx
	}
	srv, err := api.New(deps)
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	stack.push("API server", srv.Close)

	if err := healthCheck(ctx, db, bus, influx, srv); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("devmgr ready", "address", srv.Addr())

	<-ctx.Done()
	log.Info("shutdown signal received")
	return nil
}

type closer struct {
	name  string
	close func() error
}

// shutdownStack closes resources last-in first-out.
type shutdownStack []closer

func (s *shutdownStack) push(name string, fn func() error) {
	*s = append(*s, closer{name, fn})
}

func (s shutdownStack) unwind(log *logging.Logger) {
	for i := len(s) - 1; i >= 0; i-- {
		if err := s[i].close(); err != nil {
			log.Error("shutdown step failed", "resource", s[i].name, "error", err)
			continue
		}
		log.Info("closed", "resource", s[i].name)
	}
}

// connectMQTT dials the broker and hooks connection events into the log.
// The bus is required.
func connectMQTT(cfg config.MQTTConfig, log *logging.Logger) (*mqtt.Client, error) {
	bus, err := mqtt.Connect(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to MQTT: %w", err)
	}
	bus.SetLogger(log)
	bus.SetOnConnect(func() { log.Info("MQTT reconnected") })
	bus.SetOnDisconnect(func(err error) { log.Warn("MQTT disconnected", "error", err) })
	log.Info("MQTT connected", "host", cfg.Broker.Host, "port", cfg.Broker.Port, "client_id", cfg.Broker.ClientID)
	return bus, nil
}

// connectInflux returns nil, nil when InfluxDB is disabled.
func connectInflux(cfg config.InfluxDBConfig, log *logging.Logger) (*influxdb.Client, error) {
	client, err := influxdb.Connect(cfg)
	if errors.Is(err, influxdb.ErrDisabled) {
		log.Info("InfluxDB disabled")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	client.SetOnError(func(err error) { log.Error("InfluxDB write failed", "error", err) })
	log.Info("InfluxDB connected", "url", cfg.URL, "bucket", cfg.Bucket)
	return client, nil
}

// registry groups the services behind the API.
type registry struct {
	devices   *device.Service
	templates *device.TemplateService
	importer  *device.Importer
}

// newRegistry wires the device, template and import services over one
// SQLite store. They share the assembler so device ids come from a single
// generator.
func newRegistry(db *database.DB, events device.Notifier, secrets device.Cipher, cfg config.RegistryConfig, log *logging.Logger) *registry {
	store := device.NewSQLiteStore(db.DB)
	assembler := device.NewAssembler(device.NewIDGenerator(cfg.IDAttempts))
	limits := device.Config{
		KeyLengthMax:    cfg.KeyLengthMax,
		DefaultPageSize: cfg.DefaultPageSize,
	}

	devices := device.NewService(store, events, secrets, assembler, limits)
	devices.SetLogger(log)
	templates := device.NewTemplateService(store, events, limits)
	templates.SetLogger(log)
	importer := device.NewImporter(store, events, assembler)
	importer.SetLogger(log)

	return &registry{devices: devices, templates: templates, importer: importer}
}

// openDatabase opens the SQLite database named by the configuration.
func openDatabase(ctx context.Context, cfg *config.Config) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Database.Path,
		WALMode:     cfg.Database.WALMode,
		BusyTimeout: cfg.Database.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// healthChecker is implemented by every component checked at startup.
type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

type namedCheck struct {
	name string
	hc   healthChecker
}

// healthCheck runs each component's check once. influx is skipped when nil.
func healthCheck(ctx context.Context, db *database.DB, bus *mqtt.Client, influx *influxdb.Client, srv *api.Server) error {
	checks := []namedCheck{{"database", db}, {"mqtt", bus}}
	if influx != nil {
		checks = append(checks, namedCheck{"influxdb", influx})
	}
	checks = append(checks, namedCheck{"api", srv})

	for _, c := range checks {
		if err := c.hc.HealthCheck(ctx); err != nil {
			return fmt.Errorf("%s: %w", c.name, err)
		}
	}
	return nil
}
