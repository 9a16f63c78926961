package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	_ "github.com/nerrad567/gray-logic-dispatch/migrations"

	"github.com/nerrad567/gray-logic-dispatch/internal/adapter"
	"github.com/nerrad567/gray-logic-dispatch/internal/api"
	"github.com/nerrad567/gray-logic-dispatch/internal/audit"
	"github.com/nerrad567/gray-logic-dispatch/internal/command"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/ack"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/eventbus"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/manager"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/processor"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/queue"
	"github.com/nerrad567/gray-logic-dispatch/internal/command/store"
	"github.com/nerrad567/gray-logic-dispatch/internal/device"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/metrics"
	"github.com/nerrad567/gray-logic-dispatch/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-dispatch/internal/kvstore"
)

// Storage drivers for the command state store.
const (
	storageDriverSQLite   = "sqlite"
	storageDriverPostgres = "postgres"
	storageDriverMemory   = "memory"
)

// queueDepthInterval is how often queue depth is written to InfluxDB.
const queueDepthInterval = 10 * time.Second

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//   - configPath: YAML configuration file
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context, configPath string) error { //nolint:gocognit,gocyclo // linear startup sequence
	log := logging.Default()
	log.Info("starting Gray Logic Dispatch",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, version)
	defer log.Close() //nolint:errcheck // log file close on exit
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// SQLite holds devices and the audit trail whatever the storage driver.
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
	if migrateErr := db.Migrate(ctx); migrateErr != nil {
		return fmt.Errorf("running migrations: %w", migrateErr)
	}
	log.Info("database ready", "path", cfg.Database.Path)

	kv, pg, err := openStorage(ctx, cfg, db)
	if err != nil {
		return err
	}
	if pg != nil {
		defer pg.Close() //nolint:errcheck // shutdown
	}
	log.Info("command store ready", "driver", cfg.Storage.Driver)

	metrics.Init(nil)

	// Devices
	devices := device.NewRegistry(device.NewSQLiteRepository(db.DB))
	devices.SetLogger(log)
	if refreshErr := devices.RefreshCache(ctx); refreshErr != nil {
		return fmt.Errorf("loading device registry: %w", refreshErr)
	}
	if cfg.Devices.File != "" {
		result, importErr := devices.ImportFile(ctx, cfg.Devices.File)
		if importErr != nil {
			return fmt.Errorf("importing devices: %w", importErr)
		}
		log.Info("devices imported", "file", cfg.Devices.File, "result", result)
	}
	log.Info("device registry initialised", "devices", devices.GetDeviceCount())

	// MQTT carries both the MQTT downlink and the event mirror.
	var mqttClient *mqtt.Client
	if cfg.Adapters.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT)
		if err != nil {
			return fmt.Errorf("connecting to MQTT: %w", err)
		}
		mqttClient.SetLogger(log)
		trackBrokerState(mqttClient, log)
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
	}

	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected", "url", cfg.InfluxDB.URL, "bucket", cfg.InfluxDB.Bucket)
	} else {
		log.Info("InfluxDB disabled")
	}

	// Adapters
	adapters := adapter.NewRegistry()
	adapters.SetLogger(log)
	defer func() {
		if closeErr := adapters.Close(); closeErr != nil {
			log.Error("error stopping adapters", "error", closeErr)
		}
	}()
	mqttAdapter, err := registerAdapters(cfg, adapters, mqttClient, log)
	if err != nil {
		return err
	}
	log.Info("adapters registered", "protocols", adapters.Protocols())

	// Command pipeline
	st := store.New(kv)
	q := queue.New(cfg.Commands.QueueCapacity)
	bus := eventbus.New()
	defer bus.Close()

	acks := ack.New(st, bus)
	acks.SetLogger(log)

	proc := processor.New(q, st, adapters, devices, acks, bus, processor.Config{
		Workers:     cfg.Commands.Workers,
		SendTimeout: cfg.Commands.SendTimeout,
	})
	proc.SetLogger(log)
	acks.SetTimeoutHandler(proc)

	mgr := manager.New(q, st, proc, acks, adapters, devices, bus, manager.Config{
		DefaultRetry:    retryPolicy(cfg.Commands.Retry),
		CheckTargets:    cfg.Commands.CheckTargets,
		Recovery:        cfg.Commands.Recovery,
		Retention:       cfg.Commands.Retention,
		CleanupInterval: cfg.Commands.CleanupInterval,
	})
	mgr.SetLogger(log)
	if influxClient != nil {
		mgr.SetOutcomeWriter(influxClient)
	}
	if mqttClient != nil {
		mgr.SetEventMirror(mqttClient)
	}

	auditRepo := audit.NewSQLiteRepository(db.DB)
	recorder := audit.NewRecorder(auditRepo, bus, audit.DefaultBuffer)
	recorder.SetLogger(log)

	report, err := mgr.Recover(ctx)
	if err != nil {
		return fmt.Errorf("recovering commands: %w", err)
	}
	log.Info("command recovery complete",
		"policy", cfg.Commands.Recovery,
		"requeued", report.Requeued,
		"expired", report.Expired,
		"failed", report.Failed,
	)

	if mqttAdapter != nil {
		if startErr := mqttAdapter.Start(mgr); startErr != nil {
			return fmt.Errorf("subscribing to MQTT acks: %w", startErr)
		}
	}

	health := map[string]api.HealthChecker{"database": db}
	if mqttClient != nil {
		health["mqtt"] = mqttClient
	}
	if influxClient != nil {
		health["influxdb"] = influxClient
	}
	if pg != nil {
		health["postgres"] = pg
	}

	srv, err := api.New(api.Deps{
		Config:   cfg.API,
		WS:       cfg.WebSocket,
		Metrics:  cfg.Metrics,
		Logger:   log,
		Commands: mgr,
		Devices:  devices,
		Audit:    auditRepo,
		Health:   health,
		Version:  version,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error { return acks.Run(gctx, cfg.Commands.Ack.SweepInterval) })
	g.Go(func() error { return mgr.Run(gctx) })
	g.Go(func() error { return recorder.Run(gctx) })
	if cfg.Devices.Watch && cfg.Devices.File != "" {
		g.Go(func() error { return devices.Watch(gctx, cfg.Devices.File) })
	}
	if influxClient != nil {
		g.Go(func() error { return sampleQueueDepth(gctx, q, influxClient) })
	}

	if err := srv.Start(gctx); err != nil {
		return fmt.Errorf("starting API server: %w", err)
	}
	defer func() {
		if closeErr := srv.Close(); closeErr != nil {
			log.Error("error closing API server", "error", closeErr)
		}
	}()

	log.Info("initialisation complete, waiting for shutdown signal")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	log.Info("Gray Logic Dispatch stopped")
	return nil
}

// openStorage returns the key-value backend for the command store. The
// PostgreSQL connection is returned when storage.driver is postgres so the
// caller can close it and report its health; it is nil otherwise.
func openStorage(ctx context.Context, cfg *config.Config, sqlite *database.DB) (kvstore.Store, *database.DB, error) {
	switch cfg.Storage.Driver {
	case storageDriverMemory:
		return kvstore.NewMemory(), nil, nil
	case storageDriverPostgres:
		pg, err := database.OpenPostgres(cfg.Storage.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("opening postgres: %w", err)
		}
		if err := pg.Migrate(ctx); err != nil {
			pg.Close() //nolint:errcheck // best effort on error path
			return nil, nil, fmt.Errorf("running postgres migrations: %w", err)
		}
		return kvstore.NewSQL(pg), pg, nil
	case storageDriverSQLite, "":
		return kvstore.NewSQL(sqlite), nil, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

// registerAdapters registers the enabled downlink adapters. The MQTT
// adapter is returned so its ack subscription can be started once the
// manager exists.
func registerAdapters(cfg *config.Config, reg *adapter.Registry, client *mqtt.Client, log *logging.Logger) (*adapter.MQTTAdapter, error) {
	var mqttAdapter *adapter.MQTTAdapter
	if client != nil {
		mqttAdapter = adapter.NewMQTT(client, byte(cfg.Adapters.MQTT.QoS))
		mqttAdapter.SetLogger(log)
		if err := reg.Register(mqttAdapter); err != nil {
			return nil, fmt.Errorf("registering MQTT adapter: %w", err)
		}
	}
	if cfg.Adapters.Modbus.Enabled {
		modbus := adapter.NewModbus(cfg.Adapters.Modbus)
		modbus.SetLogger(log)
		if err := reg.Register(modbus); err != nil {
			return nil, fmt.Errorf("registering Modbus adapter: %w", err)
		}
	}
	if cfg.Adapters.HTTP.Enabled {
		httpAdapter := adapter.NewHTTP(cfg.Adapters.HTTP.Timeout)
		httpAdapter.SetLogger(log)
		if err := reg.Register(httpAdapter); err != nil {
			return nil, fmt.Errorf("registering HTTP adapter: %w", err)
		}
	}
	return mqttAdapter, nil
}

// retryPolicy converts the configured default retry policy.
func retryPolicy(c config.RetryConfig) command.RetryPolicy {
	return command.RetryPolicy{
		MaxAttempts:       c.MaxAttempts,
		BaseDelay:         c.BaseDelay,
		BackoffMultiplier: c.BackoffMultiplier,
		MaxDelay:          c.MaxDelay,
		AttemptTimeout:    c.AttemptTimeout,
	}
}

// brokerEvents is the connection-state surface of *mqtt.Client.
type brokerEvents interface {
	IsConnected() bool
	SetOnConnect(func())
	SetOnDisconnect(func(err error))
}

// trackBrokerState keeps the mqtt_connected gauge in step with the broker
// connection. While it is down MQTT sends fail as connection errors and
// are retried by the processor.
func trackBrokerState(c brokerEvents, log *logging.Logger) {
	metrics.SetBrokerConnected(c.IsConnected())
	c.SetOnConnect(func() {
		metrics.SetBrokerConnected(true)
		log.Info("MQTT broker connection restored")
	})
	c.SetOnDisconnect(func(err error) {
		metrics.SetBrokerConnected(false)
		log.Warn("MQTT broker connection lost, MQTT commands will retry", "error", err)
	})
}

// queueDepthSource is the part of the queue sampled for InfluxDB.
type queueDepthSource interface {
	Stats() command.QueueStats
}

// queueDepthWriter records per-priority queue depth.
type queueDepthWriter interface {
	WriteQueueDepth(depths map[string]int)
}

// sampleQueueDepth writes the per-priority queue depth every
// queueDepthInterval until ctx is cancelled.
func sampleQueueDepth(ctx context.Context, q queueDepthSource, w queueDepthWriter) error {
	ticker := time.NewTicker(queueDepthInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			w.WriteQueueDepth(q.Stats().ByPriority)
		}
	}
}
