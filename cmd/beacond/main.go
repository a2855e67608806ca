// Gray Logic Beacon - Eddystone broadcast core
//
// This is the main entry point for the Gray Logic beacon daemon. The beacon
// advertises up to eight configurable Eddystone slots (UID, URL, TLM) in
// rotation and exposes its configuration to:
//   - the Gray Logic core over MQTT
//   - commissioning tools over the REST API and WebSocket
//   - BLE centrals while connectable
//
// Slot records and the lock key live in the SQLite-backed tag store so they
// survive restarts.
package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-beacon/internal/api"
	"github.com/nerrad567/gray-logic-beacon/internal/audit"
	"github.com/nerrad567/gray-logic-beacon/internal/beacon"
	"github.com/nerrad567/gray-logic-beacon/internal/beacon/timer"
	"github.com/nerrad567/gray-logic-beacon/internal/bridge"
	"github.com/nerrad567/gray-logic-beacon/internal/eddystone"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/influxdb"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-beacon/internal/infrastructure/mqtt"
	"github.com/nerrad567/gray-logic-beacon/internal/nvds"
	"github.com/nerrad567/gray-logic-beacon/internal/radio"
	"github.com/nerrad567/gray-logic-beacon/internal/radio/bluez"
	"github.com/nerrad567/gray-logic-beacon/internal/slot"
	"github.com/nerrad567/gray-logic-beacon/migrations"
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
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting Gray Logic Beacon",
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
		"beacon_id", cfg.Beacon.ID,
	)

	// Open database
	db, err := database.Open(cfg.Database)
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

	// Slot store on the persistent tag store
	tags := nvds.NewSQLiteBackend(db.DB)
	store, err := slot.NewStore(tags, cfg.Beacon.Slots, uint16(cfg.Beacon.BaseTag)) //nolint:gosec // validated by config
	if err != nil {
		return fmt.Errorf("creating slot store: %w", err)
	}
	if seedErr := seedLockKey(ctx, store, cfg.Beacon.LockKey); seedErr != nil {
		return seedErr
	}

	state, err := newState(cfg.Beacon)
	if err != nil {
		return fmt.Errorf("creating beacon state: %w", err)
	}

	events := &beacon.Events{}
	timers := timer.NewScheduler()
	defer timers.Close()

	// Radio backend
	var (
		adv        beacon.Radio
		bluezRadio *bluez.Radio
	)
	switch cfg.Radio.Backend {
	case "log":
		adv = radio.NewLog(log.Component("radio"))
		log.Info("radio backend: dry run")
	default:
		bluezRadio, err = bluez.Open(bluez.Config{
			Adapter:     cfg.Radio.Adapter,
			LocalName:   cfg.Radio.LocalName,
			CallTimeout: cfg.Radio.CallTimeoutDuration(),
		})
		if err != nil {
			return fmt.Errorf("opening bluez radio: %w", err)
		}
		bluezRadio.SetLogger(log.Component("radio"))
		defer func() {
			log.Info("closing bluez radio")
			if closeErr := bluezRadio.Close(); closeErr != nil {
				log.Error("error closing bluez radio", "error", closeErr)
			}
		}()
		adv = bluezRadio
		log.Info("radio backend: bluez", "adapter", cfg.Radio.Adapter)
	}

	machine := beacon.NewMachine(beacon.MachineConfig{
		PowerOnGrace:      cfg.Beacon.PowerOnGrace(),
		ConnectableWindow: cfg.Beacon.ConnectableWindow(),
		Tick:              cfg.Beacon.Tick(),
	}, store, state, adv, timers, newSensor(cfg.Beacon.Sensor), events)
	machine.SetLogger(log.Component("machine"))

	auditRepo := audit.NewSQLiteRepository(db.DB)
	configurator := beacon.NewConfigurator(store, state, eddystone.TelemetryFunc(machine.Telemetry), events)
	configurator.SetAuditor(auditRepo)
	configurator.SetLogger(log.Component("configurator"))

	if provErr := provisionSlots(ctx, configurator, cfg.Beacon.Provision, log); provErr != nil {
		return provErr
	}
	if entries, listErr := tags.Entries(ctx); listErr == nil {
		log.Debug("nvds loaded", "records", len(entries))
	}

	// Connect to MQTT broker (optional)
	var mqttClient *mqtt.Client
	if cfg.MQTT.Enabled {
		mqttClient, err = mqtt.Connect(cfg.MQTT, cfg.Beacon.ID)
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
		log.Info("MQTT connected",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Broker.Host, cfg.MQTT.Broker.Port),
			"client_id", cfg.MQTT.Broker.ClientID,
		)

		mqttClient.SetOnConnect(func() {
			log.Info("MQTT reconnected")
		})
		mqttClient.SetOnDisconnect(func(err error) {
			log.Warn("MQTT disconnected", "error", err)
		})
	} else {
		log.Info("MQTT disabled")
	}

	// Connect to InfluxDB (optional)
	var influxClient *influxdb.Client
	if cfg.InfluxDB.Enabled {
		influxClient, err = influxdb.Connect(cfg.InfluxDB, cfg.Site.ID)
		if err != nil {
			return fmt.Errorf("connecting to InfluxDB: %w", err)
		}
		defer func() {
			log.Info("closing InfluxDB connection")
			if closeErr := influxClient.Close(); closeErr != nil {
				log.Error("error closing InfluxDB", "error", closeErr)
			}
		}()
		log.Info("InfluxDB connected",
			"url", cfg.InfluxDB.URL,
			"org", cfg.InfluxDB.Org,
			"bucket", cfg.InfluxDB.Bucket,
		)

		influxClient.SetOnError(func(err error) {
			log.Error("InfluxDB write error", "error", err)
		})
	} else {
		log.Info("InfluxDB disabled")
	}

	// Event bridge. Interfaces stay nil when a client is disabled.
	opts := bridge.Options{
		BeaconID: cfg.Beacon.ID,
		Counter:  machine,
		QoS:      byte(cfg.MQTT.QoS), //nolint:gosec // validated by config
		Logger:   log.Component("bridge"),
	}
	if mqttClient != nil {
		opts.Publisher = mqttClient
	}
	if influxClient != nil {
		opts.Metrics = influxClient
	}
	eventBridge, err := bridge.New(opts)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	events.Subscribe(eventBridge.Observe)
	if mqttClient != nil {
		if subErr := eventBridge.SubscribeCommands(mqttClient, configurator); subErr != nil {
			return fmt.Errorf("subscribing to commands: %w", subErr)
		}
	}

	// REST API and WebSocket
	deps := api.Deps{
		Config:       cfg.API,
		WS:           cfg.WebSocket,
		Security:     cfg.Security,
		BeaconID:     cfg.Beacon.ID,
		Logger:       log.Component("api"),
		Machine:      machine,
		State:        state,
		Configurator: configurator,
		Events:       events,
		Audit:        auditRepo,
		Bridge:       eventBridge,
		DB:           db.DB,
		Version:      version,
	}
	if mqttClient != nil {
		deps.MQTTStatus = mqttClient.IsConnected
	}
	apiServer, err := api.New(deps)
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

	if err := healthCheck(ctx, db, mqttClient, influxClient); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eventBridge.Run(gctx)
	})

	if bluezRadio != nil {
		if watchErr := bluezRadio.WatchConnections(gctx, machine.SetConnected); watchErr != nil {
			log.Warn("connection tracking unavailable", "error", watchErr)
		}
	}

	if startErr := machine.Start(gctx); startErr != nil {
		return fmt.Errorf("starting advertising: %w", startErr)
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	<-gctx.Done()

	log.Info("shutdown signal received, cleaning up")

	if stopErr := machine.Stop(); stopErr != nil {
		log.Error("error stopping advertising", "error", stopErr)
	}
	if waitErr := g.Wait(); waitErr != nil {
		log.Error("background task failed", "error", waitErr)
	}

	log.Info("Gray Logic Beacon stopped",
		"adv_count", machine.AdvCount(),
		"published", eventBridge.Published(),
		"dropped", eventBridge.Dropped(),
	)
	return nil
}

// getConfigPath returns the configuration file path.
// Uses GRAYLOGIC_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("GRAYLOGIC_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// newState builds the beacon state from the beacon section.
func newState(cfg config.BeaconConfig) (*beacon.State, error) {
	lock, err := beacon.ParseLockState(cfg.LockState)
	if err != nil {
		return nil, err
	}

	levels := make([]int8, len(cfg.TxPowerLevels))
	for i, l := range cfg.TxPowerLevels {
		levels[i] = int8(l) //nolint:gosec // validated by config
	}

	return beacon.NewState(beacon.Settings{
		Slots:             cfg.Slots,
		AdvIntervalMS:     cfg.AdvIntervalMS,
		RadioTxPower:      cfg.RadioTxPower,
		AdvTxPower:        int8(cfg.AdvTxPower), //nolint:gosec // validated by config
		TxPowerLevels:     levels,
		RemainConnectable: cfg.RemainConnectable,
		LockState:         lock,
	})
}

// newSensor returns the TLM reading source.
func newSensor(cfg config.SensorConfig) eddystone.Sensor {
	if cfg.Type == "sysfs" {
		return &eddystone.SysfsSensor{
			BatteryPath: cfg.BatteryPath,
			ThermalPath: cfg.ThermalPath,
		}
	}
	return eddystone.NewSimulatedSensor()
}

// seedLockKey stores the configured lock key when none has been persisted.
// A key changed over the air is never overwritten by the config file.
func seedLockKey(ctx context.Context, store *slot.Store, hexKey string) error {
	if hexKey == "" {
		return nil
	}

	_, err := store.LockKey(ctx)
	if err == nil {
		return nil
	}
	if !errors.Is(err, slot.ErrNotFound) {
		return fmt.Errorf("reading lock key: %w", err)
	}

	raw, err := hex.DecodeString(hexKey)
	if err != nil || len(raw) != slot.LockKeyLength {
		return fmt.Errorf("lock key must be %d hex-encoded bytes", slot.LockKeyLength)
	}
	var key slot.LockKey
	copy(key[:], raw)
	if err := store.SetLockKey(ctx, key); err != nil {
		return fmt.Errorf("storing lock key: %w", err)
	}
	return nil
}

// provisionConfig converts a provisioning entry to the frame type and
// payload the configurator stores.
func provisionConfig(p config.ProvisionSlot) (beacon.ProvisionConfig, error) {
	ft, err := eddystone.ParseFrameType(p.Type)
	if err != nil {
		return beacon.ProvisionConfig{}, err
	}

	switch ft {
	case eddystone.FrameURL:
		payload, err := eddystone.EncodeURL(p.URL)
		if err != nil {
			return beacon.ProvisionConfig{}, err
		}
		return beacon.ProvisionConfig{FrameType: ft, Payload: payload}, nil

	case eddystone.FrameUID:
		var ns eddystone.Namespace
		if p.NamespaceUUID != "" {
			u, err := uuid.Parse(p.NamespaceUUID)
			if err != nil {
				return beacon.ProvisionConfig{}, fmt.Errorf("namespace uuid: %w", err)
			}
			ns = eddystone.NamespaceFromUUID(u)
		} else {
			ns, err = eddystone.ParseNamespace(p.Namespace)
			if err != nil {
				return beacon.ProvisionConfig{}, err
			}
		}
		inst, err := eddystone.ParseInstance(p.Instance)
		if err != nil {
			return beacon.ProvisionConfig{}, err
		}
		return beacon.ProvisionConfig{FrameType: ft, Payload: eddystone.UIDPayload(ns, inst)}, nil

	case eddystone.FrameTLM:
		return beacon.ProvisionConfig{FrameType: ft}, nil

	default:
		return beacon.ProvisionConfig{}, fmt.Errorf("frame type %s cannot be provisioned", ft)
	}
}

// provisionSlots writes the configured defaults into empty slots.
func provisionSlots(ctx context.Context, c *beacon.Configurator, slots []config.ProvisionSlot, log *logging.Logger) error {
	written := 0
	for _, p := range slots {
		pc, err := provisionConfig(p)
		if err != nil {
			return fmt.Errorf("provisioning slot %d: %w", p.Slot, err)
		}
		ok, err := c.Provision(ctx, p.Slot, pc)
		if err != nil {
			return err
		}
		if ok {
			written++
		}
	}
	if len(slots) > 0 {
		log.Info("slot provisioning complete", "configured", len(slots), "written", written)
	}
	return nil
}

// healthCheck verifies all infrastructure connections are healthy.
//
// Parameters:
//   - ctx: Context for timeout/cancellation
//   - db: Database connection to check
//   - mqttClient: MQTT client to check (may be nil if disabled)
//   - influxClient: InfluxDB client to check (may be nil if disabled)
//
// Returns:
//   - error: First health check failure, or nil if all healthy
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
