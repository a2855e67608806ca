package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Gray Logic beacon daemon.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site      SiteConfig      `yaml:"site"`
	Beacon    BeaconConfig    `yaml:"beacon"`
	Radio     RadioConfig     `yaml:"radio"`
	Database  DatabaseConfig  `yaml:"database"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	API       APIConfig       `yaml:"api"`
	WebSocket WebSocketConfig `yaml:"websocket"`
	InfluxDB  InfluxDBConfig  `yaml:"influxdb"`
	Logging   LoggingConfig   `yaml:"logging"`
	Security  SecurityConfig  `yaml:"security"`
}

// SiteConfig contains site-specific information.
type SiteConfig struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`
}

// BeaconConfig contains the broadcast core settings.
type BeaconConfig struct {
	// ID names this beacon in MQTT topics and InfluxDB tags.
	ID string `yaml:"id"`

	// Slots is the number of configurable advertising slots (1-8).
	Slots int `yaml:"slots"`

	// BaseTag is the first storage tag; slot i lives at BaseTag+i and
	// the lock key at BaseTag+Slots.
	BaseTag int `yaml:"base_tag"`

	// AdvIntervalMS is the global advertising interval in milliseconds.
	AdvIntervalMS int `yaml:"adv_interval_ms"`

	// RadioTxPower is the initial radio power in dBm for every slot.
	RadioTxPower int `yaml:"radio_tx_power"`

	// AdvTxPower is the calibrated power at 0 m carried in UID and URL frames.
	AdvTxPower int `yaml:"adv_tx_power"`

	// TxPowerLevels lists the radio power levels the adapter supports, ascending.
	TxPowerLevels []int `yaml:"tx_power_levels"`

	// PowerOnGraceMS is how long the connectable power-on window lasts.
	PowerOnGraceMS int `yaml:"power_on_grace_ms"`

	// ConnectableWindowMS is the period of the recurring connectable window.
	ConnectableWindowMS int `yaml:"connectable_window_ms"`

	// TickMS is the resolution of the elapsed-time counter reported in TLM frames.
	TickMS int `yaml:"tick_ms"`

	RemainConnectable bool `yaml:"remain_connectable"`

	// LockState is the lock state at startup: "locked", "unlocked" or "unlocked_no_relock".
	LockState string `yaml:"lock_state"`

	// LockKey is the 16-byte lock key as 32 hex characters.
	// Only used when no key has been persisted yet.
	LockKey string `yaml:"lock_key"`

	Sensor SensorConfig `yaml:"sensor"`

	// Provision lists slots written on first boot. A slot that already
	// holds a valid record is left untouched.
	Provision []ProvisionSlot `yaml:"provision"`
}

// SensorConfig selects where TLM battery and temperature readings come from.
type SensorConfig struct {
	// Type is "simulated" or "sysfs".
	Type        string `yaml:"type"`
	BatteryPath string `yaml:"battery_path"`
	ThermalPath string `yaml:"thermal_path"`
}

// ProvisionSlot describes one slot written on first boot.
type ProvisionSlot struct {
	Slot int `yaml:"slot"`

	// Type is "uid", "url" or "tlm".
	Type string `yaml:"type"`

	URL string `yaml:"url,omitempty"`

	// Namespace is 20 hex characters; NamespaceUUID derives it from a UUID instead.
	Namespace     string `yaml:"namespace,omitempty"`
	NamespaceUUID string `yaml:"namespace_uuid,omitempty"`

	// Instance is 12 hex characters.
	Instance string `yaml:"instance,omitempty"`
}

// RadioConfig selects and configures the advertising backend.
type RadioConfig struct {
	// Backend is "bluez" for a real adapter or "log" for a dry run.
	Backend   string `yaml:"backend"`
	Adapter   string `yaml:"adapter"`
	LocalName string `yaml:"local_name"`
	// CallTimeout bounds each D-Bus call in seconds.
	CallTimeout int `yaml:"call_timeout"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	TLS      TLSConfig        `yaml:"tls"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
	CORS     CORSConfig       `yaml:"cors"`
}

// TLSConfig contains TLS certificate settings.
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CORSConfig contains Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
}

// WebSocketConfig contains WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SecurityConfig contains security settings.
type SecurityConfig struct {
	JWT JWTConfig `yaml:"jwt"`
}

// JWTConfig contains JWT token settings.
// Tokens are issued by the Gray Logic core and only verified here.
type JWTConfig struct {
	Secret         string `yaml:"secret"`
	AccessTokenTTL int    `yaml:"access_token_ttl"`
}

// Beacon interval bounds in milliseconds.
const (
	MinAdvIntervalMS = 100
	MaxAdvIntervalMS = 10240
)

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
// For example: GRAYLOGIC_DATABASE_PATH, GRAYLOGIC_BEACON_ID
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:   "site-001",
			Name: "Gray Logic",
		},
		Beacon: BeaconConfig{
			ID:                  "beacon-001",
			Slots:               5,
			BaseTag:             5,
			AdvIntervalMS:       1000,
			RadioTxPower:        0,
			AdvTxPower:          -20,
			TxPowerLevels:       []int{-40, -20, -16, -12, -8, -4, 0, 4},
			PowerOnGraceMS:      30000,
			ConnectableWindowMS: 30000,
			TickMS:              100,
			LockState:           "unlocked",
			Sensor: SensorConfig{
				Type:        "simulated",
				BatteryPath: "/sys/class/power_supply/BAT0/voltage_now",
				ThermalPath: "/sys/class/thermal/thermal_zone0/temp",
			},
		},
		Radio: RadioConfig{
			Backend:     "bluez",
			Adapter:     "hci0",
			LocalName:   "graylogic-beacon",
			CallTimeout: 5,
		},
		Database: DatabaseConfig{
			Path:        "./data/beacon.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Enabled: true,
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "graylogic-beacon",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8090,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Security: SecurityConfig{
			JWT: JWTConfig{
				AccessTokenTTL: 15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: GRAYLOGIC_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Beacon
	if v := os.Getenv("GRAYLOGIC_BEACON_ID"); v != "" {
		cfg.Beacon.ID = v
	}
	if v := os.Getenv("GRAYLOGIC_BEACON_LOCK_KEY"); v != "" {
		cfg.Beacon.LockKey = v
	}

	// Radio
	if v := os.Getenv("GRAYLOGIC_RADIO_BACKEND"); v != "" {
		cfg.Radio.Backend = v
	}
	if v := os.Getenv("GRAYLOGIC_RADIO_ADAPTER"); v != "" {
		cfg.Radio.Adapter = v
	}

	// Database
	if v := os.Getenv("GRAYLOGIC_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("GRAYLOGIC_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("GRAYLOGIC_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// API
	if v := os.Getenv("GRAYLOGIC_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("GRAYLOGIC_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// InfluxDB
	if v := os.Getenv("GRAYLOGIC_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Security - JWT secret shared with the core that issues tokens
	if v := os.Getenv("GRAYLOGIC_JWT_SECRET"); v != "" {
		cfg.Security.JWT.Secret = v
	}
}

// Validate checks the configuration for errors and security issues.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	errs = append(errs, c.Beacon.validate()...)

	switch c.Radio.Backend {
	case "bluez":
		if c.Radio.Adapter == "" {
			errs = append(errs, "radio.adapter is required for the bluez backend")
		}
	case "log":
	default:
		errs = append(errs, fmt.Sprintf("radio.backend %q must be \"bluez\" or \"log\"", c.Radio.Backend))
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Anyone holding the secret can rewrite every slot.
	const minJWTSecretLength = 32
	if c.Security.JWT.Secret == "" {
		errs = append(errs, "security.jwt.secret is required (set GRAYLOGIC_JWT_SECRET environment variable)")
	} else if len(c.Security.JWT.Secret) < minJWTSecretLength {
		errs = append(errs, "security.jwt.secret must be at least 32 characters for adequate security")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func (b *BeaconConfig) validate() []string {
	var errs []string

	if b.ID == "" {
		errs = append(errs, "beacon.id is required")
	}
	if b.Slots < 1 || b.Slots > 8 {
		errs = append(errs, "beacon.slots must be between 1 and 8")
	}
	if b.BaseTag < 0 || b.BaseTag+b.Slots > 0xFFFF {
		errs = append(errs, "beacon.base_tag out of range")
	}
	if b.AdvIntervalMS < MinAdvIntervalMS || b.AdvIntervalMS > MaxAdvIntervalMS {
		errs = append(errs, fmt.Sprintf("beacon.adv_interval_ms must be between %d and %d", MinAdvIntervalMS, MaxAdvIntervalMS))
	}
	if len(b.TxPowerLevels) == 0 {
		errs = append(errs, "beacon.tx_power_levels must not be empty")
	}
	for i, lvl := range b.TxPowerLevels {
		if lvl < -128 || lvl > 127 {
			errs = append(errs, fmt.Sprintf("beacon.tx_power_levels[%d] does not fit in a signed byte", i))
		}
		if i > 0 && lvl <= b.TxPowerLevels[i-1] {
			errs = append(errs, "beacon.tx_power_levels must be strictly ascending")
			break
		}
	}
	if b.AdvTxPower < -128 || b.AdvTxPower > 127 {
		errs = append(errs, "beacon.adv_tx_power does not fit in a signed byte")
	}
	if b.PowerOnGraceMS <= 0 || b.ConnectableWindowMS <= 0 || b.TickMS <= 0 {
		errs = append(errs, "beacon timer periods must be positive")
	}

	switch b.LockState {
	case "locked", "unlocked", "unlocked_no_relock":
	default:
		errs = append(errs, fmt.Sprintf("beacon.lock_state %q is not a lock state", b.LockState))
	}
	if b.LockKey != "" {
		if key, err := hex.DecodeString(b.LockKey); err != nil || len(key) != 16 {
			errs = append(errs, "beacon.lock_key must be 32 hex characters")
		}
	}

	switch b.Sensor.Type {
	case "simulated":
	case "sysfs":
		if b.Sensor.BatteryPath == "" || b.Sensor.ThermalPath == "" {
			errs = append(errs, "beacon.sensor paths are required for the sysfs sensor")
		}
	default:
		errs = append(errs, fmt.Sprintf("beacon.sensor.type %q must be \"simulated\" or \"sysfs\"", b.Sensor.Type))
	}

	for i, p := range b.Provision {
		if p.Slot < 0 || p.Slot >= b.Slots {
			errs = append(errs, fmt.Sprintf("beacon.provision[%d].slot out of range", i))
		}
		switch p.Type {
		case "uid":
			if p.Namespace == "" && p.NamespaceUUID == "" {
				errs = append(errs, fmt.Sprintf("beacon.provision[%d] needs namespace or namespace_uuid", i))
			}
			if p.Instance == "" {
				errs = append(errs, fmt.Sprintf("beacon.provision[%d] needs instance", i))
			}
		case "url":
			if p.URL == "" {
				errs = append(errs, fmt.Sprintf("beacon.provision[%d] needs url", i))
			}
		case "tlm":
		default:
			errs = append(errs, fmt.Sprintf("beacon.provision[%d].type %q must be uid, url or tlm", i, p.Type))
		}
	}

	return errs
}

// PowerOnGrace returns the power-on connectable window as a Duration.
func (b *BeaconConfig) PowerOnGrace() time.Duration {
	return time.Duration(b.PowerOnGraceMS) * time.Millisecond
}

// ConnectableWindow returns the recurring connectable window period.
func (b *BeaconConfig) ConnectableWindow() time.Duration {
	return time.Duration(b.ConnectableWindowMS) * time.Millisecond
}

// Tick returns the elapsed-counter tick period.
func (b *BeaconConfig) Tick() time.Duration {
	return time.Duration(b.TickMS) * time.Millisecond
}

// CallTimeoutDuration returns the D-Bus call timeout as a Duration.
func (r *RadioConfig) CallTimeoutDuration() time.Duration {
	return time.Duration(r.CallTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
