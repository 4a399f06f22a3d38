package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"go.uber.org/zap"
)

// Config represents the application configuration
type Config struct {
	BLE           BLEConfig           `yaml:"ble"`
	Beacon        BeaconConfig        `yaml:"beacon"`
	MQTT          MQTTConfig          `yaml:"mqtt"`
	Prometheus    PrometheusConfig    `yaml:"prometheus"`
	HealthCheck   HealthCheckConfig   `yaml:"healthcheck"`
	Logging       LoggingConfig       `yaml:"logging"`
	Profiling     ProfilingConfig     `yaml:"profiling"`
	OpenTelemetry OpenTelemetryConfig `yaml:"opentelemetry"`
}

// BLEConfig contains scanner mode configuration
type BLEConfig struct {
	ScanWindowMillis int      `yaml:"scanWindowMillis" env:"SCAN_WINDOW_MILLIS" env-default:"1000"`
	SelfFilter       []string `yaml:"selfFilter" env:"SELF_FILTER" env-separator:","`
	PathLossExponent float64  `yaml:"pathLossExponent" env:"PATH_LOSS_EXPONENT" env-default:"2.0"`
}

// BeaconConfig contains beacon mode configuration
type BeaconConfig struct {
	ProximityUUID         string `yaml:"proximityUUID" env:"BEACON_UUID" env-default:"87b99b2c-90fd-11e9-bc42-526af7764f64"`
	TxPower               int    `yaml:"txPower" env:"BEACON_TX_POWER" env-default:"-50"`
	AdvertiseWindowMillis int    `yaml:"advertiseWindowMillis" env:"ADVERTISE_WINDOW_MILLIS" env-default:"100"`
	SuspendSeconds        int    `yaml:"suspendSeconds" env:"SUSPEND_SECONDS" env-default:"10"`
	LocalName             string `yaml:"localName" env:"BEACON_LOCAL_NAME"`
	RetainedStatePath     string `yaml:"retainedStatePath" env:"RETAINED_STATE_PATH" env-default:"/data/ibeacon.state"`
}

// MQTTConfig contains the MQTT report sink configuration
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" env:"MQTT_ENABLED" env-default:"false"`
	Broker   string `yaml:"broker" env:"MQTT_BROKER" env-default:"tcp://localhost:1883"`
	ClientID string `yaml:"clientID" env:"MQTT_CLIENT_ID" env-default:"ibeacon-scanner"`
	Username string `yaml:"username" env:"MQTT_USERNAME"`
	Password string `yaml:"password" env:"MQTT_PASSWORD"`
	Topic    string `yaml:"topic" env:"MQTT_TOPIC" env-default:"ibeacon/{uuid}/{major}/{minor}"`
	QoS      int    `yaml:"qos" env:"MQTT_QOS" env-default:"0"`
}

// PrometheusConfig contains Prometheus metrics push configuration
type PrometheusConfig struct {
	Enabled             bool   `yaml:"enabled" env:"PROMETHEUS_ENABLED" env-default:"false"`
	PushIntervalSeconds int    `yaml:"pushIntervalSeconds" env:"PUSH_INTERVAL_SECONDS" env-default:"15"`
	URL                 string `yaml:"prometheusUrl" env:"PROMETHEUS_URL"`
	Username            string `yaml:"prometheusUsername" env:"PROMETHEUS_USERNAME"`
	Password            string `yaml:"prometheusPassword" env:"PROMETHEUS_PASSWORD"`
	BatchSize           int    `yaml:"batchSize" env:"BATCH_SIZE" env-default:"500"`
	BufferSize          int    `yaml:"bufferSize" env:"BUFFER_SIZE" env-default:"1000"`
}

// HealthCheckConfig contains the heartbeat ping configuration
type HealthCheckConfig struct {
	URL    string `yaml:"url" env:"HEALTHCHECK_URL"`
	Period string `yaml:"period" env:"HEALTHCHECK_PERIOD" env-default:"1m"`
}

// Load loads configuration from a YAML file with environment variable overrides
func Load(configPath string) (*Config, error) {
	var cfg Config

	if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.validateBLE(); err != nil {
		return err
	}
	if err := c.validateBeacon(); err != nil {
		return err
	}
	if err := c.validateMQTT(); err != nil {
		return err
	}
	if err := c.validatePrometheus(); err != nil {
		return err
	}
	if err := c.validateHealthCheck(); err != nil {
		return err
	}
	if err := ValidateLogging(&c.Logging); err != nil {
		return err
	}
	if err := ValidateProfiling(&c.Profiling); err != nil {
		return err
	}
	return ValidateOpenTelemetry(&c.OpenTelemetry)
}

func (c *Config) validateBLE() error {
	if c.BLE.ScanWindowMillis < 1 {
		return fmt.Errorf("scan window must be at least 1ms")
	}
	if c.BLE.PathLossExponent <= 0 {
		return fmt.Errorf("path loss exponent must be positive, got %v", c.BLE.PathLossExponent)
	}
	for i, entry := range c.BLE.SelfFilter {
		if strings.TrimSpace(entry) == "" {
			return fmt.Errorf("self filter entry %d is empty", i)
		}
	}
	return nil
}

func (c *Config) validateBeacon() error {
	if _, err := uuid.Parse(c.Beacon.ProximityUUID); err != nil {
		return fmt.Errorf("beacon proximity UUID %q is invalid: %w", c.Beacon.ProximityUUID, err)
	}
	if c.Beacon.TxPower < -128 || c.Beacon.TxPower > 127 {
		return fmt.Errorf("beacon tx power must fit a signed byte, got %d", c.Beacon.TxPower)
	}
	if c.Beacon.AdvertiseWindowMillis < 1 {
		return fmt.Errorf("advertise window must be at least 1ms")
	}
	if c.Beacon.SuspendSeconds < 1 {
		return fmt.Errorf("suspend duration must be at least 1 second")
	}
	if c.Beacon.RetainedStatePath == "" {
		return fmt.Errorf("retained state path is required")
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt broker is required when mqtt is enabled")
	}
	if c.MQTT.Topic == "" {
		return fmt.Errorf("mqtt topic is required when mqtt is enabled")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

func (c *Config) validatePrometheus() error {
	if !c.Prometheus.Enabled {
		return nil
	}
	if c.Prometheus.URL == "" {
		return fmt.Errorf("prometheus URL is required when prometheus is enabled")
	}
	if c.Prometheus.PushIntervalSeconds < 1 {
		return fmt.Errorf("push interval must be at least 1 second")
	}
	if c.Prometheus.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1")
	}
	if c.Prometheus.BufferSize < 1 {
		return fmt.Errorf("buffer size must be at least 1")
	}
	return nil
}

func (c *Config) validateHealthCheck() error {
	if c.HealthCheck.URL == "" {
		return nil
	}
	period, err := time.ParseDuration(c.HealthCheck.Period)
	if err != nil {
		return fmt.Errorf("healthcheck period %q is invalid: %w", c.HealthCheck.Period, err)
	}
	if period < time.Second {
		return fmt.Errorf("healthcheck period must be at least 1s, got %s", period)
	}
	return nil
}

// ScanWindow returns the scan window as a duration
func (c *BLEConfig) ScanWindow() time.Duration {
	return time.Duration(c.ScanWindowMillis) * time.Millisecond
}

// AdvertiseWindow returns the advertise window as a duration
func (c *BeaconConfig) AdvertiseWindow() time.Duration {
	return time.Duration(c.AdvertiseWindowMillis) * time.Millisecond
}

// SuspendDuration returns the suspend duration
func (c *BeaconConfig) SuspendDuration() time.Duration {
	return time.Duration(c.SuspendSeconds) * time.Second
}

// UUID returns the parsed proximity UUID. Validate has already checked it.
func (c *BeaconConfig) UUID() uuid.UUID {
	return uuid.MustParse(c.ProximityUUID)
}

// NewLogger creates a logger from the logging section
func (c *Config) NewLogger() (*zap.Logger, error) {
	return NewLogger(&c.Logging)
}

// PrintConfig prints the configuration (masking sensitive fields)
func (c *Config) PrintConfig(logger *zap.Logger) {
	logger.Info("configuration loaded",
		zap.Int("scan_window_millis", c.BLE.ScanWindowMillis),
		zap.Strings("self_filter", c.BLE.SelfFilter),
		zap.Float64("path_loss_exponent", c.BLE.PathLossExponent),
		zap.String("beacon_uuid", c.Beacon.ProximityUUID),
		zap.Int("beacon_tx_power", c.Beacon.TxPower),
		zap.Int("advertise_window_millis", c.Beacon.AdvertiseWindowMillis),
		zap.Int("suspend_seconds", c.Beacon.SuspendSeconds),
		zap.String("retained_state_path", c.Beacon.RetainedStatePath),
		zap.Bool("mqtt_enabled", c.MQTT.Enabled),
		zap.String("mqtt_broker", c.MQTT.Broker),
		zap.String("mqtt_topic", c.MQTT.Topic),
		zap.Bool("mqtt_password_set", c.MQTT.Password != ""),
		zap.Bool("prometheus_enabled", c.Prometheus.Enabled),
		zap.String("prometheus_url", c.Prometheus.URL),
		zap.String("prometheus_username", c.Prometheus.Username),
		zap.Bool("prometheus_password_set", c.Prometheus.Password != ""),
		zap.Int("push_interval_seconds", c.Prometheus.PushIntervalSeconds),
		zap.Int("buffer_size", c.Prometheus.BufferSize),
		zap.Bool("healthcheck_enabled", c.HealthCheck.URL != ""),
		zap.String("healthcheck_period", c.HealthCheck.Period),
		zap.String("log_format", c.Logging.Format),
		zap.String("log_level", c.Logging.Level),
		zap.Bool("profiling_enabled", c.Profiling.Enabled),
		zap.Bool("otel_enabled", c.OpenTelemetry.Enabled),
	)
}
