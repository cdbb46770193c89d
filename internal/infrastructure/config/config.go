package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Greenscale edge agent.
//
// Broker and publish settings live at the top level so the flat key/value
// files deployed on existing nodes (config.json) load unchanged. Supporting
// infrastructure is grouped into nested sections.
//
// A Config is treated as immutable once loaded. Reloading produces a new
// value; nothing mutates a Config that has already been handed out.
type Config struct {
	BrokerHost        string `yaml:"broker_host"`
	BrokerPort        int    `yaml:"broker_port"`
	BrokerUsername    string `yaml:"broker_username"`
	BrokerPassword    string `yaml:"broker_password"`
	BrokerKeepalive   int    `yaml:"broker_keepalive"`
	BrokerRetries     int    `yaml:"broker_retries"`
	BrokerRetryDelay  int    `yaml:"broker_retry_delay"`
	BrokerRetryJitter int    `yaml:"broker_retry_jitter_ms"`
	ClientID          string `yaml:"client_id"`

	TLSEnable     bool   `yaml:"tls_enable"`
	TLSCACert     string `yaml:"tls_ca_cert"`
	TLSClientCert string `yaml:"tls_client_cert"`
	TLSClientKey  string `yaml:"tls_client_key"`
	TLSInsecure   bool   `yaml:"tls_insecure"`

	PublishInterval int    `yaml:"publish_interval"`
	PublishQoS      int    `yaml:"publish_qos"`
	TopicPrefix     string `yaml:"topic_prefix"`
	ErrorBackoff    int    `yaml:"error_backoff"`

	Logging  LoggingConfig  `yaml:"logging"`
	Database DatabaseConfig `yaml:"database"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	API      APIConfig      `yaml:"api"`
	Camera   CameraConfig   `yaml:"camera"`
	Sensors  SensorsConfig  `yaml:"sensors"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// DatabaseConfig contains settings for the local publish journal.
type DatabaseConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Path          string `yaml:"path"`
	WALMode       bool   `yaml:"wal_mode"`
	BusyTimeout   int    `yaml:"busy_timeout"`
	RetentionDays int    `yaml:"retention_days"`
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

// APIConfig contains the local diagnostics HTTP server settings.
type APIConfig struct {
	Enabled               bool             `yaml:"enabled"`
	Host                  string           `yaml:"host"`
	Port                  int              `yaml:"port"`
	SnapshotRatePerMinute int              `yaml:"snapshot_rate_per_minute"`
	Timeouts              APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings in seconds.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// CameraConfig contains capture settings for the water camera.
type CameraConfig struct {
	Enabled        bool     `yaml:"enabled"`
	CaptureCommand string   `yaml:"capture_command"`
	CaptureArgs    []string `yaml:"capture_args"`
	Width          int      `yaml:"width"`
	Height         int      `yaml:"height"`
	SnapshotWidth  int      `yaml:"snapshot_width"`
	SnapshotHeight int      `yaml:"snapshot_height"`
	SnapshotDir    string   `yaml:"snapshot_dir"`
	ContrastScale  float64  `yaml:"contrast_scale"`
	Timeout        int      `yaml:"timeout"`
}

// SensorsConfig contains hardware locations and calibration coefficients
// for every reading producer.
type SensorsConfig struct {
	I2CBus      string `yaml:"i2c_bus"`
	ADCAddress  int    `yaml:"adc_address"`
	OneWireGlob string `yaml:"one_wire_glob"`

	Temperature     TemperatureConfig     `yaml:"temperature"`
	PH              PHConfig              `yaml:"ph"`
	DissolvedOxygen DissolvedOxygenConfig `yaml:"dissolved_oxygen"`
	Turbidity       TurbidityConfig       `yaml:"turbidity"`
	Ammonia         StaticSensorConfig    `yaml:"ammonia"`
	CO2             StaticSensorConfig    `yaml:"co2"`
}

// TemperatureConfig controls the DS18B20 sensor.
type TemperatureConfig struct {
	Enabled bool `yaml:"enabled"`
}

// PHConfig holds the linear pH calibration: pH = slope*V + intercept.
type PHConfig struct {
	Enabled   bool    `yaml:"enabled"`
	Channel   int     `yaml:"channel"`
	Slope     float64 `yaml:"slope"`
	Intercept float64 `yaml:"intercept"`
}

// DissolvedOxygenConfig holds the saturation-voltage calibration points.
//
// Mode "two_point" interpolates between Cal1 and Cal2. Mode "single_point"
// uses Cal1 only with the sensor's 35 mV/°C temperature slope.
type DissolvedOxygenConfig struct {
	Enabled  bool    `yaml:"enabled"`
	Channel  int     `yaml:"channel"`
	Mode     string  `yaml:"mode"`
	Cal1Temp float64 `yaml:"cal1_temp_c"`
	Cal1MV   float64 `yaml:"cal1_mv"`
	Cal2Temp float64 `yaml:"cal2_temp_c"`
	Cal2MV   float64 `yaml:"cal2_mv"`
}

// TurbidityConfig holds the quadratic NTU curve and its saturation floor.
type TurbidityConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Channel     int     `yaml:"channel"`
	SupplyScale float64 `yaml:"supply_scale"`
	Threshold   float64 `yaml:"threshold_v"`
	Saturation  float64 `yaml:"saturation_ntu"`
	A           float64 `yaml:"a"`
	B           float64 `yaml:"b"`
	C           float64 `yaml:"c"`
}

// StaticSensorConfig configures a placeholder producer that reports a fixed value.
type StaticSensorConfig struct {
	Enabled bool    `yaml:"enabled"`
	Value   float64 `yaml:"value"`
}

// DO calibration modes.
const (
	DOModeTwoPoint    = "two_point"
	DOModeSinglePoint = "single_point"
)

// Load reads configuration from a YAML (or JSON) file and applies
// environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: GREENSCALE_KEY
// For example: GREENSCALE_BROKER_HOST, GREENSCALE_LOG_LEVEL
func Load(path string) (*Config, error) {
	cfg := Default()

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

// LoadOrDefault behaves like Load, but a missing file yields the defaults
// (with environment overrides applied) instead of an error. The boolean
// reports whether the file was found.
func LoadOrDefault(path string) (*Config, bool, error) {
	cfg, err := Load(path)
	if err == nil {
		return cfg, true, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, false, err
	}

	cfg = Default()
	applyEnvOverrides(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, false, fmt.Errorf("validating config: %w", err)
	}
	return cfg, false, nil
}

// Default returns a Config with the documented defaults.
func Default() *Config {
	return &Config{
		BrokerHost:       "localhost",
		BrokerPort:       1883,
		BrokerKeepalive:  30,
		BrokerRetries:    3,
		BrokerRetryDelay: 2,
		PublishInterval:  10,
		PublishQoS:       1,
		TopicPrefix:      "greenscale",
		ErrorBackoff:     5,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Database: DatabaseConfig{
			Enabled:       false,
			Path:          "./data/greenscale.db",
			WALMode:       true,
			BusyTimeout:   5,
			RetentionDays: 7,
		},
		InfluxDB: InfluxDBConfig{
			BatchSize:     100,
			FlushInterval: 10,
		},
		API: APIConfig{
			Host:                  "127.0.0.1",
			Port:                  8081,
			SnapshotRatePerMinute: 2,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 60,
				Idle:  60,
			},
		},
		Camera: CameraConfig{
			Enabled:        false,
			CaptureCommand: "rpicam-still",
			Width:          1280,
			Height:         720,
			SnapshotWidth:  4608,
			SnapshotHeight: 2592,
			SnapshotDir:    "snapshots",
			ContrastScale:  64,
			Timeout:        15,
		},
		Sensors: SensorsConfig{
			I2CBus:      "/dev/i2c-1",
			ADCAddress:  0x48,
			OneWireGlob: "/sys/bus/w1/devices/28*",
			Temperature: TemperatureConfig{Enabled: true},
			PH: PHConfig{
				Enabled:   true,
				Channel:   1,
				Slope:     -6.31,
				Intercept: 16.57,
			},
			DissolvedOxygen: DissolvedOxygenConfig{
				Enabled:  true,
				Channel:  2,
				Mode:     DOModeTwoPoint,
				Cal1Temp: 20.75,
				Cal1MV:   750,
				Cal2Temp: 30.44,
				Cal2MV:   860,
			},
			Turbidity: TurbidityConfig{
				Enabled:     true,
				Channel:     0,
				SupplyScale: 5.0 / 3.3,
				Threshold:   2.5,
				Saturation:  3000,
				A:           -1120.4,
				B:           5742.3,
				C:           -4352.9,
			},
			Ammonia: StaticSensorConfig{Value: 0.25},
			CO2:     StaticSensorConfig{Value: 415.2},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Secrets are expected to arrive this way rather than through the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("GREENSCALE_BROKER_HOST"); v != "" {
		cfg.BrokerHost = v
	}
	if v := os.Getenv("GREENSCALE_BROKER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.BrokerPort = port
		}
	}
	if v := os.Getenv("GREENSCALE_BROKER_USERNAME"); v != "" {
		cfg.BrokerUsername = v
	}
	if v := os.Getenv("GREENSCALE_BROKER_PASSWORD"); v != "" {
		cfg.BrokerPassword = v
	}
	if v := os.Getenv("GREENSCALE_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("GREENSCALE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.BrokerHost == "" {
		errs = append(errs, "broker_host is required")
	}
	if c.BrokerPort < 1 || c.BrokerPort > 65535 {
		errs = append(errs, "broker_port must be between 1 and 65535")
	}
	if c.BrokerKeepalive < 1 {
		errs = append(errs, "broker_keepalive must be at least 1 second")
	}
	if c.BrokerRetries < 1 {
		errs = append(errs, "broker_retries must be at least 1")
	}
	if c.BrokerRetryDelay < 0 {
		errs = append(errs, "broker_retry_delay cannot be negative")
	}
	if c.BrokerRetryJitter < 0 {
		errs = append(errs, "broker_retry_jitter_ms cannot be negative")
	}
	if c.BrokerPassword != "" && c.BrokerUsername == "" {
		errs = append(errs, "broker_password requires broker_username")
	}
	if (c.TLSClientCert == "") != (c.TLSClientKey == "") {
		errs = append(errs, "tls_client_cert and tls_client_key must be set together")
	}

	if c.PublishInterval < 1 {
		errs = append(errs, "publish_interval must be at least 1 second")
	}
	if c.PublishQoS < 0 || c.PublishQoS > 2 {
		errs = append(errs, "publish_qos must be 0, 1, or 2")
	}
	if c.TopicPrefix == "" {
		errs = append(errs, "topic_prefix is required")
	}
	if c.ErrorBackoff < 0 {
		errs = append(errs, "error_backoff cannot be negative")
	}

	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required when the journal is enabled")
	}
	if c.InfluxDB.Enabled && c.InfluxDB.URL == "" {
		errs = append(errs, "influxdb.url is required when influxdb is enabled")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.Camera.Enabled && c.Camera.CaptureCommand == "" {
		errs = append(errs, "camera.capture_command is required when the camera is enabled")
	}

	switch c.Sensors.DissolvedOxygen.Mode {
	case DOModeTwoPoint:
		if c.Sensors.DissolvedOxygen.Cal1Temp == c.Sensors.DissolvedOxygen.Cal2Temp {
			errs = append(errs, "sensors.dissolved_oxygen calibration temperatures must differ in two_point mode")
		}
	case DOModeSinglePoint:
	default:
		errs = append(errs, "sensors.dissolved_oxygen.mode must be two_point or single_point")
	}
	for name, ch := range map[string]int{
		"ph":               c.Sensors.PH.Channel,
		"dissolved_oxygen": c.Sensors.DissolvedOxygen.Channel,
		"turbidity":        c.Sensors.Turbidity.Channel,
	} {
		if ch < 0 || ch > 3 {
			errs = append(errs, fmt.Sprintf("sensors.%s.channel must be between 0 and 3", name))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetPublishInterval returns the publish interval as a Duration.
func (c *Config) GetPublishInterval() time.Duration {
	return time.Duration(c.PublishInterval) * time.Second
}

// GetErrorBackoff returns the post-panic backoff as a Duration.
func (c *Config) GetErrorBackoff() time.Duration {
	return time.Duration(c.ErrorBackoff) * time.Second
}

// GetKeepalive returns the broker keepalive as a Duration.
func (c *Config) GetKeepalive() time.Duration {
	return time.Duration(c.BrokerKeepalive) * time.Second
}

// GetRetryDelay returns the delay between connect attempts as a Duration.
func (c *Config) GetRetryDelay() time.Duration {
	return time.Duration(c.BrokerRetryDelay) * time.Second
}

// GetRetryJitter returns the maximum random jitter added to the retry delay.
func (c *Config) GetRetryJitter() time.Duration {
	return time.Duration(c.BrokerRetryJitter) * time.Millisecond
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
