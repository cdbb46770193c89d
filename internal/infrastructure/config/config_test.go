package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeConfig(t, `
broker_host: "mqtt.greenscale.local"
broker_port: 8883
publish_interval: 30
broker_username: "edge"
broker_password: "secret"
tls_enable: true
tls_ca_cert: "/etc/greenscale/ca.crt"
logging:
  level: debug
sensors:
  ph:
    slope: -5.7
    intercept: 21.34
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BrokerHost != "mqtt.greenscale.local" {
		t.Errorf("BrokerHost = %q, want %q", cfg.BrokerHost, "mqtt.greenscale.local")
	}
	if cfg.BrokerPort != 8883 {
		t.Errorf("BrokerPort = %d, want 8883", cfg.BrokerPort)
	}
	if cfg.GetPublishInterval() != 30*time.Second {
		t.Errorf("GetPublishInterval() = %v, want 30s", cfg.GetPublishInterval())
	}
	if !cfg.TLSEnable || cfg.TLSCACert != "/etc/greenscale/ca.crt" {
		t.Errorf("TLS settings = (%v, %q), want (true, /etc/greenscale/ca.crt)", cfg.TLSEnable, cfg.TLSCACert)
	}
	if cfg.Sensors.PH.Slope != -5.7 || cfg.Sensors.PH.Intercept != 21.34 {
		t.Errorf("PH calibration = (%v, %v), want (-5.7, 21.34)", cfg.Sensors.PH.Slope, cfg.Sensors.PH.Intercept)
	}
	// Untouched keys keep their defaults.
	if cfg.Sensors.DissolvedOxygen.Cal1MV != 750 {
		t.Errorf("DissolvedOxygen.Cal1MV = %v, want default 750", cfg.Sensors.DissolvedOxygen.Cal1MV)
	}
	if cfg.BrokerRetries != 3 {
		t.Errorf("BrokerRetries = %d, want default 3", cfg.BrokerRetries)
	}
}

func TestLoad_FlatJSON(t *testing.T) {
	path := writeConfig(t, `{"broker_host": "192.168.1.100", "broker_port": 1884, "publish_interval": 5, "tls_enable": false}`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrokerHost != "192.168.1.100" || cfg.BrokerPort != 1884 || cfg.PublishInterval != 5 {
		t.Errorf("Load() = (%q, %d, %d), want (192.168.1.100, 1884, 5)", cfg.BrokerHost, cfg.BrokerPort, cfg.PublishInterval)
	}
}

func TestLoad_Defaults(t *testing.T) {
	path := writeConfig(t, "{}")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.BrokerHost != "localhost" {
		t.Errorf("BrokerHost = %q, want localhost", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 1883 {
		t.Errorf("BrokerPort = %d, want 1883", cfg.BrokerPort)
	}
	if cfg.PublishInterval != 10 {
		t.Errorf("PublishInterval = %d, want 10", cfg.PublishInterval)
	}
	if cfg.TLSEnable || cfg.TLSInsecure {
		t.Error("TLS flags should default to false")
	}
	if cfg.GetErrorBackoff() != 5*time.Second {
		t.Errorf("GetErrorBackoff() = %v, want 5s", cfg.GetErrorBackoff())
	}
	if cfg.GetKeepalive() != 30*time.Second {
		t.Errorf("GetKeepalive() = %v, want 30s", cfg.GetKeepalive())
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("Load() expected error for missing file, got nil")
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want fs.ErrNotExist", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "invalid: [yaml: content")

	if _, err := Load(path); err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoadOrDefault(t *testing.T) {
	t.Run("missing file falls back to defaults", func(t *testing.T) {
		cfg, found, err := LoadOrDefault(filepath.Join(t.TempDir(), "absent.yaml"))
		if err != nil {
			t.Fatalf("LoadOrDefault() error = %v", err)
		}
		if found {
			t.Error("found = true, want false")
		}
		if cfg.BrokerHost != "localhost" {
			t.Errorf("BrokerHost = %q, want localhost", cfg.BrokerHost)
		}
	})

	t.Run("malformed file is an error", func(t *testing.T) {
		path := writeConfig(t, "broker_port: [")
		if _, _, err := LoadOrDefault(path); err == nil {
			t.Error("LoadOrDefault() expected error for malformed file")
		}
	})
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("GREENSCALE_BROKER_HOST", "broker.env")
	t.Setenv("GREENSCALE_BROKER_PORT", "2883")
	t.Setenv("GREENSCALE_BROKER_USERNAME", "env-user")
	t.Setenv("GREENSCALE_BROKER_PASSWORD", "env-pass")
	t.Setenv("GREENSCALE_LOG_LEVEL", "warn")

	path := writeConfig(t, `broker_host: "file.host"`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BrokerHost != "broker.env" {
		t.Errorf("BrokerHost = %q, want broker.env", cfg.BrokerHost)
	}
	if cfg.BrokerPort != 2883 {
		t.Errorf("BrokerPort = %d, want 2883", cfg.BrokerPort)
	}
	if cfg.BrokerUsername != "env-user" || cfg.BrokerPassword != "env-pass" {
		t.Errorf("credentials = (%q, %q), want (env-user, env-pass)", cfg.BrokerUsername, cfg.BrokerPassword)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:    "port out of range",
			mutate:  func(c *Config) { c.BrokerPort = 70000 },
			wantErr: "broker_port",
		},
		{
			name:    "zero retries",
			mutate:  func(c *Config) { c.BrokerRetries = 0 },
			wantErr: "broker_retries",
		},
		{
			name:    "password without username",
			mutate:  func(c *Config) { c.BrokerPassword = "secret" },
			wantErr: "broker_password requires broker_username",
		},
		{
			name:    "client cert without key",
			mutate:  func(c *Config) { c.TLSClientCert = "/tmp/client.crt" },
			wantErr: "tls_client_cert and tls_client_key",
		},
		{
			name:    "invalid qos",
			mutate:  func(c *Config) { c.PublishQoS = 3 },
			wantErr: "publish_qos",
		},
		{
			name:    "interval below one second",
			mutate:  func(c *Config) { c.PublishInterval = 0 },
			wantErr: "publish_interval",
		},
		{
			name:    "unknown DO mode",
			mutate:  func(c *Config) { c.Sensors.DissolvedOxygen.Mode = "lookup" },
			wantErr: "dissolved_oxygen.mode",
		},
		{
			name: "two point with equal temperatures",
			mutate: func(c *Config) {
				c.Sensors.DissolvedOxygen.Cal2Temp = c.Sensors.DissolvedOxygen.Cal1Temp
			},
			wantErr: "calibration temperatures must differ",
		},
		{
			name:    "adc channel out of range",
			mutate:  func(c *Config) { c.Sensors.PH.Channel = 4 },
			wantErr: "sensors.ph.channel",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Validate() error = nil, want containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
