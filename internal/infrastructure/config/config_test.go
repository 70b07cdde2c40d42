package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// validConfig returns a Config that passes Validate.
func validConfig() *Config {
	cfg := Default()
	cfg.Security.Secrets = SecretsConfig{Passphrase: "unit-test-passphrase", Salt: "unit-test-salt"}
	return cfg
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	configPath := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return configPath
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
  wal_mode: true
  busy_timeout: 5
mqtt:
  broker:
    host: "localhost"
    port: 1883
    client_id: "test-client"
  qos: 1
  subject: "dojot.device-manager.device"
api:
  host: "0.0.0.0"
  port: 8080
security:
  secrets:
    passphrase: "a-passphrase"
    salt: "a-salt-value"
registry:
  key_length_max: 512
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Database.Path != "/tmp/test.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/tmp/test.db")
	}
	if cfg.MQTT.Subject != "dojot.device-manager.device" {
		t.Errorf("MQTT.Subject = %q, want %q", cfg.MQTT.Subject, "dojot.device-manager.device")
	}
	if cfg.Registry.KeyLengthMax != 512 {
		t.Errorf("Registry.KeyLengthMax = %d, want 512", cfg.Registry.KeyLengthMax)
	}
	// Values absent from the file keep their defaults.
	if cfg.Registry.IDAttempts != 10 {
		t.Errorf("Registry.IDAttempts = %d, want 10", cfg.Registry.IDAttempts)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Error("Load() expected error for missing file, got nil")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	configPath := writeConfig(t, "invalid: [yaml: content")

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected error for invalid YAML, got nil")
	}
}

func TestLoad_ValidationFailure(t *testing.T) {
	configPath := writeConfig(t, `
database:
  path: "/tmp/test.db"
api:
  port: 8080
`)

	_, err := Load(configPath)
	if err == nil {
		t.Error("Load() expected validation error for missing secrets passphrase, got nil")
	}
}

func TestConfig_Validate(t *testing.T) {
	validJWTSecret := "test-secret-key-at-least-32-chars!"

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(*Config) {}},
		{name: "missing database path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "invalid QoS", mutate: func(c *Config) { c.MQTT.QoS = 3 }, wantErr: true},
		{name: "missing subject", mutate: func(c *Config) { c.MQTT.Subject = "" }, wantErr: true},
		{name: "invalid port low", mutate: func(c *Config) { c.API.Port = 0 }, wantErr: true},
		{name: "invalid port high", mutate: func(c *Config) { c.API.Port = 70000 }, wantErr: true},
		{
			name:    "verify without secret",
			mutate:  func(c *Config) { c.Security.JWT = JWTConfig{Verify: true} },
			wantErr: true,
		},
		{
			name:    "verify with short secret",
			mutate:  func(c *Config) { c.Security.JWT = JWTConfig{Verify: true, Secret: "short"} },
			wantErr: true,
		},
		{
			name:   "verify with valid secret",
			mutate: func(c *Config) { c.Security.JWT = JWTConfig{Verify: true, Secret: validJWTSecret} },
		},
		{name: "missing passphrase", mutate: func(c *Config) { c.Security.Secrets.Passphrase = "" }, wantErr: true},
		{name: "short salt", mutate: func(c *Config) { c.Security.Secrets.Salt = "abc" }, wantErr: true},
		{name: "zero key length", mutate: func(c *Config) { c.Registry.KeyLengthMax = 0 }, wantErr: true},
		{name: "zero id attempts", mutate: func(c *Config) { c.Registry.IDAttempts = 0 }, wantErr: true},
		{name: "zero page size", mutate: func(c *Config) { c.Registry.DefaultPageSize = 0 }, wantErr: true},
		{name: "tls without cert", mutate: func(c *Config) { c.API.TLS = TLSConfig{Enabled: true, KeyFile: "k.pem"} }, wantErr: true},
		{
			name:   "tls with cert and key",
			mutate: func(c *Config) { c.API.TLS = TLSConfig{Enabled: true, CertFile: "c.pem", KeyFile: "k.pem"} },
		},
		{name: "influxdb without url", mutate: func(c *Config) { c.InfluxDB = InfluxDBConfig{Enabled: true} }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestAPITimeoutConfig_Durations(t *testing.T) {
	timeouts := APITimeoutConfig{Read: 30, Write: 45, Idle: 60}

	if got := timeouts.ReadTimeout().Seconds(); got != 30 {
		t.Errorf("ReadTimeout() = %v, want 30", got)
	}
	if got := timeouts.WriteTimeout().Seconds(); got != 45 {
		t.Errorf("WriteTimeout() = %v, want 45", got)
	}
	if got := timeouts.IdleTimeout().Seconds(); got != 60 {
		t.Errorf("IdleTimeout() = %v, want 60", got)
	}
}

func TestConfig_ValidateReportsEveryProblem(t *testing.T) {
	cfg := validConfig()
	cfg.Database.Path = ""
	cfg.MQTT.Subject = ""

	err := cfg.Validate()
	if err == nil {
		t.Fatal("Validate() error = nil, want error")
	}
	for _, want := range []string{"database.path is required", "mqtt.subject is required"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("Validate() error = %q, missing %q", err, want)
		}
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := Default()

	t.Setenv("DEVMGR_DATABASE_PATH", "/custom/path.db")
	t.Setenv("DEVMGR_MQTT_HOST", "mqtt.example.com")
	t.Setenv("DEVMGR_MQTT_PORT", "8883")
	t.Setenv("DEVMGR_MQTT_USERNAME", "testuser")
	t.Setenv("DEVMGR_MQTT_PASSWORD", "testpass")
	t.Setenv("DEVMGR_API_HOST", "192.168.1.1")
	t.Setenv("DEVMGR_API_PORT", "not-a-number")
	t.Setenv("DEVMGR_INFLUXDB_TOKEN", "secret-token")
	t.Setenv("DEVMGR_JWT_SECRET", "jwt-secret")
	t.Setenv("DEVMGR_SECRETS_PASSPHRASE", "env-passphrase")
	t.Setenv("DEVMGR_SECRETS_SALT", "env-salt-value")
	t.Setenv("DEVMGR_LOG_LEVEL", "debug")

	applyEnvOverrides(cfg)

	if cfg.Database.Path != "/custom/path.db" {
		t.Errorf("Database.Path = %q, want %q", cfg.Database.Path, "/custom/path.db")
	}
	if cfg.MQTT.Broker.Host != "mqtt.example.com" {
		t.Errorf("MQTT.Broker.Host = %q, want %q", cfg.MQTT.Broker.Host, "mqtt.example.com")
	}
	if cfg.MQTT.Broker.Port != 8883 {
		t.Errorf("MQTT.Broker.Port = %d, want 8883", cfg.MQTT.Broker.Port)
	}
	if cfg.MQTT.Auth.Username != "testuser" || cfg.MQTT.Auth.Password != "testpass" {
		t.Errorf("MQTT.Auth = %+v, want testuser/testpass", cfg.MQTT.Auth)
	}
	if cfg.API.Host != "192.168.1.1" {
		t.Errorf("API.Host = %q, want %q", cfg.API.Host, "192.168.1.1")
	}
	if cfg.API.Port != 5000 {
		t.Errorf("API.Port = %d, want default 5000 for unparsable override", cfg.API.Port)
	}
	if cfg.InfluxDB.Token != "secret-token" {
		t.Errorf("InfluxDB.Token = %q, want %q", cfg.InfluxDB.Token, "secret-token")
	}
	if cfg.Security.JWT.Secret != "jwt-secret" {
		t.Errorf("Security.JWT.Secret = %q, want %q", cfg.Security.JWT.Secret, "jwt-secret")
	}
	if cfg.Security.Secrets.Passphrase != "env-passphrase" || cfg.Security.Secrets.Salt != "env-salt-value" {
		t.Errorf("Security.Secrets = %+v, want env values", cfg.Security.Secrets)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want %q", cfg.Logging.Level, "debug")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Database.Path == "" {
		t.Error("Default should have non-empty Database.Path")
	}
	if cfg.MQTT.Broker.Port != 1883 {
		t.Errorf("Default MQTT.Broker.Port = %d, want 1883", cfg.MQTT.Broker.Port)
	}
	if cfg.Registry.KeyLengthMax != 1024 {
		t.Errorf("Default Registry.KeyLengthMax = %d, want 1024", cfg.Registry.KeyLengthMax)
	}
	if cfg.Registry.DefaultPageSize != 20 {
		t.Errorf("Default Registry.DefaultPageSize = %d, want 20", cfg.Registry.DefaultPageSize)
	}
}
