package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override, as in DEVMGR_API_PORT.
const EnvPrefix = "DEVMGR_"

const (
	minSaltLength      = 8
	minJWTSecretLength = 32
)

// Load builds the configuration in three layers: Default, then the YAML
// file at path, then DEVMGR_* environment variables. The result is
// validated before it is returned.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// Default returns the configuration used for any key the file leaves out.
// Secrets have no default.
func Default() *Config {
	var c Config

	c.Database = DatabaseConfig{Path: "./data/devmgr.db", WALMode: true, BusyTimeout: 5}

	c.MQTT.Broker = MQTTBrokerConfig{Host: "localhost", Port: 1883, ClientID: "devmgr"}
	c.MQTT.QoS = 1
	c.MQTT.Reconnect = MQTTReconnectConfig{InitialDelay: 1, MaxDelay: 60}
	c.MQTT.Subject = "device"

	c.API.Host = "0.0.0.0"
	c.API.Port = 5000
	c.API.Timeouts = APITimeoutConfig{Read: 30, Write: 30, Idle: 60}

	c.WebSocket = WebSocketConfig{MaxMessageSize: 8192, PingInterval: 30, PongTimeout: 10}
	c.Logging = LoggingConfig{Level: "info", Format: "json", Output: "stdout"}
	c.Registry = RegistryConfig{KeyLengthMax: 1024, IDAttempts: 10, DefaultPageSize: 20}

	return &c
}

// envOverride maps one variable, without the prefix, onto a field.
type envOverride struct {
	key   string
	apply func(c *Config, v string)
}

func envString(key string, field func(*Config) *string) envOverride {
	return envOverride{key, func(c *Config, v string) { *field(c) = v }}
}

// envInt ignores values that do not parse, so the file value stands.
func envInt(key string, field func(*Config) *int) envOverride {
	return envOverride{key, func(c *Config, v string) {
		if n, err := strconv.Atoi(v); err == nil {
			*field(c) = n
		}
	}}
}

var envOverrides = []envOverride{
	envString("DATABASE_PATH", func(c *Config) *string { return &c.Database.Path }),
	envString("MQTT_HOST", func(c *Config) *string { return &c.MQTT.Broker.Host }),
	envInt("MQTT_PORT", func(c *Config) *int { return &c.MQTT.Broker.Port }),
	envString("MQTT_USERNAME", func(c *Config) *string { return &c.MQTT.Auth.Username }),
	envString("MQTT_PASSWORD", func(c *Config) *string { return &c.MQTT.Auth.Password }),
	envString("MQTT_SUBJECT", func(c *Config) *string { return &c.MQTT.Subject }),
	envString("API_HOST", func(c *Config) *string { return &c.API.Host }),
	envInt("API_PORT", func(c *Config) *int { return &c.API.Port }),
	envString("INFLUXDB_URL", func(c *Config) *string { return &c.InfluxDB.URL }),
	envString("INFLUXDB_TOKEN", func(c *Config) *string { return &c.InfluxDB.Token }),
	envString("LOG_LEVEL", func(c *Config) *string { return &c.Logging.Level }),
	envString("JWT_SECRET", func(c *Config) *string { return &c.Security.JWT.Secret }),
	envString("SECRETS_PASSPHRASE", func(c *Config) *string { return &c.Security.Secrets.Passphrase }),
	envString("SECRETS_SALT", func(c *Config) *string { return &c.Security.Secrets.Salt }),
}

// applyEnvOverrides copies every non-empty DEVMGR_* variable onto cfg.
func applyEnvOverrides(cfg *Config) {
	for _, o := range envOverrides {
		if v := os.Getenv(EnvPrefix + o.key); v != "" {
			o.apply(cfg, v)
		}
	}
}

// Validate reports every problem at once, joined into one error.
func (c *Config) Validate() error {
	jwt := c.Security.JWT
	rules := []struct {
		broken bool
		msg    string
	}{
		{c.Database.Path == "", "database.path is required"},
		{c.MQTT.QoS < 0 || c.MQTT.QoS > 2, "mqtt.qos must be 0, 1, or 2"},
		{c.MQTT.Subject == "", "mqtt.subject is required"},
		{c.API.Port < 1 || c.API.Port > 65535, "api.port must be between 1 and 65535"},
		{c.API.TLS.Enabled && (c.API.TLS.CertFile == "" || c.API.TLS.KeyFile == ""), "api.tls needs cert_file and key_file"},
		// A verifying resolver with no secret would accept nothing.
		{jwt.Verify && jwt.Secret == "", "security.jwt.secret is required when security.jwt.verify is set (set DEVMGR_JWT_SECRET)"},
		{jwt.Verify && jwt.Secret != "" && len(jwt.Secret) < minJWTSecretLength, "security.jwt.secret must be at least 32 characters"},
		{c.Security.Secrets.Passphrase == "", "security.secrets.passphrase is required (set DEVMGR_SECRETS_PASSPHRASE)"},
		{len(c.Security.Secrets.Salt) < minSaltLength, "security.secrets.salt must be at least 8 characters"},
		{c.InfluxDB.Enabled && c.InfluxDB.URL == "", "influxdb.url is required when influxdb is enabled"},
		{c.Registry.KeyLengthMax <= 0, "registry.key_length_max must be positive"},
		{c.Registry.IDAttempts <= 0, "registry.id_attempts must be positive"},
		{c.Registry.DefaultPageSize <= 0, "registry.default_page_size must be positive"},
	}

	var msgs []string
	for _, r := range rules {
		if r.broken {
			msgs = append(msgs, r.msg)
		}
	}
	if len(msgs) == 0 {
		return nil
	}
	return errors.New("configuration errors: " + strings.Join(msgs, "; "))
}
