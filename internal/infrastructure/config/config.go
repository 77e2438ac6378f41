package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the service-level configuration for skinnyd, loaded from
// YAML with environment variable overrides. The telephony model (lines,
// devices, dial behaviour) lives in skinny.conf and is parsed separately;
// this file covers everything around it.
type Config struct {
	SkinnyConf string          `yaml:"skinny_conf"`
	MQTT       MQTTConfig      `yaml:"mqtt"`
	CDR        CDRConfig       `yaml:"cdr"`
	Telemetry  TelemetryConfig `yaml:"telemetry"`
	CLI        CLIConfig       `yaml:"cli"`
	RTP        RTPConfig       `yaml:"rtp"`
	Logging    LoggingConfig   `yaml:"logging"`
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

// MQTTReconnectConfig contains MQTT reconnection settings in seconds.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
}

// CDRConfig contains call detail record storage settings.
type CDRConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// TelemetryConfig contains InfluxDB settings for operational metrics.
type TelemetryConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	FlushInterval int    `yaml:"flush_interval"`
}

// CLIConfig contains the local management socket settings.
type CLIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// RTPConfig contains the media port range.
type RTPConfig struct {
	PortMin uint16 `yaml:"port_min"`
	PortMax uint16 `yaml:"port_max"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment
// variable overrides. Loading order: defaults, file, environment.
// Environment variables follow the pattern SKINNYD_SECTION_KEY, for
// example SKINNYD_MQTT_HOST or SKINNYD_CDR_PATH.
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

// defaultConfig returns a Config with workable defaults: local broker,
// CDR and telemetry off, CLI on the loopback management port.
func defaultConfig() *Config {
	return &Config{
		SkinnyConf: "./skinny.conf",
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "skinnyd",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		CDR: CDRConfig{
			Path:        "./data/cdr.db",
			BusyTimeout: 5,
		},
		Telemetry: TelemetryConfig{
			FlushInterval: 10,
		},
		CLI: CLIConfig{
			Enabled: true,
			Listen:  "127.0.0.1:5038",
		},
		RTP: RTPConfig{
			PortMin: 10000,
			PortMax: 20000,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies SKINNYD_* environment variables over the
// file values. Only secrets and deployment-variable settings get an
// override; structural settings stay in the file.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SKINNYD_SKINNY_CONF"); v != "" {
		cfg.SkinnyConf = v
	}
	if v := os.Getenv("SKINNYD_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("SKINNYD_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("SKINNYD_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v := os.Getenv("SKINNYD_CDR_PATH"); v != "" {
		cfg.CDR.Path = v
	}
	if v := os.Getenv("SKINNYD_TELEMETRY_TOKEN"); v != "" {
		cfg.Telemetry.Token = v
	}
	if v := os.Getenv("SKINNYD_CLI_LISTEN"); v != "" {
		cfg.CLI.Listen = v
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []string

	if c.SkinnyConf == "" {
		errs = append(errs, "skinny_conf is required")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required when mqtt is enabled")
	}
	if c.CDR.Enabled && c.CDR.Path == "" {
		errs = append(errs, "cdr.path is required when cdr is enabled")
	}
	if c.Telemetry.Enabled {
		if c.Telemetry.URL == "" {
			errs = append(errs, "telemetry.url is required when telemetry is enabled")
		}
		if c.Telemetry.Bucket == "" {
			errs = append(errs, "telemetry.bucket is required when telemetry is enabled")
		}
	}
	if c.CLI.Enabled && c.CLI.Listen == "" {
		errs = append(errs, "cli.listen is required when cli is enabled")
	}
	if c.RTP.PortMax <= c.RTP.PortMin {
		errs = append(errs, "rtp.port_max must be above rtp.port_min")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
