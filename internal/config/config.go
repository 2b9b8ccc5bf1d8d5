package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the service configuration.
type Config struct {
	HTTP     HTTPConfig     `yaml:"http"`
	Database DatabaseConfig `yaml:"database"`
	Auth     AuthConfig     `yaml:"auth"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Redis    RedisConfig    `yaml:"redis"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Notify   NotifyConfig   `yaml:"notify"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr            string        `yaml:"addr" env:"HTTP_ADDR" env-default:":8080"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"HTTP_SHUTDOWN_TIMEOUT" env-default:"15s"`
	AllowedOrigins  []string      `yaml:"allowedOrigins" env:"HTTP_ALLOWED_ORIGINS" env-separator:","`
}

// DatabaseConfig configures the postgres connection.
type DatabaseConfig struct {
	URL string `yaml:"url" env:"DATABASE_URL"`
}

// AuthConfig configures bearer and ingest authentication.
type AuthConfig struct {
	JWTSecret   string `yaml:"jwtSecret" env:"AUTH_JWT_SECRET"`
	IngestToken string `yaml:"ingestToken" env:"INGEST_TOKEN"`
}

// MQTTConfig configures the sensor bridge and device command publishing.
type MQTTConfig struct {
	BrokerURL      string        `yaml:"brokerUrl" env:"MQTT_BROKER_URL"`
	ClientID       string        `yaml:"clientId" env:"MQTT_CLIENT_ID" env-default:"hydroponics-cloud"`
	Username       string        `yaml:"username" env:"MQTT_USERNAME"`
	Password       string        `yaml:"password" env:"MQTT_PASSWORD"`
	SensorTopic    string        `yaml:"sensorTopic" env:"MQTT_SENSOR_TOPIC" env-default:"hydroponics/+/+/sensor_data"`
	CommandPrefix  string        `yaml:"commandPrefix" env:"MQTT_COMMAND_PREFIX" env-default:"devices"`
	QoS            byte          `yaml:"qos" env:"MQTT_QOS" env-default:"1"`
	ConnectTimeout time.Duration `yaml:"connectTimeout" env:"MQTT_CONNECT_TIMEOUT" env-default:"10s"`
}

// RedisConfig enables the cross-process realtime bus when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
	Channel  string `yaml:"channel" env:"REDIS_CHANNEL" env-default:"hydroponics.events"`
}

// AlertsConfig configures the alert engine and command lifecycle.
type AlertsConfig struct {
	ProfilePath   string        `yaml:"profilePath" env:"ALERT_PROFILE_PATH"`
	StopMarkerTTL time.Duration `yaml:"stopMarkerTtl" env:"STOP_MARKER_TTL" env-default:"10s"`
	SweepSchedule string        `yaml:"sweepSchedule" env:"STOP_MARKER_SWEEP_SCHEDULE" env-default:"@every 1m"`
	WatchAll      bool          `yaml:"watchAll" env:"ALERT_WATCH_ALL" env-default:"true"`
}

// NotifyConfig configures alert webhooks. Notifications are off without URLs.
type NotifyConfig struct {
	WebhookURLs  []string      `yaml:"webhookUrls" env:"NOTIFY_WEBHOOK_URLS" env-separator:","`
	TemplatePath string        `yaml:"templatePath" env:"NOTIFY_TEMPLATE_PATH"`
	Cooldown     time.Duration `yaml:"cooldown" env:"NOTIFY_COOLDOWN" env-default:"5m"`
	DedupeWindow time.Duration `yaml:"dedupeWindow" env:"NOTIFY_DEDUPE_WINDOW" env-default:"30m"`
	Escalation   time.Duration `yaml:"escalation" env:"NOTIFY_ESCALATION" env-default:"30m"`
}

// Load reads the YAML file at path, when one is named, and applies environment overrides. A named
// file that does not exist is an error.
func Load(path string) (*Config, error) {
	var cfg Config

	if path != "" {
		if !fileExists(path) {
			return nil, fmt.Errorf("config file %q not found", path)
		}
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read env: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks required settings and normalises values.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database url is required (DATABASE_URL)")
	}
	if c.Auth.JWTSecret == "" {
		return errors.New("jwt secret is required (AUTH_JWT_SECRET)")
	}
	if c.Alerts.StopMarkerTTL <= 0 {
		return fmt.Errorf("stopMarkerTtl must be positive, got %s", c.Alerts.StopMarkerTTL)
	}
	if strings.TrimSpace(c.Alerts.SweepSchedule) == "" {
		return errors.New("sweepSchedule must not be empty")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.Notify.Cooldown < 0 || c.Notify.DedupeWindow < 0 || c.Notify.Escalation < 0 {
		return errors.New("notify durations must not be negative")
	}
	c.MQTT.CommandPrefix = strings.Trim(c.MQTT.CommandPrefix, "/")
	return ValidateLogging(&c.Logging)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
