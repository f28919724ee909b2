// Package config loads Gestalyze configuration from the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the configuration shared by the pipeline host and the bridge.
type Config struct {
	HTTPAddr string `env:"GESTALYZE_HTTP_ADDR" envDefault:":8000"`
	DBPath   string `env:"GESTALYZE_DB_PATH"`
	LogLevel string `env:"GESTALYZE_LOG_LEVEL" envDefault:"info"`
	LogColor bool   `env:"GESTALYZE_LOG_COLOR" envDefault:"true"`

	// EventRetention bounds the age of journaled events. Zero keeps them forever.
	EventRetention     time.Duration `env:"GESTALYZE_EVENT_RETENTION" envDefault:"720h"`
	EventSweepInterval time.Duration `env:"GESTALYZE_EVENT_SWEEP_INTERVAL" envDefault:"1h"`

	Gesture    GestureConfig    `envPrefix:"GESTALYZE_GESTURE_"`
	Classifier ClassifierConfig `envPrefix:"GESTALYZE_"`
	MQTT       MQTTConfig       `envPrefix:"GESTALYZE_MQTT_"`
	HA         HAConfig         `envPrefix:"GESTALYZE_HA_"`
}

// GestureConfig tunes the debounce/reset state machine per camera and lighting setup.
type GestureConfig struct {
	Debounce      time.Duration `env:"DEBOUNCE" envDefault:"500ms"`
	HandTimeout   time.Duration `env:"HAND_TIMEOUT" envDefault:"1s"`
	ResetCooldown time.Duration `env:"RESET_COOLDOWN" envDefault:"5s"`
	// Tick is how often a session re-evaluates timeouts while no frames arrive.
	Tick     time.Duration `env:"TICK" envDefault:"100ms"`
	Classify bool          `env:"CLASSIFY" envDefault:"false"`
}

// ClassifierConfig lists the model variants loaded at startup.
type ClassifierConfig struct {
	// Models holds variant specs in the form id:kind:path.
	Models  []string `env:"MODELS" envSeparator:"," envDefault:"custom:labeled:models/custom.json,online:alphabet:models/online.json"`
	Variant string   `env:"MODEL_VARIANT" envDefault:"online"`
}

// MQTTConfig describes the bus connection.
type MQTTConfig struct {
	Broker         string        `env:"BROKER" envDefault:"localhost"`
	Port           int           `env:"PORT" envDefault:"1883"`
	ClientID       string        `env:"CLIENT_ID"`
	Username       string        `env:"USERNAME" envDefault:"gestalyze"`
	Password       string        `env:"PASSWORD"`
	Namespace      string        `env:"NAMESPACE"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	// WriteTimeout bounds how long a publish may wait for room on a congested link.
	WriteTimeout   time.Duration `env:"WRITE_TIMEOUT" envDefault:"250ms"`
}

// HAConfig describes the remote Home Assistant session.
type HAConfig struct {
	Host           string        `env:"HOST" envDefault:"localhost:8123"`
	Token          string        `env:"TOKEN"`
	ConnectTimeout time.Duration `env:"CONNECT_TIMEOUT" envDefault:"10s"`
	AckTimeout     time.Duration `env:"ACK_TIMEOUT" envDefault:"10s"`
	MaxAttempts    int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	RetryBackoff   time.Duration `env:"RETRY_BACKOFF" envDefault:"1s"`
	QueueSize      int           `env:"QUEUE_SIZE" envDefault:"64"`
}

// ErrMissingToken is returned when the bridge has no Home Assistant access token.
var ErrMissingToken = errors.New("home assistant access token is required")

// Load parses the process environment and validates the result.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFrom parses the given environment instead of the process environment.
func LoadFrom(environ map[string]string) (Config, error) {
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Environment: environ}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects settings the pipeline cannot run with.
func (c Config) Validate() error {
	durations := map[string]time.Duration{
		"GESTALYZE_GESTURE_DEBOUNCE":       c.Gesture.Debounce,
		"GESTALYZE_GESTURE_HAND_TIMEOUT":   c.Gesture.HandTimeout,
		"GESTALYZE_GESTURE_RESET_COOLDOWN": c.Gesture.ResetCooldown,
		"GESTALYZE_GESTURE_TICK":           c.Gesture.Tick,
		"GESTALYZE_MQTT_CONNECT_TIMEOUT":   c.MQTT.ConnectTimeout,
		"GESTALYZE_MQTT_WRITE_TIMEOUT":     c.MQTT.WriteTimeout,
		"GESTALYZE_HA_CONNECT_TIMEOUT":     c.HA.ConnectTimeout,
		"GESTALYZE_HA_ACK_TIMEOUT":         c.HA.AckTimeout,
		"GESTALYZE_EVENT_SWEEP_INTERVAL":   c.EventSweepInterval,
	}
	for name, d := range durations {
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %s", name, d)
		}
	}
	if c.EventRetention < 0 {
		return fmt.Errorf("GESTALYZE_EVENT_RETENTION must not be negative, got %s", c.EventRetention)
	}
	if c.HA.RetryBackoff < 0 {
		return fmt.Errorf("GESTALYZE_HA_RETRY_BACKOFF must not be negative, got %s", c.HA.RetryBackoff)
	}
	if c.HA.MaxAttempts < 1 {
		return fmt.Errorf("GESTALYZE_HA_MAX_ATTEMPTS must be at least 1, got %d", c.HA.MaxAttempts)
	}
	if c.HA.QueueSize < 1 {
		return fmt.Errorf("GESTALYZE_HA_QUEUE_SIZE must be at least 1, got %d", c.HA.QueueSize)
	}
	if len(c.Classifier.Models) == 0 {
		return errors.New("GESTALYZE_MODELS must name at least one variant")
	}
	return nil
}

// ValidateBridge applies the additional checks the bridge process needs.
func (c Config) ValidateBridge() error {
	if c.HA.Token == "" {
		return ErrMissingToken
	}
	return nil
}

// TopicNamespace returns the account namespace the bus topics live under.
// It falls back to the MQTT username, which is how broker accounts are partitioned.
func (m MQTTConfig) TopicNamespace() string {
	if m.Namespace != "" {
		return m.Namespace
	}
	return m.Username
}

// BrokerURL returns the paho broker URL, using TLS on the standard secure port.
func (m MQTTConfig) BrokerURL() string {
	scheme := "tcp"
	if m.Port == 8883 {
		scheme = "ssl"
	}
	return fmt.Sprintf("%s://%s:%d", scheme, m.Broker, m.Port)
}

// WebsocketURL returns the Home Assistant websocket API endpoint.
func (h HAConfig) WebsocketURL() string {
	return "ws://" + h.Host + "/api/websocket"
}
