package config

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadFrom_Defaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	assert.Equal(t, ":8000", cfg.HTTPAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.Gesture.Debounce)
	assert.Equal(t, time.Second, cfg.Gesture.HandTimeout)
	assert.Equal(t, 5*time.Second, cfg.Gesture.ResetCooldown)
	assert.Equal(t, 10*time.Second, cfg.HA.ConnectTimeout)
	assert.Equal(t, 250*time.Millisecond, cfg.MQTT.WriteTimeout)
	assert.Equal(t, 3, cfg.HA.MaxAttempts)
	assert.Equal(t, time.Second, cfg.HA.RetryBackoff)
	assert.Equal(t, "online", cfg.Classifier.Variant)
	assert.Equal(t, 30*24*time.Hour, cfg.EventRetention)
	assert.Equal(t, time.Hour, cfg.EventSweepInterval)
	assert.Len(t, cfg.Classifier.Models, 2)
	assert.Equal(t, "gestalyze", cfg.MQTT.TopicNamespace())
	assert.Equal(t, "tcp://localhost:1883", cfg.MQTT.BrokerURL())
	assert.Equal(t, "ws://localhost:8123/api/websocket", cfg.HA.WebsocketURL())
}

func TestLoadFrom_Overrides(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"GESTALYZE_GESTURE_DEBOUNCE":       "250ms",
		"GESTALYZE_GESTURE_HAND_TIMEOUT":   "2s",
		"GESTALYZE_GESTURE_RESET_COOLDOWN": "10s",
		"GESTALYZE_MQTT_PORT":              "8883",
		"GESTALYZE_MQTT_NAMESPACE":         "living-room",
		"GESTALYZE_MODELS":                 "online:alphabet:/srv/online.json",
		"GESTALYZE_EVENT_RETENTION":        "0s",
	})
	require.NoError(t, err)

	assert.Equal(t, 250*time.Millisecond, cfg.Gesture.Debounce)
	assert.Equal(t, 2*time.Second, cfg.Gesture.HandTimeout)
	assert.Equal(t, 10*time.Second, cfg.Gesture.ResetCooldown)
	assert.Equal(t, "ssl://localhost:8883", cfg.MQTT.BrokerURL())
	assert.Equal(t, "living-room", cfg.MQTT.TopicNamespace())
	assert.Equal(t, []string{"online:alphabet:/srv/online.json"}, cfg.Classifier.Models)
	assert.Zero(t, cfg.EventRetention, "zero disables retention")
}

func TestLoadFrom_Invalid(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"zero debounce", map[string]string{"GESTALYZE_GESTURE_DEBOUNCE": "0s"}},
		{"negative timeout", map[string]string{"GESTALYZE_GESTURE_HAND_TIMEOUT": "-1s"}},
		{"no attempts", map[string]string{"GESTALYZE_HA_MAX_ATTEMPTS": "0"}},
		{"bad duration", map[string]string{"GESTALYZE_GESTURE_RESET_COOLDOWN": "soon"}},
		{"negative retention", map[string]string{"GESTALYZE_EVENT_RETENTION": "-1h"}},
		{"zero write timeout", map[string]string{"GESTALYZE_MQTT_WRITE_TIMEOUT": "0s"}},
		{"zero sweep interval", map[string]string{"GESTALYZE_EVENT_SWEEP_INTERVAL": "0s"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadFrom(tt.env)
			assert.Error(t, err)
		})
	}
}

func TestValidateBridge(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{})
	require.NoError(t, err)

	err = cfg.ValidateBridge()
	assert.True(t, errors.Is(err, ErrMissingToken), "expected ErrMissingToken, got %v", err)

	cfg.HA.Token = "secret"
	assert.NoError(t, cfg.ValidateBridge())
}
