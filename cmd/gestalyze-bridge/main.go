package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/gestalyze/internal/bridge"
	"github.com/ayusman/gestalyze/internal/bus"
	"github.com/ayusman/gestalyze/internal/clock"
	"github.com/ayusman/gestalyze/internal/config"
	"github.com/ayusman/gestalyze/internal/logger"
	"github.com/ayusman/gestalyze/internal/metrics"
)

const clientID = "gestalyze_ha_plugin"

func main() {
	fmt.Println("Gestalyze - Home Assistant Bridge")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if err := cfg.ValidateBridge(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	level, err := logger.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level: %v", err)
	}
	logger.Init(level, os.Stderr, cfg.LogColor)

	m := metrics.New()
	client := bridge.NewClient(bridge.WebsocketDialer{Timeout: cfg.HA.ConnectTimeout}, bridge.Options{
		URL:            cfg.HA.WebsocketURL(),
		Token:          cfg.HA.Token,
		ConnectTimeout: cfg.HA.ConnectTimeout,
		AckTimeout:     cfg.HA.AckTimeout,
		MaxAttempts:    cfg.HA.MaxAttempts,
		Backoff:        cfg.HA.RetryBackoff,
		Clock:          clock.Real{},
		Metrics:        m,
	})

	b := bridge.New(client, bus.TopicsFor(cfg.MQTT.TopicNamespace()), cfg.HA.QueueSize, m)

	// Subscriptions do not survive a clean-session reconnect, so resubscribe on every connect.
	mqttClient, err := bus.Dial(cfg.MQTT, clientID, func(c mqtt.Client) {
		if err := b.Subscribe(c, cfg.MQTT.ConnectTimeout); err != nil {
			logger.Error("Bridge", "subscribe: %v", err)
		}
	})
	if err != nil {
		log.Fatalf("Failed to connect to MQTT broker: %v", err)
	}
	defer mqttClient.Disconnect(250)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Fail fast on a bad token instead of waiting for the first message.
	if err := client.Connect(ctx); err != nil {
		if errors.Is(err, bridge.ErrAuthFailed) || errors.Is(err, bridge.ErrUnexpectedHandshake) {
			log.Fatalf("Home Assistant rejected the session: %v", err)
		}
		logger.Warn("Bridge", "Home Assistant not reachable yet: %v", err)
	}

	logger.Info("Bridge", "forwarding %s events to %s", cfg.MQTT.TopicNamespace(), cfg.HA.WebsocketURL())
	if err := b.Run(ctx); err != nil {
		logger.Error("Bridge", "stopped: %v", err)
		os.Exit(1)
	}
	logger.Info("Bridge", "shutting down")
}
