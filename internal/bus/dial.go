package bus

import (
	"crypto/tls"
	"fmt"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/ayusman/gestalyze/internal/config"
	"github.com/ayusman/gestalyze/internal/logger"
)

// TLSPort is the broker port that implies a TLS connection.
const TLSPort = 8883

// Options builds paho client options from config. onConnect runs after every
// successful (re)connect and may be nil.
func Options(cfg config.MQTTConfig, clientID string, onConnect func(mqtt.Client)) *mqtt.ClientOptions {
	if cfg.ClientID != "" {
		clientID = cfg.ClientID
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL()).
		SetClientID(clientID).
		SetUsername(cfg.Username).
		SetPassword(cfg.Password).
		SetConnectTimeout(cfg.ConnectTimeout).
		SetWriteTimeout(cfg.WriteTimeout).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOnConnectHandler(func(c mqtt.Client) {
			logger.Info("Bus", "connected to broker %s", cfg.BrokerURL())
			if onConnect != nil {
				onConnect(c)
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			logger.Warn("Bus", "connection to broker lost: %v", err)
		})

	if cfg.Port == TLSPort {
		opts.SetTLSConfig(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return opts
}

// Dial connects to the broker. With connect retry enabled the client keeps
// trying in the background, so a broker that is down at startup is not fatal;
// Dial only waits up to the configured connect timeout for the first attempt.
func Dial(cfg config.MQTTConfig, clientID string, onConnect func(mqtt.Client)) (mqtt.Client, error) {
	client := mqtt.NewClient(Options(cfg, clientID, onConnect))

	token := client.Connect()
	if !token.WaitTimeout(cfg.ConnectTimeout) {
		logger.Warn("Bus", "broker %s not reachable yet, retrying in background", cfg.BrokerURL())
		return client, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker %s: %w", cfg.BrokerURL(), err)
	}
	return client, nil
}
