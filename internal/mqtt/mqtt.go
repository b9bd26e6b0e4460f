// Package mqtt publishes the control loop's status, alerts and faults to an
// MQTT broker as JSON.
package mqtt

import (
	"context"
	"time"

	"codeberg.org/mutker/climactl/internal/errors"
	"codeberg.org/mutker/climactl/internal/logger"
	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

const (
	defaultMaxRetries    = 5
	defaultRetryInterval = 2 * time.Second
	// Wait up to 250 milliseconds for inflight messages on disconnect
	disconnectQuiesce = 250
)

// newClient is replaced in tests.
var newClient = pahomqtt.NewClient

// Client is the part of the paho client the publisher uses.
type Client interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) pahomqtt.Token
	Disconnect(quiesce uint)
}

// Config holds the configuration for the MQTT client.
type Config struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	TopicPrefix   string
	QoS           byte
	Retained      bool
	MaxRetries    int
	RetryInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxRetries < 1 {
		c.MaxRetries = defaultMaxRetries
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = defaultRetryInterval
	}
	return c
}

// Connect dials the broker, retrying up to MaxRetries times, and returns a
// publisher on the connected client. The client reconnects on its own once
// connected.
func Connect(ctx context.Context, cfg Config, log logger.Logger) (*Publisher, error) {
	errFactory := errors.New()
	cfg = cfg.withDefaults()
	log = log.With("mqtt")

	if cfg.BrokerURL == "" {
		return nil, errFactory.WithMessage(errors.ErrInvalidConfig, "mqtt broker URL is empty")
	}

	opts := pahomqtt.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		log.Warn().Err(err).Msg("Lost connection to MQTT broker")
	})
	opts.SetOnConnectHandler(func(pahomqtt.Client) {
		log.Debug().Str("broker", cfg.BrokerURL).Msg("MQTT connection established")
	})

	var lastErr error
	for attempt := 1; attempt <= cfg.MaxRetries; attempt++ {
		client := newClient(opts)
		token := client.Connect()
		if token.WaitTimeout(cfg.RetryInterval) && token.Error() == nil {
			log.Info().Str("broker", cfg.BrokerURL).Msg("Connected to MQTT broker")
			return NewPublisher(client, cfg, log), nil
		}

		// A connect still running in the background would fight the next
		// attempt for the client ID.
		client.Disconnect(0)

		lastErr = token.Error()
		if lastErr == nil {
			lastErr = errFactory.New(errors.ErrTimeout)
		}
		log.Warn().
			Int("attempt", attempt).
			Int("max_retries", cfg.MaxRetries).
			Err(lastErr).
			Msg("Failed to connect to MQTT broker")

		select {
		case <-ctx.Done():
			return nil, errFactory.Wrap(errors.ErrUnavailable, ctx.Err())
		case <-time.After(cfg.RetryInterval):
		}
	}

	return nil, errFactory.Wrap(errors.ErrUnavailable, lastErr).WithData(struct {
		Broker   string
		Attempts int
	}{cfg.BrokerURL, cfg.MaxRetries})
}
