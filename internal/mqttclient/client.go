package mqttclient

import (
	"context"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"go.uber.org/zap"

	"github.com/deadmade/isopruefi-ingest/internal/config"
)

// Connection owns the transport connection to the MQTT broker. The paho
// client reconnects on its own after an unexpected drop; OnConnect re-runs
// the registered callback so subscriptions are re-established.
type Connection struct {
	client mqtt.Client
	logger *zap.Logger
}

// New builds the client. onConnect is invoked on every (re)connect and is
// where the subscriber registers its topic filters.
func New(cfg *config.Config, logger *zap.Logger, onConnect func(mqtt.Client)) *Connection {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.MQTTBrokerURL).
		SetClientID(cfg.MQTTClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetMaxReconnectInterval(30 * time.Second)

	if cfg.MQTTUsername != "" {
		opts.SetUsername(cfg.MQTTUsername)
	}
	if cfg.MQTTPassword != "" {
		opts.SetPassword(cfg.MQTTPassword)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Info("connected to MQTT broker", zap.String("broker", cfg.MQTTBrokerURL))
		if onConnect != nil {
			onConnect(c)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Warn("MQTT connection lost, client will reconnect", zap.Error(err))
	}

	return &Connection{client: mqtt.NewClient(opts), logger: logger}
}

// Connect dials the broker, backing off on transient failures until ctx is
// cancelled. Authentication rejections are configuration errors and are
// returned immediately instead of retried.
func (c *Connection) Connect(ctx context.Context, start, max time.Duration) error {
	backoff := start
	for {
		token := c.client.Connect()
		token.Wait()
		err := token.Error()
		if err == nil {
			return nil
		}
		if isAuthError(err) {
			return fmt.Errorf("mqtt authentication rejected: %w", err)
		}

		c.logger.Warn("mqtt connect failed, retrying",
			zap.Error(err), zap.Duration("backoff", backoff))
		select {
		case <-time.After(backoff):
			if backoff < max {
				backoff *= 2
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func isAuthError(err error) bool {
	return errors.Is(err, packets.ErrorRefusedBadUsernameOrPassword) ||
		errors.Is(err, packets.ErrorRefusedNotAuthorised)
}

// IsConnected reports whether the underlying client currently holds a live
// broker connection.
func (c *Connection) IsConnected() bool {
	return c.client.IsConnected()
}

// Disconnect closes the connection, giving in-flight work 250ms to finish.
func (c *Connection) Disconnect() {
	c.client.Disconnect(250)
}

// Client exposes the raw paho client for the subscriber.
func (c *Connection) Client() mqtt.Client {
	return c.client
}
