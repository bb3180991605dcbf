// Package mqtt wraps the paho client with the connection, subscription, and
// liveness behavior the bridge needs: clean-session connect with fixed-backoff
// reconnect, resubscribe on every connect, and a retained status message that
// doubles as the broker-side last will.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/common/constants"
	"github.com/homeclaw/homeclaw/internal/common/logger"
)

const qosAtMostOnce = 0

// Config holds broker connection settings.
type Config struct {
	BrokerURL        string
	ClientID         string
	Username         string
	Password         string
	ReconnectBackoff time.Duration

	// StatusTopic receives the retained liveness message; it is also
	// registered as the last-will topic so an ungraceful drop flips it.
	StatusTopic string
	// ServerName identifies this bridge in the liveness payload.
	ServerName string
}

// Status is the retained liveness payload published on the status topic.
type Status struct {
	Server    string `json:"server"`
	Online    bool   `json:"online"`
	Timestamp int64  `json:"timestamp"`
}

// MessageHandler receives every inbound message from subscribed topics.
type MessageHandler func(topic string, payload []byte)

// Client is the broker client adapter.
type Client struct {
	cfg    Config
	logger *logger.Logger
	client pahomqtt.Client

	mu      sync.RWMutex
	handler MessageHandler
	topics  []string
}

// NewClient creates a client for the given broker. Call SetMessageHandler and
// Subscribe before Connect so the initial connect already routes messages.
func NewClient(cfg Config, log *logger.Logger) *Client {
	c := &Client{
		cfg:    cfg,
		logger: log.WithFields(zap.String("component", "mqtt-client")),
	}
	c.client = pahomqtt.NewClient(c.buildOptions())
	return c
}

// buildOptions translates Config into paho client options.
func (c *Client) buildOptions() *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions().
		AddBroker(c.cfg.BrokerURL).
		SetClientID(c.cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(c.cfg.ReconnectBackoff).
		SetMaxReconnectInterval(c.cfg.ReconnectBackoff).
		SetConnectTimeout(constants.BrokerConnectTimeout).
		SetOnConnectHandler(c.onConnect).
		SetConnectionLostHandler(c.onConnectionLost)

	if c.cfg.Username != "" {
		opts.SetUsername(c.cfg.Username)
		opts.SetPassword(c.cfg.Password)
	}

	if c.cfg.StatusTopic != "" {
		will, err := json.Marshal(Status{
			Server:    c.cfg.ServerName,
			Online:    false,
			Timestamp: time.Now().UnixMilli(),
		})
		if err == nil {
			opts.SetBinaryWill(c.cfg.StatusTopic, will, qosAtMostOnce, true)
		}
	}

	return opts
}

// SetMessageHandler registers the inbound callback. Must be called before Connect.
func (c *Client) SetMessageHandler(h MessageHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = h
}

// Subscribe records topics to subscribe to. The subscriptions take effect on
// the next (re)connect; if the client is already connected they are issued
// immediately as well.
func (c *Client) Subscribe(topics ...string) {
	c.mu.Lock()
	c.topics = append(c.topics, topics...)
	c.mu.Unlock()

	if c.client.IsConnected() {
		c.subscribeAll(topics)
	}
}

// Connect establishes the broker session and blocks until it is up, ctx ends,
// or the connect timeout elapses. Reconnects after that are automatic.
func (c *Client) Connect(ctx context.Context) error {
	tok := c.client.Connect()
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("failed to connect to broker %s: %w", c.cfg.BrokerURL, err)
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("connect to broker %s aborted: %w", c.cfg.BrokerURL, ctx.Err())
	case <-time.After(constants.BrokerConnectTimeout):
		return fmt.Errorf("connect to broker %s timed out", c.cfg.BrokerURL)
	}
}

// onConnect runs on every successful connect, including reconnects.
func (c *Client) onConnect(_ pahomqtt.Client) {
	c.logger.Info("connected to broker",
		zap.String("broker_url", c.cfg.BrokerURL),
		zap.String("client_id", c.cfg.ClientID))

	c.mu.RLock()
	topics := make([]string, len(c.topics))
	copy(topics, c.topics)
	c.mu.RUnlock()

	c.subscribeAll(topics)

	if err := c.PublishStatus(true); err != nil {
		c.logger.Warn("failed to publish online status", zap.Error(err))
	}
}

func (c *Client) onConnectionLost(_ pahomqtt.Client, err error) {
	c.logger.Warn("broker connection lost", zap.Error(err))
}

// subscribeAll issues subscriptions for the given topics. Failures are logged
// and non-fatal; the next reconnect retries them.
func (c *Client) subscribeAll(topics []string) {
	for _, topic := range topics {
		tok := c.client.Subscribe(topic, qosAtMostOnce, c.route)
		if !tok.WaitTimeout(constants.BrokerSubscribeTimeout) {
			c.logger.Warn("subscribe timed out", zap.String("topic", topic))
			continue
		}
		if err := tok.Error(); err != nil {
			c.logger.Warn("subscribe failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		c.logger.Info("subscribed", zap.String("topic", topic))
	}
}

// route delivers one inbound message to the registered handler.
func (c *Client) route(_ pahomqtt.Client, msg pahomqtt.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("panic in message handler",
				zap.String("topic", msg.Topic()),
				zap.Any("panic", r))
		}
	}()

	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	handler(msg.Topic(), msg.Payload())
}

// Publish sends raw bytes to topic at QoS 0. Errors are returned, not retried.
func (c *Client) Publish(topic string, payload []byte, retain bool) error {
	tok := c.client.Publish(topic, qosAtMostOnce, retain, payload)
	select {
	case <-tok.Done():
		if err := tok.Error(); err != nil {
			return fmt.Errorf("failed to publish to %s: %w", topic, err)
		}
		return nil
	case <-time.After(constants.BrokerPublishTimeout):
		return fmt.Errorf("publish to %s timed out", topic)
	}
}

// PublishJSON marshals payload and publishes it to topic.
func (c *Client) PublishJSON(topic string, payload any, retain bool) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload for %s: %w", topic, err)
	}
	return c.Publish(topic, data, retain)
}

// PublishStatus publishes the retained liveness message.
func (c *Client) PublishStatus(online bool) error {
	return c.PublishJSON(c.cfg.StatusTopic, Status{
		Server:    c.cfg.ServerName,
		Online:    online,
		Timestamp: time.Now().UnixMilli(),
	}, true)
}

// IsConnected reports whether the broker session is currently up.
func (c *Client) IsConnected() bool {
	return c.client.IsConnected()
}

// Close publishes the retained offline status and tears the session down.
func (c *Client) Close() {
	if c.client.IsConnected() {
		if err := c.PublishStatus(false); err != nil {
			c.logger.Warn("failed to publish offline status", zap.Error(err))
		}
	}
	c.client.Disconnect(uint(constants.BrokerDisconnectQuiesce.Milliseconds()))
	c.logger.Info("disconnected from broker")
}
