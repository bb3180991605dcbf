package bridge

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/approval"
	"github.com/homeclaw/homeclaw/internal/common/config"
	"github.com/homeclaw/homeclaw/internal/common/logger"
	"github.com/homeclaw/homeclaw/internal/mqtt"
)

const (
	// StatusTopic carries the retained liveness message. Fixed: devices
	// discover the bridge here regardless of topic configuration.
	StatusTopic = "claude/home/status"

	// serverName identifies this bridge in liveness payloads.
	serverName = "homeclaw"

	cancelReasonShutdown = "MQTT bridge shutdown"
)

// Bridge owns the broker session, the approval registry, and the command
// handler, and routes every inbound message to one of them.
type Bridge struct {
	cfg      *config.Config
	logger   *logger.Logger
	client   *mqtt.Client
	registry *approval.Registry
	handler  *Handler

	// ctx bounds all in-flight commands; Shutdown cancels it.
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates the bridge. Call Start to connect.
func New(cfg *config.Config, log *logger.Logger) *Bridge {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bridge{
		cfg:      cfg,
		logger:   log.WithFields(zap.String("component", "bridge")),
		registry: approval.NewRegistry(log),
		ctx:      ctx,
		cancel:   cancel,
	}
	return b
}

// Start connects to the broker and begins dispatching. When the bridge is
// disabled it logs and returns nil without connecting.
func (b *Bridge) Start(ctx context.Context) error {
	if !b.cfg.MQTT.Enabled {
		b.logger.Info("MQTT bridge disabled, not starting")
		return nil
	}

	b.client = mqtt.NewClient(mqtt.Config{
		BrokerURL:        b.cfg.MQTT.BrokerURL,
		ClientID:         b.cfg.MQTT.ClientID,
		Username:         b.cfg.MQTT.Username,
		Password:         b.cfg.MQTT.Password,
		ReconnectBackoff: b.cfg.MQTT.ReconnectBackoffDuration(),
		StatusTopic:      StatusTopic,
		ServerName:       serverName,
	}, b.logger)

	b.handler = NewHandler(b.client, b.registry, b.cfg, b.logger)

	b.client.SetMessageHandler(b.route)
	b.client.Subscribe(b.cfg.MQTT.CommandTopic, b.cfg.MQTT.ApprovalResponseTopic)

	if err := b.client.Connect(ctx); err != nil {
		return err
	}

	b.logger.Info("MQTT bridge started",
		zap.String("broker_url", b.cfg.MQTT.BrokerURL),
		zap.String("command_topic", b.cfg.MQTT.CommandTopic),
		zap.String("approval_response_topic", b.cfg.MQTT.ApprovalResponseTopic))
	return nil
}

// route dispatches one inbound message by topic. Commands run asynchronously
// so approval responses can interleave with them.
func (b *Bridge) route(topic string, payload []byte) {
	switch topic {
	case b.cfg.MQTT.CommandTopic:
		go b.handler.Handle(b.ctx, payload)
	case b.cfg.MQTT.ApprovalResponseTopic:
		b.handleApprovalResponse(payload)
	default:
		b.logger.Debug("ignoring message on unhandled topic", zap.String("topic", topic))
	}
}

// handleApprovalResponse parses a device decision and hands it to the
// registry. Malformed payloads and responses without a requestId are dropped.
func (b *Bridge) handleApprovalResponse(payload []byte) {
	var resp ApprovalResponse
	if err := json.Unmarshal(payload, &resp); err != nil {
		b.logger.Warn("dropping malformed approval response", zap.Error(err))
		return
	}
	if resp.RequestID == "" {
		b.logger.Warn("dropping approval response without requestId")
		return
	}
	b.registry.Resolve(resp.RequestID, resp.IsApproved(), resp.Reason)
}

// Shutdown cancels pending approvals and in-flight commands, publishes the
// retained offline status, and closes the broker session.
func (b *Bridge) Shutdown() {
	b.registry.CancelAll(cancelReasonShutdown)
	b.cancel()
	if b.client != nil {
		b.client.Close()
		b.client = nil
	}
	b.logger.Info("MQTT bridge stopped")
}
