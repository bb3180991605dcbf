package bridge

import (
	"context"
	"encoding/json"
	"os"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/agent/credentials"
	"github.com/homeclaw/homeclaw/internal/approval"
	"github.com/homeclaw/homeclaw/internal/common/config"
	"github.com/homeclaw/homeclaw/internal/common/logger"
	"github.com/homeclaw/homeclaw/pkg/claudecode"
)

// cancelReasonNewCommand rejects outstanding approvals when a fresh command
// arrives; devices see it verbatim in the deny message.
const cancelReasonNewCommand = "New command received"

// QueryFunc matches claudecode.Query; tests substitute a scripted agent.
type QueryFunc func(ctx context.Context, prompt string, opts claudecode.Options, writer claudecode.EventWriter, log *logger.Logger) error

// Handler runs one inbound command envelope end to end: preempt outstanding
// approvals, validate, then wire a writer and arbiter to an agent invocation.
type Handler struct {
	pub      Publisher
	registry *approval.Registry
	logger   *logger.Logger

	responseTopic        string
	approvalRequestTopic string
	approvalTimeout      time.Duration
	cliPath              string

	query     QueryFunc
	credCheck func() error

	// active is informational only: commands are not serialized, approvals
	// are preempted instead.
	active atomic.Bool
}

// NewHandler creates the command handler.
func NewHandler(pub Publisher, registry *approval.Registry, cfg *config.Config, log *logger.Logger) *Handler {
	return &Handler{
		pub:                  pub,
		registry:             registry,
		logger:               log.WithFields(zap.String("component", "command-handler")),
		responseTopic:        cfg.MQTT.ResponseTopic,
		approvalRequestTopic: cfg.MQTT.ApprovalRequestTopic,
		approvalTimeout:      cfg.MQTT.ApprovalTimeoutDuration(),
		cliPath:              cfg.Agent.CLIPath,
		query:                claudecode.Query,
		credCheck:            credentials.Check,
	}
}

// Handle processes one command payload. Malformed JSON is logged and dropped;
// every accepted command terminates with exactly one complete or error event.
func (h *Handler) Handle(ctx context.Context, payload []byte) {
	var envelope CommandEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		h.logger.Warn("dropping malformed command payload", zap.Error(err))
		return
	}

	sessionID := envelope.SessionID
	if sessionID == "" {
		sessionID = h.registry.NewRequestID()
	}
	sourceDevice := envelope.Source
	if sourceDevice == "" {
		sourceDevice = "unknown"
	}

	log := h.logger.WithFields(
		zap.String("session_id", sessionID),
		zap.String("source_device", sourceDevice))

	// A new command preempts any approvals the previous one left hanging.
	// This must happen before the arbiter can register new waiters.
	if h.registry.Count() > 0 {
		h.registry.CancelAll(cancelReasonNewCommand)
	}

	if h.active.Load() {
		log.Warn("previous command still active, proceeding anyway")
	}
	h.active.Store(true)
	defer h.active.Store(false)

	if envelope.Message == "" {
		h.publishError(sessionID, sourceDevice, "Missing required field: message")
		return
	}

	if err := h.credCheck(); err != nil {
		log.Warn("credential probe failed", zap.Error(err))
		h.publishError(sessionID, sourceDevice, "Claude CLI not authenticated. Please run: claude setup-token")
		return
	}

	cwd := envelope.Project
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	writer := NewResponseWriter(h.pub, h.responseTopic, sessionID, sourceDevice, envelope.Streaming(), h.logger)
	arbiter := NewArbiter(ctx, h.pub, h.approvalRequestTopic, h.registry, h.approvalTimeout, sessionID, sourceDevice, h.logger)

	opts := claudecode.Options{
		CLIPath:        h.cliPath,
		CWD:            cwd,
		SessionID:      envelope.SessionID,
		PermissionMode: "default",
		CanUseTool:     arbiter.CanUseTool,
	}

	log.Info("running command",
		zap.Bool("streaming", envelope.Streaming()),
		zap.String("cwd", cwd))

	if err := h.query(ctx, envelope.Message, opts, writer, h.logger); err != nil {
		log.Error("command failed", zap.Error(err))
		h.publishError(sessionID, sourceDevice, err.Error())
		return
	}

	writer.End()
	log.Info("command completed")
}

// publishError emits the terminal error event for a command.
func (h *Handler) publishError(sessionID, sourceDevice, message string) {
	evt := ResponseEvent{
		Type:         EventError,
		SessionID:    sessionID,
		SourceDevice: sourceDevice,
		Timestamp:    time.Now().UnixMilli(),
		Error:        message,
	}
	if err := h.pub.PublishJSON(h.responseTopic, evt, false); err != nil {
		h.logger.Warn("failed to publish error event", zap.Error(err))
	}
}
