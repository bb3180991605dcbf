package bridge

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/approval"
	"github.com/homeclaw/homeclaw/internal/common/logger"
	"github.com/homeclaw/homeclaw/pkg/claudecode"
)

// Arbiter mediates tool approvals for one command: it publishes an approval
// request to the device and suspends the agent until the registry resolves
// it, times out, or a newer command cancels it.
type Arbiter struct {
	ctx          context.Context
	pub          Publisher
	topic        string
	registry     *approval.Registry
	timeout      time.Duration
	sessionID    string
	sourceDevice string
	logger       *logger.Logger
}

// NewArbiter creates the arbiter for one command. ctx bounds every approval
// wait it starts.
func NewArbiter(ctx context.Context, pub Publisher, topic string, registry *approval.Registry, timeout time.Duration, sessionID, sourceDevice string, log *logger.Logger) *Arbiter {
	return &Arbiter{
		ctx:          ctx,
		pub:          pub,
		topic:        topic,
		registry:     registry,
		timeout:      timeout,
		sessionID:    sessionID,
		sourceDevice: sourceDevice,
		logger: log.WithFields(
			zap.String("component", "permission-arbiter"),
			zap.String("session_id", sessionID)),
	}
}

// CanUseTool is the callback handed to the agent for every permission prompt.
func (a *Arbiter) CanUseTool(toolName string, input map[string]any) claudecode.PermissionResult {
	requestID := a.registry.NewRequestID()

	req := ApprovalRequest{
		RequestID: requestID,
		ToolName:  toolName,
		Input: ApprovalInput{
			Command:     stringField(input, "command"),
			Description: stringField(input, "description"),
		},
		SessionID:    a.sessionID,
		SourceDevice: a.sourceDevice,
		Timestamp:    time.Now().UnixMilli(),
	}

	a.logger.Info("requesting tool approval",
		zap.String("request_id", requestID),
		zap.String("tool_name", toolName))

	// Fire and forget: a lost request simply times out into a deny.
	if err := a.pub.PublishJSON(a.topic, req, false); err != nil {
		a.logger.Warn("failed to publish approval request",
			zap.String("request_id", requestID),
			zap.Error(err))
	}

	decision, err := a.registry.Await(a.ctx, requestID, a.timeout)
	if err != nil {
		a.logger.Warn("approval did not resolve",
			zap.String("request_id", requestID),
			zap.Error(err))
		return claudecode.PermissionResult{
			Behavior: claudecode.BehaviorDeny,
			Message:  "Approval timeout: " + err.Error(),
		}
	}

	if decision.Approved {
		return claudecode.PermissionResult{
			Behavior:     claudecode.BehaviorAllow,
			UpdatedInput: input,
		}
	}

	reason := decision.Reason
	if reason == "" {
		reason = "Denied by user"
	}
	return claudecode.PermissionResult{
		Behavior: claudecode.BehaviorDeny,
		Message:  reason,
	}
}

// stringField returns input[key] when it is a string, else "".
func stringField(input map[string]any, key string) string {
	s, _ := input[key].(string)
	return s
}
