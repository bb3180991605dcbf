// Package bridge connects MQTT devices to the Claude Code CLI: it dispatches
// inbound command envelopes, streams agent output back as response events,
// and arbitrates per-tool approvals over a request/response topic pair.
package bridge

import (
	"bytes"
	"encoding/json"
)

// CommandEnvelope is the inbound JSON payload on the command topic.
type CommandEnvelope struct {
	// Message is the natural-language command. Required.
	Message string `json:"message"`
	// SessionID is an opaque resume hint; a fresh id is generated when empty.
	SessionID string `json:"session_id,omitempty"`
	// Source names the publishing device, e.g. "voice-kitchen".
	Source string `json:"source,omitempty"`
	// Project is a working directory hint for the agent.
	Project string `json:"project,omitempty"`
	// Stream selects per-event publishing (default) over a single batched
	// complete message.
	Stream *bool `json:"stream,omitempty"`
}

// Streaming reports the effective stream flag; absent means true.
func (e *CommandEnvelope) Streaming() bool {
	return e.Stream == nil || *e.Stream
}

// ApprovalRequest is the outbound JSON payload on the approval-request topic.
type ApprovalRequest struct {
	RequestID    string        `json:"requestId"`
	ToolName     string        `json:"toolName"`
	Input        ApprovalInput `json:"input"`
	SessionID    string        `json:"sessionId"`
	SourceDevice string        `json:"sourceDevice"`
	Timestamp    int64         `json:"timestamp"`
}

// ApprovalInput carries the human-readable summary of the tool use.
type ApprovalInput struct {
	Command     string `json:"command"`
	Description string `json:"description"`
}

// ApprovalResponse is the inbound JSON payload on the approval-response topic.
// Approved is kept raw so that anything other than a literal JSON true counts
// as a denial rather than a parse failure.
type ApprovalResponse struct {
	RequestID string          `json:"requestId"`
	Approved  json.RawMessage `json:"approved"`
	Reason    string          `json:"reason,omitempty"`
}

// IsApproved reports whether the response is a strict JSON true.
func (r *ApprovalResponse) IsApproved() bool {
	return string(bytes.TrimSpace(r.Approved)) == "true"
}

// Response event types on the response topic.
const (
	EventChunk    = "chunk"
	EventAnswer   = "answer"
	EventComplete = "complete"
	EventError    = "error"
)

// ResponseEvent is the outbound JSON payload on the response topic. The Type
// tag decides which optional fields are set: chunk carries Content, answer
// carries Text, complete carries DurationMS (plus Content in batched mode),
// error carries Error.
type ResponseEvent struct {
	Type         string `json:"type"`
	SessionID    string `json:"session_id"`
	SourceDevice string `json:"source_device"`
	Timestamp    int64  `json:"timestamp"`

	Content    any    `json:"content,omitempty"`
	Text       string `json:"text,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS *int64 `json:"duration_ms,omitempty"`
}

// Publisher is the broker-facing surface the bridge publishes through.
// *mqtt.Client satisfies it; tests substitute an in-memory recorder.
type Publisher interface {
	PublishJSON(topic string, payload any, retain bool) error
}
