package bridge

import (
	"encoding/json"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/homeclaw/homeclaw/internal/common/logger"
)

// ResponseWriter converts agent output events into response-topic messages.
// In streaming mode every event is published as a chunk as it arrives, with a
// voice-friendly answer extracted alongside final results; in batched mode
// events accumulate and go out in one complete message. Safe for concurrent
// use.
type ResponseWriter struct {
	pub    Publisher
	topic  string
	logger *logger.Logger

	mu           sync.Mutex
	sessionID    string
	sourceDevice string
	streaming    bool
	start        time.Time
	buffer       []any
}

// NewResponseWriter creates a writer for one command and records its start time.
func NewResponseWriter(pub Publisher, topic, sessionID, sourceDevice string, streaming bool, log *logger.Logger) *ResponseWriter {
	return &ResponseWriter{
		pub:          pub,
		topic:        topic,
		sessionID:    sessionID,
		sourceDevice: sourceDevice,
		streaming:    streaming,
		start:        time.Now(),
		logger:       log.WithFields(zap.String("component", "response-writer")),
	}
}

// SetSessionID updates the session id attached to subsequent events.
func (w *ResponseWriter) SetSessionID(id string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sessionID = id
}

// Send publishes (streaming) or buffers (batched) one agent output event.
// A JSON string event is parsed first; other values pass through as-is.
func (w *ResponseWriter) Send(event any) {
	if s, ok := event.(string); ok {
		var parsed any
		if err := json.Unmarshal([]byte(s), &parsed); err == nil {
			event = parsed
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.streaming {
		w.buffer = append(w.buffer, event)
		return
	}

	// The answer goes out before the chunk so voice consumers can speak the
	// result without waiting for the richer payload.
	if text, ok := resultText(event); ok {
		w.publish(ResponseEvent{
			Type:         EventAnswer,
			SessionID:    w.sessionID,
			SourceDevice: w.sourceDevice,
			Timestamp:    time.Now().UnixMilli(),
			Text:         text,
		})
	}

	w.publish(ResponseEvent{
		Type:         EventChunk,
		SessionID:    w.sessionID,
		SourceDevice: w.sourceDevice,
		Timestamp:    time.Now().UnixMilli(),
		Content:      event,
	})
}

// End publishes the terminal complete event carrying the elapsed wall time,
// plus the buffered events in batched mode.
func (w *ResponseWriter) End() {
	w.mu.Lock()
	defer w.mu.Unlock()

	duration := time.Since(w.start).Milliseconds()
	evt := ResponseEvent{
		Type:         EventComplete,
		SessionID:    w.sessionID,
		SourceDevice: w.sourceDevice,
		Timestamp:    time.Now().UnixMilli(),
		DurationMS:   &duration,
	}
	if !w.streaming {
		buffer := w.buffer
		if buffer == nil {
			buffer = []any{}
		}
		evt.Content = buffer
	}
	w.publish(evt)
}

// publish sends one event; failures are logged, never retried.
// Callers hold w.mu.
func (w *ResponseWriter) publish(evt ResponseEvent) {
	if err := w.pub.PublishJSON(w.topic, evt, false); err != nil {
		w.logger.Warn("failed to publish response event",
			zap.String("type", evt.Type),
			zap.Error(err))
	}
}

// resultText extracts the final result text from an agent event shaped like
// {"type":"claude_json","data":{"type":"result","result":"..."}}. The second
// return is false when the event is not a non-empty final result.
func resultText(event any) (string, bool) {
	obj, ok := event.(map[string]any)
	if !ok {
		return "", false
	}
	data, ok := obj["data"].(map[string]any)
	if !ok {
		return "", false
	}
	if data["type"] != "result" {
		return "", false
	}
	text, ok := data["result"].(string)
	if !ok || text == "" {
		return "", false
	}
	return text, true
}
