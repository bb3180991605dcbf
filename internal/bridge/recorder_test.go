package bridge

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/homeclaw/homeclaw/internal/common/logger"
)

// published is one captured publish, with the payload decoded back from JSON
// so tests assert on the wire shape.
type published struct {
	Topic   string
	Retain  bool
	Payload map[string]any
}

// recorderPublisher captures publishes in memory.
type recorderPublisher struct {
	mu   sync.Mutex
	msgs []published
	err  error
}

func (r *recorderPublisher) PublishJSON(topic string, payload any, retain bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	r.msgs = append(r.msgs, published{Topic: topic, Retain: retain, Payload: decoded})
	return nil
}

func (r *recorderPublisher) all() []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]published, len(r.msgs))
	copy(out, r.msgs)
	return out
}

// onTopic filters captured publishes by topic.
func (r *recorderPublisher) onTopic(topic string) []published {
	var out []published
	for _, m := range r.all() {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "json", OutputPath: "stderr"})
	if err != nil {
		t.Fatalf("failed to build test logger: %v", err)
	}
	return log
}
