package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/homeclaw/homeclaw/internal/approval"
	"github.com/homeclaw/homeclaw/internal/common/config"
	"github.com/homeclaw/homeclaw/internal/common/logger"
	"github.com/homeclaw/homeclaw/pkg/claudecode"
)

func testConfig() *config.Config {
	return &config.Config{
		MQTT: config.MQTTConfig{
			Enabled:               true,
			BrokerURL:             "mqtt://localhost:1883",
			ClientID:              "test-client",
			CommandTopic:          "cmd",
			ResponseTopic:         "resp",
			ApprovalRequestTopic:  "approvals",
			ApprovalResponseTopic: "approval-resp",
			ApprovalTimeout:       1000,
			ReconnectBackoff:      5000,
		},
		Agent:   config.AgentConfig{CLIPath: "claude"},
		Logging: config.LoggingConfig{Level: "error", Format: "json"},
	}
}

func newTestHandler(t *testing.T, pub *recorderPublisher, registry *approval.Registry, query QueryFunc) *Handler {
	t.Helper()
	h := NewHandler(pub, registry, testConfig(), testLogger(t))
	h.query = query
	h.credCheck = func() error { return nil }
	return h
}

// scriptedAgent returns a QueryFunc that emits the given events and returns err.
func scriptedAgent(events []any, err error) QueryFunc {
	return func(_ context.Context, _ string, _ claudecode.Options, writer claudecode.EventWriter, _ *logger.Logger) error {
		for _, e := range events {
			writer.Send(e)
		}
		return err
	}
}

func TestHandler_SimpleQABatched(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	event := resultEvent("4")
	h := newTestHandler(t, pub, registry, scriptedAgent([]any{event}, nil))

	h.Handle(context.Background(), []byte(`{"source":"t","message":"2+2?","stream":false}`))

	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 1)
	payload := msgs[0].Payload
	assert.Equal(t, "complete", payload["type"])
	assert.Equal(t, "t", payload["source_device"])
	assert.NotEmpty(t, payload["session_id"], "session id must be generated when absent")

	content, ok := payload["content"].([]any)
	require.True(t, ok)
	require.Len(t, content, 1)

	duration, ok := payload["duration_ms"].(float64)
	require.True(t, ok)
	assert.GreaterOrEqual(t, duration, float64(0))
}

func TestHandler_StreamingWithAnswerShortcut(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	h := newTestHandler(t, pub, registry, scriptedAgent([]any{resultEvent("4")}, nil))

	h.Handle(context.Background(), []byte(`{"source":"t","message":"2+2?","stream":true}`))

	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 3)
	assert.Equal(t, "answer", msgs[0].Payload["type"])
	assert.Equal(t, "4", msgs[0].Payload["text"])
	assert.Equal(t, "chunk", msgs[1].Payload["type"])
	assert.Equal(t, "complete", msgs[2].Payload["type"])
}

func TestHandler_StreamDefaultsToTrue(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	h := newTestHandler(t, pub, registry, scriptedAgent([]any{chunkEvent("a")}, nil))

	h.Handle(context.Background(), []byte(`{"message":"hi"}`))

	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 2)
	assert.Equal(t, "chunk", msgs[0].Payload["type"])
	assert.Equal(t, "unknown", msgs[0].Payload["source_device"])
	assert.Equal(t, "complete", msgs[1].Payload["type"])
}

func TestHandler_MissingMessage(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	h := newTestHandler(t, pub, registry, scriptedAgent(nil, nil))

	h.Handle(context.Background(), []byte(`{"source":"t"}`))

	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Payload["type"])
	assert.Equal(t, "Missing required field: message", msgs[0].Payload["error"])
}

func TestHandler_CredentialsAbsent(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	h := newTestHandler(t, pub, registry, scriptedAgent(nil, nil))
	h.credCheck = func() error { return errors.New("no credentials file") }

	h.Handle(context.Background(), []byte(`{"message":"hi"}`))

	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 1)
	assert.Equal(t, "error", msgs[0].Payload["type"])
	assert.Equal(t, "Claude CLI not authenticated. Please run: claude setup-token", msgs[0].Payload["error"])
}

func TestHandler_AgentFailure(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	h := newTestHandler(t, pub, registry, scriptedAgent([]any{chunkEvent("partial")}, errors.New("agent crashed")))

	h.Handle(context.Background(), []byte(`{"message":"hi","stream":true}`))

	msgs := pub.onTopic("resp")
	require.NotEmpty(t, msgs)
	last := msgs[len(msgs)-1].Payload
	assert.Equal(t, "error", last["type"])
	assert.Equal(t, "agent crashed", last["error"])
	for _, m := range msgs {
		assert.NotEqual(t, "complete", m.Payload["type"], "a failed command must not also complete")
	}
}

func TestHandler_MalformedEnvelopeDropped(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))
	h := newTestHandler(t, pub, registry, scriptedAgent(nil, nil))

	h.Handle(context.Background(), []byte(`{not json`))

	assert.Empty(t, pub.all())
}

func TestHandler_AgentOptionsWiring(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))

	var got claudecode.Options
	h := newTestHandler(t, pub, registry, func(_ context.Context, prompt string, opts claudecode.Options, writer claudecode.EventWriter, _ *logger.Logger) error {
		got = opts
		assert.Equal(t, "do things", prompt)
		return nil
	})

	h.Handle(context.Background(), []byte(`{"message":"do things","session_id":"sess-9","project":"/tmp/proj"}`))

	assert.Equal(t, "claude", got.CLIPath)
	assert.Equal(t, "/tmp/proj", got.CWD)
	assert.Equal(t, "sess-9", got.SessionID, "resume hint is the raw envelope session id")
	assert.Equal(t, "default", got.PermissionMode)
	assert.NotNil(t, got.CanUseTool)
}

func TestHandler_ApprovalApproved(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))

	var result claudecode.PermissionResult
	agent := func(_ context.Context, _ string, opts claudecode.Options, writer claudecode.EventWriter, _ *logger.Logger) error {
		result = opts.CanUseTool("Bash", map[string]any{"command": "ls"})
		writer.Send(resultEvent("done"))
		return nil
	}
	h := newTestHandler(t, pub, registry, agent)

	done := answerApprovals(t, pub, registry, true, "")
	h.Handle(context.Background(), []byte(`{"message":"list files","stream":false}`))
	requestID := <-done

	assert.Equal(t, claudecode.BehaviorAllow, result.Behavior)
	require.NotEmpty(t, requestID)

	// The outbound request id matches the one the device answered.
	reqs := pub.onTopic("approvals")
	require.Len(t, reqs, 1)
	assert.Equal(t, requestID, reqs[0].Payload["requestId"])

	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 1)
	assert.Equal(t, "complete", msgs[0].Payload["type"])
}

func TestHandler_ApprovalDenied(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))

	var result claudecode.PermissionResult
	agent := func(_ context.Context, _ string, opts claudecode.Options, writer claudecode.EventWriter, _ *logger.Logger) error {
		result = opts.CanUseTool("Bash", map[string]any{"command": "rm -rf /"})
		writer.Send(resultEvent("stopped"))
		return nil
	}
	h := newTestHandler(t, pub, registry, agent)

	done := answerApprovals(t, pub, registry, false, "no")
	h.Handle(context.Background(), []byte(`{"message":"wipe it","stream":false}`))
	<-done

	assert.Equal(t, claudecode.BehaviorDeny, result.Behavior)
	assert.Equal(t, "no", result.Message)
}

func TestHandler_ApprovalTimeout(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))

	var result claudecode.PermissionResult
	agent := func(_ context.Context, _ string, opts claudecode.Options, writer claudecode.EventWriter, _ *logger.Logger) error {
		result = opts.CanUseTool("Bash", map[string]any{"command": "ls"})
		writer.Send(resultEvent("gave up"))
		return nil
	}
	h := newTestHandler(t, pub, registry, agent)
	h.approvalTimeout = 50 * time.Millisecond

	h.Handle(context.Background(), []byte(`{"message":"list","stream":false}`))

	assert.Equal(t, claudecode.BehaviorDeny, result.Behavior)
	assert.Contains(t, result.Message, "Approval timeout")

	// The timeout stays confined to the arbiter: the command still ends with
	// its single complete, no extra error.
	msgs := pub.onTopic("resp")
	require.Len(t, msgs, 1)
	assert.Equal(t, "complete", msgs[0].Payload["type"])
}

func TestHandler_NewCommandPreemptsApproval(t *testing.T) {
	pub := &recorderPublisher{}
	registry := approval.NewRegistry(testLogger(t))

	results := make(chan claudecode.PermissionResult, 1)
	blockedAgent := func(_ context.Context, _ string, opts claudecode.Options, writer claudecode.EventWriter, _ *logger.Logger) error {
		results <- opts.CanUseTool("Bash", map[string]any{"command": "ls"})
		writer.Send(resultEvent("first done"))
		return nil
	}
	h := newTestHandler(t, pub, registry, blockedAgent)

	go h.Handle(context.Background(), []byte(`{"message":"first","stream":false,"source":"a"}`))

	// Wait for the first command to park a waiter.
	require.Eventually(t, func() bool { return registry.Count() == 1 }, time.Second, 5*time.Millisecond)

	reqs := pub.onTopic("approvals")
	require.Len(t, reqs, 1)
	requestID := reqs[0].Payload["requestId"].(string)

	h2 := newTestHandler(t, pub, registry, scriptedAgent([]any{resultEvent("second done")}, nil))
	h2.Handle(context.Background(), []byte(`{"message":"second","stream":false,"source":"b"}`))

	select {
	case result := <-results:
		assert.Equal(t, claudecode.BehaviorDeny, result.Behavior)
		assert.Contains(t, result.Message, "New command received")
	case <-time.After(time.Second):
		t.Fatal("preempted approval never resolved")
	}

	// A late approval for the cancelled request is an orphan.
	assert.False(t, registry.Resolve(requestID, true, ""))

	// Let the preempted command publish its own terminal event too.
	require.Eventually(t, func() bool {
		return len(pub.onTopic("resp")) >= 2
	}, time.Second, 5*time.Millisecond)
}
