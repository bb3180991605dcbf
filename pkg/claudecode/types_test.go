package claudecode

import (
	"encoding/json"
	"testing"
)

func TestCLIMessage_GetResultData(t *testing.T) {
	tests := []struct {
		name     string
		result   json.RawMessage
		wantNil  bool
		wantText string
	}{
		{
			name:    "empty result",
			result:  nil,
			wantNil: true,
		},
		{
			name:    "string result (error)",
			result:  json.RawMessage(`"error message"`),
			wantNil: true, // GetResultData returns nil for strings
		},
		{
			name:     "object result with text",
			result:   json.RawMessage(`{"text":"success message","session_id":"abc123"}`),
			wantNil:  false,
			wantText: "success message",
		},
		{
			name:    "invalid JSON",
			result:  json.RawMessage(`{invalid`),
			wantNil: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &CLIMessage{Result: tt.result}
			got := msg.GetResultData()
			switch {
			case tt.wantNil:
				if got != nil {
					t.Errorf("GetResultData() = %v, want nil", got)
				}
			case got == nil:
				t.Fatalf("GetResultData() = nil, want non-nil")
			case got.Text != tt.wantText:
				t.Errorf("GetResultData().Text = %q, want %q", got.Text, tt.wantText)
			}
		})
	}
}

func TestCLIMessage_GetResultString(t *testing.T) {
	tests := []struct {
		name   string
		result json.RawMessage
		want   string
	}{
		{name: "empty", result: nil, want: ""},
		{name: "string", result: json.RawMessage(`"it broke"`), want: "it broke"},
		{name: "object", result: json.RawMessage(`{"text":"x"}`), want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := &CLIMessage{Result: tt.result}
			if got := msg.GetResultString(); got != tt.want {
				t.Errorf("GetResultString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestResultMessage_JSONParsing(t *testing.T) {
	line := `{"type":"result","subtype":"success","is_error":false,"duration_ms":1234,"num_turns":2,"result":"4","session_id":"s-1"}`

	var msg CLIMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if msg.Type != MessageTypeResult {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypeResult)
	}
	if msg.IsError {
		t.Error("IsError = true, want false")
	}
	if msg.DurationMS != 1234 {
		t.Errorf("DurationMS = %d, want 1234", msg.DurationMS)
	}
	if got := msg.GetResultString(); got != "4" {
		t.Errorf("GetResultString() = %q, want %q", got, "4")
	}
}

func TestControlRequest_JSONParsing(t *testing.T) {
	line := `{"type":"control_request","request_id":"req-7","request":{"subtype":"can_use_tool","tool_name":"Bash","input":{"command":"rm -rf /tmp/x","description":"clean up"},"tool_use_id":"tu-1"}}`

	var msg CLIMessage
	if err := json.Unmarshal([]byte(line), &msg); err != nil {
		t.Fatalf("failed to parse: %v", err)
	}
	if msg.Type != MessageTypeControlRequest {
		t.Errorf("Type = %q, want %q", msg.Type, MessageTypeControlRequest)
	}
	if msg.RequestID != "req-7" {
		t.Errorf("RequestID = %q, want %q", msg.RequestID, "req-7")
	}
	if msg.Request == nil {
		t.Fatal("Request is nil")
	}
	if msg.Request.Subtype != SubtypeCanUseTool {
		t.Errorf("Subtype = %q, want %q", msg.Request.Subtype, SubtypeCanUseTool)
	}
	if msg.Request.ToolName != ToolBash {
		t.Errorf("ToolName = %q, want %q", msg.Request.ToolName, ToolBash)
	}
	if got := msg.Request.Input["command"]; got != "rm -rf /tmp/x" {
		t.Errorf("Input[command] = %v, want rm -rf /tmp/x", got)
	}
}

func TestPermissionResult_JSONEncoding(t *testing.T) {
	allow := PermissionResult{
		Behavior:     BehaviorAllow,
		UpdatedInput: map[string]any{"command": "ls"},
	}
	data, err := json.Marshal(allow)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["behavior"] != "allow" {
		t.Errorf("behavior = %v, want allow", decoded["behavior"])
	}
	if _, ok := decoded["updatedInput"]; !ok {
		t.Error("updatedInput missing from allow result")
	}
	if _, ok := decoded["message"]; ok {
		t.Error("message should be omitted from allow result")
	}

	deny := PermissionResult{Behavior: BehaviorDeny, Message: "no"}
	data, err = json.Marshal(deny)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	decoded = nil
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["behavior"] != "deny" {
		t.Errorf("behavior = %v, want deny", decoded["behavior"])
	}
	if decoded["message"] != "no" {
		t.Errorf("message = %v, want no", decoded["message"])
	}
}
