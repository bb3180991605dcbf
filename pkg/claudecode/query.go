package claudecode

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/homeclaw/homeclaw/internal/common/constants"
	"github.com/homeclaw/homeclaw/internal/common/logger"
)

// CanUseToolFunc decides whether the CLI may run a tool. It is invoked once
// per permission prompt and its result is relayed back verbatim.
type CanUseToolFunc func(toolName string, input map[string]any) PermissionResult

// EventWriter receives agent output events as they stream in.
type EventWriter interface {
	Send(event any)
	SetSessionID(id string)
}

// Options configures a single Query invocation.
type Options struct {
	// CLIPath is the claude binary; empty means "claude" on PATH.
	CLIPath string
	// CWD is the working directory the CLI runs in.
	CWD string
	// SessionID, when set, resumes an existing CLI session.
	SessionID string
	// PermissionMode is passed through to the CLI (e.g. "default").
	PermissionMode string
	// CanUseTool handles permission prompts. When nil every prompt is denied.
	CanUseTool CanUseToolFunc
}

// cliArgs builds the CLI argument list for one invocation. The stdio
// permission prompt tool routes every tool use through a control request on
// stdout instead of an interactive prompt.
func cliArgs(opts Options) []string {
	args := []string{
		"-p",
		"--output-format=stream-json",
		"--input-format=stream-json",
		"--permission-prompt-tool=stdio",
		"--verbose",
	}
	if opts.SessionID != "" {
		args = append(args, "--resume", opts.SessionID)
	}
	if opts.PermissionMode != "" {
		args = append(args, "--permission-mode", opts.PermissionMode)
	}
	return args
}

// Query spawns the Claude Code CLI, sends prompt, and forwards every stdout
// record to writer as {"type":"claude_json","data":<record>}. Permission
// prompts are routed through opts.CanUseTool. Query returns after the CLI's
// result record arrives and the process exits; it returns an error when the
// result reports one or the process fails. Cancelling ctx kills the process.
func Query(ctx context.Context, prompt string, opts Options, writer EventWriter, log *logger.Logger) error {
	cliPath := opts.CLIPath
	if cliPath == "" {
		cliPath = "claude"
	}

	qlog := log.WithFields(zap.String("component", "claudecode-query"))

	cmd := exec.CommandContext(ctx, cliPath, cliArgs(opts)...)
	if opts.CWD != "" {
		cmd.Dir = opts.CWD
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("failed to open CLI stdin: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open CLI stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("failed to open CLI stderr: %w", err)
	}

	client := NewClient(stdin, stdout, log)

	// Buffered so the message handler never blocks on a result nobody is
	// reading yet.
	resultCh := make(chan error, 1)

	client.SetRequestHandler(func(requestID string, req *ControlRequest) {
		if req.Subtype != SubtypeCanUseTool {
			qlog.Warn("unsupported control request",
				zap.String("request_id", requestID),
				zap.String("subtype", req.Subtype))
			if err := client.SendControlResponse(&ControlResponseMessage{
				Type:      MessageTypeControlResponse,
				RequestID: requestID,
				Response:  &ControlResponse{Subtype: "error", Error: "unsupported control request: " + req.Subtype},
			}); err != nil {
				qlog.Warn("failed to answer control request", zap.Error(err))
			}
			return
		}

		result := PermissionResult{
			Behavior: BehaviorDeny,
			Message:  "no permission handler configured",
		}
		if opts.CanUseTool != nil {
			result = opts.CanUseTool(req.ToolName, req.Input)
		}

		if err := client.SendControlResponse(&ControlResponseMessage{
			Type:      MessageTypeControlResponse,
			RequestID: requestID,
			Response:  &ControlResponse{Subtype: "success", Result: &result},
		}); err != nil {
			qlog.Warn("failed to answer permission prompt",
				zap.String("request_id", requestID), zap.Error(err))
		}
	})

	client.SetMessageHandler(func(msg *CLIMessage) {
		var record any
		if err := json.Unmarshal(msg.RawContent, &record); err != nil {
			qlog.Warn("unparseable CLI record", zap.Error(err))
			return
		}
		writer.Send(map[string]any{
			"type": "claude_json",
			"data": record,
		})

		if msg.Type == MessageTypeResult {
			if msg.IsError {
				errText := msg.GetResultString()
				if errText == "" {
					errText = msg.Subtype
				}
				resultCh <- fmt.Errorf("claude returned an error: %s", errText)
			} else {
				resultCh <- nil
			}
		}
	})

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start claude CLI: %w", err)
	}

	var lastStderr bytes.Buffer
	pumps := new(errgroup.Group)
	pumps.Go(func() error {
		// Relay CLI diagnostics; keep the tail for error reporting.
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			line := scanner.Text()
			qlog.Debug("claude CLI stderr", zap.String("line", line))
			if lastStderr.Len() > 4*1024 {
				lastStderr.Reset()
			}
			lastStderr.WriteString(line)
			lastStderr.WriteByte('\n')
		}
		return scanner.Err()
	})

	readDone := client.Start(ctx)

	if err := client.SendUserMessage(prompt); err != nil {
		client.Stop()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		return fmt.Errorf("failed to send prompt: %w", err)
	}

	var resultErr error
	select {
	case resultErr = <-resultCh:
	case <-ctx.Done():
		resultErr = ctx.Err()
	case <-readDone:
		// Stdout closed without a result record: the process died early.
		resultErr = fmt.Errorf("claude CLI exited before producing a result")
	}

	// Close stdin so the CLI exits on its own; kill it after a bounded grace
	// period if it lingers.
	_ = stdin.Close()

	exited := make(chan error, 1)
	go func() { exited <- cmd.Wait() }()

	var waitErr error
	select {
	case waitErr = <-exited:
	case <-time.After(constants.AgentShutdownGrace):
		qlog.Warn("claude CLI did not exit after stdin close, killing")
		_ = cmd.Process.Kill()
		waitErr = <-exited
	}

	client.Stop()
	<-readDone
	_ = pumps.Wait()

	if resultErr != nil {
		return resultErr
	}
	if waitErr != nil {
		return fmt.Errorf("claude CLI exited abnormally: %w (stderr: %s)", waitErr, lastStderr.String())
	}
	return nil
}
