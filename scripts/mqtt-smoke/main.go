// Device simulator for smoke-testing the homeclaw bridge end to end.
// It publishes one command envelope, prints everything the bridge sends back,
// and answers approval requests automatically.
//
// Usage: go run ./scripts/mqtt-smoke -broker tcp://localhost:1883 -message "2+2?" [-stream=false] [-approve=false]
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

type commandEnvelope struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	Source    string `json:"source"`
	Project   string `json:"project,omitempty"`
	Stream    bool   `json:"stream"`
}

type approvalRequest struct {
	RequestID string         `json:"requestId"`
	ToolName  string         `json:"toolName"`
	Input     map[string]any `json:"input"`
}

type approvalResponse struct {
	RequestID string `json:"requestId"`
	Approved  bool   `json:"approved"`
	Reason    string `json:"reason,omitempty"`
}

func main() {
	broker := flag.String("broker", "tcp://localhost:1883", "broker URL")
	username := flag.String("username", "", "broker username")
	password := flag.String("password", "", "broker password")
	message := flag.String("message", "What is 2+2?", "command to send")
	source := flag.String("source", "mqtt-smoke", "source device name")
	project := flag.String("project", "", "working directory hint")
	sessionID := flag.String("session", "", "session id to resume")
	stream := flag.Bool("stream", true, "streaming mode")
	approve := flag.Bool("approve", true, "auto-approve tool use requests")
	commandTopic := flag.String("command-topic", "claude/command", "command topic")
	responseTopic := flag.String("response-topic", "claude/home/response", "response topic")
	approvalReqTopic := flag.String("approval-request-topic", "claude/approval-request", "approval request topic")
	approvalRespTopic := flag.String("approval-response-topic", "claude/approval-response", "approval response topic")
	statusTopic := flag.String("status-topic", "claude/home/status", "status topic")
	timeout := flag.Duration("timeout", 5*time.Minute, "give up after this long")
	flag.Parse()

	opts := pahomqtt.NewClientOptions().
		AddBroker(*broker).
		SetClientID(fmt.Sprintf("mqtt-smoke-%d", time.Now().UnixMilli())).
		SetCleanSession(true)
	if *username != "" {
		opts.SetUsername(*username)
		opts.SetPassword(*password)
	}

	client := pahomqtt.NewClient(opts)
	if tok := client.Connect(); tok.Wait() && tok.Error() != nil {
		fmt.Fprintf(os.Stderr, "connect failed: %v\n", tok.Error())
		os.Exit(1)
	}
	defer client.Disconnect(250)
	fmt.Printf("connected to %s\n", *broker)

	finished := make(chan struct{}, 1)

	subscribe(client, *statusTopic, func(payload []byte) {
		fmt.Printf("[status] %s\n", payload)
	})

	subscribe(client, *responseTopic, func(payload []byte) {
		var evt map[string]any
		if err := json.Unmarshal(payload, &evt); err != nil {
			fmt.Printf("[response] (unparseable) %s\n", payload)
			return
		}
		typ, _ := evt["type"].(string)
		switch typ {
		case "answer":
			fmt.Printf("[answer] %v\n", evt["text"])
		case "chunk":
			fmt.Printf("[chunk] %s\n", payload)
		case "complete":
			fmt.Printf("[complete] duration_ms=%v\n", evt["duration_ms"])
			finished <- struct{}{}
		case "error":
			fmt.Printf("[error] %v\n", evt["error"])
			finished <- struct{}{}
		default:
			fmt.Printf("[response] %s\n", payload)
		}
	})

	subscribe(client, *approvalReqTopic, func(payload []byte) {
		var req approvalRequest
		if err := json.Unmarshal(payload, &req); err != nil {
			fmt.Printf("[approval-request] (unparseable) %s\n", payload)
			return
		}
		fmt.Printf("[approval-request] id=%s tool=%s input=%v -> approved=%v\n",
			req.RequestID, req.ToolName, req.Input, *approve)

		resp := approvalResponse{RequestID: req.RequestID, Approved: *approve}
		if !*approve {
			resp.Reason = "denied by mqtt-smoke"
		}
		data, _ := json.Marshal(resp)
		client.Publish(*approvalRespTopic, 0, false, data).Wait()
	})

	envelope := commandEnvelope{
		Message:   *message,
		SessionID: *sessionID,
		Source:    *source,
		Project:   *project,
		Stream:    *stream,
	}
	data, err := json.Marshal(envelope)
	if err != nil {
		fmt.Fprintf(os.Stderr, "marshal envelope: %v\n", err)
		os.Exit(1)
	}
	if tok := client.Publish(*commandTopic, 0, false, data); tok.Wait() && tok.Error() != nil {
		fmt.Fprintf(os.Stderr, "publish command: %v\n", tok.Error())
		os.Exit(1)
	}
	fmt.Printf("published command to %s: %s\n", *commandTopic, data)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-finished:
	case <-quit:
		fmt.Println("interrupted")
	case <-time.After(*timeout):
		fmt.Println("timed out waiting for a terminal event")
		os.Exit(1)
	}
}

func subscribe(client pahomqtt.Client, topic string, handle func(payload []byte)) {
	tok := client.Subscribe(topic, 0, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		handle(msg.Payload())
	})
	if tok.Wait() && tok.Error() != nil {
		fmt.Fprintf(os.Stderr, "subscribe %s failed: %v\n", topic, tok.Error())
		os.Exit(1)
	}
}
