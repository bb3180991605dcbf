// Package constants provides application-wide constants and timeouts.
package constants

import "time"

// Timeouts for various operations.
const (
	// BrokerConnectTimeout is the maximum time to wait for the initial
	// broker connection before startup fails.
	BrokerConnectTimeout = 30 * time.Second

	// BrokerPublishTimeout bounds the wait for a publish token.
	BrokerPublishTimeout = 10 * time.Second

	// BrokerSubscribeTimeout bounds the wait for a subscribe token.
	BrokerSubscribeTimeout = 5 * time.Second

	// BrokerDisconnectQuiesce is the time given to the broker client to
	// flush in-flight messages during an orderly disconnect.
	BrokerDisconnectQuiesce = 250 * time.Millisecond

	// AgentShutdownGrace is the time the CLI process gets to exit on its
	// own after its stdin closes before it is killed.
	AgentShutdownGrace = 5 * time.Second

	// ShutdownTimeout is the overall budget for graceful bridge teardown.
	ShutdownTimeout = 10 * time.Second
)
