// Package tools implements the Tool Adapters: outbound WebSocket clients to
// the agent-execution subsystem, and the narration formatting that is the
// sole interface between adapter activity and the model's spoken output.
package tools

import "encoding/json"

// EventCallback is invoked for every event an adapter's background reader
// receives, for appending into the Event Store.
type EventCallback func(eventType string, payload json.RawMessage)

// NarrationCallback is invoked with a short, already-formatted system message
// to inject into the upstream session so the model narrates progress.
type NarrationCallback func(text string)

// Adapter is the interface common to both Tool Adapters wired by default:
// Nested Agents and Code Modifier: connect once, register callbacks, send,
// close, with received events delivered as events and narration.
type Adapter interface {
	// Connect establishes the outbound WebSocket connection.
	Connect() error

	// Send delegates a user utterance or instruction to the adapter's
	// remote endpoint.
	Send(text string) error

	// SendControl emits a control message (pause, reset, etc.) with no
	// narration expected in response.
	SendControl(action string) error

	// OnEvent sets the callback for every received event, forwarded to
	// the Event Store.
	OnEvent(callback EventCallback)

	// OnNarration sets the callback for narratable events, formatted as a
	// short system message for the upstream session to speak.
	OnNarration(callback NarrationCallback)

	// Close closes the connection. Safe to call more than once.
	Close() error

	// IsConnected reports connection status.
	IsConnected() bool
}
