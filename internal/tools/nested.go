package tools

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// NestedAgent is the Tool Adapter that delegates a user utterance to a
// multi-agent team. It dials once, reads a background stream of JSON
// messages, and classifies them by a `type` discriminator.
type NestedAgent struct {
	endpointURL string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	onEvent     EventCallback
	onNarration NarrationCallback
}

// NewNestedAgent creates a Nested Agents adapter dialing endpointURL.
func NewNestedAgent(endpointURL string) *NestedAgent {
	return &NestedAgent{endpointURL: endpointURL, done: make(chan struct{})}
}

func (a *NestedAgent) OnEvent(cb EventCallback)         { a.onEvent = cb }
func (a *NestedAgent) OnNarration(cb NarrationCallback) { a.onNarration = cb }

// Connect dials the nested-agents WebSocket endpoint and starts the
// background reader.
func (a *NestedAgent) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(a.endpointURL, nil)
	if err != nil {
		return fmt.Errorf("nested agents connection failed: %w", err)
	}

	a.conn = conn
	a.connected = true
	a.done = make(chan struct{})

	go a.readLoop()

	log.Println("[NestedAgents] Connected")
	return nil
}

type nestedEnvelope struct {
	Type string `json:"type"`
}

// nestedMessage covers the agent-text, tool-result, and task-complete shapes
// the nested-agent subsystem emits, for narration formatting.
type nestedMessage struct {
	Type    string `json:"type"`
	Agent   string `json:"agent,omitempty"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Result  string `json:"result,omitempty"`
	Outcome string `json:"outcome,omitempty"`
	Summary string `json:"summary,omitempty"`
}

func (a *NestedAgent) readLoop() {
	defer func() {
		a.mu.Lock()
		a.connected = false
		a.mu.Unlock()
	}()

	for {
		select {
		case <-a.done:
			return
		default:
		}

		_, raw, err := a.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return
			}
			log.Printf("[NestedAgents] read error: %v", err)
			return
		}

		var env nestedEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("[NestedAgents] malformed message: %v", err)
			continue
		}
		if a.onEvent != nil {
			a.onEvent(env.Type, json.RawMessage(raw))
		}

		var msg nestedMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch env.Type {
		case "agent_message":
			if a.onNarration != nil {
				a.onNarration(fmt.Sprintf("[TEAM %s] %s", msg.Agent, msg.Content))
			}
		case "tool_result":
			if a.onNarration != nil {
				a.onNarration(fmt.Sprintf("[TEAM %s] %s", msg.Tool, msg.Result))
			}
		case "task_complete":
			if a.onNarration != nil {
				a.onNarration(fmt.Sprintf("[TEAM] Task %s: %s", msg.Outcome, msg.Summary))
			}
		}
	}
}

// Send delegates a user utterance to the nested-agent team.
func (a *NestedAgent) Send(text string) error {
	return a.sendJSON(map[string]string{"type": "user_message", "data": text})
}

// SendControl emits a control message (pause, reset).
func (a *NestedAgent) SendControl(action string) error {
	return a.sendJSON(map[string]string{"type": action})
}

func (a *NestedAgent) sendJSON(v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.conn == nil {
		return fmt.Errorf("nested agents adapter not connected")
	}
	return a.conn.WriteJSON(v)
}

// Close closes the connection.
func (a *NestedAgent) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.connected {
		return nil
	}
	close(a.done)
	if a.conn != nil {
		a.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		a.conn.Close()
	}
	a.connected = false
	log.Println("[NestedAgents] Disconnected")
	return nil
}

// IsConnected reports connection status.
func (a *NestedAgent) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
