package tools

import (
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// CodeModifier is the Tool Adapter that delegates a self-editing instruction
// to a code-modification process.
type CodeModifier struct {
	endpointURL string

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool
	done      chan struct{}

	onEvent     EventCallback
	onNarration NarrationCallback
}

// NewCodeModifier creates a Code Modifier adapter dialing endpointURL.
func NewCodeModifier(endpointURL string) *CodeModifier {
	return &CodeModifier{endpointURL: endpointURL, done: make(chan struct{})}
}

func (a *CodeModifier) OnEvent(cb EventCallback)         { a.onEvent = cb }
func (a *CodeModifier) OnNarration(cb NarrationCallback) { a.onNarration = cb }

// Connect dials the code-modifier WebSocket endpoint and starts the
// background reader.
func (a *CodeModifier) Connect() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.connected {
		return nil
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.Dial(a.endpointURL, nil)
	if err != nil {
		return fmt.Errorf("code modifier connection failed: %w", err)
	}

	a.conn = conn
	a.connected = true
	a.done = make(chan struct{})

	go a.readLoop()

	log.Println("[CodeModifier] Connected")
	return nil
}

type codeModifierEnvelope struct {
	Type string `json:"type"`
}

// codeModifierMessage covers the tool-call and completion shapes the
// code-modification process emits, for narration formatting.
type codeModifierMessage struct {
	Type    string          `json:"type"`
	Tool    string          `json:"tool,omitempty"`
	Args    json.RawMessage `json:"args,omitempty"`
	Message string          `json:"message,omitempty"`
}

func (a *CodeModifier) readLoop() {
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
			log.Printf("[CodeModifier] read error: %v", err)
			return
		}

		var env codeModifierEnvelope
		if err := json.Unmarshal(raw, &env); err != nil {
			log.Printf("[CodeModifier] malformed message: %v", err)
			continue
		}
		if a.onEvent != nil {
			a.onEvent(env.Type, json.RawMessage(raw))
		}

		var msg codeModifierMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}

		switch env.Type {
		case "tool_call":
			if a.onNarration != nil {
				a.onNarration(fmt.Sprintf("[CODE %s] using %s", msg.Tool, string(msg.Args)))
			}
		case "completion":
			if a.onNarration != nil {
				a.onNarration(fmt.Sprintf("[CODE RESULT] %s", msg.Message))
			}
		}
	}
}

// Send delegates a self-editing instruction to the code-modification process.
func (a *CodeModifier) Send(text string) error {
	return a.sendJSON(map[string]string{"type": "instruction", "data": text})
}

// SendControl emits a control message of type action; the dispatcher sends
// "pause" for the pause_code_modifier tool.
func (a *CodeModifier) SendControl(action string) error {
	return a.sendJSON(map[string]string{"type": action})
}

func (a *CodeModifier) sendJSON(v any) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected || a.conn == nil {
		return fmt.Errorf("code modifier adapter not connected")
	}
	return a.conn.WriteJSON(v)
}

// Close closes the connection.
func (a *CodeModifier) Close() error {
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
	log.Println("[CodeModifier] Disconnected")
	return nil
}

// IsConnected reports connection status.
func (a *CodeModifier) IsConnected() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.connected
}
