// Package bridge implements the Bridge Controller: the HTTP surface that
// orchestrates the Upstream Session Manager, Browser Connection Manager,
// Event Store, and Tool Adapters.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/voicebridge/bridge/internal/audio"
	"github.com/voicebridge/bridge/internal/browser"
	"github.com/voicebridge/bridge/internal/config"
	"github.com/voicebridge/bridge/internal/events"
	"github.com/voicebridge/bridge/internal/tools"
	"github.com/voicebridge/bridge/internal/upstream"
)

// ErrConversationNotActive is returned by controller operations that require
// an already-wired conversation (status, text injection, manual commit).
var ErrConversationNotActive = errors.New("bridge: conversation has no active session")

// conversationWiring holds everything created the first time a conversation
// is signaled, so later signals for the same conversation skip straight to
// adding a browser connection.
type conversationWiring struct {
	session      *upstream.Session
	browser      *browser.Manager
	nested       *tools.NestedAgent
	codeModifier *tools.CodeModifier
	dispatcher   *tools.Dispatcher
}

// Controller ties the three core subsystems to the Event Store and Tool
// Adapters.
type Controller struct {
	cfg         config.Config
	upstreamMgr *upstream.Manager
	store       *events.Store

	mu     sync.Mutex
	wiring map[string]*conversationWiring
}

// NewController wires a Controller from its dependencies.
func NewController(cfg config.Config, upstreamMgr *upstream.Manager, store *events.Store) *Controller {
	return &Controller{
		cfg:         cfg,
		upstreamMgr: upstreamMgr,
		store:       store,
		wiring:      make(map[string]*conversationWiring),
	}
}

// Signal resolves or creates the conversation's Upstream Session and Browser
// Manager, performs first-time wiring if needed, adds the new browser
// connection, and returns its id and SDP answer. A malformed offer surfaces
// as an error wrapping browser.ErrInvalidOffer; any other failure (upstream
// credential or SDP exchange, the event store, local peer-connection setup)
// does not.
func (c *Controller) Signal(ctx context.Context, conversationID, offerSDP, voice, model, systemPrompt string) (connectionID, answerSDP string, err error) {
	if voice == "" {
		voice = c.cfg.UpstreamVoice
	}

	sessionConfig := upstream.SessionConfig{
		Model:        model,
		Voice:        voice,
		Instructions: systemPrompt,
		Tools:        manifestToToolDescriptors(),
		Transcription: &upstream.TranscriptionConfig{
			Model:    "whisper-1",
			Language: "en",
		},
	}

	session, _, err := c.upstreamMgr.GetOrCreate(ctx, conversationID, sessionConfig)
	if err != nil {
		return "", "", fmt.Errorf("upstream session: %w", err)
	}

	if _, err := c.store.EnsureConversation(ctx, conversationID, "", voice); err != nil {
		return "", "", fmt.Errorf("ensure conversation record: %w", err)
	}

	wiring := c.ensureWiring(conversationID, session)

	connectionID, answerSDP, err = wiring.browser.AddConnection(offerSDP)
	if err != nil {
		return "", "", fmt.Errorf("negotiate browser connection: %w", err)
	}
	return connectionID, answerSDP, nil
}

// ensureWiring performs first-time wiring for a conversation: linking the
// Upstream Session's audio/event callbacks to the Browser Manager and Event
// Store, and starting the Tool Adapter connections. Wiring built for an
// earlier Upstream Session that has since been replaced is torn down (its
// browsers must signal again) and rebuilt for the new session.
func (c *Controller) ensureWiring(conversationID string, session *upstream.Session) *conversationWiring {
	c.mu.Lock()
	defer c.mu.Unlock()

	if w, ok := c.wiring[conversationID]; ok {
		if w.session == session {
			return w
		}
		w.browser.CloseAll()
		w.nested.Close()
		w.codeModifier.Close()
	}

	bm := browser.NewManager(conversationID, c.cfg.ICEServers, c.cfg.ICEGatherTimeout, func(frame audio.Frame) {
		if session.State() == upstream.StateOpen {
			if err := session.SendAudioFrame(frame); err != nil {
				log.Printf("bridge[%s]: failed to forward browser audio upstream: %v", conversationID, err)
			}
		}
	})

	session.OnAudio(func(frame audio.Frame) {
		bm.BroadcastAudio(frame)
	})

	session.OnEvent(func(eventType string, payload json.RawMessage) {
		ctx := context.Background()
		if _, err := c.store.Append(ctx, conversationID, events.SourceVoice, eventType, payload); err != nil {
			log.Printf("bridge[%s]: failed to append voice event: %v", conversationID, err)
		}
	})

	nested := tools.NewNestedAgent(c.cfg.NestedAgentsURL)
	codeModifier := tools.NewCodeModifier(c.cfg.CodeModifierURL)
	dispatcher := &tools.Dispatcher{Nested: nested, CodeModifier: codeModifier}

	wireAdapter(nested, events.SourceNested, conversationID, c.store, session)
	wireAdapter(codeModifier, events.SourceCodeModifier, conversationID, c.store, session)

	session.OnToolCall(func(callID, toolName string, arguments json.RawMessage) {
		result := dispatcher.Dispatch(toolName, arguments)
		if err := session.SendFunctionCallResult(callID, result); err != nil {
			log.Printf("bridge[%s]: failed to send tool result for %s: %v", conversationID, toolName, err)
		}
	})

	go connectAdapter(nested, "nested agents", conversationID)
	go connectAdapter(codeModifier, "code modifier", conversationID)

	w := &conversationWiring{session: session, browser: bm, nested: nested, codeModifier: codeModifier, dispatcher: dispatcher}
	c.wiring[conversationID] = w
	return w
}

func wireAdapter(adapter tools.Adapter, source events.Source, conversationID string, store *events.Store, session *upstream.Session) {
	adapter.OnEvent(func(eventType string, payload json.RawMessage) {
		ctx := context.Background()
		if _, err := store.Append(ctx, conversationID, source, eventType, payload); err != nil {
			log.Printf("bridge[%s]: failed to append %s event: %v", conversationID, source, err)
		}
	})
	adapter.OnNarration(func(text string) {
		if err := session.SendText(text); err != nil {
			log.Printf("bridge[%s]: failed to narrate %s event: %v", conversationID, source, err)
		}
	})
}

func connectAdapter(adapter tools.Adapter, label, conversationID string) {
	if err := adapter.Connect(); err != nil {
		log.Printf("bridge[%s]: %s adapter connect failed (tool calls to it will return an error): %v", conversationID, label, err)
	}
}

// Disconnect removes a single browser connection; the Upstream Session is
// never affected. Disconnecting an unknown conversation_id/connection_id is
// a no-op.
func (c *Controller) Disconnect(conversationID, connectionID string) error {
	c.mu.Lock()
	w, ok := c.wiring[conversationID]
	c.mu.Unlock()
	if !ok {
		return nil
	}
	return w.browser.RemoveConnection(connectionID)
}

// Stop closes all browser connections, the Upstream Session, and all Tool
// Adapters for a conversation; the Event Store retains its history. Stopping
// an unknown conversation_id is a no-op.
func (c *Controller) Stop(conversationID string) error {
	c.mu.Lock()
	w, ok := c.wiring[conversationID]
	if ok {
		delete(c.wiring, conversationID)
	}
	c.mu.Unlock()

	if !ok {
		return c.upstreamMgr.Close(conversationID)
	}

	w.browser.CloseAll()
	w.nested.Close()
	w.codeModifier.Close()
	return c.upstreamMgr.Close(conversationID)
}

// Status reports the live browser count and session state for an active
// conversation, or ErrConversationNotActive if it has never been signaled or
// has since been stopped.
func (c *Controller) Status(conversationID string) (browserCount int, sessionState string, err error) {
	c.mu.Lock()
	w, ok := c.wiring[conversationID]
	c.mu.Unlock()
	if !ok {
		return 0, "", ErrConversationNotActive
	}

	session := c.upstreamMgr.Get(conversationID)
	state := string(upstream.StateClosed)
	if session != nil {
		state = string(session.State())
	}
	return w.browser.Count(), state, nil
}

// SendText injects text into a conversation's Upstream Session.
func (c *Controller) SendText(conversationID, text string) error {
	session := c.upstreamMgr.Get(conversationID)
	if session == nil {
		return ErrConversationNotActive
	}
	return session.SendText(text)
}

// CommitAudioBuffer manually commits the input audio buffer for a
// conversation.
func (c *Controller) CommitAudioBuffer(conversationID string) error {
	session := c.upstreamMgr.Get(conversationID)
	if session == nil {
		return ErrConversationNotActive
	}
	return session.CommitAudioBuffer()
}

// SubscribeEvents registers ch to receive future events for a conversation,
// for the events WebSocket endpoint.
func (c *Controller) SubscribeEvents(conversationID string, ch events.Subscriber) func() {
	return c.store.Subscribe(conversationID, ch)
}

// ListEvents returns the conversation's full event history.
func (c *Controller) ListEvents(ctx context.Context, conversationID string) ([]events.Event, error) {
	return c.store.List(ctx, conversationID)
}

func manifestToToolDescriptors() []upstream.ToolDescriptor {
	raw := tools.Manifest()
	out := make([]upstream.ToolDescriptor, len(raw))
	for i, t := range raw {
		out[i] = upstream.ToolDescriptor{
			Type:        t.Type,
			Name:        t.Name,
			Description: t.Description,
			Parameters:  t.Parameters,
		}
	}
	return out
}
