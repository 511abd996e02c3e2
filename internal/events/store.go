// Package events implements the append-only per-conversation event log and
// its subscriber fan-out to WebSocket observers.
package events

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// Source tags who produced an event.
type Source string

const (
	SourceVoice        Source = "voice"
	SourceNested       Source = "nested"
	SourceCodeModifier Source = "code_modifier"
	SourceController   Source = "controller"
)

// Event is an append-only record bound to a conversation. Events are never
// mutated once appended.
type Event struct {
	ID             int64           `json:"id"`
	ConversationID string          `json:"conversation_id"`
	Timestamp      time.Time       `json:"timestamp"`
	Source         Source          `json:"source"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
}

// Conversation is the unit of isolation; it exists independently of whether
// any peer is connected.
type Conversation struct {
	ID        string
	Name      string
	CreatedAt time.Time
	UpdatedAt time.Time
	Voice     string
	Metadata  map[string]any
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL DEFAULT '',
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	voice TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}'
);
CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	conversation_id TEXT NOT NULL,
	timestamp DATETIME NOT NULL,
	source TEXT NOT NULL,
	type TEXT NOT NULL,
	payload TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_conversation ON events (conversation_id, id);
`

// Subscriber receives events as they are appended. Send must not block for long;
// Store snapshots subscribers before broadcast so a slow subscriber cannot hold up
// the append path or other subscribers, and so no lock is held across network I/O.
type Subscriber chan Event

// Store is the process-wide append-only event log. Append takes no lock of
// its own: sqlite orders the inserts, so ids and List follow insert order,
// but two concurrent Appends for one conversation may reach subscribers in
// either order.
type Store struct {
	db *sql.DB

	mu          sync.Mutex
	subscribers map[string]map[Subscriber]struct{}
}

// Open creates or attaches to the sqlite-backed event store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open event store: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate event store: %w", err)
	}
	return &Store{
		db:          db,
		subscribers: make(map[string]map[Subscriber]struct{}),
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// EnsureConversation creates the conversation row if it does not already
// exist, lazily on first signaling request.
func (s *Store) EnsureConversation(ctx context.Context, id, name, voice string) (*Conversation, error) {
	now := time.Now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO conversations (id, name, created_at, updated_at, voice, metadata)
		VALUES (?, ?, ?, ?, ?, '{}')
		ON CONFLICT(id) DO NOTHING
	`, id, name, now, now, voice)
	if err != nil {
		return nil, fmt.Errorf("ensure conversation: %w", err)
	}
	return s.GetConversation(ctx, id)
}

// GetConversation returns the conversation, or nil if it does not exist.
func (s *Store) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, created_at, updated_at, voice, metadata FROM conversations WHERE id = ?
	`, id)

	var c Conversation
	var metadataJSON string
	if err := row.Scan(&c.ID, &c.Name, &c.CreatedAt, &c.UpdatedAt, &c.Voice, &metadataJSON); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	c.Metadata = map[string]any{}
	_ = json.Unmarshal([]byte(metadataJSON), &c.Metadata)
	return &c, nil
}

// Append appends an event for a conversation and fans it out to current
// subscribers. The payload must already be JSON-encoded.
func (s *Store) Append(ctx context.Context, conversationID string, source Source, typ string, payload json.RawMessage) (Event, error) {
	if payload == nil {
		payload = json.RawMessage("{}")
	}
	now := time.Now()

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (conversation_id, timestamp, source, type, payload)
		VALUES (?, ?, ?, ?, ?)
	`, conversationID, now, string(source), typ, string(payload))
	if err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Event{}, fmt.Errorf("append event id: %w", err)
	}

	ev := Event{
		ID:             id,
		ConversationID: conversationID,
		Timestamp:      now,
		Source:         source,
		Type:           typ,
		Payload:        payload,
	}
	s.broadcast(conversationID, ev)
	return ev, nil
}

// List returns all events for a conversation in id order.
func (s *Store) List(ctx context.Context, conversationID string) ([]Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, timestamp, source, type, payload
		FROM events WHERE conversation_id = ? ORDER BY id ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var payload string
		var source string
		if err := rows.Scan(&ev.ID, &ev.ConversationID, &ev.Timestamp, &source, &ev.Type, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		ev.Source = Source(source)
		ev.Payload = json.RawMessage(payload)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Subscribe registers ch to receive future events for conversationID. The
// returned function unsubscribes.
func (s *Store) Subscribe(conversationID string, ch Subscriber) func() {
	s.mu.Lock()
	set, ok := s.subscribers[conversationID]
	if !ok {
		set = make(map[Subscriber]struct{})
		s.subscribers[conversationID] = set
	}
	set[ch] = struct{}{}
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if set, ok := s.subscribers[conversationID]; ok {
			delete(set, ch)
			if len(set) == 0 {
				delete(s.subscribers, conversationID)
			}
		}
	}
}

func (s *Store) broadcast(conversationID string, ev Event) {
	s.mu.Lock()
	set := s.subscribers[conversationID]
	subs := make([]Subscriber, 0, len(set))
	for ch := range set {
		subs = append(subs, ch)
	}
	s.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- ev:
		default:
			// Slow subscriber; drop rather than block the append path.
		}
	}
}
