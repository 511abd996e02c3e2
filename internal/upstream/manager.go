package upstream

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Manager is the process-wide registry conversation_id -> Session. Creation
// is serialized per conversation_id via a per-key lock so racing signaling
// requests cannot spawn parallel sessions for the same conversation: at most
// one Upstream Session exists for a conversation at any moment.
type Manager struct {
	credentials *CredentialClient
	iceServers  []string

	dcTimeout        time.Duration
	iceGatherTimeout time.Duration
	model            string

	mu       sync.Mutex
	sessions map[string]*Session
	locks    map[string]*sync.Mutex
}

// NewManager creates a Manager that mints credentials from credentials and
// dials peer connections using iceServers.
func NewManager(credentials *CredentialClient, iceServers []string, model string, dcTimeout, iceGatherTimeout time.Duration) *Manager {
	return &Manager{
		credentials:      credentials,
		iceServers:       iceServers,
		model:            model,
		dcTimeout:        dcTimeout,
		iceGatherTimeout: iceGatherTimeout,
		sessions:         make(map[string]*Session),
		locks:            make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// Get returns the existing session for a conversation, or nil.
func (m *Manager) Get(conversationID string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[conversationID]
}

// GetOrCreate returns the existing open session for conversationID, or
// connects a new one using config. wasCreated reports whether a new session
// was established (the first for this conversation, or a replacement for a
// closed one).
func (m *Manager) GetOrCreate(ctx context.Context, conversationID string, config SessionConfig) (session *Session, wasCreated bool, err error) {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	if existing := m.Get(conversationID); existing != nil && existing.State() != StateClosed {
		return existing, false, nil
	}

	if config.Model == "" {
		config.Model = m.model
	}
	session = NewSession(conversationID, config, m.credentials, m.iceServers, m.dcTimeout, m.iceGatherTimeout)
	if err := session.Connect(ctx); err != nil {
		return nil, false, fmt.Errorf("connect upstream session for %s: %w", conversationID, err)
	}

	m.mu.Lock()
	m.sessions[conversationID] = session
	m.mu.Unlock()

	return session, true, nil
}

// Close detaches and closes the conversation's session, if any. Idempotent:
// closing an unknown conversation_id is a no-op.
func (m *Manager) Close(conversationID string) error {
	lock := m.lockFor(conversationID)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	session, ok := m.sessions[conversationID]
	if ok {
		delete(m.sessions, conversationID)
	}
	m.mu.Unlock()

	if !ok || session == nil {
		return nil
	}
	return session.Close()
}
