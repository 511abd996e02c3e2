package browser

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"

	"github.com/voicebridge/bridge/internal/audio"
)

// ErrInvalidOffer wraps any SDP negotiation failure caused by the offer
// itself being malformed or unacceptable, as opposed to a local/transport
// failure. Callers use errors.Is to map it to a 400 rather than a 500.
var ErrInvalidOffer = errors.New("browser: invalid SDP offer")

// Manager is the per-conversation registry of browser peers. All registered
// connections for a conversation share the same Upstream Session; the
// wiring callbacks below hold no ownership of either side, only references
// released at close.
type Manager struct {
	conversationID string
	iceServers     []string
	iceGatherTimeout time.Duration

	onBrowserAudio AudioCallback // -> upstream send

	mu          sync.RWMutex
	connections map[string]*Connection
}

// NewManager creates a Browser Manager for one conversation. onBrowserAudio is
// invoked with every normalized frame decoded from any registered browser's
// microphone, wired to the conversation's Upstream Session.
func NewManager(conversationID string, iceServers []string, iceGatherTimeout time.Duration, onBrowserAudio AudioCallback) *Manager {
	return &Manager{
		conversationID:   conversationID,
		iceServers:       iceServers,
		iceGatherTimeout: iceGatherTimeout,
		onBrowserAudio:   onBrowserAudio,
		connections:      make(map[string]*Connection),
	}
}

// AddConnection negotiates a new browser peer from an SDP offer and
// registers it.
func (m *Manager) AddConnection(offerSDP string) (connectionID string, answerSDP string, err error) {
	pc, err := newPeerConnection(m.iceServers)
	if err != nil {
		return "", "", fmt.Errorf("create browser peer connection: %w", err)
	}

	id := uuid.NewString()
	conn, err := newConnection(id, pc, m.onBrowserAudio)
	if err != nil {
		pc.Close()
		return "", "", fmt.Errorf("create browser connection: %w", err)
	}

	if _, err := pc.AddTrack(conn.outboundTrack.Local()); err != nil {
		pc.Close()
		return "", "", fmt.Errorf("attach broadcast track: %w", err)
	}

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		go conn.pumpInboundTrack(remote)
	})

	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  offerSDP,
	}); err != nil {
		pc.Close()
		return "", "", fmt.Errorf("set browser remote description: %w: %w", ErrInvalidOffer, err)
	}

	// Critical ordering: some browsers do not fire OnTrack until after
	// SetRemoteDescription. Inspect the transceiver list now to catch any
	// inbound track that was established passively; otherwise browser
	// audio silently never reaches upstream.
	for _, transceiver := range pc.GetTransceivers() {
		if receiver := transceiver.Receiver(); receiver != nil {
			if track := receiver.Track(); track != nil {
				go conn.pumpInboundTrack(track)
			}
		}
	}

	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		pc.Close()
		return "", "", fmt.Errorf("create browser answer: %w: %w", ErrInvalidOffer, err)
	}
	if err := pc.SetLocalDescription(answer); err != nil {
		pc.Close()
		return "", "", fmt.Errorf("set browser local description: %w", err)
	}
	waitICEGatherComplete(pc, m.iceGatherTimeout)

	m.mu.Lock()
	m.connections[id] = conn
	m.mu.Unlock()

	return id, pc.LocalDescription().SDP, nil
}

// BroadcastAudio pushes a frame onto every registered browser's outbound
// track.
func (m *Manager) BroadcastAudio(frame audio.Frame) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, conn := range m.connections {
		conn.enqueueBroadcastFrame(frame)
	}
}

// RemoveConnection cancels the pump task, closes the peer connection, and
// drops the map entry. The conversation's Upstream Session is unaffected even
// if this was the last browser. Removing an unknown connection_id is a
// no-op.
func (m *Manager) RemoveConnection(connectionID string) error {
	m.mu.Lock()
	conn, ok := m.connections[connectionID]
	if ok {
		delete(m.connections, connectionID)
	}
	m.mu.Unlock()

	if !ok {
		return nil
	}
	return conn.close()
}

// CloseAll removes every connection for the conversation. Used only by the
// Bridge Controller's explicit stop endpoint.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := m.connections
	m.connections = make(map[string]*Connection)
	m.mu.Unlock()

	for _, conn := range conns {
		conn.close()
	}
}

// Count returns the number of currently registered browser connections,
// surfaced as the status endpoint's browser_count.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}
