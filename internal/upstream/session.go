// Package upstream owns the single long-lived peer connection per
// conversation to the speech service: audio tracks, the control data
// channel, tool-call dispatch, and session configuration.
package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/voicebridge/bridge/internal/audio"
)

// State reports a Session's lifecycle stage, surfaced verbatim by the
// conversation status endpoint.
type State string

const (
	StateConnecting State = "connecting"
	StateOpen       State = "open"
	StateClosed     State = "closed"
)

const (
	outboundSampleRate = 48000
	outboundFrameSize  = 960 // 20ms at 48kHz
)

// EventCallback receives every data-channel message, forwarded verbatim to the
// bridge's event plumbing, function-call argument deltas/completions included.
type EventCallback func(eventType string, payload json.RawMessage)

// ToolCallCallback receives a completed tool invocation once its argument
// accumulator closes out, at the `response.function_call_arguments.done` event.
type ToolCallCallback func(callID, toolName string, arguments json.RawMessage)

// AudioCallback receives each normalized mono PCM16 frame decoded from the
// upstream's inbound track, for broadcast to browsers.
type AudioCallback func(audio.Frame)

// Session is one peer connection to the speech service for one conversation.
// On fatal failure (data channel closed, ICE failed) its state becomes
// StateClosed; it stays in the Manager's map until the next signaling
// request's GetOrCreate replaces it with a new Session.
type Session struct {
	conversationID string
	config         SessionConfig

	credentials *CredentialClient
	iceServers  []string

	dcTimeout       time.Duration
	iceGatherTimeout time.Duration

	mu             sync.Mutex
	state          State
	pc             *webrtc.PeerConnection
	dataChannel    *webrtc.DataChannel
	outboundTrack  *audio.SynthTrack
	inboundPipeline *audio.Pipeline
	decoder        *audio.Decoder

	// accumulator holds in-flight function-call argument deltas keyed by
	// call_id, deleted exactly once, at the `done` event. Accessed only
	// from the data channel's single message-handling goroutine, so no
	// lock is required.
	accumulator map[string]*callAccumulator

	onEvent    EventCallback
	onToolCall ToolCallCallback
	onAudio    AudioCallback

	dcOpened chan struct{}
	closeOnce sync.Once
}

type callAccumulator struct {
	name string
	args strings.Builder
}

// NewSession constructs a Session for conversationID. Connect must be called
// before any audio or events flow.
func NewSession(conversationID string, config SessionConfig, credentials *CredentialClient, iceServers []string, dcTimeout, iceGatherTimeout time.Duration) *Session {
	return &Session{
		conversationID:   conversationID,
		config:           config,
		credentials:      credentials,
		iceServers:       iceServers,
		dcTimeout:        dcTimeout,
		iceGatherTimeout: iceGatherTimeout,
		state:            StateConnecting,
		accumulator:      make(map[string]*callAccumulator),
		dcOpened:         make(chan struct{}),
	}
}

// OnEvent registers the callback for all forwarded data-channel events.
func (s *Session) OnEvent(cb EventCallback) { s.onEvent = cb }

// OnToolCall registers the callback for completed tool invocations.
func (s *Session) OnToolCall(cb ToolCallCallback) { s.onToolCall = cb }

// OnAudio registers the callback for decoded inbound audio frames.
func (s *Session) OnAudio(cb AudioCallback) { s.onAudio = cb }

// Connect performs the full establishment sequence: acquire an ephemeral
// credential, create the peer connection and data channel, exchange SDP with
// the signaling URL, and wait for the data channel to open.
func (s *Session) Connect(ctx context.Context) error {
	cred, err := s.credentials.Create(ctx, s.config.Model, s.config.Voice)
	if err != nil {
		return fmt.Errorf("acquire upstream credential: %w", err)
	}

	pc, err := newPeerConnection(s.iceServers)
	if err != nil {
		return fmt.Errorf("create upstream peer connection: %w", err)
	}

	outboundTrack, err := audio.NewSynthTrack("upstream-out", "upstream-out-stream", outboundSampleRate, outboundFrameSize)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create upstream outbound track: %w", err)
	}

	if _, err := pc.AddTransceiverFromTrack(outboundTrack.Local(), webrtc.RTPTransceiverInit{
		Direction: webrtc.RTPTransceiverDirectionSendrecv,
	}); err != nil {
		pc.Close()
		return fmt.Errorf("add upstream audio transceiver: %w", err)
	}

	dc, err := pc.CreateDataChannel("oai-events", nil)
	if err != nil {
		pc.Close()
		return fmt.Errorf("create upstream data channel: %w", err)
	}

	s.mu.Lock()
	s.pc = pc
	s.dataChannel = dc
	s.outboundTrack = outboundTrack
	s.mu.Unlock()

	dc.OnOpen(func() {
		close(s.dcOpened)
		if err := s.sendSessionConfig(); err != nil {
			log.Printf("upstream[%s]: failed to send session config: %v", s.conversationID, err)
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		s.handleDataChannelMessage(msg.Data)
	})
	dc.OnClose(func() {
		log.Printf("upstream[%s]: data channel closed", s.conversationID)
		s.transitionClosed()
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		s.handleRemoteTrack(remote)
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		if state == webrtc.PeerConnectionStateFailed {
			log.Printf("upstream[%s]: ICE failed", s.conversationID)
			s.transitionClosed()
		}
	})

	offer, err := pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create upstream offer: %w", err)
	}
	if err := pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set upstream local description: %w", err)
	}
	if err := waitICEGatherComplete(pc, s.iceGatherTimeout); err != nil {
		log.Printf("upstream[%s]: proceeding with partial ICE candidates: %v", s.conversationID, err)
	}

	answerSDP, err := exchangeSDP(ctx, cred, pc.LocalDescription().SDP)
	if err != nil {
		return fmt.Errorf("exchange SDP with upstream: %w", err)
	}
	if err := pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  answerSDP,
	}); err != nil {
		return fmt.Errorf("set upstream remote description: %w", err)
	}

	select {
	case <-s.dcOpened:
		s.mu.Lock()
		s.state = StateOpen
		s.mu.Unlock()
		return nil
	case <-time.After(s.dcTimeout):
		return fmt.Errorf("timed out waiting for upstream data channel to open")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) sendSessionConfig() error {
	return s.sendJSON(buildSessionUpdateMessage(s.config))
}

// SendAudioFrame forwards one normalized mono PCM16 frame upstream. Frames are
// refused until the session reaches StateOpen, which happens when the data
// channel opens; the session does not wait for session.updated before
// accepting frames.
func (s *Session) SendAudioFrame(frame audio.Frame) error {
	s.mu.Lock()
	track := s.outboundTrack
	state := s.state
	s.mu.Unlock()

	if state != StateOpen || track == nil {
		return fmt.Errorf("upstream session not open")
	}
	return track.WriteFrame(frame)
}

// SendText injects a user-role text turn and asks the model to respond.
func (s *Session) SendText(text string) error {
	if err := s.sendJSON(userTextMessage(text)); err != nil {
		return err
	}
	return s.sendJSON(responseCreateMessage{Type: "response.create"})
}

// SendFunctionCallResult completes a tool call by emitting its output and
// asking the model to continue.
func (s *Session) SendFunctionCallResult(callID string, result json.RawMessage) error {
	if err := s.sendJSON(functionCallOutputMessage(callID, string(result))); err != nil {
		return err
	}
	return s.sendJSON(responseCreateMessage{Type: "response.create"})
}

// CommitAudioBuffer manually commits the input audio buffer. It is a no-op
// when server VAD is enabled.
func (s *Session) CommitAudioBuffer() error {
	if !s.config.DisableVAD {
		return nil
	}
	if err := s.sendJSON(inputAudioBufferCommitMessage{Type: "input_audio_buffer.commit"}); err != nil {
		return err
	}
	return s.sendJSON(responseCreateMessage{Type: "response.create"})
}

// State reports the session's current lifecycle stage.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Close tears down the upstream peer connection. Safe to call more than once.
func (s *Session) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		pc := s.pc
		s.state = StateClosed
		s.mu.Unlock()
		if pc != nil {
			err = pc.Close()
		}
	})
	return err
}

func (s *Session) transitionClosed() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
}

func (s *Session) sendJSON(v any) error {
	s.mu.Lock()
	dc := s.dataChannel
	s.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("upstream data channel not established")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal upstream message: %w", err)
	}
	return dc.SendText(string(b))
}

// handleDataChannelMessage classifies every inbound message, feeds the
// function-call accumulator for argument deltas/completions, and forwards
// every message verbatim to the event callback.
func (s *Session) handleDataChannelMessage(raw []byte) {
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Printf("upstream[%s]: malformed event: %v", s.conversationID, err)
		return
	}

	switch env.Type {
	case "response.function_call_arguments.delta":
		var delta functionCallArgumentsDelta
		if err := json.Unmarshal(raw, &delta); err != nil {
			return
		}
		acc, ok := s.accumulator[delta.CallID]
		if !ok {
			acc = &callAccumulator{}
			s.accumulator[delta.CallID] = acc
		}
		acc.args.WriteString(delta.Delta)

	case "response.function_call_arguments.done":
		var done functionCallArgumentsDone
		if err := json.Unmarshal(raw, &done); err != nil {
			return
		}
		acc, ok := s.accumulator[done.CallID]
		args := done.Arguments
		if ok {
			if args == "" {
				args = acc.args.String()
			}
			delete(s.accumulator, done.CallID)
		}
		if s.onToolCall != nil {
			s.onToolCall(done.CallID, done.Name, json.RawMessage(args))
		}

	default:
		// everything else is forwarded verbatim: session lifecycle, VAD
		// markers, transcript deltas/completions, response lifecycle.
	}

	if s.onEvent != nil {
		s.onEvent(env.Type, json.RawMessage(raw))
	}
}

func (s *Session) handleRemoteTrack(remote *webrtc.TrackRemote) {
	codec := remote.Codec()
	channels := int(codec.Channels)
	if channels == 0 {
		channels = 2 // observed default for the speech service
	}
	rate := int(codec.ClockRate)
	if rate == 0 {
		rate = 48000
	}

	decoder, err := audio.NewDecoder(rate, channels)
	if err != nil {
		log.Printf("upstream[%s]: failed to create inbound decoder: %v", s.conversationID, err)
		return
	}
	pipeline := audio.NewPipeline(rate, func(declared, observed int) {
		if s.onEvent != nil {
			payload, _ := json.Marshal(map[string]any{"declared_rate": declared, "observed_rate": observed})
			s.onEvent("bridge.sample_rate_mismatch", payload)
		}
	}, func(count int) {
		if s.onEvent != nil {
			payload, _ := json.Marshal(map[string]any{"consecutive_errors": count})
			s.onEvent("bridge.decode_errors", payload)
		}
	})

	s.mu.Lock()
	s.decoder = decoder
	s.inboundPipeline = pipeline
	s.mu.Unlock()

	var loss audio.LossTracker
	for {
		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if gap := loss.Observe(pkt); gap > 0 && s.onEvent != nil {
			payload, _ := json.Marshal(map[string]any{"lost_packets": gap})
			s.onEvent("bridge.packet_loss", payload)
		}

		pcm, err := decoder.Decode(pkt.Payload)
		if err != nil {
			pipeline.RecordDecodeError()
			continue
		}
		pipeline.RecordDecodeSuccess()

		// opus.v2 always decodes to the rate the Decoder was constructed
		// with (libopus resamples internally for any source bandwidth), so
		// the decoded PCM's real rate is decoder.SampleRate() itself, not
		// something to reconstruct from this packet's sample count: Opus
		// packets legitimately vary in duration (10/20/40/60ms, DTX/comfort
		// noise frames), and backing a "rate" out of samplesPerChannel
		// under a fixed-20ms assumption misreads that variance as a
		// mid-session codec renegotiation.
		frame, err := pipeline.IngestDecoded(pcm, channels, decoder.SampleRate())
		if err != nil {
			log.Printf("upstream[%s]: %v", s.conversationID, err)
			return
		}
		if s.onAudio != nil {
			s.onAudio(frame)
		}
	}
}

func waitICEGatherComplete(pc *webrtc.PeerConnection, timeout time.Duration) error {
	if pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return nil
	}
	done := make(chan struct{})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if state == webrtc.ICEGatheringStateComplete {
			close(done)
		}
	})
	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("ICE gathering timed out, proceeding with gathered candidates")
	}
}
