package browser

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/voicebridge/bridge/internal/audio"
)

const (
	outboundSampleRate = 48000
	outboundFrameSize  = 960 // 20ms at 48kHz

	// broadcastQueueSize bounds the per-browser outbound frame queue.
	// Overflow drops the oldest frame, favoring freshness over completeness
	// for realtime audio.
	broadcastQueueSize = 25
)

// AudioCallback receives a normalized mono PCM16 frame decoded from one
// browser's inbound microphone track.
type AudioCallback func(frame audio.Frame)

// Connection is one browser peer: a locally generated connection_id, the
// peer-connection handle, this browser's outbound synthesized track (the
// broadcast target), and the pump task draining its inbound audio into the
// conversation's Upstream Session.
type Connection struct {
	ID string

	pc            *webrtc.PeerConnection
	outboundTrack *audio.SynthTrack

	broadcastQueue chan audio.Frame
	done           chan struct{}

	onBrowserAudio AudioCallback

	// pumpOnce guards against starting the inbound pump twice for the same
	// track: the OnTrack callback and the post-SetRemoteDescription
	// transceiver scan can both observe the same inbound track, and
	// reading RTP from two goroutines would split the packet stream
	// between two decoders.
	pumpOnce sync.Once
}

func newConnection(id string, pc *webrtc.PeerConnection, onBrowserAudio AudioCallback) (*Connection, error) {
	track, err := audio.NewSynthTrack(fmt.Sprintf("broadcast-%s", id), fmt.Sprintf("broadcast-stream-%s", id), outboundSampleRate, outboundFrameSize)
	if err != nil {
		return nil, fmt.Errorf("create browser broadcast track: %w", err)
	}

	c := &Connection{
		ID:             id,
		pc:             pc,
		outboundTrack:  track,
		broadcastQueue: make(chan audio.Frame, broadcastQueueSize),
		done:           make(chan struct{}),
		onBrowserAudio: onBrowserAudio,
	}
	go c.runBroadcastWriter()
	return c, nil
}

// enqueueBroadcastFrame pushes a frame for delivery to this browser,
// non-blocking: if the queue is full the oldest queued frame is dropped to
// make room.
func (c *Connection) enqueueBroadcastFrame(frame audio.Frame) {
	select {
	case c.broadcastQueue <- frame:
		return
	default:
	}
	select {
	case <-c.broadcastQueue:
	default:
	}
	select {
	case c.broadcastQueue <- frame:
	default:
	}
}

func (c *Connection) runBroadcastWriter() {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.broadcastQueue:
			if err := c.outboundTrack.WriteFrame(frame); err != nil {
				return
			}
		}
	}
}

// pumpInboundTrack decodes RTP from the browser's microphone track and
// invokes onBrowserAudio for each normalized frame. Safe to call more than
// once for the same connection (OnTrack and the passive transceiver scan can
// both observe the same track); only the first call actually pumps.
func (c *Connection) pumpInboundTrack(remote *webrtc.TrackRemote) {
	started := false
	c.pumpOnce.Do(func() { started = true })
	if !started {
		return
	}
	codec := remote.Codec()
	channels := int(codec.Channels)
	if channels == 0 {
		channels = 1
	}
	rate := int(codec.ClockRate)
	if rate == 0 {
		rate = 48000
	}

	decoder, err := audio.NewDecoder(rate, channels)
	if err != nil {
		log.Printf("browser[%s]: failed to create inbound decoder: %v", c.ID, err)
		return
	}
	pipeline := audio.NewPipeline(rate, nil, nil)

	var loss audio.LossTracker
	for {
		select {
		case <-c.done:
			return
		default:
		}

		pkt, _, err := remote.ReadRTP()
		if err != nil {
			return
		}
		if gap := loss.Observe(pkt); gap > 0 {
			log.Printf("browser[%s]: %d RTP packets lost", c.ID, gap)
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
			log.Printf("browser[%s]: %v", c.ID, err)
			return
		}
		if c.onBrowserAudio != nil {
			c.onBrowserAudio(frame)
		}
	}
}

func (c *Connection) close() error {
	close(c.done)
	return c.pc.Close()
}

// waitICEGatherComplete blocks until ICE gathering finishes or timeout
// elapses, proceeding with whatever candidates were gathered; trickle ICE is
// not required.
func waitICEGatherComplete(pc *webrtc.PeerConnection, timeout time.Duration) {
	if pc.ICEGatheringState() == webrtc.ICEGatheringStateComplete {
		return
	}
	done := make(chan struct{})
	pc.OnICEGatheringStateChange(func(state webrtc.ICEGatheringState) {
		if state == webrtc.ICEGatheringStateComplete {
			close(done)
		}
	})
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
