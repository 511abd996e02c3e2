package audio

import (
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"
)

// SynthTrack is a locally-synthesized outbound audio track: 20ms mono PCM16
// frames in, Opus-over-RTP out, with the RTP timestamp advancing by exactly
// each frame's sample count. It wraps pion's
// TrackLocalStaticSample, which derives the RTP timestamp delta from the
// Sample's Duration field, so WriteFrame sets Duration from the frame's
// sample count at the track's clock rate (20ms for a full 960-sample frame).
type SynthTrack struct {
	local   *webrtc.TrackLocalStaticSample
	encoder *Encoder
	frameSize int // samples per channel per frame
}

// NewSynthTrack creates a mono 48kHz Opus track named id/streamID. frameSize
// records the nominal samples per 20ms frame (960 at 48kHz); WriteFrame
// encodes whatever number of samples each frame carries.
func NewSynthTrack(id, streamID string, sampleRate, frameSize int) (*SynthTrack, error) {
	local, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: uint32(sampleRate),
			Channels:  1,
		},
		id, streamID,
	)
	if err != nil {
		return nil, fmt.Errorf("create synthesized track: %w", err)
	}
	enc, err := NewEncoder(sampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("create synthesized track encoder: %w", err)
	}
	return &SynthTrack{local: local, encoder: enc, frameSize: frameSize}, nil
}

// Local returns the underlying pion track to attach to a peer connection.
func (t *SynthTrack) Local() *webrtc.TrackLocalStaticSample { return t.local }

// WriteFrame encodes and emits one mono PCM16 frame. A zero-length frame is
// dropped without writing a sample and without advancing the timestamp.
func (t *SynthTrack) WriteFrame(frame Frame) error {
	if len(frame.PCM16) == 0 {
		return nil
	}
	opusData, err := t.encoder.Encode(frame.PCM16)
	if err != nil {
		return fmt.Errorf("encode synthesized frame: %w", err)
	}
	return t.local.WriteSample(media.Sample{
		Data:     opusData,
		Duration: time.Duration(len(frame.PCM16)) * time.Second / time.Duration(t.encoder.sampleRate),
	})
}
