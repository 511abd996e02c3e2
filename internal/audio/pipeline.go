package audio

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// Frame is one 20ms slice of mono PCM16 audio flowing through the bridge. It is
// the unit both the browser and upstream sides exchange once the pipeline has
// normalized codec/rate/layout.
type Frame struct {
	PCM16      []int16 // interleaved mono samples
	SampleRate int
}

// maxConsecutiveDecodeErrors is the length of a run of decode failures at
// which the run is surfaced as a session-level event rather than silently
// dropped. The stream is not torn down: a persistent error run is reported,
// not fatal.
const maxConsecutiveDecodeErrors = 25

// ErrRateMismatch is returned by Pipeline.Ingest once a session has already
// adopted an observed rate and a later frame reports a different one. The
// design adopts the observed rate only on the first frame; a later change
// indicates a codec renegotiation the bridge does not support and is
// treated as fatal for that pipeline.
var ErrRateMismatch = errors.New("audio: inbound sample rate changed mid-session")

// RateMismatchCallback is invoked at most once, on the first frame, when that
// frame's rate differs from the rate the pipeline was constructed to expect. A
// later rate change does not invoke it; IngestDecoded returns ErrRateMismatch.
type RateMismatchCallback func(declaredRate, observedRate int)

// Pipeline adapts one inbound decoded-audio stream into the canonical mono
// PCM16 stream the rest of the bridge operates on.
//
// Its methods lock an internal mutex; each inbound stream (one browser
// track, or the upstream track) owns its own Pipeline.
type Pipeline struct {
	mu sync.Mutex

	declaredRate int
	observed     bool
	observedRate int

	onRateMismatch RateMismatchCallback

	consecutiveErrors int
	onPersistentError func(count int)
}

// NewPipeline creates a pipeline that expects declaredRate until the first
// frame proves otherwise.
func NewPipeline(declaredRate int, onRateMismatch RateMismatchCallback, onPersistentError func(count int)) *Pipeline {
	return &Pipeline{
		declaredRate:      declaredRate,
		onRateMismatch:    onRateMismatch,
		onPersistentError: onPersistentError,
	}
}

// IngestDecoded takes an already-decoded PCM16 frame (mono, or interleaved
// stereo) plus the channel count it was decoded with, and returns the
// normalized mono Frame. A channel count above 2 is rejected with an error.
//
// The first call establishes the pipeline's observed rate from
// observedSampleRate. Every subsequent call must report the same rate;
// otherwise ErrRateMismatch is returned and the pipeline must be discarded:
// a rate change after the first frame is fatal for that pipeline.
func (p *Pipeline) IngestDecoded(pcm []int16, channels int, observedSampleRate int) (Frame, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.observed {
		p.observed = true
		p.observedRate = observedSampleRate
		if observedSampleRate != p.declaredRate {
			log.Printf("audio: inbound sample rate %d differs from declared %d; adopting observed rate", observedSampleRate, p.declaredRate)
			if p.onRateMismatch != nil {
				p.onRateMismatch(p.declaredRate, observedSampleRate)
			}
		}
	} else if observedSampleRate != p.observedRate {
		return Frame{}, fmt.Errorf("%w: adopted %d, now %d", ErrRateMismatch, p.observedRate, observedSampleRate)
	}

	mono := pcm
	if channels == 2 {
		mono = StereoToMono(pcm)
	} else if channels > 2 {
		return Frame{}, fmt.Errorf("audio: unsupported channel count %d", channels)
	}

	return Frame{PCM16: mono, SampleRate: p.observedRate}, nil
}

// RecordDecodeError tracks a single dropped packet (decode failure). The
// pipeline's timestamp counter (owned by the caller's outbound track) is not
// advanced for a dropped packet. When the run of consecutive failures reaches
// maxConsecutiveDecodeErrors, onPersistentError fires once per threshold crossing
// so the caller can surface a session-level event without tearing the session
// down.
func (p *Pipeline) RecordDecodeError() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveErrors++
	if p.consecutiveErrors == maxConsecutiveDecodeErrors && p.onPersistentError != nil {
		p.onPersistentError(p.consecutiveErrors)
	}
}

// RecordDecodeSuccess resets the consecutive-error counter.
func (p *Pipeline) RecordDecodeSuccess() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.consecutiveErrors = 0
}

// ObservedRate returns the rate adopted from the first frame, or 0 if no frame
// has been ingested yet.
func (p *Pipeline) ObservedRate() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observedRate
}
