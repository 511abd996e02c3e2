// Package audio implements codec adaptation, resampling, stereo->mono, and
// PCM16 round-trip between browser WebRTC (48kHz Opus, 1 or 2 channels) and
// the upstream PCM expectations, preserving timing.
package audio

import (
	"encoding/binary"

	"gopkg.in/hraban/opus.v2"
)

// FrameDurationMS is the fixed frame duration this pipeline emits at: 20ms
// frames, 960 samples per channel at 48kHz.
const FrameDurationMS = 20

// maxFrameSamplesPerChannel covers the largest Opus frame (60ms at 48kHz).
const maxFrameSamplesPerChannel = 2880

// Decoder decodes Opus packets to PCM16 samples at a fixed sample rate and
// channel count.
type Decoder struct {
	dec        *opus.Decoder
	sampleRate int
	channels   int
}

// NewDecoder creates an Opus decoder for the given rate/channel layout.
func NewDecoder(sampleRate, channels int) (*Decoder, error) {
	dec, err := opus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, err
	}
	return &Decoder{dec: dec, sampleRate: sampleRate, channels: channels}, nil
}

// Decode decodes one Opus packet into interleaved PCM16 samples.
func (d *Decoder) Decode(opusData []byte) ([]int16, error) {
	pcm := make([]int16, maxFrameSamplesPerChannel*d.channels)
	n, err := d.dec.Decode(opusData, pcm)
	if err != nil {
		return nil, err
	}
	return pcm[:n*d.channels], nil
}

// Channels reports the layout this decoder was constructed with.
func (d *Decoder) Channels() int { return d.channels }

// SampleRate reports the rate this decoder was constructed with.
func (d *Decoder) SampleRate() int { return d.sampleRate }

// Encoder encodes PCM16 samples to Opus at a fixed rate/channel layout.
type Encoder struct {
	enc        *opus.Encoder
	sampleRate int
	channels   int
}

// NewEncoder creates an Opus encoder tuned for voice (VoIP application, 64kbps).
func NewEncoder(sampleRate, channels int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, channels, opus.AppVoIP)
	if err != nil {
		return nil, err
	}
	if err := enc.SetBitrate(64000); err != nil {
		return nil, err
	}
	return &Encoder{enc: enc, sampleRate: sampleRate, channels: channels}, nil
}

// Encode encodes one frame of interleaved PCM16 samples to an Opus packet.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	data := make([]byte, 4000)
	n, err := e.enc.Encode(pcm, data)
	if err != nil {
		return nil, err
	}
	return data[:n], nil
}

// pcmBytesToInt16 reinterprets little-endian PCM16 bytes as samples.
func pcmBytesToInt16(b []byte) []int16 {
	out := make([]int16, len(b)/2)
	for i := range out {
		out[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return out
}

// int16ToPCMBytes serializes samples as little-endian PCM16 bytes. Output is
// always signed 16-bit little-endian interleaved.
func int16ToPCMBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// StereoToMono averages left/right channels of an interleaved stereo frame into
// mono. The sample count per channel is preserved: a 960-sample-per-channel
// stereo frame in yields 960 mono samples out, never 1920. Concatenating
// channels instead of averaging them doubles the sample count and plays back
// at half speed.
func StereoToMono(stereo []int16) []int16 {
	mono := make([]int16, len(stereo)/2)
	for i := range mono {
		l := int32(stereo[i*2])
		r := int32(stereo[i*2+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}

// ResampleMono resamples mono PCM16 samples from one rate to another using
// linear interpolation. Returns the input unchanged when rates already match.
func ResampleMono(input []int16, inputRate, outputRate int) []int16 {
	if inputRate == outputRate || len(input) == 0 {
		return input
	}

	ratio := float64(outputRate) / float64(inputRate)
	outputSamples := int(float64(len(input)) * ratio)
	output := make([]int16, outputSamples)

	for i := range output {
		srcPos := float64(i) / ratio
		idx1 := int(srcPos)
		frac := srcPos - float64(idx1)
		idx2 := idx1 + 1
		if idx1 >= len(input) {
			idx1 = len(input) - 1
		}
		if idx2 >= len(input) {
			idx2 = len(input) - 1
		}
		output[i] = int16(float64(input[idx1])*(1-frac) + float64(input[idx2])*frac)
	}
	return output
}
