package audio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStereoToMonoPreservesSampleCount(t *testing.T) {
	stereo := make([]int16, 960*2)
	for i := range stereo {
		stereo[i] = int16(i % 100)
	}

	mono := StereoToMono(stereo)

	require.Len(t, mono, 960, "stereo->mono must preserve samples-per-channel, not concatenate channels")
}

func TestStereoToMonoAverages(t *testing.T) {
	stereo := []int16{100, 200, -50, 50}
	mono := StereoToMono(stereo)
	require.Equal(t, []int16{150, 0}, mono)
}

func TestIngestDecodedAdoptsFirstObservedRate(t *testing.T) {
	var mismatches int
	p := NewPipeline(24000, func(declared, observed int) { mismatches++ }, nil)

	frame, err := p.IngestDecoded(make([]int16, 960), 1, 48000)
	require.NoError(t, err)
	require.Equal(t, 48000, frame.SampleRate)
	require.Equal(t, 1, mismatches)
	require.Equal(t, 48000, p.ObservedRate())
}

func TestIngestDecodedNoMismatchWhenRateMatchesDeclared(t *testing.T) {
	var mismatches int
	p := NewPipeline(48000, func(declared, observed int) { mismatches++ }, nil)

	_, err := p.IngestDecoded(make([]int16, 960), 1, 48000)
	require.NoError(t, err)
	require.Equal(t, 0, mismatches)
}

func TestIngestDecodedRejectsMidSessionRateChange(t *testing.T) {
	p := NewPipeline(48000, nil, nil)

	_, err := p.IngestDecoded(make([]int16, 960), 1, 48000)
	require.NoError(t, err)

	_, err = p.IngestDecoded(make([]int16, 960), 1, 24000)
	require.ErrorIs(t, err, ErrRateMismatch)
}

func TestRecordDecodeErrorFiresOnceAtThreshold(t *testing.T) {
	var fired int
	p := NewPipeline(48000, nil, func(count int) { fired++ })

	for i := 0; i < maxConsecutiveDecodeErrors; i++ {
		p.RecordDecodeError()
	}
	require.Equal(t, 1, fired)

	p.RecordDecodeError()
	require.Equal(t, 1, fired, "must not keep firing every subsequent error past threshold")

	p.RecordDecodeSuccess()
	for i := 0; i < maxConsecutiveDecodeErrors; i++ {
		p.RecordDecodeError()
	}
	require.Equal(t, 2, fired, "counter reset must allow the threshold to fire again")
}

func TestResampleMonoIsIdentityWhenRatesMatch(t *testing.T) {
	input := []int16{1, 2, 3, 4}
	out := ResampleMono(input, 48000, 48000)
	require.Equal(t, input, out)
}

func TestResampleMonoScalesLength(t *testing.T) {
	input := make([]int16, 220) // 10ms at 22050Hz, roughly
	out := ResampleMono(input, 22050, 48000)
	require.InDelta(t, len(input)*48000/22050, len(out), 2)
}
