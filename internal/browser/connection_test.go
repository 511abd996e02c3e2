package browser

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voicebridge/bridge/internal/audio"
)

// newTestConnection builds a Connection without starting the broadcast writer
// goroutine, so enqueued frames stay in the channel for inspection instead of
// being drained and encoded.
func newTestConnection(t *testing.T) *Connection {
	t.Helper()
	c := &Connection{
		ID:             "test-conn",
		broadcastQueue: make(chan audio.Frame, broadcastQueueSize),
		done:           make(chan struct{}),
	}
	close(c.done)
	return c
}

func TestEnqueueBroadcastFrameDropsOldestOnOverflow(t *testing.T) {
	c := newTestConnection(t)

	for i := 0; i < broadcastQueueSize; i++ {
		c.enqueueBroadcastFrame(audio.Frame{PCM16: []int16{int16(i)}})
	}
	require.Len(t, c.broadcastQueue, broadcastQueueSize)

	// One more frame than capacity: the oldest (first) must be evicted so
	// the newest frame is always admitted.
	c.enqueueBroadcastFrame(audio.Frame{PCM16: []int16{999}})
	require.Len(t, c.broadcastQueue, broadcastQueueSize)

	var last audio.Frame
	for i := 0; i < broadcastQueueSize; i++ {
		last = <-c.broadcastQueue
	}
	require.Equal(t, int16(999), last.PCM16[0], "newest frame must survive eviction")
}

func TestPumpInboundTrackOnceGuardsAgainstDoublePump(t *testing.T) {
	c := &Connection{ID: "test-conn", done: make(chan struct{})}

	var first, second bool
	c.pumpOnce.Do(func() { first = true })
	c.pumpOnce.Do(func() { second = true })

	require.True(t, first, "first Do call must run")
	require.False(t, second, "second Do call must be suppressed by the same guard pumpInboundTrack uses")

	// With the guard already consumed, pumpInboundTrack must return before
	// touching the track at all.
	require.NotPanics(t, func() { c.pumpInboundTrack(nil) })
}
