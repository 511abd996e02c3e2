package bridge

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/voicebridge/bridge/internal/config"
	"github.com/voicebridge/bridge/internal/events"
	"github.com/voicebridge/bridge/internal/upstream"
)

func newTestController(t *testing.T) *Controller {
	t.Helper()
	store, err := events.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	credentials := upstream.NewCredentialClient("http://upstream.invalid", "test-key")
	upstreamMgr := upstream.NewManager(credentials, nil, "test-model", 0, 0)

	return NewController(config.Config{UpstreamVoice: "verse"}, upstreamMgr, store)
}

func TestManifestToToolDescriptorsPreservesAllFiveTools(t *testing.T) {
	descriptors := manifestToToolDescriptors()
	require.Len(t, descriptors, 5)

	names := make(map[string]bool)
	for _, d := range descriptors {
		names[d.Name] = true
		require.Equal(t, "function", d.Type)
		require.NotEmpty(t, d.Parameters)
	}
	require.True(t, names["send_to_nested"])
	require.True(t, names["send_to_code_modifier"])
	require.True(t, names["pause"])
	require.True(t, names["reset"])
	require.True(t, names["pause_code_modifier"])
}

func TestDisconnectUnknownConversationIsNoOp(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Disconnect("never-signaled", "some-connection"))
}

func TestStopUnknownConversationIsNoOp(t *testing.T) {
	c := newTestController(t)
	require.NoError(t, c.Stop("never-signaled"))
}

func TestStatusUnknownConversationReturnsNotActive(t *testing.T) {
	c := newTestController(t)
	_, _, err := c.Status("never-signaled")
	require.ErrorIs(t, err, ErrConversationNotActive)
}

func TestSendTextUnknownConversationReturnsNotActive(t *testing.T) {
	c := newTestController(t)
	err := c.SendText("never-signaled", "hello")
	require.ErrorIs(t, err, ErrConversationNotActive)
}

func TestCommitAudioBufferUnknownConversationReturnsNotActive(t *testing.T) {
	c := newTestController(t)
	err := c.CommitAudioBuffer("never-signaled")
	require.ErrorIs(t, err, ErrConversationNotActive)
}
