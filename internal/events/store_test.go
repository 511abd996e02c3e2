package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAppendIsOrderedPerConversation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	_, err := s.EnsureConversation(ctx, "c1", "", "verse")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Append(ctx, "c1", SourceVoice, "response.audio.delta", json.RawMessage(`{}`))
		require.NoError(t, err)
	}

	got, err := s.List(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, got, 5)
	for i := 1; i < len(got); i++ {
		require.Greater(t, got[i].ID, got[i-1].ID)
	}
}

func TestEnsureConversationIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	first, err := s.EnsureConversation(ctx, "c1", "demo", "verse")
	require.NoError(t, err)
	second, err := s.EnsureConversation(ctx, "c1", "different-name", "alloy")
	require.NoError(t, err)

	require.Equal(t, first.CreatedAt.Unix(), second.CreatedAt.Unix())
	require.Equal(t, "demo", second.Name)
}

func TestSubscribeReceivesBroadcastEvents(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureConversation(ctx, "c1", "", "verse")
	require.NoError(t, err)

	ch := make(Subscriber, 4)
	unsubscribe := s.Subscribe("c1", ch)
	defer unsubscribe()

	_, err = s.Append(ctx, "c1", SourceController, "session.created", nil)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		require.Equal(t, "session.created", ev.Type)
		require.Equal(t, SourceController, ev.Source)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for broadcast event")
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	_, err := s.EnsureConversation(ctx, "c1", "", "verse")
	require.NoError(t, err)

	ch := make(Subscriber, 4)
	unsubscribe := s.Subscribe("c1", ch)
	unsubscribe()

	_, err = s.Append(ctx, "c1", SourceController, "session.created", nil)
	require.NoError(t, err)

	select {
	case ev := <-ch:
		t.Fatalf("unexpected event after unsubscribe: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestGetConversationReturnsNilWhenMissing(t *testing.T) {
	s := newTestStore(t)
	got, err := s.GetConversation(context.Background(), "does-not-exist")
	require.NoError(t, err)
	require.Nil(t, got)
}
