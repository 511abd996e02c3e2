package tools

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeAdapter struct {
	sentText    string
	sentControl string
	sendErr     error
}

func (f *fakeAdapter) Connect() error { return nil }
func (f *fakeAdapter) Send(text string) error {
	f.sentText = text
	return f.sendErr
}
func (f *fakeAdapter) SendControl(action string) error {
	f.sentControl = action
	return f.sendErr
}
func (f *fakeAdapter) OnEvent(EventCallback)         {}
func (f *fakeAdapter) OnNarration(NarrationCallback) {}
func (f *fakeAdapter) Close() error                  { return nil }
func (f *fakeAdapter) IsConnected() bool             { return true }

func TestDispatchSendToNested(t *testing.T) {
	nested := &fakeAdapter{}
	d := &Dispatcher{Nested: nested}

	result := d.Dispatch(ToolSendToNested, json.RawMessage(`{"text":"create a todo app"}`))

	require.Equal(t, "create a todo app", nested.sentText)
	require.JSONEq(t, `{"ok":true}`, string(result))
}

func TestDispatchUnknownToolReturnsCleanError(t *testing.T) {
	d := &Dispatcher{}
	result := d.Dispatch("not_a_real_tool", json.RawMessage(`{}`))
	require.JSONEq(t, `{"ok":false,"error":"unknown_tool"}`, string(result))
}

func TestDispatchMissingAdapterReturnsError(t *testing.T) {
	d := &Dispatcher{} // no adapters wired
	result := d.Dispatch(ToolSendToCodeModifier, json.RawMessage(`{"text":"refactor this"}`))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(result, &parsed))
	require.Equal(t, false, parsed["ok"])
	require.Equal(t, "code modifier_unavailable", parsed["error"])
}

func TestDispatchControlActions(t *testing.T) {
	nested := &fakeAdapter{}
	codeModifier := &fakeAdapter{}
	d := &Dispatcher{Nested: nested, CodeModifier: codeModifier}

	d.Dispatch(ToolPause, nil)
	require.Equal(t, "pause", nested.sentControl)

	d.Dispatch(ToolReset, nil)
	require.Equal(t, "reset", nested.sentControl)

	d.Dispatch(ToolPauseCodeModifier, nil)
	require.Equal(t, "pause", codeModifier.sentControl)
}

func TestDispatchSendFailurePropagatesReason(t *testing.T) {
	nested := &fakeAdapter{sendErr: errors.New("socket closed")}
	d := &Dispatcher{Nested: nested}

	result := d.Dispatch(ToolSendToNested, json.RawMessage(`{"text":"hi"}`))

	var parsed map[string]any
	require.NoError(t, json.Unmarshal(result, &parsed))
	require.Equal(t, false, parsed["ok"])
	require.Equal(t, "socket closed", parsed["error"])
}
