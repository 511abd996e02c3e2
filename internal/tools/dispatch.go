package tools

import (
	"encoding/json"
	"fmt"
	"log"
)

// Fixed tool manifest names. All five are always advertised to the model;
// the dispatcher returns a clean error if the corresponding adapter is
// absent.
const (
	ToolSendToNested       = "send_to_nested"
	ToolSendToCodeModifier = "send_to_code_modifier"
	ToolPause              = "pause"
	ToolReset              = "reset"
	ToolPauseCodeModifier  = "pause_code_modifier"
)

// Manifest returns the fixed tool descriptors exposed to the speech model.
// The bridge controller converts them to upstream.ToolDescriptor values for
// an upstream.SessionConfig.Tools slice.
func Manifest() []ToolDescriptorJSON {
	textParams := json.RawMessage(`{"type":"object","properties":{"text":{"type":"string"}},"required":["text"]}`)
	noParams := json.RawMessage(`{"type":"object","properties":{}}`)
	return []ToolDescriptorJSON{
		{Type: "function", Name: ToolSendToNested, Description: "Delegate a user request to the nested multi-agent team.", Parameters: textParams},
		{Type: "function", Name: ToolSendToCodeModifier, Description: "Delegate a self-editing instruction to the code-modification process.", Parameters: textParams},
		{Type: "function", Name: ToolPause, Description: "Pause the nested agent team.", Parameters: noParams},
		{Type: "function", Name: ToolReset, Description: "Reset the nested agent team.", Parameters: noParams},
		{Type: "function", Name: ToolPauseCodeModifier, Description: "Pause the code-modification process.", Parameters: noParams},
	}
}

// ToolDescriptorJSON mirrors upstream.ToolDescriptor without importing the
// upstream package, to avoid a dependency cycle (the bridge controller wires
// the two together).
type ToolDescriptorJSON struct {
	Type        string          `json:"type"`
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// Dispatcher maps completed tool calls to the Nested Agents and Code Modifier
// adapters. Either adapter may be nil if that feature was not wired for this
// process.
type Dispatcher struct {
	Nested       Adapter
	CodeModifier Adapter
}

type textArguments struct {
	Text string `json:"text"`
}

// Dispatch routes a completed tool call to the appropriate adapter and
// returns the JSON result to send back to the upstream session via
// SendFunctionCallResult.
func (d *Dispatcher) Dispatch(toolName string, arguments json.RawMessage) json.RawMessage {
	switch toolName {
	case ToolSendToNested:
		return d.dispatchText(d.Nested, "nested agents", arguments)
	case ToolSendToCodeModifier:
		return d.dispatchText(d.CodeModifier, "code modifier", arguments)
	case ToolPause:
		return d.dispatchControl(d.Nested, "nested agents", "pause")
	case ToolReset:
		return d.dispatchControl(d.Nested, "nested agents", "reset")
	case ToolPauseCodeModifier:
		return d.dispatchControl(d.CodeModifier, "code modifier", "pause")
	default:
		log.Printf("tools: unknown tool %q", toolName)
		return errorResult("unknown_tool")
	}
}

func (d *Dispatcher) dispatchText(adapter Adapter, label string, arguments json.RawMessage) json.RawMessage {
	if adapter == nil {
		return errorResult(fmt.Sprintf("%s_unavailable", label))
	}
	var args textArguments
	if err := json.Unmarshal(arguments, &args); err != nil {
		return errorResult("invalid_arguments")
	}
	if err := adapter.Send(args.Text); err != nil {
		log.Printf("tools: %s send failed: %v", label, err)
		return errorResult(err.Error())
	}
	return okResult()
}

func (d *Dispatcher) dispatchControl(adapter Adapter, label, action string) json.RawMessage {
	if adapter == nil {
		return errorResult(fmt.Sprintf("%s_unavailable", label))
	}
	if err := adapter.SendControl(action); err != nil {
		log.Printf("tools: %s control %q failed: %v", label, action, err)
		return errorResult(err.Error())
	}
	return okResult()
}

func okResult() json.RawMessage {
	return json.RawMessage(`{"ok":true}`)
}

func errorResult(reason string) json.RawMessage {
	b, _ := json.Marshal(map[string]any{"ok": false, "error": reason})
	return b
}
