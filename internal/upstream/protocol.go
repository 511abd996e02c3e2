package upstream

import "encoding/json"

// ToolDescriptor is the JSON-Schema-backed function manifest entry advertised
// to the speech model.
type ToolDescriptor struct {
	Type        string          `json:"type"` // always "function"
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// TranscriptionConfig requests input-audio transcription with an explicit
// language hint. The hint is load-bearing: leaving it empty lets the model
// auto-detect language and can make it answer in an unexpected one.
type TranscriptionConfig struct {
	Model    string `json:"model"`
	Language string `json:"language,omitempty"`
}

// TurnDetectionConfig configures server-side VAD, or disables automatic
// turn-taking when nil is sent in its place. The design deliberately does
// not expose custom VAD thresholds: only the service's default parameters
// are ever sent.
type TurnDetectionConfig struct {
	Type string `json:"type"` // "server_vad"
}

// SessionConfig is the session configuration snapshot a Session holds and
// sends once its data channel opens.
type SessionConfig struct {
	Model         string
	Voice         string
	Instructions  string
	Tools         []ToolDescriptor
	Transcription *TranscriptionConfig
	// TurnDetection is not read when building session.update: server VAD
	// with default parameters is sent unless DisableVAD is set.
	TurnDetection *TurnDetectionConfig
	DisableVAD    bool
}

type sessionUpdateMessage struct {
	Type    string             `json:"type"`
	Session sessionUpdateBody  `json:"session"`
}

type sessionUpdateBody struct {
	Voice                string                `json:"voice"`
	Modalities           []string              `json:"modalities"`
	Instructions         string                `json:"instructions"`
	Tools                []ToolDescriptor      `json:"tools"`
	InputAudioTranscription *TranscriptionConfig `json:"input_audio_transcription,omitempty"`
	TurnDetection        *TurnDetectionConfig  `json:"turn_detection"`
}

func buildSessionUpdateMessage(cfg SessionConfig) sessionUpdateMessage {
	body := sessionUpdateBody{
		Voice:                    cfg.Voice,
		Modalities:               []string{"audio", "text"},
		Instructions:             cfg.Instructions,
		Tools:                    cfg.Tools,
		InputAudioTranscription: cfg.Transcription,
	}
	if !cfg.DisableVAD {
		body.TurnDetection = &TurnDetectionConfig{Type: "server_vad"}
	}
	// DisableVAD leaves TurnDetection nil, which marshals to JSON null -
	// the explicit "manual commit" signal.
	return sessionUpdateMessage{Type: "session.update", Session: body}
}

// inboundEnvelope is used only to read the `type` discriminator before
// deciding how to unmarshal the rest of a data-channel message.
type inboundEnvelope struct {
	Type string `json:"type"`
}

type functionCallArgumentsDelta struct {
	CallID string `json:"call_id"`
	Delta  string `json:"delta"`
}

type functionCallArgumentsDone struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type conversationItemCreate struct {
	Type string              `json:"type"`
	Item conversationItemBody `json:"item"`
}

type conversationItemBody struct {
	Type    string              `json:"type"`
	Role    string              `json:"role,omitempty"`
	CallID  string              `json:"call_id,omitempty"`
	Output  string              `json:"output,omitempty"`
	Content []conversationPart  `json:"content,omitempty"`
}

type conversationPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type responseCreateMessage struct {
	Type string `json:"type"`
}

type inputAudioBufferCommitMessage struct {
	Type string `json:"type"`
}

func functionCallOutputMessage(callID, output string) conversationItemCreate {
	return conversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItemBody{
			Type:   "function_call_output",
			CallID: callID,
			Output: output,
		},
	}
}

func userTextMessage(text string) conversationItemCreate {
	return conversationItemCreate{
		Type: "conversation.item.create",
		Item: conversationItemBody{
			Type: "message",
			Role: "user",
			Content: []conversationPart{
				{Type: "input_text", Text: text},
			},
		},
	}
}
