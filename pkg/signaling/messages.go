// Package signaling defines the wire-level request/response DTOs for the
// Bridge Controller's HTTP surface.
package signaling

// SignalRequest is the body of POST /bridge/signal.
type SignalRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	OfferSDP       string `json:"offer_sdp" binding:"required"`
	Voice          string `json:"voice"`
	Model          string `json:"model"`
	SystemPrompt   string `json:"system_prompt"`
}

// SignalResponse is the body of a successful POST /bridge/signal response.
type SignalResponse struct {
	ConnectionID string `json:"connection_id"`
	AnswerSDP    string `json:"answer_sdp"`
}

// DisconnectRequest is the body of POST /bridge/disconnect.
type DisconnectRequest struct {
	ConversationID string `json:"conversation_id" binding:"required"`
	ConnectionID   string `json:"connection_id" binding:"required"`
}

// TextRequest is the body of POST /bridge/conversation/{id}/text.
type TextRequest struct {
	Text string `json:"text" binding:"required"`
}

// StatusResponse is the body of GET /bridge/conversation/{id}/status.
type StatusResponse struct {
	BrowserCount int    `json:"browser_count"`
	SessionState string `json:"session_state"`
}

// OKResponse is the body of every other successful control endpoint.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorCode enumerates the machine-readable error codes in ErrorResponse.
type ErrorCode string

const (
	ErrorBadSDP          ErrorCode = "bad_sdp"
	ErrorNotFound        ErrorCode = "not_found"
	ErrorConflict        ErrorCode = "conflict"
	ErrorUpstreamFailed  ErrorCode = "upstream_failed"
)

// ErrorResponse is the body of any 4xx/5xx response from the bridge surface.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the machine-readable code plus a human-readable message.
type ErrorDetail struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
