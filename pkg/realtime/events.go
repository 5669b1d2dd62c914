package realtime

import "errors"

var (
	// ErrMissingAPIKey is returned when no API key is configured.
	ErrMissingAPIKey = errors.New("realtime: API key required")

	// ErrClosed is returned when using a closed session.
	ErrClosed = errors.New("realtime: session closed")
)

const provider = "realtime"

// Event is a server event. Only the fields the session consumes are decoded.
type Event struct {
	Type        string `json:"type"`
	EventID     string `json:"event_id,omitempty"`
	ResponseID  string `json:"response_id,omitempty"`
	ItemID      string `json:"item_id,omitempty"`
	OutputIndex int    `json:"output_index,omitempty"`
	CallID      string `json:"call_id,omitempty"`
	Name        string `json:"name,omitempty"`
	Delta       string `json:"delta,omitempty"`
	Arguments   string `json:"arguments,omitempty"`
	Transcript  string `json:"transcript,omitempty"`

	Item     *Item         `json:"item,omitempty"`
	Response *ResponseInfo `json:"response,omitempty"`
	Session  *SessionInfo  `json:"session,omitempty"`
	Error    *APIError     `json:"error,omitempty"`
}

// Item is a conversation item.
type Item struct {
	ID        string `json:"id,omitempty"`
	Type      string `json:"type"`
	Status    string `json:"status,omitempty"`
	Role      string `json:"role,omitempty"`
	Name      string `json:"name,omitempty"`
	CallID    string `json:"call_id,omitempty"`
	Arguments string `json:"arguments,omitempty"`
}

// ResponseInfo describes a model response.
type ResponseInfo struct {
	ID            string         `json:"id"`
	Status        string         `json:"status"`
	StatusDetails *StatusDetails `json:"status_details,omitempty"`
	Usage         *Usage         `json:"usage,omitempty"`
}

// StatusDetails explains a non-completed response.
type StatusDetails struct {
	Type   string    `json:"type,omitempty"`
	Reason string    `json:"reason,omitempty"`
	Error  *APIError `json:"error,omitempty"`
}

// Usage is token accounting for a response.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
}

// SessionInfo identifies the server session.
type SessionInfo struct {
	ID    string `json:"id"`
	Model string `json:"model,omitempty"`
}

// APIError is the error payload of error events and failed responses.
type APIError struct {
	Type    string `json:"type,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Param   string `json:"param,omitempty"`
	// EventID is the client event that caused the error.
	EventID string `json:"event_id,omitempty"`
}

// Server event types consumed by the session.
const (
	EventSessionCreated       = "session.created"
	EventSessionUpdated       = "session.updated"
	EventError                = "error"
	EventResponseCreated      = "response.created"
	EventResponseDone         = "response.done"
	EventOutputItemAdded      = "response.output_item.added"
	EventOutputItemDone       = "response.output_item.done"
	EventTextDelta            = "response.text.delta"
	EventAudioDelta           = "response.audio.delta"
	EventAudioTranscriptDelta = "response.audio_transcript.delta"
	EventArgumentsDelta       = "response.function_call_arguments.delta"
	EventArgumentsDone        = "response.function_call_arguments.done"
	EventSpeechStarted        = "input_audio_buffer.speech_started"
	EventSpeechStopped        = "input_audio_buffer.speech_stopped"
	EventInputTranscribed     = "conversation.item.input_audio_transcription.completed"
	EventItemDeleted          = "conversation.item.deleted"
)
