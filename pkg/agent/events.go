package agent

import (
	"time"

	"github.com/teslashibe/go-jarvis/pkg/tool"
)

// EventType identifies what happened in the loop.
type EventType string

const (
	EventStateChanged     EventType = "state_changed"
	EventUserMessage      EventType = "user_message"
	EventAssistantMessage EventType = "assistant_message"
	EventToolCall         EventType = "tool_call"
	EventToolResult       EventType = "tool_result"
	EventUtteranceDropped EventType = "utterance_dropped"
	EventError            EventType = "error"
)

// Event is a notification sent to observers. Only the fields relevant to
// Type are set.
type Event struct {
	Type  EventType `json:"type"`
	At    time.Time `json:"at"`
	State State     `json:"state"`

	Text        string      `json:"text,omitempty"`
	UtteranceID string      `json:"utterance_id,omitempty"`
	Tool        string      `json:"tool,omitempty"`
	ToolCallID  string      `json:"tool_call_id,omitempty"`
	Arguments   string      `json:"arguments,omitempty"`
	Result      tool.Result `json:"result,omitempty"`
	Error       string      `json:"error,omitempty"`
}

// Observer receives loop events. Observe is called synchronously from the
// loop and must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

// Observe calls f.
func (f ObserverFunc) Observe(e Event) { f(e) }
