package realtime

import (
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

type pendingCall struct {
	callID string
	name   string
	args   strings.Builder
}

// Accumulator assembles one response from streamed server events.
//
// Tool call arguments are buffered per output item and only become a
// ToolCall on the matching arguments.done (or output_item.done) event.
// response.done ends the turn. Events belonging to other responses are
// ignored.
type Accumulator struct {
	responseID string
	started    bool

	text       strings.Builder
	transcript strings.Builder
	audio      []byte

	pending map[string]*pendingCall
	calls   []inference.ToolCall
	items   []string
	status  string
	usage   inference.Usage

	done   bool
	logger *slog.Logger
}

// NewAccumulator creates an empty accumulator.
func NewAccumulator(logger *slog.Logger) *Accumulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accumulator{
		pending: make(map[string]*pendingCall),
		logger:  logger,
	}
}

// Done reports whether the response has ended.
func (a *Accumulator) Done() bool { return a.done }

// Handle applies one event. It returns true once the response is complete.
// A non-nil error ends the turn: *inference.BackendError for error events
// and failed responses, *inference.ProtocolError for undecodable payloads.
func (a *Accumulator) Handle(ev Event) (bool, error) {
	if a.done {
		return true, nil
	}

	if ev.Type == EventError {
		a.done = true
		return true, backendError(ev.Error)
	}

	if ev.Type == EventResponseCreated {
		if ev.Response != nil {
			a.responseID = ev.Response.ID
		}
		a.started = true
		return false, nil
	}
	if !a.started || !a.owns(ev) {
		a.logger.Debug("ignoring event from another response", "type", ev.Type, "response_id", ev.ResponseID)
		return false, nil
	}

	switch ev.Type {
	case EventOutputItemAdded:
		if ev.Item != nil && ev.Item.ID != "" {
			a.items = append(a.items, ev.Item.ID)
		}
		if ev.Item != nil && ev.Item.Type == "function_call" {
			a.open(ev.Item.ID, ev.Item.CallID, ev.Item.Name)
		}

	case EventArgumentsDelta:
		a.open(ev.ItemID, ev.CallID, ev.Name).args.WriteString(ev.Delta)

	case EventArgumentsDone:
		if err := a.finish(ev.ItemID, ev.CallID, ev.Name, ev.Arguments); err != nil {
			a.done = true
			return true, err
		}

	case EventOutputItemDone:
		if ev.Item != nil && ev.Item.Type == "function_call" {
			if _, open := a.pending[ev.Item.ID]; open {
				if err := a.finish(ev.Item.ID, ev.Item.CallID, ev.Item.Name, ev.Item.Arguments); err != nil {
					a.done = true
					return true, err
				}
			}
		}

	case EventTextDelta:
		a.text.WriteString(ev.Delta)

	case EventAudioTranscriptDelta:
		a.transcript.WriteString(ev.Delta)

	case EventAudioDelta:
		pcm, err := base64.StdEncoding.DecodeString(ev.Delta)
		if err != nil {
			a.done = true
			return true, &inference.ProtocolError{Provider: provider, Message: "decode audio delta", Err: err}
		}
		a.audio = append(a.audio, pcm...)

	case EventResponseDone:
		a.done = true
		for id, p := range a.pending {
			a.logger.Warn("dropping incomplete tool call", "item_id", id, "tool", p.name)
		}
		a.pending = map[string]*pendingCall{}
		if ev.Response == nil {
			return true, nil
		}
		a.status = ev.Response.Status
		if u := ev.Response.Usage; u != nil {
			a.usage = inference.Usage{PromptTokens: u.InputTokens, CompletionTokens: u.OutputTokens, TotalTokens: u.TotalTokens}
		}
		switch ev.Response.Status {
		case "failed":
			var apiErr *APIError
			if d := ev.Response.StatusDetails; d != nil {
				apiErr = d.Error
			}
			if apiErr == nil {
				apiErr = &APIError{Code: "response_failed", Message: "response failed"}
			}
			return true, backendError(apiErr)
		case "cancelled":
			reason := "cancelled"
			if d := ev.Response.StatusDetails; d != nil && d.Reason != "" {
				reason = d.Reason
			}
			return true, backendError(&APIError{Code: "response_cancelled", Message: "response cancelled: " + reason})
		}
		return true, nil
	}
	return false, nil
}

func (a *Accumulator) owns(ev Event) bool {
	return ev.ResponseID == "" || a.responseID == "" || ev.ResponseID == a.responseID ||
		(ev.Response != nil && ev.Response.ID == a.responseID)
}

func (a *Accumulator) open(itemID, callID, name string) *pendingCall {
	p, ok := a.pending[itemID]
	if !ok {
		p = &pendingCall{}
		a.pending[itemID] = p
	}
	if p.callID == "" {
		p.callID = callID
	}
	if p.name == "" {
		p.name = name
	}
	return p
}

func (a *Accumulator) finish(itemID, callID, name, final string) error {
	p := a.open(itemID, callID, name)
	delete(a.pending, itemID)

	args := final
	if args == "" {
		args = p.args.String()
	}
	if p.name == "" {
		return &inference.ProtocolError{Provider: provider, Message: fmt.Sprintf("function call %s has no name", itemID)}
	}
	if _, err := tool.ParseArguments(args); err != nil {
		return &inference.ProtocolError{Provider: provider, Message: fmt.Sprintf("tool call %s arguments", p.name), Err: err}
	}
	if p.callID == "" {
		p.callID = "call_" + uuid.NewString()
	}
	a.calls = append(a.calls, inference.ToolCall{ID: p.callID, Name: p.name, Arguments: args})
	return nil
}

// ItemIDs returns the conversation items the response has added.
func (a *Accumulator) ItemIDs() []string {
	return append([]string(nil), a.items...)
}

// Response builds the chat response collected so far.
func (a *Accumulator) Response() *inference.ChatResponse {
	content := a.text.String()
	if content == "" {
		content = a.transcript.String()
	}
	finish := a.status
	if len(a.calls) > 0 {
		finish = "tool_calls"
	}
	return &inference.ChatResponse{
		Message: inference.Message{
			Role:      inference.RoleAssistant,
			Content:   content,
			ToolCalls: append([]inference.ToolCall(nil), a.calls...),
		},
		FinishReason: finish,
		Usage:        a.usage,
		Audio:        a.audio,
	}
}

func backendError(e *APIError) error {
	if e == nil {
		return &inference.BackendError{Provider: provider, Message: "unknown error"}
	}
	code := e.Code
	if code == "" {
		code = e.Type
	}
	return &inference.BackendError{Provider: provider, Code: code, Message: e.Message}
}
