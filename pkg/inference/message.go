package inference

import (
	"log/slog"
	"strings"
)

// Role defines message roles in a conversation.
type Role string

const (
	// RoleSystem is for system instructions.
	RoleSystem Role = "system"

	// RoleUser is for user messages.
	RoleUser Role = "user"

	// RoleAssistant is for assistant responses.
	RoleAssistant Role = "assistant"

	// RoleTool is for tool/function results.
	RoleTool Role = "tool"
)

// Message represents a chat message in a conversation.
type Message struct {
	// Role identifies the message sender.
	Role Role `json:"role"`

	// Content is the text content of the message.
	Content string `json:"content"`

	// ToolCalls are function calls requested by the assistant.
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID identifies which tool call this message responds to.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolCall represents a function call request from the model.
type ToolCall struct {
	// ID uniquely identifies this tool call.
	ID string `json:"id"`

	// Name of the function to call. Matched case-insensitively.
	Name string `json:"name"`

	// Arguments as JSON object text.
	Arguments string `json:"arguments"`
}

// NewSystemMessage creates a system message.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewUserMessage creates a user message.
func NewUserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// NewAssistantMessage creates an assistant message.
func NewAssistantMessage(content string) Message {
	return Message{Role: RoleAssistant, Content: content}
}

// NewToolCallMessage creates an assistant message requesting tool calls.
func NewToolCallMessage(content string, calls ...ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: calls}
}

// NewToolMessage creates a tool result message.
func NewToolMessage(toolCallID, content string) Message {
	return Message{Role: RoleTool, ToolCallID: toolCallID, Content: content}
}

// GroupMessages orders messages so that every tool reply directly follows
// the assistant message that requested it, in call order.
//
// Tool calls with no reply are stripped from their assistant message and
// tool replies that answer no known call are dropped; both are logged.
// The input slice is not modified.
func GroupMessages(msgs []Message, logger *slog.Logger) []Message {
	if logger == nil {
		logger = slog.Default()
	}

	replies := make(map[string]int)
	for i, m := range msgs {
		if m.Role != RoleTool || m.ToolCallID == "" {
			continue
		}
		if _, seen := replies[m.ToolCallID]; !seen {
			replies[m.ToolCallID] = i
		}
	}

	used := make(map[int]bool)
	out := make([]Message, 0, len(msgs))
	for i, m := range msgs {
		switch {
		case m.Role == RoleTool:
			if used[i] {
				continue
			}
			logger.Warn("dropping tool message without a matching call", "tool_call_id", m.ToolCallID)

		case m.Role == RoleAssistant && len(m.ToolCalls) > 0:
			grouped := m
			grouped.ToolCalls = make([]ToolCall, 0, len(m.ToolCalls))
			var answers []Message
			for _, call := range m.ToolCalls {
				idx, ok := replies[call.ID]
				if !ok || used[idx] || idx < i {
					logger.Warn("stripping unresolved tool call", "tool", call.Name, "tool_call_id", call.ID)
					continue
				}
				used[idx] = true
				grouped.ToolCalls = append(grouped.ToolCalls, call)
				answers = append(answers, msgs[idx])
			}
			if len(grouped.ToolCalls) == 0 {
				grouped.ToolCalls = nil
				if strings.TrimSpace(grouped.Content) == "" {
					continue
				}
			}
			out = append(out, grouped)
			out = append(out, answers...)

		default:
			out = append(out, m)
		}
	}
	return out
}
