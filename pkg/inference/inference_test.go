package inference

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/teslashibe/go-jarvis/pkg/tool"
)

func TestMockProvider(t *testing.T) {
	mock := NewMock()
	ctx := context.Background()

	resp, err := mock.Chat(ctx, &ChatRequest{Messages: []Message{NewUserMessage("Hello")}})
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Message.Content != "Mock response" {
		t.Errorf("Unexpected content: %s", resp.Message.Content)
	}
	if mock.CallCount("Chat") != 1 {
		t.Errorf("Expected 1 Chat call, got %d", mock.CallCount("Chat"))
	}
	if got := mock.Requests(); len(got) != 1 || got[0].Messages[0].Content != "Hello" {
		t.Errorf("Request not recorded: %+v", got)
	}
	if mock.ToolShape() != tool.ShapeChat {
		t.Errorf("Expected chat shape by default")
	}
}

func TestMockScript(t *testing.T) {
	boom := errors.New("boom")
	mock := NewScript(
		Reply{Message: NewToolCallMessage("", ToolCall{ID: "1", Name: "x"})},
		Reply{Err: boom},
	)
	ctx := context.Background()

	resp, err := mock.Chat(ctx, &ChatRequest{})
	if err != nil || !resp.HasToolCalls() {
		t.Fatalf("Expected tool call reply, got %v %v", resp, err)
	}
	if _, err := mock.Chat(ctx, &ChatRequest{}); !errors.Is(err, boom) {
		t.Errorf("Expected scripted error, got %v", err)
	}
	if _, err := mock.Chat(ctx, &ChatRequest{}); !errors.Is(err, ErrProviderUnavailable) {
		t.Errorf("Expected exhausted script error, got %v", err)
	}
}

func TestErrorTaxonomy(t *testing.T) {
	transport := &TransportError{Provider: "client", Op: "POST", Err: errors.New("connection refused")}
	protocol := &ProtocolError{Provider: "client", Message: "decode response"}
	rateLimited := &BackendError{StatusCode: 429, Message: "slow down", Provider: "client"}
	badRequest := &BackendError{StatusCode: 400, Message: "nope", Provider: "client"}
	realtimeErr := &BackendError{Code: "invalid_value", Message: "bad", Provider: "realtime"}

	if !IsTransport(transport) || !IsRetryable(transport) {
		t.Error("transport errors are retryable")
	}
	if !IsProtocol(protocol) || IsRetryable(protocol) {
		t.Error("protocol errors are not retryable")
	}
	if !IsRetryable(rateLimited) || IsRetryable(badRequest) {
		t.Error("only 429/5xx backend errors are retryable")
	}
	if !strings.Contains(realtimeErr.Error(), "invalid_value") {
		t.Errorf("Unexpected message: %s", realtimeErr.Error())
	}
	if !strings.Contains(badRequest.Error(), "API error 400") {
		t.Errorf("Unexpected message: %s", badRequest.Error())
	}
}

func TestMessageHelpers(t *testing.T) {
	if m := NewToolMessage("call_1", "result"); m.Role != RoleTool || m.ToolCallID != "call_1" {
		t.Errorf("Unexpected tool message: %+v", m)
	}
	if m := NewToolCallMessage("", ToolCall{ID: "a"}); m.Role != RoleAssistant || len(m.ToolCalls) != 1 {
		t.Errorf("Unexpected tool call message: %+v", m)
	}
}

func TestGroupMessages(t *testing.T) {
	log := quietLogger()

	t.Run("moves replies next to their call", func(t *testing.T) {
		in := []Message{
			NewUserMessage("u"),
			NewToolCallMessage("", ToolCall{ID: "a"}, ToolCall{ID: "b"}),
			NewAssistantMessage("interleaved"),
			NewToolMessage("b", "B"),
			NewToolMessage("a", "A"),
		}
		out := GroupMessages(in, log)
		want := []string{"u", "", "A", "B", "interleaved"}
		if len(out) != len(want) {
			t.Fatalf("Expected %d messages, got %d: %+v", len(want), len(out), out)
		}
		for i, w := range want {
			if out[i].Content != w {
				t.Errorf("message %d: expected %q, got %q", i, w, out[i].Content)
			}
		}
		if len(in[1].ToolCalls) != 2 {
			t.Error("input must not be modified")
		}
	})

	t.Run("strips unresolved calls", func(t *testing.T) {
		in := []Message{
			NewUserMessage("u"),
			NewToolCallMessage("thinking", ToolCall{ID: "a"}, ToolCall{ID: "lost"}),
			NewToolMessage("a", "A"),
			NewUserMessage("next"),
		}
		out := GroupMessages(in, log)
		if len(out) != 4 {
			t.Fatalf("Expected 4 messages, got %d", len(out))
		}
		if len(out[1].ToolCalls) != 1 || out[1].ToolCalls[0].ID != "a" {
			t.Errorf("Expected only the answered call, got %+v", out[1].ToolCalls)
		}
	})

	t.Run("drops empty unresolved call messages and orphans", func(t *testing.T) {
		in := []Message{
			NewUserMessage("u"),
			NewToolCallMessage("", ToolCall{ID: "lost"}),
			NewToolMessage("orphan", "?"),
			NewAssistantMessage("final"),
		}
		out := GroupMessages(in, log)
		if len(out) != 2 || out[1].Content != "final" {
			t.Errorf("Unexpected grouping: %+v", out)
		}
	})
}
