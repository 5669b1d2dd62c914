package inference

import (
	"context"
	"sync"
	"time"

	"github.com/teslashibe/go-jarvis/pkg/tool"
)

// Mock implements Provider for testing.
type Mock struct {
	// ChatFunc is called when Chat is invoked.
	ChatFunc func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// HealthFunc is called when Health is invoked.
	HealthFunc func(ctx context.Context) error

	// CloseFunc is called when Close is invoked.
	CloseFunc func() error

	// Shape is returned by ToolShape.
	Shape tool.Shape

	mu       sync.Mutex
	calls    []MockCall
	requests []ChatRequest
}

// MockCall records a method invocation.
type MockCall struct {
	Method string
	Time   time.Time
}

// NewMock creates a new mock provider with sensible defaults.
func NewMock() *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return &ChatResponse{
				Message:      NewAssistantMessage("Mock response"),
				FinishReason: "stop",
				Usage:        Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
			}, nil
		},
		HealthFunc: func(ctx context.Context) error {
			return nil
		},
	}
}

// NewScript returns a mock that answers successive Chat calls with the
// given replies in order. Calls past the end fail with ErrProviderUnavailable.
func NewScript(replies ...Reply) *Mock {
	m := NewMock()
	var mu sync.Mutex
	next := 0
	m.ChatFunc = func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
		mu.Lock()
		defer mu.Unlock()
		if next >= len(replies) {
			return nil, ErrProviderUnavailable
		}
		r := replies[next]
		next++
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Wait != nil {
			select {
			case <-r.Wait:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return &ChatResponse{Message: r.Message, FinishReason: "stop", Audio: r.Audio}, nil
	}
	return m
}

// Reply is one scripted Chat outcome.
type Reply struct {
	Message Message
	Audio   []byte
	Err     error
	// Wait, when set, blocks the reply until closed or the context ends.
	Wait <-chan struct{}
}

// Chat calls ChatFunc and records the call.
func (m *Mock) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	m.record("Chat")
	if req != nil {
		snapshot := *req
		snapshot.Messages = append([]Message(nil), req.Messages...)
		m.mu.Lock()
		m.requests = append(m.requests, snapshot)
		m.mu.Unlock()
	}
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, req)
	}
	return nil, ErrProviderUnavailable
}

// ToolShape returns Shape.
func (m *Mock) ToolShape() tool.Shape { return m.Shape }

// Health calls HealthFunc and records the call.
func (m *Mock) Health(ctx context.Context) error {
	m.record("Health")
	if m.HealthFunc != nil {
		return m.HealthFunc(ctx)
	}
	return nil
}

// Close calls CloseFunc and records the call.
func (m *Mock) Close() error {
	m.record("Close")
	if m.CloseFunc != nil {
		return m.CloseFunc()
	}
	return nil
}

// record adds a call to the tracking list.
func (m *Mock) record(method string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, MockCall{
		Method: method,
		Time:   time.Now(),
	})
}

// Calls returns all recorded method calls.
func (m *Mock) Calls() []MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]MockCall, len(m.calls))
	copy(result, m.calls)
	return result
}

// Requests returns a snapshot of every Chat request received.
func (m *Mock) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make([]ChatRequest, len(m.requests))
	copy(result, m.requests)
	return result
}

// CallCount returns the number of times a method was called.
func (m *Mock) CallCount(method string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, c := range m.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// LastCall returns the most recent call, or nil if none.
func (m *Mock) LastCall() *MockCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.calls) == 0 {
		return nil
	}
	call := m.calls[len(m.calls)-1]
	return &call
}

// Reset clears all recorded calls.
func (m *Mock) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
	m.requests = nil
}

// WithError returns a mock that always returns the given error.
func WithError(err error) *Mock {
	return &Mock{
		ChatFunc: func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			return nil, err
		},
		HealthFunc: func(ctx context.Context) error {
			return err
		},
	}
}

// Verify Mock implements Provider at compile time.
var _ Provider = (*Mock)(nil)
