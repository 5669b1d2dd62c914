// Package inference defines the language model contract used by the
// conversation loop and provides the request/response implementation for
// OpenAI-compatible chat completion APIs.
//
// Example usage:
//
//	client, _ := inference.NewClient(
//	    inference.WithAPIKey(os.Getenv("OPENAI_API_KEY")),
//	    inference.WithModel("gpt-4o-2024-08-06"),
//	)
//	defer client.Close()
//
//	catalog, _ := tool.BuildCatalog(registry.Definitions(), client.ToolShape())
//	resp, _ := client.Chat(ctx, &inference.ChatRequest{
//	    Messages: []inference.Message{
//	        inference.NewSystemMessage("You are Jarvis."),
//	        inference.NewUserMessage("What time is it?"),
//	    },
//	    Tools: catalog,
//	})
//
// A streaming realtime session (package realtime) satisfies the same
// Provider interface.
package inference

import (
	"context"

	"github.com/teslashibe/go-jarvis/pkg/tool"
)

// Provider is a language model backend that can answer a conversation,
// optionally asking for tool calls.
type Provider interface {
	// Chat sends the conversation and returns the model's next message.
	// A reply either carries tool calls or is final.
	Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// ToolShape reports the tool catalog layout the backend expects.
	ToolShape() tool.Shape

	// Health checks connectivity and credentials.
	Health(ctx context.Context) error

	// Close releases any resources held by the provider.
	Close() error
}

// ChatRequest for chat completions.
type ChatRequest struct {
	// Messages is the conversation history.
	Messages []Message

	// Model overrides the default model.
	Model string

	// MaxTokens limits the response length.
	MaxTokens int

	// Temperature controls randomness (0.0-2.0).
	Temperature float64

	// Tools is the catalog, already rendered in the provider's ToolShape.
	Tools []map[string]any

	// ToolChoice controls tool use: "auto", "none", "required".
	// Defaults to "auto" when tools are present.
	ToolChoice string
}

// ChatResponse from chat completion.
type ChatResponse struct {
	// Message is the assistant's response.
	Message Message

	// FinishReason indicates why generation stopped.
	FinishReason string

	// Usage tracks token consumption.
	Usage Usage

	// Model used for generation.
	Model string

	// LatencyMs is the response time in milliseconds.
	LatencyMs int64

	// Audio is spoken reply audio (PCM16 mono), when the backend produces it.
	Audio []byte
}

// HasToolCalls reports whether the reply requests tool execution.
func (r *ChatResponse) HasToolCalls() bool {
	return r != nil && len(r.Message.ToolCalls) > 0
}

// Usage tracks token consumption for billing and limits.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}
