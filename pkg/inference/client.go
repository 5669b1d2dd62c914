package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-jarvis/internal/httpc"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

const providerClient = "client"

// Client is the request/response inference provider.
// Works with any OpenAI-compatible chat completions API.
type Client struct {
	baseURL string
	apiKey  string
	config  *Config
	http    *http.Client
	logger  *slog.Logger
}

// NewClient creates a new inference client.
func NewClient(opts ...Option) (*Client, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &Client{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		config:  cfg,
		http:    httpc.NewClient(cfg.Timeout),
		logger:  cfg.Logger.With("component", "inference.client"),
	}, nil
}

// ToolShape implements Provider. Chat completions nest tools under "function".
func (c *Client) ToolShape() tool.Shape { return tool.ShapeChat }

// Chat generates a chat completion.
func (c *Client) Chat(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = c.config.Model
	}

	payload := c.buildChatPayload(req, model)

	body, status, err := c.postWithRetry(ctx, "/chat/completions", payload)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, ParseErrorResponse(providerClient, status, body)
	}

	var result chatCompletionResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &ProtocolError{Provider: providerClient, Message: "decode response", Err: err}
	}
	if len(result.Choices) == 0 {
		return nil, &ProtocolError{Provider: providerClient, Message: "no choices returned"}
	}

	choice := result.Choices[0]
	calls, err := parseToolCalls(choice.Message.ToolCalls)
	if err != nil {
		return nil, err
	}

	return &ChatResponse{
		Message: Message{
			Role:      RoleAssistant,
			Content:   choice.Message.Content,
			ToolCalls: calls,
		},
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     result.Usage.PromptTokens,
			CompletionTokens: result.Usage.CompletionTokens,
			TotalTokens:      result.Usage.TotalTokens,
		},
		Model:     result.Model,
		LatencyMs: time.Since(start).Milliseconds(),
	}, nil
}

// Health checks API connectivity.
func (c *Client) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return &TransportError{Provider: providerClient, Op: "create request", Err: err}
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &TransportError{Provider: providerClient, Op: "health check", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return ParseErrorResponse(providerClient, resp.StatusCode, body)
	}
	return nil
}

// Close releases resources.
func (c *Client) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

// buildChatPayload constructs the API request payload.
func (c *Client) buildChatPayload(req *ChatRequest, model string) map[string]any {
	grouped := GroupMessages(req.Messages, c.logger)
	messages := make([]map[string]any, len(grouped))
	for i, msg := range grouped {
		m := map[string]any{
			"role":    string(msg.Role),
			"content": msg.Content,
		}
		if msg.ToolCallID != "" {
			m["tool_call_id"] = msg.ToolCallID
		}
		if len(msg.ToolCalls) > 0 {
			toolCalls := make([]map[string]any, len(msg.ToolCalls))
			for j, tc := range msg.ToolCalls {
				args := tc.Arguments
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				toolCalls[j] = map[string]any{
					"id":   tc.ID,
					"type": "function",
					"function": map[string]string{
						"name":      tc.Name,
						"arguments": args,
					},
				}
			}
			m["tool_calls"] = toolCalls
		}
		messages[i] = m
	}

	payload := map[string]any{
		"model":    model,
		"messages": messages,
	}

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.config.MaxTokens
	}
	if maxTokens > 0 {
		payload["max_tokens"] = maxTokens
	}

	temp := req.Temperature
	if temp == 0 {
		temp = c.config.Temperature
	}
	if temp > 0 {
		payload["temperature"] = temp
	}

	if len(req.Tools) > 0 {
		payload["tools"] = req.Tools
		choice := req.ToolChoice
		if choice == "" {
			choice = "auto"
		}
		payload["tool_choice"] = choice
	}

	return payload
}

func (c *Client) authorize(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

// postWithRetry POSTs payload and returns the final response body and status.
// Transport failures, 429 and 5xx responses are retried with exponential
// backoff; once retries are exhausted the last failure is returned.
func (c *Client) postWithRetry(ctx context.Context, path string, payload any) ([]byte, int, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, &ProtocolError{Provider: providerClient, Message: "marshal payload", Err: err}
	}

	var lastErr error
	for attempt := 0; attempt <= c.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := c.config.backoff(attempt)
			c.logger.Warn("retrying request",
				"attempt", attempt+1,
				"delay", delay,
				"error", lastErr,
			)
			select {
			case <-ctx.Done():
				return nil, 0, ctx.Err()
			case <-time.After(delay):
			}
		}

		respBody, status, err := c.send(ctx, path, body)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr = err
			continue
		}
		if status == http.StatusTooManyRequests || status >= 500 {
			lastErr = ParseErrorResponse(providerClient, status, respBody)
			continue
		}
		return respBody, status, nil
	}

	return nil, 0, lastErr
}

func (c *Client) send(ctx context.Context, path string, body []byte) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, 0, &TransportError{Provider: providerClient, Op: "create request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, 0, &TransportError{Provider: providerClient, Op: "POST " + path, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, &TransportError{Provider: providerClient, Op: "read response", Err: err}
	}
	return respBody, resp.StatusCode, nil
}

// ParseErrorResponse converts an OpenAI-style error body into a BackendError.
func ParseErrorResponse(provider string, status int, body []byte) error {
	// Try to parse OpenAI-style error
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
			Code    any    `json:"code"`
		} `json:"error"`
	}

	message := strings.TrimSpace(string(body))
	code := ""
	if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		if errResp.Error.Code != nil {
			code = fmt.Sprint(errResp.Error.Code)
		} else {
			code = errResp.Error.Type
		}
	}
	if message == "" {
		message = http.StatusText(status)
	}

	return &BackendError{
		StatusCode: status,
		Message:    message,
		Code:       code,
		Provider:   provider,
	}
}

// parseToolCalls converts API tool calls to our format, rejecting calls
// whose arguments are not a JSON object. Calls without an ID get one so
// their results can be matched.
func parseToolCalls(calls []apiToolCall) ([]ToolCall, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	result := make([]ToolCall, len(calls))
	for i, call := range calls {
		if call.Function.Name == "" {
			return nil, &ProtocolError{Provider: providerClient, Message: fmt.Sprintf("tool call %d has no name", i)}
		}
		if _, err := tool.ParseArguments(call.Function.Arguments); err != nil {
			return nil, &ProtocolError{
				Provider: providerClient,
				Message:  fmt.Sprintf("tool call %s arguments", call.Function.Name),
				Err:      err,
			}
		}
		id := call.ID
		if id == "" {
			id = "call_" + uuid.NewString()
		}
		result[i] = ToolCall{
			ID:        id,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		}
	}
	return result, nil
}

// API response types
type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Role      string        `json:"role"`
			Content   string        `json:"content"`
			ToolCalls []apiToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type apiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

// Verify Client implements Provider at compile time.
var _ Provider = (*Client)(nil)
