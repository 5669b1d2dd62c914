package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-jarvis/pkg/inference"
)

// fakeServer is a scripted realtime endpoint. script runs on every
// response.create with the 1-based response number. With rejectDeletes,
// every conversation.item.delete is answered with an error event just
// before the next response starts.
type fakeServer struct {
	srv           *httptest.Server
	script        func(conn *websocket.Conn, n int)
	rejectDeletes bool

	mu       sync.Mutex
	received []map[string]any
	header   http.Header
	query    string
}

func newFakeServer(t *testing.T, script func(conn *websocket.Conn, n int)) *fakeServer {
	t.Helper()
	return startFakeServer(t, &fakeServer{script: script})
}

func startFakeServer(t *testing.T, fs *fakeServer) *fakeServer {
	t.Helper()
	upgrader := websocket.Upgrader{}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fs.mu.Lock()
		fs.header = r.Header.Clone()
		fs.query = r.URL.RawQuery
		fs.mu.Unlock()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		conn.WriteJSON(Event{Type: EventSessionCreated, Session: &SessionInfo{ID: "sess_1"}})

		responses := 0
		var rejected []string
		for {
			var msg map[string]any
			if err := conn.ReadJSON(&msg); err != nil {
				return
			}
			fs.mu.Lock()
			fs.received = append(fs.received, msg)
			fs.mu.Unlock()

			if fs.rejectDeletes && msg["type"] == "conversation.item.delete" {
				eventID, _ := msg["event_id"].(string)
				rejected = append(rejected, eventID)
			}
			if msg["type"] == "response.create" {
				for _, id := range rejected {
					conn.WriteJSON(Event{Type: EventError, Error: &APIError{Code: "item_not_found", Message: "no such item", EventID: id}})
				}
				rejected = nil
				responses++
				if fs.script != nil {
					fs.script(conn, responses)
				}
			}
		}
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *fakeServer) url() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http")
}

func (fs *fakeServer) messages(typ string) []map[string]any {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	var out []map[string]any
	for _, m := range fs.received {
		if m["type"] == typ {
			out = append(out, m)
		}
	}
	return out
}

func quiet() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func dial(t *testing.T, fs *fakeServer, opts ...Option) *Session {
	t.Helper()
	base := []Option{
		WithURL(fs.url()),
		WithAPIKey("test-key"),
		WithInstructions("You are Jarvis."),
		WithPingInterval(0),
		WithLogger(quiet()),
	}
	s, err := Dial(context.Background(), append(base, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

var timeTool = []map[string]any{{
	"type":        "function",
	"name":        "get_current_time",
	"description": "Current local time",
	"parameters":  map[string]any{"type": "object", "properties": map[string]any{}, "required": []any{}},
}}

func TestSessionToolRoundTrip(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		switch n {
		case 1:
			conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "resp_1", Status: "in_progress"}})
			conn.WriteJSON(Event{Type: EventOutputItemAdded, ResponseID: "resp_1", Item: &Item{ID: "item_1", Type: "function_call", CallID: "call_1", Name: "get_current_time"}})
			for _, part := range []string{`{"time`, `zone": `, `"UTC"}`} {
				conn.WriteJSON(Event{Type: EventArgumentsDelta, ResponseID: "resp_1", ItemID: "item_1", CallID: "call_1", Delta: part})
			}
			conn.WriteJSON(Event{Type: EventArgumentsDone, ResponseID: "resp_1", ItemID: "item_1", CallID: "call_1", Name: "get_current_time"})
			conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: "resp_1", Status: "completed"}})
		case 2:
			conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "resp_2"}})
			conn.WriteJSON(Event{Type: EventAudioTranscriptDelta, ResponseID: "resp_2", Delta: "It is "})
			conn.WriteJSON(Event{Type: EventAudioTranscriptDelta, ResponseID: "resp_2", Delta: "noon."})
			conn.WriteJSON(Event{Type: EventAudioDelta, ResponseID: "resp_2", Delta: base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4})})
			conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: "resp_2", Status: "completed", Usage: &Usage{TotalTokens: 42}}})
		}
	})
	s := dial(t, fs)
	ctx := context.Background()

	history := []inference.Message{
		inference.NewSystemMessage("You are Jarvis, the AI assistant to Tony."),
		inference.NewUserMessage("What time is it?"),
	}
	resp, err := s.Chat(ctx, &inference.ChatRequest{Messages: history, Tools: timeTool})
	require.NoError(t, err)
	require.Len(t, resp.Message.ToolCalls, 1)
	call := resp.Message.ToolCalls[0]
	assert.Equal(t, "call_1", call.ID)
	assert.Equal(t, "get_current_time", call.Name)
	assert.JSONEq(t, `{"timezone": "UTC"}`, call.Arguments)
	assert.Equal(t, "tool_calls", resp.FinishReason)

	history = append(history,
		resp.Message,
		inference.NewToolMessage("call_1", `{"status":"success","current_time":"2024-01-01 12:00:00"}`),
	)
	resp, err = s.Chat(ctx, &inference.ChatRequest{Messages: history, Tools: timeTool})
	require.NoError(t, err)
	assert.False(t, resp.HasToolCalls())
	assert.Equal(t, "It is noon.", resp.Message.Content)
	assert.Equal(t, []byte{1, 2, 3, 4}, resp.Audio)
	assert.Equal(t, 42, resp.Usage.TotalTokens)

	updates := fs.messages("session.update")
	require.Len(t, updates, 2, "initial update plus one when tools arrive")
	session := updates[1]["session"].(map[string]any)
	assert.Equal(t, "You are Jarvis, the AI assistant to Tony.", session["instructions"])
	assert.Equal(t, "auto", session["tool_choice"])
	assert.Equal(t, "pcm16", session["input_audio_format"])
	tools := session["tools"].([]any)
	require.Len(t, tools, 1)
	assert.Equal(t, "get_current_time", tools[0].(map[string]any)["name"])
	vad := session["turn_detection"].(map[string]any)
	assert.Equal(t, "server_vad", vad["type"])
	assert.EqualValues(t, 700, vad["silence_duration_ms"])

	items := fs.messages("conversation.item.create")
	require.Len(t, items, 2, "one user item and one tool output; assistant messages are not echoed")
	user := items[0]["item"].(map[string]any)
	assert.Equal(t, "message", user["type"])
	content := user["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "input_text", content["type"])
	assert.Equal(t, "What time is it?", content["text"])
	output := items[1]["item"].(map[string]any)
	assert.Equal(t, "function_call_output", output["type"])
	assert.Equal(t, "call_1", output["call_id"])

	assert.Len(t, fs.messages("response.create"), 2)

	fs.mu.Lock()
	assert.Equal(t, "Bearer test-key", fs.header.Get("Authorization"))
	assert.Equal(t, "realtime=v1", fs.header.Get("OpenAI-Beta"))
	assert.Contains(t, fs.query, "model=")
	fs.mu.Unlock()
}

func TestSessionErrorEvent(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		conn.WriteJSON(Event{Type: EventError, Error: &APIError{Type: "invalid_request_error", Code: "invalid_value", Message: "bad item"}})
	})
	s := dial(t, fs)

	_, err := s.Chat(context.Background(), &inference.ChatRequest{Messages: []inference.Message{inference.NewUserMessage("hi")}})
	var be *inference.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "invalid_value", be.Code)
	assert.Equal(t, "bad item", be.Message)
}

func TestSessionFailedResponse(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "r"}})
		conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{
			ID:            "r",
			Status:        "failed",
			StatusDetails: &StatusDetails{Type: "failed", Error: &APIError{Code: "server_error", Message: "overloaded"}},
		}})
	})
	s := dial(t, fs)

	_, err := s.Chat(context.Background(), &inference.ChatRequest{Messages: []inference.Message{inference.NewUserMessage("hi")}})
	var be *inference.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, "server_error", be.Code)
}

func TestSessionCancel(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		if n == 1 {
			conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "slow"}})
			return
		}
		conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "fast"}})
		conn.WriteJSON(Event{Type: EventTextDelta, ResponseID: "fast", Delta: "fresh"})
		conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: "fast", Status: "completed"}})
	})
	s := dial(t, fs)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	history := []inference.Message{inference.NewUserMessage("tell me a long story")}
	_, err := s.Chat(ctx, &inference.ChatRequest{Messages: history})
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.Eventually(t, func() bool {
		return len(fs.messages("response.cancel")) == 1
	}, time.Second, 10*time.Millisecond)

	history = append(history, inference.NewUserMessage("never mind"))
	resp, err := s.Chat(context.Background(), &inference.ChatRequest{Messages: history})
	require.NoError(t, err)
	assert.Equal(t, "fresh", resp.Message.Content)
}

func itemIDs(msgs []map[string]any, key string) []any {
	var ids []any
	for _, m := range msgs {
		if key == "" {
			ids = append(ids, m["item_id"])
			continue
		}
		ids = append(ids, m[key].(map[string]any)["id"])
	}
	return ids
}

func TestSessionResyncsAfterRolledBackTurn(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		if n == 1 {
			conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "r1"}})
			conn.WriteJSON(Event{Type: EventOutputItemAdded, ResponseID: "r1", Item: &Item{ID: "out_1", Type: "message", Role: "assistant"}})
			conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: "r1", Status: "failed"}})
			return
		}
		conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "r2"}})
		conn.WriteJSON(Event{Type: EventTextDelta, ResponseID: "r2", Delta: "Hello again."})
		conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: "r2", Status: "completed"}})
	})
	s := dial(t, fs)
	ctx := context.Background()
	system := inference.NewSystemMessage("You are Jarvis.")

	_, err := s.Chat(ctx, &inference.ChatRequest{Messages: []inference.Message{system, inference.NewUserMessage("first")}})
	require.Error(t, err)

	// The failed turn is rolled back and a new utterance takes its place.
	resp, err := s.Chat(ctx, &inference.ChatRequest{Messages: []inference.Message{system, inference.NewUserMessage("second")}})
	require.NoError(t, err)
	assert.Equal(t, "Hello again.", resp.Message.Content)

	creates := fs.messages("conversation.item.create")
	require.Len(t, creates, 2)
	second := creates[1]["item"].(map[string]any)
	assert.Equal(t, "second", second["content"].([]any)[0].(map[string]any)["text"])

	first := creates[0]["item"].(map[string]any)["id"]
	require.NotEmpty(t, first)
	assert.ElementsMatch(t, []any{"out_1", first}, itemIDs(fs.messages("conversation.item.delete"), ""))
}

func TestSessionDeletesRolledBackToolRound(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		id := fmt.Sprintf("r%d", n)
		conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: id}})
		switch n {
		case 1:
			conn.WriteJSON(Event{Type: EventOutputItemAdded, ResponseID: id, Item: &Item{ID: "fc_1", Type: "function_call", CallID: "call_1", Name: "get_current_time"}})
			conn.WriteJSON(Event{Type: EventArgumentsDone, ResponseID: id, ItemID: "fc_1", CallID: "call_1", Arguments: "{}"})
			conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: id, Status: "completed"}})
		case 2:
			conn.WriteJSON(Event{Type: EventError, Error: &APIError{Code: "server_error", Message: "overloaded"}})
		default:
			conn.WriteJSON(Event{Type: EventTextDelta, ResponseID: id, Delta: "ok"})
			conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: id, Status: "completed"}})
		}
	})
	s := dial(t, fs)
	ctx := context.Background()
	system := inference.NewSystemMessage("You are Jarvis.")

	history := []inference.Message{system, inference.NewUserMessage("what time is it?")}
	resp, err := s.Chat(ctx, &inference.ChatRequest{Messages: history, Tools: timeTool})
	require.NoError(t, err)
	require.True(t, resp.HasToolCalls())

	history = append(history, resp.Message, inference.NewToolMessage("call_1", `{"status":"success"}`))
	_, err = s.Chat(ctx, &inference.ChatRequest{Messages: history, Tools: timeTool})
	require.Error(t, err)

	_, err = s.Chat(ctx, &inference.ChatRequest{Messages: []inference.Message{system, inference.NewUserMessage("hello")}, Tools: timeTool})
	require.NoError(t, err)

	created := itemIDs(fs.messages("conversation.item.create"), "item")
	require.Len(t, created, 3, "question, tool output, new question")
	deleted := itemIDs(fs.messages("conversation.item.delete"), "")
	assert.ElementsMatch(t, []any{created[0], "fc_1", created[1]}, deleted)
}

func TestSessionKeepsUnchangedPrefix(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		id := fmt.Sprintf("r%d", n)
		conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: id}})
		conn.WriteJSON(Event{Type: EventOutputItemAdded, ResponseID: id, Item: &Item{ID: "out_" + id, Type: "message"}})
		conn.WriteJSON(Event{Type: EventTextDelta, ResponseID: id, Delta: "reply " + id})
		conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: id, Status: "completed"}})
	})
	s := dial(t, fs)
	ctx := context.Background()

	history := []inference.Message{inference.NewSystemMessage("You are Jarvis."), inference.NewUserMessage("one")}
	resp, err := s.Chat(ctx, &inference.ChatRequest{Messages: history})
	require.NoError(t, err)

	history = append(history, resp.Message, inference.NewUserMessage("two"))
	_, err = s.Chat(ctx, &inference.ChatRequest{Messages: history})
	require.NoError(t, err)

	assert.Len(t, fs.messages("conversation.item.create"), 2)
	assert.Empty(t, fs.messages("conversation.item.delete"))
}

func TestSessionIgnoresRejectedDelete(t *testing.T) {
	fs := startFakeServer(t, &fakeServer{
		rejectDeletes: true,
		script: func(conn *websocket.Conn, n int) {
			id := fmt.Sprintf("r%d", n)
			conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: id}})
			conn.WriteJSON(Event{Type: EventTextDelta, ResponseID: id, Delta: "fine"})
			conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: id, Status: "completed"}})
		},
	})
	s := dial(t, fs)
	ctx := context.Background()

	_, err := s.Chat(ctx, &inference.ChatRequest{Messages: []inference.Message{inference.NewUserMessage("first")}})
	require.NoError(t, err)

	resp, err := s.Chat(ctx, &inference.ChatRequest{Messages: []inference.Message{inference.NewUserMessage("replacement")}})
	require.NoError(t, err, "a rejected delete must not fail the turn")
	assert.Equal(t, "fine", resp.Message.Content)
	require.Len(t, fs.messages("conversation.item.delete"), 1)
}

func TestSessionConnectionDrop(t *testing.T) {
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		conn.Close()
	})
	s := dial(t, fs)

	_, err := s.Chat(context.Background(), &inference.ChatRequest{Messages: []inference.Message{inference.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, inference.IsTransport(err), "got %T: %v", err, err)

	require.Eventually(t, func() bool {
		return s.Health(context.Background()) != nil
	}, time.Second, 10*time.Millisecond)
}

func TestSessionTranscriptHandler(t *testing.T) {
	got := make(chan string, 1)
	fs := newFakeServer(t, func(conn *websocket.Conn, n int) {
		conn.WriteJSON(Event{Type: EventInputTranscribed, Transcript: "lights on"})
		conn.WriteJSON(Event{Type: EventResponseCreated, Response: &ResponseInfo{ID: "r"}})
		conn.WriteJSON(Event{Type: EventResponseDone, Response: &ResponseInfo{ID: "r", Status: "completed"}})
	})
	s := dial(t, fs, WithTranscriptHandler(func(text string) { got <- text }))

	require.NoError(t, s.AppendAudio([]byte{0, 0}))
	require.NoError(t, s.CommitAudio())
	_, err := s.Chat(context.Background(), &inference.ChatRequest{})
	require.NoError(t, err)

	select {
	case text := <-got:
		assert.Equal(t, "lights on", text)
	case <-time.After(time.Second):
		t.Fatal("transcript not delivered")
	}
	assert.Len(t, fs.messages("input_audio_buffer.append"), 1)
	assert.Len(t, fs.messages("input_audio_buffer.commit"), 1)
}

func TestDialRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := Dial(context.Background(),
		WithURL("ws"+strings.TrimPrefix(srv.URL, "http")),
		WithAPIKey("bad"),
		WithLogger(quiet()),
	)
	var be *inference.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, http.StatusUnauthorized, be.StatusCode)
}

func TestDialRequiresKey(t *testing.T) {
	_, err := Dial(context.Background(), WithLogger(quiet()))
	assert.True(t, errors.Is(err, ErrMissingAPIKey))
}

func TestCloseIsIdempotent(t *testing.T) {
	s := dial(t, newFakeServer(t, nil))
	assert.NoError(t, s.Close())
	assert.NoError(t, s.Close())

	_, err := s.Chat(context.Background(), &inference.ChatRequest{Messages: []inference.Message{inference.NewUserMessage("hi")}})
	assert.Error(t, err)
}
