package web

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-jarvis/internal/log"
	"github.com/teslashibe/go-jarvis/pkg/agent"
	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/speech"
	"github.com/teslashibe/go-jarvis/pkg/tool"
	"github.com/teslashibe/go-jarvis/pkg/tools"
	"github.com/teslashibe/go-jarvis/pkg/transcribe"
)

type fixture struct {
	server *Server
	agent  *agent.Agent
	runLog *tool.RunLog
}

func newFixture(t *testing.T, replies ...inference.Reply) *fixture {
	t.Helper()

	runLog := tool.NewRunLog(filepath.Join(t.TempDir(), "runtime.jsonl"), log.Discard())
	reg := tool.NewRegistry(tool.WithLogger(log.Discard()), tool.WithRunLog(runLog))
	require.NoError(t, tools.Register(reg, tools.Deps{Logger: log.Discard()}))

	a := agent.New(inference.NewScript(replies...), reg, transcribe.NewMock(), speech.NewMock(),
		agent.WithSystemPrompt("sys"), agent.WithLogger(log.Discard()))
	require.NoError(t, a.Init(context.Background()))

	s := NewServer(a, runLog, log.Discard())
	a.AddObserver(s)
	t.Cleanup(func() { s.Shutdown() })
	return &fixture{server: s, agent: a, runLog: runLog}
}

func (f *fixture) do(t *testing.T, method, path, body string) (int, []byte) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.server.App().Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, data
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, code)

	var got struct {
		Agent   agent.Status `json:"agent"`
		Clients int          `json:"dashboard_clients"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, 2, got.Agent.Tools)
	assert.Equal(t, 1, got.Agent.Messages)
	assert.Contains(t, string(body), `"state":"awaiting_utterance"`)
}

func TestListTools(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/tools", "")
	require.Equal(t, http.StatusOK, code)

	var got []ToolInfo
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, tools.GetCurrentTime, got[0].Name)
	assert.NotEmpty(t, got[0].Description)
}

func TestExecuteTool(t *testing.T) {
	f := newFixture(t)

	code, body := f.do(t, http.MethodPost, "/api/tools/get_random_number", "")
	require.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(body), `"status":"success"`)
	assert.Contains(t, string(body), `"random_number"`)

	code, body = f.do(t, http.MethodPost, "/api/tools/nope", `{"args":{}}`)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, string(body), `"status":"error"`)

	code, _ = f.do(t, http.MethodPost, "/api/tools/get_random_number", `{not json`)
	assert.Equal(t, http.StatusBadRequest, code)

	events := f.server.Recent()
	require.NotEmpty(t, events)
	assert.Equal(t, agent.EventToolResult, events[len(events)-1].Type)

	entries, err := f.runLog.Recent(10)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestExecuteToolConflictsWithTurn(t *testing.T) {
	release := make(chan struct{})
	f := newFixture(t, inference.Reply{Message: inference.NewAssistantMessage("hi"), Wait: release})

	done := make(chan error, 1)
	go func() {
		done <- f.agent.HandleUtterance(context.Background(), transcribe.NewUtterance("hello"))
	}()
	require.Eventually(t, func() bool { return f.agent.State() == agent.StateProcessing }, time.Second, time.Millisecond)

	code, body := f.do(t, http.MethodPost, "/api/tools/get_current_time", "")
	assert.Equal(t, http.StatusConflict, code)
	assert.Contains(t, string(body), "error")

	close(release)
	require.NoError(t, <-done)
}

func TestConversation(t *testing.T) {
	f := newFixture(t,
		inference.Reply{Message: inference.NewToolCallMessage("", inference.ToolCall{ID: "c1", Name: "get_current_time"})},
		inference.Reply{Message: inference.NewAssistantMessage("It is late.")},
	)
	require.NoError(t, f.agent.HandleUtterance(context.Background(), transcribe.NewUtterance("time?")))

	code, body := f.do(t, http.MethodGet, "/api/conversation", "")
	require.Equal(t, http.StatusOK, code)

	var got []ConversationEntry
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 5)
	assert.Equal(t, "system", got[0].Role)
	assert.Equal(t, "time?", got[1].Content)
	assert.Equal(t, []string{"get_current_time"}, got[2].ToolCalls)
	assert.Equal(t, "c1", got[3].ToolCallID)
	assert.Equal(t, "It is late.", got[4].Content)
}

func TestLogs(t *testing.T) {
	f := newFixture(t)
	code, body := f.do(t, http.MethodGet, "/api/logs", "")
	require.Equal(t, http.StatusOK, code)
	assert.JSONEq(t, `[]`, string(body))

	for range 3 {
		f.do(t, http.MethodPost, "/api/tools/get_current_time", "")
	}
	code, body = f.do(t, http.MethodGet, "/api/logs?limit=2", "")
	require.Equal(t, http.StatusOK, code)

	var entries []tool.RunEntry
	require.NoError(t, json.Unmarshal(body, &entries))
	require.Len(t, entries, 2)
	assert.Equal(t, tools.GetCurrentTime, entries[0].Tool)
}

func TestWebsocketRequiresUpgrade(t *testing.T) {
	f := newFixture(t)
	code, _ := f.do(t, http.MethodGet, "/ws/events", "")
	assert.Equal(t, http.StatusUpgradeRequired, code)
}

func TestEventsWebsocket(t *testing.T) {
	f := newFixture(t, inference.Reply{Message: inference.NewAssistantMessage("hello there")})
	f.server.Observe(agent.Event{Type: agent.EventError, Error: "earlier failure"})

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go f.server.Serve(ln)

	url := "ws://" + ln.Addr().String() + "/ws/events"
	var conn *websocket.Conn
	require.Eventually(t, func() bool {
		conn, _, err = websocket.DefaultDialer.Dial(url, nil)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
	defer conn.Close()

	read := func() agent.Event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var e agent.Event
		require.NoError(t, conn.ReadJSON(&e))
		return e
	}

	first := read()
	assert.Equal(t, agent.EventError, first.Type)
	assert.Equal(t, "earlier failure", first.Error)

	require.Eventually(t, func() bool { return f.server.events.ClientCount() == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, f.agent.HandleUtterance(context.Background(), transcribe.NewUtterance("hi")))

	var sawReply bool
	for range 10 {
		e := read()
		if e.Type == agent.EventAssistantMessage {
			assert.Equal(t, "hello there", e.Text)
			sawReply = true
			break
		}
	}
	assert.True(t, sawReply)
}

func TestRecentIsBounded(t *testing.T) {
	f := newFixture(t)
	for i := range maxRecentEvents + 20 {
		f.server.Observe(agent.Event{Type: agent.EventStateChanged, Text: string(rune('a' + i%26))})
	}
	assert.Len(t, f.server.Recent(), maxRecentEvents)
}
