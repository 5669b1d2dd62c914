// Package realtime implements inference.Provider over the OpenAI Realtime
// API. A Session keeps one WebSocket open; each Chat call pushes the
// conversation messages the server has not seen yet, requests a response
// and assembles the streamed events into a single reply.
package realtime

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

// sentItem records one history message already pushed to the server and
// the conversation items that represent it there.
type sentItem struct {
	key   string
	items []string
}

// turn is the event sink of the response currently being assembled.
type turn struct {
	events chan Event
	done   chan struct{}
}

// Session is a realtime conversation over a single WebSocket.
type Session struct {
	config *Config
	logger *slog.Logger
	id     string

	conn    *websocket.Conn
	writeMu sync.Mutex

	// turnMu serializes Chat calls.
	turnMu sync.Mutex

	mu           sync.Mutex
	active       *turn
	serverID     string
	sent         []sentItem        // history prefix the server holds
	output       []string          // items of the last reply, not yet in history
	deletes      map[string]string // delete event ID -> item ID
	configured   bool
	instructions string // last instructions sent
	toolsSig     string // last tool catalog sent
	readErr      error
	shutdown     bool

	closed    chan struct{}
	closeOnce sync.Once
}

// Dial connects to the realtime endpoint and configures the session.
func Dial(ctx context.Context, opts ...Option) (*Session, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("realtime: parse url: %w", err)
	}
	q := u.Query()
	q.Set("model", cfg.Model)
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+cfg.APIKey)
	headers.Set("OpenAI-Beta", "realtime=v1")

	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	s := &Session{
		config: cfg,
		id:      uuid.NewString(),
		deletes: make(map[string]string),
		closed:  make(chan struct{}),
	}
	s.logger = cfg.Logger.With("component", "realtime.session", "session", s.id)
	s.logger.Info("connecting to realtime API", "model", cfg.Model)

	conn, resp, err := dialer.DialContext(ctx, u.String(), headers)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if resp != nil && resp.StatusCode >= 400 {
			return nil, &inference.BackendError{
				Provider:   provider,
				StatusCode: resp.StatusCode,
				Message:    "handshake rejected: " + resp.Status,
			}
		}
		return nil, &inference.TransportError{Provider: provider, Op: "dial", Err: err}
	}
	s.conn = conn

	conn.SetPingHandler(func(appData string) error {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	go s.readLoop()
	if cfg.PingInterval > 0 {
		go s.keepAlive()
	}

	if err := s.updateSession(cfg.Instructions, nil); err != nil {
		s.Close()
		return nil, err
	}

	s.logger.Info("connected to realtime API")
	return s, nil
}

// ID returns the local session identifier.
func (s *Session) ID() string { return s.id }

// ToolShape implements inference.Provider. Sessions take flat tool entries.
func (s *Session) ToolShape() tool.Shape { return tool.ShapeFlat }

// Health reports whether the connection is still open.
func (s *Session) Health(ctx context.Context) error {
	select {
	case <-s.closed:
		return s.closeError()
	default:
		return nil
	}
}

// Chat pushes unsent messages, requests a response and waits for it.
//
// User messages become input_text items and tool messages become
// function_call_output items. Assistant messages are skipped: the server
// already holds its own output. The last system message becomes the
// session instructions.
func (s *Session) Chat(ctx context.Context, req *inference.ChatRequest) (*inference.ChatResponse, error) {
	s.turnMu.Lock()
	defer s.turnMu.Unlock()

	start := time.Now()

	if err := s.sync(req); err != nil {
		return nil, err
	}

	t := &turn{events: make(chan Event, 256), done: make(chan struct{})}
	s.mu.Lock()
	s.active = t
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.active = nil
		s.mu.Unlock()
		close(t.done)
	}()

	if err := s.send(map[string]any{"type": "response.create"}); err != nil {
		return nil, err
	}

	acc := NewAccumulator(s.logger)
	for {
		select {
		case <-ctx.Done():
			if err := s.send(map[string]any{"type": "response.cancel"}); err != nil {
				s.logger.Debug("cancel response", "error", err)
			}
			s.discard(acc.ItemIDs())
			return nil, ctx.Err()

		case <-s.closed:
			return nil, s.closeError()

		case ev := <-t.events:
			done, err := acc.Handle(ev)
			if err != nil {
				if ev.Type != EventResponseDone {
					s.send(map[string]any{"type": "response.cancel"})
				}
				s.discard(acc.ItemIDs())
				return nil, err
			}
			if done {
				s.mu.Lock()
				s.output = acc.ItemIDs()
				s.mu.Unlock()

				resp := acc.Response()
				resp.Model = s.config.Model
				resp.LatencyMs = time.Since(start).Milliseconds()
				return resp, nil
			}
		}
	}
}

// sync brings the server conversation in line with req.Messages.
//
// The longest prefix of the history the server already holds is kept.
// Items behind it were rolled back locally and are deleted; messages past
// it are pushed. User messages become input_text items and tool messages
// become function_call_output items. An assistant message is matched to
// the output items of the reply it came from.
func (s *Session) sync(req *inference.ChatRequest) error {
	s.mu.Lock()
	sent, output := s.sent, s.output
	s.output = nil
	s.mu.Unlock()

	keys := make([]string, len(req.Messages))
	for i, m := range req.Messages {
		keys[i] = fingerprint(m)
	}
	common := 0
	for common < len(sent) && common < len(keys) && sent[common].key == keys[common] {
		common++
	}

	if common < len(sent) {
		var stale []string
		for _, it := range sent[common:] {
			stale = append(stale, it.items...)
		}
		s.logger.Debug("history diverged, deleting server items",
			"kept", common, "dropped", len(sent)-common, "items", len(stale))
		sent = sent[:common]
		s.setSent(sent)
		if err := s.deleteItems(stale); err != nil {
			return err
		}
	}
	if len(output) > 0 && (common >= len(keys) || req.Messages[common].Role != inference.RoleAssistant) {
		s.logger.Debug("reply was not kept, deleting its items", "items", len(output))
		if err := s.deleteItems(output); err != nil {
			return err
		}
		output = nil
	}

	instructions := ""
	for _, m := range req.Messages {
		if m.Role == inference.RoleSystem {
			instructions = m.Content
		}
	}
	if err := s.updateSession(instructions, req.Tools); err != nil {
		return err
	}

	sent = sent[:common:common]
	defer func() { s.setSent(sent) }()

	for i := common; i < len(req.Messages); i++ {
		m := req.Messages[i]
		rec := sentItem{key: keys[i]}

		var item map[string]any
		switch m.Role {
		case inference.RoleUser:
			item = map[string]any{
				"type":    "message",
				"role":    "user",
				"content": []map[string]any{{"type": "input_text", "text": m.Content}},
			}
		case inference.RoleTool:
			item = map[string]any{
				"type":    "function_call_output",
				"call_id": m.ToolCallID,
				"output":  m.Content,
			}
		case inference.RoleAssistant:
			// The server already holds its own output.
			rec.items, output = output, nil
		}
		if item != nil {
			id := newItemID()
			item["id"] = id
			if err := s.send(map[string]any{"type": "conversation.item.create", "item": item}); err != nil {
				return err
			}
			rec.items = []string{id}
		}
		sent = append(sent, rec)
	}
	return nil
}

func (s *Session) setSent(sent []sentItem) {
	s.mu.Lock()
	s.sent = sent
	s.mu.Unlock()
}

// deleteItems removes conversation items from the server, newest first.
func (s *Session) deleteItems(ids []string) error {
	for i := len(ids) - 1; i >= 0; i-- {
		eventID := "del_" + uuid.NewString()
		s.mu.Lock()
		s.deletes[eventID] = ids[i]
		s.mu.Unlock()
		err := s.send(map[string]any{
			"type":     "conversation.item.delete",
			"event_id": eventID,
			"item_id":  ids[i],
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// discard deletes the items of a reply that failed or was cancelled.
func (s *Session) discard(ids []string) {
	if len(ids) == 0 {
		return
	}
	if err := s.deleteItems(ids); err != nil {
		s.logger.Debug("discard reply items", "error", err)
	}
}

// fingerprint identifies a history message for prefix comparison.
func fingerprint(m inference.Message) string {
	var b strings.Builder
	b.WriteString(string(m.Role))
	b.WriteByte(0)
	b.WriteString(m.Content)
	b.WriteByte(0)
	b.WriteString(m.ToolCallID)
	for _, c := range m.ToolCalls {
		b.WriteByte(0)
		b.WriteString(c.ID)
		b.WriteByte(0)
		b.WriteString(c.Name)
		b.WriteByte(0)
		b.WriteString(c.Arguments)
	}
	return b.String()
}

// newItemID returns a client item ID within the server's 32 character limit.
func newItemID() string {
	return "item_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:27]
}

// updateSession sends session.update when instructions or tools changed.
// Empty instructions and nil tools keep the previous values.
func (s *Session) updateSession(instructions string, tools []map[string]any) error {
	sig := ""
	if tools != nil {
		data, err := json.Marshal(tools)
		if err != nil {
			return &inference.ProtocolError{Provider: provider, Message: "encode tools", Err: err}
		}
		sig = string(data)
	}

	s.mu.Lock()
	if instructions == "" {
		instructions = s.instructions
	}
	if tools == nil {
		sig = s.toolsSig
	}
	unchanged := s.configured && instructions == s.instructions && sig == s.toolsSig
	s.mu.Unlock()
	if unchanged {
		return nil
	}

	catalog := tools
	if catalog == nil && sig != "" {
		json.Unmarshal([]byte(sig), &catalog)
	}
	if catalog == nil {
		catalog = []map[string]any{}
	}

	td := s.config.TurnDetection
	msg := map[string]any{
		"type": "session.update",
		"session": map[string]any{
			"modalities":          []string{"text", "audio"},
			"instructions":        instructions,
			"voice":               s.config.Voice,
			"input_audio_format":  "pcm16",
			"output_audio_format": "pcm16",
			"input_audio_transcription": map[string]any{
				"model": s.config.TranscriptionModel,
			},
			"turn_detection": map[string]any{
				"type":                td.Type,
				"threshold":           td.Threshold,
				"prefix_padding_ms":   td.PrefixPaddingMs,
				"silence_duration_ms": td.SilenceDurationMs,
				"create_response":     td.CreateResponse,
			},
			"tools":       catalog,
			"tool_choice": "auto",
		},
	}
	if err := s.send(msg); err != nil {
		return err
	}

	s.mu.Lock()
	s.configured = true
	s.instructions = instructions
	s.toolsSig = sig
	s.mu.Unlock()
	s.logger.Debug("session updated", "tools", len(catalog))
	return nil
}

// AppendAudio adds PCM16 audio to the input buffer.
func (s *Session) AppendAudio(pcm []byte) error {
	return s.send(map[string]any{
		"type":  "input_audio_buffer.append",
		"audio": base64.StdEncoding.EncodeToString(pcm),
	})
}

// CommitAudio commits the input buffer as a user message.
func (s *Session) CommitAudio() error {
	return s.send(map[string]any{"type": "input_audio_buffer.commit"})
}

// ClearAudio discards the input buffer.
func (s *Session) ClearAudio() error {
	return s.send(map[string]any{"type": "input_audio_buffer.clear"})
}

// Close gracefully closes the connection.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		s.mu.Unlock()

		s.writeMu.Lock()
		_ = s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.writeMu.Unlock()
		s.conn.Close()
		s.logger.Info("disconnected from realtime API")
	})
	return nil
}

func (s *Session) send(msg any) error {
	select {
	case <-s.closed:
		return s.closeError()
	default:
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.config.WriteTimeout > 0 {
		_ = s.conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	if err := s.conn.WriteJSON(msg); err != nil {
		return &inference.TransportError{Provider: provider, Op: "write", Err: err}
	}
	return nil
}

func (s *Session) closeError() error {
	s.mu.Lock()
	err, shutdown := s.readErr, s.shutdown
	s.mu.Unlock()
	if err == nil || shutdown {
		return ErrClosed
	}
	return &inference.TransportError{Provider: provider, Op: "read", Err: err}
}

// readLoop decodes server events until the connection fails.
func (s *Session) readLoop() {
	defer close(s.closed)

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Info("connection closed")
			} else {
				s.logger.Debug("read failed", "error", err)
			}
			s.mu.Lock()
			s.readErr = err
			s.mu.Unlock()
			return
		}

		var ev Event
		if err := json.Unmarshal(data, &ev); err != nil {
			s.logger.Warn("failed to parse event", "error", err)
			continue
		}
		s.dispatch(ev)
	}
}

func (s *Session) dispatch(ev Event) {
	switch ev.Type {
	case EventSessionCreated:
		if ev.Session != nil {
			s.mu.Lock()
			s.serverID = ev.Session.ID
			s.mu.Unlock()
			s.logger.Info("session created", "server_id", ev.Session.ID)
		}
		return
	case EventSessionUpdated:
		s.logger.Debug("session update acknowledged")
		return
	case EventSpeechStarted, EventSpeechStopped:
		s.logger.Debug(ev.Type)
		return
	case EventInputTranscribed:
		if s.config.OnTranscript != nil && ev.Transcript != "" {
			s.config.OnTranscript(ev.Transcript)
		}
		return
	case EventItemDeleted:
		s.mu.Lock()
		for eventID, itemID := range s.deletes {
			if itemID == ev.ItemID {
				delete(s.deletes, eventID)
			}
		}
		s.mu.Unlock()
		s.logger.Debug("item deleted", "item_id", ev.ItemID)
		return
	case EventError:
		if ev.Error != nil && ev.Error.EventID != "" {
			s.mu.Lock()
			itemID, ok := s.deletes[ev.Error.EventID]
			delete(s.deletes, ev.Error.EventID)
			s.mu.Unlock()
			if ok {
				// Usually the item was never created because its reply was cut short.
				s.logger.Debug("delete rejected", "item_id", itemID, "message", ev.Error.Message)
				return
			}
		}
	}

	s.mu.Lock()
	t := s.active
	s.mu.Unlock()
	if t == nil {
		if ev.Type == EventError && ev.Error != nil {
			s.logger.Warn("server error outside a turn", "code", ev.Error.Code, "message", ev.Error.Message)
		}
		return
	}

	select {
	case t.events <- ev:
	case <-t.done:
	case <-s.closed:
	}
}

// keepAlive sends periodic pings to keep connection alive.
func (s *Session) keepAlive() {
	ticker := time.NewTicker(s.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.closed:
			return
		case <-ticker.C:
			s.writeMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			s.writeMu.Unlock()
			if err != nil {
				s.logger.Debug("keepalive failed", "error", err)
				return
			}
		}
	}
}

// Verify Session implements Provider at compile time.
var _ inference.Provider = (*Session)(nil)
