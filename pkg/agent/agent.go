// Package agent implements the conversation loop: it turns each user
// utterance into zero or more tool invocations and a final spoken reply.
//
// The loop is single-flight. An utterance that arrives while a turn is in
// progress is dropped, not queued, because tool side effects must not
// interleave. A failed turn is rolled back out of the history and answered
// with a spoken apology; it never ends the session.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/speech"
	"github.com/teslashibe/go-jarvis/pkg/tool"
	"github.com/teslashibe/go-jarvis/pkg/transcribe"
)

// DefaultMaxToolRounds bounds model calls answered with tool calls in one turn.
const DefaultMaxToolRounds = 8

// ReplySampleRate is the rate of PCM audio attached to model replies.
const ReplySampleRate = 24000

// maxSeen is how many processed utterance IDs are remembered.
const maxSeen = 1000

// Config configures an Agent.
type Config struct {
	SystemPrompt  string
	Model         string
	MaxToolRounds int
	Logger        *slog.Logger
}

// Option configures an Agent.
type Option func(*Config)

// WithSystemPrompt sets the system message seeded at session start.
func WithSystemPrompt(prompt string) Option {
	return func(c *Config) { c.SystemPrompt = prompt }
}

// WithModel overrides the provider's default model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithMaxToolRounds bounds tool rounds per turn.
func WithMaxToolRounds(n int) Option {
	return func(c *Config) { c.MaxToolRounds = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// Status is a point-in-time summary of the loop.
type Status struct {
	State     State     `json:"state"`
	Running   bool      `json:"running"`
	Turns     int64     `json:"turns"`
	Dropped   int64     `json:"dropped"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
	Messages  int       `json:"messages"`
	Tools     int       `json:"tools"`
	StartedAt time.Time `json:"started_at,omitzero"`
}

// Agent owns one conversation.
type Agent struct {
	config      Config
	provider    inference.Provider
	registry    *tool.Registry
	transcriber transcribe.Transcriber
	output      speech.Output
	history     *History
	logger      *slog.Logger

	// busy is a one-slot semaphore held for the duration of a turn.
	busy  chan struct{}
	turns sync.WaitGroup

	mu          sync.Mutex
	state       State
	initialized bool
	running     bool
	cancel      context.CancelCauseFunc
	catalog     []map[string]any
	observers   []Observer
	seen        map[ulid.ULID]struct{}
	seenOrder   []ulid.ULID
	stats       Status
}

// New creates an agent. Call Init before Run.
func New(provider inference.Provider, registry *tool.Registry, transcriber transcribe.Transcriber, output speech.Output, opts ...Option) *Agent {
	cfg := Config{MaxToolRounds: DefaultMaxToolRounds}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = DefaultMaxToolRounds
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return &Agent{
		config:      cfg,
		provider:    provider,
		registry:    registry,
		transcriber: transcriber,
		output:      output,
		history:     NewHistory(),
		logger:      cfg.Logger.With("component", "agent"),
		busy:        make(chan struct{}, 1),
		seen:        make(map[ulid.ULID]struct{}),
	}
}

// AddObserver registers o for loop events.
func (a *Agent) AddObserver(o Observer) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.observers = append(a.observers, o)
}

// Init prepares a session: it initializes the transcriber, reseeds the
// history, builds the tool catalog and checks the provider.
func (a *Agent) Init(ctx context.Context) error {
	if err := a.transcriber.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize transcriber: %w", err)
	}

	catalog, err := tool.BuildCatalog(a.registry.Definitions(), a.provider.ToolShape())
	if err != nil {
		return fmt.Errorf("build tool catalog: %w", err)
	}

	if err := a.provider.Health(ctx); err != nil {
		return fmt.Errorf("provider health: %w", err)
	}

	a.history.Reset(a.config.SystemPrompt)

	a.mu.Lock()
	a.catalog = catalog
	a.initialized = true
	a.mu.Unlock()

	a.logger.Info("session initialized", "tools", len(catalog), "shape", a.provider.ToolShape())
	a.setState(StateAwaitingUtterance)
	return nil
}

// Run listens for utterances until ctx ends, Stop is called or the
// transcriber closes its stream. In-flight turns are waited for.
func (a *Agent) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	a.mu.Lock()
	switch {
	case !a.initialized:
		a.mu.Unlock()
		return ErrNotInitialized
	case a.running:
		a.mu.Unlock()
		return ErrAlreadyRunning
	}
	a.running = true
	a.cancel = cancel
	a.stats.StartedAt = time.Now()
	a.mu.Unlock()

	defer func() {
		a.turns.Wait()
		if err := a.transcriber.StopListening(); err != nil {
			a.logger.Warn("stop listening", "error", err)
		}
		a.mu.Lock()
		a.running = false
		a.cancel = nil
		a.mu.Unlock()
		a.setState(StateIdle)
	}()

	if err := a.transcriber.StartListening(ctx); err != nil {
		return fmt.Errorf("start listening: %w", err)
	}
	a.logger.Info("listening for utterances")

	utterances := a.transcriber.Utterances()
	for {
		select {
		case <-ctx.Done():
			if errors.Is(context.Cause(ctx), errStopped) {
				return nil
			}
			return ctx.Err()
		case u, ok := <-utterances:
			if !ok {
				a.logger.Info("utterance stream closed")
				return nil
			}
			a.dispatch(ctx, u)
		}
	}
}

// Stop cancels the in-flight turn and makes Run return.
func (a *Agent) Stop() {
	a.mu.Lock()
	cancel := a.cancel
	a.mu.Unlock()
	if cancel != nil {
		cancel(errStopped)
	}
}

// HandleUtterance runs one turn synchronously. It fails with ErrBusy
// while another turn is in flight and ErrDuplicateUtterance for an ID
// already handled. The returned error is the turn's failure, if any; the
// apology has already been spoken.
func (a *Agent) HandleUtterance(ctx context.Context, u transcribe.Utterance) error {
	if err := a.admit(u); err != nil {
		return err
	}
	defer a.release()
	return a.turn(ctx, u)
}

// ExecuteTool runs a tool outside a conversation turn, under the same
// single-flight guard. It fails with ErrBusy while a turn is in flight.
func (a *Agent) ExecuteTool(ctx context.Context, name string, args map[string]tool.Value) (tool.Result, error) {
	select {
	case a.busy <- struct{}{}:
	default:
		return nil, ErrBusy
	}
	defer a.release()

	a.emit(Event{Type: EventToolCall, Tool: name})
	result, err := a.registry.Execute(ctx, name, args)
	a.emit(Event{Type: EventToolResult, Tool: name, Result: result})
	return result, err
}

// dispatch starts a turn for u in the background, or drops it.
func (a *Agent) dispatch(ctx context.Context, u transcribe.Utterance) {
	if err := a.admit(u); err != nil {
		return
	}
	a.turns.Add(1)
	go func() {
		defer a.turns.Done()
		defer a.release()
		_ = a.turn(ctx, u)
	}()
}

// admit dedupes u and acquires the turn semaphore without waiting.
func (a *Agent) admit(u transcribe.Utterance) error {
	a.mu.Lock()
	if !a.initialized {
		a.mu.Unlock()
		return ErrNotInitialized
	}
	if !a.markSeen(u.ID) {
		a.mu.Unlock()
		a.logger.Debug("duplicate utterance ignored", "id", u.ID)
		return ErrDuplicateUtterance
	}
	a.mu.Unlock()

	select {
	case a.busy <- struct{}{}:
		return nil
	default:
	}

	a.mu.Lock()
	a.stats.Dropped++
	a.mu.Unlock()
	a.logger.Info("utterance dropped, turn in progress", "id", u.ID, "text", u.Text)
	a.emit(Event{Type: EventUtteranceDropped, UtteranceID: u.ID.String(), Text: u.Text})
	return ErrBusy
}

func (a *Agent) release() {
	select {
	case <-a.busy:
	default:
	}
}

// markSeen records id and reports whether it is new. Caller holds a.mu.
func (a *Agent) markSeen(id ulid.ULID) bool {
	if id.IsZero() {
		return true
	}
	if _, ok := a.seen[id]; ok {
		return false
	}
	a.seen[id] = struct{}{}
	a.seenOrder = append(a.seenOrder, id)
	if len(a.seenOrder) > maxSeen {
		drop := len(a.seenOrder) - maxSeen
		for _, old := range a.seenOrder[:drop] {
			delete(a.seen, old)
		}
		a.seenOrder = append(a.seenOrder[:0], a.seenOrder[drop:]...)
	}
	return true
}

// turn processes one utterance end to end. On failure the messages it
// staged are removed again and an apology is spoken. A panic in the
// provider or the output fails the turn the same way.
func (a *Agent) turn(ctx context.Context, u transcribe.Utterance) (err error) {
	mark := a.history.Len()
	logger := a.logger.With("utterance", u.ID)
	logger.Info("turn started", "text", u.Text)

	defer func() {
		if p := recover(); p != nil {
			logger.Error("turn panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("%w: %v", ErrPanic, p)
			a.history.Truncate(mark)
			a.failSafely(ctx, err, logger)
			a.setState(StateAwaitingUtterance)
		}
	}()

	a.mu.Lock()
	a.stats.Turns++
	a.mu.Unlock()

	reply, err := a.converse(ctx, u, logger)
	if err != nil {
		a.history.Truncate(mark)
		a.fail(ctx, err, logger)
		a.setState(StateAwaitingUtterance)
		return err
	}

	a.setState(StateSpeaking)
	a.speak(ctx, reply, logger)
	a.setState(StateAwaitingUtterance)
	logger.Info("turn finished")
	return nil
}

// converse runs the Processing/ExecutingTool cycle until the model
// answers without tool calls.
func (a *Agent) converse(ctx context.Context, u transcribe.Utterance, logger *slog.Logger) (*inference.ChatResponse, error) {
	a.history.Append(inference.NewUserMessage(u.Text))
	a.emit(Event{Type: EventUserMessage, UtteranceID: u.ID.String(), Text: u.Text})

	a.mu.Lock()
	catalog := a.catalog
	a.mu.Unlock()

	for round := 0; ; round++ {
		a.setState(StateProcessing)

		resp, err := a.provider.Chat(ctx, &inference.ChatRequest{
			Messages:   a.history.Messages(),
			Model:      a.config.Model,
			Tools:      catalog,
			ToolChoice: "auto",
		})
		if err != nil {
			return nil, err
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if resp == nil {
			return nil, &inference.ProtocolError{Provider: "agent", Message: "provider returned no reply"}
		}

		msg := resp.Message
		msg.Role = inference.RoleAssistant
		if !resp.HasToolCalls() {
			a.history.Append(msg)
			a.emit(Event{Type: EventAssistantMessage, Text: msg.Content})
			return resp, nil
		}
		if round >= a.config.MaxToolRounds {
			return nil, fmt.Errorf("%w: %d", ErrTooManyToolRounds, a.config.MaxToolRounds)
		}
		a.history.Append(msg)

		logger.Debug("model requested tools", "round", round, "calls", len(msg.ToolCalls))
		a.setState(StateExecutingTool)
		for _, call := range msg.ToolCalls {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			a.history.Append(a.execute(ctx, call, logger))
		}
	}
}

// execute runs one tool call and renders its result as a tool message.
// Tool failures become error results the model can react to.
func (a *Agent) execute(ctx context.Context, call inference.ToolCall, logger *slog.Logger) inference.Message {
	a.emit(Event{Type: EventToolCall, Tool: call.Name, ToolCallID: call.ID, Arguments: call.Arguments})

	var result tool.Result
	args, err := tool.ParseArguments(call.Arguments)
	if err != nil {
		logger.Warn("unparseable tool arguments", "tool", call.Name, "error", err)
		result = tool.Failure(fmt.Sprintf("Invalid arguments for %s: %v", call.Name, err))
	} else {
		result, err = a.registry.Execute(ctx, call.Name, args)
		if err != nil {
			logger.Info("tool call failed", "tool", call.Name, "error", err)
		}
	}

	a.emit(Event{Type: EventToolResult, Tool: call.Name, ToolCallID: call.ID, Result: result})

	content, err := json.Marshal(result)
	if err != nil {
		content, _ = json.Marshal(tool.Failure(fmt.Sprintf("unencodable result: %v", err)))
	}
	return inference.NewToolMessage(call.ID, string(content))
}

// speak delivers the final reply. Reply audio is played directly when the
// output can play PCM; otherwise the text is synthesized.
func (a *Agent) speak(ctx context.Context, resp *inference.ChatResponse, logger *slog.Logger) {
	text := resp.Message.Content

	if len(resp.Audio) > 0 {
		if p, ok := a.output.(speech.Player); ok {
			if err := p.Play(ctx, resp.Audio, ReplySampleRate); err != nil && ctx.Err() == nil {
				logger.Warn("reply playback failed", "error", err)
			}
			return
		}
	}
	if text == "" {
		logger.Debug("empty reply, nothing to say")
		return
	}
	if err := a.output.Speak(ctx, text); err != nil && ctx.Err() == nil {
		logger.Warn("speak failed", "error", err)
	}
}

// failSafely is fail for the panic path, where the output itself may be
// what panicked.
func (a *Agent) failSafely(ctx context.Context, err error, logger *slog.Logger) {
	defer func() {
		if p := recover(); p != nil {
			logger.Error("apology panicked", "panic", p)
		}
	}()
	a.fail(ctx, err, logger)
}

func (a *Agent) fail(ctx context.Context, err error, logger *slog.Logger) {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		logger.Info("turn cancelled", "error", err)
		return
	}

	logger.Error("turn failed", "error", err)
	a.mu.Lock()
	a.stats.Failures++
	a.stats.LastError = err.Error()
	a.mu.Unlock()
	a.emit(Event{Type: EventError, Error: err.Error()})

	apology := Apology(err)
	a.setState(StateSpeaking)
	if serr := a.output.Speak(ctx, apology); serr != nil {
		logger.Warn("apology failed", "error", serr)
	}
}

func (a *Agent) setState(s State) {
	a.mu.Lock()
	if a.state == s {
		a.mu.Unlock()
		return
	}
	prev := a.state
	a.state = s
	a.mu.Unlock()

	a.logger.Debug("state changed", "from", prev, "to", s)
	a.emit(Event{Type: EventStateChanged})
}

func (a *Agent) emit(e Event) {
	a.mu.Lock()
	observers := a.observers
	e.State = a.state
	a.mu.Unlock()

	if e.At.IsZero() {
		e.At = time.Now()
	}
	for _, o := range observers {
		o.Observe(e)
	}
}

// State returns the current loop state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// History returns a copy of the conversation transcript.
func (a *Agent) History() []inference.Message {
	return a.history.Messages()
}

// Registry returns the tool registry the agent dispatches to.
func (a *Agent) Registry() *tool.Registry {
	return a.registry
}

// Status returns loop counters.
func (a *Agent) Status() Status {
	a.mu.Lock()
	st := a.stats
	st.State = a.state
	st.Running = a.running
	a.mu.Unlock()
	st.Messages = a.history.Len()
	st.Tools = a.registry.Len()
	return st
}
