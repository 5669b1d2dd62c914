package transcribe

import (
	"context"
	"log/slog"
	"strings"
	"sync"
)

// Relay is a Transcriber fed by another component, such as a realtime
// session that transcribes the audio streamed to it.
type Relay struct {
	start  func(ctx context.Context) error
	stop   func() error
	logger *slog.Logger

	mu          sync.Mutex
	out         chan Utterance
	initialized bool
	listening   bool
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithRelayHooks runs start on StartListening and stop on StopListening,
// typically to pump microphone audio into the transcribing component.
func WithRelayHooks(start func(ctx context.Context) error, stop func() error) RelayOption {
	return func(r *Relay) {
		r.start = start
		r.stop = stop
	}
}

// WithRelayLogger sets the logger.
func WithRelayLogger(logger *slog.Logger) RelayOption {
	return func(r *Relay) { r.logger = logger }
}

// NewRelay creates a relay.
func NewRelay(opts ...RelayOption) *Relay {
	r := &Relay{out: make(chan Utterance, 16), logger: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "transcribe.relay")
	return r
}

func (r *Relay) Initialize(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.initialized = true
	return nil
}

func (r *Relay) StartListening(ctx context.Context) error {
	r.mu.Lock()
	if !r.initialized {
		r.mu.Unlock()
		return ErrNotInitialized
	}
	if r.listening {
		r.mu.Unlock()
		return nil
	}
	r.listening = true
	r.mu.Unlock()

	if r.start != nil {
		if err := r.start(ctx); err != nil {
			r.mu.Lock()
			r.listening = false
			r.mu.Unlock()
			return err
		}
	}
	return nil
}

func (r *Relay) StopListening() error {
	r.mu.Lock()
	was := r.listening
	r.listening = false
	r.mu.Unlock()

	if was && r.stop != nil {
		return r.stop()
	}
	return nil
}

func (r *Relay) Utterances() <-chan Utterance { return r.out }

// Push delivers text as an utterance. It reports false when the text was
// dropped: blank, not listening, or the consumer is too far behind.
func (r *Relay) Push(text string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.listening {
		r.logger.Debug("discarding transcript while not listening")
		return false
	}
	select {
	case r.out <- NewUtterance(text):
		return true
	default:
		r.logger.Warn("utterance queue full, dropping transcript")
		return false
	}
}

var _ Transcriber = (*Relay)(nil)
