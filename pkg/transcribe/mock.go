package transcribe

import (
	"context"
	"sync"
)

// Mock is a Transcriber driven by the test.
type Mock struct {
	InitializeFunc func(ctx context.Context) error

	mu          sync.Mutex
	out         chan Utterance
	closed      bool
	initialized int
	listening   bool
	starts      int
	stops       int
}

// NewMock creates a mock with a buffered channel.
func NewMock() *Mock {
	return &Mock{out: make(chan Utterance, 64)}
}

func (m *Mock) Initialize(ctx context.Context) error {
	if m.InitializeFunc != nil {
		if err := m.InitializeFunc(ctx); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.initialized++
	return nil
}

func (m *Mock) StartListening(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized == 0 {
		return ErrNotInitialized
	}
	m.listening = true
	m.starts++
	return nil
}

func (m *Mock) StopListening() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listening {
		m.stops++
	}
	m.listening = false
	return nil
}

func (m *Mock) Utterances() <-chan Utterance { return m.out }

// Say delivers text as a fresh utterance and returns it.
func (m *Mock) Say(text string) Utterance {
	u := NewUtterance(text)
	m.Deliver(u)
	return u
}

// Deliver sends u as is, so tests can replay an ID.
func (m *Mock) Deliver(u Utterance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.out <- u
	}
}

// Close ends the utterance stream.
func (m *Mock) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.out)
	}
}

// Listening reports whether StartListening is in effect.
func (m *Mock) Listening() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listening
}

// Counts returns how often Initialize, StartListening and StopListening ran.
func (m *Mock) Counts() (initialized, starts, stops int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.initialized, m.starts, m.stops
}

var _ Transcriber = (*Mock)(nil)
