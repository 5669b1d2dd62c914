package audioio

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource generates synthetic audio (silence or a sine wave) on a
// ticker, or only what is passed to Inject when created with WithManualFeed.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	stream  chan AudioChunk
	stopCh  chan struct{}
	senders sync.WaitGroup

	chunks  atomic.Int64
	samples atomic.Int64

	manual    bool
	phase     float64
	frequency float64
	amplitude float64
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave generates a tone instead of silence.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithManualFeed disables the generator; chunks come only from Inject.
func WithManualFeed() MockSourceOption {
	return func(m *MockSource) { m.manual = true }
}

// NewMockSource creates a mock source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MockSource{
		cfg:       cfg,
		logger:    logger,
		stream:    make(chan AudioChunk, 16),
		stopCh:    make(chan struct{}),
		amplitude: 0.5,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrClosed
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.stream = make(chan AudioChunk, 16)
	if !m.manual {
		m.senders.Add(1)
		go m.generateLoop(ctx, m.stream, m.stopCh)
	}

	m.logger.Debug("mock audio source started", "sample_rate", m.cfg.SampleRate, "frequency", m.frequency)
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stream chan AudioChunk, stop chan struct{}) {
	ticker := time.NewTicker(m.cfg.BufferDuration)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.senders.Done()
			m.Stop()
			return
		case <-stop:
			m.senders.Done()
			return
		case <-ticker.C:
			chunk := m.generateChunk()
			select {
			case stream <- chunk:
				m.chunks.Add(1)
				m.samples.Add(int64(len(chunk.Samples)))
			default:
			}
		}
	}
}

func (m *MockSource) generateChunk() AudioChunk {
	frames := m.cfg.BufferSize()
	samples := make([]int16, frames*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < frames; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	return AudioChunk{Samples: samples, SampleRate: m.cfg.SampleRate, Channels: m.cfg.Channels}
}

// Inject delivers a chunk to the stream, blocking until it is consumed,
// ctx ends, or the source stops.
func (m *MockSource) Inject(ctx context.Context, chunk AudioChunk) error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.senders.Add(1)
	stream, stop := m.stream, m.stopCh
	m.mu.Unlock()
	defer m.senders.Done()

	if chunk.SampleRate == 0 {
		chunk.SampleRate = m.cfg.SampleRate
	}
	if chunk.Channels == 0 {
		chunk.Channels = m.cfg.Channels
	}

	select {
	case stream <- chunk:
		m.chunks.Add(1)
		m.samples.Add(int64(len(chunk.Samples)))
		return nil
	case <-stop:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop halts generation and closes the stream once pending senders return.
func (m *MockSource) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return nil
	}
	m.running = false
	close(m.stopCh)
	stream := m.stream
	m.mu.Unlock()

	m.senders.Wait()
	close(stream)
	m.logger.Debug("mock audio source stopped")
	return nil
}

// Read returns the next chunk.
func (m *MockSource) Read(ctx context.Context) (AudioChunk, error) {
	return readStream(ctx, m.Stream())
}

// Stream returns the chunk channel of the current run.
func (m *MockSource) Stream() <-chan AudioChunk {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream
}

func (m *MockSource) Config() Config { return m.cfg }
func (m *MockSource) Name() string   { return string(BackendMock) }

// Close stops the source permanently.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stats returns generation counters.
func (m *MockSource) Stats() Stats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return Stats{Chunks: m.chunks.Load(), Samples: m.samples.Load(), Running: running, Backend: m.Name()}
}

// MockSink records everything written and flushed.
type MockSink struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	closed  bool
	pending []int16
	played  []int16
	flushes int
	clears  int

	chunks  atomic.Int64
	samples atomic.Int64

	// WriteFunc, when set, is called for every Write.
	WriteFunc func(ctx context.Context, chunk AudioChunk) error
}

// NewMockSink creates a mock sink.
func NewMockSink(cfg Config, logger *slog.Logger) *MockSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &MockSink{cfg: cfg, logger: logger}
}

// Start enables writes.
func (m *MockSink) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	m.running = true
	return nil
}

// Stop disables writes.
func (m *MockSink) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.running = false
	m.pending = nil
	return nil
}

// Write queues samples.
func (m *MockSink) Write(ctx context.Context, chunk AudioChunk) error {
	if m.WriteFunc != nil {
		if err := m.WriteFunc(ctx, chunk); err != nil {
			return err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return ErrClosed
	}
	if !m.running {
		return ErrNotRunning
	}
	m.pending = append(m.pending, chunk.Samples...)
	m.chunks.Add(1)
	m.samples.Add(int64(len(chunk.Samples)))
	return nil
}

// Flush moves queued samples to the played buffer.
func (m *MockSink) Flush(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.played = append(m.played, m.pending...)
	m.pending = nil
	m.flushes++
	return nil
}

// Clear drops queued samples.
func (m *MockSink) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = nil
	m.clears++
	return nil
}

// Played returns a copy of all flushed samples.
func (m *MockSink) Played() []int16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]int16(nil), m.played...)
}

// Flushes returns the number of Flush calls.
func (m *MockSink) Flushes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flushes
}

// Clears returns the number of Clear calls.
func (m *MockSink) Clears() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clears
}

func (m *MockSink) Config() Config { return m.cfg }
func (m *MockSink) Name() string   { return string(BackendMock) }

// Close disables the sink permanently.
func (m *MockSink) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return m.Stop()
}

// Stats returns write counters.
func (m *MockSink) Stats() Stats {
	m.mu.Lock()
	running := m.running
	m.mu.Unlock()
	return Stats{Chunks: m.chunks.Load(), Samples: m.samples.Load(), Running: running, Backend: m.Name()}
}
