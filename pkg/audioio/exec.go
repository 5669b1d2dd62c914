package audioio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"sync/atomic"
)

func captureCommand(cfg Config) []string {
	rate, channels := strconv.Itoa(cfg.SampleRate), strconv.Itoa(cfg.Channels)
	if isLinux() {
		argv := []string{"arecord", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
		if cfg.Device != "" {
			argv = append(argv, "-D", cfg.Device)
		}
		return argv
	}
	return []string{"rec", "-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", channels, "-"}
}

func playbackCommand(cfg Config) []string {
	rate, channels := strconv.Itoa(cfg.SampleRate), strconv.Itoa(cfg.Channels)
	if isLinux() {
		argv := []string{"aplay", "-q", "-t", "raw", "-f", "S16_LE", "-r", rate, "-c", channels}
		if cfg.Device != "" {
			argv = append(argv, "-D", cfg.Device)
		}
		return argv
	}
	return []string{"play", "-q", "-t", "raw", "-b", "16", "-e", "signed-integer", "-r", rate, "-c", channels, "-"}
}

// ExecSource reads raw PCM16 from the stdout of a recorder process.
// The stream closes when the process exits or the source is stopped.
type ExecSource struct {
	cfg    Config
	argv   []string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stream  chan AudioChunk
	done    chan struct{}
	started bool
	running bool
	closed  bool

	chunks   atomic.Int64
	samples  atomic.Int64
	overruns atomic.Int64
}

// NewExecSource creates a source that runs cfg.CaptureCommand, or the
// platform recorder when unset.
func NewExecSource(cfg Config, logger *slog.Logger) (*ExecSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	argv := cfg.CaptureCommand
	if len(argv) == 0 {
		argv = captureCommand(cfg)
	}
	return &ExecSource{
		cfg:    cfg,
		argv:   argv,
		logger: logger.With("component", "audioio.exec_source"),
		stream: make(chan AudioChunk, 32),
	}, nil
}

// Start launches the recorder. ctx bounds the lifetime of the process.
func (s *ExecSource) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	if s.running {
		return nil
	}

	cmd := exec.CommandContext(ctx, s.argv[0], s.argv[1:]...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("pipe %s: %w", s.argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", s.argv[0], err)
	}

	if s.started {
		s.stream = make(chan AudioChunk, 32)
	}
	s.started = true
	s.running = true
	s.cmd = cmd
	s.done = make(chan struct{})
	go s.readLoop(cmd, stdout, s.stream, s.done)

	s.logger.Info("capture started", "command", s.argv[0], "pid", cmd.Process.Pid)
	return nil
}

func (s *ExecSource) readLoop(cmd *exec.Cmd, r io.Reader, stream chan AudioChunk, done chan struct{}) {
	defer close(done)
	defer close(stream)

	buf := make([]byte, s.cfg.BufferBytes())
	for {
		n, err := io.ReadFull(r, buf)
		if n >= 2 {
			chunk := ChunkFromBytes(buf[:n-n%2], s.cfg.SampleRate, s.cfg.Channels)
			select {
			case stream <- chunk:
				s.chunks.Add(1)
				s.samples.Add(int64(len(chunk.Samples)))
			default:
				s.overruns.Add(1)
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Warn("capture read failed", "error", err)
			}
			break
		}
	}

	if err := cmd.Wait(); err != nil {
		s.logger.Debug("recorder exited", "error", err)
	}
	s.mu.Lock()
	if s.cmd == cmd {
		s.running = false
	}
	s.mu.Unlock()
}

// Stop kills the recorder and waits for the stream to close.
func (s *ExecSource) Stop() error {
	s.mu.Lock()
	cmd, done := s.cmd, s.done
	s.running = false
	s.mu.Unlock()

	if cmd == nil {
		return nil
	}
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		s.logger.Debug("kill recorder", "error", err)
	}
	<-done
	return nil
}

// Read returns the next captured chunk.
func (s *ExecSource) Read(ctx context.Context) (AudioChunk, error) {
	return readStream(ctx, s.Stream())
}

// Stream returns the chunk channel of the current run.
func (s *ExecSource) Stream() <-chan AudioChunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stream
}

func (s *ExecSource) Config() Config { return s.cfg }
func (s *ExecSource) Name() string   { return string(BackendExec) }

// Close stops capture permanently.
func (s *ExecSource) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns capture counters.
func (s *ExecSource) Stats() Stats {
	s.mu.Lock()
	running := s.running
	s.mu.Unlock()
	return Stats{
		Chunks:   s.chunks.Load(),
		Samples:  s.samples.Load(),
		Overruns: s.overruns.Load(),
		Running:  running,
		Backend:  s.Name(),
	}
}

// ExecSink writes raw PCM16 to the stdin of a player process. The player
// is spawned on the first Write and runs until Flush, Clear or Stop.
type ExecSink struct {
	cfg    Config
	argv   []string
	logger *slog.Logger

	mu      sync.Mutex
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	running bool
	closed  bool

	chunks  atomic.Int64
	samples atomic.Int64
}

// NewExecSink creates a sink that runs cfg.PlaybackCommand, or the
// platform player when unset.
func NewExecSink(cfg Config, logger *slog.Logger) (*ExecSink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	argv := cfg.PlaybackCommand
	if len(argv) == 0 {
		argv = playbackCommand(cfg)
	}
	return &ExecSink{
		cfg:    cfg,
		argv:   argv,
		logger: logger.With("component", "audioio.exec_sink"),
	}, nil
}

// Start enables writes.
func (s *ExecSink) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.running = true
	return nil
}

func (s *ExecSink) player() (io.Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if !s.running {
		return nil, ErrNotRunning
	}
	if s.cmd != nil {
		return s.stdin, nil
	}

	cmd := exec.Command(s.argv[0], s.argv[1:]...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("pipe %s: %w", s.argv[0], err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", s.argv[0], err)
	}
	s.cmd, s.stdin = cmd, stdin
	s.logger.Debug("player started", "command", s.argv[0], "pid", cmd.Process.Pid)
	return stdin, nil
}

// Write pipes the chunk to the player, starting it if needed.
func (s *ExecSink) Write(ctx context.Context, chunk AudioChunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	w, err := s.player()
	if err != nil {
		return err
	}
	if _, err := w.Write(chunk.Bytes()); err != nil {
		return fmt.Errorf("write to %s: %w", s.argv[0], err)
	}
	s.chunks.Add(1)
	s.samples.Add(int64(len(chunk.Samples)))
	return nil
}

func (s *ExecSink) detach() (*exec.Cmd, io.WriteCloser) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, stdin := s.cmd, s.stdin
	s.cmd, s.stdin = nil, nil
	return cmd, stdin
}

// Flush closes the player's input and waits for it to finish playing.
// Cancelling ctx kills the player.
func (s *ExecSink) Flush(ctx context.Context) error {
	cmd, stdin := s.detach()
	if cmd == nil {
		return nil
	}
	stdin.Close()

	waited := make(chan error, 1)
	go func() { waited <- cmd.Wait() }()

	select {
	case <-ctx.Done():
		_ = cmd.Process.Kill()
		<-waited
		return ctx.Err()
	case err := <-waited:
		if err != nil {
			return fmt.Errorf("%s: %w", s.argv[0], err)
		}
		return nil
	}
}

// Clear kills the player, discarding anything not yet played.
func (s *ExecSink) Clear() error {
	cmd, stdin := s.detach()
	if cmd == nil {
		return nil
	}
	stdin.Close()
	if err := cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", s.argv[0], err)
	}
	_ = cmd.Wait()
	return nil
}

// Stop discards queued audio and disables writes.
func (s *ExecSink) Stop() error {
	err := s.Clear()
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	return err
}

func (s *ExecSink) Config() Config { return s.cfg }
func (s *ExecSink) Name() string   { return string(BackendExec) }

// Close stops the sink permanently.
func (s *ExecSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()
	return s.Stop()
}

// Stats returns playback counters.
func (s *ExecSink) Stats() Stats {
	s.mu.Lock()
	running := s.cmd != nil
	s.mu.Unlock()
	return Stats{
		Chunks:  s.chunks.Load(),
		Samples: s.samples.Load(),
		Running: running,
		Backend: s.Name(),
	}
}
