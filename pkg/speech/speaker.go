package speech

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/teslashibe/go-jarvis/pkg/audioio"
	"github.com/teslashibe/go-jarvis/pkg/tts"
)

// Speaker synthesizes text with a tts.Provider and plays it on an
// audioio.Sink. It implements Output and Player.
type Speaker struct {
	provider tts.Provider
	sink     audioio.Sink
	logger   *slog.Logger

	// playMu serializes playback so replies never overlap.
	playMu sync.Mutex
}

// NewSpeaker creates a speaker. The sink is started lazily on first use.
func NewSpeaker(provider tts.Provider, sink audioio.Sink, logger *slog.Logger) *Speaker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Speaker{
		provider: provider,
		sink:     sink,
		logger:   logger.With("component", "speech.speaker"),
	}
}

// Speak synthesizes text and blocks until it has been played.
func (s *Speaker) Speak(ctx context.Context, text string) error {
	result, err := s.provider.Synthesize(ctx, text)
	if err != nil {
		return fmt.Errorf("synthesize: %w", err)
	}
	s.logger.Debug("speaking", "chars", len(text), "duration", result.Duration, "latency_ms", result.LatencyMs)
	return s.Play(ctx, result.Audio, result.Format.SampleRate)
}

// Play writes pcm to the sink, resampling to the sink rate, and waits for
// playback to finish. Cancelling ctx clears the sink.
func (s *Speaker) Play(ctx context.Context, pcm []byte, sampleRate int) error {
	if len(pcm) == 0 {
		return nil
	}

	s.playMu.Lock()
	defer s.playMu.Unlock()

	cfg := s.sink.Config()
	if err := s.sink.Start(ctx); err != nil {
		return fmt.Errorf("start sink: %w", err)
	}

	samples := audioio.Resample(audioio.BytesToSamples(pcm), sampleRate, cfg.SampleRate)
	step := cfg.BufferSize() * cfg.Channels
	if step <= 0 {
		step = len(samples)
	}

	for off := 0; off < len(samples); off += step {
		if err := ctx.Err(); err != nil {
			s.interrupt()
			return err
		}
		end := min(off+step, len(samples))
		chunk := audioio.AudioChunk{Samples: samples[off:end], SampleRate: cfg.SampleRate, Channels: cfg.Channels}
		if err := s.sink.Write(ctx, chunk); err != nil {
			if ctx.Err() != nil {
				s.interrupt()
				return ctx.Err()
			}
			return fmt.Errorf("write audio: %w", err)
		}
	}

	if err := s.sink.Flush(ctx); err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			s.interrupt()
		}
		return err
	}
	return nil
}

func (s *Speaker) interrupt() {
	if err := s.sink.Clear(); err != nil {
		s.logger.Warn("clear sink", "error", err)
	}
}

// Close releases the provider and sink.
func (s *Speaker) Close() error {
	return errors.Join(s.provider.Close(), s.sink.Close())
}

var (
	_ Output = (*Speaker)(nil)
	_ Player = (*Speaker)(nil)
)
