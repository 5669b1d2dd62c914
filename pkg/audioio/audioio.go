package audioio

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	// ErrClosed is returned by sources and sinks after Close.
	ErrClosed = errors.New("audioio: closed")

	// ErrNotRunning is returned when writing to a sink that was not started.
	ErrNotRunning = errors.New("audioio: not running")
)

// AudioChunk is a block of interleaved PCM16 samples.
type AudioChunk struct {
	Samples    []int16
	SampleRate int
	Channels   int
}

// ChunkFromBytes decodes little-endian PCM16 bytes into a chunk.
func ChunkFromBytes(data []byte, sampleRate, channels int) AudioChunk {
	return AudioChunk{Samples: BytesToSamples(data), SampleRate: sampleRate, Channels: channels}
}

// Bytes encodes the chunk as little-endian PCM16.
func (c AudioChunk) Bytes() []byte {
	return SamplesToBytes(c.Samples)
}

// Duration is the playback length of the chunk.
func (c AudioChunk) Duration() time.Duration {
	if c.SampleRate <= 0 || c.Channels <= 0 {
		return 0
	}
	frames := len(c.Samples) / c.Channels
	return time.Duration(frames) * time.Second / time.Duration(c.SampleRate)
}

// Source captures audio from a microphone or other input.
type Source interface {
	// Start begins capture. Calling Start on a running source is a no-op.
	Start(ctx context.Context) error

	// Stop halts capture and closes the stream. Safe to call repeatedly.
	Stop() error

	// Read blocks for the next chunk. It returns io.EOF once the source stops.
	Read(ctx context.Context) (AudioChunk, error)

	// Stream returns the chunk channel of the current run.
	Stream() <-chan AudioChunk

	Config() Config
	Name() string
	io.Closer
}

// Sink plays audio on a speaker or other output.
type Sink interface {
	// Start prepares the sink for writes.
	Start(ctx context.Context) error

	// Stop halts playback. Safe to call repeatedly.
	Stop() error

	// Write queues a chunk for playback.
	Write(ctx context.Context, chunk AudioChunk) error

	// Flush blocks until queued audio has been played.
	Flush(ctx context.Context) error

	// Clear discards queued audio immediately.
	Clear() error

	Config() Config
	Name() string
	io.Closer
}

// Stats are running counters shared by sources and sinks.
type Stats struct {
	Chunks   int64  `json:"chunks"`
	Samples  int64  `json:"samples"`
	Overruns int64  `json:"overruns"`
	Running  bool   `json:"running"`
	Backend  string `json:"backend"`
}

func readStream(ctx context.Context, ch <-chan AudioChunk) (AudioChunk, error) {
	select {
	case <-ctx.Done():
		return AudioChunk{}, ctx.Err()
	case chunk, ok := <-ch:
		if !ok {
			return AudioChunk{}, io.EOF
		}
		return chunk, nil
	}
}
