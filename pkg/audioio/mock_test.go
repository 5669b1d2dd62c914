package audioio

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"
)

func TestMockSource_StartStop(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil)
	defer src.Close()

	ctx := context.Background()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatalf("second Start failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if err := src.Stop(); err != nil {
		t.Fatalf("second Stop failed: %v", err)
	}

	if _, err := src.Read(ctx); !errors.Is(err, io.EOF) {
		t.Errorf("Read after Stop = %v, want io.EOF", err)
	}
}

func TestMockSource_SineWave(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BufferDuration = 10 * time.Millisecond

	src := NewMockSource(cfg, nil, WithSineWave(440, 0.5))
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := src.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if got, want := len(chunk.Samples), cfg.BufferSize(); got != want {
		t.Errorf("samples = %d, want %d", got, want)
	}
	if lvl := Level(chunk.Samples); lvl < 0.2 {
		t.Errorf("sine level = %f, want audible", lvl)
	}
}

func TestMockSource_ManualFeed(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil, WithManualFeed())
	defer src.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := src.Inject(ctx, AudioChunk{Samples: []int16{1}}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Inject before Start = %v, want ErrNotRunning", err)
	}
	if err := src.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := src.Inject(ctx, AudioChunk{Samples: []int16{1, 2, 3}}); err != nil {
		t.Fatalf("Inject failed: %v", err)
	}

	chunk, err := src.Read(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(chunk.Samples) != 3 || chunk.SampleRate != DefaultSampleRate || chunk.Channels != 1 {
		t.Errorf("chunk = %+v", chunk)
	}
	if st := src.Stats(); st.Chunks != 1 || st.Samples != 3 || !st.Running {
		t.Errorf("stats = %+v", st)
	}
}

func TestMockSource_Close(t *testing.T) {
	src := NewMockSource(DefaultConfig(), nil)
	if err := src.Close(); err != nil {
		t.Fatal(err)
	}
	if err := src.Close(); err != nil {
		t.Fatalf("second Close failed: %v", err)
	}
	if err := src.Start(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start after Close = %v, want ErrClosed", err)
	}
}

func TestMockSink_WriteFlushClear(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	ctx := context.Background()

	if err := sink.Write(ctx, AudioChunk{Samples: []int16{1}}); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Write before Start = %v, want ErrNotRunning", err)
	}
	if err := sink.Start(ctx); err != nil {
		t.Fatal(err)
	}

	_ = sink.Write(ctx, AudioChunk{Samples: []int16{1, 2}})
	_ = sink.Write(ctx, AudioChunk{Samples: []int16{3}})
	if err := sink.Flush(ctx); err != nil {
		t.Fatal(err)
	}
	_ = sink.Write(ctx, AudioChunk{Samples: []int16{9, 9}})
	_ = sink.Clear()
	_ = sink.Flush(ctx)

	played := sink.Played()
	if len(played) != 3 || played[0] != 1 || played[2] != 3 {
		t.Errorf("played = %v, want [1 2 3]", played)
	}
	if sink.Flushes() != 2 || sink.Clears() != 1 {
		t.Errorf("flushes=%d clears=%d", sink.Flushes(), sink.Clears())
	}
	if st := sink.Stats(); st.Chunks != 3 {
		t.Errorf("chunks = %d, want 3", st.Chunks)
	}
}

func TestMockSink_WriteFunc(t *testing.T) {
	sink := NewMockSink(DefaultConfig(), nil)
	boom := errors.New("boom")
	sink.WriteFunc = func(context.Context, AudioChunk) error { return boom }
	_ = sink.Start(context.Background())

	if err := sink.Write(context.Background(), AudioChunk{}); !errors.Is(err, boom) {
		t.Errorf("Write = %v, want boom", err)
	}
}

func TestAudioChunk_Duration(t *testing.T) {
	chunk := AudioChunk{Samples: make([]int16, 4800), SampleRate: 24000, Channels: 2}
	if d := chunk.Duration(); d != 100*time.Millisecond {
		t.Errorf("Duration = %v, want 100ms", d)
	}
	if d := (AudioChunk{Samples: []int16{1}}).Duration(); d != 0 {
		t.Errorf("Duration without rate = %v, want 0", d)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"zero rate", func(c *Config) { c.SampleRate = 0 }, true},
		{"zero channels", func(c *Config) { c.Channels = 0 }, true},
		{"zero buffer", func(c *Config) { c.BufferDuration = 0 }, true},
		{"sub-frame buffer", func(c *Config) { c.BufferDuration = time.Microsecond }, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			if err := cfg.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNewSource_Mock(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Backend = BackendMock
	src, err := NewSource(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	if src.Name() != "mock" {
		t.Errorf("Name = %q", src.Name())
	}

	cfg.Backend = "portaudio"
	if _, err := NewSink(cfg, nil); err == nil {
		t.Error("expected unsupported backend error")
	}
}
