package transcribe

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teslashibe/go-jarvis/internal/log"
	"github.com/teslashibe/go-jarvis/pkg/audioio"
	"github.com/teslashibe/go-jarvis/pkg/inference"
)

const chunkFrames = 480 // 20ms at 24 kHz

func tone(level int16) audioio.AudioChunk {
	samples := make([]int16, chunkFrames)
	for i := range samples {
		samples[i] = level
		if i%2 == 1 {
			samples[i] = -level
		}
	}
	return audioio.AudioChunk{Samples: samples, SampleRate: 24000, Channels: 1}
}

func feedAll(s *Segmenter, chunks ...audioio.AudioChunk) (audioio.AudioChunk, bool, int) {
	for i, c := range chunks {
		if seg, ok := s.Feed(c); ok {
			return seg, true, i
		}
	}
	return audioio.AudioChunk{}, false, len(chunks)
}

func repeat(c audioio.AudioChunk, n int) []audioio.AudioChunk {
	out := make([]audioio.AudioChunk, n)
	for i := range out {
		out[i] = c
	}
	return out
}

func TestSegmenterCutsOnSilence(t *testing.T) {
	s := NewSegmenter(DefaultVADConfig())
	quiet, loud := tone(0), tone(3000)

	var chunks []audioio.AudioChunk
	chunks = append(chunks, repeat(quiet, 20)...)
	chunks = append(chunks, repeat(loud, 10)...)
	chunks = append(chunks, repeat(quiet, 40)...)

	seg, ok, at := feedAll(s, chunks...)
	require.True(t, ok)
	assert.Equal(t, 20+10+34, at, "segment ends after 700ms of silence")
	assert.Len(t, seg.Samples, (15+10+35)*chunkFrames, "300ms of pre-roll is kept")
	assert.Equal(t, 24000, seg.SampleRate)
	assert.False(t, s.InSpeech())
}

func TestSegmenterDropsBlips(t *testing.T) {
	s := NewSegmenter(DefaultVADConfig())
	var chunks []audioio.AudioChunk
	chunks = append(chunks, repeat(tone(3000), 5)...)
	chunks = append(chunks, repeat(tone(0), 35)...)

	for _, c := range chunks {
		_, ok := s.Feed(c)
		assert.False(t, ok)
	}
	assert.False(t, s.InSpeech())
}

func TestSegmenterMaxUtteranceAndFlush(t *testing.T) {
	cfg := DefaultVADConfig()
	cfg.MaxUtterance = 100 * time.Millisecond
	cfg.MinSpeech = 0
	s := NewSegmenter(cfg)

	for i := 0; i < 4; i++ {
		_, ok := s.Feed(tone(3000))
		require.False(t, ok)
	}
	seg, ok := s.Feed(tone(3000))
	require.True(t, ok)
	assert.Len(t, seg.Samples, 5*chunkFrames)

	_, _ = s.Feed(tone(3000))
	seg, ok = s.Flush()
	assert.True(t, ok)
	assert.Len(t, seg.Samples, chunkFrames)

	_, ok = s.Flush()
	assert.False(t, ok)
}

func transcriptionServer(t *testing.T, status int, body string, hits *atomic.Int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		if !assert.NoError(t, r.ParseMultipartForm(1<<20)) {
			return
		}
		assert.Equal(t, "whisper-1", r.FormValue("model"))
		assert.Equal(t, "en", r.FormValue("language"))
		f, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		head := make([]byte, 4)
		_, _ = io.ReadFull(f, head)
		assert.Equal(t, "RIFF", string(head))

		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestWhisper(url string, source audioio.Source) *Whisper {
	cfg := DefaultWhisperConfig()
	cfg.APIKey = "test-key"
	cfg.BaseURL = url
	cfg.Language = "en"
	cfg.Logger = log.Discard()
	return NewWhisper(cfg, source)
}

func TestWhisperTranscribesSpeech(t *testing.T) {
	var hits atomic.Int32
	srv := transcriptionServer(t, http.StatusOK, `{"text":" What time is it? "}`, &hits)

	src := audioio.NewMockSource(audioio.DefaultConfig(), log.Discard(), audioio.WithManualFeed())
	w := newTestWhisper(srv.URL, src)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.ErrorIs(t, w.StartListening(ctx), ErrNotInitialized)
	require.NoError(t, w.Initialize(ctx))
	require.NoError(t, w.StartListening(ctx))
	require.NoError(t, w.StartListening(ctx), "second start is a no-op")

	var chunks []audioio.AudioChunk
	chunks = append(chunks, repeat(tone(0), 5)...)
	chunks = append(chunks, repeat(tone(3000), 15)...)
	chunks = append(chunks, repeat(tone(0), 36)...)
	for _, c := range chunks {
		require.NoError(t, src.Inject(ctx, c))
	}

	select {
	case u := <-w.Utterances():
		assert.Equal(t, "What time is it?", u.Text)
	case <-ctx.Done():
		t.Fatal("no utterance")
	}
	assert.Equal(t, int32(1), hits.Load())

	require.NoError(t, w.StopListening())
	require.NoError(t, w.StopListening())
}

func TestWhisperBackendError(t *testing.T) {
	var hits atomic.Int32
	srv := transcriptionServer(t, http.StatusInternalServerError, `{"error":{"message":"overloaded","type":"server_error"}}`, &hits)
	w := newTestWhisper(srv.URL, nil)

	_, err := w.Transcribe(context.Background(), tone(3000))
	var be *inference.BackendError
	require.ErrorAs(t, err, &be)
	assert.Equal(t, 500, be.StatusCode)
	assert.Equal(t, "server_error", be.Code)
	assert.Equal(t, "whisper", be.Provider)
}

func TestWhisperProtocolError(t *testing.T) {
	var hits atomic.Int32
	srv := transcriptionServer(t, http.StatusOK, `not json`, &hits)
	w := newTestWhisper(srv.URL, nil)

	_, err := w.Transcribe(context.Background(), tone(3000))
	assert.True(t, inference.IsProtocol(err), "got %v", err)
}

func TestWhisperRequiresKey(t *testing.T) {
	w := NewWhisper(DefaultWhisperConfig(), nil)
	assert.ErrorIs(t, w.Initialize(context.Background()), ErrMissingAPIKey)
}

func TestDownmix(t *testing.T) {
	assert.Equal(t, []int16{15, -5}, downmix([]int16{10, 20, 0, -10}, 2))
}
