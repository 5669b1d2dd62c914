package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/teslashibe/go-jarvis/internal/httpc"
	"github.com/teslashibe/go-jarvis/pkg/audioio"
	"github.com/teslashibe/go-jarvis/pkg/inference"
)

const providerWhisper = "whisper"

// ErrMissingAPIKey is returned by Initialize without credentials.
var ErrMissingAPIKey = errors.New("transcribe: API key required")

// WhisperConfig configures microphone transcription.
type WhisperConfig struct {
	APIKey   string
	BaseURL  string
	Model    string
	Language string
	// Prompt biases recognition, e.g. towards the assistant's name.
	Prompt string

	// UploadSampleRate is the rate segments are resampled to before upload.
	UploadSampleRate int

	VAD     VADConfig
	Timeout time.Duration
	Logger  *slog.Logger
}

// DefaultWhisperConfig returns whisper-1 over the OpenAI API.
func DefaultWhisperConfig() WhisperConfig {
	return WhisperConfig{
		BaseURL:          "https://api.openai.com/v1",
		Model:            "whisper-1",
		UploadSampleRate: 16000,
		VAD:              DefaultVADConfig(),
		Timeout:          30 * time.Second,
	}
}

// Whisper captures audio from a Source, cuts it into utterances with an
// energy VAD and transcribes each through /audio/transcriptions.
type Whisper struct {
	cfg    WhisperConfig
	source audioio.Source
	client *http.Client
	logger *slog.Logger

	out      chan Utterance
	segments chan audioio.AudioChunk

	mu          sync.Mutex
	initialized bool
	listening   bool
	cancel      context.CancelFunc
	wg          sync.WaitGroup
}

// NewWhisper creates a microphone transcriber reading from source.
func NewWhisper(cfg WhisperConfig, source audioio.Source) *Whisper {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.UploadSampleRate <= 0 {
		cfg.UploadSampleRate = 16000
	}
	return &Whisper{
		cfg:    cfg,
		source: source,
		client: httpc.NewClient(cfg.Timeout),
		logger: cfg.Logger.With("component", "transcribe.whisper"),
		out:    make(chan Utterance, 16),
	}
}

// Initialize checks credentials.
func (w *Whisper) Initialize(ctx context.Context) error {
	if w.cfg.APIKey == "" {
		return ErrMissingAPIKey
	}
	w.mu.Lock()
	w.initialized = true
	w.mu.Unlock()
	return nil
}

// StartListening starts capture and the transcription worker.
func (w *Whisper) StartListening(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.initialized {
		return ErrNotInitialized
	}
	if w.listening {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := w.source.Start(runCtx); err != nil {
		cancel()
		return fmt.Errorf("start audio source: %w", err)
	}

	w.listening = true
	w.cancel = cancel
	w.segments = make(chan audioio.AudioChunk, 4)

	w.wg.Add(2)
	go w.captureLoop(runCtx, w.source.Stream(), w.segments)
	go w.transcribeLoop(runCtx, w.segments)

	w.logger.Info("listening", "source", w.source.Name(), "model", w.cfg.Model)
	return nil
}

// StopListening stops capture and waits for in-flight transcriptions.
func (w *Whisper) StopListening() error {
	w.mu.Lock()
	if !w.listening {
		w.mu.Unlock()
		return nil
	}
	w.listening = false
	cancel := w.cancel
	w.mu.Unlock()

	err := w.source.Stop()
	cancel()
	w.wg.Wait()
	return err
}

// Utterances delivers transcribed speech.
func (w *Whisper) Utterances() <-chan Utterance { return w.out }

func (w *Whisper) captureLoop(ctx context.Context, stream <-chan audioio.AudioChunk, segments chan<- audioio.AudioChunk) {
	defer w.wg.Done()
	defer close(segments)

	seg := NewSegmenter(w.cfg.VAD)
	emit := func(chunk audioio.AudioChunk) {
		select {
		case segments <- chunk:
		default:
			w.logger.Warn("transcription backlog full, dropping segment", "duration", chunk.Duration())
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case chunk, ok := <-stream:
			if !ok {
				if s, ok := seg.Flush(); ok {
					emit(s)
				}
				return
			}
			if s, ok := seg.Feed(chunk); ok {
				emit(s)
			}
		}
	}
}

func (w *Whisper) transcribeLoop(ctx context.Context, segments <-chan audioio.AudioChunk) {
	defer w.wg.Done()

	for segment := range segments {
		text, err := w.Transcribe(ctx, segment)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Warn("transcription failed", "error", err, "duration", segment.Duration())
			continue
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		w.logger.Debug("utterance transcribed", "text", text)
		select {
		case w.out <- NewUtterance(text):
		case <-ctx.Done():
			return
		}
	}
}

// Transcribe uploads one segment as WAV and returns the recognized text.
func (w *Whisper) Transcribe(ctx context.Context, segment audioio.AudioChunk) (string, error) {
	samples := segment.Samples
	if segment.Channels > 1 {
		samples = downmix(samples, segment.Channels)
	}
	samples = audioio.Resample(samples, segment.SampleRate, w.cfg.UploadSampleRate)
	wav := audioio.EncodeWAV(audioio.SamplesToBytes(samples), w.cfg.UploadSampleRate, 1)

	body, contentType, err := w.multipartBody(wav)
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(w.cfg.BaseURL, "/") + "/audio/transcriptions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+w.cfg.APIKey)
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", &inference.TransportError{Provider: providerWhisper, Op: "post", Err: err}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", &inference.TransportError{Provider: providerWhisper, Op: "read", Err: err}
	}
	if resp.StatusCode != http.StatusOK {
		return "", inference.ParseErrorResponse(providerWhisper, resp.StatusCode, respBody)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(respBody, &result); err != nil {
		return "", &inference.ProtocolError{Provider: providerWhisper, Message: "decode transcription", Err: err}
	}
	return result.Text, nil
}

func (w *Whisper) multipartBody(wav []byte) ([]byte, string, error) {
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	part, err := mw.CreateFormFile("file", "utterance.wav")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(wav); err != nil {
		return nil, "", err
	}

	fields := [][2]string{
		{"model", w.cfg.Model},
		{"response_format", "json"},
		{"language", w.cfg.Language},
		{"prompt", w.cfg.Prompt},
	}
	for _, f := range fields {
		if f[1] == "" {
			continue
		}
		if err := mw.WriteField(f[0], f[1]); err != nil {
			return nil, "", err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", err
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}

func downmix(samples []int16, channels int) []int16 {
	mono := make([]int16, len(samples)/channels)
	for i := range mono {
		var sum int32
		for ch := 0; ch < channels; ch++ {
			sum += int32(samples[i*channels+ch])
		}
		mono[i] = int16(sum / int32(channels))
	}
	return mono
}

var _ Transcriber = (*Whisper)(nil)
