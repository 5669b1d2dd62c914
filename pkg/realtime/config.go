package realtime

import (
	"log/slog"
	"time"
)

// Defaults for the OpenAI Realtime API.
const (
	DefaultURL   = "wss://api.openai.com/v1/realtime"
	DefaultModel = "gpt-4o-realtime-preview-2024-12-17"
	DefaultVoice = "alloy"

	// SampleRate of PCM16 audio in both directions.
	SampleRate = 24000
)

// TurnDetection configures server-side voice activity detection.
type TurnDetection struct {
	Type              string  // "server_vad"
	Threshold         float64 // Activation threshold (0.0-1.0)
	PrefixPaddingMs   int     // Audio to include before speech
	SilenceDurationMs int     // Silence before end of turn

	// CreateResponse lets the server start a response when the user stops
	// speaking. Off by default: the conversation loop requests every
	// response itself.
	CreateResponse bool
}

// Config holds session configuration.
type Config struct {
	URL    string
	APIKey string
	Model  string
	Voice  string

	// Instructions used until the conversation supplies a system message.
	Instructions string

	// TranscriptionModel transcribes audio appended to the input buffer.
	TranscriptionModel string

	TurnDetection TurnDetection

	// HandshakeTimeout bounds the WebSocket dial.
	HandshakeTimeout time.Duration

	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration

	// PingInterval is the keepalive period. Zero disables pings.
	PingInterval time.Duration

	// OnTranscript receives completed transcriptions of user audio.
	OnTranscript func(text string)

	Logger *slog.Logger
}

// Option configures a Session.
type Option func(*Config)

// WithURL sets the WebSocket endpoint.
func WithURL(url string) Option {
	return func(c *Config) { c.URL = url }
}

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Config) { c.APIKey = key }
}

// WithModel sets the realtime model.
func WithModel(model string) Option {
	return func(c *Config) { c.Model = model }
}

// WithVoice sets the output voice.
func WithVoice(voice string) Option {
	return func(c *Config) { c.Voice = voice }
}

// WithInstructions sets the initial session instructions.
func WithInstructions(text string) Option {
	return func(c *Config) { c.Instructions = text }
}

// WithTurnDetection overrides voice activity detection settings.
func WithTurnDetection(td TurnDetection) Option {
	return func(c *Config) { c.TurnDetection = td }
}

// WithPingInterval sets the keepalive period.
func WithPingInterval(d time.Duration) Option {
	return func(c *Config) { c.PingInterval = d }
}

// WithTranscriptHandler receives user audio transcriptions.
func WithTranscriptHandler(fn func(text string)) Option {
	return func(c *Config) { c.OnTranscript = fn }
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) { c.Logger = l }
}

// DefaultConfig returns defaults matching the OpenAI Realtime API.
func DefaultConfig() *Config {
	return &Config{
		URL:                DefaultURL,
		Model:              DefaultModel,
		Voice:              DefaultVoice,
		TranscriptionModel: "whisper-1",
		TurnDetection: TurnDetection{
			Type:              "server_vad",
			Threshold:         0.5,
			PrefixPaddingMs:   300,
			SilenceDurationMs: 700,
		},
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		PingInterval:     30 * time.Second,
		Logger:           slog.Default(),
	}
}

// Apply applies functional options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrMissingAPIKey
	}
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.Voice == "" {
		c.Voice = DefaultVoice
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}
