package tts

import (
	"log/slog"
	"time"
)

// Config holds TTS provider configuration.
type Config struct {
	APIKey  string
	BaseURL string

	VoiceID string
	ModelID string

	// Speed is the playback speed multiplier, 0.25 to 4.0. Zero leaves the
	// provider default.
	Speed float64

	// Instructions steer tone on models that accept them.
	Instructions string

	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration

	Logger *slog.Logger
}

// Option configures a provider.
type Option func(*Config)

func WithAPIKey(key string) Option { return func(c *Config) { c.APIKey = key } }

func WithBaseURL(url string) Option { return func(c *Config) { c.BaseURL = url } }

func WithVoice(voiceID string) Option { return func(c *Config) { c.VoiceID = voiceID } }

func WithModel(modelID string) Option { return func(c *Config) { c.ModelID = modelID } }

func WithSpeed(speed float64) Option { return func(c *Config) { c.Speed = speed } }

func WithInstructions(text string) Option { return func(c *Config) { c.Instructions = text } }

func WithTimeout(timeout time.Duration) Option { return func(c *Config) { c.Timeout = timeout } }

// WithRetry configures retries for 429 and 5xx responses.
func WithRetry(maxRetries int, delay time.Duration) Option {
	return func(c *Config) {
		c.MaxRetries = maxRetries
		c.RetryDelay = delay
	}
}

func WithLogger(logger *slog.Logger) Option { return func(c *Config) { c.Logger = logger } }

// DefaultConfig returns the OpenAI speech defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:    "https://api.openai.com/v1",
		ModelID:    ModelTTS1,
		VoiceID:    VoiceAlloy,
		Timeout:    30 * time.Second,
		MaxRetries: 2,
		RetryDelay: 200 * time.Millisecond,
		Logger:     slog.Default(),
	}
}

// Apply applies options to the config.
func (c *Config) Apply(opts ...Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	if c.APIKey == "" {
		return ErrNoAPIKey
	}
	if c.VoiceID == "" {
		return ErrNoVoiceID
	}
	if c.Speed != 0 && (c.Speed < 0.25 || c.Speed > 4) {
		return ErrInvalidSpeed
	}
	return nil
}
