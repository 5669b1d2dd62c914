// Package config provides configuration for go-jarvis commands.
//
// Values come from the environment (see Config tags) and may be overridden by
// command line flags. Assistant personality lives in an optional YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Conversation backends.
const (
	ModeHTTP     = "http"
	ModeRealtime = "realtime"
)

// Input sources.
const (
	InputConsole    = "console"
	InputMicrophone = "microphone"
)

// Output sinks.
const (
	OutputText    = "text"
	OutputSpeaker = "speaker"
)

// Voice activity defaults shared by the realtime session and microphone input.
const (
	PrefixPaddingMs   = 300
	SilenceThreshold  = 0.5
	SilenceDurationMs = 700
)

// ErrMissingAPIKey is returned by Validate when no API key is configured.
var ErrMissingAPIKey = errors.New("config: OPENAI_API_KEY is required")

// Config is the process configuration.
type Config struct {
	OpenAIKey string `envconfig:"OPENAI_API_KEY"`

	Mode          string `envconfig:"JARVIS_MODE" default:"http"`
	BaseURL       string `envconfig:"JARVIS_BASE_URL" default:"https://api.openai.com/v1"`
	Model         string `envconfig:"JARVIS_MODEL" default:"gpt-4o-2024-08-06"`
	FastModel     string `envconfig:"JARVIS_FAST_MODEL" default:"gpt-4o-mini"`
	RealtimeModel string `envconfig:"JARVIS_REALTIME_MODEL" default:"gpt-4o-realtime-preview-2024-12-17"`
	RealtimeURL   string `envconfig:"JARVIS_REALTIME_URL" default:"wss://api.openai.com/v1/realtime"`
	Voice         string `envconfig:"JARVIS_VOICE" default:"alloy"`

	Input  string `envconfig:"JARVIS_INPUT" default:"console"`
	Output string `envconfig:"JARVIS_OUTPUT" default:"text"`

	ScratchPadDir       string `envconfig:"JARVIS_SCRATCH_PAD_DIR" default:"./scratchpad"`
	MemoryFile          string `envconfig:"JARVIS_MEMORY_FILE" default:"./active_memory.json"`
	RuntimeLog          string `envconfig:"JARVIS_RUNTIME_LOG" default:"runtime_time_table.json"`
	PersonalizationFile string `envconfig:"JARVIS_PERSONALIZATION_FILE" default:"personalization.yaml"`

	DashboardPort string `envconfig:"JARVIS_DASHBOARD_PORT"`

	RequestTimeout time.Duration `envconfig:"JARVIS_REQUEST_TIMEOUT" default:"30s"`
	MaxRetries     int           `envconfig:"JARVIS_MAX_RETRIES" default:"2"`
	RetryDelay     time.Duration `envconfig:"JARVIS_RETRY_DELAY" default:"500ms"`
	MaxToolRounds  int           `envconfig:"JARVIS_MAX_TOOL_ROUNDS" default:"8"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Load reads configuration from the environment.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("config: load environment: %w", err)
	}
	return &cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.OpenAIKey == "" {
		return ErrMissingAPIKey
	}
	switch c.Mode {
	case ModeHTTP, ModeRealtime:
	default:
		return fmt.Errorf("config: unknown mode %q (want %s or %s)", c.Mode, ModeHTTP, ModeRealtime)
	}
	switch c.Input {
	case InputConsole, InputMicrophone:
	default:
		return fmt.Errorf("config: unknown input %q", c.Input)
	}
	switch c.Output {
	case OutputText, OutputSpeaker:
	default:
		return fmt.Errorf("config: unknown output %q", c.Output)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("config: max retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// Personalization describes who the assistant is and who it serves.
type Personalization struct {
	AssistantName string   `yaml:"ai_assistant_name"`
	HumanName     string   `yaml:"human_name"`
	Voice         string   `yaml:"voice"`
	Instructions  []string `yaml:"instructions"`
}

// DefaultPersonalization is used when no personalization file exists.
func DefaultPersonalization() Personalization {
	return Personalization{
		AssistantName: "Assistant",
		HumanName:     "User",
		Instructions: []string{
			"Keep answers short; they are spoken aloud.",
			"Use the available tools whenever they can answer a request.",
		},
	}
}

// LoadPersonalization reads a YAML personalization file.
// A missing file yields the defaults; a malformed one is an error.
func LoadPersonalization(path string) (Personalization, error) {
	p := DefaultPersonalization()
	if path == "" {
		return p, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return p, nil
		}
		return p, fmt.Errorf("config: read personalization: %w", err)
	}

	var loaded Personalization
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return p, fmt.Errorf("config: parse personalization %s: %w", path, err)
	}
	if loaded.AssistantName != "" {
		p.AssistantName = loaded.AssistantName
	}
	if loaded.HumanName != "" {
		p.HumanName = loaded.HumanName
	}
	if loaded.Voice != "" {
		p.Voice = loaded.Voice
	}
	if len(loaded.Instructions) > 0 {
		p.Instructions = loaded.Instructions
	}
	return p, nil
}

// SessionInstructions renders the system prompt.
func (p Personalization) SessionInstructions() string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, the AI assistant to %s.\n", p.AssistantName, p.HumanName)
	b.WriteString(strings.Join(p.Instructions, "\n"))
	return b.String()
}
