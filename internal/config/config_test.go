package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != ModeHTTP {
		t.Errorf("expected mode %q, got %q", ModeHTTP, cfg.Mode)
	}
	if cfg.RetryDelay != 500*time.Millisecond {
		t.Errorf("expected 500ms retry delay, got %v", cfg.RetryDelay)
	}
	if cfg.MaxToolRounds != 8 {
		t.Errorf("expected 8 tool rounds, got %d", cfg.MaxToolRounds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate failed: %v", err)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("JARVIS_MODE", "realtime")
	t.Setenv("JARVIS_MAX_RETRIES", "5")
	t.Setenv("JARVIS_RETRY_DELAY", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Mode != ModeRealtime {
		t.Errorf("expected realtime mode, got %q", cfg.Mode)
	}
	if cfg.MaxRetries != 5 || cfg.RetryDelay != 2*time.Second {
		t.Errorf("retry settings not applied: %d %v", cfg.MaxRetries, cfg.RetryDelay)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"missing key", func(c *Config) { c.OpenAIKey = "" }, true},
		{"bad mode", func(c *Config) { c.Mode = "carrier-pigeon" }, true},
		{"bad input", func(c *Config) { c.Input = "telepathy" }, true},
		{"bad output", func(c *Config) { c.Output = "smoke" }, true},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{
				OpenAIKey: "sk-test",
				Mode:      ModeHTTP,
				Input:     InputConsole,
				Output:    OutputText,
			}
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadPersonalization(t *testing.T) {
	t.Run("missing file uses defaults", func(t *testing.T) {
		p, err := LoadPersonalization(filepath.Join(t.TempDir(), "nope.yaml"))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.AssistantName != "Assistant" || p.HumanName != "User" {
			t.Errorf("unexpected defaults: %+v", p)
		}
	})

	t.Run("file overrides", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "personalization.yaml")
		content := "ai_assistant_name: Jarvis\nhuman_name: Tony\nvoice: echo\ninstructions:\n  - Be brief.\n"
		if err := os.WriteFile(path, []byte(content), 0644); err != nil {
			t.Fatal(err)
		}

		p, err := LoadPersonalization(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if p.Voice != "echo" {
			t.Errorf("expected voice echo, got %q", p.Voice)
		}

		got := p.SessionInstructions()
		if !strings.HasPrefix(got, "You are Jarvis, the AI assistant to Tony.\n") {
			t.Errorf("unexpected instructions: %q", got)
		}
		if !strings.HasSuffix(got, "Be brief.") {
			t.Errorf("instructions missing: %q", got)
		}
	})

	t.Run("malformed file", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "bad.yaml")
		if err := os.WriteFile(path, []byte("instructions: [unterminated"), 0644); err != nil {
			t.Fatal(err)
		}
		if _, err := LoadPersonalization(path); err == nil {
			t.Error("expected parse error")
		}
	})
}
