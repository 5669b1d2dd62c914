// Package audioio captures and plays PCM16 audio.
//
// Two backends exist:
//   - exec: pipes raw PCM through a recorder/player process (arecord/aplay
//     on Linux, sox rec/play elsewhere)
//   - mock: synthetic capture and in-memory playback for tests
//
// The backend is selected automatically unless set in Config.
package audioio

import (
	"fmt"
	"time"
)

// Backend names an audio backend.
type Backend string

const (
	BackendAuto Backend = "auto"
	BackendExec Backend = "exec"
	BackendMock Backend = "mock"
)

// DefaultSampleRate matches the realtime and speech endpoints.
const DefaultSampleRate = 24000

// Config holds audio configuration.
type Config struct {
	Backend Backend `yaml:"backend" json:"backend"`

	// SampleRate in Hz. Default 24000.
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels. Default 1 (mono).
	Channels int `yaml:"channels" json:"channels"`

	// BufferDuration is the capture chunk length. Default 20ms.
	BufferDuration time.Duration `yaml:"buffer_duration" json:"buffer_duration"`

	// Device is passed to the recorder/player (e.g. "plughw:1,0" for ALSA).
	Device string `yaml:"device" json:"device"`

	// CaptureCommand and PlaybackCommand replace the platform default
	// commands of the exec backend. The process must write (capture) or
	// read (playback) raw little-endian PCM16 on stdout/stdin.
	CaptureCommand  []string `yaml:"capture_command" json:"capture_command,omitempty"`
	PlaybackCommand []string `yaml:"playback_command" json:"playback_command,omitempty"`
}

// DefaultConfig returns mono 24 kHz audio in 20ms chunks.
func DefaultConfig() Config {
	return Config{
		Backend:        BackendAuto,
		SampleRate:     DefaultSampleRate,
		Channels:       1,
		BufferDuration: 20 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels <= 0 {
		return fmt.Errorf("channels must be positive, got %d", c.Channels)
	}
	if c.BufferDuration <= 0 {
		return fmt.Errorf("buffer_duration must be positive, got %v", c.BufferDuration)
	}
	if c.BufferSize() == 0 {
		return fmt.Errorf("buffer_duration %v is shorter than one frame", c.BufferDuration)
	}
	return nil
}

// BufferSize is the number of frames per chunk.
func (c *Config) BufferSize() int {
	return int(float64(c.SampleRate) * c.BufferDuration.Seconds())
}

// BufferBytes is the byte length of one chunk.
func (c *Config) BufferBytes() int {
	return c.BufferSize() * c.Channels * 2
}
