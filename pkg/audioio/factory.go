package audioio

import (
	"fmt"
	"log/slog"
	"os/exec"
	"runtime"
)

// NewSource creates a capture source for cfg.Backend.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend, cfg.CaptureCommand, captureCommand)
	logger.Info("creating audio source",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
		"buffer_ms", cfg.BufferDuration.Milliseconds(),
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendExec:
		return NewExecSource(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// NewSink creates a playback sink for cfg.Backend.
func NewSink(cfg Config, logger *slog.Logger) (Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := resolveBackend(cfg.Backend, cfg.PlaybackCommand, playbackCommand)
	logger.Info("creating audio sink",
		"backend", backend,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSink(cfg, logger), nil
	case BackendExec:
		return NewExecSink(cfg, logger)
	default:
		return nil, fmt.Errorf("unsupported backend: %s", backend)
	}
}

// resolveBackend picks exec when the recorder/player binary is installed
// and falls back to mock otherwise.
func resolveBackend(b Backend, override []string, defaults func(Config) []string) Backend {
	if b != BackendAuto && b != "" {
		return b
	}
	argv := override
	if len(argv) == 0 {
		argv = defaults(DefaultConfig())
	}
	if len(argv) > 0 {
		if _, err := exec.LookPath(argv[0]); err == nil {
			return BackendExec
		}
	}
	return BackendMock
}

// AvailableBackends lists the backends usable on this machine.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if resolveBackend(BackendAuto, nil, captureCommand) == BackendExec {
		backends = append(backends, BackendExec)
	}
	return backends
}

func isLinux() bool { return runtime.GOOS == "linux" }
