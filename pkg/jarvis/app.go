// Package jarvis composes the assistant: configuration, language model
// backend, transcription, speech output, memory, tools and the dashboard
// around one conversation loop.
package jarvis

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/teslashibe/go-jarvis/internal/config"
	"github.com/teslashibe/go-jarvis/pkg/agent"
	"github.com/teslashibe/go-jarvis/pkg/audioio"
	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/memory"
	"github.com/teslashibe/go-jarvis/pkg/realtime"
	"github.com/teslashibe/go-jarvis/pkg/speech"
	"github.com/teslashibe/go-jarvis/pkg/tool"
	"github.com/teslashibe/go-jarvis/pkg/tools"
	"github.com/teslashibe/go-jarvis/pkg/transcribe"
	"github.com/teslashibe/go-jarvis/pkg/tts"
	"github.com/teslashibe/go-jarvis/pkg/web"
)

// App is the assistant orchestrator. It owns every component and their
// lifecycle.
type App struct {
	cfg             *config.Config
	personalization config.Personalization
	logger          *slog.Logger

	stdin  io.Reader
	stdout io.Writer

	provider    inference.Provider
	writer      inference.Provider
	transcriber transcribe.Transcriber
	output      speech.Output
	source      audioio.Source
	sink        audioio.Sink

	memory    *memory.FileStore
	runLog    *tool.RunLog
	registry  *tool.Registry
	agent     *agent.Agent
	dashboard *web.Server

	closers []io.Closer
}

// Option configures an App. Options mainly exist so tests can substitute
// collaborators.
type Option func(*App)

// WithStdio sets the console streams.
func WithStdio(in io.Reader, out io.Writer) Option {
	return func(a *App) {
		a.stdin = in
		a.stdout = out
	}
}

// WithProvider uses p instead of dialing the configured backend.
func WithProvider(p inference.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithWriter uses p for generating file contents.
func WithWriter(p inference.Provider) Option {
	return func(a *App) { a.writer = p }
}

// WithTranscriber replaces the configured input.
func WithTranscriber(t transcribe.Transcriber) Option {
	return func(a *App) { a.transcriber = t }
}

// WithOutput replaces the configured output.
func WithOutput(o speech.Output) Option {
	return func(a *App) { a.output = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.logger = l }
}

// New validates cfg and creates an App. Call Init before Run.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &App{cfg: cfg, stdin: os.Stdin, stdout: os.Stdout, logger: slog.Default()}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Init builds every component and initializes the conversation session.
func (a *App) Init(ctx context.Context) error {
	p, err := config.LoadPersonalization(a.cfg.PersonalizationFile)
	if err != nil {
		return err
	}
	a.personalization = p
	a.logger.Info("starting assistant",
		"name", p.AssistantName,
		"mode", a.cfg.Mode,
		"input", a.cfg.Input,
		"output", a.cfg.Output,
	)

	if err := a.initMemory(); err != nil {
		return fmt.Errorf("memory: %w", err)
	}
	if err := a.initWriter(); err != nil {
		return fmt.Errorf("file writer: %w", err)
	}
	if err := a.initTools(); err != nil {
		return fmt.Errorf("tools: %w", err)
	}
	if err := a.initOutput(); err != nil {
		return fmt.Errorf("output: %w", err)
	}

	// The realtime session needs the transcriber's relay, and the relay
	// needs the session, so realtime input is wired inside initProvider.
	if err := a.initProvider(ctx); err != nil {
		return fmt.Errorf("provider: %w", err)
	}
	if err := a.initInput(); err != nil {
		return fmt.Errorf("input: %w", err)
	}

	opts := []agent.Option{
		agent.WithSystemPrompt(p.SessionInstructions()),
		agent.WithMaxToolRounds(a.cfg.MaxToolRounds),
		agent.WithLogger(a.logger),
	}
	if a.cfg.Mode == config.ModeHTTP {
		opts = append(opts, agent.WithModel(a.cfg.Model))
	}
	a.agent = agent.New(a.provider, a.registry, a.transcriber, a.output, opts...)

	if a.cfg.DashboardPort != "" {
		a.dashboard = web.NewServer(a.agent, a.runLog, a.logger)
		a.agent.AddObserver(a.dashboard)
		go func() {
			if err := a.dashboard.Listen(":" + a.cfg.DashboardPort); err != nil {
				a.logger.Error("dashboard stopped", "error", err)
			}
		}()
	}

	if err := a.agent.Init(ctx); err != nil {
		return fmt.Errorf("agent: %w", err)
	}
	return nil
}

func (a *App) initMemory() error {
	var err error
	if a.cfg.MemoryFile == "" {
		a.memory = memory.New()
		return nil
	}
	a.memory, err = memory.Open(a.cfg.MemoryFile, a.logger)
	if err != nil {
		return err
	}
	a.logger.Debug("memory loaded", "path", a.cfg.MemoryFile, "keys", a.memory.Len())
	return nil
}

func (a *App) initWriter() error {
	if a.writer != nil {
		return nil
	}
	client, err := inference.NewClient(
		inference.WithAPIKey(a.cfg.OpenAIKey),
		inference.WithBaseURL(a.cfg.BaseURL),
		inference.WithModel(a.cfg.FastModel),
		inference.WithTimeout(a.cfg.RequestTimeout),
		inference.WithRetry(a.cfg.MaxRetries, a.cfg.RetryDelay),
		inference.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	a.writer = client
	return nil
}

func (a *App) initTools() error {
	a.runLog = tool.NewRunLog(a.cfg.RuntimeLog, a.logger)
	a.registry = tool.NewRegistry(tool.WithLogger(a.logger), tool.WithRunLog(a.runLog))
	return tools.Register(a.registry, tools.Deps{
		Memory:     a.memory,
		ScratchPad: a.cfg.ScratchPadDir,
		Writer:     a.writer,
		Model:      a.cfg.FastModel,
		Logger:     a.logger,
	})
}

func (a *App) initOutput() error {
	if a.output != nil {
		return nil
	}
	if a.cfg.Output == config.OutputText {
		a.output = speech.NewTextOutput(a.stdout, a.personalization.AssistantName)
		return nil
	}

	provider, err := tts.NewOpenAI(
		tts.WithAPIKey(a.cfg.OpenAIKey),
		tts.WithBaseURL(a.cfg.BaseURL),
		tts.WithVoice(a.voice()),
		tts.WithTimeout(a.cfg.RequestTimeout),
		tts.WithRetry(a.cfg.MaxRetries, a.cfg.RetryDelay),
		tts.WithLogger(a.logger),
	)
	if err != nil {
		return err
	}
	sinkCfg := audioio.DefaultConfig()
	sinkCfg.SampleRate = tts.PCMSampleRate
	a.sink, err = audioio.NewSink(sinkCfg, a.logger)
	if err != nil {
		provider.Close()
		return err
	}
	speaker := speech.NewSpeaker(provider, a.sink, a.logger)
	a.output = speaker
	a.closers = append(a.closers, speaker)
	return nil
}

func (a *App) initProvider(ctx context.Context) error {
	if a.provider != nil {
		return nil
	}

	if a.cfg.Mode == config.ModeHTTP {
		client, err := inference.NewClient(
			inference.WithAPIKey(a.cfg.OpenAIKey),
			inference.WithBaseURL(a.cfg.BaseURL),
			inference.WithModel(a.cfg.Model),
			inference.WithTimeout(a.cfg.RequestTimeout),
			inference.WithRetry(a.cfg.MaxRetries, a.cfg.RetryDelay),
			inference.WithLogger(a.logger),
		)
		if err != nil {
			return err
		}
		a.provider = client
		return nil
	}

	var (
		session *realtime.Session
		relay   *transcribe.Relay
	)
	if a.transcriber == nil && a.cfg.Input == config.InputMicrophone {
		srcCfg := audioio.DefaultConfig()
		srcCfg.SampleRate = realtime.SampleRate
		source, err := audioio.NewSource(srcCfg, a.logger)
		if err != nil {
			return err
		}
		a.source = source
		relay = transcribe.NewRelay(
			transcribe.WithRelayHooks(
				func(ctx context.Context) error { return a.streamMicrophone(ctx, session) },
				source.Stop,
			),
			transcribe.WithRelayLogger(a.logger),
		)
		a.transcriber = relay
	}

	opts := []realtime.Option{
		realtime.WithAPIKey(a.cfg.OpenAIKey),
		realtime.WithURL(a.cfg.RealtimeURL),
		realtime.WithModel(a.cfg.RealtimeModel),
		realtime.WithVoice(a.voice()),
		realtime.WithInstructions(a.personalization.SessionInstructions()),
		realtime.WithTurnDetection(realtime.TurnDetection{
			Type:              "server_vad",
			Threshold:         config.SilenceThreshold,
			PrefixPaddingMs:   config.PrefixPaddingMs,
			SilenceDurationMs: config.SilenceDurationMs,
		}),
		realtime.WithLogger(a.logger),
	}
	if relay != nil {
		opts = append(opts, realtime.WithTranscriptHandler(func(text string) { relay.Push(text) }))
	}

	var err error
	session, err = realtime.Dial(ctx, opts...)
	if err != nil {
		return err
	}
	a.provider = session
	return nil
}

// streamMicrophone starts capture and forwards every chunk into the
// session's input buffer. The server transcribes it and the transcripts
// come back through the relay.
func (a *App) streamMicrophone(ctx context.Context, session *realtime.Session) error {
	if err := a.source.Start(ctx); err != nil {
		return err
	}
	stream := a.source.Stream()
	go func() {
		for chunk := range stream {
			if chunk.Channels > 1 {
				chunk = downmix(chunk)
			}
			pcm := audioio.ResampleBytes(chunk.Bytes(), chunk.SampleRate, realtime.SampleRate)
			if err := session.AppendAudio(pcm); err != nil {
				a.logger.Warn("stream microphone audio", "error", err)
				return
			}
		}
	}()
	return nil
}

func (a *App) initInput() error {
	if a.transcriber != nil {
		return nil
	}

	if a.cfg.Input == config.InputConsole {
		a.transcriber = transcribe.NewConsole(a.stdin,
			transcribe.WithPrompt(a.stdout, a.personalization.HumanName+": "),
			transcribe.WithConsoleLogger(a.logger),
		)
		return nil
	}

	source, err := audioio.NewSource(audioio.DefaultConfig(), a.logger)
	if err != nil {
		return err
	}
	a.source = source

	wcfg := transcribe.DefaultWhisperConfig()
	wcfg.APIKey = a.cfg.OpenAIKey
	wcfg.BaseURL = a.cfg.BaseURL
	wcfg.Prompt = a.personalization.AssistantName
	wcfg.Timeout = a.cfg.RequestTimeout
	wcfg.Logger = a.logger
	a.transcriber = transcribe.NewWhisper(wcfg, source)
	return nil
}

func (a *App) voice() string {
	if a.personalization.Voice != "" {
		return a.personalization.Voice
	}
	return a.cfg.Voice
}

// Run drives the conversation until ctx ends or input is exhausted.
func (a *App) Run(ctx context.Context) error {
	if a.agent == nil {
		return agent.ErrNotInitialized
	}
	return a.agent.Run(ctx)
}

// Agent returns the conversation loop.
func (a *App) Agent() *agent.Agent { return a.agent }

// Memory returns the active memory.
func (a *App) Memory() memory.Store { return a.memory }

// Shutdown stops the loop and releases every component.
func (a *App) Shutdown() error {
	var errs []error
	if a.agent != nil {
		a.agent.Stop()
	}
	if a.dashboard != nil {
		if err := a.dashboard.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("dashboard: %w", err))
		}
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.source != nil {
		if err := a.source.Close(); err != nil {
			errs = append(errs, fmt.Errorf("audio source: %w", err))
		}
	}
	if a.provider != nil {
		if err := a.provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("provider: %w", err))
		}
	}
	if a.writer != nil && a.writer != a.provider {
		if err := a.writer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("file writer: %w", err))
		}
	}
	if a.memory != nil {
		if err := a.memory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("memory: %w", err))
		}
	}
	a.logger.Info("assistant stopped")
	return errors.Join(errs...)
}

func downmix(chunk audioio.AudioChunk) audioio.AudioChunk {
	frames := len(chunk.Samples) / chunk.Channels
	mono := make([]int16, frames)
	for i := range frames {
		var sum int
		for c := range chunk.Channels {
			sum += int(chunk.Samples[i*chunk.Channels+c])
		}
		mono[i] = int16(sum / chunk.Channels)
	}
	return audioio.AudioChunk{Samples: mono, SampleRate: chunk.SampleRate, Channels: 1}
}
