// Jarvis is a personal assistant you talk to from the terminal or a
// microphone. It answers through a language model that can call local
// tools: memory, scratch-pad files, time and random numbers.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/urfave/cli/v3"

	"github.com/teslashibe/go-jarvis/internal/config"
	"github.com/teslashibe/go-jarvis/internal/log"
	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/jarvis"
	"github.com/teslashibe/go-jarvis/pkg/memory"
	"github.com/teslashibe/go-jarvis/pkg/tool"
	"github.com/teslashibe/go-jarvis/pkg/tools"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cmd := &cli.Command{
		Name:   "jarvis",
		Usage:  "talk to a tool-using personal assistant",
		Flags:  flags(),
		Action: run,
		Commands: []*cli.Command{
			{
				Name:   "tools",
				Usage:  "list the tools the assistant can call",
				Action: listTools,
			},
		},
	}

	if err := cmd.Run(ctx, os.Args); err != nil {
		log.L().Error("jarvis failed", "error", err)
		os.Exit(1)
	}
}

func flags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "mode", Aliases: []string{"m"}, Usage: "conversation backend: http or realtime"},
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "input source: console or microphone"},
		&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "output sink: text or speaker"},
		&cli.StringFlag{Name: "model", Usage: "chat model for http mode"},
		&cli.StringFlag{Name: "voice", Usage: "voice for spoken replies"},
		&cli.StringFlag{Name: "dashboard-port", Aliases: []string{"p"}, Usage: "serve the dashboard on this port"},
		&cli.StringFlag{Name: "scratch-pad", Usage: "directory the file tools work in"},
		&cli.StringFlag{Name: "memory-file", Usage: "where active memory is persisted"},
		&cli.StringFlag{Name: "personalization", Usage: "personalization YAML file"},
		&cli.StringFlag{Name: "log-level", Aliases: []string{"l"}, Usage: "debug, info, warn or error"},
		&cli.IntFlag{Name: "max-tool-rounds", Usage: "tool rounds allowed per utterance"},
	}
}

// loadConfig reads the environment, then applies any flags given on the
// command line.
func loadConfig(c *cli.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	strs := map[string]*string{
		"mode":            &cfg.Mode,
		"input":           &cfg.Input,
		"output":          &cfg.Output,
		"model":           &cfg.Model,
		"voice":           &cfg.Voice,
		"dashboard-port":  &cfg.DashboardPort,
		"scratch-pad":     &cfg.ScratchPadDir,
		"memory-file":     &cfg.MemoryFile,
		"personalization": &cfg.PersonalizationFile,
		"log-level":       &cfg.LogLevel,
	}
	for name, dst := range strs {
		if c.IsSet(name) {
			*dst = strings.TrimSpace(c.String(name))
		}
	}
	if c.IsSet("max-tool-rounds") {
		cfg.MaxToolRounds = c.Int("max-tool-rounds")
	}
	return cfg, nil
}

func run(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel)
	logger := log.L()

	app, err := jarvis.New(cfg, jarvis.WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if err := app.Shutdown(); err != nil {
			logger.Warn("shutdown", "error", err)
		}
	}()

	if err := app.Init(ctx); err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	if cfg.DashboardPort != "" {
		logger.Info("dashboard listening", "url", "http://localhost:"+cfg.DashboardPort)
	}
	return app.Run(ctx)
}

func listTools(ctx context.Context, c *cli.Command) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	log.Init(cfg.LogLevel)

	reg := tool.NewRegistry(tool.WithLogger(log.L()))
	// A stand-in writer keeps the file-generating tools in the listing.
	err = tools.Register(reg, tools.Deps{
		Memory:     memory.New(),
		ScratchPad: cfg.ScratchPadDir,
		Writer:     noWriter{},
		Logger:     log.L(),
	})
	if err != nil {
		return err
	}

	for _, def := range reg.Definitions() {
		fmt.Fprintf(os.Stdout, "%s\n    %s\n", def.Name, def.Description)
		for _, p := range def.Parameters {
			req := ""
			if p.Required {
				req = ", required"
			}
			fmt.Fprintf(os.Stdout, "    - %s (%s%s): %s\n", p.ExternalName(), p.Type, req, p.Description)
		}
	}
	return nil
}

// noWriter stands in for the file writer when only definitions are needed.
type noWriter struct{}

func (noWriter) Chat(context.Context, *inference.ChatRequest) (*inference.ChatResponse, error) {
	return nil, inference.ErrProviderUnavailable
}
func (noWriter) ToolShape() tool.Shape { return tool.ShapeChat }
func (noWriter) Health(context.Context) error { return nil }
func (noWriter) Close() error { return nil }
