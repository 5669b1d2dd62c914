// Package web serves the assistant's observer dashboard: a JSON API over
// the conversation loop and a websocket stream of loop events.
package web

import (
	"context"
	"log/slog"
	"net"
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-jarvis/pkg/agent"
	"github.com/teslashibe/go-jarvis/pkg/hub"
	"github.com/teslashibe/go-jarvis/pkg/inference"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

// maxRecentEvents bounds the backlog replayed to new websocket clients.
const maxRecentEvents = 200

// Assistant is the view of the conversation loop the dashboard needs.
type Assistant interface {
	Status() agent.Status
	History() []inference.Message
	Registry() *tool.Registry
	ExecuteTool(ctx context.Context, name string, args map[string]tool.Value) (tool.Result, error)
}

// Server is the dashboard server. It implements agent.Observer.
type Server struct {
	app       *fiber.App
	assistant Assistant
	runLog    *tool.RunLog
	events    *hub.Hub
	logger    *slog.Logger

	mu     sync.RWMutex
	recent []agent.Event
}

// NewServer creates a dashboard over assistant. runLog may be nil.
func NewServer(assistant Assistant, runLog *tool.RunLog, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		assistant: assistant,
		runLog:    runLog,
		logger:    logger.With("component", "web"),
		events:    hub.New("events", logger),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Jarvis Dashboard",
		DisableStartupMessage: true,
		ErrorHandler:          s.handleError,
	})

	app.Use(cors.New())

	api := app.Group("/api")
	api.Get("/status", s.handleStatus)
	api.Get("/tools", s.handleListTools)
	api.Post("/tools/:name", s.handleExecuteTool)
	api.Get("/conversation", s.handleGetConversation)
	api.Get("/logs", s.handleGetLogs)
	api.Get("/events", s.handleGetEvents)

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/events", websocket.New(s.handleEventsWS))

	s.app = app
	go s.events.Run()
	return s
}

// App exposes the fiber app, mainly for tests.
func (s *Server) App() *fiber.App { return s.app }

// Listen serves on addr until Shutdown.
func (s *Server) Listen(addr string) error {
	s.logger.Info("dashboard listening", "addr", addr)
	return s.app.Listen(addr)
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.logger.Info("dashboard listening", "addr", ln.Addr().String())
	return s.app.Listener(ln)
}

// Shutdown stops the server and disconnects websocket clients.
func (s *Server) Shutdown() error {
	s.events.Stop()
	return s.app.Shutdown()
}

// Observe records e and broadcasts it to websocket clients.
func (s *Server) Observe(e agent.Event) {
	s.mu.Lock()
	s.recent = append(s.recent, e)
	if len(s.recent) > maxRecentEvents {
		s.recent = append(s.recent[:0], s.recent[len(s.recent)-maxRecentEvents:]...)
	}
	s.mu.Unlock()

	if err := s.events.BroadcastJSON(e); err != nil {
		s.logger.Warn("encode event", "type", e.Type, "error", err)
	}
}

// Recent returns the buffered events, oldest first.
func (s *Server) Recent() []agent.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]agent.Event(nil), s.recent...)
}

var _ agent.Observer = (*Server)(nil)
