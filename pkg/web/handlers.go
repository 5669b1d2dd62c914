package web

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"

	"github.com/teslashibe/go-jarvis/pkg/agent"
	"github.com/teslashibe/go-jarvis/pkg/hub"
	"github.com/teslashibe/go-jarvis/pkg/tool"
)

const defaultLogLimit = 100

// ToolInfo describes an available tool.
type ToolInfo struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []ParamInfo `json:"parameters"`
}

// ParamInfo describes one tool parameter under its external name.
type ParamInfo struct {
	Name        string    `json:"name"`
	Type        tool.Type `json:"type"`
	Required    bool      `json:"required"`
	Description string    `json:"description,omitempty"`
	Enum        []string  `json:"enum,omitempty"`
}

// ConversationEntry is one history message as shown on the dashboard.
type ConversationEntry struct {
	Role       string   `json:"role"`
	Content    string   `json:"content,omitempty"`
	ToolCalls  []string `json:"tool_calls,omitempty"`
	ToolCallID string   `json:"tool_call_id,omitempty"`
}

// ExecuteToolRequest is the request body for a manual tool execution.
type ExecuteToolRequest struct {
	Args map[string]tool.Value `json:"args"`
}

func (s *Server) handleStatus(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"agent":             s.assistant.Status(),
		"dashboard_clients": s.events.ClientCount(),
	})
}

func (s *Server) handleListTools(c *fiber.Ctx) error {
	defs := s.assistant.Registry().Definitions()
	out := make([]ToolInfo, 0, len(defs))
	for _, def := range defs {
		info := ToolInfo{Name: def.Name, Description: def.Description, Parameters: []ParamInfo{}}
		for _, p := range def.Parameters {
			info.Parameters = append(info.Parameters, ParamInfo{
				Name:        p.ExternalName(),
				Type:        p.Type,
				Required:    p.Required,
				Description: p.Description,
				Enum:        p.Enum,
			})
		}
		out = append(out, info)
	}
	return c.JSON(out)
}

func (s *Server) handleExecuteTool(c *fiber.Ctx) error {
	name := c.Params("name")

	var req ExecuteToolRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid request body: "+err.Error())
		}
	}
	if req.Args == nil {
		req.Args = map[string]tool.Value{}
	}

	result, err := s.assistant.ExecuteTool(c.UserContext(), name, req.Args)
	status := fiber.StatusOK
	switch {
	case errors.Is(err, agent.ErrBusy):
		return fiber.NewError(fiber.StatusConflict, "a conversation turn is in progress")
	case tool.IsNotFound(err):
		status = fiber.StatusNotFound
	case tool.IsBinding(err):
		status = fiber.StatusBadRequest
	case err != nil:
		status = fiber.StatusInternalServerError
	}

	s.logger.Info("manual tool execution", "tool", name, "status", result.Status())
	return c.Status(status).JSON(fiber.Map{
		"tool":   name,
		"result": result,
	})
}

func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	history := s.assistant.History()
	out := make([]ConversationEntry, 0, len(history))
	for _, m := range history {
		e := ConversationEntry{Role: string(m.Role), Content: m.Content, ToolCallID: m.ToolCallID}
		for _, call := range m.ToolCalls {
			e.ToolCalls = append(e.ToolCalls, call.Name)
		}
		out = append(out, e)
	}
	return c.JSON(out)
}

func (s *Server) handleGetLogs(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", defaultLogLimit)
	if limit <= 0 {
		limit = defaultLogLimit
	}
	entries, err := s.runLog.Recent(limit)
	if err != nil {
		return err
	}
	if entries == nil {
		entries = []tool.RunEntry{}
	}
	return c.JSON(entries)
}

func (s *Server) handleGetEvents(c *fiber.Ctx) error {
	return c.JSON(s.Recent())
}

// handleEventsWS replays buffered events, then streams live ones.
func (s *Server) handleEventsWS(c *websocket.Conn) {
	recent := s.Recent()
	backlog := make([]hub.Message, 0, len(recent))
	for _, e := range recent {
		data, err := json.Marshal(e)
		if err != nil {
			continue
		}
		backlog = append(backlog, hub.NewJSONMessage(data))
	}
	hub.NewClient(s.events, c, backlog...).Run()
}

func (s *Server) handleError(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
	}
	if code >= fiber.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"error": err.Error()})
}
