package tool

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"
)

type entry struct {
	def     Definition
	factory Factory
}

// Registry maps tool names to factories.
//
// Tools are registered once at startup; after that the registry is
// read-only and safe for concurrent Execute calls. Register must not run
// concurrently with lookups.
type Registry struct {
	entries map[string]*entry
	order   []string
	runLog  *RunLog
	logger  *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithRunLog records every execution's duration to rl.
func WithRunLog(rl *RunLog) Option {
	return func(r *Registry) { r.runLog = rl }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries: make(map[string]*entry),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "tool.registry")
	return r
}

// Register adds a tool under name. Names are case-insensitive; registering
// a name twice fails with ErrDuplicateTool. The factory is called once here
// to capture the tool's definition.
func (r *Registry) Register(name string, factory Factory) error {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return fmt.Errorf("%w: empty name or nil factory", ErrInvalidTool)
	}
	if _, exists := r.entries[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateTool, name)
	}

	t := factory()
	if t == nil {
		return fmt.Errorf("%w: factory for %s returned nil", ErrInvalidTool, name)
	}
	def := t.Definition()
	if def.Name == "" {
		def.Name = name
	}

	r.entries[key] = &entry{def: def, factory: factory}
	r.order = append(r.order, key)
	r.logger.Debug("registered tool", "name", def.Name, "params", len(def.Parameters))
	return nil
}

// MustRegister is like Register but panics on error.
func (r *Registry) MustRegister(name string, factory Factory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Has reports whether a tool is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	return ok
}

// Definition returns the definition registered under name.
func (r *Registry) Definition(name string) (Definition, bool) {
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return Definition{}, false
	}
	return e.def, true
}

// Definitions returns all definitions in registration order.
func (r *Registry) Definitions() []Definition {
	defs := make([]Definition, 0, len(r.order))
	for _, key := range r.order {
		defs = append(defs, r.entries[key].def)
	}
	return defs
}

// Names returns registered tool names in registration order.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.order))
	for _, key := range r.order {
		names = append(names, r.entries[key].def.Name)
	}
	return names
}

// Len returns the number of registered tools.
func (r *Registry) Len() int { return len(r.entries) }

// Execute runs the named tool with model-supplied arguments.
//
// The returned Result is always populated: failures become
// {status: "error", message}. The error, when non-nil, classifies the
// failure as *NotFoundError, *BindingError or *ExecutionError. Panics in
// tool bodies are recovered.
func (r *Registry) Execute(ctx context.Context, name string, args map[string]Value) (Result, error) {
	e, ok := r.entries[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		err := &NotFoundError{Name: name}
		r.logger.Warn("unknown tool requested", "name", name)
		return Failure(fmt.Sprintf("Tool %s is not available.", name)), err
	}

	var (
		result Result
		err    error
	)
	r.runLog.Instrument(e.def.Name, func() {
		result, err = r.invoke(ctx, e, args)
	})
	if err != nil {
		r.logger.Warn("tool failed", "tool", e.def.Name, "error", err)
		return Failure(err.Error()), err
	}
	return result, nil
}

func (r *Registry) invoke(ctx context.Context, e *entry, supplied map[string]Value) (result Result, err error) {
	bound, err := Bind(e.def, supplied)
	if err != nil {
		return nil, err
	}

	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("tool panicked", "tool", e.def.Name, "panic", p, "stack", string(debug.Stack()))
			result, err = nil, &ExecutionError{Tool: e.def.Name, Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	t := e.factory()
	if t == nil {
		return nil, &ExecutionError{Tool: e.def.Name, Err: ErrInvalidTool}
	}

	start := time.Now()
	result, err = t.Invoke(ctx, bound)
	if err != nil {
		return nil, &ExecutionError{Tool: e.def.Name, Err: err}
	}
	if result == nil {
		result = Result{}
	}
	if result.Status() == "" {
		result["status"] = StatusSuccess
	}
	r.logger.Debug("tool executed", "tool", e.def.Name, "status", result.Status(), "elapsed", time.Since(start))
	return result, nil
}
