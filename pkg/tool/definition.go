// Package tool implements the assistant's tool dispatch layer: a
// case-insensitive registry of tool factories, a forgiving parameter binder
// for model-produced arguments, and the catalog builder that describes
// registered tools to a language model.
package tool

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// Type is a parameter's declared JSON type.
type Type string

const (
	TypeString  Type = "string"
	TypeInteger Type = "integer"
	TypeNumber  Type = "number"
	TypeBoolean Type = "boolean"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

// ParamSpec declares one tool parameter.
type ParamSpec struct {
	// Name as declared. PascalCase names are exposed to the model in
	// snake_case (see ExternalName).
	Name        string
	Description string
	Type        Type
	Required    bool
	// Default is used when an optional parameter is not supplied.
	Default any
	// Enum restricts string values to a fixed set. Matching is
	// case-insensitive and yields the canonical spelling.
	Enum []string
	// Items describes array elements. Nil means untyped elements.
	Items *ParamSpec
}

// ExternalName is the snake_case key the model sees for this parameter.
func (p ParamSpec) ExternalName() string {
	return SnakeCase(p.Name)
}

// Definition describes a tool to the model.
type Definition struct {
	Name        string
	Description string
	Parameters  []ParamSpec
}

// Args holds bound arguments keyed by declared parameter name.
// Values are plain Go values: string, int64, float64, bool, []any, map[string]any.
type Args map[string]any

// String returns the named argument as a string.
func (a Args) String(name string) string {
	s, _ := a[name].(string)
	return s
}

// Int returns the named argument as an int64.
func (a Args) Int(name string) int64 {
	switch v := a[name].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}

// Float returns the named argument as a float64.
func (a Args) Float(name string) float64 {
	switch v := a[name].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return 0
}

// Bool returns the named argument as a bool.
func (a Args) Bool(name string) bool {
	b, _ := a[name].(bool)
	return b
}

// Strings returns the named array argument as strings.
func (a Args) Strings(name string) []string {
	switch v := a[name].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, fmt.Sprint(item))
		}
		return out
	}
	return nil
}

// Has reports whether the argument is present and non-nil.
func (a Args) Has(name string) bool {
	v, ok := a[name]
	return ok && v != nil
}

// Result is a tool's structured outcome. It always carries "status" and
// usually "message"; tools may add their own fields.
type Result map[string]any

// Result statuses.
const (
	StatusSuccess              = "success"
	StatusError                = "error"
	StatusConfirmationRequired = "confirmation_required"
)

// Success builds a success result with a message.
func Success(message string) Result {
	return Result{"status": StatusSuccess, "message": message}
}

// Failure builds an error result with a message.
func Failure(message string) Result {
	return Result{"status": StatusError, "message": message}
}

// Status returns the result status.
func (r Result) Status() string {
	s, _ := r["status"].(string)
	return s
}

// Message returns the result message.
func (r Result) Message() string {
	s, _ := r["message"].(string)
	return s
}

// With returns r with an extra field set.
func (r Result) With(key string, value any) Result {
	r[key] = value
	return r
}

// Tool is a single invocable capability.
type Tool interface {
	Definition() Definition
	Invoke(ctx context.Context, args Args) (Result, error)
}

// Factory builds a fresh Tool instance. The registry calls it once at
// registration to read the definition and once per execution.
type Factory func() Tool

// Func adapts a definition and a function into a Tool.
type Func struct {
	Def Definition
	Fn  func(ctx context.Context, args Args) (Result, error)
}

// Definition implements Tool.
func (f *Func) Definition() Definition { return f.Def }

// Invoke implements Tool.
func (f *Func) Invoke(ctx context.Context, args Args) (Result, error) {
	return f.Fn(ctx, args)
}

// NewFunc returns a Factory for a stateless function tool.
func NewFunc(def Definition, fn func(ctx context.Context, args Args) (Result, error)) Factory {
	return func() Tool { return &Func{Def: def, Fn: fn} }
}

// SnakeCase converts PascalCase or camelCase to snake_case. Runs of
// capitals are treated as one word ("HTTPServer" -> "http_server").
// Names already in snake_case are returned lower-cased.
func SnakeCase(name string) string {
	runes := []rune(strings.TrimSpace(name))
	var b strings.Builder
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 {
				prev := runes[i-1]
				nextLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])
				if prev != '_' && (unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextLower)) {
					b.WriteByte('_')
				}
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return normalizeKey(b.String())
}
