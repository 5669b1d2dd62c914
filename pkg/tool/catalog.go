package tool

import (
	"encoding/json"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// Shape selects the wire layout of catalog entries.
type Shape int

const (
	// ShapeChat nests the definition under "function", as chat completion
	// APIs expect.
	ShapeChat Shape = iota
	// ShapeFlat places name, description and parameters at the top level,
	// as realtime sessions expect.
	ShapeFlat
)

func (s Shape) String() string {
	if s == ShapeFlat {
		return "flat"
	}
	return "chat"
}

// ParametersSchema builds the JSON schema object for def's parameters.
func ParametersSchema(def Definition) *jsonschema.Schema {
	schema := &jsonschema.Schema{
		Type:       "object",
		Properties: make(map[string]*jsonschema.Schema, len(def.Parameters)),
		Required:   []string{},
	}
	for _, p := range def.Parameters {
		name := p.ExternalName()
		schema.Properties[name] = paramSchema(p)
		if p.Required {
			schema.Required = append(schema.Required, name)
		}
	}
	return schema
}

func paramSchema(p ParamSpec) *jsonschema.Schema {
	typ := p.Type
	if typ == "" {
		typ = TypeString
	}
	s := &jsonschema.Schema{
		Type:        string(typ),
		Description: p.Description,
	}
	for _, option := range p.Enum {
		s.Enum = append(s.Enum, option)
	}
	if typ == TypeArray {
		if p.Items != nil {
			s.Items = paramSchema(*p.Items)
		} else {
			s.Items = &jsonschema.Schema{Type: string(TypeString)}
		}
	}
	return s
}

// BuildCatalog renders definitions as tool descriptors in the given shape.
// The output is a plain JSON-compatible structure ready to embed in a request.
func BuildCatalog(defs []Definition, shape Shape) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(defs))
	for _, def := range defs {
		params, err := schemaMap(ParametersSchema(def))
		if err != nil {
			return nil, fmt.Errorf("tool: catalog %s: %w", def.Name, err)
		}
		switch shape {
		case ShapeFlat:
			out = append(out, map[string]any{
				"type":        "function",
				"name":        def.Name,
				"description": def.Description,
				"parameters":  params,
			})
		default:
			out = append(out, map[string]any{
				"type": "function",
				"function": map[string]any{
					"name":        def.Name,
					"description": def.Description,
					"parameters":  params,
				},
			})
		}
	}
	return out, nil
}

func schemaMap(s *jsonschema.Schema) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	// An empty required list is dropped by omitempty; keep it explicit.
	if _, ok := m["required"]; !ok {
		m["required"] = []any{}
	}
	if _, ok := m["properties"]; !ok {
		m["properties"] = map[string]any{}
	}
	return m, nil
}
