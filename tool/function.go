package tool

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/turnpike-ai/turnpike/core"
)

// FuncTool adapts a plain Go function into a Tool. It holds a JSON-schema
// parameter map and validates required fields before invoking the function.
// A FuncTool has no mutable state after construction and is safe for
// concurrent use.
type FuncTool struct {
	def core.ToolDefinition
	fn  func(ctx context.Context, args map[string]any) (any, error)
}

// NewFuncTool constructs a FuncTool from an explicit schema and function.
// The parameters map follows the usual JSON-schema object shape with
// "properties" and "required".
func NewFuncTool(
	name, description string,
	parameters map[string]any,
	fn func(ctx context.Context, args map[string]any) (any, error),
) *FuncTool {
	return &FuncTool{
		def: core.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  parameters,
		},
		fn: fn,
	}
}

// NewStructTool derives the parameter schema from a struct type via
// reflection, so argument shapes live in one place.
func NewStructTool[T any](
	name, description string,
	fn func(ctx context.Context, args map[string]any) (any, error),
) (*FuncTool, error) {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
	}
	var zero T
	schema := reflector.Reflect(&zero)

	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema for %s: %w", name, err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		return nil, fmt.Errorf("decode schema for %s: %w", name, err)
	}
	delete(params, "$schema")
	return NewFuncTool(name, description, params, fn), nil
}

// Definition implements Tool.
func (t *FuncTool) Definition() core.ToolDefinition { return t.def }

// Execute implements Tool. Missing required arguments surface as a
// validation error, which the executor treats as retryable with guidance.
func (t *FuncTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	for _, field := range RequiredFields(t.def) {
		if _, ok := args[field]; !ok {
			return nil, NewErr(t.def.Name, CodeValidation,
				fmt.Sprintf("missing required argument %q", field))
		}
	}
	return t.fn(ctx, args)
}

// RequiredFields extracts the "required" list from a tool's schema.
func RequiredFields(def core.ToolDefinition) []string {
	raw, ok := def.Parameters["required"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// PropertyType reports the declared JSON type of a schema property, empty
// when unknown.
func PropertyType(def core.ToolDefinition, field string) string {
	props, ok := def.Parameters["properties"].(map[string]any)
	if !ok {
		return ""
	}
	prop, ok := props[field].(map[string]any)
	if !ok {
		return ""
	}
	typ, _ := prop["type"].(string)
	return typ
}
