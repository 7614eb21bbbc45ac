// Package tool implements tool discovery, routing and execution: a registry
// of callable capabilities, a discovery cache bounded by TTL and message
// count, and a batch executor that runs independent calls concurrently,
// classifies failures as retryable or terminal, and synthesizes guidance
// messages that drive the model's bounded retry loop.
package tool

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/turnpike-ai/turnpike/core"
)

// Tool is one callable capability exposed to the model.
type Tool interface {
	// Definition returns the name, description and JSON schema advertised
	// to the model. Names are namespaced by backend prefix, for example
	// gmail_send_email.
	Definition() core.ToolDefinition

	// Execute runs the tool with already-decoded arguments. The returned
	// value must be JSON-serializable.
	Execute(ctx context.Context, args map[string]any) (any, error)
}

// Error codes attached to Err for retry classification.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeExecution  = "EXECUTION_ERROR"
	CodePermission = "PERMISSION_DENIED"
	CodeDisabled   = "TOOL_DISABLED"
	CodeUnknown    = "UNKNOWN_TOOL"
)

// Err is a classified tool failure.
type Err struct {
	Tool    string `json:"tool"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *Err) Error() string {
	return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
}

// NewErr creates a classified tool error.
func NewErr(tool, code, message string) *Err {
	return &Err{Tool: tool, Code: code, Message: message}
}

// Registry is a concurrency-safe catalog of tools keyed by name.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates a registry holding the given tools.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.tools[t.Definition().Name] = t
	}
	return r
}

// Register adds a tool, rejecting duplicate names.
func (r *Registry) Register(t Tool) error {
	name := t.Definition().Name
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.tools[name] = t
	return nil
}

// Get returns the named tool.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Definitions lists all registered tools sorted by name.
func (r *Registry) Definitions() []core.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]core.ToolDefinition, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t.Definition())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// ListTools implements the discovery Catalog contract over the registry,
// ignoring agent and user scoping. Multi-tenant deployments supply their own
// Catalog instead.
func (r *Registry) ListTools(_ context.Context, _, _ string) ([]core.ToolDefinition, error) {
	return r.Definitions(), nil
}
