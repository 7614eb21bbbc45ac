package core

import "time"

// ToolDefinition declaratively exposes a callable capability to the model.
// Names are unique and namespaced by provider prefix (e.g. gmail_send_email).
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ToolCall is a model-requested invocation of a named tool. Arguments is the
// serialized JSON argument payload exactly as produced by the provider.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments,omitempty"`
}

// ToolStatus classifies the outcome of a tool call.
type ToolStatus string

const (
	// ToolStatusSuccess means the tool produced a usable result.
	ToolStatusSuccess ToolStatus = "success"
	// ToolStatusRetryable means the failure is likely fixable by the model
	// retrying with corrected arguments.
	ToolStatusRetryable ToolStatus = "retryable_error"
	// ToolStatusTerminal means retrying cannot help (permission denied,
	// unknown tool, tool disabled).
	ToolStatusTerminal ToolStatus = "terminal_error"
)

// ToolResult is the outcome of exactly one prior ToolCall in the same turn.
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Name       string        `json:"name"`
	Status     ToolStatus    `json:"status"`
	Result     any           `json:"result,omitempty"`
	Error      string        `json:"error,omitempty"`
	Latency    time.Duration `json:"latency"`
}

// Succeeded reports whether the call completed without error.
func (r ToolResult) Succeeded() bool { return r.Status == ToolStatusSuccess }

// ToolChoice constrains how the model may use the supplied tools.
type ToolChoice string

const (
	// ToolChoiceNone forbids tool calls.
	ToolChoiceNone ToolChoice = "none"
	// ToolChoiceAuto lets the model decide.
	ToolChoiceAuto ToolChoice = "auto"
	// ToolChoiceRequired forces at least one tool call.
	ToolChoiceRequired ToolChoice = "required"
)
