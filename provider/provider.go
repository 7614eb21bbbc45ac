// Package provider defines the uniform chat/embedding interface over a
// concrete model vendor. Adapters normalize each vendor SDK's message format
// into the core data model and back so every other component stays
// provider-agnostic.
package provider

import (
	"context"
	"fmt"

	"github.com/turnpike-ai/turnpike/core"
)

// Name identifies a supported vendor. The set is closed: dynamic dispatch is
// a small tagged choice behind the Adapter interface, not a registry.
type Name string

const (
	// NameOpenAI selects the OpenAI-style chat completions adapter.
	NameOpenAI Name = "openai"
	// NameAnthropic selects the Anthropic-style messages adapter.
	NameAnthropic Name = "anthropic"
	// NameMock selects the scripted in-memory adapter used in tests.
	NameMock Name = "mock"
)

// ChatRequest captures the normalized model input produced by the pipeline.
type ChatRequest struct {
	Model       string
	Messages    []core.Message
	Tools       []core.ToolDefinition
	Temperature *float64
	MaxTokens   int64
	ToolChoice  core.ToolChoice
	Stream      bool
}

// ChatChunk is a (partial or final) piece emitted by a model call. Partial
// chunks carry incremental text; the final chunk carries the accumulated
// text, any tool calls, the finish reason and token usage.
type ChatChunk struct {
	ResponseID   string
	Partial      bool
	TextDelta    string
	Text         string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        *core.TokenUsage
}

// EmbedRequest is a batch embedding input. One vector is returned per input,
// order preserved.
type EmbedRequest struct {
	Model  string
	Inputs []string
}

// Info contains metadata about an adapter implementation.
type Info struct {
	Model               string
	Provider            Name
	SupportsTools       bool
	SupportsTemperature bool
	SupportsEmbeddings  bool
}

// Adapter is the minimal interface the router requires to drive generation
// and embedding. Chat returns a channel pair: zero or more partial chunks
// followed by exactly one final chunk, then both channels close. Errors are
// reported on the error channel and terminate the sequence.
type Adapter interface {
	Chat(ctx context.Context, req ChatRequest) (<-chan ChatChunk, <-chan error)
	Embed(ctx context.Context, req EmbedRequest) ([][]float32, error)
	Info() Info
}

// ErrEmbeddingsUnsupported is returned by adapters whose vendor exposes no
// embedding API.
var ErrEmbeddingsUnsupported = fmt.Errorf("provider does not support embeddings")
