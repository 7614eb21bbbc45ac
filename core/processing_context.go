package core

import "time"

// ToolDetail is one entry in the ordered log of attempted tool calls and
// their outcomes, kept for response metadata and audit.
type ToolDetail struct {
	Call      ToolCall   `json:"call"`
	Status    ToolStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	LatencyMS int64      `json:"latency_ms"`
}

// ProcessingContext is the mutable-by-stage bag threaded through one pipeline
// run. It accumulates the ordered message sequence, token usage and the tool
// detail log. A ProcessingContext is owned exclusively by one run and is never
// shared across concurrent requests, so access is not synchronized.
type ProcessingContext struct {
	TurnID         string
	AgentID        string
	UserID         string
	ConversationID string
	SessionID      string

	Request *ChatTurnRequest

	// Messages is the ordered conversational sequence; insertion order is
	// conversational order. Context and memory enrichment prepend system
	// entries ahead of history.
	Messages []Message

	// Usage increases monotonically across every model call of the run.
	Usage TokenUsage

	// ToolDetails is the append-only log of attempted tool calls.
	ToolDetails []ToolDetail

	// ContextTokens records how many tokens of assembled context were
	// included, surfaced in processing details.
	ContextTokens int

	// ReasoningScore and ReasoningApplied describe the optional
	// deliberation pass.
	ReasoningScore   float64
	ReasoningApplied bool

	startedAt time.Time
	values    map[string]any
}

// NewProcessingContext seeds a run context from the canonical request.
func NewProcessingContext(req *ChatTurnRequest) *ProcessingContext {
	return &ProcessingContext{
		TurnID:         NewID(),
		AgentID:        req.AgentID,
		UserID:         req.UserID,
		ConversationID: req.ConversationID,
		SessionID:      req.SessionID,
		Request:        req,
		startedAt:      time.Now(),
		values:         map[string]any{},
	}
}

// Append adds messages at the end of the sequence.
func (p *ProcessingContext) Append(msgs ...Message) {
	p.Messages = append(p.Messages, msgs...)
}

// Prepend inserts messages ahead of the current sequence, preserving their
// relative order. Used by enrichment to place context before history.
func (p *ProcessingContext) Prepend(msgs ...Message) {
	p.Messages = append(append([]Message{}, msgs...), p.Messages...)
}

// RecordTool appends one attempted tool call outcome to the detail log.
func (p *ProcessingContext) RecordTool(res ToolResult) {
	p.ToolDetails = append(p.ToolDetails, ToolDetail{
		Call:      ToolCall{ID: res.ToolCallID, Name: res.Name},
		Status:    res.Status,
		Error:     res.Error,
		LatencyMS: res.Latency.Milliseconds(),
	})
}

// SetValue stores a per-run scratch value (resolved provider, credentials).
// Values never outlive the run.
func (p *ProcessingContext) SetValue(key string, v any) { p.values[key] = v }

// Value retrieves a per-run scratch value.
func (p *ProcessingContext) Value(key string) (any, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Elapsed is the wall-clock duration since the run started.
func (p *ProcessingContext) Elapsed() time.Duration { return time.Since(p.startedAt) }
