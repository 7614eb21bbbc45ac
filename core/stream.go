package core

// StreamEventType names the streaming event variants.
type StreamEventType string

const (
	// StreamEventDelta carries incremental assistant text.
	StreamEventDelta StreamEventType = "delta"
	// StreamEventToolCall announces a model-requested tool invocation.
	StreamEventToolCall StreamEventType = "tool_call"
	// StreamEventToolResult announces a completed tool invocation.
	StreamEventToolResult StreamEventType = "tool_result"
	// StreamEventComplete terminates the sequence with final metrics.
	StreamEventComplete StreamEventType = "complete"
	// StreamEventError terminates the sequence with a classified failure.
	StreamEventError StreamEventType = "error"
)

// Metrics is the final accounting for one turn. Tokens is populated on every
// outcome, success or failure, so callers can reconcile cost.
type Metrics struct {
	Tokens           TokenUsage `json:"tokens"`
	Model            string     `json:"model"`
	ProcessingTimeMS int64      `json:"processing_time_ms"`
}

// StreamEvent is one element of the finite, single-pass event sequence
// emitted by a streaming run. Events for one turn are delivered in generation
// order and never interleave with another turn's events.
type StreamEvent struct {
	Type       StreamEventType `json:"type"`
	Delta      string          `json:"delta,omitempty"`
	ToolCall   *ToolCall       `json:"tool_call,omitempty"`
	ToolResult *ToolResult     `json:"tool_result,omitempty"`
	Metrics    *Metrics        `json:"metrics,omitempty"`
	ErrorKind  Kind            `json:"error_kind,omitempty"`
	Error      string          `json:"error,omitempty"`
}

// DeltaEvent builds an incremental text event.
func DeltaEvent(text string) StreamEvent {
	return StreamEvent{Type: StreamEventDelta, Delta: text}
}

// ToolCallEvent builds a tool call announcement.
func ToolCallEvent(tc ToolCall) StreamEvent {
	return StreamEvent{Type: StreamEventToolCall, ToolCall: &tc}
}

// ToolResultEvent builds a tool outcome announcement.
func ToolResultEvent(tr ToolResult) StreamEvent {
	return StreamEvent{Type: StreamEventToolResult, ToolResult: &tr}
}

// CompleteEvent builds the terminal success event.
func CompleteEvent(m Metrics) StreamEvent {
	return StreamEvent{Type: StreamEventComplete, Metrics: &m}
}

// ErrorEvent builds the terminal failure event. Metrics still carry whatever
// tokens were consumed before the failure.
func ErrorEvent(err error, m Metrics) StreamEvent {
	return StreamEvent{Type: StreamEventError, ErrorKind: KindOf(err), Error: err.Error(), Metrics: &m}
}
