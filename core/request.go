package core

// ResponseOptions controls the shape of the outbound response.
type ResponseOptions struct {
	Stream          bool `json:"stream"`
	IncludeMetadata bool `json:"include_metadata"`
	IncludeMetrics  bool `json:"include_metrics"`
}

// MemoryOptions controls memory retrieval during enrichment.
type MemoryOptions struct {
	Enabled    bool     `json:"enabled"`
	Types      []string `json:"types,omitempty"`
	MaxResults int      `json:"max_results" validate:"min=0"`
}

// ContextOptions controls context retrieval during enrichment.
type ContextOptions struct {
	MaxMessages int `json:"max_messages" validate:"min=0"`
	TokenBudget int `json:"token_budget" validate:"min=0"`
}

// TurnOptions aggregates per-request behavior flags.
type TurnOptions struct {
	Response ResponseOptions `json:"response"`
	Memory   MemoryOptions   `json:"memory"`
	Context  ContextOptions  `json:"context"`
}

// ChatTurnRequest is one inbound unit of work: a single user turn plus the
// identifiers and options governing its processing. It is immutable once
// constructed at the API boundary; the pipeline never mutates it.
type ChatTurnRequest struct {
	Message        Message     `json:"message" validate:"required"`
	AgentID        string      `json:"agent_id" validate:"required"`
	UserID         string      `json:"user_id" validate:"required"`
	ConversationID string      `json:"conversation_id" validate:"required"`
	SessionID      string      `json:"session_id,omitempty"`
	Options        TurnOptions `json:"options"`
}

// UserText is the plain text of the inbound user message.
func (r *ChatTurnRequest) UserText() string { return r.Message.Text() }
