package core

import "github.com/google/uuid"

// Role identifies the author of a message within a conversation.
type Role string

const (
	// RoleSystem marks instructions and assembled context.
	RoleSystem Role = "system"
	// RoleUser marks the inbound human turn.
	RoleUser Role = "user"
	// RoleAssistant marks model output, including tool call requests.
	RoleAssistant Role = "assistant"
	// RoleTool marks a tool execution outcome fed back to the model.
	RoleTool Role = "tool"
)

// ContentType discriminates the Content tagged union.
type ContentType string

const (
	// ContentTypeText is plain UTF-8 text content.
	ContentTypeText ContentType = "text"
	// ContentTypeStructured is a structured key/value payload.
	ContentTypeStructured ContentType = "structured"
)

// Content is a tagged union of the supported message payloads. Exactly one of
// Text or Data is meaningful depending on Type.
type Content struct {
	Type ContentType    `json:"type"`
	Text string         `json:"text,omitempty"`
	Data map[string]any `json:"data,omitempty"`
}

// TextContent constructs a plain text content value.
func TextContent(text string) Content {
	return Content{Type: ContentTypeText, Text: text}
}

// StructuredContent constructs a structured content value.
func StructuredContent(data map[string]any) Content {
	return Content{Type: ContentTypeStructured, Data: data}
}

// Message is one entry in the conversational sequence. Assistant messages may
// carry tool call requests; tool messages reference the originating call via
// ToolCallID.
type Message struct {
	ID         string            `json:"id"`
	Role       Role              `json:"role"`
	Content    Content           `json:"content"`
	ToolCalls  []ToolCall        `json:"tool_calls,omitempty"`
	ToolCallID string            `json:"tool_call_id,omitempty"`
	ToolName   string            `json:"tool_name,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates a message with a fresh id.
func NewMessage(role Role, content Content) Message {
	return Message{ID: NewID(), Role: role, Content: content}
}

// NewTextMessage creates a text message with a fresh id.
func NewTextMessage(role Role, text string) Message {
	return NewMessage(role, TextContent(text))
}

// NewToolResultMessage creates a tool-role message carrying the serialized
// outcome of a tool call.
func NewToolResultMessage(callID, toolName, payload string) Message {
	m := NewTextMessage(RoleTool, payload)
	m.ToolCallID = callID
	m.ToolName = toolName
	return m
}

// Text returns the textual form of the message content. Structured payloads
// return empty; callers needing structured data inspect Content directly.
func (m Message) Text() string {
	if m.Content.Type == ContentTypeText {
		return m.Content.Text
	}
	return ""
}

// NewID generates a new unique identifier for messages, turns and memories.
func NewID() string { return uuid.NewString() }

// TokenUsage captures token accounting for one or more model calls. Total is
// always Prompt + Completion; mutate only through Add so the invariant holds
// at every observation point.
type TokenUsage struct {
	Prompt     int `json:"prompt"`
	Completion int `json:"completion"`
	Total      int `json:"total"`
}

// Add accumulates usage from one model call.
func (u *TokenUsage) Add(prompt, completion int) {
	u.Prompt += prompt
	u.Completion += completion
	u.Total = u.Prompt + u.Completion
}

// Merge accumulates another usage value.
func (u *TokenUsage) Merge(other TokenUsage) {
	u.Add(other.Prompt, other.Completion)
}
