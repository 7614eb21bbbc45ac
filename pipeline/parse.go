package pipeline

import (
	"encoding/json"
	"fmt"

	"github.com/turnpike-ai/turnpike/core"
)

// envelope is the current wire shape: message + context + options.
type envelope struct {
	Message *core.Message `json:"message"`
	Context struct {
		ConversationID string `json:"conversation_id"`
		AgentID        string `json:"agent_id"`
		UserID         string `json:"user_id"`
		SessionID      string `json:"session_id"`
	} `json:"context"`
	Options core.TurnOptions `json:"options"`
}

// legacyEnvelope is the flat pre-envelope shape still produced by older
// clients.
type legacyEnvelope struct {
	Text           string `json:"text"`
	AgentID        string `json:"agent_id"`
	UserID         string `json:"user_id"`
	ConversationID string `json:"conversation_id"`
	Stream         bool   `json:"stream"`
}

// ParseEnvelope normalizes either wire shape into one canonical
// ChatTurnRequest. Shape detection keys off the presence of "message".
func ParseEnvelope(raw []byte) (*core.ChatTurnRequest, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, core.NewPipelineError(StageParse, core.KindValidation,
			fmt.Errorf("malformed request envelope: %w", err))
	}
	if env.Message != nil {
		return &core.ChatTurnRequest{
			Message:        *env.Message,
			AgentID:        env.Context.AgentID,
			UserID:         env.Context.UserID,
			ConversationID: env.Context.ConversationID,
			SessionID:      env.Context.SessionID,
			Options:        env.Options,
		}, nil
	}

	var legacy legacyEnvelope
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, core.NewPipelineError(StageParse, core.KindValidation,
			fmt.Errorf("malformed legacy request: %w", err))
	}
	if legacy.Text == "" {
		return nil, core.NewPipelineError(StageParse, core.KindValidation,
			fmt.Errorf("request carries neither a message envelope nor legacy text"))
	}
	req := &core.ChatTurnRequest{
		Message:        core.NewMessage(core.RoleUser, core.TextContent(legacy.Text)),
		AgentID:        legacy.AgentID,
		UserID:         legacy.UserID,
		ConversationID: legacy.ConversationID,
	}
	req.Options.Response.Stream = legacy.Stream
	return req, nil
}
