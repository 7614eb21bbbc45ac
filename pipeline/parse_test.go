package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnpike-ai/turnpike/core"
)

func TestParseEnvelopeCurrentShape(t *testing.T) {
	raw := []byte(`{
		"message": {"role": "user", "content": {"type": "text", "text": "hello"}},
		"context": {"conversation_id": "c1", "agent_id": "a1", "user_id": "u1"},
		"options": {
			"response": {"stream": true, "include_metrics": true},
			"memory": {"enabled": true, "types": ["episodic"], "max_results": 5},
			"context": {"max_messages": 20, "token_budget": 4000}
		}
	}`)

	req, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "hello", req.UserText())
	assert.Equal(t, "a1", req.AgentID)
	assert.Equal(t, "u1", req.UserID)
	assert.Equal(t, "c1", req.ConversationID)
	assert.True(t, req.Options.Response.Stream)
	assert.True(t, req.Options.Memory.Enabled)
	assert.Equal(t, 4000, req.Options.Context.TokenBudget)
}

func TestParseEnvelopeLegacyShape(t *testing.T) {
	raw := []byte(`{"text": "hi there", "agent_id": "a1", "user_id": "u1", "conversation_id": "c1", "stream": true}`)

	req, err := ParseEnvelope(raw)
	require.NoError(t, err)
	assert.Equal(t, "hi there", req.UserText())
	assert.Equal(t, core.RoleUser, req.Message.Role)
	assert.Equal(t, "a1", req.AgentID)
	assert.True(t, req.Options.Response.Stream)
}

func TestParseEnvelopeRejectsGarbage(t *testing.T) {
	_, err := ParseEnvelope([]byte(`{not json`))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))

	_, err = ParseEnvelope([]byte(`{"unrelated": true}`))
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}
