package history

import (
	"context"
	"sync"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/pipeline"
)

// InMemoryStore is a volatile conversation history keeping messages in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned slices are copies to prevent
// external mutation of internal state.
//
// It doubles as the pipeline persistence sink: finished turns are folded
// back into the conversation, so the next turn's enrichment sees them.
type InMemoryStore struct {
	mu            sync.RWMutex
	conversations map[string][]core.Message
}

// NewInMemoryStore constructs an empty in-memory history.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{conversations: make(map[string][]core.Message)}
}

// Append adds messages to a conversation, creating it lazily.
func (s *InMemoryStore) Append(conversationID string, messages ...core.Message) {
	if len(messages) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID], messages...)
}

// Recent returns up to limit messages from the tail of a conversation,
// newest last. Unknown conversations yield an empty slice, not an error.
func (s *InMemoryStore) Recent(_ context.Context, conversationID string, limit int) ([]core.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	msgs := s.conversations[conversationID]
	if limit > 0 && len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]core.Message, len(msgs))
	copy(out, msgs)
	return out, nil
}

// Len reports the stored message count for a conversation.
func (s *InMemoryStore) Len(conversationID string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conversations[conversationID])
}

// SaveTurn records a finished turn as a user/assistant message pair. Failed
// turns are skipped; there is no assistant reply worth replaying.
func (s *InMemoryStore) SaveTurn(_ context.Context, rec pipeline.TurnRecord) error {
	if rec.Request == nil || rec.Response == nil || !rec.Response.Succeeded() || rec.Response.Message == nil {
		return nil
	}
	s.Append(rec.Request.ConversationID, rec.Request.Message, *rec.Response.Message)
	return nil
}
