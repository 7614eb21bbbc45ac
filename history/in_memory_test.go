package history

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnpike-ai/turnpike/contextengine"
	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/pipeline"
)

var (
	_ contextengine.HistoryStore = (*InMemoryStore)(nil)
	_ pipeline.Persistence       = (*InMemoryStore)(nil)
)

func TestRecentReturnsTail(t *testing.T) {
	store := NewInMemoryStore()
	for _, text := range []string{"one", "two", "three"} {
		store.Append("conv", core.NewMessage(core.RoleUser, core.TextContent(text)))
	}

	msgs, err := store.Recent(context.Background(), "conv", 2)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "two", msgs[0].Text())
	assert.Equal(t, "three", msgs[1].Text())

	all, err := store.Recent(context.Background(), "conv", 0)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	empty, err := store.Recent(context.Background(), "unknown", 5)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestRecentCopiesMessages(t *testing.T) {
	store := NewInMemoryStore()
	store.Append("conv", core.NewMessage(core.RoleUser, core.TextContent("original")))

	msgs, err := store.Recent(context.Background(), "conv", 0)
	require.NoError(t, err)
	msgs[0] = core.NewMessage(core.RoleUser, core.TextContent("mutated"))

	again, err := store.Recent(context.Background(), "conv", 0)
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Text())
}

func TestSaveTurnAppendsExchange(t *testing.T) {
	store := NewInMemoryStore()
	req := &core.ChatTurnRequest{
		Message:        core.NewMessage(core.RoleUser, core.TextContent("hello")),
		ConversationID: "conv",
	}

	reply := core.NewMessage(core.RoleAssistant, core.TextContent("hi there"))
	err := store.SaveTurn(context.Background(), pipeline.TurnRecord{
		Request:  req,
		Response: &pipeline.Response{Status: "success", Message: &reply},
	})
	require.NoError(t, err)
	require.Equal(t, 2, store.Len("conv"))

	msgs, err := store.Recent(context.Background(), "conv", 0)
	require.NoError(t, err)
	assert.Equal(t, core.RoleUser, msgs[0].Role)
	assert.Equal(t, core.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "hi there", msgs[1].Text())
}

func TestSaveTurnSkipsFailedTurns(t *testing.T) {
	store := NewInMemoryStore()
	req := &core.ChatTurnRequest{
		Message:        core.NewMessage(core.RoleUser, core.TextContent("hello")),
		ConversationID: "conv",
	}

	err := store.SaveTurn(context.Background(), pipeline.TurnRecord{
		Request:  req,
		Response: &pipeline.Response{Status: "error", Error: "boom"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, store.Len("conv"))
}
