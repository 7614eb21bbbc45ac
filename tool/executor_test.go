package tool

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnpike-ai/turnpike/core"
)

type scriptedTool struct {
	def core.ToolDefinition
	fn  func(ctx context.Context, args map[string]any) (any, error)
}

func (s *scriptedTool) Definition() core.ToolDefinition { return s.def }

func (s *scriptedTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	return s.fn(ctx, args)
}

func newScripted(name string, fn func(ctx context.Context, args map[string]any) (any, error)) *scriptedTool {
	return &scriptedTool{
		def: core.ToolDefinition{
			Name:       name,
			Parameters: map[string]any{"type": "object", "properties": map[string]any{}},
		},
		fn: fn,
	}
}

func TestExecuteBatchRunsCallsIndependently(t *testing.T) {
	var running atomic.Int32
	var peak atomic.Int32
	slow := newScripted("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		cur := running.Add(1)
		defer running.Add(-1)
		for {
			old := peak.Load()
			if cur <= old || peak.CompareAndSwap(old, cur) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		return "done", nil
	})

	reg := NewRegistry(slow)
	exec := NewExecutor(reg)

	calls := []core.ToolCall{
		{ID: "1", Name: "slow"},
		{ID: "2", Name: "slow"},
		{ID: "3", Name: "slow"},
	}
	batch := exec.ExecuteBatch(context.Background(), calls, "")
	require.Len(t, batch.Results, 3)
	for i, res := range batch.Results {
		assert.Equal(t, calls[i].ID, res.ToolCallID)
		assert.True(t, res.Succeeded())
	}
	assert.Greater(t, peak.Load(), int32(1), "batch should overlap execution")
}

func TestExecuteBatchHonorsMaxParallel(t *testing.T) {
	var running atomic.Int32
	var violated atomic.Bool
	slow := newScripted("slow", func(ctx context.Context, _ map[string]any) (any, error) {
		if running.Add(1) > 1 {
			violated.Store(true)
		}
		defer running.Add(-1)
		time.Sleep(5 * time.Millisecond)
		return "ok", nil
	})

	exec := NewExecutor(NewRegistry(slow), func(o *ExecutorOptions) { o.MaxParallel = 1 })
	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{
		{ID: "1", Name: "slow"}, {ID: "2", Name: "slow"},
	}, "")
	require.Len(t, batch.Results, 2)
	assert.False(t, violated.Load())
}

func TestMissingRequiredFieldIsRetryableWithGuidance(t *testing.T) {
	send := newScripted("email_send", func(_ context.Context, args map[string]any) (any, error) {
		if _, ok := args["recipient"]; !ok {
			return nil, NewErr("email_send", CodeValidation, "missing required field: recipient")
		}
		return "sent", nil
	})

	exec := NewExecutor(NewRegistry(send))
	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{
		{ID: "1", Name: "email_send", Arguments: `{"subject":"report"}`},
	}, "")

	require.Len(t, batch.Results, 1)
	assert.Equal(t, core.ToolStatusRetryable, batch.Results[0].Status)
	assert.True(t, batch.RequiresLLMRetry)

	// One tool-role result plus one synthesized guidance message.
	require.Len(t, batch.Messages, 2)
	assert.Equal(t, core.RoleTool, batch.Messages[0].Role)
	assert.Equal(t, core.RoleSystem, batch.Messages[1].Role)
	assert.Contains(t, batch.Messages[1].Text(), "email_send failed because")
	assert.Contains(t, batch.Messages[1].Text(), "recipient")
}

func TestTerminalFailuresDoNotForceRetry(t *testing.T) {
	denied := newScripted("locked", func(_ context.Context, _ map[string]any) (any, error) {
		return nil, NewErr("locked", CodePermission, "permission denied")
	})

	exec := NewExecutor(NewRegistry(denied))
	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{{ID: "1", Name: "locked"}}, "")

	require.Len(t, batch.Results, 1)
	assert.Equal(t, core.ToolStatusTerminal, batch.Results[0].Status)
	assert.False(t, batch.RequiresLLMRetry)
	require.Len(t, batch.Messages, 1)
	assert.Equal(t, core.RoleTool, batch.Messages[0].Role)
}

func TestUnknownToolIsTerminal(t *testing.T) {
	exec := NewExecutor(NewRegistry())
	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{{ID: "1", Name: "nope"}}, "")

	require.Len(t, batch.Results, 1)
	assert.Equal(t, core.ToolStatusTerminal, batch.Results[0].Status)
	assert.Contains(t, batch.Results[0].Error, "unknown tool")
}

func TestMalformedArgumentsAreRetryable(t *testing.T) {
	tl := newScripted("echo", func(_ context.Context, args map[string]any) (any, error) {
		return args, nil
	})
	exec := NewExecutor(NewRegistry(tl))

	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{
		{ID: "1", Name: "echo", Arguments: `{not json`},
	}, "")
	require.Len(t, batch.Results, 1)
	assert.Equal(t, core.ToolStatusRetryable, batch.Results[0].Status)
	assert.True(t, batch.RequiresLLMRetry)
}

func TestPanicIsRecoveredAsFailure(t *testing.T) {
	boom := newScripted("boom", func(_ context.Context, _ map[string]any) (any, error) {
		panic("kaboom")
	})
	exec := NewExecutor(NewRegistry(boom))

	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{
		{ID: "1", Name: "boom"},
		{ID: "2", Name: "boom"},
	}, "")
	require.Len(t, batch.Results, 2)
	for _, res := range batch.Results {
		assert.Equal(t, core.ToolStatusRetryable, res.Status)
		assert.Contains(t, res.Error, "panicked")
	}
}

func TestArgumentBackfillFromUserText(t *testing.T) {
	var got map[string]any
	search := &scriptedTool{
		def: core.ToolDefinition{
			Name: "web_search",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer"},
				},
				"required": []string{"query"},
			},
		},
		fn: func(_ context.Context, args map[string]any) (any, error) {
			got = args
			return "results", nil
		},
	}

	exec := NewExecutor(NewRegistry(search))
	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{
		{ID: "1", Name: "web_search", Arguments: `{}`},
	}, "latest Go release notes")

	require.True(t, batch.Results[0].Succeeded())
	assert.Equal(t, "latest Go release notes", got["query"])
	_, hasLimit := got["limit"]
	assert.False(t, hasLimit)
}

func TestCallTimeoutBoundsSlowTools(t *testing.T) {
	stuck := newScripted("stuck", func(ctx context.Context, _ map[string]any) (any, error) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(5 * time.Second):
			return "too late", nil
		}
	})

	exec := NewExecutor(NewRegistry(stuck), func(o *ExecutorOptions) {
		o.CallTimeout = 10 * time.Millisecond
	})
	start := time.Now()
	batch := exec.ExecuteBatch(context.Background(), []core.ToolCall{{ID: "1", Name: "stuck"}}, "")
	require.Len(t, batch.Results, 1)
	assert.Equal(t, core.ToolStatusRetryable, batch.Results[0].Status)
	assert.Contains(t, batch.Results[0].Error, context.DeadlineExceeded.Error())
	assert.Less(t, time.Since(start), time.Second)
}
