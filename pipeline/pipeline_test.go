package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/turnpike-ai/turnpike/contextengine"
	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/memory"
	"github.com/turnpike-ai/turnpike/provider"
	"github.com/turnpike-ai/turnpike/router"
	"github.com/turnpike-ai/turnpike/tool"
)

func newTestRouter(mock *provider.MockAdapter) *router.Router {
	prefs := router.NewStaticPreferenceSource(map[string]router.AgentPreference{
		"agent": {Provider: provider.NameMock, Model: "mock-1", EmbeddingModel: "mock-embed"},
	})
	creds := router.NewStaticCredentialSource(nil)
	return router.New(prefs, creds, func(o *router.Options) {
		o.Factory = func(_ router.AgentPreference, _ string) (provider.Adapter, error) {
			return mock, nil
		}
	})
}

func userRequest(text string) *core.ChatTurnRequest {
	return &core.ChatTurnRequest{
		Message:        core.NewMessage(core.RoleUser, core.TextContent(text)),
		AgentID:        "agent",
		UserID:         "user",
		ConversationID: "conv",
	}
}

func emailTool(t *testing.T, calls *[]map[string]any) tool.Tool {
	t.Helper()
	var mu sync.Mutex
	return tool.NewFuncTool(
		"email_send",
		"Send an email",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient": map[string]any{"type": "string"},
				"body":      map[string]any{"type": "string"},
			},
			"required": []string{"recipient"},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			mu.Lock()
			defer mu.Unlock()
			if calls != nil {
				*calls = append(*calls, args)
			}
			return map[string]any{"status": "sent"}, nil
		},
	)
}

func withTools(reg *tool.Registry) func(o *Options) {
	return func(o *Options) {
		o.Discoverer = tool.NewDiscoverer(reg)
		o.Executor = tool.NewExecutor(reg)
	}
}

func TestSimpleQuestionSkipsTools(t *testing.T) {
	mock := provider.NewMockAdapter(provider.MockTurn{
		Text:  "2+2 equals 4.",
		Usage: core.TokenUsage{Prompt: 10, Completion: 5, Total: 15},
	})
	reg := tool.NewRegistry(emailTool(t, nil))
	proc := New(newTestRouter(mock), withTools(reg))

	res := proc.Process(context.Background(), userRequest("What's 2+2?"))
	require.True(t, res.Succeeded())
	assert.Contains(t, res.Message.Text(), "4")
	assert.Equal(t, 1, mock.CallCount())
	assert.Empty(t, mock.Calls()[0].Tools, "no tools should be offered for a self-contained question")
	assert.Equal(t, 15, res.Metrics.Tokens.Total)
}

func TestToolTurnExecutesAndConfirms(t *testing.T) {
	mock := provider.NewMockAdapter(
		provider.MockTurn{
			ToolCalls: []core.ToolCall{{
				ID: "call-1", Name: "email_send",
				Arguments: `{"recipient":"john@example.com","body":"quarterly report"}`,
			}},
			Usage: core.TokenUsage{Prompt: 30, Completion: 10, Total: 40},
		},
		provider.MockTurn{
			Text:  "Done, I emailed the quarterly report to john@example.com.",
			Usage: core.TokenUsage{Prompt: 50, Completion: 12, Total: 62},
		},
	)
	var toolCalls []map[string]any
	reg := tool.NewRegistry(emailTool(t, &toolCalls))
	proc := New(newTestRouter(mock), withTools(reg))

	res := proc.Process(context.Background(), userRequest("Email john@example.com the quarterly report"))
	require.True(t, res.Succeeded())
	assert.Contains(t, res.Message.Text(), "john@example.com")
	assert.LessOrEqual(t, mock.CallCount(), 2)

	require.Len(t, toolCalls, 1)
	assert.Equal(t, "john@example.com", toolCalls[0]["recipient"])

	// Tools must have been offered on the first call.
	require.NotEmpty(t, mock.Calls()[0].Tools)
	assert.Equal(t, "email_send", mock.Calls()[0].Tools[0].Name)

	// Token accounting sums both calls and keeps the invariant.
	assert.Equal(t, 102, res.Metrics.Tokens.Total)
	assert.Equal(t, res.Metrics.Tokens.Prompt+res.Metrics.Tokens.Completion, res.Metrics.Tokens.Total)
}

func TestRetryableToolFailureDrivesGuidedRetry(t *testing.T) {
	failing := tool.NewFuncTool(
		"email_send",
		"Send an email",
		map[string]any{
			"type": "object",
			"properties": map[string]any{
				"recipient": map[string]any{"type": "string"},
			},
			"required": []string{},
		},
		func(_ context.Context, args map[string]any) (any, error) {
			if _, ok := args["recipient"]; !ok {
				return nil, tool.NewErr("email_send", tool.CodeValidation, "missing required field: recipient")
			}
			return "sent", nil
		},
	)
	mock := provider.NewMockAdapter(
		provider.MockTurn{ToolCalls: []core.ToolCall{{ID: "c1", Name: "email_send", Arguments: `{}`}}},
		provider.MockTurn{ToolCalls: []core.ToolCall{{ID: "c2", Name: "email_send", Arguments: `{"recipient":"john@example.com"}`}}},
		provider.MockTurn{Text: "The email went out to john@example.com."},
	)
	reg := tool.NewRegistry(failing)
	proc := New(newTestRouter(mock), withTools(reg))

	res := proc.Process(context.Background(), userRequest("Send the report to John"))
	require.True(t, res.Succeeded())
	assert.Contains(t, res.Message.Text(), "john@example.com")
	assert.Equal(t, 3, mock.CallCount(), "failed attempt, guided retry, final answer")
}

func TestLLMCallBudgetReturnsPartialState(t *testing.T) {
	// The model keeps asking for the same failing tool forever.
	turns := make([]provider.MockTurn, 0, 5)
	for i := 0; i < 5; i++ {
		turns = append(turns, provider.MockTurn{
			ToolCalls: []core.ToolCall{{ID: fmt.Sprintf("c%d", i), Name: "flaky", Arguments: `{}`}},
		})
	}
	flaky := tool.NewFuncTool("flaky", "always fails",
		map[string]any{"type": "object", "properties": map[string]any{}},
		func(_ context.Context, _ map[string]any) (any, error) {
			return nil, tool.NewErr("flaky", tool.CodeExecution, "upstream unavailable")
		},
	)
	mock := provider.NewMockAdapter(turns...)
	reg := tool.NewRegistry(flaky)
	proc := New(newTestRouter(mock), withTools(reg))

	res := proc.Process(context.Background(), userRequest("Fetch the data and summarize it"))
	require.True(t, res.Succeeded(), "budget exhaustion degrades, it does not fail the turn")
	assert.Equal(t, 3, mock.CallCount(), "exactly the model call cap")
	assert.Contains(t, res.Message.Text(), "could not")
}

func TestContextOverflowRetriesWithReducedHistory(t *testing.T) {
	mock := provider.NewMockAdapter(
		provider.MockTurn{Err: errors.New("maximum context length exceeded")},
		provider.MockTurn{Text: "Answer after trimming."},
	)
	proc := New(newTestRouter(mock))

	res := proc.Process(context.Background(), userRequest("Summarize everything we discussed"))
	require.True(t, res.Succeeded())
	assert.Equal(t, "Answer after trimming.", res.Message.Text())
	assert.Equal(t, 2, mock.CallCount())
}

func TestContextOverflowEventuallyFatal(t *testing.T) {
	turns := make([]provider.MockTurn, 0, 6)
	for i := 0; i < 6; i++ {
		turns = append(turns, provider.MockTurn{Err: errors.New("prompt is too long")})
	}
	mock := provider.NewMockAdapter(turns...)
	proc := New(newTestRouter(mock), func(o *Options) { o.ProviderRetries = 0 })

	res := proc.Process(context.Background(), userRequest("hello"))
	require.False(t, res.Succeeded())
	assert.Equal(t, core.KindContextOverflow, res.ErrorKind)
	assert.Equal(t, StageMain, res.ErrorStage)
	// Initial attempt plus the bounded overflow retries.
	assert.Equal(t, 4, mock.CallCount())
}

func TestValidationFailureIsTerminal(t *testing.T) {
	mock := provider.NewMockAdapter()
	proc := New(newTestRouter(mock))

	req := userRequest("hi")
	req.AgentID = ""
	res := proc.Process(context.Background(), req)
	require.False(t, res.Succeeded())
	assert.Equal(t, StageValidate, res.ErrorStage)
	assert.Equal(t, core.KindValidation, res.ErrorKind)
	assert.Zero(t, mock.CallCount())
}

func TestMissingPreferenceIsConfigurationError(t *testing.T) {
	mock := provider.NewMockAdapter()
	proc := New(newTestRouter(mock))

	req := userRequest("hi")
	req.AgentID = "nobody"
	res := proc.Process(context.Background(), req)
	require.False(t, res.Succeeded())
	assert.Equal(t, core.KindConfiguration, res.ErrorKind)
}

func TestEnrichmentPrependsContextBeforeHistory(t *testing.T) {
	mock := provider.NewMockAdapter(provider.MockTurn{Text: "ok"})
	engine := contextengine.NewEngine([]contextengine.Source{
		contextengine.NewStaticSource(contextengine.SourceSystem, contextengine.StaticEntry{
			Content: "You are a billing assistant.",
			Pinned:  true,
		}),
	})
	proc := New(newTestRouter(mock), func(o *Options) { o.Engine = engine })

	res := proc.Process(context.Background(), userRequest("What's my invoice status?"))
	require.True(t, res.Succeeded())

	msgs := mock.Calls()[0].Messages
	require.GreaterOrEqual(t, len(msgs), 2)
	assert.Equal(t, core.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Text(), "billing assistant")
	assert.Equal(t, core.RoleUser, msgs[len(msgs)-1].Role)
	assert.Greater(t, res.Details.ContextTokens, 0)
}

func TestMemoryEnrichmentAndWriteback(t *testing.T) {
	mock := provider.NewMockAdapter(provider.MockTurn{Text: "Your plan renews on the 1st."})
	rt := newTestRouter(mock)

	store := memory.NewInMemoryStore()
	mgr := memory.NewManager(store, rt)
	_, err := mgr.Store(context.Background(), memory.Record{
		AgentID: "agent",
		Type:    memory.TypeSemantic,
		Content: "The user is on the premium plan.",
	})
	require.NoError(t, err)

	proc := New(rt, func(o *Options) { o.Memories = mgr })
	req := userRequest("When does the premium plan renew?")
	req.Options.Memory.Enabled = true
	req.Options.Memory.MaxResults = 3

	res := proc.Process(context.Background(), req)
	require.True(t, res.Succeeded())

	// The recalled memory rode in as a system message.
	var sawMemory bool
	for _, msg := range mock.Calls()[0].Messages {
		if msg.Role == core.RoleSystem && msg.Text() != "" {
			sawMemory = true
		}
	}
	assert.True(t, sawMemory)

	// The finished exchange was written back as an episodic record.
	records, err := store.List(context.Background(), "agent", []memory.Type{memory.TypeEpisodic})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Contains(t, records[0].Content, "premium plan")
}

func TestProcessStreamEventOrdering(t *testing.T) {
	mock := provider.NewMockAdapter(
		provider.MockTurn{ToolCalls: []core.ToolCall{{
			ID: "c1", Name: "email_send",
			Arguments: `{"recipient":"a@b.c"}`,
		}}},
		provider.MockTurn{Text: "Sent."},
	)
	reg := tool.NewRegistry(emailTool(t, nil))
	proc := New(newTestRouter(mock), withTools(reg))

	req := userRequest("Email a@b.c the notes")
	req.Options.Response.Stream = true

	var events []core.StreamEvent
	for ev := range proc.ProcessStream(context.Background(), req) {
		events = append(events, ev)
	}
	require.NotEmpty(t, events)
	assert.Equal(t, core.StreamEventComplete, events[len(events)-1].Type)

	var callIdx, resultIdx, completeIdx int
	for i, ev := range events {
		switch ev.Type {
		case core.StreamEventToolCall:
			callIdx = i
		case core.StreamEventToolResult:
			resultIdx = i
		case core.StreamEventComplete:
			completeIdx = i
		}
	}
	assert.Less(t, callIdx, resultIdx)
	assert.Less(t, resultIdx, completeIdx)

	var streamed string
	for _, ev := range events {
		if ev.Type == core.StreamEventDelta {
			streamed += ev.Delta
		}
	}
	assert.Contains(t, streamed, "Sent.")
}

func TestStreamErrorEndsWithErrorEvent(t *testing.T) {
	mock := provider.NewMockAdapter()
	proc := New(newTestRouter(mock))

	req := userRequest("hi")
	req.AgentID = ""
	var events []core.StreamEvent
	for ev := range proc.ProcessStream(context.Background(), req) {
		events = append(events, ev)
	}
	require.Len(t, events, 1)
	assert.Equal(t, core.StreamEventError, events[0].Type)
	assert.Equal(t, core.KindValidation, events[0].ErrorKind)
}

type recordingSink struct {
	mu      sync.Mutex
	records []TurnRecord
}

func (r *recordingSink) SaveTurn(_ context.Context, rec TurnRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, rec)
	return nil
}

func TestFinishedTurnIsHandedToPersistence(t *testing.T) {
	mock := provider.NewMockAdapter(provider.MockTurn{Text: "hello"})
	sink := &recordingSink{}
	proc := New(newTestRouter(mock), func(o *Options) { o.Persistence = sink })

	res := proc.Process(context.Background(), userRequest("hi"))
	require.True(t, res.Succeeded())
	require.Len(t, sink.records, 1)
	assert.Equal(t, res, sink.records[0].Response)
}

func TestHalveHistoryKeepsSystemAndRecent(t *testing.T) {
	pc := core.NewProcessingContext(userRequest("x"))
	pc.Append(
		core.NewMessage(core.RoleSystem, core.TextContent("ctx")),
		core.NewMessage(core.RoleUser, core.TextContent("m1")),
		core.NewMessage(core.RoleAssistant, core.TextContent("m2")),
		core.NewMessage(core.RoleUser, core.TextContent("m3")),
		core.NewMessage(core.RoleAssistant, core.TextContent("m4")),
	)
	dropped := halveHistory(pc)
	assert.Equal(t, 2, dropped)
	require.Len(t, pc.Messages, 3)
	assert.Equal(t, core.RoleSystem, pc.Messages[0].Role)
	assert.Equal(t, "m3", pc.Messages[1].Text())
	assert.Equal(t, "m4", pc.Messages[2].Text())
}

func TestComplexityScore(t *testing.T) {
	assert.Less(t, complexityScore("hi"), 0.3)
	assert.GreaterOrEqual(t, complexityScore(
		"Explain how the two designs compare, and why would one plan scale better? What are the trade-offs?"), 0.6)
}
