// Package turnpike provides a high-level façade over the orchestration
// pipeline: provider routing, token-budgeted context assembly, long-term
// memory, tool execution and the staged message processor. Most applications
// interact with this package by:
//  1. Creating a Turnpike via New() with agent preferences and credentials
//  2. Registering tools on the registry
//  3. Processing turns synchronously (Process) or as a stream (ProcessStream)
//
// All defaults are safe for local development: in-memory memory and history
// stores, NoOp logging. Production deployments supply the SQLite memory
// store, a persistence collaborator and a structured logger.
package turnpike

import (
	"context"
	"time"

	"github.com/turnpike-ai/turnpike/config"
	"github.com/turnpike-ai/turnpike/contextengine"
	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/history"
	"github.com/turnpike-ai/turnpike/logging"
	"github.com/turnpike-ai/turnpike/memory"
	"github.com/turnpike-ai/turnpike/pipeline"
	"github.com/turnpike-ai/turnpike/provider"
	"github.com/turnpike-ai/turnpike/router"
	"github.com/turnpike-ai/turnpike/tool"
)

// Options configure a Turnpike instance.
type Options struct {
	// Preferences resolves per-agent provider/model configuration.
	// Required.
	Preferences router.PreferenceSource
	// Credentials resolves provider API keys. Optional for the mock
	// provider.
	Credentials router.CredentialSource

	// Tools is the capability registry. Defaults to an empty registry.
	Tools *tool.Registry

	// History feeds the chat_history context source. When both History and
	// Persistence are unset, one in-memory store serves both roles.
	History contextengine.HistoryStore
	// ExtraSources are appended to the built-in context sources.
	ExtraSources []contextengine.Source
	// SystemPrompt, when set, becomes a pinned system context entry.
	SystemPrompt string

	// MemoryStore backs long-term memory. Defaults to in-memory.
	MemoryStore memory.Store

	// Persistence receives finished turns. Optional.
	Persistence pipeline.Persistence

	// TokenBudget is the default context budget for requests that do not
	// set one.
	TokenBudget int
	// MaxLLMCalls caps model calls per turn.
	MaxLLMCalls int
	// RunTimeout bounds one pipeline run.
	RunTimeout time.Duration

	// ReasoningEnabled turns on the deliberation pass.
	ReasoningEnabled bool

	Logger logging.Logger
}

// Turnpike aggregates the subsystems behind one processing surface.
type Turnpike struct {
	router    *router.Router
	memories  *memory.Manager
	registry  *tool.Registry
	processor *pipeline.Processor
	logger    logging.Logger
}

// New assembles a Turnpike from the given options.
func New(optFns ...func(o *Options)) *Turnpike {
	opts := Options{
		Tools:       tool.NewRegistry(),
		MemoryStore: memory.NewInMemoryStore(),
		TokenBudget: 4000,
		MaxLLMCalls: 3,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.History == nil && opts.Persistence == nil {
		// Default to a shared in-memory conversation store so finished
		// turns feed the next turn's enrichment.
		store := history.NewInMemoryStore()
		opts.History = store
		opts.Persistence = store
	}
	logger := logging.OrNoOp(opts.Logger)

	llmRouter := router.New(opts.Preferences, opts.Credentials, func(o *router.Options) {
		o.Logger = logger
	})
	memories := memory.NewManager(opts.MemoryStore, llmRouter, func(o *memory.Options) {
		o.Logger = logger
	})

	sources := make([]contextengine.Source, 0, 4+len(opts.ExtraSources))
	if opts.SystemPrompt != "" {
		sources = append(sources, contextengine.NewStaticSource(
			contextengine.SourceSystem,
			contextengine.StaticEntry{Content: opts.SystemPrompt, Pinned: true},
		))
	}
	if opts.History != nil {
		sources = append(sources, contextengine.NewHistorySource(opts.History, 20))
	}
	sources = append(sources,
		contextengine.NewMemorySource(memories, nil, 5),
		contextengine.NewToolCatalogSource(opts.Tools.ListTools),
	)
	sources = append(sources, opts.ExtraSources...)
	engine := contextengine.NewEngine(sources, func(o *contextengine.Options) {
		o.Logger = logger
	})

	processor := pipeline.New(llmRouter, func(o *pipeline.Options) {
		o.MaxLLMCalls = opts.MaxLLMCalls
		o.DefaultTokenBudget = opts.TokenBudget
		o.RunTimeout = opts.RunTimeout
		o.ReasoningEnabled = opts.ReasoningEnabled
		o.Engine = engine
		o.Memories = memories
		o.Discoverer = tool.NewDiscoverer(opts.Tools, func(d *tool.DiscovererOptions) {
			d.Logger = logger
		})
		o.Executor = tool.NewExecutor(opts.Tools, func(e *tool.ExecutorOptions) {
			e.Logger = logger
		})
		o.Persistence = opts.Persistence
		o.Logger = logger
	})

	return &Turnpike{
		router:    llmRouter,
		memories:  memories,
		registry:  opts.Tools,
		processor: processor,
		logger:    logger,
	}
}

// FromConfig assembles a Turnpike from environment configuration and the
// YAML preference file it points at.
func FromConfig(cfg config.Config, optFns ...func(o *Options)) (*Turnpike, error) {
	prefs, err := config.LoadPreferences(cfg.PreferencesPath)
	if err != nil {
		return nil, err
	}

	var store memory.Store = memory.NewInMemoryStore()
	if cfg.MemoryDBPath != "" {
		store, err = memory.NewSQLiteStore(cfg.MemoryDBPath)
		if err != nil {
			return nil, err
		}
	}

	creds := router.NewStaticCredentialSource(map[provider.Name]string{
		provider.NameOpenAI:    cfg.OpenAIAPIKey,
		provider.NameAnthropic: cfg.AnthropicAPIKey,
	})

	base := func(o *Options) {
		o.Preferences = prefs
		o.Credentials = creds
		o.MemoryStore = store
		o.TokenBudget = cfg.TokenBudget
		o.MaxLLMCalls = cfg.MaxLLMCalls
		o.RunTimeout = cfg.RunTimeout
	}
	return New(append([]func(o *Options){base}, optFns...)...), nil
}

// Process runs one turn to completion.
func (t *Turnpike) Process(ctx context.Context, req *core.ChatTurnRequest) *pipeline.Response {
	return t.processor.Process(ctx, req)
}

// ProcessStream runs one turn, emitting events as they happen.
func (t *Turnpike) ProcessStream(ctx context.Context, req *core.ChatTurnRequest) <-chan core.StreamEvent {
	return t.processor.ProcessStream(ctx, req)
}

// ProcessRaw parses a JSON envelope (current or legacy shape) and runs the
// turn. Parse failures come back as an error response, matching Process.
func (t *Turnpike) ProcessRaw(ctx context.Context, raw []byte) *pipeline.Response {
	req, err := pipeline.ParseEnvelope(raw)
	if err != nil {
		return &pipeline.Response{
			Status:     "error",
			ErrorStage: pipeline.StageParse,
			ErrorKind:  core.KindOf(err),
			Error:      err.Error(),
		}
	}
	return t.processor.Process(ctx, req)
}

// Tools exposes the registry for capability registration.
func (t *Turnpike) Tools() *tool.Registry { return t.registry }

// Memories exposes the memory manager for direct store/search access and
// the built-in memory tools.
func (t *Turnpike) Memories() *memory.Manager { return t.memories }

// Router exposes the LLM router, mainly for embedding access.
func (t *Turnpike) Router() *router.Router { return t.router }

// Maintain runs one memory housekeeping pass for an agent: decay by elapsed
// time, consolidation of near-duplicates, then the expiry sweep. Intended to
// be called periodically by the host.
func (t *Turnpike) Maintain(ctx context.Context, agentID string, elapsed time.Duration) error {
	decay, err := t.memories.ApplyDecay(ctx, agentID, elapsed)
	if err != nil {
		return err
	}
	consolidation, err := t.memories.Consolidate(ctx, memory.ConsolidationCriteria{AgentID: agentID})
	if err != nil {
		return err
	}
	swept, err := t.memories.Sweep(ctx, agentID)
	if err != nil {
		return err
	}
	t.logger.Info("memory.maintenance",
		"agent_id", agentID,
		"decayed", decay.Decayed,
		"clusters_merged", consolidation.ClustersFound,
		"swept", swept,
	)
	return nil
}
