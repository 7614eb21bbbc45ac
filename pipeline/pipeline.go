// Package pipeline orchestrates one conversational turn: request parsing and
// validation, parallel context and memory enrichment, an optional reasoning
// pass, the model/tool loop with bounded retries, and response assembly. A
// run always produces either a response or a classified error, never a
// silent drop.
package pipeline

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/turnpike-ai/turnpike/contextengine"
	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/logging"
	"github.com/turnpike-ai/turnpike/memory"
	"github.com/turnpike-ai/turnpike/router"
	"github.com/turnpike-ai/turnpike/tool"
)

// Stage names surfaced in error responses and logs.
const (
	StageParse    = "parsing"
	StageValidate = "validation"
	StageEnrich   = "enrichment"
	StageReason   = "reasoning"
	StageMain     = "main_processing"
	StageRespond  = "response"
)

// ReasoningDetails describe the optional deliberation pass.
type ReasoningDetails struct {
	Score   float64 `json:"score"`
	Enabled bool    `json:"enabled"`
	Style   string  `json:"style,omitempty"`
}

// Details is the processing_details block of a response.
type Details struct {
	ContextTokens int              `json:"context_tokens"`
	Reasoning     ReasoningDetails `json:"reasoning"`
}

// Response is the outcome of one turn. Metrics are populated on every
// outcome, success or error, so token spend is always reconcilable.
type Response struct {
	Status     string        `json:"status"`
	Message    *core.Message `json:"message,omitempty"`
	Metrics    core.Metrics  `json:"metrics"`
	Details    Details       `json:"processing_details"`
	ErrorStage string        `json:"error_stage,omitempty"`
	ErrorKind  core.Kind     `json:"error_kind,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Succeeded reports whether the turn produced an assistant message.
func (r *Response) Succeeded() bool { return r.Status == "success" }

// TurnRecord hands a finished turn to the persistence collaborator.
type TurnRecord struct {
	Request  *core.ChatTurnRequest
	Response *Response
}

// Persistence stores finished turns. Storage itself is an external
// collaborator; failures are logged, never surfaced to the caller.
type Persistence interface {
	SaveTurn(ctx context.Context, rec TurnRecord) error
}

// Options configure a Processor.
type Options struct {
	// MaxLLMCalls caps model calls per turn in the tool retry loop.
	MaxLLMCalls int
	// DefaultTokenBudget applies when a request does not set a context
	// budget.
	DefaultTokenBudget int
	// MaxOverflowRetries caps context-overflow retries, counted
	// independently of MaxLLMCalls.
	MaxOverflowRetries int
	// ProviderRetries is the backoff retry count for transient provider
	// failures on a single call.
	ProviderRetries int
	// RunTimeout bounds the whole run. 0 keeps the caller's deadline.
	RunTimeout time.Duration

	// ReasoningEnabled gates the deliberation pass per agent config.
	ReasoningEnabled bool
	// ReasoningThreshold is the minimum complexity score that triggers
	// the pass.
	ReasoningThreshold float64
	// ReasoningStyle is surfaced in processing details.
	ReasoningStyle string

	// Engine supplies assembled context. Optional.
	Engine *contextengine.Engine
	// Memories supplies long-term memory. Optional.
	Memories *memory.Manager
	// Discoverer and Executor supply tools. Both optional; tools are
	// skipped when either is absent.
	Discoverer *tool.Discoverer
	Executor   *tool.Executor
	// Persistence receives finished turns. Optional.
	Persistence Persistence

	Logger logging.Logger
}

// Processor threads a ProcessingContext through the ordered stages.
type Processor struct {
	router   *router.Router
	opts     Options
	validate *validator.Validate
	logger   logging.Logger
}

// New creates a Processor over the given router.
func New(llmRouter *router.Router, optFns ...func(o *Options)) *Processor {
	opts := Options{
		MaxLLMCalls:        3,
		MaxOverflowRetries: 3,
		ProviderRetries:    2,
		DefaultTokenBudget: 4000,
		ReasoningThreshold: 0.6,
		ReasoningStyle:     "analytical",
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Processor{
		router:   llmRouter,
		opts:     opts,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Process runs the full stage sequence and always returns a response. Stage
// failures short-circuit into an error response naming the failing stage and
// classified kind.
func (p *Processor) Process(ctx context.Context, req *core.ChatTurnRequest) *Response {
	if p.opts.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
		defer cancel()
	}

	pc := core.NewProcessingContext(req)
	if err := p.runStages(ctx, pc, nil); err != nil {
		return p.errorResponse(pc, err)
	}
	return p.respond(ctx, pc)
}

// ProcessStream runs the same stage sequence, emitting delta, tool_call and
// tool_result events as they happen, terminated by exactly one complete or
// error event. The sequence is finite and single-pass.
func (p *Processor) ProcessStream(ctx context.Context, req *core.ChatTurnRequest) <-chan core.StreamEvent {
	events := make(chan core.StreamEvent, 16)
	go func() {
		defer close(events)
		if p.opts.RunTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, p.opts.RunTimeout)
			defer cancel()
		}

		pc := core.NewProcessingContext(req)
		emit := func(ev core.StreamEvent) bool {
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		if err := p.runStages(ctx, pc, emit); err != nil {
			emit(core.ErrorEvent(err, p.metrics(pc)))
			return
		}
		res := p.respond(ctx, pc)
		emit(core.CompleteEvent(res.Metrics))
	}()
	return events
}

// runStages executes validation through main processing. emit is nil for
// non-streaming runs.
func (p *Processor) runStages(ctx context.Context, pc *core.ProcessingContext, emit func(core.StreamEvent) bool) error {
	stages := []struct {
		name string
		fn   func(context.Context, *core.ProcessingContext, func(core.StreamEvent) bool) error
	}{
		{StageValidate, p.stageValidate},
		{StageEnrich, p.stageEnrich},
		{StageReason, p.stageReason},
		{StageMain, p.stageMain},
	}
	for _, stage := range stages {
		start := time.Now()
		err := stage.fn(ctx, pc, emit)
		p.logger.Debug("pipeline.stage",
			"turn_id", pc.TurnID,
			"stage", stage.name,
			"duration_ms", time.Since(start).Milliseconds(),
			"error", err != nil,
		)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return core.NewPipelineError(stage.name, core.KindTimeout, ctxErr)
			}
			return wrapStage(stage.name, err)
		}
	}
	return nil
}

func (p *Processor) metrics(pc *core.ProcessingContext) core.Metrics {
	return core.Metrics{
		Tokens:           pc.Usage,
		Model:            p.modelFor(pc),
		ProcessingTimeMS: pc.Elapsed().Milliseconds(),
	}
}

func (p *Processor) modelFor(pc *core.ProcessingContext) string {
	if v, ok := pc.Value("model"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func (p *Processor) errorResponse(pc *core.ProcessingContext, err error) *Response {
	var pe *core.PipelineError
	stage := StageMain
	if asPipelineError(err, &pe) {
		stage = pe.Stage
	}
	res := &Response{
		Status:     "error",
		Metrics:    p.metrics(pc),
		Details:    p.details(pc),
		ErrorStage: stage,
		ErrorKind:  core.KindOf(err),
		Error:      err.Error(),
	}
	p.logger.Error("pipeline.turn.failed",
		"turn_id", pc.TurnID,
		"agent_id", pc.AgentID,
		"stage", stage,
		"kind", string(res.ErrorKind),
		"error", err.Error(),
	)
	p.persist(pc, res)
	return res
}

func (p *Processor) details(pc *core.ProcessingContext) Details {
	return Details{
		ContextTokens: pc.ContextTokens,
		Reasoning: ReasoningDetails{
			Score:   pc.ReasoningScore,
			Enabled: pc.ReasoningApplied,
			Style:   p.opts.ReasoningStyle,
		},
	}
}

// respond builds the final response and hands the turn to persistence.
func (p *Processor) respond(_ context.Context, pc *core.ProcessingContext) *Response {
	text, _ := pc.Value("final_text")
	finalText, _ := text.(string)

	msg := core.NewMessage(core.RoleAssistant, core.TextContent(finalText))
	if pc.Request.Options.Response.IncludeMetadata {
		msg.Metadata = map[string]string{
			"turn_id":         pc.TurnID,
			"conversation_id": pc.ConversationID,
		}
	}

	res := &Response{
		Status:  "success",
		Message: &msg,
		Metrics: p.metrics(pc),
		Details: p.details(pc),
	}
	p.logger.Info("pipeline.turn.complete",
		"turn_id", pc.TurnID,
		"agent_id", pc.AgentID,
		"tokens", pc.Usage.Total,
		"tool_calls", len(pc.ToolDetails),
		"duration_ms", res.Metrics.ProcessingTimeMS,
	)
	p.rememberTurn(pc, finalText)
	p.persist(pc, res)
	return res
}

// rememberTurn stores the finished exchange as an episodic memory, best
// effort, when memory is enabled for the request.
func (p *Processor) rememberTurn(pc *core.ProcessingContext, finalText string) {
	if p.opts.Memories == nil || !pc.Request.Options.Memory.Enabled || finalText == "" {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, err := p.opts.Memories.Store(saveCtx, memory.Record{
		AgentID:        pc.AgentID,
		ConversationID: pc.ConversationID,
		Type:           memory.TypeEpisodic,
		Content:        "User: " + pc.Request.UserText() + "\nAssistant: " + finalText,
	})
	if err != nil {
		p.logger.Warn("pipeline.memory.writeback_failed", "turn_id", pc.TurnID, "error", err.Error())
	}
}

// persist hands the turn to the persistence collaborator, best effort. A
// fresh context keeps storage alive past run cancellation.
func (p *Processor) persist(pc *core.ProcessingContext, res *Response) {
	if p.opts.Persistence == nil {
		return
	}
	saveCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.opts.Persistence.SaveTurn(saveCtx, TurnRecord{Request: pc.Request, Response: res}); err != nil {
		p.logger.Warn("pipeline.persist.failed", "turn_id", pc.TurnID, "error", err.Error())
	}
}
