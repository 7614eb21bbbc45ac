package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turnpike-ai/turnpike/contextengine"
	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/intent"
	"github.com/turnpike-ai/turnpike/memory"
	"github.com/turnpike-ai/turnpike/provider"
	"github.com/turnpike-ai/turnpike/router"
)

func wrapStage(stage string, err error) error {
	var pe *core.PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return core.NewPipelineError(stage, core.KindOf(err), err)
}

func asPipelineError(err error, target **core.PipelineError) bool {
	return errors.As(err, target)
}

// stageValidate schema-checks the canonical request. Failures are terminal.
func (p *Processor) stageValidate(_ context.Context, pc *core.ProcessingContext, _ func(core.StreamEvent) bool) error {
	req := pc.Request
	if err := p.validate.Struct(req); err != nil {
		return core.NewPipelineError(StageValidate, core.KindValidation, err)
	}
	if req.Message.Role != core.RoleUser {
		return core.NewPipelineError(StageValidate, core.KindValidation,
			fmt.Errorf("inbound message role must be user, got %q", req.Message.Role))
	}
	switch req.Message.Content.Type {
	case core.ContentTypeText:
		if strings.TrimSpace(req.Message.Content.Text) == "" {
			return core.NewPipelineError(StageValidate, core.KindValidation,
				fmt.Errorf("text message must not be empty"))
		}
	case core.ContentTypeStructured:
		if len(req.Message.Content.Data) == 0 {
			return core.NewPipelineError(StageValidate, core.KindValidation,
				fmt.Errorf("structured message must not be empty"))
		}
	default:
		return core.NewPipelineError(StageValidate, core.KindValidation,
			fmt.Errorf("unsupported content type %q", req.Message.Content.Type))
	}

	pc.Append(req.Message)
	return nil
}

// stageEnrich runs the context engine and memory manager concurrently and
// merges their output in a fixed order, independent of arrival: assembled
// context first, then recalled memories, both ahead of the conversation.
// Either enrichment failing degrades the turn instead of killing it.
func (p *Processor) stageEnrich(ctx context.Context, pc *core.ProcessingContext, _ func(core.StreamEvent) bool) error {
	req := pc.Request

	var (
		wg         sync.WaitGroup
		optimized  contextengine.OptimizedContext
		contextErr error
		recalled   []memory.SearchResult
		memoryErr  error
	)

	if p.opts.Engine != nil {
		budget := req.Options.Context.TokenBudget
		if budget <= 0 {
			budget = p.opts.DefaultTokenBudget
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			optimized, contextErr = p.opts.Engine.Assemble(ctx, contextengine.Request{
				AgentID:        pc.AgentID,
				UserID:         pc.UserID,
				ConversationID: pc.ConversationID,
				Query:          req.UserText(),
				TokenBudget:    budget,
				MaxMessages:    req.Options.Context.MaxMessages,
			})
		}()
	}

	if p.opts.Memories != nil && req.Options.Memory.Enabled {
		wg.Add(1)
		go func() {
			defer wg.Done()
			recalled, memoryErr = p.opts.Memories.Search(ctx, req.UserText(), pc.AgentID, memory.Query{
				Types:      memoryTypes(req.Options.Memory.Types),
				MaxResults: req.Options.Memory.MaxResults,
			})
		}()
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return err
	}
	if contextErr != nil {
		p.logger.Warn("pipeline.enrich.context_failed", "turn_id", pc.TurnID, "error", contextErr.Error())
	}
	if memoryErr != nil {
		p.logger.Warn("pipeline.enrich.memory_failed", "turn_id", pc.TurnID, "error", memoryErr.Error())
	}

	var prefix []core.Message
	if contextErr == nil && !optimized.Empty() {
		prefix = append(prefix, core.NewMessage(core.RoleSystem, core.TextContent(optimized.Render())))
		pc.ContextTokens = optimized.TotalTokens
	}
	if memoryErr == nil && len(recalled) > 0 {
		prefix = append(prefix, core.NewMessage(core.RoleSystem, core.TextContent(renderMemories(recalled))))
	}
	if len(prefix) > 0 {
		pc.Prepend(prefix...)
	}
	return nil
}

func memoryTypes(names []string) []memory.Type {
	out := make([]memory.Type, 0, len(names))
	for _, name := range names {
		out = append(out, memory.Type(name))
	}
	return out
}

func renderMemories(results []memory.SearchResult) string {
	var b strings.Builder
	b.WriteString("Relevant memories from previous conversations:\n")
	for _, res := range results {
		fmt.Fprintf(&b, "- [%s] %s\n", res.Record.Type, res.Record.Content)
	}
	return b.String()
}

// stageReason optionally adds a deliberation pass: when enabled and the turn
// scores complex enough, one extra model call produces structured notes that
// are appended to the context before main processing.
func (p *Processor) stageReason(ctx context.Context, pc *core.ProcessingContext, _ func(core.StreamEvent) bool) error {
	if !p.opts.ReasoningEnabled {
		return nil
	}
	score := complexityScore(pc.Request.UserText())
	pc.ReasoningScore = score
	if score < p.opts.ReasoningThreshold {
		return nil
	}

	prompt := core.NewMessage(core.RoleSystem, core.TextContent(
		"Before answering, produce a short numbered plan for addressing the user's request. Respond with the plan only."))
	msgs := append(append([]core.Message{}, pc.Messages...), prompt)

	result, err := p.router.Chat(ctx, pc.AgentID, msgs, router.ChatOptions{})
	if err != nil {
		// Deliberation is an enhancement; degrade without it.
		p.logger.Warn("pipeline.reasoning.failed", "turn_id", pc.TurnID, "error", err.Error())
		return nil
	}
	pc.Usage.Merge(result.Usage)
	pc.ReasoningApplied = true
	if strings.TrimSpace(result.Text) != "" {
		pc.Prepend(core.NewMessage(core.RoleSystem, core.TextContent(
			"Deliberation notes:\n"+result.Text)))
	}
	return nil
}

// complexityScore is a cheap lexical estimate of how much a turn benefits
// from deliberation.
func complexityScore(text string) float64 {
	lower := strings.ToLower(text)
	score := 0.0
	words := len(strings.Fields(text))
	switch {
	case words > 60:
		score += 0.4
	case words > 25:
		score += 0.2
	}
	for _, marker := range []string{"why", "how", "compare", "trade-off", "tradeoff", "plan", "design", "step by step", "explain"} {
		if strings.Contains(lower, marker) {
			score += 0.2
		}
	}
	if strings.Count(text, "?") > 1 {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

// stageMain drives the model/tool loop: classify intent, discover tools when
// needed, then alternate model calls and tool batches until the model
// produces a tool-free answer or the call budget runs out. Context overflow
// is retried with halved history on an independent counter.
func (p *Processor) stageMain(ctx context.Context, pc *core.ProcessingContext, emit func(core.StreamEvent) bool) error {
	req := pc.Request

	resolved, err := p.router.Resolve(ctx, pc.AgentID)
	if err != nil {
		return core.NewPipelineError(StageMain, core.KindConfiguration, err)
	}
	pc.SetValue("model", resolved.Preference.Model)
	pc.SetValue("resolved", resolved)

	var defs []core.ToolDefinition
	classification := intent.Classify(req.UserText())
	pc.SetValue("intent", classification)
	if classification.RequiresTools && p.opts.Discoverer != nil && p.opts.Executor != nil {
		defs, err = p.opts.Discoverer.Discover(ctx, pc.AgentID, pc.UserID, pc.ConversationID, len(pc.Messages))
		if err != nil {
			return err
		}
	}
	p.logger.Debug("pipeline.intent",
		"turn_id", pc.TurnID,
		"requires_tools", classification.RequiresTools,
		"confidence", classification.Confidence,
		"tools", len(defs),
	)

	var partialText string
	overflowRetries := 0

	for llmCalls := 0; llmCalls < p.opts.MaxLLMCalls; {
		result, err := p.chatOnce(ctx, pc, defs, emit)
		if err != nil {
			if router.IsContextOverflow(err) && overflowRetries < p.opts.MaxOverflowRetries {
				overflowRetries++
				dropped := halveHistory(pc)
				p.logger.Warn("pipeline.overflow.retry",
					"turn_id", pc.TurnID,
					"attempt", overflowRetries,
					"dropped_messages", dropped,
				)
				continue
			}
			if router.IsContextOverflow(err) {
				return core.NewPipelineError(StageMain, core.KindContextOverflow, err)
			}
			return core.NewPipelineError(StageMain, core.KindProvider, err)
		}
		llmCalls++
		pc.Usage.Merge(result.Usage)

		if result.Text != "" {
			partialText = result.Text
		}

		if len(result.ToolCalls) == 0 {
			pc.SetValue("final_text", result.Text)
			pc.Append(core.NewMessage(core.RoleAssistant, core.TextContent(result.Text)))
			return nil
		}

		if p.opts.Executor == nil {
			return core.NewPipelineError(StageMain, core.KindToolExecution,
				fmt.Errorf("model requested %d tool calls but no executor is configured", len(result.ToolCalls)))
		}

		assistant := core.NewMessage(core.RoleAssistant, core.TextContent(result.Text))
		assistant.ToolCalls = result.ToolCalls
		pc.Append(assistant)
		if emit != nil {
			for _, call := range result.ToolCalls {
				if !emit(core.ToolCallEvent(call)) {
					return ctx.Err()
				}
			}
		}

		batch := p.opts.Executor.ExecuteBatch(ctx, result.ToolCalls, req.UserText())
		for _, res := range batch.Results {
			pc.RecordTool(res)
			if emit != nil && !emit(core.ToolResultEvent(res)) {
				return ctx.Err()
			}
		}
		pc.Append(batch.Messages...)
	}

	// Call budget exhausted: return the last good partial state instead of
	// failing the turn.
	pc.SetValue("final_text", exhaustedFallback(partialText, pc.ToolDetails))
	p.logger.Warn("pipeline.llm_calls.exhausted",
		"turn_id", pc.TurnID,
		"max_calls", p.opts.MaxLLMCalls,
	)
	return nil
}

// chatOnce performs one model call. With a live emit it streams, forwarding
// partial text as delta events while collecting the final chunk; otherwise
// it calls non-streaming. Transient provider failures retry with backoff.
func (p *Processor) chatOnce(ctx context.Context, pc *core.ProcessingContext, defs []core.ToolDefinition, emit func(core.StreamEvent) bool) (*router.ChatResult, error) {
	opts := router.ChatOptions{Tools: defs}

	var lastErr error
	for attempt := 0; attempt <= p.opts.ProviderRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(time.Duration(attempt) * 200 * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		var result *router.ChatResult
		var err error
		if emit != nil {
			result, err = p.chatStreaming(ctx, pc, opts, emit)
		} else {
			result, err = p.router.Chat(ctx, pc.AgentID, pc.Messages, opts)
		}
		if err == nil {
			return result, nil
		}
		lastErr = err
		// Overflow and cancellation are handled by the caller, not by
		// blind re-sending of the same prompt.
		if router.IsContextOverflow(err) || ctx.Err() != nil {
			return nil, err
		}
		p.logger.Warn("pipeline.provider.retry",
			"turn_id", pc.TurnID,
			"attempt", attempt+1,
			"error", err.Error(),
		)
	}
	return nil, lastErr
}

func (p *Processor) chatStreaming(ctx context.Context, pc *core.ProcessingContext, opts router.ChatOptions, emit func(core.StreamEvent) bool) (*router.ChatResult, error) {
	opts.Stream = true
	chunks, errCh, err := p.router.ChatStream(ctx, pc.AgentID, pc.Messages, opts)
	if err != nil {
		return nil, err
	}

	var final *provider.ChatChunk
	for chunks != nil || errCh != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				continue
			}
			if chunk.Partial {
				if chunk.TextDelta != "" && !emit(core.DeltaEvent(chunk.TextDelta)) {
					return nil, ctx.Err()
				}
				continue
			}
			c := chunk
			final = &c
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if final == nil {
		return nil, fmt.Errorf("provider returned no final chunk")
	}
	result := &router.ChatResult{
		ResponseID:   final.ResponseID,
		Text:         final.Text,
		ToolCalls:    final.ToolCalls,
		FinishReason: final.FinishReason,
	}
	if final.Usage != nil {
		result.Usage = *final.Usage
	}
	return result, nil
}

// halveHistory drops the oldest half of the non-system messages, keeping
// system context and the most recent conversation. Returns the number of
// messages dropped.
func halveHistory(pc *core.ProcessingContext) int {
	var system, rest []core.Message
	for _, msg := range pc.Messages {
		if msg.Role == core.RoleSystem {
			system = append(system, msg)
		} else {
			rest = append(rest, msg)
		}
	}
	if len(rest) <= 1 {
		// Nothing left to shed but the user turn itself; drop system
		// context instead.
		if len(system) > 0 {
			dropped := len(system)
			pc.Messages = rest
			return dropped
		}
		return 0
	}
	keep := (len(rest) + 1) / 2
	dropped := len(rest) - keep
	pc.Messages = append(system, rest[len(rest)-keep:]...)
	return dropped
}

// exhaustedFallback synthesizes a response from whatever the turn achieved
// when the model call budget ran out.
func exhaustedFallback(partialText string, details []core.ToolDetail) string {
	if strings.TrimSpace(partialText) != "" {
		return partialText
	}
	succeeded := 0
	for _, d := range details {
		if d.Status == core.ToolStatusSuccess {
			succeeded++
		}
	}
	if len(details) > 0 {
		return fmt.Sprintf(
			"I could not fully complete the request: %d of %d tool calls succeeded before the attempt limit was reached.",
			succeeded, len(details),
		)
	}
	return "I could not complete the request within the allowed number of attempts."
}
