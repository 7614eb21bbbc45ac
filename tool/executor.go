package tool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/logging"
)

// BatchResult is the outcome of executing one model turn's tool calls.
type BatchResult struct {
	// Results holds exactly one entry per incoming call, in call order.
	Results []core.ToolResult
	// Messages are the tool-role result messages plus any synthesized
	// guidance, ready to append to the conversation.
	Messages []core.Message
	// RequiresLLMRetry is set when at least one failure was classified
	// retryable, asking the orchestrator for another model call.
	RequiresLLMRetry bool
}

// ExecutorOptions configure an Executor.
type ExecutorOptions struct {
	// MaxParallel bounds concurrent tool calls within one batch.
	// 0 means unbounded (batch size).
	MaxParallel int
	// CallTimeout bounds a single tool call, kept shorter than the run
	// deadline so one slow tool cannot starve the batch. Default 30s.
	CallTimeout time.Duration
	Logger      logging.Logger
}

// Executor runs batches of tool calls. Independent calls within a batch
// execute concurrently; results are always reported in call order.
type Executor struct {
	registry *Registry
	opts     ExecutorOptions
	logger   logging.Logger
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{CallTimeout: 30 * time.Second}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Executor{
		registry: registry,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// ExecuteBatch runs the calls and classifies every failure. userText is the
// original user message, used to back-fill missing required string arguments
// the model forgot to copy over. Never returns an error: failures are data.
func (e *Executor) ExecuteBatch(ctx context.Context, calls []core.ToolCall, userText string) BatchResult {
	n := len(calls)
	if n == 0 {
		return BatchResult{}
	}

	results := make([]core.ToolResult, n)

	maxPar := e.opts.MaxParallel
	if maxPar <= 0 || maxPar > n {
		maxPar = n
	}
	sem := make(chan struct{}, maxPar)
	var wg sync.WaitGroup

	batchStart := time.Now()
	for i := range calls {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(idx int, call core.ToolCall) {
			defer wg.Done()
			defer func() { <-sem }()
			results[idx] = e.executeOne(ctx, call, userText)
		}(i, calls[i])
	}
	wg.Wait()

	// Calls skipped by cancellation still need a result entry.
	for i, res := range results {
		if res.ToolCallID == "" {
			results[i] = core.ToolResult{
				ToolCallID: calls[i].ID,
				Name:       calls[i].Name,
				Status:     core.ToolStatusRetryable,
				Error:      "execution cancelled",
			}
		}
	}

	out := BatchResult{Results: results}
	for _, res := range results {
		out.Messages = append(out.Messages, resultMessage(res))
		if res.Status == core.ToolStatusRetryable {
			out.RequiresLLMRetry = true
			out.Messages = append(out.Messages, guidanceMessage(res))
		}
	}

	e.logger.Debug("tools.batch.complete",
		"count", n,
		"parallelism", maxPar,
		"retry_needed", out.RequiresLLMRetry,
		"duration_ms", time.Since(batchStart).Milliseconds(),
	)
	return out
}

func (e *Executor) executeOne(ctx context.Context, call core.ToolCall, userText string) core.ToolResult {
	start := time.Now()
	res := core.ToolResult{ToolCallID: call.ID, Name: call.Name}

	impl, ok := e.registry.Get(call.Name)
	if !ok {
		res.Status = core.ToolStatusTerminal
		res.Error = fmt.Sprintf("unknown tool %q", call.Name)
		res.Latency = time.Since(start)
		return res
	}
	def := impl.Definition()

	args, err := decodeArguments(call.Arguments)
	if err != nil {
		res.Status = core.ToolStatusRetryable
		res.Error = fmt.Sprintf("malformed arguments: %v", err)
		res.Latency = time.Since(start)
		return res
	}
	backfillArguments(def, args, userText)

	callCtx := ctx
	if e.opts.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.opts.CallTimeout)
		defer cancel()
	}

	var value any
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("tool panicked: %v", r)
				e.logger.Error("tools.call.panic", "tool", call.Name, "recover", fmt.Sprint(r))
			}
		}()
		value, err = impl.Execute(callCtx, args)
	}()
	res.Latency = time.Since(start)

	if err != nil {
		res.Status = classify(err)
		res.Error = err.Error()
		e.logger.Warn("tools.call.failed",
			"tool", call.Name,
			"status", string(res.Status),
			"duration_ms", res.Latency.Milliseconds(),
			"error", err.Error(),
		)
		return res
	}

	res.Status = core.ToolStatusSuccess
	res.Result = value
	e.logger.Debug("tools.call.executed",
		"tool", call.Name,
		"duration_ms", res.Latency.Milliseconds(),
	)
	return res
}

func decodeArguments(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return args, nil
}

// backfillArguments fills required string arguments the model omitted when
// the user's own words plainly are the value, e.g. a missing "query" on a
// search tool. Only free-text style fields are eligible.
func backfillArguments(def core.ToolDefinition, args map[string]any, userText string) {
	if userText == "" {
		return
	}
	for _, field := range RequiredFields(def) {
		if _, present := args[field]; present {
			continue
		}
		if PropertyType(def, field) != "string" {
			continue
		}
		if isFreeTextField(field) {
			args[field] = userText
		}
	}
}

var freeTextFields = map[string]bool{
	"query":   true,
	"q":       true,
	"text":    true,
	"input":   true,
	"message": true,
	"content": true,
	"prompt":  true,
}

func isFreeTextField(name string) bool {
	return freeTextFields[strings.ToLower(name)]
}

// classify maps a tool failure to its retry class. Validation and transient
// failures are worth another model attempt; permission and capability
// failures are not.
func classify(err error) core.ToolStatus {
	var toolErr *Err
	if errors.As(err, &toolErr) {
		switch toolErr.Code {
		case CodePermission, CodeDisabled, CodeUnknown:
			return core.ToolStatusTerminal
		}
	}
	// Everything else, including timeouts and malformed arguments, is worth
	// one more model attempt.
	return core.ToolStatusRetryable
}

// resultMessage renders a tool outcome as a tool-role message for the model.
func resultMessage(res core.ToolResult) core.Message {
	var text string
	if res.Succeeded() {
		raw, err := json.Marshal(res.Result)
		if err != nil {
			text = fmt.Sprint(res.Result)
		} else {
			text = string(raw)
		}
	} else {
		text = fmt.Sprintf("error: %s", res.Error)
	}
	msg := core.NewMessage(core.RoleTool, core.TextContent(text))
	msg.ToolCallID = res.ToolCallID
	msg.ToolName = res.Name
	return msg
}

// guidanceMessage tells the model what went wrong and how to fix it.
func guidanceMessage(res core.ToolResult) core.Message {
	text := fmt.Sprintf(
		"Tool %s failed because: %s. Retry the call with corrected arguments, or answer without it if the information is already available.",
		res.Name, res.Error,
	)
	return core.NewMessage(core.RoleSystem, core.TextContent(text))
}
