// Package anthropic implements provider.Adapter over the Anthropic Messages
// API, including streaming and tool use. Anthropic exposes no embedding API,
// so Embed reports provider.ErrEmbeddingsUnsupported; the router routes
// embedding work to an embedding-capable provider instead.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/shared/constant"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/provider"
)

// Options configures the Anthropic adapter (model id, max tokens, API key).
type Options struct {
	Model     anthropic.Model
	MaxTokens int64
	APIKey    string
}

// Adapter wraps the Anthropic Messages API behind the provider.Adapter interface.
type Adapter struct {
	client *anthropic.Client
	opts   Options
}

// New creates an Anthropic adapter using the official client.
func New(optFns ...func(o *Options)) *Adapter {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Adapter{client: &client, opts: opts}
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Adapter {
	opts := Options{
		Model:     anthropic.ModelClaude3_5Sonnet20241022,
		MaxTokens: 4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Adapter{client: client, opts: opts}
}

// Chat implements unified streaming / non-streaming generation.
func (a *Adapter) Chat(ctx context.Context, req provider.ChatRequest) (<-chan provider.ChatChunk, <-chan error) {
	out := make(chan provider.ChatChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		params := a.buildParams(req)
		if req.Stream {
			a.handleStreaming(ctx, params, out, errCh)
			return
		}

		resp, err := a.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}
		out <- finalChunk(resp)
	}()

	return out, errCh
}

func (a *Adapter) buildParams(req provider.ChatRequest) anthropic.MessageNewParams {
	model := anthropic.Model(req.Model)
	if req.Model == "" {
		model = a.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.opts.MaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     model,
		Messages:  buildMessages(req.Messages),
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	if systemBlocks := extractSystemBlocks(req.Messages); len(systemBlocks) > 0 {
		params.System = systemBlocks
	}
	if len(req.Tools) > 0 && req.ToolChoice != core.ToolChoiceNone {
		params.Tools = buildTools(req.Tools)
		switch req.ToolChoice {
		case core.ToolChoiceRequired:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAny: &anthropic.ToolChoiceAnyParam{}}
		default:
			params.ToolChoice = anthropic.ToolChoiceUnionParam{OfAuto: &anthropic.ToolChoiceAutoParam{}}
		}
	}
	return params
}

// handleStreaming accumulates stream events into a full message while
// forwarding text deltas as partial chunks.
func (a *Adapter) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- provider.ChatChunk,
	errCh chan<- error,
) {
	stream := a.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}

	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}
		if ev, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
			if delta, ok := ev.Delta.AsAny().(anthropic.TextDelta); ok && delta.Text != "" {
				out <- provider.ChatChunk{Partial: true, TextDelta: delta.Text}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}
	out <- finalChunk(&acc)
}

// finalChunk converts a complete Anthropic message into the terminal chunk.
func finalChunk(resp *anthropic.Message) provider.ChatChunk {
	var text string
	var toolCalls []core.ToolCall

	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			text += block.AsText().Text
		case "tool_use":
			toolBlock := block.AsToolUse()
			args := ""
			if toolBlock.Input != nil {
				if argsBytes, err := json.Marshal(toolBlock.Input); err == nil {
					args = string(argsBytes)
				}
			}
			toolCalls = append(toolCalls, core.ToolCall{
				ID:        toolBlock.ID,
				Name:      toolBlock.Name,
				Arguments: args,
			})
		}
	}

	finishReason := "stop"
	if resp.StopReason != "" {
		finishReason = string(resp.StopReason)
	}
	return provider.ChatChunk{
		ResponseID:   resp.ID,
		Text:         text,
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage: &core.TokenUsage{
			Prompt:     int(resp.Usage.InputTokens),
			Completion: int(resp.Usage.OutputTokens),
			Total:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
		},
	}
}

// buildMessages converts normalized messages to Anthropic message params.
// System messages are handled separately; tool results become tool_result
// blocks inside user messages, per the Messages API contract.
func buildMessages(messages []core.Message) []anthropic.MessageParam {
	var out []anthropic.MessageParam

	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			continue
		case core.RoleUser:
			if m.Text() != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
			}
		case core.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if m.Text() != "" {
				content = append(content, anthropic.NewTextBlock(m.Text()))
			}
			for _, tc := range m.ToolCalls {
				var input any
				if tc.Arguments != "" {
					if err := json.Unmarshal([]byte(tc.Arguments), &input); err != nil {
						input = tc.Arguments
					}
				}
				content = append(content, anthropic.NewToolUseBlock(tc.ID, input, tc.Name))
			}
			if len(content) > 0 {
				out = append(out, anthropic.NewAssistantMessage(content...))
			}
		case core.RoleTool:
			out = append(out, anthropic.NewUserMessage(
				anthropic.NewToolResultBlock(m.ToolCallID, m.Text(), false),
			))
		default:
			if m.Text() != "" {
				out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text())))
			}
		}
	}

	return out
}

func extractSystemBlocks(messages []core.Message) []anthropic.TextBlockParam {
	var blocks []anthropic.TextBlockParam
	for _, m := range messages {
		if m.Role == core.RoleSystem && m.Text() != "" {
			blocks = append(blocks, anthropic.TextBlockParam{Text: m.Text()})
		}
	}
	return blocks
}

// buildTools converts normalized tool definitions to Anthropic tool params.
func buildTools(tools []core.ToolDefinition) []anthropic.ToolUnionParam {
	anthropicTools := make([]anthropic.ToolUnionParam, len(tools))

	for i, tdef := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{
			Type: constant.Object("object"),
		}
		if tdef.Parameters != nil {
			if properties, exists := tdef.Parameters["properties"]; exists {
				inputSchema.Properties = properties
			}
			if required, exists := tdef.Parameters["required"]; exists {
				switch req := required.(type) {
				case []string:
					inputSchema.Required = req
				case []any:
					var reqStrings []string
					for _, r := range req {
						if s, ok := r.(string); ok {
							reqStrings = append(reqStrings, s)
						}
					}
					inputSchema.Required = reqStrings
				}
			}
		}
		anthropicTools[i] = anthropic.ToolUnionParamOfTool(inputSchema, tdef.Name)
	}

	return anthropicTools
}

// Embed implements provider.Adapter. Anthropic has no embedding endpoint.
func (a *Adapter) Embed(context.Context, provider.EmbedRequest) ([][]float32, error) {
	return nil, provider.ErrEmbeddingsUnsupported
}

// Info returns metadata describing this Anthropic adapter.
func (a *Adapter) Info() provider.Info {
	return provider.Info{
		Model:               string(a.opts.Model),
		Provider:            provider.NameAnthropic,
		SupportsTools:       true,
		SupportsTemperature: true,
		SupportsEmbeddings:  false,
	}
}
