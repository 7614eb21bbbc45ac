// Package openai implements provider.Adapter using the OpenAI Chat
// Completions API (including streaming + function/tool calling) and the
// embeddings API. It adapts the pipeline's normalized message structures into
// the SDK's format and back.
package openai

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/provider"
)

// aggCall aggregates partial tool call streaming deltas (id, name, arguments)
// allowing reconstruction of complete calls when the finish reason arrives.
type aggCall struct{ id, name, args string }

// reasoningModelPrefixes lists model families that reject the temperature
// parameter. Requests against these families silently drop it.
var reasoningModelPrefixes = []string{"o1", "o3", "o4"}

// Options configure the OpenAI adapter. Fields mirror a subset of Chat
// Completion parameters intentionally kept minimal.
type Options struct {
	Model          string
	EmbeddingModel string
	MaxTokens      int64
	APIKey         string
}

// Adapter wraps the OpenAI API behind the provider.Adapter interface.
type Adapter struct {
	client openai.Client
	opts   Options
}

// New creates an OpenAI adapter using the official client.
func New(optFns ...func(o *Options)) *Adapter {
	opts := Options{
		Model:          openai.ChatModelGPT4oMini,
		EmbeddingModel: string(openai.EmbeddingModelTextEmbedding3Small),
		MaxTokens:      4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	return &Adapter{client: openai.NewClient(clientOpts...), opts: opts}
}

// NewFromClient creates an adapter from an existing client.
func NewFromClient(client openai.Client, optFns ...func(o *Options)) *Adapter {
	opts := Options{
		Model:          openai.ChatModelGPT4oMini,
		EmbeddingModel: string(openai.EmbeddingModelTextEmbedding3Small),
		MaxTokens:      4096,
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
		a.handleNonStreaming(ctx, params, out, errCh)
	}()
	return out, errCh
}

// buildParams assembles request parameters including tool definitions and
// tool choice. Temperature is dropped for model families that reject it.
func (a *Adapter) buildParams(req provider.ChatRequest) openai.ChatCompletionNewParams {
	model := req.Model
	if model == "" {
		model = a.opts.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = a.opts.MaxTokens
	}
	params := openai.ChatCompletionNewParams{
		Messages:            buildMessages(req.Messages),
		Model:               model,
		MaxCompletionTokens: openai.Int(maxTokens),
	}
	if req.Temperature != nil && supportsTemperature(model) {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, len(req.Tools))
		for i, tdef := range req.Tools {
			tools[i] = openai.ChatCompletionToolParam{
				Type: "function",
				Function: openai.FunctionDefinitionParam{
					Name:        tdef.Name,
					Description: openai.String(tdef.Description),
					Parameters:  tdef.Parameters,
				},
			}
		}
		params.Tools = tools
		switch req.ToolChoice {
		case core.ToolChoiceNone, core.ToolChoiceAuto, core.ToolChoiceRequired:
			params.ToolChoice = openai.ChatCompletionToolChoiceOptionUnionParam{
				OfAuto: openai.String(string(req.ToolChoice)),
			}
		}
	}
	return params
}

func supportsTemperature(model string) bool {
	for _, prefix := range reasoningModelPrefixes {
		if strings.HasPrefix(model, prefix) {
			return false
		}
	}
	return true
}

// buildMessages converts normalized messages into OpenAI chat messages,
// attaching tool responses after their originating assistant tool calls.
func buildMessages(messages []core.Message) []openai.ChatCompletionMessageParamUnion {
	var out []openai.ChatCompletionMessageParamUnion
	for _, m := range messages {
		switch m.Role {
		case core.RoleSystem:
			out = append(out, openai.SystemMessage(m.Text()))
		case core.RoleUser:
			out = append(out, openai.UserMessage(m.Text()))
		case core.RoleAssistant:
			if len(m.ToolCalls) == 0 {
				out = append(out, openai.AssistantMessage(m.Text()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(m.ToolCalls))
			for i, tc := range m.ToolCalls {
				toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: tc.Arguments,
					},
				}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{
				OfAssistant: &openai.ChatCompletionAssistantMessageParam{
					Role:      "assistant",
					ToolCalls: toolCalls,
				},
			})
		case core.RoleTool:
			out = append(out, openai.ToolMessage(m.Text(), m.ToolCallID))
		default:
			if m.Text() != "" {
				out = append(out, openai.UserMessage(m.Text()))
			}
		}
	}
	return out
}

// handleStreaming processes streaming responses and forwards partial chunks
// followed by one final accumulated chunk.
func (a *Adapter) handleStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- provider.ChatChunk,
	errCh chan<- error,
) {
	params.StreamOptions = openai.ChatCompletionStreamOptionsParam{IncludeUsage: openai.Bool(true)}
	stream := a.client.Chat.Completions.NewStreaming(ctx, params)

	var textBuilder strings.Builder
	toolAgg := map[int64]*aggCall{}
	var responseID, finishReason string
	var usage *core.TokenUsage

	for stream.Next() {
		ck := stream.Current()
		if ck.ID != "" {
			responseID = ck.ID
		}
		if ck.Usage.TotalTokens > 0 {
			usage = &core.TokenUsage{
				Prompt:     int(ck.Usage.PromptTokens),
				Completion: int(ck.Usage.CompletionTokens),
				Total:      int(ck.Usage.TotalTokens),
			}
		}
		for _, ch := range ck.Choices {
			if ch.Delta.Content != "" {
				textBuilder.WriteString(ch.Delta.Content)
				out <- provider.ChatChunk{Partial: true, TextDelta: ch.Delta.Content}
			}
			for _, tc := range ch.Delta.ToolCalls {
				ac, ok := toolAgg[tc.Index]
				if !ok {
					ac = &aggCall{}
					toolAgg[tc.Index] = ac
				}
				if tc.ID != "" {
					ac.id = tc.ID
				}
				if tc.Function.Name != "" {
					ac.name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					ac.args += tc.Function.Arguments
				}
			}
			if ch.FinishReason != "" {
				finishReason = ch.FinishReason
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("openai streaming error: %w", err)
		return
	}

	toolCalls := make([]core.ToolCall, 0, len(toolAgg))
	for _, ac := range toolAgg {
		toolCalls = append(toolCalls, core.ToolCall{ID: ac.id, Name: ac.name, Arguments: ac.args})
	}
	out <- provider.ChatChunk{
		ResponseID:   responseID,
		Text:         textBuilder.String(),
		ToolCalls:    toolCalls,
		FinishReason: finishReason,
		Usage:        usage,
	}
}

// handleNonStreaming processes a normal completion.
func (a *Adapter) handleNonStreaming(
	ctx context.Context,
	params openai.ChatCompletionNewParams,
	out chan<- provider.ChatChunk,
	errCh chan<- error,
) {
	resp, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		errCh <- fmt.Errorf("openai api error: %w", err)
		return
	}
	if len(resp.Choices) == 0 {
		errCh <- fmt.Errorf("no choices returned")
		return
	}
	ch0 := resp.Choices[0]
	toolCalls := make([]core.ToolCall, 0, len(ch0.Message.ToolCalls))
	for _, tc := range ch0.Message.ToolCalls {
		toolCalls = append(toolCalls, core.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	out <- provider.ChatChunk{
		ResponseID:   resp.ID,
		Text:         ch0.Message.Content,
		ToolCalls:    toolCalls,
		FinishReason: ch0.FinishReason,
		Usage: &core.TokenUsage{
			Prompt:     int(resp.Usage.PromptTokens),
			Completion: int(resp.Usage.CompletionTokens),
			Total:      int(resp.Usage.TotalTokens),
		},
	}
}

// Embed implements batch embedding, one vector per input, order preserved.
func (a *Adapter) Embed(ctx context.Context, req provider.EmbedRequest) ([][]float32, error) {
	model := req.Model
	if model == "" {
		model = a.opts.EmbeddingModel
	}
	resp, err := a.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: req.Inputs},
		Model: openai.EmbeddingModel(model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai embeddings error: %w", err)
	}
	if len(resp.Data) != len(req.Inputs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d for %d inputs", len(resp.Data), len(req.Inputs))
	}
	vectors := make([][]float32, len(resp.Data))
	for _, d := range resp.Data {
		vec := make([]float32, len(d.Embedding))
		for i, v := range d.Embedding {
			vec[i] = float32(v)
		}
		vectors[d.Index] = vec
	}
	return vectors, nil
}

// Info returns metadata describing this OpenAI adapter.
func (a *Adapter) Info() provider.Info {
	return provider.Info{
		Model:               a.opts.Model,
		Provider:            provider.NameOpenAI,
		SupportsTools:       true,
		SupportsTemperature: supportsTemperature(a.opts.Model),
		SupportsEmbeddings:  true,
	}
}
