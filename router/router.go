// Package router hides provider/model selection and credential retrieval
// behind one call surface. Components above it stay provider-agnostic: they
// name an agent, the router resolves the adapter, model parameters and API
// key, and exposes chat and embed calls.
package router

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/logging"
	"github.com/turnpike-ai/turnpike/provider"
)

var (
	// ErrNoPreference means no AgentPreference record exists for the agent.
	ErrNoPreference = errors.New("no llm preference record for agent")
	// ErrProviderDisabled means the referenced provider is disabled.
	ErrProviderDisabled = errors.New("provider is disabled")
)

// AgentPreference is the per-agent model configuration. It is read-only
// during a run; mutation happens only through external agent management.
type AgentPreference struct {
	Provider       provider.Name  `yaml:"provider" json:"provider"`
	Model          string         `yaml:"model" json:"model"`
	EmbeddingModel string         `yaml:"embedding_model" json:"embedding_model"`
	Params         map[string]any `yaml:"params" json:"params"`
	Disabled       bool           `yaml:"disabled" json:"disabled"`
}

// Temperature extracts the temperature parameter, if configured.
func (p AgentPreference) Temperature() *float64 {
	if v, ok := p.Params["temperature"]; ok {
		switch t := v.(type) {
		case float64:
			return &t
		case int:
			f := float64(t)
			return &f
		}
	}
	return nil
}

// MaxTokens extracts the max_tokens parameter, or 0 when unset.
func (p AgentPreference) MaxTokens() int64 {
	if v, ok := p.Params["max_tokens"]; ok {
		switch t := v.(type) {
		case int:
			return int64(t)
		case int64:
			return t
		case float64:
			return int64(t)
		}
	}
	return 0
}

// PreferenceSource looks up the AgentPreference for an agent. Returning
// ErrNoPreference signals a missing record.
type PreferenceSource interface {
	Preference(ctx context.Context, agentID string) (AgentPreference, error)
}

// CredentialSource returns a decrypted API key for a provider. Secret storage
// itself is an external collaborator.
type CredentialSource interface {
	APIKey(ctx context.Context, name provider.Name) (string, error)
}

// AdapterFactory builds a provider adapter from a resolved preference and
// credential. The default factory covers the closed provider set.
type AdapterFactory func(pref AgentPreference, apiKey string) (provider.Adapter, error)

// Resolved pairs the adapter with the preference it was built from. Stored as
// an immutable snapshot in the resolution cache.
type Resolved struct {
	Adapter    provider.Adapter
	Preference AgentPreference
}

// ChatOptions carry per-call parameters layered over the agent preference.
type ChatOptions struct {
	Tools       []core.ToolDefinition
	Temperature *float64
	MaxTokens   int64
	ToolChoice  core.ToolChoice
	Stream      bool
}

// ChatResult is the collected outcome of a non-streaming chat call.
type ChatResult struct {
	ResponseID   string
	Text         string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        core.TokenUsage
}

// Options configure a Router.
type Options struct {
	// CacheSize bounds the resolution cache entries.
	CacheSize int
	// CacheTTL bounds resolution staleness.
	CacheTTL time.Duration
	// Limiters optionally rate-limit calls per provider.
	Limiters map[provider.Name]*rate.Limiter
	// Factory overrides adapter construction (tests inject mocks here).
	Factory AdapterFactory
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Router resolves agents to provider adapters and exposes chat/embed calls.
// Resolution results are cached cross-request in a TTL cache with
// copy-on-write replacement; per-run caching on the ProcessingContext is the
// pipeline's concern.
type Router struct {
	prefs    PreferenceSource
	creds    CredentialSource
	factory  AdapterFactory
	cache    *core.TTLCache[string, Resolved]
	limiters map[provider.Name]*rate.Limiter
	logger   logging.Logger
}

// New creates a Router over the given preference and credential sources.
func New(prefs PreferenceSource, creds CredentialSource, optFns ...func(o *Options)) *Router {
	opts := Options{
		CacheSize: 256,
		CacheTTL:  5 * time.Minute,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	factory := opts.Factory
	if factory == nil {
		factory = DefaultFactory
	}
	return &Router{
		prefs:    prefs,
		creds:    creds,
		factory:  factory,
		cache:    core.NewTTLCache[string, Resolved](opts.CacheSize, opts.CacheTTL),
		limiters: opts.Limiters,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Resolve returns the provider adapter and preferences for an agent. Missing
// or disabled configuration yields ErrNoPreference / ErrProviderDisabled.
func (r *Router) Resolve(ctx context.Context, agentID string) (Resolved, error) {
	if cached, ok := r.cache.Get(agentID); ok {
		return cached, nil
	}

	pref, err := r.prefs.Preference(ctx, agentID)
	if err != nil {
		return Resolved{}, fmt.Errorf("resolve agent %s: %w", agentID, err)
	}
	if pref.Disabled {
		return Resolved{}, fmt.Errorf("resolve agent %s: %w", agentID, ErrProviderDisabled)
	}

	apiKey := ""
	if r.creds != nil {
		apiKey, err = r.creds.APIKey(ctx, pref.Provider)
		if err != nil {
			return Resolved{}, fmt.Errorf("credential lookup for %s: %w", pref.Provider, err)
		}
	}

	adapter, err := r.factory(pref, apiKey)
	if err != nil {
		return Resolved{}, fmt.Errorf("build adapter for %s: %w", pref.Provider, err)
	}

	resolved := Resolved{Adapter: adapter, Preference: pref}
	r.cache.Put(agentID, resolved)
	r.logger.Debug("router.agent.resolved", "agent_id", agentID, "provider", pref.Provider, "model", pref.Model)
	return resolved, nil
}

// InvalidateAgent drops the cached resolution for an agent, forcing the next
// call to re-read configuration.
func (r *Router) InvalidateAgent(agentID string) { r.cache.Invalidate(agentID) }

func (r *Router) wait(ctx context.Context, name provider.Name) error {
	if lim, ok := r.limiters[name]; ok && lim != nil {
		return lim.Wait(ctx)
	}
	return nil
}

func (r *Router) buildRequest(res Resolved, messages []core.Message, opts ChatOptions) provider.ChatRequest {
	temp := opts.Temperature
	if temp == nil {
		temp = res.Preference.Temperature()
	}
	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = res.Preference.MaxTokens()
	}
	toolChoice := opts.ToolChoice
	if toolChoice == "" {
		toolChoice = core.ToolChoiceAuto
	}
	return provider.ChatRequest{
		Model:       res.Preference.Model,
		Messages:    messages,
		Tools:       opts.Tools,
		Temperature: temp,
		MaxTokens:   maxTokens,
		ToolChoice:  toolChoice,
		Stream:      opts.Stream,
	}
}

// Chat performs one model call and collects the final chunk. Partial chunks
// are discarded; streaming callers use ChatStream.
func (r *Router) Chat(ctx context.Context, agentID string, messages []core.Message, opts ChatOptions) (*ChatResult, error) {
	opts.Stream = false
	chunks, errCh, err := r.ChatStream(ctx, agentID, messages, opts)
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
			if !chunk.Partial {
				c := chunk
				final = &c
			}
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
	result := &ChatResult{
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

// ChatStream performs one model call returning the raw chunk stream. The
// returned channels follow the provider.Adapter contract.
func (r *Router) ChatStream(ctx context.Context, agentID string, messages []core.Message, opts ChatOptions) (<-chan provider.ChatChunk, <-chan error, error) {
	res, err := r.Resolve(ctx, agentID)
	if err != nil {
		return nil, nil, err
	}
	if err := r.wait(ctx, res.Preference.Provider); err != nil {
		return nil, nil, err
	}
	start := time.Now()
	chunks, errCh := res.Adapter.Chat(ctx, r.buildRequest(res, messages, opts))
	r.logger.Debug("router.chat.dispatched",
		"agent_id", agentID,
		"model", res.Preference.Model,
		"messages", len(messages),
		"tools", len(opts.Tools),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return chunks, errCh, nil
}

// Embed computes one vector per input, order preserved. modelHint overrides
// the preference's embedding model when non-empty.
func (r *Router) Embed(ctx context.Context, agentID string, inputs []string, modelHint string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, nil
	}
	res, err := r.Resolve(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if err := r.wait(ctx, res.Preference.Provider); err != nil {
		return nil, err
	}
	model := modelHint
	if model == "" {
		model = res.Preference.EmbeddingModel
	}
	vectors, err := res.Adapter.Embed(ctx, provider.EmbedRequest{Model: model, Inputs: inputs})
	if err != nil {
		return nil, fmt.Errorf("embed via %s: %w", res.Preference.Provider, err)
	}
	if len(vectors) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: %d vectors for %d inputs", len(vectors), len(inputs))
	}
	return vectors, nil
}
