package router

import (
	"fmt"
	"strings"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/turnpike-ai/turnpike/provider"
	"github.com/turnpike-ai/turnpike/provider/anthropic"
	"github.com/turnpike-ai/turnpike/provider/openai"
)

// DefaultFactory builds an adapter for the closed set of supported providers.
// Unknown provider names are configuration errors, never a silent fallback.
func DefaultFactory(pref AgentPreference, apiKey string) (provider.Adapter, error) {
	switch pref.Provider {
	case provider.NameOpenAI:
		return openai.New(func(o *openai.Options) {
			o.APIKey = apiKey
			if pref.Model != "" {
				o.Model = pref.Model
			}
			if pref.EmbeddingModel != "" {
				o.EmbeddingModel = pref.EmbeddingModel
			}
			if mt := pref.MaxTokens(); mt > 0 {
				o.MaxTokens = mt
			}
		}), nil
	case provider.NameAnthropic:
		return anthropic.New(func(o *anthropic.Options) {
			o.APIKey = apiKey
			if pref.Model != "" {
				o.Model = anthropicsdk.Model(pref.Model)
			}
			if mt := pref.MaxTokens(); mt > 0 {
				o.MaxTokens = mt
			}
		}), nil
	case provider.NameMock:
		return provider.NewMockAdapter(), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q: %w", pref.Provider, ErrNoPreference)
	}
}

// overflowMarkers are substrings the supported vendors emit when the
// assembled prompt exceeds the model's context window.
var overflowMarkers = []string{
	"context_length_exceeded",
	"maximum context length",
	"prompt is too long",
	"input is too long",
	"exceeds the context window",
}

// IsContextOverflow reports whether a provider error indicates the prompt
// exceeded the model's context window. The pipeline retries these with
// reduced history instead of surfacing them immediately.
func IsContextOverflow(err error) bool {
	if err == nil {
		return false
	}
	lower := strings.ToLower(err.Error())
	for _, marker := range overflowMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
