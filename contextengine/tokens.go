package contextengine

import (
	"github.com/pkoukk/tiktoken-go"
)

// Estimator counts and trims tokens. It uses the model's tiktoken encoding
// when available and falls back to a chars/4 heuristic when no encoding can
// be loaded, so assembly degrades instead of failing.
type Estimator struct {
	enc *tiktoken.Tiktoken
}

// NewEstimator builds an Estimator for the given model, tolerating
// encoding-load failure.
func NewEstimator(model string) *Estimator {
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.EncodingForModel("gpt-4o")
		if err != nil {
			return &Estimator{}
		}
	}
	return &Estimator{enc: enc}
}

// Count estimates the token cost of text.
func (e *Estimator) Count(text string) int {
	if text == "" {
		return 0
	}
	if e.enc != nil {
		return len(e.enc.Encode(text, nil, nil))
	}
	return (len(text) + 3) / 4
}

// Truncate trims text to at most maxTokens tokens.
func (e *Estimator) Truncate(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return ""
	}
	if e.enc != nil {
		tokens := e.enc.Encode(text, nil, nil)
		if len(tokens) <= maxTokens {
			return text
		}
		return e.enc.Decode(tokens[:maxTokens])
	}
	limit := maxTokens * 4
	if len(text) <= limit {
		return text
	}
	return text[:limit]
}
