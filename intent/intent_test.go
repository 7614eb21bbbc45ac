package intent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name          string
		text          string
		requiresTools bool
	}{
		{"simple arithmetic", "What's 2+2?", false},
		{"definition", "Define entropy for me", false},
		{"explanation", "Explain how photosynthesis works", false},
		{"send email", "Email john@example.com the quarterly report", true},
		{"schedule", "Schedule a meeting with the design team tomorrow", true},
		{"external state", "What's on my calendar for Friday?", true},
		{"weather", "Is the weather nice in Lisbon right now?", true},
		{"explicit tool reference", "Use the search tool to find recent papers", true},
		{"empty", "", false},
		{"ambiguous fails open", "quarterly numbers", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Classify(tt.text)
			assert.Equal(t, tt.requiresTools, c.RequiresTools, "reasoning: %s", c.Reasoning)
			assert.NotEmpty(t, c.Reasoning)
			assert.GreaterOrEqual(t, c.Confidence, 0.0)
			assert.LessOrEqual(t, c.Confidence, 1.0)
		})
	}
}

func TestClassify_Idempotent(t *testing.T) {
	inputs := []string{
		"What's 2+2?",
		"Email john@example.com the quarterly report",
		"quarterly numbers",
		"",
	}
	for _, text := range inputs {
		first := Classify(text)
		for i := 0; i < 5; i++ {
			assert.Equal(t, first, Classify(text))
		}
	}
}

func TestClassify_LowConfidenceFailsOpen(t *testing.T) {
	c := Classify("hmm")
	assert.True(t, c.RequiresTools)
	assert.Less(t, c.Confidence, 0.5)
}
