// Package intent implements the cheap pre-check deciding whether tool
// discovery is needed for a turn. Classification is a pure function over the
// message text: no model call, no state, deterministic for a fixed input.
package intent

import (
	"regexp"
	"strings"
)

// Classification is the outcome of one classify call.
type Classification struct {
	RequiresTools bool    `json:"requires_tools"`
	Confidence    float64 `json:"confidence"`
	Reasoning     string  `json:"reasoning"`
}

// actionVerbs suggest the user wants something done rather than answered.
var actionVerbs = []string{
	"send", "email", "schedule", "book", "create", "delete", "update",
	"search", "find", "look up", "fetch", "download", "upload", "post",
	"remind", "set", "cancel", "order", "buy", "call", "invite", "share",
}

// externalStatePhrases interrogate state the model cannot know.
var externalStatePhrases = []string{
	"my calendar", "my inbox", "my email", "my schedule", "my files",
	"the weather", "latest news", "current price", "stock price",
	"right now", "today's", "this week",
}

// toolReferencePhrases explicitly mention tool-like capabilities.
var toolReferencePhrases = []string{
	"use the", "using the", "with the tool", "via the api", "run the",
}

// selfContainedPattern matches turns answerable from the model alone:
// arithmetic, definitions, explanations, translations.
var selfContainedPattern = regexp.MustCompile(`(?i)^\s*(what is|what's|who is|who was|define|explain|translate|how do(es)? .* work|why (is|are|do|does))\b`)

// Classify decides whether the turn plainly needs tools. Low-confidence
// classifications fail open toward capability: RequiresTools stays true so a
// possibly-needed discovery round-trip is never silently skipped.
func Classify(userText string) Classification {
	text := strings.ToLower(strings.TrimSpace(userText))
	if text == "" {
		return Classification{RequiresTools: false, Confidence: 0.9, Reasoning: "empty message"}
	}

	var hits []string
	for _, verb := range actionVerbs {
		if containsWord(text, verb) {
			hits = append(hits, "action verb "+strconvQuote(verb))
			break
		}
	}
	for _, phrase := range externalStatePhrases {
		if strings.Contains(text, phrase) {
			hits = append(hits, "external state "+strconvQuote(phrase))
			break
		}
	}
	for _, phrase := range toolReferencePhrases {
		if strings.Contains(text, phrase) {
			hits = append(hits, "tool reference "+strconvQuote(phrase))
			break
		}
	}

	if len(hits) > 0 {
		confidence := 0.6 + 0.15*float64(len(hits))
		if confidence > 0.95 {
			confidence = 0.95
		}
		return Classification{
			RequiresTools: true,
			Confidence:    confidence,
			Reasoning:     strings.Join(hits, "; "),
		}
	}

	if selfContainedPattern.MatchString(text) {
		return Classification{
			RequiresTools: false,
			Confidence:    0.85,
			Reasoning:     "self-contained question with no action or external state markers",
		}
	}

	// Ambiguous turn: fail open toward capability.
	return Classification{
		RequiresTools: true,
		Confidence:    0.4,
		Reasoning:     "no strong signal; defaulting to tool discovery",
	}
}

// containsWord matches word at a left word boundary. Suffixes are allowed so
// verb stems also match their inflections ("send" matches "sending").
func containsWord(text, word string) bool {
	idx := 0
	for {
		i := strings.Index(text[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		if start == 0 || !isWordChar(text[start-1]) {
			return true
		}
		idx = start + len(word)
	}
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9' || c == '_'
}

func strconvQuote(s string) string { return "\"" + s + "\"" }
