package provider

import (
	"context"
	"hash/fnv"
	"math"
	"sync"

	"github.com/turnpike-ai/turnpike/core"
)

// MockTurn scripts one model call of a MockAdapter.
type MockTurn struct {
	Text         string
	ToolCalls    []core.ToolCall
	FinishReason string
	Usage        core.TokenUsage
	Err          error
}

// MockAdapter is a scripted in-memory Adapter for tests. Calls consume
// scripted turns in order; when the script is exhausted the adapter echoes the
// last user message. Streaming emits the final text rune by rune first,
// matching real adapter behavior.
type MockAdapter struct {
	mu    sync.Mutex
	turns []MockTurn
	calls []ChatRequest
	model string
}

// NewMockAdapter creates a mock with the given scripted turns.
func NewMockAdapter(turns ...MockTurn) *MockAdapter {
	return &MockAdapter{turns: turns, model: "mock-1"}
}

// Calls returns the chat requests observed so far.
func (m *MockAdapter) Calls() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.calls...)
}

// CallCount returns how many chat calls were issued.
func (m *MockAdapter) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

func (m *MockAdapter) next(req ChatRequest) MockTurn {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.turns) > 0 {
		t := m.turns[0]
		m.turns = m.turns[1:]
		return t
	}
	var last string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if req.Messages[i].Role == core.RoleUser {
			last = req.Messages[i].Text()
			break
		}
	}
	return MockTurn{
		Text:         "Mock response to: " + last,
		FinishReason: "stop",
		Usage:        core.TokenUsage{Prompt: estimate(last), Completion: 8, Total: estimate(last) + 8},
	}
}

// Chat implements Adapter with scripted turns.
func (m *MockAdapter) Chat(ctx context.Context, req ChatRequest) (<-chan ChatChunk, <-chan error) {
	out := make(chan ChatChunk, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		turn := m.next(req)
		if turn.Err != nil {
			errCh <- turn.Err
			return
		}
		if req.Stream {
			for _, r := range turn.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case out <- ChatChunk{Partial: true, TextDelta: string(r)}:
				}
			}
		}
		finish := turn.FinishReason
		if finish == "" {
			if len(turn.ToolCalls) > 0 {
				finish = "tool_calls"
			} else {
				finish = "stop"
			}
		}
		usage := turn.Usage
		out <- ChatChunk{
			ResponseID:   core.NewID(),
			Text:         turn.Text,
			ToolCalls:    turn.ToolCalls,
			FinishReason: finish,
			Usage:        &usage,
		}
	}()

	return out, errCh
}

// Embed implements Adapter with a deterministic hash embedding so tests get
// stable, comparable vectors without a network call.
func (m *MockAdapter) Embed(_ context.Context, req EmbedRequest) ([][]float32, error) {
	vectors := make([][]float32, len(req.Inputs))
	for i, input := range req.Inputs {
		vectors[i] = HashEmbedding(input, 64)
	}
	return vectors, nil
}

// Info implements Adapter.
func (m *MockAdapter) Info() Info {
	return Info{
		Model:               m.model,
		Provider:            NameMock,
		SupportsTools:       true,
		SupportsTemperature: true,
		SupportsEmbeddings:  true,
	}
}

// HashEmbedding produces a deterministic unit-normalized vector from text.
// Token collisions are acceptable; the point is stable similarity for tests
// and offline development, not semantic quality.
func HashEmbedding(text string, dims int) []float32 {
	vec := make([]float32, dims)
	start := 0
	flush := func(end int) {
		if end <= start {
			return
		}
		h := fnv.New64a()
		_, _ = h.Write([]byte(text[start:end]))
		sum := h.Sum64()
		idx := int(sum % uint64(dims))
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[idx] += sign
	}
	for i := 0; i < len(text); i++ {
		c := text[i]
		if c == ' ' || c == '\t' || c == '\n' {
			flush(i)
			start = i + 1
		}
	}
	flush(len(text))

	var norm float32
	for _, v := range vec {
		norm += v * v
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(float64(norm)))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec
}

func estimate(text string) int { return len(text)/4 + 1 }
