package contextengine

import (
	"context"
	"fmt"
	"strings"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/memory"
)

// SourceName identifies where a candidate came from.
type SourceName string

const (
	SourceSystem         SourceName = "system"
	SourceAgentKnowledge SourceName = "agent_knowledge"
	SourceWorkspace      SourceName = "workspace"
	SourceChatHistory    SourceName = "chat_history"
	SourceToolCatalog    SourceName = "tool_catalog"
	SourceVectorSearch   SourceName = "vector_search"
)

// sourceRank orders sources for tie-breaking and section layout. Lower wins.
var sourceRank = map[SourceName]int{
	SourceSystem:         0,
	SourceAgentKnowledge: 1,
	SourceWorkspace:      2,
	SourceChatHistory:    3,
	SourceToolCatalog:    4,
	SourceVectorSearch:   5,
}

func rankOf(name SourceName) int {
	if r, ok := sourceRank[name]; ok {
		return r
	}
	return len(sourceRank)
}

// Candidate is one context fragment proposed by a source. It exists only
// within a single assembly pass.
type Candidate struct {
	Source    SourceName
	Label     string
	Content   string
	Relevance float64
	TokenCost int
	Pinned    bool
}

// Request carries what the engine needs to assemble context for one turn.
type Request struct {
	AgentID        string
	UserID         string
	ConversationID string
	Query          string
	TokenBudget    int
	MaxMessages    int
	Goal           Goal
	// PinnedSources bypass the greedy cutoff entirely.
	PinnedSources []SourceName
}

// Source proposes candidates for a request. Relevance scoring is
// source-local; the engine normalizes across sources before selecting.
type Source interface {
	Name() SourceName
	Collect(ctx context.Context, req Request) ([]Candidate, error)
}

// StaticEntry is a fixed fragment served by a StaticSource.
type StaticEntry struct {
	Label     string
	Content   string
	Relevance float64
	Pinned    bool
}

// StaticSource serves fixed entries, used for system prompts and curated
// agent knowledge.
type StaticSource struct {
	name    SourceName
	entries []StaticEntry
}

// NewStaticSource creates a source returning the given entries verbatim.
func NewStaticSource(name SourceName, entries ...StaticEntry) *StaticSource {
	return &StaticSource{name: name, entries: entries}
}

func (s *StaticSource) Name() SourceName { return s.name }

func (s *StaticSource) Collect(_ context.Context, _ Request) ([]Candidate, error) {
	out := make([]Candidate, 0, len(s.entries))
	for _, e := range s.entries {
		rel := e.Relevance
		if rel == 0 {
			rel = 1
		}
		out = append(out, Candidate{
			Source:    s.name,
			Label:     e.Label,
			Content:   e.Content,
			Relevance: rel,
			Pinned:    e.Pinned,
		})
	}
	return out, nil
}

// HistoryStore hands the engine recent conversational messages, newest last.
type HistoryStore interface {
	Recent(ctx context.Context, conversationID string, limit int) ([]core.Message, error)
}

// HistorySource scores recent chat history with recency weighting: the
// newest message gets relevance 1.0, older ones decay linearly.
type HistorySource struct {
	store        HistoryStore
	defaultLimit int
}

// NewHistorySource creates a chat-history source over the given store.
func NewHistorySource(store HistoryStore, defaultLimit int) *HistorySource {
	if defaultLimit <= 0 {
		defaultLimit = 20
	}
	return &HistorySource{store: store, defaultLimit: defaultLimit}
}

func (s *HistorySource) Name() SourceName { return SourceChatHistory }

func (s *HistorySource) Collect(ctx context.Context, req Request) ([]Candidate, error) {
	limit := req.MaxMessages
	if limit <= 0 {
		limit = s.defaultLimit
	}
	msgs, err := s.store.Recent(ctx, req.ConversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("fetch chat history: %w", err)
	}
	out := make([]Candidate, 0, len(msgs))
	for i, msg := range msgs {
		text := msg.Text()
		if text == "" {
			continue
		}
		out = append(out, Candidate{
			Source:    SourceChatHistory,
			Label:     fmt.Sprintf("turn %d (%s)", i+1, msg.Role),
			Content:   text,
			Relevance: float64(i+1) / float64(len(msgs)),
		})
	}
	return out, nil
}

// MemorySearcher is the slice of the memory manager the engine needs.
type MemorySearcher interface {
	Search(ctx context.Context, text, agentID string, q memory.Query) ([]memory.SearchResult, error)
}

// MemorySource surfaces long-term memories as vector_search candidates with
// cosine similarity as relevance.
type MemorySource struct {
	searcher   MemorySearcher
	types      []memory.Type
	maxResults int
}

// NewMemorySource creates a vector-search source over the memory manager.
func NewMemorySource(searcher MemorySearcher, types []memory.Type, maxResults int) *MemorySource {
	if maxResults <= 0 {
		maxResults = 5
	}
	return &MemorySource{searcher: searcher, types: types, maxResults: maxResults}
}

func (s *MemorySource) Name() SourceName { return SourceVectorSearch }

func (s *MemorySource) Collect(ctx context.Context, req Request) ([]Candidate, error) {
	results, err := s.searcher.Search(ctx, req.Query, req.AgentID, memory.Query{
		Types:      s.types,
		MaxResults: s.maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("search memories: %w", err)
	}
	out := make([]Candidate, 0, len(results))
	for _, res := range results {
		out = append(out, Candidate{
			Source:    SourceVectorSearch,
			Label:     string(res.Record.Type) + " memory",
			Content:   res.Record.Content,
			Relevance: res.Similarity,
		})
	}
	return out, nil
}

// ToolCatalogSource summarizes the tools available to an agent so the model
// knows its capabilities even before discovery runs.
type ToolCatalogSource struct {
	list func(ctx context.Context, agentID, userID string) ([]core.ToolDefinition, error)
}

// NewToolCatalogSource creates a tool_catalog source backed by the given
// lister, typically the tool registry.
func NewToolCatalogSource(list func(ctx context.Context, agentID, userID string) ([]core.ToolDefinition, error)) *ToolCatalogSource {
	return &ToolCatalogSource{list: list}
}

func (s *ToolCatalogSource) Name() SourceName { return SourceToolCatalog }

func (s *ToolCatalogSource) Collect(ctx context.Context, req Request) ([]Candidate, error) {
	defs, err := s.list(ctx, req.AgentID, req.UserID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	if len(defs) == 0 {
		return nil, nil
	}
	var b strings.Builder
	for _, def := range defs {
		fmt.Fprintf(&b, "- %s: %s\n", def.Name, def.Description)
	}
	return []Candidate{{
		Source:    SourceToolCatalog,
		Label:     "available tools",
		Content:   b.String(),
		Relevance: 0.5,
	}}, nil
}
