// Package memory implements durable, queryable long-term context across
// turns: episodic records scoped to a conversation and semantic records
// holding cross-conversation facts, plus procedural and working kinds.
// Records are stored with embeddings, retrieved by cosine similarity,
// consolidated into merged records when near-duplicates accumulate, and
// decayed over time until eligible for physical expiry.
package memory

import "time"

// Type classifies long-term memories.
type Type string

const (
	// TypeEpisodic is conversation-scoped recollection of specific events.
	TypeEpisodic Type = "episodic"
	// TypeSemantic is cross-conversation factual knowledge.
	TypeSemantic Type = "semantic"
	// TypeProcedural captures how-to knowledge.
	TypeProcedural Type = "procedural"
	// TypeWorking is short-lived task state.
	TypeWorking Type = "working"
)

// defaultDecayRates are per-day exponential decay rates by memory type.
// Working memory fades within hours; procedural knowledge persists longest.
var defaultDecayRates = map[Type]float64{
	TypeEpisodic:   0.05,
	TypeSemantic:   0.01,
	TypeProcedural: 0.005,
	TypeWorking:    0.5,
}

// Record is one stored memory. Related memories are modeled as an explicit
// set of IDs looked up through the store, never as owning pointers, so cycles
// are harmless; traversal depth is bounded by callers.
type Record struct {
	ID              string            `json:"id"`
	AgentID         string            `json:"agent_id"`
	ConversationID  string            `json:"conversation_id,omitempty"`
	Type            Type              `json:"memory_type"`
	Content         string            `json:"content"`
	Embedding       []float32         `json:"embedding,omitempty"`
	Importance      float64           `json:"importance"`
	DecayRate       float64           `json:"decay_rate"`
	AccessCount     int               `json:"access_count"`
	RelatedMemories []string          `json:"related_memories,omitempty"`
	SupersededBy    string            `json:"superseded_by,omitempty"`
	Metadata        map[string]string `json:"metadata,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	LastAccessed    time.Time         `json:"last_accessed"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
}

// Superseded reports whether this record was folded into a consolidated one.
func (r Record) Superseded() bool { return r.SupersededBy != "" }

// SearchResult pairs a record with its similarity to the query.
type SearchResult struct {
	Record     Record  `json:"record"`
	Similarity float64 `json:"similarity"`
}

// Query selects records for retrieval. Embedding may be pre-computed; Search
// computes it from text when absent.
type Query struct {
	AgentID       string
	Embedding     []float32
	Types         []Type
	MaxResults    int
	MinSimilarity float64
}

// ConsolidationCriteria controls a consolidation pass.
type ConsolidationCriteria struct {
	AgentID             string
	Types               []Type
	SimilarityThreshold float64
}

// ConsolidationResult reports what a consolidation pass did.
type ConsolidationResult struct {
	ClustersFound int `json:"clusters_found"`
	RecordsMerged int `json:"records_merged"`
	Superseded    int `json:"superseded"`
}

// DecayResult reports what a decay pass did.
type DecayResult struct {
	Examined         int `json:"examined"`
	Decayed          int `json:"decayed"`
	EligibleToExpire int `json:"eligible_to_expire"`
}
