package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/turnpike-ai/turnpike/core"
	"github.com/turnpike-ai/turnpike/logging"
)

// Embedder computes embeddings for an agent's configured embedding model.
// The LLM router satisfies this interface.
type Embedder interface {
	Embed(ctx context.Context, agentID string, inputs []string, modelHint string) ([][]float32, error)
}

// Options configure a Manager.
type Options struct {
	// DefaultImportance is assigned to records stored without one.
	DefaultImportance float64
	// ImportanceFloor below which decayed records become expiry-eligible.
	ImportanceFloor float64
	// ConsolidationThreshold is the default near-duplicate similarity bound.
	ConsolidationThreshold float64
	// Logger defaults to NoOp.
	Logger logging.Logger
}

// Manager stores, retrieves, consolidates and decays memory records.
type Manager struct {
	store    Store
	embedder Embedder
	opts     Options
	logger   logging.Logger
}

// NewManager creates a Manager over the given store and embedder.
func NewManager(store Store, embedder Embedder, optFns ...func(o *Options)) *Manager {
	opts := Options{
		DefaultImportance:      0.5,
		ImportanceFloor:        0.05,
		ConsolidationThreshold: 0.92,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:    store,
		embedder: embedder,
		opts:     opts,
		logger:   logging.OrNoOp(opts.Logger),
	}
}

// Store persists a partial record, assigning defaults: id, timestamps,
// importance and a per-type decay rate. The embedding is computed via the
// embedder when absent. Returns the assigned id.
func (m *Manager) Store(ctx context.Context, rec Record) (string, error) {
	if strings.TrimSpace(rec.Content) == "" {
		return "", fmt.Errorf("memory content must not be empty")
	}
	if rec.AgentID == "" {
		return "", fmt.Errorf("memory agent_id must not be empty")
	}
	if rec.ID == "" {
		rec.ID = core.NewID()
	}
	if rec.Type == "" {
		rec.Type = TypeSemantic
	}
	if rec.Importance == 0 {
		rec.Importance = m.opts.DefaultImportance
	}
	if rec.DecayRate == 0 {
		rec.DecayRate = defaultDecayRates[rec.Type]
	}
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	// last_accessed is seeded at creation but only bumped on retrieval hits.
	if rec.LastAccessed.IsZero() {
		rec.LastAccessed = rec.CreatedAt
	}
	if len(rec.Embedding) == 0 {
		vectors, err := m.embedder.Embed(ctx, rec.AgentID, []string{rec.Content}, "")
		if err != nil {
			return "", fmt.Errorf("embed memory content: %w", err)
		}
		rec.Embedding = vectors[0]
	}
	if err := m.store.Insert(ctx, rec); err != nil {
		return "", err
	}
	m.logger.Debug("memory.stored", "memory_id", rec.ID, "agent_id", rec.AgentID, "type", rec.Type)
	return rec.ID, nil
}

// Retrieve returns the best-matching records for a pre-embedded query,
// ordered by descending similarity and bounded by MaxResults. Hits have their
// access bookkeeping updated; an empty result is valid, not an error.
func (m *Manager) Retrieve(ctx context.Context, q Query) ([]SearchResult, error) {
	if len(q.Embedding) == 0 {
		return nil, fmt.Errorf("query embedding must not be empty")
	}
	maxResults := q.MaxResults
	if maxResults <= 0 {
		maxResults = 10
	}

	candidates, err := m.store.List(ctx, q.AgentID, q.Types)
	if err != nil {
		return nil, fmt.Errorf("list memory candidates: %w", err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, rec := range candidates {
		sim := CosineSimilarity(q.Embedding, rec.Embedding)
		if sim < q.MinSimilarity {
			continue
		}
		results = append(results, SearchResult{Record: rec, Similarity: sim})
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	if len(results) > 0 {
		ids := make([]string, len(results))
		for i, r := range results {
			ids[i] = r.Record.ID
		}
		if err := m.store.MarkAccessed(ctx, ids, time.Now()); err != nil {
			m.logger.Warn("memory.mark_accessed.failed", "error", err.Error())
		}
	}
	return results, nil
}

// Search embeds text then retrieves. Convenience wrapper over Retrieve.
func (m *Manager) Search(ctx context.Context, text, agentID string, q Query) ([]SearchResult, error) {
	vectors, err := m.embedder.Embed(ctx, agentID, []string{text}, "")
	if err != nil {
		return nil, fmt.Errorf("embed search query: %w", err)
	}
	q.AgentID = agentID
	q.Embedding = vectors[0]
	return m.Retrieve(ctx, q)
}

// Consolidate finds clusters of near-duplicate memories and merges each into
// one record with the cluster's maximum importance and summed access count.
// Originals are superseded, not destroyed, preserving the audit trail; the
// merged record links back to them via related_memories.
func (m *Manager) Consolidate(ctx context.Context, criteria ConsolidationCriteria) (ConsolidationResult, error) {
	threshold := criteria.SimilarityThreshold
	if threshold <= 0 {
		threshold = m.opts.ConsolidationThreshold
	}

	candidates, err := m.store.List(ctx, criteria.AgentID, criteria.Types)
	if err != nil {
		return ConsolidationResult{}, fmt.Errorf("list consolidation candidates: %w", err)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].CreatedAt.Before(candidates[j].CreatedAt)
	})

	var result ConsolidationResult
	used := make(map[string]bool, len(candidates))

	for i, seed := range candidates {
		if used[seed.ID] {
			continue
		}
		cluster := []Record{seed}
		for _, other := range candidates[i+1:] {
			if used[other.ID] || other.Type != seed.Type {
				continue
			}
			if CosineSimilarity(seed.Embedding, other.Embedding) >= threshold {
				cluster = append(cluster, other)
			}
		}
		if len(cluster) < 2 {
			continue
		}
		for _, rec := range cluster {
			used[rec.ID] = true
		}
		result.ClustersFound++

		merged, err := m.mergeCluster(ctx, cluster)
		if err != nil {
			return result, err
		}
		result.RecordsMerged++
		result.Superseded += len(cluster)
		m.logger.Info("memory.consolidated",
			"agent_id", criteria.AgentID,
			"merged_id", merged.ID,
			"cluster_size", len(cluster),
		)
	}
	return result, nil
}

func (m *Manager) mergeCluster(ctx context.Context, cluster []Record) (Record, error) {
	// The richest content wins; importance is the cluster max, access counts
	// are summed so the merged record inherits the cluster's usage history.
	merged := Record{
		ID:             core.NewID(),
		AgentID:        cluster[0].AgentID,
		ConversationID: cluster[0].ConversationID,
		Type:           cluster[0].Type,
		Embedding:      cluster[0].Embedding,
		DecayRate:      cluster[0].DecayRate,
		CreatedAt:      time.Now(),
		LastAccessed:   time.Now(),
	}
	related := make(map[string]bool)
	for _, rec := range cluster {
		if len(rec.Content) > len(merged.Content) {
			merged.Content = rec.Content
			merged.Embedding = rec.Embedding
		}
		if rec.Importance > merged.Importance {
			merged.Importance = rec.Importance
		}
		merged.AccessCount += rec.AccessCount
		related[rec.ID] = true
		for _, id := range rec.RelatedMemories {
			related[id] = true
		}
	}
	for id := range related {
		merged.RelatedMemories = append(merged.RelatedMemories, id)
	}
	sort.Strings(merged.RelatedMemories)

	if err := m.store.Insert(ctx, merged); err != nil {
		return Record{}, fmt.Errorf("insert merged memory: %w", err)
	}
	for _, rec := range cluster {
		rec.SupersededBy = merged.ID
		if err := m.store.Update(ctx, rec); err != nil {
			return Record{}, fmt.Errorf("supersede memory %s: %w", rec.ID, err)
		}
	}
	return merged, nil
}

// ApplyDecay reduces importance exponentially by decay_rate over the elapsed
// duration (rates are per day). Records falling below the floor with a passed
// expires_at become eligible for physical deletion by Sweep.
func (m *Manager) ApplyDecay(ctx context.Context, agentID string, elapsed time.Duration) (DecayResult, error) {
	records, err := m.store.List(ctx, agentID, nil)
	if err != nil {
		return DecayResult{}, fmt.Errorf("list records for decay: %w", err)
	}

	days := elapsed.Hours() / 24
	now := time.Now()
	var result DecayResult
	for _, rec := range records {
		result.Examined++
		if rec.DecayRate <= 0 || days <= 0 {
			continue
		}
		decayed := rec.Importance * math.Exp(-rec.DecayRate*days)
		if decayed == rec.Importance {
			continue
		}
		rec.Importance = decayed
		if err := m.store.Update(ctx, rec); err != nil {
			return result, fmt.Errorf("persist decayed memory %s: %w", rec.ID, err)
		}
		result.Decayed++
		if rec.Importance < m.opts.ImportanceFloor && rec.ExpiresAt != nil && rec.ExpiresAt.Before(now) {
			result.EligibleToExpire++
		}
	}
	return result, nil
}

// Sweep physically removes expiry-eligible records. Separated from ApplyDecay
// so deletion cadence can differ from decay cadence.
func (m *Manager) Sweep(ctx context.Context, agentID string) (int, error) {
	return m.store.DeleteExpired(ctx, agentID, time.Now(), m.opts.ImportanceFloor)
}

// Neighborhood traverses related_memories breadth-first up to depth hops.
// Related ids may form cycles; visited tracking makes traversal finite and
// depth is explicitly bounded by the caller.
func (m *Manager) Neighborhood(ctx context.Context, id string, depth int) ([]Record, error) {
	if depth < 0 {
		return nil, fmt.Errorf("depth must be non-negative")
	}
	visited := map[string]bool{id: true}
	frontier := []string{id}
	var out []Record

	for hop := 0; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, cur := range frontier {
			rec, ok, err := m.store.Get(ctx, cur)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			out = append(out, rec)
			for _, rel := range rec.RelatedMemories {
				if !visited[rel] {
					visited[rel] = true
					next = append(next, rel)
				}
			}
		}
		frontier = next
	}
	return out, nil
}
