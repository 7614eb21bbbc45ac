package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubEmbedder returns fixed vectors per input text so similarity in tests is
// fully controlled.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (s *stubEmbedder) Embed(_ context.Context, _ string, inputs []string, _ string) ([][]float32, error) {
	s.calls++
	out := make([][]float32, len(inputs))
	for i, text := range inputs {
		if v, ok := s.vectors[text]; ok {
			out[i] = v
			continue
		}
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}

func newTestManager(t *testing.T, vectors map[string][]float32) (*Manager, *InMemoryStore, *stubEmbedder) {
	t.Helper()
	store := NewInMemoryStore()
	embedder := &stubEmbedder{vectors: vectors}
	return NewManager(store, embedder), store, embedder
}

func TestStoreAssignsDefaults(t *testing.T) {
	mgr, store, embedder := newTestManager(t, nil)

	id, err := mgr.Store(context.Background(), Record{
		AgentID: "agent-1",
		Type:    TypeEpisodic,
		Content: "user prefers dark mode",
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	rec, ok, err := store.Get(context.Background(), id)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0.5, rec.Importance)
	assert.Equal(t, 0.05, rec.DecayRate)
	assert.Equal(t, 0, rec.AccessCount)
	assert.NotEmpty(t, rec.Embedding)
	assert.False(t, rec.CreatedAt.IsZero())
	assert.Equal(t, 1, embedder.calls)
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)

	_, err := mgr.Store(context.Background(), Record{AgentID: "agent-1", Content: "   "})
	assert.Error(t, err)
}

func TestStoreKeepsProvidedEmbedding(t *testing.T) {
	mgr, _, embedder := newTestManager(t, nil)

	_, err := mgr.Store(context.Background(), Record{
		AgentID:   "agent-1",
		Content:   "pre-embedded",
		Embedding: []float32{0, 1, 0},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, embedder.calls)
}

func TestSearchRoundTrip(t *testing.T) {
	vectors := map[string][]float32{
		"the capital of France is Paris": {1, 0, 0},
		"shipping config lives in s3":    {0, 1, 0},
		"capital of France?":             {0.99, 0.1, 0},
	}
	mgr, store, _ := newTestManager(t, vectors)
	ctx := context.Background()

	parisID, err := mgr.Store(ctx, Record{AgentID: "a", Content: "the capital of France is Paris"})
	require.NoError(t, err)
	_, err = mgr.Store(ctx, Record{AgentID: "a", Content: "shipping config lives in s3"})
	require.NoError(t, err)

	results, err := mgr.Search(ctx, "capital of France?", "a", Query{MaxResults: 1, MinSimilarity: 0.5})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, parisID, results[0].Record.ID)
	assert.Greater(t, results[0].Similarity, 0.9)

	// The hit, and only the hit, gets its access bookkeeping bumped.
	hit, _, err := store.Get(ctx, parisID)
	require.NoError(t, err)
	assert.Equal(t, 1, hit.AccessCount)
}

func TestRetrieveEmptyResultIsNotAnError(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)

	results, err := mgr.Retrieve(context.Background(), Query{
		AgentID:       "nobody",
		Embedding:     []float32{1, 0, 0},
		MinSimilarity: 0.5,
	})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestRetrieveIsolatesAgents(t *testing.T) {
	mgr, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.Store(ctx, Record{AgentID: "a", Content: "fact for a"})
	require.NoError(t, err)
	_, err = mgr.Store(ctx, Record{AgentID: "b", Content: "fact for b"})
	require.NoError(t, err)

	results, err := mgr.Retrieve(ctx, Query{AgentID: "a", Embedding: []float32{1, 0, 0}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "a", results[0].Record.AgentID)
}

func TestConsolidateSupersedesWithoutDeleting(t *testing.T) {
	vectors := map[string][]float32{
		"likes coffee":            {1, 0, 0},
		"really likes coffee a lot": {0.999, 0.01, 0},
		"owns a bike":             {0, 0, 1},
	}
	mgr, store, _ := newTestManager(t, vectors)
	ctx := context.Background()

	id1, err := mgr.Store(ctx, Record{AgentID: "a", Content: "likes coffee", Importance: 0.4})
	require.NoError(t, err)
	id2, err := mgr.Store(ctx, Record{AgentID: "a", Content: "really likes coffee a lot", Importance: 0.8})
	require.NoError(t, err)
	id3, err := mgr.Store(ctx, Record{AgentID: "a", Content: "owns a bike"})
	require.NoError(t, err)

	require.NoError(t, store.MarkAccessed(ctx, []string{id1, id2}, time.Now()))

	result, err := mgr.Consolidate(ctx, ConsolidationCriteria{AgentID: "a"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.ClustersFound)
	assert.Equal(t, 1, result.RecordsMerged)
	assert.Equal(t, 2, result.Superseded)

	// Originals survive with a superseded_by pointer.
	orig, _, err := store.Get(ctx, id1)
	require.NoError(t, err)
	require.True(t, orig.Superseded())

	merged, ok, err := store.Get(ctx, orig.SupersededBy)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "really likes coffee a lot", merged.Content)
	assert.Equal(t, 0.8, merged.Importance)
	assert.Equal(t, 2, merged.AccessCount)
	assert.ElementsMatch(t, []string{id1, id2}, merged.RelatedMemories)

	// The unrelated record is untouched and retrieval no longer surfaces the
	// superseded originals.
	bike, _, err := store.Get(ctx, id3)
	require.NoError(t, err)
	assert.False(t, bike.Superseded())

	active, err := store.List(ctx, "a", nil)
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestConsolidateLeavesDistinctMemoriesAlone(t *testing.T) {
	vectors := map[string][]float32{
		"alpha": {1, 0, 0},
		"beta":  {0, 1, 0},
	}
	mgr, _, _ := newTestManager(t, vectors)
	ctx := context.Background()

	_, err := mgr.Store(ctx, Record{AgentID: "a", Content: "alpha"})
	require.NoError(t, err)
	_, err = mgr.Store(ctx, Record{AgentID: "a", Content: "beta"})
	require.NoError(t, err)

	result, err := mgr.Consolidate(ctx, ConsolidationCriteria{AgentID: "a"})
	require.NoError(t, err)
	assert.Zero(t, result.ClustersFound)
	assert.Zero(t, result.Superseded)
}

func TestApplyDecayReducesImportance(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	id, err := mgr.Store(ctx, Record{AgentID: "a", Content: "fading", Type: TypeWorking, Importance: 1.0})
	require.NoError(t, err)

	result, err := mgr.ApplyDecay(ctx, "a", 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, result.Examined)
	assert.Equal(t, 1, result.Decayed)

	rec, _, err := store.Get(ctx, id)
	require.NoError(t, err)
	// Working memory decays at 0.5/day: e^-0.5 ≈ 0.6065.
	assert.InDelta(t, 0.6065, rec.Importance, 0.001)
}

func TestSweepRemovesOnlyExpiredLowImportance(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	past := time.Now().Add(-time.Hour)
	expiredID, err := mgr.Store(ctx, Record{
		AgentID: "a", Content: "stale", Importance: 0.01, ExpiresAt: &past,
	})
	require.NoError(t, err)
	keptID, err := mgr.Store(ctx, Record{
		AgentID: "a", Content: "important", Importance: 0.9, ExpiresAt: &past,
	})
	require.NoError(t, err)

	removed, err := mgr.Sweep(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, ok, err := store.Get(ctx, expiredID)
	require.NoError(t, err)
	assert.False(t, ok)
	_, ok, err = store.Get(ctx, keptID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestNeighborhoodBoundedTraversal(t *testing.T) {
	mgr, store, _ := newTestManager(t, nil)
	ctx := context.Background()

	// a <-> b form a cycle; c hangs off b.
	for _, rec := range []Record{
		{ID: "a", AgentID: "x", Content: "a", Embedding: []float32{1}, RelatedMemories: []string{"b"}},
		{ID: "b", AgentID: "x", Content: "b", Embedding: []float32{1}, RelatedMemories: []string{"a", "c"}},
		{ID: "c", AgentID: "x", Content: "c", Embedding: []float32{1}},
	} {
		require.NoError(t, store.Insert(ctx, rec))
	}

	zero, err := mgr.Neighborhood(ctx, "a", 0)
	require.NoError(t, err)
	assert.Len(t, zero, 1)

	one, err := mgr.Neighborhood(ctx, "a", 1)
	require.NoError(t, err)
	assert.Len(t, one, 2)

	two, err := mgr.Neighborhood(ctx, "a", 2)
	require.NoError(t, err)
	assert.Len(t, two, 3)
}
