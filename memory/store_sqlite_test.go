package memory

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "memories.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleRecord(id string) Record {
	now := time.Now().Truncate(time.Millisecond)
	return Record{
		ID:              id,
		AgentID:         "agent",
		ConversationID:  "conv-1",
		Type:            TypeSemantic,
		Content:         "user prefers the premium plan",
		Embedding:       []float32{0.1, 0.2, 0.3},
		Importance:      0.7,
		DecayRate:       0.01,
		RelatedMemories: []string{"other-1"},
		Metadata:        map[string]string{"source": "conversation"},
		CreatedAt:       now,
		LastAccessed:    now,
	}
}

func TestSQLiteInsertGetRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("m-1")
	require.NoError(t, store.Insert(ctx, rec))

	got, ok, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.Content, got.Content)
	assert.Equal(t, rec.Type, got.Type)
	assert.Equal(t, rec.Embedding, got.Embedding)
	assert.Equal(t, rec.RelatedMemories, got.RelatedMemories)
	assert.Equal(t, rec.Metadata, got.Metadata)
	assert.Equal(t, rec.CreatedAt.UnixMilli(), got.CreatedAt.UnixMilli())
	assert.Nil(t, got.ExpiresAt)

	_, ok, err = store.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLiteUpdate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := sampleRecord("m-1")
	require.NoError(t, store.Insert(ctx, rec))

	rec.Content = "user downgraded to the basic plan"
	rec.Importance = 0.4
	rec.SupersededBy = "m-2"
	require.NoError(t, store.Update(ctx, rec))

	got, ok, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "user downgraded to the basic plan", got.Content)
	assert.InDelta(t, 0.4, got.Importance, 1e-9)
	assert.Equal(t, "m-2", got.SupersededBy)

	missing := sampleRecord("ghost")
	err = store.Update(ctx, missing)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestSQLiteListFiltersSupersededAndTypes(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	semantic := sampleRecord("m-1")
	episodic := sampleRecord("m-2")
	episodic.Type = TypeEpisodic
	superseded := sampleRecord("m-3")
	superseded.SupersededBy = "m-1"
	foreign := sampleRecord("m-4")
	foreign.AgentID = "someone-else"

	for _, rec := range []Record{semantic, episodic, superseded, foreign} {
		require.NoError(t, store.Insert(ctx, rec))
	}

	all, err := store.List(ctx, "agent", nil)
	require.NoError(t, err)
	require.Len(t, all, 2)

	episodicOnly, err := store.List(ctx, "agent", []Type{TypeEpisodic})
	require.NoError(t, err)
	require.Len(t, episodicOnly, 1)
	assert.Equal(t, "m-2", episodicOnly[0].ID)
}

func TestSQLiteMarkAccessed(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Insert(ctx, sampleRecord("m-1")))
	require.NoError(t, store.Insert(ctx, sampleRecord("m-2")))

	at := time.Now().Add(time.Hour).Truncate(time.Millisecond)
	require.NoError(t, store.MarkAccessed(ctx, []string{"m-1"}, at))

	touched, _, err := store.Get(ctx, "m-1")
	require.NoError(t, err)
	assert.Equal(t, 1, touched.AccessCount)
	assert.Equal(t, at.UnixMilli(), touched.LastAccessed.UnixMilli())

	untouched, _, err := store.Get(ctx, "m-2")
	require.NoError(t, err)
	assert.Equal(t, 0, untouched.AccessCount)

	assert.NoError(t, store.MarkAccessed(ctx, nil, at))
}

func TestSQLiteDeleteExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now()

	expired := sampleRecord("dead")
	expired.Importance = 0.01
	past := now.Add(-time.Hour)
	expired.ExpiresAt = &past

	stillImportant := sampleRecord("important")
	stillImportant.Importance = 0.9
	stillImportant.ExpiresAt = &past

	notYetDue := sampleRecord("pending")
	notYetDue.Importance = 0.01
	future := now.Add(time.Hour)
	notYetDue.ExpiresAt = &future

	noDeadline := sampleRecord("keeper")
	noDeadline.Importance = 0.01

	for _, rec := range []Record{expired, stillImportant, notYetDue, noDeadline} {
		require.NoError(t, store.Insert(ctx, rec))
	}

	n, err := store.DeleteExpired(ctx, "agent", now, 0.05)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, ok, err := store.Get(ctx, "dead")
	require.NoError(t, err)
	assert.False(t, ok)
	for _, id := range []string{"important", "pending", "keeper"} {
		_, ok, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.True(t, ok, id)
	}
}
