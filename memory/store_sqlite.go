package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore is the durable Store implementation. Embeddings, related ids
// and metadata are JSON-encoded columns; similarity scoring happens in the
// manager, so the schema needs no vector extension.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates/opens the memory database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create memory db dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// Single shared connection avoids writer lock contention with SQLite
	// under concurrent goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	store := &SQLiteStore{db: db}
	if err := store.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *SQLiteStore) init() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS memories (
	id TEXT PRIMARY KEY,
	agent_id TEXT NOT NULL,
	conversation_id TEXT NOT NULL DEFAULT '',
	memory_type TEXT NOT NULL,
	content TEXT NOT NULL,
	embedding TEXT NOT NULL DEFAULT '[]',
	importance REAL NOT NULL DEFAULT 0.5,
	decay_rate REAL NOT NULL DEFAULT 0.05,
	access_count INTEGER NOT NULL DEFAULT 0,
	related TEXT NOT NULL DEFAULT '[]',
	superseded_by TEXT NOT NULL DEFAULT '',
	metadata TEXT NOT NULL DEFAULT '{}',
	created_at_ms INTEGER NOT NULL,
	last_accessed_ms INTEGER NOT NULL,
	expires_at_ms INTEGER
);
CREATE INDEX IF NOT EXISTS idx_memories_agent ON memories(agent_id, memory_type);
CREATE INDEX IF NOT EXISTS idx_memories_superseded ON memories(superseded_by);
`)
	if err != nil {
		return fmt.Errorf("init memories schema: %w", err)
	}
	return nil
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, rec Record) error {
	embedding, related, metadata, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}
	var expires *int64
	if rec.ExpiresAt != nil {
		ms := rec.ExpiresAt.UnixMilli()
		expires = &ms
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO memories (id, agent_id, conversation_id, memory_type, content, embedding,
	importance, decay_rate, access_count, related, superseded_by, metadata,
	created_at_ms, last_accessed_ms, expires_at_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.AgentID, rec.ConversationID, string(rec.Type), rec.Content, embedding,
		rec.Importance, rec.DecayRate, rec.AccessCount, related, rec.SupersededBy, metadata,
		rec.CreatedAt.UnixMilli(), rec.LastAccessed.UnixMilli(), expires,
	)
	if err != nil {
		return fmt.Errorf("insert memory %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, bool, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("get memory %s: %w", id, err)
	}
	return rec, true, nil
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, rec Record) error {
	embedding, related, metadata, err := encodeJSONColumns(rec)
	if err != nil {
		return err
	}
	var expires *int64
	if rec.ExpiresAt != nil {
		ms := rec.ExpiresAt.UnixMilli()
		expires = &ms
	}
	result, err := s.db.ExecContext(ctx, `
UPDATE memories SET content = ?, embedding = ?, importance = ?, decay_rate = ?,
	access_count = ?, related = ?, superseded_by = ?, metadata = ?,
	last_accessed_ms = ?, expires_at_ms = ?
WHERE id = ?`,
		rec.Content, embedding, rec.Importance, rec.DecayRate,
		rec.AccessCount, related, rec.SupersededBy, metadata,
		rec.LastAccessed.UnixMilli(), expires, rec.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory %s: %w", rec.ID, err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		return fmt.Errorf("memory %s not found", rec.ID)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context, agentID string, types []Type) ([]Record, error) {
	query := selectColumns + ` FROM memories WHERE agent_id = ? AND superseded_by = ''`
	args := []any{agentID}
	if len(types) > 0 {
		placeholders := make([]string, len(types))
		for i, t := range types {
			placeholders[i] = "?"
			args = append(args, string(t))
		}
		query += ` AND memory_type IN (` + strings.Join(placeholders, ",") + `)`
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list memories for %s: %w", agentID, err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan memory row: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// MarkAccessed implements Store.
func (s *SQLiteStore) MarkAccessed(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, len(ids))
	args := []any{at.UnixMilli()}
	for i, id := range ids {
		placeholders[i] = "?"
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx,
		`UPDATE memories SET access_count = access_count + 1, last_accessed_ms = ? WHERE id IN (`+strings.Join(placeholders, ",")+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("mark accessed: %w", err)
	}
	return nil
}

// DeleteExpired implements Store.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, agentID string, now time.Time, floor float64) (int, error) {
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM memories WHERE agent_id = ? AND importance < ? AND expires_at_ms IS NOT NULL AND expires_at_ms < ?`,
		agentID, floor, now.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("delete expired memories: %w", err)
	}
	n, _ := result.RowsAffected()
	return int(n), nil
}

const selectColumns = `SELECT id, agent_id, conversation_id, memory_type, content, embedding,
	importance, decay_rate, access_count, related, superseded_by, metadata,
	created_at_ms, last_accessed_ms, expires_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (Record, error) {
	var rec Record
	var memType, embedding, related, metadata string
	var createdMS, accessedMS int64
	var expiresMS *int64

	err := row.Scan(&rec.ID, &rec.AgentID, &rec.ConversationID, &memType, &rec.Content, &embedding,
		&rec.Importance, &rec.DecayRate, &rec.AccessCount, &related, &rec.SupersededBy, &metadata,
		&createdMS, &accessedMS, &expiresMS,
	)
	if err != nil {
		return Record{}, err
	}
	rec.Type = Type(memType)
	if err := json.Unmarshal([]byte(embedding), &rec.Embedding); err != nil {
		return Record{}, fmt.Errorf("decode embedding: %w", err)
	}
	if err := json.Unmarshal([]byte(related), &rec.RelatedMemories); err != nil {
		return Record{}, fmt.Errorf("decode related: %w", err)
	}
	if err := json.Unmarshal([]byte(metadata), &rec.Metadata); err != nil {
		return Record{}, fmt.Errorf("decode metadata: %w", err)
	}
	rec.CreatedAt = time.UnixMilli(createdMS)
	rec.LastAccessed = time.UnixMilli(accessedMS)
	if expiresMS != nil {
		t := time.UnixMilli(*expiresMS)
		rec.ExpiresAt = &t
	}
	return rec, nil
}

func encodeJSONColumns(rec Record) (embedding, related, metadata string, err error) {
	emb, err := json.Marshal(rec.Embedding)
	if err != nil {
		return "", "", "", fmt.Errorf("encode embedding: %w", err)
	}
	if rec.Embedding == nil {
		emb = []byte("[]")
	}
	rel, err := json.Marshal(rec.RelatedMemories)
	if err != nil {
		return "", "", "", fmt.Errorf("encode related: %w", err)
	}
	if rec.RelatedMemories == nil {
		rel = []byte("[]")
	}
	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return "", "", "", fmt.Errorf("encode metadata: %w", err)
	}
	if rec.Metadata == nil {
		meta = []byte("{}")
	}
	return string(emb), string(rel), string(meta), nil
}
