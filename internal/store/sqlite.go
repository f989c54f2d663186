package store

import (
	"database/sql"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/mnemo-dev/mnemo/internal/embedding"
	"github.com/mnemo-dev/mnemo/internal/vector"
)

// SQLiteStore implements MemoryStore, MessageStore, and SpanStore on a
// single SQLite database. It owns index synchronization: memory
// creation and consolidation update the similarity index.
type SQLiteStore struct {
	db       *sql.DB
	entropy  *rand.Rand
	embedder embedding.Embedder
	index    vector.Index
	timeout  time.Duration
	logger   *slog.Logger
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string, embedder embedding.Embedder, index vector.Index, timeout time.Duration, logger *slog.Logger) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:       db,
		entropy:  rand.New(rand.NewSource(time.Now().UnixNano())),
		embedder: embedder,
		index:    index,
		timeout:  timeout,
		logger:   logger,
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id                TEXT PRIMARY KEY,
		owner             TEXT NOT NULL,
		name              TEXT NOT NULL,
		text              TEXT NOT NULL,
		embedding         BLOB NOT NULL,
		source            TEXT NOT NULL DEFAULT 'manual',
		state             TEXT NOT NULL DEFAULT 'active',
		consolidated_into TEXT,
		created_at        TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_owner_state ON memories(owner, state);
	CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at DESC);

	CREATE TABLE IF NOT EXISTS messages (
		id              TEXT PRIMARY KEY,
		conversation_id TEXT NOT NULL,
		owner           TEXT NOT NULL,
		ordinal         INTEGER NOT NULL,
		role            TEXT NOT NULL,
		content         TEXT NOT NULL,
		tokens          INTEGER NOT NULL,
		in_context      INTEGER NOT NULL DEFAULT 1,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_messages_convo ON messages(conversation_id, ordinal);
	CREATE INDEX IF NOT EXISTS idx_messages_context ON messages(conversation_id, in_context);

	CREATE TABLE IF NOT EXISTS evicted_spans (
		id              TEXT PRIMARY KEY,
		owner           TEXT NOT NULL,
		conversation_id TEXT NOT NULL,
		content         TEXT NOT NULL,
		synthesized     INTEGER NOT NULL DEFAULT 0,
		created_at      TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_spans_owner_pending ON evicted_spans(owner, synthesized);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Close closes the store.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// encodeVector serializes a float32 vector as little-endian bytes.
func encodeVector(v []float32) []byte {
	b := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(b[i*4:], math.Float32bits(x))
	}
	return b
}

func decodeVector(b []byte) []float32 {
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
