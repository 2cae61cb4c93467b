package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"docrag/internal/models"

	_ "modernc.org/sqlite" // SQLite driver
)

// IndexFileName is the database file kept inside the persist directory.
const IndexFileName = "index.db"

const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS chunks (
		id          TEXT NOT NULL,
		collection  TEXT NOT NULL,
		topic       TEXT NOT NULL,
		source_file TEXT NOT NULL,
		page        INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content     TEXT NOT NULL,
		embedding   BLOB NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS chunks_topic_idx ON chunks (collection, topic);
`

// SQLiteStore keeps the index in a single SQLite file and ranks candidates
// by brute-force cosine similarity.
type SQLiteStore struct {
	dir        string
	collection string

	mu sync.Mutex
	db *sql.DB
}

// NewSQLiteStore returns a store rooted at dir. Nothing is opened until Load or Create.
func NewSQLiteStore(dir, collection string) *SQLiteStore {
	return &SQLiteStore{dir: dir, collection: collection}
}

// Path returns the database file path.
func (s *SQLiteStore) Path() string {
	return filepath.Join(s.dir, IndexFileName)
}

func openSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return db, nil
}

// indexFileSuffixes are the files SQLite keeps next to the database.
var indexFileSuffixes = []string{"", "-wal", "-shm", "-journal"}

// Destroy closes the database and removes the index file with its journal
// files. The persist directory itself is removed only when nothing else is
// left in it.
func (s *SQLiteStore) Destroy(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dir == "" {
		return errors.New("refusing to destroy an empty persist directory")
	}
	if s.db != nil {
		_ = s.db.Close()
		s.db = nil
	}
	for _, suffix := range indexFileSuffixes {
		path := s.Path() + suffix
		if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("removing %s: %w", path, err)
		}
	}
	// Fails on a non-empty or missing directory; both are fine.
	_ = os.Remove(s.dir)
	return nil
}

// Create writes chunks into a fresh collection in one transaction.
func (s *SQLiteStore) Create(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating persist directory: %w", err)
	}
	if s.db == nil {
		db, err := openSQLite(s.Path())
		if err != nil {
			return err
		}
		s.db = db
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chunks WHERE collection = ?`, s.collection); err != nil {
		return fmt.Errorf("clearing collection: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks (id, collection, topic, source_file, page, chunk_index, content, embedding)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if _, err := stmt.ExecContext(ctx, c.ID, s.collection, c.Topic, c.SourceFile,
			c.Page, c.Index, c.Text, encodeEmbedding(c.Embedding)); err != nil {
			return fmt.Errorf("storing chunk %s: %w", c.ID, err)
		}
	}

	return tx.Commit()
}

// Load opens an existing index file.
func (s *SQLiteStore) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked(ctx)
}

func (s *SQLiteStore) loadLocked(ctx context.Context) error {
	if s.db != nil {
		return nil
	}
	if _, err := os.Stat(s.Path()); err != nil {
		return fmt.Errorf("%w: no index at %s", models.ErrIndexUnavailable, s.Path())
	}
	db, err := openSQLite(s.Path())
	if err != nil {
		return err
	}

	var n int
	err = db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'chunks'`).Scan(&n)
	if err != nil || n == 0 {
		_ = db.Close()
		return fmt.Errorf("%w: %s has no chunk table", models.ErrIndexUnavailable, s.Path())
	}

	s.db = db
	return nil
}

// Search scans the collection, restricted to req.Topic when set, and
// returns the req.Limit most similar chunks.
func (s *SQLiteStore) Search(ctx context.Context, req SearchRequest) ([]models.ScoredChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadLocked(ctx); err != nil {
		return nil, err
	}

	query := `SELECT id, topic, source_file, page, chunk_index, content, embedding
		FROM chunks WHERE collection = ?`
	args := []any{s.collection}
	if req.Topic != "" {
		query += ` AND topic = ?`
		args = append(args, req.Topic)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying chunks: %w", err)
	}
	defer rows.Close()

	var results []models.ScoredChunk
	for rows.Next() {
		var (
			sc   models.ScoredChunk
			blob []byte
		)
		if err := rows.Scan(&sc.ID, &sc.Topic, &sc.SourceFile, &sc.Page, &sc.Index, &sc.Text, &blob); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		sc.Embedding = decodeEmbedding(blob)
		sc.Score = CosineSimilarity(req.Vector, sc.Embedding)
		results = append(results, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if req.Limit > 0 && len(results) > req.Limit {
		results = results[:req.Limit]
	}
	return results, nil
}

// Stats counts chunks per topic.
func (s *SQLiteStore) Stats(ctx context.Context) (models.IndexStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := models.IndexStats{Collection: s.collection, ByTopic: map[string]int{}}
	if err := s.loadLocked(ctx); err != nil {
		return stats, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT topic, COUNT(*) FROM chunks WHERE collection = ? GROUP BY topic`, s.collection)
	if err != nil {
		return stats, fmt.Errorf("counting chunks: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			topic string
			n     int
		)
		if err := rows.Scan(&topic, &n); err != nil {
			return stats, fmt.Errorf("failed to scan row: %w", err)
		}
		stats.ByTopic[topic] = n
		stats.Chunks += n
	}
	return stats, rows.Err()
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
