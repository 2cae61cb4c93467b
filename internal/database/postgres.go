package database

import (
	"context"
	"errors"
	"fmt"

	"docrag/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DB is the subset of pgxpool.Pool the store needs.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

const undefinedTable = "42P01"

const postgresSchema = `
	CREATE EXTENSION IF NOT EXISTS vector;
	CREATE TABLE IF NOT EXISTS text_chunks (
		id          TEXT NOT NULL,
		collection  TEXT NOT NULL,
		topic       TEXT NOT NULL,
		source_file TEXT NOT NULL,
		page_number INTEGER NOT NULL,
		chunk_index INTEGER NOT NULL,
		content     TEXT NOT NULL,
		embedding   vector NOT NULL,
		PRIMARY KEY (collection, id)
	);
	CREATE INDEX IF NOT EXISTS text_chunks_topic_idx ON text_chunks (collection, topic);
`

// NewPool creates a new database connection pool and pings it.
func NewPool(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return pool, nil
}

// PostgresStore keeps collections in a pgvector table and lets the
// database rank candidates by cosine distance.
type PostgresStore struct {
	db         DB
	collection string
}

// NewPostgresStore wraps db. The schema is created on first Create.
func NewPostgresStore(db DB, collection string) *PostgresStore {
	return &PostgresStore{db: db, collection: collection}
}

// Initialize sets up the pgvector extension, the chunk table and its indices
func (s *PostgresStore) Initialize(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create text_chunks table: %w", err)
	}
	return nil
}

// Destroy deletes every row of the collection.
func (s *PostgresStore) Destroy(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `DELETE FROM text_chunks WHERE collection = $1`, s.collection)
	if err != nil && !isUndefinedTable(err) {
		return fmt.Errorf("failed to delete collection %s: %w", s.collection, err)
	}
	return nil
}

// Create replaces the collection with chunks in a single transaction.
func (s *PostgresStore) Create(ctx context.Context, chunks []models.Chunk) error {
	if err := s.Initialize(ctx); err != nil {
		return err
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM text_chunks WHERE collection = $1`, s.collection); err != nil {
		return fmt.Errorf("failed to clear collection %s: %w", s.collection, err)
	}

	for _, c := range chunks {
		_, err := tx.Exec(ctx, `
			INSERT INTO text_chunks (
				id, collection, topic, source_file, page_number, chunk_index, content, embedding
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8::vector)
		`,
			c.ID,
			s.collection,
			c.Topic,
			c.SourceFile,
			c.Page,
			c.Index,
			c.Text,
			vectorLiteral(c.Embedding))
		if err != nil {
			return fmt.Errorf("failed to store chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit collection %s: %w", s.collection, err)
	}
	return nil
}

// Load checks that the collection exists and holds at least one chunk.
func (s *PostgresStore) Load(ctx context.Context) error {
	var n int
	err := s.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM text_chunks WHERE collection = $1`, s.collection).Scan(&n)
	if err != nil {
		if isUndefinedTable(err) {
			return fmt.Errorf("%w: table text_chunks does not exist", models.ErrIndexUnavailable)
		}
		return fmt.Errorf("failed to check collection %s: %w", s.collection, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: collection %s is empty", models.ErrIndexUnavailable, s.collection)
	}
	return nil
}

// Search finds chunks similar to the query embedding, filtered by topic when set
func (s *PostgresStore) Search(ctx context.Context, req SearchRequest) ([]models.ScoredChunk, error) {
	var (
		rows pgx.Rows
		err  error
	)

	vec := vectorLiteral(req.Vector)
	if req.Topic != "" {
		rows, err = s.db.Query(ctx, `
			SELECT id, topic, source_file, page_number, chunk_index, content,
			       embedding::text, 1 - (embedding <=> $1::vector) AS score
			FROM text_chunks
			WHERE collection = $2 AND topic = $3
			ORDER BY embedding <=> $1::vector
			LIMIT $4
		`, vec, s.collection, req.Topic, req.Limit)
	} else {
		rows, err = s.db.Query(ctx, `
			SELECT id, topic, source_file, page_number, chunk_index, content,
			       embedding::text, 1 - (embedding <=> $1::vector) AS score
			FROM text_chunks
			WHERE collection = $2
			ORDER BY embedding <=> $1::vector
			LIMIT $3
		`, vec, s.collection, req.Limit)
	}
	if err != nil {
		if isUndefinedTable(err) {
			return nil, fmt.Errorf("%w: table text_chunks does not exist", models.ErrIndexUnavailable)
		}
		return nil, fmt.Errorf("failed to query similar chunks: %w", err)
	}
	return scanScoredRows(rows)
}

func scanScoredRows(rows pgx.Rows) ([]models.ScoredChunk, error) {
	defer rows.Close()

	var chunks []models.ScoredChunk
	for rows.Next() {
		var (
			sc        models.ScoredChunk
			vectorCol string
		)
		if err := rows.Scan(&sc.ID, &sc.Topic, &sc.SourceFile, &sc.Page, &sc.Index,
			&sc.Text, &vectorCol, &sc.Score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		vec, err := parseVectorLiteral(vectorCol)
		if err != nil {
			return nil, err
		}
		sc.Embedding = vec
		chunks = append(chunks, sc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return chunks, nil
}

// Stats counts the chunks of the collection per topic
func (s *PostgresStore) Stats(ctx context.Context) (models.IndexStats, error) {
	stats := models.IndexStats{Collection: s.collection, ByTopic: map[string]int{}}

	rows, err := s.db.Query(ctx, `
		SELECT topic, COUNT(*)
		FROM text_chunks
		WHERE collection = $1
		GROUP BY topic
		ORDER BY topic
	`, s.collection)
	if err != nil {
		if isUndefinedTable(err) {
			return stats, fmt.Errorf("%w: table text_chunks does not exist", models.ErrIndexUnavailable)
		}
		return stats, fmt.Errorf("failed to query topic counts: %w", err)
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

// Close releases the pool when the store owns one.
func (s *PostgresStore) Close() error {
	if c, ok := s.db.(interface{ Close() }); ok {
		c.Close()
	}
	return nil
}

func isUndefinedTable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == undefinedTable
}
