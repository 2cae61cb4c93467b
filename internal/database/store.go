package database

import (
	"context"
	"fmt"

	"docrag/internal/config"
	"docrag/internal/models"
)

// SearchRequest asks for the Limit chunks nearest to Vector. An empty Topic
// searches the whole collection.
type SearchRequest struct {
	Vector []float64
	Limit  int
	Topic  string
}

// IndexStore is a persistent, named collection of embedded chunks.
type IndexStore interface {
	// Destroy removes the collection. Destroying a missing collection is not an error.
	Destroy(ctx context.Context) error
	// Create writes chunks as the new contents of the collection.
	Create(ctx context.Context, chunks []models.Chunk) error
	// Load opens an existing collection and fails with ErrIndexUnavailable if there is none.
	Load(ctx context.Context) error
	// Search returns candidates ordered by decreasing similarity, embeddings included.
	Search(ctx context.Context, req SearchRequest) ([]models.ScoredChunk, error)
	Stats(ctx context.Context) (models.IndexStats, error)
	Close() error
}

// Open builds the store selected by the index configuration.
func Open(ctx context.Context, cfg config.IndexConfig) (IndexStore, error) {
	switch cfg.Backend {
	case config.BackendSQLite, "":
		return NewSQLiteStore(cfg.PersistDir, cfg.Collection), nil
	case config.BackendPostgres:
		if cfg.Postgres == nil {
			return nil, fmt.Errorf("postgres backend requires a dsn")
		}
		pool, err := NewPool(ctx, cfg.Postgres.DSN)
		if err != nil {
			return nil, err
		}
		return NewPostgresStore(pool, cfg.Collection), nil
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}
