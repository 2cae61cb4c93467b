package retrieval

import (
	"context"
	"errors"
	"fmt"

	"docrag/internal/database"
	"docrag/internal/embedding"
	"docrag/internal/models"
)

const (
	// DefaultK is the number of chunks handed to the model.
	DefaultK = 5
	// DefaultFetchK is the number of candidates MMR chooses from.
	DefaultFetchK = 10
	// DefaultLambda weighs relevance against diversity in MMR.
	DefaultLambda = 0.5

	// SearchTypeMMR selects maximal marginal relevance.
	SearchTypeMMR = "mmr"
)

// Spec describes how one question is turned into context chunks.
type Spec struct {
	K          int
	FetchK     int
	SearchType string
	Lambda     float64
	// Topic restricts the search. Empty means no filter.
	Topic string
}

// Configure returns an MMR spec for topic. Non-positive values select the
// defaults and FetchK is raised to at least K.
func Configure(topic string, k, fetchK int) Spec {
	if k <= 0 {
		k = DefaultK
	}
	if fetchK <= 0 {
		fetchK = DefaultFetchK
	}
	return Spec{
		K:          k,
		FetchK:     max(fetchK, k),
		SearchType: SearchTypeMMR,
		Lambda:     DefaultLambda,
		Topic:      topic,
	}
}

// WithLambda returns a copy of s using the given MMR diversity weight.
func (s Spec) WithLambda(lambda float64) Spec {
	if lambda >= 0 && lambda <= 1 {
		s.Lambda = lambda
	}
	return s
}

// Retriever embeds a question and selects context chunks from a store.
type Retriever struct {
	embedder embedding.Embedder
	store    database.IndexStore
}

// NewRetriever creates a retriever over store using embedder for questions
func NewRetriever(embedder embedding.Embedder, store database.IndexStore) *Retriever {
	return &Retriever{embedder: embedder, store: store}
}

// Retrieve returns up to spec.K chunks for question, most relevant first.
func (r *Retriever) Retrieve(ctx context.Context, spec Spec, question string) ([]models.Chunk, error) {
	vec, err := r.embedder.EmbedText(ctx, question)
	if err != nil {
		if !errors.Is(err, models.ErrEmbeddingService) {
			err = fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
		}
		return nil, fmt.Errorf("embedding question: %w", err)
	}

	candidates, err := r.store.Search(ctx, database.SearchRequest{
		Vector: vec,
		Limit:  spec.FetchK,
		Topic:  spec.Topic,
	})
	if err != nil {
		return nil, err
	}

	return MMR(vec, candidates, spec.K, spec.Lambda), nil
}
