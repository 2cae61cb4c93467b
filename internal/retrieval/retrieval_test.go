package retrieval

import (
	"context"
	"errors"
	"testing"

	"docrag/internal/database"
	"docrag/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEmbedder struct {
	vec []float64
	err error
}

func (f fakeEmbedder) EmbedText(context.Context, string) ([]float64, error) {
	return f.vec, f.err
}

type fakeStore struct {
	database.IndexStore
	results []models.ScoredChunk
	err     error
	got     database.SearchRequest
}

func (f *fakeStore) Search(_ context.Context, req database.SearchRequest) ([]models.ScoredChunk, error) {
	f.got = req
	return f.results, f.err
}

func scored(id string, emb ...float64) models.ScoredChunk {
	return models.ScoredChunk{Chunk: models.Chunk{ID: id, Text: id, Embedding: emb}}
}

func TestConfigure(t *testing.T) {
	t.Run("Should apply defaults", func(t *testing.T) {
		spec := Configure("manual", 0, 0)
		assert.Equal(t, Spec{K: 5, FetchK: 10, SearchType: SearchTypeMMR, Lambda: 0.5, Topic: "manual"}, spec)
	})

	t.Run("Should raise fetch_k to k", func(t *testing.T) {
		spec := Configure("", 8, 4)
		assert.Equal(t, 8, spec.K)
		assert.Equal(t, 8, spec.FetchK)
		assert.Equal(t, "", spec.Topic)
	})

	t.Run("Should ignore an out of range lambda", func(t *testing.T) {
		assert.InDelta(t, 0.8, Configure("", 5, 10).WithLambda(0.8).Lambda, 1e-9)
		assert.InDelta(t, 0.5, Configure("", 5, 10).WithLambda(1.5).Lambda, 1e-9)
	})
}

func TestMMR(t *testing.T) {
	query := []float64{1, 0.9}
	candidates := []models.ScoredChunk{
		scored("a", 1, 0),
		scored("a-copy", 1, 0),
		scored("b", 0, 1),
	}

	t.Run("Should prefer diversity over a duplicate", func(t *testing.T) {
		out := MMR(query, candidates, 2, 0.5)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].ID)
		assert.Equal(t, "b", out[1].ID)
	})

	t.Run("Should rank by relevance alone with lambda 1", func(t *testing.T) {
		out := MMR(query, candidates, 2, 1)
		require.Len(t, out, 2)
		assert.Equal(t, "a", out[0].ID)
		assert.Equal(t, "a-copy", out[1].ID)
	})

	t.Run("Should cap at the number of candidates", func(t *testing.T) {
		assert.Len(t, MMR(query, candidates, 10, 0.5), 3)
		assert.Nil(t, MMR(query, nil, 5, 0.5))
	})
}

func TestRetriever_Retrieve(t *testing.T) {
	t.Run("Should pass topic and fetch_k to the store", func(t *testing.T) {
		store := &fakeStore{results: []models.ScoredChunk{scored("a", 1, 0), scored("b", 0, 1)}}
		r := NewRetriever(fakeEmbedder{vec: []float64{1, 0}}, store)

		out, err := r.Retrieve(context.Background(), Configure("manual", 1, 10), "pump?")
		require.NoError(t, err)
		assert.Equal(t, database.SearchRequest{Vector: []float64{1, 0}, Limit: 10, Topic: "manual"}, store.got)
		require.Len(t, out, 1)
		assert.Equal(t, "a", out[0].ID)
	})

	t.Run("Should report embedding failures", func(t *testing.T) {
		r := NewRetriever(fakeEmbedder{err: errors.New("connection refused")}, &fakeStore{})
		_, err := r.Retrieve(context.Background(), Configure("", 5, 10), "pump?")
		assert.ErrorIs(t, err, models.ErrEmbeddingService)
	})

	t.Run("Should surface an unavailable index", func(t *testing.T) {
		store := &fakeStore{err: models.ErrIndexUnavailable}
		r := NewRetriever(fakeEmbedder{vec: []float64{1}}, store)
		_, err := r.Retrieve(context.Background(), Configure("", 5, 10), "pump?")
		assert.ErrorIs(t, err, models.ErrIndexUnavailable)
	})

	t.Run("Should return no chunks for an empty topic corpus", func(t *testing.T) {
		r := NewRetriever(fakeEmbedder{vec: []float64{1}}, &fakeStore{})
		out, err := r.Retrieve(context.Background(), Configure("hr", 5, 10), "pump?")
		require.NoError(t, err)
		assert.Empty(t, out)
	})
}
