package embedding

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"docrag/internal/config"
	"docrag/internal/models"

	"github.com/ollama/ollama/api"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"
)

// Embedder computes one embedding vector per text
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float64, error)
}

// ProgressFunc is called after every embedded chunk.
type ProgressFunc func(processed, total int)

// OllamaEmbedder generates embeddings using Ollama API
type OllamaEmbedder struct {
	Client        *api.Client
	Model         string
	MaxRetries    int
	Backoff       time.Duration
	Timeout       time.Duration
	MaxConcurrent int
}

// NewOllamaEmbedder creates a new Ollama embedder. An empty host falls back to OLLAMA_HOST.
func NewOllamaEmbedder(host string, model string) (*OllamaEmbedder, error) {
	hostURL, err := config.ResolveOllamaHost(host)
	if err != nil {
		return nil, err
	}
	client := api.NewClient(hostURL, http.DefaultClient)

	return &OllamaEmbedder{
		Client:        client,
		Model:         model,
		MaxRetries:    3,
		Backoff:       time.Second,
		Timeout:       time.Second * 30,
		MaxConcurrent: 3,
	}, nil
}

// EmbedText generates an embedding for a text, retrying transient failures
func (e *OllamaEmbedder) EmbedText(ctx context.Context, text string) ([]float64, error) {
	var embedding []float64

	backoff := retry.WithMaxRetries(uint64(max(e.MaxRetries, 0)), retry.NewExponential(max(e.Backoff, time.Millisecond)))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		vec, err := e.createEmbedding(ctx, text)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return err
			}
			return retry.RetryableError(err)
		}
		embedding = vec
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: model %s: %w", models.ErrEmbeddingService, e.Model, err)
	}

	return embedding, nil
}

// createEmbedding is a helper function to create a single embedding
func (e *OllamaEmbedder) createEmbedding(ctx context.Context, text string) ([]float64, error) {
	req := api.EmbeddingRequest{
		Model:  e.Model,
		Prompt: text,
	}

	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	resp, err := e.Client.Embeddings(ctx, &req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedding: %w", err)
	}
	if len(resp.Embedding) == 0 {
		return nil, errors.New("empty embedding returned")
	}

	return resp.Embedding, nil
}

// EmbedBatchWithProgress embeds chunks in parallel, bounded by MaxConcurrent
func (e *OllamaEmbedder) EmbedBatchWithProgress(ctx context.Context, chunks []models.Chunk,
	progressFunc ProgressFunc) ([]models.Chunk, error) {
	return EmbedChunks(ctx, e, chunks, e.MaxConcurrent, progressFunc)
}

// EmbedChunks sets Embedding on every chunk. The first failure cancels the
// remaining requests and is returned; chunks is left unmodified in that case.
func EmbedChunks(ctx context.Context, embedder Embedder, chunks []models.Chunk,
	maxConcurrent int, progressFunc ProgressFunc) ([]models.Chunk, error) {

	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(maxConcurrent, 1))

	var mu sync.Mutex
	processed := 0
	total := len(out)

	for i := range out {
		g.Go(func() error {
			vec, err := embedder.EmbedText(ctx, out[i].Text)
			if err != nil {
				if !errors.Is(err, models.ErrEmbeddingService) {
					err = fmt.Errorf("%w: %w", models.ErrEmbeddingService, err)
				}
				return fmt.Errorf("failed to embed chunk %d of %s page %d: %w",
					out[i].Index, out[i].SourceFile, out[i].Page, err)
			}
			out[i].Embedding = vec

			mu.Lock()
			processed++
			if progressFunc != nil {
				progressFunc(processed, total)
			}
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
