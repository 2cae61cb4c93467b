package cli

import (
	"context"
	"time"

	"docrag/internal/config"
	"docrag/internal/database"
	"docrag/internal/embedding"
	"docrag/internal/indexer"
	"docrag/internal/llm"
	"docrag/internal/processor"
	"docrag/internal/rag"
	"docrag/internal/retrieval"
	"docrag/internal/session"
)

// App bundles the services built from one configuration.
type App struct {
	Config    *config.AppConfig
	Store     database.IndexStore
	Embedder  embedding.Embedder
	Generator llm.Generator
	Loader    processor.PageLoader
}

// newApp is replaced in tests.
var newApp = NewApp

// NewApp wires the index store and the Ollama clients described by cfg.
func NewApp(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	store, err := database.Open(ctx, cfg.Index)
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewOllamaEmbedder(cfg.Ollama.Host, cfg.Ollama.EmbeddingModel)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	embedder.MaxRetries = cfg.Ollama.MaxRetries
	embedder.MaxConcurrent = cfg.Ollama.MaxConcurrent
	embedder.Timeout = time.Duration(cfg.Ollama.TimeoutSecs) * time.Second

	generator, err := llm.NewOllamaLLM(cfg.Ollama.Host, cfg.Ollama.LLMModel, cfg.Ollama.Temperature)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	generator.NumPredict = cfg.Ollama.NumPredict

	return &App{
		Config:    cfg,
		Store:     store,
		Embedder:  embedder,
		Generator: generator,
		Loader:    processor.NewPDFLoader(),
	}, nil
}

// Builder returns an index builder over the configured document root.
func (a *App) Builder(opts ...indexer.Option) *indexer.Builder {
	splitter := processor.NewSplitter(
		processor.WithChunkSize(a.Config.Chunker.ChunkSize),
		processor.WithOverlap(a.Config.Chunker.Overlap),
	)
	opts = append([]indexer.Option{indexer.WithMaxConcurrent(a.Config.Ollama.MaxConcurrent)}, opts...)
	return indexer.NewBuilder(a.Config.DocumentRoot, a.Config.TopicIDs(), a.Loader, splitter,
		a.Embedder, a.Store, opts...)
}

// Chain builds the answering chain for a topic and role.
func (a *App) Chain(topic string, role llm.Role) *rag.Chain {
	r := a.Config.Retrieval
	spec := retrieval.Configure(topic, r.K, r.FetchK).WithLambda(r.Lambda)
	return rag.NewChain(spec, role, retrieval.NewRetriever(a.Embedder, a.Store), a.Generator)
}

// ChainFactory adapts Chain for sessions.
func (a *App) ChainFactory() session.ChainFactory {
	return func(topic string, role llm.Role) session.Answerer {
		return a.Chain(topic, role)
	}
}

// NewSession starts a session on the given topic and role.
func (a *App) NewSession(topic string, role llm.Role) *session.Session {
	return session.New(a.ChainFactory(), topic, role)
}

func (a *App) Close() error {
	return a.Store.Close()
}
