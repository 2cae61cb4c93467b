package indexer

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"docrag/internal/database"
	"docrag/internal/logger"
	"docrag/internal/models"
	"docrag/internal/processor"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// pageLoader serves fixed page texts per file base name.
type pageLoader struct {
	pages map[string][]string
	calls atomic.Int32
}

func (l *pageLoader) LoadPages(_ context.Context, path, topic string) ([]models.SourceDocument, error) {
	l.calls.Add(1)
	name := filepath.Base(path)
	var docs []models.SourceDocument
	for i, text := range l.pages[name] {
		docs = append(docs, models.SourceDocument{Text: text, SourceFile: name, Page: i, Topic: topic})
	}
	return docs, nil
}

type countingEmbedder struct {
	calls  atomic.Int32
	failOn string
}

func (e *countingEmbedder) EmbedText(_ context.Context, text string) ([]float64, error) {
	e.calls.Add(1)
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return nil, errors.New("model not loaded")
	}
	return []float64{float64(len(text)), 1}, nil
}

type failingStore struct {
	database.IndexStore
	destroys int
}

func (s *failingStore) Destroy(context.Context) error { s.destroys++; return nil }

func (s *failingStore) Create(context.Context, []models.Chunk) error {
	return errors.New("disk full")
}

func quietLogger() logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func makeCorpus(t *testing.T, files map[string][]string) string {
	t.Helper()
	root := t.TempDir()
	for topic, names := range files {
		dir := filepath.Join(root, topic)
		require.NoError(t, os.MkdirAll(dir, 0o755))
		for _, name := range names {
			require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4"), 0o644))
		}
	}
	return root
}

func newTestBuilder(root string, topics []string, loader processor.PageLoader,
	emb *countingEmbedder, store database.IndexStore, opts ...Option) *Builder {
	opts = append([]Option{WithLogger(quietLogger())}, opts...)
	return NewBuilder(root, topics, loader, processor.NewSplitter(), emb, store, opts...)
}

func TestBuilder_Build(t *testing.T) {
	manualPages := map[string][]string{
		"manual.pdf": {
			"Installation. Mount the pump on a level surface.",
			"Operation. The pump runs at 40 bar.",
			"Maintenance. Replace the seals every 500 hours.",
		},
	}

	t.Run("Should index a three page manual under its topic", func(t *testing.T) {
		ctx := context.Background()
		root := makeCorpus(t, map[string][]string{"manual": {"manual.pdf"}})
		store := database.NewSQLiteStore(filepath.Join(t.TempDir(), "index"), "engineering_docs")
		defer store.Close()

		var stages []string
		b := newTestBuilder(root, []string{"", "manual"}, &pageLoader{pages: manualPages},
			&countingEmbedder{}, store, WithProgress(func(p Progress) {
				if len(stages) == 0 || stages[len(stages)-1] != p.Stage {
					stages = append(stages, p.Stage)
				}
			}))

		report, err := b.Build(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.Topics)
		assert.Equal(t, 1, report.Files)
		assert.Equal(t, 3, report.Pages)
		assert.GreaterOrEqual(t, report.Chunks, 3)
		assert.Equal(t, map[string]int{"manual": report.Chunks}, report.ByTopic)
		assert.Equal(t, []string{StageLoad, StageEmbed, StageStore}, stages)

		results, err := store.Search(ctx, database.SearchRequest{Vector: []float64{1, 1}, Limit: 100})
		require.NoError(t, err)
		assert.Len(t, results, report.Chunks)
		pages := map[int]bool{}
		for _, r := range results {
			assert.Equal(t, "manual", r.Topic)
			assert.Equal(t, "manual.pdf", r.SourceFile)
			pages[r.Page] = true
		}
		assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, pages)
	})

	t.Run("Should overwrite the previous index on rebuild", func(t *testing.T) {
		ctx := context.Background()
		root := makeCorpus(t, map[string][]string{"manual": {"manual.pdf"}})
		store := database.NewSQLiteStore(filepath.Join(t.TempDir(), "index"), "engineering_docs")
		defer store.Close()
		b := newTestBuilder(root, []string{"manual"}, &pageLoader{pages: manualPages}, &countingEmbedder{}, store)

		first, err := b.Build(ctx)
		require.NoError(t, err)
		second, err := b.Build(ctx)
		require.NoError(t, err)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.Chunks, second.Chunks)
		assert.Equal(t, second.Chunks, stats.Chunks)
	})

	t.Run("Should fail on a missing document root", func(t *testing.T) {
		emb := &countingEmbedder{}
		b := newTestBuilder(filepath.Join(t.TempDir(), "nope"), []string{"manual"}, &pageLoader{}, emb, &failingStore{})

		_, err := b.Build(context.Background())
		assert.ErrorIs(t, err, models.ErrMissingDocumentRoot)
		assert.Zero(t, emb.calls.Load())
	})

	t.Run("Should fail on a missing topic directory before any embedding", func(t *testing.T) {
		root := makeCorpus(t, map[string][]string{"manual": {"manual.pdf"}})
		loader := &pageLoader{pages: manualPages}
		emb := &countingEmbedder{}
		store := &failingStore{}
		b := newTestBuilder(root, []string{"manual", "Fachliche_Beschreibung"}, loader, emb, store)

		_, err := b.Build(context.Background())
		require.ErrorIs(t, err, models.ErrMissingTopicDirectory)
		var corpusErr *models.CorpusError
		require.ErrorAs(t, err, &corpusErr)
		assert.Equal(t, "Fachliche_Beschreibung", corpusErr.Topic)
		assert.Zero(t, loader.calls.Load())
		assert.Zero(t, emb.calls.Load())
		assert.Zero(t, store.destroys)
	})

	t.Run("Should treat a regular file at the topic path as a missing directory", func(t *testing.T) {
		root := makeCorpus(t, map[string][]string{"manual": {"manual.pdf"}})
		require.NoError(t, os.WriteFile(filepath.Join(root, "policy"), []byte("not a directory"), 0o644))
		loader := &pageLoader{pages: manualPages}
		b := newTestBuilder(root, []string{"manual", "policy"}, loader, &countingEmbedder{}, &failingStore{})

		_, err := b.Build(context.Background())
		require.ErrorIs(t, err, models.ErrMissingTopicDirectory)
		var corpusErr *models.CorpusError
		require.ErrorAs(t, err, &corpusErr)
		assert.Equal(t, "policy", corpusErr.Topic)
		assert.Zero(t, loader.calls.Load())
	})

	t.Run("Should fail on a topic without pdf files", func(t *testing.T) {
		root := makeCorpus(t, map[string][]string{"manual": {"notes.txt"}})
		b := newTestBuilder(root, []string{"manual"}, &pageLoader{}, &countingEmbedder{}, &failingStore{})

		_, err := b.Build(context.Background())
		assert.ErrorIs(t, err, models.ErrEmptyTopicCorpus)
	})

	t.Run("Should keep the previous index when embedding fails", func(t *testing.T) {
		ctx := context.Background()
		root := makeCorpus(t, map[string][]string{"manual": {"manual.pdf"}})
		store := database.NewSQLiteStore(filepath.Join(t.TempDir(), "index"), "engineering_docs")
		defer store.Close()

		ok := newTestBuilder(root, []string{"manual"}, &pageLoader{pages: manualPages}, &countingEmbedder{}, store)
		first, err := ok.Build(ctx)
		require.NoError(t, err)

		broken := newTestBuilder(root, []string{"manual"}, &pageLoader{pages: manualPages},
			&countingEmbedder{failOn: "40 bar"}, store)
		_, err = broken.Build(ctx)
		require.ErrorIs(t, err, models.ErrEmbeddingService)

		stats, err := store.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, first.Chunks, stats.Chunks)
	})

	t.Run("Should destroy a half written index", func(t *testing.T) {
		root := makeCorpus(t, map[string][]string{"manual": {"manual.pdf"}})
		store := &failingStore{}
		b := newTestBuilder(root, []string{"manual"}, &pageLoader{pages: manualPages}, &countingEmbedder{}, store)

		_, err := b.Build(context.Background())
		assert.ErrorContains(t, err, "disk full")
		assert.Equal(t, 2, store.destroys)
	})
}
