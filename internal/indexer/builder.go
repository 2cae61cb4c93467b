package indexer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"docrag/internal/database"
	"docrag/internal/embedding"
	"docrag/internal/logger"
	"docrag/internal/models"
	"docrag/internal/processor"
)

// Stage names reported through Progress.
const (
	StageLoad  = "load"
	StageEmbed = "embed"
	StageStore = "store"
)

// Progress is one progress notification of a build.
type Progress struct {
	Stage string
	Done  int
	Total int
}

// ProgressFunc receives build progress. It may be called from several goroutines
// but never concurrently.
type ProgressFunc func(Progress)

// BuildReport summarizes a finished build.
type BuildReport struct {
	Topics   int            `json:"topics"`
	Files    int            `json:"files"`
	Pages    int            `json:"pages"`
	Chunks   int            `json:"chunks"`
	ByTopic  map[string]int `json:"by_topic"`
	Duration time.Duration  `json:"duration"`
}

// Builder rebuilds the vector index from documentRoot/<topic>/*.pdf.
type Builder struct {
	documentRoot  string
	topics        []string
	loader        processor.PageLoader
	splitter      *processor.Splitter
	embedder      embedding.Embedder
	store         database.IndexStore
	maxConcurrent int
	progress      ProgressFunc
	log           logger.Logger
}

// Option configures a Builder.
type Option func(*Builder)

// WithMaxConcurrent bounds the number of embedding requests in flight.
func WithMaxConcurrent(n int) Option {
	return func(b *Builder) {
		if n > 0 {
			b.maxConcurrent = n
		}
	}
}

// WithProgress registers a progress callback.
func WithProgress(fn ProgressFunc) Option {
	return func(b *Builder) { b.progress = fn }
}

// WithLogger replaces the package default logger.
func WithLogger(l logger.Logger) Option {
	return func(b *Builder) {
		if l != nil {
			b.log = l
		}
	}
}

// NewBuilder creates a builder for the given topics below documentRoot
func NewBuilder(documentRoot string, topics []string, loader processor.PageLoader,
	splitter *processor.Splitter, embedder embedding.Embedder, store database.IndexStore, opts ...Option) *Builder {

	b := &Builder{
		documentRoot:  documentRoot,
		topics:        topics,
		loader:        loader,
		splitter:      splitter,
		embedder:      embedder,
		store:         store,
		maxConcurrent: 3,
		log:           logger.GetDefault(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

type topicFiles struct {
	topic string
	files []string
}

// Build replaces the index with a fresh one. Nothing in the store changes
// until every chunk has been embedded.
func (b *Builder) Build(ctx context.Context) (*BuildReport, error) {
	start := time.Now()

	corpus, err := b.discover()
	if err != nil {
		return nil, err
	}

	report := &BuildReport{Topics: len(corpus), ByTopic: map[string]int{}}

	var docs []models.SourceDocument
	for _, tf := range corpus {
		for _, path := range tf.files {
			pages, err := b.loader.LoadPages(ctx, path, tf.topic)
			if err != nil {
				return nil, fmt.Errorf("failed to load %s: %w", path, err)
			}
			b.log.Debug("Loaded document", "file", filepath.Base(path), "topic", tf.topic, "pages", len(pages))
			docs = append(docs, pages...)
			report.Files++
			b.notify(Progress{Stage: StageLoad, Done: report.Files, Total: countFiles(corpus)})
		}
	}
	report.Pages = len(docs)
	b.log.Info("Loaded pages", "topics", report.Topics, "files", report.Files, "pages", report.Pages)

	chunks := b.splitter.Split(docs)
	report.Chunks = len(chunks)
	for _, c := range chunks {
		report.ByTopic[c.Topic]++
	}
	b.log.Info("Split pages into chunks", "chunks", report.Chunks,
		"chunk_size", b.splitter.ChunkSize(), "overlap", b.splitter.Overlap())
	if len(chunks) == 0 {
		b.log.Warn("No text could be extracted; the index will be empty")
	}

	embedStart := time.Now()
	embedded, err := embedding.EmbedChunks(ctx, b.embedder, chunks, b.maxConcurrent, func(processed, total int) {
		b.notify(Progress{Stage: StageEmbed, Done: processed, Total: total})
		if processed%50 == 0 || processed == total {
			elapsed := time.Since(embedStart)
			remaining := elapsed*time.Duration(total)/time.Duration(processed) - elapsed
			b.log.Info("Embedding progress", "done", processed, "total", total,
				"remaining", remaining.Round(time.Second))
		}
	})
	if err != nil {
		return nil, err
	}

	if err := b.store.Destroy(ctx); err != nil {
		return nil, fmt.Errorf("failed to remove previous index: %w", err)
	}
	if err := b.store.Create(ctx, embedded); err != nil {
		if derr := b.store.Destroy(ctx); derr != nil {
			b.log.Error("Failed to clean up partial index", "error", derr)
		}
		return nil, fmt.Errorf("failed to store index: %w", err)
	}
	b.notify(Progress{Stage: StageStore, Done: len(embedded), Total: len(embedded)})

	report.Duration = time.Since(start)
	b.log.Info("Index built", "chunks", report.Chunks, "duration", report.Duration.Round(time.Millisecond))
	return report, nil
}

// discover checks every topic directory before any page is read.
func (b *Builder) discover() ([]topicFiles, error) {
	if fi, err := os.Stat(b.documentRoot); err != nil || !fi.IsDir() {
		return nil, &models.CorpusError{Path: b.documentRoot, Err: models.ErrMissingDocumentRoot}
	}

	var corpus []topicFiles
	for _, topic := range b.topics {
		if topic == "" {
			continue
		}
		dir := filepath.Join(b.documentRoot, topic)
		if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
			if err == nil || errors.Is(err, os.ErrNotExist) {
				return nil, &models.CorpusError{Topic: topic, Path: dir, Err: models.ErrMissingTopicDirectory}
			}
			return nil, fmt.Errorf("failed to stat %s: %w", dir, err)
		}
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", dir, err)
		}

		var files []string
		for _, e := range entries {
			if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".pdf") {
				continue
			}
			files = append(files, filepath.Join(dir, e.Name()))
		}
		if len(files) == 0 {
			return nil, &models.CorpusError{Topic: topic, Path: dir, Err: models.ErrEmptyTopicCorpus}
		}
		sort.Strings(files)
		corpus = append(corpus, topicFiles{topic: topic, files: files})
	}
	return corpus, nil
}

func (b *Builder) notify(p Progress) {
	if b.progress != nil {
		b.progress(p)
	}
}

func countFiles(corpus []topicFiles) int {
	n := 0
	for _, tf := range corpus {
		n += len(tf.files)
	}
	return n
}
