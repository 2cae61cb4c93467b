package models

import (
	"errors"
	"fmt"
)

var (
	// Corpus errors. Fatal to an index build.

	// ErrMissingDocumentRoot indicates the configured document root does not exist.
	ErrMissingDocumentRoot = errors.New("document root missing")

	// ErrMissingTopicDirectory indicates a configured topic has no subdirectory.
	ErrMissingTopicDirectory = errors.New("topic directory missing")

	// ErrEmptyTopicCorpus indicates a topic subdirectory holds no documents.
	ErrEmptyTopicCorpus = errors.New("topic directory contains no documents")

	// External service errors.

	// ErrEmbeddingService indicates the embedding service failed or is unreachable.
	ErrEmbeddingService = errors.New("embedding service error")

	// ErrGenerationService indicates the completion service failed or is unreachable.
	ErrGenerationService = errors.New("generation service error")

	// ErrIndexUnavailable indicates no usable index exists, e.g. before the first build.
	ErrIndexUnavailable = errors.New("index unavailable")

	// ErrUnknownRole indicates a role id that is not registered.
	// Callers recover by falling back to the default role.
	ErrUnknownRole = errors.New("unknown role")

	// ErrSessionBusy indicates a question is still being answered in this session.
	ErrSessionBusy = errors.New("session busy")
)

// CorpusError describes a document discovery failure for one topic.
type CorpusError struct {
	Topic string
	Path  string
	Err   error
}

func (e *CorpusError) Error() string {
	if e.Topic == "" {
		return fmt.Sprintf("%v: %s", e.Err, e.Path)
	}
	return fmt.Sprintf("%v: %s (topic %s)", e.Err, e.Path, e.Topic)
}

func (e *CorpusError) Unwrap() error {
	return e.Err
}
