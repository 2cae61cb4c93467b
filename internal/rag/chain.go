package rag

import (
	"context"
	"errors"
	"fmt"

	"docrag/internal/llm"
	"docrag/internal/models"
	"docrag/internal/retrieval"
)

// Retriever selects context chunks for a question.
type Retriever interface {
	Retrieve(ctx context.Context, spec retrieval.Spec, question string) ([]models.Chunk, error)
}

// Answer is the result of one question.
type Answer struct {
	Text      string            `json:"answer"`
	Sources   []models.Chunk    `json:"-"`
	Citations []models.Citation `json:"sources"`
	Prompt    string            `json:"-"`
}

// Chain answers questions for one (topic, role) pair. It holds no
// per-question state and is safe to reuse.
type Chain struct {
	spec      retrieval.Spec
	role      llm.Role
	retriever Retriever
	generator llm.Generator
}

// NewChain creates a chain answering with role from chunks selected by spec
func NewChain(spec retrieval.Spec, role llm.Role, retriever Retriever, generator llm.Generator) *Chain {
	return &Chain{spec: spec, role: role, retriever: retriever, generator: generator}
}

// Topic returns the topic filter of the chain; empty means all documents.
func (c *Chain) Topic() string { return c.spec.Topic }

// Role returns the answer-style role of the chain.
func (c *Chain) Role() llm.Role { return c.role }

// Ask retrieves context, assembles the prompt and generates an answer.
// An empty retrieval still reaches the model, whose prompt tells it to
// admit that the documents do not cover the question.
func (c *Chain) Ask(ctx context.Context, question string) (*Answer, error) {
	chunks, err := c.retriever.Retrieve(ctx, c.spec, question)
	if err != nil {
		return nil, err
	}

	prompt := llm.Assemble(c.role, chunks, question)

	text, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		if !errors.Is(err, models.ErrGenerationService) {
			err = fmt.Errorf("%w: %w", models.ErrGenerationService, err)
		}
		return nil, err
	}

	sources := DedupChunks(chunks)
	return &Answer{
		Text:      text,
		Sources:   sources,
		Citations: ToCitations(sources),
		Prompt:    prompt,
	}, nil
}
