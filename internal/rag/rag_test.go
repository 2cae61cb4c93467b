package rag

import (
	"context"
	"errors"
	"strings"
	"testing"

	"docrag/internal/llm"
	"docrag/internal/models"
	"docrag/internal/retrieval"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRetriever struct {
	chunks []models.Chunk
	err    error
	spec   retrieval.Spec
}

func (s *stubRetriever) Retrieve(_ context.Context, spec retrieval.Spec, _ string) ([]models.Chunk, error) {
	s.spec = spec
	return s.chunks, s.err
}

type stubGenerator struct {
	answer string
	err    error
	prompt string
	calls  int
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (string, error) {
	s.calls++
	s.prompt = prompt
	return s.answer, s.err
}

func TestChain_Ask(t *testing.T) {
	spec := retrieval.Configure("manual", 5, 10)

	t.Run("Should answer with deduplicated citations", func(t *testing.T) {
		shared := strings.Repeat("Seals must be replaced every 500 hours. ", 6)
		ret := &stubRetriever{chunks: []models.Chunk{
			{ID: "1", Text: shared + "First tail.", SourceFile: "manual.pdf", Page: 4, Topic: "manual"},
			{ID: "2", Text: shared + "Second tail.", SourceFile: "manual.pdf", Page: 4, Topic: "manual"},
			{ID: "3", Text: "Pressure is 40 bar.", SourceFile: "manual.pdf", Page: 2, Topic: "manual"},
		}}
		gen := &stubGenerator{answer: "Every 500 hours."}
		chain := NewChain(spec, llm.RoleTechnician, ret, gen)

		ans, err := chain.Ask(context.Background(), "When are seals replaced?")
		require.NoError(t, err)
		assert.Equal(t, "Every 500 hours.", ans.Text)
		assert.Equal(t, spec, ret.spec)
		require.Len(t, ans.Citations, 2)
		assert.Equal(t, 4, ans.Citations[0].Page)
		assert.Equal(t, 2, ans.Citations[1].Page)
		assert.Equal(t, []string{"1", "3"}, []string{ans.Sources[0].ID, ans.Sources[1].ID})
		assert.Contains(t, gen.prompt, llm.RoleTechnician.Instruction())
		assert.Equal(t, gen.prompt, ans.Prompt)
	})

	t.Run("Should still ask the model when nothing was retrieved", func(t *testing.T) {
		gen := &stubGenerator{answer: "I cannot answer this reliably."}
		chain := NewChain(spec, llm.RoleDefault, &stubRetriever{}, gen)

		ans, err := chain.Ask(context.Background(), "What is the canteen menu?")
		require.NoError(t, err)
		assert.Equal(t, 1, gen.calls)
		assert.Contains(t, gen.prompt, "Use ONLY the provided context")
		assert.Contains(t, gen.prompt, "(no context passages were found)")
		assert.Empty(t, ans.Citations)
	})

	t.Run("Should wrap generation failures", func(t *testing.T) {
		gen := &stubGenerator{err: errors.New("connection refused")}
		chain := NewChain(spec, llm.RoleDefault, &stubRetriever{}, gen)

		_, err := chain.Ask(context.Background(), "q")
		assert.ErrorIs(t, err, models.ErrGenerationService)
	})

	t.Run("Should not call the model when retrieval fails", func(t *testing.T) {
		gen := &stubGenerator{}
		chain := NewChain(spec, llm.RoleDefault, &stubRetriever{err: models.ErrIndexUnavailable}, gen)

		_, err := chain.Ask(context.Background(), "q")
		assert.ErrorIs(t, err, models.ErrIndexUnavailable)
		assert.Zero(t, gen.calls)
	})
}

func TestDedupChunks(t *testing.T) {
	chunks := []models.Chunk{
		{ID: "a", Text: "alpha", SourceFile: "x.pdf", Page: 1},
		{ID: "b", Text: "beta", SourceFile: "x.pdf", Page: 1},
		{ID: "a2", Text: "alpha", SourceFile: "x.pdf", Page: 1},
		{ID: "c", Text: "alpha", SourceFile: "x.pdf", Page: 2},
		{ID: "d", Text: "alpha", SourceFile: "y.pdf", Page: 1},
	}

	t.Run("Should keep first occurrences in order", func(t *testing.T) {
		out := DedupChunks(chunks)
		var ids []string
		for _, c := range out {
			ids = append(ids, c.ID)
		}
		assert.Equal(t, []string{"a", "b", "c", "d"}, ids)
	})

	t.Run("Should be idempotent", func(t *testing.T) {
		once := DedupChunks(chunks)
		assert.Equal(t, once, DedupChunks(once))
	})

	t.Run("Should keep same-named files of different topics apart", func(t *testing.T) {
		out := DedupChunks([]models.Chunk{
			{ID: "m", Text: "Introduction", SourceFile: "guide.pdf", Page: 0, Topic: "manual"},
			{ID: "p", Text: "Introduction", SourceFile: "guide.pdf", Page: 0, Topic: "policy"},
			{ID: "m2", Text: "Introduction", SourceFile: "guide.pdf", Page: 0, Topic: "manual"},
		})
		require.Len(t, out, 2)
		assert.Equal(t, "m", out[0].ID)
		assert.Equal(t, "p", out[1].ID)
	})

	t.Run("Should only compare the leading 200 runes", func(t *testing.T) {
		prefix := strings.Repeat("ä", 200)
		out := DedupChunks([]models.Chunk{
			{ID: "1", Text: prefix + "one", SourceFile: "x.pdf"},
			{ID: "2", Text: prefix + "two", SourceFile: "x.pdf"},
			{ID: "3", Text: prefix[:len(prefix)-2] + "ö", SourceFile: "x.pdf"},
		})
		require.Len(t, out, 2)
		assert.Equal(t, "3", out[1].ID)
	})
}

func TestShorten(t *testing.T) {
	t.Run("Should collapse whitespace in short text", func(t *testing.T) {
		assert.Equal(t, "a b c", Shorten("a\n\n b\t c ", 350))
	})

	t.Run("Should cut on a word boundary", func(t *testing.T) {
		text := strings.Repeat("word ", 100)
		out := Shorten(text, 350)
		assert.LessOrEqual(t, len([]rune(out)), 350)
		assert.True(t, strings.HasSuffix(out, "word ..."))
	})

	t.Run("Should fall back to the placeholder for one long word", func(t *testing.T) {
		assert.Equal(t, "...", Shorten(strings.Repeat("x", 20), 10))
	})

	t.Run("Should build citations from chunks", func(t *testing.T) {
		cites := ToCitations([]models.Chunk{{Text: "  pump\npressure ", SourceFile: "m.pdf", Page: 3, Topic: "manual"}})
		assert.Equal(t, []models.Citation{{SourceFile: "m.pdf", Page: 3, Topic: "manual", Excerpt: "pump pressure"}}, cites)
	})
}
