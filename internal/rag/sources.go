package rag

import (
	"strings"

	"docrag/internal/models"
)

const (
	// dedupPrefix is how many leading runes of a chunk count towards its identity.
	dedupPrefix = 200
	// ExcerptWidth is the maximum length of a citation excerpt.
	ExcerptWidth = 350
	excerptTail  = " ..."
)

type sourceKey struct {
	topic  string
	file   string
	page   int
	prefix string
}

// DedupChunks drops chunks whose topic, file, page and leading text repeat
// an earlier chunk. First occurrences keep their order.
func DedupChunks(chunks []models.Chunk) []models.Chunk {
	seen := make(map[sourceKey]bool, len(chunks))
	out := make([]models.Chunk, 0, len(chunks))
	for _, c := range chunks {
		k := sourceKey{topic: c.Topic, file: c.SourceFile, page: c.Page, prefix: runePrefix(c.Text, dedupPrefix)}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, c)
	}
	return out
}

// ToCitations turns chunks into display citations.
func ToCitations(chunks []models.Chunk) []models.Citation {
	out := make([]models.Citation, len(chunks))
	for i, c := range chunks {
		out[i] = models.Citation{
			SourceFile: c.SourceFile,
			Page:       c.Page,
			Topic:      c.Topic,
			Excerpt:    Shorten(c.Text, ExcerptWidth),
		}
	}
	return out
}

// Shorten collapses whitespace and cuts text to at most width runes on a
// word boundary, appending " ..." when anything was dropped.
func Shorten(text string, width int) string {
	words := strings.Fields(text)
	collapsed := strings.Join(words, " ")
	if len([]rune(collapsed)) <= width {
		return collapsed
	}

	budget := width - len(excerptTail)
	var b strings.Builder
	n := 0
	for _, w := range words {
		wl := len([]rune(w))
		add := wl
		if n > 0 {
			add++
		}
		if n+add > budget {
			break
		}
		if n > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
		n += add
	}
	if n == 0 {
		return strings.TrimSpace(excerptTail)
	}
	return b.String() + excerptTail
}

func runePrefix(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
