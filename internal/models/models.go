package models

import (
	"fmt"
	"time"
)

// SourceDocument is the text of one page of one PDF
type SourceDocument struct {
	Text       string `json:"text"`
	SourceFile string `json:"source_file"`
	Page       int    `json:"page"`
	Topic      string `json:"topic"`
}

// Chunk represents a chunk of text from one page
type Chunk struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	SourceFile string    `json:"source_file"`
	Page       int       `json:"page"`
	Topic      string    `json:"topic"`
	Index      int       `json:"index"`
	Embedding  []float64 `json:"embedding,omitempty"`
}

// ScoredChunk is a chunk returned by a similarity search
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// Citation points at the source passage behind an answer
type Citation struct {
	SourceFile string `json:"source_file"`
	Page       int    `json:"page"`
	Topic      string `json:"topic"`
	Excerpt    string `json:"excerpt"`
}

// Speaker identifies who produced a conversation turn
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Turn is one entry of a conversation transcript
type Turn struct {
	Speaker   Speaker    `json:"speaker"`
	Text      string     `json:"text"`
	Citations []Citation `json:"citations,omitempty"`
	Failed    bool       `json:"failed,omitempty"`
	At        time.Time  `json:"at"`
}

// IndexStats summarizes the contents of a vector index
type IndexStats struct {
	Collection string         `json:"collection"`
	Chunks     int            `json:"chunks"`
	ByTopic    map[string]int `json:"by_topic"`
}

// Label renders the citation location for display. Pages are shown 1-based.
func (c Citation) Label() string {
	return fmt.Sprintf("%s, page %d", c.SourceFile, c.Page+1)
}
