package llm

import (
	"strings"

	"docrag/internal/models"
)

const (
	systemFraming = "You are an assistant for internal documents " +
		"(policies, regulations, technical documentation)."

	contextOnlyContract = "Use ONLY the provided context to answer the question.\n" +
		"If the information is not sufficient, say clearly that you cannot answer the\n" +
		"question reliably with the available documents."

	emptyContext = "(no context passages were found)"
)

// Assemble builds the generation prompt: framing, role instruction, the
// context-only contract, the retrieved context and the verbatim question.
func Assemble(role Role, chunks []models.Chunk, question string) string {
	var b strings.Builder

	b.WriteString(systemFraming)
	b.WriteString("\n\nUser role / answer style:\n")
	b.WriteString(role.Instruction())
	b.WriteString("\n\n")
	b.WriteString(contextOnlyContract)

	b.WriteString("\n\nContext:\n")
	if len(chunks) == 0 {
		b.WriteString(emptyContext)
	}
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(c.Text)
	}

	b.WriteString("\n\nQuestion:\n")
	b.WriteString(question)
	b.WriteString("\n\nAnswer clearly and in a structured way.\n")

	return b.String()
}
