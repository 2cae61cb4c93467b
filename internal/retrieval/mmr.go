package retrieval

import (
	"math"

	"docrag/internal/database"
	"docrag/internal/models"
)

// MMR picks k candidates by maximal marginal relevance: each step takes the
// candidate maximising lambda*sim(query) - (1-lambda)*max sim(selected).
// lambda 1 is pure relevance, 0 is pure diversity.
func MMR(query []float64, candidates []models.ScoredChunk, k int, lambda float64) []models.Chunk {
	if k <= 0 || len(candidates) == 0 {
		return nil
	}
	k = min(k, len(candidates))

	relevance := make([]float64, len(candidates))
	for i, c := range candidates {
		relevance[i] = database.CosineSimilarity(query, c.Embedding)
	}

	picked := make([]bool, len(candidates))
	selected := make([]int, 0, k)
	for len(selected) < k {
		best, bestScore := -1, math.Inf(-1)
		for i := range candidates {
			if picked[i] {
				continue
			}
			redundancy := 0.0
			if len(selected) > 0 {
				redundancy = math.Inf(-1)
			}
			for _, j := range selected {
				redundancy = max(redundancy, database.CosineSimilarity(candidates[i].Embedding, candidates[j].Embedding))
			}
			score := lambda*relevance[i] - (1-lambda)*redundancy
			if score > bestScore {
				best, bestScore = i, score
			}
		}
		picked[best] = true
		selected = append(selected, best)
	}

	out := make([]models.Chunk, len(selected))
	for i, idx := range selected {
		out[i] = candidates[idx].Chunk
	}
	return out
}
