package retrieval

import (
	"context"

	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
	"github.com/meinrag/meinrag/internal/index/vector"
)

// VectorSearcher defines the filtered nearest-neighbor contract.
type VectorSearcher interface {
	Search(ctx context.Context, embedding []float32, k int, f filter.Filter) ([]vector.Candidate, error)
	// AllPassages returns the filter-matching passage set for lexical
	// index builds, ordered by global id.
	AllPassages(ctx context.Context, f filter.Filter) ([]passage.Passage, error)
}

// Judge is the external relevance-judgment service used for re-ranking.
// Rank returns indices into texts, best first; it may omit or invent
// indices — callers sanitize the ordering.
type Judge interface {
	Rank(ctx context.Context, query string, texts []string) ([]int, error)
}
