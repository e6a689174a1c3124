// Package vector defines the storage contract for passage embeddings.
package vector

import (
	"context"

	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
)

// Score is a vector similarity (higher is better). It is deliberately a
// distinct type from lexical.Score: raw scores from different strategies are
// not comparable and must only cross into fusion as ranks.
type Score float64

// Candidate is a single vector search hit.
type Candidate struct {
	Passage passage.Passage
	Score   Score
}

// Index is the passage embedding store contract. Backends differ in filtering
// capability: callers must consult SupportsNativeFilter (via Searcher) rather
// than branching on backend identity.
type Index interface {
	// Search returns up to k passages by descending similarity. Backends
	// without native filtering ignore the filter; wrap with Searcher.
	Search(ctx context.Context, embedding []float32, k int, f filter.Filter) ([]Candidate, error)

	// Upsert replaces the passage sets of all affected documents in bulk.
	// A concurrent search sees either the old or the new state of each
	// affected document, never a partial one.
	Upsert(ctx context.Context, passages []passage.Passage) error

	// DeleteDocument removes every passage of the document.
	DeleteDocument(ctx context.Context, documentID string) error

	// UpdateDocumentTags rewrites the denormalized tag set on every passage
	// of the document without touching text or embedding.
	UpdateDocumentTags(ctx context.Context, documentID string, tags []string) error

	// AllPassages returns the matching passage set, ordered by global id.
	// O(corpus); used only to build the lexical index, never on the plain
	// vector path. Refuses with domain.ErrCorpusTooLarge above the
	// configured scan limit.
	AllPassages(ctx context.Context, f filter.Filter) ([]passage.Passage, error)

	// SupportsNativeFilter reports whether Search applies the filter itself.
	SupportsNativeFilter() bool
}
