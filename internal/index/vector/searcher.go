package vector

import (
	"context"
	"fmt"

	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
)

// DefaultOverfetchFactor is the unfiltered fetch multiplier used when the
// backend cannot filter natively.
const DefaultOverfetchFactor = 5

// Searcher adapts an Index to filtered search regardless of backend
// capability. With native filtering the filter is pushed down; otherwise it
// over-fetches k*factor unfiltered neighbors, drops non-matching passages and
// truncates to k. The over-fetch strategy can return fewer than k results
// when the filter is highly selective relative to the factor; callers must
// not assume exactly k results.
type Searcher struct {
	idx       Index
	overfetch int
}

// NewSearcher creates a Searcher. overfetchFactor <= 0 selects the default.
func NewSearcher(idx Index, overfetchFactor int) *Searcher {
	if overfetchFactor <= 0 {
		overfetchFactor = DefaultOverfetchFactor
	}
	return &Searcher{idx: idx, overfetch: overfetchFactor}
}

// Search returns up to k filter-matching passages by descending similarity.
func (s *Searcher) Search(ctx context.Context, embedding []float32, k int, f filter.Filter) ([]Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	if f.MatchesNone() {
		return nil, nil
	}

	if s.idx.SupportsNativeFilter() || f.IsEmpty() {
		return s.idx.Search(ctx, embedding, k, f)
	}

	candidates, err := s.idx.Search(ctx, embedding, k*s.overfetch, filter.Filter{})
	if err != nil {
		return nil, err
	}

	matched := make([]Candidate, 0, k)
	for _, c := range candidates {
		if !f.Matches(c.Passage) {
			continue
		}
		matched = append(matched, c)
		if len(matched) == k {
			break
		}
	}
	return matched, nil
}

// AllPassages proxies the full scan used for lexical index builds.
func (s *Searcher) AllPassages(ctx context.Context, f filter.Filter) ([]passage.Passage, error) {
	if f.MatchesNone() {
		return nil, nil
	}
	return s.idx.AllPassages(ctx, f)
}
