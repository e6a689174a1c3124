// Package memory provides an in-process vector index backed by a flat
// cosine-similarity scan. It keeps every passage in memory and is meant
// for single-node deployments and tests; it reports no native filtering
// support, so callers fall back to over-fetch with post-filtering.
package memory

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"
	"sync"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
	"github.com/meinrag/meinrag/internal/index/vector"
)

// DefaultMaxScan bounds AllPassages so a lexical rebuild cannot pin an
// unbounded corpus in memory.
const DefaultMaxScan = 50_000

type entry struct {
	p    passage.Passage
	norm float64
}

// Index is a flat in-memory vector index. All methods are safe for
// concurrent use; Upsert replaces a document's passages atomically with
// respect to concurrent searches.
type Index struct {
	mu      sync.RWMutex
	docs    map[string][]entry
	dim     int
	maxScan int
}

// Option configures the index.
type Option func(*Index)

// WithMaxScan overrides the AllPassages corpus limit.
func WithMaxScan(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.maxScan = n
		}
	}
}

// New creates an empty index. The vector dimension is fixed by the first
// upserted passage.
func New(opts ...Option) *Index {
	ix := &Index{
		docs:    make(map[string][]entry),
		maxScan: DefaultMaxScan,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// Search returns the k nearest passages by cosine similarity. The filter
// is ignored: this backend reports SupportsNativeFilter() == false and
// expects the caller to post-filter.
func (ix *Index) Search(_ context.Context, embedding []float32, k int, _ filter.Filter) ([]vector.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrInvalidRequest)
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.dim != 0 && len(embedding) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			domain.ErrVectorDimMismatch, len(embedding), ix.dim)
	}

	qnorm := l2norm(embedding)
	if qnorm == 0 {
		return nil, fmt.Errorf("%w: zero query vector", domain.ErrInvalidRequest)
	}

	out := make([]vector.Candidate, 0, k)
	for _, entries := range ix.docs {
		for _, e := range entries {
			score := dot(embedding, e.p.Embedding()) / (qnorm * e.norm)
			out = append(out, vector.Candidate{Passage: e.p, Score: vector.Score(score)})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Passage.GlobalID() < out[j].Passage.GlobalID()
	})
	if len(out) > k {
		out = out[:k]
	}
	return out, nil
}

// Upsert replaces the stored passages of every document present in the
// batch. Passages are grouped by document; each affected document's set
// is swapped wholesale under the write lock.
func (ix *Index) Upsert(_ context.Context, passages []passage.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	byDoc := make(map[string][]entry)
	for i := range passages {
		p := passages[i]
		emb := p.Embedding()
		if len(emb) == 0 {
			return fmt.Errorf("%w: passage %s has no embedding", domain.ErrInvalidRequest, p.GlobalID())
		}
		n := l2norm(emb)
		if n == 0 {
			return fmt.Errorf("%w: passage %s has a zero vector", domain.ErrInvalidRequest, p.GlobalID())
		}
		byDoc[p.DocumentID()] = append(byDoc[p.DocumentID()], entry{p: p, norm: n})
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, entries := range byDoc {
		for _, e := range entries {
			if ix.dim == 0 {
				ix.dim = len(e.p.Embedding())
			} else if len(e.p.Embedding()) != ix.dim {
				return fmt.Errorf("%w: passage %s has %d dimensions, index has %d",
					domain.ErrVectorDimMismatch, e.p.GlobalID(), len(e.p.Embedding()), ix.dim)
			}
		}
	}
	for docID, entries := range byDoc {
		ix.docs[docID] = entries
	}
	return nil
}

// DeleteDocument removes every passage of the document. Deleting an
// unknown document is a no-op.
func (ix *Index) DeleteDocument(_ context.Context, documentID string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	delete(ix.docs, documentID)
	return nil
}

// UpdateDocumentTags rewrites the tag set on every passage of the
// document without touching embeddings.
func (ix *Index) UpdateDocumentTags(_ context.Context, documentID string, tags []string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries, ok := ix.docs[documentID]
	if !ok {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}
	updated := make([]entry, len(entries))
	for i, e := range entries {
		updated[i] = entry{p: e.p.WithTags(tags), norm: e.norm}
	}
	ix.docs[documentID] = updated
	return nil
}

// AllPassages returns every passage matching the filter, ordered by
// global id. It fails with ErrCorpusTooLarge when the match count
// exceeds the scan limit.
func (ix *Index) AllPassages(_ context.Context, f filter.Filter) ([]passage.Passage, error) {
	if f.MatchesNone() {
		return nil, nil
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]passage.Passage, 0)
	for _, entries := range ix.docs {
		for _, e := range entries {
			if !f.Matches(e.p) {
				continue
			}
			if len(out) >= ix.maxScan {
				return nil, fmt.Errorf("%w: more than %d passages match", domain.ErrCorpusTooLarge, ix.maxScan)
			}
			out = append(out, e.p)
		}
	}
	slices.SortFunc(out, func(a, b passage.Passage) int {
		switch {
		case a.GlobalID() < b.GlobalID():
			return -1
		case a.GlobalID() > b.GlobalID():
			return 1
		}
		return 0
	})
	return out, nil
}

// SupportsNativeFilter reports false: the flat scan ranks the whole
// corpus and leaves filtering to the caller.
func (ix *Index) SupportsNativeFilter() bool { return false }

func dot(a, b []float32) float64 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return s
}

func l2norm(v []float32) float64 {
	var s float64
	for _, x := range v {
		s += float64(x) * float64(x)
	}
	return math.Sqrt(s)
}
