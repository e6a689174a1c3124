package retrieval

import (
	"sort"

	"github.com/meinrag/meinrag/internal/domain/passage"
)

// DefaultRRFOffset dampens rank-1 dominance in reciprocal-rank fusion.
const DefaultRRFOffset = 60

// rankedList is one source's ranking, best first, with its fusion weight.
type rankedList struct {
	passages []passage.Passage
	weight   float64
}

// fusedCandidate is a passage with its reciprocal-rank-fusion score.
type fusedCandidate struct {
	p        passage.Passage
	score    float64
	bestRank int
}

// fuse merges ranked lists via weighted reciprocal-rank fusion: each
// passage scores sum(weight / (offset + rank)) over the sources listing it,
// with 1-based ranks. Ties break by the best source rank, then global id.
// The result is truncated to k.
func fuse(lists []rankedList, offset, k int) []fusedCandidate {
	if offset <= 0 {
		offset = DefaultRRFOffset
	}

	byID := make(map[string]*fusedCandidate)
	for _, list := range lists {
		for i := range list.passages {
			p := list.passages[i]
			rank := i + 1
			f, ok := byID[p.GlobalID()]
			if !ok {
				f = &fusedCandidate{p: p, bestRank: rank}
				byID[p.GlobalID()] = f
			}
			f.score += list.weight / float64(offset+rank)
			if rank < f.bestRank {
				f.bestRank = rank
			}
		}
	}

	out := make([]fusedCandidate, 0, len(byID))
	for _, f := range byID {
		out = append(out, *f)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		if out[i].bestRank != out[j].bestRank {
			return out[i].bestRank < out[j].bestRank
		}
		return out[i].p.GlobalID() < out[j].p.GlobalID()
	})

	if len(out) > k {
		out = out[:k]
	}
	return out
}
