package filter

import (
	"slices"

	"github.com/meinrag/meinrag/internal/domain/passage"
)

// Filter is a conjunctive predicate over passages: owner equality, document
// membership, and collection tag membership. The zero value matches every
// passage.
//
// A Filter whose document set resolved to empty (e.g. a collection with zero
// matching documents) is represented by None(): it matches nothing, and must
// never degrade to "no filter".
type Filter struct {
	owner      string
	docIDs     map[string]struct{} // nil = no document constraint
	collection string
	matchNone  bool
}

// New creates a Filter. An empty docIDs slice means "no document constraint";
// use None for a filter that must match nothing.
func New(owner string, docIDs []string, collection string) Filter {
	f := Filter{owner: owner, collection: collection}
	if len(docIDs) > 0 {
		f.docIDs = make(map[string]struct{}, len(docIDs))
		for _, id := range docIDs {
			f.docIDs[id] = struct{}{}
		}
	}
	return f
}

// None returns a Filter guaranteed to match no passage.
func None() Filter {
	return Filter{matchNone: true}
}

// MatchesNone reports whether the filter can never match (resolved-empty set).
func (f Filter) MatchesNone() bool { return f.matchNone }

// IsEmpty reports whether the filter has no constraints at all.
func (f Filter) IsEmpty() bool {
	return !f.matchNone && f.owner == "" && f.docIDs == nil && f.collection == ""
}

// Owner returns the owner constraint ("" = unconstrained).
func (f Filter) Owner() string { return f.owner }

// Collection returns the collection tag constraint ("" = unconstrained).
func (f Filter) Collection() string { return f.collection }

// HasDocumentIDs reports whether a document membership constraint is set.
func (f Filter) HasDocumentIDs() bool { return f.docIDs != nil }

// DocumentIDs returns the allowed document ids, sorted for determinism.
func (f Filter) DocumentIDs() []string {
	if f.docIDs == nil {
		return nil
	}
	ids := make([]string, 0, len(f.docIDs))
	for id := range f.docIDs {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Matches reports whether the passage satisfies every constraint.
func (f Filter) Matches(p passage.Passage) bool {
	if f.matchNone {
		return false
	}
	if f.owner != "" && p.Owner() != f.owner {
		return false
	}
	if f.docIDs != nil {
		if _, ok := f.docIDs[p.DocumentID()]; !ok {
			return false
		}
	}
	if f.collection != "" && !p.HasTag(f.collection) {
		return false
	}
	return true
}
