package passage

import (
	"fmt"
	"slices"
	"strings"
)

// MaxTextSize is the maximum passage text size in bytes.
const MaxTextSize = 65536 // 64KB

// Passage is an immutable unit of retrievable text (value object).
// Tags and owner are denormalized from the owning document: a document-level
// tag change is propagated to every passage without re-embedding.
type Passage struct {
	id         string
	documentID string
	text       string
	position   int
	embedding  []float32
	tags       []string // sorted, deduplicated; empty, never nil semantics
	owner      string
}

// New validates and creates a Passage.
// id is unique within its document; position is the ordinal within the source
// document (used for citation); the embedding is produced externally.
func New(
	id, documentID, text string, position int,
	embedding []float32, tags []string, owner string,
) (Passage, error) {
	if id == "" {
		return Passage{}, fmt.Errorf("passage ID is required")
	}
	if documentID == "" {
		return Passage{}, fmt.Errorf("document ID is required")
	}
	if owner == "" {
		return Passage{}, fmt.Errorf("owner is required")
	}
	if text == "" {
		return Passage{}, fmt.Errorf("text is required")
	}
	if len(text) > MaxTextSize {
		return Passage{}, fmt.Errorf("text too large (max %d bytes)", MaxTextSize)
	}
	if position < 0 {
		return Passage{}, fmt.Errorf("position must be non-negative")
	}
	if len(embedding) == 0 {
		return Passage{}, fmt.Errorf("embedding is required")
	}

	return Passage{
		id:         id,
		documentID: documentID,
		text:       text,
		position:   position,
		embedding:  embedding,
		tags:       normalizeTags(tags),
		owner:      owner,
	}, nil
}

// Reconstruct creates a Passage without validation (storage hydration).
func Reconstruct(
	id, documentID, text string, position int,
	embedding []float32, tags []string, owner string,
) Passage {
	return Passage{
		id: id, documentID: documentID, text: text, position: position,
		embedding: embedding, tags: normalizeTags(tags), owner: owner,
	}
}

// ID returns the passage identifier (unique within its document).
func (p *Passage) ID() string { return p.id }

// DocumentID returns the owning document identifier.
func (p *Passage) DocumentID() string { return p.documentID }

// GlobalID returns the corpus-wide identifier, stable across tag changes.
func (p *Passage) GlobalID() string { return p.documentID + ":" + p.id }

// Text returns the passage content.
func (p *Passage) Text() string { return p.text }

// Position returns the ordinal index within the source document.
func (p *Passage) Position() int { return p.position }

// Embedding returns the embedding vector.
func (p *Passage) Embedding() []float32 { return p.embedding }

// Tags returns the collection names the owning document belongs to (sorted).
func (p *Passage) Tags() []string { return p.tags }

// Owner returns the identifier of the user whose document produced this passage.
func (p *Passage) Owner() string { return p.owner }

// HasTag reports whether the passage's document carries the given collection tag.
func (p *Passage) HasTag(name string) bool {
	_, found := slices.BinarySearch(p.tags, name)
	return found
}

// WithTags returns a copy with the tag set replaced. Text, embedding and
// position are untouched: tag propagation never re-embeds.
func (p *Passage) WithTags(tags []string) Passage {
	c := *p
	c.tags = normalizeTags(tags)
	return c
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t != "" {
			out = append(out, t)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
