package result

import "strings"

// Source names the retrieval stage that produced an item's score.
type Source string

// Retrieval sources.
const (
	SourceVector   Source = "vector"
	SourceLexical  Source = "lexical"
	SourceFused    Source = "fused"
	SourceReranked Source = "reranked"
)

// Item is a single entry of the final ranked passage list, annotated with its
// source document and position for citation.
type Item struct {
	passageID  string
	documentID string
	position   int
	text       string
	score      float64
	source     Source
}

// NewItem creates a result item.
func NewItem(passageID, documentID string, position int, text string, score float64, source Source) Item {
	return Item{
		passageID: passageID, documentID: documentID, position: position,
		text: text, score: score, source: source,
	}
}

// PassageID returns the passage identifier within its document.
func (i *Item) PassageID() string { return i.passageID }

// DocumentID returns the source document identifier.
func (i *Item) DocumentID() string { return i.documentID }

// Position returns the passage's ordinal within the source document.
func (i *Item) Position() int { return i.position }

// Text returns the passage content used as generation context.
func (i *Item) Text() string { return i.text }

// Score returns the relevance score. Scores are only comparable within one
// source; ordering across sources is established before items are built.
func (i *Item) Score() float64 { return i.score }

// Source returns the stage that produced the final score.
func (i *Item) Source() Source { return i.source }

// Snippet returns the text truncated at a sentence or word boundary, for
// compact citation display.
func (i *Item) Snippet(maxLen int) string {
	text := i.text
	if len(text) <= maxLen {
		return text
	}
	// Prefer the last sentence end within the limit, if it keeps at least
	// half the budget.
	for _, sep := range []string{". ", ".\n", "! ", "? "} {
		if idx := strings.LastIndex(text[:maxLen], sep); idx > maxLen/2 {
			return text[:idx+1]
		}
	}
	if idx := strings.LastIndex(text[:maxLen], " "); idx > maxLen/2 {
		return text[:idx] + "..."
	}
	return text[:maxLen] + "..."
}
