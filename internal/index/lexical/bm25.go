// Package lexical implements an in-process BM25 index over passages.
// An Index is immutable once built: retrieval builds a fresh index from
// the filtered corpus and the previous one remains valid for readers
// until released, so a rebuild never disturbs queries in flight.
package lexical

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/meinrag/meinrag/internal/domain/passage"
)

// Score is a raw BM25 relevance score. It shares no scale with vector
// similarity; only ranks may be combined across indexes.
type Score float64

// Candidate is a scored lexical match.
type Candidate struct {
	Passage passage.Passage
	Score   Score
}

// Params are the BM25 free parameters.
type Params struct {
	K1 float64
	B  float64
}

// DefaultParams returns the conventional BM25 settings.
func DefaultParams() Params {
	return Params{K1: 1.5, B: 0.75}
}

// Tokenize lowercases the text and splits it on any rune that is not a
// letter or digit. Query and corpus text go through the same path so
// matching stays consistent.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

type doc struct {
	p      passage.Passage
	tf     map[string]int
	length int
}

// Index is an immutable BM25 index over a fixed passage set.
type Index struct {
	params Params
	docs   []doc
	df     map[string]int
	avgLen float64
}

// Build constructs an index over the given passages. Building over an
// empty corpus yields an index whose searches return nothing.
func Build(passages []passage.Passage, params Params) *Index {
	ix := &Index{
		params: params,
		docs:   make([]doc, 0, len(passages)),
		df:     make(map[string]int),
	}

	var total int
	for i := range passages {
		p := passages[i]
		terms := Tokenize(p.Text())
		tf := make(map[string]int, len(terms))
		for _, t := range terms {
			tf[t]++
		}
		for t := range tf {
			ix.df[t]++
		}
		ix.docs = append(ix.docs, doc{p: p, tf: tf, length: len(terms)})
		total += len(terms)
	}
	if len(ix.docs) > 0 {
		ix.avgLen = float64(total) / float64(len(ix.docs))
	}
	return ix
}

// Len returns the number of indexed passages.
func (ix *Index) Len() int { return len(ix.docs) }

// Search scores every indexed passage against the query and returns the
// top k, best first. Ties break on global id so rankings are stable.
func (ix *Index) Search(query string, k int) []Candidate {
	if k <= 0 || len(ix.docs) == 0 {
		return nil
	}
	terms := Tokenize(query)
	if len(terms) == 0 {
		return nil
	}

	n := float64(len(ix.docs))
	idf := make(map[string]float64, len(terms))
	for _, t := range terms {
		if _, done := idf[t]; done {
			continue
		}
		df := float64(ix.df[t])
		idf[t] = math.Log(1 + (n-df+0.5)/(df+0.5))
	}

	out := make([]Candidate, 0, len(ix.docs))
	for i := range ix.docs {
		d := &ix.docs[i]
		var score float64
		for _, t := range terms {
			tf := float64(d.tf[t])
			if tf == 0 {
				continue
			}
			norm := 1 - ix.params.B + ix.params.B*float64(d.length)/ix.avgLen
			score += idf[t] * tf * (ix.params.K1 + 1) / (tf + ix.params.K1*norm)
		}
		if score > 0 {
			out = append(out, Candidate{Passage: d.p, Score: Score(score)})
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
	return out
}
