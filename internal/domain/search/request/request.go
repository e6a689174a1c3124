package request

import (
	"fmt"
	"time"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
)

// Search parameter limits and defaults.
const (
	// MaxQueryLength is the maximum allowed query length.
	MaxQueryLength = 4096
	DefaultTopK    = 4
	MaxTopK        = 100

	DefaultHybridFetchMultiplier = 2
	DefaultRerankMultiplier      = 3
	DefaultRerankTimeout         = 30 * time.Second
	DefaultLexicalWeight         = 0.5
)

// HybridOptions controls vector+lexical fusion for a single query.
type HybridOptions struct {
	Enabled bool
	// LexicalWeight is the RRF weight of the lexical source; the vector
	// source gets 1 - LexicalWeight.
	LexicalWeight float64
	// FetchMultiplier scales each source's fetch size relative to the
	// first-stage candidate count.
	FetchMultiplier int
}

// RerankOptions controls the optional second-pass re-ranking.
type RerankOptions struct {
	Enabled bool
	// Multiplier scales the candidate set fed to the judge (top_k * Multiplier).
	Multiplier int
	// Timeout bounds the judge call; on expiry the first-stage ranking is kept.
	Timeout time.Duration
}

// Request is a validated retrieval query. The embedding is produced by the
// caller (the core never embeds); the raw query text feeds the lexical path
// and the re-ranking judge.
type Request struct {
	query     string
	embedding []float32
	topK      int
	filter    filter.Filter
	hybrid    HybridOptions
	rerank    RerankOptions
}

// New validates and normalizes retrieval parameters.
// topK must be positive (a non-positive value is a caller error, not a
// default); topK above MaxTopK is clamped.
func New(
	query string,
	embedding []float32,
	topK int,
	f filter.Filter,
	hybrid HybridOptions,
	rerank RerankOptions,
) (Request, error) {
	if query == "" {
		return Request{}, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	if len(query) > MaxQueryLength {
		return Request{}, fmt.Errorf("%w: query too long (max %d chars)", domain.ErrInvalidRequest, MaxQueryLength)
	}
	if topK <= 0 {
		return Request{}, fmt.Errorf("%w: top_k must be positive, got %d", domain.ErrInvalidRequest, topK)
	}
	if topK > MaxTopK {
		topK = MaxTopK
	}
	if len(embedding) == 0 {
		return Request{}, fmt.Errorf("%w: query embedding is required", domain.ErrInvalidRequest)
	}
	if hybrid.Enabled {
		if hybrid.LexicalWeight < 0 || hybrid.LexicalWeight > 1 {
			return Request{}, fmt.Errorf("%w: lexical weight must be between 0 and 1", domain.ErrInvalidRequest)
		}
		if hybrid.FetchMultiplier <= 0 {
			hybrid.FetchMultiplier = DefaultHybridFetchMultiplier
		}
	}
	if rerank.Enabled {
		if rerank.Multiplier <= 0 {
			rerank.Multiplier = DefaultRerankMultiplier
		}
		if rerank.Timeout <= 0 {
			rerank.Timeout = DefaultRerankTimeout
		}
	}

	return Request{
		query:     query,
		embedding: embedding,
		topK:      topK,
		filter:    f,
		hybrid:    hybrid,
		rerank:    rerank,
	}, nil
}

// Query returns the raw query text.
func (r *Request) Query() string { return r.query }

// Embedding returns the externally produced query embedding.
func (r *Request) Embedding() []float32 { return r.embedding }

// TopK returns the requested result count.
func (r *Request) TopK() int { return r.topK }

// Filter returns the resolved passage filter.
func (r *Request) Filter() filter.Filter { return r.filter }

// Hybrid returns the hybrid search options.
func (r *Request) Hybrid() HybridOptions { return r.hybrid }

// Rerank returns the re-ranking options.
func (r *Request) Rerank() RerankOptions { return r.rerank }
