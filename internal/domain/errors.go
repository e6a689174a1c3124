package domain

import "errors"

var (
	// ErrInvalidRequest signals a caller error (bad top_k, malformed filter spec).
	ErrInvalidRequest = errors.New("invalid request")
	// ErrIndexUnavailable signals that a search backend could not serve the query.
	// Never silently mapped to an empty result: an empty answer over a non-empty
	// corpus would read as "no relevant documents" downstream.
	ErrIndexUnavailable = errors.New("index unavailable")
	// ErrDocumentNotFound signals a missing document.
	ErrDocumentNotFound = errors.New("document not found")
	// ErrCorpusTooLarge signals that a full passage scan exceeded the configured limit.
	ErrCorpusTooLarge = errors.New("corpus too large for full scan")
	// ErrVectorDimMismatch signals an embedding dimension mismatch.
	ErrVectorDimMismatch = errors.New("vector dimension mismatch")
	// ErrEmbeddingProviderError signals an embedding provider failure.
	ErrEmbeddingProviderError = errors.New("embedding provider error")
)
