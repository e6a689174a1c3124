package meinrag

import "github.com/meinrag/meinrag/internal/domain"

// Sentinel errors re-exported from the domain layer.
// Use errors.Is() to check.
var (
	ErrInvalidRequest         = domain.ErrInvalidRequest
	ErrIndexUnavailable       = domain.ErrIndexUnavailable
	ErrDocumentNotFound       = domain.ErrDocumentNotFound
	ErrCorpusTooLarge         = domain.ErrCorpusTooLarge
	ErrVectorDimMismatch      = domain.ErrVectorDimMismatch
	ErrEmbeddingProviderError = domain.ErrEmbeddingProviderError
)
