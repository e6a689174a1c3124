package ingest

import (
	"context"
	"fmt"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/passage"
)

// PassageInput is one unit of text to ingest. ID is unique within the
// document; Position is the ordinal within the source document.
type PassageInput struct {
	ID       string
	Text     string
	Position int
}

// Service handles document ingestion with automatic vectorization.
type Service struct {
	metadata  MetadataRepository
	index     VectorIndex
	embedder  domain.Embedder
	vectorDim int
}

// New creates an ingestion service. vectorDim > 0 enforces the embedding
// dimension on every produced vector.
func New(metadata MetadataRepository, index VectorIndex, embedder domain.Embedder, vectorDim int) *Service {
	return &Service{
		metadata:  metadata,
		index:     index,
		embedder:  embedder,
		vectorDim: vectorDim,
	}
}

// ReplaceDocument vectorizes the given passages and replaces the document
// wholesale: metadata first, then the passage set in the index. Passages
// absent from the new set are removed.
func (s *Service) ReplaceDocument(
	ctx context.Context, owner, documentID string, tags []string, inputs []PassageInput,
) (int, error) {
	if owner == "" || documentID == "" {
		return 0, fmt.Errorf("%w: owner and document ID are required", domain.ErrInvalidRequest)
	}
	if len(inputs) == 0 {
		return 0, fmt.Errorf("%w: at least one passage is required", domain.ErrInvalidRequest)
	}

	passages := make([]passage.Passage, 0, len(inputs))
	totalTokens := 0
	for _, in := range inputs {
		result, err := s.embedder.Embed(ctx, in.Text)
		if err != nil {
			return 0, fmt.Errorf("vectorize passage %s: %w", in.ID, err)
		}
		if s.vectorDim > 0 && len(result.Embedding) != s.vectorDim {
			return 0, fmt.Errorf(
				"vector dimension mismatch: got %d, want %d: %w",
				len(result.Embedding), s.vectorDim, domain.ErrVectorDimMismatch,
			)
		}
		totalTokens += result.TotalTokens

		p, err := passage.New(in.ID, documentID, in.Text, in.Position, result.Embedding, tags, owner)
		if err != nil {
			return 0, fmt.Errorf("%w: passage %s: %v", domain.ErrInvalidRequest, in.ID, err)
		}
		passages = append(passages, p)
	}

	if err := s.metadata.SaveDocument(ctx, owner, documentID, tags); err != nil {
		return 0, fmt.Errorf("save document metadata: %w", err)
	}
	if err := s.index.Upsert(ctx, passages); err != nil {
		return 0, fmt.Errorf("upsert passages: %w", err)
	}
	return totalTokens, nil
}

// DeleteDocument removes a document's metadata and all of its passages.
// Deleting an unknown document is a no-op.
func (s *Service) DeleteDocument(ctx context.Context, owner, documentID string) error {
	if owner == "" || documentID == "" {
		return fmt.Errorf("%w: owner and document ID are required", domain.ErrInvalidRequest)
	}

	if err := s.metadata.DeleteDocument(ctx, owner, documentID); err != nil {
		return fmt.Errorf("delete document metadata: %w", err)
	}
	if err := s.index.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("delete passages: %w", err)
	}
	return nil
}

// UpdateTags replaces the document's tag list and propagates it to every
// stored passage without touching embeddings.
func (s *Service) UpdateTags(ctx context.Context, owner, documentID string, tags []string) error {
	if owner == "" || documentID == "" {
		return fmt.Errorf("%w: owner and document ID are required", domain.ErrInvalidRequest)
	}

	if err := s.metadata.UpdateTags(ctx, owner, documentID, tags); err != nil {
		return fmt.Errorf("update document tags: %w", err)
	}
	if err := s.index.UpdateDocumentTags(ctx, documentID, tags); err != nil {
		return fmt.Errorf("propagate tags to passages: %w", err)
	}
	return nil
}
