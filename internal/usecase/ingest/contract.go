package ingest

import (
	"context"

	"github.com/meinrag/meinrag/internal/domain/passage"
)

// MetadataRepository defines the document metadata contract needed by ingestion.
type MetadataRepository interface {
	SaveDocument(ctx context.Context, owner, documentID string, tags []string) error
	UpdateTags(ctx context.Context, owner, documentID string, tags []string) error
	DeleteDocument(ctx context.Context, owner, documentID string) error
	OwnsDocument(ctx context.Context, owner, documentID string) (bool, error)
}

// VectorIndex defines the passage index contract needed by ingestion.
type VectorIndex interface {
	Upsert(ctx context.Context, passages []passage.Passage) error
	DeleteDocument(ctx context.Context, documentID string) error
	UpdateDocumentTags(ctx context.Context, documentID string, tags []string) error
}
