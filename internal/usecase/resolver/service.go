// Package resolver turns request-level scoping (owner, explicit document
// IDs, collection name) into a concrete passage filter.
package resolver

import (
	"context"
	"fmt"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
)

// CollectionResolver resolves a collection name to the owner's document IDs.
type CollectionResolver interface {
	ResolveCollection(ctx context.Context, owner, name string) ([]string, error)
}

// Service resolves request scoping into filters.
type Service struct {
	collections CollectionResolver
}

// New creates a resolver service.
func New(collections CollectionResolver) *Service {
	return &Service{collections: collections}
}

// Resolve builds the passage filter for a retrieval request. A collection
// is resolved to its current document IDs; an unknown or empty collection
// yields a match-nothing filter so the caller can skip the indexes
// entirely. Explicit document IDs are intersected with the collection.
func (s *Service) Resolve(ctx context.Context, owner string, documentIDs []string, collection string) (filter.Filter, error) {
	if owner == "" {
		return filter.Filter{}, fmt.Errorf("%w: owner is required", domain.ErrInvalidRequest)
	}

	if collection == "" {
		return filter.New(owner, documentIDs, ""), nil
	}

	resolved, err := s.collections.ResolveCollection(ctx, owner, collection)
	if err != nil {
		return filter.Filter{}, fmt.Errorf("resolve collection %s: %w", collection, err)
	}
	if len(resolved) == 0 {
		return filter.None(), nil
	}

	if len(documentIDs) == 0 {
		return filter.New(owner, resolved, ""), nil
	}

	inCollection := make(map[string]bool, len(resolved))
	for _, id := range resolved {
		inCollection[id] = true
	}
	intersection := make([]string, 0, len(documentIDs))
	for _, id := range documentIDs {
		if inCollection[id] {
			intersection = append(intersection, id)
		}
	}
	if len(intersection) == 0 {
		return filter.None(), nil
	}
	return filter.New(owner, intersection, ""), nil
}
