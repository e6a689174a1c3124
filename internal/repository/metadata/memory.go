package metadata

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/meinrag/meinrag/internal/domain"
)

// Memory is an in-process metadata repository for single-node
// deployments and tests. Safe for concurrent use.
type Memory struct {
	mu   sync.RWMutex
	docs map[string]docMeta
}

// NewMemory creates an empty in-memory metadata repository.
func NewMemory() *Memory {
	return &Memory{docs: make(map[string]docMeta)}
}

// SaveDocument upserts document metadata.
func (m *Memory) SaveDocument(_ context.Context, owner, documentID string, tags []string) error {
	if documentID == "" || owner == "" {
		return fmt.Errorf("%w: document ID and owner are required", domain.ErrInvalidRequest)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if prev, ok := m.docs[documentID]; ok && prev.Owner != owner {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}
	m.docs[documentID] = docMeta{Owner: owner, Tags: normalizeTags(tags)}
	return nil
}

// UpdateTags replaces the tag list of an existing document.
func (m *Memory) UpdateTags(_ context.Context, owner, documentID string, tags []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.docs[documentID]
	if !ok || prev.Owner != owner {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}
	prev.Tags = normalizeTags(tags)
	m.docs[documentID] = prev
	return nil
}

// DeleteDocument removes document metadata. Unknown documents are a
// no-op; another owner's documents fail as not found.
func (m *Memory) DeleteDocument(_ context.Context, owner, documentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev, ok := m.docs[documentID]
	if !ok {
		return nil
	}
	if prev.Owner != owner {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}
	delete(m.docs, documentID)
	return nil
}

// ResolveCollection returns the IDs of the owner's documents carrying
// the collection tag, sorted.
func (m *Memory) ResolveCollection(_ context.Context, owner, name string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]string, 0)
	for id, doc := range m.docs {
		if doc.Owner != owner {
			continue
		}
		for _, tag := range doc.Tags {
			if tag == name {
				out = append(out, id)
				break
			}
		}
	}
	sort.Strings(out)
	return out, nil
}

// OwnsDocument reports whether the document exists and belongs to owner.
func (m *Memory) OwnsDocument(_ context.Context, owner, documentID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[documentID]
	return ok && doc.Owner == owner, nil
}
