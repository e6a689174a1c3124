// Package metadata stores document ownership, tags and collection
// membership. Collections are materialized as sets of document IDs per
// owner, so resolving a collection to its documents is a single set read.
package metadata

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/meinrag/meinrag/internal/domain"
)

// store is the consumer interface for metadata (ISP).
type store interface {
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Del(ctx context.Context, key string) error
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
}

// docMeta is the stored metadata of an ingested document.
type docMeta struct {
	Owner string
	Tags  []string
}

// Repo implements document metadata persistence on Redis.
type Repo struct {
	store  store
	prefix string
}

// New creates a metadata repository. prefix namespaces all keys.
func New(s store, prefix string) *Repo {
	return &Repo{store: s, prefix: prefix}
}

// SaveDocument upserts document metadata and moves the document between
// collection sets to match the new tag list.
func (r *Repo) SaveDocument(ctx context.Context, owner, documentID string, tags []string) error {
	if documentID == "" || owner == "" {
		return fmt.Errorf("%w: document ID and owner are required", domain.ErrInvalidRequest)
	}

	prev, err := r.load(ctx, documentID)
	if err != nil && !errors.Is(err, errNotFound) {
		return err
	}
	if err == nil && prev.Owner != owner {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}

	normalized := normalizeTags(tags)
	if err := r.store.HSet(ctx, r.docKey(documentID), map[string]string{
		"owner": owner,
		"tags":  strings.Join(normalized, ","),
	}); err != nil {
		return fmt.Errorf("hset document %s: %w", documentID, err)
	}

	return r.syncCollections(ctx, owner, documentID, prev.Tags, normalized)
}

// UpdateTags replaces the tag list of an existing document.
func (r *Repo) UpdateTags(ctx context.Context, owner, documentID string, tags []string) error {
	prev, err := r.load(ctx, documentID)
	if errors.Is(err, errNotFound) || (err == nil && prev.Owner != owner) {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}
	if err != nil {
		return err
	}
	return r.SaveDocument(ctx, owner, documentID, tags)
}

// DeleteDocument removes document metadata and its collection memberships.
// Deleting an unknown document is a no-op; deleting another owner's
// document fails as not found.
func (r *Repo) DeleteDocument(ctx context.Context, owner, documentID string) error {
	prev, err := r.load(ctx, documentID)
	if errors.Is(err, errNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.Owner != owner {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}

	for _, tag := range prev.Tags {
		if err := r.store.SRem(ctx, r.collKey(owner, tag), documentID); err != nil {
			return fmt.Errorf("srem collection %s: %w", tag, err)
		}
	}
	if err := r.store.Del(ctx, r.docKey(documentID)); err != nil {
		return fmt.Errorf("del document %s: %w", documentID, err)
	}
	return nil
}

// ResolveCollection returns the IDs of the owner's documents tagged with
// the collection name, sorted. An unknown collection resolves to an
// empty slice, never an error.
func (r *Repo) ResolveCollection(ctx context.Context, owner, name string) ([]string, error) {
	members, err := r.store.SMembers(ctx, r.collKey(owner, name))
	if err != nil {
		return nil, fmt.Errorf("smembers collection %s: %w", name, err)
	}
	sort.Strings(members)
	return members, nil
}

// OwnsDocument reports whether the document exists and belongs to owner.
func (r *Repo) OwnsDocument(ctx context.Context, owner, documentID string) (bool, error) {
	doc, err := r.load(ctx, documentID)
	if errors.Is(err, errNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return doc.Owner == owner, nil
}

var errNotFound = errors.New("metadata: document not found")

func (r *Repo) load(ctx context.Context, documentID string) (docMeta, error) {
	m, err := r.store.HGetAll(ctx, r.docKey(documentID))
	if err != nil {
		return docMeta{}, fmt.Errorf("hgetall document %s: %w", documentID, err)
	}
	if len(m) == 0 {
		return docMeta{}, errNotFound
	}

	var tags []string
	if raw := m["tags"]; raw != "" {
		tags = strings.Split(raw, ",")
	}
	return docMeta{Owner: m["owner"], Tags: tags}, nil
}

func (r *Repo) syncCollections(ctx context.Context, owner, documentID string, oldTags, newTags []string) error {
	current := make(map[string]bool, len(newTags))
	for _, tag := range newTags {
		current[tag] = true
		if err := r.store.SAdd(ctx, r.collKey(owner, tag), documentID); err != nil {
			return fmt.Errorf("sadd collection %s: %w", tag, err)
		}
	}
	for _, tag := range oldTags {
		if current[tag] {
			continue
		}
		if err := r.store.SRem(ctx, r.collKey(owner, tag), documentID); err != nil {
			return fmt.Errorf("srem collection %s: %w", tag, err)
		}
	}
	return nil
}

func (r *Repo) docKey(documentID string) string {
	return r.prefix + "doc:" + documentID
}

func (r *Repo) collKey(owner, name string) string {
	return r.prefix + "coll:" + owner + ":" + name
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}
