// Package redisearch implements the vector index on Redis 8+ via FT.SEARCH.
// Filters are pushed down to the engine as tag predicates, so this backend
// reports native filter support and searches are never over-fetched.
package redisearch

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/meinrag/meinrag/internal/db"
	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
	"github.com/meinrag/meinrag/internal/index/vector"
)

// store is the consumer interface for passage storage and search (ISP).
type store interface {
	HSetMulti(ctx context.Context, items []db.HashSetItem) error
	HGetAllMulti(ctx context.Context, keys []string) ([]map[string]string, error)
	DelMulti(ctx context.Context, keys []string) error
	Scan(ctx context.Context, pattern string) ([]string, error)
	CreateIndex(ctx context.Context, def *db.IndexDefinition) error
	SearchKNN(ctx context.Context, q *db.KNNQuery) (*db.SearchResult, error)
}

// HNSWConfig tunes the HNSW graph for the passage index.
type HNSWConfig struct {
	M           int
	EFConstruct int
}

// Index is a vector index over passage hashes in Redis.
type Index struct {
	store   store
	prefix  string
	dim     int
	hnsw    HNSWConfig
	maxScan int
}

// Option configures the index.
type Option func(*Index)

// WithHNSW overrides the HNSW build parameters.
func WithHNSW(cfg HNSWConfig) Option {
	return func(ix *Index) { ix.hnsw = cfg }
}

// WithMaxScan overrides the corpus limit for full scans.
func WithMaxScan(n int) Option {
	return func(ix *Index) {
		if n > 0 {
			ix.maxScan = n
		}
	}
}

// DefaultMaxScan bounds AllPassages so a lexical rebuild cannot pull an
// unbounded corpus over the wire.
const DefaultMaxScan = 50_000

// New creates a redisearch-backed vector index. prefix namespaces all
// keys (e.g. "meinrag:"); dim is the embedding dimensionality.
func New(s store, prefix string, dim int, opts ...Option) *Index {
	ix := &Index{
		store:   s,
		prefix:  prefix,
		dim:     dim,
		maxScan: DefaultMaxScan,
	}
	for _, o := range opts {
		o(ix)
	}
	return ix
}

// EnsureIndex creates the FT index if it does not exist yet.
func (ix *Index) EnsureIndex(ctx context.Context) error {
	def, err := db.NewIndex(ix.indexName()).
		Prefix(ix.keyPrefix()).
		Tag("owner").
		Tag("document_id").
		TagWithOpts("tags", ",", false).
		Numeric("position").
		VectorHNSW("__vector", ix.dim, db.DistanceCosine, ix.hnsw.M, ix.hnsw.EFConstruct).
		Build()
	if err != nil {
		return fmt.Errorf("build index definition: %w", err)
	}
	// the vector field is queried as @vector in KNN clauses
	def.Fields[len(def.Fields)-1].Alias = "vector"

	if err := ix.store.CreateIndex(ctx, def); err != nil {
		if errors.Is(err, db.ErrIndexExists) {
			return nil
		}
		return fmt.Errorf("create index %s: %w", ix.indexName(), err)
	}
	return nil
}

// Search returns the k nearest passages, with the filter applied inside
// the engine.
func (ix *Index) Search(ctx context.Context, embedding []float32, k int, f filter.Filter) ([]vector.Candidate, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive", domain.ErrInvalidRequest)
	}
	if f.MatchesNone() {
		return nil, nil
	}
	if len(embedding) != ix.dim {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			domain.ErrVectorDimMismatch, len(embedding), ix.dim)
	}

	sr, err := ix.store.SearchKNN(ctx, &db.KNNQuery{
		IndexName:    ix.indexName(),
		Filter:       f,
		Vector:       embedding,
		K:            k,
		ReturnFields: []string{"__content", "__vector_score", "passage_id", "document_id", "owner", "tags", "position"},
	})
	if err != nil {
		return nil, fmt.Errorf("search knn: %w", err)
	}

	out := make([]vector.Candidate, 0, len(sr.Entries))
	for _, entry := range sr.Entries {
		p, ok := parsePassageFields(entry.Fields)
		if !ok {
			continue
		}
		out = append(out, vector.Candidate{Passage: p, Score: vector.Score(entry.Score)})
	}
	return out, nil
}

// Upsert replaces the stored passages of every document present in the
// batch. Each document's old passages are deleted before the new set is
// written; both steps are pipelined, so concurrent readers may observe a
// bounded window where a document is partially indexed.
func (ix *Index) Upsert(ctx context.Context, passages []passage.Passage) error {
	if len(passages) == 0 {
		return nil
	}

	byDoc := make(map[string][]db.HashSetItem)
	for i := range passages {
		p := passages[i]
		if len(p.Embedding()) != ix.dim {
			return fmt.Errorf("%w: passage %s has %d dimensions, index has %d",
				domain.ErrVectorDimMismatch, p.GlobalID(), len(p.Embedding()), ix.dim)
		}
		byDoc[p.DocumentID()] = append(byDoc[p.DocumentID()], db.HashSetItem{
			Key:    ix.passageKey(p.DocumentID(), p.ID()),
			Fields: buildHashFields(&p),
		})
	}

	for docID, items := range byDoc {
		if err := ix.deleteDocumentKeys(ctx, docID); err != nil {
			return err
		}
		if err := ix.store.HSetMulti(ctx, items); err != nil {
			return fmt.Errorf("upsert document %s: %w", docID, err)
		}
	}
	return nil
}

// DeleteDocument removes every passage of the document. Deleting an
// unknown document is a no-op.
func (ix *Index) DeleteDocument(ctx context.Context, documentID string) error {
	return ix.deleteDocumentKeys(ctx, documentID)
}

// UpdateDocumentTags rewrites the tags field on every passage hash of
// the document, leaving content and vectors untouched.
func (ix *Index) UpdateDocumentTags(ctx context.Context, documentID string, tags []string) error {
	keys, err := ix.store.Scan(ctx, ix.documentPattern(documentID))
	if err != nil {
		return fmt.Errorf("scan document %s: %w", documentID, err)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: %s", domain.ErrDocumentNotFound, documentID)
	}

	joined := strings.Join(normalizedTags(tags), ",")
	items := make([]db.HashSetItem, len(keys))
	for i, key := range keys {
		items[i] = db.HashSetItem{Key: key, Fields: map[string]string{"tags": joined}}
	}
	if err := ix.store.HSetMulti(ctx, items); err != nil {
		return fmt.Errorf("retag document %s: %w", documentID, err)
	}
	return nil
}

// AllPassages scans every passage matching the filter, ordered by global
// id. It fails with ErrCorpusTooLarge when the scan exceeds the limit.
func (ix *Index) AllPassages(ctx context.Context, f filter.Filter) ([]passage.Passage, error) {
	if f.MatchesNone() {
		return nil, nil
	}

	keys, err := ix.store.Scan(ctx, ix.keyPrefix()+"*")
	if err != nil {
		return nil, fmt.Errorf("scan passages: %w", err)
	}
	if len(keys) > ix.maxScan {
		return nil, fmt.Errorf("%w: %d passages stored, limit %d", domain.ErrCorpusTooLarge, len(keys), ix.maxScan)
	}
	if len(keys) == 0 {
		return nil, nil
	}

	fieldMaps, err := ix.store.HGetAllMulti(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("load passages: %w", err)
	}

	out := make([]passage.Passage, 0, len(fieldMaps))
	for _, fields := range fieldMaps {
		p, ok := parsePassageFields(fields)
		if !ok || !f.Matches(p) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].GlobalID() < out[j].GlobalID()
	})
	return out, nil
}

// SupportsNativeFilter reports true: tag predicates run inside FT.SEARCH.
func (ix *Index) SupportsNativeFilter() bool { return true }

func (ix *Index) deleteDocumentKeys(ctx context.Context, documentID string) error {
	keys, err := ix.store.Scan(ctx, ix.documentPattern(documentID))
	if err != nil {
		return fmt.Errorf("scan document %s: %w", documentID, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := ix.store.DelMulti(ctx, keys); err != nil {
		return fmt.Errorf("delete document %s: %w", documentID, err)
	}
	return nil
}

func (ix *Index) indexName() string {
	return ix.prefix + "passage:idx"
}

func (ix *Index) keyPrefix() string {
	return ix.prefix + "passage:"
}

func (ix *Index) passageKey(documentID, passageID string) string {
	return ix.keyPrefix() + documentID + ":" + passageID
}

func (ix *Index) documentPattern(documentID string) string {
	return ix.keyPrefix() + documentID + ":*"
}

// --- Hash field mapping ---

// buildHashFields converts a passage into a flat map[string]string for HSET.
func buildHashFields(p *passage.Passage) map[string]string {
	return map[string]string{
		"__content":   p.Text(),
		"__vector":    vectorToBytes(p.Embedding()),
		"passage_id":  p.ID(),
		"document_id": p.DocumentID(),
		"owner":       p.Owner(),
		"tags":        strings.Join(p.Tags(), ","),
		"position":    strconv.Itoa(p.Position()),
	}
}

// parsePassageFields converts a flat hash map back into a passage.
// Search results omit the vector blob, so the embedding may be empty.
func parsePassageFields(fields map[string]string) (passage.Passage, bool) {
	id := fields["passage_id"]
	docID := fields["document_id"]
	if id == "" || docID == "" {
		return passage.Passage{}, false
	}

	position, _ := strconv.Atoi(fields["position"])
	var tags []string
	if raw := fields["tags"]; raw != "" {
		tags = strings.Split(raw, ",")
	}
	var embedding []float32
	if raw, ok := fields["__vector"]; ok {
		embedding = bytesToVector(raw)
	}

	return passage.Reconstruct(
		id, docID, fields["__content"], position,
		embedding, tags, fields["owner"],
	), true
}

func normalizedTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	sort.Strings(out)
	return out
}

// vectorToBytes serializes []float32 to a binary string (4 bytes per float, little-endian).
func vectorToBytes(v []float32) string {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return string(buf)
}

// bytesToVector deserializes a binary string back to []float32.
func bytesToVector(s string) []float32 {
	b := []byte(s)
	if len(b)%4 != 0 {
		return nil
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v
}
