package redisearch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/meinrag/meinrag/internal/db"
	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/filter"
)

func TestEnsureIndex(t *testing.T) {
	ix, ms := newTestIndex()

	var got *db.IndexDefinition
	ms.createIndexFn = func(_ context.Context, def *db.IndexDefinition) error {
		got = def
		return nil
	}

	if err := ix.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "meinrag:passage:idx" {
		t.Errorf("index name = %q, want meinrag:passage:idx", got.Name)
	}
	if len(got.Prefixes) != 1 || got.Prefixes[0] != "meinrag:passage:" {
		t.Errorf("prefixes = %v, want [meinrag:passage:]", got.Prefixes)
	}
	last := got.Fields[len(got.Fields)-1]
	if last.Name != "__vector" || last.Alias != "vector" || last.VectorDim != 4 {
		t.Errorf("vector field = %+v, want __vector AS vector DIM 4", last)
	}
}

func TestEnsureIndex_AlreadyExists(t *testing.T) {
	ix, ms := newTestIndex()
	ms.createIndexFn = func(context.Context, *db.IndexDefinition) error {
		return db.ErrIndexExists
	}
	if err := ix.EnsureIndex(context.Background()); err != nil {
		t.Fatalf("existing index must not be an error, got %v", err)
	}
}

func TestSearch_PushesFilterDown(t *testing.T) {
	ix, ms := newTestIndex()

	var got *db.KNNQuery
	ms.searchKNNFn = func(_ context.Context, q *db.KNNQuery) (*db.SearchResult, error) {
		got = q
		return &db.SearchResult{
			Total: 1,
			Entries: []db.SearchEntry{{
				Key:   "meinrag:passage:d1:p1",
				Score: 0.9,
				Fields: map[string]string{
					"__content":   "hello",
					"passage_id":  "p1",
					"document_id": "d1",
					"owner":       "alice",
					"tags":        "law,finance",
					"position":    "2",
				},
			}},
		}, nil
	}

	f := filter.New("alice", nil, "law")
	out, err := ix.Search(context.Background(), testVector(), 4, f)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.K != 4 {
		t.Errorf("k = %d, want 4 (no over-fetch on native backend)", got.K)
	}
	if got.Filter.IsEmpty() {
		t.Error("filter must be forwarded to the engine")
	}
	if len(out) != 1 {
		t.Fatalf("got %d candidates, want 1", len(out))
	}
	p := out[0].Passage
	if p.GlobalID() != "d1:p1" || p.Position() != 2 || !p.HasTag("finance") {
		t.Errorf("parsed passage = %+v", p)
	}
	if out[0].Score != 0.9 {
		t.Errorf("score = %v, want 0.9", out[0].Score)
	}
}

func TestSearch_MatchNoneShortCircuits(t *testing.T) {
	ix, ms := newTestIndex()
	ms.searchKNNFn = func(context.Context, *db.KNNQuery) (*db.SearchResult, error) {
		t.Fatal("engine must not be queried for a match-nothing filter")
		return nil, nil
	}
	out, err := ix.Search(context.Background(), testVector(), 4, filter.None())
	if err != nil || out != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", out, err)
	}
}

func TestSearch_DimMismatch(t *testing.T) {
	ix, _ := newTestIndex()
	_, err := ix.Search(context.Background(), []float32{1}, 4, filter.Filter{})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("err = %v, want ErrVectorDimMismatch", err)
	}
}

func TestUpsert_ReplacesDocumentKeys(t *testing.T) {
	ix, ms := newTestIndex()

	var deleted []string
	var written []db.HashSetItem
	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if pattern != "meinrag:passage:d1:*" {
			t.Errorf("scan pattern = %q", pattern)
		}
		return []string{"meinrag:passage:d1:old"}, nil
	}
	ms.delMultiFn = func(_ context.Context, keys []string) error {
		deleted = keys
		return nil
	}
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		written = items
		return nil
	}

	err := ix.Upsert(context.Background(), []passage.Passage{
		mkPassage(t, "p1", "d1", "law"),
		mkPassage(t, "p2", "d1", "law"),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(deleted) != 1 || deleted[0] != "meinrag:passage:d1:old" {
		t.Errorf("deleted = %v, want the stale key", deleted)
	}
	if len(written) != 2 {
		t.Fatalf("wrote %d hashes, want 2", len(written))
	}
	if written[0].Key != "meinrag:passage:d1:p1" {
		t.Errorf("key = %q, want meinrag:passage:d1:p1", written[0].Key)
	}
	fields := written[0].Fields
	if fields["owner"] != "alice" || fields["tags"] != "law" || fields["__content"] == "" {
		t.Errorf("hash fields = %v", fields)
	}
	if len(fields["__vector"]) != 16 {
		t.Errorf("vector blob is %d bytes, want 16", len(fields["__vector"]))
	}
}

func TestUpsert_DimMismatch(t *testing.T) {
	ix, _ := newTestIndex()
	p, err := passage.New("p1", "d1", "text", 0, []float32{1}, nil, "alice")
	if err != nil {
		t.Fatalf("passage.New: %v", err)
	}
	err = ix.Upsert(context.Background(), []passage.Passage{p})
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("err = %v, want ErrVectorDimMismatch", err)
	}
}

func TestDeleteDocument_UnknownIsNoop(t *testing.T) {
	ix, ms := newTestIndex()
	ms.delMultiFn = func(context.Context, []string) error {
		t.Fatal("nothing to delete for an unknown document")
		return nil
	}
	if err := ix.DeleteDocument(context.Background(), "ghost"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestUpdateDocumentTags(t *testing.T) {
	ix, ms := newTestIndex()

	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		return []string{"meinrag:passage:d1:p1", "meinrag:passage:d1:p2"}, nil
	}
	var written []db.HashSetItem
	ms.hsetMultiFn = func(_ context.Context, items []db.HashSetItem) error {
		written = items
		return nil
	}

	err := ix.UpdateDocumentTags(context.Background(), "d1", []string{"new", "law"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(written) != 2 {
		t.Fatalf("wrote %d hashes, want 2", len(written))
	}
	for _, item := range written {
		if item.Fields["tags"] != "law,new" {
			t.Errorf("tags = %q, want law,new (sorted)", item.Fields["tags"])
		}
		if len(item.Fields) != 1 {
			t.Errorf("retagging must touch only the tags field, got %v", item.Fields)
		}
	}
}

func TestUpdateDocumentTags_Unknown(t *testing.T) {
	ix, _ := newTestIndex()
	err := ix.UpdateDocumentTags(context.Background(), "ghost", []string{"x"})
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
}

func TestAllPassages_FiltersAndOrders(t *testing.T) {
	ix, ms := newTestIndex()

	ms.scanFn = func(_ context.Context, pattern string) ([]string, error) {
		if !strings.HasSuffix(pattern, "*") {
			t.Errorf("scan pattern = %q", pattern)
		}
		return []string{"k1", "k2", "k3"}, nil
	}
	ms.hgetAllMultiFn = func(_ context.Context, keys []string) ([]map[string]string, error) {
		return []map[string]string{
			{"passage_id": "p2", "document_id": "d1", "__content": "b", "owner": "alice", "tags": "law"},
			{"passage_id": "p1", "document_id": "d1", "__content": "a", "owner": "alice", "tags": "law"},
			{"passage_id": "p1", "document_id": "d2", "__content": "c", "owner": "bob", "tags": "law"},
		}, nil
	}

	out, err := ix.AllPassages(context.Background(), filter.New("alice", nil, "law"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("got %d passages, want 2 (bob's excluded)", len(out))
	}
	if out[0].GlobalID() != "d1:p1" || out[1].GlobalID() != "d1:p2" {
		t.Errorf("order = [%s, %s], want [d1:p1, d1:p2]", out[0].GlobalID(), out[1].GlobalID())
	}
}

func TestAllPassages_CorpusLimit(t *testing.T) {
	ix, ms := newTestIndex(WithMaxScan(2))
	ms.scanFn = func(context.Context, string) ([]string, error) {
		return []string{"k1", "k2", "k3"}, nil
	}
	_, err := ix.AllPassages(context.Background(), filter.Filter{})
	if !errors.Is(err, domain.ErrCorpusTooLarge) {
		t.Errorf("err = %v, want ErrCorpusTooLarge", err)
	}
}

func TestVectorRoundTrip(t *testing.T) {
	v := testVector()
	got := bytesToVector(vectorToBytes(v))
	if len(got) != len(v) {
		t.Fatalf("got %d floats, want %d", len(got), len(v))
	}
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], v[i])
		}
	}
}
