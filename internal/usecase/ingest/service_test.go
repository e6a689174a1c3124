package ingest

import (
	"context"
	"errors"
	"testing"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/passage"
)

// --- Mocks ---

type mockMetadata struct {
	saveErr   error
	updateErr error
	deleteErr error

	savedOwner string
	savedID    string
	savedTags  []string
	updated    []string
	deletedID  string
}

func (m *mockMetadata) SaveDocument(_ context.Context, owner, documentID string, tags []string) error {
	m.savedOwner, m.savedID, m.savedTags = owner, documentID, tags
	return m.saveErr
}
func (m *mockMetadata) UpdateTags(_ context.Context, _, documentID string, tags []string) error {
	m.updated = tags
	return m.updateErr
}
func (m *mockMetadata) DeleteDocument(_ context.Context, _, documentID string) error {
	m.deletedID = documentID
	return m.deleteErr
}
func (m *mockMetadata) OwnsDocument(_ context.Context, _, _ string) (bool, error) {
	return true, nil
}

type mockIndex struct {
	upsertErr error
	deleteErr error
	retagErr  error

	upserted    []passage.Passage
	deletedID   string
	retaggedID  string
	retaggedTag []string
}

func (m *mockIndex) Upsert(_ context.Context, passages []passage.Passage) error {
	m.upserted = passages
	return m.upsertErr
}
func (m *mockIndex) DeleteDocument(_ context.Context, documentID string) error {
	m.deletedID = documentID
	return m.deleteErr
}
func (m *mockIndex) UpdateDocumentTags(_ context.Context, documentID string, tags []string) error {
	m.retaggedID, m.retaggedTag = documentID, tags
	return m.retagErr
}

type mockEmbedder struct {
	result domain.EmbeddingResult
	err    error
	calls  int
}

func (m *mockEmbedder) Embed(_ context.Context, _ string) (domain.EmbeddingResult, error) {
	m.calls++
	if m.err != nil {
		return domain.EmbeddingResult{}, m.err
	}
	return m.result, nil
}

func testInputs() []PassageInput {
	return []PassageInput{
		{ID: "p1", Text: "net income rose nine percent", Position: 0},
		{ID: "p2", Text: "liquidity stayed flat", Position: 1},
	}
}

// --- ReplaceDocument ---

func TestReplaceDocument_Success(t *testing.T) {
	meta := &mockMetadata{}
	idx := &mockIndex{}
	emb := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0, 0}, TotalTokens: 7}}
	svc := New(meta, idx, emb, 3)

	tokens, err := svc.ReplaceDocument(context.Background(), "alice", "d1", []string{"finance"}, testInputs())
	if err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}
	if tokens != 14 {
		t.Errorf("tokens = %d, want 14", tokens)
	}
	if emb.calls != 2 {
		t.Errorf("embedder calls = %d, want 2", emb.calls)
	}
	if meta.savedOwner != "alice" || meta.savedID != "d1" {
		t.Errorf("metadata saved as %s/%s", meta.savedOwner, meta.savedID)
	}
	if len(idx.upserted) != 2 {
		t.Fatalf("upserted %d passages, want 2", len(idx.upserted))
	}
	p := idx.upserted[1]
	if p.ID() != "p2" || p.DocumentID() != "d1" || p.Owner() != "alice" || p.Position() != 1 {
		t.Errorf("unexpected passage: %s %s %s %d", p.ID(), p.DocumentID(), p.Owner(), p.Position())
	}
	if got := p.Tags(); len(got) != 1 || got[0] != "finance" {
		t.Errorf("tags = %v, want [finance]", got)
	}
}

func TestReplaceDocument_Validation(t *testing.T) {
	svc := New(&mockMetadata{}, &mockIndex{}, &mockEmbedder{}, 3)

	tests := []struct {
		name   string
		owner  string
		docID  string
		inputs []PassageInput
	}{
		{"missing owner", "", "d1", testInputs()},
		{"missing document ID", "alice", "", testInputs()},
		{"no passages", "alice", "d1", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.ReplaceDocument(context.Background(), tt.owner, tt.docID, nil, tt.inputs)
			if !errors.Is(err, domain.ErrInvalidRequest) {
				t.Errorf("err = %v, want ErrInvalidRequest", err)
			}
		})
	}
}

func TestReplaceDocument_EmbedderError(t *testing.T) {
	meta := &mockMetadata{}
	idx := &mockIndex{}
	emb := &mockEmbedder{err: errors.New("provider down")}
	svc := New(meta, idx, emb, 3)

	_, err := svc.ReplaceDocument(context.Background(), "alice", "d1", nil, testInputs())
	if err == nil {
		t.Fatal("expected error")
	}
	if meta.savedID != "" || idx.upserted != nil {
		t.Error("nothing should be persisted when embedding fails")
	}
}

func TestReplaceDocument_DimensionMismatch(t *testing.T) {
	emb := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0}}}
	svc := New(&mockMetadata{}, &mockIndex{}, emb, 3)

	_, err := svc.ReplaceDocument(context.Background(), "alice", "d1", nil, testInputs())
	if !errors.Is(err, domain.ErrVectorDimMismatch) {
		t.Errorf("err = %v, want ErrVectorDimMismatch", err)
	}
}

func TestReplaceDocument_MetadataError(t *testing.T) {
	meta := &mockMetadata{saveErr: errors.New("store down")}
	idx := &mockIndex{}
	emb := &mockEmbedder{result: domain.EmbeddingResult{Embedding: []float32{1, 0, 0}}}
	svc := New(meta, idx, emb, 3)

	_, err := svc.ReplaceDocument(context.Background(), "alice", "d1", nil, testInputs())
	if err == nil {
		t.Fatal("expected error")
	}
	if idx.upserted != nil {
		t.Error("index must not be written when metadata save fails")
	}
}

// --- DeleteDocument ---

func TestDeleteDocument(t *testing.T) {
	meta := &mockMetadata{}
	idx := &mockIndex{}
	svc := New(meta, idx, &mockEmbedder{}, 3)

	if err := svc.DeleteDocument(context.Background(), "alice", "d1"); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if meta.deletedID != "d1" || idx.deletedID != "d1" {
		t.Errorf("deleted %q / %q, want d1 in both", meta.deletedID, idx.deletedID)
	}
}

func TestDeleteDocument_NotOwned(t *testing.T) {
	meta := &mockMetadata{deleteErr: domain.ErrDocumentNotFound}
	idx := &mockIndex{}
	svc := New(meta, idx, &mockEmbedder{}, 3)

	err := svc.DeleteDocument(context.Background(), "bob", "d1")
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
	if idx.deletedID != "" {
		t.Error("index must not be touched when the metadata layer rejects the delete")
	}
}

// --- UpdateTags ---

func TestUpdateTags_PropagatesWithoutReEmbedding(t *testing.T) {
	meta := &mockMetadata{}
	idx := &mockIndex{}
	emb := &mockEmbedder{}
	svc := New(meta, idx, emb, 3)

	if err := svc.UpdateTags(context.Background(), "alice", "d1", []string{"law", "q3"}); err != nil {
		t.Fatalf("UpdateTags: %v", err)
	}
	if emb.calls != 0 {
		t.Errorf("embedder called %d times, want 0", emb.calls)
	}
	if idx.retaggedID != "d1" {
		t.Errorf("retagged document = %q, want d1", idx.retaggedID)
	}
	if len(idx.retaggedTag) != 2 {
		t.Errorf("propagated tags = %v", idx.retaggedTag)
	}
	if len(meta.updated) != 2 {
		t.Errorf("metadata tags = %v", meta.updated)
	}
}

func TestUpdateTags_UnknownDocument(t *testing.T) {
	meta := &mockMetadata{updateErr: domain.ErrDocumentNotFound}
	idx := &mockIndex{}
	svc := New(meta, idx, &mockEmbedder{}, 3)

	err := svc.UpdateTags(context.Background(), "alice", "missing", []string{"law"})
	if !errors.Is(err, domain.ErrDocumentNotFound) {
		t.Errorf("err = %v, want ErrDocumentNotFound", err)
	}
	if idx.retaggedID != "" {
		t.Error("index must not be retagged for an unknown document")
	}
}
