package chi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/index/memory"
	"github.com/meinrag/meinrag/internal/index/vector"
	"github.com/meinrag/meinrag/internal/repository/metadata"
	healthuc "github.com/meinrag/meinrag/internal/usecase/health"
	ingestuc "github.com/meinrag/meinrag/internal/usecase/ingest"
	resolveruc "github.com/meinrag/meinrag/internal/usecase/resolver"
	retrievaluc "github.com/meinrag/meinrag/internal/usecase/retrieval"
)

// stubEmbedder maps known texts to fixed 2-dimensional vectors so ranking
// in tests is deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
	calls   int
}

func (e *stubEmbedder) Embed(_ context.Context, text string) (domain.EmbeddingResult, error) {
	e.calls++
	if v, ok := e.vectors[text]; ok {
		return domain.EmbeddingResult{Embedding: v, TotalTokens: len(text)}, nil
	}
	return domain.EmbeddingResult{Embedding: []float32{0.5, 0.5}, TotalTokens: len(text)}, nil
}

// testStack is a full in-process service wired behind the HTTP server.
type testStack struct {
	router   *chi.Mux
	embedder *stubEmbedder
	index    *memory.Index
}

func newTestStack(t *testing.T, defaults Defaults) *testStack {
	t.Helper()

	idx := memory.New()
	searcher := vector.NewSearcher(idx, 0)
	meta := metadata.NewMemory()
	embedder := &stubEmbedder{vectors: map[string][]float32{}}

	server := NewServer(
		retrievaluc.New(searcher, zap.NewNop()),
		resolveruc.New(meta),
		ingestuc.New(meta, idx, embedder, 2),
		healthuc.New(nil, nil),
		embedder,
		defaults,
		zap.NewNop(),
	)

	r := chi.NewRouter()
	server.Routes(r)

	return &testStack{router: r, embedder: embedder, index: idx}
}

func (s *testStack) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	rr := httptest.NewRecorder()
	s.router.ServeHTTP(rr, req)
	return rr
}

func (s *testStack) putDocument(t *testing.T, documentID string, body replaceDocumentRequest) {
	t.Helper()
	rr := s.do(t, http.MethodPut, "/documents/"+documentID, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("PUT /documents/%s: status %d: %s", documentID, rr.Code, rr.Body.String())
	}
}

func decodeResults(t *testing.T, rr *httptest.ResponseRecorder) []retrievedPassage {
	t.Helper()
	var resp retrieveResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return resp.Results
}

func jsonDecode(rr *httptest.ResponseRecorder, v any) error {
	return json.NewDecoder(rr.Body).Decode(v)
}

func decodeErrorCode(t *testing.T, rr *httptest.ResponseRecorder) errorCode {
	t.Helper()
	var resp errorResponse
	if err := json.NewDecoder(rr.Body).Decode(&resp); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	return resp.Code
}
