package chi

import (
	"net/http"
	"testing"
)

func seedDocuments(t *testing.T, s *testStack) {
	t.Helper()
	s.embedder.vectors["statute of limitations"] = []float32{1, 0}
	s.embedder.vectors["appellate procedure"] = []float32{0.9, 0.44}
	s.embedder.vectors["contrast agent dosage"] = []float32{0, 1}

	s.putDocument(t, "d1", replaceDocumentRequest{
		Owner: "alice",
		Tags:  []string{"law"},
		Passages: []passageInput{
			{ID: "p1", Text: "statute of limitations", Position: 0},
			{ID: "p2", Text: "appellate procedure", Position: 1},
		},
	})
	s.putDocument(t, "d2", replaceDocumentRequest{
		Owner: "alice",
		Tags:  []string{"medical"},
		Passages: []passageInput{
			{ID: "p1", Text: "contrast agent dosage", Position: 0},
		},
	})
}

func TestRetrieveEndpoint_CollectionFilter(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})
	seedDocuments(t, s)
	s.embedder.vectors["limitations"] = []float32{1, 0}

	rr := s.do(t, http.MethodPost, "/retrieve", retrieveRequest{
		Query:      "limitations",
		Owner:      "alice",
		Collection: "law",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got == "" {
		t.Error("expected X-Embedding-Tokens header")
	}

	results := decodeResults(t, rr)
	if len(results) != 2 {
		t.Fatalf("got %d results, want the 2 law passages", len(results))
	}
	for _, res := range results {
		if res.DocumentID != "d1" {
			t.Errorf("unexpected document %s", res.DocumentID)
		}
	}
	if results[0].PassageID != "p1" {
		t.Errorf("best match = %s, want p1", results[0].PassageID)
	}
	if results[0].Source != "vector" {
		t.Errorf("source = %s, want vector", results[0].Source)
	}
}

func TestRetrieveEndpoint_UnknownCollectionSkipsEmbedding(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})
	seedDocuments(t, s)
	callsAfterSeed := s.embedder.calls

	rr := s.do(t, http.MethodPost, "/retrieve", retrieveRequest{
		Query:      "anything",
		Owner:      "alice",
		Collection: "does-not-exist",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if results := decodeResults(t, rr); len(results) != 0 {
		t.Errorf("got %d results, want 0", len(results))
	}
	if s.embedder.calls != callsAfterSeed {
		t.Error("query must not be embedded when the filter matches nothing")
	}
}

func TestRetrieveEndpoint_PrecomputedEmbedding(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})
	seedDocuments(t, s)
	callsAfterSeed := s.embedder.calls

	rr := s.do(t, http.MethodPost, "/retrieve", retrieveRequest{
		Query:     "limitations period",
		Embedding: []float32{1, 0},
		Owner:     "alice",
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	results := decodeResults(t, rr)
	if len(results) == 0 {
		t.Fatal("expected results")
	}
	if results[0].DocumentID != "d1" || results[0].PassageID != "p1" {
		t.Errorf("expected d1/p1 first, got %s/%s", results[0].DocumentID, results[0].PassageID)
	}
	if s.embedder.calls != callsAfterSeed {
		t.Error("provided embedding must replace the server-side embedding call")
	}
	if got := rr.Header().Get("X-Embedding-Tokens"); got != "" {
		t.Errorf("no tokens spent, but X-Embedding-Tokens = %q", got)
	}
}

func TestRetrieveEndpoint_Validation(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	tests := []struct {
		name string
		body retrieveRequest
	}{
		{"missing query", retrieveRequest{Owner: "alice"}},
		{"missing owner", retrieveRequest{Query: "q"}},
		{"negative top_k", retrieveRequest{Query: "q", Owner: "alice", TopK: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := s.do(t, http.MethodPost, "/retrieve", tt.body)
			if rr.Code != http.StatusBadRequest {
				t.Fatalf("status %d, want 400", rr.Code)
			}
			if code := decodeErrorCode(t, rr); code != codeValidationFailed {
				t.Errorf("code = %s, want %s", code, codeValidationFailed)
			}
		})
	}
}

func TestRetrieveEndpoint_InvalidBody(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	rr := s.do(t, http.MethodPost, "/retrieve", "not an object")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != codeBadRequest {
		t.Errorf("code = %s, want %s", code, codeBadRequest)
	}
}

func TestDeleteDocumentEndpoint(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 10})
	seedDocuments(t, s)

	rr := s.do(t, http.MethodDelete, "/documents/d1?owner=alice", nil)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodPost, "/retrieve", retrieveRequest{Query: "q", Owner: "alice"})
	for _, res := range decodeResults(t, rr) {
		if res.DocumentID == "d1" {
			t.Error("deleted document still retrievable")
		}
	}
}

func TestDeleteDocumentEndpoint_OwnerRequired(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	rr := s.do(t, http.MethodDelete, "/documents/d1", nil)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
}

func TestDeleteDocumentEndpoint_CrossOwner(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})
	seedDocuments(t, s)

	rr := s.do(t, http.MethodDelete, "/documents/d1?owner=bob", nil)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rr.Code)
	}
	if code := decodeErrorCode(t, rr); code != codeDocumentNotFound {
		t.Errorf("code = %s, want %s", code, codeDocumentNotFound)
	}
}

func TestUpdateTagsEndpoint_MovesCollectionWithoutReEmbedding(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})
	seedDocuments(t, s)
	callsAfterSeed := s.embedder.calls

	rr := s.do(t, http.MethodPut, "/documents/d1/tags", updateTagsRequest{
		Owner: "alice",
		Tags:  []string{"archive"},
	})
	if rr.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204: %s", rr.Code, rr.Body.String())
	}

	rr = s.do(t, http.MethodPost, "/retrieve", retrieveRequest{
		Query: "q", Owner: "alice", Collection: "law",
	})
	if results := decodeResults(t, rr); len(results) != 0 {
		t.Errorf("old collection still matches %d passages", len(results))
	}

	rr = s.do(t, http.MethodPost, "/retrieve", retrieveRequest{
		Query: "q", Owner: "alice", Collection: "archive",
	})
	if results := decodeResults(t, rr); len(results) != 2 {
		t.Errorf("new collection matches %d passages, want 2", len(results))
	}

	// Tag moves and the two filtered queries above; no passage re-embeds.
	if s.embedder.calls != callsAfterSeed+2 {
		t.Errorf("embedder calls = %d, want %d (queries only)", s.embedder.calls, callsAfterSeed+2)
	}
}

func TestReplaceDocumentEndpoint_ReportsTokens(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	rr := s.do(t, http.MethodPut, "/documents/d9", replaceDocumentRequest{
		Owner:    "alice",
		Passages: []passageInput{{ID: "p1", Text: "hello", Position: 0}},
	})
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}

	var resp replaceDocumentResponse
	if err := jsonDecode(rr, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.DocumentID != "d9" || resp.Passages != 1 {
		t.Errorf("response = %+v", resp)
	}
	if resp.EmbeddingTokens == 0 {
		t.Error("expected non-zero embedding token usage")
	}
}

func TestReplaceDocumentEndpoint_NoPassages(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	rr := s.do(t, http.MethodPut, "/documents/d1", replaceDocumentRequest{Owner: "alice"})
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", rr.Code)
	}
}

func TestHealthEndpoint(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	rr := s.do(t, http.MethodGet, "/health", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}

	var resp healthResponse
	if err := jsonDecode(rr, &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Status != "ok" {
		t.Errorf("status = %s, want ok", resp.Status)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestStack(t, Defaults{TopK: 5})

	rr := s.do(t, http.MethodGet, "/metrics", nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d, want 200", rr.Code)
	}
}
