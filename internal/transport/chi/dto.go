package chi

// retrieveRequest is the POST /retrieve body. Query text is always
// required (the lexical path matches on it); Embedding, when present,
// replaces the server-side embedding call.
type retrieveRequest struct {
	Query         string    `json:"query"`
	Embedding     []float32 `json:"embedding,omitempty"`
	Owner         string    `json:"owner"`
	TopK          int       `json:"top_k,omitempty"`
	DocumentIDs   []string  `json:"document_ids,omitempty"`
	Collection    string    `json:"collection,omitempty"`
	Hybrid        *bool     `json:"hybrid,omitempty"`
	LexicalWeight *float64  `json:"lexical_weight,omitempty"`
	Rerank        *bool     `json:"rerank,omitempty"`
}

// retrievedPassage is one entry of the ranked result list.
type retrievedPassage struct {
	PassageID  string  `json:"passage_id"`
	DocumentID string  `json:"document_id"`
	Position   int     `json:"position"`
	Text       string  `json:"text"`
	Score      float64 `json:"score"`
	Source     string  `json:"source"`
}

// retrieveResponse is the POST /retrieve response.
type retrieveResponse struct {
	Results []retrievedPassage `json:"results"`
}

// passageInput is one passage of a document replace request.
type passageInput struct {
	ID       string `json:"id"`
	Text     string `json:"text"`
	Position int    `json:"position"`
}

// replaceDocumentRequest is the PUT /documents/{documentID} body.
type replaceDocumentRequest struct {
	Owner    string         `json:"owner"`
	Tags     []string       `json:"tags,omitempty"`
	Passages []passageInput `json:"passages"`
}

// replaceDocumentResponse is the PUT /documents/{documentID} response.
type replaceDocumentResponse struct {
	DocumentID      string `json:"document_id"`
	Passages        int    `json:"passages"`
	EmbeddingTokens int    `json:"embedding_tokens"`
}

// updateTagsRequest is the PUT /documents/{documentID}/tags body.
type updateTagsRequest struct {
	Owner string   `json:"owner"`
	Tags  []string `json:"tags"`
}

// healthResponse is the GET /health response.
type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// errorResponse is the uniform error body.
type errorResponse struct {
	Code    errorCode `json:"code"`
	Message string    `json:"message"`
}
