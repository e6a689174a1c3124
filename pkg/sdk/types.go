package meinrag

// Passage is one retrievable unit of a document.
type Passage struct {
	ID       string
	Text     string
	Position int
}

// RetrieveRequest scopes and tunes a retrieval call.
// Query and Owner are required. Zero TopK selects the client default.
// Nil Hybrid/LexicalWeight/Rerank fall back to the client defaults.
type RetrieveRequest struct {
	Owner         string
	Query         string
	TopK          int
	DocumentIDs   []string
	Collection    string
	Hybrid        *bool
	LexicalWeight *float64
	Rerank        *bool
}

// Result is a retrieved passage with its relevance score.
type Result struct {
	PassageID  string
	DocumentID string
	Position   int
	Text       string
	Score      float64
	Source     string // "vector", "lexical", "fused" or "reranked"
}

// HealthStatus represents the aggregated system health.
type HealthStatus struct {
	Status string            // "ok" or "degraded"
	Checks map[string]string // component -> "ok"/"error"
}
