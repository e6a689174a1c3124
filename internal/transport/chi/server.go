package chi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/search/request"
	"github.com/meinrag/meinrag/internal/domain/search/result"
	healthuc "github.com/meinrag/meinrag/internal/usecase/health"
	ingestuc "github.com/meinrag/meinrag/internal/usecase/ingest"
	resolveruc "github.com/meinrag/meinrag/internal/usecase/resolver"
	retrievaluc "github.com/meinrag/meinrag/internal/usecase/retrieval"
)

// errorCode is the machine-readable error identifier in error responses.
type errorCode string

const (
	codeBadRequest        errorCode = "bad_request"
	codeValidationFailed  errorCode = "validation_failed"
	codeDocumentNotFound  errorCode = "document_not_found"
	codeVectorDimMismatch errorCode = "vector_dim_mismatch"
	codeEmbeddingProvider errorCode = "embedding_provider_error"
	codeRetrievalFailed   errorCode = "retrieval_unavailable"
	codeCorpusTooLarge    errorCode = "corpus_too_large"
	codeInternalError     errorCode = "internal_error"
	codeUnauthorized      errorCode = "unauthorized"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Defaults are the deployment-wide retrieval settings a request can
// selectively override.
type Defaults struct {
	TopK   int
	Hybrid request.HybridOptions
	Rerank request.RerankOptions
}

// Server is the HTTP API over the retrieval and ingestion services.
type Server struct {
	retrieval     *retrievaluc.Service
	resolver      *resolveruc.Service
	ingest        *ingestuc.Service
	health        *healthuc.Service
	embedder      domain.Embedder
	defaults      Defaults
	logger        *zap.Logger
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(
	retrieval *retrievaluc.Service,
	resolver *resolveruc.Service,
	ingest *ingestuc.Service,
	health *healthuc.Service,
	embedder domain.Embedder,
	defaults Defaults,
	logger *zap.Logger,
) *Server {
	if defaults.TopK <= 0 {
		defaults.TopK = request.DefaultTopK
	}
	s := &Server{
		retrieval: retrieval,
		resolver:  resolver,
		ingest:    ingest,
		health:    health,
		embedder:  embedder,
		defaults:  defaults,
		logger:    logger,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidRequest, http.StatusBadRequest, codeValidationFailed),
		sentinelHandler(domain.ErrDocumentNotFound, http.StatusNotFound, codeDocumentNotFound),
		sentinelHandler(domain.ErrVectorDimMismatch, http.StatusBadRequest, codeVectorDimMismatch),
		sentinelHandler(domain.ErrEmbeddingProviderError, http.StatusBadGateway, codeEmbeddingProvider),
		sentinelHandler(domain.ErrCorpusTooLarge, http.StatusServiceUnavailable, codeCorpusTooLarge),
		sentinelHandler(domain.ErrIndexUnavailable, http.StatusServiceUnavailable, codeRetrievalFailed),
	}
	return s
}

// Routes mounts all API handlers on the router.
func (s *Server) Routes(r chi.Router) {
	r.Post("/retrieve", s.Retrieve)
	r.Put("/documents/{documentID}", s.ReplaceDocument)
	r.Delete("/documents/{documentID}", s.DeleteDocument)
	r.Put("/documents/{documentID}/tags", s.UpdateDocumentTags)
	r.Get("/health", s.HealthCheck)
	r.Get("/metrics", s.Metrics)
}

// Retrieve handles POST /retrieve.
func (s *Server) Retrieve(w http.ResponseWriter, r *http.Request) {
	var req retrieveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Query is required")
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Owner is required")
		return
	}

	topK := req.TopK
	if topK == 0 {
		topK = s.defaults.TopK
	}

	f, err := s.resolver.Resolve(r.Context(), req.Owner, req.DocumentIDs, req.Collection)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}
	if f.MatchesNone() {
		// Nothing can match; skip the embedding spend.
		writeJSON(w, http.StatusOK, retrieveResponse{Results: []retrievedPassage{}})
		return
	}

	queryVector := req.Embedding
	if len(queryVector) == 0 {
		embedding, err := s.embedder.Embed(r.Context(), req.Query)
		if err != nil {
			s.handleDomainError(w, err)
			return
		}
		queryVector = embedding.Embedding
		if embedding.TotalTokens > 0 {
			w.Header().Set("X-Embedding-Tokens", strconv.Itoa(embedding.TotalTokens))
		}
	}

	hybrid := s.defaults.Hybrid
	if req.Hybrid != nil {
		hybrid.Enabled = *req.Hybrid
	}
	if req.LexicalWeight != nil {
		hybrid.LexicalWeight = *req.LexicalWeight
	}
	rerank := s.defaults.Rerank
	if req.Rerank != nil {
		rerank.Enabled = *req.Rerank
	}

	query, err := request.New(req.Query, queryVector, topK, f, hybrid, rerank)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	items, err := s.retrieval.Retrieve(r.Context(), query)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, retrieveResponse{Results: itemsToDTO(items)})
}

// ReplaceDocument handles PUT /documents/{documentID}.
func (s *Server) ReplaceDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	var req replaceDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}

	inputs := make([]ingestuc.PassageInput, len(req.Passages))
	for i, p := range req.Passages {
		inputs[i] = ingestuc.PassageInput{ID: p.ID, Text: p.Text, Position: p.Position}
	}

	tokens, err := s.ingest.ReplaceDocument(r.Context(), req.Owner, documentID, req.Tags, inputs)
	if err != nil {
		s.handleDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, replaceDocumentResponse{
		DocumentID:      documentID,
		Passages:        len(inputs),
		EmbeddingTokens: tokens,
	})
}

// DeleteDocument handles DELETE /documents/{documentID}.
func (s *Server) DeleteDocument(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")
	owner := r.URL.Query().Get("owner")
	if owner == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Owner query parameter is required")
		return
	}

	if err := s.ingest.DeleteDocument(r.Context(), owner, documentID); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// UpdateDocumentTags handles PUT /documents/{documentID}/tags.
func (s *Server) UpdateDocumentTags(w http.ResponseWriter, r *http.Request) {
	documentID := chi.URLParam(r, "documentID")

	var req updateTagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Owner == "" {
		writeError(w, http.StatusBadRequest, codeValidationFailed, "Owner is required")
		return
	}

	if err := s.ingest.UpdateTags(r.Context(), req.Owner, documentID, req.Tags); err != nil {
		s.handleDomainError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// HealthCheck handles GET /health.
func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	report := s.health.Check(r.Context())

	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}

	httpStatus := http.StatusOK
	if report.Status != healthuc.Healthy {
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, healthResponse{
		Status: string(report.Status),
		Checks: checks,
	})
}

// Metrics handles GET /metrics.
func (s *Server) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func itemsToDTO(items []result.Item) []retrievedPassage {
	out := make([]retrievedPassage, len(items))
	for i := range items {
		it := &items[i]
		out[i] = retrievedPassage{
			PassageID:  it.PassageID(),
			DocumentID: it.DocumentID(),
			Position:   it.Position(),
			Text:       it.Text(),
			Score:      it.Score(),
			Source:     string(it.Source()),
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code errorCode, message string) {
	writeJSON(w, status, errorResponse{
		Code:    code,
		Message: message,
	})
}

// safeDomainMessage returns a sentinel error message for the client without exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidRequest,
		domain.ErrDocumentNotFound,
		domain.ErrVectorDimMismatch,
		domain.ErrEmbeddingProviderError,
		domain.ErrCorpusTooLarge,
		domain.ErrIndexUnavailable,
	}
	for _, s := range sentinels {
		if errors.Is(err, s) {
			return s.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code errorCode) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, err error) {
	s.logger.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	s.logger.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
