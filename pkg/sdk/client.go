package meinrag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meinrag/meinrag/internal/db"
	dbRedis "github.com/meinrag/meinrag/internal/db/redis"
	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/search/request"
	"github.com/meinrag/meinrag/internal/index/lexical"
	"github.com/meinrag/meinrag/internal/index/memory"
	"github.com/meinrag/meinrag/internal/index/redisearch"
	"github.com/meinrag/meinrag/internal/index/vector"
	"github.com/meinrag/meinrag/internal/repository/metadata"
	healthuc "github.com/meinrag/meinrag/internal/usecase/health"
	ingestuc "github.com/meinrag/meinrag/internal/usecase/ingest"
	resolveruc "github.com/meinrag/meinrag/internal/usecase/resolver"
	retrievaluc "github.com/meinrag/meinrag/internal/usecase/retrieval"
)

const defaultReadinessTimeout = 10 * time.Second

// Judge ranks passage texts by descending relevance to a query. Any listwise
// ranker satisfies it; the server wires an LLM behind the same interface.
type Judge interface {
	Rank(ctx context.Context, query string, texts []string) ([]int, error)
}

// metadataRepository is the union of the metadata surfaces the services need.
type metadataRepository interface {
	ingestuc.MetadataRepository
	ResolveCollection(ctx context.Context, owner, name string) ([]string, error)
}

// Client is the meinrag SDK entry point.
type Client struct {
	store        db.Store
	ingestSvc    *ingestuc.Service
	retrievalSvc *retrievaluc.Service
	resolverSvc  *resolveruc.Service
	healthSvc    *healthuc.Service
	embedder     Embedder
	defaults     clientDefaults
}

type clientDefaults struct {
	topK   int
	hybrid request.HybridOptions
	rerank request.RerankOptions
}

// New creates a meinrag Client. The provided context bounds the initial
// readiness check for the valkey/redis drivers.
func New(ctx context.Context, opts ...Option) (*Client, error) {
	cfg := &clientConfig{
		driver:           "memory",
		vectorDimensions: 1024,
		overfetchFactor:  vector.DefaultOverfetchFactor,
		maxScanPassages:  memory.DefaultMaxScan,
		keyPrefix:        "meinrag:",
		defaultTopK:      request.DefaultTopK,
		lexicalWeight:    request.DefaultLexicalWeight,
		fetchMultiplier:  request.DefaultHybridFetchMultiplier,
		bm25K1:           lexical.DefaultParams().K1,
		bm25B:            lexical.DefaultParams().B,
	}
	for _, o := range opts {
		o.apply(cfg)
	}

	if cfg.embedder == nil {
		return nil, errors.New("meinrag: embedder required (use WithEmbedder)")
	}
	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	var (
		store  db.Store
		idx    vector.Index
		meta   metadataRepository
		pinger healthuc.StorePinger
	)
	switch cfg.driver {
	case "memory":
		idx = memory.New(memory.WithMaxScan(cfg.maxScanPassages))
		meta = metadata.NewMemory()
	case "valkey", "redis":
		s, err := dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.addrs,
			Password: cfg.password,
		})
		if err != nil {
			return nil, fmt.Errorf("meinrag: create store: %w", err)
		}
		if err := s.WaitForReady(ctx, defaultReadinessTimeout); err != nil {
			s.Close()
			return nil, fmt.Errorf("meinrag: database not ready: %w", err)
		}
		idxOpts := []redisearch.Option{redisearch.WithMaxScan(cfg.maxScanPassages)}
		if cfg.hnswM > 0 {
			idxOpts = append(idxOpts, redisearch.WithHNSW(redisearch.HNSWConfig{
				M:           cfg.hnswM,
				EFConstruct: cfg.hnswEFConstruct,
			}))
		}
		rsIdx := redisearch.New(s, cfg.keyPrefix, cfg.vectorDimensions, idxOpts...)
		if err := rsIdx.EnsureIndex(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("meinrag: ensure vector index: %w", err)
		}
		store = s
		idx = rsIdx
		meta = metadata.New(s, cfg.keyPrefix)
		pinger = s
	default:
		return nil, fmt.Errorf("meinrag: unknown driver %q", cfg.driver)
	}

	docEmbedder := &domainEmbedder{inner: cfg.embedder}
	var queryEmbedder domain.Embedder = docEmbedder
	if cfg.queryInstruction != "" {
		queryEmbedder = domain.NewInstructionEmbedder(docEmbedder, cfg.queryInstruction)
	}

	retrievalSvc := retrievaluc.New(vector.NewSearcher(idx, cfg.overfetchFactor), logger).
		WithLexicalParams(lexical.Params{K1: cfg.bm25K1, B: cfg.bm25B})
	if cfg.rrfOffset > 0 {
		retrievalSvc = retrievalSvc.WithRRFOffset(cfg.rrfOffset)
	}
	rerank := request.RerankOptions{}
	if cfg.judge != nil {
		retrievalSvc = retrievalSvc.WithJudge(cfg.judge)
		rerank = request.RerankOptions{
			Enabled:    true,
			Multiplier: cfg.rerankMult,
			Timeout:    cfg.rerankWindow,
		}
	}

	return &Client{
		store:        store,
		ingestSvc:    ingestuc.New(meta, idx, docEmbedder, cfg.vectorDimensions),
		retrievalSvc: retrievalSvc,
		resolverSvc:  resolveruc.New(meta),
		healthSvc:    healthuc.New(pinger, nil),
		embedder:     &sdkEmbedder{inner: queryEmbedder},
		defaults: clientDefaults{
			topK: cfg.defaultTopK,
			hybrid: request.HybridOptions{
				Enabled:         cfg.hybridEnabled,
				LexicalWeight:   cfg.lexicalWeight,
				FetchMultiplier: cfg.fetchMultiplier,
			},
			rerank: rerank,
		},
	}, nil
}

// Close releases the database connection. Safe to call for the memory driver.
func (c *Client) Close() {
	if c.store != nil {
		c.store.Close()
	}
}

// ReplaceDocument atomically replaces the document's passage set, embedding
// every passage. Returns the embedding tokens spent.
func (c *Client) ReplaceDocument(
	ctx context.Context, owner, documentID string, tags []string, passages []Passage,
) (int, error) {
	inputs := make([]ingestuc.PassageInput, len(passages))
	for i, p := range passages {
		inputs[i] = ingestuc.PassageInput{ID: p.ID, Text: p.Text, Position: p.Position}
	}
	tokens, err := c.ingestSvc.ReplaceDocument(ctx, owner, documentID, tags, inputs)
	if err != nil {
		return 0, fmt.Errorf("replace document: %w", err)
	}
	return tokens, nil
}

// DeleteDocument removes the document and all its passages.
func (c *Client) DeleteDocument(ctx context.Context, owner, documentID string) error {
	if err := c.ingestSvc.DeleteDocument(ctx, owner, documentID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// UpdateTags replaces the document's tag set without re-embedding.
func (c *Client) UpdateTags(ctx context.Context, owner, documentID string, tags []string) error {
	if err := c.ingestSvc.UpdateTags(ctx, owner, documentID, tags); err != nil {
		return fmt.Errorf("update tags: %w", err)
	}
	return nil
}

// Retrieve runs the retrieval pipeline and returns the top passages.
func (c *Client) Retrieve(ctx context.Context, req RetrieveRequest) ([]Result, error) {
	if req.Query == "" {
		return nil, fmt.Errorf("%w: query is required", domain.ErrInvalidRequest)
	}
	topK := req.TopK
	if topK == 0 {
		topK = c.defaults.topK
	}

	f, err := c.resolverSvc.Resolve(ctx, req.Owner, req.DocumentIDs, req.Collection)
	if err != nil {
		return nil, fmt.Errorf("resolve scope: %w", err)
	}
	if f.MatchesNone() {
		// Nothing can match; skip the embedding spend.
		return []Result{}, nil
	}

	embedding, err := c.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	hybrid := c.defaults.hybrid
	if req.Hybrid != nil {
		hybrid.Enabled = *req.Hybrid
	}
	if req.LexicalWeight != nil {
		hybrid.LexicalWeight = *req.LexicalWeight
	}
	rerank := c.defaults.rerank
	if req.Rerank != nil {
		rerank.Enabled = *req.Rerank
	}

	query, err := request.New(req.Query, embedding.Embedding, topK, f, hybrid, rerank)
	if err != nil {
		return nil, err
	}

	items, err := c.retrievalSvc.Retrieve(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("retrieve: %w", err)
	}

	out := make([]Result, len(items))
	for i := range items {
		out[i] = Result{
			PassageID:  items[i].PassageID(),
			DocumentID: items[i].DocumentID(),
			Position:   items[i].Position(),
			Text:       items[i].Text(),
			Score:      items[i].Score(),
			Source:     string(items[i].Source()),
		}
	}
	return out, nil
}

// Health checks the health of all configured components.
func (c *Client) Health(ctx context.Context) HealthStatus {
	report := c.healthSvc.Check(ctx)
	checks := make(map[string]string, len(report.Checks))
	for k, v := range report.Checks {
		checks[k] = string(v)
	}
	return HealthStatus{Status: string(report.Status), Checks: checks}
}

// domainEmbedder adapts a public Embedder to the internal contract.
type domainEmbedder struct {
	inner Embedder
}

func (e *domainEmbedder) Embed(ctx context.Context, text string) (domain.EmbeddingResult, error) {
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return domain.EmbeddingResult{}, err
	}
	return domain.EmbeddingResult{Embedding: res.Embedding, TotalTokens: res.TotalTokens}, nil
}

// sdkEmbedder adapts an internal embedder chain back to the public surface.
type sdkEmbedder struct {
	inner domain.Embedder
}

func (e *sdkEmbedder) Embed(ctx context.Context, text string) (EmbeddingResult, error) {
	res, err := e.inner.Embed(ctx, text)
	if err != nil {
		return EmbeddingResult{}, err
	}
	return EmbeddingResult{Embedding: res.Embedding, TotalTokens: res.TotalTokens}, nil
}
