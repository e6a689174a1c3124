package retrieval

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/meinrag/meinrag/internal/domain"
	"github.com/meinrag/meinrag/internal/domain/passage"
	"github.com/meinrag/meinrag/internal/domain/search/request"
	"github.com/meinrag/meinrag/internal/domain/search/result"
	"github.com/meinrag/meinrag/internal/index/lexical"
	"github.com/meinrag/meinrag/internal/metrics"
)

// Service is the retrieval entry point. It composes vector search, on-demand
// lexical search, rank fusion and optional re-ranking according to the
// per-request flags.
type Service struct {
	searcher  VectorSearcher
	judge     Judge
	lexParams lexical.Params
	rrfOffset int
	logger    *zap.Logger
}

// New creates a retrieval service. judge may stay unset via WithJudge when
// re-ranking is disabled deployment-wide.
func New(searcher VectorSearcher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		searcher:  searcher,
		lexParams: lexical.DefaultParams(),
		rrfOffset: DefaultRRFOffset,
		logger:    logger,
	}
}

// WithJudge attaches the external relevance judge used for re-ranking.
func (s *Service) WithJudge(j Judge) *Service {
	s.judge = j
	return s
}

// WithLexicalParams overrides the BM25 free parameters.
func (s *Service) WithLexicalParams(p lexical.Params) *Service {
	if p.K1 > 0 && p.B >= 0 {
		s.lexParams = p
	}
	return s
}

// WithRRFOffset overrides the reciprocal-rank fusion offset.
func (s *Service) WithRRFOffset(offset int) *Service {
	if offset > 0 {
		s.rrfOffset = offset
	}
	return s
}

// Retrieve executes the query and returns the final ranked passage list.
// A filter that matches nothing returns an empty result without touching
// any index. A vector backend failure is fatal for the query; lexical and
// judge failures degrade (hybrid falls back to the surviving source, the
// judge falls back to the first-stage ranking).
func (s *Service) Retrieve(ctx context.Context, req request.Request) ([]result.Item, error) {
	strategy := strategyName(req)
	start := time.Now()

	items, err := s.retrieve(ctx, req)
	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.RetrievalRequestsTotal.WithLabelValues(strategy, status).Inc()
	metrics.RetrievalDuration.WithLabelValues(strategy).Observe(time.Since(start).Seconds())
	return items, err
}

func (s *Service) retrieve(ctx context.Context, req request.Request) ([]result.Item, error) {
	f := req.Filter()
	if f.MatchesNone() {
		return []result.Item{}, nil
	}

	firstStageK := req.TopK()
	if req.Rerank().Enabled {
		firstStageK = req.TopK() * req.Rerank().Multiplier
	}

	var items []result.Item
	var err error
	if req.Hybrid().Enabled {
		items, err = s.hybridStage(ctx, req, firstStageK)
	} else {
		items, err = s.vectorStage(ctx, req, firstStageK)
	}
	if err != nil {
		return nil, err
	}

	if req.Rerank().Enabled {
		items = s.rerank(ctx, req, items)
	}
	if len(items) > req.TopK() {
		items = items[:req.TopK()]
	}
	return items, nil
}

// vectorStage runs the vector-only first stage.
func (s *Service) vectorStage(ctx context.Context, req request.Request, k int) ([]result.Item, error) {
	candidates, err := s.searcher.Search(ctx, req.Embedding(), k, req.Filter())
	if err != nil {
		return nil, fmt.Errorf("%w: vector search: %v", domain.ErrIndexUnavailable, err)
	}

	items := make([]result.Item, 0, len(candidates))
	for _, c := range candidates {
		items = append(items, itemFrom(c.Passage, float64(c.Score), result.SourceVector))
	}
	return items, nil
}

// hybridStage fetches the vector and lexical rankings concurrently and
// fuses them. A single failed source degrades to the other; both failing
// fails the query.
func (s *Service) hybridStage(ctx context.Context, req request.Request, firstStageK int) ([]result.Item, error) {
	fetchK := firstStageK * req.Hybrid().FetchMultiplier

	var (
		vecPassages []passage.Passage
		vecErr      error
		lexPassages []passage.Passage
		lexErr      error
	)

	done := make(chan struct{})
	go func() {
		defer close(done)
		lexPassages, lexErr = s.lexicalFetch(ctx, req.Query(), fetchK, req)
	}()

	candidates, err := s.searcher.Search(ctx, req.Embedding(), fetchK, req.Filter())
	if err != nil {
		vecErr = err
	} else {
		vecPassages = make([]passage.Passage, len(candidates))
		for i, c := range candidates {
			vecPassages[i] = c.Passage
		}
	}
	<-done

	switch {
	case vecErr != nil && lexErr != nil:
		return nil, fmt.Errorf("%w: vector search: %v; lexical search: %v",
			domain.ErrIndexUnavailable, vecErr, lexErr)
	case vecErr != nil:
		s.logger.Warn("hybrid degraded to lexical-only", zap.Error(vecErr))
		metrics.HybridDegradationsTotal.WithLabelValues("vector").Inc()
	case lexErr != nil:
		s.logger.Warn("hybrid degraded to vector-only", zap.Error(lexErr))
		metrics.HybridDegradationsTotal.WithLabelValues("lexical").Inc()
	}

	lexWeight := req.Hybrid().LexicalWeight
	fused := fuse([]rankedList{
		{passages: vecPassages, weight: 1 - lexWeight},
		{passages: lexPassages, weight: lexWeight},
	}, s.rrfOffset, firstStageK)

	items := make([]result.Item, 0, len(fused))
	for _, f := range fused {
		items = append(items, itemFrom(f.p, f.score, result.SourceFused))
	}
	return items, nil
}

// lexicalFetch builds a fresh BM25 index over the filtered passage set and
// queries it. The per-query rebuild keeps the lexical view consistent with
// the vector index at the cost of an O(corpus) scan.
func (s *Service) lexicalFetch(ctx context.Context, query string, k int, req request.Request) ([]passage.Passage, error) {
	corpus, err := s.searcher.AllPassages(ctx, req.Filter())
	if err != nil {
		return nil, fmt.Errorf("scan passages: %w", err)
	}

	buildStart := time.Now()
	idx := lexical.Build(corpus, s.lexParams)
	metrics.LexicalBuildDuration.Observe(time.Since(buildStart).Seconds())

	candidates := idx.Search(query, k)
	passages := make([]passage.Passage, len(candidates))
	for i, c := range candidates {
		passages[i] = c.Passage
	}
	return passages, nil
}

// rerank asks the judge to reorder the first-stage items. Any judge failure,
// timeout or malformed ordering keeps the first-stage ranking.
func (s *Service) rerank(ctx context.Context, req request.Request, items []result.Item) []result.Item {
	if s.judge == nil || len(items) < 2 {
		return items
	}

	texts := make([]string, len(items))
	for i := range items {
		texts[i] = items[i].Text()
	}

	judgeCtx, cancel := context.WithTimeout(ctx, req.Rerank().Timeout)
	defer cancel()

	order, err := s.judge.Rank(judgeCtx, req.Query(), texts)
	if err != nil {
		s.logger.Warn("re-rank judge failed, keeping first-stage ranking", zap.Error(err))
		metrics.RerankFallbacksTotal.Inc()
		return items
	}

	ranked := make([]result.Item, 0, len(items))
	seen := make(map[int]bool, len(items))
	for _, idx := range order {
		if idx < 0 || idx >= len(items) || seen[idx] {
			continue
		}
		seen[idx] = true
		it := items[idx]
		ranked = append(ranked, result.NewItem(
			it.PassageID(), it.DocumentID(), it.Position(), it.Text(),
			1/float64(len(ranked)+1), result.SourceReranked,
		))
	}
	// Judges may omit candidates; keep them in first-stage order.
	for i := range items {
		if !seen[i] {
			it := items[i]
			ranked = append(ranked, result.NewItem(
				it.PassageID(), it.DocumentID(), it.Position(), it.Text(),
				1/float64(len(ranked)+1), result.SourceReranked,
			))
		}
	}
	return ranked
}

func itemFrom(p passage.Passage, score float64, src result.Source) result.Item {
	return result.NewItem(p.ID(), p.DocumentID(), p.Position(), p.Text(), score, src)
}

func strategyName(req request.Request) string {
	switch {
	case req.Hybrid().Enabled && req.Rerank().Enabled:
		return "hybrid_rerank"
	case req.Hybrid().Enabled:
		return "hybrid"
	case req.Rerank().Enabled:
		return "vector_rerank"
	default:
		return "vector"
	}
}
