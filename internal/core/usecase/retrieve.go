package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
)

const minBranchLimit = 10

var whitespaceRun = regexp.MustCompile(`\s+`)

// RetrieveUseCase runs the full retrieval pipeline: plan the query, fan out
// facet-narrowed hybrid searches with per-branch caching and soft boosting,
// merge the branch pools, and rerank the merged pool with usefulness memory
// and a diversity pass.
type RetrieveUseCase struct {
	embedder    ports.Embedder
	search      ports.SearchClient
	aggregator  ports.FacetAggregator
	planner     *PlanExtractor
	intent      *IntentExtractor
	cache       ports.ResultCache
	boost       *SoftBoostFilter
	reranker    *Reranker
	facetIndex  ports.FacetVectorIndex
	facetFields []string
	limits      domain.PipelineLimits
	logger      *slog.Logger
}

// NewRetrieveUseCase wires the pipeline. aggregator and facetIndex may be
// nil; the planner then falls back to model-proposed facets only.
func NewRetrieveUseCase(
	embedder ports.Embedder,
	search ports.SearchClient,
	aggregator ports.FacetAggregator,
	planner *PlanExtractor,
	intent *IntentExtractor,
	cache ports.ResultCache,
	boost *SoftBoostFilter,
	reranker *Reranker,
	facetIndex ports.FacetVectorIndex,
	facetFields []string,
	limits domain.PipelineLimits,
	logger *slog.Logger,
) *RetrieveUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	if planner == nil {
		planner = NewPlanExtractor(nil, logger, 0)
	}
	if intent == nil {
		intent = NewIntentExtractor(nil, logger, 0)
	}
	if boost == nil {
		boost = NewSoftBoostFilter(DefaultBoostWeights())
	}
	if reranker == nil {
		reranker = NewReranker(nil, 0, 0, 0)
	}
	return &RetrieveUseCase{
		embedder:    embedder,
		search:      search,
		aggregator:  aggregator,
		planner:     planner,
		intent:      intent,
		cache:       cache,
		boost:       boost,
		reranker:    reranker,
		facetIndex:  facetIndex,
		facetFields: facetFields,
		limits:      normalizePipelineLimits(limits),
		logger:      logger,
	}
}

func (uc *RetrieveUseCase) Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
	started := time.Now()
	query := normalizeQuery(req.Query)
	if query == "" {
		return nil, domain.WrapError(domain.ErrInvalidInput, "retrieve", fmt.Errorf("empty query"))
	}

	traceID := uuid.NewString()
	logger := uc.logger.With("trace_id", traceID)

	var (
		plan        domain.PlannerPlan
		intent      domain.QueryIntent
		queryVector []float32
	)
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		plan = uc.planner.Plan(ctx, query, req.TimeHint)
	}()
	go func() {
		defer wg.Done()
		intent = uc.intent.Extract(ctx, query)
	}()
	go func() {
		defer wg.Done()
		vector, err := uc.embedder.EmbedQuery(ctx, query)
		if err != nil {
			logger.Warn("query embedding failed, vector stages disabled", "error", err)
			return
		}
		queryVector = vector
	}()
	wg.Wait()

	broad := uc.searchHybrid(ctx, logger, query, queryVector, plan.Alpha, uc.limits.BroadLimit, nil)
	schema := DiscoverSchema(broad)
	histograms := uc.facetHistograms(ctx, logger, schema)

	var facetWeights map[string]map[string]float64
	if uc.facetIndex != nil && len(queryVector) > 0 {
		facetWeights = uc.facetIndex.QueryWeights(queryVector)
	}
	branches := PlanBranches(plan, histograms, facetWeights, uc.limits.BranchCap)

	stats := domain.PipelineStats{Branches: len(branches)}
	perBranch := branchLimit(uc.limits.TotalLimit, len(branches))
	poolLimit := uc.limits.MaxBranchPool
	if scaled := perBranch * uc.limits.PoolMultiplier; scaled < poolLimit {
		poolLimit = scaled
	}

	pools := make([][]domain.ScoredChunk, len(branches))
	var statsMu sync.Mutex
	var branchWG sync.WaitGroup
	for i := range branches {
		branchWG.Add(1)
		go func(i int, filter domain.FacetFilter) {
			defer branchWG.Done()
			if cached, ok := uc.cache.Get(query, filter); ok {
				statsMu.Lock()
				stats.CacheHits++
				statsMu.Unlock()
				pools[i] = cached
				return
			}
			statsMu.Lock()
			stats.CacheMisses++
			statsMu.Unlock()

			candidates := uc.searchHybrid(ctx, logger, query, queryVector, plan.Alpha, poolLimit, filter)
			if len(candidates) == 0 {
				return
			}
			boosted := uc.boost.Boost(candidates, intent, schema)
			if len(boosted) > perBranch {
				boosted = boosted[:perBranch]
			}
			uc.cache.Put(query, filter, boosted)
			pools[i] = boosted
		}(i, branches[i])
	}
	branchWG.Wait()

	merged := mergeBranchPools(pools)
	if leftovers := leftoverCandidates(broad, merged); len(leftovers) > 0 {
		merged = append(merged, uc.boost.Boost(leftovers, intent, schema)...)
	}
	stats.PoolSize = len(merged)

	ranked, err := uc.reranker.Rerank(queryVector, merged, req.Limit)
	if err != nil {
		return nil, err
	}

	stats.ElapsedMS = time.Since(started).Milliseconds()
	logger.Info("retrieval complete",
		"branches", stats.Branches,
		"cache_hits", stats.CacheHits,
		"cache_misses", stats.CacheMisses,
		"pool_size", stats.PoolSize,
		"results", len(ranked),
		"elapsed_ms", stats.ElapsedMS,
	)

	return &domain.RetrievalResult{
		TraceID:  traceID,
		Query:    query,
		Chunks:   ranked,
		Pipeline: stats,
	}, nil
}

// searchHybrid runs dense and lexical retrieval under one timeout and fuses
// the lists. Either side failing degrades to the other; both failing yields
// an empty pool.
func (uc *RetrieveUseCase) searchHybrid(
	ctx context.Context,
	logger *slog.Logger,
	query string,
	queryVector []float32,
	alpha float64,
	limit int,
	filter domain.FacetFilter,
) []domain.CandidateChunk {
	searchCtx, cancel := context.WithTimeout(ctx, uc.limits.SearchTimeout)
	defer cancel()

	var dense []domain.CandidateChunk
	if len(queryVector) > 0 {
		chunks, err := uc.search.Search(searchCtx, queryVector, limit, filter)
		if err != nil {
			logger.Warn("dense search failed", "filter", filter.CanonicalKey(), "error", err)
		} else {
			dense = chunks
		}
	}

	var lexical []domain.CandidateChunk
	chunks, err := uc.search.SearchLexical(searchCtx, query, limit, filter)
	if err != nil {
		logger.Warn("lexical search failed", "filter", filter.CanonicalKey(), "error", err)
	} else {
		lexical = chunks
	}

	return trimCandidates(fuseCandidatesRRF(dense, lexical, uc.limits.FusionRRFK, alpha), limit)
}

func (uc *RetrieveUseCase) facetHistograms(ctx context.Context, logger *slog.Logger, schema domain.SchemaProfile) map[string]map[string]int {
	if uc.aggregator == nil {
		return nil
	}
	fields := facetFields(schema, uc.facetFields)
	if len(fields) == 0 {
		return nil
	}

	histograms := make(map[string]map[string]int, len(fields))
	for _, field := range fields {
		aggCtx, cancel := context.WithTimeout(ctx, uc.limits.SearchTimeout)
		hist, err := uc.aggregator.AggregateGroupBy(aggCtx, field)
		cancel()
		if err != nil {
			logger.Warn("facet aggregation failed", "facet", field, "error", err)
			continue
		}
		if len(hist) > 0 {
			histograms[field] = hist
		}
	}
	return histograms
}

// mergeBranchPools concatenates branch pools dropping duplicates. The first
// branch to produce a chunk keeps it, so earlier branches dominate.
func mergeBranchPools(pools [][]domain.ScoredChunk) []domain.ScoredChunk {
	var out []domain.ScoredChunk
	seen := map[string]struct{}{}
	for _, pool := range pools {
		for _, chunk := range pool {
			key := candidateKey(chunk.CandidateChunk)
			if _, dup := seen[key]; dup {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, chunk)
		}
	}
	return out
}

// leftoverCandidates returns the broad-pool chunks no branch surfaced, so
// the reranker still sees them after the narrowed branches had their say.
func leftoverCandidates(broad []domain.CandidateChunk, merged []domain.ScoredChunk) []domain.CandidateChunk {
	if len(broad) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(merged))
	for _, chunk := range merged {
		seen[candidateKey(chunk.CandidateChunk)] = struct{}{}
	}
	var out []domain.CandidateChunk
	for _, chunk := range broad {
		if _, dup := seen[candidateKey(chunk)]; !dup {
			out = append(out, chunk)
		}
	}
	return out
}

func branchLimit(total, branches int) int {
	if branches < 1 {
		branches = 1
	}
	limit := total / branches
	if limit < minBranchLimit {
		limit = minBranchLimit
	}
	return limit
}

func normalizePipelineLimits(limits domain.PipelineLimits) domain.PipelineLimits {
	if limits.BranchCap <= 0 {
		limits.BranchCap = defaultBranchCap
	}
	if limits.TotalLimit <= 0 {
		limits.TotalLimit = 40
	}
	if limits.BroadLimit <= 0 {
		limits.BroadLimit = 50
	}
	if limits.MaxBranchPool <= 0 {
		limits.MaxBranchPool = 100
	}
	if limits.PoolMultiplier <= 0 {
		limits.PoolMultiplier = 3
	}
	if limits.FusionRRFK <= 0 {
		limits.FusionRRFK = 60
	}
	if limits.SearchTimeout <= 0 {
		limits.SearchTimeout = 8 * time.Second
	}
	return limits
}

// normalizeQuery collapses whitespace runs and trims the ends.
func normalizeQuery(q string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(q, " "))
}
