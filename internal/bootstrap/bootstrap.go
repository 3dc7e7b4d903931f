package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/config"
	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
	"github.com/kirillkom/retrieval-pipeline/internal/core/usecase"
	cacheinmem "github.com/kirillkom/retrieval-pipeline/internal/infrastructure/cache/inmem"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/llm/ollama"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/memory"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/queue/nats"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/repository/postgres"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/resilience"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/storage/localfs"
	vectorinmem "github.com/kirillkom/retrieval-pipeline/internal/infrastructure/vector/inmem"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/vector/qdrant"
	"github.com/kirillkom/retrieval-pipeline/internal/observability/logging"
	"github.com/kirillkom/retrieval-pipeline/internal/observability/metrics"
)

// App is one wired retrieval worker: the queue it serves, the use cases
// behind it, and the process-local stores the ops endpoints report on.
type App struct {
	Config config.Config

	Queue      *nats.Queue
	RetrieveUC ports.RetrievalService
	FeedbackUC ports.FeedbackService
	Memory     *memory.Store
	Metrics    *metrics.WorkerMetrics

	closeFn func()
}

func New(ctx context.Context, cfg config.Config, service string, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	statsRepo, closeDB, err := newStatsRepository(ctx, cfg)
	if err != nil {
		return nil, err
	}

	executor := resilience.NewExecutor(resilience.DefaultConfig())

	memStore := memory.NewStore(
		statsRepo,
		memory.HalfLifeDecay{HalfLifeWeeks: cfg.DecayHalfLifeWeeks},
		cfg.MergeThreshold,
		cfg.ClusterCap,
		logging.WithComponent(logger, "memory"),
	)
	if err := memStore.Load(ctx); err != nil {
		logger.Warn("chunk memory warm-up failed, starting empty", "error", err)
	}

	cache := cacheinmem.NewRetrievalCache(time.Duration(cfg.CacheTTLMinutes)*time.Minute, cfg.CacheMaxEntries)

	ollamaClient := ollama.NewWithOptions(cfg.OllamaURL, cfg.OllamaGenModel, cfg.OllamaEmbedModel, ollama.Options{
		RequestsPerSecond:  cfg.OllamaRateRPS,
		Burst:              cfg.OllamaRateBurst,
		ResilienceExecutor: executor,
	})
	embedder := ollama.NewEmbedder(ollamaClient)
	plannerModel := ollama.NewPlanner(ollamaClient)

	vectorDB := qdrant.NewWithOptions(cfg.QdrantURL, cfg.QdrantCollection, qdrant.Options{
		ResilienceExecutor: executor,
	})

	facetIndex := vectorinmem.NewFacetIndex()
	seedFacetIndex(facetIndex, cfg.FacetSnapshotPath, logger)

	queue, err := nats.NewWithOptions(cfg.NATSURL, nats.Options{
		ResilienceExecutor: executor,
		Logger:             logging.WithComponent(logger, "nats"),
	})
	if err != nil {
		if closeDB != nil {
			closeDB()
		}
		return nil, fmt.Errorf("init message queue: %w", err)
	}

	planner := usecase.NewPlanExtractor(plannerModel, logger, 0)
	intent := usecase.NewIntentExtractor(plannerModel, logger, 0)
	boost := usecase.NewSoftBoostFilter(usecase.BoostWeights{
		DateMatch:    cfg.BoostDateMatch,
		PartialDate:  cfg.BoostPartialDate,
		DayOfWeek:    cfg.BoostDayOfWeek,
		TimeMatch:    cfg.BoostTimeMatch,
		EntityMatch:  cfg.BoostEntityMatch,
		Completeness: cfg.BoostCompleteness,
	})
	reranker := usecase.NewReranker(memStore, cfg.MMRLambda, cfg.RerankTopK, cfg.MemoryWeight)

	limits := domain.PipelineLimits{
		BranchCap:     cfg.BranchCap,
		TotalLimit:    cfg.TotalLimit,
		BroadLimit:    cfg.BroadLimit,
		FusionRRFK:    cfg.FusionRRFK,
		SearchTimeout: time.Duration(cfg.SearchTimeoutSeconds) * time.Second,
	}

	retrieveUC := usecase.NewRetrieveUseCase(
		embedder,
		vectorDB,
		vectorDB,
		planner,
		intent,
		cache,
		boost,
		reranker,
		facetIndex,
		cfg.FacetFields,
		limits,
		logger,
	)
	feedbackUC := usecase.NewFeedbackUseCase(embedder, memStore, cache, logger)

	workerMetrics := metrics.NewWorkerMetrics(service)
	workerMetrics.RegisterStoreGauges(service, metrics.StoreGauges{
		CacheEntries:       func() float64 { return float64(cache.Stats().Size) },
		CacheTrackedChunks: func() float64 { return float64(cache.Stats().TrackedChunks) },
		CacheEvictions:     func() float64 { return float64(cache.Stats().Evictions) },
		MemoryChunks:       func() float64 { return float64(memStore.Size()) },
		FacetValues:        func() float64 { return float64(facetIndex.Len()) },
	})

	return &App{
		Config: cfg,

		Queue:      queue,
		RetrieveUC: retrieveUC,
		FeedbackUC: feedbackUC,
		Memory:     memStore,
		Metrics:    workerMetrics,

		closeFn: func() {
			queue.Close()
			if closeDB != nil {
				closeDB()
			}
		},
	}, nil
}

func (a *App) Close() {
	if a.closeFn != nil {
		a.closeFn()
	}
}

// newStatsRepository picks the durable store for chunk stats: Postgres when
// a DSN is configured, the JSON snapshot file otherwise.
func newStatsRepository(ctx context.Context, cfg config.Config) (ports.ChunkStatsRepository, func(), error) {
	if cfg.PostgresDSN == "" {
		store, err := localfs.NewStatsStore(cfg.StatsSnapshotPath)
		if err != nil {
			return nil, nil, fmt.Errorf("init stats snapshot: %w", err)
		}
		return store, nil, nil
	}

	db, err := postgres.OpenDB(cfg.PostgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("open postgres: %w", err)
	}
	repo := postgres.NewChunkStatsRepository(db)
	if err := repo.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return repo, func() { _ = db.Close() }, nil
}

func seedFacetIndex(index *vectorinmem.FacetIndex, path string, logger *slog.Logger) {
	if path == "" {
		return
	}
	vectors, err := localfs.LoadFacetVectors(path)
	if err != nil {
		logger.Warn("facet snapshot unreadable, planner runs without facet vectors", "path", path, "error", err)
		return
	}
	for _, vector := range vectors {
		index.Upsert(vector)
	}
	logger.Info("facet index seeded", "path", path, "values", index.Len())
}
