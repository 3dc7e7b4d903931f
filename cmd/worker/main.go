package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/bootstrap"
	"github.com/kirillkom/retrieval-pipeline/internal/config"
	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/observability/logging"
	"github.com/kirillkom/retrieval-pipeline/internal/observability/metrics"
)

const (
	serviceName    = "retrieval-worker"
	handlerTimeout = 30 * time.Second
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.NewJSONLogger(serviceName, cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("worker failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, stop context.CancelFunc, cfg config.Config, logger *slog.Logger) error {
	app, err := bootstrap.New(ctx, cfg, serviceName, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	ops := metrics.NewOpsServer(cfg.OpsAddr, app.Metrics.Handler(), app.Queue.Healthy)
	ops.Start(logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ops.Shutdown(shutdownCtx)
	}()

	retrieve := func(handlerCtx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error) {
		reqCtx, cancel := context.WithTimeout(handlerCtx, handlerTimeout)
		defer cancel()

		app.Metrics.StartRequest()
		started := time.Now()
		result, err := app.RetrieveUC.Retrieve(reqCtx, req)
		app.Metrics.FinishRequest(serviceName, time.Since(started), err)
		if err == nil && result != nil {
			app.Metrics.ObservePipeline(serviceName, result.Pipeline.Branches, result.Pipeline.CacheHits, result.Pipeline.CacheMisses, len(result.Chunks))
		}
		return result, err
	}
	feedback := func(handlerCtx context.Context, event domain.FeedbackEvent) error {
		fbCtx, cancel := context.WithTimeout(handlerCtx, handlerTimeout)
		defer cancel()

		err := app.FeedbackUC.MarkUseful(fbCtx, event)
		app.Metrics.ObserveFeedback(serviceName, "useful", err)
		return err
	}
	invalidate := func(handlerCtx context.Context, chunkID string) error {
		err := app.FeedbackUC.InvalidateChunk(handlerCtx, chunkID)
		app.Metrics.ObserveFeedback(serviceName, "invalidation", err)
		return err
	}

	errCh := make(chan error, 3)
	go func() { errCh <- app.Queue.SubscribeRetrievalRequests(ctx, retrieve) }()
	go func() { errCh <- app.Queue.SubscribeFeedback(ctx, feedback) }()
	go func() { errCh <- app.Queue.SubscribeChunkInvalidated(ctx, invalidate) }()

	if cfg.MemorySweepDays > 0 {
		go sweepIdleStats(ctx, app, cfg.MemorySweepDays, logger)
	}

	logger.Info("worker ready", "nats_url", cfg.NATSURL, "ops_addr", cfg.OpsAddr, "memory_chunks", app.Memory.Size())

	var subErr error
	received := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		received++
		if err != nil {
			subErr = err
		}
		stop()
	}
	for ; received < cap(errCh); received++ {
		if err := <-errCh; err != nil && subErr == nil {
			subErr = err
		}
	}
	return subErr
}

// sweepIdleStats prunes chunk stats that have not been useful for sweepDays.
func sweepIdleStats(ctx context.Context, app *bootstrap.App, sweepDays int, logger *slog.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-time.Duration(sweepDays) * 24 * time.Hour)
			removed, err := app.Memory.SweepIdle(ctx, cutoff)
			if err != nil {
				logger.Warn("idle stats sweep failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("idle chunk stats swept", "removed", removed)
			}
		}
	}
}
