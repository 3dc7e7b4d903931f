package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
)

// FeedbackUseCase applies the two events that mutate shared pipeline state:
// usefulness feedback feeding chunk memory, and chunk invalidation flushing
// cached results.
type FeedbackUseCase struct {
	embedder ports.Embedder
	memory   ports.ChunkMemory
	cache    ports.ResultCache
	logger   *slog.Logger
}

func NewFeedbackUseCase(
	embedder ports.Embedder,
	memory ports.ChunkMemory,
	cache ports.ResultCache,
	logger *slog.Logger,
) *FeedbackUseCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedbackUseCase{
		embedder: embedder,
		memory:   memory,
		cache:    cache,
		logger:   logger,
	}
}

// MarkUseful records that the given chunks answered the query well. The
// query is embedded once and each chunk's memory is updated. An embedding
// failure drops the event with a warning instead of erroring: feedback is
// advisory and must never wedge the consumer.
func (uc *FeedbackUseCase) MarkUseful(ctx context.Context, event domain.FeedbackEvent) error {
	query := normalizeQuery(event.Query)
	if query == "" {
		return domain.WrapError(domain.ErrInvalidInput, "mark useful", fmt.Errorf("empty query"))
	}
	if len(event.ChunkIDs) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "mark useful", fmt.Errorf("no chunk ids"))
	}

	logger := uc.logger.With("event_id", event.EventID)
	vector, err := uc.embedder.EmbedQuery(ctx, query)
	if err != nil || len(vector) == 0 {
		logger.Warn("feedback query embedding failed, event dropped", "error", err)
		return nil
	}

	recorded := 0
	for _, chunkID := range event.ChunkIDs {
		chunkID = strings.TrimSpace(chunkID)
		if chunkID == "" {
			continue
		}
		if err := uc.memory.RecordUseful(ctx, chunkID, vector, query); err != nil {
			logger.Warn("recording usefulness failed", "chunk_id", chunkID, "error", err)
			continue
		}
		recorded++
	}
	logger.Info("feedback applied", "chunks", recorded)
	return nil
}

// InvalidateChunk drops every cached branch result containing the chunk.
func (uc *FeedbackUseCase) InvalidateChunk(ctx context.Context, chunkID string) error {
	chunkID = strings.TrimSpace(chunkID)
	if chunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "invalidate chunk", fmt.Errorf("empty chunk id"))
	}
	removed := uc.cache.InvalidateChunk(chunkID)
	uc.logger.Info("cache entries invalidated", "chunk_id", chunkID, "removed", removed)
	return nil
}
