package ports

import (
	"context"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

// RetrievalService is the inbound contract for one pipeline execution.
type RetrievalService interface {
	Retrieve(ctx context.Context, req domain.RetrievalRequest) (*domain.RetrievalResult, error)
}

// FeedbackService applies usefulness feedback and corpus invalidations to the
// shared stores.
type FeedbackService interface {
	MarkUseful(ctx context.Context, event domain.FeedbackEvent) error
	InvalidateChunk(ctx context.Context, chunkID string) error
}
