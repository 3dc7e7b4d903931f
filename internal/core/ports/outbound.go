package ports

import (
	"context"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

// SearchClient performs dense and lexical retrieval against the vector store.
// Implementations return an empty slice, not an error, when the backing store
// has no results for a filter.
type SearchClient interface {
	Search(ctx context.Context, queryVector []float32, limit int, filter domain.FacetFilter) ([]domain.CandidateChunk, error)
	SearchLexical(ctx context.Context, queryText string, limit int, filter domain.FacetFilter) ([]domain.CandidateChunk, error)
}

// Embedder builds vectors for query text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// FacetAggregator exposes corpus-wide facet value histograms.
type FacetAggregator interface {
	AggregateGroupBy(ctx context.Context, facet string) (map[string]int, error)
}

// PlannerModel generates model output expected to contain one JSON object.
type PlannerModel interface {
	GenerateJSONFromPrompt(ctx context.Context, prompt string) (string, error)
}

// ResultCache memoizes boosted branch results per (query, filter) pair.
// Operations are synchronous in-process state; a miss is a normal outcome.
type ResultCache interface {
	Get(query string, filter domain.FacetFilter) ([]domain.ScoredChunk, bool)
	Put(query string, filter domain.FacetFilter, results []domain.ScoredChunk)
	InvalidateChunk(chunkID string) int
	Clear()
}

// ChunkMemory tracks which query clusters found each chunk useful.
type ChunkMemory interface {
	BestClusterSimilarity(chunkID string, queryVector []float32) float64
	RecordUseful(ctx context.Context, chunkID string, queryVector []float32, queryText string) error
	Stats(chunkID string) (domain.ChunkStats, bool)
}

// ChunkStatsRepository persists chunk usefulness records beyond process
// lifetime. Get wraps domain.ErrStatsNotFound for unknown chunks.
type ChunkStatsRepository interface {
	Get(ctx context.Context, chunkID string) (*domain.ChunkStats, error)
	Upsert(ctx context.Context, stats domain.ChunkStats) error
	List(ctx context.Context) ([]domain.ChunkStats, error)
	DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// FacetVectorIndex matches query embeddings against stored facet-value
// vectors. QueryWeights returns facet -> value -> similarity for values above
// the index's similarity floor.
type FacetVectorIndex interface {
	Upsert(vector domain.FacetVector)
	QueryWeights(queryVector []float32) map[string]map[string]float64
	Len() int
}

// EventQueue carries retrieval requests and the feedback/invalidation events
// that mutate shared pipeline state.
type EventQueue interface {
	SubscribeRetrievalRequests(ctx context.Context, handler func(context.Context, domain.RetrievalRequest) (*domain.RetrievalResult, error)) error
	PublishFeedback(ctx context.Context, event domain.FeedbackEvent) error
	SubscribeFeedback(ctx context.Context, handler func(context.Context, domain.FeedbackEvent) error) error
	PublishChunkInvalidated(ctx context.Context, chunkID string) error
	SubscribeChunkInvalidated(ctx context.Context, handler func(context.Context, string) error) error
}
