package domain

import "time"

type RetrievalRequest struct {
	Query    string `json:"query"`
	TimeHint string `json:"time_hint,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PipelineLimits bounds the fan-out of one retrieval. Zero fields mean
// "use the default".
type PipelineLimits struct {
	BranchCap      int
	TotalLimit     int
	BroadLimit     int
	MaxBranchPool  int
	PoolMultiplier int
	FusionRRFK     int
	SearchTimeout  time.Duration
}

// ScoredChunk is a candidate after soft boosting. Branch pools and cache
// entries hold these.
type ScoredChunk struct {
	CandidateChunk
	BoostScore   float64  `json:"boost_score"`
	BoostReasons []string `json:"boost_reasons,omitempty"`
}

// RankedChunk is a chunk in the final diversified order.
type RankedChunk struct {
	ScoredChunk
	RerankScore float64 `json:"rerank_score"`
}

type RetrievalResult struct {
	TraceID  string        `json:"trace_id"`
	Query    string        `json:"query"`
	Chunks   []RankedChunk `json:"chunks"`
	Pipeline PipelineStats `json:"pipeline"`
}

// PipelineStats describes how one retrieval was assembled.
type PipelineStats struct {
	Branches    int   `json:"branches"`
	CacheHits   int   `json:"cache_hits"`
	CacheMisses int   `json:"cache_misses"`
	PoolSize    int   `json:"pool_size"`
	ElapsedMS   int64 `json:"elapsed_ms"`
}

type FeedbackEvent struct {
	EventID  string   `json:"event_id,omitempty"`
	Query    string   `json:"query"`
	ChunkIDs []string `json:"chunk_ids"`
}
