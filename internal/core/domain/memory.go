package domain

import "time"

// QueryCluster summarizes a group of past queries that found one chunk
// useful. Owned by exactly one ChunkStats record.
type QueryCluster struct {
	Centroid      []float32 `json:"centroid"`
	Count         int       `json:"count"`
	LastUpdated   time.Time `json:"last_updated"`
	SampleQueries []string  `json:"sample_queries,omitempty"`
}

// ChunkStats is the per-chunk usefulness history. Created lazily on first
// feedback, keyed by chunk ID, mutated only by the feedback path.
type ChunkStats struct {
	ChunkID        string         `json:"chunk_id"`
	UsefulCount    int            `json:"useful_count"`
	LastUsefulAt   *time.Time     `json:"last_useful_at,omitempty"`
	QueryCentroids []QueryCluster `json:"query_centroids,omitempty"`
	DecayedUtility float64        `json:"decayed_utility"`
}

// Clone returns a deep copy so callers can hand stats across goroutine
// boundaries without aliasing store-owned slices.
func (s ChunkStats) Clone() ChunkStats {
	out := s
	if s.LastUsefulAt != nil {
		t := *s.LastUsefulAt
		out.LastUsefulAt = &t
	}
	if s.QueryCentroids != nil {
		out.QueryCentroids = make([]QueryCluster, len(s.QueryCentroids))
		for i, c := range s.QueryCentroids {
			cc := c
			cc.Centroid = append([]float32(nil), c.Centroid...)
			cc.SampleQueries = append([]string(nil), c.SampleQueries...)
			out.QueryCentroids[i] = cc
		}
	}
	return out
}
