package memory

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
)

const (
	defaultMergeThreshold = 0.85
	defaultClusterCap     = 5
	defaultHalfLifeWeeks  = 6
	sampleQueryCap        = 5
)

// Store keeps per-chunk usefulness history in memory: which query clusters
// found a chunk useful, how often, and how recently. Writes optionally flow
// through to a repository for durability; the in-memory state stays the
// source of truth and is never locked across a repository call.
type Store struct {
	mu             sync.Mutex
	stats          map[string]*domain.ChunkStats
	mergeThreshold float64
	clusterCap     int
	decay          DecayPolicy
	repo           ports.ChunkStatsRepository
	logger         *slog.Logger
	now            func() time.Time
}

// NewStore builds the store. repo may be nil for a purely in-memory store;
// out-of-range tuning values fall back to the defaults.
func NewStore(repo ports.ChunkStatsRepository, decay DecayPolicy, mergeThreshold float64, clusterCap int, logger *slog.Logger) *Store {
	if mergeThreshold <= 0 || mergeThreshold >= 1 {
		mergeThreshold = defaultMergeThreshold
	}
	if clusterCap <= 0 {
		clusterCap = defaultClusterCap
	}
	if decay == nil {
		decay = HalfLifeDecay{HalfLifeWeeks: defaultHalfLifeWeeks}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		stats:          make(map[string]*domain.ChunkStats),
		mergeThreshold: mergeThreshold,
		clusterCap:     clusterCap,
		decay:          decay,
		repo:           repo,
		logger:         logger,
		now:            time.Now,
	}
}

// Load hydrates the store from the repository. Records without a chunk id
// are dropped individually; they cannot be keyed.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	records, err := s.repo.List(ctx)
	if err != nil {
		return fmt.Errorf("load chunk stats: %w", err)
	}

	loaded, dropped := 0, 0
	s.mu.Lock()
	for _, record := range records {
		if record.ChunkID == "" {
			dropped++
			continue
		}
		clone := record.Clone()
		s.stats[record.ChunkID] = &clone
		loaded++
	}
	s.mu.Unlock()

	if dropped > 0 {
		s.logger.Warn("dropped unkeyed chunk stats records", "dropped", dropped)
	}
	s.logger.Info("chunk memory loaded", "chunks", loaded)
	return nil
}

// BestClusterSimilarity returns the highest cosine similarity between the
// query vector and the chunk's cluster centroids, floored at zero. Unknown
// chunks score zero.
func (s *Store) BestClusterSimilarity(chunkID string, queryVector []float32) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.stats[chunkID]
	if !ok {
		return 0
	}
	best := 0.0
	for _, cluster := range stats.QueryCentroids {
		if sim := cosine32(queryVector, cluster.Centroid); sim > best {
			best = sim
		}
	}
	return best
}

// RecordUseful folds one feedback signal into the chunk's history: the
// nearest cluster above the merge threshold absorbs the query, otherwise a
// new cluster is opened and the least recently updated one beyond the cap is
// dropped.
func (s *Store) RecordUseful(ctx context.Context, chunkID string, queryVector []float32, queryText string) error {
	if chunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "record useful", fmt.Errorf("empty chunk id"))
	}
	if len(queryVector) == 0 {
		return domain.WrapError(domain.ErrInvalidInput, "record useful", fmt.Errorf("empty query vector"))
	}

	s.mu.Lock()
	stats, ok := s.stats[chunkID]
	if !ok {
		stats = &domain.ChunkStats{ChunkID: chunkID}
		s.stats[chunkID] = stats
	}

	now := s.now()
	if stats.LastUsefulAt != nil {
		stats.DecayedUtility = s.decay.Decay(stats.DecayedUtility, *stats.LastUsefulAt, now)
	}
	stats.DecayedUtility++
	stats.UsefulCount++
	stats.LastUsefulAt = &now

	best, bestSim := -1, 0.0
	for i := range stats.QueryCentroids {
		if sim := cosine32(queryVector, stats.QueryCentroids[i].Centroid); sim > bestSim {
			best, bestSim = i, sim
		}
	}

	if best >= 0 && bestSim >= s.mergeThreshold {
		cluster := &stats.QueryCentroids[best]
		mergeCentroid(cluster, queryVector)
		cluster.LastUpdated = now
		if len(cluster.SampleQueries) < sampleQueryCap && !containsString(cluster.SampleQueries, queryText) {
			cluster.SampleQueries = append(cluster.SampleQueries, queryText)
		}
	} else {
		stats.QueryCentroids = append(stats.QueryCentroids, domain.QueryCluster{
			Centroid:      append([]float32(nil), queryVector...),
			Count:         1,
			LastUpdated:   now,
			SampleQueries: []string{queryText},
		})
		if len(stats.QueryCentroids) > s.clusterCap {
			dropOldestCluster(stats)
		}
	}

	snapshot := stats.Clone()
	s.mu.Unlock()

	if s.repo != nil {
		if err := s.repo.Upsert(ctx, snapshot); err != nil {
			s.logger.Warn("persisting chunk stats failed", "chunk_id", chunkID, "error", err)
		}
	}
	return nil
}

// Stats returns a copy of the chunk's history with the utility decayed to
// the present, without mutating stored state.
func (s *Store) Stats(chunkID string) (domain.ChunkStats, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stats, ok := s.stats[chunkID]
	if !ok {
		return domain.ChunkStats{}, false
	}
	snapshot := stats.Clone()
	if snapshot.LastUsefulAt != nil {
		snapshot.DecayedUtility = s.decay.Decay(snapshot.DecayedUtility, *snapshot.LastUsefulAt, s.now())
	}
	return snapshot, true
}

// Size reports how many chunks have history.
func (s *Store) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.stats)
}

// SweepIdle drops chunks whose last useful feedback predates the cutoff,
// both in memory and in the repository. Returns how many in-memory records
// went away.
func (s *Store) SweepIdle(ctx context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	removed := 0
	for chunkID, stats := range s.stats {
		if stats.LastUsefulAt == nil || stats.LastUsefulAt.Before(cutoff) {
			delete(s.stats, chunkID)
			removed++
		}
	}
	s.mu.Unlock()

	if s.repo != nil {
		if _, err := s.repo.DeleteIdleBefore(ctx, cutoff); err != nil {
			return removed, fmt.Errorf("sweep idle chunk stats: %w", err)
		}
	}
	return removed, nil
}

func mergeCentroid(cluster *domain.QueryCluster, vector []float32) {
	n := len(cluster.Centroid)
	if len(vector) < n {
		n = len(vector)
	}
	count := float32(cluster.Count)
	for i := 0; i < n; i++ {
		cluster.Centroid[i] = (cluster.Centroid[i]*count + vector[i]) / (count + 1)
	}
	cluster.Count++
}

func dropOldestCluster(stats *domain.ChunkStats) {
	oldest := 0
	for i := 1; i < len(stats.QueryCentroids); i++ {
		if stats.QueryCentroids[i].LastUpdated.Before(stats.QueryCentroids[oldest].LastUpdated) {
			oldest = i
		}
	}
	stats.QueryCentroids = append(stats.QueryCentroids[:oldest], stats.QueryCentroids[oldest+1:]...)
}

func containsString(list []string, v string) bool {
	for _, existing := range list {
		if existing == v {
			return true
		}
	}
	return false
}

func cosine32(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na)*math.Sqrt(nb) + 1e-8)
}
