package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

type statsRepoFake struct {
	mu           sync.Mutex
	records      []domain.ChunkStats
	upserts      []domain.ChunkStats
	listErr      error
	upsertErr    error
	deleteCalls  int
	deleteCutoff time.Time
}

func (f *statsRepoFake) Get(ctx context.Context, chunkID string) (*domain.ChunkStats, error) {
	return nil, domain.WrapError(domain.ErrStatsNotFound, "get chunk stats", fmt.Errorf("chunk %s", chunkID))
}

func (f *statsRepoFake) Upsert(ctx context.Context, stats domain.ChunkStats) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserts = append(f.upserts, stats)
	return nil
}

func (f *statsRepoFake) List(ctx context.Context) ([]domain.ChunkStats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]domain.ChunkStats(nil), f.records...), nil
}

func (f *statsRepoFake) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleteCalls++
	f.deleteCutoff = cutoff
	return 0, nil
}

var storeEpoch = time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)

func newTestStore(repo *statsRepoFake, clusterCap int) (*Store, *time.Time) {
	current := storeEpoch
	var store *Store
	if repo == nil {
		store = NewStore(nil, nil, 0, clusterCap, nil)
	} else {
		store = NewStore(repo, nil, 0, clusterCap, nil)
	}
	store.now = func() time.Time { return current }
	return store, &current
}

func TestRecordUsefulRecallsCluster(t *testing.T) {
	store, _ := newTestStore(nil, 0)
	vec := []float32{1, 0, 0}

	if err := store.RecordUseful(context.Background(), "c1", vec, "team standup notes"); err != nil {
		t.Fatalf("RecordUseful() error = %v", err)
	}

	if sim := store.BestClusterSimilarity("c1", vec); sim < 0.99 {
		t.Fatalf("BestClusterSimilarity() = %v, want near 1", sim)
	}
	if sim := store.BestClusterSimilarity("unknown", vec); sim != 0 {
		t.Fatalf("BestClusterSimilarity(unknown) = %v, want 0", sim)
	}

	stats, ok := store.Stats("c1")
	if !ok {
		t.Fatal("Stats() reported chunk missing")
	}
	if stats.UsefulCount != 1 {
		t.Fatalf("UsefulCount = %d, want 1", stats.UsefulCount)
	}
	if stats.DecayedUtility != 1 {
		t.Fatalf("DecayedUtility = %v, want 1", stats.DecayedUtility)
	}
	if stats.LastUsefulAt == nil || !stats.LastUsefulAt.Equal(storeEpoch) {
		t.Fatalf("LastUsefulAt = %v, want %v", stats.LastUsefulAt, storeEpoch)
	}
}

func TestRecordUsefulMergesSimilarQueries(t *testing.T) {
	store, _ := newTestStore(nil, 0)

	if err := store.RecordUseful(context.Background(), "c1", []float32{1, 0}, "first"); err != nil {
		t.Fatalf("RecordUseful() error = %v", err)
	}
	if err := store.RecordUseful(context.Background(), "c1", []float32{0.9, 0.1}, "second"); err != nil {
		t.Fatalf("RecordUseful() error = %v", err)
	}

	stats, _ := store.Stats("c1")
	if len(stats.QueryCentroids) != 1 {
		t.Fatalf("clusters = %d, want 1", len(stats.QueryCentroids))
	}
	cluster := stats.QueryCentroids[0]
	if cluster.Count != 2 {
		t.Fatalf("cluster count = %d, want 2", cluster.Count)
	}
	if !almostEqual(float64(cluster.Centroid[0]), 0.95) || !almostEqual(float64(cluster.Centroid[1]), 0.05) {
		t.Fatalf("centroid = %v, want [0.95 0.05]", cluster.Centroid)
	}
	if len(cluster.SampleQueries) != 2 || cluster.SampleQueries[1] != "second" {
		t.Fatalf("sample queries = %v, want [first second]", cluster.SampleQueries)
	}
}

func TestRecordUsefulOpensClusterForDistinctQuery(t *testing.T) {
	store, _ := newTestStore(nil, 0)

	store.RecordUseful(context.Background(), "c1", []float32{1, 0}, "schedule")
	store.RecordUseful(context.Background(), "c1", []float32{0, 1}, "budget")

	stats, _ := store.Stats("c1")
	if len(stats.QueryCentroids) != 2 {
		t.Fatalf("clusters = %d, want 2", len(stats.QueryCentroids))
	}
	if stats.UsefulCount != 2 {
		t.Fatalf("UsefulCount = %d, want 2", stats.UsefulCount)
	}
}

func TestRecordUsefulEvictsOldestClusterBeyondCap(t *testing.T) {
	store, current := newTestStore(nil, 2)
	ctx := context.Background()

	store.RecordUseful(ctx, "c1", []float32{1, 0, 0}, "alpha")
	*current = storeEpoch.Add(time.Minute)
	store.RecordUseful(ctx, "c1", []float32{0, 1, 0}, "beta")
	*current = storeEpoch.Add(2 * time.Minute)
	store.RecordUseful(ctx, "c1", []float32{0, 0, 1}, "gamma")

	stats, _ := store.Stats("c1")
	if len(stats.QueryCentroids) != 2 {
		t.Fatalf("clusters = %d, want 2", len(stats.QueryCentroids))
	}
	if sim := store.BestClusterSimilarity("c1", []float32{1, 0, 0}); sim != 0 {
		t.Fatalf("similarity to evicted cluster = %v, want 0", sim)
	}
	if sim := store.BestClusterSimilarity("c1", []float32{0, 0, 1}); sim < 0.99 {
		t.Fatalf("similarity to newest cluster = %v, want near 1", sim)
	}
}

func TestRecordUsefulCapsSampleQueries(t *testing.T) {
	store, _ := newTestStore(nil, 0)
	ctx := context.Background()
	vec := []float32{1, 0}

	for _, q := range []string{"q1", "q2", "q1", "q3", "q4", "q5", "q6"} {
		if err := store.RecordUseful(ctx, "c1", vec, q); err != nil {
			t.Fatalf("RecordUseful(%q) error = %v", q, err)
		}
	}

	stats, _ := store.Stats("c1")
	if len(stats.QueryCentroids) != 1 {
		t.Fatalf("clusters = %d, want 1", len(stats.QueryCentroids))
	}
	cluster := stats.QueryCentroids[0]
	if cluster.Count != 7 {
		t.Fatalf("cluster count = %d, want 7", cluster.Count)
	}
	want := []string{"q1", "q2", "q3", "q4", "q5"}
	if len(cluster.SampleQueries) != len(want) {
		t.Fatalf("sample queries = %v, want %v", cluster.SampleQueries, want)
	}
	for i, q := range want {
		if cluster.SampleQueries[i] != q {
			t.Fatalf("sample queries = %v, want %v", cluster.SampleQueries, want)
		}
	}
}

func TestUtilityHalvesAfterOneHalfLife(t *testing.T) {
	store, current := newTestStore(nil, 0)
	ctx := context.Background()

	store.RecordUseful(ctx, "c1", []float32{1}, "q")
	*current = storeEpoch.Add(6 * 7 * 24 * time.Hour)

	stats, _ := store.Stats("c1")
	if !almostEqual(stats.DecayedUtility, 0.5) {
		t.Fatalf("DecayedUtility = %v, want 0.5", stats.DecayedUtility)
	}

	// Reads never age the stored value.
	again, _ := store.Stats("c1")
	if !almostEqual(again.DecayedUtility, 0.5) {
		t.Fatalf("second read DecayedUtility = %v, want 0.5", again.DecayedUtility)
	}

	store.RecordUseful(ctx, "c1", []float32{1}, "q again")
	stats, _ = store.Stats("c1")
	if !almostEqual(stats.DecayedUtility, 1.5) {
		t.Fatalf("DecayedUtility after refresh = %v, want 1.5", stats.DecayedUtility)
	}
}

func TestRecordUsefulWritesThrough(t *testing.T) {
	repo := &statsRepoFake{}
	store, _ := newTestStore(repo, 0)
	vec := []float32{1, 0}

	if err := store.RecordUseful(context.Background(), "c1", vec, "q"); err != nil {
		t.Fatalf("RecordUseful() error = %v", err)
	}

	repo.mu.Lock()
	if len(repo.upserts) != 1 {
		repo.mu.Unlock()
		t.Fatalf("upserts = %d, want 1", len(repo.upserts))
	}
	persisted := repo.upserts[0]
	repo.mu.Unlock()

	if persisted.ChunkID != "c1" || persisted.UsefulCount != 1 {
		t.Fatalf("persisted = %+v, want chunk c1 with count 1", persisted)
	}

	// The persisted record is a snapshot: mutating it must not reach the store.
	persisted.QueryCentroids[0].Centroid[0] = -5
	if sim := store.BestClusterSimilarity("c1", vec); sim < 0.99 {
		t.Fatalf("BestClusterSimilarity() after snapshot mutation = %v, want near 1", sim)
	}
}

func TestRecordUsefulSurvivesRepositoryFailure(t *testing.T) {
	repo := &statsRepoFake{upsertErr: errors.New("connection refused")}
	store, _ := newTestStore(repo, 0)

	if err := store.RecordUseful(context.Background(), "c1", []float32{1}, "q"); err != nil {
		t.Fatalf("RecordUseful() error = %v, want nil", err)
	}
	if _, ok := store.Stats("c1"); !ok {
		t.Fatal("chunk missing from memory after persistence failure")
	}
}

func TestRecordUsefulRejectsBadInput(t *testing.T) {
	store, _ := newTestStore(nil, 0)

	err := store.RecordUseful(context.Background(), "", []float32{1}, "q")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("empty chunk id error = %v, want invalid input", err)
	}
	err = store.RecordUseful(context.Background(), "c1", nil, "q")
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("empty vector error = %v, want invalid input", err)
	}
}

func TestLoadHydratesAndDropsUnkeyedRecords(t *testing.T) {
	at := storeEpoch.Add(-time.Hour)
	repo := &statsRepoFake{records: []domain.ChunkStats{
		{ChunkID: "persisted", UsefulCount: 4, LastUsefulAt: &at, DecayedUtility: 2.5},
		{UsefulCount: 9},
	}}
	store, _ := newTestStore(repo, 0)

	if err := store.Load(context.Background()); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if store.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", store.Size())
	}
	stats, ok := store.Stats("persisted")
	if !ok || stats.UsefulCount != 4 {
		t.Fatalf("Stats(persisted) = %+v ok=%v, want count 4", stats, ok)
	}
}

func TestLoadReportsRepositoryFailure(t *testing.T) {
	repo := &statsRepoFake{listErr: errors.New("relation missing")}
	store, _ := newTestStore(repo, 0)

	if err := store.Load(context.Background()); err == nil {
		t.Fatal("Load() error = nil, want failure")
	}
}

func TestSweepIdleRemovesStaleChunks(t *testing.T) {
	repo := &statsRepoFake{}
	store, current := newTestStore(repo, 0)
	ctx := context.Background()

	store.RecordUseful(ctx, "stale", []float32{1}, "q")
	*current = storeEpoch.Add(48 * time.Hour)
	store.RecordUseful(ctx, "fresh", []float32{1}, "q")

	cutoff := storeEpoch.Add(24 * time.Hour)
	removed, err := store.SweepIdle(ctx, cutoff)
	if err != nil {
		t.Fatalf("SweepIdle() error = %v", err)
	}
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := store.Stats("stale"); ok {
		t.Fatal("stale chunk survived sweep")
	}
	if _, ok := store.Stats("fresh"); !ok {
		t.Fatal("fresh chunk removed by sweep")
	}
	repo.mu.Lock()
	defer repo.mu.Unlock()
	if repo.deleteCalls != 1 || !repo.deleteCutoff.Equal(cutoff) {
		t.Fatalf("repository delete calls = %d cutoff = %v, want 1 call at %v", repo.deleteCalls, repo.deleteCutoff, cutoff)
	}
}

func TestHalfLifeDecay(t *testing.T) {
	policy := HalfLifeDecay{HalfLifeWeeks: 6}
	since := storeEpoch

	if got := policy.Decay(4, since, since.Add(6*7*24*time.Hour)); !almostEqual(got, 2) {
		t.Fatalf("Decay(one half-life) = %v, want 2", got)
	}
	if got := policy.Decay(4, since, since.Add(12*7*24*time.Hour)); !almostEqual(got, 1) {
		t.Fatalf("Decay(two half-lives) = %v, want 1", got)
	}
	if got := policy.Decay(4, since, since); got != 4 {
		t.Fatalf("Decay(no elapsed time) = %v, want 4", got)
	}
	if got := policy.Decay(4, since.Add(time.Hour), since); got != 4 {
		t.Fatalf("Decay(clock skew) = %v, want 4", got)
	}
	if got := (HalfLifeDecay{}).Decay(4, since, since.Add(time.Hour)); got != 4 {
		t.Fatalf("Decay(zero half-life) = %v, want 4", got)
	}
}

func almostEqual(a, b float64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff < 1e-6
}
