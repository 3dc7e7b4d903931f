package usecase

import (
	"context"
	"testing"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

type chunkMemoryFake struct {
	similarities map[string]float64
	recorded     []string
	recordErr    error
	statsByID    map[string]domain.ChunkStats
}

func (f *chunkMemoryFake) BestClusterSimilarity(chunkID string, _ []float32) float64 {
	return f.similarities[chunkID]
}

func (f *chunkMemoryFake) RecordUseful(_ context.Context, chunkID string, _ []float32, _ string) error {
	if f.recordErr != nil {
		return f.recordErr
	}
	f.recorded = append(f.recorded, chunkID)
	return nil
}

func (f *chunkMemoryFake) Stats(chunkID string) (domain.ChunkStats, bool) {
	s, ok := f.statsByID[chunkID]
	return s, ok
}

func scoredChunk(id, section, body string, base float64) domain.ScoredChunk {
	return domain.ScoredChunk{
		CandidateChunk: domain.CandidateChunk{
			ChunkID:   id,
			Section:   section,
			Body:      body,
			BaseScore: base,
		},
		BoostScore: 1.0,
	}
}

func TestRerankBlendsMemorySimilarity(t *testing.T) {
	memory := &chunkMemoryFake{similarities: map[string]float64{"c-2": 1.0}}
	r := NewReranker(memory, 0.4, 10, 0.3)
	pool := []domain.ScoredChunk{
		scoredChunk("c-1", "a", "one", 0.5),
		scoredChunk("c-2", "b", "two", 0.5),
	}

	ranked, err := r.Rerank([]float32{1, 0}, pool, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if ranked[0].ChunkID != "c-2" {
		t.Fatalf("expected remembered chunk first, got %s", ranked[0].ChunkID)
	}
	if !almostEqual(ranked[0].RerankScore, 0.7*0.5+0.3*1.0) {
		t.Fatalf("unexpected blended score %v", ranked[0].RerankScore)
	}
	if !almostEqual(ranked[1].RerankScore, 0.5) {
		t.Fatalf("expected untouched base score, got %v", ranked[1].RerankScore)
	}
}

func TestRerankNoMemoryWithoutQueryVector(t *testing.T) {
	memory := &chunkMemoryFake{similarities: map[string]float64{"c-2": 1.0}}
	r := NewReranker(memory, 0.4, 10, 0.3)
	pool := []domain.ScoredChunk{
		scoredChunk("c-1", "a", "one", 0.6),
		scoredChunk("c-2", "b", "two", 0.5),
	}

	ranked, err := r.Rerank(nil, pool, 2)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if ranked[0].ChunkID != "c-1" {
		t.Fatalf("memory must be ignored without a query vector, got %s first", ranked[0].ChunkID)
	}
}

func TestRerankPenalizesRepeatedSection(t *testing.T) {
	r := NewReranker(nil, 0.4, 3, 0.3)
	pool := []domain.ScoredChunk{
		scoredChunk("c-1", "budget", "alpha beta", 1.0),
		scoredChunk("c-2", "budget", "gamma delta", 0.9),
		scoredChunk("c-3", "travel", "epsilon zeta", 0.5),
	}

	ranked, err := r.Rerank(nil, pool, 3)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	order := []string{ranked[0].ChunkID, ranked[1].ChunkID, ranked[2].ChunkID}
	if order[0] != "c-1" || order[1] != "c-3" || order[2] != "c-2" {
		t.Fatalf("expected section diversity to reorder, got %v", order)
	}
}

func TestRerankPenalizesSharedEntityFingerprint(t *testing.T) {
	r := NewReranker(nil, 0.4, 3, 0.3)
	orgs := domain.ListValue(domain.StringValue("alpha"), domain.StringValue("beta"))
	reversed := domain.ListValue(domain.StringValue("beta"), domain.StringValue("alpha"))
	pool := []domain.ScoredChunk{
		{
			CandidateChunk: domain.CandidateChunk{
				ChunkID:   "c-1",
				Section:   "s1",
				BaseScore: 1.0,
				Metadata:  map[string]domain.MetaValue{"entities": orgs},
			},
		},
		{
			CandidateChunk: domain.CandidateChunk{
				ChunkID:   "c-2",
				Section:   "s2",
				BaseScore: 0.95,
				Metadata:  map[string]domain.MetaValue{"entities": reversed},
			},
		},
		{
			CandidateChunk: domain.CandidateChunk{
				ChunkID:   "c-3",
				Section:   "s3",
				BaseScore: 0.5,
				Metadata:  map[string]domain.MetaValue{"entities": domain.ListValue(domain.StringValue("gamma"))},
			},
		},
	}

	ranked, err := r.Rerank(nil, pool, 3)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if ranked[0].ChunkID != "c-1" || ranked[1].ChunkID != "c-3" {
		t.Fatalf("expected entity fingerprint penalty to demote c-2, got %s, %s",
			ranked[0].ChunkID, ranked[1].ChunkID)
	}
}

func TestRerankStopsEarlyWhenEverythingRepeats(t *testing.T) {
	r := NewReranker(nil, 0.4, 10, 0.3)
	pool := []domain.ScoredChunk{
		scoredChunk("c-1", "same", "same words here", 1.0),
		scoredChunk("c-2", "same", "same words here", 1.0),
		scoredChunk("c-3", "same", "same words here", 1.0),
		scoredChunk("c-4", "same", "same words here", 1.0),
	}

	ranked, err := r.Rerank(nil, pool, 4)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("expected early stop after 3 picks, got %d", len(ranked))
	}
}

func TestRerankLambdaOneKeepsRelevanceOrder(t *testing.T) {
	r := NewReranker(nil, 1, 10, 0.3)
	pool := []domain.ScoredChunk{
		scoredChunk("c-1", "same", "same words here", 0.8),
		scoredChunk("c-2", "same", "same words here", 1.0),
		scoredChunk("c-3", "same", "same words here", 0.9),
	}

	ranked, err := r.Rerank(nil, pool, 3)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 3 {
		t.Fatalf("diversity penalty must be off at lambda 1, got %d results", len(ranked))
	}
	order := []string{ranked[0].ChunkID, ranked[1].ChunkID, ranked[2].ChunkID}
	if order[0] != "c-2" || order[1] != "c-3" || order[2] != "c-1" {
		t.Fatalf("expected pure score order, got %v", order)
	}
}

func TestRerankNegativeTopK(t *testing.T) {
	r := NewReranker(nil, 0.4, 10, 0.3)
	_, err := r.Rerank(nil, []domain.ScoredChunk{scoredChunk("c-1", "", "", 1.0)}, -1)
	if err == nil {
		t.Fatalf("expected error for negative top_k")
	}
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input kind, got %v", err)
	}
}

func TestRerankZeroTopKUsesDefault(t *testing.T) {
	r := NewReranker(nil, 0, 0, 0)
	pool := []domain.ScoredChunk{
		scoredChunk("c-1", "a", "one", 0.9),
		scoredChunk("c-2", "b", "two", 0.8),
	}
	ranked, err := r.Rerank(nil, pool, 0)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 2 {
		t.Fatalf("expected full pool under default top_k, got %d", len(ranked))
	}
}

func TestRerankEmptyPool(t *testing.T) {
	r := NewReranker(nil, 0.4, 10, 0.3)
	ranked, err := r.Rerank(nil, nil, 5)
	if err != nil {
		t.Fatalf("Rerank() error = %v", err)
	}
	if len(ranked) != 0 {
		t.Fatalf("expected empty result, got %d", len(ranked))
	}
}
