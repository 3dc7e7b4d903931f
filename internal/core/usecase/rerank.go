package usecase

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
)

const (
	defaultMMRLambda    = 0.4
	defaultRerankTopK   = 40
	defaultMemoryWeight = 0.3
	mmrFeatureEntityMax = 5
	mmrDuplicatePenalty = 0.5
)

// Reranker orders the merged candidate pool for final delivery. Each
// candidate's retrieval score is blended with how useful similar queries
// found the chunk before, then a greedy MMR pass trades relevance against
// diversity so near-duplicate sections do not crowd the result.
type Reranker struct {
	memory       ports.ChunkMemory
	lambda       float64
	topK         int
	memoryWeight float64
}

// NewReranker treats non-positive or out-of-range tuning values as unset and
// applies the defaults. memory may be nil, which disables the blend.
func NewReranker(memory ports.ChunkMemory, lambda float64, topK int, memoryWeight float64) *Reranker {
	if lambda <= 0 || lambda > 1 {
		lambda = defaultMMRLambda
	}
	if topK <= 0 {
		topK = defaultRerankTopK
	}
	if memoryWeight <= 0 || memoryWeight > 1 {
		memoryWeight = defaultMemoryWeight
	}
	return &Reranker{memory: memory, lambda: lambda, topK: topK, memoryWeight: memoryWeight}
}

// Rerank returns up to topK candidates in final order. topK zero falls back
// to the configured default; a negative value is a caller bug and fails
// fast. The returned RerankScore is the blended score before the internal
// MMR normalization.
func (r *Reranker) Rerank(queryVector []float32, pool []domain.ScoredChunk, topK int) ([]domain.RankedChunk, error) {
	if topK < 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "rerank", fmt.Errorf("negative top_k %d", topK))
	}
	if topK == 0 {
		topK = r.topK
	}
	if len(pool) == 0 {
		return []domain.RankedChunk{}, nil
	}

	scores := make([]float64, len(pool))
	feats := make([]mmrFeatures, len(pool))
	for i, chunk := range pool {
		combined := chunk.BaseScore
		if r.memory != nil && len(queryVector) > 0 {
			if mem := r.memory.BestClusterSimilarity(chunk.ChunkID, queryVector); mem > 0 {
				combined = (1-r.memoryWeight)*chunk.BaseScore + r.memoryWeight*mem
			}
		}
		scores[i] = combined
		feats[i] = featuresOf(chunk.CandidateChunk)
	}

	picked := mmrSelect(scores, feats, r.lambda, topK)
	out := make([]domain.RankedChunk, 0, len(picked))
	for _, idx := range picked {
		out = append(out, domain.RankedChunk{
			ScoredChunk: pool[idx],
			RerankScore: scores[idx],
		})
	}
	return out, nil
}

type mmrFeatures struct {
	section  string
	entities string
}

// featuresOf reduces a chunk to the two signals the diversity penalty
// compares: its section and an entity fingerprint. The fingerprint uses the
// first few metadata entities when present, otherwise the first words of the
// body.
func featuresOf(chunk domain.CandidateChunk) mmrFeatures {
	section := chunk.MetaText("section")
	if section == "" {
		section = chunk.Section
	}

	var parts []string
	if ents, ok := chunk.Metadata["entities"]; ok && ents.Kind == domain.MetaList && len(ents.List) > 0 {
		for _, item := range ents.List {
			parts = append(parts, item.Text())
			if len(parts) == mmrFeatureEntityMax {
				break
			}
		}
	} else {
		words := strings.Fields(chunk.Body)
		if len(words) > mmrFeatureEntityMax {
			words = words[:mmrFeatureEntityMax]
		}
		parts = words
	}
	sort.Strings(parts)
	return mmrFeatures{section: section, entities: strings.Join(parts, "\x1f")}
}

// mmrSelect is a greedy maximal-marginal-relevance pass. Scores are
// normalized to the pool maximum when positive; each round picks the index
// maximizing lambda*score - (1-lambda)*penalty, where penalty grows for each
// already-selected item sharing a non-empty section or entity fingerprint.
// Ties keep the earliest index. When every remaining value drops below the
// initial best the loop stops early, so fewer than topK items can be
// returned.
func mmrSelect(scores []float64, feats []mmrFeatures, lambda float64, topK int) []int {
	n := len(scores)
	if n == 0 {
		return nil
	}
	if topK > n {
		topK = n
	}

	maxScore := 0.0
	for _, s := range scores {
		if s > maxScore {
			maxScore = s
		}
	}
	normalized := scores
	if maxScore > 0 {
		normalized = make([]float64, n)
		for i, s := range scores {
			normalized[i] = s / (maxScore + 1e-9)
		}
	}

	selected := make([]int, 0, topK)
	remaining := make([]int, n)
	for i := range remaining {
		remaining[i] = i
	}

	for len(remaining) > 0 && len(selected) < topK {
		bestIdx := -1
		bestVal := -1.0
		for _, idx := range remaining {
			penalty := 0.0
			for _, j := range selected {
				if feats[idx].section != "" && feats[idx].section == feats[j].section {
					penalty += mmrDuplicatePenalty
				}
				if feats[idx].entities != "" && feats[idx].entities == feats[j].entities {
					penalty += mmrDuplicatePenalty
				}
			}
			val := lambda*normalized[idx] - (1-lambda)*penalty
			if val > bestVal {
				bestVal = val
				bestIdx = idx
			}
		}
		if bestIdx < 0 {
			break
		}
		selected = append(selected, bestIdx)
		remaining = removeValue(remaining, bestIdx)
	}
	return selected
}

func removeValue(list []int, v int) []int {
	for i, existing := range list {
		if existing == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
