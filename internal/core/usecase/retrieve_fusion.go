package usecase

import (
	"fmt"
	"sort"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

type fusedCandidate struct {
	chunk domain.CandidateChunk
	score float64
}

// fuseCandidatesRRF merges dense and lexical result lists with reciprocal
// rank fusion. alpha weights the dense list, 1-alpha the lexical one, so at
// 0.5 the ordering matches plain RRF.
func fuseCandidatesRRF(dense, lexical []domain.CandidateChunk, rrfK int, alpha float64) []domain.CandidateChunk {
	if rrfK <= 0 {
		rrfK = 60
	}
	if alpha < 0 || alpha > 1 {
		alpha = 0.5
	}

	acc := make(map[string]fusedCandidate, len(dense)+len(lexical))
	order := make([]string, 0, len(dense)+len(lexical))
	addList := func(chunks []domain.CandidateChunk, weight float64) {
		for rank, chunk := range chunks {
			key := candidateKey(chunk)
			candidate, ok := acc[key]
			if !ok {
				order = append(order, key)
			}
			candidate.chunk = preferRicherCandidate(candidate.chunk, chunk)
			candidate.score += weight / float64(rrfK+rank+1)
			acc[key] = candidate
		}
	}

	addList(dense, alpha)
	addList(lexical, 1-alpha)

	out := make([]domain.CandidateChunk, 0, len(acc))
	for _, key := range order {
		chunk := acc[key].chunk
		chunk.BaseScore = acc[key].score
		out = append(out, chunk)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BaseScore != out[j].BaseScore {
			return out[i].BaseScore > out[j].BaseScore
		}
		if out[i].ChunkID != out[j].ChunkID {
			return out[i].ChunkID < out[j].ChunkID
		}
		return out[i].DocID < out[j].DocID
	})

	return out
}

func trimCandidates(chunks []domain.CandidateChunk, limit int) []domain.CandidateChunk {
	if limit <= 0 || len(chunks) <= limit {
		return chunks
	}
	return chunks[:limit]
}

func candidateKey(chunk domain.CandidateChunk) string {
	if chunk.ChunkID != "" {
		return chunk.ChunkID
	}
	return fmt.Sprintf("%s|%s|%s", chunk.DocID, chunk.Section, chunk.Body)
}

func preferRicherCandidate(current, candidate domain.CandidateChunk) domain.CandidateChunk {
	if current.ChunkID == "" && current.DocID == "" && current.Body == "" {
		return candidate
	}
	if current.Body == "" && candidate.Body != "" {
		current.Body = candidate.Body
	}
	if current.Section == "" && candidate.Section != "" {
		current.Section = candidate.Section
	}
	if current.DocID == "" && candidate.DocID != "" {
		current.DocID = candidate.DocID
	}
	if len(current.Metadata) == 0 && len(candidate.Metadata) > 0 {
		current.Metadata = candidate.Metadata
	}
	return current
}
