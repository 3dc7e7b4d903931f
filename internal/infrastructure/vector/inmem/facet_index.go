package inmem

import (
	"math"
	"sort"
	"sync"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

const (
	// similarityFloor drops facet values that barely resemble the query;
	// topValuesPerFacet keeps the weight map small enough for the planner.
	similarityFloor   = 0.1
	topValuesPerFacet = 2
)

// FacetIndex holds facet-value embeddings in process memory. The retrieval
// path reads it on every request; writes happen at seed time and when the
// corpus changes, so a single RWMutex is enough.
type FacetIndex struct {
	mu      sync.RWMutex
	vectors map[string]map[string]domain.FacetVector
	size    int
}

func NewFacetIndex() *FacetIndex {
	return &FacetIndex{vectors: make(map[string]map[string]domain.FacetVector)}
}

// Upsert stores one facet-value vector, replacing any previous vector for
// the same (facet, value) pair. Vectors without a facet, value, or embedding
// are ignored.
func (x *FacetIndex) Upsert(vector domain.FacetVector) {
	if vector.Facet == "" || vector.Value == "" || len(vector.Vector) == 0 {
		return
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	values, ok := x.vectors[vector.Facet]
	if !ok {
		values = make(map[string]domain.FacetVector)
		x.vectors[vector.Facet] = values
	}
	if _, exists := values[vector.Value]; !exists {
		x.size++
	}
	values[vector.Value] = vector
}

// QueryWeights scores every stored facet value against the query embedding
// and returns, per facet, the closest values above the similarity floor.
func (x *FacetIndex) QueryWeights(queryVector []float32) map[string]map[string]float64 {
	if len(queryVector) == 0 {
		return nil
	}

	x.mu.RLock()
	defer x.mu.RUnlock()

	out := make(map[string]map[string]float64, len(x.vectors))
	for facet, values := range x.vectors {
		type scored struct {
			value string
			sim   float64
		}
		candidates := make([]scored, 0, len(values))
		for value, fv := range values {
			sim := cosine(queryVector, fv.Vector)
			if sim > similarityFloor {
				candidates = append(candidates, scored{value: value, sim: sim})
			}
		}
		if len(candidates) == 0 {
			continue
		}
		sort.Slice(candidates, func(i, j int) bool {
			if candidates[i].sim != candidates[j].sim {
				return candidates[i].sim > candidates[j].sim
			}
			return candidates[i].value < candidates[j].value
		})
		if len(candidates) > topValuesPerFacet {
			candidates = candidates[:topValuesPerFacet]
		}
		weights := make(map[string]float64, len(candidates))
		for _, c := range candidates {
			weights[c.value] = c.sim
		}
		out[facet] = weights
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// Len reports how many facet-value vectors the index holds.
func (x *FacetIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.size
}

func cosine(a, b []float32) float64 {
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
