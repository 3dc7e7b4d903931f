package usecase

import (
	"sort"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

const (
	facetWeightFloor = 0.3
	defaultBranchCap = 3
)

// PlanBranches assembles the facet filters the narrowed searches will run
// with. Sources in priority order: filters proposed by the planner, facet
// values whose stored vectors resemble the query, and, only when both are
// empty, the most common value of each facet histogram. Duplicates are
// removed and the result is capped.
func PlanBranches(plan domain.PlannerPlan, histograms map[string]map[string]int, weights map[string]map[string]float64, limit int) []domain.FacetFilter {
	if limit <= 0 {
		limit = defaultBranchCap
	}

	var branches []domain.FacetFilter
	branches = append(branches, plan.FacetSets...)

	for _, facet := range sortedFacets(weights) {
		for _, value := range valuesByWeight(weights[facet]) {
			if weights[facet][value] > facetWeightFloor {
				branches = append(branches, domain.FacetFilter{facet: domain.StringValue(value)})
			}
		}
	}

	if len(branches) == 0 {
		for _, facet := range sortedHistogramFacets(histograms) {
			if value, ok := topHistogramValue(histograms[facet]); ok {
				branches = append(branches, domain.FacetFilter{facet: domain.StringValue(value)})
			}
		}
	}

	seen := map[string]struct{}{}
	out := make([]domain.FacetFilter, 0, len(branches))
	for _, branch := range branches {
		if len(branch) == 0 {
			continue
		}
		key := branch.CanonicalKey()
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, branch)
		if len(out) == limit {
			break
		}
	}
	return out
}

func sortedFacets(weights map[string]map[string]float64) []string {
	facets := make([]string, 0, len(weights))
	for facet := range weights {
		facets = append(facets, facet)
	}
	sort.Strings(facets)
	return facets
}

// valuesByWeight orders a facet's values by descending weight, breaking ties
// alphabetically so branch order is stable.
func valuesByWeight(values map[string]float64) []string {
	out := make([]string, 0, len(values))
	for value := range values {
		out = append(out, value)
	}
	sort.Slice(out, func(i, j int) bool {
		if values[out[i]] != values[out[j]] {
			return values[out[i]] > values[out[j]]
		}
		return out[i] < out[j]
	})
	return out
}

func sortedHistogramFacets(histograms map[string]map[string]int) []string {
	facets := make([]string, 0, len(histograms))
	for facet := range histograms {
		facets = append(facets, facet)
	}
	sort.Strings(facets)
	return facets
}

func topHistogramValue(hist map[string]int) (string, bool) {
	best := ""
	bestCount := 0
	for value, count := range hist {
		if count > bestCount || (count == bestCount && bestCount > 0 && value < best) {
			best = value
			bestCount = count
		}
	}
	return best, bestCount > 0
}
