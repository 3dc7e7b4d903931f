package usecase

import (
	"testing"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

func TestPlanBranchesPlannerFirstThenVectors(t *testing.T) {
	plan := domain.PlannerPlan{FacetSets: []domain.FacetFilter{
		{"doc_type": domain.StringValue("report")},
	}}
	weights := map[string]map[string]float64{
		"topic": {"budget": 0.9, "hiring": 0.6, "noise": 0.1},
	}

	branches := PlanBranches(plan, nil, weights, 3)
	if len(branches) != 3 {
		t.Fatalf("expected 3 branches, got %d", len(branches))
	}
	if branches[0].CanonicalKey() != "doc_type=report" {
		t.Fatalf("expected planner branch first, got %s", branches[0].CanonicalKey())
	}
	if branches[1].CanonicalKey() != "topic=budget" {
		t.Fatalf("expected strongest vector branch second, got %s", branches[1].CanonicalKey())
	}
	if branches[2].CanonicalKey() != "topic=hiring" {
		t.Fatalf("expected weaker vector branch third, got %s", branches[2].CanonicalKey())
	}
}

func TestPlanBranchesWeightFloor(t *testing.T) {
	weights := map[string]map[string]float64{
		"topic": {"noise": 0.3, "faint": 0.05},
	}
	branches := PlanBranches(domain.PlannerPlan{}, nil, weights, 3)
	for _, branch := range branches {
		if branch.CanonicalKey() == "topic=noise" || branch.CanonicalKey() == "topic=faint" {
			t.Fatalf("weights at or below the floor must not branch: %v", branches)
		}
	}
}

func TestPlanBranchesHistogramFallback(t *testing.T) {
	histograms := map[string]map[string]int{
		"doc_type": {"report": 12, "minutes": 30},
		"lang":     {"ko": 7},
	}
	branches := PlanBranches(domain.PlannerPlan{}, histograms, nil, 3)
	if len(branches) != 2 {
		t.Fatalf("expected one branch per facet, got %d", len(branches))
	}
	if branches[0].CanonicalKey() != "doc_type=minutes" {
		t.Fatalf("expected most common value, got %s", branches[0].CanonicalKey())
	}
	if branches[1].CanonicalKey() != "lang=ko" {
		t.Fatalf("expected lang branch, got %s", branches[1].CanonicalKey())
	}
}

func TestPlanBranchesSingleFacetHistogram(t *testing.T) {
	histograms := map[string]map[string]int{
		"doc_type": {"memo": 7, "policy": 2},
	}
	branches := PlanBranches(domain.PlannerPlan{}, histograms, nil, 3)
	if len(branches) != 1 {
		t.Fatalf("expected exactly one fallback branch, got %d", len(branches))
	}
	if branches[0].CanonicalKey() != "doc_type=memo" {
		t.Fatalf("expected most common value, got %s", branches[0].CanonicalKey())
	}
}

func TestPlanBranchesHistogramsIgnoredWhenBranchesExist(t *testing.T) {
	plan := domain.PlannerPlan{FacetSets: []domain.FacetFilter{
		{"doc_type": domain.StringValue("report")},
	}}
	histograms := map[string]map[string]int{"lang": {"ko": 7}}

	branches := PlanBranches(plan, histograms, nil, 3)
	if len(branches) != 1 || branches[0].CanonicalKey() != "doc_type=report" {
		t.Fatalf("histograms must stay a fallback, got %v", branches)
	}
}

func TestPlanBranchesDedupAndCap(t *testing.T) {
	plan := domain.PlannerPlan{FacetSets: []domain.FacetFilter{
		{"doc_type": domain.StringValue("report")},
		{"doc_type": domain.StringValue("report")},
	}}
	weights := map[string]map[string]float64{
		"doc_type": {"report": 0.95},
		"topic":    {"budget": 0.9, "hiring": 0.8, "travel": 0.7},
	}

	branches := PlanBranches(plan, nil, weights, 3)
	if len(branches) != 3 {
		t.Fatalf("expected capped branch count, got %d", len(branches))
	}
	seen := map[string]struct{}{}
	for _, branch := range branches {
		key := branch.CanonicalKey()
		if _, dup := seen[key]; dup {
			t.Fatalf("duplicate branch %s", key)
		}
		seen[key] = struct{}{}
	}
}
