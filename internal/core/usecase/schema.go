package usecase

import (
	"sort"
	"strings"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

const (
	schemaExampleLimit  = 3
	schemaExampleRunes  = 50
	facetCoverageFloor  = 0.5
	facetDiscoveryLimit = 4
)

// DiscoverSchema derives the metadata schema actually present in a candidate
// pool: which fields occur, the JSON types observed per field, how often each
// field carries a usable value, and a few example values. An empty pool
// yields an empty profile.
func DiscoverSchema(pool []domain.CandidateChunk) domain.SchemaProfile {
	profile := domain.SchemaProfile{
		Fields:        []string{},
		FieldTypes:    map[string][]string{},
		FieldCoverage: map[string]float64{},
		FieldExamples: map[string][]string{},
	}
	if len(pool) == 0 {
		return profile
	}

	types := map[string]map[string]struct{}{}
	filled := map[string]int{}
	for _, chunk := range pool {
		for field, value := range chunk.Metadata {
			set, ok := types[field]
			if !ok {
				set = map[string]struct{}{}
				types[field] = set
			}
			set[value.TypeName()] = struct{}{}
			if !hasUsableValue(value) {
				continue
			}
			filled[field]++
			if len(profile.FieldExamples[field]) < schemaExampleLimit {
				profile.FieldExamples[field] = append(profile.FieldExamples[field], truncateRunes(value.Text(), schemaExampleRunes))
			}
		}
	}

	for field, set := range types {
		profile.Fields = append(profile.Fields, field)
		names := make([]string, 0, len(set))
		for name := range set {
			names = append(names, name)
		}
		sort.Strings(names)
		profile.FieldTypes[field] = names
		profile.FieldCoverage[field] = float64(filled[field]) / float64(len(pool))
	}
	sort.Strings(profile.Fields)
	return profile
}

// facetFields picks the metadata fields worth aggregating facet histograms
// over. An explicit configured list wins; otherwise string-typed fields with
// reasonable coverage are used, capped to keep aggregation cheap.
func facetFields(profile domain.SchemaProfile, configured []string) []string {
	if len(configured) > 0 {
		out := make([]string, 0, len(configured))
		for _, field := range configured {
			field = strings.TrimSpace(field)
			if field != "" {
				out = append(out, field)
			}
		}
		return out
	}

	var out []string
	for _, field := range profile.Fields {
		if profile.FieldCoverage[field] < facetCoverageFloor {
			continue
		}
		if !containsType(profile.FieldTypes[field], "string") {
			continue
		}
		out = append(out, field)
		if len(out) == facetDiscoveryLimit {
			break
		}
	}
	return out
}

func containsType(names []string, want string) bool {
	for _, name := range names {
		if name == want {
			return true
		}
	}
	return false
}

func hasUsableValue(v domain.MetaValue) bool {
	if v.IsEmpty() {
		return false
	}
	if v.Kind == domain.MetaString {
		return strings.TrimSpace(v.Str) != ""
	}
	return true
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
