package domain

import (
	"sort"
	"strings"
	"time"
)

// FacetFilter is one facet-filter combination ("branch"): facet name to
// value or list of values.
type FacetFilter map[string]MetaValue

// CanonicalKey is the deterministic identity of a filter: sorted field=value
// pairs with multi-valued fields flattened by Text. Used for branch dedup.
func (f FacetFilter) CanonicalKey() string {
	if len(f) == 0 {
		return ""
	}
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte('|')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(f[k].Text())
	}
	return b.String()
}

// FallbackFilter marks a branch that replaced a malformed planner proposal.
func FallbackFilter() FacetFilter {
	return FacetFilter{"general": StringValue("fallback")}
}

// PlannerPlan is the language model's reading of the query: a coarse intent,
// salient entities, an optional time hint, the dense/lexical mixing weight
// and explicit facet-filter proposals.
type PlannerPlan struct {
	Intent    string        `json:"intent"`
	Entities  []string      `json:"entities,omitempty"`
	TimeHint  string        `json:"time_hint,omitempty"`
	Alpha     float64       `json:"alpha"`
	FacetSets []FacetFilter `json:"facet_sets,omitempty"`
}

// FacetVector is a stored embedding of one facet value, used to match query
// embeddings against known facet values.
type FacetVector struct {
	Facet     string    `json:"facet"`
	Value     string    `json:"value"`
	Vector    []float32 `json:"vector"`
	Aliases   []string  `json:"aliases,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}
