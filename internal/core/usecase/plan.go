package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
)

// PlanExtractor turns a free-text query into a retrieval plan: coarse
// intent, entities worth filtering on, a dense/lexical balance, and
// candidate facet filters. Like intent extraction it degrades to a neutral
// plan on any failure instead of blocking retrieval.
type PlanExtractor struct {
	model   ports.PlannerModel
	logger  *slog.Logger
	timeout time.Duration
}

func NewPlanExtractor(model ports.PlannerModel, logger *slog.Logger, timeout time.Duration) *PlanExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &PlanExtractor{model: model, logger: logger, timeout: timeout}
}

func (e *PlanExtractor) Plan(ctx context.Context, query, timeHint string) domain.PlannerPlan {
	if e.model == nil {
		return neutralPlan(timeHint)
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.model.GenerateJSONFromPrompt(ctx, buildPlanPrompt(query, timeHint))
	if err != nil {
		e.logger.Debug("query planning failed", "error", err)
		return neutralPlan(timeHint)
	}
	plan, err := parsePlan(raw, timeHint)
	if err == nil {
		return plan
	}

	raw, rerr := e.model.GenerateJSONFromPrompt(ctx, buildPlanRepairPrompt(raw))
	if rerr != nil {
		e.logger.Debug("plan repair failed", "error", rerr, "parse_error", err)
		return neutralPlan(timeHint)
	}
	plan, err = parsePlan(raw, timeHint)
	if err != nil {
		e.logger.Debug("plan unparseable after repair", "error", err)
		return neutralPlan(timeHint)
	}
	return plan
}

type planWire struct {
	Intent    string            `json:"intent"`
	Entities  []string          `json:"entities"`
	TimeHint  string            `json:"time_hint"`
	Alpha     *float64          `json:"alpha"`
	FacetSets []json.RawMessage `json:"facet_sets"`
}

func parsePlan(raw, timeHint string) (domain.PlannerPlan, error) {
	var wire planWire
	if err := DecodeFirstJSONObject(raw, &wire); err != nil {
		return domain.PlannerPlan{}, fmt.Errorf("parse plan: %w", err)
	}

	plan := domain.PlannerPlan{
		Intent:   strings.ToLower(strings.TrimSpace(wire.Intent)),
		Entities: dedupTrimmed(wire.Entities),
		TimeHint: strings.TrimSpace(wire.TimeHint),
		Alpha:    0.5,
	}
	if plan.Intent == "" {
		plan.Intent = "other"
	}
	if plan.TimeHint == "" {
		plan.TimeHint = strings.TrimSpace(timeHint)
	}
	if wire.Alpha != nil && *wire.Alpha >= 0 && *wire.Alpha <= 1 {
		plan.Alpha = *wire.Alpha
	}
	for _, raw := range wire.FacetSets {
		if filter := coerceFacetSet(raw); len(filter) > 0 {
			plan.FacetSets = append(plan.FacetSets, filter)
		}
	}
	return plan, nil
}

// coerceFacetSet accepts the facet shapes planner models actually produce: a
// JSON object, or a list of [facet, value] pairs. Anything else collapses to
// the fallback filter so a malformed plan still yields a searchable branch.
func coerceFacetSet(raw json.RawMessage) domain.FacetFilter {
	var object map[string]domain.MetaValue
	if err := json.Unmarshal(raw, &object); err == nil {
		return domain.FacetFilter(object)
	}

	var pairs []json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return domain.FallbackFilter()
	}
	filter := domain.FacetFilter{}
	for _, pair := range pairs {
		var kv [2]json.RawMessage
		if err := json.Unmarshal(pair, &kv); err != nil {
			return domain.FallbackFilter()
		}
		var key string
		if err := json.Unmarshal(kv[0], &key); err != nil || key == "" {
			return domain.FallbackFilter()
		}
		var value domain.MetaValue
		if err := json.Unmarshal(kv[1], &value); err != nil {
			return domain.FallbackFilter()
		}
		filter[key] = value
	}
	return filter
}

func neutralPlan(timeHint string) domain.PlannerPlan {
	return domain.PlannerPlan{
		Intent:   "other",
		TimeHint: strings.TrimSpace(timeHint),
		Alpha:    0.5,
	}
}

func buildPlanPrompt(query, timeHint string) string {
	hint := timeHint
	if hint == "" {
		hint = "none"
	}
	return fmt.Sprintf(`You are a retrieval planner for a document search system.
Given a user query, produce a search plan.

Return a JSON object with exactly these fields:
{
  "intent": "one of: lookup, summary, comparison, temporal, other",
  "entities": ["entities worth filtering on"],
  "time_hint": "a date or period the query refers to, or empty",
  "alpha": 0.5,
  "facet_sets": [{"facet": "value"}]
}

Rules:
1. alpha balances dense against lexical search, between 0 and 1. Use higher values for conceptual queries and lower values for exact keyword queries.
2. Each element of facet_sets is one metadata filter to try, with at most two facets.
3. Propose at most three facet_sets and leave the list empty when no filter is obvious.
4. Return only JSON without explanations.

Time hint: %s

Query:
%s`, hint, query)
}

func buildPlanRepairPrompt(raw string) string {
	return fmt.Sprintf(`Convert the following text into a valid JSON object with the fields "intent" (string), "entities" (array of strings), "time_hint" (string), "alpha" (number) and "facet_sets" (array of objects). Return only JSON.

Text:
%s`, raw)
}
