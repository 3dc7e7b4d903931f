package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/core/ports"
)

const defaultExtractTimeout = 20 * time.Second

var validWeekdays = map[string]struct{}{
	"monday":    {},
	"tuesday":   {},
	"wednesday": {},
	"thursday":  {},
	"friday":    {},
	"saturday":  {},
	"sunday":    {},
}

// IntentExtractor asks the planner model which dates, weekdays, clock times,
// and entities a query mentions. Extraction is best effort: any model or
// parse failure degrades to an empty intent so the pipeline keeps running
// without boosts.
type IntentExtractor struct {
	model   ports.PlannerModel
	logger  *slog.Logger
	timeout time.Duration
}

func NewIntentExtractor(model ports.PlannerModel, logger *slog.Logger, timeout time.Duration) *IntentExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = defaultExtractTimeout
	}
	return &IntentExtractor{model: model, logger: logger, timeout: timeout}
}

func (e *IntentExtractor) Extract(ctx context.Context, query string) domain.QueryIntent {
	if e.model == nil {
		return domain.QueryIntent{}
	}
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	raw, err := e.model.GenerateJSONFromPrompt(ctx, buildIntentPrompt(query))
	if err != nil {
		e.logger.Debug("intent extraction failed", "error", err)
		return domain.QueryIntent{}
	}
	intent, err := parseIntent(raw)
	if err == nil {
		return intent
	}

	raw, rerr := e.model.GenerateJSONFromPrompt(ctx, buildIntentRepairPrompt(raw))
	if rerr != nil {
		e.logger.Debug("intent repair failed", "error", rerr, "parse_error", err)
		return domain.QueryIntent{}
	}
	intent, err = parseIntent(raw)
	if err != nil {
		e.logger.Debug("intent unparseable after repair", "error", err)
		return domain.QueryIntent{}
	}
	return intent
}

type intentWire struct {
	Dates      []string `json:"dates"`
	DaysOfWeek []string `json:"day_of_week"`
	Times      []string `json:"times"`
	Entities   []string `json:"entities"`
}

func parseIntent(raw string) (domain.QueryIntent, error) {
	var wire intentWire
	if err := DecodeFirstJSONObject(raw, &wire); err != nil {
		return domain.QueryIntent{}, fmt.Errorf("parse intent: %w", err)
	}

	intent := domain.QueryIntent{
		Dates:    dedupTrimmed(wire.Dates),
		Entities: dedupTrimmed(wire.Entities),
	}
	for _, day := range wire.DaysOfWeek {
		day = strings.ToLower(strings.TrimSpace(day))
		if _, ok := validWeekdays[day]; ok {
			intent.DaysOfWeek = appendUnique(intent.DaysOfWeek, day)
		}
	}
	for _, t := range wire.Times {
		if clock := normalizeClock(t); clock != "" {
			intent.Times = appendUnique(intent.Times, clock)
		}
	}
	return intent, nil
}

func dedupTrimmed(values []string) []string {
	var out []string
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v != "" {
			out = appendUnique(out, v)
		}
	}
	return out
}

func appendUnique(list []string, v string) []string {
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}

func buildIntentPrompt(query string) string {
	return fmt.Sprintf(`You are a query analyst for a document retrieval system.
Extract temporal references and named entities from the user query.

Return a JSON object with exactly these fields:
{
  "dates": ["date expressions as written in the query"],
  "day_of_week": ["weekday names in lowercase English"],
  "times": ["clock times such as 14:30"],
  "entities": ["proper nouns, document types, topics"]
}

Rules:
1. Keep date expressions exactly as they appear in the query.
2. Use lowercase English weekday names (monday through sunday).
3. Leave a field as an empty list when nothing matches.
4. Return only JSON without explanations.

Query:
%s`, query)
}

func buildIntentRepairPrompt(raw string) string {
	return fmt.Sprintf(`Convert the following text into a valid JSON object with the fields "dates", "day_of_week", "times" and "entities", each an array of strings. Return only JSON.

Text:
%s`, raw)
}
