package usecase

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

const (
	highCompletenessFloor = 0.8
	lowCompletenessCeil   = 0.3
)

// topicalFields are the metadata fields entity mentions are matched against
// before falling back to the chunk body.
var topicalFields = []string{"doc_type", "topic"}

// BoostWeights are the multipliers applied per matched signal. Completeness
// scales the metadata coverage bonus: a fully populated chunk gets
// 1+Completeness.
type BoostWeights struct {
	DateMatch    float64
	PartialDate  float64
	DayOfWeek    float64
	TimeMatch    float64
	EntityMatch  float64
	Completeness float64
}

func DefaultBoostWeights() BoostWeights {
	return BoostWeights{
		DateMatch:    1.5,
		PartialDate:  1.2,
		DayOfWeek:    2.5,
		TimeMatch:    1.2,
		EntityMatch:  1.3,
		Completeness: 0.1,
	}
}

// SoftBoostFilter rescores a candidate pool against the extracted query
// intent without discarding anything: every chunk survives with a multiplier
// starting at 1.0 and a human-readable reason per matched signal.
type SoftBoostFilter struct {
	weights BoostWeights
	now     func() time.Time
}

func NewSoftBoostFilter(weights BoostWeights) *SoftBoostFilter {
	defaults := DefaultBoostWeights()
	if weights.DateMatch <= 0 {
		weights.DateMatch = defaults.DateMatch
	}
	if weights.PartialDate <= 0 {
		weights.PartialDate = defaults.PartialDate
	}
	if weights.DayOfWeek <= 0 {
		weights.DayOfWeek = defaults.DayOfWeek
	}
	if weights.TimeMatch <= 0 {
		weights.TimeMatch = defaults.TimeMatch
	}
	if weights.EntityMatch <= 0 {
		weights.EntityMatch = defaults.EntityMatch
	}
	if weights.Completeness <= 0 {
		weights.Completeness = defaults.Completeness
	}
	return &SoftBoostFilter{weights: weights, now: time.Now}
}

// Boost scores every chunk in the pool and returns them ordered by boost
// score, highest first. Chunks that tie keep their incoming order.
func (f *SoftBoostFilter) Boost(pool []domain.CandidateChunk, intent domain.QueryIntent, schema domain.SchemaProfile) []domain.ScoredChunk {
	now := f.now()
	scored := make([]domain.ScoredChunk, 0, len(pool))
	for _, chunk := range pool {
		score := 1.0
		var reasons []string

		chunkDate := dateValueOf(chunk, now)
		if len(intent.Dates) > 0 && chunkDate != "" {
			for _, queryDate := range intent.Dates {
				switch {
				case sameDay(chunkDate, queryDate, now):
					score *= f.weights.DateMatch
					reasons = append(reasons, fmt.Sprintf("Exact date match: %s", chunkDate))
				case partialDayMatch(chunkDate, queryDate, now):
					score *= f.weights.PartialDate
					reasons = append(reasons, fmt.Sprintf("Partial date match: %s", chunkDate))
				}
			}
		}

		if len(intent.DaysOfWeek) > 0 && chunkDate != "" {
			normalized, _ := normalizeDate(chunkDate, now)
			chunkDay := dayOfWeekOf(normalized)
			for _, queryDay := range intent.DaysOfWeek {
				if chunkDay != "" && strings.EqualFold(chunkDay, queryDay) {
					score *= f.weights.DayOfWeek
					reasons = append(reasons, fmt.Sprintf("Day-of-week match: %s", chunkDay))
				}
			}
		}

		if len(intent.Times) > 0 {
			chunkTime := timeValueOf(chunk)
			for _, queryTime := range intent.Times {
				if clockMatches(chunkTime, queryTime) {
					score *= f.weights.TimeMatch
					reasons = append(reasons, fmt.Sprintf("Time match: %s", queryTime))
				}
			}
		}

		if len(intent.Entities) > 0 {
			body := strings.ToLower(chunk.Body)
			for _, entity := range intent.Entities {
				needle := strings.ToLower(entity)
				field := matchTopicalField(chunk, needle)
				switch {
				case field != "":
					score *= f.weights.EntityMatch
					reasons = append(reasons, fmt.Sprintf("Entity match in %s: %s", field, entity))
				case body != "" && strings.Contains(body, needle):
					score *= f.weights.EntityMatch
					reasons = append(reasons, fmt.Sprintf("Entity match in content: %s", entity))
				}
			}
		}

		completeness := metadataCompleteness(chunk, schema)
		score *= 1.0 + completeness*f.weights.Completeness
		if len(chunk.Metadata) > 0 {
			if completeness > highCompletenessFloor {
				reasons = append(reasons, "High metadata completeness")
			} else if completeness < lowCompletenessCeil {
				reasons = append(reasons, "Low metadata completeness")
			}
		}

		scored = append(scored, domain.ScoredChunk{
			CandidateChunk: chunk,
			BoostScore:     score,
			BoostReasons:   reasons,
		})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].BoostScore > scored[j].BoostScore
	})
	return scored
}

// dateValueOf finds the chunk's date expression: the first date-named
// metadata field holding a recognizable date wins, then any field does.
func dateValueOf(chunk domain.CandidateChunk, now time.Time) string {
	keys := sortedMetaKeys(chunk.Metadata)
	for _, key := range keys {
		if !strings.Contains(strings.ToLower(key), "date") {
			continue
		}
		if text := chunk.Metadata[key].Text(); text != "" {
			if _, ok := normalizeDate(text, now); ok {
				return text
			}
		}
	}
	for _, key := range keys {
		if text := chunk.Metadata[key].Text(); text != "" {
			if _, ok := normalizeDate(text, now); ok {
				return text
			}
		}
	}
	return ""
}

// timeValueOf finds the chunk's clock expression the same way, preferring
// time-named fields.
func timeValueOf(chunk domain.CandidateChunk) string {
	keys := sortedMetaKeys(chunk.Metadata)
	for _, key := range keys {
		if !strings.Contains(strings.ToLower(key), "time") {
			continue
		}
		if text := chunk.Metadata[key].Text(); clockPattern.MatchString(text) {
			return text
		}
	}
	for _, key := range keys {
		if text := chunk.Metadata[key].Text(); clockPattern.MatchString(text) {
			return text
		}
	}
	return ""
}

func matchTopicalField(chunk domain.CandidateChunk, needle string) string {
	for _, field := range topicalFields {
		value := strings.ToLower(chunk.MetaText(field))
		if value != "" && strings.Contains(value, needle) {
			return field
		}
	}
	return ""
}

func metadataCompleteness(chunk domain.CandidateChunk, schema domain.SchemaProfile) float64 {
	if len(schema.Fields) == 0 {
		return 0
	}
	filled := 0
	for _, field := range schema.Fields {
		if value, ok := chunk.Metadata[field]; ok && hasUsableValue(value) {
			filled++
		}
	}
	return float64(filled) / float64(len(schema.Fields))
}

func sortedMetaKeys(meta map[string]domain.MetaValue) []string {
	keys := make([]string, 0, len(meta))
	for key := range meta {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
