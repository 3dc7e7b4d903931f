package qdrant

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
	"github.com/kirillkom/retrieval-pipeline/internal/infrastructure/resilience"
)

const facetValueLimit = 64

// Client reads an already-indexed chunk collection over the qdrant REST API.
// Chunk points carry named dense and sparse vectors; reserved payload keys
// (chunk_id, doc_id, section, body) map onto CandidateChunk fields and every
// other payload key becomes chunk metadata.
type Client struct {
	baseURL    string
	collection string
	httpClient *http.Client
	executor   *resilience.Executor
}

func New(baseURL, collection string) *Client {
	return NewWithOptions(baseURL, collection, Options{})
}

type Options struct {
	HTTPTimeout        time.Duration
	ResilienceExecutor *resilience.Executor
}

func NewWithOptions(baseURL, collection string, options Options) *Client {
	httpTimeout := options.HTTPTimeout
	if httpTimeout <= 0 {
		httpTimeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: collection,
		httpClient: &http.Client{Timeout: httpTimeout},
		executor:   options.ResilienceExecutor,
	}
}

func (c *Client) Search(ctx context.Context, queryVector []float32, limit int, filter domain.FacetFilter) ([]domain.CandidateChunk, error) {
	if len(queryVector) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"query":        queryVector,
		"using":        "dense",
		"limit":        limit,
		"with_payload": true,
	}
	if cond := buildFacetConditions(filter); cond != nil {
		reqBody["filter"] = cond
	}
	return c.queryPoints(ctx, reqBody, "search")
}

func (c *Client) SearchLexical(ctx context.Context, queryText string, limit int, filter domain.FacetFilter) ([]domain.CandidateChunk, error) {
	sparse := encodeSparseQuery(queryText)
	if len(sparse.Indices) == 0 {
		return nil, nil
	}
	reqBody := map[string]any{
		"query":        sparse,
		"using":        "sparse",
		"limit":        limit,
		"with_payload": true,
	}
	if cond := buildFacetConditions(filter); cond != nil {
		reqBody["filter"] = cond
	}
	return c.queryPoints(ctx, reqBody, "search_lexical")
}

// AggregateGroupBy returns the corpus-wide value histogram of one payload
// field via the qdrant facet API.
func (c *Client) AggregateGroupBy(ctx context.Context, facet string) (map[string]int, error) {
	reqBody := map[string]any{
		"key":   facet,
		"limit": facetValueLimit,
	}

	var response struct {
		Result struct {
			Hits []struct {
				Value any `json:"value"`
				Count int `json:"count"`
			} `json:"hits"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/facet", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &response, "facet"); err != nil {
		return nil, err
	}

	out := make(map[string]int, len(response.Result.Hits))
	for _, hit := range response.Result.Hits {
		value := payloadText(hit.Value)
		if value == "" {
			continue
		}
		out[value] = hit.Count
	}
	return out, nil
}

func (c *Client) queryPoints(ctx context.Context, reqBody map[string]any, operation string) ([]domain.CandidateChunk, error) {
	var response struct {
		Result struct {
			Points []struct {
				ID      any                         `json:"id"`
				Score   float64                     `json:"score"`
				Payload map[string]domain.MetaValue `json:"payload"`
			} `json:"points"`
		} `json:"result"`
	}
	path := fmt.Sprintf("/collections/%s/points/query", c.collection)
	if err := c.postJSON(ctx, path, reqBody, &response, operation); err != nil {
		return nil, err
	}

	out := make([]domain.CandidateChunk, 0, len(response.Result.Points))
	for _, point := range response.Result.Points {
		chunk := chunkFromPayload(point.Payload)
		if chunk.ChunkID == "" {
			chunk.ChunkID = payloadText(point.ID)
		}
		if chunk.ChunkID == "" {
			continue
		}
		chunk.BaseScore = point.Score
		out = append(out, chunk)
	}
	return out, nil
}

func buildFacetConditions(filter domain.FacetFilter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	keys := make([]string, 0, len(filter))
	for k := range filter {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	must := make([]map[string]any, 0, len(keys))
	for _, key := range keys {
		value := filter[key]
		if value.Kind == domain.MetaList {
			texts := make([]string, 0, len(value.List))
			for _, item := range value.List {
				if t := item.Text(); t != "" {
					texts = append(texts, t)
				}
			}
			if len(texts) == 0 {
				continue
			}
			must = append(must, map[string]any{
				"key":   key,
				"match": map[string]any{"any": texts},
			})
			continue
		}
		must = append(must, map[string]any{
			"key":   key,
			"match": map[string]any{"value": value.Text()},
		})
	}
	if len(must) == 0 {
		return nil
	}
	return map[string]any{"must": must}
}

func chunkFromPayload(payload map[string]domain.MetaValue) domain.CandidateChunk {
	chunk := domain.CandidateChunk{
		ChunkID: payload["chunk_id"].Text(),
		DocID:   payload["doc_id"].Text(),
		Section: payload["section"].Text(),
		Body:    payload["body"].Text(),
	}
	metadata := make(map[string]domain.MetaValue, len(payload))
	for key, value := range payload {
		switch key {
		case "chunk_id", "doc_id", "section", "body":
			continue
		}
		metadata[key] = value
	}
	if len(metadata) > 0 {
		chunk.Metadata = metadata
	}
	return chunk
}

func payloadText(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprintf("%v", t)
	}
}
