package localfs

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

// LoadFacetVectors reads a facet-vector seed file. A missing file means no
// seed; entries that fail to parse are dropped individually.
func LoadFacetVectors(path string) ([]domain.FacetVector, error) {
	if path == "" {
		return nil, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read facet snapshot: %w", err)
	}

	var rawEntries []json.RawMessage
	if err := json.Unmarshal(raw, &rawEntries); err != nil {
		return nil, fmt.Errorf("decode facet snapshot: %w", err)
	}

	out := make([]domain.FacetVector, 0, len(rawEntries))
	for _, rawEntry := range rawEntries {
		var vector domain.FacetVector
		if err := json.Unmarshal(rawEntry, &vector); err != nil {
			continue
		}
		out = append(out, vector)
	}
	return out, nil
}
