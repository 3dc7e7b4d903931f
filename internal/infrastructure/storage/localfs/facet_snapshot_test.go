package localfs

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadFacetVectorsMissingFile(t *testing.T) {
	vectors, err := LoadFacetVectors(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil || vectors != nil {
		t.Fatalf("LoadFacetVectors(absent) = %v, %v, want nil, nil", vectors, err)
	}

	vectors, err = LoadFacetVectors("")
	if err != nil || vectors != nil {
		t.Fatalf("LoadFacetVectors(empty path) = %v, %v, want nil, nil", vectors, err)
	}
}

func TestLoadFacetVectorsDropsCorruptEntries(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facets.json")
	snapshot := `[
		{"facet":"doc_type","value":"report","vector":[0.1,0.2],"aliases":["보고서"],"updated_at":"2025-08-20T12:00:00Z"},
		"broken entry",
		{"facet":"topic","value":"budget","vector":[0.3,0.4]}
	]`
	if err := os.WriteFile(path, []byte(snapshot), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	vectors, err := LoadFacetVectors(path)
	if err != nil {
		t.Fatalf("LoadFacetVectors() error = %v", err)
	}
	if len(vectors) != 2 {
		t.Fatalf("vectors = %d, want 2 with the corrupt entry dropped", len(vectors))
	}
	if vectors[0].Facet != "doc_type" || vectors[0].Value != "report" {
		t.Fatalf("first vector = %+v", vectors[0])
	}
	if len(vectors[0].Aliases) != 1 || vectors[0].Aliases[0] != "보고서" {
		t.Fatalf("aliases = %v, want [보고서]", vectors[0].Aliases)
	}
}

func TestLoadFacetVectorsRejectsMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "facets.json")
	if err := os.WriteFile(path, []byte("{not an array"), 0o644); err != nil {
		t.Fatalf("write snapshot: %v", err)
	}

	if _, err := LoadFacetVectors(path); err == nil {
		t.Fatalf("expected error for malformed file")
	}
}
