package localfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

// StatsStore keeps chunk usefulness records in a single JSON file. It backs
// deployments without Postgres; the memory store treats it exactly like the
// database repository.
type StatsStore struct {
	mu   sync.Mutex
	path string
}

func NewStatsStore(path string) (*StatsStore, error) {
	if path == "" {
		path = "./data/chunk_stats.json"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create stats dir: %w", err)
	}
	return &StatsStore{path: path}, nil
}

func (s *StatsStore) Get(_ context.Context, chunkID string) (*domain.ChunkStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	stats, ok := records[chunkID]
	if !ok {
		return nil, domain.WrapError(domain.ErrStatsNotFound, "get chunk stats", fmt.Errorf("chunk %s", chunkID))
	}
	clone := stats.Clone()
	return &clone, nil
}

func (s *StatsStore) Upsert(_ context.Context, stats domain.ChunkStats) error {
	if stats.ChunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert chunk stats", fmt.Errorf("empty chunk id"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return err
	}
	records[stats.ChunkID] = stats.Clone()
	return s.save(records)
}

func (s *StatsStore) List(_ context.Context) ([]domain.ChunkStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return nil, err
	}
	out := make([]domain.ChunkStats, 0, len(records))
	for _, stats := range records {
		out = append(out, stats)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkID < out[j].ChunkID })
	return out, nil
}

func (s *StatsStore) DeleteIdleBefore(_ context.Context, cutoff time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.load()
	if err != nil {
		return 0, err
	}
	removed := 0
	for chunkID, stats := range records {
		if stats.LastUsefulAt == nil || stats.LastUsefulAt.Before(cutoff) {
			delete(records, chunkID)
			removed++
		}
	}
	if removed == 0 {
		return 0, nil
	}
	if err := s.save(records); err != nil {
		return 0, err
	}
	return removed, nil
}

// load reads the snapshot. A missing file is an empty store; a record that
// no longer parses is dropped rather than failing the whole read.
func (s *StatsStore) load() (map[string]domain.ChunkStats, error) {
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return make(map[string]domain.ChunkStats), nil
		}
		return nil, fmt.Errorf("read stats snapshot: %w", err)
	}

	var rawRecords map[string]json.RawMessage
	if err := json.Unmarshal(raw, &rawRecords); err != nil {
		return nil, fmt.Errorf("decode stats snapshot: %w", err)
	}

	records := make(map[string]domain.ChunkStats, len(rawRecords))
	for chunkID, rawRecord := range rawRecords {
		var stats domain.ChunkStats
		if err := json.Unmarshal(rawRecord, &stats); err != nil {
			continue
		}
		if stats.ChunkID == "" {
			stats.ChunkID = chunkID
		}
		records[chunkID] = stats
	}
	return records, nil
}

// save replaces the snapshot atomically so a crash mid-write cannot leave a
// torn file behind.
func (s *StatsStore) save(records map[string]domain.ChunkStats) error {
	raw, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("encode stats snapshot: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("write stats snapshot: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("replace stats snapshot: %w", err)
	}
	return nil
}
