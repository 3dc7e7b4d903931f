package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

// ChunkStatsRepository persists chunk usefulness records. Query centroids
// live in a JSONB column; a record whose JSON no longer parses counts as
// absent rather than poisoning reads.
type ChunkStatsRepository struct {
	db *sql.DB
}

func NewChunkStatsRepository(db *sql.DB) *ChunkStatsRepository {
	return &ChunkStatsRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *ChunkStatsRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082201)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS chunk_stats (
	chunk_id TEXT PRIMARY KEY,
	useful_count INTEGER NOT NULL DEFAULT 0,
	last_useful_at TIMESTAMPTZ,
	query_centroids JSONB NOT NULL DEFAULT '[]'::jsonb,
	decayed_utility DOUBLE PRECISION NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_chunk_stats_last_useful_at ON chunk_stats(last_useful_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *ChunkStatsRepository) Get(ctx context.Context, chunkID string) (*domain.ChunkStats, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility
FROM chunk_stats
WHERE chunk_id = $1
`, chunkID)

	stats, err := scanChunkStats(row.Scan)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrStatsNotFound, "get chunk stats", err)
		}
		if errors.Is(err, errCorruptCentroids) {
			return nil, domain.WrapError(domain.ErrStatsNotFound, "get chunk stats", err)
		}
		return nil, fmt.Errorf("scan chunk stats: %w", err)
	}
	return stats, nil
}

func (r *ChunkStatsRepository) Upsert(ctx context.Context, stats domain.ChunkStats) error {
	if stats.ChunkID == "" {
		return domain.WrapError(domain.ErrInvalidInput, "upsert chunk stats", fmt.Errorf("empty chunk id"))
	}

	centroids := stats.QueryCentroids
	if centroids == nil {
		centroids = []domain.QueryCluster{}
	}
	centroidsJSON, err := json.Marshal(centroids)
	if err != nil {
		return fmt.Errorf("marshal query centroids: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO chunk_stats (chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility, updated_at)
VALUES ($1,$2,$3,$4,$5,$6)
ON CONFLICT (chunk_id) DO UPDATE SET
	useful_count = EXCLUDED.useful_count,
	last_useful_at = EXCLUDED.last_useful_at,
	query_centroids = EXCLUDED.query_centroids,
	decayed_utility = EXCLUDED.decayed_utility,
	updated_at = EXCLUDED.updated_at
`,
		stats.ChunkID, stats.UsefulCount, stats.LastUsefulAt, centroidsJSON,
		stats.DecayedUtility, time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("upsert chunk stats: %w", err)
	}
	return nil
}

// List returns every persisted record. Records whose centroid JSON is
// corrupt are dropped, not returned half-read.
func (r *ChunkStatsRepository) List(ctx context.Context) ([]domain.ChunkStats, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility
FROM chunk_stats
ORDER BY chunk_id
`)
	if err != nil {
		return nil, fmt.Errorf("query chunk stats: %w", err)
	}
	defer rows.Close()

	var out []domain.ChunkStats
	for rows.Next() {
		stats, err := scanChunkStats(rows.Scan)
		if err != nil {
			if errors.Is(err, errCorruptCentroids) {
				continue
			}
			return nil, fmt.Errorf("scan chunk stats row: %w", err)
		}
		out = append(out, *stats)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunk stats: %w", err)
	}
	return out, nil
}

func (r *ChunkStatsRepository) DeleteIdleBefore(ctx context.Context, cutoff time.Time) (int, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM chunk_stats
WHERE last_useful_at IS NULL OR last_useful_at < $1
`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete idle chunk stats: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("idle delete rows affected: %w", err)
	}
	return int(affected), nil
}

var errCorruptCentroids = errors.New("corrupt query centroids")

func scanChunkStats(scan func(dest ...any) error) (*domain.ChunkStats, error) {
	var stats domain.ChunkStats
	var lastUsefulAt sql.NullTime
	var centroidsRaw []byte

	if err := scan(&stats.ChunkID, &stats.UsefulCount, &lastUsefulAt, &centroidsRaw, &stats.DecayedUtility); err != nil {
		return nil, err
	}
	if lastUsefulAt.Valid {
		t := lastUsefulAt.Time
		stats.LastUsefulAt = &t
	}
	if len(centroidsRaw) > 0 {
		if err := json.Unmarshal(centroidsRaw, &stats.QueryCentroids); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errCorruptCentroids, stats.ChunkID, err)
		}
	}
	return &stats, nil
}
