package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/kirillkom/retrieval-pipeline/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*ChunkStatsRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &ChunkStatsRepository{db: db}, mock, func() { _ = db.Close() }
}

var statsColumns = []string{"chunk_id", "useful_count", "last_useful_at", "query_centroids", "decayed_utility"}

func TestGetDecodesRecord(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	at := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	centroids := `[{"centroid":[0.5,0.5],"count":3,"last_updated":"2025-08-20T12:00:00Z","sample_queries":["budget report"]}]`
	mock.ExpectQuery("SELECT chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility").
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(statsColumns).AddRow("c-1", 4, at, []byte(centroids), 2.5))

	stats, err := repo.Get(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if stats.ChunkID != "c-1" || stats.UsefulCount != 4 || stats.DecayedUtility != 2.5 {
		t.Fatalf("stats = %+v, want decoded counters", stats)
	}
	if stats.LastUsefulAt == nil || !stats.LastUsefulAt.Equal(at) {
		t.Fatalf("LastUsefulAt = %v, want %v", stats.LastUsefulAt, at)
	}
	if len(stats.QueryCentroids) != 1 || stats.QueryCentroids[0].Count != 3 {
		t.Fatalf("centroids = %+v, want one cluster with count 3", stats.QueryCentroids)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetReturnsStatsNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.Get(context.Background(), "missing")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrStatsNotFound) {
		t.Fatalf("expected ErrStatsNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetDropsCorruptRecord(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility").
		WithArgs("c-1").
		WillReturnRows(sqlmock.NewRows(statsColumns).AddRow("c-1", 4, nil, []byte("not json"), 2.5))

	_, err := repo.Get(context.Background(), "c-1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrStatsNotFound) {
		t.Fatalf("corrupt record should read as absent, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertWritesAllColumns(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	at := time.Date(2025, 8, 20, 12, 0, 0, 0, time.UTC)
	mock.ExpectExec("INSERT INTO chunk_stats").
		WithArgs("c-1", 4, &at, sqlmock.AnyArg(), 2.5, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Upsert(context.Background(), domain.ChunkStats{
		ChunkID:        "c-1",
		UsefulCount:    4,
		LastUsefulAt:   &at,
		DecayedUtility: 2.5,
		QueryCentroids: []domain.QueryCluster{{Centroid: []float32{1}, Count: 1, LastUpdated: at}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpsertRejectsEmptyChunkID(t *testing.T) {
	repo, _, done := newRepoWithMock(t)
	defer done()

	err := repo.Upsert(context.Background(), domain.ChunkStats{})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestListSkipsCorruptRecords(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	rows := sqlmock.NewRows(statsColumns).
		AddRow("c-1", 2, nil, []byte(`[]`), 1.0).
		AddRow("c-2", 9, nil, []byte(`{broken`), 3.0).
		AddRow("c-3", 1, nil, []byte(`[]`), 0.5)
	mock.ExpectQuery("SELECT chunk_id, useful_count, last_useful_at, query_centroids, decayed_utility").
		WillReturnRows(rows)

	list, err := repo.List(context.Background())
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("list = %d records, want 2 with the corrupt one dropped", len(list))
	}
	if list[0].ChunkID != "c-1" || list[1].ChunkID != "c-3" {
		t.Fatalf("list = %+v, want c-1 and c-3", list)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestDeleteIdleBeforeReportsCount(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	cutoff := time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec("DELETE FROM chunk_stats").
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	removed, err := repo.DeleteIdleBefore(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("DeleteIdleBefore() error = %v", err)
	}
	if removed != 3 {
		t.Fatalf("removed = %d, want 3", removed)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestEnsureSchemaLocksAndCommits(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(int64(2026082201)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS chunk_stats").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	if err := repo.EnsureSchema(context.Background()); err != nil {
		t.Fatalf("EnsureSchema() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
