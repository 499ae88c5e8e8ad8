package db

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestRecordAndListExports(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := ExportRecord{ID: "a", SessionName: "trial 1", FileName: "trial_1.zip", Format: "jsonl", Records: 3, Bytes: 210, CreatedAt: base}
	second := ExportRecord{ID: "b", SessionName: "trial 2", FileName: "trial_2.csv", Format: "csv", Records: 0, Bytes: 0, CreatedAt: base.Add(time.Minute)}
	require.NoError(t, db.RecordExport(ctx, first))
	require.NoError(t, db.RecordExport(ctx, second))

	got, err := db.ListExports(ctx, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]ExportRecord{second, first}, got); diff != "" {
		t.Errorf("ListExports mismatch (-want +got):\n%s", diff)
	}

	got, err = db.ListExports(ctx, 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestRecordExport_DuplicateID(t *testing.T) {
	db := newTestDB(t)
	rec := ExportRecord{ID: "dup", FileName: "x.csv", Format: "csv", CreatedAt: time.Unix(1, 0)}
	require.NoError(t, db.RecordExport(context.Background(), rec))
	assert.Error(t, db.RecordExport(context.Background(), rec))
}

func TestListExports_Empty(t *testing.T) {
	db := newTestDB(t)
	got, err := db.ListExports(context.Background(), 10)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestRecordAndListSubmissions(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	rec := SubmissionRecord{ID: "s1", Kind: "fullPose", Points: 42, CreatedAt: time.Unix(100, 0).UTC()}
	require.NoError(t, db.RecordSubmission(ctx, rec))

	got, err := db.ListSubmissions(ctx, 0)
	require.NoError(t, err)
	if diff := cmp.Diff([]SubmissionRecord{rec}, got); diff != "" {
		t.Errorf("ListSubmissions mismatch (-want +got):\n%s", diff)
	}
}

func TestMigrationStatus(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fresh.db")
	db, err := OpenDB(path)
	require.NoError(t, err)
	defer db.Close()

	status, err := db.GetMigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(0), status.CurrentVersion)
	assert.Equal(t, uint(2), status.LatestVersion)
	assert.True(t, status.Pending())

	require.NoError(t, db.MigrateUp())
	// A second run is a no-op.
	require.NoError(t, db.MigrateUp())

	status, err = db.GetMigrationStatus()
	require.NoError(t, err)
	assert.Equal(t, uint(2), status.CurrentVersion)
	assert.False(t, status.Dirty)
	assert.False(t, status.Pending())
}

func TestAttachAdminRoutes(t *testing.T) {
	db := newTestDB(t)
	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux))

	req := httptest.NewRequest(http.MethodGet, "/debug/migrations", nil)
	req.RemoteAddr = "127.0.0.1:12345"
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"current_version":2`)
}
