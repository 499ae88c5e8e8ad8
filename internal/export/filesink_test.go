package export

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/weccap/internal/db"
	"github.com/banshee-data/weccap/internal/recording"
	"github.com/banshee-data/weccap/internal/timeutil"
)

type fakeHistory struct {
	mu      sync.Mutex
	records []db.ExportRecord
}

func (h *fakeHistory) RecordExport(_ context.Context, rec db.ExportRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, rec)
	return nil
}

func (h *fakeHistory) all() []db.ExportRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]db.ExportRecord(nil), h.records...)
}

func testCapture(id, name string) recording.Capture {
	return recording.Capture{
		ID:        id,
		Name:      name,
		StartedAt: time.Unix(1, 0),
		StoppedAt: time.Unix(2, 0),
		Stream:    threeFrameStream(),
	}
}

func TestNewFileSink_Validation(t *testing.T) {
	_, err := NewFileSink(t.TempDir(), Options{Format: "nope"}, nil, 1)
	assert.Error(t, err)
	_, err = NewFileSink("", Options{Format: FormatCSV}, nil, 1)
	assert.Error(t, err)
}

func TestFileSink_WriteCapture(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, Options{Format: FormatCSV}, nil, 1)
	require.NoError(t, err)

	path, art, err := sink.WriteCapture(testCapture("0f3c9a1e-0000-0000-0000-000000000000", "trial 1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "trial_1.csv"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, art.Data, data)

	// A second recording with the same name gets the ID appended.
	path, art, err = sink.WriteCapture(testCapture("7b2e4d5f-0000-0000-0000-000000000000", "trial 1"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "trial_1_7b2e4d5f.csv"), path)
	assert.Equal(t, "trial_1_7b2e4d5f.csv", art.FileName)
}

func TestFileSink_RunWritesAndRecordsHistory(t *testing.T) {
	dir := t.TempDir()
	history := &fakeHistory{}
	sink, err := NewFileSink(dir, Options{Format: FormatJSONL, Archive: true}, history, 4)
	require.NoError(t, err)
	clock := timeutil.NewMockClock(time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC))
	sink.SetClock(clock)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sink.Run(ctx) }()

	sink.Export(testCapture("abc", "walk"))

	require.Eventually(t, func() bool { return len(history.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	rec := history.all()[0]
	assert.Equal(t, "abc", rec.ID)
	assert.Equal(t, "walk", rec.SessionName)
	assert.Equal(t, "walk.zip", rec.FileName)
	assert.Equal(t, FormatJSONL, rec.Format)
	assert.Equal(t, 3, rec.Records)
	assert.True(t, rec.CreatedAt.Equal(clock.Now()))

	_, err = os.Stat(filepath.Join(dir, "walk.zip"))
	assert.NoError(t, err)
	written, failed := sink.Stats()
	assert.Equal(t, uint64(1), written)
	assert.Equal(t, uint64(0), failed)
}

func TestFileSink_RunDrainsOnCancel(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, Options{Format: FormatCSV}, nil, 4)
	require.NoError(t, err)

	sink.Export(testCapture("1", "a"))
	sink.Export(testCapture("2", "b"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sink.Run(ctx))

	for _, name := range []string{"a.csv", "b.csv"} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
}

func TestFileSink_ExportDropsWhenFull(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), Options{Format: FormatCSV}, nil, 1)
	require.NoError(t, err)

	sink.Export(testCapture("1", "a"))
	sink.Export(testCapture("2", "b"))

	_, failed := sink.Stats()
	assert.Equal(t, uint64(1), failed)
}
