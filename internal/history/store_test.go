package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"chunkmerge/internal/aggregate"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "runs.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func summaryFixture(id string, startedAt time.Time) *aggregate.Summary {
	return &aggregate.Summary{
		RunID:        id,
		Dir:          "/data/chunks",
		Pattern:      "*.json",
		OutputPath:   "/data/chunks/merged.json",
		FilesMerged:  3,
		BytesWritten: 1024,
		StartedAt:    startedAt,
		Duration:     250 * time.Millisecond,
	}
}

func TestStore_RecordAndList(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, store.RecordRun(ctx, summaryFixture("run-1", base)))
	require.NoError(t, store.RecordRun(ctx, summaryFixture("run-2", base.Add(time.Minute))))

	runs, err := store.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)

	// Newest first.
	require.Equal(t, "run-2", runs[0].ID)
	require.Equal(t, "run-1", runs[1].ID)

	got := runs[1]
	require.Equal(t, "/data/chunks", got.Dir)
	require.Equal(t, "*.json", got.Pattern)
	require.Equal(t, "/data/chunks/merged.json", got.OutputPath)
	require.Equal(t, 3, got.FilesMerged)
	require.Equal(t, int64(1024), got.BytesWritten)
	require.Equal(t, 250*time.Millisecond, got.Duration)
}

func TestStore_RecentRunsLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		s := summaryFixture(string(rune('a'+i)), base.Add(time.Duration(i)*time.Minute))
		require.NoError(t, store.RecordRun(ctx, s))
	}

	runs, err := store.RecentRuns(ctx, 2)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, "e", runs[0].ID)
}

func TestStore_DuplicateRunIDRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	s := summaryFixture("run-1", time.Now().UTC())
	require.NoError(t, store.RecordRun(ctx, s))
	require.Error(t, store.RecordRun(ctx, s))
}

func TestStore_EmptyLedger(t *testing.T) {
	store := openTestStore(t)

	runs, err := store.RecentRuns(context.Background(), 10)
	require.NoError(t, err)
	require.Empty(t, runs)
}

func TestStore_ReopenPersists(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runs.db")
	ctx := context.Background()

	store, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, store.RecordRun(ctx, summaryFixture("run-1", time.Now().UTC())))
	require.NoError(t, store.Close())

	reopened, err := Open(path, zap.NewNop())
	require.NoError(t, err)
	defer reopened.Close()

	runs, err := reopened.RecentRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, "run-1", runs[0].ID)
}
