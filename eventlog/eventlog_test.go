package eventlog

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestLog(t *testing.T) *Log {
	t.Helper()
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err)
	return l
}

func TestAppendAssignsMonotonicIndex(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()

	b1, err := l.Append(ctx, Block{SequenceID: "seq-1", Status: StatusSuccess})
	require.NoError(t, err)
	b2, err := l.Append(ctx, Block{SequenceID: "seq-1", Status: StatusSuccess})
	require.NoError(t, err)

	assert.Equal(t, uint64(0), b1.Index)
	assert.Equal(t, uint64(1), b2.Index)
	assert.NotEmpty(t, b1.ContentHash)
	assert.NotEqual(t, b1.ContentHash, b2.ContentHash)
}

func TestBlockCounterRecoversFromExistingFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := l.Append(ctx, Block{SequenceID: "seq-1", Status: StatusSuccess})
		require.NoError(t, err)
	}

	// Reopen against the same base path; the counter must resume from
	// the highest existing block-NNNNNNNNNNNN.json filename, not reset.
	l2, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err, "reopen failed")
	b, err := l2.Append(ctx, Block{SequenceID: "seq-1", Status: StatusSuccess})
	require.NoError(t, err, "Append after reopen failed")
	assert.Equal(t, uint64(3), b.Index, "expected recovered index 3")
}

func TestRecentBlocksReturnsNewestFirst(t *testing.T) {
	l := openTestLog(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		_, err := l.Append(ctx, Block{SequenceID: "seq-1", Status: StatusSuccess})
		require.NoError(t, err)
	}

	blocks, err := l.RecentBlocks(2)
	require.NoError(t, err)
	require.Len(t, blocks, 2)
	assert.Equal(t, uint64(4), blocks[0].Index)
	assert.Equal(t, uint64(3), blocks[1].Index)
}

func TestCreateSnapshotCopiesStateAndRecoversCounter(t *testing.T) {
	dir := t.TempDir()
	l, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, l.WriteState("foo", []byte(`{"k":"v"}`)))

	name, err := l.CreateSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "snapshot-000000", name)

	copied := filepath.Join(dir, "snapshots", name, "foo.json")
	_, statErr := os.Stat(copied)
	assert.NoError(t, statErr, "expected state file copied into snapshot")

	// Reopening must recover the snapshot counter too.
	l2, err := Open(DefaultConfig(dir), nil)
	require.NoError(t, err, "reopen failed")
	name2, err := l2.CreateSnapshot(ctx)
	require.NoError(t, err, "CreateSnapshot after reopen failed")
	assert.Equal(t, "snapshot-000001", name2, "expected snapshot-000001 after recovery")
}

func TestPruneSnapshotsKeepsNewestPerBucket(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Retention = RetentionPolicy{Hourly: 1, Daily: 1, Weekly: 1, Quarterly: 1}
	l, err := Open(cfg, nil)
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }

	// Three snapshots all within the last 24 hours: only Hourly=1 newest
	// should survive pruning.
	mkSnapshot(t, dir, "snapshot-000000", now.Add(-3*time.Hour))
	mkSnapshot(t, dir, "snapshot-000001", now.Add(-2*time.Hour))
	mkSnapshot(t, dir, "snapshot-000002", now.Add(-1*time.Hour))

	ctx := context.Background()
	deleted, err := l.PruneSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, deleted)

	remaining, err := l.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, remaining, 1, "expected only the newest snapshot to survive")
	assert.Equal(t, "snapshot-000002", remaining[0].Name)
}

// TestPruneSnapshotsNeverDeletesNewestEvenWithZeroRetention covers
// spec §4.6 invariant (iv): a bucket's most recent snapshot survives
// pruning even when its tier's keep count is configured to 0.
func TestPruneSnapshotsNeverDeletesNewestEvenWithZeroRetention(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(dir)
	cfg.Retention = RetentionPolicy{Hourly: 0, Daily: 0, Weekly: 0, Quarterly: 0}
	l, err := Open(cfg, nil)
	require.NoError(t, err)

	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	l.nowFn = func() time.Time { return now }

	mkSnapshot(t, dir, "snapshot-000000", now.Add(-3*time.Hour))
	mkSnapshot(t, dir, "snapshot-000001", now.Add(-1*time.Hour))

	ctx := context.Background()
	deleted, err := l.PruneSnapshots(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, deleted, "expected only the older snapshot pruned")

	remaining, err := l.ListSnapshots()
	require.NoError(t, err)
	require.Len(t, remaining, 1, "expected the newest snapshot to survive a zero-retention config")
	assert.Equal(t, "snapshot-000001", remaining[0].Name)
}

// mkSnapshot creates an empty snapshot directory and backdates its
// mtime, since PruneSnapshots buckets by each directory's ModTime.
func mkSnapshot(t *testing.T, baseDir, name string, createdAt time.Time) {
	t.Helper()
	path := filepath.Join(baseDir, "snapshots", name)
	require.NoError(t, os.MkdirAll(path, 0o755))
	require.NoError(t, os.Chtimes(path, createdAt, createdAt))
}
