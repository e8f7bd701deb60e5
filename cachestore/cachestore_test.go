package cachestore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(dir, DefaultConfig(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestPutAndGet(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "seq-1", 0, "input-hash", "key-1", []byte("test output"), 0))

	data, hit, err := s.Get(ctx, "seq-1", "key-1")
	require.NoError(t, err)
	assert.True(t, hit, "expected cache hit")
	assert.Equal(t, "test output", string(data))
}

func TestGetMiss(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, hit, err := s.Get(ctx, "seq-1", "nonexistent")
	require.NoError(t, err)
	assert.False(t, hit, "expected cache miss")
}

func TestPutCompressesLargePayloads(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	large := make([]byte, 4096)
	for i := range large {
		large[i] = byte(i % 7) // repetitive so zstd shrinks it
	}
	require.NoError(t, s.Put(ctx, "seq-1", 0, "hash", "key-big", large, 0))

	data, hit, err := s.Get(ctx, "seq-1", "key-big")
	require.NoError(t, err)
	require.True(t, hit)
	assert.Len(t, data, len(large), "decompressed length mismatch")
}

func TestGetExpiredEntryIsMiss(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fixed := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return fixed }

	require.NoError(t, s.Put(ctx, "seq-1", 0, "hash", "key-1", []byte("data"), 1*time.Second))

	s.nowFn = func() time.Time { return fixed.Add(10 * time.Second) }

	_, hit, err := s.Get(ctx, "seq-1", "key-1")
	require.NoError(t, err)
	assert.False(t, hit, "expected expired entry to report as miss")
}

func TestInvalidateSequenceRemovesAllEntries(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "seq-1", 0, "h1", "key-1", []byte("data1"), 0))
	require.NoError(t, s.Put(ctx, "seq-1", 1, "h2", "key-2", []byte("data2"), 0))

	n, err := s.InvalidateSequence(ctx, "seq-1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, hit, _ := s.Get(ctx, "seq-1", "key-1")
	assert.False(t, hit, "expected key-1 gone after invalidation")
}

func TestCleanupExpiredRemovesOnlyExpired(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	fixed := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return fixed }

	require.NoError(t, s.Put(ctx, "seq-1", 0, "h1", "expiring", []byte("data1"), 1*time.Second))
	require.NoError(t, s.Put(ctx, "seq-1", 1, "h2", "keeping", []byte("data2"), 1*time.Hour))

	s.nowFn = func() time.Time { return fixed.Add(10 * time.Second) }

	result, err := s.CleanupExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.EntriesRemoved)

	_, hit, _ := s.Get(ctx, "seq-1", "keeping")
	assert.True(t, hit, "expected unexpired entry to survive cleanup")
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Put(ctx, "seq-1", 0, "h1", "key-1", []byte("data"), 0))
	s.Get(ctx, "seq-1", "key-1")       // hit
	s.Get(ctx, "seq-1", "nonexistent") // miss

	stats, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(1), stats.TotalMisses)
	assert.Equal(t, 0.5, stats.HitRate)
}

func TestPutEvictsLRUWhenOverSizeCap(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.Compress = false
	cfg.MaxSizeBytes = 30 // small enough to force eviction across several puts
	s, err := Open(dir, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	ctx := context.Background()

	fixed := time.Unix(1_700_000_000, 0)
	s.nowFn = func() time.Time { return fixed }
	require.NoError(t, s.Put(ctx, "seq-1", 0, "h0", "key-0", []byte("0123456789"), 0))

	s.nowFn = func() time.Time { return fixed.Add(1 * time.Second) }
	require.NoError(t, s.Put(ctx, "seq-1", 1, "h1", "key-1", []byte("0123456789"), 0))

	s.nowFn = func() time.Time { return fixed.Add(2 * time.Second) }
	require.NoError(t, s.Put(ctx, "seq-1", 2, "h2", "key-2", []byte("0123456789"), 0))

	// key-0 is least recently accessed/written; a fourth put over the
	// 30-byte cap must evict it first.
	s.nowFn = func() time.Time { return fixed.Add(3 * time.Second) }
	require.NoError(t, s.Put(ctx, "seq-1", 3, "h3", "key-3", []byte("0123456789"), 0))

	_, hit, _ := s.Get(ctx, "seq-1", "key-0")
	assert.False(t, hit, "expected key-0 evicted once total size exceeded the cap")
	_, hit, _ = s.Get(ctx, "seq-1", "key-3")
	assert.True(t, hit, "expected the newest entry to survive eviction")
}
