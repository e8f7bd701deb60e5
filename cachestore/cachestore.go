// Package cachestore is the content-addressed cache for pipeline step
// results: a SQLite metadata index plus payload files on disk (spec
// §4.3, component D).
//
// Grounded on original_source/crates/op-cache/src/workstack_cache.rs
// for the schema, the get/put/invalidate/cleanup/stats algorithms, and
// the "compress only if it actually shrinks the payload" rule. The
// teacher's orchestration/cache.go supplies the Go idiom for the public
// Stats shape (a flat struct with Hits/Misses/HitRate) though its
// SimpleCache itself is pure in-memory and has no on-disk component to
// adapt; this store is written fresh against modernc.org/sqlite.
package cachestore

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "modernc.org/sqlite"

	"github.com/repr0bated/substrate/logging"
	"github.com/repr0bated/substrate/xerrors"
)

// Config controls retention and compression behavior.
type Config struct {
	DefaultTTLSeconds int64
	MaxSizeBytes      int64
	Compress          bool
	HotWindowSeconds  int64
}

// DefaultConfig matches workstack_cache.rs's Default impl.
func DefaultConfig() Config {
	return Config{
		DefaultTTLSeconds: 3600,
		MaxSizeBytes:      1024 * 1024 * 1024,
		Compress:          true,
		HotWindowSeconds:  600,
	}
}

// Store is the SQLite-indexed, file-backed step cache.
type Store struct {
	mu       sync.Mutex // serializes writes to the payload directory alongside db transactions
	db       *sql.DB
	dataDir  string
	cfg      Config
	enc      *zstd.Encoder
	dec      *zstd.Decoder
	log      logging.Logger
	nowFn    func() time.Time
}

// Open creates (or reopens) a Store rooted at baseDir/workstacks.
func Open(baseDir string, cfg Config, log logging.ComponentAwareLogger) (*Store, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	root := filepath.Join(baseDir, "workstacks")
	dataDir := filepath.Join(root, "data")
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, xerrors.NewFrameworkError("cachestore.Open", "cache", "", err)
	}

	dbPath := filepath.Join(root, "cache.db")
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, xerrors.NewFrameworkError("cachestore.Open", "cache", "", err)
	}
	db.SetMaxOpenConns(1) // modernc.org/sqlite is not safe for concurrent writers on one handle

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, xerrors.NewFrameworkError("cachestore.Open", "cache", "", err)
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		db.Close()
		return nil, xerrors.NewFrameworkError("cachestore.Open", "cache", "", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		enc.Close()
		return nil, xerrors.NewFrameworkError("cachestore.Open", "cache", "", err)
	}

	s := &Store{
		db:      db,
		dataDir: dataDir,
		cfg:     cfg,
		enc:     enc,
		dec:     dec,
		log:     log.WithComponent("cachestore"),
		nowFn:   time.Now,
	}
	s.log.Info("cache store opened", map[string]interface{}{"path": dbPath})
	return s, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS step_cache (
	cache_key TEXT PRIMARY KEY,
	sequence_id TEXT NOT NULL,
	step_index INTEGER NOT NULL,
	input_hash TEXT NOT NULL,
	output_file TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER NOT NULL,
	access_count INTEGER DEFAULT 1,
	last_accessed INTEGER NOT NULL,
	size_bytes INTEGER NOT NULL,
	compressed INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS sequence_meta (
	sequence_id TEXT PRIMARY KEY,
	total_entries INTEGER DEFAULT 0,
	total_size_bytes INTEGER DEFAULT 0,
	hit_count INTEGER DEFAULT 0,
	miss_count INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_cache_sequence ON step_cache(sequence_id);
CREATE INDEX IF NOT EXISTS idx_cache_expires ON step_cache(expires_at);
CREATE INDEX IF NOT EXISTS idx_cache_accessed ON step_cache(last_accessed DESC);
`

// DB returns the underlying database handle so other components that
// persist into "the same index store as cache metadata" (spec.md §3 —
// the pattern tracker's PatternRecords) can share one SQLite file
// instead of opening a second handle on it.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database handle and encoder/decoder resources.
func (s *Store) Close() error {
	s.enc.Close()
	s.dec.Close()
	return s.db.Close()
}

// Get looks up a cached step result by its precomputed cache key. It
// reports a miss on both absence and expiry (expired rows are pruned
// lazily, on read, same as the Rust original).
func (s *Store) Get(ctx context.Context, sequenceID string, cacheKey string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().Unix()

	var outputFile string
	var expiresAt int64
	var compressed int
	err := s.db.QueryRowContext(ctx,
		`SELECT output_file, expires_at, compressed FROM step_cache WHERE cache_key = ?`,
		cacheKey).Scan(&outputFile, &expiresAt, &compressed)
	if err == sql.ErrNoRows {
		s.recordMiss(ctx, sequenceID)
		return nil, false, nil
	}
	if err != nil {
		return nil, false, xerrors.NewFrameworkError("cachestore.Get", "cache", cacheKey, err)
	}

	if now > expiresAt {
		s.invalidateKeyLocked(ctx, cacheKey)
		return nil, false, nil
	}

	if _, err := s.db.ExecContext(ctx,
		`UPDATE step_cache SET access_count = access_count + 1, last_accessed = ? WHERE cache_key = ?`,
		now, cacheKey); err != nil {
		return nil, false, xerrors.NewFrameworkError("cachestore.Get", "cache", cacheKey, err)
	}
	s.recordHit(ctx, sequenceID)

	path := filepath.Join(s.dataDir, outputFile)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, false, xerrors.NewFrameworkError("cachestore.Get", "cache", cacheKey, err)
	}

	if compressed != 0 {
		data, err = s.dec.DecodeAll(data, nil)
		if err != nil {
			return nil, false, xerrors.NewFrameworkError("cachestore.Get", "cache", cacheKey, err)
		}
	}
	return data, true, nil
}

// Put stores output under cacheKey, tagged to sequenceID/stepIndex for
// bulk invalidation and stats. ttl of 0 uses the store's default TTL.
func (s *Store) Put(ctx context.Context, sequenceID string, stepIndex int, inputHash, cacheKey string, output []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().Unix()
	ttlSecs := s.cfg.DefaultTTLSeconds
	if ttl > 0 {
		ttlSecs = int64(ttl.Seconds())
	}
	expiresAt := now + ttlSecs

	data := output
	compressed := false
	if s.cfg.Compress && len(output) > 1024 {
		if c := s.enc.EncodeAll(output, nil); len(c) < len(output) {
			data, compressed = c, true
		}
	}

	outputFile := cacheKey + ".cache"
	path := filepath.Join(s.dataDir, outputFile)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return xerrors.NewFrameworkError("cachestore.Put", "cache", cacheKey, err)
	}

	compressedInt := 0
	if compressed {
		compressedInt = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO step_cache
			(cache_key, sequence_id, step_index, input_hash, output_file,
			 created_at, expires_at, last_accessed, size_bytes, compressed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			output_file = excluded.output_file,
			expires_at = excluded.expires_at,
			last_accessed = excluded.last_accessed,
			size_bytes = excluded.size_bytes,
			compressed = excluded.compressed,
			access_count = access_count + 1`,
		cacheKey, sequenceID, stepIndex, inputHash, outputFile,
		now, expiresAt, now, len(data), compressedInt)
	if err != nil {
		return xerrors.NewFrameworkError("cachestore.Put", "cache", cacheKey, err)
	}

	if err := s.updateSequenceMeta(ctx, sequenceID); err != nil {
		return err
	}

	return s.evictOverCapLocked(ctx)
}

// evictOverCapLocked enforces the store's total-size cap by evicting
// entries in ascending last_accessed order (LRU) until total size is
// at or under the cap. It runs inline with Put under s.mu, the same
// mutex Get takes, so concurrent reads wait until the whole eviction
// pass has finished; it does not use row-level locking.
// Callers must already hold s.mu.
func (s *Store) evictOverCapLocked(ctx context.Context) error {
	if s.cfg.MaxSizeBytes <= 0 {
		return nil
	}

	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM step_cache`).Scan(&total); err != nil {
		return xerrors.NewFrameworkError("cachestore.evictOverCap", "cache", "", err)
	}
	if total <= s.cfg.MaxSizeBytes {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT cache_key, sequence_id, output_file, size_bytes FROM step_cache ORDER BY last_accessed ASC`)
	if err != nil {
		return xerrors.NewFrameworkError("cachestore.evictOverCap", "cache", "", err)
	}
	type entry struct {
		key, sequenceID, file string
		size                  int64
	}
	var candidates []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.key, &e.sequenceID, &e.file, &e.size); err != nil {
			rows.Close()
			return xerrors.NewFrameworkError("cachestore.evictOverCap", "cache", "", err)
		}
		candidates = append(candidates, e)
	}
	rows.Close()

	var evicted int
	touchedSequences := map[string]bool{}
	for _, e := range candidates {
		if total <= s.cfg.MaxSizeBytes {
			break
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM step_cache WHERE cache_key = ?`, e.key); err != nil {
			return xerrors.NewFrameworkError("cachestore.evictOverCap", "cache", e.key, err)
		}
		os.Remove(filepath.Join(s.dataDir, e.file))
		total -= e.size
		evicted++
		touchedSequences[e.sequenceID] = true
	}

	for seqID := range touchedSequences {
		if err := s.updateSequenceMeta(ctx, seqID); err != nil {
			return err
		}
	}

	if evicted > 0 {
		s.log.Info("evicted LRU cache entries over size cap", map[string]interface{}{
			"count": evicted, "max_size_bytes": s.cfg.MaxSizeBytes,
		})
	}
	return nil
}

// InvalidateSequence deletes every cached entry for sequenceID and
// returns the number of entries removed.
func (s *Store) InvalidateSequence(ctx context.Context, sequenceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT output_file FROM step_cache WHERE sequence_id = ?`, sequenceID)
	if err != nil {
		return 0, xerrors.NewFrameworkError("cachestore.InvalidateSequence", "cache", sequenceID, err)
	}
	var files []string
	for rows.Next() {
		var f string
		if err := rows.Scan(&f); err != nil {
			rows.Close()
			return 0, xerrors.NewFrameworkError("cachestore.InvalidateSequence", "cache", sequenceID, err)
		}
		files = append(files, f)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM step_cache WHERE sequence_id = ?`, sequenceID); err != nil {
		return 0, xerrors.NewFrameworkError("cachestore.InvalidateSequence", "cache", sequenceID, err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sequence_meta WHERE sequence_id = ?`, sequenceID); err != nil {
		return 0, xerrors.NewFrameworkError("cachestore.InvalidateSequence", "cache", sequenceID, err)
	}

	for _, f := range files {
		os.Remove(filepath.Join(s.dataDir, f))
	}

	s.log.Info("invalidated sequence cache", map[string]interface{}{"sequence_id": sequenceID, "entries": len(files)})
	return len(files), nil
}

func (s *Store) invalidateKeyLocked(ctx context.Context, cacheKey string) {
	var outputFile string
	err := s.db.QueryRowContext(ctx, `SELECT output_file FROM step_cache WHERE cache_key = ?`, cacheKey).Scan(&outputFile)
	s.db.ExecContext(ctx, `DELETE FROM step_cache WHERE cache_key = ?`, cacheKey)
	if err == nil {
		os.Remove(filepath.Join(s.dataDir, outputFile))
	}
}

// CleanupResult reports what CleanupExpired removed.
type CleanupResult struct {
	EntriesRemoved int
	BytesFreed     int64
}

// CleanupExpired deletes every entry whose TTL has elapsed, regardless
// of whether it's ever read again.
func (s *Store) CleanupExpired(ctx context.Context) (CleanupResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.nowFn().Unix()

	rows, err := s.db.QueryContext(ctx, `SELECT output_file, size_bytes FROM step_cache WHERE expires_at < ?`, now)
	if err != nil {
		return CleanupResult{}, xerrors.NewFrameworkError("cachestore.CleanupExpired", "cache", "", err)
	}
	type entry struct {
		file string
		size int64
	}
	var expired []entry
	for rows.Next() {
		var e entry
		if err := rows.Scan(&e.file, &e.size); err != nil {
			rows.Close()
			return CleanupResult{}, xerrors.NewFrameworkError("cachestore.CleanupExpired", "cache", "", err)
		}
		expired = append(expired, e)
	}
	rows.Close()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM step_cache WHERE expires_at < ?`, now); err != nil {
		return CleanupResult{}, xerrors.NewFrameworkError("cachestore.CleanupExpired", "cache", "", err)
	}

	var freed int64
	for _, e := range expired {
		os.Remove(filepath.Join(s.dataDir, e.file))
		freed += e.size
	}

	if len(expired) > 0 {
		s.log.Info("cleaned up expired cache entries", map[string]interface{}{"count": len(expired), "bytes_freed": freed})
	}
	return CleanupResult{EntriesRemoved: len(expired), BytesFreed: freed}, nil
}

// Stats summarizes the cache's current contents and hit rate.
type Stats struct {
	TotalEntries    int64
	TotalSizeBytes  int64
	HotEntries      int64
	TotalHits       int64
	TotalMisses     int64
	SequencesCached int64
	HitRate         float64
}

func (s *Store) Stats(ctx context.Context) (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var st Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM step_cache`).Scan(&st.TotalEntries); err != nil {
		return Stats{}, xerrors.NewFrameworkError("cachestore.Stats", "cache", "", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(size_bytes), 0) FROM step_cache`).Scan(&st.TotalSizeBytes); err != nil {
		return Stats{}, xerrors.NewFrameworkError("cachestore.Stats", "cache", "", err)
	}

	hotThreshold := s.nowFn().Unix() - s.cfg.HotWindowSeconds
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM step_cache WHERE last_accessed > ?`, hotThreshold).Scan(&st.HotEntries); err != nil {
		return Stats{}, xerrors.NewFrameworkError("cachestore.Stats", "cache", "", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(hit_count), 0) FROM sequence_meta`).Scan(&st.TotalHits); err != nil {
		return Stats{}, xerrors.NewFrameworkError("cachestore.Stats", "cache", "", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(miss_count), 0) FROM sequence_meta`).Scan(&st.TotalMisses); err != nil {
		return Stats{}, xerrors.NewFrameworkError("cachestore.Stats", "cache", "", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(DISTINCT sequence_id) FROM step_cache`).Scan(&st.SequencesCached); err != nil {
		return Stats{}, xerrors.NewFrameworkError("cachestore.Stats", "cache", "", err)
	}

	if st.TotalHits+st.TotalMisses > 0 {
		st.HitRate = float64(st.TotalHits) / float64(st.TotalHits+st.TotalMisses)
	}
	return st, nil
}

func (s *Store) recordHit(ctx context.Context, sequenceID string) {
	s.db.ExecContext(ctx, `
		INSERT INTO sequence_meta (sequence_id, hit_count) VALUES (?, 1)
		ON CONFLICT(sequence_id) DO UPDATE SET hit_count = hit_count + 1`, sequenceID)
}

func (s *Store) recordMiss(ctx context.Context, sequenceID string) {
	s.db.ExecContext(ctx, `
		INSERT INTO sequence_meta (sequence_id, miss_count) VALUES (?, 1)
		ON CONFLICT(sequence_id) DO UPDATE SET miss_count = miss_count + 1`, sequenceID)
}

func (s *Store) updateSequenceMeta(ctx context.Context, sequenceID string) error {
	var entries, size int64
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(size_bytes), 0) FROM step_cache WHERE sequence_id = ?`,
		sequenceID).Scan(&entries, &size); err != nil {
		return xerrors.NewFrameworkError("cachestore.updateSequenceMeta", "cache", sequenceID, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_meta (sequence_id, total_entries, total_size_bytes) VALUES (?, ?, ?)
		ON CONFLICT(sequence_id) DO UPDATE SET total_entries = excluded.total_entries, total_size_bytes = excluded.total_size_bytes`,
		sequenceID, entries, size)
	if err != nil {
		return xerrors.NewFrameworkError("cachestore.updateSequenceMeta", "cache", sequenceID, err)
	}
	return nil
}
