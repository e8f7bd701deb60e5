// Package patterns tracks repeated agent sequences and suggests
// promoting frequent ones to named, first-class workstacks that
// callers can invoke by name instead of going through the resolver
// (spec §4.5, component F).
//
// The Rust original's own tracker source (pattern_tracker.rs) was not
// present in the retrieved pack; only its call sites survive in
// orchestrator.rs and workflow_executor.rs
// (record_sequence(agent_ids, input_hash, latency) ->
// Option<PromotionSuggestion>, get_promotion_candidates,
// promote_pattern). This package is built directly from spec.md §4.5's
// contract, corroborated field-for-field by those call sites
// (suggested_name, pattern.call_count). Persistence follows spec.md
// §3's "PatternRecords persist across restarts in the same index store
// as cache metadata" by sharing the cachestore.Store's *sql.DB handle
// rather than opening a second database file.
package patterns

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/repr0bated/substrate/fingerprint"
	"github.com/repr0bated/substrate/logging"
	"github.com/repr0bated/substrate/xerrors"
)

// Config controls promotion sensitivity and failure accounting.
type Config struct {
	// PromotionThreshold is the call count at which a non-promoted
	// sequence earns a PromotionSuggestion (spec §4.5 default 3).
	PromotionThreshold int
	// CountFailures includes failed pipeline runs toward call_count.
	// Spec §9 leaves this unspecified and recommends excluding failures
	// by default while exposing a flag; that default is CountFailures:
	// false.
	CountFailures bool
	// MaxLatencySamples bounds the in-memory per-sequence latency
	// window used to approximate p50_latency without an unbounded
	// history.
	MaxLatencySamples int
}

// DefaultConfig matches spec.md §4.5 ("crosses a configured threshold
// (default 3)") and the §9 failure-retention recommendation.
func DefaultConfig() Config {
	return Config{
		PromotionThreshold: 3,
		CountFailures:      false,
		MaxLatencySamples:  64,
	}
}

// PatternRecord mirrors spec.md §3's tuple:
// (sequence_id, ordered_agent_ids, call_count, last_seen, p50_latency,
// promoted_flag, promoted_name).
type PatternRecord struct {
	SequenceID    string
	AgentIDs      []string
	CallCount     int64
	LastSeen      time.Time
	P50LatencyMs  int64
	Promoted      bool
	PromotedName  string
	pending       bool
	latencySamples []int64
}

// PromotionSuggestion is emitted once call_count crosses the
// configured threshold for a non-promoted sequence. Suggestion
// emission is idempotent: at most one pending suggestion exists per
// sequence_id at a time (spec §4.5).
type PromotionSuggestion struct {
	SequenceID     string
	AgentIDs       []string
	SuggestedName  string
	CallCount      int64
	P50LatencyMs   int64
	LastSeen       time.Time
}

// Stats summarizes the tracker's current bookkeeping.
type Stats struct {
	TotalPatterns    int
	PromotedCount    int
	PendingPromotion int
}

// Tracker observes executed sequences, counts repetitions, and manages
// the idempotent set of pending promotion suggestions. In-memory counts
// are guarded by a short lock per spec §5 ("pattern tracker: in-memory
// counts guarded by a short lock; persisted asynchronously"); this
// implementation persists synchronously on the same goroutine to keep
// the store and the in-memory view from ever diverging, at the cost of
// adding the write's latency to RecordSequence's caller.
type Tracker struct {
	mu      sync.Mutex
	records map[string]*PatternRecord
	db      *sql.DB
	cfg     Config
	log     logging.Logger
	nowFn   func() time.Time
}

// New opens (or reopens) a Tracker against db, creating its schema if
// needed and recovering any PatternRecords persisted by a prior process
// (spec §3: "PatternRecords persist across restarts").
func New(db *sql.DB, cfg Config, log logging.ComponentAwareLogger) (*Tracker, error) {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	if cfg.PromotionThreshold <= 0 {
		cfg.PromotionThreshold = 3
	}
	if cfg.MaxLatencySamples <= 0 {
		cfg.MaxLatencySamples = 64
	}

	if _, err := db.Exec(schema); err != nil {
		return nil, xerrors.NewFrameworkError("patterns.New", "pattern", "", err)
	}

	t := &Tracker{
		records: make(map[string]*PatternRecord),
		db:      db,
		cfg:     cfg,
		log:     log.WithComponent("patterns"),
		nowFn:   time.Now,
	}
	if err := t.recover(); err != nil {
		return nil, err
	}
	return t, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS pattern_records (
	sequence_id TEXT PRIMARY KEY,
	agent_ids TEXT NOT NULL,
	call_count INTEGER DEFAULT 0,
	last_seen INTEGER NOT NULL,
	p50_latency_ms INTEGER DEFAULT 0,
	promoted INTEGER DEFAULT 0,
	promoted_name TEXT DEFAULT '',
	pending_suggestion INTEGER DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_pattern_promoted_name ON pattern_records(promoted_name);
`

func (t *Tracker) recover() error {
	rows, err := t.db.Query(`SELECT sequence_id, agent_ids, call_count, last_seen, p50_latency_ms, promoted, promoted_name, pending_suggestion FROM pattern_records`)
	if err != nil {
		return xerrors.NewFrameworkError("patterns.recover", "pattern", "", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seqID, agentIDsJSON, promotedName string
			callCount, lastSeen, p50           int64
			promotedInt, pendingInt            int
		)
		if err := rows.Scan(&seqID, &agentIDsJSON, &callCount, &lastSeen, &p50, &promotedInt, &promotedName, &pendingInt); err != nil {
			return xerrors.NewFrameworkError("patterns.recover", "pattern", "", err)
		}
		var agentIDs []string
		if err := json.Unmarshal([]byte(agentIDsJSON), &agentIDs); err != nil {
			return xerrors.NewFrameworkError("patterns.recover", "pattern", seqID, err)
		}
		t.records[seqID] = &PatternRecord{
			SequenceID:   seqID,
			AgentIDs:     agentIDs,
			CallCount:    callCount,
			LastSeen:     time.Unix(lastSeen, 0),
			P50LatencyMs: p50,
			Promoted:     promotedInt != 0,
			PromotedName: promotedName,
			pending:      pendingInt != 0,
		}
	}
	return rows.Err()
}

// RecordSequence observes one completed pipeline run over agentIDs and
// updates that sequence's call count. It returns a non-nil suggestion
// exactly when this call causes the sequence to newly cross the
// promotion threshold (idempotent: later calls for the same sequence
// return nil until the pending suggestion is resolved via Promote or
// Dismiss).
func (t *Tracker) RecordSequence(ctx context.Context, agentIDs []string, success bool, latencyMs int64) (*PromotionSuggestion, error) {
	if len(agentIDs) == 0 {
		return nil, nil
	}
	if !success && !t.cfg.CountFailures {
		return nil, nil
	}

	sequenceID := fingerprint.SequenceID(agentIDs)

	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sequenceID]
	if !ok {
		rec = &PatternRecord{SequenceID: sequenceID, AgentIDs: append([]string(nil), agentIDs...)}
		t.records[sequenceID] = rec
	}

	rec.CallCount++
	rec.LastSeen = t.nowFn()
	rec.latencySamples = appendBounded(rec.latencySamples, latencyMs, t.cfg.MaxLatencySamples)
	rec.P50LatencyMs = median(rec.latencySamples)

	if err := t.persistLocked(ctx, rec); err != nil {
		return nil, err
	}

	if rec.Promoted || rec.pending {
		return nil, nil
	}
	if rec.CallCount < int64(t.cfg.PromotionThreshold) {
		return nil, nil
	}

	rec.pending = true
	if err := t.persistLocked(ctx, rec); err != nil {
		return nil, err
	}

	suggestion := &PromotionSuggestion{
		SequenceID:    rec.SequenceID,
		AgentIDs:      append([]string(nil), rec.AgentIDs...),
		SuggestedName: deriveName(rec.AgentIDs),
		CallCount:     rec.CallCount,
		P50LatencyMs:  rec.P50LatencyMs,
		LastSeen:      rec.LastSeen,
	}
	t.log.Info("promotion suggestion emitted", map[string]interface{}{
		"sequence_id": rec.SequenceID,
		"name":        suggestion.SuggestedName,
		"call_count":  rec.CallCount,
	})
	return suggestion, nil
}

// PromotionCandidates lists every sequence with a pending, unresolved
// promotion suggestion (spec §6's promotion_candidates()).
func (t *Tracker) PromotionCandidates() []PromotionSuggestion {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []PromotionSuggestion
	for _, rec := range t.records {
		if rec.pending && !rec.Promoted {
			out = append(out, PromotionSuggestion{
				SequenceID:    rec.SequenceID,
				AgentIDs:      append([]string(nil), rec.AgentIDs...),
				SuggestedName: deriveName(rec.AgentIDs),
				CallCount:     rec.CallCount,
				P50LatencyMs:  rec.P50LatencyMs,
				LastSeen:      rec.LastSeen,
			})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceID < out[j].SequenceID })
	return out
}

// Promote stores sequenceID under name, making it callable directly by
// name, bypassing resolution (spec §4.5). Cache reuse continues
// unaffected since sequence_id is still a pure function of the agent
// list.
func (t *Tracker) Promote(ctx context.Context, sequenceID, name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sequenceID]
	if !ok {
		return xerrors.NewFrameworkError("patterns.Promote", "pattern", sequenceID, xerrors.ErrUnexpectedState)
	}
	rec.Promoted = true
	rec.PromotedName = name
	rec.pending = false
	return t.persistLocked(ctx, rec)
}

// Dismiss clears a pending suggestion without promoting it, allowing a
// fresh suggestion once call_count advances again under a later policy
// change (operators rejecting a suggested name, for instance).
func (t *Tracker) Dismiss(ctx context.Context, sequenceID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	rec, ok := t.records[sequenceID]
	if !ok {
		return nil
	}
	rec.pending = false
	return t.persistLocked(ctx, rec)
}

// Resolve looks up the stored agent list for a promoted workstack
// name, letting callers invoke it directly and skip the resolver
// entirely (spec §4.5).
func (t *Tracker) Resolve(name string) ([]string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, rec := range t.records {
		if rec.Promoted && rec.PromotedName == name {
			return append([]string(nil), rec.AgentIDs...), true
		}
	}
	return nil, false
}

// Stats reports tracker-wide counters for the stats CLI/API surface.
func (t *Tracker) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	var s Stats
	s.TotalPatterns = len(t.records)
	for _, rec := range t.records {
		if rec.Promoted {
			s.PromotedCount++
		}
		if rec.pending && !rec.Promoted {
			s.PendingPromotion++
		}
	}
	return s
}

func (t *Tracker) persistLocked(ctx context.Context, rec *PatternRecord) error {
	agentIDsJSON, err := json.Marshal(rec.AgentIDs)
	if err != nil {
		return xerrors.NewFrameworkError("patterns.persist", "pattern", rec.SequenceID, err)
	}
	promotedInt, pendingInt := 0, 0
	if rec.Promoted {
		promotedInt = 1
	}
	if rec.pending {
		pendingInt = 1
	}
	_, err = t.db.ExecContext(ctx, `
		INSERT INTO pattern_records
			(sequence_id, agent_ids, call_count, last_seen, p50_latency_ms, promoted, promoted_name, pending_suggestion)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(sequence_id) DO UPDATE SET
			call_count = excluded.call_count,
			last_seen = excluded.last_seen,
			p50_latency_ms = excluded.p50_latency_ms,
			promoted = excluded.promoted,
			promoted_name = excluded.promoted_name,
			pending_suggestion = excluded.pending_suggestion`,
		rec.SequenceID, string(agentIDsJSON), rec.CallCount, rec.LastSeen.Unix(),
		rec.P50LatencyMs, promotedInt, rec.PromotedName, pendingInt)
	if err != nil {
		return xerrors.NewFrameworkError("patterns.persist", "pattern", rec.SequenceID, err)
	}
	return nil
}

// deriveName builds a deterministic, human-readable workstack name from
// an ordered agent id list (spec §4.5: "derived deterministically from
// the agent id list"), e.g. ["code_analyzer","test_generator"] ->
// "code_analyzer_then_test_generator".
func deriveName(agentIDs []string) string {
	return strings.Join(agentIDs, "_then_")
}

func appendBounded(samples []int64, v int64, max int) []int64 {
	samples = append(samples, v)
	if len(samples) > max {
		samples = samples[len(samples)-max:]
	}
	return samples
}

// median returns the p50 of samples. Callers pass the window already
// bounded by Config.MaxLatencySamples; this copies before sorting so
// repeated calls never reorder the tracker's own history.
func median(samples []int64) int64 {
	if len(samples) == 0 {
		return 0
	}
	sorted := append([]int64(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
