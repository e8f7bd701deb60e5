// Package substrate is the public façade (component H): the stable
// entry points external collaborators call into — transport adapters,
// CLI commands, or anything else that wants to run capability
// requests through the core without touching the registry, resolver,
// cache, pipeline, pattern tracker, or event log directly.
//
// Grounded on original_source/crates/op-cache/src/orchestrator.rs's
// top-level Orchestrator struct: it owns the registry, resolver,
// cache, and pattern tracker, and exposes execute/execute_workstack_by_ids/
// stats. Unlike the teacher's own BaseAgent/Framework (an HTTP-server
// entrypoint, out of scope per spec.md §1 and deleted — see
// DESIGN.md), this façade holds the block counter, snapshot counter,
// and pattern tracker as fields owned by one struct, constructed once
// and passed by reference, never touched via package-level globals
// (spec.md §9).
package substrate

import (
	"context"
	"fmt"
	"time"

	"github.com/repr0bated/substrate/cachestore"
	"github.com/repr0bated/substrate/config"
	"github.com/repr0bated/substrate/eventlog"
	"github.com/repr0bated/substrate/fingerprint"
	"github.com/repr0bated/substrate/logging"
	"github.com/repr0bated/substrate/patterns"
	"github.com/repr0bated/substrate/pipeline"
	"github.com/repr0bated/substrate/registry"
	"github.com/repr0bated/substrate/resolver"
	"github.com/repr0bated/substrate/xerrors"
)

// maxInFlightDefault is the façade's back-pressure ceiling (spec §5:
// "a bounded queue in the façade limits the number of concurrently
// executing requests. Exceeding it yields an immediate RateLimited
// failure rather than silent queueing").
const maxInFlightDefault = 64

// Substrate wires every core component into one owner and is the only
// type external collaborators construct directly.
type Substrate struct {
	cfg      config.Config
	registry *registry.Registry
	resolver *resolver.Resolver
	cache    *cachestore.Store
	pipeline *pipeline.Pipeline
	patterns *patterns.Tracker
	log      *eventlog.Log
	logger   logging.Logger

	inFlight chan struct{}
}

// Option customizes New beyond the loaded Config.
type Option func(*options)

type options struct {
	logger       logging.ComponentAwareLogger
	maxInFlight  int
}

// WithLogger supplies a component-aware logger; every subsystem tags
// its own records via WithComponent.
func WithLogger(l logging.ComponentAwareLogger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxInFlight overrides the façade's concurrent-request ceiling.
func WithMaxInFlight(n int) Option {
	return func(o *options) { o.maxInFlight = n }
}

// New constructs a Substrate from cfg, opening the cache store and
// event log under cfg.BasePath and sharing the cache store's SQLite
// handle with the pattern tracker (spec.md §3: "PatternRecords persist
// ... in the same index store as cache metadata").
func New(cfg config.Config, opts ...Option) (*Substrate, error) {
	o := options{logger: logging.New("substrate"), maxInFlight: maxInFlightDefault}
	for _, opt := range opts {
		opt(&o)
	}
	if o.maxInFlight <= 0 {
		o.maxInFlight = maxInFlightDefault
	}

	reg := registry.New(o.logger)
	res := resolver.New(reg)

	cache, err := cachestore.Open(cfg.BasePath, cfg.CacheConfig(), o.logger)
	if err != nil {
		return nil, err
	}

	tracker, err := patterns.New(cache.DB(), cfg.PatternsConfig(), o.logger)
	if err != nil {
		cache.Close()
		return nil, err
	}

	log, err := eventlog.Open(cfg.EventLogConfig(), o.logger)
	if err != nil {
		cache.Close()
		return nil, err
	}

	pl := pipeline.New(reg, res, cache, cfg.PipelineConfig(), o.logger)

	return &Substrate{
		cfg:      cfg,
		registry: reg,
		resolver: res,
		cache:    cache,
		pipeline: pl,
		patterns: tracker,
		log:      log,
		logger:   o.logger.WithComponent("facade"),
		inFlight: make(chan struct{}, o.maxInFlight),
	}, nil
}

// RegisterAgent adds an agent to the registry, making it available to
// capability resolution and direct invocation.
func (s *Substrate) RegisterAgent(def registry.AgentDefinition) error {
	return s.registry.Register(def)
}

// SetAgentEnabled toggles an agent's enabled state without unregistering
// it — the capability index keeps its entries, so re-enabling is
// immediate (spec §4.1).
func (s *Substrate) SetAgentEnabled(id string, enabled bool) error {
	return s.registry.SetEnabled(id, enabled)
}

// acquire reserves a back-pressure slot or immediately fails with
// ErrRateLimited rather than queueing (spec §5).
func (s *Substrate) acquire() (release func(), err error) {
	select {
	case s.inFlight <- struct{}{}:
		return func() { <-s.inFlight }, nil
	default:
		return nil, xerrors.NewFrameworkError("substrate.acquire", "facade", "", xerrors.ErrRateLimited)
	}
}

// Execute is the full path: resolve capabilities to an agent sequence,
// run the pipeline, record the sequence with the pattern tracker, and
// append a block to the event log (spec §4.7).
func (s *Substrate) Execute(ctx context.Context, caps []registry.Capability, input []byte, reqOpts ...RequestOption) (pipeline.Result, error) {
	release, err := s.acquire()
	if err != nil {
		return pipeline.Result{}, err
	}
	defer release()

	req := resolver.Request{RequiredCapabilities: caps, RequestInput: input}
	for _, o := range reqOpts {
		o(&req)
	}

	result, runErr := s.pipeline.Execute(ctx, req)
	s.finishRun(ctx, input, result, runErr)
	return result, runErr
}

// Resolve runs capability resolution alone, without executing the
// resulting sequence — the substratectl `resolve` subcommand's read-only
// preview of what Execute would run (spec §4.2).
func (s *Substrate) Resolve(caps []registry.Capability, reqOpts ...RequestOption) (resolver.ResolvedSequence, error) {
	req := resolver.Request{RequiredCapabilities: caps}
	for _, o := range reqOpts {
		o(&req)
	}
	return s.resolver.Resolve(req)
}

// ExecuteAgents skips capability resolution entirely and runs an
// explicit caller-supplied agent order (spec §4.7's execute_agents).
func (s *Substrate) ExecuteAgents(ctx context.Context, agentIDs []string, input []byte) (pipeline.Result, error) {
	release, err := s.acquire()
	if err != nil {
		return pipeline.Result{}, err
	}
	defer release()

	result, runErr := s.pipeline.ExecuteAgents(ctx, agentIDs, input)
	s.finishRun(ctx, input, result, runErr)
	return result, runErr
}

// ExecuteWorkstack invokes a previously promoted sequence by its
// workstack name, bypassing the resolver entirely (spec §4.5: "skip
// the resolver entirely and go straight into the pipeline with the
// stored agent list").
func (s *Substrate) ExecuteWorkstack(ctx context.Context, name string, input []byte) (pipeline.Result, error) {
	agentIDs, ok := s.patterns.Resolve(name)
	if !ok {
		return pipeline.Result{}, xerrors.NewFrameworkError("substrate.ExecuteWorkstack", "workstack", name, xerrors.ErrUnknownAgentID)
	}
	return s.ExecuteAgents(ctx, agentIDs, input)
}

// finishRun records a completed or failed pipeline run with the
// pattern tracker and appends its block to the event log. Both are
// best-effort bookkeeping: a failure here is logged but never changes
// the result already returned to the caller, since the pipeline run
// itself already succeeded or failed on its own terms.
func (s *Substrate) finishRun(ctx context.Context, input []byte, result pipeline.Result, runErr error) {
	status := eventlog.StatusSuccess
	if runErr != nil {
		status = eventlog.StatusFailed
	}

	if len(result.ResolvedAgents) > 0 {
		if _, err := s.patterns.RecordSequence(ctx, result.ResolvedAgents, runErr == nil, result.TotalLatencyMs); err != nil {
			s.logger.Warn("pattern tracker record failed", map[string]interface{}{"error": err.Error()})
		}
	}

	block := eventlog.Block{
		SequenceID:        result.SequenceID,
		ResolvedAgentIDs:  result.ResolvedAgents,
		InputFingerprint:  fingerprint.Of(input),
		OutputFingerprint: fingerprint.Of(result.Output),
		CacheHits:         result.CacheHits,
		CacheMisses:       result.CacheMisses,
		TotalLatencyMs:    result.TotalLatencyMs,
		Status:            status,
	}
	if _, err := s.log.Append(ctx, block); err != nil {
		s.logger.Warn("event log append failed", map[string]interface{}{"error": err.Error()})
	}
}

// RequestOption customizes a resolver.Request built by Execute.
type RequestOption func(*resolver.Request)

// WithPreferredAgents biases resolution toward the given agent ids.
func WithPreferredAgents(ids ...string) RequestOption {
	return func(r *resolver.Request) { r.PreferredAgents = ids }
}

// WithExcludedAgents removes the given agent ids from consideration.
func WithExcludedAgents(ids ...string) RequestOption {
	return func(r *resolver.Request) { r.ExcludedAgents = ids }
}

// WithAllowParallel enables parallel-group identification during
// resolution (spec §4.2/§9; execution itself remains serial, see
// DESIGN.md's open-question decision).
func WithAllowParallel() RequestOption {
	return func(r *resolver.Request) { r.AllowParallel = true }
}

// WithMaxAgents caps the number of agents a single resolution may select.
func WithMaxAgents(n int) RequestOption {
	return func(r *resolver.Request) { r.MaxAgents = n }
}

// WithStrictDependencies turns on the resolver's hard-dependency check
// (spec §9's configuration toggle).
func WithStrictDependencies() RequestOption {
	return func(r *resolver.Request) { r.StrictDependencies = true }
}

// PromotionCandidates lists sequences the pattern tracker has flagged
// as frequent enough to promote, but not yet promoted (spec §4.7).
func (s *Substrate) PromotionCandidates() []patterns.PromotionSuggestion {
	return s.patterns.PromotionCandidates()
}

// Promote accepts a pending suggestion, storing sequenceID under name
// for future ExecuteWorkstack calls.
func (s *Substrate) Promote(ctx context.Context, sequenceID, name string) error {
	return s.patterns.Promote(ctx, sequenceID, name)
}

// DismissPromotion clears a pending suggestion without promoting it.
func (s *Substrate) DismissPromotion(ctx context.Context, sequenceID string) error {
	return s.patterns.Dismiss(ctx, sequenceID)
}

// Stats aggregates read-only observability data from the registry,
// resolver, cache store and pattern tracker (spec §4.7's "additional
// read-only accessors"); the event log contributes no figures.
type Stats struct {
	Registry registry.Stats
	Resolver resolver.Stats
	Cache    cachestore.Stats
	Patterns patterns.Stats
}

// Stats returns the aggregate snapshot described above.
func (s *Substrate) Stats(ctx context.Context) (Stats, error) {
	cacheStats, err := s.cache.Stats(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{
		Registry: s.registry.Stats(),
		Resolver: s.resolver.Stats(),
		Cache:    cacheStats,
		Patterns: s.patterns.Stats(),
	}, nil
}

// RecentBlocks returns up to n of the most recently appended event-log
// blocks, newest first.
func (s *Substrate) RecentBlocks(n int) ([]eventlog.Block, error) {
	return s.log.RecentBlocks(n)
}

// CreateSnapshot forces an immediate state-directory snapshot,
// independent of the configured cadence (spec §6 CLI's
// `snapshot create`).
func (s *Substrate) CreateSnapshot(ctx context.Context) (string, error) {
	return s.log.CreateSnapshot(ctx)
}

// ListSnapshots returns every snapshot currently on disk, newest first.
func (s *Substrate) ListSnapshots() ([]eventlog.SnapshotInfo, error) {
	return s.log.ListSnapshots()
}

// PruneSnapshots applies the retention policy immediately, outside the
// normal post-snapshot pruning pass.
func (s *Substrate) PruneSnapshots(ctx context.Context) (int, error) {
	return s.log.PruneSnapshots(ctx)
}

// CleanupExpiredCache reclaims every cache entry whose TTL has
// elapsed, regardless of whether it would ever be read again.
func (s *Substrate) CleanupExpiredCache(ctx context.Context) (cachestore.CleanupResult, error) {
	return s.cache.CleanupExpired(ctx)
}

// Close releases every owned resource: the cache store's database
// handle and, transitively, the pattern tracker's shared handle (spec
// §4.7's "Close() for orderly shutdown").
func (s *Substrate) Close() error {
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("substrate: close cache store: %w", err)
	}
	return nil
}

// maintainSnapshots runs CreateSnapshot on cfg.SnapshotIntervalSeconds
// cadence until ctx is cancelled. Callers that want time-based
// snapshotting (spec §4.6: "at a configured cadence... the orchestrator
// instructs the log to produce a read-only snapshot") start this in
// its own goroutine; it is not started implicitly by New so that tests
// and short-lived CLI invocations never pay for a background ticker
// they didn't ask for.
func (s *Substrate) maintainSnapshots(ctx context.Context) {
	if s.cfg.SnapshotIntervalSeconds <= 0 {
		return
	}
	ticker := time.NewTicker(time.Duration(s.cfg.SnapshotIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.log.CreateSnapshot(ctx); err != nil {
				s.logger.Warn("scheduled snapshot failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// StartSnapshotSchedule launches the cadence-based snapshot loop in a
// new goroutine and returns immediately; it stops when ctx is done.
func (s *Substrate) StartSnapshotSchedule(ctx context.Context) {
	go s.maintainSnapshots(ctx)
}
