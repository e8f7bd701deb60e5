// Package pipeline executes a resolved agent sequence step by step,
// probing the cache before each invocation and recording results for
// the event log and pattern tracker (spec §4.4, component E).
//
// Grounded on original_source/crates/op-cache/src/orchestrator.rs for
// the routing-by-agent-count logic, the workstack step loop (cache
// probe -> execute -> cache put), and hash_bytes/hash_sequence (now
// fingerprint.Of/fingerprint.Sequence). Per-step panic recovery is
// adapted from the teacher's orchestration/executor.go goroutine defer
// pattern (capture stack, log, convert to a failed step instead of
// crashing the run).
package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"github.com/repr0bated/substrate/cachestore"
	"github.com/repr0bated/substrate/fingerprint"
	"github.com/repr0bated/substrate/logging"
	"github.com/repr0bated/substrate/registry"
	"github.com/repr0bated/substrate/resolver"
	"github.com/repr0bated/substrate/xerrors"
)

// Config controls routing and resilience behavior.
type Config struct {
	// WorkstackThreshold is the minimum agent count that routes through
	// the cached multi-step path instead of a single direct call.
	WorkstackThreshold int
	EnableCaching      bool
	Retry              RetryConfig
	Breaker            CircuitBreakerConfig

	// NumaPinning enables best-effort NUMA-aware thread affinity for
	// the lifetime of each request (spec §4.4). Pinning failures never
	// fail the request; see numaPinner.
	NumaPinning bool
}

// DefaultConfig matches orchestrator.rs's OrchestratorConfig::default
// for the fields this package owns.
func DefaultConfig() Config {
	return Config{
		WorkstackThreshold: 2,
		EnableCaching:      true,
		Retry:              DefaultRetryConfig(),
		Breaker:            DefaultCircuitBreakerConfig(),
		NumaPinning:        false,
	}
}

// StepResult records one agent invocation within a run.
type StepResult struct {
	StepIndex  int
	AgentID    string
	LatencyMs  int64
	Cached     bool
	OutputSize int
	Err        *xerrors.StepError
}

// Result is the outcome of one pipeline run.
type Result struct {
	RunID          string
	SequenceID     string
	Output         []byte
	Steps          []StepResult
	TotalLatencyMs int64
	CacheHits      int
	CacheMisses    int
	UsedWorkstack  bool
	ResolvedAgents []string
}

// CacheHitRate returns the fraction of steps served from cache.
func (r Result) CacheHitRate() float64 {
	total := r.CacheHits + r.CacheMisses
	if total == 0 {
		return 0
	}
	return float64(r.CacheHits) / float64(total)
}

// Pipeline wires a registry, resolver, and cache store into one
// execution path.
type Pipeline struct {
	reg      *registry.Registry
	res      *resolver.Resolver
	cache    *cachestore.Store
	cfg      Config
	breakersMu sync.Mutex
	breakers   map[string]*CircuitBreaker
	log        logging.Logger
	numa       *numaPinner
}

// New creates a Pipeline. cache may be nil to disable step caching
// entirely regardless of cfg.EnableCaching.
func New(reg *registry.Registry, res *resolver.Resolver, cache *cachestore.Store, cfg Config, log logging.ComponentAwareLogger) *Pipeline {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	pipelineLog := log.WithComponent("pipeline")
	return &Pipeline{
		reg:      reg,
		res:      res,
		cache:    cache,
		cfg:      cfg,
		breakers: make(map[string]*CircuitBreaker),
		log:      pipelineLog,
		numa:     newNUMAPinner(cfg.NumaPinning, pipelineLog),
	}
}

func (p *Pipeline) breakerFor(agentID string) *CircuitBreaker {
	p.breakersMu.Lock()
	defer p.breakersMu.Unlock()

	if cb, ok := p.breakers[agentID]; ok {
		return cb
	}
	cb := NewCircuitBreaker(p.cfg.Breaker)
	p.breakers[agentID] = cb
	return cb
}

// Execute resolves req and routes to either a single direct call or
// the cached multi-step workstack path, depending on how many agents
// the resolution selected.
func (p *Pipeline) Execute(ctx context.Context, req resolver.Request) (Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	addSpanEvent(ctx, "pipeline.execute_started", attribute.String("run_id", runID))
	defer addSpanEvent(ctx, "pipeline.execute_completed", attribute.String("run_id", runID))

	unpin, node, pinned := p.numa.pin()
	defer unpin()
	if pinned {
		addSpanEvent(ctx, "pipeline.numa_pinned", attribute.Int("node", node))
	}

	seq, err := p.res.Resolve(req)
	if err != nil {
		return Result{}, err
	}

	if len(seq.Agents) == 0 {
		return Result{RunID: runID, Output: req.Input()}, nil
	}

	agentIDs := seq.AgentIDs()
	var result Result
	if len(agentIDs) >= p.cfg.workstackThreshold() {
		result, err = p.runSequence(ctx, agentIDs, req.Input(), start)
	} else {
		result, err = p.runSingle(ctx, agentIDs[0], req.Input(), start)
	}
	result.RunID = runID
	return result, err
}

// ExecuteAgents runs an explicit agent-id sequence, bypassing
// capability resolution entirely (spec §4.4's execute_agents path).
func (p *Pipeline) ExecuteAgents(ctx context.Context, agentIDs []string, input []byte) (Result, error) {
	start := time.Now()
	runID := uuid.NewString()
	addSpanEvent(ctx, "pipeline.execute_started", attribute.String("run_id", runID))
	defer addSpanEvent(ctx, "pipeline.execute_completed", attribute.String("run_id", runID))

	unpin, node, pinned := p.numa.pin()
	defer unpin()
	if pinned {
		addSpanEvent(ctx, "pipeline.numa_pinned", attribute.Int("node", node))
	}

	if len(agentIDs) == 0 {
		return Result{RunID: runID, Output: input}, nil
	}

	var result Result
	var err error
	if len(agentIDs) >= p.cfg.workstackThreshold() {
		result, err = p.runSequence(ctx, agentIDs, input, start)
	} else {
		result, err = p.runSingle(ctx, agentIDs[0], input, start)
	}
	result.RunID = runID
	return result, err
}

func (c Config) workstackThreshold() int {
	if c.WorkstackThreshold <= 0 {
		return 2
	}
	return c.WorkstackThreshold
}

func (p *Pipeline) runSingle(ctx context.Context, agentID string, input []byte, start time.Time) (Result, error) {
	stepStart := time.Now()
	output, stepErr := p.invoke(ctx, 0, agentID, input)
	latency := time.Since(stepStart).Milliseconds()

	step := StepResult{StepIndex: 0, AgentID: agentID, LatencyMs: latency, Err: stepErr}
	if stepErr == nil {
		step.OutputSize = len(output)
	}

	return Result{
		SequenceID:     fmt.Sprintf("seq-%s", fingerprint.Sequence([]string{agentID}, input)[:16]),
		Output:         output,
		Steps:          []StepResult{step},
		TotalLatencyMs: time.Since(start).Milliseconds(),
		CacheMisses:    1,
		ResolvedAgents: []string{agentID},
	}, nil
}

// runSequence executes agentIDs in order, threading each agent's
// output into the next agent's input, probing the cache before every
// invocation when caching is enabled.
func (p *Pipeline) runSequence(ctx context.Context, agentIDs []string, input []byte, start time.Time) (Result, error) {
	sequenceID := fmt.Sprintf("seq-%s", fingerprint.Sequence(agentIDs, input)[:16])

	p.log.Info("routing to multi-step sequence", map[string]interface{}{
		"sequence_id": sequenceID,
		"agent_count": len(agentIDs),
	})

	var steps []StepResult
	current := input
	var hits, misses int

	for i, agentID := range agentIDs {
		select {
		case <-ctx.Done():
			return Result{}, xerrors.NewFrameworkError("pipeline.runSequence", "execution", sequenceID, ctx.Err())
		default:
		}

		inputFingerprint := fingerprint.Of(current)
		cacheKey := fingerprint.CacheKey(sequenceID, i, inputFingerprint)

		stepStart := time.Now()
		var output []byte
		var cached bool
		var stepErr *xerrors.StepError

		if p.cfg.EnableCaching && p.cache != nil {
			if cachedOutput, hit, err := p.cache.Get(ctx, sequenceID, cacheKey); err == nil && hit {
				output, cached = cachedOutput, true
				hits++
			}
		}

		if !cached {
			misses++
			output, stepErr = p.invoke(ctx, i, agentID, current)
			if stepErr == nil && p.cfg.EnableCaching && p.cache != nil {
				p.cache.Put(ctx, sequenceID, i, inputFingerprint, cacheKey, output, 0)
			}
		}

		latency := time.Since(stepStart).Milliseconds()
		steps = append(steps, StepResult{
			StepIndex:  i,
			AgentID:    agentID,
			LatencyMs:  latency,
			Cached:     cached,
			OutputSize: len(output),
			Err:        stepErr,
		})

		if stepErr != nil {
			return Result{
				SequenceID:     sequenceID,
				Output:         current,
				Steps:          steps,
				TotalLatencyMs: time.Since(start).Milliseconds(),
				CacheHits:      hits,
				CacheMisses:    misses,
				UsedWorkstack:  true,
				ResolvedAgents: agentIDs,
			}, xerrors.NewFrameworkError("pipeline.runSequence", "execution", agentID, xerrors.ErrPhaseFailed)
		}

		current = output
	}

	return Result{
		SequenceID:     sequenceID,
		Output:         current,
		Steps:          steps,
		TotalLatencyMs: time.Since(start).Milliseconds(),
		CacheHits:      hits,
		CacheMisses:    misses,
		UsedWorkstack:  true,
		ResolvedAgents: agentIDs,
	}, nil
}

// invoke calls one agent through its circuit breaker and retry policy,
// recovering from any panic the agent's executor raises and converting
// it into a StepError instead of crashing the run.
func (p *Pipeline) invoke(ctx context.Context, stepIndex int, agentID string, input []byte) (output []byte, stepErr *xerrors.StepError) {
	addSpanEvent(ctx, "pipeline.step_started", attribute.String("agent_id", agentID), attribute.Int("step_index", stepIndex))
	defer func() {
		if r := recover(); r != nil {
			stack := string(debug.Stack())
			p.log.Error("step execution panicked", map[string]interface{}{
				"agent_id":   agentID,
				"step_index": stepIndex,
				"panic":      fmt.Sprintf("%v", r),
				"stack":      stack,
			})
			stepErr = &xerrors.StepError{
				Code:      "PANIC",
				Message:   fmt.Sprintf("agent %s panicked: %v", agentID, r),
				Category:  xerrors.CategoryExecutionFailed,
				Retryable: false,
				StepIndex: stepIndex,
			}
			output = nil
		}
	}()

	breaker := p.breakerFor(agentID)

	var result []byte
	err := breaker.Execute(func() error {
		return retry(ctx, p.cfg.Retry, func() error {
			out, execErr := p.reg.Execute(ctx, agentID, input)
			if execErr != nil {
				return execErr
			}
			result = out
			return nil
		})
	})
	if err != nil {
		return nil, toStepError(stepIndex, err)
	}
	return result, nil
}

func toStepError(stepIndex int, err error) *xerrors.StepError {
	category := xerrors.CategoryExecutionFailed
	retryable := xerrors.IsRetryable(err)
	switch {
	case err == ErrCircuitOpen:
		category = xerrors.CategoryAgentUnresponsive
	case xerrors.IsNotFound(err):
		category = xerrors.CategoryAgentNotFound
		retryable = false
	}
	return &xerrors.StepError{
		Code:      "STEP_FAILED",
		Message:   err.Error(),
		Category:  category,
		Retryable: retryable,
		StepIndex: stepIndex,
	}
}
