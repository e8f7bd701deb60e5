package substrate

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repr0bated/substrate/config"
	"github.com/repr0bated/substrate/registry"
)

func newTestSubstrate(t *testing.T) *Substrate {
	t.Helper()
	cfg := config.Default()
	cfg.BasePath = t.TempDir()
	cfg.PromotionThreshold = 3
	s, err := New(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func echoAgent(suffix string) registry.Executor {
	return func(_ context.Context, input []byte) ([]byte, error) {
		return append(append([]byte{}, input...), []byte(suffix)...), nil
	}
}

// TestSingleCapabilityResolution matches spec.md §8 scenario 1.
func TestSingleCapabilityResolution(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{
		ID:           "analyzer",
		Capabilities: []registry.Capability{registry.CodeAnalysis},
		AvgLatencyMs: 50,
		Execute:      echoAgent(""),
	}))

	result, err := s.Execute(context.Background(), []registry.Capability{registry.CodeAnalysis}, []byte("test"))
	require.NoError(t, err)
	assert.Equal(t, "test", string(result.Output))
	assert.False(t, result.UsedWorkstack, "expected single-agent path to bypass the cached pipeline")
	assert.Equal(t, 1, result.CacheMisses)
	assert.Equal(t, 0, result.CacheHits)
}

// TestMissingCapabilityReturnsInputUnchanged matches spec.md §8 scenario 3.
func TestMissingCapabilityReturnsInputUnchanged(t *testing.T) {
	s := newTestSubstrate(t)

	result, err := s.Execute(context.Background(), []registry.Capability{registry.Embedding}, []byte("unchanged"))
	require.NoError(t, err)
	assert.Equal(t, "unchanged", string(result.Output), "expected input passed through unchanged")
	assert.Equal(t, 0, result.CacheHits)
	assert.Equal(t, 0, result.CacheMisses)
}

// TestCacheHitOnSecondRun matches spec.md §8 scenario 4.
func TestCacheHitOnSecondRun(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "analyzer", Capabilities: []registry.Capability{registry.CodeAnalysis}, Execute: echoAgent("-a")}))
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "tester", Capabilities: []registry.Capability{registry.TestGeneration}, Execute: echoAgent("-t")}))

	ctx := context.Background()
	first, err := s.ExecuteAgents(ctx, []string{"analyzer", "tester"}, []byte("code"))
	require.NoError(t, err, "first run failed")
	assert.Equal(t, 0, first.CacheHits)
	assert.Equal(t, 2, first.CacheMisses)

	second, err := s.ExecuteAgents(ctx, []string{"analyzer", "tester"}, []byte("code"))
	require.NoError(t, err, "second run failed")
	assert.Equal(t, 2, second.CacheHits)
	assert.Equal(t, 0, second.CacheMisses)
	assert.Equal(t, first.Output, second.Output, "expected byte-identical output across runs")
}

// TestExcludedAgentYieldsMissingCapability matches spec.md §8 scenario 5.
func TestExcludedAgentYieldsMissingCapability(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "analyzer", Capabilities: []registry.Capability{registry.CodeAnalysis}, Execute: echoAgent("")}))

	result, err := s.Execute(context.Background(), []registry.Capability{registry.CodeAnalysis}, []byte("x"), WithExcludedAgents("analyzer"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(result.Output), "expected passthrough when the only provider is excluded")
}

// TestPromotionAfterThreshold matches spec.md §8 scenario 6.
func TestPromotionAfterThreshold(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "agent_a", Capabilities: []registry.Capability{registry.CodeAnalysis}, Execute: echoAgent("-a")}))
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "agent_b", Capabilities: []registry.Capability{registry.TestGeneration}, Execute: echoAgent("-b")}))

	ctx := context.Background()
	inputs := [][]byte{[]byte("one"), []byte("two"), []byte("three")}
	for _, in := range inputs {
		_, err := s.ExecuteAgents(ctx, []string{"agent_a", "agent_b"}, in)
		require.NoError(t, err)
	}

	candidates := s.PromotionCandidates()
	require.Len(t, candidates, 1)
	assert.Equal(t, "agent_a_then_agent_b", candidates[0].SuggestedName)
}

// TestPromoteThenExecuteByName exercises the full promote -> invoke by
// name path (spec §4.5): after promotion, ExecuteWorkstack must run
// the stored sequence without the caller supplying capabilities again.
func TestPromoteThenExecuteByName(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "agent_a", Capabilities: []registry.Capability{registry.CodeAnalysis}, Execute: echoAgent("-a")}))
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "agent_b", Capabilities: []registry.Capability{registry.TestGeneration}, Execute: echoAgent("-b")}))

	ctx := context.Background()
	for _, in := range [][]byte{[]byte("one"), []byte("two"), []byte("three")} {
		_, err := s.ExecuteAgents(ctx, []string{"agent_a", "agent_b"}, in)
		require.NoError(t, err)
	}

	candidates := s.PromotionCandidates()
	require.Len(t, candidates, 1)
	must(t, s.Promote(ctx, candidates[0].SequenceID, "analyze_and_test"))

	result, err := s.ExecuteWorkstack(ctx, "analyze_and_test", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "payload-a-b", string(result.Output), "expected promoted sequence to run both agents")
}

// TestBackPressureRateLimits confirms the façade's bounded in-flight
// queue fails fast instead of queueing (spec §5).
func TestBackPressureRateLimits(t *testing.T) {
	cfg := config.Default()
	cfg.BasePath = t.TempDir()
	s, err := New(cfg, WithMaxInFlight(1))
	require.NoError(t, err)
	defer s.Close()

	release, err := s.acquire()
	require.NoError(t, err, "first acquire should succeed")
	defer release()

	_, err = s.acquire()
	assert.Error(t, err, "expected second acquire to fail fast under the in-flight cap")
}

func TestRecentBlocksRecordsEveryRun(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "analyzer", Capabilities: []registry.Capability{registry.CodeAnalysis}, Execute: echoAgent("")}))

	ctx := context.Background()
	_, err := s.Execute(ctx, []registry.Capability{registry.CodeAnalysis}, []byte("x"))
	require.NoError(t, err)

	blocks, err := s.RecentBlocks(10)
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	assert.Equal(t, "Success", string(blocks[0].Status))
}

// TestSetAgentEnabledHidesAgentFromResolution matches spec.md §4.1's
// reversible enable/disable toggle surfaced through the façade.
func TestSetAgentEnabledHidesAgentFromResolution(t *testing.T) {
	s := newTestSubstrate(t)
	must(t, s.RegisterAgent(registry.AgentDefinition{ID: "analyzer", Capabilities: []registry.Capability{registry.CodeAnalysis}, Execute: echoAgent("")}))

	must(t, s.SetAgentEnabled("analyzer", false))
	result, err := s.Execute(context.Background(), []registry.Capability{registry.CodeAnalysis}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(result.Output), "expected passthrough while the only provider is disabled")

	must(t, s.SetAgentEnabled("analyzer", true))
	result, err = s.Execute(context.Background(), []registry.Capability{registry.CodeAnalysis}, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, "x", string(result.Output))
	assert.False(t, result.UsedWorkstack, "expected single-agent path once re-enabled")
}

func must(t *testing.T, err error) {
	t.Helper()
	require.NoError(t, err)
}
