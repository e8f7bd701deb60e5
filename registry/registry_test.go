package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repr0bated/substrate/xerrors"
)

func echoExecutor(ctx context.Context, input []byte) ([]byte, error) {
	return input, nil
}

func mustRegister(t *testing.T, r *Registry, def AgentDefinition) {
	t.Helper()
	require.NoError(t, r.Register(def), "Register(%s)", def.ID)
}

func TestRegisterDuplicateRejected(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor})

	err := r.Register(AgentDefinition{ID: "a1", Capabilities: []Capability{SecurityAudit}, Execute: echoExecutor})
	assert.ErrorIs(t, err, xerrors.ErrAlreadyRegistered)
}

func TestRegisterRejectsMissingExecutor(t *testing.T) {
	r := New(nil)
	err := r.Register(AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}})
	assert.Error(t, err, "expected error for missing executor")
}

func TestUnregisterPrunesCapabilityIndex(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor})

	require.NoError(t, r.Unregister("a1"))
	assert.Empty(t, r.FindByCapability(CodeAnalysis), "expected no agents for CodeAnalysis after unregister")
	assert.Empty(t, r.ListCapabilities(), "expected capability index fully pruned")
}

func TestUnregisterUnknownAgent(t *testing.T) {
	r := New(nil)
	err := r.Unregister("ghost")
	assert.ErrorIs(t, err, xerrors.ErrAgentNotFound)
}

func TestFindByCapabilityExcludesDisabled(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "enabled", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor})
	mustRegister(t, r, AgentDefinition{ID: "disabled", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor, Disabled: true})

	ids := r.FindByCapability(CodeAnalysis)
	assert.Equal(t, []string{"enabled"}, ids)
}

func TestFindBestForCapabilityTieBreakChain(t *testing.T) {
	r := New(nil)
	// Same latency, different priority: lower Priority value wins.
	mustRegister(t, r, AgentDefinition{ID: "normal", Capabilities: []Capability{CodeAnalysis}, AvgLatencyMs: 100, Priority: PriorityNormal, Execute: echoExecutor})
	mustRegister(t, r, AgentDefinition{ID: "high", Capabilities: []Capability{CodeAnalysis}, AvgLatencyMs: 100, Priority: PriorityHigh, Execute: echoExecutor})

	best, err := r.FindBestForCapability(CodeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "high", best, "expected high-priority agent to win tie on latency")
}

func TestFindBestForCapabilityPrefersLowerLatency(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "slow", Capabilities: []Capability{CodeAnalysis}, AvgLatencyMs: 500, Priority: PriorityHigh, Execute: echoExecutor})
	mustRegister(t, r, AgentDefinition{ID: "fast", Capabilities: []Capability{CodeAnalysis}, AvgLatencyMs: 10, Priority: PriorityLow, Execute: echoExecutor})

	best, err := r.FindBestForCapability(CodeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "fast", best, "expected lowest-latency agent to win regardless of priority")
}

func TestFindBestForCapabilityLexicalTieBreak(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "zeta", Capabilities: []Capability{CodeAnalysis}, AvgLatencyMs: 50, Priority: PriorityNormal, Execute: echoExecutor})
	mustRegister(t, r, AgentDefinition{ID: "alpha", Capabilities: []Capability{CodeAnalysis}, AvgLatencyMs: 50, Priority: PriorityNormal, Execute: echoExecutor})

	best, err := r.FindBestForCapability(CodeAnalysis)
	require.NoError(t, err)
	assert.Equal(t, "alpha", best, "expected lexically smallest id to win full tie")
}

func TestFindBestForCapabilityNotFound(t *testing.T) {
	r := New(nil)
	_, err := r.FindBestForCapability(SecurityAudit)
	assert.ErrorIs(t, err, xerrors.ErrCapabilityNotFound)
}

func TestExecuteRejectsDisabledAgent(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor, Disabled: true})

	_, err := r.Execute(context.Background(), "a1", []byte("x"))
	assert.ErrorIs(t, err, xerrors.ErrAgentDisabled)
}

func TestExecuteRoundTrip(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor})

	out, err := r.Execute(context.Background(), "a1", []byte("payload"))
	require.NoError(t, err)
	assert.Equal(t, "payload", string(out))
}

func TestParseCapabilitySynonyms(t *testing.T) {
	c, ok := ParseCapability("security")
	require.True(t, ok, "expected synonym 'security' to resolve")
	assert.Equal(t, SecurityAudit, c)
}

func TestParseCapabilityCustomRoundTrip(t *testing.T) {
	c, ok := ParseCapability("custom:42")
	require.True(t, ok, "expected custom:42 to parse")
	assert.Equal(t, "custom:42", c.Name())
}

func TestCapabilityOrdinalOrder(t *testing.T) {
	assert.True(t, CodeAnalysis.Less(SecurityAudit), "expected CodeAnalysis to precede SecurityAudit in declaration order")
	assert.False(t, SecurityAudit.Less(CodeAnalysis), "ordering must not be symmetric")
}

func TestSetEnabledRoundTripsWithoutTouchingIndex(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor})

	require.NoError(t, r.SetEnabled("a1", false))
	assert.Empty(t, r.FindByCapability(CodeAnalysis), "disabled agent must disappear from lookups")
	assert.Equal(t, []string{"code_analysis"}, r.ListCapabilities(), "capability index entry must survive disabling")

	require.NoError(t, r.SetEnabled("a1", true))
	assert.Equal(t, []string{"a1"}, r.FindByCapability(CodeAnalysis), "re-enabling must restore lookups")
}

func TestSetEnabledUnknownAgent(t *testing.T) {
	r := New(nil)
	err := r.SetEnabled("ghost", true)
	assert.ErrorIs(t, err, xerrors.ErrAgentNotFound)
}

func TestExecuteRejectsOversizedInput(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor, MaxInputSize: 4})

	_, err := r.Execute(context.Background(), "a1", []byte("toolong"))
	assert.ErrorIs(t, err, xerrors.ErrMalformedInput)
}

func TestExecuteAllowsInputAtMaxSize(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor, MaxInputSize: 4})

	out, err := r.Execute(context.Background(), "a1", []byte("four"))
	require.NoError(t, err)
	assert.Equal(t, "four", string(out))
}

func TestStatsCountsEnabledSeparately(t *testing.T) {
	r := New(nil)
	mustRegister(t, r, AgentDefinition{ID: "a1", Capabilities: []Capability{CodeAnalysis}, Execute: echoExecutor})
	mustRegister(t, r, AgentDefinition{ID: "a2", Capabilities: []Capability{SecurityAudit}, Execute: echoExecutor, Disabled: true})

	s := r.Stats()
	assert.Equal(t, 2, s.TotalAgents)
	assert.Equal(t, 1, s.EnabledAgents)
}
