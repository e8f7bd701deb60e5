package registry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/repr0bated/substrate/logging"
	"github.com/repr0bated/substrate/xerrors"
)

// Priority orders agents competing for the same capability when their
// scores tie, matching agent_registry.rs's AgentPriority: lower value
// wins.
type Priority int

const (
	PriorityHigh Priority = iota
	PriorityNormal
	PriorityLow
)

// Executor invokes one agent against a byte-string input and returns
// its byte-string output. Agents are opaque to the registry; it only
// ever calls through this closure (mirrors agent_registry.rs's
// AgentExecutor type and the teacher's core.AgentExecutor-style handle).
type Executor func(ctx context.Context, input []byte) ([]byte, error)

// AgentDefinition describes one agent at registration time.
type AgentDefinition struct {
	ID           string
	Capabilities []Capability
	Requires     []Capability // capabilities this agent's own work depends on (spec §9 StrictDependencies)
	Priority     Priority
	AvgLatencyMs int64 // historical/estimated average, a term in the resolver's score and FindBestForCapability's first sort key
	Parallelizable bool // may run concurrently with other parallelizable steps in its group
	Disabled     bool
	// MaxInputSize bounds the input bytes Execute will hand to this
	// agent's executor; 0 means unbounded (spec SPEC_FULL.md §3's
	// AgentDescriptor.max_input_size, from the Rust AgentDefinition).
	MaxInputSize int64
	Execute      Executor
}

// Provides reports whether this definition lists capability c.
func (d AgentDefinition) Provides(c Capability) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// registeredAgent is the registry's internal record: the definition
// plus bookkeeping the registry itself owns.
type registeredAgent struct {
	def          AgentDefinition
	registeredAt time.Time
}

// Registry holds the set of known agents and the capability index over
// them. A single combined RWMutex guards both the agent map and the
// capability index, since spec §4.1 requires them to move together —
// the Rust original's two separate locks are a gap this port closes.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*registeredAgent
	byCap  map[string][]string // capability name -> agent ids, insertion order

	log logging.Logger
}

// New creates an empty Registry.
func New(log logging.ComponentAwareLogger) *Registry {
	if log == nil {
		log = logging.NoOpLogger{}
	}
	return &Registry{
		agents: make(map[string]*registeredAgent),
		byCap:  make(map[string][]string),
		log:    log.WithComponent("registry"),
	}
}

// Register adds a new agent. It returns ErrAlreadyRegistered if the id
// is already present — agent_registry.rs silently overwrites on
// duplicate register, which this port treats as a bug and fixes.
func (r *Registry) Register(def AgentDefinition) error {
	if def.ID == "" {
		return xerrors.NewFrameworkError("registry.Register", "agent", "", xerrors.ErrMalformedInput)
	}
	if def.Execute == nil {
		return xerrors.NewFrameworkError("registry.Register", "agent", def.ID, xerrors.ErrInvalidConfiguration)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.agents[def.ID]; exists {
		return xerrors.NewFrameworkError("registry.Register", "agent", def.ID, xerrors.ErrAlreadyRegistered)
	}

	r.agents[def.ID] = &registeredAgent{def: def, registeredAt: time.Now()}
	for _, c := range def.Capabilities {
		name := c.Name()
		r.byCap[name] = append(r.byCap[name], def.ID)
	}

	r.log.Info("agent registered", map[string]interface{}{
		"operation":    "register",
		"agent_id":     def.ID,
		"capabilities": len(def.Capabilities),
	})
	return nil
}

// Unregister removes an agent and prunes it from the capability index.
func (r *Registry) Unregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ra, ok := r.agents[id]
	if !ok {
		return xerrors.NewFrameworkError("registry.Unregister", "agent", id, xerrors.ErrAgentNotFound)
	}
	delete(r.agents, id)
	for _, c := range ra.def.Capabilities {
		name := c.Name()
		r.byCap[name] = removeString(r.byCap[name], id)
		if len(r.byCap[name]) == 0 {
			delete(r.byCap, name)
		}
	}

	r.log.Info("agent unregistered", map[string]interface{}{"operation": "unregister", "agent_id": id})
	return nil
}

// Get returns the definition for id, or ErrAgentNotFound.
func (r *Registry) Get(id string) (AgentDefinition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ra, ok := r.agents[id]
	if !ok {
		return AgentDefinition{}, xerrors.NewFrameworkError("registry.Get", "agent", id, xerrors.ErrAgentNotFound)
	}
	return ra.def, nil
}

// FindByCapability returns every enabled agent id offering capability c,
// in registration order.
func (r *Registry) FindByCapability(c Capability) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCap[c.Name()]
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if ra, ok := r.agents[id]; ok && !ra.def.Disabled {
			out = append(out, id)
		}
	}
	return out
}

// FindByCapabilities returns, for each requested capability, the set of
// agent ids that offer it (same contract as FindByCapability, batched).
func (r *Registry) FindByCapabilities(caps []Capability) map[string][]string {
	out := make(map[string][]string, len(caps))
	for _, c := range caps {
		out[c.Name()] = r.FindByCapability(c)
	}
	return out
}

// FindBestForCapability returns the single best agent id for c using
// the full tie-break chain: lowest AvgLatencyMs first, then highest
// Priority (PriorityHigh wins), then lexically smallest id. The Rust
// original (agent_registry.rs find_best_for_capability) breaks ties
// only on latency and silently returns an arbitrary agent on an exact
// tie; this port adds the full chain so the result is reproducible.
func (r *Registry) FindBestForCapability(c Capability) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := r.byCap[c.Name()]
	var candidates []*registeredAgent
	for _, id := range ids {
		if ra, ok := r.agents[id]; ok && !ra.def.Disabled {
			candidates = append(candidates, ra)
		}
	}
	if len(candidates) == 0 {
		return "", xerrors.NewFrameworkError("registry.FindBestForCapability", "capability", c.Name(), xerrors.ErrCapabilityNotFound)
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i].def, candidates[j].def
		if a.AvgLatencyMs != b.AvgLatencyMs {
			return a.AvgLatencyMs < b.AvgLatencyMs
		}
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})
	return candidates[0].def.ID, nil
}

// ListAll returns every registered agent definition, sorted by id for
// reproducible iteration.
func (r *Registry) ListAll() []AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]AgentDefinition, 0, len(r.agents))
	for _, ra := range r.agents {
		out = append(out, ra.def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ListCapabilities returns every capability name in the capability
// index, sorted, including those whose only providers are disabled.
func (r *Registry) ListCapabilities() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]string, 0, len(r.byCap))
	for name := range r.byCap {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Stats summarizes the registry's current contents.
type Stats struct {
	TotalAgents      int
	EnabledAgents    int
	TotalCapabilities int
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{TotalAgents: len(r.agents), TotalCapabilities: len(r.byCap)}
	for _, ra := range r.agents {
		if !ra.def.Disabled {
			s.EnabledAgents++
		}
	}
	return s
}

// Execute invokes agent id's executor with input. The agent's executor
// is always called outside the registry's lock, so a slow or blocking
// agent can never stall registration/lookup traffic.
func (r *Registry) Execute(ctx context.Context, id string, input []byte) ([]byte, error) {
	r.mu.RLock()
	ra, ok := r.agents[id]
	r.mu.RUnlock()

	if !ok {
		return nil, xerrors.NewFrameworkError("registry.Execute", "agent", id, xerrors.ErrAgentNotFound)
	}
	if ra.def.Disabled {
		return nil, xerrors.NewFrameworkError("registry.Execute", "agent", id, xerrors.ErrAgentDisabled)
	}
	if ra.def.MaxInputSize > 0 && int64(len(input)) > ra.def.MaxInputSize {
		return nil, xerrors.NewFrameworkError("registry.Execute", "agent", id, xerrors.ErrMalformedInput)
	}

	out, err := ra.def.Execute(ctx, input)
	if err != nil {
		return nil, xerrors.NewFrameworkError("registry.Execute", "agent", id, err)
	}
	return out, nil
}

// SetEnabled toggles whether id participates in capability lookups and
// direct execution without touching the capability index (spec §4.1:
// "disabling an agent is reversible and does not remove it from the
// index... disabling only hides; it does not remove index entries, so
// re-enabling is O(1)").
func (r *Registry) SetEnabled(id string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	ra, ok := r.agents[id]
	if !ok {
		return xerrors.NewFrameworkError("registry.SetEnabled", "agent", id, xerrors.ErrAgentNotFound)
	}
	ra.def.Disabled = !enabled

	r.log.Info("agent enabled state changed", map[string]interface{}{
		"operation": "set_enabled", "agent_id": id, "enabled": enabled,
	})
	return nil
}

func removeString(ss []string, target string) []string {
	out := ss[:0]
	for _, s := range ss {
		if s != target {
			out = append(out, s)
		}
	}
	return out
}
