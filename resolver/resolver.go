// Package resolver maps a set of required capabilities to an ordered
// sequence of agents (spec §4.2, component C).
//
// Grounded on original_source/crates/op-cache/src/capability_resolver.rs:
// the greedy per-capability selection loop, the scoring formula, and
// the parallel-group construction are ported line-for-line in spirit.
// Two gaps in the Rust original are fixed here, both documented in
// DESIGN.md: the scoring sort has no final tiebreak (two agents with
// an identical score resolve nondeterministically depending on sort
// stability) and requires_capability is recorded on AgentDefinition
// but never checked by the resolver at all.
package resolver

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/repr0bated/substrate/registry"
	"github.com/repr0bated/substrate/xerrors"
)

// Request describes one capability-resolution request.
type Request struct {
	RequiredCapabilities []registry.Capability
	PreferredAgents       []string
	ExcludedAgents        []string
	AllowParallel         bool
	MaxAgents             int // 0 means "use the default of 10"

	// RequestInput is the payload the resolved sequence will run
	// against once the pipeline executes it. The resolver itself never
	// reads it; it's carried on the request so callers can build one
	// value and hand it straight to pipeline.Execute.
	RequestInput []byte

	// StrictDependencies turns each agent's Requires list into a hard
	// dependency: if an agent is selected but a capability it requires
	// is not provided by an agent earlier in the returned (priority-
	// sorted) order, resolution
	// fails with ErrDependencyFailed instead of silently ignoring the
	// requirement (spec §9 open question, resolved; default false to
	// match the Rust original's observed behavior exactly).
	StrictDependencies bool
}

// Input returns the request's payload bytes.
func (r Request) Input() []byte {
	return r.RequestInput
}

func (r Request) maxAgents() int {
	if r.MaxAgents <= 0 {
		return 10
	}
	return r.MaxAgents
}

// ResolvedSequence is the output of Resolve.
type ResolvedSequence struct {
	Agents                []registry.AgentDefinition
	FulfilledCapabilities map[registry.Capability]bool
	MissingCapabilities   map[registry.Capability]bool
	EstimatedLatencyMs    int64
	ParallelGroups        [][]string
	ResolutionPath        []string
}

// AgentIDs returns the selected agents' ids in execution order.
func (s ResolvedSequence) AgentIDs() []string {
	ids := make([]string, len(s.Agents))
	for i, a := range s.Agents {
		ids[i] = a.ID
	}
	return ids
}

// IsComplete reports whether every requested capability was fulfilled.
func (s ResolvedSequence) IsComplete() bool {
	return len(s.MissingCapabilities) == 0
}

// Resolver turns capability requests into agent sequences.
type Resolver struct {
	reg *registry.Registry
}

// New creates a Resolver backed by reg.
func New(reg *registry.Registry) *Resolver {
	return &Resolver{reg: reg}
}

// Resolve implements the greedy capability-coverage algorithm: walk the
// requested capabilities in order, and for each one not already covered
// by a previously selected agent, pick the best remaining candidate by
// score. Selecting an agent may cover multiple requested capabilities
// at once (an agent offering several capabilities satisfies all of them
// the moment it's chosen), so later iterations of the loop frequently
// short-circuit on the "already fulfilled" check.
func (r *Resolver) Resolve(req Request) (ResolvedSequence, error) {
	if len(req.RequiredCapabilities) == 0 {
		return ResolvedSequence{
			FulfilledCapabilities: map[registry.Capability]bool{},
			MissingCapabilities:   map[registry.Capability]bool{},
			ResolutionPath:        []string{"empty_request"},
		}, nil
	}

	candidates := r.buildCandidatePool(req)

	var path []string
	path = append(path, "candidates:"+strconv.Itoa(len(candidates)))

	required := map[registry.Capability]bool{}
	for _, c := range req.RequiredCapabilities {
		required[c] = true
	}

	var selected []registry.AgentDefinition
	fulfilled := map[registry.Capability]bool{}

	for _, cap := range req.RequiredCapabilities {
		if fulfilled[cap] {
			continue
		}

		agent, ok := r.selectBestAgent(candidates, cap, selected, req)
		if !ok {
			path = append(path, "no_agent_for:"+cap.Name())
			continue
		}

		path = append(path, "select:"+cap.Name()+"->"+agent.ID)
		for _, provided := range agent.Capabilities {
			fulfilled[provided] = true
		}
		selected = append(selected, agent)

		if len(selected) >= req.maxAgents() {
			path = append(path, "max_agents_reached")
			break
		}
	}

	sortByPriority(selected)

	if req.StrictDependencies {
		if err := checkDependencies(selected); err != nil {
			return ResolvedSequence{}, err
		}
	}

	missing := map[registry.Capability]bool{}
	for c := range required {
		if !fulfilled[c] {
			missing[c] = true
		}
	}

	var latency int64
	for _, a := range selected {
		latency += a.AvgLatencyMs
	}

	var groups [][]string
	if req.AllowParallel {
		groups = buildParallelGroups(selected)
	}

	return ResolvedSequence{
		Agents:                selected,
		FulfilledCapabilities: fulfilled,
		MissingCapabilities:   missing,
		EstimatedLatencyMs:    latency,
		ParallelGroups:        groups,
		ResolutionPath:        path,
	}, nil
}

func (r *Resolver) buildCandidatePool(req Request) []registry.AgentDefinition {
	seen := map[string]bool{}
	var out []registry.AgentDefinition
	for _, cap := range req.RequiredCapabilities {
		for _, id := range r.reg.FindByCapability(cap) {
			if seen[id] {
				continue
			}
			seen[id] = true
			if contains(req.ExcludedAgents, id) {
				continue
			}
			def, err := r.reg.Get(id)
			if err != nil || def.Disabled {
				continue
			}
			out = append(out, def)
		}
	}
	return out
}

// selectBestAgent scores every not-yet-selected candidate providing cap
// and returns the highest scorer, with a final lexical-id tiebreak so
// the choice never depends on map/slice iteration order.
func (r *Resolver) selectBestAgent(candidates []registry.AgentDefinition, cap registry.Capability, already []registry.AgentDefinition, req Request) (registry.AgentDefinition, bool) {
	selectedIDs := map[string]bool{}
	for _, a := range already {
		selectedIDs[a.ID] = true
	}

	var viable []registry.AgentDefinition
	for _, a := range candidates {
		if !a.Provides(cap) || selectedIDs[a.ID] {
			continue
		}
		viable = append(viable, a)
	}
	if len(viable) == 0 {
		return registry.AgentDefinition{}, false
	}

	scores := make(map[string]int64, len(viable))
	for _, a := range viable {
		scores[a.ID] = score(a, req)
	}

	sort.Slice(viable, func(i, j int) bool {
		si, sj := scores[viable[i].ID], scores[viable[j].ID]
		if si != sj {
			return si > sj
		}
		return viable[i].ID < viable[j].ID
	})

	return viable[0], true
}

// score implements capability_resolver.rs's weighted scoring formula.
// Higher is better: +100 per requested capability the agent also
// provides, -1 per 10ms of estimated latency, +500 if preferred,
// -50 per priority step (PriorityHigh=0 so high priority scores best),
// +25 if parallelizable and the request allows parallel execution.
func score(a registry.AgentDefinition, req Request) int64 {
	var s int64

	var providedRequired int64
	for _, c := range a.Capabilities {
		for _, rc := range req.RequiredCapabilities {
			if c == rc {
				providedRequired++
				break
			}
		}
	}
	s += providedRequired * 100

	s -= a.AvgLatencyMs / 10

	if contains(req.PreferredAgents, a.ID) {
		s += 500
	}

	s -= int64(a.Priority) * 50

	if req.AllowParallel && a.Parallelizable {
		s += 25
	}

	return s
}

// sortByPriority stable-sorts selected agents by Priority ascending
// (PriorityHigh first), preserving selection order among equal
// priorities. This matches capability_resolver.rs's sort_agents, whose
// doc comment flags the missing topological pass as a TODO; this port
// leaves that simple priority sort as-is and instead enforces ordering
// correctness via StrictDependencies when the caller opts in.
func sortByPriority(agents []registry.AgentDefinition) {
	sort.SliceStable(agents, func(i, j int) bool {
		return agents[i].Priority < agents[j].Priority
	})
}

// checkDependencies verifies every selected agent's Requires list is
// satisfied by a capability some earlier agent in the selection
// provides; an agent's own capabilities do not satisfy its Requires. Spec §9's StrictDependencies option. The error's
// ID names both the offending agent and the missing capability
// (SPEC_FULL.md §4.2: "carrying the offending agent id and missing
// capability").
func checkDependencies(agents []registry.AgentDefinition) error {
	available := map[registry.Capability]bool{}
	for _, a := range agents {
		for _, req := range a.Requires {
			if !available[req] {
				id := fmt.Sprintf("%s requires %s", a.ID, req.Name())
				return xerrors.NewFrameworkError("resolver.Resolve", "dependency", id, xerrors.ErrDependencyFailed)
			}
		}
		for _, c := range a.Capabilities {
			available[c] = true
		}
	}
	return nil
}

// buildParallelGroups collapses consecutive runs of parallelizable
// agents into one group each; a non-parallelizable agent is always its
// own singleton group. Matches capability_resolver.rs's
// build_parallel_groups.
func buildParallelGroups(agents []registry.AgentDefinition) [][]string {
	var groups [][]string
	var current []string

	for _, a := range agents {
		if a.Parallelizable {
			current = append(current, a.ID)
			continue
		}
		if len(current) > 0 {
			groups = append(groups, current)
			current = nil
		}
		groups = append(groups, []string{a.ID})
	}
	if len(current) > 0 {
		groups = append(groups, current)
	}
	return groups
}

// Stats summarizes the resolver's backing registry.
type Stats struct {
	AvailableAgents       int
	AvailableCapabilities int
}

func (r *Resolver) Stats() Stats {
	s := r.reg.Stats()
	return Stats{AvailableAgents: s.EnabledAgents, AvailableCapabilities: s.TotalCapabilities}
}

func contains(ss []string, target string) bool {
	for _, s := range ss {
		if s == target {
			return true
		}
	}
	return false
}
