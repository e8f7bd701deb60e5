package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate"
	"github.com/repr0bated/substrate/registry"
)

var resolveCapabilities []string

var resolveCmd = &cobra.Command{
	Use:   "resolve",
	Short: "Preview the agent sequence a capability request would resolve to",
	RunE:  runResolve,
}

func init() {
	resolveCmd.Flags().StringSliceVar(&resolveCapabilities, "capabilities", nil, "comma-separated capability names (required)")
	resolveCmd.MarkFlagRequired("capabilities")
}

func runResolve(cmd *cobra.Command, args []string) error {
	caps, err := parseCapabilities(resolveCapabilities)
	if err != nil {
		return callerError(err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	seq, err := s.Resolve(caps)
	if err != nil {
		return callerError(err)
	}

	out := struct {
		AgentIDs           []string `json:"agent_ids"`
		MissingCapabilities []string `json:"missing_capabilities"`
		EstimatedLatencyMs int64    `json:"estimated_latency_ms"`
		ResolutionPath     []string `json:"resolution_path"`
	}{
		AgentIDs:           seq.AgentIDs(),
		EstimatedLatencyMs: seq.EstimatedLatencyMs,
		ResolutionPath:     seq.ResolutionPath,
	}
	for c := range seq.MissingCapabilities {
		out.MissingCapabilities = append(out.MissingCapabilities, c.Name())
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return internalError(err)
	}
	return nil
}

func parseCapabilities(names []string) ([]registry.Capability, error) {
	caps := make([]registry.Capability, 0, len(names))
	for _, name := range names {
		c, ok := registry.ParseCapability(name)
		if !ok {
			return nil, fmt.Errorf("unrecognized capability %q", name)
		}
		caps = append(caps, c)
	}
	return caps, nil
}
