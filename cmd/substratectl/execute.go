package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate"
	"github.com/repr0bated/substrate/pipeline"
)

var (
	executeCapabilities []string
	executeInputPath    string
	executeAgentIDs     []string
)

var executeCmd = &cobra.Command{
	Use:   "execute",
	Short: "Resolve capabilities and run the resulting sequence",
	RunE:  runExecute,
}

var executeAgentsCmd = &cobra.Command{
	Use:   "execute-agents",
	Short: "Run an explicit agent id sequence, skipping resolution",
	RunE:  runExecuteAgents,
}

func init() {
	executeCmd.Flags().StringSliceVar(&executeCapabilities, "capabilities", nil, "comma-separated capability names (required)")
	executeCmd.Flags().StringVar(&executeInputPath, "input", "", "input file path, prefixed with @ (required)")
	executeCmd.MarkFlagRequired("capabilities")
	executeCmd.MarkFlagRequired("input")

	executeAgentsCmd.Flags().StringSliceVar(&executeAgentIDs, "ids", nil, "comma-separated agent ids, in execution order (required)")
	executeAgentsCmd.Flags().StringVar(&executeInputPath, "input", "", "input file path, prefixed with @ (required)")
	executeAgentsCmd.MarkFlagRequired("ids")
	executeAgentsCmd.MarkFlagRequired("input")
}

// readInputFile resolves the conventional "@path" argument shape used by
// both execute subcommands.
func readInputFile(arg string) ([]byte, error) {
	path := strings.TrimPrefix(arg, "@")
	if path == arg {
		return nil, fmt.Errorf("--input must reference a file as @path, got %q", arg)
	}
	return os.ReadFile(path)
}

func runExecute(cmd *cobra.Command, args []string) error {
	caps, err := parseCapabilities(executeCapabilities)
	if err != nil {
		return callerError(err)
	}
	input, err := readInputFile(executeInputPath)
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

	result, err := s.Execute(context.Background(), caps, input)
	return printResult(result, err)
}

func runExecuteAgents(cmd *cobra.Command, args []string) error {
	input, err := readInputFile(executeInputPath)
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

	result, err := s.ExecuteAgents(context.Background(), executeAgentIDs, input)
	return printResult(result, err)
}

// printResult renders the envelope spec.md §6 describes: output bytes,
// step trace, cache counts, resolved agent ids, total latency, and any
// terminal error — always as one JSON document, regardless of whether
// the run itself succeeded.
func printResult(result pipeline.Result, runErr error) error {
	out := struct {
		Output         string             `json:"output"`
		Steps          []pipeline.StepResult `json:"steps"`
		CacheHits      int                `json:"cache_hits"`
		CacheMisses    int                `json:"cache_misses"`
		ResolvedAgents []string           `json:"resolved_agents"`
		TotalLatencyMs int64              `json:"total_latency_ms"`
		Error          string             `json:"error,omitempty"`
	}{
		Output:         string(result.Output),
		Steps:          result.Steps,
		CacheHits:      result.CacheHits,
		CacheMisses:    result.CacheMisses,
		ResolvedAgents: result.ResolvedAgents,
		TotalLatencyMs: result.TotalLatencyMs,
	}
	if runErr != nil {
		out.Error = runErr.Error()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		return internalError(err)
	}
	if runErr != nil {
		return callerError(runErr)
	}
	return nil
}
