package main

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate"
	"github.com/repr0bated/substrate/registry"
)

var (
	registerID           string
	registerCapabilities []string
	registerCommand      string
	registerPriority     string
	registerLatencyMs    int64
	registerParallel     bool
	registerMaxInputSize int64
)

var registerAgentCmd = &cobra.Command{
	Use:   "register-agent",
	Short: "Register a shell-command-backed agent",
	Long: `Registers an agent whose executor runs an external command: request
bytes are written to the command's stdin, and its stdout becomes the
agent's output. Registration only lasts for the lifetime of the
substrate instance it's registered against. The bootstrap_agents list
in --config is loaded into the configuration, but nothing registers
agents from it.`,
	RunE: runRegisterAgent,
}

func init() {
	registerAgentCmd.Flags().StringVar(&registerID, "id", "", "unique agent id (required)")
	registerAgentCmd.Flags().StringSliceVar(&registerCapabilities, "capabilities", nil, "comma-separated capability names (required)")
	registerAgentCmd.Flags().StringVar(&registerCommand, "command", "", "shell command to invoke; input bytes are piped to its stdin (required)")
	registerAgentCmd.Flags().StringVar(&registerPriority, "priority", "normal", "high, normal, or low")
	registerAgentCmd.Flags().Int64Var(&registerLatencyMs, "latency-ms", 0, "estimated average latency, used by the resolver's scoring")
	registerAgentCmd.Flags().BoolVar(&registerParallel, "parallel", false, "mark the agent safe to run in a parallel group")
	registerAgentCmd.Flags().Int64Var(&registerMaxInputSize, "max-input-size", 0, "reject input larger than this many bytes (0 = unbounded)")
	registerAgentCmd.MarkFlagRequired("id")
	registerAgentCmd.MarkFlagRequired("capabilities")
	registerAgentCmd.MarkFlagRequired("command")
}

func runRegisterAgent(cmd *cobra.Command, args []string) error {
	caps := make([]registry.Capability, 0, len(registerCapabilities))
	for _, name := range registerCapabilities {
		c, ok := registry.ParseCapability(name)
		if !ok {
			return callerError(fmt.Errorf("unrecognized capability %q", name))
		}
		caps = append(caps, c)
	}

	priority, ok := parsePriority(registerPriority)
	if !ok {
		return callerError(fmt.Errorf("unrecognized priority %q (want high, normal, or low)", registerPriority))
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

	def := registry.AgentDefinition{
		ID:             registerID,
		Capabilities:   caps,
		Priority:       priority,
		AvgLatencyMs:   registerLatencyMs,
		Parallelizable: registerParallel,
		MaxInputSize:   registerMaxInputSize,
		Execute:        shellExecutor(registerCommand),
	}
	if err := s.RegisterAgent(def); err != nil {
		return callerError(err)
	}

	fmt.Printf("registered agent %q with capabilities [%s]\n", registerID, strings.Join(registerCapabilities, ", "))
	return nil
}

func parsePriority(s string) (registry.Priority, bool) {
	switch strings.ToLower(s) {
	case "high":
		return registry.PriorityHigh, true
	case "normal", "":
		return registry.PriorityNormal, true
	case "low":
		return registry.PriorityLow, true
	default:
		return 0, false
	}
}

// shellExecutor wraps commandLine as a registry.Executor: input is piped
// to the subprocess's stdin, and its stdout is returned as output. A
// non-zero exit is surfaced as an error, matching spec §7's
// ExecutionFailed category.
func shellExecutor(commandLine string) registry.Executor {
	return func(ctx context.Context, input []byte) ([]byte, error) {
		cmd := exec.CommandContext(ctx, "sh", "-c", commandLine)
		cmd.Stdin = bytes.NewReader(input)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
		if err := cmd.Run(); err != nil {
			return nil, fmt.Errorf("command %q failed: %w: %s", commandLine, err, stderr.String())
		}
		return stdout.Bytes(), nil
	}
}
