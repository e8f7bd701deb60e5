// Command substratectl is the CLI surface of spec.md §6: a thin cobra
// wrapper over the substrate façade, one persistent instance opened per
// invocation and closed before exit.
//
// Grounded on teradata-labs-loom's cmd/looms (root.go's persistent-flag
// setup, cobra.OnInitialize) and cmd/loom/main.go (the single rootCmd +
// os.Exit(code) pattern at the bottom of main). Unlike looms, this CLI
// talks to an in-process façade rather than a gRPC server, so there is
// no client/dial step — each subcommand opens the substrate directly
// against --base-path, runs its one operation, and closes it.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate/config"
)

var (
	cfgFile  string
	basePath string
)

// exitError carries the caller-error/internal-error distinction spec.md
// §6 requires (exit code 1 vs 2) through cobra's single RunE error
// return.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func callerError(err error) error   { return &exitError{code: 1, err: err} }
func internalError(err error) error { return &exitError{code: 2, err: err} }

var rootCmd = &cobra.Command{
	Use:   "substratectl",
	Short: "Operate an agent-orchestration substrate instance",
	Long: `substratectl drives a substrate instance from the command line:
register agents, resolve capabilities, run requests, inspect promotion
candidates, and manage event-log snapshots.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a substrate config YAML file")
	rootCmd.PersistentFlags().StringVar(&basePath, "base-path", "", "override the configured base data directory")

	rootCmd.AddCommand(registerAgentCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(executeAgentsCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(promotionsCmd)
	rootCmd.AddCommand(snapshotCmd)
}

// loadConfig layers --config under the standard three-layer priority and
// applies --base-path last, since an explicit flag always outranks both
// the file and the environment.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return config.Config{}, err
	}
	if basePath != "" {
		cfg.BasePath = basePath
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		// Every RunE wraps its own errors in exitError; anything else
		// comes from cobra itself (unknown command or flag, missing
		// required flag, bad arguments) and is a caller error.
		code := 1
		if e, ok := err.(*exitError); ok {
			code = e.code
		}
		fmt.Fprintf(os.Stderr, "substratectl: %v\n", err)
		os.Exit(code)
	}
}
