package main

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print aggregate observability counters across every component",
	RunE:  runStats,
}

func runStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	st, err := s.Stats(context.Background())
	if err != nil {
		return internalError(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(st); err != nil {
		return internalError(err)
	}
	return nil
}
