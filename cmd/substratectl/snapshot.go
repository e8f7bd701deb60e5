package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Manage event-log state snapshots",
}

var snapshotCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Force an immediate state snapshot",
	RunE:  runSnapshotCreate,
}

var snapshotListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every snapshot currently on disk, newest first",
	RunE:  runSnapshotList,
}

var snapshotPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Apply the retention policy immediately",
	RunE:  runSnapshotPrune,
}

func init() {
	snapshotCmd.AddCommand(snapshotCreateCmd)
	snapshotCmd.AddCommand(snapshotListCmd)
	snapshotCmd.AddCommand(snapshotPruneCmd)
}

func runSnapshotCreate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	name, err := s.CreateSnapshot(context.Background())
	if err != nil {
		return internalError(err)
	}
	fmt.Println(name)
	return nil
}

func runSnapshotList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	snapshots, err := s.ListSnapshots()
	if err != nil {
		return internalError(err)
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snapshots); err != nil {
		return internalError(err)
	}
	return nil
}

func runSnapshotPrune(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	deleted, err := s.PruneSnapshots(context.Background())
	if err != nil {
		return internalError(err)
	}
	fmt.Printf("pruned %d snapshot(s)\n", deleted)
	return nil
}
