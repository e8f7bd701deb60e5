package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repr0bated/substrate"
)

var (
	promoteSequenceID string
	promoteName       string
	dismissSequenceID string
)

var promotionsCmd = &cobra.Command{
	Use:   "promotions",
	Short: "List, accept, or dismiss pending workstack promotion suggestions",
	RunE:  runPromotionsList,
}

var promotionsPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Accept a pending promotion suggestion under a workstack name",
	RunE:  runPromotionsPromote,
}

var promotionsDismissCmd = &cobra.Command{
	Use:   "dismiss",
	Short: "Dismiss a pending promotion suggestion without promoting it",
	RunE:  runPromotionsDismiss,
}

func init() {
	promotionsPromoteCmd.Flags().StringVar(&promoteSequenceID, "sequence-id", "", "pending sequence id to promote (required)")
	promotionsPromoteCmd.Flags().StringVar(&promoteName, "name", "", "workstack name to promote under (required)")
	promotionsPromoteCmd.MarkFlagRequired("sequence-id")
	promotionsPromoteCmd.MarkFlagRequired("name")

	promotionsDismissCmd.Flags().StringVar(&dismissSequenceID, "sequence-id", "", "pending sequence id to dismiss (required)")
	promotionsDismissCmd.MarkFlagRequired("sequence-id")

	promotionsCmd.AddCommand(promotionsPromoteCmd)
	promotionsCmd.AddCommand(promotionsDismissCmd)
}

func runPromotionsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	candidates := s.PromotionCandidates()
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(candidates); err != nil {
		return internalError(err)
	}
	return nil
}

func runPromotionsPromote(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	if err := s.Promote(context.Background(), promoteSequenceID, promoteName); err != nil {
		return callerError(err)
	}
	fmt.Printf("promoted %s as %q\n", promoteSequenceID, promoteName)
	return nil
}

func runPromotionsDismiss(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return internalError(err)
	}
	s, err := substrate.New(cfg)
	if err != nil {
		return internalError(err)
	}
	defer s.Close()

	if err := s.DismissPromotion(context.Background(), dismissSequenceID); err != nil {
		return callerError(err)
	}
	fmt.Printf("dismissed %s\n", dismissSequenceID)
	return nil
}
