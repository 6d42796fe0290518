package main

import (
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/spf13/cobra"

	feedbackdomain "github.com/smallbiznis/contentfin/internal/feedback/domain"
)

var impactCmd = &cobra.Command{
	Use:   "impact",
	Short: "Recompute the impact analysis of a feedback event",
	Long:  "Re-runs the impact analysis for a stored feedback event against current rules and facts and prints it. Nothing is written.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		raw, _ := cmd.Flags().GetString("feedback")
		id, err := snowflake.ParseString(strings.TrimSpace(raw))
		if err != nil || id == 0 {
			return fmt.Errorf("--feedback: invalid id %q", raw)
		}

		var svc feedbackdomain.Service
		stop, err := startServices(ctx, &svc)
		if err != nil {
			return err
		}
		defer stop()

		analysis, err := svc.AnalyzeImpact(ctx, id)
		if err != nil {
			return fmt.Errorf("analyze impact: %w", err)
		}
		return printJSON(analysis)
	},
}

func init() {
	impactCmd.Flags().String("feedback", "", "feedback event id")
	_ = impactCmd.MarkFlagRequired("feedback")
	rootCmd.AddCommand(impactCmd)
}
