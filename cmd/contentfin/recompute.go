package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/engine"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

var recomputeCmd = &cobra.Command{
	Use:   "recompute",
	Short: "Recompute KPI partitions synchronously",
	Long:  "Computes daily metrics for one content item or all of them and prints the run summary with its data-quality report. --dry-run computes without writing.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		contentID, _ := cmd.Flags().GetString("content")
		all, _ := cmd.Flags().GetBool("all")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		contentID = strings.TrimSpace(contentID)
		if (contentID == "") == !all {
			return errors.New("exactly one of --content or --all is required")
		}

		fromFlag, _ := cmd.Flags().GetString("from")
		toFlag, _ := cmd.Flags().GetString("to")
		asOfFlag, _ := cmd.Flags().GetString("as-of")
		from, err := parseDateFlag("from", fromFlag)
		if err != nil {
			return err
		}
		to, err := parseDateFlag("to", toFlag)
		if err != nil {
			return err
		}
		asOfPtr, err := parseDateFlag("as-of", asOfFlag)
		if err != nil {
			return err
		}

		var (
			eng   *engine.Engine
			rules ruledomain.Service
			clk   clock.Clock
		)
		stop, err := startServices(ctx, &eng, &rules, &clk)
		if err != nil {
			return err
		}
		defer stop()

		asOf := clk.Now()
		if asOfPtr != nil {
			asOf = *asOfPtr
		}

		var partitions []engine.Partition
		if all {
			partitions, err = eng.AllPartitions(ctx, from, to, asOf)
		} else {
			var p engine.Partition
			p, err = eng.PartitionFor(ctx, contentID, from, to, asOf)
			partitions = []engine.Partition{p}
		}
		if err != nil {
			return fmt.Errorf("resolve partitions: %w", err)
		}

		if dryRun {
			snapshot, err := rules.Snapshot(ctx)
			if err != nil {
				return fmt.Errorf("load rule snapshot: %w", err)
			}
			results, err := eng.DryRun(ctx, partitions, asOf, snapshot)
			if err != nil {
				return fmt.Errorf("dry run: %w", err)
			}
			return printJSON(results)
		}

		summary, runErr := eng.Run(ctx, partitions, asOf)
		if err := printJSON(summary); err != nil {
			return err
		}
		if runErr != nil {
			zap.L().Error("recompute finished with failures",
				zap.String("run_id", summary.RunID),
				zap.Int("failed", summary.Failed),
				zap.Error(runErr),
			)
			return runErr
		}

		zap.L().Info("recompute finished",
			zap.String("run_id", summary.RunID),
			zap.Int("partitions", summary.Partitions),
			zap.Int("rows", summary.Rows),
		)
		return nil
	},
}

func init() {
	recomputeCmd.Flags().String("content", "", "content id to recompute")
	recomputeCmd.Flags().Bool("all", false, "recompute every content item")
	recomputeCmd.Flags().String("from", "", "first day (YYYY-MM-DD); defaults to the publish date")
	recomputeCmd.Flags().String("to", "", "last day (YYYY-MM-DD); defaults to as-of")
	recomputeCmd.Flags().String("as-of", "", "rule and fact cut-off (YYYY-MM-DD or RFC3339); defaults to now")
	recomputeCmd.Flags().Bool("dry-run", false, "compute without writing metrics")
	rootCmd.AddCommand(recomputeCmd)
}
