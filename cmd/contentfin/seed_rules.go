package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smallbiznis/contentfin/internal/config"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
)

var seedRulesCmd = &cobra.Command{
	Use:   "seed-rules",
	Short: "Seed default finance rules from the finance config",
	Long:  "Creates the default rule of every rule type that has none yet. Existing defaults are left untouched.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var (
			rules   ruledomain.Service
			finance *config.FinanceConfigHolder
		)
		stop, err := startServices(ctx, &rules, &finance)
		if err != nil {
			return err
		}
		defer stop()

		financeCfg := finance.Get()
		if err := rules.SeedDefaults(ctx, financeCfg); err != nil {
			return fmt.Errorf("seed rules: %w", err)
		}

		zap.L().Info("default rules seeded",
			zap.String("amortization_method", financeCfg.DefaultAmortizationMethod),
			zap.String("attribution_model", financeCfg.DefaultAttributionModel),
		)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(seedRulesCmd)
}
