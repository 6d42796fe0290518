package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/observability"
	obslogger "github.com/smallbiznis/contentfin/internal/observability/logger"
)

var cfg config.Config

var rootCmd = &cobra.Command{
	Use:   "contentfin",
	Short: "Operator tooling for the content finance engine",
	Long:  "Applies migrations, seeds finance rules, recomputes KPI partitions and inspects feedback impact against the configured database.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()

		obsCfg := observability.LoadConfig(cfg)
		if _, err := obslogger.New(nil, obslogger.Config{
			ServiceName: obsCfg.ServiceName,
			Environment: obsCfg.Environment,
			Version:     obsCfg.Version,
			Level:       obsCfg.LogLevel,
			Format:      obsCfg.LogFormat,
			Debug:       obsCfg.Debug(),
		}); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
