package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/contentfin/internal/migration"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database migrations",
	Long:  "Applies the embedded SQL migrations on postgres, or auto-migrates the models on other dialects.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		var conn *gorm.DB
		stop, err := startServices(ctx, &conn)
		if err != nil {
			return err
		}
		defer stop()

		if err := migration.Migrate(conn); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}

		zap.L().Info("migrations applied", zap.String("dialect", conn.Dialector.Name()))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
