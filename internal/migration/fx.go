package migration

import (
	"context"

	"github.com/smallbiznis/contentfin/internal/config"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module migrates the schema and seeds the default finance rules on startup
// when DATABASE_RUN_MIGRATIONS is set.
var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, rules ruledomain.Service, finance *config.FinanceConfigHolder, log *zap.Logger) error {
		if !cfg.RunMigrations {
			log.Info("schema migrations skipped")
			return nil
		}
		if err := Migrate(conn); err != nil {
			return err
		}
		return rules.SeedDefaults(context.Background(), finance.Get())
	}),
)
