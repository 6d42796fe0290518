package migration

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	auditdomain "github.com/smallbiznis/contentfin/internal/audit/domain"
	factdomain "github.com/smallbiznis/contentfin/internal/fact/domain"
	feedbackdomain "github.com/smallbiznis/contentfin/internal/feedback/domain"
	kpidomain "github.com/smallbiznis/contentfin/internal/kpi/domain"
	recomputedomain "github.com/smallbiznis/contentfin/internal/recompute/domain"
	ruledomain "github.com/smallbiznis/contentfin/internal/rule/domain"
	pkgdb "github.com/smallbiznis/contentfin/pkg/db"
	"gorm.io/gorm"
)

const migrationsDir = "migrations"

//go:embed migrations/*.sql
var embeddedMigrations embed.FS

// Models are the tables the service owns, in dependency order.
func Models() []any {
	return []any{
		&factdomain.Content{},
		&factdomain.EngagementEvent{},
		&factdomain.Cost{},
		&factdomain.RevenueEvent{},
		&factdomain.ExchangeRate{},
		&ruledomain.FinanceRule{},
		&ruledomain.RuleOverride{},
		&feedbackdomain.FeedbackEvent{},
		&auditdomain.AuditTrail{},
		&kpidomain.DailyMetric{},
		&recomputedomain.Request{},
	}
}

// Migrate applies the embedded SQL migrations on postgres. Other dialects
// are for local runs and tests and get a gorm AutoMigrate of the same tables,
// without the overlap exclusion constraint.
func Migrate(conn *gorm.DB) error {
	if conn == nil {
		return errors.New("migration database handle is required")
	}
	if !pkgdb.IsPostgres(conn) {
		return conn.AutoMigrate(Models()...)
	}
	sqlDB, err := conn.DB()
	if err != nil {
		return err
	}
	return RunMigrations(sqlDB)
}

func RunMigrations(db *sql.DB) error {
	migrator, err := newMigrator(db)
	if err != nil {
		return err
	}
	upErr := migrator.Up()
	if upErr != nil && !errors.Is(upErr, migrate.ErrNoChange) {
		return fmt.Errorf("apply migrations: %w", upErr)
	}
	// Do not call migrator.Close here because it would close the shared *sql.DB.
	return nil
}

// Version reports the applied schema version and whether it is dirty.
func Version(db *sql.DB) (uint, bool, error) {
	migrator, err := newMigrator(db)
	if err != nil {
		return 0, false, err
	}
	version, dirty, err := migrator.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func newMigrator(db *sql.DB) (*migrate.Migrate, error) {
	if db == nil {
		return nil, errors.New("migration database handle is required")
	}

	sub, err := fs.Sub(embeddedMigrations, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("open migrations: %w", err)
	}
	source, err := iofs.New(sub, ".")
	if err != nil {
		return nil, fmt.Errorf("create migration source: %w", err)
	}
	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return nil, fmt.Errorf("create migration driver: %w", err)
	}
	migrator, err := migrate.NewWithInstance("iofs", source, "postgres", driver)
	if err != nil {
		return nil, fmt.Errorf("create migrator: %w", err)
	}
	return migrator, nil
}
