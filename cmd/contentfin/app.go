package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/contentfin/internal/audit"
	"github.com/smallbiznis/contentfin/internal/authorization"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/engine"
	"github.com/smallbiznis/contentfin/internal/fact"
	"github.com/smallbiznis/contentfin/internal/feedback"
	"github.com/smallbiznis/contentfin/internal/kpi"
	"github.com/smallbiznis/contentfin/internal/lock"
	"github.com/smallbiznis/contentfin/internal/recompute"
	"github.com/smallbiznis/contentfin/internal/rule"
	"github.com/smallbiznis/contentfin/pkg/db"
)

// startServices builds the service graph without the HTTP server and fills
// targets. The returned func stops the graph.
func startServices(ctx context.Context, targets ...any) (func(), error) {
	app := fx.New(
		fx.NopLogger,
		serviceOptions(),
		fx.Populate(targets...),
	)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build services: %w", err)
	}
	if err := app.Start(ctx); err != nil {
		return nil, fmt.Errorf("start services: %w", err)
	}

	return func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Stop(stopCtx); err != nil {
			zap.L().Warn("stop services", zap.Error(err))
		}
	}, nil
}

func serviceOptions() fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Supply(zap.L()),
		fx.Provide(config.NewFinanceConfigHolder),
		fx.Provide(func() (*snowflake.Node, error) {
			return snowflake.NewNode(cfg.SnowflakeNode)
		}),
		db.Module,
		clock.Module,
		authorization.Module,
		audit.Module,
		rule.Module,
		fact.Module,
		kpi.Module,
		engine.Module,
		recompute.Module,
		lock.Module,
		feedback.Module,
	)
}

// parseDateFlag accepts YYYY-MM-DD or RFC3339. An empty value yields nil.
func parseDateFlag(name, value string) (*time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return nil, fmt.Errorf("--%s: expected YYYY-MM-DD or RFC3339, got %q", name, value)
	}
	t = t.UTC()
	return &t, nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
