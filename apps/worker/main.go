package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/audit"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/engine"
	"github.com/smallbiznis/contentfin/internal/fact"
	"github.com/smallbiznis/contentfin/internal/kpi"
	"github.com/smallbiznis/contentfin/internal/observability"
	"github.com/smallbiznis/contentfin/internal/recompute"
	"github.com/smallbiznis/contentfin/internal/rule"
	"github.com/smallbiznis/contentfin/internal/scheduler"
	"github.com/smallbiznis/contentfin/pkg/db"
	"go.uber.org/fx"
)

func main() {
	fx.New(options()).Run()
}

func options() fx.Option {
	return fx.Options(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Partition computation
		audit.Module,
		rule.Module,
		fact.Module,
		kpi.Module,
		engine.Module,
		recompute.Module,

		// No server module; the scheduler drains the recompute queue.
		scheduler.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
