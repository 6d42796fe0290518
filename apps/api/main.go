package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/contentfin/internal/clock"
	"github.com/smallbiznis/contentfin/internal/config"
	"github.com/smallbiznis/contentfin/internal/migration"
	"github.com/smallbiznis/contentfin/internal/observability"
	"github.com/smallbiznis/contentfin/internal/server"
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

		// Governance API: feedback, audit, rule resolution and recompute requests.
		server.Module,
		migration.Module,
	)
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.SnowflakeNode)
}
