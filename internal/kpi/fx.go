package kpi

import (
	"github.com/smallbiznis/contentfin/internal/kpi/repository"
	"go.uber.org/fx"
)

var Module = fx.Module("kpi.writer",
	fx.Provide(repository.Provide),
)
