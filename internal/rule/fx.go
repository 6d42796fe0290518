package rule

import (
	"github.com/smallbiznis/contentfin/internal/rule/repository"
	"github.com/smallbiznis/contentfin/internal/rule/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rule.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
