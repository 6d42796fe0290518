package recompute

import (
	"github.com/smallbiznis/contentfin/internal/recompute/domain"
	"github.com/smallbiznis/contentfin/internal/recompute/repository"
	"github.com/smallbiznis/contentfin/internal/recompute/service"
	"go.uber.org/fx"
)

var Module = fx.Module("recompute.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(func(s domain.Service) domain.Enqueuer { return s }),
)
