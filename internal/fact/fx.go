package fact

import (
	"github.com/smallbiznis/contentfin/internal/fact/repository"
	"github.com/smallbiznis/contentfin/internal/fact/service"
	"go.uber.org/fx"
)

var Module = fx.Module("fact.reader",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewReader),
	fx.Provide(service.ProvideReader),
	fx.Provide(service.ProvideRateLookup),
)
