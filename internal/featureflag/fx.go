package featureflag

import (
	"github.com/smallbiznis/creditkit/internal/featureflag/repository"
	"github.com/smallbiznis/creditkit/internal/featureflag/service"
	"go.uber.org/fx"
)

var Module = fx.Module("featureflag.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
