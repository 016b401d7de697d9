package auth

import (
	"github.com/smallbiznis/creditkit/internal/auth/repository"
	"github.com/smallbiznis/creditkit/internal/auth/service"
	"github.com/smallbiznis/creditkit/internal/auth/session"
	"go.uber.org/fx"
)

var Module = fx.Module("auth.service",
	fx.Provide(repository.New),
	fx.Provide(service.NewIssuer),
	fx.Provide(service.New),
	session.Module,
)
