package migration

import (
	"context"

	accountdomain "github.com/smallbiznis/creditkit/internal/account/domain"
	"github.com/smallbiznis/creditkit/internal/config"
	"github.com/smallbiznis/creditkit/internal/seed"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, accounts accountdomain.Service, log *zap.Logger) error {
		ctx := context.Background()
		if err := Migrate(ctx, conn, cfg.DBType); err != nil {
			return err
		}
		_, err := seed.EnsureAdmin(ctx, accounts, cfg.AdminEmail, log)
		return err
	}),
)
