package migration

import (
	"context"

	apikeydomain "github.com/smallbiznis/edgecount/internal/apikey/domain"
	"github.com/smallbiznis/edgecount/internal/config"
	"go.uber.org/fx"
	"gorm.io/gorm"
)

var Module = fx.Module("migrations",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, apiKeys apikeydomain.Service) error {
		if err := Migrate(conn); err != nil {
			return err
		}
		return apiKeys.EnsureBootstrap(context.Background(), cfg.Admin.BootstrapKey)
	}),
)
