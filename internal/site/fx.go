package site

import (
	"github.com/smallbiznis/edgecount/internal/cache"
	"github.com/smallbiznis/edgecount/internal/site/repository"
	"github.com/smallbiznis/edgecount/internal/site/service"
	"go.uber.org/fx"
)

var Module = fx.Module("site.service",
	fx.Provide(cache.NewSiteNameCache),
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
