package sitetoken

import (
	"github.com/smallbiznis/edgecount/internal/sitetoken/repository"
	"github.com/smallbiznis/edgecount/internal/sitetoken/service"
	"go.uber.org/fx"
)

var Module = fx.Module("sitetoken.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
