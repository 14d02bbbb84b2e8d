package ingestion

import (
	"github.com/smallbiznis/edgecount/internal/ingestion/repository"
	"github.com/smallbiznis/edgecount/internal/ingestion/service"
	"go.uber.org/fx"
)

var Module = fx.Module("ingestion.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
