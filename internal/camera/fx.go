package camera

import (
	"github.com/smallbiznis/edgecount/internal/camera/repository"
	"github.com/smallbiznis/edgecount/internal/camera/service"
	"go.uber.org/fx"
)

var Module = fx.Module("camera.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
