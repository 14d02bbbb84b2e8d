package handshake

import (
	"github.com/smallbiznis/edgecount/internal/handshake/service"
	"go.uber.org/fx"
)

var Module = fx.Module("handshake.service",
	fx.Provide(service.NewSerialLocker),
	fx.Provide(service.New),
)
