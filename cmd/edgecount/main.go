package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/edgecount/internal/clock"
	"github.com/smallbiznis/edgecount/internal/config"
	"github.com/smallbiznis/edgecount/internal/migration"
	"github.com/smallbiznis/edgecount/internal/observability"
	"github.com/smallbiznis/edgecount/internal/server"
	"github.com/smallbiznis/edgecount/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,

		// Device trust, ingestion and admin API
		server.Module,
		migration.Module,
	)
	app.Run()
}

func RegisterSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
