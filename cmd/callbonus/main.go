package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/brokerdesk/callbonus/internal/clock"
	"github.com/brokerdesk/callbonus/internal/config"
	"github.com/brokerdesk/callbonus/internal/migration"
	"github.com/brokerdesk/callbonus/internal/server"
	"github.com/brokerdesk/callbonus/pkg/db"
	"github.com/brokerdesk/callbonus/pkg/log"
)

func main() {
	app := fx.New(
		config.Module,
		log.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		migration.Module,
		server.Module,
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
