package main

import (
	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"

	"github.com/smallbiznis/flowline/internal/apikey"
	"github.com/smallbiznis/flowline/internal/config"
	"github.com/smallbiznis/flowline/internal/credit"
	"github.com/smallbiznis/flowline/internal/identity"
	"github.com/smallbiznis/flowline/internal/ledger"
	"github.com/smallbiznis/flowline/internal/logger"
	"github.com/smallbiznis/flowline/internal/migration"
	"github.com/smallbiznis/flowline/internal/organization"
	"github.com/smallbiznis/flowline/internal/ratelimit"
	"github.com/smallbiznis/flowline/internal/scheduler"
	"github.com/smallbiznis/flowline/internal/server"
	"github.com/smallbiznis/flowline/internal/telemetry"
	"github.com/smallbiznis/flowline/internal/tenancy"
	"github.com/smallbiznis/flowline/internal/usage"
	"github.com/smallbiznis/flowline/pkg/db"
)

func main() {
	app := fx.New(
		config.Module,
		logger.Module,
		telemetry.Module,
		fx.Provide(registerSnowflake),
		db.Module,
		migration.Module,

		identity.Module,
		tenancy.Module,
		organization.Module,
		apikey.Module,
		ledger.Module,
		usage.Module,
		credit.Module,
		ratelimit.Module,
		scheduler.Module,

		server.Module,
	)
	app.Run()
}

func registerSnowflake() *snowflake.Node {
	node, err := snowflake.NewNode(1)
	if err != nil {
		panic(err)
	}
	return node
}
