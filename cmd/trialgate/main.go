package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	"github.com/smallbiznis/trialgate/internal/invite"
	"github.com/smallbiznis/trialgate/internal/join"
	"github.com/smallbiznis/trialgate/internal/lock"
	"github.com/smallbiznis/trialgate/internal/member"
	"github.com/smallbiznis/trialgate/internal/migration"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability"
	"github.com/smallbiznis/trialgate/internal/overview"
	"github.com/smallbiznis/trialgate/internal/platform/telegram"
	"github.com/smallbiznis/trialgate/internal/scheduler"
	"github.com/smallbiznis/trialgate/internal/server"
	"github.com/smallbiznis/trialgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		// Core Infrastructure
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		migration.Module,
		clock.Module,
		lock.Module,

		// Platform
		telegram.Module,
		telegram.ListenerModule,
		notification.Module,

		// Functional Domains
		member.Module,
		invite.Module,
		overview.Module,
		join.Module,
		scheduler.Module,
		scheduler.LoopModule,

		server.Module,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
