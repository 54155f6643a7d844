package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/trialgate/internal/clock"
	"github.com/smallbiznis/trialgate/internal/config"
	"github.com/smallbiznis/trialgate/internal/invite"
	"github.com/smallbiznis/trialgate/internal/join"
	"github.com/smallbiznis/trialgate/internal/lock"
	"github.com/smallbiznis/trialgate/internal/member"
	"github.com/smallbiznis/trialgate/internal/notification"
	"github.com/smallbiznis/trialgate/internal/observability"
	"github.com/smallbiznis/trialgate/internal/platform/telegram"
	"github.com/smallbiznis/trialgate/internal/scheduler"
	"github.com/smallbiznis/trialgate/pkg/db"
	"go.uber.org/fx"
)

func main() {
	app := fx.New(
		config.Module,
		observability.Module,
		fx.Provide(RegisterSnowflake),
		db.Module,
		clock.Module,
		lock.Module,

		// Platform calls only; join events are consumed by apps/api.
		telegram.Module,
		notification.Module,

		// Domain services required by scheduler
		member.Module,
		invite.Module,
		join.Module,
		scheduler.Module,

		// No server module!
		scheduler.LoopModule,
	)
	app.Run()
}

func RegisterSnowflake(cfg config.Config) (*snowflake.Node, error) {
	return snowflake.NewNode(cfg.NodeID)
}
