package telegram

import (
	"context"

	"github.com/smallbiznis/trialgate/internal/config"
	"github.com/smallbiznis/trialgate/internal/observability/metrics"
	"github.com/smallbiznis/trialgate/internal/platform"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the Bot API client as the process platform.
var Module = fx.Module("platform.telegram",
	fx.Provide(NewFromConfig),
	fx.Provide(func(c *Client) platform.Platform { return c }),
)

// ListenerModule runs the update poller. It needs an EventHandler in the graph.
var ListenerModule = fx.Module("platform.telegram.listener",
	fx.Invoke(RegisterPoller),
)

func NewFromConfig(cfg config.Config, log *zap.Logger, m *metrics.MembershipMetrics) (*Client, error) {
	return New(Config{
		Token:       cfg.Telegram.BotToken,
		APIEndpoint: cfg.Telegram.APIEndpoint,
		CallTimeout: cfg.Telegram.CallTimeout,
	}, log, m)
}

func RegisterPoller(lc fx.Lifecycle, cfg config.Config, client *Client, handler EventHandler, log *zap.Logger) {
	poller := NewPoller(client, handler, cfg.Telegram.PollTimeout, log)
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			poller.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			poller.Stop()
			return nil
		},
	})
}
