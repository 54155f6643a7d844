package join

import (
	"github.com/smallbiznis/trialgate/internal/platform/telegram"
	"go.uber.org/fx"
)

var Module = fx.Module("join.service",
	fx.Provide(NewService),
	fx.Provide(func(s *Service) telegram.EventHandler { return s }),
)
