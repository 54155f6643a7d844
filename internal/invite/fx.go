package invite

import (
	"github.com/smallbiznis/trialgate/internal/invite/repository"
	"github.com/smallbiznis/trialgate/internal/invite/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invite.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)
