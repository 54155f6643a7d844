package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock reports the current time. Domain code never calls time.Now directly.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

// New returns a Clock backed by the system time, normalized to UTC.
func New() Clock {
	return systemClock{}
}

func (systemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
