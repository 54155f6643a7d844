package lock

import (
	"context"

	redis "github.com/redis/go-redis/v9"
	"github.com/smallbiznis/trialgate/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("lock",
	fx.Provide(NewGuard),
	fx.Provide(NewKeyedMutex),
)

// NewGuard returns a Redis lease guard when REDIS_ADDR is set, otherwise an
// in-process guard.
func NewGuard(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) Guard {
	if cfg.RedisAddr == "" {
		log.Info("sweep guard: in-process")
		return NewLocalGuard()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	log.Info("sweep guard: redis", zap.String("addr", cfg.RedisAddr))
	return NewRedisLocker(client, cfg.AppName+":lock:")
}
