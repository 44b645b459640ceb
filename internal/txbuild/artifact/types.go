package artifact

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

//go:generate mockgen -source=$GOFILE -destination=mocks_test.go -package=$GOPACKAGE

type (
	// Metrics records store operations.
	Metrics interface {
		Observe(operation string, err error, started time.Time)
	}

	// redisClient is the subset of *redis.Client the store uses.
	redisClient interface {
		Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
		SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
		Get(ctx context.Context, key string) *redis.StringCmd
		Del(ctx context.Context, keys ...string) *redis.IntCmd
		Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	}
)
