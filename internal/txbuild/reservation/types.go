package reservation

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
		ObserveConflict(held int)
	}

	// redisClient is the subset of *redis.Client the store uses.
	redisClient interface {
		Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
		Get(ctx context.Context, key string) *redis.StringCmd
	}
)
