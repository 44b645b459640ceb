package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// KEYS[1] is the per-request index set, KEYS[2..] the output keys.
// Returns the 0-based positions of outputs held by another request; nothing is
// written unless that list is empty.
const reserveScript = `
local held = {}
for i = 2, #KEYS do
	local owner = redis.call('GET', KEYS[i])
	if owner and owner ~= ARGV[1] then
		table.insert(held, i - 2)
	end
end
if #held > 0 then
	return held
end
for i = 2, #KEYS do
	redis.call('SET', KEYS[i], ARGV[1], 'PX', ARGV[2])
	redis.call('SADD', KEYS[1], KEYS[i])
end
if redis.call('PTTL', KEYS[1]) < tonumber(ARGV[2]) then
	redis.call('PEXPIRE', KEYS[1], ARGV[2])
end
return held
`

// KEYS[1] is the per-request index set. Only keys still owned by ARGV[1] are deleted.
const releaseScript = `
local released = 0
for _, key in ipairs(redis.call('SMEMBERS', KEYS[1])) do
	if redis.call('GET', key) == ARGV[1] then
		redis.call('DEL', key)
		released = released + 1
	end
end
redis.call('DEL', KEYS[1])
return released
`

// RedisStore keeps reservations as expiring Redis keys.
type RedisStore struct {
	client    redisClient
	keyPrefix string
	metrics   Metrics
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a store over client. Keys are namespaced by keyPrefix.
func NewRedisStore(client redisClient, keyPrefix string, metrics Metrics) *RedisStore {
	return &RedisStore{client: client, keyPrefix: keyPrefix, metrics: metrics}
}

func (s *RedisStore) outputKey(id model.OutputRef) string {
	return s.keyPrefix + "utxo:" + id.String()
}

func (s *RedisStore) requestKey(requestID string) string {
	return s.keyPrefix + "request:" + requestID
}

func (s *RedisStore) Reserve(ctx context.Context, ids []model.OutputRef, requestID string, ttl time.Duration) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("reserve", ignoreConflict(err), started)
	}()

	if err := validate(ids, requestID, ttl); err != nil {
		return err
	}
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil
	}

	keys := make([]string, 0, len(ids)+1)
	keys = append(keys, s.requestKey(requestID))
	for _, id := range ids {
		keys = append(keys, s.outputKey(id))
	}

	res, err := s.client.Eval(ctx, reserveScript, keys, requestID, ttl.Milliseconds()).Result()
	if err != nil {
		return fmt.Errorf("eval reserve script: %w", err)
	}
	positions, ok := res.([]interface{})
	if !ok {
		return fmt.Errorf("unexpected reserve script result %T", res)
	}
	if len(positions) == 0 {
		return nil
	}

	held := make([]model.OutputRef, 0, len(positions))
	for _, p := range positions {
		idx, ok := p.(int64)
		if !ok || idx < 0 || int(idx) >= len(ids) {
			return fmt.Errorf("unexpected reserve script position %v", p)
		}
		held = append(held, ids[idx])
	}
	s.metrics.ObserveConflict(len(held))
	return &model.ConflictError{Held: held}
}

func (s *RedisStore) Release(ctx context.Context, requestID string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("release", err, started)
	}()

	if requestID == "" {
		return model.Wrap(model.CodeValidation, errEmptyRequest, "release")
	}
	if err := s.client.Eval(ctx, releaseScript, []string{s.requestKey(requestID)}, requestID).Err(); err != nil {
		return fmt.Errorf("eval release script: %w", err)
	}
	return nil
}

func (s *RedisStore) Owner(ctx context.Context, id model.OutputRef) (owner string, found bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("owner", err, started)
	}()

	owner, err = s.client.Get(ctx, s.outputKey(id)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get owner: %w", err)
	}
	return owner, true, nil
}

// a conflict is a normal outcome, not a store failure
func ignoreConflict(err error) error {
	var conflict *model.ConflictError
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}
