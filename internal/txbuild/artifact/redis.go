package artifact

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/goodnatureofminers/txbuild7000-backend/internal/txbuild/model"
)

// KEYS: finalized, artifact, claim. ARGV: tx hash, retention ms.
const markFinalizedScript = `
redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
redis.call('DEL', KEYS[2], KEYS[3])
return 1
`

// KEYS: artifact, finalized. ARGV: ttl ms.
const openScript = `
if redis.call('EXISTS', KEYS[1]) == 1 or redis.call('EXISTS', KEYS[2]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], '', 'PX', ARGV[1])
return 1
`

// RedisStore keeps artifacts as JSON values with expiry.
type RedisStore struct {
	client    redisClient
	keyPrefix string
	retention time.Duration
	metrics   Metrics
}

var _ Store = (*RedisStore)(nil)

// NewRedisStore builds a store over client. Finalize results are kept for retention.
func NewRedisStore(client redisClient, keyPrefix string, retention time.Duration, metrics Metrics) *RedisStore {
	if retention <= 0 {
		retention = DefaultFinalizedRetention
	}
	return &RedisStore{client: client, keyPrefix: keyPrefix, retention: retention, metrics: metrics}
}

func (s *RedisStore) artifactKey(id string) string  { return s.keyPrefix + "artifact:" + id }
func (s *RedisStore) claimKey(id string) string     { return s.keyPrefix + "claim:" + id }
func (s *RedisStore) finalizedKey(id string) string { return s.keyPrefix + "finalized:" + id }

func (s *RedisStore) Open(ctx context.Context, requestID string, ttl time.Duration) (ok bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("open", err, started)
	}()

	keys := []string{s.artifactKey(requestID), s.finalizedKey(requestID)}
	n, err := s.client.Eval(ctx, openScript, keys, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("open artifact: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Save(ctx context.Context, a model.Artifact, ttl time.Duration) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("save", err, started)
	}()

	data, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("encode artifact: %w", err)
	}
	if err = s.client.Set(ctx, s.artifactKey(a.RequestID), data, ttl).Err(); err != nil {
		return fmt.Errorf("set artifact: %w", err)
	}
	return nil
}

func (s *RedisStore) Load(ctx context.Context, requestID string) (a model.Artifact, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("load", err, started)
	}()

	data, err := s.client.Get(ctx, s.artifactKey(requestID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Artifact{}, fmt.Errorf("request %s: %w", requestID, model.ErrArtifactNotFound)
	}
	if err != nil {
		return model.Artifact{}, fmt.Errorf("get artifact: %w", err)
	}
	if len(data) == 0 {
		return model.Artifact{}, fmt.Errorf("request %s: %w", requestID, model.ErrArtifactNotFound)
	}
	if err = json.Unmarshal(data, &a); err != nil {
		return model.Artifact{}, fmt.Errorf("decode artifact: %w", err)
	}
	return a, nil
}

func (s *RedisStore) Delete(ctx context.Context, requestID string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("delete", err, started)
	}()

	if err = s.client.Del(ctx, s.artifactKey(requestID)).Err(); err != nil {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}

func (s *RedisStore) Claim(ctx context.Context, requestID string, ttl time.Duration) (ok bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("claim", err, started)
	}()

	ok, err = s.client.SetNX(ctx, s.claimKey(requestID), 1, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("claim artifact: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Unclaim(ctx context.Context, requestID string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("unclaim", err, started)
	}()

	if err = s.client.Del(ctx, s.claimKey(requestID)).Err(); err != nil {
		return fmt.Errorf("unclaim artifact: %w", err)
	}
	return nil
}

func (s *RedisStore) MarkFinalized(ctx context.Context, requestID, txHash string) (err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("mark_finalized", err, started)
	}()

	keys := []string{s.finalizedKey(requestID), s.artifactKey(requestID), s.claimKey(requestID)}
	if err = s.client.Eval(ctx, markFinalizedScript, keys, txHash, s.retention.Milliseconds()).Err(); err != nil {
		return fmt.Errorf("mark finalized: %w", err)
	}
	return nil
}

func (s *RedisStore) Finalized(ctx context.Context, requestID string) (txHash string, found bool, err error) {
	started := time.Now()
	defer func() {
		s.metrics.Observe("finalized", err, started)
	}()

	txHash, err = s.client.Get(ctx, s.finalizedKey(requestID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get finalized: %w", err)
	}
	return txHash, true, nil
}
