package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"riskgate/internal/pkg/redis"
	"riskgate/internal/service/risk/domain"
	"riskgate/internal/service/risk/domain/port"
)

const releaseLockScriptName = "risk_release_lock"

// RedisCustomerLocker 使用 SET NX PX 实现按客户的互斥锁，释放时校验持有者 token
type RedisCustomerLocker struct {
	redisClient *redis.Client
	ttl         time.Duration
	retry       time.Duration
}

func NewRedisCustomerLocker(redisClient *redis.Client, ttl, retry time.Duration) (*RedisCustomerLocker, error) {
	if err := redisClient.LoadScriptFromContent(releaseLockScriptName, releaseLockScript); err != nil {
		return nil, fmt.Errorf("failed to load lock release script: %w", err)
	}
	if retry <= 0 {
		retry = 20 * time.Millisecond
	}
	return &RedisCustomerLocker{redisClient: redisClient, ttl: ttl, retry: retry}, nil
}

func lockKey(email string) string {
	return fmt.Sprintf("risk:lock:{%s}", email)
}

func (l *RedisCustomerLocker) Lock(ctx context.Context, email string) (port.UnlockFunc, error) {
	key := lockKey(email)
	token := uuid.New().String()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()
	for {
		ok, err := l.redisClient.GetClient().SetNX(ctx, key, token, l.ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, port.ErrLockTimeout
			}
			return nil, domain.NewDependencyError("redis", errors.Wrapf(err, "acquire lock for %s", email))
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, port.ErrLockTimeout
		case <-ticker.C:
		}
	}

	return func(ctx context.Context) error {
		if _, err := l.redisClient.RunScript(ctx, releaseLockScriptName, []string{key}, token); err != nil {
			return domain.NewDependencyError("redis", errors.Wrapf(err, "release lock for %s", email))
		}
		return nil
	}, nil
}

var releaseLockScript = `
-- KEYS[1]: 锁的 key
-- ARGV[1]: 加锁时写入的 token，只有持有者才能删除
if redis.call('get', KEYS[1]) == ARGV[1] then
    return redis.call('del', KEYS[1])
end
return 0
`
