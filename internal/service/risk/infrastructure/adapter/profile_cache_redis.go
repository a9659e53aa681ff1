package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"riskgate/internal/pkg/redis"
	"riskgate/internal/service/risk/domain"
)

const saveProjectionScriptName = "risk_save_projection"

// ProfileCacheRedisAdapter 把投影快照缓存在 Redis hash 中 (seq + data)。
// 写入通过 Lua 脚本比较序号，旧快照不会覆盖新快照。
type ProfileCacheRedisAdapter struct {
	redisClient *redis.Client
	ttl         time.Duration
}

func NewProfileCacheRedisAdapter(redisClient *redis.Client, ttl time.Duration) (*ProfileCacheRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(saveProjectionScriptName, saveProjectionScript); err != nil {
		return nil, fmt.Errorf("failed to load projection cache script: %w", err)
	}
	return &ProfileCacheRedisAdapter{redisClient: redisClient, ttl: ttl}, nil
}

func projectionKey(email string) string {
	return fmt.Sprintf("risk:projection:{%s}", email)
}

// Get 未命中时返回 ErrProfileNotFound
func (a *ProfileCacheRedisAdapter) Get(ctx context.Context, email string) (*domain.Projection, error) {
	data, err := a.redisClient.GetClient().HGet(ctx, projectionKey(email), "data").Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, domain.ErrProfileNotFound.WithKey(email)
	}
	if err != nil {
		return nil, domain.NewDependencyError("redis", errors.Wrapf(err, "get projection for %s", email))
	}

	var p domain.Projection
	if err := json.Unmarshal(data, &p); err != nil {
		// 损坏的快照当作未命中，调用方会全量重放
		return nil, domain.ErrProfileNotFound.WithKey(email)
	}
	p.Normalize(email)
	return &p, nil
}

// Set 写入快照，已缓存的序号更新时忽略本次写入
func (a *ProfileCacheRedisAdapter) Set(ctx context.Context, email string, p *domain.Projection) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	_, err = a.redisClient.RunScript(ctx, saveProjectionScriptName,
		[]string{projectionKey(email)},
		p.LastSeq, string(data), a.ttl.Milliseconds())
	if err != nil {
		return domain.NewDependencyError("redis", errors.Wrapf(err, "set projection for %s", email))
	}
	return nil
}

var saveProjectionScript = `
-- KEYS[1]: 投影快照的 hash key
-- ARGV[1]: 快照对应的 LastSeq
-- ARGV[2]: 快照 JSON
-- ARGV[3]: 过期时间 (毫秒)

local cached = tonumber(redis.call('hget', KEYS[1], 'seq'))
if cached and cached > tonumber(ARGV[1]) then
    return 0
end
redis.call('hset', KEYS[1], 'seq', ARGV[1], 'data', ARGV[2])
if tonumber(ARGV[3]) > 0 then
    redis.call('pexpire', KEYS[1], ARGV[3])
end
return 1
`
