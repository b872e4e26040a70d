package withdrawal

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisApprovals implementa ApprovalStore no Redis, com expiração por TTL
type RedisApprovals struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisApprovals(c *redis.Client, ttl time.Duration) *RedisApprovals {
	return &RedisApprovals{Client: c, TTL: ttl}
}

func key(withdrawalID string) string { return "withdrawal:approval:" + withdrawalID }

func (r *RedisApprovals) Put(ctx context.Context, withdrawalID, token string) error {
	return r.Client.Set(ctx, key(withdrawalID), token, r.TTL).Err()
}

// Take compara o token e, no acerto, remove a chave; token errado não
// consome a aprovação pendente
func (r *RedisApprovals) Take(ctx context.Context, withdrawalID, token string) (bool, error) {
	stored, err := r.Client.Get(ctx, key(withdrawalID)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if stored != token {
		return false, nil
	}
	if err := r.Client.Del(ctx, key(withdrawalID)).Err(); err != nil {
		return false, err
	}
	return true, nil
}
