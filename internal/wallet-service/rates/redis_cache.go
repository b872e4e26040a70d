package rates

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	keyFresh = "rates:usd:fresh"
	keyLast  = "rates:usd:last"
)

// RedisCache guarda o conjunto de cotações no Redis.
// keyFresh expira com TTL; keyLast fica sem expiração para servir de
// fallback quando o provedor está fora
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

func (r *RedisCache) GetFresh(ctx context.Context) (map[string]decimal.Decimal, bool) {
	return r.get(ctx, keyFresh)
}

func (r *RedisCache) GetLast(ctx context.Context) (map[string]decimal.Decimal, bool) {
	return r.get(ctx, keyLast)
}

func (r *RedisCache) get(ctx context.Context, key string) (map[string]decimal.Decimal, bool) {
	b, err := r.Client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	var raw map[string]string
	if err := json.Unmarshal(b, &raw); err != nil {
		return nil, false
	}
	out := make(map[string]decimal.Decimal, len(raw))
	for sym, v := range raw {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return nil, false
		}
		out[sym] = d
	}
	return out, true
}

func (r *RedisCache) Set(ctx context.Context, rates map[string]decimal.Decimal) error {
	raw := make(map[string]string, len(rates))
	for sym, d := range rates {
		raw[sym] = d.String()
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return err
	}
	if err := r.Client.Set(ctx, keyFresh, b, r.TTL).Err(); err != nil {
		return err
	}
	return r.Client.Set(ctx, keyLast, b, 0).Err()
}
