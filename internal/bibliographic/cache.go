package bibliographic

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

const cachePrefix = "shelfscan:books:"

// Cache stores lookup results, including misses.
type Cache interface {
	Get(ctx context.Context, key string) (*Candidate, bool, error)
	Set(ctx context.Context, key string, c *Candidate, ttl time.Duration) error
}

// RedisCache keeps candidates as JSON strings. A miss is stored as "null".
type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

// DialRedis connects to addr and pings it.
func DialRedis(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

func (r *RedisCache) Get(ctx context.Context, key string) (*Candidate, bool, error) {
	val, err := r.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var c *Candidate
	if err := json.Unmarshal(val, &c); err != nil {
		return nil, false, err
	}
	return c, true, nil
}

func (r *RedisCache) Set(ctx context.Context, key string, c *Candidate, ttl time.Duration) error {
	val, err := json.Marshal(c)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, key, val, ttl).Err()
}

func cacheKey(query, lang string) string {
	sum := sha1.Sum([]byte(query + "|" + lang))
	return cachePrefix + hex.EncodeToString(sum[:])
}
