package cache

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const partnerTokenKey = "partnersync:partner_token"

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	TTL      time.Duration
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func CreateRedisCache(config RedisConfig) (*RedisCache, error) {
	port := config.Port
	if port == 0 {
		port = 6379
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Host + ":" + strconv.Itoa(port),
		Password: config.Password,
		DB:       config.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, err
	}

	ttl := config.TTL
	if ttl == 0 {
		ttl = 24 * time.Hour
	}

	return &RedisCache{
		client: client,
		ttl:    ttl,
	}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Get(ctx context.Context, key string) (string, error) {
	return c.client.Get(ctx, key).Result()
}

func (c *RedisCache) SetWithTTL(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	return c.client.Set(ctx, key, value, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, key).Err()
}

// RedisTokenMirror stores the partner token in Redis with a TTL matching its
// expiry.
type RedisTokenMirror struct {
	cache *RedisCache
	now   func() time.Time
}

func CreateRedisTokenMirror(cache *RedisCache) *RedisTokenMirror {
	return &RedisTokenMirror{cache: cache, now: time.Now}
}

func (m *RedisTokenMirror) Load(ctx context.Context) (*CachedToken, error) {
	raw, err := m.cache.Get(ctx, partnerTokenKey)
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var token CachedToken
	if err := json.Unmarshal([]byte(raw), &token); err != nil {
		return nil, err
	}
	return &token, nil
}

func (m *RedisTokenMirror) Save(ctx context.Context, token CachedToken) error {
	ttl := token.ExpiresAt.Sub(m.now())
	if ttl <= 0 {
		return m.Clear(ctx)
	}

	data, err := json.Marshal(token)
	if err != nil {
		return err
	}
	return m.cache.SetWithTTL(ctx, partnerTokenKey, data, ttl)
}

func (m *RedisTokenMirror) Clear(ctx context.Context) error {
	return m.cache.Delete(ctx, partnerTokenKey)
}
