package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/example/mealdelivery/pkg/config"
	"github.com/example/mealdelivery/pkg/models"
	"github.com/go-redis/redis/v8"
)

func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// OrderCache keeps JSON copies of single orders under order:<id>.
type OrderCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewOrderCache(client *redis.Client, ttl time.Duration) *OrderCache {
	return &OrderCache{client: client, ttl: ttl}
}

func orderKey(id string) string {
	return fmt.Sprintf("order:%s", id)
}

func (c *OrderCache) Get(ctx context.Context, id string) (*models.Order, error) {
	data, err := c.client.Get(ctx, orderKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var o models.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("failed to decode cached order: %w", err)
	}
	return &o, nil
}

// setIfNewer stores ARGV[1] unless the cached entry has a higher version.
// ARGV[2] is the new version and ARGV[3] the TTL in milliseconds (0 keeps
// the entry until it is invalidated).
var setIfNewer = redis.NewScript(`
local current = redis.call("GET", KEYS[1])
if current then
	local ok, doc = pcall(cjson.decode, current)
	if ok and type(doc) == "table" and tonumber(doc["version"]) and tonumber(doc["version"]) > tonumber(ARGV[2]) then
		return 0
	end
end
if tonumber(ARGV[3]) > 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[3])
else
	redis.call("SET", KEYS[1], ARGV[1])
end
return 1
`)

// Set caches o unless a newer version of the order is already cached.
func (c *OrderCache) Set(ctx context.Context, o *models.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	err = setIfNewer.Run(ctx, c.client, []string{orderKey(o.ID)}, data, o.Version, c.ttl.Milliseconds()).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to cache order %s: %w", o.ID, err)
	}
	return nil
}

func (c *OrderCache) Invalidate(ctx context.Context, id string) error {
	return c.client.Del(ctx, orderKey(id)).Err()
}

func (c *OrderCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *OrderCache) Close() error {
	return c.client.Close()
}
