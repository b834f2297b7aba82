package redisclient

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

//go:embed scripts/release_lock.lua
var releaseLockScript string

//go:embed scripts/extend_lock.lua
var extendLockScript string

// ErrCacheMiss is returned by GetJSON when the key is absent
var ErrCacheMiss = errors.New("cache miss")

type Client struct {
	rdb           *redis.Client
	owner         string
	releaseScript *redis.Script
	extendScript  *redis.Script
}

// NewClient creates a new Redis client with Lua scripts loaded
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return newClient(rdb), nil
}

func newClient(rdb *redis.Client) *Client {
	return &Client{
		rdb:           rdb,
		owner:         uuid.New().String(),
		releaseScript: redis.NewScript(releaseLockScript),
		extendScript:  redis.NewScript(extendLockScript),
	}
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping checks connectivity
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// GetJSON decodes the cached value of key into dest. ErrCacheMiss when absent.
func (c *Client) GetJSON(ctx context.Context, key string, dest interface{}) error {
	raw, err := c.rdb.Get(ctx, cacheKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return ErrCacheMiss
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// SetJSON caches value under key for ttl
func (c *Client) SetJSON(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, cacheKey(key), raw, ttl).Err()
}

// Delete drops cached keys
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = cacheKey(k)
	}
	return c.rdb.Del(ctx, full...).Err()
}

// AcquireLock acquires a distributed lock owned by this client
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, lockName(lockKey), c.owner, ttl).Result()
}

// ExtendLock pushes the expiry of a lock this client still owns
func (c *Client) ExtendLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	res, err := c.extendScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, c.owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("extend lock script failed: %w", err)
	}
	return res == 1, nil
}

// ReleaseLock releases a distributed lock if this client still owns it
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	_, err := c.releaseScript.Run(ctx, c.rdb, []string{lockName(lockKey)}, c.owner).Result()
	if err != nil {
		return fmt.Errorf("release lock script failed: %w", err)
	}
	return nil
}

func cacheKey(key string) string {
	return fmt.Sprintf("cache:%s", key)
}

func lockName(key string) string {
	return fmt.Sprintf("lock:%s", key)
}
