package source

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"segclip/internal/audio"
	"segclip/internal/logger"
)

// KeyFile prefixes the Redis keys file contents are cached under.
const KeyFile = "segclip:file:"

// RedisConfig configures the Redis read-through cache.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	TTL      time.Duration
}

// RedisCache is a read-through FileReader that keeps file contents in Redis.
// If Redis is unreachable at construction, or fails later, it disables itself
// and passes every read straight to the next reader.
type RedisCache struct {
	next   audio.FileReader
	client *redis.Client
	logger logger.Logger
	ttl    time.Duration

	mu       sync.RWMutex
	disabled bool
}

// NewRedisCache connects to Redis and wraps next.
func NewRedisCache(cfg RedisConfig, next audio.FileReader, log logger.Logger) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Warnf("Redis cache at %s unavailable, reading without caching: %v", cfg.Addr, err)
		client.Close()
		return &RedisCache{next: next, logger: log, ttl: cfg.TTL, disabled: true}
	}

	log.Infof("Redis file cache initialized at %s", cfg.Addr)
	return &RedisCache{next: next, client: client, logger: log, ttl: cfg.TTL}
}

// Close closes the Redis connection.
func (c *RedisCache) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// IsAvailable reports whether reads go through Redis.
func (c *RedisCache) IsAvailable() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return !c.disabled && c.client != nil
}

func (c *RedisCache) ReadFile(ctx context.Context, path string) ([]byte, error) {
	if !c.IsAvailable() {
		return c.next.ReadFile(ctx, path)
	}

	key := KeyFile + path
	data, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		c.logger.Debugf("Redis hit for %s", path)
		return data, nil
	}
	if !errors.Is(err, redis.Nil) && !isContextError(err) {
		c.handleError(err, "get")
	}

	data, err = c.next.ReadFile(ctx, path)
	if err != nil {
		return nil, err
	}
	if c.IsAvailable() {
		if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil && !isContextError(err) {
			c.handleError(err, "set")
		}
	}
	return data, nil
}

// isContextError reports whether err came from the caller giving up rather
// than from Redis.
func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *RedisCache) handleError(err error, operation string) {
	c.logger.Warnf("Redis %s failed, disabling file cache: %v", operation, err)
	c.mu.Lock()
	c.disabled = true
	c.mu.Unlock()
}
