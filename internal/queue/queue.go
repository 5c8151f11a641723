// Package queue wraps the Redis primitives shared by the deliverer,
// relay, and mediator: plain lists for queues, a sorted set for delayed
// retries, and hashes for the mediator's routing tables.
package queue

import (
	"context"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/openlane/agentbus/internal/models"
)

// Client wraps a go-redis client with the list/hash/sorted-set operations
// this system needs, translating Redis errors into RelayError.
type Client struct {
	rdb *redis.Client
}

// Options mirrors the subset of redis.Options this system configures.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// New connects to Redis and verifies the connection with a PING.
func New(opts Options) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolTimeout:  4 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, models.NewRelayError(models.ErrCodeRedisConnection, "failed to connect to Redis", err)
	}
	return &Client{rdb: rdb}, nil
}

// NewFromRedis wraps an already-constructed go-redis client, used by tests
// to point this package at a miniredis instance.
func NewFromRedis(rdb *redis.Client) *Client {
	return &Client{rdb: rdb}
}

// Close closes the underlying connection pool.
func (c *Client) Close() error {
	return c.rdb.Close()
}

// BLPop blocks up to timeout waiting for an item on key, returning
// (nil, nil) on timeout and the raw entry otherwise.
func (c *Client) BLPop(ctx context.Context, timeout time.Duration, key string) ([]byte, error) {
	result, err := c.rdb.BLPop(ctx, timeout, key).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeRedisConnection, "BLPOP failed", err)
	}
	// result[0] is the key name, result[1] is the value.
	return []byte(result[1]), nil
}

// RPush appends raw entries to a list.
func (c *Client) RPush(ctx context.Context, key string, value []byte) error {
	if err := c.rdb.RPush(ctx, key, value).Err(); err != nil {
		return models.NewRelayError(models.ErrCodeRedisConnection, "RPUSH failed", err)
	}
	return nil
}

// LLen reports a list's length.
func (c *Client) LLen(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.LLen(ctx, key).Result()
	if err != nil {
		return 0, models.NewRelayError(models.ErrCodeRedisConnection, "LLEN failed", err)
	}
	return n, nil
}

// ZAdd adds an entry to a sorted set with the given score.
func (c *Client) ZAdd(ctx context.Context, key string, score float64, member []byte) error {
	if err := c.rdb.ZAdd(ctx, key, redis.Z{Score: score, Member: member}).Err(); err != nil {
		return models.NewRelayError(models.ErrCodeRedisConnection, "ZADD failed", err)
	}
	return nil
}

// ZRangeByScoreUpTo returns up to limit members with score <= max.
func (c *Client) ZRangeByScoreUpTo(ctx context.Context, key string, max float64, limit int64) ([][]byte, error) {
	members, err := c.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    formatScore(max),
		Offset: 0,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeRedisConnection, "ZRANGEBYSCORE failed", err)
	}
	out := make([][]byte, len(members))
	for i, m := range members {
		out[i] = []byte(m)
	}
	return out, nil
}

// ZRem removes a member and reports whether it was present — the ownership
// claim the retry promoter relies on (see promoteDueRetries in package
// deliverer).
func (c *Client) ZRem(ctx context.Context, key string, member []byte) (bool, error) {
	removed, err := c.rdb.ZRem(ctx, key, member).Result()
	if err != nil {
		return false, models.NewRelayError(models.ErrCodeRedisConnection, "ZREM failed", err)
	}
	return removed == 1, nil
}

// HSet sets a single hash field.
func (c *Client) HSet(ctx context.Context, key, field string, value string) error {
	if err := c.rdb.HSet(ctx, key, field, value).Err(); err != nil {
		return models.NewRelayError(models.ErrCodeRedisConnection, "HSET failed", err)
	}
	return nil
}

// HGet gets a single hash field; returns ("", false, nil) if absent.
func (c *Client) HGet(ctx context.Context, key, field string) (string, bool, error) {
	value, err := c.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, models.NewRelayError(models.ErrCodeRedisConnection, "HGET failed", err)
	}
	return value, true, nil
}

// HGetAll returns every field/value pair in a hash.
func (c *Client) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	m, err := c.rdb.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeRedisConnection, "HGETALL failed", err)
	}
	return m, nil
}

// HKeys returns every field name in a hash.
func (c *Client) HKeys(ctx context.Context, key string) ([]string, error) {
	keys, err := c.rdb.HKeys(ctx, key).Result()
	if err != nil {
		return nil, models.NewRelayError(models.ErrCodeRedisConnection, "HKEYS failed", err)
	}
	return keys, nil
}

// HExists reports whether a hash field is set.
func (c *Client) HExists(ctx context.Context, key, field string) (bool, error) {
	ok, err := c.rdb.HExists(ctx, key, field).Result()
	if err != nil {
		return false, models.NewRelayError(models.ErrCodeRedisConnection, "HEXISTS failed", err)
	}
	return ok, nil
}

// HIncrBy increments a hash field by delta, creating it at 0 if absent.
func (c *Client) HIncrBy(ctx context.Context, key, field string, delta int64) (int64, error) {
	n, err := c.rdb.HIncrBy(ctx, key, field, delta).Result()
	if err != nil {
		return 0, models.NewRelayError(models.ErrCodeRedisConnection, "HINCRBY failed", err)
	}
	return n, nil
}

// HDel removes a hash field.
func (c *Client) HDel(ctx context.Context, key, field string) error {
	if err := c.rdb.HDel(ctx, key, field).Err(); err != nil {
		return models.NewRelayError(models.ErrCodeRedisConnection, "HDEL failed", err)
	}
	return nil
}

// Incr atomically increments a plain integer key and returns the new value.
func (c *Client) Incr(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.Incr(ctx, key).Result()
	if err != nil {
		return 0, models.NewRelayError(models.ErrCodeRedisConnection, "INCR failed", err)
	}
	return n, nil
}

// ZCard reports a sorted set's cardinality.
func (c *Client) ZCard(ctx context.Context, key string) (int64, error) {
	n, err := c.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, models.NewRelayError(models.ErrCodeRedisConnection, "ZCARD failed", err)
	}
	return n, nil
}

func formatScore(score float64) string {
	return strconv.FormatFloat(score, 'f', -1, 64)
}
