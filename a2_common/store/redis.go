/*
 * COPYRIGHT 2020 Brightgate Inc.  All rights reserved.
 *
 * This copyright notice is Copyright Management Information under 17 USC 1202
 * and is included to protect this work and deter copyright infringement.
 * Removal or alteration of this Copyright Management Information without the
 * express written permission of Brightgate Inc is prohibited, and any
 * such unauthorized removal or alteration will be a violation of federal law.
 *
 */

package store

import (
	"context"
	"strconv"

	"github.com/go-redis/redis/v8"
)

// RedisBackend implements Backend on a Redis instance.
type RedisBackend struct {
	rdb *redis.Client
}

// NewRedisBackend connects to the Redis instance at addr ("host:port",
// empty for localhost) and database db.
func NewRedisBackend(addr string, db int) *RedisBackend {
	if addr == "" {
		addr = "localhost:6379"
	}
	return &RedisBackend{
		rdb: redis.NewClient(&redis.Options{
			Addr: addr,
			DB:   db,
		}),
	}
}

// wraperr maps connectivity failures to ErrStoreUnavailable so that the
// callers don't need to understand redis error types.
func wraperr(err error) error {
	if err == nil || err == redis.Nil {
		return nil
	}
	return ErrStoreUnavailable
}

// HashGet returns a hash field, with a presence flag.
func (r *RedisBackend) HashGet(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.rdb.HGet(ctx, key, field).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wraperr(err)
}

// HashSet sets a hash field.
func (r *RedisBackend) HashSet(ctx context.Context, key, field, value string) error {
	return wraperr(r.rdb.HSet(ctx, key, field, value).Err())
}

// HashDel removes hash fields.
func (r *RedisBackend) HashDel(ctx context.Context, key string, fields ...string) error {
	return wraperr(r.rdb.HDel(ctx, key, fields...).Err())
}

// HashKeys lists the fields of a hash.
func (r *RedisBackend) HashKeys(ctx context.Context, key string) ([]string, error) {
	v, err := r.rdb.HKeys(ctx, key).Result()
	return v, wraperr(err)
}

// HashGetAll returns all fields and values of a hash.
func (r *RedisBackend) HashGetAll(ctx context.Context, key string) (map[string]string, error) {
	v, err := r.rdb.HGetAll(ctx, key).Result()
	return v, wraperr(err)
}

// HashGetMany returns the values for the given fields; missing fields come
// back as nil entries.
func (r *RedisBackend) HashGetMany(ctx context.Context, key string, fields []string) ([]*string, error) {
	if len(fields) == 0 {
		return nil, nil
	}
	vals, err := r.rdb.HMGet(ctx, key, fields...).Result()
	if err != nil {
		return nil, wraperr(err)
	}
	out := make([]*string, len(vals))
	for i, v := range vals {
		if s, ok := v.(string); ok {
			s := s
			out[i] = &s
		}
	}
	return out, nil
}

// HashIncrBy increments an integer hash field.
func (r *RedisBackend) HashIncrBy(ctx context.Context, key, field string, incr int64) (int64, error) {
	v, err := r.rdb.HIncrBy(ctx, key, field, incr).Result()
	return v, wraperr(err)
}

// ScalarGet returns a plain key, with a presence flag.
func (r *RedisBackend) ScalarGet(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	return v, err == nil, wraperr(err)
}

// ScalarSet sets a plain key.
func (r *RedisBackend) ScalarSet(ctx context.Context, key, value string) error {
	return wraperr(r.rdb.Set(ctx, key, value, 0).Err())
}

// SortedSetAddScore adds or updates a member's score.
func (r *RedisBackend) SortedSetAddScore(ctx context.Context, key, member string, score float64) error {
	return wraperr(r.rdb.ZAdd(ctx, key, &redis.Z{Score: score, Member: member}).Err())
}

// SortedSetScoreOf returns a member's score, with a presence flag.
func (r *RedisBackend) SortedSetScoreOf(ctx context.Context, key, member string) (float64, bool, error) {
	v, err := r.rdb.ZScore(ctx, key, member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	return v, err == nil, wraperr(err)
}

// SortedSetRange returns all members in score order.
func (r *RedisBackend) SortedSetRange(ctx context.Context, key string) ([]string, error) {
	v, err := r.rdb.ZRange(ctx, key, 0, -1).Result()
	return v, wraperr(err)
}

// SortedSetRangeByScore returns up to count members with min <= score <= max.
func (r *RedisBackend) SortedSetRangeByScore(ctx context.Context, key string, min, max float64, count int) ([]string, error) {
	v, err := r.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min:   strconv.FormatFloat(min, 'f', -1, 64),
		Max:   strconv.FormatFloat(max, 'f', -1, 64),
		Count: int64(count),
	}).Result()
	return v, wraperr(err)
}

// SortedSetRemove removes members from a sorted set.
func (r *RedisBackend) SortedSetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return wraperr(r.rdb.ZRem(ctx, key, args...).Err())
}

// Publish sends a message on a pub/sub channel.
func (r *RedisBackend) Publish(ctx context.Context, channel, msg string) error {
	return wraperr(r.rdb.Publish(ctx, channel, msg).Err())
}
