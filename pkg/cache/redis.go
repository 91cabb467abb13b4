package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultPrefix = "tes-dashboard:cache:"

// RedisStore grava cada entrada como um hash {value, stored_at} com expiração nativa.
type RedisStore struct {
	client *redis.Client
	prefix string
}

// NewRedisStore cria o cliente Redis a partir do endereço.
func NewRedisStore(addr, password string, db int) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return &RedisStore{client: client, prefix: defaultPrefix}
}

// Ping verifica a conectividade, usado no boot.
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Get(ctx context.Context, key string) (Entry, bool, error) {
	val, err := r.client.HGetAll(ctx, r.prefix+key).Result()
	if err == redis.Nil {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis hgetall: %w", err)
	}
	if len(val) == 0 {
		return Entry{}, false, nil
	}

	nanos, err := strconv.ParseInt(val["stored_at"], 10, 64)
	if err != nil {
		return Entry{}, false, fmt.Errorf("redis: stored_at inválido para '%s'", key)
	}
	return Entry{Value: []byte(val["value"]), StoredAt: time.Unix(0, nanos)}, true, nil
}

func (r *RedisStore) Set(ctx context.Context, key string, e Entry, ttl time.Duration) error {
	k := r.prefix + key
	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, k, "value", e.Value, "stored_at", strconv.FormatInt(e.StoredAt.UnixNano(), 10))
	if ttl > 0 {
		pipe.Expire(ctx, k, ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (r *RedisStore) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}

// Sweep é um no-op: o Redis expira as chaves sozinho.
func (r *RedisStore) Sweep(context.Context, time.Time) (int, error) {
	return 0, nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	keys, err := r.keys(ctx)
	if err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *RedisStore) Len(ctx context.Context) (int, error) {
	keys, err := r.keys(ctx)
	return len(keys), err
}

func (r *RedisStore) keys(ctx context.Context) ([]string, error) {
	var out []string
	iter := r.client.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		out = append(out, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis scan: %w", err)
	}
	return out, nil
}
