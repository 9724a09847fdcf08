package kvstore

import (
	"context"
	"errors"

	"github.com/redis/go-redis/v9"
)

// Redis stores each key as a plain string value, optionally namespaced.
type Redis struct {
	client     redis.UniversalClient
	prefix     string
	maxRetries int
}

// RedisOption configures a Redis store.
type RedisOption func(*Redis)

// WithRedisPrefix namespaces every key, e.g. "truthlens:".
func WithRedisPrefix(prefix string) RedisOption {
	return func(r *Redis) { r.prefix = prefix }
}

// WithRedisMaxRetries bounds optimistic transaction retries in Update.
func WithRedisMaxRetries(n int) RedisOption {
	return func(r *Redis) {
		if n > 0 {
			r.maxRetries = n
		}
	}
}

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	if client == nil {
		panic("kvstore: redis client is required")
	}
	r := &Redis{client: client, maxRetries: defaultMaxRetries}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	return v, nil
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if err := r.client.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, r.prefix+key).Err(); err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

// Update WATCHes the key, runs fn, and commits with MULTI/EXEC. A concurrent
// write aborts the EXEC and the whole cycle is retried.
func (r *Redis) Update(ctx context.Context, key string, fn MutateFunc) ([]byte, error) {
	full := r.prefix + key

	for range r.maxRetries {
		var result []byte
		err := r.client.Watch(ctx, func(tx *redis.Tx) error {
			cur, err := tx.Get(ctx, full).Bytes()
			switch {
			case errors.Is(err, redis.Nil):
				cur = nil
			case err != nil:
				return err
			}

			next, err := fn(clone(cur))
			if err != nil {
				return &mutateError{err: err}
			}
			if skipWrite(cur, next) {
				result = cur
				return nil
			}

			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, full, next, 0)
				return nil
			})
			if err == nil {
				result = next
			}
			return err
		}, full)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, storageErr(err)
		}
		return result, nil
	}
	return nil, ErrConflict
}

func (r *Redis) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := r.client.Scan(ctx, 0, r.prefix+prefix+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(r.prefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	return keys, nil
}
