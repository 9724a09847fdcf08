package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// JSON is a typed view over a Store that encodes values as JSON.
type JSON[T any] struct {
	store Store
}

func NewJSON[T any](store Store) *JSON[T] {
	if store == nil {
		panic("kvstore: store is required")
	}
	return &JSON[T]{store: store}
}

// Get decodes the value under key. ok is false when the key is absent.
func (j *JSON[T]) Get(ctx context.Context, key string) (v T, ok bool, err error) {
	raw, err := j.store.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return v, false, nil
	}
	if err != nil {
		return v, false, err
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return v, false, fmt.Errorf("kvstore: decode %q: %w", key, err)
	}
	return v, true, nil
}

func (j *JSON[T]) Set(ctx context.Context, key string, v T) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("kvstore: encode %q: %w", key, err)
	}
	return j.store.Set(ctx, key, raw)
}

func (j *JSON[T]) Remove(ctx context.Context, key string) error {
	return j.store.Remove(ctx, key)
}

// Update runs fn against the decoded current value inside the store's atomic
// Update. exists is false when the key was absent and cur is the zero value.
func (j *JSON[T]) Update(ctx context.Context, key string, fn func(cur T, exists bool) (T, error)) (T, error) {
	var out T
	raw, err := j.store.Update(ctx, key, func(current []byte) ([]byte, error) {
		var cur T
		exists := current != nil
		if exists {
			if err := json.Unmarshal(current, &cur); err != nil {
				return nil, fmt.Errorf("kvstore: decode %q: %w", key, err)
			}
		}
		next, err := fn(cur, exists)
		if err != nil {
			return nil, err
		}
		return json.Marshal(next)
	})
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("kvstore: decode %q: %w", key, err)
	}
	return out, nil
}

// Keys lists keys with prefix.
func (j *JSON[T]) Keys(ctx context.Context, prefix string) ([]string, error) {
	return j.store.Keys(ctx, prefix)
}
