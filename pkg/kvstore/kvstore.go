// Package kvstore is the persistence contract every entitlement component is
// written against: a flat byte-valued key space with an atomic
// read-modify-write primitive.
//
// Backends:
//
//   - Memory: mutex-guarded map, the default for tests and single-process use.
//   - Redis: WATCH/MULTI optimistic transactions.
//   - Postgres: one row per key, Update serialised by a transaction-scoped advisory lock.
//   - Mongo: one document per key, Update is a compare-and-swap on a version counter.
//   - S3: one object per key, Update uses ETag conditional writes.
//
// Update semantics are identical across backends. The mutator sees the current
// value (nil when the key is absent) and returns the value to store. Returning a
// value byte-equal to the current one, or nil for an absent key, skips the
// write. An error from the mutator aborts the update and is returned as is.
// Mutators may run more than once under contention and must not have side
// effects.
package kvstore

import (
	"bytes"
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Get when the key does not exist.
	ErrNotFound = errors.New("kvstore: key not found")
	// ErrStorage wraps every backend I/O failure.
	ErrStorage = errors.New("kvstore: storage failure")
	// ErrConflict means an optimistic Update lost the race too many times.
	ErrConflict = errors.New("kvstore: too many concurrent updates")
)

// MutateFunc computes the next value from the current one.
type MutateFunc func(current []byte) ([]byte, error)

// Store is the storage backend contract.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Remove(ctx context.Context, key string) error
	// Update atomically applies fn to the value under key and returns the stored result.
	Update(ctx context.Context, key string, fn MutateFunc) ([]byte, error)
	// Keys lists keys starting with prefix, in no particular order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

const defaultMaxRetries = 16

// skipWrite reports whether next leaves the stored state untouched.
func skipWrite(current, next []byte) bool {
	if next == nil {
		return current == nil
	}
	return current != nil && bytes.Equal(current, next)
}

// mutateError marks an error produced by the caller's mutator so backends can
// tell it apart from their own failures after it passes through driver code.
type mutateError struct{ err error }

func (e *mutateError) Error() string { return e.err.Error() }
func (e *mutateError) Unwrap() error { return e.err }

// storageErr joins err with ErrStorage, passing mutator errors through untouched.
func storageErr(err error) error {
	var me *mutateError
	if errors.As(err, &me) {
		return me.err
	}
	return errors.Join(ErrStorage, err)
}

func clone(b []byte) []byte { return bytes.Clone(b) }
