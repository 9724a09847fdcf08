package kvstore

import (
	"context"
	"embed"
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/truthlens/entitlements/pkg/pg"
)

// Migrations holds the goose migrations creating the kv_entries table.
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations.
const MigrationsDir = "migrations"

const (
	pgGetQuery    = `SELECT value FROM kv_entries WHERE key = $1`
	pgUpsertQuery = `INSERT INTO kv_entries (key, value, updated_at) VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
	pgDeleteQuery = `DELETE FROM kv_entries WHERE key = $1`
	pgKeysQuery   = `SELECT key FROM kv_entries WHERE key LIKE $1 ESCAPE '\'`
	// Serialises writers of one key for the lifetime of the transaction,
	// including the insert-if-absent case a row lock cannot cover.
	pgLockQuery = `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`
)

// Postgres stores each key as a row in kv_entries.
type Postgres struct {
	pool *pgxpool.Pool
}

func NewPostgres(pool *pgxpool.Pool) *Postgres {
	if pool == nil {
		panic("kvstore: postgres pool is required")
	}
	return &Postgres{pool: pool}
}

func (p *Postgres) Get(ctx context.Context, key string) ([]byte, error) {
	var v []byte
	err := p.pool.QueryRow(ctx, pgGetQuery, key).Scan(&v)
	if pg.IsNotFoundError(err) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	return v, nil
}

func (p *Postgres) Set(ctx context.Context, key string, value []byte) error {
	if _, err := p.pool.Exec(ctx, pgUpsertQuery, key, value); err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

func (p *Postgres) Remove(ctx context.Context, key string) error {
	if _, err := p.pool.Exec(ctx, pgDeleteQuery, key); err != nil {
		return errors.Join(ErrStorage, err)
	}
	return nil
}

func (p *Postgres) Update(ctx context.Context, key string, fn MutateFunc) ([]byte, error) {
	var result []byte
	err := pgx.BeginTxFunc(ctx, p.pool, pgx.TxOptions{}, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, pgLockQuery, key); err != nil {
			return err
		}

		var cur []byte
		err := tx.QueryRow(ctx, pgGetQuery, key).Scan(&cur)
		if err != nil && !pg.IsNotFoundError(err) {
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
		if _, err := tx.Exec(ctx, pgUpsertQuery, key, next); err != nil {
			return err
		}
		result = next
		return nil
	})
	if err != nil {
		return nil, storageErr(err)
	}
	return result, nil
}

func (p *Postgres) Keys(ctx context.Context, prefix string) ([]string, error) {
	rows, err := p.pool.Query(ctx, pgKeysQuery, escapeLike(prefix)+"%")
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	keys, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, errors.Join(ErrStorage, err)
	}
	return keys, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string { return likeEscaper.Replace(s) }
