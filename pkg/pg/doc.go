// Package pg connects to PostgreSQL with pgx/v5 and applies goose migrations
// from an fs.FS, so packages that own a schema (such as the Postgres
// key-value store) can embed their migrations next to the code that uses
// them.
//
//	pool, err := pg.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	if err := pg.Migrate(ctx, pool, cfg, kvstore.Migrations, kvstore.MigrationsDir, log); err != nil {
//	    return err
//	}
//	store := kvstore.NewPostgres(pool)
//
// Healthcheck adapts the pool to the HTTP server's readiness probe.
package pg
