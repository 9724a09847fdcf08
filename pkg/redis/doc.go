// Package redis connects to the Redis server that backs the Redis key-value
// store and the distributed validation lock.
//
// Connect retries the initial ping according to Config, and Healthcheck
// adapts a client to the HTTP server's readiness probe:
//
//	client, err := redis.Connect(ctx, cfg)
//	if err != nil {
//	    return err
//	}
//	store := kvstore.NewRedis(client, kvstore.WithRedisPrefix(cfg.KeyPrefix))
//	locker := lock.NewRedsync(client)
//
// Errors wrap go-redis errors with sentinel values via errors.Join.
package redis
