// Package httpserver runs the entitlement service's HTTP API with
// context-driven graceful shutdown and provides the health probe handler.
//
//	srv := httpserver.New(cfg, httpserver.WithLogger(log))
//	if err := srv.Run(ctx, router); err != nil {
//	    return err
//	}
//
// Run returns when ctx is cancelled, after in-flight requests drain or
// Config.ShutdownTimeout elapses.
package httpserver
