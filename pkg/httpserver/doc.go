// Package httpserver runs an http.Handler with context driven graceful
// shutdown.
//
// Run blocks until its context is cancelled (or Shutdown is called), then
// drains in-flight requests for at most the shutdown timeout. Signal handling
// is left to the caller, which usually cancels the context from
// signal.NotifyContext and runs the server next to other components:
//
//	srv := httpserver.NewFromConfig(cfg, httpserver.WithLogger(log))
//	g, ctx := errgroup.WithContext(ctx)
//	g.Go(srv.Start(ctx, router))
//	g.Go(worker.Run(ctx))
//	return g.Wait()
//
// LivenessHandler and ReadinessHandler serve probe endpoints; readiness takes
// named checks such as redis.Healthcheck or pg.Healthcheck.
//
// Listen errors are wrapped with ErrStart and shutdown errors with
// ErrShutdown.
package httpserver
