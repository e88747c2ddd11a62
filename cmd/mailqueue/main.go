// Command mailqueue runs the email queue: the HTTP API that accepts mail, the
// worker that delivers it and the sweeper that cleans finished jobs.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/learnhub/mailqueue/pkg/api"
	"github.com/learnhub/mailqueue/pkg/config"
	"github.com/learnhub/mailqueue/pkg/email"
	"github.com/learnhub/mailqueue/pkg/httpserver"
	"github.com/learnhub/mailqueue/pkg/logger"
	"github.com/learnhub/mailqueue/pkg/mailer"
	"github.com/learnhub/mailqueue/pkg/queue"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("mailqueue exited", logger.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	var cfg settings
	if err := config.Load(&cfg); err != nil {
		return err
	}

	log, err := logger.NewFromConfig(cfg.Log)
	if err != nil {
		return err
	}
	logger.SetAsDefault(log)

	storage, err := openStore(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer storage.close()

	transport, err := email.New(cfg.Mail)
	if err != nil {
		return err
	}
	verifyTransport(ctx, transport, cfg.App.VerifyTimeout, log)

	producer, err := mailer.NewProducer(storage.store,
		mailer.WithProducerLogger(log.With(logger.Component("producer"))),
		mailer.WithEnqueuerOptions(queue.WithDefaultMaxAttempts(cfg.Queue.MaxAttempts)))
	if err != nil {
		return err
	}

	metrics := queue.NewMetrics(storage.store)
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		metrics,
	)

	monitorOpts := []queue.MonitorOption{
		queue.WithTransportStatus(transport),
		queue.WithFailedThreshold(cfg.Queue.FailedThreshold),
		queue.WithFailedRetention(cfg.Queue.FailedRetention),
		queue.WithMonitorLogger(log.With(logger.Component("monitor"))),
	}

	var worker *queue.Worker
	if cfg.App.RunWorker {
		workerOpts := append(cfg.Queue.WorkerOptions(),
			queue.WithObserver(metrics),
			queue.WithWorkerLogger(log.With(logger.Component("worker"))))
		if storage.limiter != nil {
			workerOpts = append(workerOpts, queue.WithRateLimiter(storage.limiter, "mailqueue"))
		}

		worker, err = mailer.NewWorker(storage.store, transport,
			[]mailer.HandlerOption{
				mailer.WithHandlerLogger(log.With(logger.Component("mailer"))),
				mailer.WithProductName(cfg.App.ProductName),
			},
			workerOpts...)
		if err != nil {
			return err
		}
		monitorOpts = append(monitorOpts, queue.WithWorkerStatus(worker))
	}

	monitor, err := queue.NewMonitor(storage.store, monitorOpts...)
	if err != nil {
		return err
	}

	cleanup, err := cfg.Queue.CleanupPlan()
	if err != nil {
		return err
	}

	sweeper, err := queue.NewSweeper(monitor,
		queue.WithSchedule(cleanup),
		queue.WithCompletedRetention(cfg.Queue.CompletedRetention),
		queue.WithSweeperLogger(log.With(logger.Component("sweeper"))))
	if err != nil {
		return err
	}

	router := api.NewRouter(producer, monitor, storage.store,
		api.WithLogger(log.With(logger.Component("api"))),
		api.WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry})),
		api.WithReadinessChecks(cfg.App.ReadyTimeout, storage.checks...))

	server := httpserver.NewFromConfig(cfg.Server,
		httpserver.WithLogger(log.With(logger.Component("http"))))

	g, ctx := errgroup.WithContext(ctx)
	g.Go(server.Start(ctx, router))
	g.Go(sweeper.Run(ctx))
	if worker != nil {
		g.Go(runWorker(ctx, worker, cfg.Queue.ShutdownTimeout, log))
	}

	log.Info("mailqueue started",
		slog.String("store", cfg.App.StoreDriver),
		logger.Transport(transport.Name()),
		slog.Bool("worker", worker != nil),
		slog.String("addr", cfg.Server.Addr))

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info("mailqueue stopped")
	return nil
}

// verifyTransport checks the provider once at startup. A failure is logged and
// the process keeps accepting mail; health reports the transport as degraded.
func verifyTransport(ctx context.Context, t email.Transport, timeout time.Duration, log *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := t.Verify(ctx); err != nil {
		log.WarnContext(ctx, "mail transport not ready, jobs will be retried",
			logger.Transport(t.Name()),
			logger.Error(err))
		return
	}
	log.InfoContext(ctx, "mail transport verified", logger.Transport(t.Name()))
}

// runWorker runs w until ctx is done, then gives in-flight jobs timeout to
// finish. Jobs still running after that are recovered through their lease.
func runWorker(ctx context.Context, w *queue.Worker, timeout time.Duration, log *slog.Logger) func() error {
	return func() error {
		if err := w.Start(ctx); err != nil {
			return err
		}
		<-ctx.Done()

		stopped := make(chan error, 1)
		go func() { stopped <- w.Stop() }()

		select {
		case err := <-stopped:
			return err
		case <-time.After(timeout):
			log.Warn("worker shutdown timed out",
				slog.Int("in_flight", w.InFlight()),
				logger.Duration(timeout))
			return fmt.Errorf("worker did not stop within %s", timeout)
		}
	}
}
