package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"nodevideo/internal/bootstrap"
	"nodevideo/internal/broadcast"
	"nodevideo/internal/config"
	"nodevideo/internal/jobs"
	"nodevideo/internal/log"
	"nodevideo/internal/processing"
	"nodevideo/internal/queue"
	"nodevideo/internal/tasks"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level).With().Str("role", "worker").Logger()
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("worker stopped")
	}
	logger.Info().Msg("worker exited cleanly")
}

func run(cfg *config.AppConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Open(ctx, cfg, logger, true)
	if err != nil {
		return err
	}
	defer res.Close()

	// Progress reaches API observers through the relay; the local hub has no
	// subscribers in a worker.
	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, logger)
	relay := broadcast.NewRedisRelay(res.Redis, cfg.Redis.ProgressChannel, hub, logger)

	coordinator := processing.NewCoordinator(
		res.Videos,
		bootstrap.NewAnalyzer(cfg.Processing, res.Storage),
		relay,
		processing.Options{AllowResubmitFailed: cfg.Processing.AllowResubmitFailed},
		logger,
	)

	consumerName := cfg.Redis.Consumer
	if consumerName == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("consumer name: %w", err)
		}
		consumerName = host
	}
	consumer := queue.NewConsumer(
		res.Redis,
		cfg.Redis.Stream,
		cfg.Redis.Group,
		consumerName,
		cfg.Queue.ClaimInterval,
		logger,
		tasks.NewProcessor(coordinator, logger),
	)

	sweeper := jobs.NewStaleSweeper(res.Videos, coordinator, relay, cfg.Processing.StaleAfter, logger)
	scheduler := jobs.NewScheduler(cfg.Processing.SweepSchedule, sweeper, logger)
	if err := scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := consumer.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("consumer: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Int("active_jobs", coordinator.Active()).Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := scheduler.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
		}
		if err := coordinator.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("review jobs interrupted")
		}
		return errors.Join(errs...)
	})

	return g.Wait()
}
