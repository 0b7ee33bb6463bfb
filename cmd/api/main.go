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
	"nodevideo/internal/delivery"
	"nodevideo/internal/handlers"
	"nodevideo/internal/jobs"
	"nodevideo/internal/log"
	"nodevideo/internal/processing"
	"nodevideo/internal/queue"
	"nodevideo/internal/server"
	"nodevideo/internal/service"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := log.New(cfg.Environment, cfg.Logging.Level)
	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("api stopped")
	}
	logger.Info().Msg("server exited cleanly")
}

func run(cfg *config.AppConfig, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := bootstrap.Open(ctx, cfg, logger, !cfg.Processing.Inline)
	if err != nil {
		return err
	}
	defer res.Close()

	g, gctx := errgroup.WithContext(ctx)

	hub := broadcast.NewHub(cfg.Broadcast.SubscriberBuffer, logger)
	var publisher broadcast.Publisher = hub
	if res.Redis != nil {
		relay := broadcast.NewRedisRelay(res.Redis, cfg.Redis.ProgressChannel, hub, logger)
		publisher = relay
		g.Go(func() error {
			return ignoreCanceled(relay.Run(gctx))
		})
	}

	var (
		reviews     handlers.Submitter
		requester   service.ReviewRequester
		coordinator *processing.Coordinator
		scheduler   *jobs.Scheduler
	)
	if cfg.Processing.Inline {
		coordinator = processing.NewCoordinator(
			res.Videos,
			bootstrap.NewAnalyzer(cfg.Processing, res.Storage),
			publisher,
			processing.Options{AllowResubmitFailed: cfg.Processing.AllowResubmitFailed},
			logger,
		)
		reviews = coordinator
		requester = service.InlineReviews{Coordinator: coordinator}

		sweeper := jobs.NewStaleSweeper(res.Videos, coordinator, publisher, cfg.Processing.StaleAfter, logger)
		scheduler = jobs.NewScheduler(cfg.Processing.SweepSchedule, sweeper, logger)
		if err := scheduler.Start(); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		producer := queue.NewProducer(res.Redis, cfg.Redis.Stream)
		reviews = service.QueuedSubmitter{
			Videos:              res.Videos,
			Queue:               producer,
			AllowResubmitFailed: cfg.Processing.AllowResubmitFailed,
		}
		requester = service.QueuedReviews{Queue: producer}
	}

	deliveryServer := delivery.NewServer(res.Videos, res.Storage, logger)

	var checks []handlers.HealthCheck
	if res.Pool != nil {
		checks = append(checks, handlers.HealthCheck{Name: "database", Ping: res.Pool.Ping})
	}
	if res.Redis != nil {
		checks = append(checks, handlers.HealthCheck{Name: "cache", Ping: func(ctx context.Context) error {
			return res.Redis.Ping(ctx).Err()
		}})
	}

	handlerSet := handlers.NewHandlerSet(handlers.Deps{
		Log:      logger,
		Config:   cfg,
		Uploads:  service.NewUploadService(res.Videos, res.Storage, requester, cfg.Upload.MaxBytes, logger),
		Videos:   service.NewVideoService(res.Videos, res.Storage, cfg.Security.StreamSecret, cfg.Security.StreamURLTTL, logger),
		Reviews:  reviews,
		Delivery: deliveryServer,
		Events:   hub,
		Checks:   checks,
	})
	httpServer := server.NewHTTPServer(cfg, logger, handlerSet)

	g.Go(httpServer.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown signal received")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		if scheduler != nil {
			if err := scheduler.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("scheduler stop: %w", err))
			}
		}
		if coordinator != nil {
			if err := coordinator.Shutdown(shutdownCtx); err != nil {
				logger.Warn().Err(err).Msg("review jobs interrupted")
			}
		}
		deliveryServer.Wait()
		return errors.Join(errs...)
	})

	return g.Wait()
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
