package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	cli "github.com/urfave/cli/v3"

	"github.com/dukex/smsbridge/pkg/cmd"
	"github.com/dukex/smsbridge/pkg/ingest"
	"github.com/dukex/smsbridge/pkg/log"
	"github.com/dukex/smsbridge/pkg/messaging"
	"github.com/dukex/smsbridge/pkg/pipeline"
	"github.com/dukex/smsbridge/pkg/replication"
	"github.com/dukex/smsbridge/pkg/web"
)

const (
	defaultPort     = 9080
	shutdownTimeout = 10 * time.Second
)

func main() {
	command := &cli.Command{
		Name:                  "smsbridge",
		Usage:                 "Store-and-forward SMS messaging layer",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Record store URL (file://<dir> or postgres://...)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "archive-database-url",
				Usage:   "Archive store URL; completed records move there on a schedule",
				Sources: cli.EnvVars("ARCHIVE_DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "archive-schedule",
				Usage:   "Cron schedule for archiving completed records",
				Value:   "0 2 * * *",
				Sources: cli.EnvVars("ARCHIVE_SCHEDULE"),
			},
			&cli.StringFlag{
				Name:    "event-bus",
				Usage:   "Event bus provider (kafka, gochannel)",
				Value:   "gochannel",
				Sources: cli.EnvVars("EVENT_BUS"),
			},
			&cli.StringFlag{
				Name:    "outgoing-service",
				Usage:   "Gateway provider used for outbound messages",
				Sources: cli.EnvVars("OUTGOING_SERVICE"),
			},
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Redis URL for the inbound message queue; empty disables the consumer",
				Sources: cli.EnvVars("REDIS_URL"),
			},
			&cli.StringFlag{
				Name:    "queue",
				Usage:   "Redis list the inbound consumer pops from",
				Value:   "smsbridge:incoming",
				Sources: cli.EnvVars("QUEUE"),
			},
			&cli.DurationFlag{
				Name:    "poll-interval",
				Usage:   "Interval between outbound polling cycles",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("POLL_INTERVAL"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "info",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("smsbridge")
			logger.InfoContext(ctx, "Initializing smsbridge")

			return run(ctx, command, logger)
		},
	}

	err := command.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}

func run(ctx context.Context, command *cli.Command, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := cmd.NewPersistence(ctx, logger, command.String("database-url"))
	if err != nil {
		return err
	}

	defer func() {
		err := store.Close(ctx)
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close store", "error", err)
		}
	}()

	eventBus, err := cmd.NewEventBus(command.String("event-bus"), logger)
	if err != nil {
		return err
	}

	defer func() {
		err := eventBus.Close()
		if err != nil {
			logger.ErrorContext(ctx, "Failed to close event bus", "error", err)
		}
	}()

	registry := cmd.NewGatewayRegistry(logger)

	reconciler := messaging.NewReconciler(store, eventBus, logger)
	dispatcher := messaging.NewDispatcher(store, registry, reconciler, command.String("outgoing-service"), logger)
	ingestService := ingest.NewService(store, pipeline.New(store, logger), dispatcher, eventBus, logger)

	poller := messaging.NewPoller(dispatcher, command.Duration("poll-interval"), logger)

	err = poller.Start(ctx)
	if err != nil {
		return err
	}

	defer shutdownComponent(ctx, logger, poller.Stop, "poller")

	if redisURL := command.String("redis-url"); redisURL != "" {
		consumer, err := ingest.NewConsumer(redisURL, command.String("queue"), ingestService, logger)
		if err != nil {
			return err
		}

		err = consumer.Start(ctx)
		if err != nil {
			return err
		}

		defer shutdownComponent(ctx, logger, consumer.Stop, "queue consumer")
	}

	if archiveURL := command.String("archive-database-url"); archiveURL != "" {
		archive, err := cmd.NewPersistence(ctx, logger, archiveURL)
		if err != nil {
			return err
		}

		defer func() {
			err := archive.Close(ctx)
			if err != nil {
				logger.ErrorContext(ctx, "Failed to close archive store", "error", err)
			}
		}()

		archiver := replication.NewArchiver(store, archive, eventBus, command.String("archive-schedule"), logger)

		err = archiver.Start(ctx)
		if err != nil {
			return err
		}

		defer shutdownComponent(ctx, logger, archiver.Stop, "archiver")
	}

	handlers := web.NewAPIHandlers(
		ingestService,
		reconciler,
		dispatcher,
		store,
		validator.New(validator.WithRequiredStructEnabled()),
		logger,
	)

	api := NewAPI(logger, handlers)

	errCh := make(chan error, 1)

	go func() {
		errCh <- api.Start(command.Int("port"))
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return api.Shutdown(shutdownCtx)
}

func shutdownComponent(ctx context.Context, logger *slog.Logger, stop func(context.Context) error, name string) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	err := stop(shutdownCtx)
	if err != nil {
		logger.Error("Failed to stop "+name, "error", err)
	}
}
