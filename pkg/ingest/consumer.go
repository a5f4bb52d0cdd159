package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Consumer pops inbound messages off a Redis list and feeds them to the
// ingestion service. Gateways that cannot call the HTTP surface directly push
// payloads onto the queue instead.
type Consumer struct {
	client  redis.UniversalClient
	queue   string
	service *Service
	logger  *slog.Logger
	stopCh  chan struct{}
	wg      sync.WaitGroup
}

func NewConsumer(redisURL, queue string, service *Service, logger *slog.Logger) (*Consumer, error) {
	if queue == "" {
		return nil, errors.New("queue name is required")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	return &Consumer{
		client:  redis.NewClient(opts),
		queue:   queue,
		service: service,
		stopCh:  make(chan struct{}),
		logger: logger.With(
			"module", "queue_consumer",
			"queue", queue,
		),
	}, nil
}

func (c *Consumer) Start(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	err := c.client.Ping(pingCtx).Err()
	if err != nil {
		return fmt.Errorf("failed to connect to Redis: %w", err)
	}

	c.logger.InfoContext(ctx, "Starting queue consumer")

	c.wg.Add(1)

	go c.consume(ctx)

	return nil
}

func (c *Consumer) consume(ctx context.Context) {
	defer c.wg.Done()

	for {
		select {
		case <-c.stopCh:
			c.logger.InfoContext(ctx, "Queue consumer stopped")

			return
		case <-ctx.Done():
			c.logger.InfoContext(ctx, "Context cancelled, stopping queue consumer")

			return
		default:
			err := c.processMessage(ctx)
			if err != nil {
				c.logger.ErrorContext(ctx, "Error processing queue message", "error", err)
				time.Sleep(1 * time.Second)
			}
		}
	}
}

func (c *Consumer) processMessage(ctx context.Context) error {
	result, err := c.client.BLPop(ctx, 1*time.Second, c.queue).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}

		return fmt.Errorf("failed to pop message from queue: %w", err)
	}

	if len(result) < 2 {
		return nil
	}

	var msg InboundMessage

	err = json.Unmarshal([]byte(result[1]), &msg)
	if err != nil {
		c.logger.WarnContext(ctx, "Dropping malformed queue payload", "error", err)

		return nil
	}

	report, err := c.service.Ingest(ctx, []InboundMessage{msg})
	if err != nil {
		return fmt.Errorf("failed to ingest queued message: %w", err)
	}

	if len(report.Invalid) > 0 {
		c.logger.WarnContext(ctx, "Queued message rejected", "id", msg.ID, "reason", report.Invalid[0].Reason)
	}

	return nil
}

func (c *Consumer) Stop(ctx context.Context) error {
	c.logger.InfoContext(ctx, "Stopping queue consumer")

	close(c.stopCh)
	c.wg.Wait()

	err := c.client.Close()
	if err != nil {
		c.logger.ErrorContext(ctx, "Error closing Redis client", "error", err)
	}

	return nil
}
