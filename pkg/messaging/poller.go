package messaging

import (
	"context"
	"log/slog"
	"time"
)

const defaultPollInterval = 5 * time.Minute

// Poller runs the dispatcher's Poll on a fixed interval so messages that
// missed their targeted send still go out.
type Poller struct {
	dispatcher *Dispatcher
	interval   time.Duration
	logger     *slog.Logger
	stop       chan struct{}
	done       chan struct{}
}

func NewPoller(dispatcher *Dispatcher, interval time.Duration, logger *slog.Logger) *Poller {
	if interval <= 0 {
		interval = defaultPollInterval
	}

	return &Poller{
		dispatcher: dispatcher,
		interval:   interval,
		logger:     logger.With("module", "poller"),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start runs one immediate poll and then keeps polling on the interval until
// Stop is called or the context is cancelled.
func (p *Poller) Start(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Starting message poller", "interval", p.interval)

	go p.run(ctx)

	return nil
}

func (p *Poller) run(ctx context.Context) {
	defer close(p.done)

	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	err := p.dispatcher.Poll(ctx)
	if err != nil {
		p.logger.ErrorContext(ctx, "Polling cycle failed", "error", err)
	}
}

// Stop halts the polling loop and waits for the in-flight cycle to finish.
func (p *Poller) Stop(ctx context.Context) error {
	p.logger.InfoContext(ctx, "Stopping message poller")

	close(p.stop)

	select {
	case <-p.done:
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}
