// Package replication moves completed records out of the primary store into
// an archive store on a cron schedule, keeping the working set small.
package replication

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/dukex/smsbridge/pkg/eventbus"
	"github.com/dukex/smsbridge/pkg/events"
	"github.com/dukex/smsbridge/pkg/models"
	"github.com/dukex/smsbridge/pkg/persistence"
)

const (
	defaultSchedule   = "0 2 * * *"
	archiveBatchLimit = 100
)

// Archiver copies completed records to the archive store and purges them from
// the primary one. The purge is conditional on the revision read during the
// cycle, so a record that changed mid-cycle survives until the next run.
type Archiver struct {
	primary   persistence.Store
	archive   persistence.Store
	publisher eventbus.EventPublisher
	schedule  string
	logger    *slog.Logger
	cron      *cron.Cron
}

func NewArchiver(primary, archive persistence.Store, publisher eventbus.EventPublisher, schedule string, logger *slog.Logger) *Archiver {
	if schedule == "" {
		schedule = defaultSchedule
	}

	return &Archiver{
		primary:   primary,
		archive:   archive,
		publisher: publisher,
		schedule:  schedule,
		logger:    logger.With("module", "archiver"),
	}
}

// Start schedules the archiving job. Overlapping runs are skipped.
func (a *Archiver) Start(ctx context.Context) error {
	clogger := &cronLogger{logger: a.logger}

	a.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(clogger),
		cron.Recover(clogger),
	))

	_, err := a.cron.AddFunc(a.schedule, func() {
		err := a.RunOnce(context.Background())
		if err != nil {
			a.logger.Error("Archive cycle failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid archive schedule %q: %w", a.schedule, err)
	}

	a.cron.Start()
	a.logger.InfoContext(ctx, "Archiver scheduled", "schedule", a.schedule)

	return nil
}

// Stop halts the schedule and waits for a running cycle to finish.
func (a *Archiver) Stop(ctx context.Context) error {
	if a.cron == nil {
		return nil
	}

	select {
	case <-a.cron.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	return nil
}

// RunOnce archives one batch of completed records. Each record is copied
// first and only purged after the copy is durable, so a crash between the two
// steps leaves a duplicate, never a loss.
func (a *Archiver) RunOnce(ctx context.Context) error {
	completed, err := a.primary.CompletedRecords(ctx, archiveBatchLimit)
	if err != nil {
		return fmt.Errorf("failed to list completed records: %w", err)
	}

	if len(completed) == 0 {
		return nil
	}

	a.logger.InfoContext(ctx, "Archiving completed records", "count", len(completed))

	for _, record := range completed {
		err = a.archiveOne(ctx, record)
		if err != nil {
			a.logger.WarnContext(ctx, "Failed to archive record", "record_id", record.ID, "error", err)
		}
	}

	return nil
}

func (a *Archiver) archiveOne(ctx context.Context, record *models.Record) error {
	existing, err := a.archive.RecordByID(ctx, record.ID)
	if err != nil {
		return fmt.Errorf("failed to check archive: %w", err)
	}

	if existing == nil {
		copied := *record
		copied.Rev = ""

		results, err := a.archive.BulkSave(ctx, []*models.Record{&copied})
		if err != nil {
			return fmt.Errorf("failed to write archive copy: %w", err)
		}

		if !results[0].Ok {
			return fmt.Errorf("archive copy was not persisted: %w", results[0].Err)
		}
	}

	err = a.primary.DeleteRecord(ctx, record.ID, record.Rev)
	if err != nil {
		if persistence.IsRevConflict(err) {
			// The record moved on since the cycle started; the next run
			// re-evaluates it.
			a.logger.InfoContext(ctx, "Record changed during archiving, skipping purge", "record_id", record.ID)

			return nil
		}

		return fmt.Errorf("failed to purge record: %w", err)
	}

	a.publishArchived(ctx, record)

	return nil
}

func (a *Archiver) publishArchived(ctx context.Context, record *models.Record) {
	if a.publisher == nil {
		return
	}

	event := events.RecordArchived{
		BaseEvent: events.NewBaseEvent(events.RecordArchivedEvent, record.ID),
		Rev:       record.Rev,
	}

	err := a.publisher.Publish(ctx, record.ID, event)
	if err != nil {
		a.logger.WarnContext(ctx, "Failed to publish archive event", "record_id", record.ID, "error", err)
	}
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct {
	logger *slog.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}
