package workqueue

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pterm/pterm"

	"logship/internal/database/models"
	"logship/internal/database/repositories"
	"logship/internal/ingest"
	"logship/internal/realtime"
)

const (
	DefaultPollInterval    = 30 * time.Second
	DefaultPurgeBatchSize  = 10000
	DefaultInterBatchDelay = 100 * time.Millisecond
)

// Processor polls the queue and executes one item at a time. Concurrent
// processor instances coordinate through the repository's atomic claim, so
// no item is ever executed twice.
type Processor struct {
	queue     repositories.WorkQueueRepository
	records   repositories.LogRecordRepository
	summaries repositories.LogSummaryRepository
	podCache  *ingest.PodExistenceCache
	broadcast realtime.Broadcaster
	clock     clockwork.Clock
	logger    *pterm.Logger

	pollInterval    time.Duration
	batchSize       int
	interBatchDelay time.Duration
}

func NewProcessor(
	queue repositories.WorkQueueRepository,
	records repositories.LogRecordRepository,
	summaries repositories.LogSummaryRepository,
	podCache *ingest.PodExistenceCache,
	broadcast realtime.Broadcaster,
	clock clockwork.Clock,
	logger *pterm.Logger,
) *Processor {
	return &Processor{
		queue:           queue,
		records:         records,
		summaries:       summaries,
		podCache:        podCache,
		broadcast:       broadcast,
		clock:           clock,
		logger:          logger,
		pollInterval:    DefaultPollInterval,
		batchSize:       DefaultPurgeBatchSize,
		interBatchDelay: DefaultInterBatchDelay,
	}
}

// WithTuning overrides the poll interval, purge batch size, and
// inter-batch delay. Zero values keep the current setting.
func (p *Processor) WithTuning(pollInterval time.Duration, batchSize int, interBatchDelay time.Duration) *Processor {
	if pollInterval > 0 {
		p.pollInterval = pollInterval
	}
	if batchSize > 0 {
		p.batchSize = batchSize
	}
	if interBatchDelay >= 0 {
		p.interBatchDelay = interBatchDelay
	}
	return p
}

// Run re-pends items orphaned by a previous crash, then polls until the
// context is cancelled. A failed item never stops the loop.
func (p *Processor) Run(ctx context.Context) {
	if _, err := p.queue.ResetOrphaned(); err != nil {
		p.logger.WithCaller().Error("Failed to reset orphaned work items", p.logger.Args("error", err))
	}

	p.logger.Info("Work queue processor started",
		p.logger.Args("poll_interval", p.pollInterval.String(), "batch_size", p.batchSize))

	ticker := p.clock.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Work queue processor stopped")
			return
		case <-ticker.Chan():
			p.ProcessNext(ctx)
		}
	}
}

// ProcessNext claims and executes the oldest Pending item, if any. Exposed
// for synchronous use in tests and admin triggers.
func (p *Processor) ProcessNext(ctx context.Context) {
	item, err := p.queue.ClaimOldestPending()
	if err != nil {
		p.logger.WithCaller().Error("Failed to claim next work item", p.logger.Args("error", err))
		return
	}
	if item == nil {
		return
	}

	p.logger.Info("Executing work item",
		p.logger.Args("id", item.ID, "type", item.Type, "pod", item.PodName, "range", item.TimeRange))
	p.broadcast.PurgeProgress(*item)

	deleted, err := p.execute(ctx, item)
	if err != nil {
		p.logger.WithCaller().Error("Work item failed",
			p.logger.Args("id", item.ID, "deleted_before_failure", deleted, "error", err))
		if failErr := p.queue.Fail(item.ID, err.Error()); failErr != nil {
			p.logger.WithCaller().Error("Failed to persist failure state",
				p.logger.Args("id", item.ID, "error", failErr))
		}
		p.broadcastItem(item.ID)
		return
	}

	if err := p.queue.Complete(item.ID, deleted); err != nil {
		p.logger.WithCaller().Error("Failed to persist completion",
			p.logger.Args("id", item.ID, "error", err))
		return
	}

	p.podCache.Invalidate(item.PodName)
	p.logger.Info("Work item completed",
		p.logger.Args("id", item.ID, "pod", item.PodName, "records_deleted", deleted))
	p.broadcastItem(item.ID)
}

// execute runs the purge in row-bounded delete batches. Cancellation is
// cooperative and only checked between batches; each individual DELETE is
// atomic, so no batch is ever left half-applied.
func (p *Processor) execute(ctx context.Context, item *models.WorkQueueItem) (int64, error) {
	if item.Type != models.WorkItemLogPurge {
		return 0, fmt.Errorf("unknown work item type %q", item.Type)
	}

	var cutoff *time.Time
	if c, bounded := item.TimeRange.CutoffFrom(p.clock.Now()); bounded {
		cutoff = &c
	}

	var deleted int64
	lastProgress := item.Progress
	for {
		select {
		case <-ctx.Done():
			return deleted, ctx.Err()
		default:
		}

		n, err := p.records.DeleteBatch(item.PodName, item.DeploymentName, cutoff, p.batchSize)
		if err != nil {
			return deleted, fmt.Errorf("deleting record batch: %w", err)
		}
		if n == 0 {
			break
		}
		deleted += n

		progress := purgeProgress(deleted, item.EstimatedRecords)
		if progress != lastProgress {
			lastProgress = progress
			if err := p.queue.UpdateProgress(item.ID, progress, deleted); err != nil {
				p.logger.Warn("Failed to persist progress",
					p.logger.Args("id", item.ID, "progress", progress, "error", err))
			}
			p.broadcastItem(item.ID)
		}

		// Yield between batches so ingestion is never starved.
		p.clock.Sleep(p.interBatchDelay)
	}

	if _, err := p.summaries.Purge(item.PodName, item.DeploymentName, cutoff); err != nil {
		return deleted, fmt.Errorf("purging summary rows: %w", err)
	}
	return deleted, nil
}

// purgeProgress maps a running delete count to a percentage. Without an
// estimate the job reports a flat 50 until completion.
func purgeProgress(deleted, estimated int64) int {
	if estimated <= 0 {
		return 50
	}
	progress := int(deleted * 100 / estimated)
	if progress > 100 {
		progress = 100
	}
	return progress
}

func (p *Processor) broadcastItem(id string) {
	item, err := p.queue.FindByID(id)
	if err != nil {
		return
	}
	p.broadcast.PurgeProgress(*item)
}
