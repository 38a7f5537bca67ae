package use_case

import (
	"context"
	"errors"
	"log/slog"

	"github.com/trunov/thumbhub/internal/cache"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/events"
	"github.com/trunov/thumbhub/internal/pipeline"
	"github.com/trunov/thumbhub/internal/transport/handler"
)

type Queue interface {
	Enqueue(ctx context.Context, records []entities.EventRecord) (string, error)
}

type Processor interface {
	ProcessBatch(ctx context.Context, records []entities.EventRecord) []pipeline.Result
}

type StatusCache interface {
	Status(ctx context.Context, bucket, key string) (entities.RunRecord, error)
}

type Storage interface {
	GetRun(ctx context.Context, bucket, key string) (entities.RunRecord, error)
}

type useCase struct {
	storage   Storage
	cache     StatusCache
	wqueue    Queue
	processor Processor
	logger    *slog.Logger
}

// New wires the use cases. Any collaborator may be nil: without a queue
// notifications are processed inline, without a cache or storage status
// lookups skip that tier.
func New(storage Storage, statusCache StatusCache, wqueue Queue, processor Processor, logger *slog.Logger) *useCase {
	if logger == nil {
		logger = slog.Default()
	}
	return &useCase{
		storage:   storage,
		cache:     statusCache,
		wqueue:    wqueue,
		processor: processor,
		logger:    logger.With("component", "use-case"),
	}
}

// Ingest hands the created-object records of a notification to the worker
// stream, or runs them right away when there is no stream.
func (c *useCase) Ingest(ctx context.Context, n events.Notification) (handler.IngestResult, error) {
	records := n.EventRecords()
	res := handler.IngestResult{Accepted: len(records)}
	if len(records) == 0 {
		return res, nil
	}

	if c.wqueue != nil {
		id, err := c.wqueue.Enqueue(ctx, records)
		if err != nil {
			return res, err
		}
		res.JobID = id
		c.logger.Info("notification queued", "job_id", id, "records", len(records))
		return res, nil
	}

	if c.processor == nil {
		return res, errors.New("no queue or processor configured")
	}
	for _, r := range c.processor.ProcessBatch(ctx, records) {
		res.Results = append(res.Results, r.RunRecord())
	}
	return res, nil
}

// Status looks in the Redis cache first and falls back to the run log.
func (c *useCase) Status(ctx context.Context, bucket, key string) (entities.RunRecord, error) {
	if c.cache != nil {
		rec, err := c.cache.Status(ctx, bucket, key)
		if err == nil {
			return rec, nil
		}
		if !errors.Is(err, cache.ErrMiss) {
			c.logger.Warn("status cache unavailable", "bucket", bucket, "key", key, "err", err)
		}
	}

	if c.storage == nil {
		return entities.RunRecord{}, entities.ErrRunNotFound
	}
	return c.storage.GetRun(ctx, bucket, key)
}
