package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/thumbhub/internal/config"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/pipeline"
)

// Processor is the part of the pipeline the worker drives.
type Processor interface {
	ProcessBatch(ctx context.Context, records []entities.EventRecord) []pipeline.Result
}

type Worker struct {
	rc       redis.UniversalClient
	cfg      config.StreamWorkerConfig
	proc     Processor
	producer *Producer
	logger   *slog.Logger

	// after schedules a redelivery; replaced in tests
	after func(d time.Duration, fn func())
}

func NewWorker(rc redis.UniversalClient, cfg config.StreamWorkerConfig, proc Processor, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{
		rc:       rc,
		cfg:      cfg,
		proc:     proc,
		producer: NewProducer(rc, cfg.Stream, cfg.MaxLen),
		logger:   logger.With("component", "stream-worker", "stream", cfg.Stream),
		after: func(d time.Duration, fn func()) {
			time.AfterFunc(d, fn)
		},
	}
}

// Producer feeds the stream this worker consumes.
func (w *Worker) Producer() *Producer {
	return w.producer
}

func (w *Worker) EnsureGroup(ctx context.Context) error {
	// Without MkStream, Redis would error out if you try to create a group before any messages exist in the stream.
	err := w.rc.XGroupCreateMkStream(ctx, w.cfg.Stream, w.cfg.Group, "0").Err()
	// Redis returns BUSYGROUP if the group already exists therefore we check for other errors
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (w *Worker) Start(ctx context.Context) error {
	if err := w.EnsureGroup(ctx); err != nil {
		return fmt.Errorf("failed to ensure Redis group: %w", err)
	}

	w.logger.Info("starting consumer",
		"group", w.cfg.Group,
		"consumer", w.cfg.Consumer,
		"workers", w.cfg.Workers,
	)

	// Adopt orphaned pending messages
	claimed := w.autoClaim(ctx)
	w.logger.Info("auto-claim complete", "claimed", claimed)

	workers := max(w.cfg.Workers, 1)
	errCh := make(chan error, workers)
	for i := 0; i < workers; i++ {
		i := i
		go func() {
			err := w.loop(ctx)
			if err != nil {
				w.logger.Error("reader stopped with error", "reader", i, "err", err)
			}
			errCh <- err
		}()
	}

	select {
	case <-ctx.Done():
		w.logger.Info("context canceled, stopping readers")
		return ctx.Err()
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("worker loop exited with error: %w", err)
		}
		return nil
	}
}

// autoClaim takes over messages delivered to consumers of the group that
// died before XACK, so a restart picks their records up again. Claimed
// messages are handled right away.
func (w *Worker) autoClaim(ctx context.Context) int {
	next := "0-0"

	// Only messages idle well past the read block are reclaimed, so slow
	// batches still owned by a live consumer are left alone.
	minIdle := max(30*time.Second, 6*w.cfg.BlockTimeout())

	claimed := 0
	for {
		msgs, start, err := w.rc.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   w.cfg.Stream,
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			MinIdle:  minIdle,
			Start:    next,
			Count:    100,
		}).Result()
		if err != nil || len(msgs) == 0 {
			return claimed
		}
		for _, m := range msgs {
			w.handle(ctx, m)
		}
		claimed += len(msgs)
		if start == "0-0" {
			return claimed
		}
		next = start
	}
}

func (w *Worker) loop(ctx context.Context) error {
	for {
		// XREADGROUP marks the returned entries pending for this consumer.
		// They leave the pending list only on XACK, which handle() always
		// issues, so a crash mid-batch leaves them for autoClaim.
		streams, err := w.rc.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    w.cfg.Group,
			Consumer: w.cfg.Consumer,
			Streams:  []string{w.cfg.Stream, ">"},
			Count:    1,
			Block:    w.cfg.BlockTimeout(),
		}).Result()
		if ctx.Err() != nil {
			return nil
		}
		if err != nil && !errors.Is(err, redis.Nil) {
			w.logger.Warn("read failed", "err", err)
			if !sleep(ctx, max(w.cfg.BlockTimeout(), time.Second)) {
				return nil
			}
			continue
		}
		for _, s := range streams {
			for _, m := range s.Messages {
				w.handle(ctx, m)
			}
		}
	}
}

// handle runs one job through the pipeline. Records that failed for a
// reason that may go away are pushed back as a new job with the attempt
// bumped; everything else is final.
func (w *Worker) handle(ctx context.Context, m redis.XMessage) {
	defer func() {
		if err := w.rc.XAck(context.WithoutCancel(ctx), w.cfg.Stream, w.cfg.Group, m.ID).Err(); err != nil {
			w.logger.Warn("ack failed", "id", m.ID, "err", err)
		}
	}()

	log := w.logger.With("id", m.ID)

	raw, ok := m.Values["payload"].(string)
	if !ok {
		log.Error("dropping message without payload")
		return
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error("dropping undecodable message", "err", err)
		return
	}
	attempt := toInt(m.Values["attempt"])

	results := w.proc.ProcessBatch(ctx, job.Records)

	retry := RetryRecords(results)
	if len(retry) == 0 {
		return
	}
	if attempt+1 >= w.cfg.MaxAttempts {
		log.Error("giving up on records", "records", len(retry), "attempts", attempt+1)
		return
	}

	backoff := w.cfg.BackoffBase() << attempt
	log.Warn("requeueing records", "records", len(retry), "attempt", attempt+1, "backoff", backoff)
	w.after(backoff, func() {
		if _, err := w.producer.enqueue(context.Background(), Job{Records: retry}, attempt+1); err != nil {
			w.logger.Error("requeue failed", "records", len(retry), "err", err)
		}
	})
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// RetryRecords picks the records worth another delivery.
func RetryRecords(results []pipeline.Result) []entities.EventRecord {
	var out []entities.EventRecord
	for _, r := range results {
		if r.Retryable() {
			out = append(out, r.Record)
		}
	}
	return out
}

func toInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case string:
		x, _ := strconv.Atoi(t)
		return x
	default:
		return 0
	}
}
