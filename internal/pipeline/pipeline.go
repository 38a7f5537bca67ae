// Package pipeline runs the fetch, validate, plan, render and store flow for
// each "object created" record and reports a Result per record.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/planner"
	"github.com/trunov/thumbhub/internal/processor"
)

var ErrInsufficientTime = errors.New("insufficient time budget")

const observeTimeout = 5 * time.Second

type ObjectStore interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
	Put(ctx context.Context, bucket, key, contentType string, payload []byte) error
}

type Decoder interface {
	Decode(data []byte) (entities.ImageAsset, error)
}

type Renderer interface {
	Render(asset entities.ImageAsset, width, height int) ([]byte, error)
}

// Observer is told about every finished record. Errors are logged and
// never change the record's outcome.
type Observer interface {
	Observe(ctx context.Context, rec entities.RunRecord) error
}

type Options struct {
	Spec       entities.ThumbnailSpec
	DestBucket string
	DestPrefix string

	// Workers bounds how many records of a batch run at once. Defaults to GOMAXPROCS.
	Workers int
	// RecordTimeout caps a single record; zero leaves only the caller's deadline.
	RecordTimeout time.Duration
	// MinBudget is the least time left that fetch or store may start with.
	MinBudget time.Duration

	Decoder   Decoder
	Renderer  Renderer
	Observers []Observer
	Logger    *slog.Logger
}

type Pipeline struct {
	store      ObjectStore
	decoder    Decoder
	renderer   Renderer
	observers  []Observer
	spec       entities.ThumbnailSpec
	destBucket string
	destPrefix string

	workers       int
	recordTimeout time.Duration
	minBudget     time.Duration

	// cpu bounds decode+render across all batches running in the process
	cpu chan struct{}

	logger *slog.Logger
}

func New(store ObjectStore, opts Options) (*Pipeline, error) {
	if store == nil {
		return nil, errors.New("pipeline: object store is required")
	}
	if opts.Spec.MaxWidth <= 0 || opts.Spec.MaxHeight <= 0 {
		return nil, fmt.Errorf("pipeline: invalid bounding box %dx%d", opts.Spec.MaxWidth, opts.Spec.MaxHeight)
	}
	if opts.DestBucket == "" {
		return nil, errors.New("pipeline: destination bucket is required")
	}

	p := &Pipeline{
		store:         store,
		decoder:       opts.Decoder,
		renderer:      opts.Renderer,
		observers:     opts.Observers,
		spec:          opts.Spec,
		destBucket:    opts.DestBucket,
		destPrefix:    opts.DestPrefix,
		workers:       opts.Workers,
		recordTimeout: opts.RecordTimeout,
		minBudget:     opts.MinBudget,
		cpu:           make(chan struct{}, runtime.GOMAXPROCS(0)),
		logger:        opts.Logger,
	}
	if p.decoder == nil {
		p.decoder = processor.Decoder{}
	}
	if p.renderer == nil {
		p.renderer = processor.NewRenderer(processor.DefaultJPEGQuality)
	}
	if p.workers <= 0 {
		p.workers = runtime.GOMAXPROCS(0)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	p.logger = p.logger.With("component", "pipeline")

	return p, nil
}

// DestKey is where the thumbnail for a decoded source key is written.
func (p *Pipeline) DestKey(key string) string {
	return p.destPrefix + key
}

// ProcessBatch handles every record independently and returns one Result
// per record, in input order. A failing record never stops the others.
func (p *Pipeline) ProcessBatch(ctx context.Context, records []entities.EventRecord) []Result {
	batchID := uuid.NewString()
	results := make([]Result, len(records))

	g := new(errgroup.Group)
	g.SetLimit(p.workers)
	for i, rec := range records {
		i, rec := i, rec
		g.Go(func() error {
			results[i] = p.process(ctx, batchID, rec)
			return nil
		})
	}
	_ = g.Wait()

	s := Summarize(results)
	p.logger.Info("batch processed",
		"batch_id", batchID,
		"records", len(records),
		"succeeded", s.Succeeded,
		"skipped", s.Skipped,
		"failed", s.Failed,
	)
	return results
}

// Process runs a single record outside of any batch.
func (p *Pipeline) Process(ctx context.Context, rec entities.EventRecord) Result {
	return p.process(ctx, uuid.NewString(), rec)
}

func (p *Pipeline) process(ctx context.Context, batchID string, rec entities.EventRecord) Result {
	start := time.Now()

	if p.recordTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.recordTimeout)
		defer cancel()
	}

	res := p.run(ctx, rec)
	res.BatchID = batchID
	res.Duration = time.Since(start)

	p.notify(ctx, res)
	return res
}

func (p *Pipeline) run(ctx context.Context, rec entities.EventRecord) Result {
	res := Result{Record: rec}
	log := p.logger.With("bucket", rec.Bucket, "raw_key", rec.Key)

	res.Stage = StageDecodeKey
	key, err := DecodeKey(rec.Key)
	if err != nil {
		return p.fail(log, res, err)
	}
	res.Source = entities.SourceObjectRef{Bucket: rec.Bucket, Key: key}
	log = p.logger.With("bucket", rec.Bucket, "key", key)

	res.Stage = StageValidate
	if _, err := ImageType(key); err != nil {
		return p.skip(log, res, err)
	}

	res.Stage = StageFetch
	if err := p.checkBudget(ctx); err != nil {
		return p.fail(log, res, err)
	}
	data, err := p.store.Fetch(ctx, rec.Bucket, key)
	if err != nil {
		return p.fail(log, res, fmt.Errorf("error while downloading: %w", err))
	}

	var out []byte
	res.Stage = StagePlan
	err = p.cpuBound(ctx, func() error {
		asset, err := p.decoder.Decode(data)
		if err != nil {
			return err
		}
		res.Asset = asset
		res.Plan = planner.Plan(asset.Width, asset.Height, p.spec)

		res.Stage = StageRender
		out, err = p.renderer.Render(asset, res.Plan.TargetWidth, res.Plan.TargetHeight)
		return err
	})
	if err != nil {
		return p.fail(log, res, err)
	}

	res.Stage = StageStore
	res.DestBucket = p.destBucket
	res.DestKey = p.DestKey(key)
	res.Thumbnail = entities.ThumbnailResult{
		DestKey:     res.DestKey,
		ContentType: res.Asset.Format.ContentType(),
		Bytes:       out,
	}
	if err := p.checkBudget(ctx); err != nil {
		return p.fail(log, res, err)
	}
	if err := p.store.Put(ctx, res.DestBucket, res.Thumbnail.DestKey, res.Thumbnail.ContentType, res.Thumbnail.Bytes); err != nil {
		return p.fail(log, res, fmt.Errorf("error while uploading: %w", err))
	}

	res.Stage = StageDone
	res.Status = StatusSucceeded
	log.Info("successfully resized",
		"dest_bucket", res.DestBucket,
		"dest_key", res.DestKey,
		"source_size", fmt.Sprintf("%dx%d", res.Asset.Width, res.Asset.Height),
		"thumb_size", fmt.Sprintf("%dx%d", res.Plan.TargetWidth, res.Plan.TargetHeight),
	)
	return res
}

func (p *Pipeline) skip(log *slog.Logger, res Result, err error) Result {
	res.Status = StatusSkipped
	res.Err = err
	log.Info("skipping record", "stage", res.Stage, "reason", err.Error())
	return res
}

func (p *Pipeline) fail(log *slog.Logger, res Result, err error) Result {
	res.Status = StatusFailed
	res.Err = err
	log.Error("record failed", "stage", res.Stage, "err", err)
	return res
}

// checkBudget refuses to start an I/O step that the deadline will not let
// finish. Nothing is written when the store step is refused.
func (p *Pipeline) checkBudget(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrInsufficientTime, err)
	}
	if dl, ok := ctx.Deadline(); ok {
		if left := time.Until(dl); left < p.minBudget {
			return fmt.Errorf("%w: %s left", ErrInsufficientTime, left.Round(time.Millisecond))
		}
	}
	return nil
}

func (p *Pipeline) cpuBound(ctx context.Context, fn func() error) error {
	select {
	case p.cpu <- struct{}{}:
	case <-ctx.Done():
		return fmt.Errorf("%w: waiting for a render slot: %w", ErrInsufficientTime, ctx.Err())
	}
	defer func() { <-p.cpu }()

	return fn()
}

func (p *Pipeline) notify(ctx context.Context, res Result) {
	if len(p.observers) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), observeTimeout)
	defer cancel()

	rec := res.RunRecord()
	for _, o := range p.observers {
		if err := o.Observe(ctx, rec); err != nil {
			p.logger.Warn("observer failed",
				"observer", fmt.Sprintf("%T", o),
				"bucket", rec.SourceBucket,
				"key", rec.SourceKey,
				"err", err,
			)
		}
	}
}
