package pipeline

import (
	"errors"
	"time"

	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/objectstore"
)

type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusSkipped   Status = "skipped"
	StatusFailed    Status = "failed"
)

// Stage names the step a record stopped at. Failed and skipped records
// carry the step that rejected them, successful ones StageDone.
type Stage string

const (
	StageDecodeKey Stage = "decode_key"
	StageValidate  Stage = "validate"
	StageFetch     Stage = "fetch"
	StagePlan      Stage = "plan"
	StageRender    Stage = "render"
	StageStore     Stage = "store"
	StageDone      Stage = "done"
)

// Result is the outcome of one record. Err is nil only on success.
type Result struct {
	BatchID string
	Record  entities.EventRecord
	Source  entities.SourceObjectRef
	Status  Status
	Stage   Stage
	Err     error

	Asset      entities.ImageAsset
	Plan       entities.ScalePlan
	DestBucket string
	DestKey    string
	Duration   time.Duration

	// Thumbnail is set once rendering succeeded, even if the store failed.
	Thumbnail entities.ThumbnailResult
}

func (r Result) Succeeded() bool { return r.Status == StatusSucceeded }

// Retryable reports whether redelivering the record could change the outcome.
func (r Result) Retryable() bool {
	if r.Status != StatusFailed {
		return false
	}
	return objectstore.IsRetryable(r.Err) || errors.Is(r.Err, ErrInsufficientTime)
}

// RunRecord flattens the result for observers. Image bytes are left out.
func (r Result) RunRecord() entities.RunRecord {
	rec := entities.RunRecord{
		BatchID:      r.BatchID,
		SourceBucket: r.Source.Bucket,
		SourceKey:    r.Source.Key,
		DestBucket:   r.DestBucket,
		DestKey:      r.DestKey,
		Status:       string(r.Status),
		Stage:        string(r.Stage),
		SourceWidth:  r.Asset.Width,
		SourceHeight: r.Asset.Height,
		TargetWidth:  r.Plan.TargetWidth,
		TargetHeight: r.Plan.TargetHeight,
		DurationMS:   r.Duration.Milliseconds(),
		UpdatedAt:    time.Now().UTC(),
	}
	if r.Source.Key == "" {
		rec.SourceBucket = r.Record.Bucket
		rec.SourceKey = r.Record.Key
	}
	if r.Asset.Format != entities.FormatUnknown {
		rec.Format = r.Asset.Format.String()
	}
	if r.Err != nil {
		rec.Error = r.Err.Error()
	}
	return rec
}

// Summary counts outcomes in a batch.
type Summary struct {
	Succeeded int
	Skipped   int
	Failed    int
}

func Summarize(results []Result) Summary {
	var s Summary
	for _, r := range results {
		switch r.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusSkipped:
			s.Skipped++
		case StatusFailed:
			s.Failed++
		}
	}
	return s
}
