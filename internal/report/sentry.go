// Package report sends failed pipeline runs to Sentry.
package report

import (
	"context"
	"errors"
	"strconv"

	"github.com/getsentry/sentry-go"

	"github.com/trunov/thumbhub/internal/entities"
)

type Sentry struct {
	hub *sentry.Hub
}

// NewSentry reports through hub, or the global hub when nil.
func NewSentry(hub *sentry.Hub) *Sentry {
	if hub == nil {
		hub = sentry.CurrentHub()
	}
	return &Sentry{hub: hub}
}

// Observe captures failed records only. Skips are expected input and
// successes carry nothing to report.
func (s *Sentry) Observe(ctx context.Context, rec entities.RunRecord) error {
	if rec.Status != "failed" {
		return nil
	}

	hub := s.hub.Clone()
	hub.WithScope(func(scope *sentry.Scope) {
		scope.SetLevel(sentry.LevelError)
		scope.SetTags(map[string]string{
			"bucket": rec.SourceBucket,
			"stage":  rec.Stage,
		})
		scope.SetContext("record", sentry.Context{
			"batch_id":    rec.BatchID,
			"key":         rec.SourceKey,
			"dest_bucket": rec.DestBucket,
			"dest_key":    rec.DestKey,
			"format":      rec.Format,
			"duration_ms": strconv.FormatInt(rec.DurationMS, 10),
		})
		hub.CaptureException(errors.New(rec.Error))
	})
	return nil
}
