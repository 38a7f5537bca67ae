// Command lambda runs the pipeline as an AWS Lambda function behind an S3
// "object created" trigger.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"time"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/getsentry/sentry-go"

	"github.com/trunov/thumbhub/internal/app"
	"github.com/trunov/thumbhub/internal/config"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/events"
	"github.com/trunov/thumbhub/internal/pipeline"
)

var errRetryable = errors.New("records failed with retryable errors")

type Processor interface {
	ProcessBatch(ctx context.Context, records []entities.EventRecord) []pipeline.Result
}

type response struct {
	Succeeded int `json:"succeeded"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// newHandler returns the invocation handler. It fails the invocation only
// when a retry could help, so Lambda's own async retries redeliver the event.
func newHandler(proc Processor) func(ctx context.Context, e awsevents.S3Event) (response, error) {
	return func(ctx context.Context, e awsevents.S3Event) (response, error) {
		results := proc.ProcessBatch(ctx, events.FromS3Event(e))
		s := pipeline.Summarize(results)
		resp := response{Succeeded: s.Succeeded, Skipped: s.Skipped, Failed: s.Failed}

		for _, r := range results {
			if r.Retryable() {
				return resp, fmt.Errorf("%w: %s/%s: %w", errRetryable, r.Record.Bucket, r.Record.Key, r.Err)
			}
		}
		return resp, nil
	}
}

func main() {
	cfg, err := config.Load("")
	if err != nil {
		log.Fatal(err)
	}

	logger := app.NewLogger(&cfg.Log)
	slog.SetDefault(logger)

	if cfg.Sentry.SentryDSN != "" {
		if err := sentry.Init(sentry.ClientOptions{Dsn: cfg.Sentry.SentryDSN, Environment: cfg.Sentry.Environment}); err != nil {
			log.Fatalf("sentry.Init: %s", err)
		}
	}

	core, err := app.NewCore(context.Background(), cfg, logger)
	if err != nil {
		log.Fatal(err)
	}
	defer core.Close()

	handle := newHandler(core.Pipeline)
	lambda.Start(func(ctx context.Context, e awsevents.S3Event) (response, error) {
		// the sandbox may freeze right after returning
		defer sentry.Flush(2 * time.Second)
		return handle(ctx, e)
	})
}
