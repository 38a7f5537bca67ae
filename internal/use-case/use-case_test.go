package use_case

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunov/thumbhub/internal/cache"
	"github.com/trunov/thumbhub/internal/entities"
	"github.com/trunov/thumbhub/internal/events"
	"github.com/trunov/thumbhub/internal/pipeline"
)

type fakeQueue struct {
	jobs [][]entities.EventRecord
	err  error
}

func (q *fakeQueue) Enqueue(ctx context.Context, records []entities.EventRecord) (string, error) {
	if q.err != nil {
		return "", q.err
	}
	q.jobs = append(q.jobs, records)
	return "1-0", nil
}

type fakeProcessor struct{}

func (fakeProcessor) ProcessBatch(ctx context.Context, records []entities.EventRecord) []pipeline.Result {
	out := make([]pipeline.Result, len(records))
	for i, rec := range records {
		out[i] = pipeline.Result{
			Record: rec,
			Source: entities.SourceObjectRef{Bucket: rec.Bucket, Key: rec.Key},
			Status: pipeline.StatusSucceeded,
			Stage:  pipeline.StageDone,
		}
	}
	return out
}

type fakeCache struct {
	rec entities.RunRecord
	err error
}

func (f fakeCache) Status(ctx context.Context, bucket, key string) (entities.RunRecord, error) {
	return f.rec, f.err
}

type fakeStorage struct {
	rec   entities.RunRecord
	err   error
	calls int
}

func (f *fakeStorage) GetRun(ctx context.Context, bucket, key string) (entities.RunRecord, error) {
	f.calls++
	return f.rec, f.err
}

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func notification(t *testing.T) events.Notification {
	t.Helper()
	n, err := events.Parse([]byte(`{"Records":[
		{"eventName":"ObjectCreated:Put","s3":{"bucket":{"name":"u"},"object":{"key":"a.png"}}},
		{"eventName":"ObjectRemoved:Delete","s3":{"bucket":{"name":"u"},"object":{"key":"b.png"}}}
	]}`))
	require.NoError(t, err)
	return n
}

func TestIngestQueues(t *testing.T) {
	q := &fakeQueue{}
	uc := New(nil, nil, q, fakeProcessor{}, quiet())

	res, err := uc.Ingest(context.Background(), notification(t))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Accepted)
	assert.Equal(t, "1-0", res.JobID)
	assert.Empty(t, res.Results)
	assert.Equal(t, [][]entities.EventRecord{{{Bucket: "u", Key: "a.png"}}}, q.jobs)
}

func TestIngestQueueError(t *testing.T) {
	uc := New(nil, nil, &fakeQueue{err: errors.New("redis down")}, nil, quiet())
	_, err := uc.Ingest(context.Background(), notification(t))
	assert.Error(t, err)
}

func TestIngestInline(t *testing.T) {
	uc := New(nil, nil, nil, fakeProcessor{}, quiet())

	res, err := uc.Ingest(context.Background(), notification(t))
	require.NoError(t, err)
	assert.Empty(t, res.JobID)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "succeeded", res.Results[0].Status)
	assert.Equal(t, "a.png", res.Results[0].SourceKey)
}

func TestIngestNothingCreated(t *testing.T) {
	q := &fakeQueue{}
	uc := New(nil, nil, q, nil, quiet())
	n := events.FromRecords(nil)

	res, err := uc.Ingest(context.Background(), n)
	require.NoError(t, err)
	assert.Zero(t, res.Accepted)
	assert.Empty(t, q.jobs)
}

func TestStatusPrefersCache(t *testing.T) {
	store := &fakeStorage{rec: entities.RunRecord{Status: "failed"}}
	uc := New(store, fakeCache{rec: entities.RunRecord{Status: "succeeded"}}, nil, nil, quiet())

	rec, err := uc.Status(context.Background(), "u", "a.png")
	require.NoError(t, err)
	assert.Equal(t, "succeeded", rec.Status)
	assert.Zero(t, store.calls)
}

func TestStatusFallsBackToStorage(t *testing.T) {
	for _, cacheErr := range []error{cache.ErrMiss, errors.New("connection refused")} {
		store := &fakeStorage{rec: entities.RunRecord{Status: "failed"}}
		uc := New(store, fakeCache{err: cacheErr}, nil, nil, quiet())

		rec, err := uc.Status(context.Background(), "u", "a.png")
		require.NoError(t, err)
		assert.Equal(t, "failed", rec.Status)
		assert.Equal(t, 1, store.calls)
	}
}

func TestStatusNotFound(t *testing.T) {
	uc := New(nil, fakeCache{err: cache.ErrMiss}, nil, nil, quiet())
	_, err := uc.Status(context.Background(), "u", "a.png")
	assert.ErrorIs(t, err, entities.ErrRunNotFound)

	uc = New(&fakeStorage{err: entities.ErrRunNotFound}, nil, nil, nil, quiet())
	_, err = uc.Status(context.Background(), "u", "a.png")
	assert.ErrorIs(t, err, entities.ErrRunNotFound)
}
