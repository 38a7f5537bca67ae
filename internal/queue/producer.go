package queue

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/trunov/thumbhub/internal/entities"
)

var ErrEmptyJob = errors.New("job has no records")

type Producer struct {
	r      redis.UniversalClient
	stream string
	maxLen int64
}

func NewProducer(r redis.UniversalClient, stream string, maxLen int64) *Producer {
	return &Producer{r: r, stream: stream, maxLen: maxLen}
}

// Enqueue encodes the records as JSON and appends them to the stream as a
// single job. The stream entry ID is returned.
func (p *Producer) Enqueue(ctx context.Context, records []entities.EventRecord) (string, error) {
	return p.enqueue(ctx, Job{Records: records}, 0)
}

func (p *Producer) enqueue(ctx context.Context, job Job, attempt int) (string, error) {
	if len(job.Records) == 0 {
		return "", ErrEmptyJob
	}
	raw, err := json.Marshal(job)
	if err != nil {
		return "", err
	}
	return p.r.XAdd(ctx, &redis.XAddArgs{
		Stream: p.stream,
		MaxLen: p.maxLen,
		Values: map[string]any{
			"payload": string(raw),
			"attempt": attempt,
		},
	}).Result()
}
