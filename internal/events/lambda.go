package events

import (
	awsevents "github.com/aws/aws-lambda-go/events"

	"github.com/trunov/thumbhub/internal/entities"
)

// FromS3Event extracts records from a Lambda S3 trigger. The raw key is
// kept; decoding is the pipeline's job.
func FromS3Event(e awsevents.S3Event) []entities.EventRecord {
	out := make([]entities.EventRecord, 0, len(e.Records))
	for _, r := range e.Records {
		if r.EventName != "" && !IsObjectCreated(r.EventName) {
			continue
		}
		out = append(out, entities.EventRecord{
			Bucket: r.S3.Bucket.Name,
			Key:    r.S3.Object.Key,
		})
	}
	return out
}
