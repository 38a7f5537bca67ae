// Package events turns S3 / MinIO bucket notifications into pipeline records.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/trunov/thumbhub/internal/entities"
)

var ErrNoRecords = errors.New("notification carries no records")

// Notification is the common part of the S3 event notification document.
// MinIO webhook, AMQP and Redis targets all deliver this shape.
type Notification struct {
	EventName string   `json:"EventName,omitempty"`
	Key       string   `json:"Key,omitempty"`
	Records   []Record `json:"Records" validate:"required,min=1,dive"`
}

type Record struct {
	EventName string   `json:"eventName"`
	EventTime string   `json:"eventTime,omitempty"`
	S3        S3Entity `json:"s3"`
}

type S3Entity struct {
	Bucket struct {
		Name string `json:"name" validate:"required"`
	} `json:"bucket"`
	Object struct {
		Key  string `json:"key" validate:"required"`
		Size int64  `json:"size"`
		ETag string `json:"eTag"`
	} `json:"object"`
}

var validate = validator.New()

// Parse decodes and validates a notification body.
func Parse(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return n, fmt.Errorf("decode notification: %w", err)
	}
	if len(n.Records) == 0 {
		return n, ErrNoRecords
	}
	if err := validate.Struct(n); err != nil {
		return n, fmt.Errorf("invalid notification: %w", err)
	}
	return n, nil
}

// EventRecords keeps only object-created records. A notification without
// event names (hand-built or replayed) is taken as-is.
func (n Notification) EventRecords() []entities.EventRecord {
	out := make([]entities.EventRecord, 0, len(n.Records))
	for _, r := range n.Records {
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

// IsObjectCreated matches both "ObjectCreated:Put" (AWS) and
// "s3:ObjectCreated:Put" (MinIO).
func IsObjectCreated(eventName string) bool {
	return strings.HasPrefix(strings.TrimPrefix(eventName, "s3:"), "ObjectCreated:")
}

// FromRecords builds a notification around already-extracted records, used
// when a batch has to be redelivered.
func FromRecords(records []entities.EventRecord) Notification {
	n := Notification{Records: make([]Record, 0, len(records))}
	for _, rec := range records {
		var r Record
		r.S3.Bucket.Name = rec.Bucket
		r.S3.Object.Key = rec.Key
		n.Records = append(n.Records, r)
	}
	return n
}
