package events

import (
	"encoding/json"
	"testing"

	awsevents "github.com/aws/aws-lambda-go/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunov/thumbhub/internal/entities"
)

const minioWebhook = `{
  "EventName": "s3:ObjectCreated:Put",
  "Key": "uploads/photo+name%20v2.png",
  "Records": [
    {
      "eventName": "s3:ObjectCreated:Put",
      "eventTime": "2024-05-01T10:00:00.000Z",
      "s3": {
        "bucket": {"name": "uploads"},
        "object": {"key": "photo+name%20v2.png", "size": 1024, "eTag": "abc"}
      }
    },
    {
      "eventName": "s3:ObjectRemoved:Delete",
      "s3": {"bucket": {"name": "uploads"}, "object": {"key": "old.png"}}
    },
    {
      "eventName": "ObjectCreated:CompleteMultipartUpload",
      "s3": {"bucket": {"name": "uploads"}, "object": {"key": "big.jpg"}}
    }
  ]
}`

func TestParseKeepsCreatedRecords(t *testing.T) {
	n, err := Parse([]byte(minioWebhook))
	require.NoError(t, err)

	assert.Equal(t, []entities.EventRecord{
		{Bucket: "uploads", Key: "photo+name%20v2.png"},
		{Bucket: "uploads", Key: "big.jpg"},
	}, n.EventRecords())
}

func TestParseRejects(t *testing.T) {
	tests := map[string]string{
		"not json":       `{`,
		"no records":     `{"Records": []}`,
		"missing bucket": `{"Records": [{"s3": {"object": {"key": "a.png"}}}]}`,
		"missing key":    `{"Records": [{"s3": {"bucket": {"name": "b"}}}]}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(body))
			assert.Error(t, err)
		})
	}

	_, err := Parse([]byte(`{"Records": []}`))
	assert.ErrorIs(t, err, ErrNoRecords)
}

func TestFromRecordsRoundTrip(t *testing.T) {
	records := []entities.EventRecord{{Bucket: "a", Key: "x%2By.jpg"}, {Bucket: "b", Key: "z.png"}}

	body, err := json.Marshal(FromRecords(records))
	require.NoError(t, err)

	n, err := Parse(body)
	require.NoError(t, err)
	assert.Equal(t, records, n.EventRecords())
}

func TestIsObjectCreated(t *testing.T) {
	assert.True(t, IsObjectCreated("ObjectCreated:Put"))
	assert.True(t, IsObjectCreated("s3:ObjectCreated:Copy"))
	assert.False(t, IsObjectCreated("s3:ObjectRemoved:Delete"))
	assert.False(t, IsObjectCreated("s3:ObjectAccessed:Get"))
}

func TestFromS3Event(t *testing.T) {
	var e awsevents.S3Event
	require.NoError(t, json.Unmarshal([]byte(minioWebhook), &e))

	assert.Equal(t, []entities.EventRecord{
		{Bucket: "uploads", Key: "photo+name%20v2.png"},
		{Bucket: "uploads", Key: "big.jpg"},
	}, FromS3Event(e))
}
