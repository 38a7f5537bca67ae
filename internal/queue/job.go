package queue

import "github.com/trunov/thumbhub/internal/entities"

// Job is what we push to Redis Streams.
// No bytes here, workers fetch every object by bucket and key.
type Job struct {
	// Records keep the raw, still URL-encoded keys from the notification.
	Records []entities.EventRecord `json:"records"`
}
