package handler

import "github.com/trunov/thumbhub/internal/entities"

type StatusParams struct {
	Bucket string `validate:"required,max=63"`  // source bucket
	Key    string `validate:"required,max=1024"` // decoded object key
}

// IngestResult answers a notification. JobID is set when the records were
// queued; Results is set when they were processed inline.
type IngestResult struct {
	Accepted int                  `json:"accepted"`
	JobID    string               `json:"job_id,omitempty"`
	Results  []entities.RunRecord `json:"results,omitempty"`
}
