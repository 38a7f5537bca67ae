package entities

import (
	"errors"
	"time"
)

// ErrRunNotFound means no run has been recorded for a source object.
var ErrRunNotFound = errors.New("run not found")

// EventRecord is one "object created" notification as delivered by an event source.
// Key is still URL-encoded the way S3 and MinIO put it on the wire.
type EventRecord struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// SourceObjectRef identifies the object that triggered a run. Key is decoded.
type SourceObjectRef struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

type Format int

const (
	FormatUnknown Format = iota
	FormatPNG
	FormatJPEG
)

func (f Format) String() string {
	switch f {
	case FormatPNG:
		return "png"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatPNG:
		return "image/png"
	case FormatJPEG:
		return "image/jpeg"
	default:
		return "application/octet-stream"
	}
}

// ImageAsset is the fetched source plus the metadata read from its header.
type ImageAsset struct {
	Bytes  []byte
	Format Format
	Width  int
	Height int
}

// ThumbnailSpec is the bounding box every thumbnail must fit in.
type ThumbnailSpec struct {
	MaxWidth  int `json:"max_width"`
	MaxHeight int `json:"max_height"`
}

type ScalePlan struct {
	TargetWidth  int `json:"target_width"`
	TargetHeight int `json:"target_height"`
}

type ThumbnailResult struct {
	DestKey     string
	ContentType string
	Bytes       []byte
}

// RunRecord is the persisted summary of one record's trip through the pipeline.
type RunRecord struct {
	BatchID      string    `json:"batch_id"`
	SourceBucket string    `json:"source_bucket"`
	SourceKey    string    `json:"source_key"`
	DestBucket   string    `json:"dest_bucket,omitempty"`
	DestKey      string    `json:"dest_key,omitempty"`
	Status       string    `json:"status"`
	Stage        string    `json:"stage"`
	Error        string    `json:"error,omitempty"`
	Format       string    `json:"format,omitempty"`
	SourceWidth  int       `json:"source_width,omitempty"`
	SourceHeight int       `json:"source_height,omitempty"`
	TargetWidth  int       `json:"target_width,omitempty"`
	TargetHeight int       `json:"target_height,omitempty"`
	DurationMS   int64     `json:"duration_ms"`
	UpdatedAt    time.Time `json:"updated_at"`
}
