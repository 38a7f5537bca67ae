package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gabriel-vasile/mimetype"
	"github.com/trunov/thumbhub/internal/entities"
)

// DefaultMaxPixels caps width*height when a Decoder has no limit set.
const DefaultMaxPixels = 50_000_000

var (
	ErrUnsupportedFormat = errors.New("unsupported image format")
	// ErrTooManyPixels is checked on the header alone. An oversized pixel
	// buffer aborts the runtime, recover does not see it.
	ErrTooManyPixels = errors.New("image has too many pixels")
)

// DecodeError means the bytes are not an image we can read. The record
// should be dropped, retrying will not help.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string { return "decode image: " + e.Err.Error() }

func (e *DecodeError) Unwrap() error { return e.Err }

var formatsByMIME = map[string]entities.Format{
	"image/png":  entities.FormatPNG,
	"image/jpeg": entities.FormatJPEG,
}

type Decoder struct {
	// MaxPixels bounds width*height; zero means DefaultMaxPixels.
	MaxPixels int64
}

// Decode reads format and dimensions from the image header only; pixel data
// is left for the renderer.
func (d Decoder) Decode(data []byte) (entities.ImageAsset, error) {
	if len(data) == 0 {
		return entities.ImageAsset{}, &DecodeError{Err: errors.New("empty object")}
	}

	mime := mimetype.Detect(data)
	format, ok := formatsByMIME[mime.String()]
	if !ok {
		return entities.ImageAsset{}, &DecodeError{Err: fmt.Errorf("%w: %s", ErrUnsupportedFormat, mime.String())}
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return entities.ImageAsset{}, &DecodeError{Err: err}
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return entities.ImageAsset{}, &DecodeError{Err: fmt.Errorf("invalid dimensions %dx%d", cfg.Width, cfg.Height)}
	}
	if limit := d.maxPixels(); int64(cfg.Width)*int64(cfg.Height) > limit {
		return entities.ImageAsset{}, &DecodeError{
			Err: fmt.Errorf("%w: %dx%d exceeds %d", ErrTooManyPixels, cfg.Width, cfg.Height, limit),
		}
	}

	return entities.ImageAsset{
		Bytes:  data,
		Format: format,
		Width:  cfg.Width,
		Height: cfg.Height,
	}, nil
}

func (d Decoder) maxPixels() int64 {
	if d.MaxPixels > 0 {
		return d.MaxPixels
	}
	return DefaultMaxPixels
}
