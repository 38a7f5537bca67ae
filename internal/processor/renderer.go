package processor

import (
	"bytes"
	"errors"
	"fmt"
	"image"

	"github.com/disintegration/imaging"
	"github.com/trunov/thumbhub/internal/entities"
)

const DefaultJPEGQuality = 90

// RenderError covers anything that goes wrong between decoding the pixels
// and producing the encoded thumbnail.
type RenderError struct {
	Err error
}

func (e *RenderError) Error() string { return "render thumbnail: " + e.Err.Error() }

func (e *RenderError) Unwrap() error { return e.Err }

// Renderer resizes an asset and re-encodes it in the source format.
type Renderer struct {
	JPEGQuality int
}

func NewRenderer(jpegQuality int) *Renderer {
	if jpegQuality <= 0 || jpegQuality > 100 {
		jpegQuality = DefaultJPEGQuality
	}
	return &Renderer{JPEGQuality: jpegQuality}
}

func (r *Renderer) Render(asset entities.ImageAsset, width, height int) (out []byte, err error) {
	if width < 1 || height < 1 {
		return nil, &RenderError{Err: fmt.Errorf("invalid target %dx%d", width, height)}
	}

	// imaging and the std decoders allocate up front; a huge or hostile
	// image can blow up in there instead of returning an error.
	defer func() {
		if p := recover(); p != nil {
			out = nil
			err = &RenderError{Err: fmt.Errorf("panic: %v", p)}
		}
	}()

	img, err := imaging.Decode(bytes.NewReader(asset.Bytes))
	if err != nil {
		return nil, &RenderError{Err: err}
	}

	img = resize(img, width, height)

	format, opts, err := r.encoding(asset.Format)
	if err != nil {
		return nil, &RenderError{Err: err}
	}

	buf := new(bytes.Buffer)
	if err := imaging.Encode(buf, img, format, opts...); err != nil {
		return nil, &RenderError{Err: err}
	}

	return buf.Bytes(), nil
}

func resize(img image.Image, width, height int) image.Image {
	b := img.Bounds()
	if b.Dx() == width && b.Dy() == height {
		return img
	}
	return imaging.Resize(img, width, height, imaging.Lanczos)
}

func (r *Renderer) encoding(f entities.Format) (imaging.Format, []imaging.EncodeOption, error) {
	switch f {
	case entities.FormatPNG:
		return imaging.PNG, nil, nil
	case entities.FormatJPEG:
		return imaging.JPEG, []imaging.EncodeOption{imaging.JPEGQuality(r.JPEGQuality)}, nil
	default:
		return 0, nil, errors.New("no encoder for format " + f.String())
	}
}
