package processor

import (
	"bytes"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trunov/thumbhub/internal/entities"
)

func gradient(w, h int) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, png.Encode(buf, gradient(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	require.NoError(t, jpeg.Encode(buf, gradient(w, h), &jpeg.Options{Quality: 90}))
	return buf.Bytes()
}

// headerOnlyPNG is a PNG signature plus an IHDR chunk claiming w x h RGBA
// pixels, with no image data behind it.
func headerOnlyPNG(w, h uint32) []byte {
	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:], w)
	binary.BigEndian.PutUint32(ihdr[4:], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // truecolor with alpha

	buf := bytes.NewBufferString("\x89PNG\r\n\x1a\n")
	_ = binary.Write(buf, binary.BigEndian, uint32(len(ihdr)))
	chunk := append([]byte("IHDR"), ihdr...)
	buf.Write(chunk)
	_ = binary.Write(buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestDecodeReadsHeader(t *testing.T) {
	asset, err := Decoder{}.Decode(pngBytes(t, 120, 80))
	require.NoError(t, err)
	assert.Equal(t, entities.FormatPNG, asset.Format)
	assert.Equal(t, 120, asset.Width)
	assert.Equal(t, 80, asset.Height)

	asset, err = Decoder{}.Decode(jpegBytes(t, 64, 200))
	require.NoError(t, err)
	assert.Equal(t, entities.FormatJPEG, asset.Format)
	assert.Equal(t, 64, asset.Width)
	assert.Equal(t, 200, asset.Height)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	cases := map[string][]byte{
		"empty":     nil,
		"text":      []byte("definitely not an image"),
		"gif":       []byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"),
		"truncated": pngBytes(t, 10, 10)[:20],
	}
	for name, data := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Decoder{}.Decode(data)
			var decErr *DecodeError
			require.ErrorAs(t, err, &decErr)
		})
	}
}

func TestDecodeRefusesPixelBomb(t *testing.T) {
	data := headerOnlyPNG(60000, 60000)
	require.Less(t, len(data), 100)

	_, err := Decoder{}.Decode(data)
	var decErr *DecodeError
	require.ErrorAs(t, err, &decErr)
	assert.ErrorIs(t, err, ErrTooManyPixels)
}

func TestDecodeMaxPixels(t *testing.T) {
	data := pngBytes(t, 100, 50)

	_, err := Decoder{MaxPixels: 5000}.Decode(data)
	require.NoError(t, err, "limit is inclusive")

	_, err = Decoder{MaxPixels: 4999}.Decode(data)
	assert.ErrorIs(t, err, ErrTooManyPixels)

	asset, err := Decoder{}.Decode(headerOnlyPNG(5000, 10000))
	require.NoError(t, err, "header alone is enough under the default limit")
	assert.Equal(t, 5000, asset.Width)
}

func TestDecodeMislabeledFormat(t *testing.T) {
	_, err := Decoder{}.Decode([]byte("GIF89a\x01\x00\x01\x00\x00\x00\x00;"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestRenderResizes(t *testing.T) {
	r := NewRenderer(0)
	for _, tc := range []struct {
		name   string
		data   []byte
		format entities.Format
	}{
		{"png", pngBytes(t, 300, 200), entities.FormatPNG},
		{"jpeg", jpegBytes(t, 300, 200), entities.FormatJPEG},
	} {
		t.Run(tc.name, func(t *testing.T) {
			asset, err := Decoder{}.Decode(tc.data)
			require.NoError(t, err)

			out, err := r.Render(asset, 150, 100)
			require.NoError(t, err)

			thumb, err := Decoder{}.Decode(out)
			require.NoError(t, err)
			assert.Equal(t, tc.format, thumb.Format)
			assert.Equal(t, 150, thumb.Width)
			assert.Equal(t, 100, thumb.Height)
		})
	}
}

func TestRenderIdentityKeepsSize(t *testing.T) {
	asset, err := Decoder{}.Decode(pngBytes(t, 40, 30))
	require.NoError(t, err)

	out, err := NewRenderer(0).Render(asset, 40, 30)
	require.NoError(t, err)

	thumb, err := Decoder{}.Decode(out)
	require.NoError(t, err)
	assert.Equal(t, 40, thumb.Width)
	assert.Equal(t, 30, thumb.Height)
}

func TestRenderIsDeterministic(t *testing.T) {
	r := NewRenderer(85)
	asset, err := Decoder{}.Decode(jpegBytes(t, 640, 480))
	require.NoError(t, err)

	first, err := r.Render(asset, 320, 240)
	require.NoError(t, err)
	second, err := r.Render(asset, 320, 240)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestRenderFailures(t *testing.T) {
	r := NewRenderer(0)
	var renderErr *RenderError

	_, err := r.Render(entities.ImageAsset{Bytes: []byte("junk"), Format: entities.FormatPNG}, 10, 10)
	require.ErrorAs(t, err, &renderErr)

	asset, err := Decoder{}.Decode(pngBytes(t, 10, 10))
	require.NoError(t, err)
	_, err = r.Render(asset, 0, 10)
	require.ErrorAs(t, err, &renderErr)

	asset.Format = entities.FormatUnknown
	_, err = r.Render(asset, 5, 5)
	require.ErrorAs(t, err, &renderErr)
}

func TestNewRendererQualityBounds(t *testing.T) {
	assert.Equal(t, DefaultJPEGQuality, NewRenderer(-3).JPEGQuality)
	assert.Equal(t, DefaultJPEGQuality, NewRenderer(101).JPEGQuality)
	assert.Equal(t, 70, NewRenderer(70).JPEGQuality)
}
