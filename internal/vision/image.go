package vision

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"io"

	"github.com/nfnt/resize"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// MaxPreviewDim caps the longer side of images handed back for display.
const MaxPreviewDim = 1024

// MaxPixels caps width×height of any image accepted for decoding. Headers are
// checked before pixel buffers are allocated.
const MaxPixels = 50_000_000

// ErrInvalidImage is returned for undecodable or zero-sized input.
var ErrInvalidImage = errors.New("invalid image")

// Decode decodes any registered image format (JPEG, PNG, GIF, BMP, TIFF, WebP).
// Images declaring more than MaxPixels are rejected from their header alone.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidImage)
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkPixels(cfg.Width, cfg.Height); err != nil {
		return nil, err
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	if err := checkBounds(img); err != nil {
		return nil, err
	}
	return img, nil
}

// DecodeReader reads r fully (e.g. a dataset file) and decodes it with Decode.
func DecodeReader(r io.Reader) (image.Image, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read image failed: %w", err)
	}
	return Decode(data)
}

func checkPixels(w, h int) error {
	if w < 1 || h < 1 {
		return fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, w, h)
	}
	if int64(w)*int64(h) > MaxPixels {
		return fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrInvalidImage, w, h, MaxPixels)
	}
	return nil
}

func checkBounds(img image.Image) error {
	if img == nil {
		return fmt.Errorf("%w: nil image", ErrInvalidImage)
	}
	b := img.Bounds()
	if b.Dx() < 1 || b.Dy() < 1 {
		return fmt.Errorf("%w: zero dimension %dx%d", ErrInvalidImage, b.Dx(), b.Dy())
	}
	return nil
}

// LimitSize scales img down so that its longer side is at most maxDim,
// keeping the aspect ratio. Smaller images are returned unchanged.
//
// Only display paths use this. Preprocess always samples the full-resolution
// image so the model input does not depend on whether a preview was built.
func LimitSize(img image.Image, maxDim int) image.Image {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := w
	if h > longest {
		longest = h
	}
	if maxDim <= 0 || longest <= maxDim {
		return img
	}
	scale := float64(maxDim) / float64(longest)
	nw := uint(float64(w) * scale)
	nh := uint(float64(h) * scale)
	if nw == 0 {
		nw = 1
	}
	if nh == 0 {
		nh = 1
	}
	return resize.Resize(nw, nh, img, resize.Bicubic)
}

// EncodePreview returns a JPEG of img bounded by MaxPreviewDim.
func EncodePreview(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, LimitSize(img, MaxPreviewDim), &jpeg.Options{Quality: 85}); err != nil {
		return nil, fmt.Errorf("encode preview failed: %w", err)
	}
	return buf.Bytes(), nil
}
