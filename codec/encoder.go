package codec

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
)

const DefaultQuality = 85

// Encoder encodes a composited image into output bytes.
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	// Format returns the format name (png, jpeg or webp).
	Format() string
	MediaType() string
	FileExtension() string
}

// NewEncoder creates an encoder for the given format. Quality (1-100) applies to jpeg
// and webp, zero means DefaultQuality.
func NewEncoder(format string, quality int) (Encoder, error) {
	if quality <= 0 {
		quality = DefaultQuality
	}
	switch format {
	case "png":
		return &PNGEncoder{}, nil
	case "jpeg", "jpg":
		return &JPEGEncoder{Quality: quality}, nil
	case "webp":
		return &WebPEncoder{Quality: quality}, nil
	}
	return nil, fmt.Errorf("%w: %q (supported: png, jpeg, webp)", ErrUnsupportedFormat, format)
}

type PNGEncoder struct{}

func (e *PNGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	enc := &png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *PNGEncoder) Format() string        { return "png" }
func (e *PNGEncoder) MediaType() string     { return "image/png" }
func (e *PNGEncoder) FileExtension() string { return ".png" }

// JPEGEncoder drops the alpha channel, uncovered areas come out black.
type JPEGEncoder struct {
	Quality int
}

func (e *JPEGEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *JPEGEncoder) Format() string        { return "jpeg" }
func (e *JPEGEncoder) MediaType() string     { return "image/jpeg" }
func (e *JPEGEncoder) FileExtension() string { return ".jpg" }

// WebPEncoder encodes lossy WebP through the pure Go (WASM) encoder of gen2brain/webp.
type WebPEncoder struct {
	Quality int
}

func (e *WebPEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := webp.Encode(&buf, img, webp.Options{Quality: e.Quality}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (e *WebPEncoder) Format() string        { return "webp" }
func (e *WebPEncoder) MediaType() string     { return "image/webp" }
func (e *WebPEncoder) FileExtension() string { return ".webp" }
