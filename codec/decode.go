// Package codec decodes stored tile images, encodes composited output and copies
// scaled regions between images.
package codec

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/gen2brain/webp"
)

var ErrUnsupportedFormat = errors.New("unsupported image format")

var (
	pngMagic  = []byte("\x89PNG\r\n\x1a\n")
	jpegMagic = []byte{0xff, 0xd8, 0xff}
)

// Sniff returns the format name of encoded image data: png, jpeg or webp.
func Sniff(data []byte) (string, error) {
	switch {
	case bytes.HasPrefix(data, pngMagic):
		return "png", nil
	case bytes.HasPrefix(data, jpegMagic):
		return "jpeg", nil
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WEBP":
		return "webp", nil
	}
	return "", ErrUnsupportedFormat
}

// Decode decodes PNG, JPEG or WebP tile data, whichever it turns out to be.
func Decode(data []byte) (image.Image, error) {
	format, err := Sniff(data)
	if err != nil {
		return nil, err
	}
	r := bytes.NewReader(data)
	var img image.Image
	switch format {
	case "png":
		img, err = png.Decode(r)
	case "jpeg":
		img, err = jpeg.Decode(r)
	case "webp":
		img, err = webp.Decode(r)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", format, err)
	}
	return img, nil
}
