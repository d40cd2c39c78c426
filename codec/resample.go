package codec

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// Resampling selects the interpolation used when a source region is scaled onto the output.
type Resampling int

const (
	Nearest Resampling = iota
	ApproxBiLinear
	BiLinear
	CatmullRom
)

var resamplingNames = map[Resampling]string{
	Nearest:        "nearest",
	ApproxBiLinear: "approxbilinear",
	BiLinear:       "bilinear",
	CatmullRom:     "catmullrom",
}

func ParseResampling(name string) (Resampling, error) {
	for r, n := range resamplingNames {
		if n == name {
			return r, nil
		}
	}
	return 0, fmt.Errorf("unsupported resampling: %q", name)
}

func (r Resampling) String() string {
	if n, ok := resamplingNames[r]; ok {
		return n
	}
	return fmt.Sprintf("Resampling(%d)", int(r))
}

func (r Resampling) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

func (r *Resampling) UnmarshalText(text []byte) error {
	parsed, err := ParseResampling(string(text))
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

func (r Resampling) scaler() draw.Scaler {
	switch r {
	case ApproxBiLinear:
		return draw.ApproxBiLinear
	case BiLinear:
		return draw.BiLinear
	case CatmullRom:
		return draw.CatmullRom
	}
	return draw.NearestNeighbor
}

// SourceRegion translates srcRect (relative to src.Bounds().Min) into the coordinates of
// src and clips it to the image. False when nothing of it is left.
func SourceRegion(src image.Image, srcRect image.Rectangle) (image.Rectangle, bool) {
	srcRect = srcRect.Add(src.Bounds().Min).Intersect(src.Bounds())
	return srcRect, !srcRect.Empty()
}

// CopyRegion scales srcRect of src (relative to src.Bounds().Min) into dstRect of dst and
// reports whether anything was drawn.
// Source pixels are composited over what dst already holds, so transparent parts of a
// tile leave earlier tiles visible.
func CopyRegion(src image.Image, srcRect image.Rectangle, dst draw.Image, dstRect image.Rectangle, mode Resampling) bool {
	srcRect, ok := SourceRegion(src, srcRect)
	if !ok || dstRect.Empty() {
		return false
	}
	mode.scaler().Scale(dst, dstRect, src, srcRect, draw.Over, nil)
	return true
}
