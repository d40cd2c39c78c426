// Package tilegrid converts between ground coordinates and tile matrix addresses.
//
// A tile matrix covers the bounding box of its tile matrix set. Tile (0, 0) is the top left
// tile: columns increase with x, rows increase downwards (with decreasing y).
package tilegrid

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/go-spatial/geom"
)

var ErrInvalidBoundingBox = errors.New("invalid bounding box")

// BoundingBox is an axis aligned rectangle in the units of some spatial reference system.
type BoundingBox struct {
	MinX float64 `json:"minX"`
	MinY float64 `json:"minY"`
	MaxX float64 `json:"maxX"`
	MaxY float64 `json:"maxY"`
}

// NewBoundingBox returns a validated BoundingBox.
func NewBoundingBox(minX, minY, maxX, maxY float64) (BoundingBox, error) {
	b := BoundingBox{MinX: minX, MinY: minY, MaxX: maxX, MaxY: maxY}
	return b, b.Validate()
}

func FromExtent(e geom.Extent) BoundingBox {
	return BoundingBox{MinX: e.MinX(), MinY: e.MinY(), MaxX: e.MaxX(), MaxY: e.MaxY()}
}

// Validate reports ErrInvalidBoundingBox for non finite or inverted bounds.
func (b BoundingBox) Validate() error {
	for _, f := range [4]float64{b.MinX, b.MinY, b.MaxX, b.MaxY} {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Errorf("%w: non finite bound in %v", ErrInvalidBoundingBox, b)
		}
	}
	if b.MinX > b.MaxX || b.MinY > b.MaxY {
		return fmt.Errorf("%w: min exceeds max in %v", ErrInvalidBoundingBox, b)
	}
	return nil
}

func (b BoundingBox) Width() float64 {
	return b.MaxX - b.MinX
}

func (b BoundingBox) Height() float64 {
	return b.MaxY - b.MinY
}

// Extent returns the box as a go-spatial extent (minx, miny, maxx, maxy).
func (b BoundingBox) Extent() geom.Extent {
	return geom.Extent{b.MinX, b.MinY, b.MaxX, b.MaxY}
}

// Intersection returns the overlap of both boxes. Boxes that only touch overlap in a
// degenerate (zero width or height) box.
func (b BoundingBox) Intersection(o BoundingBox) (BoundingBox, bool) {
	i := BoundingBox{
		MinX: math.Max(b.MinX, o.MinX),
		MinY: math.Max(b.MinY, o.MinY),
		MaxX: math.Min(b.MaxX, o.MaxX),
		MaxY: math.Min(b.MaxY, o.MaxY),
	}
	if i.MinX > i.MaxX || i.MinY > i.MaxY {
		return BoundingBox{}, false
	}
	return i, true
}

func (b BoundingBox) Intersects(o BoundingBox) bool {
	_, ok := b.Intersection(o)
	return ok
}

func (b BoundingBox) String() string {
	return fmt.Sprintf("[%v,%v %v,%v]", b.MinX, b.MinY, b.MaxX, b.MaxY)
}

// ParseBoundingBox parses "minx,miny,maxx,maxy" and validates the result.
func ParseBoundingBox(s string) (BoundingBox, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return BoundingBox{}, fmt.Errorf("%w: %q, expected minx,miny,maxx,maxy", ErrInvalidBoundingBox, s)
	}
	var coords [4]float64
	for i, part := range parts {
		v, err := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if err != nil {
			return BoundingBox{}, fmt.Errorf("%w: %q: %w", ErrInvalidBoundingBox, s, err)
		}
		coords[i] = v
	}
	return NewBoundingBox(coords[0], coords[1], coords[2], coords[3])
}
