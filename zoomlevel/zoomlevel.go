// Package zoomlevel picks the zoom levels of a pyramid to try for a requested ground
// resolution, best match first.
package zoomlevel

import (
	"math"

	"github.com/pdok/gpkgtiles/mapslicehelp"
	"github.com/pdok/gpkgtiles/mathhelp"
	"github.com/pdok/gpkgtiles/pyramid"
)

// Resolution is the ground distance per output pixel requested along each axis.
type Resolution struct {
	X float64
	Y float64
}

// NewResolution divides the requested ground size by the output pixel size.
func NewResolution(groundWidth, groundHeight float64, pixelWidth, pixelHeight int) Resolution {
	return Resolution{X: groundWidth / float64(pixelWidth), Y: groundHeight / float64(pixelHeight)}
}

// ContinuousZoom estimates the (fractional) zoom level matching res. Of both axes the finer
// estimate wins. False when the pyramid has no zoom levels or res is not positive.
func ContinuousZoom(p *pyramid.Pyramid, res Resolution) (float64, bool) {
	x, _, okX := p.EstimateZoom(res.X, pyramid.AxisX)
	y, _, okY := p.EstimateZoom(res.Y, pyramid.AxisY)
	switch {
	case okX && okY:
		return math.Max(x, y), true
	case okX:
		return x, true
	case okY:
		return y, true
	}
	return 0, false
}

// ClosestZoom returns the existing zoom level closest to res. Of both axes the finer wins.
func ClosestZoom(p *pyramid.Pyramid, res Resolution) (int, bool) {
	_, x, okX := p.EstimateZoom(res.X, pyramid.AxisX)
	_, y, okY := p.EstimateZoom(res.Y, pyramid.AxisY)
	switch {
	case okX && okY:
		return max(x, y), true
	case okX:
		return x, true
	case okY:
		return y, true
	}
	return 0, false
}

// ApproximateZoom returns the continuous zoom rounded to the nearest integer (ties down).
// The result may lie outside the stored zoom levels.
func ApproximateZoom(p *pyramid.Pyramid, res Resolution) (int, bool) {
	z, ok := ContinuousZoom(p, res)
	if !ok {
		return 0, false
	}
	return mathhelp.RoundHalfDown(z), true
}

// Candidates orders the zoom levels to try around requestZoom according to scaling,
// keeping only levels present in p. requestZoom itself comes first.
func Candidates(requestZoom int, p *pyramid.Pyramid, scaling pyramid.TileScaling) []int {
	minZoom, ok := p.MinZoom()
	if !ok {
		return []int{}
	}
	maxZoom, _ := p.MaxZoom()

	var zoomIn, zoomOut []int
	if scaling.ZoomsIn() {
		to := maxZoom
		if scaling.ZoomIn != nil {
			to = min(maxZoom, requestZoom+*scaling.ZoomIn)
		}
		zoomIn = mapslicehelp.Range(requestZoom+1, to, 1)
	}
	if scaling.ZoomsOut() {
		to := minZoom
		if scaling.ZoomOut != nil {
			to = max(minZoom, requestZoom-*scaling.ZoomOut)
		}
		zoomOut = mapslicehelp.Range(requestZoom-1, to, -1)
	}

	var merged []int
	switch scaling.Type {
	case pyramid.ScalingIn, pyramid.ScalingInOut:
		merged = mapslicehelp.Concat(zoomIn, zoomOut)
	case pyramid.ScalingOut, pyramid.ScalingOutIn:
		merged = mapslicehelp.Concat(zoomOut, zoomIn)
	case pyramid.ScalingClosestInOut:
		merged = mapslicehelp.Interleave(zoomIn, zoomOut)
	case pyramid.ScalingClosestOutIn:
		merged = mapslicehelp.Interleave(zoomOut, zoomIn)
	}

	stored := mapslicehelp.AsKeys(p.ZoomLevels())
	return mapslicehelp.UniqueKept(append([]int{requestZoom}, merged...), func(z int) bool {
		_, ok := stored[z]
		return ok
	})
}

// Select returns the zoom levels to try for a request of groundWidth x groundHeight
// rendered at pixelWidth x pixelHeight, nearest intent first.
// Without a scaling policy this is the single closest existing zoom level.
func Select(p *pyramid.Pyramid, groundWidth, groundHeight float64, pixelWidth, pixelHeight int, scaling *pyramid.TileScaling) []int {
	res := NewResolution(groundWidth, groundHeight, pixelWidth, pixelHeight)
	if scaling == nil {
		z, ok := ClosestZoom(p, res)
		if !ok {
			return []int{}
		}
		return []int{z}
	}
	z, ok := ApproximateZoom(p, res)
	if !ok {
		return []int{}
	}
	return Candidates(z, p, *scaling)
}
