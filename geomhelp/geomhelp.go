package geomhelp

import (
	"github.com/go-spatial/geom"
	"github.com/go-spatial/geom/encoding/wkt"
	"github.com/muesli/reflow/truncate"
)

// ExtentPolygon returns the ring of an extent, counter clockwise from its min corner.
func ExtentPolygon(e geom.Extent) geom.Polygon {
	return geom.Polygon{{
		{e.MinX(), e.MinY()},
		{e.MaxX(), e.MinY()},
		{e.MaxX(), e.MaxY()},
		{e.MinX(), e.MaxY()},
	}}
}

// ExtentWkt renders an extent as a WKT polygon for log lines, or a point when it is one.
func ExtentWkt(e geom.Extent, maxLen uint) string {
	if e.MinX() == e.MaxX() && e.MinY() == e.MaxY() {
		return WktMustEncode(geom.Point{e.MinX(), e.MinY()}, maxLen)
	}
	return WktMustEncode(ExtentPolygon(e), maxLen)
}

// WktMustEncode encodes g as WKT, truncated to maxLen characters (0 is unlimited).
func WktMustEncode(g geom.Geometry, maxLen uint) string {
	if maxLen == 0 {
		return wkt.MustEncode(g)
	}
	return truncate.StringWithTail(wkt.MustEncode(g), maxLen, "...")
}
