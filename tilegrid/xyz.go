package tilegrid

import (
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/maptile"
	"github.com/paulmach/orb/project"

	"github.com/pdok/gpkgtiles/mathhelp"
)

// WebMercatorHalfWidth is longitude 180 at the equator in web mercator meters.
var WebMercatorHalfWidth = project.WGS84.ToMercator(orb.Point{180, 0}).X()

// WebMercatorWorld is the square covered by zoom level 0 of the XYZ tiling scheme.
var WebMercatorWorld = BoundingBox{
	MinX: -WebMercatorHalfWidth,
	MinY: -WebMercatorHalfWidth,
	MaxX: WebMercatorHalfWidth,
	MaxY: WebMercatorHalfWidth,
}

// WebMercatorXYZBounds returns the web mercator extent of XYZ tile x, y at zoom.
func WebMercatorXYZBounds(x, y int, zoom uint) BoundingBox {
	w := WebMercatorHalfWidth
	tileSize := ProjectedTileSize(mathhelp.Pow2(zoom), w)
	return BoundingBox{
		MinX: mathhelp.Clamp(-w+float64(x)*tileSize, -w, w),
		MinY: mathhelp.Clamp(w-float64(y+1)*tileSize, -w, w),
		MaxX: mathhelp.Clamp(-w+float64(x+1)*tileSize, -w, w),
		MaxY: mathhelp.Clamp(w-float64(y)*tileSize, -w, w),
	}
}

// WGS84XYZBounds returns the longitude/latitude extent of XYZ tile x, y at zoom.
func WGS84XYZBounds(x, y int, zoom uint) BoundingBox {
	bound := maptile.New(uint32(x), uint32(y), maptile.Zoom(zoom)).Bound()
	return BoundingBox{
		MinX: bound.Min.Lon(),
		MinY: bound.Min.Lat(),
		MaxX: bound.Max.Lon(),
		MaxY: bound.Max.Lat(),
	}
}

// XYZTileGrid returns the XYZ tiles at zoom that overlap a web mercator box.
func XYZTileGrid(webMercator BoundingBox, zoom uint) (TileGrid, bool) {
	n := int(mathhelp.Pow2(zoom))
	return BuildTileGrid(WebMercatorWorld, n, n, webMercator)
}
