package retrieval

import (
	"context"
	"errors"
	"fmt"

	"github.com/pdok/gpkgtiles/mathhelp"
	"github.com/pdok/gpkgtiles/srs"
	"github.com/pdok/gpkgtiles/tilegrid"
)

var ErrInvalidTileAddress = errors.New("invalid tile address")

const maxXYZZoom = 30

func xyzBounds(x, y, z int) (tilegrid.BoundingBox, error) {
	if z < 0 || z > maxXYZZoom {
		return tilegrid.BoundingBox{}, fmt.Errorf("%w: zoom %d", ErrInvalidTileAddress, z)
	}
	n := int(mathhelp.Pow2(uint(z)))
	if x < 0 || x >= n || y < 0 || y >= n {
		return tilegrid.BoundingBox{}, fmt.Errorf("%w: %d/%d/%d", ErrInvalidTileAddress, z, x, y)
	}
	return tilegrid.WebMercatorXYZBounds(x, y, uint(z)), nil
}

// HasTileXYZ is HasTile for web mercator XYZ tile x, y at zoom z.
func (r *Retriever) HasTileXYZ(ctx context.Context, x, y, z int, width, height int) (bool, error) {
	bounds, err := xyzBounds(x, y, z)
	if err != nil {
		return false, err
	}
	return r.HasTile(ctx, bounds, srs.WebMercator, width, height)
}

// GetTileXYZ is GetTile for web mercator XYZ tile x, y at zoom z.
func (r *Retriever) GetTileXYZ(ctx context.Context, x, y, z int, width, height int) (*Tile, bool, error) {
	bounds, err := xyzBounds(x, y, z)
	if err != nil {
		return nil, false, err
	}
	return r.GetTile(ctx, bounds, srs.WebMercator, width, height)
}

// GetTileWGS84 renders a longitude/latitude box as a web mercator tile. Latitudes beyond
// the web mercator limits are clipped.
func (r *Retriever) GetTileWGS84(ctx context.Context, lonLat tilegrid.BoundingBox, width, height int) (*Tile, bool, error) {
	if err := lonLat.Validate(); err != nil {
		return nil, false, err
	}
	bounds, err := r.BoundsIn(srs.WGS84)
	if err != nil {
		return nil, false, err
	}
	if !lonLat.Intersects(bounds) {
		return nil, false, nil
	}
	webMercator, err := r.projector.Project(lonLat, srs.WGS84, srs.WebMercator)
	if err != nil {
		return nil, false, err
	}
	return r.GetTile(ctx, webMercator, srs.WebMercator, width, height)
}

// XYZTileRange is the block of web mercator XYZ tiles of one zoom level that overlaps a
// pyramid.
type XYZTileRange struct {
	Zoom int
	Grid tilegrid.TileGrid
	// WGS84 is the longitude/latitude extent of the whole block
	WGS84 tilegrid.BoundingBox
}

// XYZTileRange returns the XYZ tiles at zoom z that overlap the matrix set.
// False when none does.
func (r *Retriever) XYZTileRange(z int) (XYZTileRange, bool, error) {
	if z < 0 || z > maxXYZZoom {
		return XYZTileRange{}, false, fmt.Errorf("%w: zoom %d", ErrInvalidTileAddress, z)
	}
	bounds, err := r.BoundsIn(srs.WebMercator)
	if err != nil {
		return XYZTileRange{}, false, err
	}
	grid, ok := tilegrid.XYZTileGrid(bounds, uint(z))
	if !ok {
		return XYZTileRange{}, false, nil
	}
	topLeft := tilegrid.WGS84XYZBounds(grid.MinColumn, grid.MinRow, uint(z))
	bottomRight := tilegrid.WGS84XYZBounds(grid.MaxColumn, grid.MaxRow, uint(z))
	return XYZTileRange{
		Zoom: z,
		Grid: grid,
		WGS84: tilegrid.BoundingBox{
			MinX: topLeft.MinX,
			MinY: bottomRight.MinY,
			MaxX: bottomRight.MaxX,
			MaxY: topLeft.MaxY,
		},
	}, true, nil
}
