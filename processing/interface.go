package processing

import (
	"context"

	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/retrieval"
	"github.com/pdok/gpkgtiles/tilegrid"
)

// Renderer produces encoded tiles for boxes in any registered SRS.
type Renderer interface {
	BoundsIn(srsID int) (tilegrid.BoundingBox, error)
	GetTile(ctx context.Context, request tilegrid.BoundingBox, srsID int, width, height int) (*retrieval.Tile, bool, error)
}

// Target stores rendered tiles. ZoomLevel of a tile is its tile matrix id.
// WriteTiles returns when tiles is closed and everything is written.
type Target interface {
	WriteTiles(ctx context.Context, tiles <-chan pyramid.StoredTile) error
}
