// Package retrieval answers tile requests against a stored tile pyramid: it picks the zoom
// levels to try, reads the overlapping stored tiles and composites them into one image.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log"

	"github.com/pdok/gpkgtiles/codec"
	"github.com/pdok/gpkgtiles/geomhelp"
	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/srs"
	"github.com/pdok/gpkgtiles/tilegrid"
	"github.com/pdok/gpkgtiles/zoomlevel"
)

var (
	ErrInvalidSize = errors.New("invalid output size")
	// ErrNoDecodableTiles is returned when tiles overlapped a request but none could be decoded.
	ErrNoDecodableTiles = errors.New("no decodable tiles")
)

// TileDecodeError is a stored tile that could not be decoded.
type TileDecodeError struct {
	Table     string
	ZoomLevel int
	Column    int
	Row       int
	Err       error
}

func (e *TileDecodeError) Error() string {
	return fmt.Sprintf("tile %d/%d/%d of %s: %v", e.ZoomLevel, e.Column, e.Row, e.Table, e.Err)
}

func (e *TileDecodeError) Unwrap() error {
	return e.Err
}

type Options struct {
	Resampling codec.Resampling
	// SkipCorruptTiles continues past tiles that fail to decode, listing them in the result.
	// Otherwise the first such tile fails the request.
	SkipCorruptTiles bool
	// Scaling overrides the scaling policy stored with the pyramid.
	Scaling *pyramid.TileScaling
}

// Composite is a composited output image.
type Composite struct {
	Image     *image.RGBA
	ZoomLevel int
	// Skipped lists the overlapping tiles left out because they could not be decoded.
	Skipped []*TileDecodeError
}

// Tile is an encoded composite.
type Tile struct {
	Data      []byte
	MediaType string
	ZoomLevel int
	Skipped   []*TileDecodeError
}

// Retriever serves requests for one pyramid. It is safe for concurrent use when its
// store is.
type Retriever struct {
	pyramid   *pyramid.Pyramid
	store     pyramid.TileStore
	projector srs.Projector
	encoder   codec.Encoder
	options   Options
	bounds    pyramid.ProjectedBounds
}

func New(p *pyramid.Pyramid, store pyramid.TileStore, projector srs.Projector, encoder codec.Encoder, options Options) *Retriever {
	return &Retriever{
		pyramid:   p,
		store:     store,
		projector: projector,
		encoder:   encoder,
		options:   options,
	}
}

func (r *Retriever) Pyramid() *pyramid.Pyramid {
	return r.pyramid
}

func (r *Retriever) Encoder() codec.Encoder {
	return r.encoder
}

func (r *Retriever) scaling() *pyramid.TileScaling {
	if r.options.Scaling != nil {
		return r.options.Scaling
	}
	return r.pyramid.Scaling
}

// BoundsIn returns the matrix set bounding box projected into srsID. Results are memoised.
func (r *Retriever) BoundsIn(srsID int) (tilegrid.BoundingBox, error) {
	set := r.pyramid.MatrixSet
	return r.bounds.Get(srsID, func() (tilegrid.BoundingBox, error) {
		return r.projector.Project(set.BoundingBox, set.SRSID, srsID)
	})
}

// project validates a request and projects it into the storage SRS.
// False when it does not intersect the matrix set.
func (r *Retriever) project(request tilegrid.BoundingBox, srsID int) (tilegrid.BoundingBox, bool, error) {
	if err := request.Validate(); err != nil {
		return tilegrid.BoundingBox{}, false, err
	}
	if !r.projector.IsRegistered(srsID) {
		return tilegrid.BoundingBox{}, false, fmt.Errorf("%w: %d", srs.ErrUnregisteredSRS, srsID)
	}
	projected, err := r.projector.Project(request, srsID, r.pyramid.MatrixSet.SRSID)
	if err != nil {
		return tilegrid.BoundingBox{}, false, err
	}
	if !projected.Intersects(r.pyramid.MatrixSet.BoundingBox) {
		return tilegrid.BoundingBox{}, false, nil
	}
	return projected, true, nil
}

func (r *Retriever) candidates(projected tilegrid.BoundingBox, width, height int) []int {
	if width == 0 || height == 0 {
		tileWidth, tileHeight := r.pyramid.DefaultTileSize()
		if width == 0 {
			width = tileWidth
		}
		if height == 0 {
			height = tileHeight
		}
	}
	return zoomlevel.Select(r.pyramid, projected.Width(), projected.Height(), width, height, r.scaling())
}

// HasTile reports whether any stored tile overlaps request (in srsID) at one of the zoom
// levels that GetTile would try for a width x height output. Nothing is decoded.
func (r *Retriever) HasTile(ctx context.Context, request tilegrid.BoundingBox, srsID int, width, height int) (bool, error) {
	if width < 0 || height < 0 {
		return false, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	projected, ok, err := r.project(request, srsID)
	if err != nil || !ok {
		return false, err
	}
	table := r.pyramid.MatrixSet.TableName
	for _, z := range r.candidates(projected, width, height) {
		grid, ok := r.pyramid.TileGrid(z, projected)
		if !ok {
			continue
		}
		n, err := r.store.CountTiles(ctx, table, z, grid)
		if err != nil {
			return false, err
		}
		if n > 0 {
			return true, nil
		}
	}
	return false, nil
}

// GetImage composites the stored tiles overlapping request (in srsID) into a width x
// height image. A zero width or height takes the tile size of the zoom level used.
// False when no stored tile contributes to the image.
func (r *Retriever) GetImage(ctx context.Context, request tilegrid.BoundingBox, srsID int, width, height int) (*Composite, bool, error) {
	if width < 0 || height < 0 {
		return nil, false, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	projected, ok, err := r.project(request, srsID)
	if err != nil || !ok {
		return nil, false, err
	}
	var skipped []*TileDecodeError
	for _, z := range r.candidates(projected, width, height) {
		tm, _ := r.pyramid.TileMatrix(z)
		grid, ok := r.pyramid.TileGrid(z, projected)
		if !ok {
			continue
		}
		outWidth, outHeight := width, height
		if outWidth == 0 {
			outWidth = tm.TileWidth
		}
		if outHeight == 0 {
			outHeight = tm.TileHeight
		}
		img, skippedHere, err := r.composite(ctx, tm, grid, projected, outWidth, outHeight)
		if err != nil {
			return nil, false, err
		}
		skipped = append(skipped, skippedHere...)
		if img != nil {
			return &Composite{Image: img, ZoomLevel: z, Skipped: skipped}, true, nil
		}
	}
	if len(skipped) > 0 {
		return nil, false, fmt.Errorf("%w: %d tiles skipped, first %v", ErrNoDecodableTiles, len(skipped), skipped[0])
	}
	return nil, false, nil
}

// composite draws the tiles of one zoom level. The image is nil when nothing was drawn.
func (r *Retriever) composite(ctx context.Context, tm pyramid.TileMatrix, grid tilegrid.TileGrid,
	request tilegrid.BoundingBox, width, height int) (*image.RGBA, []*TileDecodeError, error) {
	table := r.pyramid.MatrixSet.TableName
	tiles, err := r.store.QueryTiles(ctx, table, tm.ZoomLevel, grid)
	if err != nil {
		return nil, nil, err
	}
	defer tiles.Close()

	var dst *image.RGBA
	var skipped []*TileDecodeError
	drawn := false
	for tiles.Next() {
		stored := tiles.Tile()
		placement, ok := placeTile(r.pyramid.MatrixSet.BoundingBox, tm, stored, request, width, height)
		if !ok {
			continue
		}
		src, err := codec.Decode(stored.Data)
		if err != nil {
			decodeErr := &TileDecodeError{Table: table, ZoomLevel: stored.ZoomLevel, Column: stored.Column, Row: stored.Row, Err: err}
			if !r.options.SkipCorruptTiles {
				return nil, nil, decodeErr
			}
			log.Printf("skipping %v (%s)", decodeErr, geomhelp.ExtentWkt(placement.tileBox.Extent(), 200))
			skipped = append(skipped, decodeErr)
			continue
		}
		if _, ok := codec.SourceRegion(src, placement.src); !ok {
			// stored image smaller than the tile matrix tile size
			continue
		}
		if dst == nil {
			dst = image.NewRGBA(image.Rect(0, 0, width, height))
		}
		if codec.CopyRegion(src, placement.src, dst, placement.dst, r.options.Resampling) {
			drawn = true
		}
	}
	if err = tiles.Err(); err != nil {
		return nil, nil, err
	}
	if !drawn {
		return nil, skipped, nil
	}
	return dst, skipped, nil
}

type placement struct {
	tileBox tilegrid.BoundingBox
	src     image.Rectangle
	dst     image.Rectangle
}

// placeTile computes which pixels of a stored tile land where in the output image.
// False when the tile does not visibly overlap the request.
func placeTile(matrixSet tilegrid.BoundingBox, tm pyramid.TileMatrix, stored pyramid.StoredTile,
	request tilegrid.BoundingBox, width, height int) (placement, bool) {
	tileBox := tilegrid.TileBoundingBox(matrixSet, tm.MatrixWidth, tm.MatrixHeight, stored.Column, stored.Row)
	overlap, ok := tileBox.Intersection(request)
	if !ok {
		return placement{}, false
	}
	dst := tilegrid.PixelRectangle(width, height, request, overlap)
	src := tilegrid.PixelRectangle(tm.TileWidth, tm.TileHeight, tileBox, overlap)
	if !dst.Valid() || !src.Valid() {
		return placement{}, false
	}
	return placement{tileBox: tileBox, src: src.Round(), dst: dst.Round()}, true
}

// GetTile is GetImage followed by encoding with the Retriever's encoder.
func (r *Retriever) GetTile(ctx context.Context, request tilegrid.BoundingBox, srsID int, width, height int) (*Tile, bool, error) {
	composite, ok, err := r.GetImage(ctx, request, srsID, width, height)
	if err != nil || !ok {
		return nil, false, err
	}
	data, err := r.encoder.Encode(composite.Image)
	if err != nil {
		return nil, false, fmt.Errorf("error encoding %s: %w", r.encoder.Format(), err)
	}
	return &Tile{
		Data:      data,
		MediaType: r.encoder.MediaType(),
		ZoomLevel: composite.ZoomLevel,
		Skipped:   composite.Skipped,
	}, true, nil
}
