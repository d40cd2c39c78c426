// Package pyramid holds the read-only description of a tiled table: the tile matrix set
// spanning all zoom levels, one tile matrix per zoom level and the optional scaling policy.
package pyramid

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sort"

	"golang.org/x/exp/maps"

	"github.com/pdok/gpkgtiles/mathhelp"
	"github.com/pdok/gpkgtiles/tilegrid"
)

// TileMatrixSet is the extent and SRS shared by every zoom level of a table.
// Tile (0, 0) of every zoom level has its top left corner at (MinX, MaxY) of the bounding box.
type TileMatrixSet struct {
	TableName   string
	SRSID       int
	BoundingBox tilegrid.BoundingBox
}

// TileMatrix is the grid geometry of one zoom level.
type TileMatrix struct {
	ZoomLevel    int
	MatrixWidth  int
	MatrixHeight int
	TileWidth    int
	TileHeight   int
	PixelXSize   float64
	PixelYSize   float64
}

// GroundResolution returns the ground units per pixel in x and y.
func (tm TileMatrix) GroundResolution() (float64, float64) {
	return tm.PixelXSize, tm.PixelYSize
}

func (tm TileMatrix) Validate() error {
	if tm.MatrixWidth < 1 || tm.MatrixHeight < 1 {
		return fmt.Errorf("tile matrix %d: matrix size %dx%d", tm.ZoomLevel, tm.MatrixWidth, tm.MatrixHeight)
	}
	if tm.TileWidth < 1 || tm.TileHeight < 1 {
		return fmt.Errorf("tile matrix %d: tile size %dx%d", tm.ZoomLevel, tm.TileWidth, tm.TileHeight)
	}
	if !(tm.PixelXSize > 0) || !(tm.PixelYSize > 0) {
		return fmt.Errorf("tile matrix %d: pixel size %vx%v", tm.ZoomLevel, tm.PixelXSize, tm.PixelYSize)
	}
	return nil
}

// StoredTile is one tile row of the storage collaborator.
type StoredTile struct {
	ZoomLevel int
	Column    int
	Row       int
	Data      []byte
}

func (t StoredTile) String() string {
	return fmt.Sprintf("%d/%d/%d", t.ZoomLevel, t.Column, t.Row)
}

// TileIterator is a lazy, single pass sequence of stored tiles.
// Close may be called before the sequence is exhausted.
type TileIterator interface {
	Next() bool
	Tile() StoredTile
	Err() error
	Close() error
}

// TileStore is the storage collaborator: it yields the tiles of one zoom level inside a grid.
type TileStore interface {
	QueryTiles(ctx context.Context, table string, zoom int, grid tilegrid.TileGrid) (TileIterator, error)
	CountTiles(ctx context.Context, table string, zoom int, grid tilegrid.TileGrid) (int, error)
}

// Pyramid bundles the tile matrix set, its tile matrices by zoom level and the scaling policy.
type Pyramid struct {
	MatrixSet TileMatrixSet
	Scaling   *TileScaling
	matrices  map[int]TileMatrix
	zooms     []int
}

// New validates the matrices and returns a Pyramid. Duplicate zoom levels are an error.
func New(matrixSet TileMatrixSet, matrices []TileMatrix, scaling *TileScaling) (*Pyramid, error) {
	if err := matrixSet.BoundingBox.Validate(); err != nil {
		return nil, fmt.Errorf("tile matrix set %s: %w", matrixSet.TableName, err)
	}
	if scaling != nil {
		if err := scaling.Type.Validate(); err != nil {
			return nil, fmt.Errorf("tile scaling of %s: %w", matrixSet.TableName, err)
		}
	}
	byZoom := make(map[int]TileMatrix, len(matrices))
	for _, tm := range matrices {
		if err := tm.Validate(); err != nil {
			return nil, err
		}
		if _, ok := byZoom[tm.ZoomLevel]; ok {
			return nil, fmt.Errorf("duplicate tile matrix for zoom level %d", tm.ZoomLevel)
		}
		byZoom[tm.ZoomLevel] = tm
	}
	zooms := maps.Keys(byZoom)
	slices.Sort(zooms)
	return &Pyramid{
		MatrixSet: matrixSet,
		Scaling:   scaling,
		matrices:  byZoom,
		zooms:     zooms,
	}, nil
}

// ZoomLevels returns the existing zoom levels in ascending order.
func (p *Pyramid) ZoomLevels() []int {
	return slices.Clone(p.zooms)
}

func (p *Pyramid) TileMatrix(zoom int) (TileMatrix, bool) {
	tm, ok := p.matrices[zoom]
	return tm, ok
}

// MinZoom and MaxZoom return false for a pyramid without zoom levels.
func (p *Pyramid) MinZoom() (int, bool) {
	if len(p.zooms) == 0 {
		return 0, false
	}
	return p.zooms[0], true
}

func (p *Pyramid) MaxZoom() (int, bool) {
	if len(p.zooms) == 0 {
		return 0, false
	}
	return p.zooms[len(p.zooms)-1], true
}

// DefaultTileSize is the tile pixel size of the lowest zoom level, or 256x256.
func (p *Pyramid) DefaultTileSize() (int, int) {
	if len(p.zooms) == 0 {
		return 256, 256
	}
	tm := p.matrices[p.zooms[0]]
	return tm.TileWidth, tm.TileHeight
}

// TileGrid returns the tiles of zoom overlapping request (in the matrix set SRS).
func (p *Pyramid) TileGrid(zoom int, request tilegrid.BoundingBox) (tilegrid.TileGrid, bool) {
	tm, ok := p.matrices[zoom]
	if !ok {
		return tilegrid.TileGrid{}, false
	}
	return tilegrid.BuildTileGrid(p.MatrixSet.BoundingBox, tm.MatrixWidth, tm.MatrixHeight, request)
}

// TileBoundingBox returns the extent of one tile of zoom.
func (p *Pyramid) TileBoundingBox(zoom, column, row int) (tilegrid.BoundingBox, bool) {
	tm, ok := p.matrices[zoom]
	if !ok {
		return tilegrid.BoundingBox{}, false
	}
	return tilegrid.TileBoundingBox(p.MatrixSet.BoundingBox, tm.MatrixWidth, tm.MatrixHeight, column, row), true
}

type Axis int

const (
	AxisX Axis = iota
	AxisY
)

type level struct {
	zoom       int
	resolution float64
}

func (p *Pyramid) levels(axis Axis) []level {
	levels := make([]level, 0, len(p.zooms))
	for _, z := range p.zooms {
		resX, resY := p.matrices[z].GroundResolution()
		res := resX
		if axis == AxisY {
			res = resY
		}
		levels = append(levels, level{zoom: z, resolution: res})
	}
	// coarsest first
	sort.SliceStable(levels, func(i, j int) bool { return levels[i].resolution > levels[j].resolution })
	return levels
}

// EstimateZoom estimates a continuous zoom level for a ground resolution (units per pixel)
// along one axis, and returns the existing zoom level closest to that estimate.
//
// Between two existing levels the estimate is interpolated in log2 resolution space, beyond
// the coarsest or finest level it is extrapolated by one zoom level per factor two.
// An estimate exactly halfway between two levels is closest to the coarser one.
func (p *Pyramid) EstimateZoom(resolution float64, axis Axis) (continuous float64, closest int, ok bool) {
	levels := p.levels(axis)
	if len(levels) == 0 || !(resolution > 0) {
		return 0, 0, false
	}
	coarsest, finest := levels[0], levels[len(levels)-1]
	if resolution >= coarsest.resolution {
		return float64(coarsest.zoom) - math.Log2(resolution/coarsest.resolution), coarsest.zoom, true
	}
	if resolution <= finest.resolution {
		return float64(finest.zoom) + math.Log2(finest.resolution/resolution), finest.zoom, true
	}
	for i := 0; i < len(levels)-1; i++ {
		a, b := levels[i], levels[i+1]
		if resolution > b.resolution {
			fraction := mathhelp.SnapWhole(2*math.Log2(a.resolution/resolution)/math.Log2(a.resolution/b.resolution)) / 2
			continuous = float64(a.zoom) + fraction*float64(b.zoom-a.zoom)
			closest = a.zoom
			if fraction > 0.5 {
				closest = b.zoom
			}
			return continuous, closest, true
		}
	}
	return float64(finest.zoom), finest.zoom, true
}
