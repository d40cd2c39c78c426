package tilegrid

import (
	"fmt"
	"image"
	"math"

	"github.com/pdok/gpkgtiles/mathhelp"
)

// TileGrid is an inclusive range of tile columns and rows within one tile matrix.
type TileGrid struct {
	MinColumn int
	MaxColumn int
	MinRow    int
	MaxRow    int
}

// Count returns the number of tiles addressed by the grid.
func (g TileGrid) Count() int {
	return (g.MaxColumn - g.MinColumn + 1) * (g.MaxRow - g.MinRow + 1)
}

func (g TileGrid) Contains(column, row int) bool {
	return mathhelp.BetweenInc(column, g.MinColumn, g.MaxColumn) && mathhelp.BetweenInc(row, g.MinRow, g.MaxRow)
}

func (g TileGrid) String() string {
	return fmt.Sprintf("columns %d-%d rows %d-%d", g.MinColumn, g.MaxColumn, g.MinRow, g.MaxRow)
}

// ProjectedTileSize returns the ground size of one tile when tilesPerSide tiles span
// a world of 2 * worldHalfWidth.
func ProjectedTileSize(tilesPerSide uint, worldHalfWidth float64) float64 {
	return 2 * worldHalfWidth / float64(tilesPerSide)
}

// TileColumn returns the column containing x, -1 left of the matrix set and matrixWidth
// at or right of it. An upper bound on a column boundary belongs to the column before it.
func TileColumn(matrixSet BoundingBox, matrixWidth int, x float64, isUpperBound bool) int {
	if x < matrixSet.MinX {
		return -1
	}
	if x >= matrixSet.MaxX {
		return matrixWidth
	}
	tileWidth := matrixSet.Width() / float64(matrixWidth)
	return tileIndex((x-matrixSet.MinX)/tileWidth, isUpperBound)
}

// TileRow returns the row containing y, -1 above the matrix set and matrixHeight at or
// below it. Rows count downwards from MaxY, so the upper bound of a row range comes from
// the minimum y of a request; on a row boundary it belongs to the row above.
func TileRow(matrixSet BoundingBox, matrixHeight int, y float64, isUpperBound bool) int {
	if y > matrixSet.MaxY {
		return -1
	}
	if y <= matrixSet.MinY {
		return matrixHeight
	}
	tileHeight := matrixSet.Height() / float64(matrixHeight)
	return tileIndex((matrixSet.MaxY-y)/tileHeight, isUpperBound)
}

func tileIndex(position float64, isUpperBound bool) int {
	position = mathhelp.SnapWhole(position)
	index := int(math.Floor(position))
	if isUpperBound && mathhelp.IsWhole(position) {
		index--
	}
	return index
}

// BuildTileGrid returns the tiles of a matrixWidth x matrixHeight matrix over matrixSet
// that overlap request, clamped into the matrix. False when nothing overlaps.
func BuildTileGrid(matrixSet BoundingBox, matrixWidth, matrixHeight int, request BoundingBox) (TileGrid, bool) {
	minColumn := TileColumn(matrixSet, matrixWidth, request.MinX, false)
	maxColumn := TileColumn(matrixSet, matrixWidth, request.MaxX, true)
	if minColumn >= matrixWidth || maxColumn < 0 {
		return TileGrid{}, false
	}
	minRow := TileRow(matrixSet, matrixHeight, request.MaxY, false)
	maxRow := TileRow(matrixSet, matrixHeight, request.MinY, true)
	if minRow >= matrixHeight || maxRow < 0 {
		return TileGrid{}, false
	}
	grid := TileGrid{
		MinColumn: mathhelp.Clamp(minColumn, 0, matrixWidth-1),
		MaxColumn: mathhelp.Clamp(maxColumn, 0, matrixWidth-1),
		MinRow:    mathhelp.Clamp(minRow, 0, matrixHeight-1),
		MaxRow:    mathhelp.Clamp(maxRow, 0, matrixHeight-1),
	}
	if grid.MinColumn > grid.MaxColumn || grid.MinRow > grid.MaxRow {
		// a zero width request on a tile boundary
		return TileGrid{}, false
	}
	return grid, true
}

// TileBoundingBox returns the ground extent of a single tile.
func TileBoundingBox(matrixSet BoundingBox, matrixWidth, matrixHeight int, column, row int) BoundingBox {
	tileWidth := matrixSet.Width() / float64(matrixWidth)
	tileHeight := matrixSet.Height() / float64(matrixHeight)
	minX := matrixSet.MinX + float64(column)*tileWidth
	maxY := matrixSet.MaxY - float64(row)*tileHeight
	return BoundingBox{
		MinX: minX,
		MinY: maxY - tileHeight,
		MaxX: minX + tileWidth,
		MaxY: maxY,
	}
}

// Rectangle is a fractional pixel rectangle. Top is the smaller row.
type Rectangle struct {
	Left   float64
	Top    float64
	Right  float64
	Bottom float64
}

// PixelRectangle maps overlap, a part of container, onto an image of width x height
// pixels that spans container.
func PixelRectangle(width, height int, container, overlap BoundingBox) Rectangle {
	return Rectangle{
		Left:   (overlap.MinX - container.MinX) / container.Width() * float64(width),
		Right:  (overlap.MaxX - container.MinX) / container.Width() * float64(width),
		Top:    (container.MaxY - overlap.MaxY) / container.Height() * float64(height),
		Bottom: (container.MaxY - overlap.MinY) / container.Height() * float64(height),
	}
}

// Round rounds every edge to the nearest pixel.
func (r Rectangle) Round() image.Rectangle {
	return image.Rectangle{
		Min: image.Point{X: int(math.Round(r.Left)), Y: int(math.Round(r.Top))},
		Max: image.Point{X: int(math.Round(r.Right)), Y: int(math.Round(r.Bottom))},
	}
}

// Valid reports whether the rounded rectangle covers at least one pixel in both directions.
func (r Rectangle) Valid() bool {
	rounded := r.Round()
	return rounded.Max.X-rounded.Min.X >= 1 && rounded.Max.Y-rounded.Min.Y >= 1
}
