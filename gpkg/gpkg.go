// Package gpkg reads (and writes) raster tile pyramids stored in a GeoPackage.
package gpkg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/go-spatial/geom/encoding/gpkg"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/tilegrid"
)

const (
	tilesDataType    = "tiles"
	tileScalingTable = "nga_tile_scaling"
)

var ErrUnknownTable = errors.New("unknown tile table")

// TileTable is a gpkg_contents entry of data type tiles.
type TileTable struct {
	Name        string
	Identifier  string
	Description string
}

// GeoPackage is an open GeoPackage. It implements pyramid.TileStore and is safe for
// concurrent readers.
type GeoPackage struct {
	handle *gpkg.Handle
	db     *gorm.DB
	// tile table names confirmed to exist
	known sync.Map
}

// Open opens an existing GeoPackage.
func Open(file string) (*GeoPackage, error) {
	if _, err := os.Stat(file); err != nil {
		return nil, fmt.Errorf("opening GeoPackage: %w", err)
	}
	return open(file)
}

func open(file string) (*GeoPackage, error) {
	handle, err := gpkg.Open(file)
	if err != nil {
		return nil, fmt.Errorf("error opening GeoPackage %s: %w", file, err)
	}
	db, err := gorm.Open(&sqlite.Dialector{Conn: handle.DB}, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("error opening GeoPackage %s: %w", file, err)
	}
	return &GeoPackage{handle: handle, db: db}, nil
}

func (g *GeoPackage) Close() error {
	return g.handle.Close()
}

// TileTables lists the tile tables registered in gpkg_contents.
func (g *GeoPackage) TileTables(ctx context.Context) ([]TileTable, error) {
	var rows []contents
	err := g.db.WithContext(ctx).Where("data_type = ?", tilesDataType).Order("table_name").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("error reading gpkg_contents: %w", err)
	}
	tables := make([]TileTable, 0, len(rows))
	for _, c := range rows {
		tables = append(tables, TileTable{
			Name:        c.Name,
			Identifier:  deref(c.Identifier),
			Description: deref(c.Description),
		})
	}
	return tables, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (g *GeoPackage) checkTable(ctx context.Context, table string) error {
	if _, ok := g.known.Load(table); ok {
		return nil
	}
	var n int64
	err := g.db.WithContext(ctx).Model(&contents{}).
		Where("table_name = ? AND data_type = ?", table, tilesDataType).
		Count(&n).Error
	if err != nil {
		return fmt.Errorf("error reading gpkg_contents: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %q", ErrUnknownTable, table)
	}
	g.known.Store(table, struct{}{})
	return nil
}

// Pyramid loads the tile matrix set, tile matrices and tile scaling policy of a table.
// The matrix set SRS is the EPSG code of its gpkg_spatial_ref_sys row when the
// organization is EPSG, otherwise the GeoPackage srs_id.
func (g *GeoPackage) Pyramid(ctx context.Context, table string) (*pyramid.Pyramid, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return nil, err
	}
	db := g.db.WithContext(ctx)

	var set tileMatrixSet
	err := db.Where("table_name = ?", table).Take(&set).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: %q has no tile matrix set", ErrUnknownTable, table)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading tile matrix set of %s: %w", table, err)
	}
	srsID, err := g.epsgCode(ctx, set.SRSID)
	if err != nil {
		return nil, err
	}

	var rows []tileMatrix
	if err = db.Where("table_name = ?", table).Order("zoom_level").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("error reading tile matrices of %s: %w", table, err)
	}
	matrices := make([]pyramid.TileMatrix, 0, len(rows))
	for _, r := range rows {
		matrices = append(matrices, pyramid.TileMatrix{
			ZoomLevel:    r.ZoomLevel,
			MatrixWidth:  r.MatrixWidth,
			MatrixHeight: r.MatrixHeight,
			TileWidth:    r.TileWidth,
			TileHeight:   r.TileHeight,
			PixelXSize:   r.PixelXSize,
			PixelYSize:   r.PixelYSize,
		})
	}

	scaling, err := g.tileScaling(ctx, table)
	if err != nil {
		return nil, err
	}

	return pyramid.New(pyramid.TileMatrixSet{
		TableName: table,
		SRSID:     srsID,
		BoundingBox: tilegrid.BoundingBox{
			MinX: set.MinX,
			MinY: set.MinY,
			MaxX: set.MaxX,
			MaxY: set.MaxY,
		},
	}, matrices, scaling)
}

func (g *GeoPackage) epsgCode(ctx context.Context, srsID int) (int, error) {
	var srs spatialRefSys
	err := g.db.WithContext(ctx).Where("srs_id = ?", srsID).Take(&srs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return srsID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("error reading spatial reference system %d: %w", srsID, err)
	}
	if strings.EqualFold(srs.Organization, "EPSG") && srs.OrganizationCoordsysID > 0 {
		return srs.OrganizationCoordsysID, nil
	}
	return srsID, nil
}

func (g *GeoPackage) tileScaling(ctx context.Context, table string) (*pyramid.TileScaling, error) {
	db := g.db.WithContext(ctx)
	if !db.Migrator().HasTable(tileScalingTable) {
		return nil, nil
	}
	var row tileScaling
	err := db.Where("table_name = ?", table).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading tile scaling of %s: %w", table, err)
	}
	scalingType, err := pyramid.ParseScalingType(row.ScalingType)
	if err != nil {
		return nil, fmt.Errorf("tile scaling of %s: %w", table, err)
	}
	return &pyramid.TileScaling{Type: scalingType, ZoomIn: row.ZoomIn, ZoomOut: row.ZoomOut}, nil
}

const gridFilter = `zoom_level = ? AND tile_column BETWEEN ? AND ? AND tile_row BETWEEN ? AND ?`

func gridArgs(zoom int, grid tilegrid.TileGrid) []any {
	return []any{zoom, grid.MinColumn, grid.MaxColumn, grid.MinRow, grid.MaxRow}
}

// QueryTiles returns a lazy iterator over the stored tiles of zoom inside grid.
// The caller must Close it.
func (g *GeoPackage) QueryTiles(ctx context.Context, table string, zoom int, grid tilegrid.TileGrid) (pyramid.TileIterator, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return nil, err
	}
	query := `SELECT zoom_level, tile_column, tile_row, tile_data FROM ` + quoteIdent(table) + ` WHERE ` + gridFilter
	rows, err := g.handle.QueryContext(ctx, query, gridArgs(zoom, grid)...)
	if err != nil {
		return nil, fmt.Errorf("error querying tiles of %s: %w", table, err)
	}
	return &tileRows{rows: rows}, nil
}

// CountTiles counts the stored tiles of zoom inside grid.
func (g *GeoPackage) CountTiles(ctx context.Context, table string, zoom int, grid tilegrid.TileGrid) (int, error) {
	if err := g.checkTable(ctx, table); err != nil {
		return 0, err
	}
	var n int64
	err := g.db.WithContext(ctx).Table(table).Where(gridFilter, gridArgs(zoom, grid)...).Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("error counting tiles of %s: %w", table, err)
	}
	return int(n), nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

type tileRows struct {
	rows *sql.Rows
	tile pyramid.StoredTile
	err  error
}

func (it *tileRows) Next() bool {
	if it.err != nil || !it.rows.Next() {
		return false
	}
	var t pyramid.StoredTile
	if err := it.rows.Scan(&t.ZoomLevel, &t.Column, &t.Row, &t.Data); err != nil {
		it.err = fmt.Errorf("error reading tile row: %w", err)
		return false
	}
	it.tile = t
	return true
}

func (it *tileRows) Tile() pyramid.StoredTile {
	return it.tile
}

func (it *tileRows) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.rows.Err()
}

func (it *tileRows) Close() error {
	return it.rows.Close()
}
