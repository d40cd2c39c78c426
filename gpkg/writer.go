package gpkg

import (
	"context"
	"fmt"
	"log"

	"github.com/go-spatial/geom/encoding/gpkg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/pdok/gpkgtiles/pyramid"
)

const createTileTableSQL = `CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	zoom_level INTEGER NOT NULL,
	tile_column INTEGER NOT NULL,
	tile_row INTEGER NOT NULL,
	tile_data BLOB NOT NULL,
	UNIQUE (zoom_level, tile_column, tile_row)
);`

// metadataSQL creates the tile related metadata tables that a fresh GeoPackage may lack.
var metadataSQL = []string{
	`CREATE TABLE IF NOT EXISTS gpkg_tile_matrix_set (
	table_name TEXT NOT NULL PRIMARY KEY,
	srs_id INTEGER NOT NULL,
	min_x DOUBLE NOT NULL,
	min_y DOUBLE NOT NULL,
	max_x DOUBLE NOT NULL,
	max_y DOUBLE NOT NULL
);`,
	`CREATE TABLE IF NOT EXISTS gpkg_tile_matrix (
	table_name TEXT NOT NULL,
	zoom_level INTEGER NOT NULL,
	matrix_width INTEGER NOT NULL,
	matrix_height INTEGER NOT NULL,
	tile_width INTEGER NOT NULL,
	tile_height INTEGER NOT NULL,
	pixel_x_size DOUBLE NOT NULL,
	pixel_y_size DOUBLE NOT NULL,
	CONSTRAINT pk_ttm PRIMARY KEY (table_name, zoom_level)
);`,
	`CREATE TABLE IF NOT EXISTS gpkg_extensions (
	table_name TEXT,
	column_name TEXT,
	extension_name TEXT NOT NULL,
	definition TEXT NOT NULL,
	scope TEXT NOT NULL,
	CONSTRAINT ge_tce UNIQUE (table_name, column_name, extension_name)
);`,
	`CREATE TABLE IF NOT EXISTS nga_tile_scaling (
	table_name TEXT PRIMARY KEY NOT NULL,
	scaling_type TEXT NOT NULL,
	zoom_in INT,
	zoom_out INT
);`,
}

// SpatialReferenceSystems holds gpkg_spatial_ref_sys rows for the EPSG codes tile tables
// are created in most often. WGS84 is registered by every GeoPackage already.
var SpatialReferenceSystems = map[int]gpkg.SpatialReferenceSystem{
	3857: {
		Name:                   "WGS 84 / Pseudo-Mercator",
		ID:                     3857,
		Organization:           "EPSG",
		OrganizationCoordsysID: 3857,
		Definition:             `PROJCS["WGS 84 / Pseudo-Mercator",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Mercator_1SP"],PARAMETER["central_meridian",0],PARAMETER["scale_factor",1],PARAMETER["false_easting",0],PARAMETER["false_northing",0],UNIT["metre",1],AUTHORITY["EPSG","3857"]]`,
		Description:            "Web Mercator",
	},
	28992: {
		Name:                   "Amersfoort / RD New",
		ID:                     28992,
		Organization:           "EPSG",
		OrganizationCoordsysID: 28992,
		Definition:             `PROJCS["Amersfoort / RD New",GEOGCS["Amersfoort",DATUM["Amersfoort",SPHEROID["Bessel 1841",6377397.155,299.1528128]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Oblique_Stereographic"],PARAMETER["latitude_of_origin",52.1561605555556],PARAMETER["central_meridian",5.38763888888889],PARAMETER["scale_factor",0.9999079],PARAMETER["false_easting",155000],PARAMETER["false_northing",463000],UNIT["metre",1],AUTHORITY["EPSG","28992"]]`,
		Description:            "Amersfoort / RD New",
	},
}

// Create opens a GeoPackage for writing, creating the file when it does not exist.
func Create(file string) (*GeoPackage, error) {
	g, err := open(file)
	if err != nil {
		return nil, err
	}
	for _, stmt := range metadataSQL {
		if _, err = g.handle.Exec(stmt); err != nil {
			g.Close()
			return nil, fmt.Errorf("error preparing GeoPackage %s: %w", file, err)
		}
	}
	return g, nil
}

// CreateTileTable registers a tile table with its matrix set, tile matrices and optional
// scaling policy, and creates the table itself. The matrix set SRS must be 4326 or a key
// of SpatialReferenceSystems.
func (g *GeoPackage) CreateTileTable(ctx context.Context, p *pyramid.Pyramid, identifier string) error {
	set := p.MatrixSet
	if srs, ok := SpatialReferenceSystems[set.SRSID]; ok {
		if err := g.handle.UpdateSRS(srs); err != nil {
			return fmt.Errorf("error registering SRS %d: %w", set.SRSID, err)
		}
	}
	if _, err := g.handle.ExecContext(ctx, fmt.Sprintf(createTileTableSQL, quoteIdent(set.TableName))); err != nil {
		return fmt.Errorf("error building tile table %s: %w", set.TableName, err)
	}

	srsID := set.SRSID
	bbox := set.BoundingBox
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		upsert := tx.Clauses(clause.OnConflict{UpdateAll: true})
		if err := upsert.Create(&contents{
			Name:       set.TableName,
			DataType:   tilesDataType,
			Identifier: &identifier,
			MinX:       &bbox.MinX,
			MinY:       &bbox.MinY,
			MaxX:       &bbox.MaxX,
			MaxY:       &bbox.MaxY,
			SRSID:      &srsID,
		}).Error; err != nil {
			return err
		}
		if err := upsert.Create(&tileMatrixSet{
			Name:  set.TableName,
			SRSID: srsID,
			MinX:  bbox.MinX,
			MinY:  bbox.MinY,
			MaxX:  bbox.MaxX,
			MaxY:  bbox.MaxY,
		}).Error; err != nil {
			return err
		}
		if err := tx.Where("table_name = ?", set.TableName).Delete(&tileMatrix{}).Error; err != nil {
			return err
		}
		for _, z := range p.ZoomLevels() {
			tm, _ := p.TileMatrix(z)
			if err := tx.Create(&tileMatrix{
				Name:         set.TableName,
				ZoomLevel:    tm.ZoomLevel,
				MatrixWidth:  tm.MatrixWidth,
				MatrixHeight: tm.MatrixHeight,
				TileWidth:    tm.TileWidth,
				TileHeight:   tm.TileHeight,
				PixelXSize:   tm.PixelXSize,
				PixelYSize:   tm.PixelYSize,
			}).Error; err != nil {
				return err
			}
		}
		if p.Scaling == nil {
			return nil
		}
		if err := upsert.Create(&tileScaling{
			Name:        set.TableName,
			ScalingType: p.Scaling.Type.String(),
			ZoomIn:      p.Scaling.ZoomIn,
			ZoomOut:     p.Scaling.ZoomOut,
		}).Error; err != nil {
			return err
		}
		name := set.TableName
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&extension{
			Name:          &name,
			ExtensionName: tileScalingTable,
			Definition:    "http://ngageoint.github.io/GeoPackage/docs/extensions/tile-scaling.html",
			Scope:         "read-write",
		}).Error
	})
	if err != nil {
		return fmt.Errorf("error registering tile table %s: %w", set.TableName, err)
	}
	g.known.Store(set.TableName, struct{}{})
	return nil
}

// WriteTiles inserts or replaces tiles in pages of pagesize rows, one transaction per page.
func (g *GeoPackage) WriteTiles(ctx context.Context, table string, tiles []pyramid.StoredTile, pagesize int) error {
	if err := g.checkTable(ctx, table); err != nil {
		return err
	}
	if pagesize < 1 {
		pagesize = len(tiles)
	}
	for start := 0; start < len(tiles); start += pagesize {
		end := min(start+pagesize, len(tiles))
		if err := g.writeTiles(ctx, table, tiles[start:end]); err != nil {
			return err
		}
	}
	return nil
}

func (g *GeoPackage) writeTiles(ctx context.Context, table string, tiles []pyramid.StoredTile) error {
	tx, err := g.handle.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("could not start a transaction: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT OR REPLACE INTO `+quoteIdent(table)+
		`(zoom_level, tile_column, tile_row, tile_data) VALUES(?,?,?,?)`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("could not prepare a statement: %w", err)
	}
	defer stmt.Close()
	for _, t := range tiles {
		if _, err = stmt.ExecContext(ctx, t.ZoomLevel, t.Column, t.Row, t.Data); err != nil {
			tx.Rollback()
			return fmt.Errorf("could not write tile %v: %w", t, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("could not commit tiles: %w", err)
	}
	if len(tiles) > 0 {
		log.Printf("    wrote %d tiles to %s", len(tiles), table)
	}
	return nil
}
