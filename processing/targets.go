package processing

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pdok/gpkgtiles/gpkg"
	"github.com/pdok/gpkgtiles/pyramid"
)

// DirectoryTarget writes tiles as <Dir>/<tile matrix>/<column>/<row><Extension>.
type DirectoryTarget struct {
	Dir string
	// Extension including the dot, e.g. ".png"
	Extension string
}

func (t *DirectoryTarget) WriteTiles(ctx context.Context, tiles <-chan pyramid.StoredTile) error {
	for tile := range tiles {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := t.writeTile(tile); err != nil {
			return err
		}
	}
	return nil
}

func (t *DirectoryTarget) writeTile(tile pyramid.StoredTile) error {
	dir := filepath.Join(t.Dir, strconv.Itoa(tile.ZoomLevel), strconv.Itoa(tile.Column))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("could not create %s: %w", dir, err)
	}
	file := filepath.Join(dir, strconv.Itoa(tile.Row)+t.Extension)
	if err := os.WriteFile(file, tile.Data, 0o644); err != nil {
		return fmt.Errorf("could not write tile %v: %w", tile, err)
	}
	return nil
}

// GeoPackageTarget writes tiles into a tile table, PageSize tiles per transaction.
// The table must exist, see gpkg.GeoPackage.CreateTileTable.
type GeoPackageTarget struct {
	GeoPackage *gpkg.GeoPackage
	Table      string
	PageSize   int
}

func (t *GeoPackageTarget) WriteTiles(ctx context.Context, tiles <-chan pyramid.StoredTile) error {
	pageSize := t.PageSize
	if pageSize < 1 {
		pageSize = 1000
	}
	page := make([]pyramid.StoredTile, 0, pageSize)
	for tile := range tiles {
		page = append(page, tile)
		if len(page) < pageSize {
			continue
		}
		if err := t.GeoPackage.WriteTiles(ctx, t.Table, page, pageSize); err != nil {
			return err
		}
		page = page[:0]
	}
	return t.GeoPackage.WriteTiles(ctx, t.Table, page, pageSize)
}
