// Package processing takes care of the logistics around rendering tiles and writing them to
// a Target. Not the rendering itself.
package processing

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"

	"github.com/go-spatial/geom/slippy"
	"golang.org/x/sync/errgroup"

	"github.com/pdok/gpkgtiles/morton"
	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/tilegrid"
	"github.com/pdok/gpkgtiles/tms20"
)

type tileRequest struct {
	tile        *slippy.Tile
	boundingBox tilegrid.BoundingBox
	width       int
	height      int
}

// Counts sums up an export.
type Counts struct {
	Requested int64
	Written   int64
	// Empty tiles had nothing to show and were not written
	Empty int64
	// Partial tiles were written with corrupt source tiles left out
	Partial int64
}

type counters struct {
	requested, written, empty, partial atomic.Int64
}

func (c *counters) counts() Counts {
	return Counts{
		Requested: c.requested.Load(),
		Written:   c.written.Load(),
		Empty:     c.empty.Load(),
		Partial:   c.partial.Load(),
	}
}

// Export renders every tile of the tile matrices tmIDs of tms that overlaps the renderer's
// bounds, using workers render goroutines, and writes the non empty ones to target.
func Export(ctx context.Context, renderer Renderer, tms tms20.TileMatrixSet, tmIDs []int, target Target, workers int) (Counts, error) {
	var c counters
	srid, err := tms.SRID()
	if err != nil {
		return c.counts(), err
	}
	for _, tmID := range tmIDs {
		if _, ok := tms.TileMatrices[tmID]; !ok || tmID < 0 {
			return c.counts(), fmt.Errorf("tile matrix %d not in tile matrix set %s", tmID, tms.ID)
		}
	}
	bounds, err := renderer.BoundsIn(srid)
	if err != nil {
		return c.counts(), err
	}
	if workers < 1 {
		workers = 1
	}

	requests := make(chan tileRequest)
	rendered := make(chan pyramid.StoredTile)
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer close(requests)
		return produceRequests(ctx, &tms, tmIDs, bounds, requests, &c)
	})
	g.Go(func() error {
		defer close(rendered)
		renderers, ctx := errgroup.WithContext(ctx)
		for i := 0; i < workers; i++ {
			renderers.Go(func() error {
				return renderTiles(ctx, renderer, srid, requests, rendered, &c)
			})
		}
		return renderers.Wait()
	})
	g.Go(func() error {
		return target.WriteTiles(ctx, countWritten(ctx, rendered, &c))
	})
	err = g.Wait()

	counts := c.counts()
	log.Printf("    total tiles: %d", counts.Requested)
	log.Printf("        written: %d", counts.Written)
	log.Printf("          empty: %d", counts.Empty)
	if counts.Partial > 0 {
		log.Printf("        partial: %d", counts.Partial)
	}
	return counts, err
}

// produceRequests sends a request for every tile overlapping bounds, tile matrix by tile matrix
func produceRequests(ctx context.Context, tms *tms20.TileMatrixSet, tmIDs []int, bounds tilegrid.BoundingBox,
	requests chan<- tileRequest, c *counters) error {
	for _, tmID := range tmIDs {
		zoom := uint(tmID)
		grid, ok := tms.TileGrid(zoom, bounds)
		if !ok {
			log.Printf("  tile matrix %d does not overlap %v", tmID, bounds)
			continue
		}
		tm := tms.TileMatrices[tmID]
		log.Printf("  tile matrix %d: %d tiles (%v)", tmID, grid.Count(), grid)
		// neighbouring output tiles mostly share source tiles
		morton.Walk(grid.MinColumn, grid.MinRow, grid.MaxColumn, grid.MaxRow, func(col, row int) bool {
			tile := &slippy.Tile{Z: zoom, X: uint(col), Y: uint(row)}
			boundingBox, _ := tms.TileBoundingBox(tile)
			request := tileRequest{
				tile:        tile,
				boundingBox: boundingBox,
				width:       int(tm.TileWidth),
				height:      int(tm.TileHeight),
			}
			select {
			case requests <- request:
				c.requested.Add(1)
				return true
			case <-ctx.Done():
				return false
			}
		})
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// renderTiles renders requests until there are no more
func renderTiles(ctx context.Context, renderer Renderer, srid int, requests <-chan tileRequest,
	rendered chan<- pyramid.StoredTile, c *counters) error {
	for request := range requests {
		tile, ok, err := renderer.GetTile(ctx, request.boundingBox, srid, request.width, request.height)
		if err != nil {
			return fmt.Errorf("error rendering tile %d/%d/%d: %w", request.tile.Z, request.tile.X, request.tile.Y, err)
		}
		if !ok {
			c.empty.Add(1)
			continue
		}
		if len(tile.Skipped) > 0 {
			c.partial.Add(1)
		}
		select {
		case rendered <- pyramid.StoredTile{
			ZoomLevel: int(request.tile.Z),
			Column:    int(request.tile.X),
			Row:       int(request.tile.Y),
			Data:      tile.Data,
		}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// countWritten passes tiles on to a target, counting them
func countWritten(ctx context.Context, tiles <-chan pyramid.StoredTile, c *counters) <-chan pyramid.StoredTile {
	counted := make(chan pyramid.StoredTile)
	go func() {
		defer close(counted)
		for tile := range tiles {
			select {
			case counted <- tile:
				c.written.Add(1)
			case <-ctx.Done():
				// keep draining so the renderers are not blocked
			}
		}
	}()
	return counted
}
