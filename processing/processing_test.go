package processing

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/gpkgtiles/gpkg"
	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/retrieval"
	"github.com/pdok/gpkgtiles/tilegrid"
	"github.com/pdok/gpkgtiles/tms20"
)

type fakeRenderer struct {
	bounds tilegrid.BoundingBox
	empty  func(tilegrid.BoundingBox) bool
	fail   error

	mu       sync.Mutex
	rendered []tilegrid.BoundingBox
}

func (r *fakeRenderer) BoundsIn(srsID int) (tilegrid.BoundingBox, error) {
	if srsID != 3857 {
		return tilegrid.BoundingBox{}, fmt.Errorf("unexpected srs %d", srsID)
	}
	return r.bounds, nil
}

func (r *fakeRenderer) GetTile(_ context.Context, request tilegrid.BoundingBox, _ int, width, height int) (*retrieval.Tile, bool, error) {
	if r.fail != nil {
		return nil, false, r.fail
	}
	r.mu.Lock()
	r.rendered = append(r.rendered, request)
	r.mu.Unlock()
	if r.empty != nil && r.empty(request) {
		return nil, false, nil
	}
	return &retrieval.Tile{Data: []byte(fmt.Sprintf("%dx%d", width, height)), MediaType: "image/png"}, true, nil
}

// northWestQuarter renders the north west quarter of the world, leaving the southern
// half of that quarter empty from tile matrix 2 on
func northWestQuarter() *fakeRenderer {
	return &fakeRenderer{
		bounds: tilegrid.WebMercatorXYZBounds(0, 0, 1),
		empty: func(b tilegrid.BoundingBox) bool {
			return b.MinY > -1 && b.MaxY < 0.75*tilegrid.WebMercatorHalfWidth
		},
	}
}

func webMercatorQuad(t *testing.T) tms20.TileMatrixSet {
	tms, err := tms20.LoadEmbeddedTileMatrixSet("WebMercatorQuad")
	require.NoError(t, err)
	return tms
}

func TestExport_DirectoryTarget(t *testing.T) {
	dir := t.TempDir()
	renderer := northWestQuarter()
	counts, err := Export(context.Background(), renderer, webMercatorQuad(t), []int{0, 1, 2},
		&DirectoryTarget{Dir: dir, Extension: ".png"}, 3)
	require.NoError(t, err)
	require.Equal(t, Counts{Requested: 6, Written: 4, Empty: 2}, counts)
	require.Len(t, renderer.rendered, 6)

	for _, written := range []string{"0/0/0.png", "1/0/0.png", "2/0/0.png", "2/1/0.png"} {
		data, err := os.ReadFile(filepath.Join(dir, written))
		require.NoError(t, err, written)
		require.Equal(t, "256x256", string(data))
	}
	for _, empty := range []string{"2/0/1.png", "2/1/1.png", "1/1/0.png"} {
		require.NoFileExists(t, filepath.Join(dir, empty))
	}
}

func TestExport_GeoPackageTarget(t *testing.T) {
	ctx := context.Background()
	g, err := gpkg.Create(filepath.Join(t.TempDir(), "export.gpkg"))
	require.NoError(t, err)
	defer g.Close()

	tms := webMercatorQuad(t)
	p, err := tms.Pyramid("export", []int{0, 1, 2})
	require.NoError(t, err)
	require.NoError(t, g.CreateTileTable(ctx, p, "export"))

	counts, err := Export(ctx, northWestQuarter(), tms, []int{0, 1, 2},
		&GeoPackageTarget{GeoPackage: g, Table: "export", PageSize: 3}, 2)
	require.NoError(t, err)
	require.Equal(t, int64(4), counts.Written)

	n, err := g.CountTiles(ctx, "export", 2, tilegrid.TileGrid{MinColumn: 0, MaxColumn: 3, MinRow: 0, MaxRow: 3})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	n, err = g.CountTiles(ctx, "export", 0, tilegrid.TileGrid{})
	require.NoError(t, err)
	require.Equal(t, 1, n)
}

func TestExport_RenderError(t *testing.T) {
	renderer := northWestQuarter()
	renderer.fail = errors.New("broken")
	_, err := Export(context.Background(), renderer, webMercatorQuad(t), []int{0, 1, 2},
		&DirectoryTarget{Dir: t.TempDir(), Extension: ".png"}, 2)
	require.ErrorIs(t, err, renderer.fail)
}

type failingTarget struct{}

func (failingTarget) WriteTiles(_ context.Context, tiles <-chan pyramid.StoredTile) error {
	<-tiles
	return errors.New("disk full")
}

func TestExport_TargetError(t *testing.T) {
	_, err := Export(context.Background(), northWestQuarter(), webMercatorQuad(t), []int{0, 1, 2, 3, 4}, failingTarget{}, 2)
	require.EqualError(t, err, "disk full")
}

func TestExport_UnknownTileMatrix(t *testing.T) {
	_, err := Export(context.Background(), northWestQuarter(), webMercatorQuad(t), []int{25},
		&DirectoryTarget{Dir: t.TempDir()}, 1)
	require.Error(t, err)
}

func TestExport_NoOverlap(t *testing.T) {
	renderer := &fakeRenderer{bounds: tilegrid.BoundingBox{MinX: 1e8, MinY: 1e8, MaxX: 2e8, MaxY: 2e8}}
	counts, err := Export(context.Background(), renderer, webMercatorQuad(t), []int{0, 1},
		&DirectoryTarget{Dir: t.TempDir()}, 1)
	require.NoError(t, err)
	require.Equal(t, Counts{}, counts)
}
