package retrieval

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pdok/gpkgtiles/codec"
	"github.com/pdok/gpkgtiles/pyramid"
	"github.com/pdok/gpkgtiles/srs"
	"github.com/pdok/gpkgtiles/tilegrid"
)

var (
	world4326 = tilegrid.BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90}
	red       = color.RGBA{R: 255, A: 255}
	green     = color.RGBA{G: 255, A: 255}
	blue      = color.RGBA{B: 255, A: 255}
)

type fakeStore struct {
	tiles   []pyramid.StoredTile
	fail    error
	mu      sync.Mutex
	queries int
	counts  int
}

func (s *fakeStore) matching(zoom int, grid tilegrid.TileGrid) []pyramid.StoredTile {
	var r []pyramid.StoredTile
	for _, t := range s.tiles {
		if t.ZoomLevel == zoom && grid.Contains(t.Column, t.Row) {
			r = append(r, t)
		}
	}
	return r
}

func (s *fakeStore) QueryTiles(_ context.Context, _ string, zoom int, grid tilegrid.TileGrid) (pyramid.TileIterator, error) {
	s.mu.Lock()
	s.queries++
	s.mu.Unlock()
	if s.fail != nil {
		return nil, s.fail
	}
	return &sliceIterator{tiles: s.matching(zoom, grid), pos: -1}, nil
}

func (s *fakeStore) CountTiles(_ context.Context, _ string, zoom int, grid tilegrid.TileGrid) (int, error) {
	s.mu.Lock()
	s.counts++
	s.mu.Unlock()
	if s.fail != nil {
		return 0, s.fail
	}
	return len(s.matching(zoom, grid)), nil
}

type sliceIterator struct {
	tiles  []pyramid.StoredTile
	pos    int
	closed bool
}

func (it *sliceIterator) Next() bool {
	if it.closed || it.pos+1 >= len(it.tiles) {
		return false
	}
	it.pos++
	return true
}

func (it *sliceIterator) Tile() pyramid.StoredTile { return it.tiles[it.pos] }
func (it *sliceIterator) Err() error               { return nil }
func (it *sliceIterator) Close() error {
	it.closed = true
	return nil
}

func solidPNG(t *testing.T, width, height int, c color.RGBA) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

// centerPNG is a red 256x256 tile with a green center quarter (64..192 both ways).
func centerPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 256, 256))
	for y := 0; y < 256; y++ {
		for x := 0; x < 256; x++ {
			c := red
			if x >= 64 && x < 192 && y >= 64 && y < 192 {
				c = green
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newPyramid(t *testing.T, set pyramid.TileMatrixSet, matrices ...pyramid.TileMatrix) *pyramid.Pyramid {
	t.Helper()
	p, err := pyramid.New(set, matrices, nil)
	require.NoError(t, err)
	return p
}

func newRetriever(t *testing.T, p *pyramid.Pyramid, store pyramid.TileStore, options Options) *Retriever {
	t.Helper()
	encoder, err := codec.NewEncoder("png", 0)
	require.NoError(t, err)
	return New(p, store, srs.NewRegistry(), encoder, options)
}

// singleTilePyramid is one zoom level with a single 256x256 tile covering the world.
func singleTilePyramid(t *testing.T) *pyramid.Pyramid {
	return newPyramid(t, pyramid.TileMatrixSet{TableName: "world", SRSID: srs.WGS84, BoundingBox: world4326},
		pyramid.TileMatrix{ZoomLevel: 0, MatrixWidth: 1, MatrixHeight: 1, TileWidth: 256, TileHeight: 256,
			PixelXSize: 360.0 / 256, PixelYSize: 180.0 / 256})
}

func TestPlaceTile_CenterQuarter(t *testing.T) {
	tm := pyramid.TileMatrix{ZoomLevel: 0, MatrixWidth: 1, MatrixHeight: 1, TileWidth: 256, TileHeight: 256}
	got, ok := placeTile(world4326, tm, pyramid.StoredTile{}, tilegrid.BoundingBox{MinX: -90, MinY: -45, MaxX: 90, MaxY: 45}, 100, 100)
	require.True(t, ok)
	require.Equal(t, image.Rect(64, 64, 192, 192), got.src)
	require.Equal(t, image.Rect(0, 0, 100, 100), got.dst)
	require.Equal(t, world4326, got.tileBox)

	_, ok = placeTile(world4326, tm, pyramid.StoredTile{}, tilegrid.BoundingBox{MinX: 180, MinY: -45, MaxX: 200, MaxY: 45}, 100, 100)
	require.False(t, ok)
}

func TestGetImage_CenterQuarter(t *testing.T) {
	store := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: centerPNG(t)}}}
	r := newRetriever(t, singleTilePyramid(t), store, Options{Resampling: codec.Nearest})

	composite, ok, err := r.GetImage(context.Background(), tilegrid.BoundingBox{MinX: -90, MinY: -45, MaxX: 90, MaxY: 45}, srs.WGS84, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, image.Rect(0, 0, 100, 100), composite.Image.Bounds())
	require.Equal(t, 0, composite.ZoomLevel)
	require.Empty(t, composite.Skipped)
	for y := 0; y < 100; y++ {
		for x := 0; x < 100; x++ {
			require.Equal(t, green, composite.Image.RGBAAt(x, y), "pixel %d,%d", x, y)
		}
	}
}

func TestGetTile_Encodes(t *testing.T) {
	store := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: centerPNG(t)}}}
	r := newRetriever(t, singleTilePyramid(t), store, Options{})

	tile, ok, err := r.GetTile(context.Background(), world4326, srs.WGS84, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "image/png", tile.MediaType)
	img, err := codec.Decode(tile.Data)
	require.NoError(t, err)
	// zero size takes the tile size
	require.Equal(t, image.Rect(0, 0, 256, 256), img.Bounds())
}

func TestGetImage_AdjacentTilesCoverRequest(t *testing.T) {
	p := newPyramid(t, pyramid.TileMatrixSet{TableName: "pair", SRSID: srs.WebMercator, BoundingBox: tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}},
		pyramid.TileMatrix{ZoomLevel: 0, MatrixWidth: 2, MatrixHeight: 1, TileWidth: 100, TileHeight: 100, PixelXSize: 1, PixelYSize: 1})
	store := &fakeStore{tiles: []pyramid.StoredTile{
		{ZoomLevel: 0, Column: 0, Row: 0, Data: solidPNG(t, 100, 100, red)},
		{ZoomLevel: 0, Column: 1, Row: 0, Data: solidPNG(t, 100, 100, blue)},
	}}
	r := newRetriever(t, p, store, Options{Resampling: codec.Nearest})

	tests := []struct {
		name    string
		request tilegrid.BoundingBox
		width   int
		height  int
	}{
		{"whole set", tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}, 50, 25},
		{"straddling the seam", tilegrid.BoundingBox{MinX: 50, MinY: 0, MaxX: 150, MaxY: 100}, 100, 100},
		{"off center", tilegrid.BoundingBox{MinX: 80, MinY: 10, MaxX: 180, MaxY: 60}, 40, 20},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			composite, ok, err := r.GetImage(context.Background(), tt.request, srs.WebMercator, tt.width, tt.height)
			require.NoError(t, err)
			require.True(t, ok)

			seam := tilegrid.PixelRectangle(tt.width, tt.height, tt.request, tilegrid.BoundingBox{MinX: 100, MinY: 0, MaxX: 200, MaxY: 100}).Round().Min.X
			for y := 0; y < tt.height; y++ {
				for x := 0; x < tt.width; x++ {
					want := red
					if x >= seam {
						want = blue
					}
					require.Equal(t, want, composite.Image.RGBAAt(x, y), "pixel %d,%d seam %d", x, y, seam)
				}
			}
		})
	}
}

func TestHasTile_DoesNotDecode(t *testing.T) {
	empty := &fakeStore{}
	r := newRetriever(t, singleTilePyramid(t), empty, Options{})
	ok, err := r.HasTile(context.Background(), world4326, srs.WGS84, 0, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, empty.queries)
	require.Equal(t, 1, empty.counts)

	// corrupt data is fine, it is only counted
	corrupt := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Data: []byte("garbage")}}}
	r = newRetriever(t, singleTilePyramid(t), corrupt, Options{})
	ok, err = r.HasTile(context.Background(), tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}, srs.WGS84, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, corrupt.queries)
}

func TestNoTile(t *testing.T) {
	store := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: centerPNG(t)}}}
	p := newPyramid(t, pyramid.TileMatrixSet{TableName: "part", SRSID: srs.WGS84, BoundingBox: tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 10, MaxY: 10}},
		pyramid.TileMatrix{ZoomLevel: 0, MatrixWidth: 1, MatrixHeight: 1, TileWidth: 256, TileHeight: 256, PixelXSize: 10.0 / 256, PixelYSize: 10.0 / 256})
	r := newRetriever(t, p, store, Options{})
	ctx := context.Background()

	outside := tilegrid.BoundingBox{MinX: 20, MinY: 20, MaxX: 30, MaxY: 30}
	_, ok, err := r.GetTile(ctx, outside, srs.WGS84, 256, 256)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.HasTile(ctx, outside, srs.WGS84, 0, 0)
	require.NoError(t, err)
	require.False(t, ok)
	require.Equal(t, 0, store.queries+store.counts)

	empty := newRetriever(t, newPyramid(t, p.MatrixSet), store, Options{})
	_, ok, err = empty.GetTile(ctx, outside, srs.WGS84, 256, 256)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = empty.GetTile(ctx, p.MatrixSet.BoundingBox, srs.WGS84, 256, 256)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCallerErrors(t *testing.T) {
	r := newRetriever(t, singleTilePyramid(t), &fakeStore{}, Options{})
	ctx := context.Background()

	_, _, err := r.GetTile(ctx, tilegrid.BoundingBox{MinX: 10, MinY: 0, MaxX: 0, MaxY: 10}, srs.WGS84, 256, 256)
	require.ErrorIs(t, err, tilegrid.ErrInvalidBoundingBox)
	_, err = r.HasTile(ctx, world4326, 28992, 0, 0)
	require.ErrorIs(t, err, srs.ErrUnregisteredSRS)
	_, _, err = r.GetImage(ctx, world4326, srs.WGS84, -1, 256)
	require.ErrorIs(t, err, ErrInvalidSize)
	_, err = r.HasTile(ctx, world4326, srs.WGS84, 256, -1)
	require.ErrorIs(t, err, ErrInvalidSize)
}

func TestStoreFailure(t *testing.T) {
	boom := errors.New("disk on fire")
	r := newRetriever(t, singleTilePyramid(t), &fakeStore{fail: boom}, Options{})
	_, _, err := r.GetTile(context.Background(), world4326, srs.WGS84, 256, 256)
	require.ErrorIs(t, err, boom)
	_, err = r.HasTile(context.Background(), world4326, srs.WGS84, 0, 0)
	require.ErrorIs(t, err, boom)
}

func TestGetImage_StoredImageSmallerThanTile(t *testing.T) {
	p := newPyramid(t, pyramid.TileMatrixSet{TableName: "pair", SRSID: srs.WebMercator, BoundingBox: tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}},
		pyramid.TileMatrix{ZoomLevel: 0, MatrixWidth: 2, MatrixHeight: 1, TileWidth: 100, TileHeight: 100, PixelXSize: 1, PixelYSize: 1})
	store := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: solidPNG(t, 50, 50, red)}}}
	r := newRetriever(t, p, store, Options{Resampling: codec.Nearest})
	ctx := context.Background()

	// the right part of the tile lies beyond the stored 50x50 image
	_, ok, err := r.GetImage(ctx, tilegrid.BoundingBox{MinX: 60, MinY: 0, MaxX: 100, MaxY: 100}, srs.WebMercator, 40, 100)
	require.NoError(t, err)
	require.False(t, ok)

	composite, ok, err := r.GetImage(ctx, tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 100, MaxY: 100}, srs.WebMercator, 100, 100)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, red, composite.Image.RGBAAt(10, 10))
	require.Equal(t, color.RGBA{}, composite.Image.RGBAAt(90, 90))
}

func TestCorruptTiles(t *testing.T) {
	p := newPyramid(t, pyramid.TileMatrixSet{TableName: "pair", SRSID: srs.WebMercator, BoundingBox: tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}},
		pyramid.TileMatrix{ZoomLevel: 0, MatrixWidth: 2, MatrixHeight: 1, TileWidth: 100, TileHeight: 100, PixelXSize: 1, PixelYSize: 1})
	request := tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 200, MaxY: 100}
	ctx := context.Background()
	halfCorrupt := &fakeStore{tiles: []pyramid.StoredTile{
		{ZoomLevel: 0, Column: 0, Row: 0, Data: []byte("garbage")},
		{ZoomLevel: 0, Column: 1, Row: 0, Data: solidPNG(t, 100, 100, blue)},
	}}

	t.Run("abort", func(t *testing.T) {
		r := newRetriever(t, p, halfCorrupt, Options{})
		_, ok, err := r.GetImage(ctx, request, srs.WebMercator, 200, 100)
		require.False(t, ok)
		var decodeErr *TileDecodeError
		require.ErrorAs(t, err, &decodeErr)
		require.Equal(t, 0, decodeErr.Column)
		require.ErrorIs(t, err, codec.ErrUnsupportedFormat)
	})

	t.Run("skip", func(t *testing.T) {
		r := newRetriever(t, p, halfCorrupt, Options{SkipCorruptTiles: true, Resampling: codec.Nearest})
		composite, ok, err := r.GetImage(ctx, request, srs.WebMercator, 200, 100)
		require.NoError(t, err)
		require.True(t, ok)
		require.Len(t, composite.Skipped, 1)
		require.Equal(t, 0, composite.Skipped[0].Column)
		require.Equal(t, color.RGBA{}, composite.Image.RGBAAt(50, 50))
		require.Equal(t, blue, composite.Image.RGBAAt(150, 50))
	})

	t.Run("all skipped", func(t *testing.T) {
		allCorrupt := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: []byte("garbage")}}}
		r := newRetriever(t, p, allCorrupt, Options{SkipCorruptTiles: true})
		_, ok, err := r.GetImage(ctx, request, srs.WebMercator, 200, 100)
		require.False(t, ok)
		require.ErrorIs(t, err, ErrNoDecodableTiles)
	})
}

func TestScalingFallback(t *testing.T) {
	set := pyramid.TileMatrixSet{TableName: "two", SRSID: srs.WebMercator, BoundingBox: tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 512, MaxY: 512}}
	matrices := []pyramid.TileMatrix{
		{ZoomLevel: 0, MatrixWidth: 1, MatrixHeight: 1, TileWidth: 256, TileHeight: 256, PixelXSize: 2, PixelYSize: 2},
		{ZoomLevel: 1, MatrixWidth: 2, MatrixHeight: 2, TileWidth: 256, TileHeight: 256, PixelXSize: 1, PixelYSize: 1},
	}
	// only zoom level 0 is stored
	store := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: solidPNG(t, 256, 256, green)}}}
	// the top left tile of zoom level 1
	request := tilegrid.BoundingBox{MinX: 0, MinY: 256, MaxX: 256, MaxY: 512}
	ctx := context.Background()

	withoutScaling, err := pyramid.New(set, matrices, nil)
	require.NoError(t, err)
	r := newRetriever(t, withoutScaling, store, Options{})
	_, ok, err := r.GetImage(ctx, request, srs.WebMercator, 256, 256)
	require.NoError(t, err)
	require.False(t, ok)
	ok, err = r.HasTile(ctx, request, srs.WebMercator, 0, 0)
	require.NoError(t, err)
	require.False(t, ok)
	// at half the output size zoom level 0 is the closest, for both
	composite, ok, err := r.GetImage(ctx, request, srs.WebMercator, 128, 128)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, composite.ZoomLevel)
	ok, err = r.HasTile(ctx, request, srs.WebMercator, 128, 128)
	require.NoError(t, err)
	require.True(t, ok)

	stored, err := pyramid.New(set, matrices, &pyramid.TileScaling{Type: pyramid.ScalingOut})
	require.NoError(t, err)
	r = newRetriever(t, stored, store, Options{Resampling: codec.Nearest})
	composite, ok, err = r.GetImage(ctx, request, srs.WebMercator, 256, 256)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, 0, composite.ZoomLevel)
	require.Equal(t, green, composite.Image.RGBAAt(128, 128))
	ok, err = r.HasTile(ctx, request, srs.WebMercator, 0, 0)
	require.NoError(t, err)
	require.True(t, ok)

	// an override of the stored policy
	r = newRetriever(t, stored, store, Options{Scaling: &pyramid.TileScaling{Type: pyramid.ScalingIn}})
	_, ok, err = r.GetImage(ctx, request, srs.WebMercator, 256, 256)
	require.NoError(t, err)
	require.False(t, ok)
}

type countingProjector struct {
	srs.Projector
	projections atomic.Int32
}

func (p *countingProjector) Project(b tilegrid.BoundingBox, from, to int) (tilegrid.BoundingBox, error) {
	p.projections.Add(1)
	return p.Projector.Project(b, from, to)
}

func TestBoundsIn(t *testing.T) {
	projector := &countingProjector{Projector: srs.NewRegistry()}
	encoder, err := codec.NewEncoder("png", 0)
	require.NoError(t, err)
	r := New(singleTilePyramid(t), &fakeStore{}, projector, encoder, Options{})

	for i := 0; i < 3; i++ {
		b, err := r.BoundsIn(srs.WebMercator)
		require.NoError(t, err)
		require.InDelta(t, tilegrid.WebMercatorHalfWidth, b.MaxX, 1e-6)
		require.InDelta(t, tilegrid.WebMercatorHalfWidth, b.MaxY, 1e-3)
	}
	require.Equal(t, int32(1), projector.projections.Load())

	_, err = r.BoundsIn(28992)
	require.ErrorIs(t, err, srs.ErrUnregisteredSRS)
}

func TestRetriever_ConcurrentUse(t *testing.T) {
	store := &fakeStore{tiles: []pyramid.StoredTile{{ZoomLevel: 0, Column: 0, Row: 0, Data: centerPNG(t)}}}
	projector := &countingProjector{Projector: srs.NewRegistry()}
	encoder, err := codec.NewEncoder("png", 0)
	require.NoError(t, err)
	r := New(singleTilePyramid(t), store, projector, encoder, Options{Resampling: codec.Nearest})
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers*3)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.BoundsIn(srs.WebMercator); err != nil {
				errs <- err
			}
			tile, ok, err := r.GetTile(ctx, tilegrid.BoundingBox{MinX: -90, MinY: -45, MaxX: 90, MaxY: 45}, srs.WGS84, 64, 64)
			if err != nil {
				errs <- err
			} else if !ok || len(tile.Data) == 0 {
				errs <- errors.New("no tile")
			}
			if _, _, err := r.GetTileWGS84(ctx, tilegrid.BoundingBox{MinX: -10, MinY: -10, MaxX: 10, MaxY: 10}, 64, 64); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	b, err := r.BoundsIn(srs.WebMercator)
	require.NoError(t, err)
	require.InDelta(t, tilegrid.WebMercatorHalfWidth, b.MaxX, 1e-6)
	require.Equal(t, 2*workers, store.queries)
}
