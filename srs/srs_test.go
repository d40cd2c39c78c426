package srs

import (
	"testing"

	"github.com/paulmach/orb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdok/gpkgtiles/tilegrid"
)

const halfWidth = 20037508.342789244

func assertBoxInDelta(t *testing.T, want, got tilegrid.BoundingBox, delta float64) {
	t.Helper()
	assert.InDelta(t, want.MinX, got.MinX, delta)
	assert.InDelta(t, want.MinY, got.MinY, delta)
	assert.InDelta(t, want.MaxX, got.MaxX, delta)
	assert.InDelta(t, want.MaxY, got.MaxY, delta)
}

func TestRegistry_IsRegistered(t *testing.T) {
	r := NewRegistry()
	for _, id := range []int{WGS84, WebMercator, WebMercatorOfficial} {
		require.True(t, r.IsRegistered(id))
	}
	require.False(t, r.IsRegistered(28992))
}

func TestRegistry_Project(t *testing.T) {
	r := NewRegistry()
	tests := []struct {
		name     string
		box      tilegrid.BoundingBox
		from, to int
		want     tilegrid.BoundingBox
	}{
		{
			"world to mercator clips the poles",
			tilegrid.BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90},
			WGS84, WebMercator,
			tilegrid.BoundingBox{MinX: -halfWidth, MinY: -halfWidth, MaxX: halfWidth, MaxY: halfWidth},
		},
		{
			"beyond the antimeridian",
			tilegrid.BoundingBox{MinX: 170, MinY: 0, MaxX: 200, MaxY: 10},
			WGS84, WebMercatorOfficial,
			tilegrid.BoundingBox{MinX: 18924313.434856, MinY: 0, MaxX: halfWidth, MaxY: 1118889.974858},
		},
		{
			"mercator quadrant to wgs84",
			tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: halfWidth, MaxY: halfWidth},
			WebMercator, WGS84,
			tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 180, MaxY: MaxMercatorLatitude},
		},
		{
			"same srs",
			tilegrid.BoundingBox{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
			WebMercator, WebMercator,
			tilegrid.BoundingBox{MinX: 1, MinY: 2, MaxX: 3, MaxY: 4},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Project(tt.box, tt.from, tt.to)
			require.NoError(t, err)
			assertBoxInDelta(t, tt.want, got, 1e-3)
		})
	}
}

func TestRegistry_ProjectErrors(t *testing.T) {
	r := NewRegistry()
	box := tilegrid.BoundingBox{MinX: 0, MinY: 0, MaxX: 1, MaxY: 1}
	_, err := r.Project(box, 28992, WebMercator)
	require.ErrorIs(t, err, ErrUnregisteredSRS)
	_, err = r.Project(box, WGS84, 28992)
	require.ErrorIs(t, err, ErrUnregisteredSRS)
	_, err = r.Project(tilegrid.BoundingBox{MinX: 1, MaxX: 0}, WGS84, WebMercator)
	require.ErrorIs(t, err, tilegrid.ErrInvalidBoundingBox)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	// a toy SRS in kilo-degrees
	toWGS84 := func(p orb.Point) orb.Point { return orb.Point{p[0] * 1000, p[1] * 1000} }
	fromWGS84 := func(p orb.Point) orb.Point { return orb.Point{p[0] / 1000, p[1] / 1000} }
	r.Register(1000, toWGS84, fromWGS84, worldWGS84)
	require.True(t, r.IsRegistered(1000))

	got, err := r.Project(tilegrid.BoundingBox{MinX: -0.1, MinY: -0.05, MaxX: 0.1, MaxY: 0.05}, 1000, WGS84)
	require.NoError(t, err)
	assertBoxInDelta(t, tilegrid.BoundingBox{MinX: -100, MinY: -50, MaxX: 100, MaxY: 50}, got, 1e-9)
}
