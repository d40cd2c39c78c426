// Package srs re-projects bounding boxes between the spatial reference systems a tile
// pyramid may be stored or requested in.
package srs

import (
	"errors"
	"fmt"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/project"

	"github.com/pdok/gpkgtiles/mathhelp"
	"github.com/pdok/gpkgtiles/tilegrid"
)

const (
	WGS84               = 4326
	WebMercator         = 3857
	WebMercatorOfficial = 900913
)

// MaxMercatorLatitude is the latitude at which web mercator becomes square.
const MaxMercatorLatitude = 85.0511287798066

var ErrUnregisteredSRS = errors.New("unregistered spatial reference system")

// Projector is the projection collaborator of the retrieval engine.
type Projector interface {
	Project(b tilegrid.BoundingBox, from, to int) (tilegrid.BoundingBox, error)
	IsRegistered(srsID int) bool
}

type definition struct {
	toWGS84   orb.Projection
	fromWGS84 orb.Projection
	// area of use in longitude/latitude, coordinates are clipped to it before fromWGS84
	area tilegrid.BoundingBox
}

var worldWGS84 = tilegrid.BoundingBox{MinX: -180, MinY: -90, MaxX: 180, MaxY: 90}

// Registry is a Projector over a set of SRSs that can each be converted to and from WGS84.
// It is safe for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	defs map[int]definition
}

func identity(p orb.Point) orb.Point {
	return p
}

// NewRegistry returns a Registry knowing WGS84 and web mercator (under both its codes).
func NewRegistry() *Registry {
	r := &Registry{defs: make(map[int]definition)}
	r.Register(WGS84, identity, identity, worldWGS84)
	mercatorArea := tilegrid.BoundingBox{MinX: -180, MinY: -MaxMercatorLatitude, MaxX: 180, MaxY: MaxMercatorLatitude}
	r.Register(WebMercator, project.Mercator.ToWGS84, project.WGS84.ToMercator, mercatorArea)
	r.Register(WebMercatorOfficial, project.Mercator.ToWGS84, project.WGS84.ToMercator, mercatorArea)
	return r
}

// Register adds (or replaces) an SRS. Both projections must be separable per axis, i.e.
// map axis aligned boxes onto axis aligned boxes, as the registered ones do.
func (r *Registry) Register(srsID int, toWGS84, fromWGS84 orb.Projection, area tilegrid.BoundingBox) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defs[srsID] = definition{toWGS84: toWGS84, fromWGS84: fromWGS84, area: area}
}

func (r *Registry) IsRegistered(srsID int) bool {
	_, ok := r.lookup(srsID)
	return ok
}

func (r *Registry) lookup(srsID int) (definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.defs[srsID]
	return d, ok
}

// Project transforms the corners of b from one SRS to another and returns their envelope.
// Corners outside the area of use of the target (e.g. beyond the web mercator poles) are
// clipped onto it first.
func (r *Registry) Project(b tilegrid.BoundingBox, from, to int) (tilegrid.BoundingBox, error) {
	if err := b.Validate(); err != nil {
		return tilegrid.BoundingBox{}, err
	}
	src, ok := r.lookup(from)
	if !ok {
		return tilegrid.BoundingBox{}, fmt.Errorf("%w: %d", ErrUnregisteredSRS, from)
	}
	dst, ok := r.lookup(to)
	if !ok {
		return tilegrid.BoundingBox{}, fmt.Errorf("%w: %d", ErrUnregisteredSRS, to)
	}
	if from == to {
		return b, nil
	}
	corners := orb.MultiPoint{
		{b.MinX, b.MinY}, {b.MinX, b.MaxY}, {b.MaxX, b.MinY}, {b.MaxX, b.MaxY},
	}
	for i, c := range corners {
		lonLat := src.toWGS84(c)
		lonLat = orb.Point{
			mathhelp.Clamp(lonLat.Lon(), dst.area.MinX, dst.area.MaxX),
			mathhelp.Clamp(lonLat.Lat(), dst.area.MinY, dst.area.MaxY),
		}
		corners[i] = dst.fromWGS84(lonLat)
	}
	bound := corners.Bound()
	return tilegrid.BoundingBox{
		MinX: bound.Min.X(),
		MinY: bound.Min.Y(),
		MaxX: bound.Max.X(),
		MaxY: bound.Max.Y(),
	}, nil
}
