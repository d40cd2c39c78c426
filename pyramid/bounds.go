package pyramid

import (
	"sync"

	"github.com/pdok/gpkgtiles/tilegrid"
)

// ProjectedBounds memoises the matrix set bounding box re-expressed in other SRSs.
// Computation runs outside any lock; concurrent callers may compute the same entry twice
// and the first stored value wins.
type ProjectedBounds struct {
	bySRS sync.Map // int -> tilegrid.BoundingBox
}

// Get returns the memoised bounds for srsID, computing them on first use.
// Failed computations are not memoised.
func (b *ProjectedBounds) Get(srsID int, compute func() (tilegrid.BoundingBox, error)) (tilegrid.BoundingBox, error) {
	if v, ok := b.bySRS.Load(srsID); ok {
		return v.(tilegrid.BoundingBox), nil
	}
	bounds, err := compute()
	if err != nil {
		return tilegrid.BoundingBox{}, err
	}
	v, _ := b.bySRS.LoadOrStore(srsID, bounds)
	return v.(tilegrid.BoundingBox), nil
}
