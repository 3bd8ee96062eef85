package geo

import (
	"math"

	"github.com/groveworks/canopy/internal/model"
)

// cellScale buckets coordinates into a grid of roughly 100 m at the equator
// (1/1000 of a degree). Concurrent create attempts for the same physical tree
// land in the same cell with overwhelming probability.
const cellScale = 1000

// CellKey maps a point onto a coarse grid cell identifier, used to key the
// short-lived advisory lock held across a match-and-create sequence.
func CellKey(p model.Point) int64 {
	lat := int64(math.Round(p.Latitude * cellScale))
	lon := int64(math.Round(p.Longitude * cellScale))
	// Shift into non-negative space so the packed key is unique per cell:
	// lat ∈ [-90k, 90k], lon ∈ [-180k, 180k].
	return (lat+90*cellScale)*(360*cellScale+1) + (lon + 180*cellScale)
}
