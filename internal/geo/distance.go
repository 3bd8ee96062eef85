// Package geo provides great-circle distance and coordinate validation for
// registry matching.
package geo

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/groveworks/canopy/internal/model"
)

// EarthRadiusM is the mean Earth radius used by the haversine formula.
const EarthRadiusM = 6371000.0

// ErrInvalidCoordinate indicates an out-of-range or non-finite latitude or
// longitude. It is fatal for the single record or row, never for a batch.
var ErrInvalidCoordinate = eris.New("geo: invalid coordinate")

// ValidatePoint checks that p is finite and within WGS84 bounds.
func ValidatePoint(p model.Point) error {
	if !isFinite(p.Latitude) || !isFinite(p.Longitude) {
		return eris.Wrapf(ErrInvalidCoordinate, "non-finite point (%v, %v)", p.Latitude, p.Longitude)
	}
	if p.Latitude < -90 || p.Latitude > 90 {
		return eris.Wrapf(ErrInvalidCoordinate, "latitude %v out of range [-90,90]", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return eris.Wrapf(ErrInvalidCoordinate, "longitude %v out of range [-180,180]", p.Longitude)
	}
	return nil
}

// Distance returns the haversine great-circle distance between a and b in
// meters. The result is never negative and is zero for identical points up to
// floating precision. Non-finite input fails with ErrInvalidCoordinate rather
// than propagating NaN.
func Distance(a, b model.Point) (float64, error) {
	if !isFinite(a.Latitude) || !isFinite(a.Longitude) || !isFinite(b.Latitude) || !isFinite(b.Longitude) {
		return 0, eris.Wrap(ErrInvalidCoordinate, "distance over non-finite input")
	}

	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Clamp against floating error before the asin; h can exceed 1 by an ulp
	// for antipodal points.
	if h > 1 {
		h = 1
	}
	if h < 0 {
		h = 0
	}

	return 2 * EarthRadiusM * math.Asin(math.Sqrt(h)), nil
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
