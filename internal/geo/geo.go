// Package geo provides the geometric math for route animation: great-circle
// distances, distance-parameterized interpolation over a polyline, bearings,
// and visited sub-path extraction.
package geo

import (
	"errors"
	"math"
)

const earthRadiusKm = 6371.0

// ErrNoValidPoint indicates a path contained no point with finite, in-range
// coordinates.
var ErrNoValidPoint = errors.New("geo: path has no valid point")

// GeoPoint is a WGS 84 coordinate pair.
type GeoPoint struct {
	Lng float64 `json:"lng"`
	Lat float64 `json:"lat"`
}

// Valid reports whether the point has finite coordinates within
// [-180,180] longitude and [-90,90] latitude.
func (p GeoPoint) Valid() bool {
	if math.IsNaN(p.Lng) || math.IsInf(p.Lng, 0) || math.IsNaN(p.Lat) || math.IsInf(p.Lat, 0) {
		return false
	}
	return p.Lng >= -180 && p.Lng <= 180 && p.Lat >= -90 && p.Lat <= 90
}

// Path is an ordered polyline; insertion order is traversal order.
type Path []GeoPoint

// validPoints returns the points of p that pass Valid, preserving order.
// Malformed points are skipped rather than rejected so that animation can
// proceed with the nearest valid data.
func validPoints(p Path) Path {
	valid := p[:0:0]
	for _, pt := range p {
		if pt.Valid() {
			valid = append(valid, pt)
		}
	}
	return valid
}

// Distance returns the haversine great-circle distance between a and b in
// kilometers.
func Distance(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// PathLength returns the cumulative length of p in kilometers. Paths with
// fewer than two valid points have zero length.
func PathLength(p Path) float64 {
	pts := validPoints(p)
	total := 0.0
	for i := 1; i < len(pts); i++ {
		total += Distance(pts[i-1], pts[i])
	}
	return total
}

// PositionAtDistance returns the point reached after traveling km kilometers
// along p. Distances at or below zero return the first valid point; distances
// at or beyond the path length return the last valid point. Returns
// ErrNoValidPoint when no point of p is valid.
func PositionAtDistance(p Path, km float64) (GeoPoint, error) {
	pts := validPoints(p)
	if len(pts) == 0 {
		return GeoPoint{}, ErrNoValidPoint
	}
	if km <= 0 || len(pts) == 1 {
		return pts[0], nil
	}

	traveled := 0.0
	for i := 1; i < len(pts); i++ {
		seg := Distance(pts[i-1], pts[i])
		if traveled+seg >= km && seg > 0 {
			frac := (km - traveled) / seg
			return lerp(pts[i-1], pts[i], frac), nil
		}
		traveled += seg
	}
	return pts[len(pts)-1], nil
}

// BearingAtDistance returns the bearing, in degrees clockwise from north, of
// the segment bracketing the given distance along p. The second return value
// is false when no bracketing segment exists (distance beyond the path, or
// fewer than two valid points); the icon is stationary at the destination and
// no further rotation is implied.
func BearingAtDistance(p Path, km float64) (float64, bool) {
	pts := validPoints(p)
	if len(pts) < 2 {
		return 0, false
	}
	if km < 0 {
		km = 0
	}

	traveled := 0.0
	for i := 1; i < len(pts); i++ {
		seg := Distance(pts[i-1], pts[i])
		if traveled+seg >= km {
			return bearing(pts[i-1], pts[i]), true
		}
		traveled += seg
	}
	return 0, false
}

// VisitedSubPath returns the prefix of p covered by progress of its total
// length, plus one interpolated point at the cut. The result is monotonic in
// progress: for p1 < p2, the sub-path at p1 is a prefix of the sub-path at p2
// up to the interpolated tail point.
func VisitedSubPath(p Path, progress float64) Path {
	pts := validPoints(p)
	if len(pts) == 0 {
		return nil
	}
	if progress <= 0 {
		return Path{pts[0]}
	}
	if progress >= 1 {
		out := make(Path, len(pts))
		copy(out, pts)
		return out
	}

	target := progress * PathLength(pts)
	visited := Path{pts[0]}
	traveled := 0.0
	for i := 1; i < len(pts); i++ {
		seg := Distance(pts[i-1], pts[i])
		if traveled+seg >= target {
			if seg > 0 {
				frac := (target - traveled) / seg
				visited = append(visited, lerp(pts[i-1], pts[i], frac))
			}
			return visited
		}
		traveled += seg
		visited = append(visited, pts[i])
	}
	return visited
}

// lerp interpolates linearly between a and b. Linear interpolation within a
// single bracketing segment is accurate enough at route scale; the path
// vertices themselves carry the curvature.
func lerp(a, b GeoPoint, t float64) GeoPoint {
	return GeoPoint{
		Lng: a.Lng + (b.Lng-a.Lng)*t,
		Lat: a.Lat + (b.Lat-a.Lat)*t,
	}
}

// bearing returns the initial great-circle bearing from a to b in degrees,
// normalized to [0, 360).
func bearing(a, b GeoPoint) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}
