// Package geodesy provides the WGS84 <-> local planar frame conversions and
// great-circle distance used by the coverage engine. All conversions are
// equirectangular approximations: accurate to centimeters over the
// sub-kilometer spans a catchment survey covers, and intentionally not valid
// for larger extents.
package geodesy

import "math"

// EarthRadiusMeters is the mean Earth radius used by all conversions.
const EarthRadiusMeters = 6371000.0

const degToRad = math.Pi / 180.0

// LatLon is a WGS84 coordinate in decimal degrees.
type LatLon struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Point is a position in a local planar frame: meters east (X) and north (Y)
// of an origin defined by the caller.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// LatLonToLocalMeters projects p into the local frame anchored at origin.
// The east component is scaled by the cosine of the average latitude of the
// two points, which halves the east/west distortion compared to using the
// origin latitude alone.
func LatLonToLocalMeters(origin, p LatLon) Point {
	avgLat := (origin.Lat + p.Lat) / 2 * degToRad
	return Point{
		X: (p.Lon - origin.Lon) * degToRad * EarthRadiusMeters * math.Cos(avgLat),
		Y: (p.Lat - origin.Lat) * degToRad * EarthRadiusMeters,
	}
}

// LocalMetersToLatLon is the inverse of LatLonToLocalMeters. It scales the
// east component by cos(origin.Lat) rather than the average latitude, so the
// round trip is not exactly symmetric; the residual is sub-centimeter for
// spans under a kilometer and is accepted as a documented approximation.
func LocalMetersToLatLon(origin LatLon, p Point) LatLon {
	return LatLon{
		Lat: origin.Lat + p.Y/(degToRad*EarthRadiusMeters),
		Lon: origin.Lon + p.X/(degToRad*EarthRadiusMeters*math.Cos(origin.Lat*degToRad)),
	}
}

// HaversineDistance returns the great-circle distance between a and b in
// meters. Identical points return exactly 0: the trig path is skipped so
// floating-point underflow in the inverse-sine term cannot produce NaN.
func HaversineDistance(a, b LatLon) float64 {
	if a.Lat == b.Lat && a.Lon == b.Lon {
		return 0
	}

	lat1 := a.Lat * degToRad
	lat2 := b.Lat * degToRad
	dLat := (b.Lat - a.Lat) * degToRad
	dLon := (b.Lon - a.Lon) * degToRad

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	// Clamp before asin: rounding can push h a hair outside [0,1] for
	// near-antipodal points.
	h = math.Min(1, math.Max(0, h))
	return 2 * EarthRadiusMeters * math.Asin(math.Sqrt(h))
}
