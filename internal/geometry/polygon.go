// Package geometry holds the validated polygon types the coverage engine is
// built on: GeoPolygon over WGS84 vertices and Boundary over local planar
// meters. Both are immutable after construction; validation failures are
// construction-time errors and are never clamped or repaired.
package geometry

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// Validation errors returned by constructors. They surface to the caller
// unwrapped; nothing in the engine recovers from malformed geometry.
var (
	ErrTooFewVertices = eris.New("geometry: polygon requires at least 3 vertices")
	ErrVertexRange    = eris.New("geometry: vertex outside lat [-90,90] / lon [-180,180]")
)

// collinearEpsilon bounds the cross product magnitude under which a query
// point is treated as lying on a polygon edge.
const collinearEpsilon = 1e-10

// GeoPolygon is an immutable closed polygon over WGS84 vertices. It is
// created once per confirmed boundary drawing; a changed boundary is a fresh
// instance, never a mutation.
type GeoPolygon struct {
	vertices []geodesy.LatLon
}

// GeoBounds is a geographic bounding box over a polygon's vertices.
type GeoBounds struct {
	MinLat float64 `json:"min_lat"`
	MaxLat float64 `json:"max_lat"`
	MinLon float64 `json:"min_lon"`
	MaxLon float64 `json:"max_lon"`
}

// NewGeoPolygon validates and constructs a polygon. It fails when fewer than
// 3 vertices are given or any vertex is out of range.
func NewGeoPolygon(vertices []geodesy.LatLon) (*GeoPolygon, error) {
	if len(vertices) < 3 {
		return nil, eris.Wrapf(ErrTooFewVertices, "got %d", len(vertices))
	}
	for i, v := range vertices {
		if v.Lat < -90 || v.Lat > 90 || v.Lon < -180 || v.Lon > 180 {
			return nil, eris.Wrapf(ErrVertexRange, "vertex %d (%f, %f)", i, v.Lat, v.Lon)
		}
	}

	owned := make([]geodesy.LatLon, len(vertices))
	copy(owned, vertices)
	return &GeoPolygon{vertices: owned}, nil
}

// Vertices returns a copy of the vertex sequence.
func (p *GeoPolygon) Vertices() []geodesy.LatLon {
	out := make([]geodesy.LatLon, len(p.vertices))
	copy(out, p.vertices)
	return out
}

// NumVertices returns the vertex count.
func (p *GeoPolygon) NumVertices() int { return len(p.vertices) }

// Contains reports whether the point is inside the polygon, by ray casting
// over successive edge pairs. A point lying on an edge counts as inside: each
// edge is first tested for collinearity (cross product within epsilon) plus a
// dot-product bounds check before the crossing toggle is accumulated.
func (p *GeoPolygon) Contains(lat, lon float64) bool {
	inside := false
	n := len(p.vertices)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		vi, vj := p.vertices[i], p.vertices[j]

		if onSegment(lon, lat, vi.Lon, vi.Lat, vj.Lon, vj.Lat) {
			return true
		}

		if (vi.Lon > lon) != (vj.Lon > lon) {
			intersectLat := (vj.Lat-vi.Lat)*(lon-vi.Lon)/(vj.Lon-vi.Lon) + vi.Lat
			if lat < intersectLat {
				inside = !inside
			}
		}
	}
	return inside
}

// onSegment reports whether point (x,y) lies on the segment (x1,y1)-(x2,y2),
// using a near-zero cross product followed by a dot-product range check.
func onSegment(x, y, x1, y1, x2, y2 float64) bool {
	cross := (y-y1)*(x2-x1) - (x-x1)*(y2-y1)
	if math.Abs(cross) > collinearEpsilon {
		return false
	}
	dot := (x-x1)*(x2-x1) + (y-y1)*(y2-y1)
	if dot < 0 {
		return false
	}
	sqLen := (x2-x1)*(x2-x1) + (y2-y1)*(y2-y1)
	return dot <= sqLen
}

// AreaSquareMeters returns the polygon area via the shoelace formula after
// projecting every vertex to local meters around the first vertex. The
// projection degrades beyond a few kilometers of span, which is fine at
// catchment scale (under ~10,000 m²).
func (p *GeoPolygon) AreaSquareMeters() float64 {
	origin := p.vertices[0]
	pts := make([]geodesy.Point, len(p.vertices))
	for i, v := range p.vertices {
		pts[i] = geodesy.LatLonToLocalMeters(origin, v)
	}
	return shoelaceArea(pts)
}

// Centroid returns the arithmetic mean of the vertex latitudes and
// longitudes. This is not a geodesically correct centroid; at survey scale
// the difference is negligible and the approximation is kept deliberately.
func (p *GeoPolygon) Centroid() geodesy.LatLon {
	var sumLat, sumLon float64
	for _, v := range p.vertices {
		sumLat += v.Lat
		sumLon += v.Lon
	}
	n := float64(len(p.vertices))
	return geodesy.LatLon{Lat: sumLat / n, Lon: sumLon / n}
}

// Bounds returns the min/max latitude and longitude over the vertices.
func (p *GeoPolygon) Bounds() GeoBounds {
	b := GeoBounds{
		MinLat: p.vertices[0].Lat, MaxLat: p.vertices[0].Lat,
		MinLon: p.vertices[0].Lon, MaxLon: p.vertices[0].Lon,
	}
	for _, v := range p.vertices[1:] {
		b.MinLat = math.Min(b.MinLat, v.Lat)
		b.MaxLat = math.Max(b.MaxLat, v.Lat)
		b.MinLon = math.Min(b.MinLon, v.Lon)
		b.MaxLon = math.Max(b.MaxLon, v.Lon)
	}
	return b
}

// ToBoundary projects the polygon into the local planar frame anchored at
// origin, producing the Boundary the voxel session tests against.
func (p *GeoPolygon) ToBoundary(origin geodesy.LatLon) (*Boundary, error) {
	pts := make([]geodesy.Point, len(p.vertices))
	for i, v := range p.vertices {
		pts[i] = geodesy.LatLonToLocalMeters(origin, v)
	}
	return NewBoundary(pts)
}

// shoelaceArea computes the absolute shoelace area over planar points.
func shoelaceArea(pts []geodesy.Point) float64 {
	var sum float64
	n := len(pts)
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		sum += pts[i].X*pts[j].Y - pts[j].X*pts[i].Y
	}
	return math.Abs(sum) / 2
}
