package geometry

import (
	"math"

	"github.com/rotisserie/eris"

	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// ErrTooFewPoints is returned when a planar boundary has fewer than 3 points.
var ErrTooFewPoints = eris.New("geometry: boundary requires at least 3 points")

// Boundary is an immutable closed polygon in local planar meters, with a
// precomputed axis-aligned bounding box used as a containment fast path.
// Unlike GeoPolygon, points exactly on an edge are not special-cased: edge
// behavior is whatever the crossing count yields.
type Boundary struct {
	points []geodesy.Point
	bbox   BBox
}

// BBox is an axis-aligned bounding box in local meters.
type BBox struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
}

// NewBoundary validates and constructs a planar boundary.
func NewBoundary(points []geodesy.Point) (*Boundary, error) {
	if len(points) < 3 {
		return nil, eris.Wrapf(ErrTooFewPoints, "got %d", len(points))
	}

	owned := make([]geodesy.Point, len(points))
	copy(owned, points)

	bbox := BBox{MinX: owned[0].X, MaxX: owned[0].X, MinY: owned[0].Y, MaxY: owned[0].Y}
	for _, p := range owned[1:] {
		bbox.MinX = math.Min(bbox.MinX, p.X)
		bbox.MaxX = math.Max(bbox.MaxX, p.X)
		bbox.MinY = math.Min(bbox.MinY, p.Y)
		bbox.MaxY = math.Max(bbox.MaxY, p.Y)
	}

	return &Boundary{points: owned, bbox: bbox}, nil
}

// FromRectangle builds a 4-point boundary from two opposite corners.
func FromRectangle(topLeft, bottomRight geodesy.Point) (*Boundary, error) {
	return NewBoundary([]geodesy.Point{
		topLeft,
		{X: bottomRight.X, Y: topLeft.Y},
		bottomRight,
		{X: topLeft.X, Y: bottomRight.Y},
	})
}

// Points returns a copy of the point sequence.
func (b *Boundary) Points() []geodesy.Point {
	out := make([]geodesy.Point, len(b.points))
	copy(out, b.points)
	return out
}

// BoundingBox returns the precomputed axis-aligned bounding box.
func (b *Boundary) BoundingBox() BBox { return b.bbox }

// Contains reports whether (x,y) is inside the boundary. The bounding box
// rejects far points before the ray cast runs.
func (b *Boundary) Contains(x, y float64) bool {
	if x < b.bbox.MinX || x > b.bbox.MaxX || y < b.bbox.MinY || y > b.bbox.MaxY {
		return false
	}

	inside := false
	n := len(b.points)
	for i, j := 0, n-1; i < n; j, i = i, i+1 {
		pi, pj := b.points[i], b.points[j]
		if (pi.X > x) != (pj.X > x) {
			intersectY := (pj.Y-pi.Y)*(x-pi.X)/(pj.X-pi.X) + pi.Y
			if y < intersectY {
				inside = !inside
			}
		}
	}
	return inside
}

// Area returns the shoelace area of the boundary in square meters.
func (b *Boundary) Area() float64 {
	return shoelaceArea(b.points)
}
