package elevation

import (
	"math"

	"github.com/rotisserie/eris"
)

// DefaultCellSize is the raster granularity used when none is configured.
const DefaultCellSize = 0.1

// ErrNonPositiveCellSize is returned when a grid is constructed with an
// unusable cell size.
var ErrNonPositiveCellSize = eris.New("elevation: cell size must be positive")

// Interpolator answers elevation queries at arbitrary local-frame points.
// Grid's linear-scan IDW is the shipped implementation; the interface exists
// so a spatially indexed implementation can substitute without touching
// callers if sample counts outgrow the linear scan.
type Interpolator interface {
	Interpolate(x, y float64) (float64, bool)
}

// Slope is a local surface gradient estimate: elevation change per meter
// east (DX) and north (DY).
type Slope struct {
	DX float64 `json:"dx"`
	DY float64 `json:"dy"`
}

// Bounds is the extent of the stored samples, not of interpolated values.
type Bounds struct {
	MinX float64 `json:"min_x"`
	MaxX float64 `json:"max_x"`
	MinY float64 `json:"min_y"`
	MaxY float64 `json:"max_y"`
	MinZ float64 `json:"min_z"`
	MaxZ float64 `json:"max_z"`
}

// Grid is an append-only store of elevation samples with IDW queries over
// them. Samples are never removed; the count only grows. The cell size sets
// raster granularity and the slope probe offset, not an interpolation radius.
// A single owner must serialize access.
type Grid struct {
	cellSize float64
	samples  []Sample
}

var _ Interpolator = (*Grid)(nil)

// NewGrid creates an empty grid with the given raster cell size.
func NewGrid(cellSize float64) (*Grid, error) {
	if cellSize <= 0 {
		return nil, eris.Wrapf(ErrNonPositiveCellSize, "got %f", cellSize)
	}
	return &Grid{cellSize: cellSize}, nil
}

// CellSize returns the raster cell size in meters.
func (g *Grid) CellSize() float64 { return g.cellSize }

// AddSample appends a sample. Validation happened at sample construction.
func (g *Grid) AddSample(s Sample) {
	g.samples = append(g.samples, s)
}

// SampleCount returns the number of stored samples.
func (g *Grid) SampleCount() int { return len(g.samples) }

// Samples returns a copy of the stored samples.
func (g *Grid) Samples() []Sample {
	out := make([]Sample, len(g.samples))
	copy(out, g.samples)
	return out
}

// Interpolate returns the inverse-distance-weighted elevation at (x,y), or
// ok=false when the grid is empty. Every stored sample contributes with
// weight 1/(dist² · accuracy): the accuracy divisor makes a precise sample
// (LiDAR at 0.01 m) dominate a nearby noisy one (GPS at 5 m) even at similar
// distances. That is deliberate trust weighting, not a tie-break artifact.
// A query coinciding exactly with a sample returns that sample's elevation.
func (g *Grid) Interpolate(x, y float64) (float64, bool) {
	if len(g.samples) == 0 {
		return 0, false
	}

	var weightSum, valueSum float64
	for _, s := range g.samples {
		dx := x - s.X
		dy := y - s.Y
		distSq := dx*dx + dy*dy
		if distSq == 0 {
			return s.Elevation, true
		}
		w := 1 / (distSq * s.Accuracy)
		weightSum += w
		valueSum += w * s.Elevation
	}
	return valueSum / weightSum, true
}

// Slope estimates the surface gradient at (x,y) by central difference of
// Interpolate at half-cell offsets. It returns ok=false with fewer than two
// samples, where a gradient is not meaningful.
func (g *Grid) Slope(x, y float64) (Slope, bool) {
	if len(g.samples) < 2 {
		return Slope{}, false
	}

	h := g.cellSize / 2
	east, ok1 := g.Interpolate(x+h, y)
	west, ok2 := g.Interpolate(x-h, y)
	north, ok3 := g.Interpolate(x, y+h)
	south, ok4 := g.Interpolate(x, y-h)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Slope{}, false
	}

	return Slope{
		DX: (east - west) / (2 * h),
		DY: (north - south) / (2 * h),
	}, true
}

// SampleBounds returns the extent of the stored samples, or nil when empty.
func (g *Grid) SampleBounds() *Bounds {
	if len(g.samples) == 0 {
		return nil
	}

	first := g.samples[0]
	b := &Bounds{
		MinX: first.X, MaxX: first.X,
		MinY: first.Y, MaxY: first.Y,
		MinZ: first.Elevation, MaxZ: first.Elevation,
	}
	for _, s := range g.samples[1:] {
		b.MinX = math.Min(b.MinX, s.X)
		b.MaxX = math.Max(b.MaxX, s.X)
		b.MinY = math.Min(b.MinY, s.Y)
		b.MaxY = math.Max(b.MaxY, s.Y)
		b.MinZ = math.Min(b.MinZ, s.Elevation)
		b.MaxZ = math.Max(b.MaxZ, s.Elevation)
	}
	return b
}

// Raster materializes interpolated elevations across the sample bounds at
// cell-size spacing, row-major with rows along Y (south to north) and
// columns along X (west to east). An empty grid yields an empty raster.
func (g *Grid) Raster() [][]float64 {
	b := g.SampleBounds()
	if b == nil {
		return [][]float64{}
	}

	cols := cellSteps(b.MinX, b.MaxX, g.cellSize)
	rows := cellSteps(b.MinY, b.MaxY, g.cellSize)

	raster := make([][]float64, rows)
	for r := 0; r < rows; r++ {
		raster[r] = make([]float64, cols)
		y := b.MinY + float64(r)*g.cellSize
		for c := 0; c < cols; c++ {
			x := b.MinX + float64(c)*g.cellSize
			raster[r][c], _ = g.Interpolate(x, y)
		}
	}
	return raster
}

// cellSteps returns how many sample positions at the given spacing cover
// [min, max] inclusive of both ends, with a small tolerance against float
// rounding at the far edge.
func cellSteps(min, max, step float64) int {
	return int(math.Floor((max-min)/step+1e-9)) + 1
}
