package voxel

import (
	"math"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/basinlabs/catchscan/internal/geometry"
)

// ErrNonPositiveVoxelSize is returned when a session is constructed with a
// voxel size that cannot tile the plane.
var ErrNonPositiveVoxelSize = eris.New("voxel: voxel size must be positive")

// completionThresholdPercent is the coverage percent at which a session
// counts as complete.
const completionThresholdPercent = 98.0

// gridKey is the integer cell identity used for arena lookup. The session's
// voxel size is fixed, so the pair is unique per cell.
type gridKey struct {
	x, y int
}

// entry is one arena slot: the painted voxel plus its accumulated state.
type entry struct {
	voxel      Voxel
	visitCount int
	elevation  float64
}

// Session tracks painted voxels for one scan. The painted set is an arena of
// entries indexed by a map from integer grid key to slot, owned by a single
// writer; concurrent callers must serialize access externally.
type Session struct {
	id        string
	voxelSize float64
	entries   []entry
	index     map[gridKey]int
	boundary  *geometry.Boundary
}

// PaintResult reports the outcome of a single paint call.
type PaintResult struct {
	Voxel            Voxel `json:"voxel"`
	IsNew            bool  `json:"is_new"`
	IsInsideBoundary bool  `json:"is_inside_boundary"`
}

// CoverageStats is derived from the painted set on demand, never stored.
// CoveragePercent and ExpectedAreaM2 are nil when no boundary is set.
type CoverageStats struct {
	VoxelCount      int      `json:"voxel_count"`
	CoveredAreaM2   float64  `json:"covered_area_m2"`
	ExpectedAreaM2  *float64 `json:"expected_area_m2,omitempty"`
	CoveragePercent *float64 `json:"coverage_percent,omitempty"`
	IsComplete      bool     `json:"is_complete"`
}

// Record is the serializable form of one painted voxel, consumed by
// visualization and persistence collaborators.
type Record struct {
	Key        string  `json:"key"`
	GridX      int     `json:"grid_x"`
	GridY      int     `json:"grid_y"`
	WorldX     float64 `json:"world_x"`
	WorldY     float64 `json:"world_y"`
	Elevation  float64 `json:"elevation"`
	VisitCount int     `json:"visit_count"`
}

// NewSession creates an empty session with the given voxel size.
func NewSession(voxelSize float64) (*Session, error) {
	if voxelSize <= 0 {
		return nil, eris.Wrapf(ErrNonPositiveVoxelSize, "got %f", voxelSize)
	}
	return &Session{
		id:        uuid.New().String(),
		voxelSize: voxelSize,
		index:     make(map[gridKey]int),
	}, nil
}

// Restore rebuilds a session from persisted state. Records must have been
// produced by Snapshot at the same voxel size.
func Restore(id string, voxelSize float64, boundary *geometry.Boundary, records []Record) (*Session, error) {
	if voxelSize <= 0 {
		return nil, eris.Wrapf(ErrNonPositiveVoxelSize, "got %f", voxelSize)
	}
	s := &Session{
		id:        id,
		voxelSize: voxelSize,
		index:     make(map[gridKey]int, len(records)),
		boundary:  boundary,
	}
	for _, r := range records {
		k := gridKey{x: r.GridX, y: r.GridY}
		if _, dup := s.index[k]; dup {
			return nil, eris.Errorf("voxel: duplicate key %q in restored session %s", r.Key, id)
		}
		s.index[k] = len(s.entries)
		s.entries = append(s.entries, entry{
			voxel:      Voxel{GridX: r.GridX, GridY: r.GridY, Size: voxelSize},
			visitCount: r.VisitCount,
			elevation:  r.Elevation,
		})
	}
	return s, nil
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// VoxelSize returns the fixed cell size in meters.
func (s *Session) VoxelSize() float64 { return s.voxelSize }

// Boundary returns the current boundary, or nil.
func (s *Session) Boundary() *geometry.Boundary { return s.boundary }

// SetBoundary replaces the session boundary.
func (s *Session) SetBoundary(b *geometry.Boundary) { s.boundary = b }

// ClearBoundary removes the boundary without touching painted voxels.
func (s *Session) ClearBoundary() { s.boundary = nil }

// Paint records the voxel containing (x,y). Painting the same cell twice is
// idempotent: the second call reports IsNew=false and bumps the visit count.
// A point outside the boundary is still recorded; IsInsideBoundary tells the
// caller, which owns the reward/penalty decision.
func (s *Session) Paint(x, y float64) PaintResult {
	return s.paint(x, y, 0, false)
}

// PaintElevated is Paint with a fused elevation attached to the cell.
// Re-painting overwrites the stored elevation with the latest estimate.
func (s *Session) PaintElevated(x, y, elevation float64) PaintResult {
	return s.paint(x, y, elevation, true)
}

func (s *Session) paint(x, y, elevation float64, withElevation bool) PaintResult {
	v := FromWorld(x, y, s.voxelSize)
	k := gridKey{x: v.GridX, y: v.GridY}

	inside := true
	if s.boundary != nil {
		inside = s.boundary.Contains(x, y)
	}

	if i, ok := s.index[k]; ok {
		s.entries[i].visitCount++
		if withElevation {
			s.entries[i].elevation = elevation
		}
		return PaintResult{Voxel: v, IsNew: false, IsInsideBoundary: inside}
	}

	s.index[k] = len(s.entries)
	s.entries = append(s.entries, entry{
		voxel:      v,
		visitCount: 1,
		elevation:  elevation,
	})
	return PaintResult{Voxel: v, IsNew: true, IsInsideBoundary: inside}
}

// Covered reports whether the given grid cell has been painted.
func (s *Session) Covered(gridX, gridY int) bool {
	_, ok := s.index[gridKey{x: gridX, y: gridY}]
	return ok
}

// Count returns the number of distinct painted voxels.
func (s *Session) Count() int { return len(s.entries) }

// Stats derives coverage statistics from the painted set.
func (s *Session) Stats() CoverageStats {
	stats := CoverageStats{
		VoxelCount:    len(s.entries),
		CoveredAreaM2: float64(len(s.entries)) * s.voxelSize * s.voxelSize,
	}
	if s.boundary == nil {
		return stats
	}

	expected := s.boundary.Area()
	stats.ExpectedAreaM2 = &expected
	if expected > 0 {
		percent := math.Min(100, stats.CoveredAreaM2/expected*100)
		stats.CoveragePercent = &percent
		stats.IsComplete = percent >= completionThresholdPercent
	}
	return stats
}

// Snapshot returns the serializable voxel list in insertion order.
func (s *Session) Snapshot() []Record {
	out := make([]Record, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, Record{
			Key:        e.voxel.Key(),
			GridX:      e.voxel.GridX,
			GridY:      e.voxel.GridY,
			WorldX:     e.voxel.WorldX(),
			WorldY:     e.voxel.WorldY(),
			Elevation:  e.elevation,
			VisitCount: e.visitCount,
		})
	}
	return out
}

// Reset clears painted voxels but keeps the boundary.
func (s *Session) Reset() {
	s.entries = nil
	s.index = make(map[gridKey]int)
}

// FullReset clears painted voxels and the boundary.
func (s *Session) FullReset() {
	s.Reset()
	s.boundary = nil
}
