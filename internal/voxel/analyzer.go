package voxel

import (
	"math"

	"github.com/basinlabs/catchscan/internal/geometry"
)

// CoverageSet is the read view the analyzer needs over a painted voxel set.
// *Session implements it.
type CoverageSet interface {
	Covered(gridX, gridY int) bool
}

// GapInfo describes one uncovered grid cell whose center lies inside the
// boundary.
type GapInfo struct {
	CenterX float64 `json:"center_x"`
	CenterY float64 `json:"center_y"`
	AreaM2  float64 `json:"area_m2"`
}

// FindGaps scans every integer grid cell across the boundary's bounding box
// and emits the uncovered cells whose world-center is inside the boundary.
// Cost is proportional to the bounding-box cell count, which a catchment-scale
// survey keeps small.
func FindGaps(covered CoverageSet, boundary *geometry.Boundary, voxelSize float64) []GapInfo {
	bbox := boundary.BoundingBox()
	cellArea := voxelSize * voxelSize

	minGX := int(math.Floor(bbox.MinX / voxelSize))
	maxGX := int(math.Ceil(bbox.MaxX / voxelSize))
	minGY := int(math.Floor(bbox.MinY / voxelSize))
	maxGY := int(math.Ceil(bbox.MaxY / voxelSize))

	var gaps []GapInfo
	for gx := minGX; gx < maxGX; gx++ {
		for gy := minGY; gy < maxGY; gy++ {
			if covered.Covered(gx, gy) {
				continue
			}
			cx := (float64(gx) + 0.5) * voxelSize
			cy := (float64(gy) + 0.5) * voxelSize
			if !boundary.Contains(cx, cy) {
				continue
			}
			gaps = append(gaps, GapInfo{CenterX: cx, CenterY: cy, AreaM2: cellArea})
		}
	}
	return gaps
}

// FindNearestGap returns the gap closest to (fromX, fromY) by Euclidean
// distance, or nil when the boundary is fully covered.
func FindNearestGap(covered CoverageSet, boundary *geometry.Boundary, voxelSize, fromX, fromY float64) *GapInfo {
	gaps := FindGaps(covered, boundary, voxelSize)
	if len(gaps) == 0 {
		return nil
	}

	best := 0
	bestDist := math.Hypot(gaps[0].CenterX-fromX, gaps[0].CenterY-fromY)
	for i, g := range gaps[1:] {
		d := math.Hypot(g.CenterX-fromX, g.CenterY-fromY)
		if d < bestDist {
			best, bestDist = i+1, d
		}
	}
	return &gaps[best]
}

// ExpectedVoxelCount returns how many cells of the given size are needed to
// cover the boundary area.
func ExpectedVoxelCount(boundary *geometry.Boundary, voxelSize float64) int {
	return int(math.Ceil(boundary.Area() / (voxelSize * voxelSize)))
}
