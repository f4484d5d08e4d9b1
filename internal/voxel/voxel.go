// Package voxel discretizes walked ground into fixed-size grid cells and
// tracks which cells a survey session has covered.
package voxel

import (
	"math"
	"strconv"
)

// Voxel is an immutable grid cell of the ground plane, identified by integer
// grid coordinates and the cell size that produced them. Two voxels are equal
// iff grid coordinates and size all match.
type Voxel struct {
	GridX int     `json:"grid_x"`
	GridY int     `json:"grid_y"`
	Size  float64 `json:"size"`
}

// FromWorld maps a world position in local meters to its containing cell via
// floor division, so negative coordinates land in the expected cell
// (e.g. x=-0.12 at size 0.05 is grid -3, not -2).
func FromWorld(x, y, size float64) Voxel {
	return Voxel{
		GridX: int(math.Floor(x / size)),
		GridY: int(math.Floor(y / size)),
		Size:  size,
	}
}

// Key returns the stable "gridX,gridY" identifier. Within a session the cell
// size is fixed, so the key alone identifies the cell.
func (v Voxel) Key() string {
	return strconv.Itoa(v.GridX) + "," + strconv.Itoa(v.GridY)
}

// WorldX returns the cell-center east coordinate in meters.
func (v Voxel) WorldX() float64 { return (float64(v.GridX) + 0.5) * v.Size }

// WorldY returns the cell-center north coordinate in meters.
func (v Voxel) WorldY() float64 { return (float64(v.GridY) + 0.5) * v.Size }
