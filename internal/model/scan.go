package model

import (
	"encoding/json"
	"time"
)

// ScanStatus represents the current state of a coverage scan.
type ScanStatus string

const (
	ScanStatusActive    ScanStatus = "active"
	ScanStatusComplete  ScanStatus = "complete"
	ScanStatusAbandoned ScanStatus = "abandoned"
)

// Scan represents one catchment walking session: a boundary polygon, a
// coverage grid resolution, and the run's lifecycle state.
type Scan struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Boundary  json.RawMessage `json:"boundary"` // GeoJSON Polygon
	VoxelSize float64         `json:"voxel_size"`
	Status    ScanStatus      `json:"status"`
	Stats     *ScanStats      `json:"stats,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ScanStats holds the final outcome of a scan.
type ScanStats struct {
	PaintedVoxels     int     `json:"painted_voxels"`
	ExpectedVoxels    int     `json:"expected_voxels"`
	CompletionPercent float64 `json:"completion_percent"`
	Complete          bool    `json:"complete"`
	Steps             int     `json:"steps"`
	ElevationSamples  int     `json:"elevation_samples"`
	AreaSquareMeters  float64 `json:"area_m2"`
	DurationSecs      float64 `json:"duration_secs"`
}
