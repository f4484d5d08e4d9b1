package store

import (
	"context"
	"encoding/json"

	"github.com/rotisserie/eris"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// ErrNotFound reports a scan ID with no stored row. Wrapped by both drivers
// so callers can branch with errors.Is.
var ErrNotFound = eris.New("scan not found")

// ScanFilter specifies criteria for listing scans.
type ScanFilter struct {
	Status model.ScanStatus `json:"status,omitempty"`
	Limit  int              `json:"limit,omitempty"`
	Offset int              `json:"offset,omitempty"`
}

// Store defines the persistence interface for scans, voxel snapshots and
// elevation samples.
type Store interface {
	// Scans
	CreateScan(ctx context.Context, name string, boundary json.RawMessage, voxelSize float64) (*model.Scan, error)
	GetScan(ctx context.Context, scanID string) (*model.Scan, error)
	ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error)
	UpdateScanStatus(ctx context.Context, scanID string, status model.ScanStatus) error
	UpdateScanStats(ctx context.Context, scanID string, stats *model.ScanStats) error
	DeleteScan(ctx context.Context, scanID string) error

	// Voxel snapshots. SaveVoxels replaces the stored snapshot for the
	// scan; LoadVoxels returns records suitable for voxel.Restore.
	SaveVoxels(ctx context.Context, scanID string, records []voxel.Record) error
	LoadVoxels(ctx context.Context, scanID string) ([]voxel.Record, error)

	// Elevation samples, append-only like the in-memory grid.
	SaveElevationSamples(ctx context.Context, scanID string, samples []elevation.Sample) error
	LoadElevationSamples(ctx context.Context, scanID string) ([]elevation.Sample, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
