package monitoring

import (
	"sync"
	"time"
)

// MetricsSnapshot holds a point-in-time view of sensor and coverage health
// for one tracking run.
type MetricsSnapshot struct {
	// Event counts since tracking started.
	GPSFixes        int `json:"gps_fixes"`
	InertialEvents  int `json:"inertial_events"`
	BarometerEvents int `json:"barometer_events"`
	SamplesTaken    int `json:"samples_taken"`
	VoxelsPainted   int `json:"voxels_painted"`
	NewVoxels       int `json:"new_voxels"`

	// Horizontal accuracy of received fixes, meters.
	AvgAccuracy   float64 `json:"avg_accuracy"`
	WorstAccuracy float64 `json:"worst_accuracy"`

	// Most recent event per stream, zero when none seen.
	LastFixAt       time.Time `json:"last_fix_at"`
	LastInertialAt  time.Time `json:"last_inertial_at"`
	LastBarometerAt time.Time `json:"last_barometer_at"`

	StartedAt   time.Time `json:"started_at"`
	CollectedAt time.Time `json:"collected_at"`
}

// Collector aggregates sensor events reported by the fusion loop. Safe for
// concurrent use: the loop records while the checker snapshots.
type Collector struct {
	mu              sync.Mutex
	startedAt       time.Time
	fixes           int
	inertialEvents  int
	barometerEvents int
	samples         int
	paints          int
	newPaints       int
	accuracySum     float64
	worstAccuracy   float64
	lastFixAt       time.Time
	lastInertialAt  time.Time
	lastBarometerAt time.Time
}

// NewCollector creates a collector anchored at the current time.
func NewCollector() *Collector {
	return &Collector{startedAt: time.Now().UTC()}
}

// RecordFix notes a GPS fix and its reported horizontal accuracy.
func (c *Collector) RecordFix(accuracyMeters float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fixes++
	c.accuracySum += accuracyMeters
	if accuracyMeters > c.worstAccuracy {
		c.worstAccuracy = accuracyMeters
	}
	c.lastFixAt = time.Now().UTC()
}

// RecordInertial notes one accelerometer reading.
func (c *Collector) RecordInertial() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.inertialEvents++
	c.lastInertialAt = time.Now().UTC()
}

// RecordBarometer notes one barometric altitude reading.
func (c *Collector) RecordBarometer() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.barometerEvents++
	c.lastBarometerAt = time.Now().UTC()
}

// RecordSample notes one elevation sample added to the grid.
func (c *Collector) RecordSample() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.samples++
}

// RecordPaint notes a coverage paint, distinguishing first visits.
func (c *Collector) RecordPaint(isNew bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paints++
	if isNew {
		c.newPaints++
	}
}

// Snapshot returns the current aggregate view.
func (c *Collector) Snapshot() *MetricsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := &MetricsSnapshot{
		GPSFixes:        c.fixes,
		InertialEvents:  c.inertialEvents,
		BarometerEvents: c.barometerEvents,
		SamplesTaken:    c.samples,
		VoxelsPainted:   c.paints,
		NewVoxels:       c.newPaints,
		WorstAccuracy:   c.worstAccuracy,
		LastFixAt:       c.lastFixAt,
		LastInertialAt:  c.lastInertialAt,
		LastBarometerAt: c.lastBarometerAt,
		StartedAt:       c.startedAt,
		CollectedAt:     time.Now().UTC(),
	}
	if c.fixes > 0 {
		snap.AvgAccuracy = c.accuracySum / float64(c.fixes)
	}
	return snap
}
