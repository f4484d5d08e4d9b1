package fusion

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/voxel"
	"github.com/basinlabs/catchscan/pkg/geodesy"
)

type fakeGPS struct {
	ch        chan GPSFix
	available bool
}

func (f *fakeGPS) Fixes() <-chan GPSFix { return f.ch }
func (f *fakeGPS) Available() bool     { return f.available }

type fakeInertial struct {
	ch        chan InertialReading
	available bool
}

func (f *fakeInertial) Readings() <-chan InertialReading { return f.ch }
func (f *fakeInertial) Available() bool                  { return f.available }

type fakeBarometer struct {
	ch        chan BarometerReading
	available bool
}

func (f *fakeBarometer) Altitudes() <-chan BarometerReading { return f.ch }
func (f *fakeBarometer) Available() bool                    { return f.available }

// testPolygon is a roughly 111m square near the equator. Its centroid is
// (0.0005, 0.0005).
func testPolygon(t *testing.T) *geometry.GeoPolygon {
	t.Helper()
	p, err := geometry.NewGeoPolygon([]geodesy.LatLon{
		{Lat: 0, Lon: 0},
		{Lat: 0, Lon: 0.001},
		{Lat: 0.001, Lon: 0.001},
		{Lat: 0.001, Lon: 0},
	})
	require.NoError(t, err)
	return p
}

func newTestLoop(t *testing.T, gps *fakeGPS, inertial *fakeInertial, baro *fakeBarometer) *Loop {
	t.Helper()
	session, err := voxel.NewSession(0.5)
	require.NoError(t, err)
	grid, err := elevation.NewGrid(elevation.DefaultCellSize)
	require.NoError(t, err)

	cfg := DefaultConfig()
	// Convert typed nils to untyped interface nils so NewLoop's nil checks
	// see an absent source rather than a non-nil interface wrapping nil.
	var inertialSrc InertialSource
	if inertial != nil {
		inertialSrc = inertial
	}
	var baroSrc BarometerSource
	if baro != nil {
		baroSrc = baro
	}
	l, err := NewLoop(cfg, testPolygon(t), session, grid, gps, inertialSrc, baroSrc, nil)
	require.NoError(t, err)
	return l
}

func availableGPS() *fakeGPS {
	return &fakeGPS{ch: make(chan GPSFix, 16), available: true}
}

func TestNewLoop_RequiresGPS(t *testing.T) {
	session, err := voxel.NewSession(0.5)
	require.NoError(t, err)
	grid, err := elevation.NewGrid(elevation.DefaultCellSize)
	require.NoError(t, err)

	_, err = NewLoop(DefaultConfig(), testPolygon(t), session, grid, nil, nil, nil, nil)
	assert.Error(t, err)

	_, err = NewLoop(DefaultConfig(), testPolygon(t), session, grid, &fakeGPS{available: false}, nil, nil, nil)
	assert.Error(t, err)
}

func TestNewLoop_RequiresPolygon(t *testing.T) {
	session, err := voxel.NewSession(0.5)
	require.NoError(t, err)
	grid, err := elevation.NewGrid(elevation.DefaultCellSize)
	require.NoError(t, err)

	_, err = NewLoop(DefaultConfig(), nil, session, grid, availableGPS(), nil, nil, nil)
	assert.Error(t, err)
}

func TestLoop_HandleFixInsidePaintsVoxel(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: time.Now()})

	assert.Equal(t, 1, l.session.Count())
	st := l.Status()
	assert.Equal(t, 1, st.FixCount)
	assert.Equal(t, 1, st.PaintedVoxels)
	assert.Greater(t, st.ExpectedVoxels, 0)
	assert.Greater(t, st.CoveragePercent, 0.0)
	// Centroid fix projects to the local origin.
	assert.InDelta(t, 0, st.Position.X, 0.01)
	assert.InDelta(t, 0, st.Position.Y, 0.01)
}

func TestLoop_HandleFixOutsideUpdatesPositionOnly(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	l.handleFix(GPSFix{Lat: -1, Lon: -1, Accuracy: 5, Timestamp: time.Now()})

	assert.Equal(t, 0, l.session.Count())
	st := l.Status()
	assert.Equal(t, 1, st.FixCount)
	assert.Equal(t, 0, st.PaintedVoxels)
}

func TestLoop_ConfidenceTracksAccuracy(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: time.Now()})
	assert.InDelta(t, 0.75, l.Status().Confidence, 1e-9)

	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 40, Timestamp: time.Now()})
	assert.Zero(t, l.Status().Confidence)
}

func TestLoop_InertialDeltaBlendsIntoFix(t *testing.T) {
	inertial := &fakeInertial{ch: make(chan InertialReading, 16), available: true}
	l := newTestLoop(t, availableGPS(), inertial, nil)
	require.NoError(t, l.prepare())

	base := time.Unix(1000, 0)
	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: base})

	// 1s of 2 m/s² eastward acceleration predicts a 1.6m offset with the
	// default damping of 0.8.
	l.handleInertial(InertialReading{Timestamp: base})
	l.handleInertial(InertialReading{AccelX: 2, Timestamp: base.Add(time.Second)})

	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: base.Add(time.Second)})

	// 0.7*0 + 0.3*(0 + 1.6) = 0.48 meters east of the origin.
	assert.InDelta(t, 0.48, l.Status().Position.X, 0.02)
}

func TestLoop_AccumulatorResetsAfterFuse(t *testing.T) {
	inertial := &fakeInertial{ch: make(chan InertialReading, 16), available: true}
	l := newTestLoop(t, availableGPS(), inertial, nil)
	require.NoError(t, l.prepare())

	base := time.Unix(1000, 0)
	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: base})
	l.handleInertial(InertialReading{Timestamp: base})
	l.handleInertial(InertialReading{AccelX: 2, Timestamp: base.Add(time.Second)})
	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: base.Add(time.Second)})

	first := l.Status().Position.X

	// No inertial input between fixes: the stale delta must not reapply.
	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: base.Add(2 * time.Second)})
	assert.Less(t, l.Status().Position.X, first)
}

func TestLoop_SampleTickBeforeFirstFixIsNoOp(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	l.handleSampleTick(time.Now())
	assert.Equal(t, 0, l.grid.SampleCount())
}

func TestLoop_SampleTickPrefersBarometer(t *testing.T) {
	baro := &fakeBarometer{ch: make(chan BarometerReading, 16), available: true}
	l := newTestLoop(t, availableGPS(), nil, baro)
	require.NoError(t, l.prepare())

	alt := 102.0
	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Altitude: &alt, Timestamp: time.Now()})
	l.handleBarometer(BarometerReading{AltitudeMeters: 98.5, Timestamp: time.Now()})

	l.handleSampleTick(time.Now())

	require.Equal(t, 1, l.grid.SampleCount())
	s := l.grid.Samples()[0]
	assert.InDelta(t, 98.5, s.Elevation, 1e-9)
	assert.Equal(t, elevation.SourceBarometer, s.Source)
	assert.Equal(t, AltitudeFromBarometer, l.altitudeSource())
}

func TestLoop_SampleTickFallsBackToGPSAltitude(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	alt := 102.0
	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Altitude: &alt, Timestamp: time.Now()})
	l.handleSampleTick(time.Now())

	require.Equal(t, 1, l.grid.SampleCount())
	s := l.grid.Samples()[0]
	assert.InDelta(t, 102.0, s.Elevation, 1e-9)
	assert.Equal(t, elevation.SourceGPS, s.Source)
	assert.Equal(t, AltitudeFromGPS, l.altitudeSource())
}

func TestLoop_SampleTickBaselineWhenNoAltitude(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: time.Now()})
	l.handleSampleTick(time.Now())

	require.Equal(t, 1, l.grid.SampleCount())
	assert.Zero(t, l.grid.Samples()[0].Elevation)
	assert.Equal(t, AltitudeBaseline, l.altitudeSource())
}

func TestLoop_Lifecycle(t *testing.T) {
	gps := availableGPS()
	l := newTestLoop(t, gps, nil, nil)

	assert.Equal(t, StateIdle, l.State())
	require.NoError(t, l.Start(context.Background()))
	assert.Equal(t, StateTracking, l.State())

	// Starting twice fails.
	assert.Error(t, l.Start(context.Background()))

	gps.ch <- GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: time.Now()}

	assert.Eventually(t, func() bool {
		return l.Status().FixCount >= 1
	}, 2*time.Second, 10*time.Millisecond)

	l.Stop()
	assert.Equal(t, StateStopped, l.State())

	// Stop is idempotent and restart is rejected.
	l.Stop()
	assert.Error(t, l.Start(context.Background()))
}

func TestLoop_StopWithoutStartIsNoOp(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	l.Stop()
	assert.Equal(t, StateIdle, l.State())
}

func TestLoop_Checkpoint_Idle(t *testing.T) {
	l := newTestLoop(t, availableGPS(), nil, nil)
	require.NoError(t, l.prepare())

	l.handleFix(GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: time.Now()})
	l.handleSampleTick(time.Now())

	cp, err := l.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Len(t, cp.Voxels, 1)
	assert.Len(t, cp.Samples, 1)
	assert.Equal(t, 1, cp.Status.FixCount)
}

func TestLoop_Checkpoint_WhileTracking(t *testing.T) {
	gps := availableGPS()
	l := newTestLoop(t, gps, nil, nil)

	require.NoError(t, l.Start(context.Background()))
	defer l.Stop()

	gps.ch <- GPSFix{Lat: 0.0005, Lon: 0.0005, Accuracy: 5, Timestamp: time.Now()}
	assert.Eventually(t, func() bool {
		return l.Status().FixCount >= 1
	}, 2*time.Second, 10*time.Millisecond)

	cp, err := l.Checkpoint(context.Background())
	require.NoError(t, err)
	assert.Len(t, cp.Voxels, 1)
	assert.GreaterOrEqual(t, cp.Status.FixCount, 1)
}
