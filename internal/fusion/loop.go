package fusion

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/monitoring"
	"github.com/basinlabs/catchscan/internal/voxel"
	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// State is the loop lifecycle: idle until started, tracking while the scan
// runs, stopped after teardown. A stopped loop is not restartable; a new
// scan gets a new loop.
type State int32

const (
	StateIdle State = iota
	StateTracking
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTracking:
		return "tracking"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalJSON renders the state name rather than its numeric value.
func (s State) MarshalJSON() ([]byte, error) {
	return []byte(`"` + s.String() + `"`), nil
}

// barometerAccuracyMeters is the vertical accuracy attributed to
// pressure-derived altitude.
const barometerAccuracyMeters = 1.0

// Config holds the loop tuning values. Voxel size is injected per consumer:
// the walking loop paints at a coarser resolution than the precision
// session grid, and the two must never share a constant.
type Config struct {
	GPSWeight           float64
	IMUWeight           float64
	DampingFactor       float64
	StepThresholdG      float64
	AccuracyFloorMeters float64
	SampleInterval      time.Duration
	VoxelSize           float64
	OnStep              func(count int)
}

// DefaultConfig returns the shipped tuning.
func DefaultConfig() Config {
	return Config{
		GPSWeight:           0.7,
		IMUWeight:           0.3,
		DampingFactor:       0.8,
		StepThresholdG:      1.2,
		AccuracyFloorMeters: 20,
		SampleInterval:      200 * time.Millisecond,
		VoxelSize:           0.5,
	}
}

// Status is a point-in-time view of the loop, safe to read from any
// goroutine.
type Status struct {
	State              State          `json:"state"`
	Position           geodesy.Point  `json:"position"`
	Elevation          float64        `json:"elevation"`
	Confidence         float64        `json:"confidence"`
	Steps              int            `json:"steps"`
	FixCount           int            `json:"fix_count"`
	PaintedVoxels      int            `json:"painted_voxels"`
	ExpectedVoxels     int            `json:"expected_voxels"`
	CoveragePercent    float64        `json:"coverage_percent"`
	GPSAvailable       bool           `json:"gps_available"`
	InertialAvailable  bool           `json:"inertial_available"`
	BarometerAvailable bool           `json:"barometer_available"`
	AltitudeSource     AltitudeSource `json:"altitude_source"`
}

// Loop fuses sensor streams into a smoothed position and drives coverage
// painting and elevation sampling. All mutable tracking state is owned by
// the single run goroutine; external readers get atomic snapshots. One loop
// serves one scan.
type Loop struct {
	cfg      Config
	session  *voxel.Session
	grid     *elevation.Grid
	polygon  *geometry.GeoPolygon
	origin   geodesy.LatLon
	gps      GPSSource
	inertial InertialSource
	baro     BarometerSource
	metrics  *monitoring.Collector

	filter     *complementaryFilter
	integrator *imuIntegrator
	steps      *stepDetector

	// Owned by the run goroutine.
	fused          geodesy.Point
	haveFix        bool
	lastFix        GPSFix
	lastBaroAlt    *float64
	fixCount       int
	expectedVoxels int

	state        atomic.Int32
	snapshot     atomic.Pointer[Status]
	checkpointCh chan chan Checkpoint
	cancel       context.CancelFunc
	done         chan struct{}
}

// Checkpoint carries copies of the mutable scan data, detached from the run
// goroutine, for persistence.
type Checkpoint struct {
	Voxels  []voxel.Record
	Samples []elevation.Sample
	Status  Status
}

// NewLoop wires a loop over its collaborators. The polygon supplies both the
// session origin (its centroid) and the raw-GPS containment gate; the
// session is given the polygon projected into the local frame.
func NewLoop(cfg Config, polygon *geometry.GeoPolygon, session *voxel.Session, grid *elevation.Grid, gps GPSSource, inertial InertialSource, baro BarometerSource, metrics *monitoring.Collector) (*Loop, error) {
	if polygon == nil {
		return nil, eris.New("fusion: polygon is required")
	}
	if session == nil || grid == nil {
		return nil, eris.New("fusion: session and grid are required")
	}
	if gps == nil || !gps.Available() {
		return nil, eris.New("fusion: gps source is required; tracking cannot start without absolute position")
	}
	imuPresent := inertial != nil && inertial.Available()

	l := &Loop{
		cfg:          cfg,
		session:      session,
		grid:         grid,
		polygon:      polygon,
		origin:       polygon.Centroid(),
		gps:          gps,
		inertial:     inertial,
		baro:         baro,
		metrics:      metrics,
		filter:       newComplementaryFilter(cfg.GPSWeight, cfg.IMUWeight, imuPresent),
		integrator:   newIMUIntegrator(cfg.DampingFactor),
		checkpointCh: make(chan chan Checkpoint),
		done:         make(chan struct{}),
	}
	l.steps = newStepDetector(cfg.StepThresholdG, cfg.OnStep)
	l.publish()
	return l, nil
}

// Start transitions idle → tracking and launches the run goroutine. The
// expected cell count is computed once here and never re-derived mid-scan.
func (l *Loop) Start(ctx context.Context) error {
	if !l.state.CompareAndSwap(int32(StateIdle), int32(StateTracking)) {
		return eris.Errorf("fusion: cannot start from state %s", l.State())
	}

	if err := l.prepare(); err != nil {
		l.state.Store(int32(StateStopped))
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel

	zap.L().Info("fusion: tracking started",
		zap.String("session", l.session.ID()),
		zap.Int("expected_voxels", l.expectedVoxels),
		zap.Bool("inertial", l.inertial != nil && l.inertial.Available()),
		zap.Bool("barometer", l.baro != nil && l.baro.Available()),
	)

	go l.run(runCtx)
	return nil
}

// Stop transitions tracking → stopped, detaches every source and waits for
// the run goroutine to exit. Teardown is symmetric with setup: no timer or
// listener survives it.
func (l *Loop) Stop() {
	if !l.state.CompareAndSwap(int32(StateTracking), int32(StateStopped)) {
		return
	}
	l.cancel()
	<-l.done
	l.publish()
	zap.L().Info("fusion: tracking stopped",
		zap.String("session", l.session.ID()),
		zap.Int("fixes", l.fixCount),
		zap.Int("steps", l.steps.count()),
	)
}

// prepare projects the scan boundary into the session's local frame and
// fixes the expected cell count for the run.
func (l *Loop) prepare() error {
	boundary, err := l.polygon.ToBoundary(l.origin)
	if err != nil {
		return eris.Wrap(err, "fusion: project boundary")
	}
	l.session.SetBoundary(boundary)
	l.expectedVoxels = voxel.ExpectedVoxelCount(boundary, l.session.VoxelSize())
	return nil
}

// State returns the current lifecycle state.
func (l *Loop) State() State { return State(l.state.Load()) }

// Checkpoint copies the session voxels and elevation samples. While tracking
// the copy is taken on the run goroutine between sensor events; when the loop
// is idle or stopped nothing else writes and a direct read is safe.
func (l *Loop) Checkpoint(ctx context.Context) (Checkpoint, error) {
	if l.State() != StateTracking {
		return l.takeCheckpoint(), nil
	}

	reply := make(chan Checkpoint, 1)
	select {
	case l.checkpointCh <- reply:
	case <-l.done:
		return l.takeCheckpoint(), nil
	case <-ctx.Done():
		return Checkpoint{}, eris.Wrap(ctx.Err(), "fusion: checkpoint")
	}

	select {
	case cp := <-reply:
		return cp, nil
	case <-ctx.Done():
		return Checkpoint{}, eris.Wrap(ctx.Err(), "fusion: checkpoint")
	}
}

func (l *Loop) takeCheckpoint() Checkpoint {
	return Checkpoint{
		Voxels:  l.session.Snapshot(),
		Samples: l.grid.Samples(),
		Status:  *l.snapshot.Load(),
	}
}

// Status returns the latest published snapshot.
func (l *Loop) Status() Status { return *l.snapshot.Load() }

// Done is closed when the run goroutine exits, either on Stop or when the
// GPS stream ends. Callers replaying a finite log wait on it to let the
// loop drain buffered readings before reading final state.
func (l *Loop) Done() <-chan struct{} { return l.done }

// run is the single event consumer. GPS, inertial and the sampling ticker
// interleave here in arbitrary order; nothing else touches loop state.
func (l *Loop) run(ctx context.Context) {
	defer close(l.done)

	ticker := time.NewTicker(l.cfg.SampleInterval)
	defer ticker.Stop()

	var inertialCh <-chan InertialReading
	if l.inertial != nil && l.inertial.Available() {
		inertialCh = l.inertial.Readings()
	}
	var baroCh <-chan BarometerReading
	if l.baro != nil && l.baro.Available() {
		baroCh = l.baro.Altitudes()
	}

	for {
		select {
		case <-ctx.Done():
			return
		case fix, ok := <-l.gps.Fixes():
			if !ok {
				zap.L().Warn("fusion: gps stream closed, stopping consumption")
				return
			}
			l.handleFix(fix)
		case r, ok := <-inertialCh:
			if !ok {
				inertialCh = nil
				continue
			}
			l.handleInertial(r)
		case b, ok := <-baroCh:
			if !ok {
				baroCh = nil
				continue
			}
			l.handleBarometer(b)
		case reply := <-l.checkpointCh:
			reply <- l.takeCheckpoint()
		case <-ticker.C:
			l.handleSampleTick(time.Now())
		}
	}
}

// handleInertial integrates the reading and feeds the step detector.
func (l *Loop) handleInertial(r InertialReading) {
	l.integrator.accumulate(r)
	l.steps.process(r)
	if l.metrics != nil {
		l.metrics.RecordInertial()
	}
}

// handleBarometer keeps only the latest altitude; the sampling tick decides
// whether it is used.
func (l *Loop) handleBarometer(b BarometerReading) {
	alt := b.AltitudeMeters
	l.lastBaroAlt = &alt
	if l.metrics != nil {
		l.metrics.RecordBarometer()
	}
}

// handleFix runs one fusion step: project the fix, blend in the inertial
// delta accumulated since the previous fix, reset the accumulator, then
// paint. The containment gate deliberately tests the RAW fix against the
// geodetic polygon while the smoothed local position is what gets painted;
// the two disagree near the boundary and product behavior depends on the
// raw signal staying twitchy there.
func (l *Loop) handleFix(fix GPSFix) {
	gpsLocal := geodesy.LatLonToLocalMeters(l.origin, geodesy.LatLon{Lat: fix.Lat, Lon: fix.Lon})
	delta := l.integrator.take()
	l.fused = l.filter.fuse(gpsLocal, delta)
	l.lastFix = fix
	l.haveFix = true
	l.fixCount++

	if l.metrics != nil {
		l.metrics.RecordFix(fix.Accuracy)
	}

	if l.polygon.Contains(fix.Lat, fix.Lon) {
		res := l.session.PaintElevated(l.fused.X, l.fused.Y, l.currentElevation())
		if l.metrics != nil {
			l.metrics.RecordPaint(res.IsNew)
		}
	}

	l.publish()
}

// handleSampleTick adds an elevation sample at the fused position. Nothing
// is sampled before the first fix: there is no position to anchor to.
func (l *Loop) handleSampleTick(now time.Time) {
	if !l.haveFix {
		return
	}

	elev, accuracy, src := l.altitude()
	sample, err := elevation.NewSample(l.fused.X, l.fused.Y, elev, accuracy, src, now)
	if err != nil {
		// Accuracy comes from the fix and the barometer constant; a
		// validation failure here means a corrupt fix, skip it.
		zap.L().Warn("fusion: dropping elevation sample", zap.Error(err))
		return
	}
	l.grid.AddSample(sample)
	if l.metrics != nil {
		l.metrics.RecordSample()
	}
}

// altitude resolves the elevation value, its accuracy and its source:
// barometer first, then GPS altitude, then the zero baseline.
func (l *Loop) altitude() (float64, float64, elevation.Source) {
	if l.lastBaroAlt != nil {
		return *l.lastBaroAlt, barometerAccuracyMeters, elevation.SourceBarometer
	}
	if l.lastFix.Altitude != nil {
		return *l.lastFix.Altitude, l.lastFix.Accuracy, elevation.SourceGPS
	}
	return 0, l.cfg.AccuracyFloorMeters, elevation.SourceGPS
}

// currentElevation is the best elevation estimate for voxel records.
func (l *Loop) currentElevation() float64 {
	elev, _, _ := l.altitude()
	return elev
}

// altitudeSource reports which fallback tier is active.
func (l *Loop) altitudeSource() AltitudeSource {
	if l.lastBaroAlt != nil {
		return AltitudeFromBarometer
	}
	if l.haveFix && l.lastFix.Altitude != nil {
		return AltitudeFromGPS
	}
	return AltitudeBaseline
}

// publish stores a fresh status snapshot for external readers.
func (l *Loop) publish() {
	st := Status{
		State:              l.State(),
		Position:           l.fused,
		Elevation:          l.currentElevation(),
		Steps:              l.steps.count(),
		FixCount:           l.fixCount,
		PaintedVoxels:      l.session.Count(),
		ExpectedVoxels:     l.expectedVoxels,
		GPSAvailable:       l.gps != nil && l.gps.Available(),
		InertialAvailable:  l.inertial != nil && l.inertial.Available(),
		BarometerAvailable: l.baro != nil && l.baro.Available(),
		AltitudeSource:     l.altitudeSource(),
	}
	if l.haveFix {
		st.Confidence = confidence(l.lastFix.Accuracy, l.cfg.AccuracyFloorMeters)
	}
	if l.expectedVoxels > 0 {
		st.CoveragePercent = float64(l.session.Count()) / float64(l.expectedVoxels) * 100
	}
	l.snapshot.Store(&st)
}
