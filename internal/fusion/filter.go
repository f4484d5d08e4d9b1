package fusion

import (
	"math"
	"time"

	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// gravity is standard gravity in m/s², used to normalize step detection.
const gravity = 9.80665

// complementaryFilter blends the slow absolute GPS signal with the fast
// relative inertial delta at fixed weights. The first fix initializes the
// state directly; without an inertial source the GPS weight is forced to 1.
type complementaryFilter struct {
	gpsWeight   float64
	imuWeight   float64
	last        geodesy.Point
	initialized bool
}

func newComplementaryFilter(gpsWeight, imuWeight float64, imuPresent bool) *complementaryFilter {
	if !imuPresent {
		gpsWeight, imuWeight = 1, 0
	}
	return &complementaryFilter{gpsWeight: gpsWeight, imuWeight: imuWeight}
}

// fuse combines a projected GPS position with the inertial delta accumulated
// since the previous fix and returns the new smoothed position.
func (f *complementaryFilter) fuse(gps, imuDelta geodesy.Point) geodesy.Point {
	if !f.initialized {
		f.last = gps
		f.initialized = true
		return gps
	}
	f.last = geodesy.Point{
		X: f.gpsWeight*gps.X + f.imuWeight*(f.last.X+imuDelta.X),
		Y: f.gpsWeight*gps.Y + f.imuWeight*(f.last.Y+imuDelta.Y),
	}
	return f.last
}

// confidence maps GPS accuracy to [0,1], decaying linearly and flooring at 0
// once accuracy reaches the floor (20 m by default).
func confidence(accuracyMeters, floorMeters float64) float64 {
	return math.Max(0, 1-accuracyMeters/floorMeters)
}

// imuIntegrator accumulates damped positional deltas from raw acceleration.
// It holds motion since the last GPS fix only: the loop reads and resets it
// atomically relative to each fix (guaranteed by single-owner execution, not
// by locking).
type imuIntegrator struct {
	damping float64
	dx, dy  float64
	lastTS  time.Time
}

func newIMUIntegrator(damping float64) *imuIntegrator {
	return &imuIntegrator{damping: damping}
}

// accumulate integrates one reading. The first reading only establishes the
// time base; stale or reordered timestamps contribute nothing.
func (i *imuIntegrator) accumulate(r InertialReading) {
	if i.lastTS.IsZero() {
		i.lastTS = r.Timestamp
		return
	}
	dt := r.Timestamp.Sub(i.lastTS).Seconds()
	i.lastTS = r.Timestamp
	if dt <= 0 {
		return
	}
	i.dx += r.AccelX * dt * i.damping
	i.dy += r.AccelY * dt * i.damping
}

// take returns the accumulated delta and resets it to zero.
func (i *imuIntegrator) take() geodesy.Point {
	d := geodesy.Point{X: i.dx, Y: i.dy}
	i.dx, i.dy = 0, 0
	return d
}

// stepDetector counts steps by detecting the total acceleration magnitude
// crossing threshold·g from below. Each detected step fires the callback
// (haptic feedback upstream).
type stepDetector struct {
	thresholdG float64
	aboveLast  bool
	steps      int
	onStep     func(count int)
}

func newStepDetector(thresholdG float64, onStep func(count int)) *stepDetector {
	return &stepDetector{thresholdG: thresholdG, onStep: onStep}
}

// process feeds one reading through the peak detector.
func (d *stepDetector) process(r InertialReading) {
	total := math.Sqrt(r.AccelX*r.AccelX + r.AccelY*r.AccelY + r.AccelZ*r.AccelZ)
	above := total > d.thresholdG*gravity
	if above && !d.aboveLast {
		d.steps++
		if d.onStep != nil {
			d.onStep(d.steps)
		}
	}
	d.aboveLast = above
}

// count returns the number of steps detected so far.
func (d *stepDetector) count() int { return d.steps }
