package replay

import (
	"io"
	"math"
	"math/rand/v2"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/basinlabs/catchscan/internal/fusion"
	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// earthGravity matches the normalization constant in the step detector.
const earthGravity = 9.80665

// ScenarioPoint is a lat/lon pair in a scenario file.
type ScenarioPoint struct {
	Lat float64 `yaml:"lat"`
	Lon float64 `yaml:"lon"`
}

// Scenario describes a synthetic walk for tuning runs: a boundary, a waypoint
// path through it, and sensor noise characteristics. Loaded from yaml.
type Scenario struct {
	Name      string          `yaml:"name"`
	Boundary  []ScenarioPoint `yaml:"boundary"`
	Waypoints []ScenarioPoint `yaml:"waypoints"`

	// WalkSpeedMPS is the walking speed along the path. Default 1.4 (a
	// typical survey pace).
	WalkSpeedMPS float64 `yaml:"walk_speed_mps"`
	// GPSRateHz is the fix rate. Default 1.
	GPSRateHz float64 `yaml:"gps_rate_hz"`
	// IMURateHz is the accelerometer rate. 0 disables the imu stream.
	IMURateHz float64 `yaml:"imu_rate_hz"`
	// GPSNoiseMeters is the standard deviation of horizontal fix noise.
	GPSNoiseMeters float64 `yaml:"gps_noise_m"`
	// GPSAccuracyMeters is the accuracy the synthetic receiver reports.
	// Default 5.
	GPSAccuracyMeters float64 `yaml:"gps_accuracy_m"`
	// AltitudeMeters is the base terrain altitude. Fixes carry it; a
	// barometer stream is emitted when Barometer is true.
	AltitudeMeters float64 `yaml:"altitude_m"`
	Barometer      bool    `yaml:"barometer"`
	// Seed makes a run reproducible. 0 picks an arbitrary stream.
	Seed uint64 `yaml:"seed"`
}

// LoadScenario parses and validates a yaml scenario.
func LoadScenario(r io.Reader) (*Scenario, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "replay: read scenario")
	}

	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, eris.Wrap(err, "replay: parse scenario")
	}

	if len(sc.Boundary) < 3 {
		return nil, eris.Errorf("replay: scenario needs at least 3 boundary vertices, got %d", len(sc.Boundary))
	}
	if len(sc.Waypoints) < 2 {
		return nil, eris.Errorf("replay: scenario needs at least 2 waypoints, got %d", len(sc.Waypoints))
	}
	if sc.WalkSpeedMPS == 0 {
		sc.WalkSpeedMPS = 1.4
	}
	if sc.WalkSpeedMPS < 0 {
		return nil, eris.Errorf("replay: negative walk speed %f", sc.WalkSpeedMPS)
	}
	if sc.GPSRateHz == 0 {
		sc.GPSRateHz = 1
	}
	if sc.GPSRateHz < 0 {
		return nil, eris.Errorf("replay: negative gps rate %f", sc.GPSRateHz)
	}
	if sc.GPSAccuracyMeters == 0 {
		sc.GPSAccuracyMeters = 5
	}
	return &sc, nil
}

// Polygon builds the scenario boundary as a geodetic polygon.
func (sc *Scenario) Polygon() (*geometry.GeoPolygon, error) {
	vertices := make([]geodesy.LatLon, len(sc.Boundary))
	for i, p := range sc.Boundary {
		vertices[i] = geodesy.LatLon{Lat: p.Lat, Lon: p.Lon}
	}
	poly, err := geometry.NewGeoPolygon(vertices)
	if err != nil {
		return nil, eris.Wrap(err, "replay: scenario boundary")
	}
	return poly, nil
}

// Synthesize generates the sensor log for a scenario: GPS fixes with gaussian
// noise along the waypoint path, an oscillating accelerometer trace that the
// step detector picks up, and optionally a barometer stream. Deterministic
// for a fixed seed.
func (sc *Scenario) Synthesize(start time.Time) []Event {
	seed := sc.Seed
	if seed == 0 {
		seed = rand.Uint64()
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	origin := geodesy.LatLon{Lat: sc.Waypoints[0].Lat, Lon: sc.Waypoints[0].Lon}

	// Walk in the local frame: project waypoints once, interpolate, then
	// unproject each fix.
	path := make([]geodesy.Point, len(sc.Waypoints))
	var total float64
	for i, wp := range sc.Waypoints {
		path[i] = geodesy.LatLonToLocalMeters(origin, geodesy.LatLon{Lat: wp.Lat, Lon: wp.Lon})
		if i > 0 {
			total += segmentLength(path[i-1], path[i])
		}
	}

	duration := total / sc.WalkSpeedMPS
	var events []Event

	// GPS fixes.
	fixInterval := 1 / sc.GPSRateHz
	for t := 0.0; t <= duration; t += fixInterval {
		pos := pointAlong(path, sc.WalkSpeedMPS*t)
		noisy := geodesy.Point{
			X: pos.X + rng.NormFloat64()*sc.GPSNoiseMeters,
			Y: pos.Y + rng.NormFloat64()*sc.GPSNoiseMeters,
		}
		ll := geodesy.LocalMetersToLatLon(origin, noisy)
		ts := start.Add(time.Duration(t * float64(time.Second)))
		alt := sc.AltitudeMeters + rng.NormFloat64()*0.5
		events = append(events, Event{Kind: KindGPS, Time: ts, GPS: &fusion.GPSFix{
			Lat: ll.Lat, Lon: ll.Lon, Accuracy: sc.GPSAccuracyMeters, Altitude: &alt, Timestamp: ts,
		}})
	}

	// Accelerometer: gravity on Z plus a ~2Hz step oscillation strong
	// enough to cross a 1.2g threshold at the peaks.
	if sc.IMURateHz > 0 {
		imuInterval := 1 / sc.IMURateHz
		for t := 0.0; t <= duration; t += imuInterval {
			ts := start.Add(time.Duration(t * float64(time.Second)))
			bounce := 3.5 * math.Sin(2*math.Pi*2*t)
			events = append(events, Event{Kind: KindInertial, Time: ts, Inertial: &fusion.InertialReading{
				AccelX:    rng.NormFloat64() * 0.2,
				AccelY:    rng.NormFloat64() * 0.2,
				AccelZ:    earthGravity + bounce + rng.NormFloat64()*0.2,
				Timestamp: ts,
			}})
		}
	}

	// Barometer at 1Hz.
	if sc.Barometer {
		for t := 0.0; t <= duration; t += 1 {
			ts := start.Add(time.Duration(t * float64(time.Second)))
			events = append(events, Event{Kind: KindBarometer, Time: ts, Barometer: &fusion.BarometerReading{
				AltitudeMeters: sc.AltitudeMeters + rng.NormFloat64()*0.3,
				Timestamp:      ts,
			}})
		}
	}

	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
	return events
}

func segmentLength(a, b geodesy.Point) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// pointAlong walks dist meters along the piecewise-linear path, clamping to
// the final waypoint.
func pointAlong(path []geodesy.Point, dist float64) geodesy.Point {
	for i := 1; i < len(path); i++ {
		seg := segmentLength(path[i-1], path[i])
		if dist <= seg && seg > 0 {
			f := dist / seg
			return geodesy.Point{
				X: path[i-1].X + (path[i].X-path[i-1].X)*f,
				Y: path[i-1].Y + (path[i].Y-path[i-1].Y)*f,
			}
		}
		dist -= seg
	}
	return path[len(path)-1]
}
