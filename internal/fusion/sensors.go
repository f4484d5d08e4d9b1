// Package fusion runs the real-time position loop for an active scan: it
// blends absolute-but-noisy GPS fixes with fast-but-drifting inertial
// integration into a smoothed local position, paints coverage voxels, and
// feeds the elevation grid.
package fusion

import "time"

// GPSFix is one absolute position report. Accuracy is the horizontal error
// estimate in meters; Altitude is nil when the receiver gives none.
type GPSFix struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	Accuracy  float64   `json:"accuracy"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// InertialReading is one accelerometer sample in m/s² per axis.
type InertialReading struct {
	AccelX    float64   `json:"accel_x"`
	AccelY    float64   `json:"accel_y"`
	AccelZ    float64   `json:"accel_z"`
	Timestamp time.Time `json:"timestamp"`
}

// BarometerReading is a pressure-derived altitude in meters. Conversion from
// raw pressure happens upstream.
type BarometerReading struct {
	AltitudeMeters float64   `json:"altitude_m"`
	Timestamp      time.Time `json:"timestamp"`
}

// GPSSource supplies fixes for the loop to consume. An unavailable source is
// not an error: the loop cannot track without GPS and reports it via status.
type GPSSource interface {
	Fixes() <-chan GPSFix
	Available() bool
}

// InertialSource supplies accelerometer readings. When absent the loop
// degrades to GPS-only fusion.
type InertialSource interface {
	Readings() <-chan InertialReading
	Available() bool
}

// BarometerSource supplies altitude readings. When absent the loop falls
// back to GPS altitude, and to a zero baseline when that is missing too.
type BarometerSource interface {
	Altitudes() <-chan BarometerReading
	Available() bool
}

// AltitudeSource names where the loop's current elevation values come from.
type AltitudeSource string

const (
	AltitudeFromBarometer AltitudeSource = "barometer"
	AltitudeFromGPS       AltitudeSource = "gps"
	AltitudeBaseline      AltitudeSource = "baseline"
)
