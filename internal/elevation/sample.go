// Package elevation builds a sparse elevation surface from
// heterogeneous-accuracy point samples and answers interpolation, slope and
// raster queries over it.
package elevation

import (
	"time"

	"github.com/rotisserie/eris"
)

// Source identifies the sensor a sample came from. Accuracy conventions
// differ by orders of magnitude between sources (LiDAR ~0.01 m, barometer
// ~1 m, GPS ~5 m), which is what makes the trust weighting in Interpolate
// meaningful.
type Source string

const (
	SourceBarometer Source = "barometer"
	SourceGPS       Source = "gps"
	SourceLiDAR     Source = "lidar"
)

// Validation errors returned by NewSample.
var (
	ErrNonPositiveAccuracy = eris.New("elevation: accuracy must be positive")
	ErrUnknownSource       = eris.New("elevation: unknown sample source")
)

// Sample is an immutable elevation measurement at a local-frame point.
// Accuracy is in meters; smaller is better.
type Sample struct {
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Elevation float64   `json:"elevation"`
	Accuracy  float64   `json:"accuracy"`
	Source    Source    `json:"source"`
	Timestamp time.Time `json:"timestamp"`
}

// NewSample validates and constructs a sample. Accuracy must be positive and
// the source must be one of the known sensors; the grid itself never
// re-validates, so failure here is the only gate.
func NewSample(x, y, elev, accuracy float64, source Source, ts time.Time) (Sample, error) {
	if accuracy <= 0 {
		return Sample{}, eris.Wrapf(ErrNonPositiveAccuracy, "got %f", accuracy)
	}
	switch source {
	case SourceBarometer, SourceGPS, SourceLiDAR:
	default:
		return Sample{}, eris.Wrapf(ErrUnknownSource, "got %q", source)
	}
	return Sample{X: x, Y: y, Elevation: elev, Accuracy: accuracy, Source: source, Timestamp: ts}, nil
}
