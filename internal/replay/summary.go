package replay

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// LogSummary describes a sensor log: event counts, wall span, GPS fix cadence
// and accuracy distribution. Printed before a replay so an operator can spot
// a truncated or low-quality recording up front.
type LogSummary struct {
	Events    int           `json:"events"`
	GPSFixes  int           `json:"gps_fixes"`
	Inertial  int           `json:"inertial"`
	Barometer int           `json:"barometer"`
	Duration  time.Duration `json:"duration"`

	FixIntervalMean   float64 `json:"fix_interval_mean_s"`
	FixIntervalStdDev float64 `json:"fix_interval_stddev_s"`
	AccuracyMean      float64 `json:"accuracy_mean_m"`
	AccuracyStdDev    float64 `json:"accuracy_stddev_m"`
}

// Summarize computes distribution statistics over a log. Events are assumed
// time-ordered, which ReadLog guarantees.
func Summarize(events []Event) LogSummary {
	s := LogSummary{Events: len(events)}
	if len(events) == 0 {
		return s
	}
	s.Duration = events[len(events)-1].Time.Sub(events[0].Time)

	var accuracies []float64
	var intervals []float64
	var lastFix time.Time

	for _, ev := range events {
		switch ev.Kind {
		case KindGPS:
			s.GPSFixes++
			accuracies = append(accuracies, ev.GPS.Accuracy)
			if !lastFix.IsZero() {
				intervals = append(intervals, ev.Time.Sub(lastFix).Seconds())
			}
			lastFix = ev.Time
		case KindInertial:
			s.Inertial++
		case KindBarometer:
			s.Barometer++
		}
	}

	if len(accuracies) > 0 {
		s.AccuracyMean = stat.Mean(accuracies, nil)
	}
	if len(accuracies) > 1 {
		s.AccuracyStdDev = stat.StdDev(accuracies, nil)
	}
	if len(intervals) > 0 {
		s.FixIntervalMean = stat.Mean(intervals, nil)
	}
	if len(intervals) > 1 {
		s.FixIntervalStdDev = stat.StdDev(intervals, nil)
	}
	return s
}
