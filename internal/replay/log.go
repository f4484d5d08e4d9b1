// Package replay feeds recorded or synthesized sensor streams through the
// fusion loop at a controllable pace. Logs are CSV files with one row per
// sensor event, which is what the field recorder app exports.
package replay

import (
	"context"
	"encoding/csv"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/basinlabs/catchscan/internal/fusion"
)

// EventKind names the sensor a log row came from.
type EventKind string

const (
	KindGPS       EventKind = "gps"
	KindInertial  EventKind = "imu"
	KindBarometer EventKind = "baro"
)

// Event is one decoded sensor log row. Exactly one of the payload pointers is
// set, matching Kind.
type Event struct {
	Kind      EventKind
	Time      time.Time
	GPS       *fusion.GPSFix
	Inertial  *fusion.InertialReading
	Barometer *fusion.BarometerReading
}

// LogColumns is the canonical column order of a sensor log. GPS rows fill
// lat/lon/accuracy and optionally altitude; imu rows fill the accel columns;
// baro rows fill altitude only.
var LogColumns = []string{
	"timestamp_ns", "sensor",
	"lat", "lon", "altitude", "accuracy",
	"accel_x", "accel_y", "accel_z",
}

// LogOptions configures log decoding.
type LogOptions struct {
	// Encoding is an IANA charset name ("windows-1252", "utf-8", ...).
	// Empty means the input is already UTF-8.
	Encoding string
	// Delimiter defaults to ','.
	Delimiter rune
}

// ReadLog decodes a sensor log into events ordered by timestamp. Rows with an
// unknown sensor name fail the read; vendor apps write the three kinds above
// and anything else means the wrong file was handed in.
func ReadLog(ctx context.Context, r io.Reader, opts LogOptions) ([]Event, error) {
	if opts.Encoding != "" {
		enc, err := htmlindex.Get(opts.Encoding)
		if err != nil {
			return nil, eris.Wrapf(err, "replay: unsupported charset %q", opts.Encoding)
		}
		r = enc.NewDecoder().Reader(r)
	}

	reader := csv.NewReader(r)
	if opts.Delimiter != 0 {
		reader.Comma = opts.Delimiter
	}
	reader.FieldsPerRecord = len(LogColumns)

	header, err := reader.Read()
	if err == io.EOF {
		return nil, eris.New("replay: empty log")
	}
	if err != nil {
		return nil, eris.Wrap(err, "replay: read header")
	}
	if len(header) != len(LogColumns) || header[0] != LogColumns[0] || header[1] != LogColumns[1] {
		return nil, eris.Errorf("replay: unexpected header %v", header)
	}

	var events []Event
	line := 1
	for {
		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "replay: read log")
		}

		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrap(err, "replay: read row")
		}
		line++

		ev, err := parseRow(record)
		if err != nil {
			return nil, eris.Wrapf(err, "replay: line %d", line)
		}
		events = append(events, ev)
	}

	// Recorder apps flush per-sensor buffers independently, so rows can
	// arrive slightly out of order across sensors.
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Time.Before(events[j].Time)
	})
	return events, nil
}

func parseRow(record []string) (Event, error) {
	ns, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return Event{}, eris.Wrapf(err, "parse timestamp_ns %q", record[0])
	}
	ts := time.Unix(0, ns).UTC()

	kind := EventKind(record[1])
	switch kind {
	case KindGPS:
		lat, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return Event{}, eris.Wrapf(err, "parse lat %q", record[2])
		}
		lon, err := strconv.ParseFloat(record[3], 64)
		if err != nil {
			return Event{}, eris.Wrapf(err, "parse lon %q", record[3])
		}
		accuracy, err := strconv.ParseFloat(record[5], 64)
		if err != nil {
			return Event{}, eris.Wrapf(err, "parse accuracy %q", record[5])
		}
		fix := fusion.GPSFix{Lat: lat, Lon: lon, Accuracy: accuracy, Timestamp: ts}
		if record[4] != "" {
			alt, err := strconv.ParseFloat(record[4], 64)
			if err != nil {
				return Event{}, eris.Wrapf(err, "parse altitude %q", record[4])
			}
			fix.Altitude = &alt
		}
		return Event{Kind: KindGPS, Time: ts, GPS: &fix}, nil

	case KindInertial:
		var accel [3]float64
		for i, col := range []int{6, 7, 8} {
			v, err := strconv.ParseFloat(record[col], 64)
			if err != nil {
				return Event{}, eris.Wrapf(err, "parse %s %q", LogColumns[col], record[col])
			}
			accel[i] = v
		}
		return Event{Kind: KindInertial, Time: ts, Inertial: &fusion.InertialReading{
			AccelX: accel[0], AccelY: accel[1], AccelZ: accel[2], Timestamp: ts,
		}}, nil

	case KindBarometer:
		alt, err := strconv.ParseFloat(record[4], 64)
		if err != nil {
			return Event{}, eris.Wrapf(err, "parse altitude %q", record[4])
		}
		return Event{Kind: KindBarometer, Time: ts, Barometer: &fusion.BarometerReading{
			AltitudeMeters: alt, Timestamp: ts,
		}}, nil

	default:
		return Event{}, eris.Errorf("unknown sensor %q", record[1])
	}
}

// WriteLog encodes events as a sensor log CSV in canonical column order.
func WriteLog(w io.Writer, events []Event) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(LogColumns); err != nil {
		return eris.Wrap(err, "replay: write header")
	}

	for _, ev := range events {
		row := make([]string, len(LogColumns))
		row[0] = strconv.FormatInt(ev.Time.UnixNano(), 10)
		row[1] = string(ev.Kind)

		switch ev.Kind {
		case KindGPS:
			if ev.GPS == nil {
				return eris.New("replay: gps event without fix")
			}
			row[2] = strconv.FormatFloat(ev.GPS.Lat, 'f', 9, 64)
			row[3] = strconv.FormatFloat(ev.GPS.Lon, 'f', 9, 64)
			if ev.GPS.Altitude != nil {
				row[4] = strconv.FormatFloat(*ev.GPS.Altitude, 'f', 3, 64)
			}
			row[5] = strconv.FormatFloat(ev.GPS.Accuracy, 'f', 2, 64)
		case KindInertial:
			if ev.Inertial == nil {
				return eris.New("replay: imu event without reading")
			}
			row[6] = strconv.FormatFloat(ev.Inertial.AccelX, 'f', 4, 64)
			row[7] = strconv.FormatFloat(ev.Inertial.AccelY, 'f', 4, 64)
			row[8] = strconv.FormatFloat(ev.Inertial.AccelZ, 'f', 4, 64)
		case KindBarometer:
			if ev.Barometer == nil {
				return eris.New("replay: baro event without reading")
			}
			row[4] = strconv.FormatFloat(ev.Barometer.AltitudeMeters, 'f', 3, 64)
		default:
			return eris.Errorf("replay: unknown event kind %q", ev.Kind)
		}

		if err := writer.Write(row); err != nil {
			return eris.Wrap(err, "replay: write row")
		}
	}

	writer.Flush()
	return eris.Wrap(writer.Error(), "replay: flush")
}
