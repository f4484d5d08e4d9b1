package replay

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/fusion"
	"github.com/basinlabs/catchscan/internal/voxel"
)

func TestNewPlayer_RequiresGPS(t *testing.T) {
	now := time.Now().UTC()
	events := []Event{
		{Kind: KindInertial, Time: now, Inertial: &fusion.InertialReading{Timestamp: now}},
	}
	_, err := NewPlayer(events, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no gps fixes")
}

func TestNewPlayer_NegativeSpeed(t *testing.T) {
	_, err := NewPlayer(nil, -1)
	assert.Error(t, err)
}

func TestPlayer_AbsentStreamsAreNil(t *testing.T) {
	now := time.Now().UTC()
	events := []Event{
		{Kind: KindGPS, Time: now, GPS: &fusion.GPSFix{Lat: 1, Lon: 1, Accuracy: 5, Timestamp: now}},
	}
	p, err := NewPlayer(events, 0)
	require.NoError(t, err)

	assert.NotNil(t, p.GPS())
	assert.True(t, p.GPS().Available())
	assert.Nil(t, p.Inertial())
	assert.Nil(t, p.Barometer())
}

func TestPlayer_EmitsAllEventsAndCloses(t *testing.T) {
	events := testEvents(t)
	p, err := NewPlayer(events, 0) // unpaced
	require.NoError(t, err)

	var fixes []fusion.GPSFix
	var readings []fusion.InertialReading
	var baros []fusion.BarometerReading

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error {
		for fix := range p.GPS().Fixes() {
			fixes = append(fixes, fix)
		}
		return nil
	})
	g.Go(func() error {
		for r := range p.Inertial().Readings() {
			readings = append(readings, r)
		}
		return nil
	})
	g.Go(func() error {
		for b := range p.Barometer().Altitudes() {
			baros = append(baros, b)
		}
		return nil
	})
	g.Go(func() error { return p.Play(ctx) })

	require.NoError(t, g.Wait())
	assert.Len(t, fixes, 2)
	assert.Len(t, readings, 1)
	assert.Len(t, baros, 1)
	assert.InDelta(t, 4.5, fixes[0].Accuracy, 1e-9)
}

func TestPlayer_PacesByScaledGap(t *testing.T) {
	base := time.Now().UTC()
	mk := func(offset time.Duration) Event {
		ts := base.Add(offset)
		return Event{Kind: KindGPS, Time: ts, GPS: &fusion.GPSFix{Lat: 1, Lon: 1, Accuracy: 5, Timestamp: ts}}
	}
	// 400ms of recorded time at 4x should take roughly 100ms.
	events := []Event{mk(0), mk(200 * time.Millisecond), mk(400 * time.Millisecond)}

	p, err := NewPlayer(events, 4)
	require.NoError(t, err)

	go func() {
		for range p.GPS().Fixes() { //nolint:revive
		}
	}()

	start := time.Now()
	require.NoError(t, p.Play(context.Background()))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, 80*time.Millisecond)
	assert.Less(t, elapsed, 400*time.Millisecond)
}

func TestPlayer_CancelStopsPlayback(t *testing.T) {
	base := time.Now().UTC()
	mk := func(offset time.Duration) Event {
		ts := base.Add(offset)
		return Event{Kind: KindGPS, Time: ts, GPS: &fusion.GPSFix{Lat: 1, Lon: 1, Accuracy: 5, Timestamp: ts}}
	}
	events := []Event{mk(0), mk(time.Hour)}

	p, err := NewPlayer(events, 1)
	require.NoError(t, err)

	go func() {
		for range p.GPS().Fixes() { //nolint:revive
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err = p.Play(ctx)
	assert.Error(t, err)
}

// End to end: a synthesized walk replays through the fusion loop and paints
// coverage.
func TestPlayer_DrivesFusionLoop(t *testing.T) {
	sc := &Scenario{
		Boundary: []ScenarioPoint{
			{Lat: 0, Lon: 0}, {Lat: 0, Lon: 0.0002}, {Lat: 0.0002, Lon: 0.0002}, {Lat: 0.0002, Lon: 0},
		},
		Waypoints: []ScenarioPoint{
			{Lat: 0.00005, Lon: 0.00005}, {Lat: 0.00015, Lon: 0.00015},
		},
		WalkSpeedMPS:      1.4,
		GPSRateHz:         2,
		GPSNoiseMeters:    0.5,
		GPSAccuracyMeters: 4,
		AltitudeMeters:    100,
		Seed:              7,
	}
	events := sc.Synthesize(time.Now().UTC())
	require.NotEmpty(t, events)

	p, err := NewPlayer(events, 0)
	require.NoError(t, err)

	poly, err := sc.Polygon()
	require.NoError(t, err)
	session, err := voxel.NewSession(0.5)
	require.NoError(t, err)
	grid, err := elevation.NewGrid(elevation.DefaultCellSize)
	require.NoError(t, err)

	loop, err := fusion.NewLoop(fusion.DefaultConfig(), poly, session, grid, p.GPS(), p.Inertial(), p.Barometer(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, loop.Start(ctx))
	require.NoError(t, p.Play(ctx))
	loop.Stop()

	st := loop.Status()
	assert.Greater(t, st.FixCount, 5)
	assert.Greater(t, st.PaintedVoxels, 0)
}
