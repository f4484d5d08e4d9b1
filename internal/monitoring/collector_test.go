package monitoring

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCollector_EmptySnapshot(t *testing.T) {
	c := NewCollector()

	snap := c.Snapshot()
	assert.Equal(t, 0, snap.GPSFixes)
	assert.Equal(t, 0, snap.InertialEvents)
	assert.Equal(t, 0, snap.BarometerEvents)
	assert.Equal(t, 0, snap.SamplesTaken)
	assert.Zero(t, snap.AvgAccuracy)
	assert.Zero(t, snap.WorstAccuracy)
	assert.True(t, snap.LastFixAt.IsZero())
	assert.False(t, snap.StartedAt.IsZero())
	assert.False(t, snap.CollectedAt.IsZero())
}

func TestCollector_RecordFix(t *testing.T) {
	c := NewCollector()

	c.RecordFix(4.0)
	c.RecordFix(8.0)
	c.RecordFix(6.0)

	snap := c.Snapshot()
	assert.Equal(t, 3, snap.GPSFixes)
	assert.InDelta(t, 6.0, snap.AvgAccuracy, 0.001)
	assert.InDelta(t, 8.0, snap.WorstAccuracy, 0.001)
	assert.False(t, snap.LastFixAt.IsZero())
}

func TestCollector_RecordStreams(t *testing.T) {
	c := NewCollector()

	c.RecordInertial()
	c.RecordInertial()
	c.RecordBarometer()
	c.RecordSample()
	c.RecordSample()
	c.RecordSample()

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.InertialEvents)
	assert.Equal(t, 1, snap.BarometerEvents)
	assert.Equal(t, 3, snap.SamplesTaken)
	assert.False(t, snap.LastInertialAt.IsZero())
	assert.False(t, snap.LastBarometerAt.IsZero())
}

func TestCollector_RecordPaint(t *testing.T) {
	c := NewCollector()

	c.RecordPaint(true)
	c.RecordPaint(false)
	c.RecordPaint(false)
	c.RecordPaint(true)

	snap := c.Snapshot()
	assert.Equal(t, 4, snap.VoxelsPainted)
	assert.Equal(t, 2, snap.NewVoxels)
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	c := NewCollector()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 100; i++ {
			c.RecordFix(5.0)
			c.RecordInertial()
		}
	}()
	for i := 0; i < 100; i++ {
		c.RecordPaint(i%2 == 0)
		c.Snapshot()
	}
	<-done

	snap := c.Snapshot()
	assert.Equal(t, 100, snap.GPSFixes)
	assert.Equal(t, 100, snap.InertialEvents)
	assert.Equal(t, 100, snap.VoxelsPainted)
	assert.Equal(t, 50, snap.NewVoxels)
}
