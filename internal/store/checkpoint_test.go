package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/resilience"
	"github.com/basinlabs/catchscan/internal/voxel"
)

func checkpointFixture(t *testing.T) ([]voxel.Record, []elevation.Sample) {
	t.Helper()

	session, err := voxel.NewSession(0.5)
	require.NoError(t, err)
	session.Paint(0.1, 0.1)
	session.Paint(1.3, -0.7)

	s1, err := elevation.NewSample(0.1, 0.1, 101.5, 3.0, elevation.SourceGPS, time.Now().UTC())
	require.NoError(t, err)
	s2, err := elevation.NewSample(1.3, -0.7, 102.0, 1.0, elevation.SourceBarometer, time.Now().UTC())
	require.NoError(t, err)

	return session.Snapshot(), []elevation.Sample{s1, s2}
}

func staticSource(voxels []voxel.Record, samples []elevation.Sample, stats *model.ScanStats) CheckpointFunc {
	return func(_ context.Context) ([]voxel.Record, []elevation.Sample, *model.ScanStats, error) {
		return voxels, samples, stats, nil
	}
}

func fastCheckpointConfig() CheckpointConfig {
	cfg := DefaultCheckpointConfig()
	cfg.Interval = 10 * time.Millisecond
	cfg.Retry.MaxAttempts = 1
	cfg.Retry.InitialBackoff = time.Millisecond
	return cfg
}

func TestCheckpointer_FlushPersists(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sc, err := st.CreateScan(ctx, "s", testBoundary, 0.5)
	require.NoError(t, err)

	voxels, samples := checkpointFixture(t)
	stats := &model.ScanStats{PaintedVoxels: 2, ExpectedVoxels: 10, CompletionPercent: 20}

	cp := NewCheckpointer(st, sc.ID, staticSource(voxels, samples, stats), fastCheckpointConfig())
	require.NoError(t, cp.Flush(ctx))

	gotVoxels, err := st.LoadVoxels(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, gotVoxels, 2)

	gotSamples, err := st.LoadElevationSamples(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, gotSamples, 2)

	got, err := st.GetScan(ctx, sc.ID)
	require.NoError(t, err)
	require.NotNil(t, got.Stats)
	assert.Equal(t, 2, got.Stats.PaintedVoxels)
}

func TestCheckpointer_SamplesWrittenOncePastWatermark(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sc, err := st.CreateScan(ctx, "s", testBoundary, 0.5)
	require.NoError(t, err)

	voxels, samples := checkpointFixture(t)
	current := samples
	source := func(_ context.Context) ([]voxel.Record, []elevation.Sample, *model.ScanStats, error) {
		return voxels, current, nil, nil
	}

	cp := NewCheckpointer(st, sc.ID, source, fastCheckpointConfig())
	require.NoError(t, cp.Flush(ctx))
	require.NoError(t, cp.Flush(ctx)) // nothing new, must not duplicate

	extra, err := elevation.NewSample(2.0, 2.0, 103.0, 5.0, elevation.SourceGPS, time.Now().UTC())
	require.NoError(t, err)
	current = append(samples, extra)
	require.NoError(t, cp.Flush(ctx))

	gotSamples, err := st.LoadElevationSamples(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, gotSamples, 3)
}

func TestCheckpointer_SourceError(t *testing.T) {
	st := newTestSQLiteStore(t)

	source := func(_ context.Context) ([]voxel.Record, []elevation.Sample, *model.ScanStats, error) {
		return nil, nil, nil, errors.New("loop gone")
	}
	cp := NewCheckpointer(st, "some-scan", source, fastCheckpointConfig())

	err := cp.Flush(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "collect checkpoint")
}

// failingStore wraps a real store and fails every voxel write.
type failingStore struct {
	Store
	saveErr error
}

func (f *failingStore) SaveVoxels(_ context.Context, _ string, _ []voxel.Record) error {
	return f.saveErr
}

func TestCheckpointer_BreakerOpensAfterRepeatedFailure(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sc, err := st.CreateScan(ctx, "s", testBoundary, 0.5)
	require.NoError(t, err)

	voxels, samples := checkpointFixture(t)
	cfg := fastCheckpointConfig()
	cfg.Breaker.FailureThreshold = 2
	cfg.Breaker.ResetTimeout = time.Hour

	broken := &failingStore{Store: st, saveErr: errors.New("disk full")}
	cp := NewCheckpointer(broken, sc.ID, staticSource(voxels, samples, nil), cfg)

	require.Error(t, cp.Flush(ctx))
	require.Error(t, cp.Flush(ctx))

	err = cp.Flush(ctx)
	assert.ErrorIs(t, err, resilience.ErrCircuitOpen)
}

func TestCheckpointer_RunFlushesOnCancel(t *testing.T) {
	st := newTestSQLiteStore(t)
	ctx := context.Background()

	sc, err := st.CreateScan(ctx, "s", testBoundary, 0.5)
	require.NoError(t, err)

	voxels, samples := checkpointFixture(t)
	cfg := fastCheckpointConfig()
	cfg.Interval = time.Hour // only the final flush should fire

	cp := NewCheckpointer(st, sc.ID, staticSource(voxels, samples, nil), cfg)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		cp.Run(runCtx)
		close(done)
	}()
	cancel()
	<-done

	gotVoxels, err := st.LoadVoxels(ctx, sc.ID)
	require.NoError(t, err)
	assert.Len(t, gotVoxels, 2)
}
