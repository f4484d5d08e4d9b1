package main

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/basinlabs/catchscan/internal/config"
	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/fusion"
	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/monitoring"
	"github.com/basinlabs/catchscan/internal/replay"
	"github.com/basinlabs/catchscan/internal/resilience"
	"github.com/basinlabs/catchscan/internal/store"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// fusionConfig maps app config onto loop tuning. The loop paints at the
// coarse walking resolution.
func fusionConfig(c config.FusionConfig) fusion.Config {
	return fusion.Config{
		GPSWeight:           c.GPSWeight,
		IMUWeight:           c.IMUWeight,
		DampingFactor:       c.DampingFactor,
		StepThresholdG:      c.StepThresholdG,
		AccuracyFloorMeters: c.AccuracyFloorMeters,
		SampleInterval:      time.Duration(c.SampleIntervalMS) * time.Millisecond,
		VoxelSize:           cfg.Voxel.WalkSizeMeters,
	}
}

// walkResult is what one replayed or simulated walk produced.
type walkResult struct {
	Status   fusion.Status
	Stats    voxel.CoverageStats
	Gaps     []voxel.GapInfo
	Samples  int
	Duration time.Duration
	Metrics  *monitoring.MetricsSnapshot
}

// runWalk plays a sensor stream through the fusion loop until the log is
// exhausted or ctx is cancelled. When persistTo is non-nil the scan is
// checkpointed while it runs and flushed once more at the end.
func runWalk(ctx context.Context, player *replay.Player, poly *geometry.GeoPolygon, session *voxel.Session, grid *elevation.Grid, persistTo store.Store, scanID string) (*walkResult, error) {
	collector := monitoring.NewCollector()

	loop, err := fusion.NewLoop(fusionConfig(cfg.Fusion), poly, session, grid, player.GPS(), player.Inertial(), player.Barometer(), collector)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if err := loop.Start(ctx); err != nil {
		return nil, err
	}

	// The checker and checkpointer outlive playback by one cancellation:
	// they run on their own context so g.Wait can release them once the
	// log is drained.
	sideCtx, cancelSide := context.WithCancel(context.Background())
	defer cancelSide()

	g := new(errgroup.Group)
	if cfg.Monitoring.WebhookURL != "" {
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		g.Go(func() error {
			checker.Run(sideCtx)
			return nil
		})
	}
	if persistTo != nil {
		cp := store.NewCheckpointer(persistTo, scanID, checkpointSource(loop, session.VoxelSize(), start), checkpointConfig(cfg.Checkpoint))
		g.Go(func() error {
			cp.Run(sideCtx)
			return nil
		})
	}

	playErr := player.Play(ctx)

	// The player has closed its channels; wait for the loop to drain what
	// is buffered before freezing state.
	<-loop.Done()
	loop.Stop()
	elapsed := time.Since(start)

	cancelSide()
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if playErr != nil {
		return nil, playErr
	}

	res := &walkResult{
		Status:   loop.Status(),
		Stats:    session.Stats(),
		Samples:  grid.SampleCount(),
		Duration: elapsed,
		Metrics:  collector.Snapshot(),
	}
	if b := session.Boundary(); b != nil {
		res.Gaps = voxel.FindGaps(session, b, session.VoxelSize())
	}
	return res, nil
}

// checkpointConfig maps app config onto the checkpointer's retry and
// breaker tuning.
func checkpointConfig(c config.CheckpointConfig) store.CheckpointConfig {
	out := store.DefaultCheckpointConfig()
	if c.IntervalSecs > 0 {
		out.Interval = time.Duration(c.IntervalSecs) * time.Second
	}
	retry := resilience.FromRetryConfig(c.RetryMaxAttempts, c.RetryInitialBackoffMS, c.RetryMaxBackoffMS, c.RetryMultiplier, c.RetryJitterFraction)
	retry.OnRetry = resilience.RetryLogger("store", "checkpoint")
	out.Retry = retry
	out.Breaker = resilience.FromCircuitConfig(c.BreakerFailureThreshold, c.BreakerResetTimeoutSecs)
	return out
}

// checkpointSource adapts the loop's checkpoint into the shape the store
// checkpointer persists.
func checkpointSource(loop *fusion.Loop, voxelSize float64, start time.Time) store.CheckpointFunc {
	return func(ctx context.Context) ([]voxel.Record, []elevation.Sample, *model.ScanStats, error) {
		cp, err := loop.Checkpoint(ctx)
		if err != nil {
			return nil, nil, nil, err
		}
		return cp.Voxels, cp.Samples, scanStatsFrom(cp.Status, voxelSize, len(cp.Samples), time.Since(start)), nil
	}
}

func scanStatsFrom(st fusion.Status, voxelSize float64, samples int, elapsed time.Duration) *model.ScanStats {
	return &model.ScanStats{
		PaintedVoxels:     st.PaintedVoxels,
		ExpectedVoxels:    st.ExpectedVoxels,
		CompletionPercent: st.CoveragePercent,
		Complete:          st.ExpectedVoxels > 0 && st.PaintedVoxels >= st.ExpectedVoxels,
		Steps:             st.Steps,
		ElevationSamples:  samples,
		AreaSquareMeters:  float64(st.PaintedVoxels) * voxelSize * voxelSize,
		DurationSecs:      elapsed.Seconds(),
	}
}

// formatWalkResult renders the post-walk report.
func formatWalkResult(w io.Writer, res *walkResult) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "Duration:\t%s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintf(tw, "GPS fixes:\t%d\n", res.Status.FixCount)
	fmt.Fprintf(tw, "Steps:\t%d\n", res.Status.Steps)
	fmt.Fprintf(tw, "Painted voxels:\t%d / %d\n", res.Status.PaintedVoxels, res.Status.ExpectedVoxels)
	fmt.Fprintf(tw, "Coverage:\t%.1f%%\n", res.Status.CoveragePercent)
	fmt.Fprintf(tw, "Covered area:\t%.1f m2\n", res.Stats.CoveredAreaM2)
	fmt.Fprintf(tw, "Elevation samples:\t%d\n", res.Samples)
	fmt.Fprintf(tw, "Coverage gaps:\t%d\n", len(res.Gaps))
	if res.Metrics != nil && res.Metrics.GPSFixes > 0 {
		fmt.Fprintf(tw, "Mean fix accuracy:\t%.1f m\n", res.Metrics.AvgAccuracy)
	}
	tw.Flush()

	if len(res.Gaps) > 0 {
		fmt.Fprintln(w)
		gw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
		fmt.Fprintln(gw, "GAP CENTER X\tGAP CENTER Y\tAREA M2")
		for _, gap := range res.Gaps {
			fmt.Fprintf(gw, "%.2f\t%.2f\t%.2f\n", gap.CenterX, gap.CenterY, gap.AreaM2)
		}
		gw.Flush()
	}
}
