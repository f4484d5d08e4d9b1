package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/resilience"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// CheckpointFunc supplies the current scan state for persistence. The
// returned slices must be detached copies.
type CheckpointFunc func(ctx context.Context) (voxels []voxel.Record, samples []elevation.Sample, stats *model.ScanStats, err error)

// CheckpointConfig controls periodic persistence of an active scan.
type CheckpointConfig struct {
	Interval time.Duration
	Retry    resilience.RetryConfig
	Breaker  resilience.CircuitBreakerConfig
}

// DefaultCheckpointConfig returns the shipped checkpoint tuning.
func DefaultCheckpointConfig() CheckpointConfig {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("store", "checkpoint")
	return CheckpointConfig{
		Interval: 10 * time.Second,
		Retry:    retry,
		Breaker:  resilience.DefaultCircuitBreakerConfig(),
	}
}

// Checkpointer periodically persists a scan's voxels and elevation samples so
// a crash mid-walk loses at most one interval of coverage. Store failures are
// retried; sustained failure trips a circuit breaker and checkpoints are
// skipped until the store recovers.
type Checkpointer struct {
	store   Store
	scanID  string
	source  CheckpointFunc
	cfg     CheckpointConfig
	breaker *resilience.CircuitBreaker

	// Samples are append-only upstream, so only the tail beyond this
	// watermark needs writing.
	savedSamples int
}

// NewCheckpointer creates a checkpointer for one scan.
func NewCheckpointer(st Store, scanID string, source CheckpointFunc, cfg CheckpointConfig) *Checkpointer {
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	cfg.Breaker.OnStateChange = func(from, to resilience.CircuitState) {
		zap.L().Warn("store: checkpoint circuit state changed",
			zap.String("scan_id", scanID),
			zap.String("from", from.String()),
			zap.String("to", to.String()),
		)
	}
	return &Checkpointer{
		store:   st,
		scanID:  scanID,
		source:  source,
		cfg:     cfg,
		breaker: resilience.NewCircuitBreaker(cfg.Breaker),
	}
}

// Run persists on a fixed interval until ctx is cancelled, then takes a final
// flush on a fresh deadline so the last interval of coverage is not lost.
func (c *Checkpointer) Run(ctx context.Context) {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := c.Flush(flushCtx); err != nil {
				zap.L().Error("store: final checkpoint failed",
					zap.String("scan_id", c.scanID),
					zap.Error(err),
				)
			}
			return
		case <-ticker.C:
			if err := c.Flush(ctx); err != nil {
				if errors.Is(err, resilience.ErrCircuitOpen) {
					zap.L().Warn("store: checkpoint skipped, circuit open",
						zap.String("scan_id", c.scanID),
					)
					continue
				}
				zap.L().Error("store: checkpoint failed",
					zap.String("scan_id", c.scanID),
					zap.Error(err),
				)
			}
		}
	}
}

// Flush persists one checkpoint: the full voxel snapshot, any elevation
// samples past the watermark, and the scan stats.
func (c *Checkpointer) Flush(ctx context.Context) error {
	voxels, samples, stats, err := c.source(ctx)
	if err != nil {
		return eris.Wrap(err, "store: collect checkpoint")
	}

	return c.breaker.Execute(ctx, func(ctx context.Context) error {
		if err := resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
			return c.store.SaveVoxels(ctx, c.scanID, voxels)
		}); err != nil {
			return err
		}

		if pending := samples[c.savedSamples:]; len(pending) > 0 {
			if err := resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
				return c.store.SaveElevationSamples(ctx, c.scanID, pending)
			}); err != nil {
				return err
			}
			c.savedSamples = len(samples)
		}

		if stats != nil {
			if err := resilience.Do(ctx, c.cfg.Retry, func(ctx context.Context) error {
				return c.store.UpdateScanStats(ctx, c.scanID, stats)
			}); err != nil {
				return err
			}
		}
		return nil
	})
}
