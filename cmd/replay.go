package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/replay"
	"github.com/basinlabs/catchscan/internal/store"
	"github.com/basinlabs/catchscan/internal/voxel"
)

var replayCmd = &cobra.Command{
	Use:   "replay <log.csv>",
	Short: "Replay a recorded sensor log through the fusion loop",
	Long: `Replay reads a CSV sensor log, feeds it through position fusion and
coverage painting, and reports the resulting coverage. The walk boundary
comes from a stored scan (--scan) or a boundary file (--boundary). With
--save the run is checkpointed to the store under the scan.`,
	Args: cobra.ExactArgs(1),
	RunE: runReplay,
}

func init() {
	replayCmd.Flags().String("scan", "", "scan ID supplying the boundary")
	replayCmd.Flags().String("boundary", "", "boundary file (.geojson or .shp) when no scan is given")
	replayCmd.Flags().Int("shape-index", 0, "shape to use from a multi-shape shapefile")
	replayCmd.Flags().Float64("speed", 0, "playback speed multiplier, 0 for unpaced")
	replayCmd.Flags().String("encoding", "", "log character encoding (IANA name)")
	replayCmd.Flags().Bool("save", false, "persist coverage to the store (requires --scan)")
	rootCmd.AddCommand(replayCmd)
}

func runReplay(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate("replay"); err != nil {
		return err
	}

	scanID, _ := cmd.Flags().GetString("scan")
	boundaryPath, _ := cmd.Flags().GetString("boundary")
	shapeIndex, _ := cmd.Flags().GetInt("shape-index")
	save, _ := cmd.Flags().GetBool("save")

	speed, _ := cmd.Flags().GetFloat64("speed")
	if !cmd.Flags().Changed("speed") {
		speed = cfg.Replay.Speed
	}
	encoding, _ := cmd.Flags().GetString("encoding")
	if encoding == "" {
		encoding = cfg.Replay.Encoding
	}
	if strings.EqualFold(encoding, "utf-8") {
		encoding = ""
	}

	if scanID == "" && boundaryPath == "" {
		return eris.New("one of --scan or --boundary is required")
	}
	if save && scanID == "" {
		return eris.New("--save requires --scan")
	}

	events, err := readSensorLog(ctx, args[0], encoding)
	if err != nil {
		return err
	}
	printLogSummary(cmd, args[0], events)

	var (
		st   store.Store
		scan *model.Scan
		poly *geometry.GeoPolygon
	)
	if scanID != "" {
		st, err = openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		scan, poly, err = loadScanPolygon(ctx, st, scanID)
		if err != nil {
			return err
		}
	} else {
		poly, err = readBoundaryFile(boundaryPath, shapeIndex)
		if err != nil {
			return err
		}
	}

	voxelSize := cfg.Voxel.WalkSizeMeters
	if scan != nil && scan.VoxelSize > 0 {
		voxelSize = scan.VoxelSize
	}
	session, err := voxel.NewSession(voxelSize)
	if err != nil {
		return err
	}
	grid, err := elevation.NewGrid(cfg.Elevation.CellSizeMeters)
	if err != nil {
		return err
	}

	player, err := replay.NewPlayer(events, speed)
	if err != nil {
		return err
	}

	var persistTo store.Store
	if save {
		persistTo = st
		if err := st.UpdateScanStatus(ctx, scanID, model.ScanStatusActive); err != nil {
			return err
		}
	}

	res, err := runWalk(ctx, player, poly, session, grid, persistTo, scanID)
	if err != nil {
		return err
	}

	if save && res.Stats.IsComplete {
		if err := st.UpdateScanStatus(ctx, scanID, model.ScanStatusComplete); err != nil {
			zap.L().Warn("replay: could not mark scan complete",
				zap.String("scan_id", scanID),
				zap.Error(err),
			)
		}
	}

	fmt.Fprintln(cmd.OutOrStdout())
	formatWalkResult(cmd.OutOrStdout(), res)
	return nil
}

func readSensorLog(ctx context.Context, path, encoding string) ([]replay.Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open sensor log %s", path)
	}
	defer f.Close() //nolint:errcheck
	return replay.ReadLog(ctx, f, replay.LogOptions{Encoding: encoding})
}

func printLogSummary(cmd *cobra.Command, path string, events []replay.Event) {
	sum := replay.Summarize(events)
	fmt.Fprintf(cmd.OutOrStdout(), "Log %s: %d events (%d fixes, %d inertial, %d barometer) over %s\n",
		path, sum.Events, sum.GPSFixes, sum.Inertial, sum.Barometer, sum.Duration.Round(time.Millisecond))
}
