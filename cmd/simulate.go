package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/replay"
	"github.com/basinlabs/catchscan/internal/store"
	"github.com/basinlabs/catchscan/internal/voxel"
)

var simulateCmd = &cobra.Command{
	Use:   "simulate <scenario.yaml>",
	Short: "Synthesize a walk from a scenario and run it through fusion",
	Long: `Simulate generates a deterministic sensor stream from a YAML scenario
(boundary, waypoints, sensor rates, noise, seed) and plays it through the
fusion loop exactly as replay would. Use --record to also write the
synthesized log as a CSV for later replays.`,
	Args: cobra.ExactArgs(1),
	RunE: runSimulate,
}

func init() {
	simulateCmd.Flags().String("record", "", "write the synthesized sensor log to this CSV file")
	simulateCmd.Flags().Float64("speed", 0, "playback speed multiplier, 0 for unpaced")
	simulateCmd.Flags().String("scan", "", "scan ID to persist coverage under")
	simulateCmd.Flags().Bool("save", false, "persist coverage to the store (requires --scan)")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	if err := cfg.Validate("replay"); err != nil {
		return err
	}

	recordPath, _ := cmd.Flags().GetString("record")
	scanID, _ := cmd.Flags().GetString("scan")
	save, _ := cmd.Flags().GetBool("save")
	speed, _ := cmd.Flags().GetFloat64("speed")
	if save && scanID == "" {
		return eris.New("--save requires --scan")
	}

	f, err := os.Open(args[0])
	if err != nil {
		return eris.Wrapf(err, "open scenario %s", args[0])
	}
	scenario, err := replay.LoadScenario(f)
	f.Close()
	if err != nil {
		return err
	}

	events := scenario.Synthesize(time.Now().UTC())
	fmt.Fprintf(cmd.OutOrStdout(), "Scenario %q: synthesized %d events\n", scenario.Name, len(events))

	if recordPath != "" {
		if err := writeSensorLog(recordPath, events); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Recorded log to %s\n", recordPath)
	}

	poly, err := scenario.Polygon()
	if err != nil {
		return err
	}
	session, err := voxel.NewSession(cfg.Voxel.WalkSizeMeters)
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
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if _, err := st.GetScan(ctx, scanID); err != nil {
			return err
		}
		if err := st.UpdateScanStatus(ctx, scanID, model.ScanStatusActive); err != nil {
			return err
		}
		persistTo = st
	}

	res, err := runWalk(ctx, player, poly, session, grid, persistTo, scanID)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout())
	formatWalkResult(cmd.OutOrStdout(), res)
	return nil
}

func writeSensorLog(path string, events []replay.Event) error {
	f, err := os.Create(path)
	if err != nil {
		return eris.Wrapf(err, "create sensor log %s", path)
	}
	if err := replay.WriteLog(f, events); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
