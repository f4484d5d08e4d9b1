package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/basinlabs/catchscan/internal/export"
	"github.com/basinlabs/catchscan/internal/voxel"
)

var exportCmd = &cobra.Command{
	Use:   "export <scan-id>",
	Short: "Export a scan's coverage and elevation data to an XLSX workbook",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		scanID := args[0]

		output, _ := cmd.Flags().GetString("output")
		if output == "" {
			output = fmt.Sprintf("scan-%s.xlsx", truncateID(scanID))
		}

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scan, poly, err := loadScanPolygon(ctx, st, scanID)
		if err != nil {
			return err
		}
		voxels, err := st.LoadVoxels(ctx, scanID)
		if err != nil {
			return err
		}
		samples, err := st.LoadElevationSamples(ctx, scanID)
		if err != nil {
			return err
		}

		boundary, err := poly.ToBoundary(poly.Centroid())
		if err != nil {
			return err
		}
		session, err := voxel.Restore(scan.ID, scan.VoxelSize, boundary, voxels)
		if err != nil {
			return err
		}
		gaps := voxel.FindGaps(session, boundary, scan.VoxelSize)

		f, err := os.Create(output)
		if err != nil {
			return eris.Wrapf(err, "create workbook %s", output)
		}
		wb := export.Workbook{
			Scan:    scan,
			Voxels:  voxels,
			Samples: samples,
			Gaps:    gaps,
		}
		if err := export.Write(f, wb); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return eris.Wrapf(err, "close workbook %s", output)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "Exported scan %s to %s (%d voxels, %d samples, %d gaps)\n",
			truncateID(scanID), output, len(voxels), len(samples), len(gaps))
		return nil
	},
}

func init() {
	exportCmd.Flags().StringP("output", "o", "", "output file (default scan-<id>.xlsx)")
	rootCmd.AddCommand(exportCmd)
}
