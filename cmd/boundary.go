package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/voxel"
)

var boundaryCmd = &cobra.Command{
	Use:   "boundary",
	Short: "Import and inspect catchment boundaries",
	Long:  "Commands for importing boundary polygons from GeoJSON or shapefiles and inspecting stored scans' boundaries.",
}

// -- boundary import --

var boundaryImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import a boundary polygon and create a scan",
	Long:  "Reads a polygon from a GeoJSON (.geojson/.json) or ESRI shapefile (.shp) and registers a new scan for it.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		name, _ := cmd.Flags().GetString("name")
		voxelSize, _ := cmd.Flags().GetFloat64("voxel-size")
		shapeIndex, _ := cmd.Flags().GetInt("shape-index")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		if voxelSize == 0 {
			voxelSize = cfg.Voxel.WalkSizeMeters
		}
		if name == "" {
			name = strings.TrimSuffix(filepath.Base(args[0]), filepath.Ext(args[0]))
		}

		poly, err := readBoundaryFile(args[0], shapeIndex)
		if err != nil {
			return err
		}

		formatBoundaryInfo(os.Stdout, poly, voxelSize)

		if dryRun {
			return nil
		}

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		geojson, err := geometry.MarshalGeoJSON(poly)
		if err != nil {
			return eris.Wrap(err, "boundary import")
		}

		scan, err := st.CreateScan(ctx, name, geojson, voxelSize)
		if err != nil {
			return eris.Wrap(err, "boundary import")
		}

		zap.L().Info("scan created",
			zap.String("scan_id", scan.ID),
			zap.String("name", scan.Name),
			zap.Float64("voxel_size", scan.VoxelSize),
		)
		fmt.Printf("Created scan %s (%q)\n", scan.ID, scan.Name)
		return nil
	},
}

// -- boundary info --

var boundaryInfoCmd = &cobra.Command{
	Use:   "info <scan-id>",
	Short: "Show boundary geometry of a stored scan",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scan, poly, err := loadScanPolygon(ctx, st, args[0])
		if err != nil {
			return eris.Wrap(err, "boundary info")
		}

		fmt.Printf("Scan %s (%q)\n", scan.ID, scan.Name)
		formatBoundaryInfo(os.Stdout, poly, scan.VoxelSize)
		return nil
	},
}

// -- boundary export --

var boundaryExportCmd = &cobra.Command{
	Use:   "export <scan-id>",
	Short: "Write a scan's boundary as GeoJSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		out, _ := cmd.Flags().GetString("output")

		if err := cfg.Validate("scan"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		scan, err := st.GetScan(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "boundary export")
		}

		if out == "" || out == "-" {
			_, err = os.Stdout.Write(append([]byte(scan.Boundary), '\n'))
			return eris.Wrap(err, "boundary export")
		}
		return eris.Wrap(os.WriteFile(out, scan.Boundary, 0o644), "boundary export")
	},
}

func init() {
	boundaryImportCmd.Flags().String("name", "", "scan name (default: file name)")
	boundaryImportCmd.Flags().Float64("voxel-size", 0, "coverage voxel size in meters (default from config)")
	boundaryImportCmd.Flags().Int("shape-index", 0, "polygon index when the shapefile has several")
	boundaryImportCmd.Flags().Bool("dry-run", false, "validate and print without creating a scan")

	boundaryExportCmd.Flags().StringP("output", "o", "", "output file (default stdout)")

	boundaryCmd.AddCommand(boundaryImportCmd)
	boundaryCmd.AddCommand(boundaryInfoCmd)
	boundaryCmd.AddCommand(boundaryExportCmd)
	rootCmd.AddCommand(boundaryCmd)
}

// readBoundaryFile loads one polygon from a GeoJSON or shapefile.
func readBoundaryFile(path string, shapeIndex int) (*geometry.GeoPolygon, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".geojson", ".json":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, eris.Wrap(err, "read boundary file")
		}
		return geometry.UnmarshalGeoJSON(data)
	case ".shp":
		polys, err := geometry.ReadShapefile(path)
		if err != nil {
			return nil, err
		}
		if shapeIndex < 0 || shapeIndex >= len(polys) {
			return nil, eris.Errorf("shape index %d out of range (file has %d polygons)", shapeIndex, len(polys))
		}
		return polys[shapeIndex], nil
	default:
		return nil, eris.Errorf("unsupported boundary format %q (want .geojson, .json or .shp)", filepath.Ext(path))
	}
}

// formatBoundaryInfo prints geometry and the expected coverage workload.
func formatBoundaryInfo(out io.Writer, poly *geometry.GeoPolygon, voxelSize float64) {
	centroid := poly.Centroid()
	bounds := poly.Bounds()

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Vertices:\t%d\n", poly.NumVertices())
	_, _ = fmt.Fprintf(w, "Area:\t%.1f m²\n", poly.AreaSquareMeters())
	_, _ = fmt.Fprintf(w, "Centroid:\t%.6f, %.6f\n", centroid.Lat, centroid.Lon)
	_, _ = fmt.Fprintf(w, "Bounds:\t%.6f..%.6f lat, %.6f..%.6f lon\n",
		bounds.MinLat, bounds.MaxLat, bounds.MinLon, bounds.MaxLon)

	if boundary, err := poly.ToBoundary(centroid); err == nil {
		expected := voxel.ExpectedVoxelCount(boundary, voxelSize)
		_, _ = fmt.Fprintf(w, "Expected voxels:\t%d (at %.2f m)\n", expected, voxelSize)
	}
	_ = w.Flush()
}
