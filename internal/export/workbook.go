// Package export writes a completed scan to an xlsx workbook for survey
// hand-off.
package export

import (
	"io"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// Workbook bundles everything one scan export carries.
type Workbook struct {
	Scan    *model.Scan
	Voxels  []voxel.Record
	Samples []elevation.Sample
	Gaps    []voxel.GapInfo
}

// Write renders the workbook: a summary sheet, the voxel list, the elevation
// samples and any coverage gaps, one sheet each.
func Write(w io.Writer, wb Workbook) error {
	if wb.Scan == nil {
		return eris.New("export: scan is required")
	}

	f := xlsx.NewFile()

	if err := writeSummary(f, wb); err != nil {
		return err
	}
	if err := writeVoxels(f, wb.Voxels); err != nil {
		return err
	}
	if err := writeSamples(f, wb.Samples); err != nil {
		return err
	}
	if err := writeGaps(f, wb.Gaps); err != nil {
		return err
	}

	return eris.Wrap(f.Write(w), "export: write workbook")
}

func writeSummary(f *xlsx.File, wb Workbook) error {
	sheet, err := f.AddSheet("Summary")
	if err != nil {
		return eris.Wrap(err, "export: add summary sheet")
	}

	addPair := func(key, value string) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		row.AddCell().SetString(value)
	}
	addFloat := func(key string, value float64) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		row.AddCell().SetFloat(value)
	}
	addInt := func(key string, value int) {
		row := sheet.AddRow()
		row.AddCell().SetString(key)
		row.AddCell().SetInt(value)
	}

	addPair("Scan ID", wb.Scan.ID)
	addPair("Name", wb.Scan.Name)
	addPair("Status", string(wb.Scan.Status))
	addFloat("Voxel size (m)", wb.Scan.VoxelSize)
	addPair("Created", wb.Scan.CreatedAt.Format(time.RFC3339))
	addPair("Updated", wb.Scan.UpdatedAt.Format(time.RFC3339))

	if st := wb.Scan.Stats; st != nil {
		addInt("Painted voxels", st.PaintedVoxels)
		addInt("Expected voxels", st.ExpectedVoxels)
		addFloat("Completion (%)", st.CompletionPercent)
		addPair("Complete", boolString(st.Complete))
		addInt("Steps", st.Steps)
		addInt("Elevation samples", st.ElevationSamples)
		addFloat("Area (m²)", st.AreaSquareMeters)
		addFloat("Duration (s)", st.DurationSecs)
	}
	return nil
}

func writeVoxels(f *xlsx.File, records []voxel.Record) error {
	sheet, err := f.AddSheet("Voxels")
	if err != nil {
		return eris.Wrap(err, "export: add voxels sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"key", "grid_x", "grid_y", "world_x", "world_y", "elevation", "visit_count"} {
		header.AddCell().SetString(col)
	}

	for _, r := range records {
		row := sheet.AddRow()
		row.AddCell().SetString(r.Key)
		row.AddCell().SetInt(r.GridX)
		row.AddCell().SetInt(r.GridY)
		row.AddCell().SetFloat(r.WorldX)
		row.AddCell().SetFloat(r.WorldY)
		row.AddCell().SetFloat(r.Elevation)
		row.AddCell().SetInt(r.VisitCount)
	}
	return nil
}

func writeSamples(f *xlsx.File, samples []elevation.Sample) error {
	sheet, err := f.AddSheet("Elevation Samples")
	if err != nil {
		return eris.Wrap(err, "export: add samples sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"x", "y", "elevation", "accuracy", "source", "timestamp"} {
		header.AddCell().SetString(col)
	}

	for _, s := range samples {
		row := sheet.AddRow()
		row.AddCell().SetFloat(s.X)
		row.AddCell().SetFloat(s.Y)
		row.AddCell().SetFloat(s.Elevation)
		row.AddCell().SetFloat(s.Accuracy)
		row.AddCell().SetString(string(s.Source))
		row.AddCell().SetString(s.Timestamp.Format(time.RFC3339Nano))
	}
	return nil
}

func writeGaps(f *xlsx.File, gaps []voxel.GapInfo) error {
	sheet, err := f.AddSheet("Gaps")
	if err != nil {
		return eris.Wrap(err, "export: add gaps sheet")
	}

	header := sheet.AddRow()
	for _, col := range []string{"center_x", "center_y", "area_m2"} {
		header.AddCell().SetString(col)
	}

	for _, g := range gaps {
		row := sheet.AddRow()
		row.AddCell().SetFloat(g.CenterX)
		row.AddCell().SetFloat(g.CenterY)
		row.AddCell().SetFloat(g.AreaM2)
	}
	return nil
}

func boolString(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
