package geometry

import (
	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// ReadShapefile loads boundary polygons from a shapefile. Each polygon record
// contributes its first ring only; surveyed catchment boundaries have no
// holes. Records that are not polygons or fail validation are skipped with a
// debug log rather than aborting the import.
func ReadShapefile(path string) ([]*GeoPolygon, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "geometry: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	var polygons []*GeoPolygon
	var skipped int

	for reader.Next() {
		n, shape := reader.Shape()

		poly, ok := shape.(*shp.Polygon)
		if !ok || poly.NumParts == 0 || len(poly.Points) == 0 {
			skipped++
			continue
		}

		end := int32(len(poly.Points))
		if poly.NumParts > 1 {
			end = poly.Parts[1]
		}

		verts := make([]geodesy.LatLon, 0, end)
		for i := poly.Parts[0]; i < end; i++ {
			verts = append(verts, geodesy.LatLon{
				Lat: poly.Points[i].Y,
				Lon: poly.Points[i].X,
			})
		}
		// Shapefile rings close on the first point.
		if len(verts) > 1 && verts[0] == verts[len(verts)-1] {
			verts = verts[:len(verts)-1]
		}

		gp, err := NewGeoPolygon(verts)
		if err != nil {
			zap.L().Debug("geometry: skipping invalid shapefile record",
				zap.Int("record", n),
				zap.Error(err),
			)
			skipped++
			continue
		}
		polygons = append(polygons, gp)
	}

	if skipped > 0 {
		zap.L().Debug("geometry: skipped shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}

	if len(polygons) == 0 {
		return nil, eris.Errorf("geometry: no usable polygons in %s", path)
	}
	return polygons, nil
}
