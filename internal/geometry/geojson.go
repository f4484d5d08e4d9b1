package geometry

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"

	"github.com/basinlabs/catchscan/pkg/geodesy"
)

// MarshalGeoJSON encodes the polygon as a GeoJSON Polygon geometry with a
// single closed exterior ring, coordinates ordered [lon, lat].
func MarshalGeoJSON(p *GeoPolygon) ([]byte, error) {
	verts := p.Vertices()
	ring := make([]geom.Coord, 0, len(verts)+1)
	for _, v := range verts {
		ring = append(ring, geom.Coord{v.Lon, v.Lat})
	}
	// GeoJSON rings are explicitly closed.
	ring = append(ring, geom.Coord{verts[0].Lon, verts[0].Lat})

	poly := geom.NewPolygon(geom.XY)
	if _, err := poly.SetCoords([][]geom.Coord{ring}); err != nil {
		return nil, eris.Wrap(err, "geometry: build geojson ring")
	}

	data, err := geojson.Marshal(poly)
	if err != nil {
		return nil, eris.Wrap(err, "geometry: marshal geojson")
	}
	return data, nil
}

// UnmarshalGeoJSON decodes a GeoJSON Polygon into a validated GeoPolygon.
// It is the only supported way to rehydrate a persisted boundary: the result
// passes full construction-time validation, never an implicit re-wrap of
// untyped fields.
func UnmarshalGeoJSON(data []byte) (*GeoPolygon, error) {
	var g geom.T
	if err := geojson.Unmarshal(data, &g); err != nil {
		return nil, eris.Wrap(err, "geometry: unmarshal geojson")
	}

	poly, ok := g.(*geom.Polygon)
	if !ok {
		return nil, eris.Errorf("geometry: expected Polygon geometry, got %T", g)
	}
	if poly.NumLinearRings() == 0 {
		return nil, eris.New("geometry: geojson polygon has no rings")
	}

	ring := poly.LinearRing(0).Coords()
	// Drop the closing duplicate before validation.
	if len(ring) > 1 && ring[0].Equal(geom.XY, ring[len(ring)-1]) {
		ring = ring[:len(ring)-1]
	}

	verts := make([]geodesy.LatLon, 0, len(ring))
	for _, c := range ring {
		verts = append(verts, geodesy.LatLon{Lat: c[1], Lon: c[0]})
	}
	return NewGeoPolygon(verts)
}
