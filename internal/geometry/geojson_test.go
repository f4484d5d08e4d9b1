package geometry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/catchscan/pkg/geodesy"
)

func TestGeoJSONRoundTrip(t *testing.T) {
	p, err := NewGeoPolygon([]geodesy.LatLon{
		{Lat: 47.620, Lon: -122.350},
		{Lat: 47.620, Lon: -122.348},
		{Lat: 47.622, Lon: -122.348},
		{Lat: 47.622, Lon: -122.350},
	})
	require.NoError(t, err)

	data, err := MarshalGeoJSON(p)
	require.NoError(t, err)

	back, err := UnmarshalGeoJSON(data)
	require.NoError(t, err)

	// A persisted boundary must reproduce identical containment and area
	// results on reload.
	assert.Equal(t, p.Vertices(), back.Vertices())
	assert.Equal(t, p.AreaSquareMeters(), back.AreaSquareMeters())
	assert.Equal(t, p.Contains(47.621, -122.349), back.Contains(47.621, -122.349))
}

func TestUnmarshalGeoJSONRejectsNonPolygon(t *testing.T) {
	point := []byte(`{"type":"Point","coordinates":[-122.35,47.62]}`)
	_, err := UnmarshalGeoJSON(point)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected Polygon")
}

func TestUnmarshalGeoJSONValidates(t *testing.T) {
	// Well-formed GeoJSON, but vertices out of WGS84 range: deserialization
	// must run the same validation as direct construction.
	bad := []byte(`{"type":"Polygon","coordinates":[[[200,0],[201,0],[200,1],[200,0]]]}`)
	_, err := UnmarshalGeoJSON(bad)
	require.Error(t, err)
}

func TestUnmarshalGeoJSONGarbage(t *testing.T) {
	_, err := UnmarshalGeoJSON([]byte(`{not json`))
	require.Error(t, err)
}
