package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/store"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// 22m square at the equator.
var serveTestBoundary = json.RawMessage(`{"type":"Polygon","coordinates":[[[0,0],[0.0002,0],[0.0002,0.0002],[0,0.0002],[0,0]]]}`)

func newServeFixture(t *testing.T) (store.Store, *model.Scan) {
	t.Helper()

	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "serve.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	ctx := context.Background()
	require.NoError(t, st.Migrate(ctx))

	scan, err := st.CreateScan(ctx, "serve fixture", serveTestBoundary, 0.5)
	require.NoError(t, err)

	session, err := voxel.NewSession(scan.VoxelSize)
	require.NoError(t, err)
	session.Paint(0.1, 0.1)
	session.Paint(1.2, 0.1)
	session.Paint(1.2, 1.3)
	require.NoError(t, st.SaveVoxels(ctx, scan.ID, session.Snapshot()))

	now := time.Now().UTC()
	var samples []elevation.Sample
	for i, xy := range [][2]float64{{0.1, 0.1}, {1.2, 0.1}, {1.2, 1.3}} {
		s, err := elevation.NewSample(xy[0], xy[1], 10+float64(i), 2, elevation.SourceGPS, now.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		samples = append(samples, s)
	}
	require.NoError(t, st.SaveElevationSamples(ctx, scan.ID, samples))

	return st, scan
}

func serveJSON(t *testing.T, h http.Handler, path string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return rr.Code, body
}

func TestAPIHandler_Health(t *testing.T) {
	st, _ := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/health")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
}

func TestAPIHandler_ListScans(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 1, body["count"])

	scans := body["scans"].([]any)
	require.Len(t, scans, 1)
	assert.Equal(t, scan.ID, scans[0].(map[string]any)["id"])
}

func TestAPIHandler_ListScans_BadLimit(t *testing.T) {
	st, _ := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans?limit=abc")
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, body["error"], "limit")
}

func TestAPIHandler_GetScan(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/"+scan.ID)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, scan.ID, body["id"])
	assert.Equal(t, "serve fixture", body["name"])
}

func TestAPIHandler_GetScan_NotFound(t *testing.T) {
	st, _ := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/no-such-scan")
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "scan not found", body["error"])
}

func TestAPIHandler_Stats(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/"+scan.ID+"/stats")
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, scan.ID, body["scan_id"])

	coverage := body["coverage"].(map[string]any)
	assert.EqualValues(t, 3, coverage["voxel_count"])
}

func TestAPIHandler_Voxels(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/"+scan.ID+"/voxels")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["count"])
	assert.EqualValues(t, 0.5, body["voxel_size"])
}

func TestAPIHandler_Gaps(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/"+scan.ID+"/gaps")
	assert.Equal(t, http.StatusOK, code)
	// Three painted cells in a 22m square leave plenty unwalked.
	count := body["count"].(float64)
	assert.Greater(t, count, float64(0))
}

func TestAPIHandler_NearestGap(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/"+scan.ID+"/gaps?from_x=0&from_y=0")
	assert.Equal(t, http.StatusOK, code)
	assert.NotNil(t, body["nearest"])
}

func TestAPIHandler_Raster(t *testing.T) {
	st, scan := newServeFixture(t)
	h := newAPIHandler(st, elevation.DefaultCellSize)

	code, body := serveJSON(t, h, "/scans/"+scan.ID+"/raster")
	assert.Equal(t, http.StatusOK, code)
	assert.EqualValues(t, 3, body["samples"])
	assert.NotNil(t, body["raster"])
	assert.NotNil(t, body["bounds"])
}
