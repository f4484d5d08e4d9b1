package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/store"
	"github.com/basinlabs/catchscan/internal/voxel"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the read-only coverage API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: newAPIHandler(st, cfg.Elevation.CellSizeMeters),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newAPIHandler builds the route table. All endpoints are reads over stored
// scans; mutation stays on the CLI.
func newAPIHandler(st store.Store, cellSize float64) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("GET /scans", func(w http.ResponseWriter, r *http.Request) {
		filter := store.ScanFilter{
			Status: model.ScanStatus(r.URL.Query().Get("status")),
		}
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				writeJSONError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			filter.Limit = n
		}

		scans, err := st.ListScans(r.Context(), filter)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"scans": scans, "count": len(scans)})
	})

	mux.HandleFunc("GET /scans/{id}", func(w http.ResponseWriter, r *http.Request) {
		scan, err := st.GetScan(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, scan)
	})

	mux.HandleFunc("GET /scans/{id}/stats", func(w http.ResponseWriter, r *http.Request) {
		scan, session, err := restoreScanCoverage(r, st)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"scan_id":  scan.ID,
			"status":   scan.Status,
			"stats":    scan.Stats,
			"coverage": session.Stats(),
		})
	})

	mux.HandleFunc("GET /scans/{id}/voxels", func(w http.ResponseWriter, r *http.Request) {
		scan, err := st.GetScan(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		records, err := st.LoadVoxels(r.Context(), scan.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"scan_id":    scan.ID,
			"voxel_size": scan.VoxelSize,
			"voxels":     records,
			"count":      len(records),
		})
	})

	mux.HandleFunc("GET /scans/{id}/gaps", func(w http.ResponseWriter, r *http.Request) {
		scan, session, err := restoreScanCoverage(r, st)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		q := r.URL.Query()
		if q.Has("from_x") && q.Has("from_y") {
			fromX, errX := strconv.ParseFloat(q.Get("from_x"), 64)
			fromY, errY := strconv.ParseFloat(q.Get("from_y"), 64)
			if errX != nil || errY != nil {
				writeJSONError(w, http.StatusBadRequest, "from_x and from_y must be numbers")
				return
			}
			nearest := voxel.FindNearestGap(session, session.Boundary(), scan.VoxelSize, fromX, fromY)
			writeJSON(w, http.StatusOK, map[string]any{"scan_id": scan.ID, "nearest": nearest})
			return
		}

		gaps := voxel.FindGaps(session, session.Boundary(), scan.VoxelSize)
		writeJSON(w, http.StatusOK, map[string]any{
			"scan_id": scan.ID,
			"gaps":    gaps,
			"count":   len(gaps),
		})
	})

	mux.HandleFunc("GET /scans/{id}/raster", func(w http.ResponseWriter, r *http.Request) {
		scan, err := st.GetScan(r.Context(), r.PathValue("id"))
		if err != nil {
			writeStoreError(w, err)
			return
		}
		samples, err := st.LoadElevationSamples(r.Context(), scan.ID)
		if err != nil {
			writeStoreError(w, err)
			return
		}

		grid, err := elevation.NewGrid(cellSize)
		if err != nil {
			writeStoreError(w, err)
			return
		}
		for _, s := range samples {
			grid.AddSample(s)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"scan_id":   scan.ID,
			"cell_size": grid.CellSize(),
			"samples":   grid.SampleCount(),
			"bounds":    grid.SampleBounds(),
			"raster":    grid.Raster(),
		})
	})

	return mux
}

// restoreScanCoverage rebuilds the coverage session for a stored scan: the
// boundary projected around its centroid plus the persisted voxel snapshot.
func restoreScanCoverage(r *http.Request, st store.Store) (*model.Scan, *voxel.Session, error) {
	ctx := r.Context()
	scanID := r.PathValue("id")

	scan, err := st.GetScan(ctx, scanID)
	if err != nil {
		return nil, nil, err
	}
	poly, err := geometry.UnmarshalGeoJSON(scan.Boundary)
	if err != nil {
		return nil, nil, err
	}
	boundary, err := poly.ToBoundary(poly.Centroid())
	if err != nil {
		return nil, nil, err
	}
	records, err := st.LoadVoxels(ctx, scanID)
	if err != nil {
		return nil, nil, err
	}
	session, err := voxel.Restore(scan.ID, scan.VoxelSize, boundary, records)
	if err != nil {
		return nil, nil, err
	}
	return scan, session, nil
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Error("serve: encode response", zap.Error(err))
	}
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeJSONError(w, http.StatusNotFound, "scan not found")
		return
	}
	zap.L().Error("serve: request failed", zap.Error(err))
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}
