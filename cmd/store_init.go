package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/basinlabs/catchscan/internal/geometry"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "catchscan.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, nil)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// openStore opens and migrates the configured store.
func openStore(ctx context.Context) (store.Store, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close() //nolint:errcheck
		return nil, err
	}
	return st, nil
}

// loadScanPolygon fetches a scan and decodes its stored boundary.
func loadScanPolygon(ctx context.Context, st store.Store, scanID string) (*model.Scan, *geometry.GeoPolygon, error) {
	scan, err := st.GetScan(ctx, scanID)
	if err != nil {
		return nil, nil, err
	}
	poly, err := geometry.UnmarshalGeoJSON(scan.Boundary)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "decode boundary of scan %s", scanID)
	}
	return scan, poly, nil
}
