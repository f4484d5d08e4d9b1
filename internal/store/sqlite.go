package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS scans (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	boundary   TEXT NOT NULL,
	voxel_size REAL NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	stats      TEXT,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS scan_voxels (
	scan_id     TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	key         TEXT NOT NULL,
	grid_x      INTEGER NOT NULL,
	grid_y      INTEGER NOT NULL,
	world_x     REAL NOT NULL,
	world_y     REAL NOT NULL,
	elevation   REAL NOT NULL DEFAULT 0,
	visit_count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (scan_id, key)
);

CREATE TABLE IF NOT EXISTS elevation_samples (
	id         TEXT PRIMARY KEY,
	scan_id    TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	x          REAL NOT NULL,
	y          REAL NOT NULL,
	elevation  REAL NOT NULL,
	accuracy   REAL NOT NULL,
	source     TEXT NOT NULL,
	sampled_at DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
CREATE INDEX IF NOT EXISTS idx_scan_voxels_scan_id ON scan_voxels(scan_id);
CREATE INDEX IF NOT EXISTS idx_elevation_samples_scan_id ON elevation_samples(scan_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateScan(ctx context.Context, name string, boundary json.RawMessage, voxelSize float64) (*model.Scan, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO scans (id, name, boundary, voxel_size, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, name, string(boundary), voxelSize, string(model.ScanStatusActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert scan")
	}

	return &model.Scan{
		ID:        id,
		Name:      name,
		Boundary:  boundary,
		VoxelSize: voxelSize,
		Status:    model.ScanStatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) GetScan(ctx context.Context, scanID string) (*model.Scan, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, name, boundary, voxel_size, status, stats, created_at, updated_at FROM scans WHERE id = ?`,
		scanID,
	)
	return scanScan(row)
}

func (s *SQLiteStore) ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error) {
	query := `SELECT id, name, boundary, voxel_size, status, stats, created_at, updated_at FROM scans WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list scans")
	}
	defer rows.Close()

	var scans []model.Scan
	for rows.Next() {
		sc, err := scanScan(rows)
		if err != nil {
			return nil, err
		}
		scans = append(scans, *sc)
	}
	return scans, eris.Wrap(rows.Err(), "sqlite: list scans iterate")
}

func (s *SQLiteStore) UpdateScanStatus(ctx context.Context, scanID string, status model.ScanStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scan status %s", scanID)
	}
	return checkRowsAffected(res, "scan", scanID)
}

func (s *SQLiteStore) UpdateScanStats(ctx context.Context, scanID string, stats *model.ScanStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal stats")
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE scans SET stats = ?, updated_at = ? WHERE id = ?`,
		string(statsJSON), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update scan stats %s", scanID)
	}
	return checkRowsAffected(res, "scan", scanID)
}

func (s *SQLiteStore) DeleteScan(ctx context.Context, scanID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM scans WHERE id = ?`, scanID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: delete scan %s", scanID)
	}
	return checkRowsAffected(res, "scan", scanID)
}

func (s *SQLiteStore) SaveVoxels(ctx context.Context, scanID string, records []voxel.Record) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save voxels")
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM scan_voxels WHERE scan_id = ?`, scanID); err != nil {
		return eris.Wrapf(err, "sqlite: clear voxels for scan %s", scanID)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO scan_voxels (scan_id, key, grid_x, grid_y, world_x, world_y, elevation, visit_count) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert voxel")
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, scanID, r.Key, r.GridX, r.GridY, r.WorldX, r.WorldY, r.Elevation, r.VisitCount); err != nil {
			return eris.Wrapf(err, "sqlite: insert voxel %s", r.Key)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save voxels")
}

func (s *SQLiteStore) LoadVoxels(ctx context.Context, scanID string) ([]voxel.Record, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT key, grid_x, grid_y, world_x, world_y, elevation, visit_count FROM scan_voxels WHERE scan_id = ?`,
		scanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load voxels for scan %s", scanID)
	}
	defer rows.Close()

	var records []voxel.Record
	for rows.Next() {
		var r voxel.Record
		if err := rows.Scan(&r.Key, &r.GridX, &r.GridY, &r.WorldX, &r.WorldY, &r.Elevation, &r.VisitCount); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan voxel row")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: load voxels iterate")
}

func (s *SQLiteStore) SaveElevationSamples(ctx context.Context, scanID string, samples []elevation.Sample) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin save samples")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO elevation_samples (id, scan_id, x, y, elevation, accuracy, source, sampled_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return eris.Wrap(err, "sqlite: prepare insert sample")
	}
	defer stmt.Close()

	for _, sm := range samples {
		if _, err := stmt.ExecContext(ctx, uuid.New().String(), scanID, sm.X, sm.Y, sm.Elevation, sm.Accuracy, string(sm.Source), sm.Timestamp.UTC()); err != nil {
			return eris.Wrap(err, "sqlite: insert sample")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit save samples")
}

func (s *SQLiteStore) LoadElevationSamples(ctx context.Context, scanID string) ([]elevation.Sample, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT x, y, elevation, accuracy, source, sampled_at FROM elevation_samples WHERE scan_id = ? ORDER BY sampled_at`,
		scanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: load samples for scan %s", scanID)
	}
	defer rows.Close()

	var samples []elevation.Sample
	for rows.Next() {
		var sm elevation.Sample
		var source string
		if err := rows.Scan(&sm.X, &sm.Y, &sm.Elevation, &sm.Accuracy, &source, &sm.Timestamp); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan sample row")
		}
		sm.Source = elevation.Source(source)
		samples = append(samples, sm)
	}
	return samples, eris.Wrap(rows.Err(), "sqlite: load samples iterate")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanScan(row scannable) (*model.Scan, error) {
	var sc model.Scan
	var boundary string
	var statsJSON sql.NullString

	err := row.Scan(&sc.ID, &sc.Name, &boundary, &sc.VoxelSize, &sc.Status, &statsJSON, &sc.CreatedAt, &sc.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan row")
	}

	sc.Boundary = json.RawMessage(boundary)
	if statsJSON.Valid {
		sc.Stats = &model.ScanStats{}
		if err := json.Unmarshal([]byte(statsJSON.String), sc.Stats); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal stats")
		}
	}
	return &sc, nil
}
