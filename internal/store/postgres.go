package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/basinlabs/catchscan/internal/db"
	"github.com/basinlabs/catchscan/internal/elevation"
	"github.com/basinlabs/catchscan/internal/model"
	"github.com/basinlabs/catchscan/internal/voxel"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_scan":        `INSERT INTO scans (id, name, boundary, voxel_size, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
	"get_scan":           `SELECT id, name, boundary, voxel_size, status, stats, created_at, updated_at FROM scans WHERE id = $1`,
	"update_scan_status": `UPDATE scans SET status = $1, updated_at = $2 WHERE id = $3`,
	"update_scan_stats":  `UPDATE scans SET stats = $1, updated_at = $2 WHERE id = $3`,
	"load_voxels":        `SELECT key, grid_x, grid_y, world_x, world_y, elevation, visit_count FROM scan_voxels WHERE scan_id = $1`,
	"load_samples":       `SELECT x, y, elevation, accuracy, source, sampled_at FROM elevation_samples WHERE scan_id = $1 ORDER BY sampled_at`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS scans (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	name       TEXT NOT NULL,
	boundary   JSONB NOT NULL,
	voxel_size DOUBLE PRECISION NOT NULL,
	status     TEXT NOT NULL DEFAULT 'active',
	stats      JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS scan_voxels (
	scan_id     TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	key         TEXT NOT NULL,
	grid_x      INTEGER NOT NULL,
	grid_y      INTEGER NOT NULL,
	world_x     DOUBLE PRECISION NOT NULL,
	world_y     DOUBLE PRECISION NOT NULL,
	elevation   DOUBLE PRECISION NOT NULL DEFAULT 0,
	visit_count INTEGER NOT NULL DEFAULT 1,
	PRIMARY KEY (scan_id, key)
);

CREATE TABLE IF NOT EXISTS elevation_samples (
	id         TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	scan_id    TEXT NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
	x          DOUBLE PRECISION NOT NULL,
	y          DOUBLE PRECISION NOT NULL,
	elevation  DOUBLE PRECISION NOT NULL,
	accuracy   DOUBLE PRECISION NOT NULL,
	source     TEXT NOT NULL,
	sampled_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_scans_status ON scans(status);
CREATE INDEX IF NOT EXISTS idx_scan_voxels_scan_id ON scan_voxels(scan_id);
CREATE INDEX IF NOT EXISTS idx_elevation_samples_scan_id ON elevation_samples(scan_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateScan(ctx context.Context, name string, boundary json.RawMessage, voxelSize float64) (*model.Scan, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO scans (id, name, boundary, voxel_size, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		id, name, []byte(boundary), voxelSize, string(model.ScanStatusActive), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert scan")
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

func (s *PostgresStore) GetScan(ctx context.Context, scanID string) (*model.Scan, error) {
	var sc model.Scan
	var boundary []byte
	var statsNull *[]byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, name, boundary, voxel_size, status, stats, created_at, updated_at FROM scans WHERE id = $1`,
		scanID,
	).Scan(&sc.ID, &sc.Name, &boundary, &sc.VoxelSize, &sc.Status, &statsNull, &sc.CreatedAt, &sc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, eris.Wrapf(ErrNotFound, "%s", scanID)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get scan %s", scanID)
	}

	sc.Boundary = boundary
	if statsNull != nil {
		sc.Stats = &model.ScanStats{}
		if err := json.Unmarshal(*statsNull, sc.Stats); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal stats")
		}
	}
	return &sc, nil
}

func (s *PostgresStore) ListScans(ctx context.Context, filter ScanFilter) ([]model.Scan, error) {
	query := `SELECT id, name, boundary, voxel_size, status, stats, created_at, updated_at FROM scans WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list scans")
	}
	defer rows.Close()

	var scans []model.Scan
	for rows.Next() {
		var sc model.Scan
		var boundary []byte
		var statsNull *[]byte

		if err := rows.Scan(&sc.ID, &sc.Name, &boundary, &sc.VoxelSize, &sc.Status, &statsNull, &sc.CreatedAt, &sc.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan row")
		}
		sc.Boundary = boundary
		if statsNull != nil {
			sc.Stats = &model.ScanStats{}
			if err := json.Unmarshal(*statsNull, sc.Stats); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal stats")
			}
		}
		scans = append(scans, sc)
	}
	return scans, eris.Wrap(rows.Err(), "postgres: list scans iterate")
}

func (s *PostgresStore) UpdateScanStatus(ctx context.Context, scanID string, status model.ScanStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scan status %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", scanID)
	}
	return nil
}

func (s *PostgresStore) UpdateScanStats(ctx context.Context, scanID string, stats *model.ScanStats) error {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal stats")
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE scans SET stats = $1, updated_at = $2 WHERE id = $3`,
		statsJSON, time.Now().UTC(), scanID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update scan stats %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", scanID)
	}
	return nil
}

func (s *PostgresStore) DeleteScan(ctx context.Context, scanID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scans WHERE id = $1`, scanID)
	if err != nil {
		return eris.Wrapf(err, "postgres: delete scan %s", scanID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "%s", scanID)
	}
	return nil
}

// SaveVoxels upserts the snapshot rows. Paints only ever add or revisit
// cells, so an upsert keyed on (scan_id, key) is equivalent to replacing the
// snapshot and skips the delete churn.
func (s *PostgresStore) SaveVoxels(ctx context.Context, scanID string, records []voxel.Record) error {
	rows := make([][]any, 0, len(records))
	for _, r := range records {
		rows = append(rows, []any{scanID, r.Key, r.GridX, r.GridY, r.WorldX, r.WorldY, r.Elevation, r.VisitCount})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "scan_voxels",
		Columns:      []string{"scan_id", "key", "grid_x", "grid_y", "world_x", "world_y", "elevation", "visit_count"},
		ConflictKeys: []string{"scan_id", "key"},
	}, rows)
	return eris.Wrapf(err, "postgres: save voxels for scan %s", scanID)
}

func (s *PostgresStore) LoadVoxels(ctx context.Context, scanID string) ([]voxel.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, grid_x, grid_y, world_x, world_y, elevation, visit_count FROM scan_voxels WHERE scan_id = $1`,
		scanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load voxels for scan %s", scanID)
	}
	defer rows.Close()

	var records []voxel.Record
	for rows.Next() {
		var r voxel.Record
		if err := rows.Scan(&r.Key, &r.GridX, &r.GridY, &r.WorldX, &r.WorldY, &r.Elevation, &r.VisitCount); err != nil {
			return nil, eris.Wrap(err, "postgres: scan voxel row")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: load voxels iterate")
}

func (s *PostgresStore) SaveElevationSamples(ctx context.Context, scanID string, samples []elevation.Sample) error {
	rows := make([][]any, 0, len(samples))
	for _, sm := range samples {
		rows = append(rows, []any{uuid.New().String(), scanID, sm.X, sm.Y, sm.Elevation, sm.Accuracy, string(sm.Source), sm.Timestamp.UTC()})
	}

	_, err := db.CopyFrom(ctx, s.pool, "elevation_samples",
		[]string{"id", "scan_id", "x", "y", "elevation", "accuracy", "source", "sampled_at"},
		rows,
	)
	return eris.Wrapf(err, "postgres: save samples for scan %s", scanID)
}

func (s *PostgresStore) LoadElevationSamples(ctx context.Context, scanID string) ([]elevation.Sample, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT x, y, elevation, accuracy, source, sampled_at FROM elevation_samples WHERE scan_id = $1 ORDER BY sampled_at`,
		scanID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: load samples for scan %s", scanID)
	}
	defer rows.Close()

	var samples []elevation.Sample
	for rows.Next() {
		var sm elevation.Sample
		var source string
		if err := rows.Scan(&sm.X, &sm.Y, &sm.Elevation, &sm.Accuracy, &source, &sm.Timestamp); err != nil {
			return nil, eris.Wrap(err, "postgres: scan sample row")
		}
		sm.Source = elevation.Source(source)
		samples = append(samples, sm)
	}
	return samples, eris.Wrap(rows.Err(), "postgres: load samples iterate")
}
