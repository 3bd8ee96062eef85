package store

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/ewkb"
	"go.uber.org/zap"

	"github.com/groveworks/canopy/internal/db"
	"github.com/groveworks/canopy/internal/model"
)

// PostgresStore implements Store using pgxpool. Alongside plain lat/lon
// columns it maintains an EWKB POINT geometry (SRID 4326) so spatial tooling
// can index and query the registry directly.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

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

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}

	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS trees (
	public_id       TEXT PRIMARY KEY,
	declared_type   TEXT NOT NULL,
	latitude        DOUBLE PRECISION NOT NULL,
	longitude       DOUBLE PRECISION NOT NULL,
	geom            BYTEA,
	owner           JSONB NOT NULL,
	measurements    JSONB NOT NULL,
	fruit           JSONB NOT NULL,
	status          TEXT NOT NULL DEFAULT 'healthy',
	archived        BOOLEAN NOT NULL DEFAULT FALSE,
	archived_at     TIMESTAMPTZ,
	last_updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	id            TEXT PRIMARY KEY,
	tree_ref      TEXT NOT NULL REFERENCES trees(public_id),
	captured_at   TIMESTAMPTZ NOT NULL,
	gps           JSONB NOT NULL,
	declared_type TEXT NOT NULL,
	verdict       JSONB,
	notes         TEXT
);

CREATE TABLE IF NOT EXISTS reconcile_batches (
	id         TEXT PRIMARY KEY,
	total      INTEGER NOT NULL,
	created    INTEGER NOT NULL,
	updated    INTEGER NOT NULL,
	errors     INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS reconcile_rows (
	batch_id  TEXT NOT NULL REFERENCES reconcile_batches(id),
	row_index INTEGER NOT NULL,
	outcome   TEXT NOT NULL,
	public_id TEXT,
	message   TEXT
);

CREATE INDEX IF NOT EXISTS idx_trees_archived ON trees(archived);
CREATE INDEX IF NOT EXISTS idx_trees_declared_type ON trees(lower(declared_type));
CREATE INDEX IF NOT EXISTS idx_observations_tree_ref ON observations(tree_ref);
CREATE INDEX IF NOT EXISTS idx_reconcile_rows_batch ON reconcile_rows(batch_id);
`

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

func (s *PostgresStore) CreateTree(ctx context.Context, rec *model.TreeRecord) error {
	owner, measurements, fruit, err := marshalTreeBlobs(rec)
	if err != nil {
		return err
	}
	geomBytes, err := encodePointEWKB(rec.Location)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO trees (
			public_id, declared_type, latitude, longitude, geom,
			owner, measurements, fruit,
			status, archived, archived_at, last_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.PublicID, rec.DeclaredType, rec.Location.Latitude, rec.Location.Longitude, geomBytes,
		owner, measurements, fruit,
		string(rec.Status), rec.Archived, rec.ArchivedAt, rec.LastUpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return eris.Wrapf(ErrDuplicateIdentifier, "postgres: public_id %s", rec.PublicID)
		}
		return eris.Wrap(err, "postgres: insert tree")
	}
	return nil
}

func (s *PostgresStore) UpdateTree(ctx context.Context, rec *model.TreeRecord) error {
	owner, measurements, fruit, err := marshalTreeBlobs(rec)
	if err != nil {
		return err
	}
	geomBytes, err := encodePointEWKB(rec.Location)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE trees SET
			declared_type = $2, latitude = $3, longitude = $4, geom = $5,
			owner = $6, measurements = $7, fruit = $8,
			status = $9, archived = $10, archived_at = $11, last_updated_at = $12
		WHERE public_id = $1`,
		rec.PublicID, rec.DeclaredType, rec.Location.Latitude, rec.Location.Longitude, geomBytes,
		owner, measurements, fruit,
		string(rec.Status), rec.Archived, rec.ArchivedAt, rec.LastUpdatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update tree %s", rec.PublicID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "tree %s", rec.PublicID)
	}
	return nil
}

const treeColumns = `public_id, declared_type, latitude, longitude,
	owner, measurements, fruit,
	status, archived, archived_at, last_updated_at`

func (s *PostgresStore) GetTreeByPublicID(ctx context.Context, publicID string) (*model.TreeRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+treeColumns+` FROM trees WHERE public_id = $1`,
		publicID,
	)
	rec, err := scanTreePgx(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *PostgresStore) ListActiveTrees(ctx context.Context) ([]*model.TreeRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+treeColumns+` FROM trees WHERE archived = FALSE ORDER BY public_id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list active trees")
	}
	return collectTrees(rows)
}

func (s *PostgresStore) ListTrees(ctx context.Context, filter TreeFilter) ([]*model.TreeRecord, error) {
	query := `SELECT ` + treeColumns + ` FROM trees WHERE 1=1`
	var args []any

	if !filter.IncludeArchived {
		query += ` AND archived = FALSE`
	}
	if filter.DeclaredType != "" {
		args = append(args, filter.DeclaredType)
		query += ` AND lower(declared_type) = lower($` + strconv.Itoa(len(args)) + `)`
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += ` AND status = $` + strconv.Itoa(len(args))
	}
	query += ` ORDER BY public_id`
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += ` LIMIT $` + strconv.Itoa(len(args))
		if filter.Offset > 0 {
			args = append(args, filter.Offset)
			query += ` OFFSET $` + strconv.Itoa(len(args))
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list trees")
	}
	return collectTrees(rows)
}

func (s *PostgresStore) ArchiveTree(ctx context.Context, publicID string, at time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE trees SET archived = TRUE, status = $2, archived_at = $3, last_updated_at = $3
		WHERE public_id = $1`,
		publicID, string(model.StatusArchived), at,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: archive tree %s", publicID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "tree %s", publicID)
	}
	return nil
}

func (s *PostgresStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	gps, err := json.Marshal(obs.GPS)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal gps")
	}
	var verdict []byte
	if obs.Verdict != nil {
		verdict, err = json.Marshal(obs.Verdict)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal verdict")
		}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO observations (id, tree_ref, captured_at, gps, declared_type, verdict, notes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		obs.ID, obs.TreeRef, obs.CapturedAt, gps, obs.DeclaredType, verdict, obs.Notes,
	)
	return eris.Wrap(err, "postgres: insert observation")
}

func (s *PostgresStore) ListObservations(ctx context.Context, treeRef string, limit int) ([]model.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, tree_ref, captured_at, gps, declared_type, verdict, notes
		FROM observations WHERE tree_ref = $1 ORDER BY captured_at DESC LIMIT $2`,
		treeRef, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list observations")
	}
	defer rows.Close()

	var observations []model.Observation
	for rows.Next() {
		var (
			obs     model.Observation
			gps     []byte
			verdict []byte
			notes   *string
		)
		if err := rows.Scan(&obs.ID, &obs.TreeRef, &obs.CapturedAt, &gps, &obs.DeclaredType, &verdict, &notes); err != nil {
			return nil, eris.Wrap(err, "postgres: scan observation")
		}
		if err := json.Unmarshal(gps, &obs.GPS); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal gps")
		}
		if len(verdict) > 0 {
			obs.Verdict = &model.ClassificationVerdict{}
			if err := json.Unmarshal(verdict, obs.Verdict); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal verdict")
			}
		}
		if notes != nil {
			obs.Notes = *notes
		}
		observations = append(observations, obs)
	}
	return observations, eris.Wrap(rows.Err(), "postgres: iterate observations")
}

// SaveReconcileReport lands the batch header with a plain insert and the
// per-row audit trail via COPY.
func (s *PostgresStore) SaveReconcileReport(ctx context.Context, report *model.ReconcileReport) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO reconcile_batches (id, total, created, updated, errors)
		VALUES ($1, $2, $3, $4, $5)`,
		report.BatchID, report.Total, report.Created, report.Updated, report.Errors,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: insert batch")
	}

	rows := make([][]any, 0, len(report.PerRow))
	for _, row := range report.PerRow {
		rows = append(rows, []any{report.BatchID, row.RowIndex, string(row.Outcome), row.PublicID, row.Message})
	}
	_, err = db.CopyFrom(ctx, s.pool, "reconcile_rows",
		[]string{"batch_id", "row_index", "outcome", "public_id", "message"}, rows)
	return err
}

// WithCellLock serializes fn per coordinate cell using a transaction-level
// postgres advisory lock, so the guard holds across every process sharing the
// database. Advisory locks are session-scoped; taking the xact variant inside
// a dedicated transaction pins the lock to one connection for the whole
// sequence and releases it on commit or rollback, never leaking it back into
// the pool.
func (s *PostgresStore) WithCellLock(ctx context.Context, cellKey int64, fn func(context.Context) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin cell lock tx")
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			zap.L().Warn("postgres: rollback cell lock tx",
				zap.Int64("cell_key", cellKey),
				zap.Error(err),
			)
		}
	}()

	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", cellKey); err != nil {
		return eris.Wrap(err, "postgres: acquire cell advisory lock")
	}
	if err := fn(ctx); err != nil {
		return err
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: release cell advisory lock")
}

func collectTrees(rows pgx.Rows) ([]*model.TreeRecord, error) {
	defer rows.Close()

	var records []*model.TreeRecord
	for rows.Next() {
		rec, err := scanTreePgx(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate trees")
}

func scanTreePgx(row pgx.Row) (*model.TreeRecord, error) {
	var (
		rec          model.TreeRecord
		owner        []byte
		measurements []byte
		fruit        []byte
		status       string
		archivedAt   *time.Time
	)
	err := row.Scan(
		&rec.PublicID, &rec.DeclaredType, &rec.Location.Latitude, &rec.Location.Longitude,
		&owner, &measurements, &fruit,
		&status, &rec.Archived, &archivedAt, &rec.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "postgres: scan tree")
	}

	if err := json.Unmarshal(owner, &rec.Owner); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal owner")
	}
	if err := json.Unmarshal(measurements, &rec.Measurements); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal measurements")
	}
	if err := json.Unmarshal(fruit, &rec.Fruit); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal fruit")
	}
	rec.Status = model.Status(status)
	rec.ArchivedAt = archivedAt
	return &rec, nil
}

// encodePointEWKB encodes the record location as an EWKB POINT with SRID 4326.
func encodePointEWKB(p model.Point) ([]byte, error) {
	pt := geom.NewPointFlat(geom.XY, []float64{p.Longitude, p.Latitude}).SetSRID(4326)
	data, err := ewkb.Marshal(pt, ewkb.NDR)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: encode point")
	}
	return data, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
