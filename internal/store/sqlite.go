package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/groveworks/canopy/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. It is the local and
// offline backend; cell locking degrades to an in-process keyed mutex, which
// is sufficient because sqlite deployments are single-process.
type SQLiteStore struct {
	db *sql.DB

	mu    sync.Mutex
	cells map[int64]*sync.Mutex
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
	return &SQLiteStore{db: db, cells: make(map[int64]*sync.Mutex)}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS trees (
	public_id       TEXT PRIMARY KEY,
	declared_type   TEXT NOT NULL,
	latitude        REAL NOT NULL,
	longitude       REAL NOT NULL,
	owner           TEXT NOT NULL,
	measurements    TEXT NOT NULL,
	fruit           TEXT NOT NULL,
	status          TEXT NOT NULL DEFAULT 'healthy',
	archived        INTEGER NOT NULL DEFAULT 0,
	archived_at     DATETIME,
	last_updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS observations (
	id            TEXT PRIMARY KEY,
	tree_ref      TEXT NOT NULL REFERENCES trees(public_id),
	captured_at   DATETIME NOT NULL,
	gps           TEXT NOT NULL,
	declared_type TEXT NOT NULL,
	verdict       TEXT,
	notes         TEXT
);

CREATE TABLE IF NOT EXISTS reconcile_batches (
	id         TEXT PRIMARY KEY,
	total      INTEGER NOT NULL,
	created    INTEGER NOT NULL,
	updated    INTEGER NOT NULL,
	errors     INTEGER NOT NULL,
	created_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS reconcile_rows (
	batch_id  TEXT NOT NULL REFERENCES reconcile_batches(id),
	row_index INTEGER NOT NULL,
	outcome   TEXT NOT NULL,
	public_id TEXT,
	message   TEXT
);

CREATE INDEX IF NOT EXISTS idx_trees_archived ON trees(archived);
CREATE INDEX IF NOT EXISTS idx_trees_declared_type ON trees(declared_type);
CREATE INDEX IF NOT EXISTS idx_observations_tree_ref ON observations(tree_ref);
CREATE INDEX IF NOT EXISTS idx_reconcile_rows_batch ON reconcile_rows(batch_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateTree(ctx context.Context, rec *model.TreeRecord) error {
	owner, measurements, fruit, err := marshalTreeBlobs(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trees (
			public_id, declared_type, latitude, longitude,
			owner, measurements, fruit,
			status, archived, archived_at, last_updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.PublicID, rec.DeclaredType, rec.Location.Latitude, rec.Location.Longitude,
		owner, measurements, fruit,
		string(rec.Status), boolToInt(rec.Archived), rec.ArchivedAt, rec.LastUpdatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return eris.Wrapf(ErrDuplicateIdentifier, "sqlite: public_id %s", rec.PublicID)
		}
		return eris.Wrap(err, "sqlite: insert tree")
	}
	return nil
}

func (s *SQLiteStore) UpdateTree(ctx context.Context, rec *model.TreeRecord) error {
	owner, measurements, fruit, err := marshalTreeBlobs(rec)
	if err != nil {
		return err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE trees SET
			declared_type = ?, latitude = ?, longitude = ?,
			owner = ?, measurements = ?, fruit = ?,
			status = ?, archived = ?, archived_at = ?, last_updated_at = ?
		WHERE public_id = ?`,
		rec.DeclaredType, rec.Location.Latitude, rec.Location.Longitude,
		owner, measurements, fruit,
		string(rec.Status), boolToInt(rec.Archived), rec.ArchivedAt, rec.LastUpdatedAt,
		rec.PublicID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update tree %s", rec.PublicID)
	}
	return checkRowsAffected(res, rec.PublicID)
}

func (s *SQLiteStore) GetTreeByPublicID(ctx context.Context, publicID string) (*model.TreeRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT public_id, declared_type, latitude, longitude,
		       owner, measurements, fruit,
		       status, archived, archived_at, last_updated_at
		FROM trees WHERE public_id = ?`,
		publicID,
	)
	rec, err := scanTree(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return rec, err
}

func (s *SQLiteStore) ListActiveTrees(ctx context.Context) ([]*model.TreeRecord, error) {
	return s.listTrees(ctx, `
		SELECT public_id, declared_type, latitude, longitude,
		       owner, measurements, fruit,
		       status, archived, archived_at, last_updated_at
		FROM trees WHERE archived = 0 ORDER BY public_id`)
}

func (s *SQLiteStore) ListTrees(ctx context.Context, filter TreeFilter) ([]*model.TreeRecord, error) {
	query := `
		SELECT public_id, declared_type, latitude, longitude,
		       owner, measurements, fruit,
		       status, archived, archived_at, last_updated_at
		FROM trees WHERE 1=1`
	var args []any

	if !filter.IncludeArchived {
		query += ` AND archived = 0`
	}
	if filter.DeclaredType != "" {
		query += ` AND declared_type = ? COLLATE NOCASE`
		args = append(args, filter.DeclaredType)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, filter.Status)
	}
	query += ` ORDER BY public_id`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	return s.listTrees(ctx, query, args...)
}

func (s *SQLiteStore) listTrees(ctx context.Context, query string, args ...any) ([]*model.TreeRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list trees")
	}
	defer rows.Close()

	var records []*model.TreeRecord
	for rows.Next() {
		rec, err := scanTree(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: iterate trees")
}

func (s *SQLiteStore) ArchiveTree(ctx context.Context, publicID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE trees SET archived = 1, status = ?, archived_at = ?, last_updated_at = ?
		WHERE public_id = ?`,
		string(model.StatusArchived), at, at, publicID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: archive tree %s", publicID)
	}
	return checkRowsAffected(res, publicID)
}

func (s *SQLiteStore) AppendObservation(ctx context.Context, obs *model.Observation) error {
	gps, err := json.Marshal(obs.GPS)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal gps")
	}
	var verdict any
	if obs.Verdict != nil {
		data, err := json.Marshal(obs.Verdict)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal verdict")
		}
		verdict = string(data)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO observations (id, tree_ref, captured_at, gps, declared_type, verdict, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		obs.ID, obs.TreeRef, obs.CapturedAt, string(gps), obs.DeclaredType, verdict, obs.Notes,
	)
	return eris.Wrap(err, "sqlite: insert observation")
}

func (s *SQLiteStore) ListObservations(ctx context.Context, treeRef string, limit int) ([]model.Observation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tree_ref, captured_at, gps, declared_type, verdict, notes
		FROM observations WHERE tree_ref = ? ORDER BY captured_at DESC LIMIT ?`,
		treeRef, limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list observations")
	}
	defer rows.Close()

	var observations []model.Observation
	for rows.Next() {
		var (
			obs     model.Observation
			gps     string
			verdict sql.NullString
			notes   sql.NullString
		)
		if err := rows.Scan(&obs.ID, &obs.TreeRef, &obs.CapturedAt, &gps, &obs.DeclaredType, &verdict, &notes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan observation")
		}
		if err := json.Unmarshal([]byte(gps), &obs.GPS); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal gps")
		}
		if verdict.Valid && verdict.String != "" {
			obs.Verdict = &model.ClassificationVerdict{}
			if err := json.Unmarshal([]byte(verdict.String), obs.Verdict); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal verdict")
			}
		}
		obs.Notes = notes.String
		observations = append(observations, obs)
	}
	return observations, eris.Wrap(rows.Err(), "sqlite: iterate observations")
}

func (s *SQLiteStore) SaveReconcileReport(ctx context.Context, report *model.ReconcileReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin report tx")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO reconcile_batches (id, total, created, updated, errors)
		VALUES (?, ?, ?, ?, ?)`,
		report.BatchID, report.Total, report.Created, report.Updated, report.Errors,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert batch")
	}

	for _, row := range report.PerRow {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO reconcile_rows (batch_id, row_index, outcome, public_id, message)
			VALUES (?, ?, ?, ?, ?)`,
			report.BatchID, row.RowIndex, string(row.Outcome), row.PublicID, row.Message,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert batch row")
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit report")
}

// WithCellLock serializes fn per coordinate cell with an in-process keyed
// mutex.
func (s *SQLiteStore) WithCellLock(ctx context.Context, cellKey int64, fn func(context.Context) error) error {
	s.mu.Lock()
	cell, ok := s.cells[cellKey]
	if !ok {
		cell = &sync.Mutex{}
		s.cells[cellKey] = cell
	}
	s.mu.Unlock()

	cell.Lock()
	defer cell.Unlock()
	return fn(ctx)
}

func marshalTreeBlobs(rec *model.TreeRecord) (owner, measurements, fruit string, err error) {
	o, err := json.Marshal(rec.Owner)
	if err != nil {
		return "", "", "", eris.Wrap(err, "sqlite: marshal owner")
	}
	m, err := json.Marshal(rec.Measurements)
	if err != nil {
		return "", "", "", eris.Wrap(err, "sqlite: marshal measurements")
	}
	f, err := json.Marshal(rec.Fruit)
	if err != nil {
		return "", "", "", eris.Wrap(err, "sqlite: marshal fruit")
	}
	return string(o), string(m), string(f), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTree(row rowScanner) (*model.TreeRecord, error) {
	var (
		rec          model.TreeRecord
		owner        string
		measurements string
		fruit        string
		status       string
		archived     int
		archivedAt   sql.NullTime
	)
	err := row.Scan(
		&rec.PublicID, &rec.DeclaredType, &rec.Location.Latitude, &rec.Location.Longitude,
		&owner, &measurements, &fruit,
		&status, &archived, &archivedAt, &rec.LastUpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, eris.Wrap(err, "sqlite: scan tree")
	}

	if err := json.Unmarshal([]byte(owner), &rec.Owner); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal owner")
	}
	if err := json.Unmarshal([]byte(measurements), &rec.Measurements); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal measurements")
	}
	if err := json.Unmarshal([]byte(fruit), &rec.Fruit); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal fruit")
	}
	rec.Status = model.Status(status)
	rec.Archived = archived != 0
	if archivedAt.Valid {
		rec.ArchivedAt = &archivedAt.Time
	}
	return &rec, nil
}

func checkRowsAffected(res sql.Result, publicID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "tree %s", publicID)
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
