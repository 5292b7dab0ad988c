package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	_ "modernc.org/sqlite"

	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/status"
	"github.com/cognicore/notestatus/pkg/notestatus/store"
)

// sqliteStore implements the Store interface using SQLite
type sqliteStore struct {
	db *sql.DB
}

// OpenSQLite opens a SQLite database with WAL mode enabled.
func OpenSQLite(ctx context.Context, path string) (store.Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, err
	}

	if err := initSchema(ctx, db); err != nil {
		db.Close()
		return nil, err
	}

	return &sqliteStore{db: db}, nil
}

// Close closes the database connection
func (s *sqliteStore) Close() error {
	return s.db.Close()
}

// initSchema creates tables if they don't exist.
// status holds the reducer rank (0=U .. 4=A) so MAX() is the reduction.
func initSchema(ctx context.Context, db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS note_status (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	patient_id TEXT NOT NULL,
	encounter_id TEXT NOT NULL,
	note_id TEXT NOT NULL,
	feature_id INTEGER NOT NULL,
	feature_dt TEXT,
	feature_code TEXT,
	code_type TEXT,
	provider_id TEXT,
	confidence TEXT,
	status INTEGER NOT NULL,
	failed_segments INTEGER NOT NULL DEFAULT 0,
	UNIQUE(patient_id, encounter_id, note_id, feature_id)
);

CREATE INDEX IF NOT EXISTS idx_note_status_feature ON note_status(feature_id, seq);

CREATE TABLE IF NOT EXISTS runs (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT,
	lanes INTEGER NOT NULL,
	stats TEXT NOT NULL,
	lane_stats TEXT NOT NULL
);
`

	if _, err := db.ExecContext(ctx, schema); err != nil {
		return err
	}
	return addColumn(ctx, db, "note_status", "failed_segments", "INTEGER NOT NULL DEFAULT 0")
}

// addColumn adds a column to tables created before it existed.
func addColumn(ctx context.Context, db *sql.DB, table, column, decl string) error {
	rows, err := db.QueryContext(ctx, `SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return err
		}
		if name == column {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, fmt.Sprintf(`ALTER TABLE %s ADD COLUMN %s %s`, table, column, decl))
	return err
}

// UpsertNotes merges note rows in one transaction. Existing rows keep their
// metadata and position; status is raised to the maximum of old and new and
// failed_segments lowered to the minimum.
func (s *sqliteStore) UpsertNotes(ctx context.Context, rows []result.NoteRow) error {
	if len(rows) == 0 {
		return nil
	}

	ordered := append([]result.NoteRow(nil), rows...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
INSERT INTO note_status (patient_id, encounter_id, note_id, feature_id, feature_dt, feature_code, code_type, provider_id, confidence, status, failed_segments)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(patient_id, encounter_id, note_id, feature_id) DO UPDATE SET
	status=MAX(note_status.status, excluded.status),
	failed_segments=MIN(note_status.failed_segments, excluded.failed_segments);
`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range ordered {
		if !r.Status.Valid() {
			return fmt.Errorf("note %s/%s/%s: invalid status %d", r.Patient, r.Encounter, r.Note, r.Status)
		}
		if _, err := stmt.ExecContext(ctx,
			r.Patient, r.Encounter, r.Note, r.FeatureID,
			r.Date, r.FeatureCode, r.CodeType, r.Provider, r.Confidence,
			int(r.Status), r.FailedSegments,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

const noteColumns = `seq, patient_id, encounter_id, note_id, feature_id, feature_dt, feature_code, code_type, provider_id, confidence, status, failed_segments`

// Notes returns every note row in insertion order
func (s *sqliteStore) Notes(ctx context.Context) ([]result.NoteRow, error) {
	return s.queryNotes(ctx, `SELECT `+noteColumns+` FROM note_status ORDER BY seq`)
}

// NotesByFeature returns the note rows of one feature in insertion order
func (s *sqliteStore) NotesByFeature(ctx context.Context, featureID int) ([]result.NoteRow, error) {
	return s.queryNotes(ctx, `SELECT `+noteColumns+` FROM note_status WHERE feature_id = ? ORDER BY seq`, featureID)
}

func (s *sqliteStore) queryNotes(ctx context.Context, query string, args ...interface{}) ([]result.NoteRow, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []result.NoteRow
	for rows.Next() {
		var (
			r                                result.NoteRow
			date, code, codeType, prov, conf sql.NullString
			rank                             int
		)
		if err := rows.Scan(&r.Seq, &r.Patient, &r.Encounter, &r.Note, &r.FeatureID,
			&date, &code, &codeType, &prov, &conf, &rank, &r.FailedSegments); err != nil {
			return nil, err
		}
		r.Date, r.FeatureCode, r.CodeType = date.String, code.String, codeType.String
		r.Provider, r.Confidence = prov.String, conf.String
		r.Status = status.Status(rank)
		if !r.Status.Valid() {
			return nil, fmt.Errorf("note %s/%s/%s: stored status %d out of range", r.Patient, r.Encounter, r.Note, rank)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ProcessedNotes returns the set of notes with no failed segments on any row
func (s *sqliteStore) ProcessedNotes(ctx context.Context) (map[result.NoteRef]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT patient_id, encounter_id, note_id FROM note_status
GROUP BY patient_id, encounter_id, note_id
HAVING MAX(failed_segments) = 0`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[result.NoteRef]struct{})
	for rows.Next() {
		var ref result.NoteRef
		if err := rows.Scan(&ref.Patient, &ref.Encounter, &ref.Note); err != nil {
			return nil, err
		}
		out[ref] = struct{}{}
	}
	return out, rows.Err()
}

// SaveRun inserts or updates a run record
func (s *sqliteStore) SaveRun(ctx context.Context, r store.Run) error {
	statsJSON, err := json.Marshal(r.Stats)
	if err != nil {
		return err
	}
	laneJSON, err := json.Marshal(r.LaneStats)
	if err != nil {
		return err
	}

	var finished string
	if !r.FinishedAt.IsZero() {
		finished = r.FinishedAt.UTC().Format(time.RFC3339Nano)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO runs (id, started_at, finished_at, lanes, stats, lane_stats)
VALUES (?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	started_at=excluded.started_at,
	finished_at=excluded.finished_at,
	lanes=excluded.lanes,
	stats=excluded.stats,
	lane_stats=excluded.lane_stats;
`, r.ID, r.StartedAt.UTC().Format(time.RFC3339Nano), finished, r.Lanes, string(statsJSON), string(laneJSON))
	return err
}

// GetRun returns a run by ID
func (s *sqliteStore) GetRun(ctx context.Context, id string) (store.Run, bool, error) {
	runs, err := s.queryRuns(ctx, `SELECT id, started_at, finished_at, lanes, stats, lane_stats FROM runs WHERE id = ?`, id)
	if err != nil {
		return store.Run{}, false, err
	}
	if len(runs) == 0 {
		return store.Run{}, false, nil
	}
	return runs[0], true, nil
}

// Runs returns the most recent runs first
func (s *sqliteStore) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.queryRuns(ctx, `SELECT id, started_at, finished_at, lanes, stats, lane_stats FROM runs ORDER BY id DESC LIMIT ?`, limit)
}

func (s *sqliteStore) queryRuns(ctx context.Context, query string, args ...interface{}) ([]store.Run, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []store.Run
	for rows.Next() {
		var (
			r                   store.Run
			started             string
			finished            sql.NullString
			statsJSON, laneJSON string
		)
		if err := rows.Scan(&r.ID, &started, &finished, &r.Lanes, &statsJSON, &laneJSON); err != nil {
			return nil, err
		}
		if r.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("run %s: started_at: %w", r.ID, err)
		}
		if finished.String != "" {
			if r.FinishedAt, err = time.Parse(time.RFC3339Nano, finished.String); err != nil {
				return nil, fmt.Errorf("run %s: finished_at: %w", r.ID, err)
			}
		}
		if err := json.Unmarshal([]byte(statsJSON), &r.Stats); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(laneJSON), &r.LaneStats); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
