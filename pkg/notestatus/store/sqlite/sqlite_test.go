package sqlite

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/status"
	"github.com/cognicore/notestatus/pkg/notestatus/store"
)

func row(note string, feature int, seq int64, st status.Status) result.NoteRow {
	return result.NoteRow{
		Patient: "P1", Encounter: "E1", Note: note, FeatureID: feature,
		Date: "2020-01-01", FeatureCode: "C0028754", CodeType: "UC",
		Provider: "D" + note, Confidence: "N", Status: st, Seq: seq,
	}
}

func openTest(t *testing.T) store.Store {
	t.Helper()
	st, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st
}

// TestUpsertNotesMerge tests that re-writing rows only raises status
func TestUpsertNotesMerge(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	first := []result.NoteRow{
		row("N2", 1004, 1, status.Historical),
		row("N1", 1004, 0, status.Unknown),
		row("N1", 1005, 0, status.Negated),
	}
	if err := st.UpsertNotes(ctx, first); err != nil {
		t.Fatalf("UpsertNotes: %v", err)
	}

	second := []result.NoteRow{
		row("N1", 1004, 0, status.Affirmed),
		row("N2", 1004, 1, status.NonPatient),
	}
	second[0].Provider = "someone else"
	if err := st.UpsertNotes(ctx, second); err != nil {
		t.Fatalf("UpsertNotes: %v", err)
	}

	rows, err := st.NotesByFeature(ctx, 1004)
	if err != nil {
		t.Fatalf("NotesByFeature: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Note != "N1" || rows[0].Status != status.Affirmed {
		t.Errorf("N1 should be first and affirmed, got %s %s", rows[0].Note, rows[0].Status)
	}
	if rows[0].Provider != "DN1" {
		t.Errorf("Metadata should come from the first write, got %q", rows[0].Provider)
	}
	if rows[1].Note != "N2" || rows[1].Status != status.Historical {
		t.Errorf("N2 should stay historical, got %s %s", rows[1].Note, rows[1].Status)
	}

	all, err := st.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("Expected 3 rows, got %d", len(all))
	}
}

// TestUpsertNotesIdempotent tests that the same batch twice leaves the same table
func TestUpsertNotesIdempotent(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	batch := []result.NoteRow{row("N1", 1004, 0, status.Negated), row("N2", 1004, 1, status.Unknown)}
	for i := 0; i < 2; i++ {
		if err := st.UpsertNotes(ctx, batch); err != nil {
			t.Fatalf("UpsertNotes: %v", err)
		}
	}

	rows, err := st.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Expected 2 rows, got %d", len(rows))
	}
	if rows[0].Status != status.Negated || rows[1].Status != status.Unknown {
		t.Errorf("Unexpected statuses: %s %s", rows[0].Status, rows[1].Status)
	}

	refs, err := st.ProcessedNotes(ctx)
	if err != nil {
		t.Fatalf("ProcessedNotes: %v", err)
	}
	if len(refs) != 2 {
		t.Errorf("Expected 2 processed notes, got %d", len(refs))
	}
	if _, ok := refs[result.NoteRef{Patient: "P1", Encounter: "E1", Note: "N2"}]; !ok {
		t.Error("N2 should be processed")
	}
}

func TestUpsertNotesRejectsInvalidStatus(t *testing.T) {
	st := openTest(t)
	bad := row("N1", 1004, 0, status.Status(9))
	if err := st.UpsertNotes(context.Background(), []result.NoteRow{bad}); err == nil {
		t.Error("Expected error for out-of-range status")
	}
}

// TestRuns tests run records round trip and ordering
func TestRuns(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	started := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	older := store.Run{ID: "01HX0000000000000000000000", StartedAt: started, Lanes: 2}
	newer := store.Run{
		ID:         "01HX0000000000000000000001",
		StartedAt:  started.Add(time.Hour),
		FinishedAt: started.Add(2 * time.Hour),
		Lanes:      2,
		Stats:      result.Stats{Documents: 3, Segments: 5, AdapterFailures: 1},
		LaneStats:  []result.Stats{{Documents: 2, Segments: 3, AdapterFailures: 1}, {Documents: 1, Segments: 2}},
	}
	for _, r := range []store.Run{older, newer} {
		if err := st.SaveRun(ctx, r); err != nil {
			t.Fatalf("SaveRun: %v", err)
		}
	}

	got, ok, err := st.GetRun(ctx, newer.ID)
	if err != nil || !ok {
		t.Fatalf("GetRun: ok=%v err=%v", ok, err)
	}
	if !got.FinishedAt.Equal(newer.FinishedAt) {
		t.Errorf("FinishedAt mismatch: %v", got.FinishedAt)
	}
	if got.Stats != newer.Stats {
		t.Errorf("Stats mismatch: %+v", got.Stats)
	}
	if len(got.LaneStats) != 2 || got.LaneStats[0].AdapterFailures != 1 {
		t.Errorf("Lane stats mismatch: %+v", got.LaneStats)
	}

	if _, ok, _ := st.GetRun(ctx, "missing"); ok {
		t.Error("Missing run should not be found")
	}

	runs, err := st.Runs(ctx, 10)
	if err != nil {
		t.Fatalf("Runs: %v", err)
	}
	if len(runs) != 2 || runs[0].ID != newer.ID {
		t.Errorf("Expected newest run first, got %+v", runs)
	}
	if !runs[1].FinishedAt.IsZero() {
		t.Error("Unfinished run should have zero FinishedAt")
	}
}

// TestReopen tests that data survives closing the database
func TestReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "reopen.db")

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	if err := st.UpsertNotes(ctx, []result.NoteRow{row("N1", 1004, 0, status.Historical)}); err != nil {
		t.Fatalf("UpsertNotes: %v", err)
	}
	st.Close()

	st, err = OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st.Close()

	rows, err := st.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != status.Historical {
		t.Errorf("Unexpected rows after reopen: %+v", rows)
	}
}

// TestProcessedNotesSkipsFailures tests that notes with failed segments stay
// pending until a complete pass is stored
func TestProcessedNotesSkipsFailures(t *testing.T) {
	ctx := context.Background()
	st := openTest(t)

	failed := row("N1", 1004, 0, status.Unknown)
	failed.FailedSegments = 2
	if err := st.UpsertNotes(ctx, []result.NoteRow{failed, row("N2", 1004, 1, status.Negated)}); err != nil {
		t.Fatalf("UpsertNotes: %v", err)
	}

	refs, err := st.ProcessedNotes(ctx)
	if err != nil {
		t.Fatalf("ProcessedNotes: %v", err)
	}
	if len(refs) != 1 {
		t.Fatalf("Expected 1 processed note, got %d", len(refs))
	}
	if _, ok := refs[result.NoteRef{Patient: "P1", Encounter: "E1", Note: "N1"}]; ok {
		t.Error("N1 had failed segments and should not be processed")
	}

	// failing again keeps it pending, a complete pass clears it
	again := failed
	again.FailedSegments = 1
	if err := st.UpsertNotes(ctx, []result.NoteRow{again}); err != nil {
		t.Fatalf("UpsertNotes: %v", err)
	}
	rows, _ := st.NotesByFeature(ctx, 1004)
	if rows[0].FailedSegments != 1 {
		t.Errorf("Expected the smaller failure count, got %d", rows[0].FailedSegments)
	}

	if err := st.UpsertNotes(ctx, []result.NoteRow{row("N1", 1004, 0, status.Affirmed)}); err != nil {
		t.Fatalf("UpsertNotes: %v", err)
	}
	refs, _ = st.ProcessedNotes(ctx)
	if len(refs) != 2 {
		t.Errorf("Expected 2 processed notes after the retry, got %d", len(refs))
	}
	rows, _ = st.NotesByFeature(ctx, 1004)
	if rows[0].Status != status.Affirmed || rows[0].FailedSegments != 0 {
		t.Errorf("Unexpected retried row: %+v", rows[0])
	}
}

// TestOpenAddsFailedSegmentsColumn tests that databases written before
// failure tracking are upgraded in place
func TestOpenAddsFailedSegmentsColumn(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("sql.Open: %v", err)
	}
	_, err = db.ExecContext(ctx, `
CREATE TABLE note_status (
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
	UNIQUE(patient_id, encounter_id, note_id, feature_id)
);
INSERT INTO note_status (patient_id, encounter_id, note_id, feature_id, status) VALUES ('P1', 'E1', 'N1', 1004, 3);
`)
	db.Close()
	if err != nil {
		t.Fatalf("create old schema: %v", err)
	}

	st, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	defer st.Close()

	rows, err := st.Notes(ctx)
	if err != nil {
		t.Fatalf("Notes: %v", err)
	}
	if len(rows) != 1 || rows[0].Status != status.Negated || rows[0].FailedSegments != 0 {
		t.Errorf("Unexpected rows after upgrade: %+v", rows)
	}
	refs, _ := st.ProcessedNotes(ctx)
	if len(refs) != 1 {
		t.Errorf("Expected the old row to count as processed, got %d", len(refs))
	}
}
