// Package result holds the status rows produced by a run and the reductions
// between their levels: segment to note, note to encounter, and prior output
// to new output. Every reduction uses status.Reduce, so grouping and order of
// arrival never change the outcome.
package result

import (
	"sort"
	"time"

	"github.com/cognicore/notestatus/pkg/notestatus/status"
)

// NoteRef identifies a note independent of feature.
type NoteRef struct {
	Patient   string
	Encounter string
	Note      string
}

// NoteKey identifies one note row.
type NoteKey struct {
	NoteRef
	FeatureID int
}

// NoteRow is the status of one feature in one note.
type NoteRow struct {
	Patient     string
	Encounter   string
	Note        string
	FeatureID   int
	Date        string
	FeatureCode string
	CodeType    string
	Provider    string
	Confidence  string
	Status      status.Status

	// FailedSegments counts the segments of the note whose annotation failed
	// and were taken as U. A note with failures is not complete.
	FailedSegments int

	// Seq is the position of the note in input order. It only breaks ties
	// for first-seen metadata and is not exported.
	Seq int64
}

// Key returns the grouping key of the row.
func (r NoteRow) Key() NoteKey {
	return NoteKey{NoteRef: r.Ref(), FeatureID: r.FeatureID}
}

// Complete reports whether every segment of the note was annotated.
func (r NoteRow) Complete() bool {
	return r.FailedSegments == 0
}

// Ref returns the note the row belongs to.
func (r NoteRow) Ref() NoteRef {
	return NoteRef{Patient: r.Patient, Encounter: r.Encounter, Note: r.Note}
}

// EncounterKey identifies one encounter row.
type EncounterKey struct {
	Patient   string
	Encounter string
	FeatureID int
}

// EncounterRow is the status of one feature across all notes of an encounter.
type EncounterRow struct {
	Patient     string
	Encounter   string
	FeatureID   int
	Date        string
	FeatureCode string
	CodeType    string
	Provider    string
	Confidence  string
	Status      status.Status
}

// MergeNotes collapses rows with the same NoteKey. Status is reduced and
// FailedSegments keeps the smallest count, since one complete pass over a note
// is enough; the remaining fields come from the row with the lowest Seq.
// Output is ordered by Seq, then key.
func MergeNotes(sets ...[]NoteRow) []NoteRow {
	index := make(map[NoteKey]int)
	var out []NoteRow
	for _, rows := range sets {
		for _, r := range rows {
			k := r.Key()
			i, ok := index[k]
			if !ok {
				index[k] = len(out)
				out = append(out, r)
				continue
			}
			cur := out[i]
			merged := status.Max(cur.Status, r.Status)
			failed := min(cur.FailedSegments, r.FailedSegments)
			if r.Seq < cur.Seq {
				cur = r
			}
			cur.Status = merged
			cur.FailedSegments = failed
			out[i] = cur
		}
	}
	sortNotes(out)
	return out
}

// Encounters groups note rows by (patient, encounter, feature). Status is
// reduced, Date is the earliest note date and Provider is taken from the
// first note in input order.
func Encounters(notes []NoteRow) []EncounterRow {
	ordered := append([]NoteRow(nil), notes...)
	sortNotes(ordered)

	index := make(map[EncounterKey]int)
	var out []EncounterRow
	for _, n := range ordered {
		k := EncounterKey{Patient: n.Patient, Encounter: n.Encounter, FeatureID: n.FeatureID}
		i, ok := index[k]
		if !ok {
			index[k] = len(out)
			out = append(out, EncounterRow{
				Patient:     n.Patient,
				Encounter:   n.Encounter,
				FeatureID:   n.FeatureID,
				Date:        n.Date,
				FeatureCode: n.FeatureCode,
				CodeType:    n.CodeType,
				Provider:    n.Provider,
				Confidence:  n.Confidence,
				Status:      n.Status,
			})
			continue
		}
		e := &out[i]
		e.Status = status.Max(e.Status, n.Status)
		if EarlierDate(n.Date, e.Date) {
			e.Date = n.Date
		}
	}
	return out
}

func sortNotes(rows []NoteRow) {
	sort.SliceStable(rows, func(i, j int) bool {
		a, b := rows[i], rows[j]
		if a.Seq != b.Seq {
			return a.Seq < b.Seq
		}
		if a.Patient != b.Patient {
			return a.Patient < b.Patient
		}
		if a.Encounter != b.Encounter {
			return a.Encounter < b.Encounter
		}
		if a.Note != b.Note {
			return a.Note < b.Note
		}
		return a.FeatureID < b.FeatureID
	})
}

var dateLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02",
	"01/02/2006 15:04:05",
	"01/02/2006",
	"1/2/2006",
	"20060102",
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// EarlierDate reports whether a is strictly earlier than b. Empty dates lose
// to any non-empty date. Dates in a known layout compare chronologically,
// everything else compares as strings.
func EarlierDate(a, b string) bool {
	switch {
	case a == "":
		return false
	case b == "":
		return true
	}
	ta, okA := parseDate(a)
	tb, okB := parseDate(b)
	if okA && okB {
		return ta.Before(tb)
	}
	return a < b
}

// Stats counts what happened during a run or a single lane of one.
type Stats struct {
	Documents       int `json:"documents"`
	Segments        int `json:"segments"`
	AdapterFailures int `json:"adapter_failures"`
	Malformed       int `json:"malformed"`
}

// Add accumulates o into s.
func (s *Stats) Add(o Stats) {
	s.Documents += o.Documents
	s.Segments += o.Segments
	s.AdapterFailures += o.AdapterFailures
	s.Malformed += o.Malformed
}

// Failures is the number of segments that fell back to Unknown.
func (s Stats) Failures() int {
	return s.AdapterFailures + s.Malformed
}
