package result

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/notestatus/pkg/notestatus/status"
)

func note(p, e, n string, seq int64, date, prov string, st status.Status) NoteRow {
	return NoteRow{
		Patient: p, Encounter: e, Note: n, FeatureID: 1004,
		Date: date, Provider: prov, FeatureCode: "C0028754", CodeType: "UC", Confidence: "N",
		Status: st, Seq: seq,
	}
}

func TestEncounters(t *testing.T) {
	notes := []NoteRow{
		note("P1", "E1", "N2", 1, "2020-02-01", "D2", status.Negated),
		note("P1", "E1", "N1", 0, "2020-03-01", "D1", status.Historical),
		note("P1", "E2", "N3", 2, "2021-01-01", "D3", status.Unknown),
	}

	rows := Encounters(notes)
	require.Len(t, rows, 2)

	assert.Equal(t, "E1", rows[0].Encounter)
	assert.Equal(t, status.Negated, rows[0].Status)
	assert.Equal(t, "2020-02-01", rows[0].Date)
	assert.Equal(t, "D1", rows[0].Provider, "provider comes from the first note in input order")

	assert.Equal(t, "E2", rows[1].Encounter)
	assert.Equal(t, status.Unknown, rows[1].Status)
}

func TestEncountersOrderIndependent(t *testing.T) {
	a := note("P", "E", "N1", 0, "2020-01-05", "D1", status.Unknown)
	b := note("P", "E", "N2", 1, "2020-01-01", "D2", status.Affirmed)
	c := note("P", "E", "N3", 2, "", "D3", status.NonPatient)

	want := Encounters([]NoteRow{a, b, c})
	for _, perm := range [][]NoteRow{{c, b, a}, {b, a, c}, {c, a, b}} {
		assert.Equal(t, want, Encounters(perm))
	}
	require.Len(t, want, 1)
	assert.Equal(t, status.Affirmed, want[0].Status)
	assert.Equal(t, "2020-01-01", want[0].Date)
	assert.Equal(t, "D1", want[0].Provider)
}

func TestMergeNotes(t *testing.T) {
	prior := []NoteRow{note("P", "E", "N1", 0, "2020-01-01", "D1", status.Historical)}
	fresh := []NoteRow{
		note("P", "E", "N1", 5, "2020-01-01", "DX", status.Negated),
		note("P", "E", "N2", 6, "2020-01-02", "D2", status.Unknown),
	}

	merged := MergeNotes(prior, fresh)
	require.Len(t, merged, 2)
	assert.Equal(t, status.Negated, merged[0].Status)
	assert.Equal(t, "D1", merged[0].Provider)
	assert.Equal(t, int64(0), merged[0].Seq)

	// merging the result with either input changes nothing
	assert.Equal(t, merged, MergeNotes(merged, fresh))
	assert.Equal(t, merged, MergeNotes(prior, merged))
	assert.Equal(t, merged, MergeNotes(fresh, prior))
}

func TestMergeNotesKeepsFewestFailures(t *testing.T) {
	failed := note("P", "E", "N1", 0, "2020-01-01", "D1", status.Unknown)
	failed.FailedSegments = 2
	retried := note("P", "E", "N1", 3, "2020-01-01", "D1", status.Affirmed)

	merged := MergeNotes([]NoteRow{failed}, []NoteRow{retried})
	require.Len(t, merged, 1)
	assert.Equal(t, status.Affirmed, merged[0].Status)
	assert.Equal(t, 0, merged[0].FailedSegments)
	assert.True(t, merged[0].Complete())

	assert.False(t, MergeNotes([]NoteRow{failed})[0].Complete())
	assert.Equal(t, merged, MergeNotes([]NoteRow{retried}, []NoteRow{failed}))
}

func TestEarlierDate(t *testing.T) {
	assert.True(t, EarlierDate("2020-01-01", "2020-01-02"))
	assert.False(t, EarlierDate("2020-01-02", "2020-01-01"))
	assert.True(t, EarlierDate("12/1/2019", "1/5/2020"), "chronological, not lexical")
	assert.True(t, EarlierDate("x", ""))
	assert.False(t, EarlierDate("", "x"))
	assert.False(t, EarlierDate("same", "same"))
}

func TestStats(t *testing.T) {
	var s Stats
	s.Add(Stats{Documents: 2, Segments: 3, AdapterFailures: 1})
	s.Add(Stats{Documents: 1, Segments: 1, Malformed: 2})
	assert.Equal(t, Stats{Documents: 3, Segments: 4, AdapterFailures: 1, Malformed: 2}, s)
	assert.Equal(t, 3, s.Failures())
}
