package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/status"
	"github.com/cognicore/notestatus/pkg/notestatus/store"
)

// Store is an in-memory implementation of store.Store for tests.
type Store struct {
	mu      sync.RWMutex
	nextSeq int64
	notes   map[result.NoteKey]result.NoteRow
	runs    map[string]store.Run
}

// New creates a new in-memory store.
func New() *Store {
	return &Store{
		notes: make(map[result.NoteKey]result.NoteRow),
		runs:  make(map[string]store.Run),
	}
}

// Close implements store.Store.
func (s *Store) Close() error { return nil }

// UpsertNotes merges rows into the store. The first write of a key fixes its
// metadata and position; later writes can only raise the status and lower
// the failed segment count.
func (s *Store) UpsertNotes(ctx context.Context, rows []result.NoteRow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	ordered := append([]result.NoteRow(nil), rows...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Seq < ordered[j].Seq })

	for _, r := range ordered {
		k := r.Key()
		if cur, ok := s.notes[k]; ok {
			cur.Status = status.Max(cur.Status, r.Status)
			cur.FailedSegments = min(cur.FailedSegments, r.FailedSegments)
			s.notes[k] = cur
			continue
		}
		r.Seq = s.nextSeq
		s.nextSeq++
		s.notes[k] = r
	}
	return nil
}

// Notes returns every note row in insertion order.
func (s *Store) Notes(ctx context.Context) ([]result.NoteRow, error) {
	return s.collect(func(result.NoteRow) bool { return true }), nil
}

// NotesByFeature returns the note rows of one feature in insertion order.
func (s *Store) NotesByFeature(ctx context.Context, featureID int) ([]result.NoteRow, error) {
	return s.collect(func(r result.NoteRow) bool { return r.FeatureID == featureID }), nil
}

// ProcessedNotes returns the set of notes whose rows are all complete.
func (s *Store) ProcessedNotes(ctx context.Context) (map[result.NoteRef]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[result.NoteRef]struct{}, len(s.notes))
	failed := make(map[result.NoteRef]bool)
	for k, r := range s.notes {
		if !r.Complete() {
			failed[k.NoteRef] = true
			continue
		}
		out[k.NoteRef] = struct{}{}
	}
	for ref := range failed {
		delete(out, ref)
	}
	return out, nil
}

func (s *Store) collect(keep func(result.NoteRow) bool) []result.NoteRow {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []result.NoteRow
	for _, r := range s.notes {
		if keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

// SaveRun inserts or replaces a run record.
func (s *Store) SaveRun(ctx context.Context, r store.Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r.LaneStats = append([]result.Stats(nil), r.LaneStats...)
	s.runs[r.ID] = r
	return nil
}

// GetRun returns a run by ID.
func (s *Store) GetRun(ctx context.Context, id string) (store.Run, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.runs[id]
	return r, ok, nil
}

// Runs returns the most recent runs first.
func (s *Store) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 20
	}
	out := make([]store.Run, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r)
	}
	// ULIDs sort by creation time
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ store.Store = (*Store)(nil)
