package store

import (
	"context"
	"time"

	"github.com/cognicore/notestatus/pkg/notestatus/result"
)

// Store is the main interface for persisting note statuses and run history.
// Note rows are merged with the status reducer, so writing the same rows
// twice, or writing them in a different order, leaves the same contents.
type Store interface {
	Close() error

	// Note rows
	UpsertNotes(ctx context.Context, rows []result.NoteRow) error
	Notes(ctx context.Context) ([]result.NoteRow, error)
	NotesByFeature(ctx context.Context, featureID int) ([]result.NoteRow, error)
	// ProcessedNotes returns the notes that have rows and no failed segments.
	ProcessedNotes(ctx context.Context) (map[result.NoteRef]struct{}, error)

	// Runs
	SaveRun(ctx context.Context, r Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	Runs(ctx context.Context, limit int) ([]Run, error)
}

// Run is the record of one engine run
type Run struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Lanes      int
	Stats      result.Stats
	LaneStats  []result.Stats
}
