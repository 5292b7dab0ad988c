package pipeline

import (
	"fmt"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/source"
)

// Item is a document with its position in the input.
type Item struct {
	Seq int64
	Doc source.Document
}

// Partition assigns documents to lanes round-robin by input position. The
// assignment is fixed before any lane starts. A note key that occurs twice
// fails with ErrPartitionIntegrity, since the two copies could land in
// different lanes.
func Partition(docs []source.Document, lanes int) ([][]Item, error) {
	if lanes <= 0 {
		return nil, fmt.Errorf("lanes %d: %w", lanes, internalerr.ErrInvalidConfig)
	}

	out := make([][]Item, lanes)
	seen := make(map[result.NoteRef]int, len(docs))
	for i, d := range docs {
		ref := result.NoteRef{Patient: d.Key.Patient, Encounter: d.Key.Encounter, Note: d.Key.Note}
		if prev, ok := seen[ref]; ok {
			return nil, fmt.Errorf("note %s at positions %d and %d: %w", d.Key, prev, i, internalerr.ErrPartitionIntegrity)
		}
		seen[ref] = i
		lane := i % lanes
		out[lane] = append(out[lane], Item{Seq: int64(i), Doc: d})
	}

	assigned := 0
	for _, l := range out {
		assigned += len(l)
	}
	if assigned != len(docs) {
		return nil, fmt.Errorf("%d of %d documents assigned: %w", assigned, len(docs), internalerr.ErrPartitionIntegrity)
	}
	return out, nil
}
