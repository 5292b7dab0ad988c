// Package source reads clinical notes into Documents.
package source

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cognicore/notestatus/pkg/notestatus/chunk"
	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// Key identifies one note.
type Key struct {
	Patient   string
	Encounter string
	Note      string
	Date      string
	Provider  string
}

// EncounterKey identifies the encounter a note belongs to.
type EncounterKey struct {
	Patient   string
	Encounter string
}

// EncounterKey returns the encounter part of the key.
func (k Key) EncounterKey() EncounterKey {
	return EncounterKey{Patient: k.Patient, Encounter: k.Encounter}
}

// FileName renders the key in the "{patient}_{encounter}_{note}_{date}_{provider}.txt" form.
func (k Key) FileName() string {
	return k.Stem() + ".txt"
}

// Stem is FileName without the extension; segment names are built from it.
func (k Key) Stem() string {
	return strings.Join([]string{k.Patient, k.Encounter, k.Note, k.Date, k.Provider}, "_")
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Patient, k.Encounter, k.Note)
}

// Validate checks the key fields used for grouping.
func (k Key) Validate() error {
	if strings.TrimSpace(k.Patient) == "" {
		return errors.New("patient id is required")
	}
	if strings.TrimSpace(k.Encounter) == "" {
		return errors.New("encounter id is required")
	}
	if strings.TrimSpace(k.Note) == "" {
		return errors.New("note id is required")
	}
	return nil
}

// ParseFileName is the inverse of FileName. A trailing "_<segment>" part, as
// written by segment spooling, is accepted and ignored.
func ParseFileName(name string) (Key, error) {
	name = strings.TrimSuffix(name, ".xmi")
	name = strings.TrimSuffix(name, ".txt")
	parts := strings.Split(name, "_")
	switch len(parts) {
	case 5:
	case 6:
		parts = parts[:5]
		parts[4] = strings.TrimSuffix(parts[4], ".txt")
	default:
		return Key{}, fmt.Errorf("unexpected note file name %q: %w", name, internalerr.ErrInvalidInput)
	}
	return Key{Patient: parts[0], Encounter: parts[1], Note: parts[2], Date: parts[3], Provider: parts[4]}, nil
}

// Document is one note split into byte-preserving lines.
type Document struct {
	Key   Key
	Lines [][]byte
}

// NewDocument splits text into lines and wraps it with key.
func NewDocument(key Key, text string) Document {
	return Document{Key: key, Lines: chunk.SplitLines([]byte(text))}
}

// Size returns the byte length of the note.
func (d Document) Size() int {
	n := 0
	for _, l := range d.Lines {
		n += len(l)
	}
	return n
}
