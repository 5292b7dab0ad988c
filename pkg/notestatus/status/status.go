// Package status defines the clinical status alphabet and its reduction.
//
// The alphabet is totally ordered, highest priority first:
//
//	A  affirmed, current, patient
//	N  negated, current, patient
//	H  affirmed, historical, patient
//	X  affirmed, someone other than the patient
//	U  unknown or no matching mention
//
// Reduction is max under that order, which makes it associative,
// commutative and idempotent. U is the identity and A absorbs everything.
package status

import (
	"fmt"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// Status is one symbol of the alphabet. The zero value is Unknown.
type Status uint8

// Values are ranks; a larger value wins a reduction.
const (
	Unknown Status = iota
	NonPatient
	Historical
	Negated
	Affirmed
)

// All lists every status from lowest to highest priority.
var All = []Status{Unknown, NonPatient, Historical, Negated, Affirmed}

var symbols = [...]string{
	Unknown:    "U",
	NonPatient: "X",
	Historical: "H",
	Negated:    "N",
	Affirmed:   "A",
}

// String returns the single-letter symbol.
func (s Status) String() string {
	if int(s) < len(symbols) {
		return symbols[s]
	}
	return fmt.Sprintf("Status(%d)", uint8(s))
}

// Valid reports whether s is a member of the alphabet.
func (s Status) Valid() bool {
	return s <= Affirmed
}

// Parse converts a symbol back into a Status.
func Parse(sym string) (Status, error) {
	for i, v := range symbols {
		if v == sym {
			return Status(i), nil
		}
	}
	return Unknown, fmt.Errorf("status %q: %w", sym, internalerr.ErrInvalidInput)
}

// Max returns the higher-priority status.
func Max(a, b Status) Status {
	if a > b {
		return a
	}
	return b
}

// Reduce folds statuses with Max. An empty input reduces to Unknown.
func Reduce(statuses ...Status) Status {
	out := Unknown
	for _, s := range statuses {
		if s == Affirmed {
			return Affirmed
		}
		out = Max(out, s)
	}
	return out
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("status %d: %w", uint8(s), internalerr.ErrInvalidInput)
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Status) UnmarshalText(b []byte) error {
	v, err := Parse(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
