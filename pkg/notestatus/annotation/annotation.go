// Package annotation defines the boundary to the external concept annotator.
//
// The core only needs two queries from an annotated segment: the concept
// reference nodes (normalized code plus a local id) and the mentions that
// point at those ids. Transport is up to the Adapter implementation.
package annotation

import (
	"context"
)

// Polarity of a mention.
type Polarity int

const (
	PolarityUnknown  Polarity = 0
	PolarityAffirmed Polarity = 1
	PolarityNegated  Polarity = -1
)

// SubjectPatient is the subject value for assertions about the patient.
const SubjectPatient = "patient"

// ConceptRef is a normalized concept node, e.g. a UMLS concept with its CUI.
type ConceptRef struct {
	ID   string // document-local id
	Code string // normalized concept code
}

// Mention is one clinical assertion made in a segment.
type Mention struct {
	Type        string
	ConceptIDs  []string
	Polarity    Polarity
	Conditional bool
	Subject     string
	HistoryOf   bool
	Confidence  float64

	// Incomplete is set when conditional or historyOf was missing or held
	// a value other than the ones the annotator writes.
	Incomplete bool
}

// References reports whether the mention points at any id in ids.
func (m Mention) References(ids map[string]struct{}) bool {
	for _, id := range m.ConceptIDs {
		if _, ok := ids[id]; ok {
			return true
		}
	}
	return false
}

// Document is the query surface of an annotated segment.
type Document interface {
	ConceptRefs() []ConceptRef
	Mentions() []Mention
}

// RawDocument is implemented by documents that keep the payload they were
// decoded from, so it can be archived.
type RawDocument interface {
	Document
	Raw() []byte
}

// Request is one segment sent to the annotator.
type Request struct {
	Name string // spool name, unique within a run
	Text []byte
}

// Adapter annotates a single segment. Implementations return errors
// wrapping internalerr.ErrAdapterFailure or internalerr.ErrMalformedAnnotation.
type Adapter interface {
	Annotate(ctx context.Context, req Request) (Document, error)
}

// AdapterFunc lets a plain function act as an Adapter.
type AdapterFunc func(ctx context.Context, req Request) (Document, error)

// Annotate implements Adapter.
func (f AdapterFunc) Annotate(ctx context.Context, req Request) (Document, error) {
	return f(ctx, req)
}

// Static is an in-memory Document, used by fakes and tests.
type Static struct {
	Concepts []ConceptRef
	Items    []Mention
}

// ConceptRefs implements Document.
func (s Static) ConceptRefs() []ConceptRef { return s.Concepts }

// Mentions implements Document.
func (s Static) Mentions() []Mention { return s.Items }
