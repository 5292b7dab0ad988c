// Package classify maps an annotated segment to a status for one feature.
package classify

import (
	"io"
	"sort"
	"strings"

	"github.com/cognicore/notestatus/pkg/notestatus/annotation"
	"github.com/cognicore/notestatus/pkg/notestatus/status"
)

// ConceptSet is an immutable set of normalized concept codes.
type ConceptSet struct {
	codes map[string]struct{}
}

// NewConceptSet builds a set from codes. Blank codes are dropped.
func NewConceptSet(codes ...string) ConceptSet {
	m := make(map[string]struct{}, len(codes))
	for _, c := range codes {
		c = strings.TrimSpace(c)
		if c == "" {
			continue
		}
		m[c] = struct{}{}
	}
	return ConceptSet{codes: m}
}

// Contains reports whether code is in the set.
func (s ConceptSet) Contains(code string) bool {
	_, ok := s.codes[code]
	return ok
}

// Len returns the number of codes.
func (s ConceptSet) Len() int { return len(s.codes) }

// Codes returns the codes in sorted order.
func (s ConceptSet) Codes() []string {
	out := make([]string, 0, len(s.codes))
	for c := range s.codes {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Feature is one clinical feature and the row metadata exported with it.
type Feature struct {
	Name       string
	ID         int
	Code       string
	CodeType   string
	Confidence string
	Concepts   ConceptSet
}

// MentionStatus applies the rule table to a single mention.
// Combinations outside the four explicit rows, and mentions missing
// conditional or historyOf, fall through to Unknown.
func MentionStatus(m annotation.Mention) status.Status {
	if m.Conditional || m.Incomplete {
		return status.Unknown
	}
	patient := m.Subject == annotation.SubjectPatient
	switch {
	case m.Polarity == annotation.PolarityAffirmed && patient && !m.HistoryOf:
		return status.Affirmed
	case m.Polarity == annotation.PolarityNegated && patient && !m.HistoryOf:
		return status.Negated
	case m.Polarity == annotation.PolarityAffirmed && patient && m.HistoryOf:
		return status.Historical
	case m.Polarity == annotation.PolarityAffirmed && !patient && !m.HistoryOf:
		return status.NonPatient
	default:
		return status.Unknown
	}
}

// TargetIDs returns the local ids of concept nodes whose code is in set.
func TargetIDs(doc annotation.Document, set ConceptSet) map[string]struct{} {
	ids := make(map[string]struct{})
	for _, c := range doc.ConceptRefs() {
		if c.ID != "" && set.Contains(c.Code) {
			ids[c.ID] = struct{}{}
		}
	}
	return ids
}

// Classify returns the highest-priority status among the mentions in doc
// that reference a concept in set, or Unknown when none do.
func Classify(doc annotation.Document, set ConceptSet) status.Status {
	ids := TargetIDs(doc, set)
	if len(ids) == 0 {
		return status.Unknown
	}
	out := status.Unknown
	for _, m := range doc.Mentions() {
		if !m.References(ids) {
			continue
		}
		s := MentionStatus(m)
		if s == status.Affirmed {
			return status.Affirmed
		}
		out = status.Max(out, s)
	}
	return out
}

// ClassifyXMI decodes an XMI payload and classifies it. Decoding failures
// wrap internalerr.ErrMalformedAnnotation.
func ClassifyXMI(r io.Reader, set ConceptSet) (status.Status, error) {
	doc, err := annotation.ParseXMI(r)
	if err != nil {
		return status.Unknown, err
	}
	return Classify(doc, set), nil
}

// ClassifyAll classifies doc once per feature, keyed by feature name.
func ClassifyAll(doc annotation.Document, features []Feature) map[string]status.Status {
	out := make(map[string]status.Status, len(features))
	for _, f := range features {
		out[f.Name] = Classify(doc, f.Concepts)
	}
	return out
}
