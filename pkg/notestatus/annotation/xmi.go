package annotation

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// Namespaces used by cTAKES XMI output.
const (
	NamespaceXMI     = "http://www.omg.org/XMI"
	NamespaceRefsem  = "http:///org/apache/ctakes/typesystem/type/refsem.ecore"
	NamespaceTextsem = "http:///org/apache/ctakes/typesystem/type/textsem.ecore"
)

// DefaultMentionTypes are the textsem element names read as mentions.
var DefaultMentionTypes = []string{"DiseaseDisorderMention"}

// XMIDocument is a Document decoded from a cTAKES XMI payload.
type XMIDocument struct {
	concepts []ConceptRef
	mentions []Mention
	raw      []byte
}

// ConceptRefs implements Document.
func (d *XMIDocument) ConceptRefs() []ConceptRef { return d.concepts }

// Mentions implements Document.
func (d *XMIDocument) Mentions() []Mention { return d.mentions }

// Raw implements RawDocument.
func (d *XMIDocument) Raw() []byte { return d.raw }

// XMIDecoder decodes XMI payloads. The zero value reads DefaultMentionTypes.
type XMIDecoder struct {
	MentionTypes []string
}

// ParseXMI decodes r with the default mention types.
func ParseXMI(r io.Reader) (*XMIDocument, error) {
	return XMIDecoder{}.Decode(r)
}

// Decode reads the whole payload and extracts concepts and mentions.
// Any XML syntax error or an empty payload is reported as a malformed annotation.
func (dec XMIDecoder) Decode(r io.Reader) (*XMIDocument, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read xmi: %w", errors.Join(internalerr.ErrMalformedAnnotation, err))
	}

	types := dec.MentionTypes
	if len(types) == 0 {
		types = DefaultMentionTypes
	}
	wanted := make(map[string]struct{}, len(types))
	for _, t := range types {
		wanted[t] = struct{}{}
	}

	doc := &XMIDocument{raw: raw}
	d := xml.NewDecoder(bytes.NewReader(raw))
	sawRoot := false
	for {
		tok, err := d.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode xmi: %w", errors.Join(internalerr.ErrMalformedAnnotation, err))
		}
		el, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		sawRoot = true

		switch {
		case el.Name.Space == NamespaceRefsem && el.Name.Local == "UmlsConcept":
			doc.concepts = append(doc.concepts, ConceptRef{
				ID:   attr(el, NamespaceXMI, "id"),
				Code: strings.TrimSpace(attr(el, "", "cui")),
			})
		case el.Name.Space == NamespaceTextsem:
			if _, ok := wanted[el.Name.Local]; ok {
				doc.mentions = append(doc.mentions, mentionFrom(el))
			}
		}
	}
	if !sawRoot {
		return nil, fmt.Errorf("decode xmi: no elements: %w", internalerr.ErrMalformedAnnotation)
	}
	return doc, nil
}

func mentionFrom(el xml.StartElement) Mention {
	m := Mention{
		Type:       el.Name.Local,
		ConceptIDs: strings.Fields(attr(el, "", "ontologyConceptArr")),
		Subject:    attr(el, "", "subject"),
	}
	switch attr(el, "", "conditional") {
	case "true":
		m.Conditional = true
	case "false":
	default:
		m.Incomplete = true
	}
	switch attr(el, "", "historyOf") {
	case "1":
		m.HistoryOf = true
	case "0":
	default:
		m.Incomplete = true
	}
	switch attr(el, "", "polarity") {
	case "1":
		m.Polarity = PolarityAffirmed
	case "-1":
		m.Polarity = PolarityNegated
	}
	if c, err := strconv.ParseFloat(attr(el, "", "confidence"), 64); err == nil {
		m.Confidence = c
	}
	return m
}

func attr(el xml.StartElement, space, local string) string {
	for _, a := range el.Attr {
		if a.Name.Local == local && a.Name.Space == space {
			return a.Value
		}
	}
	return ""
}
