package source

import (
	"strings"

	"golang.org/x/net/html"
)

// isXMLChar reports whether r is allowed in an XML 1.0 document.
func isXMLChar(r rune) bool {
	switch {
	case r == 0x09 || r == 0x0A || r == 0x0D:
		return true
	case r >= 0x20 && r <= 0xD7FF:
		return true
	case r >= 0xE000 && r <= 0xFFFD:
		return true
	case r >= 0x10000 && r <= 0x10FFFF:
		return true
	}
	return false
}

// ScrubXML replaces characters the annotator's XML output cannot carry with spaces.
// Invalid UTF-8 bytes decode as U+FFFD and are kept.
func ScrubXML(s string) string {
	clean := true
	for _, r := range s {
		if !isXMLChar(r) {
			clean = false
			break
		}
	}
	if clean {
		return s
	}
	return strings.Map(func(r rune) rune {
		if isXMLChar(r) {
			return r
		}
		return ' '
	}, s)
}

// StripHTML returns the text content of s. Block-level elements and <br>
// become line breaks so that chunking still sees line boundaries.
func StripHTML(s string) string {
	if !strings.Contains(s, "<") {
		return s
	}
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		// Fallback to string if parsing fails
		return s
	}

	var buf strings.Builder
	newline := true
	var extractText func(*html.Node)
	extractText = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			if n.Data == "" {
				break
			}
			buf.WriteString(n.Data)
			newline = strings.HasSuffix(n.Data, "\n")
		case html.ElementNode:
			if n.Data == "script" || n.Data == "style" {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			extractText(c)
		}
		if n.Type == html.ElementNode && breaksLine(n.Data) {
			if !newline {
				buf.WriteByte('\n')
				newline = true
			}
		}
	}
	extractText(doc)

	return buf.String()
}

func breaksLine(tag string) bool {
	switch tag {
	case "br", "p", "div", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "table":
		return true
	}
	return false
}
