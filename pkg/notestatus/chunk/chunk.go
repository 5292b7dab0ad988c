// Package chunk splits a note into byte-bounded segments without breaking lines.
package chunk

import (
	"bytes"
	"fmt"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// DefaultLimit is the segment byte budget used when none is configured.
const DefaultLimit = 5000

// Segment is a contiguous run of lines from one document.
type Segment struct {
	Index int // 1-based, document order
	Lines [][]byte
}

// Size returns the serialized byte length of the segment.
func (s Segment) Size() int {
	n := 0
	for _, l := range s.Lines {
		n += len(l)
	}
	return n
}

// Bytes concatenates the segment's lines.
func (s Segment) Bytes() []byte {
	return bytes.Join(s.Lines, nil)
}

// Name returns the spool name of the segment for a note file base name.
func (s Segment) Name(base string) string {
	return fmt.Sprintf("%s_%d", base, s.Index)
}

// SplitLines breaks data into lines that keep their trailing '\n'.
// The last line has no terminator when data does not end in one.
func SplitLines(data []byte) [][]byte {
	if len(data) == 0 {
		return nil
	}
	lines := make([][]byte, 0, bytes.Count(data, []byte{'\n'})+1)
	for len(data) > 0 {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			lines = append(lines, data)
			break
		}
		lines = append(lines, data[:i+1])
		data = data[i+1:]
	}
	return lines
}

// Split groups lines into segments of at most limit bytes.
//
// A line is never divided. A line larger than limit ends up alone in its own
// segment. Empty input produces no segments.
func Split(lines [][]byte, limit int) ([]Segment, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("chunk limit %d must be positive: %w", limit, internalerr.ErrInvalidConfig)
	}

	var (
		segments []Segment
		buf      [][]byte
		size     int
	)
	flush := func() {
		segments = append(segments, Segment{Index: len(segments) + 1, Lines: buf})
		buf = nil
		size = 0
	}

	for _, line := range lines {
		if len(buf) > 0 && size+len(line) > limit {
			flush()
		}
		buf = append(buf, line)
		size += len(line)
	}
	if len(buf) > 0 {
		flush()
	}
	return segments, nil
}

// SplitText is SplitLines followed by Split.
func SplitText(data []byte, limit int) ([]Segment, error) {
	return Split(SplitLines(data), limit)
}
