// Package archive stores raw annotation payloads in per-lane tar files.
// A Writer belongs to exactly one lane and is not safe for concurrent use.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"
)

// FileName returns the tar file name for a lane.
func FileName(lane int) string {
	return fmt.Sprintf("annotations_%d.tar", lane)
}

// Writer appends entries to one tar file.
type Writer struct {
	f       *os.File
	tw      *tar.Writer
	entries int
	now     func() time.Time
}

// Create opens dir/annotations_<lane>.tar for writing, replacing any
// previous file.
func Create(dir string, lane int) (*Writer, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.Create(filepath.Join(dir, FileName(lane)))
	if err != nil {
		return nil, err
	}
	return &Writer{f: f, tw: tar.NewWriter(f), now: time.Now}, nil
}

// Add writes one entry.
func (w *Writer) Add(name string, data []byte) error {
	hdr := &tar.Header{
		Name:    name,
		Mode:    0o644,
		Size:    int64(len(data)),
		ModTime: w.now(),
		Format:  tar.FormatPAX,
	}
	if err := w.tw.WriteHeader(hdr); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	if _, err := w.tw.Write(data); err != nil {
		return fmt.Errorf("archive %s: %w", name, err)
	}
	w.entries++
	return nil
}

// Entries is the number of entries written so far.
func (w *Writer) Entries() int { return w.entries }

// Path is the location of the tar file.
func (w *Writer) Path() string { return w.f.Name() }

// Close flushes the tar footer and closes the file.
func (w *Writer) Close() error {
	return errors.Join(w.tw.Close(), w.f.Close())
}

// List returns the entry names of a tar file in order.
func List(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var names []string
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", path, err)
		}
		names = append(names, hdr.Name)
	}
}
