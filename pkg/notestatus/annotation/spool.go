package annotation

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// SpoolSuffix is appended to a segment name by batch annotators writing XMI.
const SpoolSuffix = ".txt.xmi"

// Spool reads annotations that a batch annotator already wrote to a directory,
// one "<segment name>.txt.xmi" file per segment. Segment "<note>_<k>" is also
// found as "<note>.txt_<k>.txt.xmi", the name a batch run over chunked note
// files ("<note>.txt_<k>.txt") produces.
type Spool struct {
	Dir     string
	Decoder XMIDecoder
}

// Path returns the file Spool reads for a segment name.
func (s Spool) Path(name string) string {
	return filepath.Join(s.Dir, name+SpoolSuffix)
}

// ChunkFilePath returns the "<note>.txt_<k>.txt.xmi" path for a segment name,
// or "" when name has no segment number.
func (s Spool) ChunkFilePath(name string) string {
	i := strings.LastIndex(name, "_")
	if i <= 0 {
		return ""
	}
	return filepath.Join(s.Dir, name[:i]+".txt"+name[i:]+SpoolSuffix)
}

func (s Spool) open(name string) (*os.File, error) {
	f, err := os.Open(s.Path(name))
	if !errors.Is(err, os.ErrNotExist) {
		return f, err
	}
	if alt := s.ChunkFilePath(name); alt != "" {
		if f, altErr := os.Open(alt); !errors.Is(altErr, os.ErrNotExist) {
			return f, altErr
		}
	}
	return nil, err
}

// Annotate implements Adapter.
func (s Spool) Annotate(ctx context.Context, req Request) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Join(internalerr.ErrAdapterFailure, err)
	}
	f, err := s.open(req.Name)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("spool %s: %w", req.Name, errors.Join(internalerr.ErrAdapterFailure, internalerr.ErrNotFound))
		}
		return nil, fmt.Errorf("spool %s: %w", req.Name, errors.Join(internalerr.ErrAdapterFailure, err))
	}
	defer f.Close()

	doc, err := s.Decoder.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("spool %s: %w", req.Name, err)
	}
	return doc, nil
}

// WriteSegment stores segment text as "<name>.txt" under dir for a batch annotator.
func WriteSegment(dir string, req Request) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, req.Name+".txt")
	if err := os.WriteFile(path, req.Text, 0o644); err != nil {
		return "", err
	}
	return path, nil
}
