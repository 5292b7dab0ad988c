// Package export writes note-level and encounter-level status tables as CSV.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/status"
)

// Table headers
var (
	DetailHeader = []string{"PatID", "EncounterID", "NoteID", "FeatureID", "Feature_dt", "Feature", "FE_CodeType", "ProviderID", "Confidence", "Feature_Status"}
	FinalHeader  = []string{"PatID", "EncounterID", "FeatureID", "Feature_dt", "Feature", "FE_CodeType", "ProviderID", "Confidence", "Feature_Status"}
)

// DetailFileName is the note-level table for a feature.
func DetailFileName(feature string) string {
	return fmt.Sprintf("fe_feature_detail_table_%s.csv", feature)
}

// FinalFileName is the encounter-level table for a feature.
func FinalFileName(feature string) string {
	return fmt.Sprintf("fe_feature_table_%s.csv", feature)
}

// WriteDetail writes note rows with a header.
func WriteDetail(w io.Writer, rows []result.NoteRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(DetailHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Patient, r.Encounter, r.Note, strconv.Itoa(r.FeatureID), r.Date, r.FeatureCode, r.CodeType, r.Provider, r.Confidence, r.Status.String()}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteFinal writes encounter rows with a header.
func WriteFinal(w io.Writer, rows []result.EncounterRow) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(FinalHeader); err != nil {
		return err
	}
	for _, r := range rows {
		rec := []string{r.Patient, r.Encounter, strconv.Itoa(r.FeatureID), r.Date, r.FeatureCode, r.CodeType, r.Provider, r.Confidence, r.Status.String()}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadDetail parses a table written by WriteDetail. Seq is the row position.
func ReadDetail(r io.Reader) ([]result.NoteRow, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(DetailHeader)

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("detail header: %w", errors.Join(internalerr.ErrInvalidInput, err))
	}
	for i, h := range DetailHeader {
		if header[i] != h {
			return nil, fmt.Errorf("detail column %d is %q, want %q: %w", i, header[i], h, internalerr.ErrInvalidInput)
		}
	}

	var rows []result.NoteRow
	for seq := int64(0); ; seq++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return rows, nil
		}
		if err != nil {
			return nil, fmt.Errorf("detail row %d: %w", seq+1, errors.Join(internalerr.ErrInvalidInput, err))
		}
		id, err := strconv.Atoi(rec[3])
		if err != nil {
			return nil, fmt.Errorf("detail row %d: feature id %q: %w", seq+1, rec[3], internalerr.ErrInvalidInput)
		}
		st, err := status.Parse(rec[9])
		if err != nil {
			return nil, fmt.Errorf("detail row %d: %w", seq+1, err)
		}
		rows = append(rows, result.NoteRow{
			Patient: rec[0], Encounter: rec[1], Note: rec[2], FeatureID: id,
			Date: rec[4], FeatureCode: rec[5], CodeType: rec[6], Provider: rec[7], Confidence: rec[8],
			Status: st, Seq: seq,
		})
	}
}

// LoadDetail reads dir's detail table for feature. A missing file is not an error.
func LoadDetail(dir, feature string) ([]result.NoteRow, error) {
	f, err := os.Open(filepath.Join(dir, DetailFileName(feature)))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadDetail(f)
}

// Tables writes both tables of one feature into dir and returns their paths.
// Each file is written to a temporary name first and renamed into place.
func Tables(dir, feature string, notes []result.NoteRow, encounters []result.EncounterRow) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	detail := filepath.Join(dir, DetailFileName(feature))
	if err := writeFile(detail, func(w io.Writer) error { return WriteDetail(w, notes) }); err != nil {
		return nil, err
	}
	final := filepath.Join(dir, FinalFileName(feature))
	if err := writeFile(final, func(w io.Writer) error { return WriteFinal(w, encounters) }); err != nil {
		return nil, err
	}
	return []string{detail, final}, nil
}

func writeFile(path string, write func(io.Writer) error) error {
	f, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	if err := write(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}
