package source

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
)

// Columns names the input fields that make up a note.
type Columns struct {
	Patient   string `yaml:"patient" json:"patient"`
	Encounter string `yaml:"encounter" json:"encounter"`
	Note      string `yaml:"note" json:"note"`
	Date      string `yaml:"date" json:"date"`
	Provider  string `yaml:"provider" json:"provider"`
	Text      string `yaml:"text" json:"text"`
}

// DefaultColumns match the column names of the feature extraction tables.
func DefaultColumns() Columns {
	return Columns{
		Patient:   "PatID",
		Encounter: "EncounterID",
		Note:      "NoteID",
		Date:      "Note_dt",
		Provider:  "ProviderID",
		Text:      "NoteText",
	}
}

// Options controls text preparation.
type Options struct {
	Columns   Columns
	StripHTML bool
}

// Prepare cleans note text before it is split into lines.
func (o Options) Prepare(text string) string {
	if o.StripHTML {
		text = StripHTML(text)
	}
	return ScrubXML(text)
}

func (o Options) columns() Columns {
	c := o.Columns
	d := DefaultColumns()
	if c.Patient == "" {
		c.Patient = d.Patient
	}
	if c.Encounter == "" {
		c.Encounter = d.Encounter
	}
	if c.Note == "" {
		c.Note = d.Note
	}
	if c.Date == "" {
		c.Date = d.Date
	}
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.Text == "" {
		c.Text = d.Text
	}
	return c
}

// ReadCSV reads notes from a CSV stream with a header row. Rows with a
// missing key are logged and skipped.
func ReadCSV(ctx context.Context, r io.Reader, opts Options) ([]Document, error) {
	log := zerolog.Ctx(ctx)
	cols := opts.columns()

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	pos := make(map[string]int, 6)
	for _, name := range []string{cols.Patient, cols.Encounter, cols.Note, cols.Date, cols.Provider, cols.Text} {
		i, ok := index[name]
		if !ok {
			return nil, fmt.Errorf("csv column %q missing: %w", name, internalerr.ErrInvalidInput)
		}
		pos[name] = i
	}

	field := func(rec []string, name string) string {
		if i := pos[name]; i < len(rec) {
			return rec[i]
		}
		return ""
	}

	var docs []Document
	for row := 1; ; row++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv row %d: %w", row, err)
		}
		key := Key{
			Patient:   field(rec, cols.Patient),
			Encounter: field(rec, cols.Encounter),
			Note:      field(rec, cols.Note),
			Date:      field(rec, cols.Date),
			Provider:  field(rec, cols.Provider),
		}
		if err := key.Validate(); err != nil {
			log.Warn().Int("row", row).Err(err).Msg("skipping note")
			continue
		}
		docs = append(docs, NewDocument(key, opts.Prepare(field(rec, cols.Text))))
	}
	return docs, nil
}

// LoadCSVDir reads every *.csv file under dir in name order.
func LoadCSVDir(ctx context.Context, dir string, opts Options) ([]Document, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.csv"))
	if err != nil {
		return nil, err
	}
	sort.Strings(paths)

	var docs []Document
	for _, p := range paths {
		batch, err := LoadCSV(ctx, p, opts)
		if err != nil {
			return nil, err
		}
		docs = append(docs, batch...)
	}
	return docs, nil
}

// LoadCSV reads one CSV file.
func LoadCSV(ctx context.Context, path string, opts Options) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	docs, err := ReadCSV(ctx, f, opts)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return docs, nil
}

// Item is one JSONL record.
type Item struct {
	Patient   string `json:"patient_id"`
	Encounter string `json:"encounter_id"`
	Note      string `json:"note_id"`
	Date      string `json:"note_date"`
	Provider  string `json:"provider_id"`
	Text      string `json:"text"`
}

// LoadJSONL loads notes from a JSONL file, skipping malformed lines.
func LoadJSONL(ctx context.Context, path string, opts Options) ([]Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read file %s: %w", path, err)
	}
	defer f.Close()
	return ReadJSONL(ctx, f, opts)
}

// ReadJSONL is LoadJSONL over a stream.
func ReadJSONL(ctx context.Context, r io.Reader, opts Options) ([]Document, error) {
	log := zerolog.Ctx(ctx)

	var docs []Document
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for i := 1; sc.Scan(); i++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}

		var item Item
		if err := json.Unmarshal([]byte(line), &item); err != nil {
			log.Warn().Int("line", i).Err(err).Msg("skipping malformed JSON")
			continue
		}
		key := Key{Patient: item.Patient, Encounter: item.Encounter, Note: item.Note, Date: item.Date, Provider: item.Provider}
		if err := key.Validate(); err != nil {
			log.Warn().Int("line", i).Err(err).Msg("skipping note")
			continue
		}
		docs = append(docs, NewDocument(key, opts.Prepare(item.Text)))
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}

	if len(docs) == 0 {
		return nil, fmt.Errorf("no valid notes found: %w", internalerr.ErrNotFound)
	}
	return docs, nil
}
