package notestatus

import (
	"context"
	"crypto/rand"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/cognicore/notestatus/pkg/notestatus/classify"
	"github.com/cognicore/notestatus/pkg/notestatus/config"
	"github.com/cognicore/notestatus/pkg/notestatus/export"
	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
	"github.com/cognicore/notestatus/pkg/notestatus/pipeline"
	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/source"
	"github.com/cognicore/notestatus/pkg/notestatus/store"
	"github.com/cognicore/notestatus/pkg/notestatus/store/sqlite"
)

// Engine is the main facade: it runs the pipeline, merges results with
// earlier runs and exports the tables.
type Engine struct {
	store         store.Store
	pipeline      *pipeline.Pipeline
	features      []classify.Feature
	outputDir     string
	skipProcessed bool

	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
	now     func() time.Time
}

// Options configures an Engine
type Options struct {
	Store         store.Store // optional; without it prior output is read from OutputDir
	Pipeline      *pipeline.Pipeline
	Features      []classify.Feature
	OutputDir     string // optional; tables are written here after each run
	SkipProcessed bool   // skip notes the store already has rows for
}

// New creates an Engine with the given dependencies
func New(opts Options) *Engine {
	return &Engine{
		store:         opts.Store,
		pipeline:      opts.Pipeline,
		features:      opts.Features,
		outputDir:     opts.OutputDir,
		skipProcessed: opts.SkipProcessed,
		entropy:       ulid.Monotonic(rand.Reader, 0),
		now:           time.Now,
	}
}

// FromConfig builds an Engine from loaded configuration. The sqlite store
// is opened when the run file names one. reg may be nil.
func FromConfig(ctx context.Context, comp *config.Components, reg prometheus.Registerer) (*Engine, error) {
	run := comp.Run
	p, err := pipeline.New(pipeline.Config{
		ChunkSize:  run.ChunkSizeBytes,
		Lanes:      run.Lanes,
		Features:   comp.Features,
		ArchiveDir: comp.Path(run.ArchiveDir),
		Metrics:    pipeline.NewMetrics(reg),
	}, comp.Adapter)
	if err != nil {
		return nil, err
	}

	opts := Options{
		Pipeline:  p,
		Features:  comp.Features,
		OutputDir: comp.Path(run.OutputDir),
	}
	if run.StorePath != "" {
		st, err := sqlite.OpenSQLite(ctx, comp.Path(run.StorePath))
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		opts.Store = st
	}
	return New(opts), nil
}

// SkipProcessed makes later runs skip notes the store already has rows for.
func (e *Engine) SkipProcessed() {
	e.skipProcessed = true
}

// Close cleanly shuts down the engine
func (e *Engine) Close() error {
	if e.store == nil {
		return nil
	}
	return e.store.Close()
}

// RunResult is the outcome of Engine.Run. Notes and Encounters include
// rows merged from earlier runs.
type RunResult struct {
	ID         string
	Report     *pipeline.Report
	Notes      []result.NoteRow
	Encounters []result.EncounterRow
	Skipped    int
	Files      []string
}

func (e *Engine) newID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(e.now()), e.entropy).String()
}

// Run processes docs, merges the note rows with earlier output through the
// status reducer, records the run and exports the tables.
func (e *Engine) Run(ctx context.Context, docs []source.Document) (*RunResult, error) {
	if e.pipeline == nil {
		return nil, fmt.Errorf("engine has no pipeline: %w", internalerr.ErrInvalidConfig)
	}

	id := e.newID()
	logger := zerolog.Ctx(ctx).With().Str("run_id", id).Logger()
	ctx = logger.WithContext(ctx)
	started := e.now()

	out := &RunResult{ID: id}
	docs, skipped, err := e.pending(ctx, docs)
	if err != nil {
		return nil, err
	}
	out.Skipped = skipped
	if skipped > 0 {
		logger.Info().Int("skipped", skipped).Msg("Skipping notes already in the store")
	}

	// each run archives into its own directory
	p := e.pipeline
	if dir := p.ArchiveDir(); dir != "" {
		p = p.WithArchiveDir(filepath.Join(dir, id))
	}
	report, err := p.Run(ctx, docs)
	if err != nil {
		return nil, err
	}
	out.Report = report

	if out.Notes, err = e.merge(ctx, report.Notes); err != nil {
		return nil, err
	}
	out.Encounters = result.Encounters(out.Notes)

	if e.store != nil {
		rec := store.Run{
			ID:         id,
			StartedAt:  started,
			FinishedAt: e.now(),
			Lanes:      len(report.Lanes),
			Stats:      report.Stats,
			LaneStats:  report.Lanes,
		}
		if err := e.store.SaveRun(ctx, rec); err != nil {
			return nil, fmt.Errorf("save run: %w", err)
		}
	}

	if e.outputDir != "" {
		if out.Files, err = e.write(e.outputDir, out.Notes, out.Encounters); err != nil {
			return nil, err
		}
	}

	if report.Stats.Failures() > 0 {
		logger.Warn().
			Int("adapter_failures", report.Stats.AdapterFailures).
			Int("malformed", report.Stats.Malformed).
			Msg("Some segments defaulted to U")
	}
	return out, nil
}

// pending drops documents the store already holds when SkipProcessed is set.
func (e *Engine) pending(ctx context.Context, docs []source.Document) ([]source.Document, int, error) {
	if !e.skipProcessed || e.store == nil {
		return docs, 0, nil
	}
	done, err := e.store.ProcessedNotes(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("load processed notes: %w", err)
	}
	kept := make([]source.Document, 0, len(docs))
	for _, d := range docs {
		ref := result.NoteRef{Patient: d.Key.Patient, Encounter: d.Key.Encounter, Note: d.Key.Note}
		if _, ok := done[ref]; ok {
			continue
		}
		kept = append(kept, d)
	}
	return kept, len(docs) - len(kept), nil
}

// merge combines fresh rows with earlier output, from the store when there
// is one and from the detail tables in OutputDir otherwise.
func (e *Engine) merge(ctx context.Context, fresh []result.NoteRow) ([]result.NoteRow, error) {
	if e.store != nil {
		if err := e.store.UpsertNotes(ctx, fresh); err != nil {
			return nil, fmt.Errorf("store notes: %w", err)
		}
		return e.store.Notes(ctx)
	}
	if e.outputDir == "" {
		return fresh, nil
	}

	var prior []result.NoteRow
	for _, f := range e.features {
		rows, err := export.LoadDetail(e.outputDir, f.Name)
		if err != nil {
			return nil, fmt.Errorf("load prior %s table: %w", f.Name, err)
		}
		prior = append(prior, rows...)
	}
	if len(prior) == 0 {
		return fresh, nil
	}

	// prior rows keep precedence for first-seen metadata
	for i := range prior {
		prior[i].Seq = int64(i)
	}
	offset := int64(len(prior))
	shifted := make([]result.NoteRow, len(fresh))
	for i, r := range fresh {
		r.Seq += offset
		shifted[i] = r
	}
	return result.MergeNotes(prior, shifted), nil
}

// Export writes the tables of every feature from the store into dir.
func (e *Engine) Export(ctx context.Context, dir string) ([]string, error) {
	if e.store == nil {
		return nil, fmt.Errorf("export needs a store: %w", internalerr.ErrInvalidConfig)
	}
	notes, err := e.store.Notes(ctx)
	if err != nil {
		return nil, err
	}
	if len(notes) == 0 {
		return nil, fmt.Errorf("store has no note rows: %w", internalerr.ErrNotFound)
	}
	return e.write(dir, notes, result.Encounters(notes))
}

// Runs returns recent run records, newest first.
func (e *Engine) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	if e.store == nil {
		return nil, fmt.Errorf("no store configured: %w", internalerr.ErrInvalidConfig)
	}
	return e.store.Runs(ctx, limit)
}

func (e *Engine) write(dir string, notes []result.NoteRow, encounters []result.EncounterRow) ([]string, error) {
	var files []string
	for _, f := range e.features {
		paths, err := export.Tables(dir, f.Name, filterNotes(notes, f.ID), filterEncounters(encounters, f.ID))
		if err != nil {
			return nil, fmt.Errorf("export %s: %w", f.Name, err)
		}
		files = append(files, paths...)
	}
	return files, nil
}

func filterNotes(rows []result.NoteRow, featureID int) []result.NoteRow {
	var out []result.NoteRow
	for _, r := range rows {
		if r.FeatureID == featureID {
			out = append(out, r)
		}
	}
	return out
}

func filterEncounters(rows []result.EncounterRow, featureID int) []result.EncounterRow {
	var out []result.EncounterRow
	for _, r := range rows {
		if r.FeatureID == featureID {
			out = append(out, r)
		}
	}
	return out
}
