// Package pipeline runs documents through chunking, annotation and
// classification in independent lanes, then reduces the per-note statuses
// to encounter rows once every lane has finished.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/cognicore/notestatus/pkg/notestatus/annotation"
	"github.com/cognicore/notestatus/pkg/notestatus/archive"
	"github.com/cognicore/notestatus/pkg/notestatus/chunk"
	"github.com/cognicore/notestatus/pkg/notestatus/classify"
	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
	"github.com/cognicore/notestatus/pkg/notestatus/result"
	"github.com/cognicore/notestatus/pkg/notestatus/source"
	"github.com/cognicore/notestatus/pkg/notestatus/status"
)

// Config controls a pipeline run.
type Config struct {
	ChunkSize  int
	Lanes      int
	Features   []classify.Feature
	ArchiveDir string   // optional; one tar per lane
	Metrics    *Metrics // optional
}

// Validate reports configuration errors. They wrap internalerr.ErrInvalidConfig.
func (c Config) Validate() error {
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size %d: %w", c.ChunkSize, internalerr.ErrInvalidConfig)
	}
	if c.Lanes <= 0 {
		return fmt.Errorf("lanes %d: %w", c.Lanes, internalerr.ErrInvalidConfig)
	}
	if len(c.Features) == 0 {
		return fmt.Errorf("no features: %w", internalerr.ErrInvalidConfig)
	}
	names := make(map[string]bool, len(c.Features))
	ids := make(map[int]bool, len(c.Features))
	for _, f := range c.Features {
		if f.Name == "" || names[f.Name] || ids[f.ID] {
			return fmt.Errorf("feature %q (id %d) is unnamed or duplicated: %w", f.Name, f.ID, internalerr.ErrInvalidConfig)
		}
		names[f.Name] = true
		ids[f.ID] = true
	}
	return nil
}

// Pipeline is a validated configuration bound to an annotation adapter.
type Pipeline struct {
	cfg     Config
	adapter annotation.Adapter
}

// New validates cfg and returns a pipeline.
func New(cfg Config, adapter annotation.Adapter) (*Pipeline, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, fmt.Errorf("annotation adapter required: %w", internalerr.ErrInvalidConfig)
	}
	return &Pipeline{cfg: cfg, adapter: adapter}, nil
}

// ArchiveDir is where lanes write their annotation tars, or "" when disabled.
func (p *Pipeline) ArchiveDir() string {
	return p.cfg.ArchiveDir
}

// WithArchiveDir returns a copy of p that archives into dir.
func (p *Pipeline) WithArchiveDir(dir string) *Pipeline {
	cp := *p
	cp.cfg.ArchiveDir = dir
	return &cp
}

// Report is the outcome of a run.
type Report struct {
	Notes      []result.NoteRow
	Encounters []result.EncounterRow
	Stats      result.Stats
	Lanes      []result.Stats
}

// NotesFor returns the note rows of one feature.
func (r *Report) NotesFor(featureID int) []result.NoteRow {
	var out []result.NoteRow
	for _, n := range r.Notes {
		if n.FeatureID == featureID {
			out = append(out, n)
		}
	}
	return out
}

// EncountersFor returns the encounter rows of one feature.
func (r *Report) EncountersFor(featureID int) []result.EncounterRow {
	var out []result.EncounterRow
	for _, e := range r.Encounters {
		if e.FeatureID == featureID {
			out = append(out, e)
		}
	}
	return out
}

type laneResult struct {
	notes []result.NoteRow
	stats result.Stats
}

// Run processes docs. Per-segment adapter and annotation failures are
// recovered as status U and counted; configuration, partition and I/O
// errors, and cancellation of ctx, abort the run.
func (p *Pipeline) Run(ctx context.Context, docs []source.Document) (*Report, error) {
	lanes, err := Partition(docs, p.cfg.Lanes)
	if err != nil {
		return nil, err
	}

	log := zerolog.Ctx(ctx)
	log.Info().Int("documents", len(docs)).Int("lanes", len(lanes)).Int("chunk_size", p.cfg.ChunkSize).Msg("Starting run")

	results := make([]laneResult, len(lanes))
	g, gctx := errgroup.WithContext(ctx)
	for i := range lanes {
		i := i
		g.Go(func() error {
			r, err := p.runLane(gctx, i, lanes[i])
			if err != nil {
				return fmt.Errorf("lane %d: %w", i, err)
			}
			results[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Lanes: make([]result.Stats, len(results))}
	sets := make([][]result.NoteRow, len(results))
	for i, r := range results {
		report.Lanes[i] = r.stats
		report.Stats.Add(r.stats)
		sets[i] = r.notes
		p.cfg.Metrics.recordLane(i, r.stats)
	}
	report.Notes = result.MergeNotes(sets...)
	report.Encounters = result.Encounters(report.Notes)

	log.Info().
		Int("documents", report.Stats.Documents).
		Int("segments", report.Stats.Segments).
		Int("adapter_failures", report.Stats.AdapterFailures).
		Int("malformed", report.Stats.Malformed).
		Int("encounter_rows", len(report.Encounters)).
		Msg("Run complete")
	return report, nil
}

func (p *Pipeline) runLane(ctx context.Context, lane int, items []Item) (res laneResult, err error) {
	log := zerolog.Ctx(ctx).With().Int("lane", lane).Logger()

	var arch *archive.Writer
	if p.cfg.ArchiveDir != "" {
		arch, err = archive.Create(p.cfg.ArchiveDir, lane)
		if err != nil {
			return res, err
		}
		defer func() {
			if cerr := arch.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}()
	}

	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		before := res.stats.Failures()
		statuses, err := p.processDocument(ctx, &log, arch, it.Doc, &res.stats)
		if err != nil {
			return res, err
		}
		res.notes = append(res.notes, p.noteRows(it, statuses, res.stats.Failures()-before)...)
		res.stats.Documents++
	}

	log.Debug().
		Int("documents", res.stats.Documents).
		Int("segments", res.stats.Segments).
		Int("failures", res.stats.Failures()).
		Msg("Lane finished")
	return res, nil
}

// processDocument returns the reduced status of every feature for one note.
// Features without a matching mention are absent from the map, i.e. U.
func (p *Pipeline) processDocument(ctx context.Context, log *zerolog.Logger, arch *archive.Writer, doc source.Document, stats *result.Stats) (map[string]status.Status, error) {
	segs, err := chunk.Split(doc.Lines, p.cfg.ChunkSize)
	if err != nil {
		return nil, err
	}

	acc := make(map[string]status.Status, len(p.cfg.Features))
	stem := doc.Key.Stem()
	for _, seg := range segs {
		name := seg.Name(stem)
		stats.Segments++

		start := time.Now()
		ann, err := p.adapter.Annotate(ctx, annotation.Request{Name: name, Text: seg.Bytes()})
		p.cfg.Metrics.observeCall(time.Since(start))
		if err == nil && ann == nil {
			err = fmt.Errorf("adapter returned no document: %w", internalerr.ErrMalformedAnnotation)
		}
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			kind := FailureAdapter
			if errors.Is(err, internalerr.ErrMalformedAnnotation) {
				kind = FailureMalformed
				stats.Malformed++
			} else {
				stats.AdapterFailures++
			}
			log.Warn().Err(err).
				Str("note", doc.Key.String()).
				Int("segment", seg.Index).
				Str("kind", kind).
				Msg("Segment status defaults to U")
			continue
		}

		if arch != nil {
			if raw, ok := ann.(annotation.RawDocument); ok {
				if err := arch.Add(name+annotation.SpoolSuffix, raw.Raw()); err != nil {
					return nil, err
				}
			}
		}

		for feature, st := range classify.ClassifyAll(ann, p.cfg.Features) {
			acc[feature] = status.Max(acc[feature], st)
		}
	}
	return acc, nil
}

func (p *Pipeline) noteRows(it Item, statuses map[string]status.Status, failed int) []result.NoteRow {
	k := it.Doc.Key
	rows := make([]result.NoteRow, 0, len(p.cfg.Features))
	for _, f := range p.cfg.Features {
		rows = append(rows, result.NoteRow{
			Patient:        k.Patient,
			Encounter:      k.Encounter,
			Note:           k.Note,
			FeatureID:      f.ID,
			Date:           k.Date,
			FeatureCode:    f.Code,
			CodeType:       f.CodeType,
			Provider:       k.Provider,
			Confidence:     f.Confidence,
			Status:         statuses[f.Name],
			FailedSegments: failed,
			Seq:            it.Seq,
		})
	}
	return rows
}
