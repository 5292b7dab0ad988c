package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cognicore/notestatus/pkg/notestatus/annotation"
	"github.com/cognicore/notestatus/pkg/notestatus/classify"
	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
	"github.com/cognicore/notestatus/pkg/notestatus/source"
)

// Loader loads the run configuration and everything it points at
type Loader struct {
	RunPath string
}

// Components holds all loaded configuration components
type Components struct {
	Run      *Run
	Features []classify.Feature
	Adapter  annotation.Adapter
	Source   source.Options
	BaseDir  string
}

// Load reads the run file, then concept files relative to it, and builds the adapter
func (l *Loader) Load() (*Components, error) {
	if l.RunPath == "" {
		return nil, fmt.Errorf("run config path required: %w", internalerr.ErrInvalidConfig)
	}
	run, err := LoadRun(l.RunPath)
	if err != nil {
		return nil, fmt.Errorf("load run config: %w", err)
	}
	return Build(run, filepath.Dir(l.RunPath))
}

// Build turns a validated Run into components. Relative paths resolve against baseDir.
func Build(run *Run, baseDir string) (*Components, error) {
	comp := &Components{
		Run:     run,
		BaseDir: baseDir,
		Source: source.Options{
			Columns:   run.Source.Columns,
			StripHTML: run.Source.StripHTML,
		},
	}

	for _, f := range run.Features {
		set, err := LoadConceptSet(resolve(baseDir, f.Concepts))
		if err != nil {
			return nil, fmt.Errorf("load concepts for %s: %w", f.Name, err)
		}
		if set.Len() == 0 {
			return nil, fmt.Errorf("feature %s has no concepts: %w", f.Name, internalerr.ErrInvalidConfig)
		}
		comp.Features = append(comp.Features, classify.Feature{
			Name:       f.Name,
			ID:         f.ID,
			Code:       f.Code,
			CodeType:   f.CodeType,
			Confidence: f.Confidence,
			Concepts:   set,
		})
	}

	adapter, err := NewAdapter(run.Adapter, baseDir)
	if err != nil {
		return nil, err
	}
	comp.Adapter = adapter

	return comp, nil
}

// NewAdapter builds the annotation adapter selected by cfg.Kind
func NewAdapter(cfg Adapter, baseDir string) (annotation.Adapter, error) {
	dec := annotation.XMIDecoder{MentionTypes: cfg.MentionTypes}
	policy := annotation.RetryPolicy{Retries: cfg.Retries, Timeout: cfg.Timeout}

	switch cfg.Kind {
	case AdapterXMIDir:
		return annotation.Spool{Dir: resolve(baseDir, cfg.Dir), Decoder: dec}, nil
	case AdapterCommand:
		if cfg.Command == "" {
			return nil, fmt.Errorf("command adapter needs a command: %w", internalerr.ErrInvalidConfig)
		}
		return &annotation.Command{Path: cfg.Command, Args: cfg.Args, Policy: policy, Decoder: dec}, nil
	case AdapterHTTP:
		if cfg.URL == "" {
			return nil, fmt.Errorf("http adapter needs a url: %w", internalerr.ErrInvalidConfig)
		}
		return &annotation.HTTP{BaseURL: cfg.URL, APIKey: cfg.APIKey, Policy: policy, Decoder: dec}, nil
	default:
		return nil, fmt.Errorf("adapter kind %q: %w", cfg.Kind, internalerr.ErrInvalidConfig)
	}
}

// LoadDocuments reads notes from the configured source
func (c *Components) LoadDocuments(ctx context.Context) ([]source.Document, error) {
	if c.Run.Source.Path == "" {
		return nil, fmt.Errorf("source path required: %w", internalerr.ErrInvalidConfig)
	}
	path := c.Path(c.Run.Source.Path)
	switch c.Run.Source.Format {
	case "jsonl":
		return source.LoadJSONL(ctx, path, c.Source)
	default:
		if isDir(path) {
			return source.LoadCSVDir(ctx, path, c.Source)
		}
		return source.LoadCSV(ctx, path, c.Source)
	}
}

// Path resolves p against the directory of the run file
func (c *Components) Path(p string) string {
	return resolve(c.BaseDir, p)
}

func isDir(p string) bool {
	fi, err := os.Stat(p)
	return err == nil && fi.IsDir()
}

func resolve(baseDir, p string) string {
	if p == "" || filepath.IsAbs(p) || baseDir == "" {
		return p
	}
	return filepath.Join(baseDir, p)
}
