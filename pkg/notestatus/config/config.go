package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/notestatus/pkg/notestatus/chunk"
	"github.com/cognicore/notestatus/pkg/notestatus/classify"
	"github.com/cognicore/notestatus/pkg/notestatus/internalerr"
	"github.com/cognicore/notestatus/pkg/notestatus/source"
)

// Adapter kinds
const (
	AdapterXMIDir  = "xmi_dir"
	AdapterCommand = "command"
	AdapterHTTP    = "http"
)

// Run represents the run configuration file
type Run struct {
	ChunkSizeBytes int       `yaml:"chunk_size_bytes" validate:"gt=0"`
	Lanes          int       `yaml:"lanes" validate:"gt=0"`
	StorePath      string    `yaml:"store_path"`
	OutputDir      string    `yaml:"output_dir"`
	ArchiveDir     string    `yaml:"archive_dir"`
	Source         Source    `yaml:"source"`
	Adapter        Adapter   `yaml:"adapter"`
	Features       []Feature `yaml:"features" validate:"min=1,unique=Name,unique=ID,dive"`
}

// Source selects where notes are read from
type Source struct {
	Format    string         `yaml:"format" validate:"omitempty,oneof=csv jsonl"`
	Path      string         `yaml:"path"`
	Columns   source.Columns `yaml:"columns"`
	StripHTML bool           `yaml:"strip_html"`
}

// Adapter configures the annotation adapter
type Adapter struct {
	Kind         string        `yaml:"kind" validate:"oneof=xmi_dir command http"`
	Dir          string        `yaml:"dir" validate:"required_if=Kind xmi_dir"`
	Command      string        `yaml:"command" validate:"required_if=Kind command"`
	Args         []string      `yaml:"args"`
	URL          string        `yaml:"url" validate:"required_if=Kind http"`
	APIKey       string        `yaml:"api_key"`
	Timeout      time.Duration `yaml:"timeout" validate:"gte=0"`
	Retries      int           `yaml:"retries" validate:"gte=0,lte=100"`
	MentionTypes []string      `yaml:"mention_types"`
}

// Feature describes one clinical feature and its concept file
type Feature struct {
	Name       string `yaml:"name" validate:"required"`
	ID         int    `yaml:"id" validate:"gt=0"`
	Code       string `yaml:"code"`
	CodeType   string `yaml:"code_type"`
	Confidence string `yaml:"confidence"`
	Concepts   string `yaml:"concepts" validate:"required"`
}

// Defaults
const (
	DefaultLanes      = 1
	DefaultTimeout    = 2 * time.Minute
	DefaultCodeType   = "UC"
	DefaultConfidence = "N"
)

// LoadRun loads a run configuration from a YAML file, fills defaults and validates it
func LoadRun(path string) (*Run, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Run
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, errors.Join(internalerr.ErrInvalidConfig, err))
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills zero values that have a sensible default
func (c *Run) ApplyDefaults() {
	if c.ChunkSizeBytes == 0 {
		c.ChunkSizeBytes = chunk.DefaultLimit
	}
	if c.Lanes == 0 {
		c.Lanes = DefaultLanes
	}
	if c.Source.Format == "" {
		c.Source.Format = "csv"
	}
	if c.Adapter.Timeout == 0 {
		c.Adapter.Timeout = DefaultTimeout
	}
	for i := range c.Features {
		f := &c.Features[i]
		if f.CodeType == "" {
			f.CodeType = DefaultCodeType
		}
		if f.Confidence == "" {
			f.Confidence = DefaultConfidence
		}
	}
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration. Any failure wraps internalerr.ErrInvalidConfig.
func (c *Run) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", internalerr.ErrInvalidConfig, err)
	}
	return nil
}

// LoadConceptSet loads a concept file
// Format: one concept per line, fields separated by '|', code in the last field.
// Blank lines and lines starting with '#' are skipped.
func LoadConceptSet(path string) (classify.ConceptSet, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return classify.ConceptSet{}, err
	}

	var codes []string
	lines := strings.Split(string(data), "\n")

	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		parts := strings.Split(line, "|")
		code := strings.TrimSpace(parts[len(parts)-1])
		if code == "" {
			continue
		}
		codes = append(codes, code)
	}

	return classify.NewConceptSet(codes...), nil
}
