package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalidPlan wraps every validation failure reported by Plan.Validate.
var ErrInvalidPlan = errors.New("invalid merge plan")

// Plan declares the master database, its seed rows, and the ordered list of
// source databases to import. Sources run in the order they are listed.
type Plan struct {
	Target      string           `yaml:"target" toml:"target" json:"target"`
	Filesystems []FilesystemSeed `yaml:"filesystems" toml:"filesystems" json:"filesystems"`
	Batches     []BatchSeed      `yaml:"batches" toml:"batches" json:"batches"`
	Sources     []Source         `yaml:"sources" toml:"sources" json:"sources"`

	path string
}

// FilesystemSeed is one scanned host or volume.
type FilesystemSeed struct {
	ID         int64  `yaml:"id" toml:"id" json:"id"`
	Hostname   string `yaml:"hostname" toml:"hostname" json:"hostname"`
	PathPrefix string `yaml:"path_prefix" toml:"path_prefix" json:"path_prefix"`
	InsertedAt string `yaml:"inserted_at,omitempty" toml:"inserted_at" json:"inserted_at,omitempty"`
	Comment    string `yaml:"comment,omitempty" toml:"comment" json:"comment,omitempty"`
}

// BatchSeed is one scan run of a filesystem.
type BatchSeed struct {
	ID           int64  `yaml:"id" toml:"id" json:"id"`
	FilesystemID int64  `yaml:"filesystem_id" toml:"filesystem_id" json:"filesystem_id"`
	ScanStart    string `yaml:"scan_start,omitempty" toml:"scan_start" json:"scan_start,omitempty"`
	ScanFinish   string `yaml:"scan_finish,omitempty" toml:"scan_finish" json:"scan_finish,omitempty"`
}

// Source is one source database and the keys its rows are filed under.
// Prefix filters source rows by their escaped relative path. TrimLength
// is the number of leading characters removed from each unescaped path;
// when unset it defaults to the length of Prefix.
type Source struct {
	Label        string `yaml:"label,omitempty" toml:"label" json:"label,omitempty"`
	Path         string `yaml:"path" toml:"path" json:"path"`
	FilesystemID int64  `yaml:"filesystem_id" toml:"filesystem_id" json:"filesystem_id"`
	BatchID      int64  `yaml:"batch_id" toml:"batch_id" json:"batch_id"`
	Prefix       string `yaml:"prefix,omitempty" toml:"prefix" json:"prefix,omitempty"`
	TrimLength   *int   `yaml:"trim_length,omitempty" toml:"trim_length" json:"trim_length,omitempty"`
}

// Trim returns the effective prefix trim length.
func (s Source) Trim() int {
	if s.TrimLength != nil {
		return *s.TrimLength
	}
	return utf8.RuneCountInString(s.Prefix)
}

// Path returns the file the plan was loaded from, if any.
func (p *Plan) Path() string {
	return p.path
}

// LoadPlan reads a plan from a .yaml, .yml or .toml file, resolves relative
// paths against the plan's directory and validates it.
func LoadPlan(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan: %w", err)
	}

	plan := &Plan{}
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
		}
	case ".toml":
		if _, err := toml.Decode(string(data), plan); err != nil {
			return nil, fmt.Errorf("failed to parse plan %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("unsupported plan format %q (use .yaml, .yml or .toml)", ext)
	}

	plan.path = path
	plan.resolvePaths(filepath.Dir(path))

	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return plan, nil
}

func (p *Plan) resolvePaths(base string) {
	if p.Target != "" && !filepath.IsAbs(p.Target) {
		p.Target = filepath.Join(base, p.Target)
	}
	for i := range p.Sources {
		if p.Sources[i].Path != "" && !filepath.IsAbs(p.Sources[i].Path) {
			p.Sources[i].Path = filepath.Join(base, p.Sources[i].Path)
		}
	}
}

// Validate checks ids and references and fills in default source labels.
func (p *Plan) Validate() error {
	var problems []string

	hosts := make(map[int64]string, len(p.Filesystems))
	for _, fs := range p.Filesystems {
		if fs.ID <= 0 {
			problems = append(problems, fmt.Sprintf("filesystem %q: id must be positive", fs.Hostname))
			continue
		}
		if _, dup := hosts[fs.ID]; dup {
			problems = append(problems, fmt.Sprintf("filesystem %d: duplicate id", fs.ID))
		}
		if fs.Hostname == "" {
			problems = append(problems, fmt.Sprintf("filesystem %d: hostname is required", fs.ID))
		}
		hosts[fs.ID] = fs.Hostname
	}

	batches := make(map[int64]int64, len(p.Batches))
	for _, b := range p.Batches {
		if b.ID <= 0 {
			problems = append(problems, "batch: id must be positive")
			continue
		}
		if _, dup := batches[b.ID]; dup {
			problems = append(problems, fmt.Sprintf("batch %d: duplicate id", b.ID))
		}
		if _, ok := hosts[b.FilesystemID]; !ok {
			problems = append(problems, fmt.Sprintf("batch %d: unknown filesystem %d", b.ID, b.FilesystemID))
		}
		batches[b.ID] = b.FilesystemID
	}

	if len(p.Sources) == 0 {
		problems = append(problems, "no sources declared")
	}
	for i := range p.Sources {
		src := &p.Sources[i]
		name := fmt.Sprintf("source %d", i+1)
		if src.Path == "" {
			problems = append(problems, name+": path is required")
		}
		fsID, ok := batches[src.BatchID]
		switch {
		case !ok:
			problems = append(problems, fmt.Sprintf("%s: unknown batch %d", name, src.BatchID))
		case fsID != src.FilesystemID:
			problems = append(problems, fmt.Sprintf("%s: batch %d belongs to filesystem %d, not %d", name, src.BatchID, fsID, src.FilesystemID))
		}
		if src.TrimLength != nil && *src.TrimLength < 0 {
			problems = append(problems, fmt.Sprintf("%s: trim_length must not be negative", name))
		}
		if src.Label == "" {
			src.Label = hosts[src.FilesystemID]
		}
		if src.Label == "" {
			src.Label = filepath.Base(src.Path)
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidPlan, strings.Join(problems, "; "))
	}
	return nil
}
