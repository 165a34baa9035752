package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// fileTask is the on-disk shape of a task entry.
type fileTask struct {
	ID                   string          `yaml:"id"`
	Title                string          `yaml:"title"`
	Reward               decimal.Decimal `yaml:"reward"`
	Category             string          `yaml:"category"`
	Difficulty           string          `yaml:"difficulty"`
	MinEngagementSeconds int             `yaml:"min_engagement_seconds"`
	Active               *bool           `yaml:"active"` // nil means active
}

type fileDoc struct {
	Tasks []fileTask `yaml:"tasks"`
}

// FileCatalog loads task definitions from YAML files matched by glob patterns.
// Patterns support "**" via doublestar. Later files override earlier ones for
// the same task id.
type FileCatalog struct {
	*Static
	patterns []string
}

var _ Catalog = (*FileCatalog)(nil)

// NewFileCatalog creates a catalog for the given patterns. Call Load to read
// the files.
func NewFileCatalog(patterns ...string) *FileCatalog {
	return &FileCatalog{
		Static:   NewStatic(),
		patterns: patterns,
	}
}

// Patterns returns the glob patterns the catalog reads.
func (f *FileCatalog) Patterns() []string {
	return f.patterns
}

// Files returns the sorted, de-duplicated set of files matching the patterns.
func (f *FileCatalog) Files() ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range f.patterns {
		matches, err := doublestar.FilepathGlob(pattern)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", pattern, err)
		}
		for _, m := range matches {
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// Load reads every matching file and replaces the catalog contents. On error
// the previous contents are kept.
func (f *FileCatalog) Load(_ context.Context) (int, error) {
	files, err := f.Files()
	if err != nil {
		return 0, err
	}

	byID := make(map[string]TaskDefinition)
	for _, path := range files {
		defs, err := readFile(path)
		if err != nil {
			return 0, err
		}
		for _, d := range defs {
			byID[d.ID] = d
		}
	}

	defs := make([]TaskDefinition, 0, len(byID))
	for _, d := range byID {
		defs = append(defs, d)
	}
	f.Replace(defs)

	return len(defs), nil
}

func readFile(path string) ([]TaskDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var doc fileDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse catalog file %s: %w", path, err)
	}

	defs := make([]TaskDefinition, 0, len(doc.Tasks))
	for _, t := range doc.Tasks {
		d := TaskDefinition{
			ID:                   t.ID,
			Title:                t.Title,
			RewardAmount:         t.Reward,
			Category:             t.Category,
			Difficulty:           t.Difficulty,
			MinEngagementSeconds: t.MinEngagementSeconds,
			Active:               t.Active == nil || *t.Active,
		}
		if err := d.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		defs = append(defs, d)
	}

	return defs, nil
}
