// Package batch converts many files in one run. Jobs come from a YAML manifest and run
// concurrently; each job is independent and owns its own state.
package batch

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

// Manifest describes a batch:
//
//	defaults:
//	  linear_deflection: 0.05
//	  angular_deflection: 0.3
//	  output_dir: stl
//	jobs:
//	  - input: parts/bracket.step
//	  - input: parts/housing.igs
//	    output: out/housing.stl
//	    ascii: true
type Manifest struct {
	Defaults Defaults `yaml:"defaults"`
	Entries  []Entry  `yaml:"jobs"`

	baseDir string
}

type Defaults struct {
	LinearDeflection  *float64 `yaml:"linear_deflection"`
	AngularDeflection *float64 `yaml:"angular_deflection"`
	ASCII             bool     `yaml:"ascii"`
	OutputDir         string   `yaml:"output_dir"`
}

type Entry struct {
	Input             string   `yaml:"input"`
	Output            string   `yaml:"output"`
	LinearDeflection  *float64 `yaml:"linear_deflection"`
	AngularDeflection *float64 `yaml:"angular_deflection"`
	ASCII             *bool    `yaml:"ascii"`
}

// LoadManifest reads a manifest file. Relative paths inside it are resolved against the
// manifest's directory.
func LoadManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return ParseManifest(data, filepath.Dir(path))
}

func ParseManifest(data []byte, baseDir string) (*Manifest, error) {
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(m.Entries) == 0 {
		return nil, errors.New("manifest lists no jobs")
	}
	for i, e := range m.Entries {
		if strings.TrimSpace(e.Input) == "" {
			return nil, fmt.Errorf("job %d: input is required", i+1)
		}
	}
	m.baseDir = baseDir
	return &m, nil
}

// Jobs builds one pending conversion job per manifest entry, in manifest order. base supplies
// tolerances for values neither the entry nor the defaults set.
func (m *Manifest) Jobs(base models.DeflectionParameters) []*models.ConversionJob {
	jobs := make([]*models.ConversionJob, 0, len(m.Entries))
	for _, e := range m.Entries {
		input := m.resolve(e.Input)
		job := models.NewConversionJob(uuid.NewString(), input, m.outputFor(e, input))
		job.Deflection = base
		if v := pick(e.LinearDeflection, m.Defaults.LinearDeflection); v != nil {
			job.Deflection.Linear = *v
		}
		if v := pick(e.AngularDeflection, m.Defaults.AngularDeflection); v != nil {
			job.Deflection.Angular = *v
		}
		job.ASCII = m.Defaults.ASCII
		if e.ASCII != nil {
			job.ASCII = *e.ASCII
		}
		jobs = append(jobs, job)
	}
	return jobs
}

func (m *Manifest) outputFor(e Entry, input string) string {
	if e.Output != "" {
		return m.resolve(e.Output)
	}
	name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)) + ".stl"
	if m.Defaults.OutputDir != "" {
		return filepath.Join(m.resolve(m.Defaults.OutputDir), name)
	}
	return filepath.Join(filepath.Dir(input), name)
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) || m.baseDir == "" {
		return p
	}
	return filepath.Join(m.baseDir, p)
}

func pick(vals ...*float64) *float64 {
	for _, v := range vals {
		if v != nil {
			return v
		}
	}
	return nil
}
