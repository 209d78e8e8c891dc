package batch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/Lllllllleong/cadtostl/internal/models"
)

type jobView struct {
	Input, Output string
	Deflection    models.DeflectionParameters
	ASCII         bool
}

func viewJobs(jobs []*models.ConversionJob) []jobView {
	out := make([]jobView, len(jobs))
	for i, j := range jobs {
		out[i] = jobView{j.InputPath, j.OutputPath, j.Deflection, j.ASCII}
	}
	return out
}

func TestManifestJobs(t *testing.T) {
	data := []byte(`
defaults:
  linear_deflection: 0.05
  output_dir: stl
jobs:
  - input: parts/bracket.step
  - input: parts/housing.igs
    output: out/housing.stl
    angular_deflection: 0.2
    ascii: true
  - input: /abs/cube.obj
    linear_deflection: 1.5
`)
	m, err := ParseManifest(data, "/work")
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}

	base := models.DefaultDeflection()
	got := viewJobs(m.Jobs(base))
	want := []jobView{
		{"/work/parts/bracket.step", "/work/stl/bracket.stl", models.DeflectionParameters{Linear: 0.05, Angular: base.Angular}, false},
		{"/work/parts/housing.igs", "/work/out/housing.stl", models.DeflectionParameters{Linear: 0.05, Angular: 0.2}, true},
		{"/abs/cube.obj", "/work/stl/cube.stl", models.DeflectionParameters{Linear: 1.5, Angular: base.Angular}, false},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Jobs() mismatch (-want +got):\n%s", diff)
	}
}

func TestManifestOutputBesideInput(t *testing.T) {
	m, err := ParseManifest([]byte("jobs:\n  - input: a/b/Part.STEP\n"), "")
	if err != nil {
		t.Fatalf("ParseManifest() error = %v", err)
	}
	jobs := m.Jobs(models.DefaultDeflection())
	if got, want := jobs[0].OutputPath, filepath.Join("a", "b", "Part.stl"); got != want {
		t.Errorf("OutputPath = %q, want %q", got, want)
	}
	if jobs[0].ID == "" {
		t.Error("job has no ID")
	}
}

func TestParseManifestErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"no jobs", "defaults:\n  ascii: true\n"},
		{"missing input", "jobs:\n  - output: x.stl\n"},
		{"bad yaml", "jobs: [\n"},
		{"wrong type", "jobs:\n  - input: a.obj\n    linear_deflection: fine\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseManifest([]byte(tt.data), ""); err == nil {
				t.Error("ParseManifest() expected error, got nil")
			}
		})
	}
}

func TestLoadManifestResolvesAgainstFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "batch.yaml")
	if err := os.WriteFile(path, []byte("jobs:\n  - input: cube.obj\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	m, err := LoadManifest(path)
	if err != nil {
		t.Fatalf("LoadManifest() error = %v", err)
	}
	jobs := m.Jobs(models.DefaultDeflection())
	if got, want := jobs[0].InputPath, filepath.Join(dir, "cube.obj"); got != want {
		t.Errorf("InputPath = %q, want %q", got, want)
	}

	if _, err := LoadManifest(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("LoadManifest(missing) expected error")
	}
}
