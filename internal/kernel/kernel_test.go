package kernel

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/stl"
)

func envMap(env []string) map[string]string {
	m := map[string]string{}
	for _, kv := range env {
		k, v, _ := strings.Cut(kv, "=")
		m[k] = v
	}
	return m
}

// fakeFreeCAD imitates the embedded scripts: the import step copies the input into the BREP
// slot, the meshing step writes a two triangle square.
type fakeFreeCAD struct {
	calls    []string
	lastEnv  map[string]string
	importOK bool
	output   string
	err      error
}

func (f *fakeFreeCAD) run(_ context.Context, env []string, name string, args ...string) ([]byte, error) {
	script := filepath.Base(args[0])
	f.calls = append(f.calls, script)
	f.lastEnv = envMap(env)
	if _, err := os.Stat(args[0]); err != nil {
		return nil, err
	}
	if f.err != nil || f.output != "" {
		return []byte(f.output), f.err
	}
	switch script {
	case readScript:
		data, err := os.ReadFile(f.lastEnv["CADTOSTL_INPUT"])
		if err != nil {
			return []byte("CADTOSTL_ERROR: " + err.Error()), nil
		}
		return []byte("CADTOSTL_OK"), os.WriteFile(f.lastEnv["CADTOSTL_BREP"], data, 0o644)
	case tessellateScript:
		m := &models.Mesh{
			Vertices: []models.Vertex{{0, 0, 0}, {1, 0, 0}, {1, 1, 0}, {0, 1, 0}},
			Faces:    []models.Face{{0, 1, 2}, {0, 2, 3}},
		}
		_, err := stl.WriteFile(f.lastEnv["CADTOSTL_STL"], m, stl.Options{})
		return []byte("CADTOSTL_OK: 2 facets"), err
	}
	return nil, errors.New("unknown script")
}

func newTestKernel(t *testing.T, f *fakeFreeCAD) (*Kernel, string) {
	t.Helper()
	work := t.TempDir()
	return New(WithExecutable("freecadcmd-test"), WithWorkDir(work), WithRunner(f.run)), work
}

func TestReadShapeAndTessellate(t *testing.T) {
	f := &fakeFreeCAD{}
	k, work := newTestKernel(t, f)
	in := filepath.Join(t.TempDir(), "part.step")
	if err := os.WriteFile(in, []byte("ISO-10303-21;"), 0o644); err != nil {
		t.Fatal(err)
	}

	shape, err := k.ReadShape(context.Background(), in, models.FormatSTEP)
	if err != nil {
		t.Fatalf("ReadShape: %v", err)
	}
	if f.lastEnv["CADTOSTL_FORMAT"] != "STEP" {
		t.Errorf("format env = %q", f.lastEnv["CADTOSTL_FORMAT"])
	}

	mesh, err := shape.Tessellate(context.Background(), models.DeflectionParameters{Linear: 0.05, Angular: 0.25})
	if err != nil {
		t.Fatalf("Tessellate: %v", err)
	}
	if len(mesh.Faces) != 2 || len(mesh.Vertices) != 4 {
		t.Errorf("mesh has %d faces %d vertices", len(mesh.Faces), len(mesh.Vertices))
	}
	if f.lastEnv["CADTOSTL_LINEAR"] != "0.05" || f.lastEnv["CADTOSTL_ANGULAR"] != "0.25" {
		t.Errorf("deflection env = %v", f.lastEnv)
	}

	if err := shape.Release(); err != nil {
		t.Fatal(err)
	}
	if err := shape.Release(); err != nil {
		t.Errorf("second Release: %v", err)
	}
	entries, _ := os.ReadDir(work)
	if len(entries) != 0 {
		t.Errorf("work dir not cleaned: %d entries", len(entries))
	}
	if _, err := shape.Tessellate(context.Background(), models.DefaultDeflection()); !errors.Is(err, ErrReleased) {
		t.Errorf("Tessellate after release = %v", err)
	}
}

func TestReadShapeFailures(t *testing.T) {
	in := filepath.Join(t.TempDir(), "part.igs")
	if err := os.WriteFile(in, []byte("IGES"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fake *fakeFreeCAD
		want string
	}{
		{"marker", &fakeFreeCAD{output: "noise\nCADTOSTL_ERROR: file contains no surface geometry\n"}, "no surface geometry"},
		{"exit status", &fakeFreeCAD{output: "Traceback", err: errors.New("exit status 1")}, "exit status 1"},
		{"no brep", &fakeFreeCAD{output: "CADTOSTL_OK"}, "no geometry"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, work := newTestKernel(t, tt.fake)
			_, err := k.ReadShape(context.Background(), in, models.FormatIGES)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("err = %v, want it to mention %q", err, tt.want)
			}
			entries, _ := os.ReadDir(work)
			if len(entries) != 0 {
				t.Errorf("shape directory leaked after failure")
			}
		})
	}
}

func TestReadShapeRejectsMeshFormats(t *testing.T) {
	k, _ := newTestKernel(t, &fakeFreeCAD{})
	if _, err := k.ReadShape(context.Background(), "scene.obj", models.FormatOBJ); err == nil {
		t.Error("expected error for OBJ")
	}
}

func TestFindExecutableFromEnv(t *testing.T) {
	t.Setenv("FREECADCMD", "/opt/freecad/bin/freecadcmd")
	if got := FindExecutable(); got != "/opt/freecad/bin/freecadcmd" {
		t.Errorf("FindExecutable() = %q", got)
	}
	if got := New().Executable(); got != "/opt/freecad/bin/freecadcmd" {
		t.Errorf("New().Executable() = %q", got)
	}
}

func TestScriptsEmbedded(t *testing.T) {
	for _, name := range []string{readScript, tessellateScript} {
		data, err := scripts.ReadFile("scripts/" + name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if !strings.Contains(string(data), errorMarker) {
			t.Errorf("%s does not print the error marker", name)
		}
	}
}
