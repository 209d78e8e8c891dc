// Package kernel bridges the pipeline to an external geometry kernel. STEP and IGES import and
// incremental meshing run inside FreeCAD's command line interpreter (freecadcmd), driven by
// small embedded scripts; a shape handle is a private working directory holding the imported
// BREP.
package kernel

import (
	"bufio"
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/Lllllllleong/cadtostl/internal/models"
	"github.com/Lllllllleong/cadtostl/internal/stl"
)

//go:embed scripts/*.py
var scripts embed.FS

const (
	readScript       = "read_shape.py"
	tessellateScript = "tessellate.py"

	errorMarker = "CADTOSTL_ERROR:"
)

// Runner executes the kernel binary with extra environment variables and returns its combined
// output.
type Runner func(ctx context.Context, env []string, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, env []string, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	return cmd.CombinedOutput()
}

// Kernel implements pipeline.Kernel on top of freecadcmd.
type Kernel struct {
	executable string
	workDir    string
	run        Runner
	logger     *slog.Logger
}

type Option func(*Kernel)

// WithExecutable sets the freecadcmd binary. By default it is discovered with FindExecutable.
func WithExecutable(path string) Option {
	return func(k *Kernel) { k.executable = path }
}

// WithWorkDir sets the directory under which shape directories are created.
func WithWorkDir(dir string) Option {
	return func(k *Kernel) { k.workDir = dir }
}

func WithRunner(r Runner) Option {
	return func(k *Kernel) { k.run = r }
}

func WithLogger(l *slog.Logger) Option {
	return func(k *Kernel) { k.logger = l }
}

func New(opts ...Option) *Kernel {
	k := &Kernel{run: execRunner, logger: slog.Default()}
	for _, opt := range opts {
		opt(k)
	}
	if k.executable == "" {
		k.executable = FindExecutable()
	}
	return k
}

func (k *Kernel) Executable() string { return k.executable }

// FindExecutable locates freecadcmd: $FREECADCMD first, then the usual install locations,
// then PATH.
func FindExecutable() string {
	if p := os.Getenv("FREECADCMD"); p != "" {
		return p
	}
	candidates := []string{
		"/usr/bin/freecadcmd",
		"/usr/local/bin/freecadcmd",
		"/usr/bin/FreeCADCmd",
		"/snap/bin/freecad.cmd",
		"/Applications/FreeCAD.app/Contents/Resources/bin/freecadcmd",
		"/Applications/FreeCAD.app/Contents/MacOS/FreeCADCmd",
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c
		}
	}
	for _, name := range []string{"freecadcmd", "FreeCADCmd"} {
		if p, err := exec.LookPath(name); err == nil {
			return p
		}
	}
	return "freecadcmd" // Fallback to PATH
}

// ReadShape imports a STEP or IGES file. The returned handle owns a temporary directory that
// is removed by Release.
func (k *Kernel) ReadShape(ctx context.Context, path string, format models.Format) (models.Shape, error) {
	if !format.IsBREP() {
		return nil, fmt.Errorf("kernel cannot import %s files", format)
	}
	absInput, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path for input: %w", err)
	}

	dir, err := os.MkdirTemp(k.workDir, "shape-*")
	if err != nil {
		return nil, fmt.Errorf("failed to create shape directory: %w", err)
	}
	s := &Shape{kernel: k, dir: dir, brep: filepath.Join(dir, "shape.brep")}

	env := []string{
		"CADTOSTL_INPUT=" + absInput,
		"CADTOSTL_FORMAT=" + format.String(),
		"CADTOSTL_BREP=" + s.brep,
	}
	if err := k.runScript(ctx, dir, readScript, env); err != nil {
		s.Release()
		return nil, err
	}
	if info, err := os.Stat(s.brep); err != nil || info.Size() == 0 {
		s.Release()
		return nil, errors.New("importer produced no geometry")
	}
	k.logger.Debug("Shape imported.", "input", absInput, "format", format.String(), "dir", dir)
	return s, nil
}

func (k *Kernel) runScript(ctx context.Context, dir, script string, env []string) error {
	src, err := scripts.ReadFile("scripts/" + script)
	if err != nil {
		return err
	}
	scriptPath := filepath.Join(dir, script)
	if err := os.WriteFile(scriptPath, src, 0o644); err != nil {
		return fmt.Errorf("failed to stage kernel script: %w", err)
	}

	k.logger.Debug("Executing kernel script.", "executable", k.executable, "script", script)
	output, err := k.run(ctx, env, k.executable, scriptPath)
	if msg := scriptError(output); msg != "" {
		return fmt.Errorf("%s: %s", script, msg)
	}
	if err != nil {
		k.logger.Warn("Kernel process failed.", "script", script, "error", err, "output", string(output))
		return fmt.Errorf("%s failed: %v, output: %s", k.executable, err, strings.TrimSpace(string(output)))
	}
	return nil
}

// scriptError returns the message of the first error marker printed by a kernel script.
func scriptError(output []byte) string {
	sc := bufio.NewScanner(bytes.NewReader(output))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if strings.HasPrefix(line, errorMarker) {
			return strings.TrimSpace(strings.TrimPrefix(line, errorMarker))
		}
	}
	return ""
}

// Shape is a BREP imported by the kernel.
type Shape struct {
	kernel *Kernel
	dir    string
	brep   string

	mu       sync.Mutex
	meshes   int
	released bool
}

var ErrReleased = errors.New("shape already released")

// Tessellate meshes the shape with absolute linear deflection and angular deflection in
// radians.
func (s *Shape) Tessellate(ctx context.Context, d models.DeflectionParameters) (*models.Mesh, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrReleased
	}
	s.meshes++
	out := filepath.Join(s.dir, fmt.Sprintf("mesh-%d.stl", s.meshes))
	s.mu.Unlock()

	env := []string{
		"CADTOSTL_BREP=" + s.brep,
		"CADTOSTL_STL=" + out,
		"CADTOSTL_LINEAR=" + strconv.FormatFloat(d.Linear, 'g', -1, 64),
		"CADTOSTL_ANGULAR=" + strconv.FormatFloat(d.Angular, 'g', -1, 64),
	}
	if err := s.kernel.runScript(ctx, s.dir, tessellateScript, env); err != nil {
		return nil, err
	}
	solid, err := stl.ReadFile(out)
	if err != nil {
		return nil, fmt.Errorf("failed to read kernel mesh: %w", err)
	}
	defer os.Remove(out)
	return solid.Mesh(), nil
}

// Release removes the shape's working directory. It is safe to call more than once.
func (s *Shape) Release() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		return nil
	}
	s.released = true
	return os.RemoveAll(s.dir)
}
